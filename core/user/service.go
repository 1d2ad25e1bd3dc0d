package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// errors
	ErrNotFound             = errors.New("user not found")
	ErrEmailExists          = errors.New("a user with this email already exists")
	ErrUsernameExists       = errors.New("a user with this username already exists")
	ErrGuardianshipExists   = errors.New("a guardianship request already exists for this student")
	ErrGuardianshipNotFound = errors.New("guardianship not found")
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		QueryAllUsers(ctx context.Context) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)

		CreateGuardianship(ctx context.Context, g Guardianship) (Guardianship, error)
		SetGuardianshipStatus(ctx context.Context, id, status string) error
		// GuardianshipApproved reports whether an APPROVED parent->student
		// link exists.
		GuardianshipApproved(ctx context.Context, parentID, studentID string) (bool, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		ID:        uuid.New().String(),
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) GetAll(ctx context.Context) ([]User, error) {
	return svc.repo.QueryAllUsers(ctx)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, uname)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) ResetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := svc.repo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr)
	return err
}

// RequestGuardianship opens a PENDING parent->student link; an admin approves it.
func (svc *Service) RequestGuardianship(ctx context.Context, parentID, studentID string) (Guardianship, error) {
	now := time.Now().UTC()
	return svc.repo.CreateGuardianship(ctx, Guardianship{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		StudentID: studentID,
		Status:    GuardianshipPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *Service) ApproveGuardianship(ctx context.Context, id string) error {
	return svc.repo.SetGuardianshipStatus(ctx, id, GuardianshipApproved)
}

func (svc *Service) RejectGuardianship(ctx context.Context, id string) error {
	return svc.repo.SetGuardianshipStatus(ctx, id, GuardianshipRejected)
}

// IsApprovedGuardian is the authorization check used by enrollment when a
// parent acts on behalf of a student.
func (svc *Service) IsApprovedGuardian(ctx context.Context, parentID, studentID string) (bool, error) {
	return svc.repo.GuardianshipApproved(ctx, parentID, studentID)
}
