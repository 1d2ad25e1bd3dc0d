package dummydb

import (
	"context"
	"time"

	"github.com/trezcool/shule/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, u := range repo.db.users {
		if u.Username == usr.Username {
			return user.User{}, user.ErrUsernameExists
		}
		if u.Email == usr.Email {
			return user.User{}, user.ErrEmailExists
		}
	}
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUserByID(_ context.Context, id string) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if usr, ok := repo.db.users[id]; ok {
		return *usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByUsernameOrEmail(_ context.Context, uname string) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, usr := range repo.db.users {
		if (usr.Username == uname) || (usr.Email == uname) {
			return *usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) QueryAllUsers(_ context.Context) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0, len(repo.db.users))
	for _, usr := range repo.db.users {
		users = append(users, *usr)
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) CreateGuardianship(_ context.Context, g user.Guardianship) (user.Guardianship, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, existing := range repo.db.guardianships {
		if existing.ParentID == g.ParentID && existing.StudentID == g.StudentID {
			return user.Guardianship{}, user.ErrGuardianshipExists
		}
	}
	repo.db.guardianships[g.ID] = &g
	return g, nil
}

func (repo *userRepository) SetGuardianshipStatus(_ context.Context, id, status string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	g, ok := repo.db.guardianships[id]
	if !ok {
		return user.ErrGuardianshipNotFound
	}
	g.Status = status
	g.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *userRepository) GuardianshipApproved(_ context.Context, parentID, studentID string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, g := range repo.db.guardianships {
		if g.ParentID == parentID && g.StudentID == studentID && g.Status == user.GuardianshipApproved {
			return true, nil
		}
	}
	return false, nil
}
