package dummydb

import (
	"context"
	"time"

	"github.com/trezcool/shule/core/enroll"
)

type enrollRepository struct {
	db *DB
}

var _ enroll.Repository = (*enrollRepository)(nil) // interface compliance check

func NewEnrollRepository(db *DB) enroll.Repository {
	return &enrollRepository{db: db}
}

// activeEnrollment expects the caller to hold at least the read lock.
func activeEnrollment(db *DB, userID, classID string) *enroll.Enrollment {
	for _, e := range db.enrollments {
		if e.UserID == userID && e.ClassID == classID && e.Active() {
			return e
		}
	}
	return nil
}

func activeRegistration(db *DB, userID, eventID string) *enroll.EventRegistration {
	for _, r := range db.registrations {
		if r.UserID == userID && r.EventID == eventID && r.Active() {
			return r
		}
	}
	return nil
}

func (repo *enrollRepository) CreateEnrollment(_ context.Context, e enroll.Enrollment) (enroll.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if activeEnrollment(repo.db, e.UserID, e.ClassID) != nil {
		return enroll.Enrollment{}, enroll.ErrAlreadyEnrolled
	}
	repo.db.enrollments[e.ID] = &e
	return e, nil
}

func (repo *enrollRepository) CreateEnrollmentConfirmed(_ context.Context, e enroll.Enrollment) (enroll.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if activeEnrollment(repo.db, e.UserID, e.ClassID) != nil {
		return enroll.Enrollment{}, enroll.ErrAlreadyEnrolled
	}
	if err := incrementClassCount(repo.db, e.ClassID); err != nil {
		return enroll.Enrollment{}, err
	}
	repo.db.enrollments[e.ID] = &e
	return e, nil
}

func (repo *enrollRepository) PromoteEnrollment(_ context.Context, id, to string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	e, ok := repo.db.enrollments[id]
	if !ok || e.Status != enroll.StatusPending {
		return enroll.ErrNotFound
	}
	if err := incrementClassCount(repo.db, e.ClassID); err != nil {
		return err
	}
	e.Status = to
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *enrollRepository) GetEnrollmentByID(_ context.Context, id string) (enroll.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e, ok := repo.db.enrollments[id]; ok {
		return *e, nil
	}
	return enroll.Enrollment{}, enroll.ErrNotFound
}

func (repo *enrollRepository) GetActiveEnrollment(_ context.Context, userID, classID string) (enroll.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e := activeEnrollment(repo.db, userID, classID); e != nil {
		return *e, nil
	}
	return enroll.Enrollment{}, enroll.ErrNotFound
}

func (repo *enrollRepository) QueryEnrollmentsByUser(_ context.Context, userID string) ([]enroll.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var enrollments []enroll.Enrollment
	for _, e := range repo.db.enrollments {
		if e.UserID == userID {
			enrollments = append(enrollments, *e)
		}
	}
	return enrollments, nil
}

func (repo *enrollRepository) DeleteEnrollment(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.enrollments[id]; !ok {
		return enroll.ErrNotFound
	}
	delete(repo.db.enrollments, id)
	return nil
}

func (repo *enrollRepository) CancelStalePendingEnrollments(_ context.Context, cutoff time.Time) ([]enroll.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cancelled []enroll.Enrollment
	for _, e := range repo.db.enrollments {
		if e.Status == enroll.StatusPending && e.CreatedAt.Before(cutoff) {
			e.Status = enroll.StatusCancelled
			e.UpdatedAt = time.Now().UTC()
			cancelled = append(cancelled, *e)
		}
	}
	return cancelled, nil
}

func (repo *enrollRepository) CreateRegistration(_ context.Context, r enroll.EventRegistration) (enroll.EventRegistration, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if activeRegistration(repo.db, r.UserID, r.EventID) != nil {
		return enroll.EventRegistration{}, enroll.ErrAlreadyEnrolled
	}
	repo.db.registrations[r.ID] = &r
	return r, nil
}

func (repo *enrollRepository) CreateRegistrationConfirmed(_ context.Context, r enroll.EventRegistration) (enroll.EventRegistration, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if activeRegistration(repo.db, r.UserID, r.EventID) != nil {
		return enroll.EventRegistration{}, enroll.ErrAlreadyEnrolled
	}
	if err := incrementEventCount(repo.db, r.EventID); err != nil {
		return enroll.EventRegistration{}, err
	}
	repo.db.registrations[r.ID] = &r
	return r, nil
}

func (repo *enrollRepository) PromoteRegistration(_ context.Context, id, to string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	r, ok := repo.db.registrations[id]
	if !ok || r.Status != enroll.StatusPending {
		return enroll.ErrNotFound
	}
	if err := incrementEventCount(repo.db, r.EventID); err != nil {
		return err
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *enrollRepository) GetRegistrationByID(_ context.Context, id string) (enroll.EventRegistration, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if r, ok := repo.db.registrations[id]; ok {
		return *r, nil
	}
	return enroll.EventRegistration{}, enroll.ErrNotFound
}

func (repo *enrollRepository) GetActiveRegistration(_ context.Context, userID, eventID string) (enroll.EventRegistration, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if r := activeRegistration(repo.db, userID, eventID); r != nil {
		return *r, nil
	}
	return enroll.EventRegistration{}, enroll.ErrNotFound
}

func (repo *enrollRepository) QueryRegistrationsByUser(_ context.Context, userID string) ([]enroll.EventRegistration, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var regs []enroll.EventRegistration
	for _, r := range repo.db.registrations {
		if r.UserID == userID {
			regs = append(regs, *r)
		}
	}
	return regs, nil
}

func (repo *enrollRepository) DeleteRegistration(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.registrations[id]; !ok {
		return enroll.ErrNotFound
	}
	delete(repo.db.registrations, id)
	return nil
}

func (repo *enrollRepository) CancelStalePendingRegistrations(_ context.Context, cutoff time.Time) ([]enroll.EventRegistration, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cancelled []enroll.EventRegistration
	for _, r := range repo.db.registrations {
		if r.Status == enroll.StatusPending && r.CreatedAt.Before(cutoff) {
			r.Status = enroll.StatusCancelled
			r.UpdatedAt = time.Now().UTC()
			cancelled = append(cancelled, *r)
		}
	}
	return cancelled, nil
}
