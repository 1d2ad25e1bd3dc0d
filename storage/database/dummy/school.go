package dummydb

import (
	"context"
	"time"

	"github.com/trezcool/shule/core/school"
)

type schoolRepository struct {
	db *DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *DB) school.Repository {
	return &schoolRepository{db: db}
}

func (repo *schoolRepository) CreateClass(_ context.Context, c school.Class) (school.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.classes[c.ID] = &c
	return c, nil
}

func (repo *schoolRepository) GetClassByID(_ context.Context, id string) (school.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if c, ok := repo.db.classes[id]; ok {
		return *c, nil
	}
	return school.Class{}, school.ErrClassNotFound
}

func (repo *schoolRepository) QueryAllClasses(_ context.Context) ([]school.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	classes := make([]school.Class, 0, len(repo.db.classes))
	for _, c := range repo.db.classes {
		classes = append(classes, *c)
	}
	return classes, nil
}

func (repo *schoolRepository) UpdateClass(_ context.Context, c school.Class) (school.Class, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.classes[c.ID]
	if !ok {
		return school.Class{}, school.ErrClassNotFound
	}
	c.CurrentCount = existing.CurrentCount
	repo.db.classes[c.ID] = &c
	return c, nil
}

func (repo *schoolRepository) IncrementClassCount(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	return incrementClassCount(repo.db, id)
}

func (repo *schoolRepository) DecrementClassCount(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	c, ok := repo.db.classes[id]
	if !ok {
		return school.ErrClassNotFound
	}
	if c.CurrentCount > 0 {
		c.CurrentCount--
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (repo *schoolRepository) CreateEvent(_ context.Context, e school.Event) (school.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.events[e.ID] = &e
	return e, nil
}

func (repo *schoolRepository) GetEventByID(_ context.Context, id string) (school.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e, ok := repo.db.events[id]; ok {
		return *e, nil
	}
	return school.Event{}, school.ErrEventNotFound
}

func (repo *schoolRepository) QueryAllEvents(_ context.Context) ([]school.Event, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	events := make([]school.Event, 0, len(repo.db.events))
	for _, e := range repo.db.events {
		events = append(events, *e)
	}
	return events, nil
}

func (repo *schoolRepository) UpdateEvent(_ context.Context, e school.Event) (school.Event, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.events[e.ID]
	if !ok {
		return school.Event{}, school.ErrEventNotFound
	}
	e.CurrentCount = existing.CurrentCount
	repo.db.events[e.ID] = &e
	return e, nil
}

func (repo *schoolRepository) IncrementEventCount(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	return incrementEventCount(repo.db, id)
}

func (repo *schoolRepository) DecrementEventCount(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	e, ok := repo.db.events[id]
	if !ok {
		return school.ErrEventNotFound
	}
	if e.CurrentCount > 0 {
		e.CurrentCount--
		e.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// incrementClassCount and incrementEventCount expect the caller to hold the
// write lock; the checkout transitions reuse them mid-transaction.

func incrementClassCount(db *DB, id string) error {
	c, ok := db.classes[id]
	if !ok {
		return school.ErrClassNotFound
	}
	if c.CurrentCount >= c.Capacity {
		return school.ErrFull
	}
	c.CurrentCount++
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func incrementEventCount(db *DB, id string) error {
	e, ok := db.events[id]
	if !ok {
		return school.ErrEventNotFound
	}
	if e.CurrentCount >= e.Capacity {
		return school.ErrFull
	}
	e.CurrentCount++
	e.UpdatedAt = time.Now().UTC()
	return nil
}
