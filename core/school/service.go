package school

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// errors
	ErrClassNotFound = errors.New("class not found")
	ErrEventNotFound = errors.New("event not found")
	// ErrFull is returned by the guarded seat increments when
	// current_count has already reached capacity.
	ErrFull = errors.New("no seats left")
)

type (
	Repository interface {
		CreateClass(ctx context.Context, c Class) (Class, error)
		GetClassByID(ctx context.Context, id string) (Class, error)
		QueryAllClasses(ctx context.Context) ([]Class, error)
		UpdateClass(ctx context.Context, c Class) (Class, error)
		// IncrementClassCount atomically bumps current_count while it is
		// still below capacity; returns ErrFull otherwise.
		IncrementClassCount(ctx context.Context, id string) error
		DecrementClassCount(ctx context.Context, id string) error

		CreateEvent(ctx context.Context, e Event) (Event, error)
		GetEventByID(ctx context.Context, id string) (Event, error)
		QueryAllEvents(ctx context.Context) ([]Event, error)
		UpdateEvent(ctx context.Context, e Event) (Event, error)
		IncrementEventCount(ctx context.Context, id string) error
		DecrementEventCount(ctx context.Context, id string) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) CreateClass(ctx context.Context, nc NewClass) (Class, error) {
	now := time.Now().UTC()
	return svc.repo.CreateClass(ctx, Class{
		ID:               uuid.New().String(),
		Name:             nc.Name,
		Description:      nc.Description,
		TeacherID:        nc.TeacherID,
		Capacity:         nc.Capacity,
		Price:            nc.Price,
		ExternalPriceRef: nc.ExternalPriceRef,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func (svc *Service) GetClassByID(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClassByID(ctx, id)
}

func (svc *Service) QueryAllClasses(ctx context.Context) ([]Class, error) {
	return svc.repo.QueryAllClasses(ctx)
}

func (svc *Service) CreateEvent(ctx context.Context, ne NewEvent) (Event, error) {
	now := time.Now().UTC()
	return svc.repo.CreateEvent(ctx, Event{
		ID:               uuid.New().String(),
		Name:             ne.Name,
		Description:      ne.Description,
		Capacity:         ne.Capacity,
		Price:            ne.Price,
		ExternalPriceRef: ne.ExternalPriceRef,
		IsActive:         true,
		StartsAt:         ne.StartsAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func (svc *Service) GetEventByID(ctx context.Context, id string) (Event, error) {
	return svc.repo.GetEventByID(ctx, id)
}

func (svc *Service) QueryAllEvents(ctx context.Context) ([]Event, error) {
	return svc.repo.QueryAllEvents(ctx)
}
