package enroll

import (
	"context"
	"time"
)

// Enrollment/registration statuses
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	// StatusTest marks a priced enrollment confirmed through the test-mode
	// bypass; it counts as active but never carries a payment.
	StatusTest = "TEST"
)

// Enrollment is a user's claim on a seat in a Class.
// At most one non-cancelled Enrollment may exist per (user, class); the
// store enforces this with a partial unique index, not check-then-act.
type Enrollment struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	ClassID   string    `json:"class_id" db:"class_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (e Enrollment) Active() bool { return e.Status != StatusCancelled }

// EventRegistration mirrors Enrollment for Events.
type EventRegistration struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	EventID   string    `json:"event_id" db:"event_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (r EventRegistration) Active() bool { return r.Status != StatusCancelled }

// Target designates the aggregate being enrolled into; exactly one of
// ClassID/EventID is set.
type Target struct {
	ClassID string
	EventID string
}

func (t Target) IsClass() bool { return t.ClassID != "" }

// CheckoutResult is what an enroll/register request resolves to: either an
// immediately final status (free/test path, or an already-confirmed claim)
// or a redirect to a hosted checkout page.
type CheckoutResult struct {
	Status       string             `json:"status"`
	RedirectURL  string             `json:"redirect_url,omitempty"`
	Enrollment   *Enrollment        `json:"enrollment,omitempty"`
	Registration *EventRegistration `json:"registration,omitempty"`
}

// UserClaims groups a user's enrollments and registrations for listing.
type UserClaims struct {
	Enrollments   []Enrollment        `json:"enrollments"`
	Registrations []EventRegistration `json:"registrations"`
}

type Repository interface {
	// CreateEnrollment inserts a PENDING row; returns ErrAlreadyEnrolled
	// when the partial unique index rejects a duplicate active claim.
	CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
	// CreateEnrollmentConfirmed inserts a row in its final status and bumps
	// the class seat counter in the same transaction (guarded by capacity).
	CreateEnrollmentConfirmed(ctx context.Context, e Enrollment) (Enrollment, error)
	// PromoteEnrollment moves a PENDING row to `to` and bumps the seat
	// counter, in one transaction.
	PromoteEnrollment(ctx context.Context, id, to string) error
	GetEnrollmentByID(ctx context.Context, id string) (Enrollment, error)
	// GetActiveEnrollment returns the non-cancelled claim for (user, class),
	// or ErrNotFound.
	GetActiveEnrollment(ctx context.Context, userID, classID string) (Enrollment, error)
	QueryEnrollmentsByUser(ctx context.Context, userID string) ([]Enrollment, error)
	DeleteEnrollment(ctx context.Context, id string) error
	// CancelStalePendingEnrollments cancels PENDING rows created before the
	// cutoff and returns them.
	CancelStalePendingEnrollments(ctx context.Context, cutoff time.Time) ([]Enrollment, error)

	CreateRegistration(ctx context.Context, r EventRegistration) (EventRegistration, error)
	CreateRegistrationConfirmed(ctx context.Context, r EventRegistration) (EventRegistration, error)
	PromoteRegistration(ctx context.Context, id, to string) error
	GetRegistrationByID(ctx context.Context, id string) (EventRegistration, error)
	GetActiveRegistration(ctx context.Context, userID, eventID string) (EventRegistration, error)
	QueryRegistrationsByUser(ctx context.Context, userID string) ([]EventRegistration, error)
	DeleteRegistration(ctx context.Context, id string) error
	CancelStalePendingRegistrations(ctx context.Context, cutoff time.Time) ([]EventRegistration, error)
}
