package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusExpired   = "EXPIRED"
)

// Payment kinds: which aggregate a payment belongs to.
const (
	KindClass = "CLASS"
	KindEvent = "EVENT"
)

var (
	// errors
	ErrPaymentNotFound = errors.New("payment not found")
)

// Payment tracks one external checkout attempt tied to exactly one
// Enrollment (KindClass) or EventRegistration (KindEvent).
//
// ExternalSessionID is set once, when the hosted checkout session is created;
// only a PENDING payment holding a matching session id is eligible for
// webhook-driven transitions.
type Payment struct {
	ID     string          `json:"id" db:"id"`
	UserID string          `json:"user_id" db:"user_id"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
	Status string          `json:"status" db:"status"`
	Kind   string          `json:"kind" db:"kind"`
	// exactly one of EnrollmentID/RegistrationID is set, per Kind
	EnrollmentID      string    `json:"enrollment_id,omitempty" db:"enrollment_id"`
	RegistrationID    string    `json:"registration_id,omitempty" db:"registration_id"`
	ExternalSessionID string    `json:"external_session_id,omitempty" db:"external_session_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

func (p Payment) OwnerID() string {
	if p.Kind == KindClass {
		return p.EnrollmentID
	}
	return p.RegistrationID
}

type Repository interface {
	CreatePayment(ctx context.Context, pmt Payment) (Payment, error)
	GetPaymentByID(ctx context.Context, id string) (Payment, error)
	// GetPendingByOwner finds the PENDING payment attached to an
	// enrollment (KindClass) or registration (KindEvent).
	GetPendingByOwner(ctx context.Context, kind, ownerID string) (Payment, error)
	GetPendingBySessionID(ctx context.Context, sessionID string) (Payment, error)
	SetSessionID(ctx context.Context, paymentID, sessionID string) error
	QueryPaymentsByUser(ctx context.Context, userID string) ([]Payment, error)
	DeletePayment(ctx context.Context, id string) error
	DeletePaymentsByOwner(ctx context.Context, kind, ownerID string) error
	ExpirePayment(ctx context.Context, id string) error

	// CompleteCheckout settles the PENDING payment matching sessionID as one
	// logical unit: payment -> COMPLETED with the observed amount, owning
	// enrollment/registration -> CONFIRMED, seat counter incremented.
	// Returns ErrPaymentNotFound when no PENDING payment matches (already
	// processed, or unknown session).
	CompleteCheckout(ctx context.Context, sessionID string, amount decimal.Decimal) (Payment, error)
	// ExpireCheckout voids the PENDING payment matching sessionID: payment ->
	// EXPIRED, owning row -> CANCELLED. The seat counter is untouched; it was
	// never incremented for a PENDING row.
	ExpireCheckout(ctx context.Context, sessionID string) (Payment, error)
}
