package billing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Checkout event kinds reported by the provider.
const (
	EventCompleted = "COMPLETED"
	EventExpired   = "EXPIRED"
	EventUnknown   = "UNKNOWN"
)

var (
	// ErrSignatureInvalid marks a webhook payload that failed signature
	// verification; it must never trigger a store write.
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	// ErrProvider marks a failure talking to the payment provider; callers
	// may retry the whole operation.
	ErrProvider = errors.New("payment provider error")
)

type (
	// SessionRequest asks the provider for a hosted checkout session.
	// Reference and Kind travel as session metadata so the completion
	// webhook can be correlated back to the owning row.
	SessionRequest struct {
		Reference     string // enrollment/registration id
		Kind          string // KindClass | KindEvent
		UserID        string
		CustomerEmail string
		Description   string
		// Amount is billed when PriceRef is empty; PriceRef wins otherwise.
		Amount   decimal.Decimal
		PriceRef string
	}

	Session struct {
		ID  string
		URL string
	}

	// Event is a verified, normalized webhook notification.
	Event struct {
		Kind      string // EventCompleted | EventExpired | EventUnknown
		RawKind   string // provider's own event type, for logging
		SessionID string
		Reference string
		OwnerKind string // KindClass | KindEvent, from metadata
		UserID    string
		// Amount is the observed settled amount on completion events.
		Amount decimal.Decimal
	}

	// CheckoutProvider is the external payment provider boundary.
	CheckoutProvider interface {
		CreateSession(ctx context.Context, req SessionRequest) (Session, error)
		// VerifyEvent authenticates a raw webhook payload against the
		// provider's signature scheme and normalizes it. Returns
		// ErrSignatureInvalid on a forged or malformed signature.
		VerifyEvent(payload []byte, sigHeader string) (Event, error)
	}
)
