package dummypmt

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core/billing"
)

// Provider is an in-memory stand-in for the hosted checkout provider. It
// records every session it creates and verifies webhook payloads with a
// plain HMAC over the raw body.
type Provider struct {
	mu       sync.Mutex
	secret   string
	sessions map[string]billing.SessionRequest
	count    int

	// Err, when set, makes the next CreateSession call fail with it.
	Err error
}

var _ billing.CheckoutProvider = (*Provider)(nil)

func NewProvider(secret string) *Provider {
	return &Provider{
		secret:   secret,
		sessions: make(map[string]billing.SessionRequest),
	}
}

func (p *Provider) CreateSession(_ context.Context, req billing.SessionRequest) (billing.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		err := p.Err
		p.Err = nil
		return billing.Session{}, err
	}

	p.count++
	id := fmt.Sprintf("sess_%03d", p.count)
	p.sessions[id] = req
	return billing.Session{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

// Session returns the recorded request for a session id.
func (p *Provider) Session(id string) (billing.SessionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.sessions[id]
	return req, ok
}

// SessionCount reports how many sessions have been created.
func (p *Provider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

type eventPayload struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Reference string          `json:"reference"`
	Kind      string          `json:"kind"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
}

func (p *Provider) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// MintEvent builds a signed webhook payload for the given session, as the
// provider would send it. rawKind is the provider-side event type, e.g.
// "checkout.session.completed".
func (p *Provider) MintEvent(rawKind, sessionID string, amount decimal.Decimal) (payload []byte, sigHeader string) {
	p.mu.Lock()
	req, ok := p.sessions[sessionID]
	p.mu.Unlock()

	ep := eventPayload{Type: rawKind, SessionID: sessionID, Amount: amount}
	if ok {
		ep.Reference = req.Reference
		ep.Kind = req.Kind
		ep.UserID = req.UserID
	}
	payload, _ = json.Marshal(ep)
	return payload, p.sign(payload)
}

func (p *Provider) VerifyEvent(payload []byte, sigHeader string) (billing.Event, error) {
	if !hmac.Equal([]byte(sigHeader), []byte(p.sign(payload))) {
		return billing.Event{}, billing.ErrSignatureInvalid
	}

	var ep eventPayload
	if err := json.Unmarshal(payload, &ep); err != nil {
		return billing.Event{}, billing.ErrSignatureInvalid
	}

	evt := billing.Event{
		RawKind:   ep.Type,
		SessionID: ep.SessionID,
		Reference: ep.Reference,
		OwnerKind: ep.Kind,
		UserID:    ep.UserID,
		Amount:    ep.Amount,
	}
	switch ep.Type {
	case "checkout.session.completed":
		evt.Kind = billing.EventCompleted
	case "checkout.session.expired":
		evt.Kind = billing.EventExpired
	default:
		evt.Kind = billing.EventUnknown
	}
	return evt, nil
}
