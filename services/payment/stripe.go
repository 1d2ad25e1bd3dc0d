package paysvc

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/billing"
)

// session metadata keys; the webhook reads these back to correlate the event
// with the owning enrollment/registration.
const (
	metaReference = "reference"
	metaKind      = "kind"
	metaUserID    = "user_id"
)

var minorUnits = decimal.NewFromInt(100)

type StripeProvider struct {
	api           *client.API
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
}

var _ billing.CheckoutProvider = (*StripeProvider)(nil)

func NewStripeProvider(conf *core.Config) *StripeProvider {
	api := &client.API{}
	api.Init(conf.Billing.StripeSecretKey, nil)
	return &StripeProvider{
		api:           api,
		webhookSecret: conf.Billing.StripeWebhookSecret,
		currency:      conf.Billing.Currency,
		successURL:    conf.Billing.SuccessURL,
		cancelURL:     conf.Billing.CancelURL,
	}
}

func (p *StripeProvider) CreateSession(ctx context.Context, req billing.SessionRequest) (billing.Session, error) {
	item := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if req.PriceRef != "" {
		item.Price = stripe.String(req.PriceRef)
	} else {
		item.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(p.currency),
			UnitAmount: stripe.Int64(req.Amount.Mul(minorUnits).IntPart()),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(req.Description),
			},
		}
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(p.successURL),
		CancelURL:     stripe.String(p.cancelURL),
		CustomerEmail: stripe.String(req.CustomerEmail),
		LineItems:     []*stripe.CheckoutSessionLineItemParams{item},
	}
	params.Context = ctx
	params.AddMetadata(metaReference, req.Reference)
	params.AddMetadata(metaKind, req.Kind)
	params.AddMetadata(metaUserID, req.UserID)

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return billing.Session{}, errors.Wrap(err, "creating checkout session")
	}
	return billing.Session{ID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) VerifyEvent(payload []byte, sigHeader string) (billing.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, p.webhookSecret)
	if err != nil {
		return billing.Event{}, billing.ErrSignatureInvalid
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return billing.Event{}, billing.ErrSignatureInvalid
		}
		kind := billing.EventCompleted
		if event.Type == "checkout.session.expired" {
			kind = billing.EventExpired
		}
		return billing.Event{
			Kind:      kind,
			RawKind:   event.Type,
			SessionID: sess.ID,
			Reference: sess.Metadata[metaReference],
			OwnerKind: sess.Metadata[metaKind],
			UserID:    sess.Metadata[metaUserID],
			Amount:    decimal.NewFromInt(sess.AmountTotal).Div(minorUnits),
		}, nil
	default:
		return billing.Event{Kind: billing.EventUnknown, RawKind: event.Type}, nil
	}
}
