package billing

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// Reconciler translates provider webhook events into ledger transitions.
//
// Delivery is at-least-once: every transition here must be safely repeatable.
// Idempotency comes from the PENDING-by-session-id lookup inside the
// repository's checkout operations; a duplicate delivery finds no PENDING
// payment and is acknowledged as a no-op.
type Reconciler struct {
	repo     Repository
	provider CheckoutProvider
	usrRepo  user.Repository
	mailSvc  core.EmailService
	logger   core.Logger
}

func NewReconciler(
	repo Repository,
	provider CheckoutProvider,
	usrRepo user.Repository,
	mailSvc core.EmailService,
	logger core.Logger,
) *Reconciler {
	return &Reconciler{
		repo:     repo,
		provider: provider,
		usrRepo:  usrRepo,
		mailSvc:  mailSvc,
		logger:   logger,
	}
}

// HandleEvent verifies and applies one raw webhook delivery.
// A returned error wrapping ErrSignatureInvalid means the payload was forged
// or malformed; any other error means a store write failed and the provider
// should redeliver.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, sigHeader string) error {
	ev, err := r.provider.VerifyEvent(payload, sigHeader)
	if err != nil {
		return errors.Wrap(err, "verifying webhook event")
	}

	switch ev.Kind {
	case EventCompleted:
		pmt, err := r.repo.CompleteCheckout(ctx, ev.SessionID, ev.Amount)
		if errors.Cause(err) == ErrPaymentNotFound {
			// already processed, or the row was left before payment; ack
			r.logger.Info(fmt.Sprintf("no pending payment for session %s; skipping", ev.SessionID))
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "completing checkout")
		}
		r.logger.Info(fmt.Sprintf("payment %s completed (session %s)", pmt.ID, ev.SessionID))
		r.notify(ctx, pmt, "Payment received",
			"Your payment was received and your spot is confirmed. Thank you!")

	case EventExpired:
		pmt, err := r.repo.ExpireCheckout(ctx, ev.SessionID)
		if errors.Cause(err) == ErrPaymentNotFound {
			r.logger.Info(fmt.Sprintf("no pending payment for session %s; skipping", ev.SessionID))
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "expiring checkout")
		}
		r.logger.Info(fmt.Sprintf("payment %s expired (session %s)", pmt.ID, ev.SessionID))
		r.notify(ctx, pmt, "Checkout expired",
			"Your checkout session expired before payment and your spot was released. "+
				"You may enroll again at any time.")

	default:
		// ack so the provider does not retry-storm event kinds we ignore
		r.logger.Info(fmt.Sprintf("ignoring webhook event kind %q", ev.RawKind))
	}
	return nil
}

// notify is fire-and-forget: a failed notification never rolls back a
// ledger transition.
func (r *Reconciler) notify(ctx context.Context, pmt Payment, subject, body string) {
	usr, err := r.usrRepo.GetUserByID(ctx, pmt.UserID)
	if err != nil {
		r.logger.Error(fmt.Sprintf("looking up user %s for notification: %v", pmt.UserID, err), err, pmt)
		return
	}
	r.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject: subject,
		BodyStr: body,
	})
}
