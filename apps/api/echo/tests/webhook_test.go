package tests

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/enroll"
)

const webhookPath = "/v1/billing/webhook"

// pendingCheckout sets up a priced class with a PENDING enrollment+payment
// pair and returns the pair plus its checkout session id.
func pendingCheckout(t *testing.T, price string) (clsID, enrID, sessID string) {
	t.Helper()
	ctx := context.Background()

	student := addUser(t, "payer")
	cls := addClass(t, 10, price)
	res, err := enrollSvc.InitiateCheckout(ctx, student.ID, enroll.Target{ClassID: cls.ID}, "")
	if err != nil {
		t.Fatalf("pendingCheckout() failed: %v", err)
	}
	pmt, err := pmtRepo.GetPendingByOwner(ctx, billing.KindClass, res.Enrollment.ID)
	if err != nil {
		t.Fatalf("pendingCheckout() failed: %v", err)
	}
	return cls.ID, res.Enrollment.ID, pmt.ExternalSessionID
}

func postWebhook(t *testing.T, payload []byte, sig string) *http.Response {
	t.Helper()
	req, rec := newRequest(http.MethodPost, webhookPath, payload)
	req.Header.Set("Stripe-Signature", sig)
	app.ServeHTTP(rec, req)
	return rec.Result()
}

func TestWebhookAPI_completion(t *testing.T) {
	ctx := context.Background()
	clsID, enrID, sessID := pendingCheckout(t, "75")
	amount := decimal.NewFromInt(75)

	t.Run("forged signature (400)", func(t *testing.T) {
		payload, _ := provider.MintEvent("checkout.session.completed", sessID, amount)
		resp := postWebhook(t, payload, "deadbeef")
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("got code %d, want 400", resp.StatusCode)
		}
		pmt, err := pmtRepo.GetPendingBySessionID(ctx, sessID)
		if err != nil {
			t.Fatalf("payment should still be pending: %v", err)
		}
		if pmt.Status != billing.StatusPending {
			t.Errorf("got status %q, want %q", pmt.Status, billing.StatusPending)
		}
	})

	t.Run("completion settles the pair (200)", func(t *testing.T) {
		payload, sig := provider.MintEvent("checkout.session.completed", sessID, amount)
		resp := postWebhook(t, payload, sig)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("got code %d, want 200", resp.StatusCode)
		}

		enr, err := enrollRepo.GetEnrollmentByID(ctx, enrID)
		if err != nil {
			t.Fatal(err)
		}
		if enr.Status != enroll.StatusConfirmed {
			t.Errorf("got status %q, want %q", enr.Status, enroll.StatusConfirmed)
		}
		cls, err := schoolRepo.GetClassByID(ctx, clsID)
		if err != nil {
			t.Fatal(err)
		}
		if cls.CurrentCount != 1 {
			t.Errorf("got count %d, want 1", cls.CurrentCount)
		}
	})

	t.Run("duplicate delivery is acked without effect (200)", func(t *testing.T) {
		payload, sig := provider.MintEvent("checkout.session.completed", sessID, amount)
		resp := postWebhook(t, payload, sig)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("got code %d, want 200", resp.StatusCode)
		}
		cls, err := schoolRepo.GetClassByID(ctx, clsID)
		if err != nil {
			t.Fatal(err)
		}
		if cls.CurrentCount != 1 {
			t.Errorf("got count %d, want 1", cls.CurrentCount)
		}
	})
}

func TestWebhookAPI_expiration(t *testing.T) {
	ctx := context.Background()
	clsID, enrID, sessID := pendingCheckout(t, "30")

	payload, sig := provider.MintEvent("checkout.session.expired", sessID, decimal.Zero)
	resp := postWebhook(t, payload, sig)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got code %d, want 200", resp.StatusCode)
	}

	enr, err := enrollRepo.GetEnrollmentByID(ctx, enrID)
	if err != nil {
		t.Fatal(err)
	}
	if enr.Status != enroll.StatusCancelled {
		t.Errorf("got status %q, want %q", enr.Status, enroll.StatusCancelled)
	}
	// a seat was never held for the pending pair
	cls, err := schoolRepo.GetClassByID(ctx, clsID)
	if err != nil {
		t.Fatal(err)
	}
	if cls.CurrentCount != 0 {
		t.Errorf("got count %d, want 0", cls.CurrentCount)
	}
}

func TestWebhookAPI_unknownSession(t *testing.T) {
	payload, sig := provider.MintEvent("checkout.session.completed", "sess_unknown", decimal.NewFromInt(10))
	resp := postWebhook(t, payload, sig)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got code %d, want 200", resp.StatusCode)
	}
}

func TestWebhookAPI_ignoredKind(t *testing.T) {
	payload, sig := provider.MintEvent("payment_intent.created", "sess_whatever", decimal.Zero)
	resp := postWebhook(t, payload, sig)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got code %d, want 200", resp.StatusCode)
	}
}
