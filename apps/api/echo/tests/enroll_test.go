package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/enroll"
	"github.com/trezcool/shule/core/user"

	. "github.com/trezcool/shule/apps/api/echo"
)

func TestEnrollAPI(t *testing.T) {
	ctx := context.Background()

	student := addUser(t, "zola")
	studentToken := getToken(t, student)

	freeCls := addClass(t, 10, "")
	paidCls := addClass(t, 10, "50")

	fullCls := addClass(t, 1, "")
	other := addUser(t, "nzinga")
	if _, err := enrollSvc.InitiateCheckout(ctx, other.ID, enroll.Target{ClassID: fullCls.ID}, ""); err != nil {
		t.Fatalf("filling class failed: %v", err)
	}

	inactiveCls := addClass(t, 10, "")
	inactiveCls.IsActive = false
	if _, err := schoolRepo.UpdateClass(ctx, inactiveCls); err != nil {
		t.Fatalf("deactivating class failed: %v", err)
	}

	tests := []httpTest{
		{
			name:     "Enroll (401)",
			method:   http.MethodPost,
			path:     "/v1/classes/" + freeCls.ID + "/enroll",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "Enroll unknown class (404)",
			method:   http.MethodPost,
			path:     "/v1/classes/nope/enroll",
			token:    studentToken,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "class not found"}),
		},
		{
			name:     "Enroll full class (409)",
			method:   http.MethodPost,
			path:     "/v1/classes/" + fullCls.ID + "/enroll",
			token:    studentToken,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "no seats left"}),
		},
		{
			name:     "Enroll inactive class (400)",
			method:   http.MethodPost,
			path:     "/v1/classes/" + inactiveCls.ID + "/enroll",
			token:    studentToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "enrollment is closed for this class or event"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Enroll free class confirms (201)", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/classes/"+freeCls.ID+"/enroll", studentToken)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("got code %d; body %s", rec.Code, rec.Body.String())
		}
		var res enroll.CheckoutResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatal(err)
		}
		if res.Status != enroll.StatusConfirmed {
			t.Errorf("got status %q, want %q", res.Status, enroll.StatusConfirmed)
		}
		if res.RedirectURL != "" {
			t.Errorf("unexpected redirect_url %q", res.RedirectURL)
		}
		if res.Enrollment == nil || res.Enrollment.UserID != student.ID {
			t.Errorf("enrollment not attributed to requester: %+v", res.Enrollment)
		}

		cls, err := schoolRepo.GetClassByID(ctx, freeCls.ID)
		if err != nil {
			t.Fatal(err)
		}
		if cls.CurrentCount != 1 {
			t.Errorf("got count %d, want 1", cls.CurrentCount)
		}
	})

	t.Run("Re-enroll confirmed class is idempotent (201)", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/classes/"+freeCls.ID+"/enroll", studentToken)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("got code %d; body %s", rec.Code, rec.Body.String())
		}
		cls, err := schoolRepo.GetClassByID(ctx, freeCls.ID)
		if err != nil {
			t.Fatal(err)
		}
		if cls.CurrentCount != 1 {
			t.Errorf("got count %d, want 1", cls.CurrentCount)
		}
	})

	t.Run("Enroll paid class redirects (200)", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/classes/"+paidCls.ID+"/enroll", studentToken)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("got code %d; body %s", rec.Code, rec.Body.String())
		}
		var res enroll.CheckoutResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatal(err)
		}
		if res.Status != enroll.StatusPending {
			t.Errorf("got status %q, want %q", res.Status, enroll.StatusPending)
		}
		if res.RedirectURL == "" {
			t.Error("expected a redirect_url")
		}

		// no seat is held until the payment settles
		cls, err := schoolRepo.GetClassByID(ctx, paidCls.ID)
		if err != nil {
			t.Fatal(err)
		}
		if cls.CurrentCount != 0 {
			t.Errorf("got count %d, want 0", cls.CurrentCount)
		}

		pmt, err := pmtRepo.GetPendingByOwner(ctx, billing.KindClass, res.Enrollment.ID)
		if err != nil {
			t.Fatalf("expected a pending payment: %v", err)
		}
		if pmt.ExternalSessionID == "" {
			t.Error("payment has no checkout session id")
		}

		// a retry reuses the claim but gets a fresh checkout session
		req, rec = newAuthRequest(http.MethodPost, "/v1/classes/"+paidCls.ID+"/enroll", studentToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("retry got code %d; body %s", rec.Code, rec.Body.String())
		}
		var res2 enroll.CheckoutResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res2); err != nil {
			t.Fatal(err)
		}
		if res2.Enrollment.ID != res.Enrollment.ID {
			t.Error("retry created a second claim")
		}
		pmt2, err := pmtRepo.GetPendingByOwner(ctx, billing.KindClass, res.Enrollment.ID)
		if err != nil {
			t.Fatal(err)
		}
		if pmt2.ExternalSessionID == pmt.ExternalSessionID {
			t.Error("retry did not issue a fresh checkout session")
		}
	})

	t.Run("Register free event confirms (201)", func(t *testing.T) {
		evt := addEvent(t, 10, "")
		req, rec := newAuthRequest(http.MethodPost, "/v1/events/"+evt.ID+"/register", studentToken)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("got code %d; body %s", rec.Code, rec.Body.String())
		}
		var res enroll.CheckoutResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatal(err)
		}
		if res.Status != enroll.StatusConfirmed || res.Registration == nil {
			t.Errorf("unexpected result: %+v", res)
		}
	})
}

func TestEnrollAPI_guardian(t *testing.T) {
	parent := addUser(t, "mama", user.RoleParent)
	parentToken := getToken(t, parent)
	student := addUser(t, "dikembe")
	cls := addClass(t, 10, "")
	body := marchallObj(t, EnrollRequest{OnBehalfOf: student.ID})

	t.Run("Enroll on behalf without approval (403)", func(t *testing.T) {
		tt := httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "no approved guardianship for this student"}),
		}
		req, rec := newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/enroll", parentToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("Enroll on behalf with approval (201)", func(t *testing.T) {
		approveGuardian(t, parent.ID, student.ID)

		req, rec := newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/enroll", parentToken, body)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("got code %d; body %s", rec.Code, rec.Body.String())
		}
		var res enroll.CheckoutResult
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatal(err)
		}
		// the claim belongs to the student, not the requesting guardian
		if res.Enrollment == nil || res.Enrollment.UserID != student.ID {
			t.Errorf("claim not attributed to student: %+v", res.Enrollment)
		}
	})
}

func TestEnrollAPI_listAndLeave(t *testing.T) {
	ctx := context.Background()

	student := addUser(t, "amani")
	token := getToken(t, student)
	cls := addClass(t, 10, "")
	evt := addEvent(t, 10, "")

	resC, err := enrollSvc.InitiateCheckout(ctx, student.ID, enroll.Target{ClassID: cls.ID}, "")
	if err != nil {
		t.Fatal(err)
	}
	resE, err := enrollSvc.InitiateCheckout(ctx, student.ID, enroll.Target{EventID: evt.ID}, "")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("List own claims (200)", func(t *testing.T) {
		tt := httpTest{
			wantCode: http.StatusOK,
			wantData: marchallObj(t, enroll.UserClaims{
				Enrollments:   []enroll.Enrollment{*resC.Enrollment},
				Registrations: []enroll.EventRegistration{*resE.Registration},
			}),
		}
		req, rec := newAuthRequest(http.MethodGet, "/v1/enrollments", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	stranger := addUser(t, "mobutu")
	tests := []httpTest{
		{
			name:     "Leave (401)",
			method:   http.MethodDelete,
			path:     "/v1/enrollments/" + resC.Enrollment.ID,
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "Leave another user's enrollment (403)",
			method:   http.MethodDelete,
			path:     "/v1/enrollments/" + resC.Enrollment.ID,
			token:    getToken(t, stranger),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "Leave unknown enrollment (404)",
			method:   http.MethodDelete,
			path:     "/v1/enrollments/nope",
			token:    token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "enrollment not found"}),
		},
		{
			name:     "Leave enrollment (204)",
			method:   http.MethodDelete,
			path:     "/v1/enrollments/" + resC.Enrollment.ID,
			token:    token,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "Leave registration (204)",
			method:   http.MethodDelete,
			path:     "/v1/registrations/" + resE.Registration.ID,
			token:    token,
			wantCode: http.StatusNoContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Leave keeps the seat count", func(t *testing.T) {
		if _, err := enrollRepo.GetEnrollmentByID(ctx, resC.Enrollment.ID); err == nil {
			t.Error("enrollment row still exists")
		}
		got, err := schoolRepo.GetClassByID(ctx, cls.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.CurrentCount != 1 {
			t.Errorf("got count %d, want 1", got.CurrentCount)
		}
	})
}
