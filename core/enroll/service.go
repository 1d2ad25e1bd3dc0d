package enroll

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("enrollment not found")
	ErrInactive        = errors.New("enrollment is closed for this class or event")
	ErrAlreadyEnrolled = errors.New("an active enrollment already exists")
	ErrNotGuardian     = errors.New("no approved guardianship for this student")
	ErrNotOwner        = errors.New("permission denied")
)

type Service struct {
	repo       Repository
	schoolRepo school.Repository
	pmtRepo    billing.Repository
	provider   billing.CheckoutProvider
	usrRepo    user.Repository
	mailSvc    core.EmailService
	logger     core.Logger
	conf       *core.Config
}

func NewService(
	repo Repository,
	schoolRepo school.Repository,
	pmtRepo billing.Repository,
	provider billing.CheckoutProvider,
	usrRepo user.Repository,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *Service {
	return &Service{
		repo:       repo,
		schoolRepo: schoolRepo,
		pmtRepo:    pmtRepo,
		provider:   provider,
		usrRepo:    usrRepo,
		mailSvc:    mailSvc,
		logger:     logger,
		conf:       conf,
	}
}

// InitiateCheckout starts an enrollment (or event registration) for the
// effective user. Free and test-mode targets confirm synchronously; priced
// targets get a PENDING claim plus a PENDING payment and a hosted checkout
// redirect, finalized later by the webhook reconciler.
//
// onBehalfOf may name a student the requester is an APPROVED guardian of;
// empty means the requester enrolls themselves. The target is vetted first
// (existence, activity, capacity), then guardianship, then duplicate claims.
func (svc *Service) InitiateCheckout(ctx context.Context, requesterID string, target Target, onBehalfOf string) (CheckoutResult, error) {
	if target.IsClass() {
		return svc.enrollClass(ctx, requesterID, onBehalfOf, target.ClassID)
	}
	return svc.registerEvent(ctx, requesterID, onBehalfOf, target.EventID)
}

// resolveUser maps the requester to the effective enrollee.
func (svc *Service) resolveUser(ctx context.Context, requesterID, onBehalfOf string) (string, error) {
	if onBehalfOf == "" || onBehalfOf == requesterID {
		return requesterID, nil
	}
	ok, err := svc.usrRepo.GuardianshipApproved(ctx, requesterID, onBehalfOf)
	if err != nil {
		return "", errors.Wrap(err, "checking guardianship")
	}
	if !ok {
		return "", ErrNotGuardian
	}
	return onBehalfOf, nil
}

func (svc *Service) enrollClass(ctx context.Context, requesterID, onBehalfOf, classID string) (CheckoutResult, error) {
	cls, err := svc.schoolRepo.GetClassByID(ctx, classID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !cls.IsActive {
		return CheckoutResult{}, ErrInactive
	}
	if !cls.HasRoom() {
		return CheckoutResult{}, school.ErrFull
	}

	userID, err := svc.resolveUser(ctx, requesterID, onBehalfOf)
	if err != nil {
		return CheckoutResult{}, err
	}

	if existing, err := svc.repo.GetActiveEnrollment(ctx, userID, classID); err == nil {
		if existing.Status != StatusPending {
			// already holds the seat; success from the user's point of view
			return CheckoutResult{Status: existing.Status, Enrollment: &existing}, nil
		}
		// a PENDING claim with a PENDING payment gets a fresh checkout
		// session instead of a duplicate pair
		pmt, perr := svc.pmtRepo.GetPendingByOwner(ctx, billing.KindClass, existing.ID)
		if perr != nil {
			return CheckoutResult{}, ErrAlreadyEnrolled
		}
		url, serr := svc.issueSession(ctx, pmt, cls.Name, cls.Price, cls.ExternalPriceRef)
		if serr != nil {
			return CheckoutResult{}, serr
		}
		return CheckoutResult{Status: StatusPending, RedirectURL: url, Enrollment: &existing}, nil
	} else if errors.Cause(err) != ErrNotFound {
		return CheckoutResult{}, errors.Wrap(err, "checking existing enrollment")
	}

	if cls.Free() {
		return svc.confirmClass(ctx, userID, classID, StatusConfirmed)
	}
	if svc.conf.Enroll.TestMode {
		return svc.confirmClass(ctx, userID, classID, StatusTest)
	}

	now := time.Now().UTC()
	enr, err := svc.repo.CreateEnrollment(ctx, Enrollment{
		ID:        uuid.New().String(),
		UserID:    userID,
		ClassID:   classID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	pmt, err := svc.pmtRepo.CreatePayment(ctx, billing.Payment{
		ID:           uuid.New().String(),
		UserID:       userID,
		Amount:       cls.Price.Decimal,
		Status:       billing.StatusPending,
		Kind:         billing.KindClass,
		EnrollmentID: enr.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		svc.rollbackRow(ctx, billing.KindClass, enr.ID)
		return CheckoutResult{}, errors.Wrap(err, "creating payment")
	}

	url, err := svc.issueSession(ctx, pmt, cls.Name, cls.Price, cls.ExternalPriceRef)
	if err != nil {
		svc.rollbackCheckout(ctx, pmt.ID, billing.KindClass, enr.ID)
		return CheckoutResult{}, err
	}
	return CheckoutResult{Status: StatusPending, RedirectURL: url, Enrollment: &enr}, nil
}

func (svc *Service) registerEvent(ctx context.Context, requesterID, onBehalfOf, eventID string) (CheckoutResult, error) {
	evt, err := svc.schoolRepo.GetEventByID(ctx, eventID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !evt.IsActive {
		return CheckoutResult{}, ErrInactive
	}
	if !evt.HasRoom() {
		return CheckoutResult{}, school.ErrFull
	}

	userID, err := svc.resolveUser(ctx, requesterID, onBehalfOf)
	if err != nil {
		return CheckoutResult{}, err
	}

	if existing, err := svc.repo.GetActiveRegistration(ctx, userID, eventID); err == nil {
		if existing.Status != StatusPending {
			return CheckoutResult{Status: existing.Status, Registration: &existing}, nil
		}
		pmt, perr := svc.pmtRepo.GetPendingByOwner(ctx, billing.KindEvent, existing.ID)
		if perr != nil {
			return CheckoutResult{}, ErrAlreadyEnrolled
		}
		url, serr := svc.issueSession(ctx, pmt, evt.Name, evt.Price, evt.ExternalPriceRef)
		if serr != nil {
			return CheckoutResult{}, serr
		}
		return CheckoutResult{Status: StatusPending, RedirectURL: url, Registration: &existing}, nil
	} else if errors.Cause(err) != ErrNotFound {
		return CheckoutResult{}, errors.Wrap(err, "checking existing registration")
	}

	if evt.Free() {
		return svc.confirmEvent(ctx, userID, eventID, StatusConfirmed)
	}
	if svc.conf.Enroll.TestMode {
		return svc.confirmEvent(ctx, userID, eventID, StatusTest)
	}

	now := time.Now().UTC()
	reg, err := svc.repo.CreateRegistration(ctx, EventRegistration{
		ID:        uuid.New().String(),
		UserID:    userID,
		EventID:   eventID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	pmt, err := svc.pmtRepo.CreatePayment(ctx, billing.Payment{
		ID:             uuid.New().String(),
		UserID:         userID,
		Amount:         evt.Price.Decimal,
		Status:         billing.StatusPending,
		Kind:           billing.KindEvent,
		RegistrationID: reg.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		svc.rollbackRow(ctx, billing.KindEvent, reg.ID)
		return CheckoutResult{}, errors.Wrap(err, "creating payment")
	}

	url, err := svc.issueSession(ctx, pmt, evt.Name, evt.Price, evt.ExternalPriceRef)
	if err != nil {
		svc.rollbackCheckout(ctx, pmt.ID, billing.KindEvent, reg.ID)
		return CheckoutResult{}, err
	}
	return CheckoutResult{Status: StatusPending, RedirectURL: url, Registration: &reg}, nil
}

// ConfirmDirect bypasses the payment provider: free targets confirm
// outright, priced ones only under the test-mode flag (with TEST status).
func (svc *Service) ConfirmDirect(ctx context.Context, userID string, target Target) (CheckoutResult, error) {
	if target.IsClass() {
		cls, err := svc.schoolRepo.GetClassByID(ctx, target.ClassID)
		if err != nil {
			return CheckoutResult{}, err
		}
		status := StatusConfirmed
		if !cls.Free() {
			if !svc.conf.Enroll.TestMode {
				return CheckoutResult{}, errors.New("direct confirmation requires a free class or test mode")
			}
			status = StatusTest
		}
		return svc.confirmClass(ctx, userID, target.ClassID, status)
	}

	evt, err := svc.schoolRepo.GetEventByID(ctx, target.EventID)
	if err != nil {
		return CheckoutResult{}, err
	}
	status := StatusConfirmed
	if !evt.Free() {
		if !svc.conf.Enroll.TestMode {
			return CheckoutResult{}, errors.New("direct confirmation requires a free event or test mode")
		}
		status = StatusTest
	}
	return svc.confirmEvent(ctx, userID, target.EventID, status)
}

// confirmClass creates or promotes the claim to its final status; the status
// write and the seat increment happen in one store transaction so callers
// never observe one without the other.
func (svc *Service) confirmClass(ctx context.Context, userID, classID, status string) (CheckoutResult, error) {
	if existing, err := svc.repo.GetActiveEnrollment(ctx, userID, classID); err == nil {
		if existing.Status != StatusPending {
			return CheckoutResult{Status: existing.Status, Enrollment: &existing}, nil
		}
		if err = svc.repo.PromoteEnrollment(ctx, existing.ID, status); err != nil {
			return CheckoutResult{}, err
		}
		existing.Status = status
		svc.notifyConfirmed(ctx, userID)
		return CheckoutResult{Status: status, Enrollment: &existing}, nil
	} else if errors.Cause(err) != ErrNotFound {
		return CheckoutResult{}, errors.Wrap(err, "checking existing enrollment")
	}

	now := time.Now().UTC()
	enr, err := svc.repo.CreateEnrollmentConfirmed(ctx, Enrollment{
		ID:        uuid.New().String(),
		UserID:    userID,
		ClassID:   classID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	svc.notifyConfirmed(ctx, userID)
	return CheckoutResult{Status: status, Enrollment: &enr}, nil
}

func (svc *Service) confirmEvent(ctx context.Context, userID, eventID, status string) (CheckoutResult, error) {
	if existing, err := svc.repo.GetActiveRegistration(ctx, userID, eventID); err == nil {
		if existing.Status != StatusPending {
			return CheckoutResult{Status: existing.Status, Registration: &existing}, nil
		}
		if err = svc.repo.PromoteRegistration(ctx, existing.ID, status); err != nil {
			return CheckoutResult{}, err
		}
		existing.Status = status
		svc.notifyConfirmed(ctx, userID)
		return CheckoutResult{Status: status, Registration: &existing}, nil
	} else if errors.Cause(err) != ErrNotFound {
		return CheckoutResult{}, errors.Wrap(err, "checking existing registration")
	}

	now := time.Now().UTC()
	reg, err := svc.repo.CreateRegistrationConfirmed(ctx, EventRegistration{
		ID:        uuid.New().String(),
		UserID:    userID,
		EventID:   eventID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	svc.notifyConfirmed(ctx, userID)
	return CheckoutResult{Status: status, Registration: &reg}, nil
}

// Leave drops a claim: the payment rows go first, then the claim itself.
// Only the owner or an approved guardian may leave.
func (svc *Service) Leave(ctx context.Context, requesterID, kind, id string) error {
	var ownerID, targetID, status string
	switch kind {
	case billing.KindClass:
		enr, err := svc.repo.GetEnrollmentByID(ctx, id)
		if err != nil {
			return err
		}
		ownerID, targetID, status = enr.UserID, enr.ClassID, enr.Status
	case billing.KindEvent:
		reg, err := svc.repo.GetRegistrationByID(ctx, id)
		if err != nil {
			return err
		}
		ownerID, targetID, status = reg.UserID, reg.EventID, reg.Status
	default:
		return ErrNotFound
	}

	if ownerID != requesterID {
		ok, err := svc.usrRepo.GuardianshipApproved(ctx, requesterID, ownerID)
		if err != nil {
			return errors.Wrap(err, "checking guardianship")
		}
		if !ok {
			return ErrNotOwner
		}
	}

	if err := svc.pmtRepo.DeletePaymentsByOwner(ctx, kind, id); err != nil {
		return errors.Wrap(err, "deleting payments")
	}

	if svc.conf.Enroll.ReleaseSeatOnLeave && (status == StatusConfirmed || status == StatusTest) {
		var err error
		if kind == billing.KindClass {
			err = svc.schoolRepo.DecrementClassCount(ctx, targetID)
		} else {
			err = svc.schoolRepo.DecrementEventCount(ctx, targetID)
		}
		if err != nil {
			svc.logger.Error(fmt.Sprintf("releasing seat for %s %s: %v", kind, targetID, err), err)
		}
	}

	var err error
	if kind == billing.KindClass {
		err = svc.repo.DeleteEnrollment(ctx, id)
	} else {
		err = svc.repo.DeleteRegistration(ctx, id)
	}
	if err != nil {
		return err
	}

	if ownerID != requesterID {
		// a guardian cancelled on the student's behalf; tell the student
		svc.notifyCancelled(ctx, ownerID)
	}
	return nil
}

func (svc *Service) ListByUser(ctx context.Context, userID string) (UserClaims, error) {
	enrs, err := svc.repo.QueryEnrollmentsByUser(ctx, userID)
	if err != nil {
		return UserClaims{}, err
	}
	regs, err := svc.repo.QueryRegistrationsByUser(ctx, userID)
	if err != nil {
		return UserClaims{}, err
	}
	if enrs == nil {
		enrs = []Enrollment{}
	}
	if regs == nil {
		regs = []EventRegistration{}
	}
	return UserClaims{Enrollments: enrs, Registrations: regs}, nil
}

// CancelStale voids PENDING claims whose checkout session never resolved
// within the configured TTL: payments go EXPIRED, claims go CANCELLED.
// A late webhook for a swept session is absorbed by the reconciler's
// no-op-on-missing behavior.
func (svc *Service) CancelStale(ctx context.Context) (int, error) {
	ttl := svc.conf.Enroll.PendingTTL
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-ttl)

	enrs, err := svc.repo.CancelStalePendingEnrollments(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cancelling stale enrollments")
	}
	for _, e := range enrs {
		svc.expirePendingPayment(ctx, billing.KindClass, e.ID)
	}

	regs, err := svc.repo.CancelStalePendingRegistrations(ctx, cutoff)
	if err != nil {
		return len(enrs), errors.Wrap(err, "cancelling stale registrations")
	}
	for _, r := range regs {
		svc.expirePendingPayment(ctx, billing.KindEvent, r.ID)
	}

	return len(enrs) + len(regs), nil
}

func (svc *Service) expirePendingPayment(ctx context.Context, kind, ownerID string) {
	pmt, err := svc.pmtRepo.GetPendingByOwner(ctx, kind, ownerID)
	if err != nil {
		return
	}
	if err = svc.pmtRepo.ExpirePayment(ctx, pmt.ID); err != nil {
		svc.logger.Error(fmt.Sprintf("expiring stale payment %s: %v", pmt.ID, err), err, pmt)
	}
}

func (svc *Service) issueSession(ctx context.Context, pmt billing.Payment, name string, price decimal.NullDecimal, priceRef string) (string, error) {
	usr, err := svc.usrRepo.GetUserByID(ctx, pmt.UserID)
	if err != nil {
		return "", errors.Wrap(err, "looking up paying user")
	}

	var amount decimal.Decimal
	if price.Valid {
		amount = price.Decimal
	}
	sess, err := svc.provider.CreateSession(ctx, billing.SessionRequest{
		Reference:     pmt.OwnerID(),
		Kind:          pmt.Kind,
		UserID:        pmt.UserID,
		CustomerEmail: usr.Email,
		Description:   name,
		Amount:        amount,
		PriceRef:      priceRef,
	})
	if err != nil {
		return "", errors.Wrapf(billing.ErrProvider, "creating checkout session: %v", err)
	}

	if err = svc.pmtRepo.SetSessionID(ctx, pmt.ID, sess.ID); err != nil {
		return "", errors.Wrap(err, "persisting session id")
	}
	return sess.URL, nil
}

// rollbackCheckout compensates for a failed session creation: the local
// writes happened before the external call, so they are undone explicitly
// rather than inside a transaction. Each delete is retried once; leftovers
// are logged and reaped by the stale-pending sweep.
func (svc *Service) rollbackCheckout(ctx context.Context, pmtID, kind, rowID string) {
	if err := retryOnce(func() error { return svc.pmtRepo.DeletePayment(ctx, pmtID) }); err != nil {
		svc.logger.Error(fmt.Sprintf("rollback: deleting payment %s: %v", pmtID, err), err)
	}
	svc.rollbackRow(ctx, kind, rowID)
}

func (svc *Service) rollbackRow(ctx context.Context, kind, rowID string) {
	del := func() error { return svc.repo.DeleteEnrollment(ctx, rowID) }
	if kind == billing.KindEvent {
		del = func() error { return svc.repo.DeleteRegistration(ctx, rowID) }
	}
	if err := retryOnce(del); err != nil {
		svc.logger.Error(fmt.Sprintf("rollback: deleting %s row %s: %v", kind, rowID, err), err)
	}
}

func retryOnce(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}

func (svc *Service) notifyConfirmed(ctx context.Context, userID string) {
	svc.notify(ctx, userID, "Enrollment confirmed",
		"Your spot is confirmed. See you in class!")
}

func (svc *Service) notifyCancelled(ctx context.Context, userID string) {
	svc.notify(ctx, userID, "Enrollment cancelled",
		"Your enrollment was cancelled by your parent or guardian.")
}

// notify failures never roll back a transition.
func (svc *Service) notify(ctx context.Context, userID, subject, body string) {
	usr, err := svc.usrRepo.GetUserByID(ctx, userID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("looking up user %s for notification: %v", userID, err), err)
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject: subject,
		BodyStr: body,
	})
}
