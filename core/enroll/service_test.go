package enroll_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/enroll"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	dummypmt "github.com/trezcool/shule/services/payment/dummy"
	dummydb "github.com/trezcool/shule/storage/database/dummy"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(msg string, args ...interface{}) { l.t.Log(msg) }
func (l testLogger) Info(msg string, args ...interface{})  { l.t.Log(msg) }
func (l testLogger) Warn(msg string, args ...interface{})  { l.t.Log(msg) }
func (l testLogger) Error(msg string, args ...interface{}) { l.t.Log(msg) }
func (l testLogger) Fatal(msg string, args ...interface{}) { l.t.Fatal(msg) }

type testEnv struct {
	conf       *core.Config
	repo       enroll.Repository
	schoolRepo school.Repository
	pmtRepo    billing.Repository
	usrRepo    user.Repository
	provider   *dummypmt.Provider
	svc        *enroll.Service
}

func setup(t *testing.T) *testEnv {
	db, err := dummydb.Open()
	require.NoError(t, err)

	conf := core.NewConfig()
	conf.Enroll.TestMode = false
	conf.Enroll.ReleaseSeatOnLeave = false
	conf.Enroll.PendingTTL = 24 * time.Hour

	env := &testEnv{
		conf:       conf,
		repo:       dummydb.NewEnrollRepository(db),
		schoolRepo: dummydb.NewSchoolRepository(db),
		pmtRepo:    dummydb.NewPaymentRepository(db),
		usrRepo:    dummydb.NewUserRepository(db),
		provider:   dummypmt.NewProvider("whsec_test"),
	}
	env.svc = enroll.NewService(
		env.repo, env.schoolRepo, env.pmtRepo, env.provider, env.usrRepo,
		emailsvc.NewConsoleServiceMock(conf), testLogger{t}, conf,
	)
	return env
}

func (env *testEnv) addUser(t *testing.T, name string) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr, err := env.usrRepo.CreateUser(context.Background(), user.User{
		ID:        uuid.New().String(),
		Name:      name,
		Username:  name,
		Email:     name + "@test.cd",
		IsActive:  true,
		Roles:     []string{user.RoleStudent},
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	return usr
}

func (env *testEnv) addClass(t *testing.T, capacity int, price string) school.Class {
	t.Helper()
	now := time.Now().UTC()
	cls := school.Class{
		ID:        uuid.New().String(),
		Name:      "Algebra II",
		Capacity:  capacity,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if price != "" {
		d, err := decimal.NewFromString(price)
		require.NoError(t, err)
		cls.Price = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	cls, err := env.schoolRepo.CreateClass(context.Background(), cls)
	require.NoError(t, err)
	return cls
}

func (env *testEnv) addEvent(t *testing.T, capacity int, price string) school.Event {
	t.Helper()
	now := time.Now().UTC()
	evt := school.Event{
		ID:        uuid.New().String(),
		Name:      "Science Fair",
		Capacity:  capacity,
		IsActive:  true,
		StartsAt:  now.Add(48 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if price != "" {
		d, err := decimal.NewFromString(price)
		require.NoError(t, err)
		evt.Price = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	evt, err := env.schoolRepo.CreateEvent(context.Background(), evt)
	require.NoError(t, err)
	return evt
}

func (env *testEnv) approveGuardian(t *testing.T, parentID, studentID string) {
	t.Helper()
	now := time.Now().UTC()
	g, err := env.usrRepo.CreateGuardianship(context.Background(), user.Guardianship{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		StudentID: studentID,
		Status:    user.GuardianshipPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, env.usrRepo.SetGuardianshipStatus(context.Background(), g.ID, user.GuardianshipApproved))
}

func TestInitiateCheckout_freeClassConfirmsImmediately(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "")

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	assert.Equal(t, enroll.StatusConfirmed, res.Status)
	assert.Empty(t, res.RedirectURL)
	require.NotNil(t, res.Enrollment)

	cls, err = env.schoolRepo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cls.CurrentCount)

	pmts, err := env.pmtRepo.QueryPaymentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	assert.Empty(t, pmts)
}

func TestInitiateCheckout_paidClassReturnsRedirect(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "50")

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	assert.Equal(t, enroll.StatusPending, res.Status)
	assert.NotEmpty(t, res.RedirectURL)
	require.NotNil(t, res.Enrollment)
	assert.Equal(t, enroll.StatusPending, res.Enrollment.Status)

	// the seat counter only moves on completion
	cls, err = env.schoolRepo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cls.CurrentCount)

	pmts, err := env.pmtRepo.QueryPaymentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	require.Len(t, pmts, 1)
	assert.Equal(t, billing.StatusPending, pmts[0].Status)
	assert.NotEmpty(t, pmts[0].ExternalSessionID)
	assert.True(t, pmts[0].Amount.Equal(decimal.NewFromInt(50)))
}

func TestInitiateCheckout_fullClass(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	cls := env.addClass(t, 1, "")

	first := env.addUser(t, "amani")
	_, err := env.svc.InitiateCheckout(ctx, first.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	second := env.addUser(t, "baraka")
	_, err = env.svc.InitiateCheckout(ctx, second.ID, enroll.Target{ClassID: cls.ID}, "")
	assert.Equal(t, school.ErrFull, errors.Cause(err))
}

func TestInitiateCheckout_inactiveClass(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "")
	cls.IsActive = false
	_, err := env.schoolRepo.UpdateClass(ctx, cls)
	require.NoError(t, err)

	_, err = env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	assert.Equal(t, enroll.ErrInactive, errors.Cause(err))
}

func TestInitiateCheckout_unknownClass(t *testing.T) {
	env := setup(t)
	usr := env.addUser(t, "amani")

	_, err := env.svc.InitiateCheckout(context.Background(), usr.ID, enroll.Target{ClassID: uuid.New().String()}, "")
	assert.Equal(t, school.ErrClassNotFound, errors.Cause(err))
}

func TestInitiateCheckout_guardian(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	parent := env.addUser(t, "mama")
	student := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "")

	// not approved yet
	_, err := env.svc.InitiateCheckout(ctx, parent.ID, enroll.Target{ClassID: cls.ID}, student.ID)
	assert.Equal(t, enroll.ErrNotGuardian, errors.Cause(err))

	env.approveGuardian(t, parent.ID, student.ID)

	res, err := env.svc.InitiateCheckout(ctx, parent.ID, enroll.Target{ClassID: cls.ID}, student.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Enrollment)
	// the claim belongs to the student, not the requesting parent
	assert.Equal(t, student.ID, res.Enrollment.UserID)
}

func TestInitiateCheckout_unknownClassBeforeGuardianship(t *testing.T) {
	env := setup(t)
	parent := env.addUser(t, "mama")
	student := env.addUser(t, "amani")

	// no guardianship on file; the missing class still wins
	_, err := env.svc.InitiateCheckout(
		context.Background(), parent.ID, enroll.Target{ClassID: uuid.New().String()}, student.ID)
	assert.Equal(t, school.ErrClassNotFound, errors.Cause(err))
}

func TestInitiateCheckout_fullClassBeforeGuardianship(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	cls := env.addClass(t, 1, "")

	first := env.addUser(t, "baraka")
	_, err := env.svc.InitiateCheckout(ctx, first.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	parent := env.addUser(t, "mama")
	student := env.addUser(t, "amani")
	_, err = env.svc.InitiateCheckout(ctx, parent.ID, enroll.Target{ClassID: cls.ID}, student.ID)
	assert.Equal(t, school.ErrFull, errors.Cause(err))
}

func TestInitiateCheckout_confirmedIsIdempotent(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "")

	_, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)
	assert.Equal(t, enroll.StatusConfirmed, res.Status)

	// no double-count
	cls, err = env.schoolRepo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cls.CurrentCount)

	enrs, err := env.repo.QueryEnrollmentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	assert.Len(t, enrs, 1)
}

func TestInitiateCheckout_pendingReusesClaimWithFreshSession(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "50")

	first, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	second, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	assert.Equal(t, enroll.StatusPending, second.Status)
	assert.NotEmpty(t, second.RedirectURL)
	assert.NotEqual(t, first.RedirectURL, second.RedirectURL)
	assert.Equal(t, 2, env.provider.SessionCount())

	// still one claim, one payment
	enrs, err := env.repo.QueryEnrollmentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	assert.Len(t, enrs, 1)
	pmts, err := env.pmtRepo.QueryPaymentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	assert.Len(t, pmts, 1)
}

func TestInitiateCheckout_pendingWithoutPayment(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "50")

	now := time.Now().UTC()
	_, err := env.repo.CreateEnrollment(ctx, enroll.Enrollment{
		ID:        uuid.New().String(),
		UserID:    usr.ID,
		ClassID:   cls.ID,
		Status:    enroll.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	_, err = env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	assert.Equal(t, enroll.ErrAlreadyEnrolled, errors.Cause(err))
}

func TestInitiateCheckout_concurrentDuplicateClaims(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
		}(i)
	}
	wg.Wait()

	// losers may surface the unique-claim violation; nothing else
	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.Equal(t, enroll.ErrAlreadyEnrolled, errors.Cause(err))
	}
	assert.GreaterOrEqual(t, won, 1)

	enrs, err := env.repo.QueryEnrollmentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	assert.Len(t, enrs, 1)

	cls, err = env.schoolRepo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cls.CurrentCount)
}

func TestInitiateCheckout_concurrentSeatContention(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	cls := env.addClass(t, 3, "")

	const n = 10
	users := make([]user.User, n)
	for i := range users {
		users[i] = env.addUser(t, fmt.Sprintf("learner%02d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.InitiateCheckout(ctx, users[i].ID, enroll.Target{ClassID: cls.ID}, "")
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.Equal(t, school.ErrFull, errors.Cause(err))
	}
	assert.Equal(t, 3, won)

	cls, err := env.schoolRepo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, cls.CurrentCount)
}

func TestInitiateCheckout_providerFailureRollsBack(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "50")

	env.provider.Err = errors.New("provider down")
	_, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	assert.Equal(t, billing.ErrProvider, errors.Cause(err))

	// the PENDING pair was compensated away
	enrs, err := env.repo.QueryEnrollmentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	assert.Empty(t, enrs)
	pmts, err := env.pmtRepo.QueryPaymentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	assert.Empty(t, pmts)

	// and a retry after recovery succeeds
	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)
	assert.Equal(t, enroll.StatusPending, res.Status)
}

func TestInitiateCheckout_testModeBypassesProvider(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.conf.Enroll.TestMode = true
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "50")

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	assert.Equal(t, enroll.StatusTest, res.Status)
	assert.Empty(t, res.RedirectURL)
	assert.Equal(t, 0, env.provider.SessionCount())

	cls, err = env.schoolRepo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cls.CurrentCount)
}

func TestInitiateCheckout_freeEventRegistration(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	evt := env.addEvent(t, 5, "")

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{EventID: evt.ID}, "")
	require.NoError(t, err)

	assert.Equal(t, enroll.StatusConfirmed, res.Status)
	require.NotNil(t, res.Registration)

	evt, err = env.schoolRepo.GetEventByID(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, evt.CurrentCount)
}

func TestLeave_deletesPaymentThenRow(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "50")

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	err = env.svc.Leave(ctx, usr.ID, billing.KindClass, res.Enrollment.ID)
	require.NoError(t, err)

	_, err = env.repo.GetEnrollmentByID(ctx, res.Enrollment.ID)
	assert.Equal(t, enroll.ErrNotFound, errors.Cause(err))
	pmts, err := env.pmtRepo.QueryPaymentsByUser(ctx, usr.ID)
	require.NoError(t, err)
	assert.Empty(t, pmts)
}

func TestLeave_keepsSeatCountByDefault(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "")

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	require.NoError(t, env.svc.Leave(ctx, usr.ID, billing.KindClass, res.Enrollment.ID))

	cls, err = env.schoolRepo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cls.CurrentCount)
}

func TestLeave_releasesSeatWhenConfigured(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.conf.Enroll.ReleaseSeatOnLeave = true
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "")

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	require.NoError(t, env.svc.Leave(ctx, usr.ID, billing.KindClass, res.Enrollment.ID))

	cls, err = env.schoolRepo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cls.CurrentCount)
}

func TestLeave_ownership(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	other := env.addUser(t, "baraka")
	parent := env.addUser(t, "mama")
	cls := env.addClass(t, 10, "")

	res, err := env.svc.InitiateCheckout(ctx, usr.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	err = env.svc.Leave(ctx, other.ID, billing.KindClass, res.Enrollment.ID)
	assert.Equal(t, enroll.ErrNotOwner, errors.Cause(err))

	env.approveGuardian(t, parent.ID, usr.ID)
	require.NoError(t, env.svc.Leave(ctx, parent.ID, billing.KindClass, res.Enrollment.ID))
}

func TestLeave_guardianCancelNotifiesStudent(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	emailsvc.ClearSentMessages()

	student := env.addUser(t, "amani")
	parent := env.addUser(t, "mama")
	env.approveGuardian(t, parent.ID, student.ID)
	cls := env.addClass(t, 10, "")

	res, err := env.svc.InitiateCheckout(ctx, student.ID, enroll.Target{ClassID: cls.ID}, "")
	require.NoError(t, err)

	require.Len(t, emailsvc.SentMessages, 1)
	assert.Equal(t, "Enrollment confirmed", emailsvc.SentMessages[0].Subject)

	require.NoError(t, env.svc.Leave(ctx, parent.ID, billing.KindClass, res.Enrollment.ID))

	require.Len(t, emailsvc.SentMessages, 2)
	msg := emailsvc.SentMessages[1]
	assert.Equal(t, "Enrollment cancelled", msg.Subject)
	require.Len(t, msg.To, 1)
	assert.Equal(t, student.Email, msg.To[0].Address)
}

func TestCancelStale(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	usr := env.addUser(t, "amani")
	cls := env.addClass(t, 10, "50")
	env.conf.Enroll.PendingTTL = time.Hour

	// a stale PENDING pair
	old := time.Now().UTC().Add(-2 * time.Hour)
	enr, err := env.repo.CreateEnrollment(ctx, enroll.Enrollment{
		ID:        uuid.New().String(),
		UserID:    usr.ID,
		ClassID:   cls.ID,
		Status:    enroll.StatusPending,
		CreatedAt: old,
		UpdatedAt: old,
	})
	require.NoError(t, err)
	pmt, err := env.pmtRepo.CreatePayment(ctx, billing.Payment{
		ID:           uuid.New().String(),
		UserID:       usr.ID,
		Amount:       decimal.NewFromInt(50),
		Status:       billing.StatusPending,
		Kind:         billing.KindClass,
		EnrollmentID: enr.ID,
		CreatedAt:    old,
		UpdatedAt:    old,
	})
	require.NoError(t, err)

	// a fresh PENDING pair on another class stays put
	cls2 := env.addClass(t, 10, "50")
	other := env.addUser(t, "baraka")
	fresh, err := env.svc.InitiateCheckout(ctx, other.ID, enroll.Target{ClassID: cls2.ID}, "")
	require.NoError(t, err)

	n, err := env.svc.CancelStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	enr, err = env.repo.GetEnrollmentByID(ctx, enr.ID)
	require.NoError(t, err)
	assert.Equal(t, enroll.StatusCancelled, enr.Status)
	pmt, err = env.pmtRepo.GetPaymentByID(ctx, pmt.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusExpired, pmt.Status)

	kept, err := env.repo.GetEnrollmentByID(ctx, fresh.Enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, enroll.StatusPending, kept.Status)
}
