package dummydb

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/enroll"
)

type paymentRepository struct {
	db *DB
}

var _ billing.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *DB) billing.Repository {
	return &paymentRepository{db: db}
}

// pendingBySession expects the caller to hold at least the read lock.
func pendingBySession(db *DB, sessionID string) *billing.Payment {
	if sessionID == "" {
		return nil
	}
	for _, pmt := range db.payments {
		if pmt.ExternalSessionID == sessionID && pmt.Status == billing.StatusPending {
			return pmt
		}
	}
	return nil
}

func (repo *paymentRepository) CreatePayment(_ context.Context, pmt billing.Payment) (billing.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.payments[pmt.ID] = &pmt
	return pmt, nil
}

func (repo *paymentRepository) GetPaymentByID(_ context.Context, id string) (billing.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if pmt, ok := repo.db.payments[id]; ok {
		return *pmt, nil
	}
	return billing.Payment{}, billing.ErrPaymentNotFound
}

func (repo *paymentRepository) GetPendingByOwner(_ context.Context, kind, ownerID string) (billing.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, pmt := range repo.db.payments {
		if pmt.Kind == kind && pmt.OwnerID() == ownerID && pmt.Status == billing.StatusPending {
			return *pmt, nil
		}
	}
	return billing.Payment{}, billing.ErrPaymentNotFound
}

func (repo *paymentRepository) GetPendingBySessionID(_ context.Context, sessionID string) (billing.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if pmt := pendingBySession(repo.db, sessionID); pmt != nil {
		return *pmt, nil
	}
	return billing.Payment{}, billing.ErrPaymentNotFound
}

func (repo *paymentRepository) SetSessionID(_ context.Context, paymentID, sessionID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	pmt, ok := repo.db.payments[paymentID]
	if !ok {
		return billing.ErrPaymentNotFound
	}
	pmt.ExternalSessionID = sessionID
	pmt.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *paymentRepository) QueryPaymentsByUser(_ context.Context, userID string) ([]billing.Payment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var payments []billing.Payment
	for _, pmt := range repo.db.payments {
		if pmt.UserID == userID {
			payments = append(payments, *pmt)
		}
	}
	return payments, nil
}

func (repo *paymentRepository) DeletePayment(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.payments[id]; !ok {
		return billing.ErrPaymentNotFound
	}
	delete(repo.db.payments, id)
	return nil
}

func (repo *paymentRepository) DeletePaymentsByOwner(_ context.Context, kind, ownerID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for id, pmt := range repo.db.payments {
		if pmt.Kind == kind && pmt.OwnerID() == ownerID {
			delete(repo.db.payments, id)
		}
	}
	return nil
}

func (repo *paymentRepository) ExpirePayment(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	pmt, ok := repo.db.payments[id]
	if !ok || pmt.Status != billing.StatusPending {
		return billing.ErrPaymentNotFound
	}
	pmt.Status = billing.StatusExpired
	pmt.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *paymentRepository) CompleteCheckout(_ context.Context, sessionID string, amount decimal.Decimal) (billing.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	pmt := pendingBySession(repo.db, sessionID)
	if pmt == nil {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}

	now := time.Now().UTC()
	if pmt.Kind == billing.KindClass {
		e, ok := repo.db.enrollments[pmt.EnrollmentID]
		if !ok {
			return billing.Payment{}, enroll.ErrNotFound
		}
		if err := incrementClassCount(repo.db, e.ClassID); err != nil {
			return billing.Payment{}, err
		}
		e.Status = enroll.StatusConfirmed
		e.UpdatedAt = now
	} else {
		r, ok := repo.db.registrations[pmt.RegistrationID]
		if !ok {
			return billing.Payment{}, enroll.ErrNotFound
		}
		if err := incrementEventCount(repo.db, r.EventID); err != nil {
			return billing.Payment{}, err
		}
		r.Status = enroll.StatusConfirmed
		r.UpdatedAt = now
	}

	pmt.Status = billing.StatusCompleted
	pmt.Amount = amount
	pmt.UpdatedAt = now
	return *pmt, nil
}

func (repo *paymentRepository) ExpireCheckout(_ context.Context, sessionID string) (billing.Payment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	pmt := pendingBySession(repo.db, sessionID)
	if pmt == nil {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}

	now := time.Now().UTC()
	if pmt.Kind == billing.KindClass {
		if e, ok := repo.db.enrollments[pmt.EnrollmentID]; ok {
			e.Status = enroll.StatusCancelled
			e.UpdatedAt = now
		}
	} else {
		if r, ok := repo.db.registrations[pmt.RegistrationID]; ok {
			r.Status = enroll.StatusCancelled
			r.UpdatedAt = now
		}
	}

	pmt.Status = billing.StatusExpired
	pmt.UpdatedAt = now
	return *pmt, nil
}
