package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/enroll"
	"github.com/trezcool/shule/core/school"
)

type paymentRepository struct {
	db *sqlx.DB
}

var _ billing.Repository = (*paymentRepository)(nil) // interface compliance check

func NewPaymentRepository(db *sqlx.DB) *paymentRepository {
	return &paymentRepository{db: db}
}

const paymentCols = `id, user_id, amount, status, kind, enrollment_id, registration_id,
					 external_session_id, created_at, updated_at`

// enrollment_id, registration_id and external_session_id are nullable; empty
// strings are stored as NULL so the kind CHECK and the session unique index
// see them as absent.
func scanPayment(row sqlx.ColScanner) (billing.Payment, error) {
	var pmt billing.Payment
	var enrollmentID, registrationID, sessionID sql.NullString
	err := row.Scan(
		&pmt.ID, &pmt.UserID, &pmt.Amount, &pmt.Status, &pmt.Kind,
		&enrollmentID, &registrationID, &sessionID, &pmt.CreatedAt, &pmt.UpdatedAt,
	)
	pmt.EnrollmentID = enrollmentID.String
	pmt.RegistrationID = registrationID.String
	pmt.ExternalSessionID = sessionID.String
	return pmt, err
}

func (repo *paymentRepository) CreatePayment(ctx context.Context, pmt billing.Payment) (billing.Payment, error) {
	query := `INSERT INTO payment (` + paymentCols + `)
			  VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)`
	_, err := repo.db.ExecContext(
		ctx, query,
		pmt.ID, pmt.UserID, pmt.Amount, pmt.Status, pmt.Kind,
		pmt.EnrollmentID, pmt.RegistrationID, pmt.ExternalSessionID, pmt.CreatedAt, pmt.UpdatedAt,
	)
	if err != nil {
		return billing.Payment{}, errors.Wrap(err, "inserting payment")
	}
	return pmt, nil
}

func (repo *paymentRepository) GetPaymentByID(ctx context.Context, id string) (billing.Payment, error) {
	row := repo.db.QueryRowxContext(ctx, `SELECT `+paymentCols+` FROM payment WHERE id = $1`, id)
	pmt, err := scanPayment(row)
	if errors.Cause(err) == sql.ErrNoRows {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	return pmt, errors.Wrap(err, "getting payment by id")
}

func (repo *paymentRepository) GetPendingByOwner(ctx context.Context, kind, ownerID string) (billing.Payment, error) {
	ownerCol := "enrollment_id"
	if kind == billing.KindEvent {
		ownerCol = "registration_id"
	}
	query := `SELECT ` + paymentCols + ` FROM payment
			  WHERE kind = $1 AND ` + ownerCol + ` = $2 AND status = $3`
	row := repo.db.QueryRowxContext(ctx, query, kind, ownerID, billing.StatusPending)
	pmt, err := scanPayment(row)
	if errors.Cause(err) == sql.ErrNoRows {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	return pmt, errors.Wrap(err, "getting pending payment by owner")
}

func (repo *paymentRepository) GetPendingBySessionID(ctx context.Context, sessionID string) (billing.Payment, error) {
	query := `SELECT ` + paymentCols + ` FROM payment
			  WHERE external_session_id = $1 AND status = $2`
	row := repo.db.QueryRowxContext(ctx, query, sessionID, billing.StatusPending)
	pmt, err := scanPayment(row)
	if errors.Cause(err) == sql.ErrNoRows {
		return billing.Payment{}, billing.ErrPaymentNotFound
	}
	return pmt, errors.Wrap(err, "getting pending payment by session")
}

func (repo *paymentRepository) SetSessionID(ctx context.Context, paymentID, sessionID string) error {
	query := `UPDATE payment SET external_session_id = $2, updated_at = now() WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, paymentID, sessionID)
	if err != nil {
		return errors.Wrap(err, "setting payment session id")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

func (repo *paymentRepository) QueryPaymentsByUser(ctx context.Context, userID string) ([]billing.Payment, error) {
	query := `SELECT ` + paymentCols + ` FROM payment WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := repo.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		pmt, err := scanPayment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning payment")
		}
		payments = append(payments, pmt)
	}
	return payments, rows.Err()
}

func (repo *paymentRepository) DeletePayment(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM payment WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting payment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

func (repo *paymentRepository) DeletePaymentsByOwner(ctx context.Context, kind, ownerID string) error {
	ownerCol := "enrollment_id"
	if kind == billing.KindEvent {
		ownerCol = "registration_id"
	}
	query := `DELETE FROM payment WHERE kind = $1 AND ` + ownerCol + ` = $2`
	_, err := repo.db.ExecContext(ctx, query, kind, ownerID)
	return errors.Wrap(err, "deleting payments by owner")
}

func (repo *paymentRepository) ExpirePayment(ctx context.Context, id string) error {
	query := `UPDATE payment SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`
	res, err := repo.db.ExecContext(ctx, query, id, billing.StatusExpired, billing.StatusPending)
	if err != nil {
		return errors.Wrap(err, "expiring payment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrPaymentNotFound
	}
	return nil
}

func (repo *paymentRepository) CompleteCheckout(ctx context.Context, sessionID string, amount decimal.Decimal) (billing.Payment, error) {
	var pmt billing.Payment
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		query := `UPDATE payment SET status = $2, amount = $3, updated_at = now()
				  WHERE external_session_id = $1 AND status = $4
				  RETURNING ` + paymentCols
		row := tx.QueryRowxContext(ctx, query, sessionID, billing.StatusCompleted, amount, billing.StatusPending)
		var err error
		if pmt, err = scanPayment(row); err != nil {
			if errors.Cause(err) == sql.ErrNoRows {
				return billing.ErrPaymentNotFound
			}
			return errors.Wrap(err, "completing payment")
		}

		if pmt.Kind == billing.KindClass {
			var classID string
			query = `UPDATE enrollment SET status = $2, updated_at = now()
					 WHERE id = $1 RETURNING class_id`
			if err = tx.GetContext(ctx, &classID, query, pmt.EnrollmentID, enroll.StatusConfirmed); err != nil {
				return errors.Wrap(err, "confirming enrollment")
			}
			return incrementCount(ctx, tx, "class", classID, school.ErrClassNotFound)
		}
		var eventID string
		query = `UPDATE event_registration SET status = $2, updated_at = now()
				 WHERE id = $1 RETURNING event_id`
		if err = tx.GetContext(ctx, &eventID, query, pmt.RegistrationID, enroll.StatusConfirmed); err != nil {
			return errors.Wrap(err, "confirming registration")
		}
		return incrementCount(ctx, tx, "event", eventID, school.ErrEventNotFound)
	})
	if err != nil {
		return billing.Payment{}, err
	}
	return pmt, nil
}

func (repo *paymentRepository) ExpireCheckout(ctx context.Context, sessionID string) (billing.Payment, error) {
	var pmt billing.Payment
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		query := `UPDATE payment SET status = $2, updated_at = now()
				  WHERE external_session_id = $1 AND status = $3
				  RETURNING ` + paymentCols
		row := tx.QueryRowxContext(ctx, query, sessionID, billing.StatusExpired, billing.StatusPending)
		var err error
		if pmt, err = scanPayment(row); err != nil {
			if errors.Cause(err) == sql.ErrNoRows {
				return billing.ErrPaymentNotFound
			}
			return errors.Wrap(err, "expiring payment")
		}

		table, ownerID := "enrollment", pmt.EnrollmentID
		if pmt.Kind == billing.KindEvent {
			table, ownerID = "event_registration", pmt.RegistrationID
		}
		query = `UPDATE ` + table + ` SET status = $2, updated_at = now() WHERE id = $1`
		_, err = tx.ExecContext(ctx, query, ownerID, enroll.StatusCancelled)
		return errors.Wrapf(err, "cancelling %s", table)
	})
	if err != nil {
		return billing.Payment{}, err
	}
	return pmt, nil
}
