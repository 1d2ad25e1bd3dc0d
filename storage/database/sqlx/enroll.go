package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/enroll"
	"github.com/trezcool/shule/core/school"
)

type enrollRepository struct {
	db *sqlx.DB
}

var _ enroll.Repository = (*enrollRepository)(nil) // interface compliance check

func NewEnrollRepository(db *sqlx.DB) *enrollRepository {
	return &enrollRepository{db: db}
}

func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning tx")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing tx")
}

func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ------------------------------------------------------------------
// Enrollments

const enrollmentCols = `id, user_id, class_id, status, created_at, updated_at`

func (repo *enrollRepository) CreateEnrollment(ctx context.Context, e enroll.Enrollment) (enroll.Enrollment, error) {
	query := `INSERT INTO enrollment (` + enrollmentCols + `)
			  VALUES (:id, :user_id, :class_id, :status, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, query, e); err != nil {
		if isUniqueViolation(err) {
			return enroll.Enrollment{}, enroll.ErrAlreadyEnrolled
		}
		return enroll.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return e, nil
}

func (repo *enrollRepository) CreateEnrollmentConfirmed(ctx context.Context, e enroll.Enrollment) (enroll.Enrollment, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		query := `INSERT INTO enrollment (` + enrollmentCols + `)
				  VALUES (:id, :user_id, :class_id, :status, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, e); err != nil {
			if isUniqueViolation(err) {
				return enroll.ErrAlreadyEnrolled
			}
			return errors.Wrap(err, "inserting enrollment")
		}
		return incrementCount(ctx, tx, "class", e.ClassID, school.ErrClassNotFound)
	})
	if err != nil {
		return enroll.Enrollment{}, err
	}
	return e, nil
}

func (repo *enrollRepository) PromoteEnrollment(ctx context.Context, id, to string) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var classID string
		query := `UPDATE enrollment SET status = $2, updated_at = now()
				  WHERE id = $1 AND status = $3
				  RETURNING class_id`
		err := tx.GetContext(ctx, &classID, query, id, to, enroll.StatusPending)
		if errors.Cause(err) == sql.ErrNoRows {
			return enroll.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "promoting enrollment")
		}
		return incrementCount(ctx, tx, "class", classID, school.ErrClassNotFound)
	})
}

func (repo *enrollRepository) GetEnrollmentByID(ctx context.Context, id string) (enroll.Enrollment, error) {
	var e enroll.Enrollment
	err := repo.db.GetContext(ctx, &e, `SELECT `+enrollmentCols+` FROM enrollment WHERE id = $1`, id)
	if errors.Cause(err) == sql.ErrNoRows {
		return enroll.Enrollment{}, enroll.ErrNotFound
	}
	return e, errors.Wrap(err, "getting enrollment by id")
}

func (repo *enrollRepository) GetActiveEnrollment(ctx context.Context, userID, classID string) (enroll.Enrollment, error) {
	var e enroll.Enrollment
	query := `SELECT ` + enrollmentCols + ` FROM enrollment
			  WHERE user_id = $1 AND class_id = $2 AND status <> $3`
	err := repo.db.GetContext(ctx, &e, query, userID, classID, enroll.StatusCancelled)
	if errors.Cause(err) == sql.ErrNoRows {
		return enroll.Enrollment{}, enroll.ErrNotFound
	}
	return e, errors.Wrap(err, "getting active enrollment")
}

func (repo *enrollRepository) QueryEnrollmentsByUser(ctx context.Context, userID string) ([]enroll.Enrollment, error) {
	var enrollments []enroll.Enrollment
	query := `SELECT ` + enrollmentCols + ` FROM enrollment WHERE user_id = $1 ORDER BY created_at DESC`
	err := repo.db.SelectContext(ctx, &enrollments, query, userID)
	return enrollments, errors.Wrap(err, "querying enrollments")
}

func (repo *enrollRepository) DeleteEnrollment(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM enrollment WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enroll.ErrNotFound
	}
	return nil
}

func (repo *enrollRepository) CancelStalePendingEnrollments(ctx context.Context, cutoff time.Time) ([]enroll.Enrollment, error) {
	query := `UPDATE enrollment SET status = $1, updated_at = now()
			  WHERE status = $2 AND created_at < $3
			  RETURNING ` + enrollmentCols
	rows, err := repo.db.QueryxContext(ctx, query, enroll.StatusCancelled, enroll.StatusPending, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "cancelling stale enrollments")
	}
	defer rows.Close()

	var cancelled []enroll.Enrollment
	for rows.Next() {
		var e enroll.Enrollment
		if err = rows.StructScan(&e); err != nil {
			return nil, errors.Wrap(err, "scanning enrollment")
		}
		cancelled = append(cancelled, e)
	}
	return cancelled, rows.Err()
}

// ------------------------------------------------------------------
// Event registrations

const registrationCols = `id, user_id, event_id, status, created_at, updated_at`

func (repo *enrollRepository) CreateRegistration(ctx context.Context, r enroll.EventRegistration) (enroll.EventRegistration, error) {
	query := `INSERT INTO event_registration (` + registrationCols + `)
			  VALUES (:id, :user_id, :event_id, :status, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, query, r); err != nil {
		if isUniqueViolation(err) {
			return enroll.EventRegistration{}, enroll.ErrAlreadyEnrolled
		}
		return enroll.EventRegistration{}, errors.Wrap(err, "inserting registration")
	}
	return r, nil
}

func (repo *enrollRepository) CreateRegistrationConfirmed(ctx context.Context, r enroll.EventRegistration) (enroll.EventRegistration, error) {
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		query := `INSERT INTO event_registration (` + registrationCols + `)
				  VALUES (:id, :user_id, :event_id, :status, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, r); err != nil {
			if isUniqueViolation(err) {
				return enroll.ErrAlreadyEnrolled
			}
			return errors.Wrap(err, "inserting registration")
		}
		return incrementCount(ctx, tx, "event", r.EventID, school.ErrEventNotFound)
	})
	if err != nil {
		return enroll.EventRegistration{}, err
	}
	return r, nil
}

func (repo *enrollRepository) PromoteRegistration(ctx context.Context, id, to string) error {
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var eventID string
		query := `UPDATE event_registration SET status = $2, updated_at = now()
				  WHERE id = $1 AND status = $3
				  RETURNING event_id`
		err := tx.GetContext(ctx, &eventID, query, id, to, enroll.StatusPending)
		if errors.Cause(err) == sql.ErrNoRows {
			return enroll.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "promoting registration")
		}
		return incrementCount(ctx, tx, "event", eventID, school.ErrEventNotFound)
	})
}

func (repo *enrollRepository) GetRegistrationByID(ctx context.Context, id string) (enroll.EventRegistration, error) {
	var r enroll.EventRegistration
	err := repo.db.GetContext(ctx, &r, `SELECT `+registrationCols+` FROM event_registration WHERE id = $1`, id)
	if errors.Cause(err) == sql.ErrNoRows {
		return enroll.EventRegistration{}, enroll.ErrNotFound
	}
	return r, errors.Wrap(err, "getting registration by id")
}

func (repo *enrollRepository) GetActiveRegistration(ctx context.Context, userID, eventID string) (enroll.EventRegistration, error) {
	var r enroll.EventRegistration
	query := `SELECT ` + registrationCols + ` FROM event_registration
			  WHERE user_id = $1 AND event_id = $2 AND status <> $3`
	err := repo.db.GetContext(ctx, &r, query, userID, eventID, enroll.StatusCancelled)
	if errors.Cause(err) == sql.ErrNoRows {
		return enroll.EventRegistration{}, enroll.ErrNotFound
	}
	return r, errors.Wrap(err, "getting active registration")
}

func (repo *enrollRepository) QueryRegistrationsByUser(ctx context.Context, userID string) ([]enroll.EventRegistration, error) {
	var regs []enroll.EventRegistration
	query := `SELECT ` + registrationCols + ` FROM event_registration WHERE user_id = $1 ORDER BY created_at DESC`
	err := repo.db.SelectContext(ctx, &regs, query, userID)
	return regs, errors.Wrap(err, "querying registrations")
}

func (repo *enrollRepository) DeleteRegistration(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM event_registration WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting registration")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return enroll.ErrNotFound
	}
	return nil
}

func (repo *enrollRepository) CancelStalePendingRegistrations(ctx context.Context, cutoff time.Time) ([]enroll.EventRegistration, error) {
	query := `UPDATE event_registration SET status = $1, updated_at = now()
			  WHERE status = $2 AND created_at < $3
			  RETURNING ` + registrationCols
	rows, err := repo.db.QueryxContext(ctx, query, enroll.StatusCancelled, enroll.StatusPending, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "cancelling stale registrations")
	}
	defer rows.Close()

	var cancelled []enroll.EventRegistration
	for rows.Next() {
		var r enroll.EventRegistration
		if err = rows.StructScan(&r); err != nil {
			return nil, errors.Wrap(err, "scanning registration")
		}
		cancelled = append(cancelled, r)
	}
	return cancelled, rows.Err()
}
