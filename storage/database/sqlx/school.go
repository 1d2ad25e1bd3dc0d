package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/school"
)

type schoolRepository struct {
	db *sqlx.DB
}

var _ school.Repository = (*schoolRepository)(nil) // interface compliance check

func NewSchoolRepository(db *sqlx.DB) *schoolRepository {
	return &schoolRepository{db: db}
}

const classCols = `id, name, description, teacher_id, capacity, current_count,
				   price, external_price_ref, is_active, created_at, updated_at`

// teacher_id is a nullable uuid (the FK sets it to NULL when the teacher row
// goes away); empty strings are stored as NULL and NULLs scan back as empty.
func scanClass(row sqlx.ColScanner) (school.Class, error) {
	var c school.Class
	var teacherID sql.NullString
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &teacherID, &c.Capacity, &c.CurrentCount,
		&c.Price, &c.ExternalPriceRef, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	c.TeacherID = teacherID.String
	return c, err
}

func (repo *schoolRepository) CreateClass(ctx context.Context, c school.Class) (school.Class, error) {
	query := `INSERT INTO class (` + classCols + `)
			  VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11)`
	_, err := repo.db.ExecContext(
		ctx, query,
		c.ID, c.Name, c.Description, c.TeacherID, c.Capacity, c.CurrentCount,
		c.Price, c.ExternalPriceRef, c.IsActive, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return school.Class{}, errors.Wrap(err, "inserting class")
	}
	return c, nil
}

func (repo *schoolRepository) GetClassByID(ctx context.Context, id string) (school.Class, error) {
	row := repo.db.QueryRowxContext(ctx, `SELECT `+classCols+` FROM class WHERE id = $1`, id)
	c, err := scanClass(row)
	if errors.Cause(err) == sql.ErrNoRows {
		return school.Class{}, school.ErrClassNotFound
	}
	return c, errors.Wrap(err, "getting class by id")
}

func (repo *schoolRepository) QueryAllClasses(ctx context.Context) ([]school.Class, error) {
	rows, err := repo.db.QueryxContext(ctx, `SELECT `+classCols+` FROM class ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	defer rows.Close()

	var classes []school.Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning class")
		}
		classes = append(classes, c)
	}
	return classes, errors.Wrap(rows.Err(), "querying classes")
}

func (repo *schoolRepository) UpdateClass(ctx context.Context, c school.Class) (school.Class, error) {
	query := `UPDATE class
			  SET name = $2, description = $3, teacher_id = NULLIF($4, ''),
			      capacity = $5, price = $6, external_price_ref = $7,
			      is_active = $8, updated_at = $9
			  WHERE id = $1`
	res, err := repo.db.ExecContext(
		ctx, query,
		c.ID, c.Name, c.Description, c.TeacherID, c.Capacity,
		c.Price, c.ExternalPriceRef, c.IsActive, c.UpdatedAt,
	)
	if err != nil {
		return school.Class{}, errors.Wrap(err, "updating class")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return school.Class{}, school.ErrClassNotFound
	}
	return c, nil
}

func (repo *schoolRepository) IncrementClassCount(ctx context.Context, id string) error {
	return incrementCount(ctx, repo.db, "class", id, school.ErrClassNotFound)
}

func (repo *schoolRepository) DecrementClassCount(ctx context.Context, id string) error {
	return decrementCount(ctx, repo.db, "class", id, school.ErrClassNotFound)
}

const eventCols = `id, name, description, capacity, current_count,
				   price, external_price_ref, is_active, starts_at, created_at, updated_at`

func (repo *schoolRepository) CreateEvent(ctx context.Context, e school.Event) (school.Event, error) {
	query := `INSERT INTO event (` + eventCols + `)
			  VALUES (:id, :name, :description, :capacity, :current_count,
					  :price, :external_price_ref, :is_active, :starts_at, :created_at, :updated_at)`
	if _, err := repo.db.NamedExecContext(ctx, query, e); err != nil {
		return school.Event{}, errors.Wrap(err, "inserting event")
	}
	return e, nil
}

func (repo *schoolRepository) GetEventByID(ctx context.Context, id string) (school.Event, error) {
	var e school.Event
	err := repo.db.GetContext(ctx, &e, `SELECT `+eventCols+` FROM event WHERE id = $1`, id)
	if errors.Cause(err) == sql.ErrNoRows {
		return school.Event{}, school.ErrEventNotFound
	}
	return e, errors.Wrap(err, "getting event by id")
}

func (repo *schoolRepository) QueryAllEvents(ctx context.Context) ([]school.Event, error) {
	var events []school.Event
	err := repo.db.SelectContext(ctx, &events, `SELECT `+eventCols+` FROM event ORDER BY starts_at`)
	return events, errors.Wrap(err, "querying events")
}

func (repo *schoolRepository) UpdateEvent(ctx context.Context, e school.Event) (school.Event, error) {
	query := `UPDATE event
			  SET name = :name, description = :description, capacity = :capacity,
			      price = :price, external_price_ref = :external_price_ref,
			      is_active = :is_active, starts_at = :starts_at, updated_at = :updated_at
			  WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, query, e)
	if err != nil {
		return school.Event{}, errors.Wrap(err, "updating event")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return school.Event{}, school.ErrEventNotFound
	}
	return e, nil
}

func (repo *schoolRepository) IncrementEventCount(ctx context.Context, id string) error {
	return incrementCount(ctx, repo.db, "event", id, school.ErrEventNotFound)
}

func (repo *schoolRepository) DecrementEventCount(ctx context.Context, id string) error {
	return decrementCount(ctx, repo.db, "event", id, school.ErrEventNotFound)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// incrementCount bumps current_count only while it is below capacity; the
// guard in the WHERE clause is what keeps concurrent claims from overbooking.
func incrementCount(ctx context.Context, db execer, table, id string, notFound error) error {
	query := `UPDATE ` + table + `
			  SET current_count = current_count + 1, updated_at = now()
			  WHERE id = $1 AND current_count < capacity`
	res, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrapf(err, "incrementing %s count", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		query = `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
		if err = db.GetContext(ctx, &exists, query, id); err != nil {
			return errors.Wrapf(err, "checking %s existence", table)
		}
		if !exists {
			return notFound
		}
		return school.ErrFull
	}
	return nil
}

func decrementCount(ctx context.Context, db execer, table, id string, notFound error) error {
	query := `UPDATE ` + table + `
			  SET current_count = current_count - 1, updated_at = now()
			  WHERE id = $1 AND current_count > 0`
	res, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrapf(err, "decrementing %s count", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		query = `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
		if err = db.GetContext(ctx, &exists, query, id); err != nil {
			return errors.Wrapf(err, "checking %s existence", table)
		}
		if !exists {
			return notFound
		}
	}
	return nil
}
