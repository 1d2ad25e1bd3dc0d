package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/user"
)

const uniqueViolation = "23505"

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

const userCols = `id, name, username, email, is_active, roles, password_hash, created_at, updated_at, last_login`

func scanUser(row sqlx.ColScanner) (user.User, error) {
	var usr user.User
	var roles pq.StringArray
	err := row.Scan(
		&usr.ID, &usr.Name, &usr.Username, &usr.Email, &usr.IsActive,
		&roles, &usr.PasswordHash, &usr.CreatedAt, &usr.UpdatedAt, &usr.LastLogin,
	)
	usr.Roles = roles
	return usr, err
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	query := `INSERT INTO "user" (` + userCols + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := repo.db.ExecContext(
		ctx, query,
		usr.ID, usr.Name, usr.Username, usr.Email, usr.IsActive,
		pq.Array(usr.Roles), usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt, usr.LastLogin,
	)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if strings.Contains(pgErr.Constraint, "email") {
				return user.User{}, user.ErrEmailExists
			}
			return user.User{}, user.ErrUsernameExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	row := repo.db.QueryRowxContext(ctx, `SELECT `+userCols+` FROM "user" WHERE id = $1`, id)
	usr, err := scanUser(row)
	if errors.Cause(err) == sql.ErrNoRows {
		return user.User{}, user.ErrNotFound
	}
	return usr, errors.Wrap(err, "getting user by id")
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, uname string) (user.User, error) {
	query := `SELECT ` + userCols + ` FROM "user" WHERE username = $1 OR email = $1`
	row := repo.db.QueryRowxContext(ctx, query, uname)
	usr, err := scanUser(row)
	if errors.Cause(err) == sql.ErrNoRows {
		return user.User{}, user.ErrNotFound
	}
	return usr, errors.Wrap(err, "getting user by username or email")
}

func (repo *userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	rows, err := repo.db.QueryxContext(ctx, `SELECT `+userCols+` FROM "user" ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		usr, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning user")
		}
		users = append(users, usr)
	}
	return users, rows.Err()
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	query := `UPDATE "user"
			  SET name = $2, username = $3, email = $4, is_active = $5, roles = $6,
			      password_hash = $7, updated_at = $8, last_login = $9
			  WHERE id = $1`
	res, err := repo.db.ExecContext(
		ctx, query,
		usr.ID, usr.Name, usr.Username, usr.Email, usr.IsActive,
		pq.Array(usr.Roles), usr.PasswordHash, usr.UpdatedAt, usr.LastLogin,
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) CreateGuardianship(ctx context.Context, g user.Guardianship) (user.Guardianship, error) {
	query := `INSERT INTO guardianship (id, parent_id, student_id, status, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := repo.db.ExecContext(ctx, query, g.ID, g.ParentID, g.StudentID, g.Status, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return user.Guardianship{}, user.ErrGuardianshipExists
		}
		return user.Guardianship{}, errors.Wrap(err, "inserting guardianship")
	}
	return g, nil
}

func (repo *userRepository) SetGuardianshipStatus(ctx context.Context, id, status string) error {
	res, err := repo.db.ExecContext(
		ctx, `UPDATE guardianship SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return errors.Wrap(err, "updating guardianship")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrGuardianshipNotFound
	}
	return nil
}

func (repo *userRepository) GuardianshipApproved(ctx context.Context, parentID, studentID string) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (
				  SELECT 1 FROM guardianship
				  WHERE parent_id = $1 AND student_id = $2 AND status = $3
			  )`
	err := repo.db.GetContext(ctx, &ok, query, parentID, studentID, user.GuardianshipApproved)
	return ok, errors.Wrap(err, "checking guardianship")
}
