package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

// prepareDB connects to the configured Postgres instance and migrates a test
// database; tests are skipped when no instance is reachable.
func prepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	conf := core.NewConfig()
	conf.Database.Name = conf.Database.Name + "_test"

	if err := database.CreateIfNotExist(conf); err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	db, err := database.Open(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if err = db.Ping(); err != nil {
		t.Skipf("database unavailable: %v", err)
	}
	require.NoError(t, database.Migrate(db.DB))
	return db
}

func addTeacher(t *testing.T, db *sqlx.DB) user.User {
	t.Helper()

	now := time.Now().UTC()
	uname := "teacher_" + uuid.New().String()[:8]
	usr := user.User{
		ID:        uuid.New().String(),
		Name:      "Mwalimu",
		Username:  uname,
		Email:     uname + "@test.cd",
		IsActive:  true,
		Roles:     []string{user.RoleTeacher},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, usr.SetPassword("LokumaNaTango22"))
	usr, err := sqlxrepos.NewUserRepository(db).CreateUser(context.Background(), usr)
	require.NoError(t, err)
	return usr
}

func TestSchoolRepository_classWithoutTeacher(t *testing.T) {
	db := prepareDB(t)
	ctx := context.Background()
	repo := sqlxrepos.NewSchoolRepository(db)

	now := time.Now().UTC()
	cls, err := repo.CreateClass(ctx, school.Class{
		ID:        uuid.New().String(),
		Name:      "Algebra II",
		Capacity:  10,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	got, err := repo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TeacherID)
	assert.Equal(t, cls.Name, got.Name)
}

func TestSchoolRepository_teacherRowDeleted(t *testing.T) {
	db := prepareDB(t)
	ctx := context.Background()
	repo := sqlxrepos.NewSchoolRepository(db)
	teacher := addTeacher(t, db)

	now := time.Now().UTC()
	cls, err := repo.CreateClass(ctx, school.Class{
		ID:        uuid.New().String(),
		Name:      "Geography",
		TeacherID: teacher.ID,
		Capacity:  10,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	got, err := repo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, got.TeacherID)

	// the FK sets teacher_id to NULL; reads must keep working
	_, err = db.ExecContext(ctx, `DELETE FROM "user" WHERE id = $1`, teacher.ID)
	require.NoError(t, err)

	got, err = repo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TeacherID)

	classes, err := repo.QueryAllClasses(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, classes)
}

func TestSchoolRepository_updateClearsTeacher(t *testing.T) {
	db := prepareDB(t)
	ctx := context.Background()
	repo := sqlxrepos.NewSchoolRepository(db)
	teacher := addTeacher(t, db)

	now := time.Now().UTC()
	cls, err := repo.CreateClass(ctx, school.Class{
		ID:        uuid.New().String(),
		Name:      "History",
		TeacherID: teacher.ID,
		Capacity:  10,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)

	cls.TeacherID = ""
	cls.UpdatedAt = time.Now().UTC()
	_, err = repo.UpdateClass(ctx, cls)
	require.NoError(t, err)

	got, err := repo.GetClassByID(ctx, cls.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TeacherID)
}
