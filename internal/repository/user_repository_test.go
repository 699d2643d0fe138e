package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-studio-api/internal/models"
	"github.com/noah-isme/lms-studio-api/pkg/database"
)

var userRowColumns = []string{"id", "username", "email", "password_hash", "first_name", "last_name", "name", "gender", "is_active", "created_at", "updated_at"}

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestFindByUID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow(7, "jdoe", "jdoe@example.com", "hash", "John", "Doe", "John Doe", "o", true, now, now)
	mock.ExpectQuery("FROM users u\\s+JOIN social_auth_usersocialauth s").
		WithArgs("uid-1").
		WillReturnRows(rows)

	user, err := repo.FindByUID(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "jdoe", user.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByUIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users u").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByUID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConflictingFields(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("SELECT\\s+COALESCE\\(BOOL_OR").
		WithArgs("jdoe@example.com", "jdoe", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"email_taken", "username_taken"}).AddRow(true, true))

	fields, err := repo.ConflictingFields(context.Background(), "jdoe@example.com", "jdoe", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "username"}, fields)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUIDExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM social_auth_usersocialauth WHERE uid = $1)")).
		WithArgs("uid-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.UIDExists(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithSocialAuth(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery("INSERT INTO social_auth_usersocialauth").
		WithArgs(int64(11), "oa2-default", "uid-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectCommit()

	user := &models.User{Username: "jdoe", Email: "jdoe@example.com", IsActive: true}
	link := &models.SocialAuth{Provider: "oa2-default", UID: "uid-1"}
	require.NoError(t, repo.CreateWithSocialAuth(context.Background(), user, link))
	assert.Equal(t, int64(11), user.ID)
	assert.Equal(t, int64(11), link.UserID)
	assert.Equal(t, int64(5), link.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithSocialAuthRollsBackOnUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery("INSERT INTO social_auth_usersocialauth").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.CreateWithSocialAuth(context.Background(), &models.User{}, &models.SocialAuth{UID: "dup"})
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("UPDATE users SET username").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), &models.User{ID: 1, Username: "jdoe"}))

	mock.ExpectExec("UPDATE users SET username").WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), &models.User{ID: 2})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.AuditLog{Action: "account_create", Resource: "account"}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "ACCOUNT_CREATE", entry.Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}
