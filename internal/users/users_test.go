package users

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/db"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*UserService, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewUserService(db.Wrap(sqlDB), metrics.NewNoop()), mock
}

func TestCreateUser_NormalizesEmail(t *testing.T) {
	svc, mock := newService(t)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "asha@example.com", "Asha", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := svc.CreateUser(context.Background(), "  Asha@Example.com ", "Asha")
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", user.Email)
	assert.Len(t, user.ID, 36)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_RejectsBadEmail(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.CreateUser(context.Background(), "not-an-email", "x")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCreateUser_Duplicate(t *testing.T) {
	svc, mock := newService(t)
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	_, err := svc.CreateUser(context.Background(), "a@b.io", "")
	assert.Equal(t, apperr.CodeUserExists, apperr.CodeOf(err))
}

func TestGetUser(t *testing.T) {
	svc, mock := newService(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, email, name, created_at FROM users WHERE id = ?").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "created_at"}).
			AddRow("u-1", "a@b.io", "A", created))

	user, err := svc.GetUser(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.io", user.Email)
	assert.Equal(t, created, user.CreatedAt)
}

func TestGetUser_NotFound(t *testing.T) {
	svc, mock := newService(t)
	mock.ExpectQuery("FROM users WHERE email").WillReturnError(sql.ErrNoRows)

	_, err := svc.GetUserByEmail(context.Background(), "ghost@b.io")
	assert.Equal(t, apperr.CodeUserNotFound, apperr.CodeOf(err))
}
