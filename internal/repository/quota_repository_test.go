package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuotaMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestQuotaFindAbsentReturnsNil(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	bucket := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM monthly_quota WHERE student_id = $1 AND month_bucket = $2")).
		WithArgs("stu-1", bucket).
		WillReturnRows(sqlmock.NewRows([]string{"quota_id"}))

	quota, err := repo.Find(context.Background(), nil, "stu-1", bucket)
	require.NoError(t, err)
	assert.Nil(t, quota)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaIncrementSentGuarded(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE monthly_quota\nSET credits_sent = credits_sent + $1, updated_at = $2\nWHERE quota_id = $3 AND credits_sent + $1 <= send_limit + carry_forward_credits")).
		WithArgs(10, sqlmock.AnyArg(), "quota-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.IncrementSent(context.Background(), nil, "quota-1", 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaIncrementSentRejectedByGuard(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE monthly_quota")).
		WithArgs(200, sqlmock.AnyArg(), "quota-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.IncrementSent(context.Background(), nil, "quota-1", 200)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuotaApplyCarryForwardOnce(t *testing.T) {
	db, mock, cleanup := newQuotaMock(t)
	defer cleanup()
	repo := NewQuotaRepository(db)

	resetAt := time.Date(2025, 3, 1, 0, 5, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("SET carry_forward_credits = $1, carry_forward_applied = TRUE, reset_at = $2, updated_at = $2\nWHERE quota_id = $3 AND carry_forward_applied = FALSE")).
		WithArgs(30, resetAt, "quota-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE quota_id = $3 AND carry_forward_applied = FALSE")).
		WithArgs(30, resetAt, "quota-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ApplyCarryForward(context.Background(), nil, "quota-1", 30, resetAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ApplyCarryForward(context.Background(), nil, "quota-1", 30, resetAt)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
