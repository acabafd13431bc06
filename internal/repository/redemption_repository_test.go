package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/boostly-api/internal/models"
)

func newRedemptionMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRedemptionCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRedemptionMock(t)
	defer cleanup()
	repo := NewRedemptionRepository(db)

	mock.ExpectExec("INSERT INTO redemptions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	redemption := &models.Redemption{
		StudentID:       "stu-1",
		CreditsRedeemed: 20,
		VoucherValue:    decimal.NewFromInt(100),
	}
	err := repo.Create(context.Background(), nil, redemption)
	require.NoError(t, err)
	assert.NotEmpty(t, redemption.ID)
	assert.Equal(t, models.RedemptionPending, redemption.Status)
	assert.False(t, redemption.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedemptionTransitionGuard(t *testing.T) {
	db, mock, cleanup := newRedemptionMock(t)
	defer cleanup()
	repo := NewRedemptionRepository(db)

	ref := "VCH-001"
	issuer := "admin-1"
	at := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("WHERE redemption_id = $5 AND status = $6")).
		WithArgs(models.RedemptionIssued, &ref, &issuer, &at, "red-1", models.RedemptionPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE redemption_id = $5 AND status = $6")).
		WithArgs(models.RedemptionCancelled, nil, nil, nil, "red-1", models.RedemptionPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Transition(context.Background(), nil, TransitionParams{
		ID: "red-1", To: models.RedemptionIssued, ReferenceCode: &ref, IssuedBy: &issuer, FulfilledAt: &at,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// The row left PENDING between read and write; the guard rejects.
	ok, err = repo.Transition(context.Background(), nil, TransitionParams{ID: "red-1", To: models.RedemptionCancelled})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedemptionFindAbsentReturnsNil(t *testing.T) {
	db, mock, cleanup := newRedemptionMock(t)
	defer cleanup()
	repo := NewRedemptionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM redemptions WHERE redemption_id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"redemption_id"}))

	redemption, err := repo.Find(context.Background(), nil, "missing")
	require.NoError(t, err)
	assert.Nil(t, redemption)
	assert.NoError(t, mock.ExpectationsWereMet())
}
