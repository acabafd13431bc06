package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/boostly-api/internal/models"
)

// QuotaRepository persists per-(student, month) sending allowances.
type QuotaRepository struct {
	db *sqlx.DB
}

// NewQuotaRepository constructs the repository.
func NewQuotaRepository(db *sqlx.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

func (r *QuotaRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

const quotaColumns = `quota_id, student_id, month_bucket, credits_sent, send_limit, carry_forward_applied, carry_forward_credits, reset_at, created_at, updated_at`

// Find returns the quota row for (student, month), or nil when absent.
func (r *QuotaRepository) Find(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyQuota, error) {
	query := fmt.Sprintf(`SELECT %s FROM monthly_quota WHERE student_id = $1 AND month_bucket = $2`, quotaColumns)
	var quota models.MonthlyQuota
	if err := sqlx.GetContext(ctx, r.ext(q), &quota, query, studentID, bucket); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find monthly quota: %w", err)
	}
	return &quota, nil
}

// FindForUpdate is Find with a row lock, for use inside a unit of work.
func (r *QuotaRepository) FindForUpdate(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyQuota, error) {
	query := fmt.Sprintf(`SELECT %s FROM monthly_quota WHERE student_id = $1 AND month_bucket = $2 FOR UPDATE`, quotaColumns)
	var quota models.MonthlyQuota
	if err := sqlx.GetContext(ctx, r.ext(q), &quota, query, studentID, bucket); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock monthly quota: %w", err)
	}
	return &quota, nil
}

// Create inserts a new quota row.
func (r *QuotaRepository) Create(ctx context.Context, q sqlx.ExtContext, quota *models.MonthlyQuota) error {
	if quota.ID == "" {
		quota.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if quota.CreatedAt.IsZero() {
		quota.CreatedAt = now
	}
	quota.UpdatedAt = now
	const query = `INSERT INTO monthly_quota
	(quota_id, student_id, month_bucket, credits_sent, send_limit, carry_forward_applied, carry_forward_credits, reset_at, created_at, updated_at)
	VALUES (:quota_id, :student_id, :month_bucket, :credits_sent, :send_limit, :carry_forward_applied, :carry_forward_credits, :reset_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(q), query, quota); err != nil {
		return fmt.Errorf("create monthly quota: %w", err)
	}
	return nil
}

// IncrementSent adds amount to credits_sent, guarded so the total never
// exceeds the allowance. Returns false when the guard rejects the increment.
func (r *QuotaRepository) IncrementSent(ctx context.Context, q sqlx.ExtContext, quotaID string, amount int) (bool, error) {
	const query = `UPDATE monthly_quota
SET credits_sent = credits_sent + $1, updated_at = $2
WHERE quota_id = $3 AND credits_sent + $1 <= send_limit + carry_forward_credits`
	result, err := r.ext(q).ExecContext(ctx, query, amount, time.Now().UTC(), quotaID)
	if err != nil {
		return false, fmt.Errorf("increment credits sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment credits sent rows: %w", err)
	}
	return affected == 1, nil
}

// ApplyCarryForward stamps the reset outcome onto an existing quota row. The
// carry fields are written at most once per month: the guard refuses rows
// already marked as applied.
func (r *QuotaRepository) ApplyCarryForward(ctx context.Context, q sqlx.ExtContext, quotaID string, carryCredits int, resetAt time.Time) (bool, error) {
	const query = `UPDATE monthly_quota
SET carry_forward_credits = $1, carry_forward_applied = TRUE, reset_at = $2, updated_at = $2
WHERE quota_id = $3 AND carry_forward_applied = FALSE`
	result, err := r.ext(q).ExecContext(ctx, query, carryCredits, resetAt, quotaID)
	if err != nil {
		return false, fmt.Errorf("apply carry forward: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply carry forward rows: %w", err)
	}
	return affected == 1, nil
}
