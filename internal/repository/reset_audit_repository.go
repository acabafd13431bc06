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

// ResetAuditRepository persists monthly reset execution records. One row per
// (student, month); the unique pair doubles as the reset idempotency key.
type ResetAuditRepository struct {
	db *sqlx.DB
}

// NewResetAuditRepository constructs the repository.
func NewResetAuditRepository(db *sqlx.DB) *ResetAuditRepository {
	return &ResetAuditRepository{db: db}
}

func (r *ResetAuditRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

// Find returns the audit row for (student, month), or nil when the reset has
// not run yet.
func (r *ResetAuditRepository) Find(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyResetAudit, error) {
	const query = `SELECT audit_id, student_id, month_bucket, baseline_grant, carry_forward, capped_amount, processed_at
FROM monthly_reset_audit WHERE student_id = $1 AND month_bucket = $2`
	var audit models.MonthlyResetAudit
	if err := sqlx.GetContext(ctx, r.ext(q), &audit, query, studentID, bucket); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find reset audit: %w", err)
	}
	return &audit, nil
}

// Create appends the audit row. Must share the unit of work with the grant
// entries it records, otherwise a crash between grant and audit would allow
// a duplicate grant on retry.
func (r *ResetAuditRepository) Create(ctx context.Context, q sqlx.ExtContext, audit *models.MonthlyResetAudit) error {
	if audit.ID == "" {
		audit.ID = uuid.NewString()
	}
	if audit.ProcessedAt.IsZero() {
		audit.ProcessedAt = time.Now().UTC()
	}
	const query = `INSERT INTO monthly_reset_audit
	(audit_id, student_id, month_bucket, baseline_grant, carry_forward, capped_amount, processed_at)
	VALUES (:audit_id, :student_id, :month_bucket, :baseline_grant, :carry_forward, :capped_amount, :processed_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(q), query, audit); err != nil {
		return fmt.Errorf("create reset audit: %w", err)
	}
	return nil
}
