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

// RedemptionRepository persists voucher redemptions.
type RedemptionRepository struct {
	db *sqlx.DB
}

// NewRedemptionRepository constructs the repository.
func NewRedemptionRepository(db *sqlx.DB) *RedemptionRepository {
	return &RedemptionRepository{db: db}
}

func (r *RedemptionRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

const redemptionColumns = `redemption_id, student_id, credits_redeemed, voucher_value, status, reference_code, issued_by, created_at, fulfilled_at`

// Create inserts a new redemption row.
func (r *RedemptionRepository) Create(ctx context.Context, q sqlx.ExtContext, redemption *models.Redemption) error {
	if redemption.ID == "" {
		redemption.ID = uuid.NewString()
	}
	if redemption.Status == "" {
		redemption.Status = models.RedemptionPending
	}
	if redemption.CreatedAt.IsZero() {
		redemption.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO redemptions
	(redemption_id, student_id, credits_redeemed, voucher_value, status, reference_code, issued_by, created_at, fulfilled_at)
	VALUES (:redemption_id, :student_id, :credits_redeemed, :voucher_value, :status, :reference_code, :issued_by, :created_at, :fulfilled_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(q), query, redemption); err != nil {
		return fmt.Errorf("create redemption: %w", err)
	}
	return nil
}

// Find fetches a redemption, or nil when unknown.
func (r *RedemptionRepository) Find(ctx context.Context, q sqlx.ExtContext, id string) (*models.Redemption, error) {
	query := fmt.Sprintf(`SELECT %s FROM redemptions WHERE redemption_id = $1`, redemptionColumns)
	var redemption models.Redemption
	if err := sqlx.GetContext(ctx, r.ext(q), &redemption, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find redemption: %w", err)
	}
	return &redemption, nil
}

// FindForUpdate is Find with a row lock, for status transitions.
func (r *RedemptionRepository) FindForUpdate(ctx context.Context, q sqlx.ExtContext, id string) (*models.Redemption, error) {
	query := fmt.Sprintf(`SELECT %s FROM redemptions WHERE redemption_id = $1 FOR UPDATE`, redemptionColumns)
	var redemption models.Redemption
	if err := sqlx.GetContext(ctx, r.ext(q), &redemption, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock redemption: %w", err)
	}
	return &redemption, nil
}

// TransitionParams carries the mutable fields of a status transition.
type TransitionParams struct {
	ID            string
	To            models.RedemptionStatus
	ReferenceCode *string
	IssuedBy      *string
	FulfilledAt   *time.Time
}

// Transition moves a PENDING redemption to a terminal status. The guard on
// the current status makes concurrent transitions lose cleanly: false means
// the row was not PENDING anymore.
func (r *RedemptionRepository) Transition(ctx context.Context, q sqlx.ExtContext, params TransitionParams) (bool, error) {
	const query = `UPDATE redemptions
SET status = $1, reference_code = COALESCE($2, reference_code), issued_by = COALESCE($3, issued_by), fulfilled_at = COALESCE($4, fulfilled_at)
WHERE redemption_id = $5 AND status = $6`
	result, err := r.ext(q).ExecContext(ctx, query,
		params.To,
		params.ReferenceCode,
		params.IssuedBy,
		params.FulfilledAt,
		params.ID,
		models.RedemptionPending,
	)
	if err != nil {
		return false, fmt.Errorf("transition redemption: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition redemption rows: %w", err)
	}
	return affected == 1, nil
}

// ListByStudent returns a student's redemptions, newest first.
func (r *RedemptionRepository) ListByStudent(ctx context.Context, q sqlx.ExtContext, studentID string, limit, offset int) ([]models.Redemption, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM redemptions WHERE student_id = $1 ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		redemptionColumns, limit, offset)
	var redemptions []models.Redemption
	if err := sqlx.SelectContext(ctx, r.ext(q), &redemptions, query, studentID); err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	return redemptions, nil
}
