package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/boostly-api/internal/models"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

// LedgerRepository is the append-only store of credit movements. Entries are
// never updated or deleted; corrections are new offsetting entries.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

// Append validates and durably appends one ledger entry, assigning its
// sequence id. The delta sign must match the event type and may not be zero;
// the database has no constraint layer of its own here, so the rule is
// enforced at this boundary.
func (r *LedgerRepository) Append(ctx context.Context, q sqlx.ExtContext, entry *models.LedgerEntry) error {
	if entry.CreditsDelta == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "ledger delta must not be zero")
	}
	sign := entry.EventType.Sign()
	if sign == 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown ledger event type %q", entry.EventType))
	}
	if (sign < 0) != (entry.CreditsDelta < 0) {
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("delta %d has wrong sign for event type %s", entry.CreditsDelta, entry.EventType))
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.MonthBucket.IsZero() {
		entry.MonthBucket = models.MonthBucket(entry.CreatedAt)
	}

	const query = `INSERT INTO credit_ledger
	(student_id, related_recognition, related_redemption, event_type, credits_delta, month_bucket, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ledger_entry_id`
	if err := r.ext(q).QueryRowxContext(ctx, query,
		entry.StudentID,
		entry.RecognitionID,
		entry.RedemptionID,
		entry.EventType,
		entry.CreditsDelta,
		entry.MonthBucket,
		entry.CreatedAt,
	).Scan(&entry.SequenceID); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// List returns a student's entries in sequence order. Every call re-scans the
// store; no cursor state is kept between reads.
func (r *LedgerRepository) List(ctx context.Context, q sqlx.ExtContext, filter models.LedgerFilter) ([]models.LedgerEntry, error) {
	where := []string{"student_id = $1"}
	args := []interface{}{filter.StudentID}
	if filter.MonthFrom != nil {
		where = append(where, fmt.Sprintf("month_bucket >= $%d", len(args)+1))
		args = append(args, *filter.MonthFrom)
	}
	if filter.MonthTo != nil {
		where = append(where, fmt.Sprintf("month_bucket <= $%d", len(args)+1))
		args = append(args, *filter.MonthTo)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT ledger_entry_id, student_id, related_recognition, related_redemption, event_type, credits_delta, month_bucket, created_at
FROM credit_ledger WHERE %s ORDER BY ledger_entry_id ASC LIMIT %d OFFSET %d`,
		strings.Join(where, " AND "), limit, offset)

	var entries []models.LedgerEntry
	if err := sqlx.SelectContext(ctx, r.ext(q), &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// SumDeltas computes the student's spendable balance: the sum of all entry
// deltas, excluding audit-only expiry entries.
func (r *LedgerRepository) SumDeltas(ctx context.Context, q sqlx.ExtContext, studentID string) (int, error) {
	const query = `SELECT COALESCE(SUM(credits_delta), 0) FROM credit_ledger
WHERE student_id = $1 AND event_type <> $2`
	var total int
	if err := sqlx.GetContext(ctx, r.ext(q), &total, query, studentID, models.EventCarryForwardExpired); err != nil {
		return 0, fmt.Errorf("sum ledger deltas: %w", err)
	}
	return total, nil
}

// SumDeltasAsOf is SumDeltas restricted to entries created at or before asOf.
func (r *LedgerRepository) SumDeltasAsOf(ctx context.Context, q sqlx.ExtContext, studentID string, asOf time.Time) (int, error) {
	const query = `SELECT COALESCE(SUM(credits_delta), 0) FROM credit_ledger
WHERE student_id = $1 AND event_type <> $2 AND created_at <= $3`
	var total int
	if err := sqlx.GetContext(ctx, r.ext(q), &total, query, studentID, models.EventCarryForwardExpired, asOf); err != nil {
		return 0, fmt.Errorf("sum ledger deltas as of: %w", err)
	}
	return total, nil
}

// SumByTypes sums deltas of the given event types within one month bucket.
func (r *LedgerRepository) SumByTypes(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, types []models.CreditEventType) (int, error) {
	values := make([]string, len(types))
	for i, t := range types {
		values[i] = string(t)
	}
	const query = `SELECT COALESCE(SUM(credits_delta), 0) FROM credit_ledger
WHERE student_id = $1 AND month_bucket = $2 AND event_type = ANY($3)`
	var total int
	if err := sqlx.GetContext(ctx, r.ext(q), &total, query, studentID, bucket, pq.Array(values)); err != nil {
		return 0, fmt.Errorf("sum ledger deltas by type: %w", err)
	}
	return total, nil
}

// HasEntryForMonth reports whether the student already has an entry of the
// given type in the month bucket.
func (r *LedgerRepository) HasEntryForMonth(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, eventType models.CreditEventType) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM credit_ledger
WHERE student_id = $1 AND month_bucket = $2 AND event_type = $3)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.ext(q), &exists, query, studentID, bucket, eventType); err != nil {
		return false, fmt.Errorf("check ledger entry for month: %w", err)
	}
	return exists, nil
}

// HasRecognitionRefs reports whether any ledger entry references the
// recognition. Recognitions may not be deleted while such entries exist.
func (r *LedgerRepository) HasRecognitionRefs(ctx context.Context, q sqlx.ExtContext, recognitionID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM credit_ledger WHERE related_recognition = $1)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.ext(q), &exists, query, recognitionID); err != nil {
		return false, fmt.Errorf("check recognition ledger refs: %w", err)
	}
	return exists, nil
}
