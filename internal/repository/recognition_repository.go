package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/boostly-api/internal/models"
)

// RecognitionRepository persists recognition records.
type RecognitionRepository struct {
	db *sqlx.DB
}

// NewRecognitionRepository constructs the repository.
func NewRecognitionRepository(db *sqlx.DB) *RecognitionRepository {
	return &RecognitionRepository{db: db}
}

func (r *RecognitionRepository) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q != nil {
		return q
	}
	return r.db
}

const recognitionColumns = `recognition_id, sender_id, receiver_id, credits_transferred, message, month_bucket, endorsement_count, created_at, updated_at`

// Create inserts a new recognition row.
func (r *RecognitionRepository) Create(ctx context.Context, q sqlx.ExtContext, rec *models.Recognition) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	const query = `INSERT INTO recognitions
	(recognition_id, sender_id, receiver_id, credits_transferred, message, month_bucket, endorsement_count, created_at, updated_at)
	VALUES (:recognition_id, :sender_id, :receiver_id, :credits_transferred, :message, :month_bucket, :endorsement_count, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.ext(q), query, rec); err != nil {
		return fmt.Errorf("create recognition: %w", err)
	}
	return nil
}

// GetByID fetches a recognition, or nil when unknown.
func (r *RecognitionRepository) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Recognition, error) {
	query := fmt.Sprintf(`SELECT %s FROM recognitions WHERE recognition_id = $1`, recognitionColumns)
	var rec models.Recognition
	if err := sqlx.GetContext(ctx, r.ext(q), &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get recognition: %w", err)
	}
	return &rec, nil
}

// List returns recognitions matching the filter, newest first.
func (r *RecognitionRepository) List(ctx context.Context, q sqlx.ExtContext, filter models.RecognitionFilter) ([]models.Recognition, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.SenderID != "" {
		where = append(where, fmt.Sprintf("sender_id = $%d", len(args)+1))
		args = append(args, filter.SenderID)
	}
	if filter.ReceiverID != "" {
		where = append(where, fmt.Sprintf("receiver_id = $%d", len(args)+1))
		args = append(args, filter.ReceiverID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM recognitions WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		recognitionColumns, strings.Join(where, " AND "), limit, offset)

	var recs []models.Recognition
	if err := sqlx.SelectContext(ctx, r.ext(q), &recs, query, args...); err != nil {
		return nil, fmt.Errorf("list recognitions: %w", err)
	}
	return recs, nil
}

// Delete removes a recognition row. Callers must first verify no ledger
// entries reference it.
func (r *RecognitionRepository) Delete(ctx context.Context, q sqlx.ExtContext, id string) error {
	if _, err := r.ext(q).ExecContext(ctx, `DELETE FROM recognitions WHERE recognition_id = $1`, id); err != nil {
		return fmt.Errorf("delete recognition: %w", err)
	}
	return nil
}

// TopRecipients aggregates credits received per student for one month,
// ordered by total credits then student id.
func (r *RecognitionRepository) TopRecipients(ctx context.Context, q sqlx.ExtContext, bucket time.Time, limit int) ([]models.LeaderboardEntry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT s.student_id,
       s.display_name,
       COALESCE(SUM(r.credits_transferred), 0) AS total_credits,
       COALESCE(COUNT(r.recognition_id), 0) AS recognition_count,
       COALESCE(SUM(r.endorsement_count), 0) AS endorsement_count
FROM students s
LEFT JOIN recognitions r ON r.receiver_id = s.student_id AND r.month_bucket = $1
GROUP BY s.student_id, s.display_name
ORDER BY total_credits DESC, s.student_id ASC
LIMIT %d`, limit)

	var entries []models.LeaderboardEntry
	if err := sqlx.SelectContext(ctx, r.ext(q), &entries, query, bucket); err != nil {
		return nil, fmt.Errorf("leaderboard top recipients: %w", err)
	}
	return entries, nil
}
