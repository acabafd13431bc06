package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/boostly-api/internal/models"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

type quotaStore interface {
	Find(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyQuota, error)
	FindForUpdate(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyQuota, error)
	Create(ctx context.Context, q sqlx.ExtContext, quota *models.MonthlyQuota) error
	IncrementSent(ctx context.Context, q sqlx.ExtContext, quotaID string, amount int) (bool, error)
}

type quotaLedger interface {
	Append(ctx context.Context, q sqlx.ExtContext, entry *models.LedgerEntry) error
	HasEntryForMonth(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, eventType models.CreditEventType) (bool, error)
}

// QuotaTracker gates recognition sends against the monthly allowance. Both
// the check and the increment must run inside the caller's unit of work;
// the guarded UPDATE makes two racing sends unable to jointly exceed the
// allowance even if both pass the preliminary check.
type QuotaTracker struct {
	quotas   quotaStore
	ledger   quotaLedger
	baseline int
	logger   *zap.Logger
}

// NewQuotaTracker constructs the tracker.
func NewQuotaTracker(quotas quotaStore, ledger quotaLedger, baselineSendLimit int, logger *zap.Logger) *QuotaTracker {
	if baselineSendLimit <= 0 {
		baselineSendLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaTracker{quotas: quotas, ledger: ledger, baseline: baselineSendLimit, logger: logger}
}

// CanSend reports whether amount more credits fit within the student's
// allowance for the month. Advisory: the binding check happens in RecordSend.
func (t *QuotaTracker) CanSend(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, amount int) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	quota, err := t.quotas.Find(ctx, q, studentID, bucket)
	if err != nil {
		return false, err
	}
	if quota == nil {
		// No row yet: a fresh month has the full baseline available.
		return amount <= t.baseline, nil
	}
	return quota.CanSend(amount), nil
}

// Ensure returns the locked quota row for (student, month), provisioning the
// row and its baseline grant when the reset engine has not reached the
// student yet. The baseline ledger entry is appended at most once per month.
func (t *QuotaTracker) Ensure(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, now time.Time) (*models.MonthlyQuota, error) {
	quota, err := t.quotas.FindForUpdate(ctx, q, studentID, bucket)
	if err != nil {
		return nil, err
	}
	if quota != nil {
		return quota, nil
	}

	quota = &models.MonthlyQuota{
		StudentID:   studentID,
		MonthBucket: bucket,
		SendLimit:   t.baseline,
	}
	if err := t.quotas.Create(ctx, q, quota); err != nil {
		return nil, err
	}

	granted, err := t.ledger.HasEntryForMonth(ctx, q, studentID, bucket, models.EventMonthlyReset)
	if err != nil {
		return nil, err
	}
	if !granted {
		if err := t.ledger.Append(ctx, q, &models.LedgerEntry{
			StudentID:    studentID,
			EventType:    models.EventMonthlyReset,
			CreditsDelta: t.baseline,
			MonthBucket:  bucket,
			CreatedAt:    now,
		}); err != nil {
			return nil, fmt.Errorf("provision baseline grant: %w", err)
		}
		t.logger.Info("baseline grant provisioned on first send",
			zap.String("student_id", studentID),
			zap.Time("month_bucket", bucket),
		)
	}
	return quota, nil
}

// RecordSend atomically increments credits_sent within the caller's unit of
// work. Fails with QuotaExceeded when the allowance cannot absorb amount.
func (t *QuotaTracker) RecordSend(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, amount int, now time.Time) (*models.MonthlyQuota, error) {
	quota, err := t.Ensure(ctx, q, studentID, bucket, now)
	if err != nil {
		return nil, err
	}

	if !quota.CanSend(amount) {
		return nil, appErrors.Clone(appErrors.ErrQuotaExceeded,
			fmt.Sprintf("monthly sending limit exceeded, %d credits remaining", quota.Remaining()))
	}

	ok, err := t.quotas.IncrementSent(ctx, q, quota.ID, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrQuotaExceeded,
			fmt.Sprintf("monthly sending limit exceeded, %d credits remaining", quota.Remaining()))
	}

	quota.CreditsSent += amount
	quota.UpdatedAt = now
	return quota, nil
}
