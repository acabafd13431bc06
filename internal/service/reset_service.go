package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/boostly-api/internal/models"
	"github.com/noah-isme/boostly-api/pkg/database"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

type resetQuotaStore interface {
	Find(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyQuota, error)
	FindForUpdate(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyQuota, error)
	Create(ctx context.Context, q sqlx.ExtContext, quota *models.MonthlyQuota) error
	ApplyCarryForward(ctx context.Context, q sqlx.ExtContext, quotaID string, carryCredits int, resetAt time.Time) (bool, error)
}

type resetLedger interface {
	Append(ctx context.Context, q sqlx.ExtContext, entry *models.LedgerEntry) error
	HasEntryForMonth(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, eventType models.CreditEventType) (bool, error)
}

type resetAuditStore interface {
	Find(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyResetAudit, error)
	Create(ctx context.Context, q sqlx.ExtContext, audit *models.MonthlyResetAudit) error
}

type resetRoster interface {
	Lock(ctx context.Context, q sqlx.ExtContext, ids ...string) ([]models.Student, error)
	ListActiveIDs(ctx context.Context, q sqlx.ExtContext) ([]string, error)
}

// MonthlyResetService grants each student the month's sending allowance:
// the baseline plus unused allowance carried over from the prior month,
// capped. Each student resets in its own unit of work so one failure never
// poisons the run, and the audit row makes re-runs no-ops.
type MonthlyResetService struct {
	runner         database.TxRunner
	students       resetRoster
	quotas         resetQuotaStore
	ledger         resetLedger
	audits         resetAuditStore
	cache          cacheInvalidator
	metrics        *MetricsService
	logger         *zap.Logger
	baseline       int
	carryCap       int
	studentTimeout time.Duration
}

// NewMonthlyResetService constructs the service.
func NewMonthlyResetService(
	runner database.TxRunner,
	students resetRoster,
	quotas resetQuotaStore,
	ledger resetLedger,
	audits resetAuditStore,
	cache cacheInvalidator,
	metrics *MetricsService,
	logger *zap.Logger,
	baselineSendLimit, carryForwardCap int,
	studentTimeout time.Duration,
) *MonthlyResetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baselineSendLimit <= 0 {
		baselineSendLimit = 100
	}
	if carryForwardCap < 0 {
		carryForwardCap = 0
	}
	if studentTimeout <= 0 {
		studentTimeout = 10 * time.Second
	}
	return &MonthlyResetService{
		runner:         runner,
		students:       students,
		quotas:         quotas,
		ledger:         ledger,
		audits:         audits,
		cache:          cache,
		metrics:        metrics,
		logger:         logger,
		baseline:       baselineSendLimit,
		carryCap:       carryForwardCap,
		studentTimeout: studentTimeout,
	}
}

// ResetStudent runs the monthly reset for one student and month. Returns the
// audit row and whether this call performed the reset; a prior audit row for
// the same (student, month) makes the call a no-op.
func (s *MonthlyResetService) ResetStudent(ctx context.Context, studentID string, bucket, now time.Time) (*models.MonthlyResetAudit, bool, error) {
	bucket = models.MonthBucket(bucket)
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var (
		audit     *models.MonthlyResetAudit
		performed bool
	)
	err := s.runner.Serializable(ctx, func(ctx context.Context, tx sqlx.ExtContext) error {
		audit = nil
		performed = false

		locked, err := s.students.Lock(ctx, tx, studentID)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s not found", studentID))
		}
		if !locked[0].IsActive() {
			return appErrors.Clone(appErrors.ErrInactiveStudent, fmt.Sprintf("student %s is inactive", studentID))
		}

		existing, err := s.audits.Find(ctx, tx, studentID, bucket)
		if err != nil {
			return err
		}
		if existing != nil {
			audit = existing
			return nil
		}

		// Unused allowance comes from the prior month's quota row, not from
		// ledger sums: received credits never expand sending capacity.
		carry, expired := 0, 0
		prior, err := s.quotas.Find(ctx, tx, studentID, models.PreviousMonthBucket(bucket))
		if err != nil {
			return err
		}
		if prior != nil {
			unused := prior.Remaining()
			carry = unused
			if carry > s.carryCap {
				carry = s.carryCap
			}
			expired = unused - carry
		}

		quota, err := s.quotas.FindForUpdate(ctx, tx, studentID, bucket)
		if err != nil {
			return err
		}
		if quota != nil {
			// Row pre-provisioned by a send earlier this month.
			ok, err := s.quotas.ApplyCarryForward(ctx, tx, quota.ID, carry, now)
			if err != nil {
				return err
			}
			if !ok {
				return appErrors.Clone(appErrors.ErrInvalidState,
					fmt.Sprintf("carry forward already applied for student %s month %s", studentID, bucket.Format("2006-01")))
			}
		} else {
			quota = &models.MonthlyQuota{
				StudentID:           studentID,
				MonthBucket:         bucket,
				SendLimit:           s.baseline,
				CarryForwardApplied: true,
				CarryForwardCredits: carry,
				ResetAt:             &now,
			}
			if err := s.quotas.Create(ctx, tx, quota); err != nil {
				return err
			}
		}

		// The baseline grant may already exist when a send auto-provisioned
		// the month before the reset reached this student.
		granted, err := s.ledger.HasEntryForMonth(ctx, tx, studentID, bucket, models.EventMonthlyReset)
		if err != nil {
			return err
		}
		if !granted {
			if err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
				StudentID:    studentID,
				EventType:    models.EventMonthlyReset,
				CreditsDelta: s.baseline,
				MonthBucket:  bucket,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		if carry > 0 {
			if err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
				StudentID:    studentID,
				EventType:    models.EventCarryForward,
				CreditsDelta: carry,
				MonthBucket:  bucket,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}
		if expired > 0 {
			if err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
				StudentID:    studentID,
				EventType:    models.EventCarryForwardExpired,
				CreditsDelta: -expired,
				MonthBucket:  bucket,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}

		audit = &models.MonthlyResetAudit{
			StudentID:     studentID,
			MonthBucket:   bucket,
			BaselineGrant: s.baseline,
			CarryForward:  carry,
			CappedAmount:  expired,
			ProcessedAt:   now,
		}
		if err := s.audits.Create(ctx, tx, audit); err != nil {
			return err
		}
		performed = true
		return nil
	})
	if err != nil {
		return nil, false, appErrors.FromError(err)
	}

	if performed && s.cache != nil {
		if err := s.cache.InvalidateBalance(ctx, studentID); err != nil {
			s.logger.Warn("balance invalidation failed", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return audit, performed, nil
}

// RunAll resets every active student for the month. Failures are logged and
// counted but do not stop the run; re-running after a partial failure only
// touches the students that were missed.
func (s *MonthlyResetService) RunAll(ctx context.Context, bucket, now time.Time) (*models.ResetSummary, error) {
	bucket = models.MonthBucket(bucket)
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ids, err := s.students.ListActiveIDs(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students for reset")
	}

	started := time.Now()
	summary := &models.ResetSummary{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return summary, appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "reset run interrupted")
		}

		studentCtx, cancel := context.WithTimeout(ctx, s.studentTimeout)
		audit, performed, err := s.ResetStudent(studentCtx, id, bucket, now)
		cancel()

		switch {
		case err != nil:
			summary.StudentsFailed++
			s.metrics.ObserveReset("failure")
			s.logger.Error("student reset failed",
				zap.String("student_id", id),
				zap.Time("month_bucket", bucket),
				zap.Error(err),
			)
		case !performed:
			summary.StudentsSkipped++
			s.metrics.ObserveReset("skipped")
		default:
			summary.StudentsProcessed++
			summary.CarryForwardTotal += audit.CarryForward
			summary.ExpiredTotal += audit.CappedAmount
			s.metrics.ObserveReset("success")
		}
	}
	s.metrics.ObserveUnitDuration("monthly_reset_run", time.Since(started))

	if s.cache != nil {
		if err := s.cache.InvalidateLeaderboards(ctx); err != nil {
			s.logger.Warn("leaderboard invalidation failed", zap.Error(err))
		}
	}

	s.logger.Info("monthly reset run complete",
		zap.Time("month_bucket", bucket),
		zap.Int("processed", summary.StudentsProcessed),
		zap.Int("skipped", summary.StudentsSkipped),
		zap.Int("failed", summary.StudentsFailed),
		zap.Int("carry_forward_total", summary.CarryForwardTotal),
		zap.Int("expired_total", summary.ExpiredTotal),
	)
	return summary, nil
}
