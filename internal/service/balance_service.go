package service

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/boostly-api/internal/models"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

type balanceLedger interface {
	SumDeltas(ctx context.Context, q sqlx.ExtContext, studentID string) (int, error)
	SumDeltasAsOf(ctx context.Context, q sqlx.ExtContext, studentID string, asOf time.Time) (int, error)
	SumByTypes(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, types []models.CreditEventType) (int, error)
	List(ctx context.Context, q sqlx.ExtContext, filter models.LedgerFilter) ([]models.LedgerEntry, error)
}

type balanceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidateBalance(ctx context.Context, studentID string) error
}

// BalanceService derives balances from the ledger. The ledger is the sole
// source of truth; the cache is a read-through layer invalidated on every
// append for the student, never a second copy of state.
type BalanceService struct {
	ledger  balanceLedger
	cache   balanceCache
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger
}

// NewBalanceService constructs the service.
func NewBalanceService(ledger balanceLedger, cache balanceCache, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *BalanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceService{ledger: ledger, cache: cache, ttl: ttl, metrics: metrics, logger: logger}
}

func balanceKey(studentID string) string {
	return "boostly:balance:" + studentID
}

// CurrentBalance returns the student's spendable balance: the sum of all
// their ledger deltas, minus amounts held by pending redemptions (those are
// already debited at request time).
func (s *BalanceService) CurrentBalance(ctx context.Context, studentID string) (int, error) {
	if s.cache != nil {
		var cached int
		err := s.cache.Get(ctx, balanceKey(studentID), &cached)
		if err == nil {
			s.metrics.ObserveCacheLookup(true)
			return cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("balance cache read failed", zap.String("student_id", studentID), zap.Error(err))
		}
		s.metrics.ObserveCacheLookup(false)
	}

	balance, err := s.ledger.SumDeltas(ctx, nil, studentID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute balance")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, balanceKey(studentID), balance, s.ttl); err != nil {
			s.logger.Warn("balance cache write failed", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return balance, nil
}

// BalanceAsOf restricts the sum to entries created at or before asOf.
// Uncached: snapshot reads must never see stale data.
func (s *BalanceService) BalanceAsOf(ctx context.Context, studentID string, asOf time.Time) (int, error) {
	balance, err := s.ledger.SumDeltasAsOf(ctx, nil, studentID, asOf)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute balance snapshot")
	}
	return balance, nil
}

// Available computes the balance inside the caller's unit of work. Write
// paths authorise against this, never against the cache.
func (s *BalanceService) Available(ctx context.Context, q sqlx.ExtContext, studentID string) (int, error) {
	return s.ledger.SumDeltas(ctx, q, studentID)
}

// MonthActivity summarises one student's credit movement within a month.
type MonthActivity struct {
	MonthBucket     time.Time `json:"month_bucket"`
	CreditsSent     int       `json:"credits_sent"`
	CreditsReceived int       `json:"credits_received"`
	CreditsRedeemed int       `json:"credits_redeemed"`
}

// Activity aggregates the student's sends, receipts, and redemptions for one
// month. Redeemed credits are net of refunds.
func (s *BalanceService) Activity(ctx context.Context, studentID string, bucket time.Time) (*MonthActivity, error) {
	bucket = models.MonthBucket(bucket)

	sent, err := s.ledger.SumByTypes(ctx, nil, studentID, bucket, []models.CreditEventType{models.EventRecognitionSent})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum sent credits")
	}
	received, err := s.ledger.SumByTypes(ctx, nil, studentID, bucket, []models.CreditEventType{models.EventRecognitionReceived})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum received credits")
	}
	redeemed, err := s.ledger.SumByTypes(ctx, nil, studentID, bucket, []models.CreditEventType{models.EventRedemption, models.EventRedemptionRefund})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sum redeemed credits")
	}

	return &MonthActivity{
		MonthBucket:     bucket,
		CreditsSent:     -sent,
		CreditsReceived: received,
		CreditsRedeemed: -redeemed,
	}, nil
}

// History returns the student's ledger entries in sequence order.
func (s *BalanceService) History(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerEntry, error) {
	entries, err := s.ledger.List(ctx, nil, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ledger history")
	}
	return entries, nil
}

// Invalidate drops the cached balance after an append for the student.
func (s *BalanceService) Invalidate(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBalance(ctx, studentID); err != nil {
		s.logger.Warn("balance cache invalidation failed", zap.String("student_id", studentID), zap.Error(err))
	}
}
