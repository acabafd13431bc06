package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/boostly-api/internal/models"
	"github.com/noah-isme/boostly-api/internal/repository"
	"github.com/noah-isme/boostly-api/pkg/database"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

type redemptionStore interface {
	Create(ctx context.Context, q sqlx.ExtContext, redemption *models.Redemption) error
	Find(ctx context.Context, q sqlx.ExtContext, id string) (*models.Redemption, error)
	FindForUpdate(ctx context.Context, q sqlx.ExtContext, id string) (*models.Redemption, error)
	Transition(ctx context.Context, q sqlx.ExtContext, params repository.TransitionParams) (bool, error)
	ListByStudent(ctx context.Context, q sqlx.ExtContext, studentID string, limit, offset int) ([]models.Redemption, error)
}

type redemptionLedger interface {
	Append(ctx context.Context, q sqlx.ExtContext, entry *models.LedgerEntry) error
	SumDeltas(ctx context.Context, q sqlx.ExtContext, studentID string) (int, error)
}

// RedeemRequest describes a voucher redemption request.
type RedeemRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Credits   int    `json:"credits" validate:"required,gt=0"`
	// At pins the request time; zero means now.
	At time.Time `json:"-"`
}

// RedemptionService converts available credits into vouchers. Credits are
// debited when the request is accepted, so concurrent requests cannot
// together exceed the balance; cancellation and failure refund the hold
// through an explicit compensating entry.
type RedemptionService struct {
	runner      database.TxRunner
	students    studentDirectory
	redemptions redemptionStore
	ledger      redemptionLedger
	cache       cacheInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	voucherRate decimal.Decimal
}

// NewRedemptionService constructs the service. voucherRate is the voucher
// value of a single credit.
func NewRedemptionService(
	runner database.TxRunner,
	students studentDirectory,
	redemptions redemptionStore,
	ledger redemptionLedger,
	cache cacheInvalidator,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	voucherRate decimal.Decimal,
) *RedemptionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if voucherRate.IsZero() {
		voucherRate = decimal.NewFromInt(5)
	}
	return &RedemptionService{
		runner:      runner,
		students:    students,
		redemptions: redemptions,
		ledger:      ledger,
		cache:       cache,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		voucherRate: voucherRate,
	}
}

// Request creates a PENDING redemption and debits the credits immediately.
// An insufficient balance aborts the unit of work with no ledger entry.
func (s *RedemptionService) Request(ctx context.Context, req RedeemRequest) (*models.Redemption, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid redemption payload")
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	started := time.Now()
	var redemption *models.Redemption
	err := s.runner.Serializable(ctx, func(ctx context.Context, tx sqlx.ExtContext) error {
		locked, err := s.students.Lock(ctx, tx, req.StudentID)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s not found", req.StudentID))
		}
		if !locked[0].IsActive() {
			return appErrors.Clone(appErrors.ErrInactiveStudent, fmt.Sprintf("student %s is inactive", req.StudentID))
		}

		balance, err := s.ledger.SumDeltas(ctx, tx, req.StudentID)
		if err != nil {
			return err
		}
		if balance < req.Credits {
			return appErrors.Clone(appErrors.ErrInsufficientBalance,
				fmt.Sprintf("balance %d cannot cover %d credits", balance, req.Credits))
		}

		r := &models.Redemption{
			StudentID:       req.StudentID,
			CreditsRedeemed: req.Credits,
			VoucherValue:    s.voucherRate.Mul(decimal.NewFromInt(int64(req.Credits))),
			Status:          models.RedemptionPending,
			CreatedAt:       at,
		}
		if err := s.redemptions.Create(ctx, tx, r); err != nil {
			return err
		}

		if err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
			StudentID:    req.StudentID,
			RedemptionID: &r.ID,
			EventType:    models.EventRedemption,
			CreditsDelta: -req.Credits,
			MonthBucket:  models.MonthBucket(at),
			CreatedAt:    at,
		}); err != nil {
			return err
		}

		redemption = r
		return nil
	})
	s.metrics.ObserveUnitDuration("redemption_request", time.Since(started))

	if err != nil {
		s.metrics.ObserveRedemption("request", appErrors.FromError(err).Code)
		return nil, appErrors.FromError(err)
	}

	s.metrics.ObserveRedemption("request", "success")
	if s.cache != nil {
		if err := s.cache.InvalidateBalance(ctx, req.StudentID); err != nil {
			s.logger.Warn("balance invalidation failed", zap.Error(err))
		}
	}

	s.logger.Info("redemption requested",
		zap.String("redemption_id", redemption.ID),
		zap.String("student_id", req.StudentID),
		zap.Int("credits", req.Credits),
		zap.String("voucher_value", redemption.VoucherValue.StringFixed(2)),
	)
	return redemption, nil
}

// Issue fulfils a PENDING redemption, stamping the voucher reference code.
// No balance movement happens here: the debit was taken at request time.
func (s *RedemptionService) Issue(ctx context.Context, id, referenceCode, issuedBy string, at time.Time) (*models.Redemption, error) {
	if referenceCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reference code is required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var redemption *models.Redemption
	err := s.runner.Serializable(ctx, func(ctx context.Context, tx sqlx.ExtContext) error {
		r, err := s.redemptions.FindForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "redemption not found")
		}
		if !r.Status.CanTransitionTo(models.RedemptionIssued) {
			return appErrors.Clone(appErrors.ErrInvalidState,
				fmt.Sprintf("redemption is %s, only PENDING redemptions can be issued", r.Status))
		}

		var issuer *string
		if issuedBy != "" {
			issuer = &issuedBy
		}
		ok, err := s.redemptions.Transition(ctx, tx, repository.TransitionParams{
			ID:            id,
			To:            models.RedemptionIssued,
			ReferenceCode: &referenceCode,
			IssuedBy:      issuer,
			FulfilledAt:   &at,
		})
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrInvalidState, "redemption left PENDING concurrently")
		}

		r.Status = models.RedemptionIssued
		r.ReferenceCode = &referenceCode
		r.IssuedBy = issuer
		r.FulfilledAt = &at
		redemption = r
		return nil
	})
	if err != nil {
		s.metrics.ObserveRedemption("issue", appErrors.FromError(err).Code)
		return nil, appErrors.FromError(err)
	}

	s.metrics.ObserveRedemption("issue", "success")
	s.logger.Info("redemption issued",
		zap.String("redemption_id", id),
		zap.String("reference_code", referenceCode),
	)
	return redemption, nil
}

// Cancel aborts a PENDING redemption and refunds the held credits.
func (s *RedemptionService) Cancel(ctx context.Context, id string, at time.Time) (*models.Redemption, error) {
	return s.compensate(ctx, id, models.RedemptionCancelled, "cancel", at)
}

// Fail marks a PENDING redemption as failed at fulfillment and refunds the
// held credits.
func (s *RedemptionService) Fail(ctx context.Context, id string, at time.Time) (*models.Redemption, error) {
	return s.compensate(ctx, id, models.RedemptionFailed, "fail", at)
}

func (s *RedemptionService) compensate(ctx context.Context, id string, to models.RedemptionStatus, action string, at time.Time) (*models.Redemption, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var redemption *models.Redemption
	err := s.runner.Serializable(ctx, func(ctx context.Context, tx sqlx.ExtContext) error {
		r, err := s.redemptions.FindForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "redemption not found")
		}
		if !r.Status.CanTransitionTo(to) {
			return appErrors.Clone(appErrors.ErrInvalidState,
				fmt.Sprintf("redemption is %s, only PENDING redemptions can move to %s", r.Status, to))
		}

		ok, err := s.redemptions.Transition(ctx, tx, repository.TransitionParams{ID: id, To: to})
		if err != nil {
			return err
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrInvalidState, "redemption left PENDING concurrently")
		}

		// Without this refund the held credits would be destroyed.
		if err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
			StudentID:    r.StudentID,
			RedemptionID: &r.ID,
			EventType:    models.EventRedemptionRefund,
			CreditsDelta: r.CreditsRedeemed,
			MonthBucket:  models.MonthBucket(at),
			CreatedAt:    at,
		}); err != nil {
			return err
		}

		r.Status = to
		redemption = r
		return nil
	})
	if err != nil {
		s.metrics.ObserveRedemption(action, appErrors.FromError(err).Code)
		return nil, appErrors.FromError(err)
	}

	s.metrics.ObserveRedemption(action, "success")
	if s.cache != nil {
		if err := s.cache.InvalidateBalance(ctx, redemption.StudentID); err != nil {
			s.logger.Warn("balance invalidation failed", zap.Error(err))
		}
	}

	s.logger.Info("redemption compensated",
		zap.String("redemption_id", id),
		zap.String("status", string(to)),
		zap.Int("refunded_credits", redemption.CreditsRedeemed),
	)
	return redemption, nil
}

// Get returns one redemption.
func (s *RedemptionService) Get(ctx context.Context, id string) (*models.Redemption, error) {
	r, err := s.redemptions.Find(ctx, nil, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load redemption")
	}
	if r == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "redemption not found")
	}
	return r, nil
}

// ListByStudent returns a student's redemptions, newest first.
func (s *RedemptionService) ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.Redemption, error) {
	redemptions, err := s.redemptions.ListByStudent(ctx, nil, studentID, limit, offset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list redemptions")
	}
	return redemptions, nil
}
