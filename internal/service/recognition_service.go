package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/boostly-api/internal/models"
	"github.com/noah-isme/boostly-api/pkg/database"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

type studentDirectory interface {
	Lock(ctx context.Context, q sqlx.ExtContext, ids ...string) ([]models.Student, error)
}

type recognitionStore interface {
	Create(ctx context.Context, q sqlx.ExtContext, rec *models.Recognition) error
	GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Recognition, error)
	List(ctx context.Context, q sqlx.ExtContext, filter models.RecognitionFilter) ([]models.Recognition, error)
	Delete(ctx context.Context, q sqlx.ExtContext, id string) error
}

type transferLedger interface {
	Append(ctx context.Context, q sqlx.ExtContext, entry *models.LedgerEntry) error
	SumDeltas(ctx context.Context, q sqlx.ExtContext, studentID string) (int, error)
	HasRecognitionRefs(ctx context.Context, q sqlx.ExtContext, recognitionID string) (bool, error)
}

type quotaGate interface {
	Ensure(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, now time.Time) (*models.MonthlyQuota, error)
	RecordSend(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, amount int, now time.Time) (*models.MonthlyQuota, error)
}

type cacheInvalidator interface {
	InvalidateBalance(ctx context.Context, studentID string) error
	InvalidateLeaderboards(ctx context.Context) error
}

// SendRecognitionRequest describes one credit transfer.
type SendRecognitionRequest struct {
	SenderID   string  `json:"sender_id" validate:"required"`
	ReceiverID string  `json:"receiver_id" validate:"required"`
	Credits    int     `json:"credits" validate:"required,gt=0"`
	Message    *string `json:"message"`
	// At pins the transfer time; zero means now. Month bucketing derives
	// from this, keeping the flow deterministic under test.
	At time.Time `json:"-"`
}

// RecognitionService validates and executes credit transfers between
// students. The recognition row, both ledger entries, and the quota
// increment commit as one unit or not at all.
type RecognitionService struct {
	runner       database.TxRunner
	students     studentDirectory
	recognitions recognitionStore
	ledger       transferLedger
	quota        quotaGate
	cache        cacheInvalidator
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewRecognitionService constructs the service.
func NewRecognitionService(
	runner database.TxRunner,
	students studentDirectory,
	recognitions recognitionStore,
	ledger transferLedger,
	quota quotaGate,
	cache cacheInvalidator,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *RecognitionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecognitionService{
		runner:       runner,
		students:     students,
		recognitions: recognitions,
		ledger:       ledger,
		quota:        quota,
		cache:        cache,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// Send transfers credits from sender to receiver as recognition.
func (s *RecognitionService) Send(ctx context.Context, req SendRecognitionRequest) (*models.Recognition, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid recognition payload")
	}
	if req.SenderID == req.ReceiverID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "students cannot recognize themselves")
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	bucket := models.MonthBucket(at)

	started := time.Now()
	var recognition *models.Recognition
	err := s.runner.Serializable(ctx, func(ctx context.Context, tx sqlx.ExtContext) error {
		// Lock both rows in id order regardless of transfer direction.
		locked, err := s.students.Lock(ctx, tx, req.SenderID, req.ReceiverID)
		if err != nil {
			return err
		}
		byID := make(map[string]models.Student, len(locked))
		for _, st := range locked {
			byID[st.ID] = st
		}
		for _, id := range []string{req.SenderID, req.ReceiverID} {
			st, ok := byID[id]
			if !ok {
				return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s not found", id))
			}
			if !st.IsActive() {
				return appErrors.Clone(appErrors.ErrInactiveStudent, fmt.Sprintf("student %s is inactive", id))
			}
		}

		// Month context must exist before the balance read so a fresh
		// month's baseline counts toward affordability.
		if _, err := s.quota.Ensure(ctx, tx, req.SenderID, bucket, at); err != nil {
			return err
		}
		if _, err := s.quota.Ensure(ctx, tx, req.ReceiverID, bucket, at); err != nil {
			return err
		}

		balance, err := s.ledger.SumDeltas(ctx, tx, req.SenderID)
		if err != nil {
			return err
		}
		if balance < req.Credits {
			return appErrors.Clone(appErrors.ErrInsufficientBalance,
				fmt.Sprintf("balance %d cannot cover %d credits", balance, req.Credits))
		}

		if _, err := s.quota.RecordSend(ctx, tx, req.SenderID, bucket, req.Credits, at); err != nil {
			return err
		}

		rec := &models.Recognition{
			SenderID:           req.SenderID,
			ReceiverID:         req.ReceiverID,
			CreditsTransferred: req.Credits,
			Message:            req.Message,
			MonthBucket:        bucket,
			CreatedAt:          at,
		}
		if err := s.recognitions.Create(ctx, tx, rec); err != nil {
			return err
		}

		if err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
			StudentID:     req.SenderID,
			RecognitionID: &rec.ID,
			EventType:     models.EventRecognitionSent,
			CreditsDelta:  -req.Credits,
			MonthBucket:   bucket,
			CreatedAt:     at,
		}); err != nil {
			return err
		}
		if err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
			StudentID:     req.ReceiverID,
			RecognitionID: &rec.ID,
			EventType:     models.EventRecognitionReceived,
			CreditsDelta:  req.Credits,
			MonthBucket:   bucket,
			CreatedAt:     at,
		}); err != nil {
			return err
		}

		recognition = rec
		return nil
	})
	s.metrics.ObserveUnitDuration("recognition_send", time.Since(started))

	if err != nil {
		s.observeSendFailure(err)
		return nil, appErrors.FromError(err)
	}

	s.metrics.ObserveTransfer("success", req.Credits)
	if s.cache != nil {
		if err := s.cache.InvalidateBalance(ctx, req.SenderID); err != nil {
			s.logger.Warn("sender balance invalidation failed", zap.Error(err))
		}
		if err := s.cache.InvalidateBalance(ctx, req.ReceiverID); err != nil {
			s.logger.Warn("receiver balance invalidation failed", zap.Error(err))
		}
		if err := s.cache.InvalidateLeaderboards(ctx); err != nil {
			s.logger.Warn("leaderboard invalidation failed", zap.Error(err))
		}
	}

	s.logger.Info("recognition sent",
		zap.String("recognition_id", recognition.ID),
		zap.String("sender_id", req.SenderID),
		zap.String("receiver_id", req.ReceiverID),
		zap.Int("credits", req.Credits),
		zap.Time("month_bucket", bucket),
	)
	return recognition, nil
}

func (s *RecognitionService) observeSendFailure(err error) {
	code := appErrors.FromError(err).Code
	if code == appErrors.ErrQuotaExceeded.Code {
		s.metrics.ObserveQuotaRejection()
	}
	s.metrics.ObserveTransfer(strings.ToLower(code), 0)
}

// List returns recognitions matching the filter.
func (s *RecognitionService) List(ctx context.Context, filter models.RecognitionFilter) ([]models.Recognition, error) {
	recs, err := s.recognitions.List(ctx, nil, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list recognitions")
	}
	return recs, nil
}

// Delete removes a recognition that no ledger entry references. Referenced
// recognitions are immutable history and may not be deleted.
func (s *RecognitionService) Delete(ctx context.Context, id string) error {
	err := s.runner.Serializable(ctx, func(ctx context.Context, tx sqlx.ExtContext) error {
		rec, err := s.recognitions.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "recognition not found")
		}
		referenced, err := s.ledger.HasRecognitionRefs(ctx, tx, id)
		if err != nil {
			return err
		}
		if referenced {
			return appErrors.Clone(appErrors.ErrInvalidState, "recognition has ledger references and cannot be deleted")
		}
		return s.recognitions.Delete(ctx, tx, id)
	})
	if err != nil {
		return appErrors.FromError(err)
	}
	return nil
}
