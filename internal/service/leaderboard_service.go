package service

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/boostly-api/internal/models"
	"github.com/noah-isme/boostly-api/internal/repository"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

type leaderboardSource interface {
	TopRecipients(ctx context.Context, q sqlx.ExtContext, bucket time.Time, limit int) ([]models.LeaderboardEntry, error)
}

type leaderboardCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// LeaderboardService ranks students by credits received within a month.
// Ties break by student id so the ordering is stable across reads.
type LeaderboardService struct {
	recognitions leaderboardSource
	cache        leaderboardCache
	ttl          time.Duration
	logger       *zap.Logger
}

// NewLeaderboardService constructs the service.
func NewLeaderboardService(recognitions leaderboardSource, cache leaderboardCache, ttl time.Duration, logger *zap.Logger) *LeaderboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaderboardService{recognitions: recognitions, cache: cache, ttl: ttl, logger: logger}
}

// TopRecipients returns the month's leaderboard, limit clamped to 1..100.
func (s *LeaderboardService) TopRecipients(ctx context.Context, bucket time.Time, limit int) (*models.Leaderboard, error) {
	bucket = models.MonthBucket(bucket)
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	key := repository.LeaderboardKey(bucket, limit)
	if s.cache != nil {
		var cached models.Leaderboard
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("leaderboard cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	entries, err := s.recognitions.TopRecipients(ctx, nil, bucket, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build leaderboard")
	}

	board := &models.Leaderboard{
		MonthBucket: bucket,
		Entries:     entries,
		GeneratedAt: time.Now().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, board, s.ttl); err != nil {
			s.logger.Warn("leaderboard cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return board, nil
}
