package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

// Cache key layout. Balance keys are invalidated on every ledger append for
// the student; leaderboard keys expire by TTL or on transfer.
const (
	balanceKeyFmt        = "boostly:balance:%s"
	leaderboardKeyFmt    = "boostly:leaderboard:%s:%d"
	leaderboardKeyPrefix = "boostly:leaderboard:"
)

// CacheRepository provides helpers around Redis for derived-view caching.
// A nil client degrades to a no-op cache.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// BalanceKey returns the cache key for a student's balance.
func BalanceKey(studentID string) string {
	return fmt.Sprintf(balanceKeyFmt, studentID)
}

// LeaderboardKey returns the cache key for one month's leaderboard.
func LeaderboardKey(bucket time.Time, limit int) string {
	return fmt.Sprintf(leaderboardKeyFmt, bucket.Format("2006-01"), limit)
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// InvalidateBalance drops the cached balance for one student.
func (r *CacheRepository) InvalidateBalance(ctx context.Context, studentID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, BalanceKey(studentID)).Err(); err != nil {
		return fmt.Errorf("redis delete balance for %s: %w", studentID, err)
	}
	return nil
}

// InvalidateLeaderboards drops all cached leaderboards.
func (r *CacheRepository) InvalidateLeaderboards(ctx context.Context) error {
	if r.client == nil {
		return nil
	}

	iter := r.client.Scan(ctx, 0, leaderboardKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan leaderboards: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
