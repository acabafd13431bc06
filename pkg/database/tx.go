package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

// TxFunc executes statements within a single unit of work. The same function
// may run more than once, so it must not carry state across attempts.
type TxFunc func(ctx context.Context, tx sqlx.ExtContext) error

// TxRunner executes a function inside a bounded, serializable transaction.
type TxRunner interface {
	Serializable(ctx context.Context, fn TxFunc) error
}

// SerializableRunner runs units of work at SERIALIZABLE isolation with a
// per-unit timeout and bounded retries on serialization failures.
type SerializableRunner struct {
	db         *sqlx.DB
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger

	// OnRetry is invoked once per retried attempt, for instrumentation.
	OnRetry func()
}

// NewSerializableRunner constructs a runner with the provided bounds.
func NewSerializableRunner(db *sqlx.DB, timeout time.Duration, maxRetries int, backoff time.Duration, logger *zap.Logger) *SerializableRunner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerializableRunner{db: db, timeout: timeout, maxRetries: maxRetries, backoff: backoff, logger: logger}
}

// Serializable executes fn within a serializable transaction, retrying
// serialization failures up to the configured bound. Timeouts abort the
// transaction and surface as a retryable conflict to the caller.
func (r *SerializableRunner) Serializable(ctx context.Context, fn TxFunc) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if r.OnRetry != nil {
				r.OnRetry()
			}
			select {
			case <-time.After(time.Duration(attempt) * r.backoff):
			case <-ctx.Done():
				return appErrors.Wrap(ctx.Err(), appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "unit of work cancelled")
			}
		}

		lastErr = r.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		r.logger.Warn("serializable unit of work retried",
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return appErrors.Wrap(lastErr, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "unit of work aborted after retries")
}

func (r *SerializableRunner) attempt(ctx context.Context, fn TxFunc) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(attemptCtx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}

	if err := fn(attemptCtx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return nil
}

// retryable reports whether the error is a PostgreSQL serialization failure,
// a deadlock, or an attempt timeout.
func retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return true
		}
	}
	return errors.Is(err, context.DeadlineExceeded)
}
