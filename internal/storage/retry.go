package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/observability"
)

// Retrier runs storage operations under a bounded exponential backoff.
// Missing objects and context cancellation are never retried; everything
// else is treated as transient until the attempts run out, at which
// point the failure surfaces as a [domain.TransientStorageError].
type Retrier struct {
	MaxAttempts int
	BackoffBase time.Duration
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Do runs fn up to MaxAttempts times. op names the operation for logs and
// the surfaced error.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	backoff := r.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return err
		}
		lastErr = err

		if attempt == r.MaxAttempts {
			break
		}
		r.Logger.Warn("storage operation failed, retrying",
			"op", op, "attempt", attempt, "backoff", backoff, "error", err)
		if r.Metrics != nil {
			r.Metrics.StorageRetries.Inc()
		}
		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff *= 2
	}

	return &domain.TransientStorageError{Op: op, Attempts: r.MaxAttempts, Err: lastErr}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
