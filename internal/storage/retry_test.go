package storage_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/observability"
	"github.com/couchcryptid/rainfall-ingest-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetrier(attempts int) *storage.Retrier {
	return &storage.Retrier{
		MaxAttempts: attempts,
		BackoffBase: time.Millisecond,
		Logger:      slog.Default(),
		Metrics:     observability.NewMetricsForTesting(),
	}
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	r := newRetrier(5)
	calls := 0

	err := r.Do(context.Background(), "put", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_ExhaustionSurfacesTransientError(t *testing.T) {
	r := newRetrier(3)
	calls := 0

	err := r.Do(context.Background(), "put", func() error {
		calls++
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var transient *domain.TransientStorageError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "put", transient.Op)
	assert.Equal(t, 3, transient.Attempts)
}

func TestRetrier_NotFoundIsNotRetried(t *testing.T) {
	r := newRetrier(5)
	calls := 0

	err := r.Do(context.Background(), "get", func() error {
		calls++
		return storage.ErrNotFound
	})

	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestRetrier_StopsOnCancelledContext(t *testing.T) {
	r := newRetrier(10)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := r.Do(ctx, "put", func() error {
		calls++
		cancel()
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
