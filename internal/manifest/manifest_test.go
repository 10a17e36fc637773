package manifest_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/manifest"
	"github.com/couchcryptid/rainfall-ingest-service/internal/observability"
	"github.com/couchcryptid/rainfall-ingest-service/internal/storage"
	"github.com/couchcryptid/rainfall-ingest-service/internal/storage/memory"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*manifest.Store, *memory.Store, *clockwork.FakeClock) {
	t.Helper()
	mem := memory.New()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	retrier := &storage.Retrier{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		Logger:      slog.Default(),
		Metrics:     observability.NewMetricsForTesting(),
	}
	return manifest.New(mem, retrier, clock, slog.Default()), mem, clock
}

func artifactFor(key domain.PartitionKey, fp string) domain.Artifact {
	return domain.Artifact{
		Key:         key,
		Fingerprint: fp,
		Rows:        10,
		Bytes:       512,
		Path:        storage.ArtifactPath(key, fp),
	}
}

func TestStore_GetMissingReturnsEmptyEntry(t *testing.T) {
	store, _, _ := newTestStore(t)
	key := domain.PartitionKey{Year: 2025, Month: 1, Granularity: domain.GranularityMonth}

	entry, err := store.Get(context.Background(), key)

	require.NoError(t, err)
	assert.Equal(t, key, entry.Key)
	assert.Zero(t, entry.Generation)
	assert.Empty(t, entry.Artifacts)
}

func TestStore_AppendBumpsGenerationAndStampsTime(t *testing.T) {
	store, _, clock := newTestStore(t)
	key := domain.PartitionKey{Year: 2025, Month: 1, Granularity: domain.GranularityMonth}

	added, err := store.Append(context.Background(), artifactFor(key, "aaaa000011112222"))
	require.NoError(t, err)
	assert.True(t, added)

	entry, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Generation)
	require.Len(t, entry.Artifacts, 1)
	assert.Equal(t, clock.Now().UTC(), entry.Artifacts[0].CreatedAt)
}

func TestStore_AppendIsIdempotentByFingerprint(t *testing.T) {
	store, _, _ := newTestStore(t)
	key := domain.PartitionKey{Year: 2025, Month: 1, Granularity: domain.GranularityMonth}
	artifact := artifactFor(key, "aaaa000011112222")

	added, err := store.Append(context.Background(), artifact)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.Append(context.Background(), artifact)
	require.NoError(t, err)
	assert.False(t, added)

	entry, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Generation)
	assert.Len(t, entry.Artifacts, 1)
}

func TestStore_ReplaceSwapsArtifactsAtExpectedGeneration(t *testing.T) {
	store, _, _ := newTestStore(t)
	key := domain.PartitionKey{Year: 2025, Month: 1, Granularity: domain.GranularityMonth}

	_, err := store.Append(context.Background(), artifactFor(key, "aaaa000011112222"))
	require.NoError(t, err)
	_, err = store.Append(context.Background(), artifactFor(key, "bbbb000011112222"))
	require.NoError(t, err)

	merged := artifactFor(key, "cccc000011112222")
	err = store.Replace(context.Background(), key,
		[]string{"aaaa000011112222", "bbbb000011112222"}, merged, 2)
	require.NoError(t, err)

	entry, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Generation)
	require.Len(t, entry.Artifacts, 1)
	assert.Equal(t, "cccc000011112222", entry.Artifacts[0].Fingerprint)
}

func TestStore_ReplaceRejectsStaleGeneration(t *testing.T) {
	store, _, _ := newTestStore(t)
	key := domain.PartitionKey{Year: 2025, Month: 1, Granularity: domain.GranularityMonth}

	_, err := store.Append(context.Background(), artifactFor(key, "aaaa000011112222"))
	require.NoError(t, err)
	_, err = store.Append(context.Background(), artifactFor(key, "bbbb000011112222"))
	require.NoError(t, err)

	merged := artifactFor(key, "cccc000011112222")
	err = store.Replace(context.Background(), key, []string{"aaaa000011112222"}, merged, 1)

	var conflict *domain.CompactionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, key, conflict.Key)

	// Nothing was mutated.
	entry, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Generation)
	assert.Len(t, entry.Artifacts, 2)
}

func TestStore_ReplaceRejectsUnknownFingerprint(t *testing.T) {
	store, _, _ := newTestStore(t)
	key := domain.PartitionKey{Year: 2025, Month: 1, Granularity: domain.GranularityMonth}

	_, err := store.Append(context.Background(), artifactFor(key, "aaaa000011112222"))
	require.NoError(t, err)

	merged := artifactFor(key, "cccc000011112222")
	err = store.Replace(context.Background(), key, []string{"ffff000011112222"}, merged, 1)
	require.Error(t, err)
}

func TestStore_EntriesListsAllPartitions(t *testing.T) {
	store, _, _ := newTestStore(t)
	jan := domain.PartitionKey{Year: 2025, Month: 1, Granularity: domain.GranularityMonth}
	feb := domain.PartitionKey{Year: 2025, Month: 2, Granularity: domain.GranularityMonth}

	_, err := store.Append(context.Background(), artifactFor(jan, "aaaa000011112222"))
	require.NoError(t, err)
	_, err = store.Append(context.Background(), artifactFor(feb, "bbbb000011112222"))
	require.NoError(t, err)

	entries, err := store.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, jan, entries[0].Key)
	assert.Equal(t, feb, entries[1].Key)
}

func TestStore_AppendRetriesTransientPutFailures(t *testing.T) {
	store, mem, _ := newTestStore(t)
	mem.FailPuts = 2
	key := domain.PartitionKey{Year: 2025, Month: 1, Granularity: domain.GranularityMonth}

	added, err := store.Append(context.Background(), artifactFor(key, "aaaa000011112222"))
	require.NoError(t, err)
	assert.True(t, added)
}
