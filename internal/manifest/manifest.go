// Package manifest maintains the durable index mapping partition keys to
// their artifacts.
//
// Each partition's manifest is one JSON document in the object store,
// rewritten whole on every mutation so readers only ever observe a complete
// state. A generation counter increments on each mutation; Replace refuses
// to swap when the generation moved underneath it, which is how a compaction
// detects an uploader appending mid-merge.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/storage"
	"github.com/jonboulle/clockwork"
)

// Store reads and mutates manifest documents. Append and Replace serialize
// per partition key through an in-process lock; the service runs a single
// uploader/compactor pair per deployment, so in-process exclusion suffices.
type Store struct {
	store   storage.Store
	retrier *storage.Retrier
	clock   clockwork.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[domain.PartitionKey]*sync.Mutex
}

// New creates a manifest store on top of the object store.
func New(store storage.Store, retrier *storage.Retrier, clock clockwork.Clock, logger *slog.Logger) *Store {
	return &Store{
		store:   store,
		retrier: retrier,
		clock:   clock,
		logger:  logger,
		locks:   make(map[domain.PartitionKey]*sync.Mutex),
	}
}

// Get loads one partition's manifest. A partition with no manifest yet
// returns an empty entry at generation zero.
func (s *Store) Get(ctx context.Context, key domain.PartitionKey) (domain.ManifestEntry, error) {
	var entry domain.ManifestEntry

	err := s.retrier.Do(ctx, "manifest get", func() error {
		rc, err := s.store.Get(ctx, storage.ManifestPath(key))
		if err != nil {
			return err
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &entry)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ManifestEntry{Key: key}, nil
	}
	if err != nil {
		return domain.ManifestEntry{}, err
	}
	return entry, nil
}

// Append records an artifact under its partition key. Appending an artifact
// whose fingerprint is already present is a no-op set-union, which makes
// replayed uploads idempotent. Returns whether the entry changed.
func (s *Store) Append(ctx context.Context, artifact domain.Artifact) (bool, error) {
	unlock := s.lockKey(artifact.Key)
	defer unlock()

	entry, err := s.Get(ctx, artifact.Key)
	if err != nil {
		return false, err
	}

	if entry.HasFingerprint(artifact.Fingerprint) {
		return false, nil
	}

	artifact.CreatedAt = s.clock.Now().UTC()
	entry.Artifacts = append(entry.Artifacts, artifact)
	entry.Generation++

	if err := s.write(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}

// Replace atomically swaps the artifacts named by remove (fingerprints) for
// the single merged artifact. expectedGeneration must match the entry's
// current generation; any interleaved mutation surfaces as a
// [domain.CompactionConflictError] and nothing is written.
func (s *Store) Replace(ctx context.Context, key domain.PartitionKey, remove []string, merged domain.Artifact, expectedGeneration int64) error {
	unlock := s.lockKey(key)
	defer unlock()

	entry, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if entry.Generation != expectedGeneration {
		return &domain.CompactionConflictError{Key: key}
	}

	removeSet := make(map[string]bool, len(remove))
	for _, fp := range remove {
		if !entry.HasFingerprint(fp) {
			return fmt.Errorf("manifest: artifact %s not present in partition %s", fp, key)
		}
		removeSet[fp] = true
	}

	kept := entry.Artifacts[:0]
	for _, a := range entry.Artifacts {
		if !removeSet[a.Fingerprint] {
			kept = append(kept, a)
		}
	}
	merged.CreatedAt = s.clock.Now().UTC()
	entry.Artifacts = append(kept, merged)
	entry.Generation++

	return s.write(ctx, entry)
}

// Entries loads every partition manifest, for the compactor's scan.
func (s *Store) Entries(ctx context.Context) ([]domain.ManifestEntry, error) {
	var objs []storage.Object
	err := s.retrier.Do(ctx, "manifest list", func() error {
		var listErr error
		objs, listErr = s.store.List(ctx, storage.ManifestPrefix())
		return listErr
	})
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ManifestEntry, 0, len(objs))
	for _, obj := range objs {
		var entry domain.ManifestEntry
		loadErr := s.retrier.Do(ctx, "manifest get", func() error {
			rc, err := s.store.Get(ctx, obj.Key)
			if err != nil {
				return err
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return err
			}
			return json.Unmarshal(data, &entry)
		})
		if errors.Is(loadErr, storage.ErrNotFound) {
			// Deleted between list and get; skip.
			continue
		}
		if loadErr != nil {
			return nil, loadErr
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) write(ctx context.Context, entry domain.ManifestEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("manifest: marshal entry: %w", err)
	}
	return s.retrier.Do(ctx, "manifest put", func() error {
		return s.store.Put(ctx, storage.ManifestPath(entry.Key), bytes.NewReader(data))
	})
}

func (s *Store) lockKey(key domain.PartitionKey) func() {
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
