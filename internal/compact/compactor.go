// Package compact merges small columnar artifacts into larger ones, out of
// band from ingestion.
//
// A partition becomes a candidate when its manifest lists more artifacts than
// the fanout threshold. The merge preserves the multiset of rows exactly,
// concatenating artifacts in manifest order, and swaps the manifest with a
// generation check: if an uploader appended mid-merge, the swap fails with a
// conflict, the cycle moves on, and the partition is retried next interval.
// Losing a race costs nothing but the discarded merge work.
package compact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/columnar"
	"github.com/couchcryptid/rainfall-ingest-service/internal/config"
	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/manifest"
	"github.com/couchcryptid/rainfall-ingest-service/internal/observability"
	"github.com/couchcryptid/rainfall-ingest-service/internal/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentMerges bounds how many partitions one cycle merges at a time.
const maxConcurrentMerges = 4

// Compactor periodically scans the manifests and merges fragmented
// partitions.
type Compactor struct {
	store     storage.Store
	retrier   *storage.Retrier
	manifests *manifest.Store
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	fanout   int
	interval time.Duration
}

// New wires a Compactor from config and its dependencies.
func New(
	cfg *config.Config,
	store storage.Store,
	retrier *storage.Retrier,
	manifests *manifest.Store,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Compactor {
	return &Compactor{
		store:     store,
		retrier:   retrier,
		manifests: manifests,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		fanout:    cfg.CompactionFanout,
		interval:  cfg.CompactionInterval,
	}
}

// Run executes compaction cycles on the configured interval until the
// context is cancelled. Cycle errors are logged, never fatal.
func (c *Compactor) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("compactor started", "interval", c.interval, "fanout_threshold", c.fanout)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("compactor stopped")
			return
		case <-ticker.Chan():
			if _, err := c.RunOnce(ctx); err != nil {
				c.logger.Error("compaction cycle failed", "error", err)
			}
		}
	}
}

// CycleStats summarizes one compaction cycle.
type CycleStats struct {
	Candidates int
	Merged     int
	Conflicts  int
}

// RunOnce scans every partition manifest and merges the fragmented ones.
// Per-partition failures are aggregated; one bad partition does not stop the
// others.
func (c *Compactor) RunOnce(ctx context.Context) (CycleStats, error) {
	entries, err := c.manifests.Entries(ctx)
	if err != nil {
		return CycleStats{}, fmt.Errorf("compact: scan manifests: %w", err)
	}

	var stats CycleStats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentMerges)

	results := make([]error, len(entries))
	for i, entry := range entries {
		if len(entry.Artifacts) <= c.fanout {
			continue
		}
		stats.Candidates++
		g.Go(func() error {
			results[i] = c.compactPartition(gctx, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	var merr *multierror.Error
	for i, entry := range entries {
		err := results[i]
		switch {
		case err == nil:
			if len(entry.Artifacts) > c.fanout {
				stats.Merged++
			}
		case isConflict(err):
			stats.Conflicts++
		default:
			merr = multierror.Append(merr, fmt.Errorf("partition %s: %w", entry.Key, err))
		}
	}
	return stats, merr.ErrorOrNil()
}

// compactPartition merges all of one partition's artifacts into a single
// replacement, in manifest order, and swaps the manifest at the generation
// observed during the scan.
func (c *Compactor) compactPartition(ctx context.Context, entry domain.ManifestEntry) error {
	start := c.clock.Now()
	logger := c.logger.With("partition", entry.Key.String())

	outcome := "error"
	defer func() {
		c.metrics.CompactionCycles.WithLabelValues(outcome).Inc()
		c.metrics.CompactionDuration.Observe(c.clock.Since(start).Seconds())
	}()

	schema, rows, err := c.loadRows(ctx, entry)
	if err != nil {
		return err
	}

	enc, err := columnar.Encode(schema, rows)
	if err != nil {
		return err
	}
	merged := domain.Artifact{
		Key:         entry.Key,
		Fingerprint: enc.Fingerprint,
		Rows:        enc.Rows,
		Bytes:       int64(len(enc.Data)),
		Path:        storage.ArtifactPath(entry.Key, enc.Fingerprint),
	}

	if err := c.retrier.Do(ctx, "merged artifact put", func() error {
		return c.store.Put(ctx, merged.Path, bytes.NewReader(enc.Data))
	}); err != nil {
		return err
	}

	remove := make([]string, len(entry.Artifacts))
	for i, a := range entry.Artifacts {
		remove[i] = a.Fingerprint
	}
	if err := c.manifests.Replace(ctx, entry.Key, remove, merged, entry.Generation); err != nil {
		if isConflict(err) {
			outcome = "conflict"
			logger.Info("compaction lost race to a concurrent append, will retry next cycle")
			// The orphaned merge object is removed so a later cycle can
			// rebuild it from the new artifact set.
			if delErr := c.store.Delete(ctx, merged.Path); delErr != nil {
				logger.Warn("failed to remove orphaned merge artifact", "path", merged.Path, "error", delErr)
			}
		}
		return err
	}

	outcome = "merged"
	logger.Info("partition compacted",
		"artifacts_merged", len(entry.Artifacts),
		"rows", merged.Rows,
		"fingerprint", merged.Fingerprint,
	)

	// The manifest no longer references the inputs; removing the objects is
	// best effort and an orphan is only wasted space.
	for _, a := range entry.Artifacts {
		if a.Path == merged.Path {
			continue
		}
		if err := c.store.Delete(ctx, a.Path); err != nil {
			logger.Warn("failed to remove merged input artifact", "path", a.Path, "error", err)
		}
	}
	return nil
}

// loadRows decodes every artifact of the partition, in manifest order. All
// artifacts of a partition must carry the same schema.
func (c *Compactor) loadRows(ctx context.Context, entry domain.ManifestEntry) (domain.Schema, []domain.Row, error) {
	var schema domain.Schema
	var rows []domain.Row

	for i, a := range entry.Artifacts {
		var data []byte
		if err := c.retrier.Do(ctx, "artifact get", func() error {
			rc, err := c.store.Get(ctx, a.Path)
			if err != nil {
				return err
			}
			defer rc.Close()
			data, err = io.ReadAll(rc)
			return err
		}); err != nil {
			return domain.Schema{}, nil, err
		}

		artifactSchema, artifactRows, err := columnar.Decode(data)
		if err != nil {
			return domain.Schema{}, nil, fmt.Errorf("decode %s: %w", a.Path, err)
		}
		if i == 0 {
			schema = artifactSchema
		} else if !schema.Equal(artifactSchema) {
			return domain.Schema{}, nil, fmt.Errorf("artifact %s schema differs from partition schema", a.Path)
		}
		rows = append(rows, artifactRows...)
	}
	return schema, rows, nil
}

func isConflict(err error) bool {
	var conflict *domain.CompactionConflictError
	return errors.As(err, &conflict)
}
