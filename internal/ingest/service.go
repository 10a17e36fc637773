// Package ingest orchestrates one ingestion request end to end: raw
// retention, chunked normalization, partitioned accumulation, artifact
// upload, and manifest registration.
//
// The raw input is persisted verbatim before any parsing, so every request
// leaves a replayable audit copy even when validation rejects it. Processing
// then re-reads the retained copy from storage, keeping memory bounded by the
// chunk ceiling rather than the input size.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/couchcryptid/rainfall-ingest-service/internal/columnar"
	"github.com/couchcryptid/rainfall-ingest-service/internal/config"
	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/manifest"
	"github.com/couchcryptid/rainfall-ingest-service/internal/normalize"
	"github.com/couchcryptid/rainfall-ingest-service/internal/observability"
	"github.com/couchcryptid/rainfall-ingest-service/internal/partition"
	"github.com/couchcryptid/rainfall-ingest-service/internal/storage"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Request is one ingestion submission. A zero Schema selects the default
// rainfall observation layout.
type Request struct {
	Body   io.Reader
	Kind   domain.ContentKind
	Schema domain.Schema
}

// Service runs ingestion requests against an object store and manifest.
// Safe for concurrent use; each request gets its own normalizer and
// partitioner.
type Service struct {
	store     storage.Store
	retrier   *storage.Retrier
	manifests *manifest.Store
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	chunkMaxBytes  int
	granularity    domain.Granularity
	maxRows        int
	maxBytes       int
	driftThreshold float64
}

// NewService wires an ingestion service from config and its dependencies.
func NewService(
	cfg *config.Config,
	store storage.Store,
	retrier *storage.Retrier,
	manifests *manifest.Store,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		store:          store,
		retrier:        retrier,
		manifests:      manifests,
		clock:          clock,
		logger:         logger,
		metrics:        metrics,
		chunkMaxBytes:  cfg.ChunkMaxBytes,
		granularity:    cfg.PartitionGranularity,
		maxRows:        cfg.AccumulatorMaxRows,
		maxBytes:       cfg.AccumulatorMaxBytes,
		driftThreshold: cfg.DriftThreshold,
	}
}

// Ingest runs one request to a terminal status. The returned Result always
// carries the status and rejection counts; err is non-nil only for the two
// failure statuses and wraps the underlying cause.
func (s *Service) Ingest(ctx context.Context, req Request) (domain.Result, error) {
	start := s.clock.Now()

	schema := req.Schema
	if len(schema.Fields) == 0 {
		schema = domain.DefaultObservationSchema()
	}

	res := domain.Result{IngestID: uuid.NewString()}
	logger := s.logger.With("ingest_id", res.IngestID)
	logger.Info("ingestion request", "state", domain.StateReceived, "kind", req.Kind)

	finish := func(status domain.Status, err error) (domain.Result, error) {
		res.Status = status
		s.metrics.IngestRequests.WithLabelValues(string(status)).Inc()
		s.metrics.IngestDuration.Observe(s.clock.Since(start).Seconds())
		if err != nil {
			logger.Error("ingestion finished", "status", status, "error", err)
		} else {
			logger.Info("ingestion finished", "status", status,
				"created", len(res.Created),
				"deduplicated", len(res.Deduplicated),
				"rejected_rows", res.Rejections.Rows,
			)
		}
		return res, err
	}
	fail := func(err error) (domain.Result, error) {
		logger.Warn("ingestion request", "state", domain.StateFailed)
		var transient *domain.TransientStorageError
		if errors.As(err, &transient) {
			return finish(domain.StatusFailedTransient, err)
		}
		return finish(domain.StatusFailedFatal, err)
	}

	// Raw retention comes first so the original bytes survive every later
	// outcome, including rejection. The body streams straight to storage.
	rawPath := storage.RawPath(res.IngestID, req.Kind)
	if err := s.store.Put(ctx, rawPath, req.Body); err != nil {
		return fail(&domain.TransientStorageError{Op: "raw put", Attempts: 1, Err: err})
	}
	res.RawPath = rawPath

	logger.Info("ingestion request", "state", domain.StateValidating)
	norm, err := normalize.New(schema, req.Kind, s.driftThreshold, logger)
	if err != nil {
		return fail(err)
	}

	part := partition.New(schema, s.granularity, s.maxRows, s.maxBytes,
		s.flushFunc(schema, &res), s.metrics)
	defer part.Discard()

	var raw io.ReadCloser
	if err := s.retrier.Do(ctx, "raw get", func() error {
		var gerr error
		raw, gerr = s.store.Get(ctx, rawPath)
		return gerr
	}); err != nil {
		return fail(err)
	}
	defer raw.Close()

	logger.Info("ingestion request", "state", domain.StatePartitioning)
	ch := newChunker(raw, req.Kind, s.chunkMaxBytes)
	for {
		chunk, err := ch.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}

		cres, err := norm.NormalizeChunk(chunk)
		res.Rejections.Merge(cres.Rejections)
		s.metrics.RowsNormalized.Add(float64(len(cres.Rows)))
		s.metrics.ValuesCoerced.Add(float64(cres.Coerced))
		for reason, n := range cres.Rejections.Reasons {
			s.metrics.RowsRejected.WithLabelValues(reason).Add(float64(n))
		}

		var drift *domain.SchemaDriftError
		if errors.As(err, &drift) {
			s.metrics.ChunksRejected.Inc()
			logger.Warn("ingestion request", "state", domain.StateRejected,
				"rejected", drift.Rejected, "total", drift.Total)
			return finish(domain.StatusRejectedSchema, nil)
		}
		if err != nil {
			return fail(err)
		}

		for _, row := range cres.Rows {
			if err := part.Add(ctx, row); err != nil {
				return fail(err)
			}
		}
	}

	logger.Info("ingestion request", "state", domain.StateWriting)
	if err := part.FlushAll(ctx); err != nil {
		return fail(err)
	}

	logger.Info("ingestion request", "state", domain.StateUploaded)
	if len(res.Created) == 0 && len(res.Deduplicated) > 0 {
		return finish(domain.StatusDeduplicated, nil)
	}
	// An input with zero valid rows writes nothing and is still a success.
	return finish(domain.StatusCreated, nil)
}

// flushFunc uploads one completed accumulator. Identity is content-addressed:
// an artifact whose fingerprint already exists in the store is not rewritten,
// but its manifest entry is still appended so a crash between upload and
// manifest write heals on replay.
func (s *Service) flushFunc(schema domain.Schema, res *domain.Result) partition.FlushFunc {
	return func(ctx context.Context, key domain.PartitionKey, rows []domain.Row) error {
		enc, err := columnar.Encode(schema, rows)
		if err != nil {
			return err
		}

		artifact := domain.Artifact{
			Key:         key,
			Fingerprint: enc.Fingerprint,
			Rows:        enc.Rows,
			Bytes:       int64(len(enc.Data)),
			Path:        storage.ArtifactPath(key, enc.Fingerprint),
		}

		var exists bool
		if err := s.retrier.Do(ctx, "artifact head", func() error {
			var herr error
			exists, herr = s.store.Exists(ctx, artifact.Path)
			return herr
		}); err != nil {
			return err
		}

		if !exists {
			if err := s.retrier.Do(ctx, "artifact put", func() error {
				return s.store.Put(ctx, artifact.Path, bytes.NewReader(enc.Data))
			}); err != nil {
				return err
			}
		}

		if _, err := s.manifests.Append(ctx, artifact); err != nil {
			return err
		}

		if exists {
			res.Deduplicated = append(res.Deduplicated, artifact)
			s.metrics.ArtifactsWritten.WithLabelValues("deduplicated").Inc()
			return nil
		}
		res.Created = append(res.Created, artifact)
		s.metrics.ArtifactsWritten.WithLabelValues("created").Inc()
		s.metrics.ArtifactBytes.Observe(float64(len(enc.Data)))
		s.metrics.ArtifactRows.Observe(float64(enc.Rows))
		return nil
	}
}

// CheckReadiness verifies the object store answers requests.
func (s *Service) CheckReadiness(ctx context.Context) error {
	_, err := s.store.Exists(ctx, "readiness/probe")
	return err
}
