// Package kafka consumes raw observation files from a Kafka topic.
//
// One message value is one complete raw input file; the content_kind header
// selects the framing, defaulting to delimited text. Offsets commit only
// after the request reaches a terminal status. A transient storage failure
// leaves the offset uncommitted, so the broker redelivers and the
// content-addressed artifacts make the replay idempotent.
package kafka

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/couchcryptid/rainfall-ingest-service/internal/config"
	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/ingest"
	kafkago "github.com/segmentio/kafka-go"
)

// Ingestor runs one ingestion request to a terminal status.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (domain.Result, error)
}

// Reader consumes raw files from the source topic and feeds them through the
// ingestion pipeline.
type Reader struct {
	reader   *kafkago.Reader
	ingestor Ingestor
	logger   *slog.Logger
}

// NewReader creates a consumer for the configured source topic.
func NewReader(cfg *config.Config, ingestor Ingestor, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaSourceTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 64 << 20, // one message carries a whole raw file
	})
	return &Reader{reader: r, ingestor: ingestor, logger: logger}
}

// Run fetches and ingests messages until the context is cancelled.
func (r *Reader) Run(ctx context.Context) error {
	r.logger.Info("kafka consumer started", "topic", r.reader.Config().Topic)
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				r.logger.Info("kafka consumer stopped")
				return nil
			}
			return fmt.Errorf("kafka: fetch message: %w", err)
		}

		if !r.handleMessage(ctx, msg) {
			continue
		}
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("kafka: commit offset %d: %w", msg.Offset, err)
		}
	}
}

// handleMessage ingests one message and reports whether its offset should be
// committed.
func (r *Reader) handleMessage(ctx context.Context, msg kafkago.Message) bool {
	kind := kindFromHeaders(msg.Headers)
	logger := r.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	res, err := r.ingestor.Ingest(ctx, ingest.Request{
		Body: bytes.NewReader(msg.Value),
		Kind: kind,
	})
	switch res.Status {
	case domain.StatusFailedTransient:
		// Not terminal: leave the offset so the broker redelivers.
		logger.Warn("ingestion failed transiently, message will be redelivered", "error", err)
		return false
	case domain.StatusFailedFatal:
		logger.Error("ingestion failed fatally, skipping message", "ingest_id", res.IngestID, "error", err)
		return true
	default:
		logger.Info("message ingested", "ingest_id", res.IngestID, "status", res.Status)
		return true
	}
}

// Close shuts down the consumer and leaves the group.
func (r *Reader) Close() error {
	return r.reader.Close()
}

func kindFromHeaders(headers []kafkago.Header) domain.ContentKind {
	for _, h := range headers {
		if h.Key != "content_kind" {
			continue
		}
		if kind, err := domain.ParseContentKind(string(h.Value)); err == nil {
			return kind
		}
	}
	return domain.KindDelimited
}
