package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/rainfall-ingest-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/rainfall-ingest-service/internal/adapter/kafka"
	"github.com/couchcryptid/rainfall-ingest-service/internal/compact"
	"github.com/couchcryptid/rainfall-ingest-service/internal/config"
	"github.com/couchcryptid/rainfall-ingest-service/internal/ingest"
	"github.com/couchcryptid/rainfall-ingest-service/internal/manifest"
	"github.com/couchcryptid/rainfall-ingest-service/internal/observability"
	"github.com/couchcryptid/rainfall-ingest-service/internal/storage"
	"github.com/couchcryptid/rainfall-ingest-service/internal/storage/s3"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	store, err := s3.New(cfg)
	if err != nil {
		logger.Error("failed to initialize object store", "error", err)
		os.Exit(1)
	}

	retrier := &storage.Retrier{
		MaxAttempts: cfg.RetryMaxAttempts,
		BackoffBase: cfg.RetryBackoffBase,
		Logger:      logger,
		Metrics:     metrics,
	}
	manifests := manifest.New(store, retrier, clock, logger)
	svc := ingest.NewService(cfg, store, retrier, manifests, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, svc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if cfg.CompactionEnabled {
		compactor := compact.New(cfg, store, retrier, manifests, clock, logger, metrics)
		go compactor.Run(ctx)
	} else {
		logger.Info("compaction disabled")
	}

	var reader *kafkaadapter.Reader
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, svc, logger)
		go func() {
			if err := reader.Run(ctx); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	} else {
		logger.Info("kafka ingress disabled")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
