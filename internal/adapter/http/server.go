// Package http exposes the ingestion API plus health, readiness, and metrics
// endpoints.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/rainfall-ingest-service/internal/domain"
	"github.com/couchcryptid/rainfall-ingest-service/internal/ingest"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestor runs one ingestion request to a terminal status.
type Ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (domain.Result, error)
}

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server exposes the ingestion endpoint alongside health, readiness, and
// metrics routes.
type Server struct {
	httpServer *http.Server
	ingestor   Ingestor
	logger     *slog.Logger
}

// NewServer creates the HTTP server with /ingest, /healthz, /readyz, and
// /metrics routes.
func NewServer(addr string, ingestor Ingestor, ready ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Minute, // large uploads stream slowly
			IdleTimeout: 60 * time.Second,
		},
		ingestor: ingestor,
		logger:   logger,
	}

	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleIngest streams the request body through the pipeline. The Content-Type
// header selects the input framing.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseContentKind(r.Header.Get("Content-Type"))
	if err != nil {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": err.Error()})
		return
	}

	res, err := s.ingestor.Ingest(r.Context(), ingest.Request{Body: r.Body, Kind: kind})
	if err != nil {
		s.logger.Error("ingestion request failed", "ingest_id", res.IngestID, "status", res.Status, "error", err)
	}
	writeJSON(w, statusCode(res.Status), res)
}

// statusCode maps a terminal ingestion status onto an HTTP response code.
func statusCode(status domain.Status) int {
	switch status {
	case domain.StatusCreated:
		return http.StatusCreated
	case domain.StatusDeduplicated:
		return http.StatusOK
	case domain.StatusRejectedSchema:
		return http.StatusUnprocessableEntity
	case domain.StatusFailedTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response body
}
