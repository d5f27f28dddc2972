// Package server implements the HTTP server that exposes the support
// knowledge base over a REST API: document ingestion, retrieval, and
// similarity search. The server is started by the `supportagent serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TonyKrueger/support-agent-one/internal/logging"
	"github.com/TonyKrueger/support-agent-one/internal/storage"
)

// New constructs a Server from the provided pipeline, search service,
// document store, and config.
func New(pipeline ingestor, svc searcher, docs documentStore, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("server: ingest pipeline must not be nil")
	}
	if svc == nil {
		return nil, fmt.Errorf("server: search service must not be nil")
	}
	if docs == nil {
		return nil, fmt.Errorf("server: document store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Ingest requests embed every chunk before responding.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		reg := prometheus.NewRegistry()
		cfg.MetricsRegistry = reg
		cfg.MetricsGatherer = reg
	}
	if cfg.MetricsGatherer == nil {
		if reg, ok := cfg.MetricsRegistry.(*prometheus.Registry); ok {
			cfg.MetricsGatherer = reg
		} else {
			cfg.MetricsGatherer = prometheus.DefaultGatherer
		}
	}

	s := &Server{
		pipeline: pipeline,
		searcher: svc,
		docs:     docs,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}
	if cfg.CacheHitRate != nil {
		registerCacheGauge(cfg.MetricsRegistry, cfg.CacheHitRate)
	}

	if cfg.APIKey == "" {
		s.log.Warn("API key not configured, authentication disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	// Protected routes carry auth and per-IP rate limiting; probe and
	// metrics endpoints stay open so orchestrators can reach them.
	protected := func(name string, h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/documents", protected("documents_create", s.handleCreateDocument))
	mux.Handle("GET /api/documents", protected("documents_list", s.handleListDocuments))
	mux.Handle("GET /api/documents/{id}", protected("documents_get", s.handleGetDocument))
	mux.Handle("PUT /api/documents/{id}", protected("documents_update", s.handleUpdateDocument))
	mux.Handle("DELETE /api/documents/{id}", protected("documents_delete", s.handleDeleteDocument))
	mux.Handle("POST /api/search", protected("search", s.handleSearch))
	mux.Handle("GET /api/health", s.instrument("health", s.handleHealth))
	mux.Handle("GET /api/ready", s.instrument("ready", s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// writeError sends a JSON error body with the given status.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// statusFor maps a storage or search error to an HTTP status code.
func statusFor(err error) int {
	var ve *storage.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
