// Package server exposes the read-only signal feed over HTTP and pushes new
// signals to websocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polygraph/internal/domain"
	"github.com/alanyoungcy/polygraph/internal/server/handler"
	"github.com/alanyoungcy/polygraph/internal/server/middleware"
	"github.com/alanyoungcy/polygraph/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Signals *handler.SignalHandler
	Markets *handler.MarketHandler
	// Audit serves /api/audit when non-nil.
	Audit *handler.AuditHandler
	// Metrics serves /metrics when non-nil.
	Metrics http.Handler
}

// Options are the optional collaborators of a Server.
type Options struct {
	// Hub serves /ws when non-nil.
	Hub *ws.Hub
	// Limiter enables per-client rate limiting when non-nil and
	// Config.RateLimit is positive.
	Limiter  domain.RateLimiter
	Observer middleware.RequestObserver
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/signals", handlers.Signals.ListSignals)
	mux.HandleFunc("GET /api/signals/top", handlers.Signals.TopSignals)
	mux.HandleFunc("GET /api/stats", handlers.Signals.Stats)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	// Innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if opts.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(opts.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger, "/api/health", "/metrics")(h)
	if opts.Observer != nil {
		h = middleware.Metrics(opts.Observer)(h)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
