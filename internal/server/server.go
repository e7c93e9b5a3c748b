// Package server is the HTTP + WebSocket surface of the wager service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/server/handler"
	"github.com/aklo360/cc-sub001/internal/server/middleware"
	"github.com/aklo360/cc-sub001/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // operator routes are closed when empty
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Wagers      *handler.WagerHandler
	Treasury    *handler.TreasuryHandler
	Maintenance *handler.MaintenanceHandler
}

// Server wraps http.Server with the registered routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in rate limiting, request
// logging and CORS. wsHub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           Routes(cfg, handlers, wsHub, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Resolve waits on chain verification and the payout transfer.
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler chain.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	operator := middleware.RequireKey(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/wagers", handlers.Wagers.Commit)
	mux.HandleFunc("POST /api/wagers/{id}/resolve", handlers.Wagers.Resolve)
	mux.HandleFunc("GET /api/wagers/{id}", handlers.Wagers.Get)
	mux.HandleFunc("DELETE /api/wagers/{id}", handlers.Wagers.Cancel)
	mux.HandleFunc("GET /api/risk/daily", handlers.Wagers.DailyRisk)

	mux.HandleFunc("GET /api/treasury", handlers.Treasury.Status)
	mux.Handle("GET /api/payouts/pending", operator(http.HandlerFunc(handlers.Treasury.Pending)))
	mux.Handle("POST /api/payouts/{id}/settle", operator(http.HandlerFunc(handlers.Treasury.Settle)))
	mux.Handle("DELETE /api/wallets/{wallet}/pending", operator(http.HandlerFunc(handlers.Wagers.CancelWallet)))
	mux.Handle("GET /api/maintenance/runs", operator(http.HandlerFunc(handlers.Maintenance.ListRuns)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
