// Package server exposes the bot's operational HTTP surface: health,
// Prometheus metrics, queries over positions and the audit log, and wallet
// operations in trading modes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/server/handler"
	"github.com/Iaminblockchain/MoonBot-sub000/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting even when a limiter is provided.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Wallets is
// optional; modes without signing keys leave it nil and the wallet routes
// are not registered.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Audit     *handler.AuditHandler
	Wallets   *handler.WalletHandler
}

// Server is the operational HTTP server for the bot.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. registry backs
// the /metrics endpoint; limiter may be nil to skip rate limiting.
func NewServer(cfg Config, handlers Handlers, registry *prometheus.Registry, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	if handlers.Wallets != nil {
		mux.HandleFunc("POST /api/wallets", handlers.Wallets.CreateWallet)
		mux.HandleFunc("POST /api/transfer", handlers.Wallets.Transfer)
	}

	var h http.Handler = mux

	// Auth skips itself when no key is configured.
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
