package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/server/handler"
	"github.com/alanyoungcy/escrowmarket/internal/server/middleware"
	"github.com/alanyoungcy/escrowmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, API-key authentication is disabled

	// RateLimit requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Operations *handler.OperationsHandler
	Accounts   *handler.AccountHandler
	Metrics    http.Handler
}

// Deps are the cross-cutting collaborators of the middleware chain.
type Deps struct {
	Verifier *crypto.Verifier
	Limiter  domain.RateLimiter
	Observer middleware.RequestObserver
}

// Server is the HTTP + WebSocket API of escrowd.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, deps, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	signed := middleware.Signature(deps.Verifier, logger)
	write := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, signed(fn))
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Reads.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Markets.ListBets)
	mux.HandleFunc("GET /api/markets/{id}/bets/{user}", handlers.Markets.GetBet)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Markets.Quote)
	mux.HandleFunc("GET /api/markets/{id}/events", handlers.Markets.ListEvents)
	mux.HandleFunc("GET /api/accounts/{id}/balance", handlers.Accounts.Balance)

	// Ledger operations, signed by the caller.
	ops := handlers.Operations
	write("POST /api/markets", ops.CreateMarket)
	write("POST /api/markets/{id}/bets", ops.PlaceBet)
	write("POST /api/markets/{id}/resolve", ops.Resolve)
	write("POST /api/markets/{id}/claim", ops.Claim)
	write("POST /api/markets/{id}/refund", ops.Refund)
	write("POST /api/markets/{id}/cancel", ops.Cancel)
	write("POST /api/markets/{id}/close-escrow", ops.CloseEscrow)
	write("PUT /api/markets/{id}/resolver", ops.SetResolver)

	if handlers.Accounts.CanDeposit() {
		mux.HandleFunc("POST /api/accounts/{id}/deposit", handlers.Accounts.Deposit)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if cfg.RateLimit > 0 && deps.Limiter != nil {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger, deps.Observer)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
