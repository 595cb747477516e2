package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/poolbet/internal/domain"
	"github.com/alanyoungcy/poolbet/internal/server/handler"
	"github.com/alanyoungcy/poolbet/internal/server/middleware"
	"github.com/alanyoungcy/poolbet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// QuoteRatePerMinute and StakeRatePerMinute cap each caller; zero
	// disables the limit.
	QuoteRatePerMinute int
	StakeRatePerMinute int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Events      *handler.EventHandler
	Stakes      *handler.StakeHandler
	Settlements *handler.SettlementHandler
	Accounts    *handler.AccountHandler
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// hub may be nil, in which case /ws is not served.
func NewServer(
	cfg Config,
	handlers Handlers,
	hub *ws.Hub,
	verifier middleware.TokenVerifier,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, hub, verifier, limiter, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped http.Handler.
func NewHandler(
	cfg Config,
	handlers Handlers,
	hub *ws.Hub,
	verifier middleware.TokenVerifier,
	limiter domain.RateLimiter,
	logger *slog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	authed := func(h http.HandlerFunc) http.Handler { return middleware.RequireAuth(h) }
	admin := func(h http.HandlerFunc) http.Handler { return middleware.RequireAdmin(h) }
	quoteLimit := middleware.RateLimit(limiter, "quote", cfg.QuoteRatePerMinute, time.Minute, logger)
	stakeLimit := middleware.RateLimit(limiter, "stake", cfg.StakeRatePerMinute, time.Minute, logger)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/events/{id}", handlers.Events.GetEvent)
	mux.Handle("POST /api/events", admin(handlers.Events.CreateEvent))
	mux.Handle("GET /api/events/{id}/quote", middleware.RequireAuth(quoteLimit(http.HandlerFunc(handlers.Events.Quote))))

	mux.Handle("POST /api/events/{id}/stakes", middleware.RequireAuth(stakeLimit(http.HandlerFunc(handlers.Stakes.PlaceStake))))
	mux.Handle("GET /api/events/{id}/stakes", admin(handlers.Stakes.ListStakes))
	mux.Handle("GET /api/stakes/{id}", authed(handlers.Stakes.GetStake))

	mux.Handle("POST /api/events/{id}/settle", admin(handlers.Settlements.Settle))
	mux.HandleFunc("GET /api/events/{id}/settlement", handlers.Settlements.GetSettlement)

	mux.Handle("POST /api/accounts", admin(handlers.Accounts.CreateAccount))
	mux.Handle("GET /api/accounts/{id}", authed(handlers.Accounts.GetAccount))
	mux.Handle("GET /api/accounts/{id}/ledger", authed(handlers.Accounts.Ledger))

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Authenticate(verifier)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
