package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/mevbot/internal/domain"
	"github.com/alanyoungcy/mevbot/internal/server/handler"
	"github.com/alanyoungcy/mevbot/internal/server/middleware"
	"github.com/alanyoungcy/mevbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // empty disables authentication
	RateLimit       int    // requests per RateLimitWindow per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers. Ledger is optional.
type Handlers struct {
	Health *handler.HealthHandler
	Bot    *handler.BotHandler
	Wallet *handler.WalletHandler
	Ledger *handler.LedgerHandler
}

// Server is the HTTP + WebSocket API of the trading agent.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, hub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed and wrapped handler without binding a port.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/status", handlers.Bot.GetStatus)
	mux.HandleFunc("POST /api/bot/start", handlers.Bot.Start)
	mux.HandleFunc("POST /api/bot/stop", handlers.Bot.Stop)

	mux.HandleFunc("GET /api/opportunities", handlers.Bot.ListOpportunities)
	mux.HandleFunc("GET /api/positions", handlers.Bot.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Bot.GetPosition)
	mux.HandleFunc("GET /api/stats", handlers.Bot.GetStats)
	mux.HandleFunc("GET /api/metrics", handlers.Bot.GetMetrics)

	mux.HandleFunc("GET /api/config", handlers.Bot.GetConfig)
	mux.HandleFunc("PUT /api/config", handlers.Bot.UpdateConfig)
	mux.HandleFunc("POST /api/config/preset", handlers.Bot.ApplyPreset)

	mux.HandleFunc("GET /api/wallet", handlers.Wallet.GetWallet)
	mux.HandleFunc("POST /api/wallet/connect", handlers.Wallet.Connect)
	mux.HandleFunc("POST /api/wallet/disconnect", handlers.Wallet.Disconnect)
	mux.HandleFunc("POST /api/live/enable", handlers.Wallet.EnableLive)
	mux.HandleFunc("POST /api/live/disable", handlers.Wallet.DisableLive)

	if handlers.Ledger != nil {
		mux.HandleFunc("GET /api/history/positions", handlers.Ledger.ListPositionHistory)
		mux.HandleFunc("GET /api/history/stats", handlers.Ledger.LatestStats)
		mux.HandleFunc("GET /api/audit", handlers.Ledger.ListAudit)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	h = middleware.Logging(logger, "/api/health")(h)
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

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
