package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
	"github.com/alanyoungcy/degenbets-settler/internal/metrics"
	"github.com/alanyoungcy/degenbets-settler/internal/server/handler"
	"github.com/alanyoungcy/degenbets-settler/internal/server/middleware"
	"github.com/alanyoungcy/degenbets-settler/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards POST /api/resolve/trigger and GET /api/audit

	// SyncRateLimit requests per SyncRateWindow are allowed per client IP
	// on POST /api/sync. Zero disables the limit.
	SyncRateLimit  int
	SyncRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Resolve, Audit and Status may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Sync    *handler.SyncHandler
	Resolve *handler.ResolveHandler
	Audit   *handler.AuditHandler
}

// Deps are the optional collaborators of the HTTP layer.
type Deps struct {
	Hub         *ws.Hub
	Metrics     *metrics.SettlerMetrics
	RateLimiter domain.RateLimiter
}

// Server is the HTTP + WebSocket API of the settler.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (request id, logging, metrics, CORS, auth, rate
// limiting) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, deps, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// A synchronous sweep can take minutes.
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Administrative endpoints.
	admin := middleware.Auth(cfg.APIKey, logger)
	if handlers.Resolve != nil {
		mux.Handle("POST /api/resolve/trigger", admin(http.HandlerFunc(handlers.Resolve.TriggerSweep)))
	}
	if handlers.Audit != nil {
		mux.Handle("GET /api/audit", admin(http.HandlerFunc(handlers.Audit.ListAudit)))
	}

	// Ledger mirror.
	mux.Handle("POST /api/sync",
		middleware.RateLimit(deps.RateLimiter, "sync", cfg.SyncRateLimit, cfg.SyncRateWindow, logger)(
			http.HandlerFunc(handlers.Sync.Sync)))
	mux.HandleFunc("GET /api/sync/position", handlers.Sync.GetPosition)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/resolutions", handlers.Markets.ListResolutions)
	mux.HandleFunc("GET /api/markets/{id}/claim", handlers.Markets.GetClaimQuote)
	mux.HandleFunc("GET /api/markets/{id}/evidence", handlers.Markets.ListEvidence)
	mux.HandleFunc("GET /api/markets/{id}/evidence/{name}", handlers.Markets.GetEvidence)

	// WebSocket endpoint.
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	// Build the middleware chain. Metrics sits directly on the mux so it
	// sees the matched route pattern.
	var h http.Handler = mux
	h = middleware.Metrics(deps.Metrics)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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
