// Package server exposes the feature pipeline over HTTP: health, run
// history, the manual rebuild trigger and the live run WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/JonahBenton321/college-football-prediction/internal/domain"
	"github.com/JonahBenton321/college-football-prediction/internal/server/handler"
	"github.com/JonahBenton321/college-football-prediction/internal/server/middleware"
	"github.com/JonahBenton321/college-football-prediction/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects the trigger endpoint; empty disables auth.
	APIKey        string
	TriggerLimit  int
	TriggerWindow time.Duration
}

// Handlers groups the route handlers. Runs, Audit and Hub may be nil when
// Postgres or Redis is not configured; their routes are then not registered.
type Handlers struct {
	Health   *handler.HealthHandler
	Runs     *handler.RunsHandler
	Audit    *handler.AuditHandler
	Pipeline *handler.PipelineHandler
	Hub      *ws.Hub
}

// NewRouter registers every route and wraps them in the middleware chain.
// limiter may be nil.
func NewRouter(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(middleware.Logging(logger)))
	r.Use(mux.MiddlewareFunc(middleware.CORS(cfg.CORSOrigins)))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health.HealthCheck).Methods(http.MethodGet, http.MethodOptions)

	if h.Runs != nil {
		api.HandleFunc("/runs", h.Runs.ListRuns).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/runs/latest", h.Runs.LatestRun).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/runs/{id}", h.Runs.GetRun).Methods(http.MethodGet, http.MethodOptions)
	}
	if h.Audit != nil {
		api.HandleFunc("/audit", h.Audit.ListAudit).Methods(http.MethodGet, http.MethodOptions)
	}

	trigger := api.PathPrefix("/pipeline").Subrouter()
	trigger.Use(mux.MiddlewareFunc(middleware.Auth(cfg.APIKey)))
	if limiter != nil && cfg.TriggerLimit > 0 {
		trigger.Use(mux.MiddlewareFunc(middleware.RateLimit(limiter, "trigger", cfg.TriggerLimit, cfg.TriggerWindow, logger)))
	}
	trigger.HandleFunc("/trigger", h.Pipeline.TriggerPipeline).Methods(http.MethodPost, http.MethodOptions)

	if h.Hub != nil {
		r.HandleFunc("/ws", h.Hub.HandleWS).Methods(http.MethodGet)
	}

	return r
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server on cfg.Port serving handler.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "http")),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "HTTP server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	if err := s.httpServer.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
