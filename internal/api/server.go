// Package api serves the switchboard REST surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/newthinker/switchboard/internal/api/handler"
	"github.com/newthinker/switchboard/internal/api/job"
	"github.com/newthinker/switchboard/internal/api/middleware"
	"github.com/newthinker/switchboard/internal/api/response"
	"github.com/newthinker/switchboard/internal/catalog"
	"github.com/newthinker/switchboard/internal/health"
	"github.com/newthinker/switchboard/internal/metrics"
	"github.com/newthinker/switchboard/internal/usage"
	"github.com/newthinker/switchboard/internal/usage/history"
	"go.uber.org/zap"
)

// Server represents the HTTP server for switchboard
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	deps       Dependencies
}

// Config holds server configuration
type Config struct {
	Host        string
	Port        int
	APIKey      string
	MetricsPath string
}

// Dependencies are the components the handlers serve. Poller, History,
// Jobs and Metrics are optional.
type Dependencies struct {
	Dispatcher handler.Dispatcher
	Checker    *health.Checker
	Poller     *health.Poller
	Catalog    *catalog.Catalog
	Tracker    *usage.Tracker
	History    history.Store
	Jobs       *job.Pool
	Metrics    *metrics.Registry
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Dispatcher == nil || deps.Checker == nil || deps.Catalog == nil || deps.Tracker == nil {
		return nil, fmt.Errorf("api server requires dispatcher, checker, catalog and tracker")
	}

	mux := http.NewServeMux()

	s := &Server{
		logger: logger,
		mux:    mux,
		deps:   deps,
	}
	s.setupRoutes(cfg)

	var h http.Handler = mux
	if deps.Metrics != nil {
		h = metrics.HTTPMiddleware(deps.Metrics)(h)
	}
	h = metrics.LoggingMiddleware(logger)(h)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// chat calls can take as long as the slowest provider timeout
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config) {
	d := s.deps

	chat := handler.NewChatHandler(d.Dispatcher, d.Jobs, s.logger)
	providers := handler.NewProviderHandler(d.Dispatcher, d.Checker, d.Poller, d.Catalog)
	usageH := handler.NewUsageHandler(d.Tracker, d.History)

	auth := middleware.APIKeyAuth(cfg.APIKey)
	v1 := func(pattern string, fn http.HandlerFunc) {
		s.mux.Handle(pattern, auth(fn))
	}

	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	v1("POST /api/v1/chat", chat.Chat)
	v1("POST /api/v1/chat/async", chat.ChatAsync)
	if d.Jobs != nil {
		jobs := handler.NewJobHandler(d.Jobs.Store())
		v1("GET /api/v1/jobs/{id}", jobs.Get)
	}
	v1("GET /api/v1/providers", providers.List)
	v1("GET /api/v1/providers/health", providers.Health)
	v1("GET /api/v1/models", providers.Models)
	v1("GET /api/v1/usage", usageH.Get)
	v1("POST /api/v1/usage/flush", usageH.Flush)
	v1("DELETE /api/v1/usage", usageH.Reset)
	v1("GET /api/v1/usage/history", usageH.History)

	if d.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, d.Metrics.Handler())
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	enabled := 0
	entries := s.deps.Dispatcher.Providers()
	for _, e := range entries {
		if e.Config.Enabled {
			enabled++
		}
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"providers":         len(entries),
		"enabled_providers": enabled,
	})
}
