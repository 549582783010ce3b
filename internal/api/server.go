package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/scorebt/internal/api/handlers"
	"github.com/wonny/scorebt/pkg/config"
	"github.com/wonny/scorebt/pkg/logger"
)

// Server represents the HTTP API server
// ⭐ SSOT: API server settings live in this file only
type Server struct {
	httpServer *http.Server
	registry   *handlers.Registry
	logger     *logger.Logger
	config     *config.Config
}

// New creates a new API server. registry runs are cancelled on shutdown.
func New(cfg *config.Config, log *logger.Logger, router http.Handler, registry *handlers.Registry) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:        ":" + cfg.Port,
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			// No WriteTimeout: websocket streams outlive it
			IdleTimeout: 60 * time.Second,
		},
		registry: registry,
		logger:   log,
		config:   cfg,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"port": s.config.Port,
		"env":  s.config.Env,
	}).Info("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")

	if s.registry != nil {
		s.registry.CancelAll()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
