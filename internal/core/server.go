// Package core provides the API chassis for the Guardpoint platform.
// It creates a chi router compatible with both standard HTTP (for local dev)
// and AWS Lambda Proxy Integration (via chiadapter). It enforces cross-cutting
// concerns -- logging, observability, and error handling -- before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"guardpoint/internal/config"
)

// MetricsCollector records API telemetry. Implemented by *metrics.Recorder.
type MetricsCollector interface {
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

// RouteRegistrar registers a handler group's routes on the versioned router.
// Populated by the application entry point to avoid import cycles between
// core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the API's cross-cutting dependencies, allowing for
// easy injection during testing and distinct configuration per environment.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// V1RouteRegistrars are mounted under /v1 by MountRoutes.
	V1RouteRegistrars []RouteRegistrar

	// HealthProbes are executed by the /health endpoint.
	HealthProbes []HealthProbe

	router *chi.Mux

	// shutdownFns run in order during Shutdown.
	shutdownFns []func(context.Context) error
}

// NewServer initializes the chassis and prepares it for route mounting.
// The caller mounts routes (via MountRoutes) after registering handlers.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router. Used by
// http.ListenAndServe (local) and chiadapter.New (Lambda).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function to run during Shutdown, in
// registration order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.shutdownFns = append(s.shutdownFns, fn)
}

// Shutdown performs a graceful termination of server resources: registered
// cleanup functions first (connection pools, flushes), then a final log line.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, fn := range s.shutdownFns {
		if err := fn(ctx); err != nil {
			s.Logger.Error("shutdown cleanup failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}
