// Package ops serves the operator HTTP API: connector state, attempt
// history, manual triggers, resync, cancel, health, and metrics. Every
// worker runs one; the CLI's status and trigger commands are thin
// clients of it.
package ops

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/accretion/internal/coordinator"
	"github.com/ajitpratap0/accretion/internal/dispatcher"
	"github.com/ajitpratap0/accretion/pkg/config"
	"github.com/ajitpratap0/accretion/pkg/lease"
	"github.com/ajitpratap0/accretion/pkg/logger"
	"github.com/ajitpratap0/accretion/pkg/observability"
)

// Deps are the collaborators the API reads and mutates. AuthToken guards
// the mutating routes when non-empty; read routes stay open.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Connectors  coordinator.ConfigStore
	Leases      lease.Store
	Queue       dispatcher.Queue
	AuthToken   string
}

// NewHandler builds the ops router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(observability.TracingMiddleware("accretion-ops"))

	r.Get("/healthz", handleHealthz())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/connectors", handleListConnectors(deps))
		r.Route("/connectors/{connectorID}", func(r chi.Router) {
			r.Get("/attempt", handleLatestAttempt(deps))
			r.Get("/attempts", handleListAttempts(deps))

			r.Group(func(r chi.Router) {
				if deps.AuthToken != "" {
					r.Use(bearerAuth(deps.AuthToken))
				}
				r.Post("/trigger", handleTrigger(deps))
				r.Post("/resync", handleResync(deps))
				r.Post("/cancel", handleCancel(deps))
			})
		})
	})

	return r
}

// Server wraps the ops listener with the configured timeouts.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds a Server from config and deps.
func NewServer(cfg config.OpsConfig, deps Deps) *Server {
	deps.AuthToken = cfg.AuthToken
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger.Get().With(zap.String("component", "ops_server")),
	}
}

// Start listens until Shutdown. A closed server returns nil.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("ops server shutting down")
	return s.srv.Shutdown(ctx)
}
