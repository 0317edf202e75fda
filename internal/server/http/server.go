// Package http exposes the planning pipeline over a JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"packplan/internal/lifecycle"
	"packplan/internal/logging"
	"packplan/internal/observability"
)

// Server hosts the HTTP API.
type Server struct {
	service     *lifecycle.Service
	metrics     *observability.MetricsCollector
	logger      logging.Logger
	engine      *gin.Engine
	httpSrv     *http.Server
	healthCheck func(ctx context.Context) error
}

// Options configures the server.
type Options struct {
	Host         string
	Port         int
	AllowOrigins []string

	// HealthCheck probes backing-store connectivity for the health endpoint.
	// nil means no probe.
	HealthCheck func(ctx context.Context) error
}

// NewServer builds the API server around the lifecycle service.
func NewServer(service *lifecycle.Service, metrics *observability.MetricsCollector, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		service:     service,
		metrics:     metrics,
		logger:      logging.NewComponentLogger("HTTPServer"),
		healthCheck: opts.HealthCheck,
	}
	s.engine = s.buildRouter(opts.AllowOrigins)
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving and blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("HTTP API listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
