// Package server exposes the resolver over HTTP: POST /resolve for
// field dispatch, /healthz for store connectivity, and /metrics for
// Prometheus scraping.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orblabs/keygate/internal/config"
	"github.com/orblabs/keygate/internal/observability"
	"github.com/orblabs/keygate/internal/resolver"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions.
var ginModeOnce sync.Once

// HealthChecker reports backing store connectivity.
type HealthChecker func(ctx context.Context) error

// Server is the HTTP front of the resolver.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	resolver   *resolver.Resolver
	logger     observability.Logger
	config     config.ServerConfig
	health     []HealthChecker
	mu         sync.Mutex
	running    bool
}

// Option is a functional option for the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthCheck registers a store connectivity probe for /healthz.
func WithHealthCheck(check HealthChecker) Option {
	return func(s *Server) {
		s.health = append(s.health, check)
	}
}

// New creates a new server around the resolver.
func New(cfg config.ServerConfig, res *resolver.Resolver, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		engine:   gin.New(),
		resolver: res,
		logger:   observability.NopLogger(),
		config:   cfg,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(
		Recovery(s.logger),
		RequestID(),
		Logging(s.logger),
		ClientRateLimit(cfg.ClientRPS, cfg.ClientBurst),
	)

	s.engine.POST("/resolve", s.handleResolve)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Engine returns the underlying gin engine. Used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// handleResolve decodes the dispatch request and renders the envelope.
// The HTTP status always matches the envelope code, and rate limit
// headers are mirrored onto the response.
func (s *Server) handleResolve(c *gin.Context) {
	var req resolver.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"success": false,
			"message": "[AAM001] invalid field: body",
		})
		return
	}

	envelope := s.resolver.Dispatch(c.Request.Context(), &req)

	for name, value := range envelope.RateLimitHeaders {
		c.Header(name, value)
	}

	c.JSON(envelope.Code, envelope)
}

// handleHealth runs every registered store probe.
func (s *Server) handleHealth(c *gin.Context) {
	for _, check := range s.health {
		if err := check(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", observability.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("addr", s.config.Addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.httpServer == nil {
		return nil
	}
	s.running = false

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
