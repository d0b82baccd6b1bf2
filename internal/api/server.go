package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clinical-reasoning-engine/internal/domain"
	"github.com/clinical-reasoning-engine/internal/knowledge"
	"github.com/clinical-reasoning-engine/internal/middleware"
	"github.com/clinical-reasoning-engine/internal/publish"
	"github.com/clinical-reasoning-engine/internal/service"
)

// Dependencies are the collaborators behind the HTTP surface. Store may be nil when report
// history is disabled; a nil Publisher discards reports.
type Dependencies struct {
	Knowledge *knowledge.Registry
	Store     domain.ReportStore
	Publisher domain.ReportPublisher
}

// Server represents the HTTP server
type Server struct {
	config     *domain.Config
	deps       Dependencies
	router     *gin.Engine
	server     *http.Server
	logger     *logrus.Logger
	engineOpts []service.Option

	defaultOnce   sync.Once
	defaultEngine *service.ReasoningEngine
}

// Option configures a Server.
type Option func(*Server)

// WithEngineOptions passes options to every reasoning engine the server builds.
func WithEngineOptions(opts ...service.Option) Option {
	return func(s *Server) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, deps Dependencies, logger *logrus.Logger, opts ...Option) *Server {
	if deps.Publisher == nil {
		deps.Publisher = publish.NoopPublisher{}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AuditLogger(logger))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.NewClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)))
	}
	router.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))

	s := &Server{
		config: cfg,
		deps:   deps,
		router: router,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is canceled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/risk", s.handleRisk)
		v1.POST("/screening", s.handleScreening)
		v1.POST("/quality", s.handleQuality)
		v1.GET("/knowledge/versions", s.handleKnowledgeVersions)
		v1.GET("/reports", s.handleListReports)
		v1.GET("/reports/:id", s.handleGetReport)
	}
}

// engine returns the reasoning engine for a knowledge-base version. The default engine is
// built once; other versions are resolved through the registry's LRU on every call.
func (s *Server) engine(version string) (*service.ReasoningEngine, error) {
	if version == "" {
		version = s.config.Knowledge.DefaultVersion
	}
	if version == "" || version == knowledge.DefaultVersion {
		s.defaultOnce.Do(func() {
			s.defaultEngine = service.NewReasoningEngine(s.deps.Knowledge.Default(), s.logger, s.engineOpts...)
		})
		return s.defaultEngine, nil
	}

	kb, err := s.deps.Knowledge.Get(version)
	if err != nil {
		return nil, err
	}
	return service.NewReasoningEngine(kb, s.logger, s.engineOpts...), nil
}
