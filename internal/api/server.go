// Package api exposes the scheduling service over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/surgery-scheduler-server/internal/archive"
	"github.com/surgery-scheduler-server/internal/domain"
	"github.com/surgery-scheduler-server/internal/health"
	"github.com/surgery-scheduler-server/internal/live"
	"github.com/surgery-scheduler-server/internal/metrics"
	"github.com/surgery-scheduler-server/internal/middleware"
)

// Version is reported by /health.
const Version = "1.0.0"

// Archiver stores schedule history exports off-host.
type Archiver interface {
	ArchiveRuns(ctx context.Context, export func(ctx context.Context, w io.Writer) error) (*archive.Object, error)
	List(ctx context.Context) ([]archive.Object, error)
}

// Server represents the HTTP server
type Server struct {
	config   *domain.Config
	service  domain.SchedulingService
	health   *health.Checker
	hub      *live.Hub
	archiver Archiver
	metrics  *metrics.Recorder
	logger   *logrus.Logger
	router   *gin.Engine
	server   *http.Server
}

// ServerOption configures optional server components
type ServerOption func(*Server)

// WithHealth serves component health from the given checker.
func WithHealth(checker *health.Checker) ServerOption {
	return func(s *Server) { s.health = checker }
}

// WithHub serves the live schedule feed at /ws/schedule.
func WithHub(hub *live.Hub) ServerOption {
	return func(s *Server) { s.hub = hub }
}

// WithArchiver serves /archives backed by archiver.
func WithArchiver(archiver Archiver) ServerOption {
	return func(s *Server) { s.archiver = archiver }
}

// WithMetrics records request metrics and serves them at the configured path.
func WithMetrics(recorder *metrics.Recorder) ServerOption {
	return func(s *Server) { s.metrics = recorder }
}

// WithLogger sets the access and error logger.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, service domain.SchedulingService, opts ...ServerOption) *Server {
	s := &Server{
		config:  config,
		service: service,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = health.NewChecker(Version, 0, s.logger)
	}

	// Set Gin mode based on log level
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.MaxMultipartMemory = config.Server.MaxUploadBytes
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(s.logger))
	if s.metrics != nil {
		router.Use(s.metrics.Middleware())
	}
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(config.Server.AllowedOrigins))
	if config.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
		router.Use(limiter.Middleware())
	}

	s.router = router
	s.setupRoutes()
	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
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

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	if s.hub != nil {
		s.router.GET("/ws/schedule", gin.WrapF(s.hub.ServeWS))
	}
	if s.metrics != nil {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.metrics.Handler()))
	}

	// Unversioned routes serve the existing frontend.
	s.registerScheduling(s.router.Group(""))

	v1 := s.router.Group("/api/v1")
	s.registerScheduling(v1)
}

func (s *Server) registerScheduling(group *gin.RouterGroup) {
	timeout := middleware.RequestTimeout(s.config.Server.RequestTimeout)

	group.POST("/predict", timeout, s.handlePredict)
	group.POST("/schedule", timeout, s.handleSchedule)
	group.POST("/batch-import", timeout, s.handleBatchImport)
	group.GET("/template", s.handleTemplate)
	group.GET("/model-performance", s.handleModelPerformance)

	group.GET("/schedules", timeout, s.handleListSchedules)
	group.GET("/schedules/export", timeout, s.handleExportSchedules)
	group.GET("/schedules/:id", timeout, s.handleGetSchedule)
	group.DELETE("/schedules/:id", timeout, s.handleDeleteSchedule)

	if s.archiver != nil {
		group.GET("/archives", timeout, s.handleListArchives)
		group.POST("/archives", timeout, s.handleCreateArchive)
	}
}
