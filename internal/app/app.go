// Package app assembles the scheduling service and its collaborators for the
// command entry points.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/surgery-scheduler-server/internal/api"
	"github.com/surgery-scheduler-server/internal/archive"
	"github.com/surgery-scheduler-server/internal/backend"
	"github.com/surgery-scheduler-server/internal/cache"
	"github.com/surgery-scheduler-server/internal/config"
	"github.com/surgery-scheduler-server/internal/database"
	"github.com/surgery-scheduler-server/internal/domain"
	"github.com/surgery-scheduler-server/internal/health"
	"github.com/surgery-scheduler-server/internal/history"
	"github.com/surgery-scheduler-server/internal/live"
	"github.com/surgery-scheduler-server/internal/metrics"
	"github.com/surgery-scheduler-server/internal/repository"
	"github.com/surgery-scheduler-server/internal/service"
)

// App holds a wired scheduling service and the resources it owns.
type App struct {
	Config   *domain.Config
	Logger   *logrus.Logger
	Service  *service.SchedulingService
	Health   *health.Checker
	Hub      *live.Hub
	Metrics  *metrics.Recorder
	Archiver *archive.Archiver

	closers []func() error
}

// NewFull wires the service against the configured PostgreSQL, Redis,
// backend and archive bucket. Each is optional and skipped when unset.
func NewFull(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	a := newApp(cfg, logger)
	var opts []service.ServiceOption

	if cfg.Database.Enabled {
		dbCfg := database.ConfigFromDomain(&cfg.Database)
		db, err := database.NewConnection(ctx, dbCfg, logger)
		if err != nil {
			return nil, a.fail(fmt.Errorf("failed to connect to database: %w", err))
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })

		if err := database.Migrate(ctx, dbCfg.URL(), cfg.Database.MigrationsPath, logger); err != nil {
			return nil, a.fail(fmt.Errorf("failed to migrate database: %w", err))
		}

		store, err := history.NewPostgresStoreFromURL(dbCfg.URL())
		if err != nil {
			return nil, a.fail(fmt.Errorf("failed to open schedule history: %w", err))
		}
		a.closers = append(a.closers, store.Close)

		opts = append(opts,
			service.WithAuditor(repository.NewPredictionRepository(db.Pool, logger)),
			service.WithStore(store),
		)
		a.Health.Register(health.DatabaseCheck(db))
		a.Health.Register(health.NewHistoryCheck(store))
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Cache)
		if err != nil {
			return nil, a.fail(err)
		}
		a.closers = append(a.closers, client.Close)
		redisClient = client
		a.Health.Register(health.RedisCheck(client))
	}
	opts = append(opts, service.WithCache(cache.NewPredictionCache(cfg.Cache, redisClient, logger)))

	scheduler, client, err := backend.FromConfig(cfg, service.NewHeuristicScheduler(), logger)
	if err != nil {
		return nil, a.fail(err)
	}
	if client != nil {
		a.Health.Register(health.NewBackendCheck(client))
	}

	if cfg.Archive.Enabled {
		archiver, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			return nil, a.fail(fmt.Errorf("failed to configure archive: %w", err))
		}
		a.Archiver = archiver
		a.Health.Register(health.NewPingCheck("archive", false, archiver.Check))
	}

	a.Service = service.NewSchedulingService(scheduler, a.serviceOptions(opts)...)
	return a, nil
}

// NewLite wires the standalone service: mock scheduling, an in-memory cache
// and SQLite history under the data directory.
func NewLite(lite *config.LiteConfig, logger *logrus.Logger) (*App, error) {
	cfg := lite.Config()
	a := newApp(cfg, logger)

	if err := lite.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := history.NewSQLiteStore(lite.HistoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open schedule history: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	a.Health.Register(health.NewHistoryCheck(store))

	opts := []service.ServiceOption{
		service.WithStore(store),
		service.WithCache(cache.NewPredictionCache(cfg.Cache, nil, logger)),
	}
	a.Service = service.NewSchedulingService(service.NewHeuristicScheduler(), a.serviceOptions(opts)...)

	logger.WithFields(logrus.Fields{
		"data_dir": lite.DataDir,
		"history":  lite.HistoryDBPath(),
	}).Info("Standalone scheduler ready")
	return a, nil
}

func newApp(cfg *domain.Config, logger *logrus.Logger) *App {
	a := &App{
		Config: cfg,
		Logger: logger,
		Health: health.NewChecker(api.Version, 0, logger),
		Hub:    live.NewHub(cfg.Server.AllowedOrigins, logger),
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		if err := a.Metrics.RegisterGauge("live_clients", "Connected live schedule feed clients.", func() float64 {
			return float64(a.Hub.ClientCount())
		}); err != nil {
			logger.WithError(err).Warn("Failed to register live client gauge")
		}
	}
	return a
}

func (a *App) serviceOptions(opts []service.ServiceOption) []service.ServiceOption {
	opts = append(opts,
		service.WithPublisher(a.Hub),
		service.WithLogger(a.Logger),
		service.WithBatchDefaults(a.Config.Scheduler.GeneratedCount, a.Config.Scheduler.Seed),
	)
	if a.Metrics != nil {
		opts = append(opts, service.WithPublisher(a.Metrics))
	}
	return opts
}

// ServerOptions returns the HTTP server options for the wired components.
func (a *App) ServerOptions() []api.ServerOption {
	opts := []api.ServerOption{
		api.WithLogger(a.Logger),
		api.WithHealth(a.Health),
		api.WithHub(a.Hub),
	}
	if a.Metrics != nil {
		opts = append(opts, api.WithMetrics(a.Metrics))
	}
	if a.Archiver != nil {
		opts = append(opts, api.WithArchiver(a.Archiver))
	}
	return opts
}

// Start runs background workers until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go a.Hub.Run(ctx)
}

// Close releases owned resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) fail(err error) error {
	if cerr := a.Close(); cerr != nil {
		a.Logger.WithError(cerr).Warn("Failed to release resources")
	}
	return err
}
