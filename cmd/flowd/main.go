package main

import (
	"context"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/profikid/river-sense-proof-of-concept/internal/alerts"
	"github.com/profikid/river-sense-proof-of-concept/internal/broker"
	"github.com/profikid/river-sense-proof-of-concept/internal/handlers"
	"github.com/profikid/river-sense-proof-of-concept/internal/hub"
	"github.com/profikid/river-sense-proof-of-concept/internal/reconciler"
	"github.com/profikid/river-sense-proof-of-concept/internal/runtime"
	"github.com/profikid/river-sense-proof-of-concept/internal/settings"
	"github.com/profikid/river-sense-proof-of-concept/internal/store"
	"github.com/profikid/river-sense-proof-of-concept/pkg/config"
	"github.com/profikid/river-sense-proof-of-concept/pkg/database"
	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/monitoring"
	"github.com/profikid/river-sense-proof-of-concept/pkg/redis"
	"github.com/profikid/river-sense-proof-of-concept/pkg/server"
)

func main() {
	logger := logging.NewLoggerWithService("flowd")
	config.LoadEnv(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	databaseURL := config.RequireEnv("DATABASE_URL")
	redisURL := config.GetEnv("REDIS_URL", "redis://localhost:6379/0")

	dbConfig := database.DefaultConfig()
	dbConfig.URL = databaseURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.EnsureSchema(ctx, db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	rdb, err := redis.NewClientFromURL(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer rdb.Close()

	driver, err := runtime.New(runtime.Config{
		Kind:        config.GetEnv("RUNTIME_DRIVER", "docker"),
		WorkerImage: config.GetEnv("WORKER_IMAGE", "river-sense-worker:latest"),
		Network:     config.GetEnv("WORKER_NETWORK", "river-sense"),
		Namespace:   config.GetEnv("WORKER_NAMESPACE", "river-sense"),
		MetricsPort: config.GetEnvInt("WORKER_METRICS_PORT", 9100),
		RedisURL:    config.GetEnv("WORKER_REDIS_URL", redisURL),
		DatabaseURL: config.GetEnv("WORKER_DATABASE_URL", databaseURL),
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize worker runtime")
	}

	st := store.New(db, logger)

	settingsManager := settings.NewManager(st, logger)
	if err := settingsManager.Load(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to load system settings")
	}

	rec := reconciler.New(st, driver, settingsManager, reconciler.Config{
		Interval:          config.GetEnvDuration("RECONCILE_INTERVAL", reconciler.DefaultConfig().Interval),
		StartGrace:        config.GetEnvDuration("STREAM_START_GRACE", reconciler.DefaultConfig().StartGrace),
		StaleAfter:        config.GetEnvDuration("FRAME_STALE_AFTER", reconciler.DefaultConfig().StaleAfter),
		RestartsPerMinute: uint(config.GetEnvInt("WORKER_RESTART_BUDGET_PER_MIN", 3)),
		MetricsPort:       config.GetEnvInt("WORKER_METRICS_PORT", 9100),
		SDFilePath:        config.GetEnv("WORKER_SD_FILE", ""),
	}, logger)
	settingsManager.SetRestarter(rec)

	frameHub := hub.New(logger,
		config.GetEnvInt("SUBSCRIBER_QUEUE_DEPTH", 4),
		config.GetEnvInt("SUBSCRIBER_MAX_CONSECUTIVE_DROPS", 64),
	)

	frameBroker := broker.New(rdb, frameHub, settingsManager, rec, broker.Config{
		Pattern:    config.GetEnv("FRAME_CHANNEL_PATTERN", "frames/*"),
		BackoffMin: config.GetEnvDuration("BROKER_BACKOFF_MIN", 0),
		BackoffMax: config.GetEnvDuration("BROKER_BACKOFF_MAX", 0),
	}, logger)

	alertService := alerts.NewService(st, logger)

	healthChecker := monitoring.NewHealthChecker("flowd", "1.0.0")
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(rdb))
	healthChecker.AddCheck("runtime", monitoring.RuntimeHealthCheck(driver.Ping))
	healthChecker.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": databaseURL,
		"REDIS_URL":    redisURL,
	}))

	metricsCollector := monitoring.NewMetricsCollector("flowd", "1.0.0", config.GetEnv("GIT_COMMIT", "unknown"))
	flowMetrics := monitoring.NewFlowMetrics(metricsCollector)
	rec.SetMetrics(flowMetrics)
	frameHub.SetMetrics(flowMetrics)
	frameBroker.SetMetrics(flowMetrics)
	alertService.SetMetrics(flowMetrics)

	router := server.SetupServiceRouter(logger, "flowd", healthChecker, metricsCollector)
	api := handlers.NewFlowdHandlers(st, rec, settingsManager, alertService, frameHub, frameBroker, driver, logger)
	api.RegisterRoutes(router)

	// Converge the fleet once before accepting traffic, so surviving
	// workers are adopted and status columns are fresh from the start.
	rec.Sweep(ctx)

	srvConfig := server.DefaultConfig("flowd", "18080")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Run(gctx)
	})
	g.Go(func() error {
		return frameBroker.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx, srvConfig, router, logger)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("Service terminated")
	}
	logger.Info("Shutdown complete")
}
