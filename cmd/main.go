package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"demeter/internal/adapters/config"
	"demeter/internal/adapters/errors/noop"
	"demeter/internal/adapters/errors/sentry"
	"demeter/internal/adapters/kafka"
	"demeter/internal/adapters/postgres"
	"demeter/internal/adapters/redis"
	"demeter/internal/artifact"
	"demeter/internal/events"
	"demeter/internal/explain"
	"demeter/internal/jobs"
	"demeter/internal/metrics"
	"demeter/internal/predictor"
	"demeter/internal/registry"
	pgrepo "demeter/internal/repository/postgres"
	redisrepo "demeter/internal/repository/redis"
	"demeter/pkg/errors"
	"demeter/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	db := initDatabases(cfg, log)
	defer db.Close()

	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	defer producer.Close()
	publisher := events.NewPublisher(producer)

	store, err := artifact.NewStore(cfg.ModelStore.Path)
	if err != nil {
		log.Fatalf("Failed to initialize model store: %v", err)
	}

	services := initServices(cfg, db, store, publisher, log)

	metricsServer := startMetricsServer(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	warmProductionModel(ctx, services, log)

	log.Info("System initialized successfully")

	waitForShutdown(ctx, cancel, errorTracker, metricsServer, log)
}

// Database bundles the storage connections
type Database struct {
	Postgres *postgres.Client
	Redis    *redis.Client
}

func (d *Database) Close() {
	if d.Postgres != nil {
		_ = d.Postgres.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// Services bundles the wired business services
type Services struct {
	Registry   *registry.Registry
	Prediction *predictor.Service
	Explain    *explain.Engine
	Jobs       jobs.Store
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// initDatabases initializes database connections (PostgreSQL, Redis)
func initDatabases(cfg *config.Config, log *logger.Logger) *Database {
	log.Info("Initializing databases...")

	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	log.Info("Databases initialized")
	return &Database{
		Postgres: pgClient,
		Redis:    redisClient,
	}
}

// initServices wires repositories into business services
func initServices(cfg *config.Config, db *Database, store *artifact.Store, publisher *events.Publisher, log *logger.Logger) *Services {
	log.Info("Initializing services...")

	catalog := pgrepo.NewModelVersionRepository(db.Postgres.DB())
	reg := registry.New(store, catalog, publisher)

	return &Services{
		Registry:   reg,
		Prediction: predictor.NewService(reg, cfg.Prediction),
		Explain:    explain.NewEngine(),
		Jobs:       redisrepo.NewJobStore(db.Redis, cfg.Backfill.JobTTL),
	}
}

// warmProductionModel preloads the production model so the first request is
// not a cold start. A catalog with no promoted model is a normal state.
func warmProductionModel(ctx context.Context, services *Services, log *logger.Logger) {
	if err := services.Prediction.EnsureVersion(ctx, ""); err != nil {
		if errors.Is(err, errors.ErrNoProductionModel) {
			log.Info("No production model promoted yet")
			return
		}
		log.Warnf("Failed to preload production model: %v", err)
		return
	}
	log.Infof("Production model %s preloaded", services.Prediction.CurrentVersion())
}

// startMetricsServer exposes Prometheus metrics when enabled
func startMetricsServer(cfg *config.Config, log *logger.Logger) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}

	go func() {
		log.Infof("Metrics server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server error: %v", err)
		}
	}()

	return server
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, errorTracker errors.Tracker, metricsServer *http.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down...")

	cancel()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Failed to shut down metrics server: %v", err)
		}
	}

	if errorTracker != nil {
		if err := errorTracker.Flush(ctx); err != nil {
			log.Warnf("Failed to flush error tracker: %v", err)
		}
	}

	log.Info("Shutdown complete")
}
