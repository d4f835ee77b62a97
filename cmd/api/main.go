package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"threatmesh/internal/api"
	"threatmesh/internal/api/handlers"
	"threatmesh/internal/config"
	"threatmesh/internal/domain/services"
	"threatmesh/internal/infrastructure/cache"
	"threatmesh/internal/infrastructure/database"
	"threatmesh/internal/infrastructure/database/repository"
	"threatmesh/internal/metrics"
	"threatmesh/internal/sources"
	"threatmesh/internal/streaming"
	"threatmesh/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.App.Environment == "production" {
		log = logger.NewProduction()
	} else {
		log = logger.NewDevelopment()
	}
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting ThreatMesh")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL and run migrations
	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Connect to Redis (optional)
	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without cache")
			redisCache = nil
		}
	}
	defer func() {
		if redisCache != nil {
			redisCache.Close()
		}
	}()

	// Connect to NATS (optional)
	var publisher services.EventPublisher = services.NopPublisher{}
	var natsPublisher *streaming.NATSPublisher
	if cfg.NATS.Enabled {
		natsPublisher, err = streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing without streaming")
		} else {
			publisher = natsPublisher
			defer natsPublisher.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
		}
	}

	m := metrics.New()

	// Wire repositories into the service layer
	repos := repository.New(db)
	stores := &services.Stores{
		IoCs:        repos.IoCs,
		Sightings:   repos.Sightings,
		Events:      repos.Events,
		Campaigns:   repos.Campaigns,
		Rules:       repos.Rules,
		Audit:       repos.Audit,
		Maintenance: repos.Maintenance,
	}

	// Initialize services
	iocService := services.NewIoCService(stores, publisher, log)
	sightingService := services.NewSightingService(stores, log)
	ingestService := services.NewIngestService(stores, iocService, sightingService, m, cfg.Ingest.MaxBatchSize, log)
	correlationEngine := services.NewCorrelationEngine(stores, publisher, m, cfg.Correlation, log)
	reputationEngine := services.NewReputationEngine(stores, cfg.Reputation, log)
	ruleGenerator := services.NewRuleGenerator(stores, publisher, redisCache, m, cfg.Rules, log)
	feedService := services.NewFeedService(stores, redisCache, cfg.Feeds, log)
	lifecycleService := services.NewLifecycleService(stores, cfg.Lifecycle, log)
	backupService := services.NewBackupService(stores, cfg.Backup, log)
	statsService := services.NewStatsService(stores, redisCache, log)

	// External feed connectors (optional)
	var feedSync *services.FeedSyncService
	if cfg.Sources.Enabled {
		registry := sources.NewRegistry(log)
		registerConnectors(registry, cfg.Sources, log)
		feedSync = services.NewFeedSyncService(registry, iocService, log)
		log.Info().Int("connectors", registry.Count()).Msg("external feed sync enabled")
	}

	scheduler := services.NewScheduler(
		correlationEngine,
		reputationEngine,
		ruleGenerator,
		lifecycleService,
		backupService,
		feedSync,
		redisCache,
		m,
		cfg.Scheduler,
		log,
	)

	// Initialize handlers and router
	h := handlers.NewHandlers(handlers.Dependencies{
		Stores:    stores,
		Ingest:    ingestService,
		IoCs:      iocService,
		Sightings: sightingService,
		Feeds:     feedService,
		Stats:     statsService,
		Scheduler: scheduler,
		Backup:    backupService,
		Cache:     redisCache,
		Logger:    log,
	})

	router := api.NewRouter(*cfg, h, redisCache, m, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	if cfg.Scheduler.Enabled {
		scheduler.Start()
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	scheduler.Stop()

	log.Info().Msg("shutdown complete")
}

// registerConnectors registers the external feed connectors and applies
// their per-source configuration
func registerConnectors(registry *sources.Registry, cfg config.SourcesConfig, log *logger.Logger) {
	if err := registry.Register(sources.NewFeodoTrackerConnector(log)); err != nil {
		log.Warn().Err(err).Msg("failed to register FeodoTracker connector")
	}
	if err := registry.Register(sources.NewOpenPhishConnector(log)); err != nil {
		log.Warn().Err(err).Msg("failed to register OpenPhish connector")
	}

	registry.Configure(map[string]sources.ConnectorConfig{
		"feodotracker": {Enabled: cfg.FeodoTracker.Enabled, FeedURL: cfg.FeodoTracker.FeedURL, Timeout: cfg.FeodoTracker.Timeout},
		"openphish":    {Enabled: cfg.OpenPhish.Enabled, FeedURL: cfg.OpenPhish.FeedURL, Timeout: cfg.OpenPhish.Timeout},
	})
}
