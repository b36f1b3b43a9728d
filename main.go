package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-engine/migrations"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource/bigquery"
	_ "github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-query-engine/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/config"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/crypto"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/handlers"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/llm"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/middleware"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/repositories"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/services"
	"github.com/ekaya-inc/ekaya-query-engine/pkg/services/scheduler"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host+"/"+cfg.Database.Database),
		zap.Bool("redis", cfg.Redis.Host != ""),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("llm_configured", cfg.LLM.HasCredential()),
		zap.Strings("datasource_types", datasource.RegisteredTypes()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Engine stopped with error", zap.Error(err))
	}
	logger.Info("Engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db.StdDB(), migrations.FS, logger); err != nil {
		return err
	}

	var cipher *crypto.DescriptorCipher
	if cfg.CredentialsKey != "" {
		if cipher, err = crypto.NewDescriptorCipher(cfg.CredentialsKey); err != nil {
			return err
		}
	} else {
		logger.Warn("CREDENTIALS_KEY not set; datasource descriptors are stored in plaintext")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	datasourceRepo := repositories.NewDatasourceRepository(db, cipher)
	queryRepo := repositories.NewQueryRepository(db)
	dashboardRepo := repositories.NewDashboardRepository(db)
	scheduleRepo := repositories.NewScheduleRepository(db)
	executionRepo := repositories.NewExecutionRepository(db)
	cacheRepo := repositories.NewCacheRepository(db)

	connections := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:       cfg.Datasource.ConnectionTTLMinutes,
		HandshakeRetries: cfg.Datasource.HandshakeRetries,
	}, logger)
	defer func() {
		if err := connections.CloseAll(); err != nil {
			logger.Warn("Failed to close datasource connections", zap.Error(err))
		}
	}()

	introspector := services.NewIntrospector(time.Duration(cfg.Datasource.SchemaCacheMinutes)*time.Minute, logger)
	cache := services.NewCacheService(cacheRepo, m, logger)

	demoExecutor := services.NewQueryExecutor(connections, introspector, services.NewKeywordTranslator(nil, logger), m, logger)

	var executor services.QueryExecutor
	if cfg.LLM.HasCredential() {
		client, err := llm.NewClientFromConfig(&cfg.LLM, logger)
		if err != nil {
			return err
		}
		translator, err := services.NewLLMTranslator(client, cfg.LLM.Temperature, logger)
		if err != nil {
			return err
		}
		executor = services.NewQueryExecutor(connections, introspector, translator, m, logger)
	} else {
		logger.Warn("No language model credential configured; only the demo data source can be queried")
	}

	var demoDatasourceID *uuid.UUID
	if cfg.DemoDatasourceID != "" {
		id, err := uuid.Parse(cfg.DemoDatasourceID)
		if err != nil {
			return errors.New("demo_datasource_id must be a UUID")
		}
		demoDatasourceID = &id
	}

	// Refresh only re-runs stored SQL, so either executor works; prefer the
	// one that does not need a language model.
	refreshService := services.NewRefreshService(queryRepo, dashboardRepo, datasourceRepo, scheduleRepo,
		cache, introspector, demoExecutor, cfg.Cache.DefaultTTLMinutes, logger)
	queryService := services.NewQueryService(datasourceRepo, queryRepo, cache, executor, demoExecutor,
		demoDatasourceID, cfg.Cache.DefaultTTLMinutes, logger)
	scheduleService := services.NewScheduleService(scheduleRepo, executionRepo, logger)

	go cache.RunCleanup(ctx, cfg.Cache.CleanupInterval())

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	var locker scheduler.Locker = scheduler.NoopLocker{}
	if redisClient != nil {
		defer func(c *redis.Client) { _ = c.Close() }(redisClient)
		locker = scheduler.NewRedisLocker(redisClient)
	}

	// The scheduler is always built so manual runs share its locking and
	// execution history; timers only run when enabled.
	cronScheduler := scheduler.New(scheduleRepo, executionRepo, refreshService, locker, m, scheduler.Config{
		ResyncInterval: cfg.Scheduler.ResyncInterval(),
		LockTTL:        cfg.Scheduler.LockTTL(),
	}, logger)
	if cfg.Scheduler.Enabled {
		if err := cronScheduler.Start(ctx); err != nil {
			return err
		}
		defer cronScheduler.Stop()
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, connections, cronScheduler, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(queryService, logger).RegisterRoutes(mux)
	handlers.NewRefreshHandler(refreshService, cronScheduler, logger).RegisterRoutes(mux)
	handlers.NewScheduleHandler(scheduleService, logger).RegisterRoutes(mux)
	handlers.NewCacheHandler(cache, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler(registry))

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger, m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-query-engine", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
