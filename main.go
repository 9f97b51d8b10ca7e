package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-report-engine/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/audit"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/cache"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/config"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/database"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/handlers"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/logging"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/middleware"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/monitor"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/repositories"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/results"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/services"
	sqlutil "github.com/ekaya-inc/ekaya-report-engine/pkg/sql"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Engine stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Int("backends", len(cfg.Backends)),
		zap.String("cache_store", cfg.Cache.Store),
		zap.Bool("execution_log_db", cfg.Database.HasDatabase()))

	// Execution log database is optional; without it records go to the log.
	var sink repositories.ExecutionLogSink = repositories.NewLoggingSink(logger)
	if cfg.Database.HasDatabase() {
		db, err := database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to execution log database: %w", err)
		}
		defer db.Close()

		stdDB := db.StdDB()
		if err := database.RunMigrations(stdDB, cfg.MigrationsPath, logger); err != nil {
			_ = stdDB.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		_ = stdDB.Close()

		logRepo := repositories.NewExecutionLogRepository(db)
		sink = repositories.MultiSink{sink, logRepo}
		if cfg.Database.LogRetention > 0 {
			go pruneExecutionLog(ctx, logRepo, cfg.Database.LogRetention, logger)
		}
	}

	connManager := datasource.NewConnectionManager(cfg.ConnectionManagerConfig(), cfg.Backends, logger)
	defer func() {
		if err := connManager.Close(); err != nil {
			logger.Error("Failed to close backend pools", zap.Error(err))
		}
	}()

	cacheMgr, err := newCacheManager(ctx, cfg, logger)
	if err != nil {
		return err
	}

	metrics := monitor.NewMetrics()
	mon := monitor.New(cfg.MonitorSettings(), monitor.NewProcessSampler(), metrics, logger)

	executor := services.NewSQLExecutor(
		connManager,
		cacheMgr,
		sqlutil.NewSecurityChecker(logger),
		results.NewConverter(logger),
		mon,
		metrics,
		sink,
		audit.NewSecurityAuditor(logger),
		cfg.SQLExecutorConfig(),
		logger,
	)
	registry := services.NewTaskRegistry(executor, cfg.TaskRegistryConfig(), metrics, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, connManager, logger).RegisterRoutes(mux)
	handlers.NewSQLHandler(executor, registry, logger).RegisterRoutes(mux)
	handlers.NewMonitorHandler(mon, metrics.Handler(), logger).RegisterRoutes(mux)
	// Keep the interface nil when caching is off.
	var cacheAdmin handlers.CacheAdmin
	if cacheMgr != nil {
		cacheAdmin = cacheMgr
	}
	handlers.NewCacheHandler(cacheAdmin, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-report-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Error("Async tasks did not finish before shutdown", zap.Error(err))
	}
	return nil
}

// newCacheManager builds the result cache for the configured store. It
// returns nil when caching is disabled.
func newCacheManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*cache.Manager, error) {
	var store cache.Store
	switch cfg.Cache.Store {
	case "none":
		return nil, nil
	case "redis":
		client, err := database.NewRedisClient(ctx, database.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = cache.NewRedisStore(client)
	default:
		store = cache.NewMemoryStore()
	}
	return cache.NewManager(store, cfg.CacheManagerConfig(), logger), nil
}

// pruneExecutionLog deletes execution log rows older than retention once
// an hour until ctx is done.
func pruneExecutionLog(ctx context.Context, repo repositories.ExecutionLogRepository, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Error("Failed to prune execution log", zap.Error(err))
		} else if deleted > 0 {
			logger.Info("Pruned execution log", zap.Int64("deleted", deleted))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
