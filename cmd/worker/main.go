// The worker binary is a headless tick driver: it consumes wake-up
// messages from the queue bridge and runs its own interval ticks, so
// deployments can keep the API process free of background work.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gemindex/internal/config"
	"gemindex/internal/logging"
	"gemindex/internal/metrics"
	"gemindex/internal/providers"
	"gemindex/internal/queue"
	"gemindex/internal/storage"
	syncsvc "gemindex/internal/sync"
	"gemindex/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger("worker-main")
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	store, storeCleanup, err := initStore(cfg, &logger)
	if err != nil {
		return err
	}
	defer storeCleanup()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	bridge := queue.NewBridge(redisClient, &logger)

	runner := worker.NewRunner()
	service := buildSyncService(cfg, store, &logger)
	service.RegisterExecutors(runner)
	orch := worker.NewOrchestrator(store, runner, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureExists(ctx); err != nil {
		return fmt.Errorf("seed state: %w", err)
	}

	startMetrics(ctx, cfg, &logger)

	maxTasks := cfg.Worker.MaxTasks
	interval := time.Duration(cfg.Worker.TickSeconds) * time.Second

	if bridge.Enabled() {
		go func() {
			err := bridge.Consume(ctx, func(ctx context.Context, msg queue.TickMessage) error {
				_, err := orch.Tick(ctx, "queue", maxTasks)
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("queue consumer stopped")
			}
		}()
	}

	logger.Info().
		Dur("interval", interval).
		Int("max_tasks", maxTasks).
		Bool("queue", bridge.Enabled()).
		Str("storage_mode", store.Mode()).
		Msg("worker started")

	tick(ctx, orch, "startup", maxTasks, &logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return nil
		case <-ticker.C:
			tick(ctx, orch, "interval", maxTasks, &logger)
		}
	}
}

func tick(ctx context.Context, orch *worker.Orchestrator, source string, maxTasks int, logger *zerolog.Logger) {
	if _, err := orch.Tick(ctx, source, maxTasks); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str("source", source).Msg("worker tick failed")
	}
}

func loadConfigAndLogger(component string) (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", component).Logger()

	return cfg, logger, closer, nil
}

func initStore(cfg *config.Config, logger *zerolog.Logger) (*storage.Store, func(), error) {
	var primary storage.Backend
	var primaryCloser io.Closer

	if cfg.Storage.SQLitePath != "" {
		backend, err := storage.NewSQLiteBackend(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Warn().Err(err).Str("sqlite_path", cfg.Storage.SQLitePath).
				Msg("sqlite unavailable, using file storage only")
		} else {
			primary = backend
			primaryCloser = backend
		}
	}

	store := storage.NewStore(storage.Options{
		Primary:          primary,
		Fallback:         storage.NewFileBackend(cfg.Storage.FilePath),
		DisabledJobTypes: cfg.DisabledJobTypes(),
		Logger:           logger,
	})

	cleanup := func() {
		store.Close()
		if primaryCloser != nil {
			_ = primaryCloser.Close()
		}
	}
	return store, cleanup, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func buildSyncService(cfg *config.Config, store *storage.Store, logger *zerolog.Logger) *syncsvc.Service {
	catalog := providers.NewPokemonTCGClient(cfg.Providers.PokemonTCGAPIKey)

	var direct syncsvc.DirectPriceProvider
	tcg := providers.NewTCGPlayerClient(cfg.Providers.TCGPlayer.PublicKey, cfg.Providers.TCGPlayer.PrivateKey)
	if tcg.Configured() {
		direct = tcg
	}

	return syncsvc.NewService(store, catalog, direct, cfg.Providers.EURToUSDRate, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
