package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentgraphsociety/llm-gateway/internal/auth"
	"github.com/agentgraphsociety/llm-gateway/internal/backend"
	"github.com/agentgraphsociety/llm-gateway/internal/batch"
	"github.com/agentgraphsociety/llm-gateway/internal/cache"
	"github.com/agentgraphsociety/llm-gateway/internal/config"
	"github.com/agentgraphsociety/llm-gateway/internal/httpapi"
	"github.com/agentgraphsociety/llm-gateway/internal/pipeline"
	"github.com/agentgraphsociety/llm-gateway/internal/policy"
	"github.com/agentgraphsociety/llm-gateway/internal/prompt"
	"github.com/agentgraphsociety/llm-gateway/internal/ratelimit"
	"github.com/agentgraphsociety/llm-gateway/internal/router"
	"github.com/agentgraphsociety/llm-gateway/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	var keyStore auth.KeyStore
	if cfg.Database.Enabled() {
		dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()
		if err := dbPool.Ping(context.Background()); err != nil {
			logger.Warn("database not reachable (auth will fail)", "error", err)
		} else {
			logger.Info("database connected")
		}

		var rdb *redis.Client
		if cfg.Redis.Enabled() {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addresses[0],
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
			})
			if err := rdb.Ping(context.Background()).Err(); err != nil {
				logger.Warn("redis not reachable (auth cache disabled)", "error", err)
				rdb = nil
			} else {
				logger.Info("redis connected")
			}
		}
		keyStore = auth.NewCachedKeyStore(dbPool, rdb)
	} else {
		logger.Info("no database configured, using in-process key table", "keys", len(cfg.RateLimit.APIKeys))
		keyStore = auth.NewDevKeyStore(cfg.RateLimit.APIKeys, cfg.RateLimit.DefaultRate)
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit.DefaultRate.Capacity, cfg.RateLimit.DefaultRate.RefillPerSecond, cfg.RateLimit.IdleEvictionMultiplier)
	limiter.StartSweep(time.Minute)

	var cacheStore cache.Store
	if cfg.Cache.Backend == "redis" && cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		cacheStore = cache.NewRedisStore(rdb, "")
		logger.Info("response cache backed by redis")
	} else {
		cacheStore = cache.NewMemoryStore(cfg.Cache.CleanupInterval)
		logger.Info("response cache backed by in-process memory store")
	}
	respCache := cache.New(cacheStore)

	backendClient := backend.NewClient(backend.Config{
		BaseURL:           cfg.Backend.URL,
		TimeoutPerAttempt: cfg.Backend.Timeout,
		TotalDeadline:     cfg.Backend.TotalDeadline,
		MaxRetries:        cfg.Backend.MaxRetries,
	})

	health := router.NewHealthTracker(cfg.Router.CircuitBreaker.FailureThreshold, cfg.Router.CircuitBreaker.RecoveryProbeInterval)
	modelRouter := router.New(backendClient, backendClient, health, cfg.Router.AliasMap)

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := modelRouter.Refresh(startCtx); err != nil {
		logger.Warn("initial model snapshot refresh failed, will retry on schedule", "error", err)
	}
	startCancel()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	go modelRouter.RefreshLoop(rootCtx, cfg.Router.RefreshInterval)

	evaluator := policy.NewEvaluator(cfg.Policy.EvaluationTimeout)
	if err := evaluator.Load(cfg.Policy.BundlePath); err != nil {
		logger.Warn("failed to load access policy bundle, failing open", "error", err)
	}

	metrics := telemetry.NewMetrics()

	p := &pipeline.Pipeline{
		Cache:         respCache,
		Assembler:     prompt.NewAssembler(prompt.DefaultMaxAssembledLength),
		Router:        modelRouter,
		Policy:        evaluator,
		Backend:       backendClient,
		Metrics:       metrics,
		SchemaVersion: byte(cfg.SchemaVersion),
		CacheTTL:      cfg.Cache.TTLDefault,
		NegativeTTL:   cfg.Cache.NegativeTTL,
	}
	batchCoordinator := batch.New(p, cfg.Batch.MaxConcurrency, cfg.Batch.WholeBatchDeadline)

	handler := httpapi.NewHandler(p, batchCoordinator, modelRouter, backendClient)
	apiRouter := httpapi.NewRouter(handler, keyStore, limiter, metrics)

	addr := cfg.Server.BindAddress()
	srv := &http.Server{
		Addr:         addr,
		Handler:      apiRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Telemetry.MetricsBindAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics server starting", "addr", cfg.Telemetry.MetricsBindAddress)
			if err := http.ListenAndServe(cfg.Telemetry.MetricsBindAddress, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}
