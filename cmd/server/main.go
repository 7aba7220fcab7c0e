// Package main is the entrypoint for the RiskForge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riskforge/riskforge/internal/api"
	"github.com/riskforge/riskforge/internal/api/handler"
	mw "github.com/riskforge/riskforge/internal/api/middleware"
	"github.com/riskforge/riskforge/internal/api/response"
	"github.com/riskforge/riskforge/internal/cache"
	"github.com/riskforge/riskforge/internal/config"
	"github.com/riskforge/riskforge/internal/pipeline"
	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/registry"
	"github.com/riskforge/riskforge/internal/scoring"
	"github.com/riskforge/riskforge/internal/store"
	"github.com/riskforge/riskforge/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"scorer_provider", cfg.Scoring.Provider,
		"model", cfg.Scoring.ModelName,
		"workers", cfg.Pipeline.Workers,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and model registry
	pgStore := store.NewPostgresStore(pool)

	reg := registry.New(pgStore)
	if err := reg.Warm(ctx, cfg.Scoring.ModelName); err != nil {
		return fmt.Errorf("warm model registry: %w", err)
	}

	// 6. Create scorer
	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		return fmt.Errorf("create scorer: %w", err)
	}
	slog.Info("scorer initialized", "scorer", scorer.Name())

	// 7. Build the pipeline: queue, submission service, worker pool, reaper
	taskQueue := queue.New(cfg.Pipeline.QueueCapacity)
	worker.RegisterQueueDepth(taskQueue)

	svc := pipeline.NewService(pgStore, taskQueue, redisCache)
	if _, err := svc.RecoverPending(ctx); err != nil {
		return fmt.Errorf("recover pending tasks: %w", err)
	}

	workerPool := worker.NewPool(worker.PoolConfig{
		Workers:      cfg.Pipeline.Workers,
		ModelName:    cfg.Scoring.ModelName,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		BackoffBase:  cfg.Pipeline.BackoffBase,
		ScoreTimeout: cfg.Scoring.Timeout,
	}, taskQueue, pgStore, reg, scorer, redisCache)
	workerPool.Start(ctx)

	reaper := worker.NewReaper(worker.ReaperConfig{
		Interval:           cfg.Pipeline.ReapInterval,
		StalenessThreshold: cfg.Pipeline.StalenessThreshold,
		MaxAttempts:        cfg.Pipeline.MaxAttempts,
	}, pgStore, taskQueue, redisCache)
	go reaper.Run(ctx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 120, 30)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:  healthHandler(pgStore, redisCache, reg, cfg.Scoring.ModelName),
		MetricsHandler: promhttp.Handler(),

		SubmitHandler:  handler.NewSubmitHandler(svc),
		StatusHandler:  handler.NewStatusHandler(svc),
		HistoryHandler: handler.NewHistoryHandler(svc),

		RegisterModelHandler: handler.NewRegisterModelHandler(reg),
		ActivateModelHandler: handler.NewActivateModelHandler(reg),
		ListModelsHandler:    handler.NewListModelsHandler(reg),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Stop admitting work, then wait for in-flight tasks to finish.
	taskQueue.Close()
	workerPool.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database, cache, and active-model availability.
func healthHandler(s store.Store, c cache.Cache, reg *registry.Registry, modelName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"model":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if _, err := reg.ResolveActive(r.Context(), modelName); err != nil {
			checks["model"] = "no_active_version"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok" || checks["model"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
