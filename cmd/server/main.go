// Package main is the entrypoint for the docrender API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/docrender/internal/api"
	"github.com/kiranshivaraju/docrender/internal/api/handler"
	mw "github.com/kiranshivaraju/docrender/internal/api/middleware"
	"github.com/kiranshivaraju/docrender/internal/api/response"
	"github.com/kiranshivaraju/docrender/internal/blob"
	"github.com/kiranshivaraju/docrender/internal/cache"
	"github.com/kiranshivaraju/docrender/internal/config"
	"github.com/kiranshivaraju/docrender/internal/logging"
	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/kiranshivaraju/docrender/internal/queue"
	"github.com/kiranshivaraju/docrender/internal/quota"
	"github.com/kiranshivaraju/docrender/internal/render"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/internal/submit"
	"github.com/kiranshivaraju/docrender/internal/template"
	"github.com/kiranshivaraju/docrender/internal/usage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log).With().Str("component", "server").Logger()
	logger.Info().Str("env", cfg.Server.Env).Int("port", cfg.Server.Port).Msg("config loaded")

	if cfg.Storage.Bucket == "" {
		return fmt.Errorf("load config: STORAGE_BUCKET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("database migrations applied")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info().Msg("redis connected")

	blobs, err := blob.NewGCSStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object storage: %w", err)
	}
	defer blobs.Close()

	plans := quota.DefaultPlans()
	if cfg.Quota.PlansFile != "" {
		if plans, err = quota.LoadPlans(cfg.Quota.PlansFile); err != nil {
			return fmt.Errorf("load plans: %w", err)
		}
	}

	metrics.MustRegister()

	pgStore := store.NewPostgresStore(pool)
	templates := template.NewCache(cfg.Template.CacheTTL, nil)
	engines := render.NewPool(cfg.Render.PoolSize, render.ChromeLauncher(cfg.Render), logger)
	defer engines.Close()

	svc := submit.NewService(submit.Deps{
		Store:       pgStore,
		RenderQueue: newQueue(redisCache, cfg.QueueSpecFor(false)),
		AIQueue:     newQueue(redisCache, cfg.QueueSpecFor(true)),
		Blobs:       blobs,
		Templates:   templates,
		Renderer:    render.NewRenderer(engines, render.PDFPageCount),
		Ledger:      usage.NewLedger(pgStore, logger, nil),
		Plans:       plans,
		Pipeline:    submit.DefaultPipeline(pgStore, plans, quota.NewGuard(pgStore, nil), nil),
		Cache:       redisCache,
		Logger:      logger,
	}, submit.Config{
		RenderTTL:     cfg.Job.RenderTTL,
		AITTL:         cfg.Job.AITTL,
		SignedURLTTL:  cfg.Storage.SignedURLTTL,
		RenderTimeout: cfg.Worker.RenderTimeout,
		MaxRecords:    cfg.Job.MaxItemsPerRequest,
	})

	router := api.NewRouter(api.Dependencies{
		Logger:    logger,
		Auth:      mw.NewAuth(pgStore, cfg.Auth, logger),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Redis.RequestsPerMinute, logger),

		HealthHandler:      healthHandler(pgStore, redisCache),
		MetricsHandler:     metrics.Handler(),
		SubmitJobHandler:   handler.NewSubmitRenderHandler(svc),
		SubmitAIJobHandler: handler.NewSubmitAIHandler(svc),
		JobStatusHandler:   handler.NewJobStatusHandler(svc, nil),
		RenderSyncHandler:  handler.NewRenderSyncHandler(svc),
		PutTemplateHandler: handler.NewPutTemplateHandler(svc),
		UsageHandler:       handler.NewUsageHandler(svc),
		CreateKeyHandler:   handler.NewCreateKeyHandler(pgStore, svc, nil),
		ListKeysHandler:    handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:   handler.NewRevokeKeyHandler(pgStore),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Worker.RenderTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		refs, closeSub := redisCache.Subscribe(gctx, cache.TemplateInvalidationChannel)
		defer closeSub()
		templates.Listen(gctx, refs, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped gracefully")
	return nil
}

func newQueue(c *cache.RedisCache, spec config.QueueSpec) queue.Queue {
	return queue.NewRedisQueue(c.Client(), queue.Options{
		Name:        spec.Name,
		Visibility:  spec.Visibility,
		MaxReceives: spec.MaxReceives,
	})
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
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
