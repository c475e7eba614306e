// Package main is the entrypoint for the docrender queue worker.
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

	"github.com/kiranshivaraju/docrender/internal/ai"
	"github.com/kiranshivaraju/docrender/internal/blob"
	"github.com/kiranshivaraju/docrender/internal/cache"
	"github.com/kiranshivaraju/docrender/internal/config"
	"github.com/kiranshivaraju/docrender/internal/email"
	"github.com/kiranshivaraju/docrender/internal/logging"
	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/kiranshivaraju/docrender/internal/queue"
	"github.com/kiranshivaraju/docrender/internal/render"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/internal/template"
	"github.com/kiranshivaraju/docrender/internal/usage"
	"github.com/kiranshivaraju/docrender/internal/worker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 60 * time.Second

func main() {
	if err := run(); err != nil {
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

// served reports which queues this worker consumes, by configured name.
type served struct {
	render *config.QueueSpec
	ai     *config.QueueSpec
}

func selectQueues(cfg *config.Config) (served, error) {
	var s served
	for _, name := range cfg.Worker.Queues {
		switch name {
		case cfg.Queue.Render.Name:
			spec := cfg.Queue.Render
			s.render = &spec
		case cfg.Queue.AI.Name:
			spec := cfg.Queue.AI
			s.ai = &spec
		default:
			return served{}, fmt.Errorf("WORKER_QUEUES: unknown queue %q", name)
		}
	}
	if s.render == nil && s.ai == nil {
		return served{}, errors.New("WORKER_QUEUES: no queues configured")
	}
	return s, nil
}

// buildNotifiers always delivers webhooks and adds completion emails when an
// SMTP relay is configured.
func buildNotifiers(cfg *config.Config, jobs store.JobStore, blobs blob.Store, logger zerolog.Logger) (worker.Notifiers, error) {
	notifiers := worker.Notifiers{worker.NewWebhookNotifier(jobs, cfg.Worker.NotifyTimeout, logger)}
	if !cfg.Email.Enabled() {
		logger.Info().Msg("EMAIL_SMTP_HOST not set, completion emails disabled")
		return notifiers, nil
	}
	sender, err := email.NewSMTPSender(cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	return append(notifiers, worker.NewEmailNotifier(sender, blobs, cfg.Email.MaxAttachmentBytes, logger)), nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log).With().Str("component", "worker").Logger()

	sel, err := selectQueues(cfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
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

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	blobs, err := blob.NewGCSStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object storage: %w", err)
	}
	defer blobs.Close()

	metrics.MustRegister()

	pgStore := store.NewPostgresStore(pool)
	templates := template.NewCache(cfg.Template.CacheTTL, nil)
	notifiers, err := buildNotifiers(cfg, pgStore, blobs, logger)
	if err != nil {
		return err
	}
	deps := worker.Deps{
		Jobs:      pgStore,
		Blobs:     blobs,
		Templates: templates,
		Ledger:    usage.NewLedger(pgStore, logger, nil),
		Cache:     redisCache,
		Notifier:  notifiers,
		Logger:    logger,
	}

	if sel.render != nil {
		engines := render.NewPool(cfg.Render.PoolSize, render.ChromeLauncher(cfg.Render), logger)
		defer engines.Close()
		deps.Renderer = render.NewRenderer(engines, render.PDFPageCount)
	}
	if sel.ai != nil {
		provider, err := ai.NewProvider(ctx, cfg.AI)
		if err != nil {
			return fmt.Errorf("create AI provider: %w", err)
		}
		deps.AI = provider
		logger.Info().Str("provider", provider.Name()).Msg("AI provider initialized")
	}

	proc := worker.NewProcessor(deps, worker.Options{
		RenderTimeout: cfg.Worker.RenderTimeout,
		AITimeout:     cfg.AI.Timeout,
		SignedURLTTL:  cfg.Storage.SignedURLTTL,
	})

	var queues []queue.Queue
	for _, spec := range []*config.QueueSpec{sel.render, sel.ai} {
		if spec == nil {
			continue
		}
		queues = append(queues, queue.NewRedisQueue(redisCache.Client(), queue.Options{
			Name:         spec.Name,
			Visibility:   spec.Visibility,
			MaxReceives:  spec.MaxReceives,
			OnDeadLetter: proc.HandleDeadLetter,
		}))
	}

	consumers := worker.NewPool(queues, proc, logger,
		worker.WithPoolConcurrency(cfg.Worker.Concurrency),
		worker.WithPollInterval(cfg.Queue.PollInterval),
	)
	if err := consumers.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", metricsSrv.Addr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return worker.RunPurge(gctx, pgStore, cfg.Worker.PurgeInterval, nil, logger)
	})
	g.Go(func() error {
		refs, closeSub := redisCache.Subscribe(gctx, cache.TemplateInvalidationChannel)
		defer closeSub()
		templates.Listen(gctx, refs, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received, stopping consumers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := consumers.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("consumers did not drain in time")
		}
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("worker stopped gracefully")
	return nil
}
