package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattes337/logsink/internal/admission"
	"github.com/mattes337/logsink/internal/api"
	"github.com/mattes337/logsink/internal/blacklist"
	"github.com/mattes337/logsink/internal/cache"
	"github.com/mattes337/logsink/internal/cleanup"
	"github.com/mattes337/logsink/internal/config"
	"github.com/mattes337/logsink/internal/embedding"
	"github.com/mattes337/logsink/internal/images"
	"github.com/mattes337/logsink/internal/lifecycle"
	"github.com/mattes337/logsink/internal/llm"
	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
	"github.com/mattes337/logsink/internal/store/postgres"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	skipMigration := flag.Bool("skip-migration", false, "do not run migrations on startup")
	flag.Parse()

	if err := run(*migrateOnly, *skipMigration); err != nil {
		fmt.Fprintf(os.Stderr, "logsink: %v\n", err)
		os.Exit(1)
	}
}

func run(migrateOnly, skipMigration bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := observability.NewLoggerWithLevel("logsink", observability.ParseLevel(cfg.Log.Level))

	st, err := postgres.New(context.Background(), cfg.Database, logger.WithPrefix("store"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	if migrateOnly {
		if err := st.Migrate(); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("Migrations complete", nil)
		return nil
	}
	if !skipMigration {
		if err := st.Migrate(); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	imageStore, err := images.NewStore(cfg.Storage.ImagesDir, logger.WithPrefix("images"))
	if err != nil {
		return fmt.Errorf("preparing image storage: %w", err)
	}
	extractor := images.NewExtractor(imageStore, cfg.Storage.MaxImageSize, cfg.Storage.AllowedImageTypes, logger.WithPrefix("images"))

	engine := lifecycle.New(st, imageStore, logger.WithPrefix("lifecycle"))

	// Blacklist cache. A disabled blacklist leaves admission unfiltered.
	var blacklistCache *blacklist.Cache
	if cfg.Blacklist.Enabled {
		blacklistCache = blacklist.New(st, st, engine, cfg.Blacklist.CacheTimeout, cfg.Blacklist.AutoDelete, logger.WithPrefix("blacklist"))
		if err := blacklistCache.Refresh(context.Background()); err != nil {
			logger.Warn("Initial blacklist refresh failed", map[string]any{"error": err.Error()})
		}
	}

	pipeline := admission.New(st, blacklistCache, extractor, cfg.Embedding.Enabled, logger.WithPrefix("admission"))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedding worker, only when the provider is configured.
	var worker *embedding.Worker
	var embedClient embedding.Client
	if cfg.Embedding.Enabled {
		resultCache, err := cache.New(cfg.Cache)
		if err != nil {
			return fmt.Errorf("creating embedding cache: %w", err)
		}
		defer resultCache.Close()

		embedClient, err = embedding.NewOpenAIClient(cfg.Embedding, resultCache, logger.WithPrefix("embedding"))
		if err != nil {
			return fmt.Errorf("creating embedding client: %w", err)
		}
		worker = embedding.NewWorker(st, embedClient,
			cfg.Embedding.SimilarityThreshold, cfg.Embedding.BatchSize, cfg.Embedding.Interval,
			logger.WithPrefix("embedding"))
		worker.Start(rootCtx)
		defer worker.Stop()
	}

	// LLM refinement is optional inside cleanup.
	var refiner llm.Refiner
	if client, err := llm.New(cfg.LLM, logger.WithPrefix("llm")); err == nil {
		refiner = client
	} else if !errors.Is(err, models.ErrUnavailable) {
		return fmt.Errorf("creating LLM client: %w", err)
	}

	var scheduler *cleanup.Scheduler
	if cfg.Cleanup.Enabled {
		scheduler = cleanup.New(st, imageStore, refiner, cleanup.Options{
			Interval:           cfg.Cleanup.Interval,
			DuplicateThreshold: cfg.Cleanup.DuplicateThreshold,
			MaxAge:             time.Duration(cfg.Cleanup.MaxAgeDays) * 24 * time.Hour,
			BatchSize:          cfg.Cleanup.BatchSize,
		}, logger.WithPrefix("cleanup"))
		scheduler.Start(rootCtx)
		defer scheduler.Stop()
	}

	components := api.Components{
		DB:   st,
		Logs: api.NewLogAPI(pipeline, engine, st, imageStore, logger.WithPrefix("api")),
	}
	if blacklistCache != nil {
		components.Blacklist = api.NewBlacklistAPI(blacklistCache, logger.WithPrefix("api"))
	}
	if scheduler != nil {
		components.Cleanup = api.NewCleanupAPI(scheduler, logger.WithPrefix("api"))
	}
	if worker != nil {
		components.Embedding = api.NewEmbeddingAPI(worker, embedClient, st, logger.WithPrefix("api"))
	}

	server := api.NewServer(cfg.Server, components, logger.WithPrefix("http"))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-rootCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
