package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"divvy/internal/amqp"
	"divvy/internal/config"
	"divvy/internal/log"
	"divvy/internal/query"
	"divvy/internal/remote"
	remotememory "divvy/internal/remote/memory"
	remotesheets "divvy/internal/remote/sheets"
	"divvy/internal/syncer"
	"divvy/internal/txcache"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	logger.Info("Starting divvy-syncd")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if !txcache.Available(cfg.CachePath) {
		logger.Error("Local storage unavailable, cannot run sync daemon", "db_path", cfg.CachePath)
		os.Exit(1)
	}

	cache, err := txcache.Open(cfg.CachePath, txcache.Options{
		MaxRecords: cfg.MaxRecords,
		EvictBatch: cfg.EvictBatch,
	})
	if err != nil {
		logger.Error("Failed to open transaction cache", "error", err, "db_path", cfg.CachePath)
		os.Exit(1)
	}
	defer cache.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := buildRemote(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize remote source", "error", err, "backend", cfg.RemoteBackend)
		os.Exit(1)
	}

	queries := query.New(cache, cfg.QueryCacheSize, cfg.QueryCacheTTL)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	sync := syncer.New(cache, source, queries, syncer.Config{
		PollInterval: cfg.SyncInterval,
		Groups:       cfg.Groups,
	})

	// Catch up the configured groups before consuming notifications.
	for _, groupID := range cfg.Groups {
		if err := sync.SyncGroup(ctx, groupID, ""); err != nil {
			logger.Error("Startup sync failed", "group_id", groupID, "error", err)
			// Keep going; the periodic loop retries.
		}
	}

	if err := sync.Start(ctx); err != nil {
		logger.Error("Failed to start syncer", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.ConsumeGroupSync(gctx, func(msg *amqp.GroupSyncMessage) error {
			return sync.HandleSyncMessage(gctx, msg)
		})
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-gctx.Done():
		logger.Info("Context cancelled")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sync.Stop(shutdownCtx); err != nil {
		logger.Warn("Syncer shutdown timed out", "error", err)
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Warn("Consumer exited with error", "error", err)
	}

	logger.Info("divvy-syncd shutdown complete")
}

func buildRemote(ctx context.Context, cfg *config.Config) (remote.Source, error) {
	switch cfg.RemoteBackend {
	case "sheets":
		return remotesheets.NewFromEnv(ctx)
	default:
		return remotememory.New(), nil
	}
}
