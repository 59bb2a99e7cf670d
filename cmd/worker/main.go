package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"musicaltracker/api/internal/cache"
	"musicaltracker/api/internal/config"
	"musicaltracker/api/internal/database"
	"musicaltracker/api/internal/log"
	"musicaltracker/api/internal/queue"
	"musicaltracker/api/internal/repository"
	"musicaltracker/api/internal/storage"
	"musicaltracker/api/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	if err := cache.EnsureGroup(ctx, client, cfg.Redis.Stream, cfg.Redis.Group); err != nil {
		logger.Fatal().Err(err).Msg("consumer group setup failed")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.Ready(); err != nil {
		logger.Fatal().Err(err).Msg("object store misconfigured")
	}

	processor := tasks.NewProcessor(objectStore, repository.NewImageRepository(dbPool), logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Redis.Stream,
		cfg.Redis.Group,
		cfg.Redis.Consumer,
		cfg.Queue.ClaimInterval,
		logger,
		processor,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
