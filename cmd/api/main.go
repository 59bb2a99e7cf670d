package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"musicaltracker/api/internal/cache"
	"musicaltracker/api/internal/config"
	"musicaltracker/api/internal/database"
	"musicaltracker/api/internal/handlers"
	"musicaltracker/api/internal/jobs"
	"musicaltracker/api/internal/log"
	"musicaltracker/api/internal/media/keys"
	"musicaltracker/api/internal/media/transform"
	"musicaltracker/api/internal/queue"
	"musicaltracker/api/internal/repository"
	"musicaltracker/api/internal/server"
	"musicaltracker/api/internal/service"
	"musicaltracker/api/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()

	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(cfg.Postgres.DSN); err != nil {
			logger.Fatal().Err(err).Msg("database migration failed")
		}
	}

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.Ready(); err != nil {
		logger.Error().Err(err).Msg("object store misconfigured, uploads will fail")
	} else if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure bucket failed")
	}

	publisher := queue.NewPublisher(redisClient, cfg.Redis.Stream)
	ingest := service.NewIngestService(
		objectStore,
		repository.NewImageRepository(dbPool),
		transform.New(cfg.Upload.MaxPixels),
		keys.NewDeriver(),
		publisher,
		logger,
	)

	handlerSet := handlers.NewHandlerSet(logger, cfg, ingest,
		handlers.HealthCheck{Name: "database", Check: dbPool.Ping},
		handlers.HealthCheck{Name: "cache", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
		handlers.HealthCheck{Name: "storage", Check: func(context.Context) error {
			return objectStore.Ready()
		}},
	)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(publisher, cfg.Jobs.ReconcileSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop(5 * time.Second)

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
