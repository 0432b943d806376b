package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sentra-authz/sentra/internal/app"
	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/observability"
	"github.com/sentra-authz/sentra/internal/permission"
	"github.com/sentra-authz/sentra/internal/platform/db"
	"github.com/sentra-authz/sentra/internal/policy"
	"github.com/sentra-authz/sentra/internal/profile"
	"github.com/sentra-authz/sentra/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	metrics := observability.NewMetrics()

	twoTier := cache.New(cache.Config{
		LocalCapacity:     cfg.CacheLocalCapacity,
		RemoteTimeout:     cfg.CacheRemoteTimeout,
		ReconnectBase:     cfg.CacheReconnectBase,
		ReconnectMax:      cfg.CacheReconnectMax,
		ReconnectAttempts: cfg.CacheReconnectTries,
	}, redisClient, logger, metrics.Registerer())

	version := policy.NewVersion(ctx, redisClient, logger)
	permissionResolver := permission.NewResolver(permission.NewRepository(pool), twoTier, cfg.PermissionTTL, logger)
	snapshots := profile.NewSnapshots(profile.NewRepository(pool), permissionResolver, twoTier, version, cfg.ProfileTTL, logger)

	sweepTask, err := jobs.NewCacheSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskProfileWarmup, Handler: jobs.NewProfileWarmupHandler(snapshots, logger, metrics)},
			{Type: jobs.TaskCacheSweep, Handler: jobs.NewCacheSweepHandler(twoTier, logger, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
