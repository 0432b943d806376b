package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sentra-authz/sentra/internal/app"
	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/hierarchy"
	"github.com/sentra-authz/sentra/internal/identity"
	"github.com/sentra-authz/sentra/internal/observability"
	"github.com/sentra-authz/sentra/internal/permission"
	"github.com/sentra-authz/sentra/internal/platform/db"
	"github.com/sentra-authz/sentra/internal/policy"
	"github.com/sentra-authz/sentra/internal/profile"
	"github.com/sentra-authz/sentra/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The shared tier is best effort. Startup proceeds and the cache
		// reconnect loop takes over.
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	twoTier := cache.New(cache.Config{
		LocalCapacity:     cfg.CacheLocalCapacity,
		RemoteTimeout:     cfg.CacheRemoteTimeout,
		ReconnectBase:     cfg.CacheReconnectBase,
		ReconnectMax:      cfg.CacheReconnectMax,
		ReconnectAttempts: cfg.CacheReconnectTries,
	}, redisClient, logger, metrics.Registerer())

	version := policy.NewVersion(ctx, redisClient, logger)

	gateway := identity.NewGatewayVerifier(cfg.GatewaySecret, cfg.GatewaySenderList(), cfg.GatewayMaxSkew)
	identityResolver := identity.NewResolver(identity.ResolverConfig{
		JWTSecret:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		Leeway:        cfg.JWTLeeway,
		AllowInsecure: cfg.AuthBypass && !cfg.IsProduction(),
	}, gateway)

	hierarchyResolver := hierarchy.NewResolver(hierarchy.NewRepository(dbpool), twoTier, cfg.HierarchyTTL, logger)
	permissionResolver := permission.NewResolver(permission.NewRepository(dbpool), twoTier, cfg.PermissionTTL, logger)

	engine := policy.NewEngine(policy.EngineConfig{
		DecisionTTL:           cfg.DecisionTTL,
		SuperRole:             cfg.SuperRole,
		SuperRoleTenantGlobal: cfg.SuperRoleTenantGlobal,
		Production:            cfg.IsProduction(),
	}, identityResolver, hierarchyResolver, permissionResolver, twoTier, version, logger, metrics.Registerer())

	invalidator := policy.NewInvalidator(twoTier, version, logger)

	snapshots := profile.NewSnapshots(profile.NewRepository(dbpool), permissionResolver, twoTier, version, cfg.ProfileTTL, logger)

	decisionHandler := policy.NewHandler(logger, engine)
	adminHandler := policy.NewAdminHandler(logger, engine, invalidator, version, cfg.AdminMinRole)
	profileHandler := profile.NewHandler(logger, identityResolver, snapshots)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		DecisionHandler: decisionHandler,
		AdminHandler:    adminHandler,
		ProfileHandler:  profileHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
