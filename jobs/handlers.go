package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/observability"
	"github.com/sentra-authz/sentra/internal/profile"
)

// NewProfileWarmupHandler returns the handler for TaskProfileWarmup.
// Individual user failures are logged and skipped so one missing user
// does not fail the whole batch.
func NewProfileWarmupHandler(snapshots *profile.Snapshots, logger *slog.Logger, metrics *observability.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ProfileWarmupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		warmed := 0
		for _, userID := range payload.UserIDs {
			if _, err := snapshots.Get(ctx, payload.TenantID, userID); err != nil {
				logger.Warn("profile warmup",
					slog.String("tenant_id", payload.TenantID),
					slog.String("user_id", userID),
					slog.Any("error", err))
				continue
			}
			warmed++
		}
		logger.Info("profile warmup complete",
			slog.String("tenant_id", payload.TenantID),
			slog.Int("warmed", warmed),
			slog.Int("requested", len(payload.UserIDs)))
		metrics.ObserveJob(TaskProfileWarmup, "ok")
		return nil
	}
}

// NewCacheSweepHandler returns the handler for TaskCacheSweep.
func NewCacheSweepHandler(twoTier *cache.TwoTier, logger *slog.Logger, metrics *observability.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload CacheSweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		start := time.Now()
		removed := twoTier.SweepLocal()
		logger.Info("cache sweep complete",
			slog.Int("removed", removed),
			slog.Duration("elapsed", time.Since(start)))
		metrics.ObserveJob(TaskCacheSweep, "ok")
		return nil
	}
}
