package policy

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

const versionKey = "sentra:policy:version"

// Version is the process-local monotonic policy version counter. It is a
// coarse freshness signal embedded in ETags and decision payloads, not a
// substitute for targeted invalidation. Bumps are mirrored to Redis best
// effort so multi-instance deployments converge on restart.
type Version struct {
	counter atomic.Int64
	client  *redis.Client
	logger  *slog.Logger
}

// NewVersion constructs a Version, seeding from the shared mirror when one is
// available.
func NewVersion(ctx context.Context, client *redis.Client, logger *slog.Logger) *Version {
	v := &Version{client: client, logger: logger}
	v.counter.Store(1)
	if client != nil {
		if shared, err := client.Get(ctx, versionKey).Int64(); err == nil && shared > 1 {
			v.counter.Store(shared)
		}
	}
	return v
}

// Current returns the current version.
func (v *Version) Current() int64 {
	return v.counter.Load()
}

// Bump atomically increments the version and returns the new value.
func (v *Version) Bump(ctx context.Context) int64 {
	next := v.counter.Add(1)
	if v.client != nil {
		if err := v.client.IncrBy(ctx, versionKey, 1).Err(); err != nil && v.logger != nil {
			v.logger.Warn("policy version mirror failed", slog.Any("error", err))
		}
	}
	return next
}

// Set forces the counter to a specific value. Intended for tests.
func (v *Version) Set(value int64) {
	v.counter.Store(value)
}
