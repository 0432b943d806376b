// Package cache implements the two-tier decision cache: a shared Redis tier
// fronted by a bounded per-instance local tier. Losing either tier never
// changes a decision's correctness, only its latency.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Config tunes the two-tier cache.
type Config struct {
	// LocalCapacity bounds the in-process tier entry count.
	LocalCapacity int
	// LocalBackfillTTL is applied to local entries backfilled from the shared
	// tier, where the original TTL is no longer known.
	LocalBackfillTTL time.Duration
	// RemoteTimeout bounds every shared-tier operation.
	RemoteTimeout time.Duration
	// Reconnect backoff parameters for the shared tier.
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
}

// Stats is a point-in-time snapshot of cache behaviour.
type Stats struct {
	LocalHits    int64 `json:"localHits"`
	LocalMisses  int64 `json:"localMisses"`
	RemoteHits   int64 `json:"remoteHits"`
	RemoteMisses int64 `json:"remoteMisses"`
	RemoteErrors int64 `json:"remoteErrors"`
	LocalKeys    int   `json:"localKeys"`
	Degraded     bool  `json:"degraded"`
}

// TwoTier owns both cache tiers. Values are opaque byte slices; the cache
// never inspects payload shape.
type TwoTier struct {
	local  *localCache
	remote *remoteTier
	logger *slog.Logger

	backfillTTL time.Duration

	localHits    atomic.Int64
	localMisses  atomic.Int64
	remoteHits   atomic.Int64
	remoteMisses atomic.Int64
	remoteErrors atomic.Int64

	events *prometheus.CounterVec
}

// New constructs a TwoTier cache. A nil Redis client yields a local-only cache
// that reports itself permanently degraded.
func New(cfg Config, client *redis.Client, logger *slog.Logger, reg prometheus.Registerer) *TwoTier {
	c := &TwoTier{
		local:       newLocalCache(cfg.LocalCapacity),
		logger:      logger,
		backfillTTL: cfg.LocalBackfillTTL,
	}
	if c.backfillTTL <= 0 {
		c.backfillTTL = time.Minute
	}
	if client != nil {
		c.remote = newRemoteTier(client, cfg, logger)
	}
	if reg != nil {
		c.events = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentra_cache_events_total",
			Help: "Cache events by tier and outcome.",
		}, []string{"tier", "event"})
		reg.MustRegister(c.events)
	}
	return c
}

func (c *TwoTier) event(tier, event string) {
	if c.events != nil {
		c.events.WithLabelValues(tier, event).Inc()
	}
}

// Get returns the cached value for a namespaced key. The local tier is always
// consulted first; a shared-tier hit backfills the local tier so the next read
// stays in process.
func (c *TwoTier) Get(ctx context.Context, namespace, key string) ([]byte, bool) {
	full := Key(namespace, key)

	if value, ok := c.local.get(full); ok {
		c.localHits.Add(1)
		c.event("local", "hit")
		return value, true
	}
	c.localMisses.Add(1)
	c.event("local", "miss")

	value, ok, err := c.remote.get(ctx, full)
	if err != nil {
		c.remoteErrors.Add(1)
		c.event("remote", "error")
		return nil, false
	}
	if !ok {
		c.remoteMisses.Add(1)
		c.event("remote", "miss")
		return nil, false
	}
	c.remoteHits.Add(1)
	c.event("remote", "hit")
	c.local.set(full, value, c.backfillTTL)
	return value, true
}

// Set writes the value to the local tier synchronously, so a read immediately
// after a write never misses, and to the shared tier best effort within the
// bounded timeout. A shared-tier failure never fails the caller.
func (c *TwoTier) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) {
	full := Key(namespace, key)
	c.local.set(full, value, ttl)
	if err := c.remote.set(ctx, full, value, ttl); err != nil {
		c.remoteErrors.Add(1)
		c.event("remote", "error")
	}
}

// SetAsync writes the local tier synchronously and detaches the shared-tier
// write onto its own goroutine. Errors are funneled to the log only; the
// caller's result path is never touched.
func (c *TwoTier) SetAsync(namespace, key string, value []byte, ttl time.Duration) {
	full := Key(namespace, key)
	c.local.set(full, value, ttl)
	go func() {
		if err := c.remote.set(context.Background(), full, value, ttl); err != nil {
			c.remoteErrors.Add(1)
			c.event("remote", "error")
			if c.logger != nil {
				c.logger.Warn("async cache write failed", slog.String("key", full), slog.Any("error", err))
			}
		}
	}()
}

// Delete removes exact keys from both tiers.
func (c *TwoTier) Delete(ctx context.Context, namespace string, keys ...string) {
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = Key(namespace, key)
		c.local.delete(full[i])
	}
	if err := c.remote.delete(ctx, full...); err != nil {
		c.remoteErrors.Add(1)
		c.event("remote", "error")
	}
}

// DeletePrefix removes every key under the namespace prefix from both tiers.
// Used for bulk busts such as tenant-wide invalidation.
func (c *TwoTier) DeletePrefix(ctx context.Context, namespace string, parts ...string) {
	prefix := Prefix(namespace, parts...)
	c.local.deletePrefix(prefix)
	if _, err := c.remote.deletePrefix(ctx, prefix); err != nil {
		c.remoteErrors.Add(1)
		c.event("remote", "error")
		if c.logger != nil {
			c.logger.Warn("shared tier prefix delete incomplete, entries expire by TTL",
				slog.String("prefix", prefix), slog.Any("error", err))
		}
	}
}

// Clear empties the local tier and removes every service-owned key from the
// shared tier.
func (c *TwoTier) Clear(ctx context.Context) {
	c.local.clear()
	if _, err := c.remote.deletePrefix(ctx, keyPrefix+":"); err != nil {
		c.remoteErrors.Add(1)
		c.event("remote", "error")
	}
}

// SweepLocal drops expired local entries and reports how many were removed.
func (c *TwoTier) SweepLocal() int {
	return c.local.sweep()
}

// Degraded reports whether the shared tier is currently unreachable.
func (c *TwoTier) Degraded() bool {
	return c.remote.isDegraded()
}

// Stats returns a snapshot of cache counters.
func (c *TwoTier) Stats() Stats {
	return Stats{
		LocalHits:    c.localHits.Load(),
		LocalMisses:  c.localMisses.Load(),
		RemoteHits:   c.remoteHits.Load(),
		RemoteMisses: c.remoteMisses.Load(),
		RemoteErrors: c.remoteErrors.Load(),
		LocalKeys:    c.local.len(),
		Degraded:     c.remote.isDegraded(),
	}
}
