package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// remoteTier wraps the shared Redis tier. Every operation carries a short
// bounded timeout; failures flip the tier into degraded mode and kick off a
// single background reconnect loop. While degraded, all operations short
// circuit so callers never pay the timeout again.
type remoteTier struct {
	client  *redis.Client
	timeout time.Duration
	logger  *slog.Logger

	backoffBase time.Duration
	backoffMax  time.Duration
	maxAttempts int

	degraded    atomic.Bool
	lastAttempt atomic.Int64
	reconnects  singleflight.Group
}

func newRemoteTier(client *redis.Client, cfg Config, logger *slog.Logger) *remoteTier {
	t := &remoteTier{
		client:      client,
		timeout:     cfg.RemoteTimeout,
		logger:      logger,
		backoffBase: cfg.ReconnectBase,
		backoffMax:  cfg.ReconnectMax,
		maxAttempts: cfg.ReconnectAttempts,
	}
	if t.timeout <= 0 {
		t.timeout = 250 * time.Millisecond
	}
	if t.backoffBase <= 0 {
		t.backoffBase = 200 * time.Millisecond
	}
	if t.backoffMax <= 0 {
		t.backoffMax = 10 * time.Second
	}
	if t.maxAttempts <= 0 {
		t.maxAttempts = 6
	}
	return t
}

// isDegraded reports whether operations should short circuit. While degraded
// with a live client, it re-arms the reconnect loop once per backoffMax
// window, so a long outage heals without a process restart.
func (t *remoteTier) isDegraded() bool {
	if t == nil || t.client == nil {
		return true
	}
	if !t.degraded.Load() {
		return false
	}
	last := t.lastAttempt.Load()
	if time.Since(time.Unix(0, last)) >= t.backoffMax {
		t.scheduleReconnect()
	}
	return true
}

func (t *remoteTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	if t.isDegraded() {
		return nil, false, nil
	}
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	value, err := t.client.Get(opCtx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		t.fail("get", err)
		return nil, false, err
	}
	return value, true, nil
}

func (t *remoteTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if t.isDegraded() {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.client.Set(opCtx, key, value, ttl).Err(); err != nil {
		t.fail("set", err)
		return err
	}
	return nil
}

func (t *remoteTier) delete(ctx context.Context, keys ...string) error {
	if t.isDegraded() || len(keys) == 0 {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.client.Del(opCtx, keys...).Err(); err != nil {
		t.fail("del", err)
		return err
	}
	return nil
}

// deletePrefix removes every key under the prefix via SCAN, batching deletes.
// Bulk invalidation tolerates a longer deadline than point reads.
func (t *remoteTier) deletePrefix(ctx context.Context, prefix string) (int, error) {
	if t.isDegraded() {
		return 0, nil
	}
	opCtx, cancel := context.WithTimeout(ctx, 10*t.timeout)
	defer cancel()

	removed := 0
	iter := t.client.Scan(opCtx, 0, prefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := t.client.Del(opCtx, batch...).Err(); err != nil {
			return err
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}
	for iter.Next(opCtx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := flush(); err != nil {
				t.fail("del-prefix", err)
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		t.fail("scan", err)
		return removed, err
	}
	if err := flush(); err != nil {
		t.fail("del-prefix", err)
		return removed, err
	}
	return removed, nil
}

// fail records an operation failure and enters degraded mode. The first
// failure after a healthy period starts the reconnect loop; later rounds are
// re-armed from isDegraded, at most once per backoffMax window.
func (t *remoteTier) fail(op string, err error) {
	if t.degraded.CompareAndSwap(false, true) {
		if t.logger != nil {
			t.logger.Warn("shared cache degraded", slog.String("op", op), slog.Any("error", err))
		}
		t.scheduleReconnect()
	}
}

// scheduleReconnect starts the reconnect loop unless one is already in flight.
// singleflight guarantees concurrent callers share the same attempt.
func (t *remoteTier) scheduleReconnect() {
	t.lastAttempt.Store(time.Now().UnixNano())
	t.reconnects.DoChan("reconnect", func() (any, error) {
		t.reconnectLoop()
		return nil, nil
	})
}

func (t *remoteTier) reconnectLoop() {
	delay := t.backoffBase
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		time.Sleep(delay)
		pingCtx, cancel := context.WithTimeout(context.Background(), t.timeout)
		err := t.client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			t.degraded.Store(false)
			if t.logger != nil {
				t.logger.Info("shared cache reconnected", slog.Int("attempt", attempt))
			}
			return
		}
		delay *= 2
		if delay > t.backoffMax {
			delay = t.backoffMax
		}
	}
	// Stamp the end of the round so the next re-arm waits a full window.
	t.lastAttempt.Store(time.Now().UnixNano())
	if t.logger != nil {
		t.logger.Warn("shared cache reconnect exhausted, local-only until the next window",
			slog.Int("attempts", t.maxAttempts))
	}
}
