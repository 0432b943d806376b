// Package cli holds operational helpers for cache and job maintenance.
package cli

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	platformcache "github.com/sentra-authz/sentra/internal/platform/cache"
)

const (
	keyPrefix  = "sentra:"
	versionKey = "sentra:policy:version"
)

// CacheOpsCLI wraps manual management helpers for the shared cache tier.
type CacheOpsCLI struct {
	client *redis.Client
}

// NewCacheOpsCLI connects to Redis at the provided address. Unlike the
// server, the CLI fails hard when Redis is unreachable.
func NewCacheOpsCLI(ctx context.Context, redisAddr string) (*CacheOpsCLI, error) {
	client, err := platformcache.New(ctx, redisAddr)
	if err != nil {
		return nil, err
	}
	return &CacheOpsCLI{client: client}, nil
}

// Close releases underlying resources.
func (c *CacheOpsCLI) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Version reads the shared policy version mirror.
func (c *CacheOpsCLI) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("cache cli: client not configured")
	}
	raw, err := c.client.Get(ctx, versionKey).Result()
	if errors.Is(err, redis.Nil) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// KeyCount counts cache keys, optionally narrowed to one namespace.
func (c *CacheOpsCLI) KeyCount(ctx context.Context, namespace string) (int, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("cache cli: client not configured")
	}
	pattern := keyPrefix + "*"
	if namespace != "" {
		pattern = keyPrefix + namespace + ":*"
	}
	return c.scanCount(ctx, pattern)
}

// InvalidateTenant removes every cache key scoped to a tenant across all
// namespaces. Returns the number of keys removed.
func (c *CacheOpsCLI) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("cache cli: client not configured")
	}
	if tenantID == "" {
		return 0, errors.New("cache cli: tenant id required")
	}
	pattern := keyPrefix + "*:" + tenantID + ":*"
	removed := 0
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

func (c *CacheOpsCLI) scanCount(ctx context.Context, pattern string) (int, error) {
	count := 0
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return count, err
	}
	return count, nil
}
