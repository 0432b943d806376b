// Package hierarchy maps role codes to ordered privilege levels.
package hierarchy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/platform/db"
)

// Store reads the role level map from the backing store.
type Store interface {
	// RoleLevels returns the code -> level map for a tenant's active roles.
	RoleLevels(ctx context.Context, tenantID string) (map[string]int, error)
}

// FallbackLevels is the hardcoded level table served when the backing store
// is unavailable. Store entries win on merge.
func FallbackLevels() map[string]int {
	return map[string]int{
		"viewer":     10,
		"member":     20,
		"editor":     30,
		"manager":    50,
		"admin":      70,
		"owner":      90,
		"superadmin": 100,
	}
}

// Resolver serves role level lookups through the two-tier cache, falling back
// to the static table when the store fails. Decisions stay available at the
// cost of hierarchy freshness; roles change infrequently.
type Resolver struct {
	store  Store
	cache  *cache.TwoTier
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, twoTier *cache.TwoTier, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{store: store, cache: twoTier, ttl: ttl, logger: logger}
}

// Level returns the privilege level for a role code. Unknown roles are 0.
func (r *Resolver) Level(ctx context.Context, tenantID, role string) int {
	return r.levels(ctx, tenantID)[role]
}

// HighestLevel returns the maximum level across the given roles. An empty or
// entirely unknown role set yields 0.
func (r *Resolver) HighestLevel(ctx context.Context, tenantID string, roles []string) int {
	levels := r.levels(ctx, tenantID)
	highest := 0
	for _, role := range roles {
		if level := levels[role]; level > highest {
			highest = level
		}
	}
	return highest
}

// HasMinimum reports whether the caller's highest level meets the target
// role's level. Unknown roles resolve to 0, so callers holding only unknown
// roles never satisfy a non-zero minimum.
func (r *Resolver) HasMinimum(ctx context.Context, tenantID string, roles []string, minRole string) bool {
	levels := r.levels(ctx, tenantID)
	min := levels[minRole]
	if min == 0 {
		return true
	}
	highest := 0
	for _, role := range roles {
		if level := levels[role]; level > highest {
			highest = level
		}
	}
	return highest >= min
}

// levels resolves the merged level map for a tenant: cache, then store merged
// over the fallback table, then fallback alone on store failure.
func (r *Resolver) levels(ctx context.Context, tenantID string) map[string]int {
	if raw, ok := r.cache.Get(ctx, cache.NamespaceHierarchy, tenantID); ok {
		var levels map[string]int
		if err := json.Unmarshal(raw, &levels); err == nil {
			return levels
		}
	}

	value, err, _ := r.group.Do(tenantID, func() (any, error) {
		stored, err := r.store.RoleLevels(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		merged := FallbackLevels()
		for code, level := range stored {
			merged[code] = level
		}
		if raw, err := json.Marshal(merged); err == nil {
			r.cache.SetAsync(cache.NamespaceHierarchy, tenantID, raw, r.ttl)
		}
		return merged, nil
	})
	if err != nil {
		if r.logger != nil {
			level := slog.LevelError
			if db.Transient(err) {
				level = slog.LevelWarn
			}
			r.logger.Log(ctx, level, "role hierarchy store unavailable, serving fallback table",
				slog.String("tenant", tenantID), slog.Any("error", err))
		}
		return FallbackLevels()
	}
	return value.(map[string]int)
}
