// Package permission expands role codes into the effective permission set.
package permission

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/platform/db"
)

// Wildcard is the sentinel permission granting everything.
const Wildcard = "*"

// Store reads role permission lists from the backing store.
type Store interface {
	// RolePermissions returns the permission codes granted by a tenant role.
	RolePermissions(ctx context.Context, tenantID, role string) ([]string, error)
}

// Set is a permission code set.
type Set map[string]struct{}

// Has reports whether the set contains the code, honouring the wildcard.
func (s Set) Has(code string) bool {
	if _, ok := s[Wildcard]; ok {
		return true
	}
	_, ok := s[code]
	return ok
}

// HasAny reports whether the set contains any of the codes.
func (s Set) HasAny(codes ...string) bool {
	if _, ok := s[Wildcard]; ok {
		return true
	}
	for _, code := range codes {
		if _, ok := s[code]; ok {
			return true
		}
	}
	return false
}

// HasAll reports whether the set contains every code.
func (s Set) HasAll(codes ...string) bool {
	if _, ok := s[Wildcard]; ok {
		return true
	}
	for _, code := range codes {
		if _, ok := s[code]; !ok {
			return false
		}
	}
	return true
}

// Slice returns the codes in unspecified order.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for code := range s {
		out = append(out, code)
	}
	return out
}

// Resolver is a pure read-side projection of role permission data, cached per
// role code through the two-tier cache. It never mutates role data.
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

// EffectivePermissions unions the permission lists of the given roles.
// A store failure for a role contributes an empty list: the evaluation stays
// available and fails closed rather than erroring the caller.
func (r *Resolver) EffectivePermissions(ctx context.Context, tenantID string, roles []string) Set {
	effective := make(Set)
	for _, role := range roles {
		for _, code := range r.rolePermissions(ctx, tenantID, role) {
			effective[code] = struct{}{}
		}
	}
	return effective
}

// HasPermission reports whether any of the roles grants the code.
func (r *Resolver) HasPermission(ctx context.Context, tenantID string, roles []string, code string) bool {
	return r.EffectivePermissions(ctx, tenantID, roles).Has(code)
}

// HasAny reports whether any of the roles grants at least one code.
func (r *Resolver) HasAny(ctx context.Context, tenantID string, roles []string, codes ...string) bool {
	return r.EffectivePermissions(ctx, tenantID, roles).HasAny(codes...)
}

// HasAll reports whether the roles together grant every code.
func (r *Resolver) HasAll(ctx context.Context, tenantID string, roles []string, codes ...string) bool {
	return r.EffectivePermissions(ctx, tenantID, roles).HasAll(codes...)
}

func (r *Resolver) rolePermissions(ctx context.Context, tenantID, role string) []string {
	key := tenantID + ":" + role
	if raw, ok := r.cache.Get(ctx, cache.NamespacePermission, key); ok {
		var codes []string
		if err := json.Unmarshal(raw, &codes); err == nil {
			return codes
		}
	}

	value, err, _ := r.group.Do(key, func() (any, error) {
		codes, err := r.store.RolePermissions(ctx, tenantID, role)
		if err != nil {
			return nil, err
		}
		if codes == nil {
			codes = []string{}
		}
		if raw, err := json.Marshal(codes); err == nil {
			r.cache.SetAsync(cache.NamespacePermission, key, raw, r.ttl)
		}
		return codes, nil
	})
	if err != nil {
		if r.logger != nil {
			level := slog.LevelError
			if db.Transient(err) {
				level = slog.LevelWarn
			}
			r.logger.Log(ctx, level, "permission store unavailable, treating role as empty",
				slog.String("tenant", tenantID), slog.String("role", role), slog.Any("error", err))
		}
		return nil
	}
	return value.([]string)
}
