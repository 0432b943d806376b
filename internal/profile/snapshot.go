// Package profile builds and caches per-user profile snapshots: identity,
// active roles, and effective permissions, with conditional-fetch semantics.
package profile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/permission"
	"github.com/sentra-authz/sentra/internal/policy"
)

// UserIdentity is the minimal identity projection read from the store.
type UserIdentity struct {
	Email string
	Name  string
}

// Store reads user identity and active role assignments.
type Store interface {
	UserIdentity(ctx context.Context, tenantID, userID string) (UserIdentity, error)
	UserRoles(ctx context.Context, tenantID, userID string) ([]string, error)
}

// Snapshot is the cached per-user projection.
type Snapshot struct {
	TenantID      string    `json:"tenantId"`
	UserID        string    `json:"userId"`
	Email         string    `json:"email,omitempty"`
	Name          string    `json:"name,omitempty"`
	Roles         []string  `json:"roles"`
	Permissions   []string  `json:"permissions"`
	PolicyVersion int64     `json:"policyVersion"`
	ETag          string    `json:"etag"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// Snapshots serves cached profile snapshots keyed by (tenant, user).
type Snapshots struct {
	store       Store
	permissions *permission.Resolver
	cache       *cache.TwoTier
	version     *policy.Version
	ttl         time.Duration
	logger      *slog.Logger
	group       singleflight.Group
	now         func() time.Time
}

// NewSnapshots constructs a Snapshots service.
func NewSnapshots(store Store, permissions *permission.Resolver, twoTier *cache.TwoTier, version *policy.Version, ttl time.Duration, logger *slog.Logger) *Snapshots {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Snapshots{
		store:       store,
		permissions: permissions,
		cache:       twoTier,
		version:     version,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

// Get returns the snapshot for a user, building and caching it on miss.
func (s *Snapshots) Get(ctx context.Context, tenantID, userID string) (Snapshot, error) {
	key := tenantID + ":" + userID
	if raw, ok := s.cache.Get(ctx, cache.NamespaceProfile, key); ok {
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return snap, nil
		}
	}

	value, err, _ := s.group.Do(key, func() (any, error) {
		snap, err := s.build(ctx, tenantID, userID)
		if err != nil {
			return Snapshot{}, err
		}
		if raw, err := json.Marshal(snap); err == nil {
			s.cache.SetAsync(cache.NamespaceProfile, key, raw, s.ttl)
		}
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return value.(Snapshot), nil
}

// GetConditional returns the snapshot unless the caller's last-known ETag
// still matches, in which case notModified is true and the payload is not
// re-serialized.
func (s *Snapshots) GetConditional(ctx context.Context, tenantID, userID, etag string) (Snapshot, bool, error) {
	snap, err := s.Get(ctx, tenantID, userID)
	if err != nil {
		return Snapshot{}, false, err
	}
	if etag != "" && etag == snap.ETag {
		return Snapshot{ETag: snap.ETag, PolicyVersion: snap.PolicyVersion}, true, nil
	}
	return snap, false, nil
}

// Invalidate drops the cached snapshot for a user, or for the whole tenant
// when userID is empty.
func (s *Snapshots) Invalidate(ctx context.Context, tenantID, userID string) {
	if userID == "" {
		s.cache.DeletePrefix(ctx, cache.NamespaceProfile, tenantID)
		return
	}
	s.cache.Delete(ctx, cache.NamespaceProfile, tenantID+":"+userID)
}

func (s *Snapshots) build(ctx context.Context, tenantID, userID string) (Snapshot, error) {
	ident, err := s.store.UserIdentity(ctx, tenantID, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("profile: identity: %w", err)
	}
	roles, err := s.store.UserRoles(ctx, tenantID, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("profile: roles: %w", err)
	}
	sort.Strings(roles)

	perms := s.permissions.EffectivePermissions(ctx, tenantID, roles).Slice()
	sort.Strings(perms)

	snap := Snapshot{
		TenantID:      tenantID,
		UserID:        userID,
		Email:         ident.Email,
		Name:          ident.Name,
		Roles:         roles,
		Permissions:   perms,
		PolicyVersion: s.version.Current(),
		GeneratedAt:   s.now().UTC(),
	}
	snap.ETag = etagFor(snap)
	return snap, nil
}

// etagFor hashes the content-bearing fields. GeneratedAt is excluded so a
// rebuild of identical content produces the same tag.
func etagFor(snap Snapshot) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%s|%d|", snap.TenantID, snap.UserID, snap.Email, snap.Name, snap.PolicyVersion)
	for _, role := range snap.Roles {
		_, _ = h.Write([]byte(role))
		_, _ = h.Write([]byte{','})
	}
	_, _ = h.Write([]byte{'|'})
	for _, perm := range snap.Permissions {
		_, _ = h.Write([]byte(perm))
		_, _ = h.Write([]byte{','})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
