package policy

import (
	"context"
	"log/slog"

	"github.com/sentra-authz/sentra/internal/cache"
)

// Invalidator implements the cache-invalidation protocol. Administrative
// mutation flows must call the matching hook synchronously before responding
// to their caller, which bounds the staleness window. Targeted key deletion
// is the correctness-bearing mechanism; the version bump is a coarse
// freshness signal for consumers such as ETags.
type Invalidator struct {
	cache   *cache.TwoTier
	version *Version
	logger  *slog.Logger
}

// NewInvalidator constructs an Invalidator.
func NewInvalidator(twoTier *cache.TwoTier, version *Version, logger *slog.Logger) *Invalidator {
	return &Invalidator{cache: twoTier, version: version, logger: logger}
}

// OnRoleAssignmentChanged busts caches affected by a user gaining or losing a
// role: that user's cached decisions and profile snapshot.
func (i *Invalidator) OnRoleAssignmentChanged(ctx context.Context, tenantID, userID string) {
	i.cache.DeletePrefix(ctx, cache.NamespaceDecision, tenantID, userID)
	i.cache.Delete(ctx, cache.NamespaceProfile, tenantID+":"+userID)
	i.bump(ctx, "role assignment", tenantID)
}

// OnRolePermissionsChanged busts caches affected by a role's permission list
// changing. The set of users holding the role is unknown here, so decisions
// and profiles are busted tenant-wide.
func (i *Invalidator) OnRolePermissionsChanged(ctx context.Context, tenantID, role string) {
	i.cache.Delete(ctx, cache.NamespacePermission, tenantID+":"+role)
	// The level map is cached under the bare tenant key, not a sub-key, so
	// prefix deletion would miss it.
	i.cache.Delete(ctx, cache.NamespaceHierarchy, tenantID)
	i.cache.DeletePrefix(ctx, cache.NamespaceDecision, tenantID)
	i.cache.DeletePrefix(ctx, cache.NamespaceProfile, tenantID)
	i.bump(ctx, "role permissions", tenantID)
}

// OnPolicyRuleChanged busts a whole tenant, or every tenant when tenantID is
// empty, for bulk administrative changes.
func (i *Invalidator) OnPolicyRuleChanged(ctx context.Context, tenantID string) {
	if tenantID == "" {
		i.cache.Clear(ctx)
		i.bump(ctx, "policy rule", "all")
		return
	}
	for _, ns := range []string{
		cache.NamespaceDecision,
		cache.NamespacePermission,
		cache.NamespaceProfile,
	} {
		i.cache.DeletePrefix(ctx, ns, tenantID)
	}
	i.cache.Delete(ctx, cache.NamespaceHierarchy, tenantID)
	i.bump(ctx, "policy rule", tenantID)
}

func (i *Invalidator) bump(ctx context.Context, cause, scope string) {
	version := i.version.Bump(ctx)
	if i.logger != nil {
		i.logger.Info("policy caches invalidated",
			slog.String("cause", cause),
			slog.String("scope", scope),
			slog.Int64("policy_version", version))
	}
}
