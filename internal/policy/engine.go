package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/hierarchy"
	"github.com/sentra-authz/sentra/internal/identity"
	"github.com/sentra-authz/sentra/internal/permission"
	"github.com/sentra-authz/sentra/internal/shared"
)

// EngineConfig tunes evaluation behaviour.
type EngineConfig struct {
	// DecisionTTL bounds how long a cached decision, PERMIT or DENY, may be
	// served. Denials are cached intentionally to blunt repeated-probe load;
	// the TTL keeps a just-granted permission effective within one window
	// even without an explicit invalidation.
	DecisionTTL time.Duration
	// SuperRole is the designated full-bypass role code.
	SuperRole string
	// SuperRoleTenantGlobal lifts the tenant isolation check for the super
	// role. Off by default: a super role stays bound to its issuing tenant.
	SuperRoleTenantGlobal bool
	// Production suppresses privilege-topology diagnostics on denials.
	Production bool
}

// Engine orchestrates identity resolution, tenant isolation, bypass rules,
// permission resolution, and decision caching. It never returns an error to
// policy consumers: every evaluation yields a well-formed Decision.
type Engine struct {
	identity    *identity.Resolver
	hierarchy   *hierarchy.Resolver
	permissions *permission.Resolver
	cache       *cache.TwoTier
	version     *Version
	logger      *slog.Logger
	cfg         EngineConfig
	now         func() time.Time

	decisions *prometheus.CounterVec
}

// NewEngine constructs an Engine.
func NewEngine(
	cfg EngineConfig,
	resolver *identity.Resolver,
	roleHierarchy *hierarchy.Resolver,
	permissions *permission.Resolver,
	twoTier *cache.TwoTier,
	version *Version,
	logger *slog.Logger,
	reg prometheus.Registerer,
) *Engine {
	if cfg.DecisionTTL <= 0 {
		cfg.DecisionTTL = 5 * time.Minute
	}
	if cfg.SuperRole == "" {
		cfg.SuperRole = "superadmin"
	}
	e := &Engine{
		identity:    resolver,
		hierarchy:   roleHierarchy,
		permissions: permissions,
		cache:       twoTier,
		version:     version,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
	if reg != nil {
		e.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentra_decisions_total",
			Help: "Policy decisions by effect and reason.",
		}, []string{"effect", "reason"})
		reg.MustRegister(e.decisions)
	}
	return e
}

// Identity exposes the identity resolver for HTTP layers that need a 401
// judgement before evaluation.
func (e *Engine) Identity() *identity.Resolver {
	return e.identity
}

// Hierarchy exposes the role hierarchy resolver for privilege-level guards.
func (e *Engine) Hierarchy() *hierarchy.Resolver {
	return e.hierarchy
}

// CacheStats reports decision cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// Evaluate resolves the credential and evaluates a single request. An
// unresolvable credential yields a DENY with reason EVALUATION_ERROR rather
// than an error; this boundary never throws.
func (e *Engine) Evaluate(ctx context.Context, cred identity.Credential, req Request) Decision {
	principal, err := e.identity.Resolve(cred)
	if err != nil {
		return e.evaluationError(ctx, req, err)
	}
	return e.EvaluatePrincipal(ctx, principal, cache.HashSecret(cred.Fingerprint()), req)
}

// EvaluateBatch evaluates several requests sharing one resolved principal.
// One entry's failure never aborts the batch.
func (e *Engine) EvaluateBatch(ctx context.Context, cred identity.Credential, reqs []Request) []Decision {
	decisions := make([]Decision, len(reqs))
	principal, err := e.identity.Resolve(cred)
	if err != nil {
		for i, req := range reqs {
			decisions[i] = e.evaluationError(ctx, req, err)
		}
		return decisions
	}
	subject := cache.HashSecret(cred.Fingerprint())
	for i, req := range reqs {
		decisions[i] = e.safeEvaluate(ctx, principal, subject, req)
	}
	return decisions
}

// EvaluatePrincipal evaluates one request for an already-resolved principal.
// The subject hash keys the decision cache; it must be derived from the
// credential, never the raw credential itself.
func (e *Engine) EvaluatePrincipal(ctx context.Context, p *identity.Principal, subject string, req Request) Decision {
	return e.safeEvaluate(ctx, p, subject, req)
}

func (e *Engine) safeEvaluate(ctx context.Context, p *identity.Principal, subject string, req Request) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error("evaluation panic", slog.Any("panic", r),
					slog.String("resource", req.Resource), slog.String("action", req.Action))
			}
			decision = e.decision(ctx, p, req, EffectDeny, ReasonEvaluationError)
		}
	}()
	return e.evaluate(ctx, p, subject, req)
}

func (e *Engine) evaluate(ctx context.Context, p *identity.Principal, subject string, req Request) Decision {
	isSuper := p.HasRole(e.cfg.SuperRole)

	// Tenant isolation precedes everything, including the super bypass,
	// unless the super role is explicitly tenant-global.
	if target := contextTenant(req.Context); target != "" && target != p.TenantID {
		if !isSuper || !e.cfg.SuperRoleTenantGlobal {
			return e.decision(ctx, p, req, EffectDeny, ReasonTenantMismatch)
		}
	}

	if isSuper {
		return e.decision(ctx, p, req, EffectPermit, ReasonSuperRole)
	}

	key := decisionKey(p, subject, req)
	if raw, ok := e.cache.Get(ctx, cache.NamespaceDecision, key); ok {
		var cached Decision
		if err := json.Unmarshal(raw, &cached); err == nil {
			cached.CorrelationID = shared.CorrelationIDFromContext(ctx)
			e.observe(cached)
			return cached
		}
	}

	effective := e.permissions.EffectivePermissions(ctx, p.TenantID, p.Roles)
	for _, code := range p.Permissions {
		effective[code] = struct{}{}
	}

	var result Decision
	if effective.Has(req.PermissionCode()) {
		result = e.decision(ctx, p, req, EffectPermit, ReasonPermitted)
	} else {
		result = e.decision(ctx, p, req, EffectDeny, ReasonPermissionDenied)
		if !e.cfg.Production {
			result.Required = []string{req.PermissionCode()}
			result.Held = append(append([]string{}, p.Roles...), effective.Slice()...)
		}
	}

	if raw, err := json.Marshal(result); err == nil {
		e.cache.SetAsync(cache.NamespaceDecision, key, raw, e.cfg.DecisionTTL)
	}
	return result
}

func (e *Engine) evaluationError(ctx context.Context, req Request, err error) Decision {
	if e.logger != nil {
		e.logger.Warn("identity resolution failed", slog.Any("error", err))
	}
	d := Decision{
		Effect:        EffectDeny,
		Reason:        ReasonEvaluationError,
		Resource:      req.Resource,
		Action:        req.Action,
		CorrelationID: shared.CorrelationIDFromContext(ctx),
		PolicyVersion: e.version.Current(),
		Timestamp:     e.now().UTC(),
	}
	e.observe(d)
	return d
}

func (e *Engine) decision(ctx context.Context, p *identity.Principal, req Request, effect Effect, reason string) Decision {
	d := Decision{
		Effect:        effect,
		Reason:        reason,
		User:          p.UserID,
		TenantID:      p.TenantID,
		Resource:      req.Resource,
		Action:        req.Action,
		CorrelationID: shared.CorrelationIDFromContext(ctx),
		PolicyVersion: e.version.Current(),
		Timestamp:     e.now().UTC(),
	}
	e.observe(d)
	return d
}

func (e *Engine) observe(d Decision) {
	if e.decisions != nil {
		e.decisions.WithLabelValues(string(d.Effect), d.Reason).Inc()
	}
}

func decisionKey(p *identity.Principal, subject string, req Request) string {
	return strings.Join([]string{
		p.TenantID,
		p.UserID,
		subject,
		req.Resource,
		req.Action,
		cache.HashContext(req.Context),
	}, ":")
}

// contextTenant extracts the target resource's tenant from the evaluation
// context, when the caller supplied one.
func contextTenant(ctx map[string]any) string {
	if ctx == nil {
		return ""
	}
	if tenant, ok := ctx["tenantId"].(string); ok {
		return tenant
	}
	return ""
}
