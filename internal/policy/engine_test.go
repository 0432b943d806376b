package policy

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sentra-authz/sentra/internal/cache"
	"github.com/sentra-authz/sentra/internal/hierarchy"
	"github.com/sentra-authz/sentra/internal/identity"
	"github.com/sentra-authz/sentra/internal/permission"
)

type stubPermStore struct {
	mu    sync.Mutex
	perms map[string][]string
	calls int
	panic bool
}

func (s *stubPermStore) RolePermissions(ctx context.Context, tenantID, role string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panic {
		panic("store corrupted")
	}
	return s.perms[tenantID+":"+role], nil
}

func (s *stubPermStore) grant(tenantID, role string, codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perms == nil {
		s.perms = map[string][]string{}
	}
	s.perms[tenantID+":"+role] = codes
}

type stubLevelStore struct{}

func (stubLevelStore) RoleLevels(ctx context.Context, tenantID string) (map[string]int, error) {
	return map[string]int{}, nil
}

type engineFixture struct {
	engine      *Engine
	invalidator *Invalidator
	version     *Version
	permStore   *stubPermStore
	cache       *cache.TwoTier
}

func newEngineFixture(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	logger := slog.Default()
	twoTier := cache.New(cache.Config{LocalCapacity: 64}, nil, logger, nil)
	version := NewVersion(context.Background(), nil, logger)

	permStore := &stubPermStore{}
	permResolver := permission.NewResolver(permStore, twoTier, time.Minute, logger)
	hierResolver := hierarchy.NewResolver(stubLevelStore{}, twoTier, time.Minute, logger)
	idResolver := identity.NewResolver(identity.ResolverConfig{JWTSecret: "s", Issuer: "sentra"}, nil)

	engine := NewEngine(cfg, idResolver, hierResolver, permResolver, twoTier, version, logger, nil)
	return &engineFixture{
		engine:      engine,
		invalidator: NewInvalidator(twoTier, version, logger),
		version:     version,
		permStore:   permStore,
		cache:       twoTier,
	}
}

func editorPrincipal() *identity.Principal {
	return &identity.Principal{TenantID: "t1", UserID: "u1", Roles: []string{"editor"}}
}

func TestPermitForGrantedPermission(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read", "document:write")
	ctx := context.Background()

	d := f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", Request{Resource: "document", Action: "read"})
	if !d.Permitted() || d.Reason != ReasonPermitted {
		t.Fatalf("expected PERMIT/PERMITTED, got %s/%s", d.Effect, d.Reason)
	}
	if d.User != "u1" || d.TenantID != "t1" || d.PolicyVersion == 0 || d.CorrelationID == "" {
		t.Fatalf("decision metadata incomplete: %+v", d)
	}
}

func TestDenyForMissingPermission(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read", "document:write")

	d := f.engine.EvaluatePrincipal(context.Background(), editorPrincipal(), "subj", Request{Resource: "document", Action: "delete"})
	if d.Permitted() || d.Reason != ReasonPermissionDenied {
		t.Fatalf("expected DENY/PERMISSION_DENIED, got %s/%s", d.Effect, d.Reason)
	}
	if len(d.Required) != 1 || d.Required[0] != "document:delete" {
		t.Fatalf("expected diagnostics outside production, got %+v", d.Required)
	}
	if len(d.Held) == 0 {
		t.Fatal("expected held roles/permissions in diagnostics")
	}
}

func TestProductionSuppressesDenialDiagnostics(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{Production: true})

	d := f.engine.EvaluatePrincipal(context.Background(), editorPrincipal(), "subj", Request{Resource: "document", Action: "delete"})
	if d.Permitted() {
		t.Fatal("expected deny")
	}
	if d.Required != nil || d.Held != nil {
		t.Fatalf("diagnostics must be suppressed in production: %+v", d)
	}
}

func TestDirectPrincipalPermissionsCount(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	p := &identity.Principal{TenantID: "t1", UserID: "u1", Permissions: []string{"report:export"}}

	d := f.engine.EvaluatePrincipal(context.Background(), p, "subj", Request{Resource: "report", Action: "export"})
	if !d.Permitted() {
		t.Fatalf("token-carried permissions must grant, got %s/%s", d.Effect, d.Reason)
	}
}

func TestSuperRoleBypass(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	p := &identity.Principal{TenantID: "t1", UserID: "root", Roles: []string{"superadmin"}}

	d := f.engine.EvaluatePrincipal(context.Background(), p, "subj", Request{Resource: "anything", Action: "at-all"})
	if !d.Permitted() || d.Reason != ReasonSuperRole {
		t.Fatalf("expected PERMIT/SUPER_ROLE_BYPASS, got %s/%s", d.Effect, d.Reason)
	}
}

func TestTenantIsolationPrecedesSuperRole(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	p := &identity.Principal{TenantID: "t1", UserID: "root", Roles: []string{"superadmin"}}
	req := Request{Resource: "document", Action: "read", Context: map[string]any{"tenantId": "t2"}}

	d := f.engine.EvaluatePrincipal(context.Background(), p, "subj", req)
	if d.Permitted() || d.Reason != ReasonTenantMismatch {
		t.Fatalf("super role must not cross tenants, got %s/%s", d.Effect, d.Reason)
	}
}

func TestTenantGlobalSuperRoleCrossesTenants(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{SuperRoleTenantGlobal: true})
	p := &identity.Principal{TenantID: "t1", UserID: "root", Roles: []string{"superadmin"}}
	req := Request{Resource: "document", Action: "read", Context: map[string]any{"tenantId": "t2"}}

	d := f.engine.EvaluatePrincipal(context.Background(), p, "subj", req)
	if !d.Permitted() || d.Reason != ReasonSuperRole {
		t.Fatalf("tenant-global super role must bypass, got %s/%s", d.Effect, d.Reason)
	}
}

func TestTenantMismatchForRegularUser(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	req := Request{Resource: "document", Action: "read", Context: map[string]any{"tenantId": "t2"}}

	d := f.engine.EvaluatePrincipal(context.Background(), editorPrincipal(), "subj", req)
	if d.Permitted() || d.Reason != ReasonTenantMismatch {
		t.Fatalf("expected DENY/TENANT_MISMATCH, got %s/%s", d.Effect, d.Reason)
	}
}

func TestMatchingContextTenantPermits(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	req := Request{Resource: "document", Action: "read", Context: map[string]any{"tenantId": "t1"}}

	d := f.engine.EvaluatePrincipal(context.Background(), editorPrincipal(), "subj", req)
	if !d.Permitted() {
		t.Fatalf("same-tenant context must not deny, got %s/%s", d.Effect, d.Reason)
	}
}

func TestRepeatedEvaluationServedFromCache(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	ctx := context.Background()
	req := Request{Resource: "document", Action: "read"}

	first := f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", req)
	second := f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", req)

	if first.Effect != second.Effect || first.Reason != second.Reason {
		t.Fatalf("idempotence violated: %+v vs %+v", first, second)
	}
	if f.permStore.calls != 1 {
		t.Fatalf("expected the decision cache to absorb the repeat, store calls=%d", f.permStore.calls)
	}
}

func TestDenialsAreCachedToo(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	req := Request{Resource: "document", Action: "delete"}

	f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", req)
	before := f.engine.CacheStats().LocalHits
	f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", req)
	if f.engine.CacheStats().LocalHits <= before {
		t.Fatal("expected repeated denial to hit the decision cache")
	}
}

func TestInvalidationMakesNewGrantEffective(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	ctx := context.Background()
	req := Request{Resource: "document", Action: "write"}

	if d := f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", req); d.Permitted() {
		t.Fatal("expected initial deny")
	}

	f.permStore.grant("t1", "editor", "document:write")
	before := f.version.Current()
	f.invalidator.OnRolePermissionsChanged(ctx, "t1", "editor")

	d := f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", req)
	if !d.Permitted() {
		t.Fatalf("grant must be visible after invalidation, got %s/%s", d.Effect, d.Reason)
	}
	if d.PolicyVersion <= before {
		t.Fatalf("policy version must have bumped: %d <= %d", d.PolicyVersion, before)
	}
}

func TestRoleAssignmentInvalidationIsPerUser(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	ctx := context.Background()
	req := Request{Resource: "document", Action: "read"}

	other := &identity.Principal{TenantID: "t1", UserID: "u2", Roles: []string{"editor"}}
	f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "s1", req)
	f.engine.EvaluatePrincipal(ctx, other, "s2", req)

	f.invalidator.OnRoleAssignmentChanged(ctx, "t1", "u1")

	// u2's decision is still cached locally; u1's is gone.
	before := f.engine.CacheStats().LocalHits
	f.engine.EvaluatePrincipal(ctx, other, "s2", req)
	if f.engine.CacheStats().LocalHits <= before {
		t.Fatal("other user's cached decision should survive")
	}
}

func TestEvaluateNeverThrowsOnBadCredential(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})

	d := f.engine.Evaluate(context.Background(), identity.Credential{Token: "not-a-jwt"}, Request{Resource: "document", Action: "read"})
	if d.Permitted() || d.Reason != ReasonEvaluationError {
		t.Fatalf("expected DENY/EVALUATION_ERROR, got %s/%s", d.Effect, d.Reason)
	}
}

func TestPanicInsideEvaluationBecomesDeny(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.panic = true

	d := f.engine.EvaluatePrincipal(context.Background(), editorPrincipal(), "subj", Request{Resource: "document", Action: "read"})
	if d.Permitted() || d.Reason != ReasonEvaluationError {
		t.Fatalf("panic must become DENY/EVALUATION_ERROR, got %s/%s", d.Effect, d.Reason)
	}
}

func TestBatchEvaluationIsIndependent(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	ctx := context.Background()

	p := editorPrincipal()
	reqs := []Request{
		{Resource: "document", Action: "read"},
		{Resource: "document", Action: "delete"},
		{Resource: "document", Action: "read", Context: map[string]any{"tenantId": "t2"}},
	}
	decisions := make([]Decision, len(reqs))
	for i, req := range reqs {
		decisions[i] = f.engine.EvaluatePrincipal(ctx, p, "subj", req)
	}

	if !decisions[0].Permitted() {
		t.Fatalf("entry 0 should permit: %+v", decisions[0])
	}
	if decisions[1].Reason != ReasonPermissionDenied {
		t.Fatalf("entry 1 should deny on permission: %+v", decisions[1])
	}
	if decisions[2].Reason != ReasonTenantMismatch {
		t.Fatalf("entry 2 should deny on tenant: %+v", decisions[2])
	}
}

func TestBatchWithBadCredentialDeniesEveryEntry(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})

	decisions := f.engine.EvaluateBatch(context.Background(), identity.Credential{}, []Request{
		{Resource: "a", Action: "b"},
		{Resource: "c", Action: "d"},
	})
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	for i, d := range decisions {
		if d.Permitted() || d.Reason != ReasonEvaluationError {
			t.Fatalf("entry %d: expected DENY/EVALUATION_ERROR, got %s/%s", i, d.Effect, d.Reason)
		}
	}
}

func TestDegradedCacheDoesNotChangeDecisions(t *testing.T) {
	// A nil client runs permanently degraded; decisions must be identical.
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	ctx := context.Background()

	if !f.cache.Degraded() {
		t.Fatal("fixture cache should be local-only")
	}
	d := f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", Request{Resource: "document", Action: "read"})
	if !d.Permitted() {
		t.Fatalf("degraded mode altered correctness: %+v", d)
	}
}

func TestContextVariationsKeySeparately(t *testing.T) {
	f := newEngineFixture(t, EngineConfig{})
	f.permStore.grant("t1", "editor", "document:read")
	ctx := context.Background()

	f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", Request{Resource: "document", Action: "read"})
	hits := f.engine.CacheStats().LocalHits
	f.engine.EvaluatePrincipal(ctx, editorPrincipal(), "subj", Request{
		Resource: "document", Action: "read", Context: map[string]any{"ip": "10.0.0.1"},
	})
	if f.engine.CacheStats().LocalHits != hits {
		t.Fatal("different contexts must not share a cache entry")
	}
}
