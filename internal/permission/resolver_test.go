package permission

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sentra-authz/sentra/internal/cache"
)

type stubStore struct {
	perms map[string][]string
	err   error
	calls int
}

func (s *stubStore) RolePermissions(ctx context.Context, tenantID, role string) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.perms[tenantID+":"+role], nil
}

func newTestResolver(store Store) *Resolver {
	twoTier := cache.New(cache.Config{LocalCapacity: 16}, nil, slog.Default(), nil)
	return NewResolver(store, twoTier, time.Minute, slog.Default())
}

func TestEffectivePermissionsUnionsRoles(t *testing.T) {
	store := &stubStore{perms: map[string][]string{
		"t1:editor": {"document:read", "document:write"},
		"t1:viewer": {"document:read"},
	}}
	r := newTestResolver(store)

	set := r.EffectivePermissions(context.Background(), "t1", []string{"editor", "viewer"})
	if !set.Has("document:read") || !set.Has("document:write") {
		t.Fatalf("union incomplete: %v", set.Slice())
	}
	if len(set) != 2 {
		t.Fatalf("expected deduplicated union of 2, got %d", len(set))
	}
}

func TestWildcardGrantsEverything(t *testing.T) {
	store := &stubStore{perms: map[string][]string{"t1:owner": {Wildcard}}}
	r := newTestResolver(store)
	ctx := context.Background()

	if !r.HasPermission(ctx, "t1", []string{"owner"}, "anything:at-all") {
		t.Fatal("wildcard must grant any code")
	}
	set := r.EffectivePermissions(ctx, "t1", []string{"owner"})
	if !set.HasAll("a:b", "c:d") || !set.HasAny("x:y") {
		t.Fatal("wildcard must satisfy HasAll and HasAny")
	}
}

func TestStoreFailureFailsClosed(t *testing.T) {
	r := newTestResolver(&stubStore{err: errors.New("db down")})

	set := r.EffectivePermissions(context.Background(), "t1", []string{"editor"})
	if len(set) != 0 {
		t.Fatalf("store failure must yield an empty set, got %v", set.Slice())
	}
	if set.Has("document:read") {
		t.Fatal("no permission may be granted on store failure")
	}
}

func TestUnknownRoleYieldsNothing(t *testing.T) {
	r := newTestResolver(&stubStore{perms: map[string][]string{}})

	if r.HasPermission(context.Background(), "t1", []string{"ghost"}, "document:read") {
		t.Fatal("unknown role must grant nothing")
	}
}

func TestRolePermissionsAreCached(t *testing.T) {
	store := &stubStore{perms: map[string][]string{"t1:editor": {"document:read"}}}
	r := newTestResolver(store)
	ctx := context.Background()

	r.HasPermission(ctx, "t1", []string{"editor"}, "document:read")
	r.HasPermission(ctx, "t1", []string{"editor"}, "document:write")

	if store.calls != 1 {
		t.Fatalf("expected a single store load, got %d", store.calls)
	}
}

func TestHasAllRequiresEveryCode(t *testing.T) {
	store := &stubStore{perms: map[string][]string{"t1:editor": {"a:b", "c:d"}}}
	r := newTestResolver(store)
	ctx := context.Background()

	if !r.HasAll(ctx, "t1", []string{"editor"}, "a:b", "c:d") {
		t.Fatal("expected HasAll to pass")
	}
	if r.HasAll(ctx, "t1", []string{"editor"}, "a:b", "x:y") {
		t.Fatal("expected HasAll to fail on missing code")
	}
}
