// Package identity resolves request credentials into a validated Principal.
package identity

import (
	"context"
	"fmt"

	"github.com/sentra-authz/sentra/internal/shared"
)

// Principal is the resolved identity for one request. It is derived per
// request and never persisted.
type Principal struct {
	TenantID    string   `json:"tenantId"`
	UserID      string   `json:"userId"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// HasRole reports whether the principal carries the given role code.
func (p *Principal) HasRole(code string) bool {
	for _, role := range p.Roles {
		if role == code {
			return true
		}
	}
	return false
}

// Authentication failures. All wrap shared.ErrUnauthenticated so the HTTP
// layer maps them to 401 uniformly; none of them is ever silently defaulted.
var (
	ErrMissingCredential = fmt.Errorf("%w: missing credential", shared.ErrUnauthenticated)
	ErrInvalidToken      = fmt.Errorf("%w: invalid token", shared.ErrUnauthenticated)
	ErrMissingTenant     = fmt.Errorf("%w: missing tenant", shared.ErrUnauthenticated)
	ErrInvalidGateway    = fmt.Errorf("%w: invalid gateway request", shared.ErrUnauthenticated)
)

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the resolved principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
