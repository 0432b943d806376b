package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-authz/sentra/internal/shared"
)

// Repository reads profile projections from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) UserIdentity(ctx context.Context, tenantID, userID string) (UserIdentity, error) {
	const query = `
		SELECT email, display_name
		FROM users
		WHERE tenant_id = $1 AND id = $2 AND is_active`

	var ident UserIdentity
	err := r.pool.QueryRow(ctx, query, tenantID, userID).Scan(&ident.Email, &ident.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserIdentity{}, fmt.Errorf("profile repository: user %s: %w", userID, shared.ErrNotFound)
	}
	if err != nil {
		return UserIdentity{}, fmt.Errorf("profile repository: user identity: %w", err)
	}
	return ident, nil
}

func (r *Repository) UserRoles(ctx context.Context, tenantID, userID string) ([]string, error) {
	const query = `
		SELECT r.code
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND r.tenant_id = ur.tenant_id
		WHERE ur.tenant_id = $1 AND ur.user_id = $2 AND r.is_active
		ORDER BY r.code`

	rows, err := r.pool.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("profile repository: user roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("profile repository: scan role: %w", err)
		}
		roles = append(roles, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile repository: user roles: %w", err)
	}
	return roles, nil
}
