package permission

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed permission reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RolePermissions returns the permission codes granted by a tenant role.
// Inactive roles grant nothing.
func (r *Repository) RolePermissions(ctx context.Context, tenantID, role string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.code
		 FROM role_permissions rp
		 JOIN permissions p ON p.id = rp.permission_id
		 JOIN roles ro ON ro.id = rp.role_id
		 WHERE ro.tenant_id = $1 AND ro.code = $2 AND ro.is_active`,
		tenantID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return codes, nil
}
