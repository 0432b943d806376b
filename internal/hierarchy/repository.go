package hierarchy

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed level reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RoleLevels returns the code -> level map for a tenant's active roles.
func (r *Repository) RoleLevels(ctx context.Context, tenantID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT code, level FROM roles WHERE tenant_id = $1 AND is_active`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := make(map[string]int)
	for rows.Next() {
		var code string
		var level int
		if err := rows.Scan(&code, &level); err != nil {
			return nil, err
		}
		levels[code] = level
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return levels, nil
}
