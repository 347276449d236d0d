package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserSource discovers which users have a graph by scanning the
// distinct user_id values in the nodes table — the most natural source of
// truth given [pkg/graph/postgres.Store]'s single-pool-many-users layout.
// It implements [internal/workers.UserSource].
type PostgresUserSource struct {
	pool *pgxpool.Pool
}

// NewPostgresUserSource wraps pool, the same pool the graph store uses.
func NewPostgresUserSource(pool *pgxpool.Pool) *PostgresUserSource {
	return &PostgresUserSource{pool: pool}
}

// ListUserIDs returns every distinct user_id present in the nodes table.
func (s *PostgresUserSource) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("service: list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("service: list user ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
