package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/knowgraph/memoryd/pkg/graph"
)

var _ graph.Store = (*Store)(nil)

// Store is the PostgreSQL + pgvector implementation of [graph.Store]. Every
// row carries a user_id column; the connection pool is shared across all
// users, and [Store.ForUser] returns a Store scoped to one userID. The Store
// returned by [NewStore] carries no user scope.
//
// All operations are safe for concurrent use; per-user-graph write
// serialization is the caller's responsibility via [graph.UserLocker].
type Store struct {
	pool   *pgxpool.Pool
	userID string
}

// NewStore creates a Store, establishes a connection pool to dsn, registers
// pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the configured embedding model's output
// dimension (e.g. 1536 for OpenAI text-embedding-3-small). Changing it after
// first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("graph postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("graph postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// ForUser returns a Store scoped to userID, sharing the same connection
// pool. Every operation called on the returned value applies only to that
// user's subgraph.
func (s *Store) ForUser(userID string) *Store {
	return &Store{pool: s.pool, userID: userID}
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isNoRows reports whether err is the pgx "no rows" sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
