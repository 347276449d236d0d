// Package postgres provides a PostgreSQL + pgvector implementation of
// [graph.Store]. Every row is scoped to a single user via user_id; callers
// obtain per-user-graph write serialization through [graph.UserLocker]
// before calling mutating methods.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	n, err := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Alex"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    id                  TEXT         PRIMARY KEY,
    user_id             TEXT         NOT NULL,
    kind                TEXT         NOT NULL,
    name                TEXT         NOT NULL,
    properties          JSONB        NOT NULL DEFAULT '{}',
    privacy             SMALLINT     NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_reinforced_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_nodes_user_kind ON nodes (user_id, kind);
CREATE INDEX IF NOT EXISTS idx_nodes_name_fts ON nodes USING GIN (to_tsvector('english', name));

CREATE TABLE IF NOT EXISTS node_aliases (
    node_id  TEXT NOT NULL REFERENCES nodes (id) ON DELETE CASCADE,
    alias_folded TEXT NOT NULL,
    PRIMARY KEY (node_id, alias_folded)
);

CREATE INDEX IF NOT EXISTS idx_node_aliases_folded ON node_aliases (alias_folded);
`

const ddlEdges = `
CREATE TABLE IF NOT EXISTS edges (
    id                  TEXT         PRIMARY KEY,
    user_id             TEXT         NOT NULL,
    source_id           TEXT         NOT NULL REFERENCES nodes (id) ON DELETE CASCADE,
    target_id           TEXT         NOT NULL REFERENCES nodes (id) ON DELETE CASCADE,
    relation            TEXT         NOT NULL,
    confidence          DOUBLE PRECISION NOT NULL,
    temporal_type       TEXT         NOT NULL,
    state               TEXT         NOT NULL,
    first_observed       TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_reinforced      TIMESTAMPTZ NOT NULL DEFAULT now(),
    decay_rate          DOUBLE PRECISION NOT NULL DEFAULT 0,
    context_tags        TEXT[]       NOT NULL DEFAULT '{}',
    source_episode_ids   TEXT[]       NOT NULL DEFAULT '{}',
    provenance          TEXT         NOT NULL,
    expiry              TIMESTAMPTZ,
    retracted           BOOLEAN      NOT NULL DEFAULT false,
    retraction_reason    TEXT         NOT NULL DEFAULT '',
    superseded_by        TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_edges_user ON edges (user_id);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges (source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (target_id);
CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges (relation);
CREATE INDEX IF NOT EXISTS idx_edges_state ON edges (state);
CREATE INDEX IF NOT EXISTS idx_edges_confidence ON edges (confidence);
`

const ddlEpisodesAndExperiences = `
CREATE TABLE IF NOT EXISTS episodes (
    id           TEXT         PRIMARY KEY,
    user_id      TEXT         NOT NULL,
    occurred_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    session_id   TEXT         NOT NULL DEFAULT '',
    turn_number  INT          NOT NULL DEFAULT 0,
    channel_tag  TEXT         NOT NULL DEFAULT '',
    sentiment    DOUBLE PRECISION NOT NULL DEFAULT 0,
    outcome      DOUBLE PRECISION NOT NULL DEFAULT 0,
    edge_ids     TEXT[]       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_episodes_user ON episodes (user_id);
CREATE INDEX IF NOT EXISTS idx_episodes_occurred_at ON episodes (occurred_at);

CREATE TABLE IF NOT EXISTS experiences (
    id                   TEXT         PRIMARY KEY,
    user_id              TEXT         NOT NULL,
    description          TEXT         NOT NULL,
    applicability        TEXT         NOT NULL DEFAULT '',
    confidence           DOUBLE PRECISION NOT NULL,
    reinforcement_count  INT          NOT NULL DEFAULT 1,
    source_episode_ids    TEXT[]       NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_experiences_user ON experiences (user_id);
`

// ddlSemanticIndex returns the pgvector-backed embedding table used by the
// extraction pipeline's alias-resolution fallback and by query_nl for
// similarity search over node names/descriptions. The vector dimension is
// baked in at migration time, as with the teacher's L2 chunk table.
func ddlSemanticIndex(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS node_embeddings (
    node_id    TEXT PRIMARY KEY REFERENCES nodes (id) ON DELETE CASCADE,
    embedding  vector(%d) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_node_embeddings_hnsw
    ON node_embeddings USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes, and extensions
// exist. Idempotent; safe to call on every process start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlNodes,
		ddlEdges,
		ddlEpisodesAndExperiences,
		ddlSemanticIndex(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
