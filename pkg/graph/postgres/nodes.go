package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/knowgraph/memoryd/pkg/graph"
)

// UpsertNode implements [graph.Store]. It resolves n against existing nodes
// of the same kind by case-folded name/alias match (spec §4.1's entity
// resolution rule); on a match it merges properties and raises privacy
// monotonically, otherwise it inserts a new row.
func (s *Store) UpsertNode(ctx context.Context, n graph.Node) (graph.Node, error) {
	existingID, existingPrivacy, found, err := s.resolveNode(ctx, n)
	if err != nil {
		return graph.Node{}, fmt.Errorf("graph postgres: resolve node: %w", err)
	}

	propsJSON, err := json.Marshal(n.Properties)
	if err != nil {
		return graph.Node{}, fmt.Errorf("graph postgres: marshal properties: %w", err)
	}

	if found {
		privacy := n.Privacy
		if existingPrivacy > privacy {
			privacy = existingPrivacy // monotonically sticky: only raise
		}
		const q = `
			UPDATE nodes
			SET    properties         = properties || $2::jsonb,
			       privacy            = $3,
			       last_reinforced_at = now()
			WHERE  id = $1
			RETURNING id, user_id, kind, name, properties, privacy, created_at, last_reinforced_at`
		row := s.pool.QueryRow(ctx, q, existingID, propsJSON, int(privacy))
		merged, err := scanNode(row)
		if err != nil {
			return graph.Node{}, fmt.Errorf("graph postgres: upsert node: merge: %w", err)
		}
		if err := s.insertAliases(ctx, existingID, n.Aliases); err != nil {
			return graph.Node{}, err
		}
		merged.Aliases, err = s.loadAliases(ctx, existingID)
		if err != nil {
			return graph.Node{}, err
		}
		return merged, nil
	}

	id := n.ID
	if id == "" {
		id = uuid.NewString()
	}
	const insert = `
		INSERT INTO nodes (id, user_id, kind, name, properties, privacy, created_at, last_reinforced_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, user_id, kind, name, properties, privacy, created_at, last_reinforced_at`
	row := s.pool.QueryRow(ctx, insert, id, s.userID, string(n.Kind), n.Name, propsJSON, int(n.Privacy))
	created, err := scanNode(row)
	if err != nil {
		return graph.Node{}, fmt.Errorf("graph postgres: upsert node: insert: %w", err)
	}
	if err := s.insertAliases(ctx, id, n.Aliases); err != nil {
		return graph.Node{}, err
	}
	created.Aliases = n.Aliases
	return created, nil
}

// resolveNode looks up an existing node of the same kind whose name or any
// alias case-fold-matches n's name or aliases.
func (s *Store) resolveNode(ctx context.Context, n graph.Node) (id string, privacy graph.PrivacyLevel, found bool, err error) {
	candidates := make([]string, 0, len(n.Aliases)+1)
	candidates = append(candidates, strings.ToLower(n.Name))
	for _, a := range n.Aliases {
		candidates = append(candidates, strings.ToLower(a))
	}

	const q = `
		SELECT n.id, n.privacy
		FROM   nodes n
		WHERE  n.user_id = $1 AND n.kind = $2
		  AND  (lower(n.name) = ANY($3::text[])
		        OR n.id IN (SELECT node_id FROM node_aliases WHERE alias_folded = ANY($3::text[])))
		LIMIT 1`
	row := s.pool.QueryRow(ctx, q, s.userID, string(n.Kind), candidates)
	var pv int
	if err := row.Scan(&id, &pv); err != nil {
		if isNoRows(err) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}
	return id, graph.PrivacyLevel(pv), true, nil
}

func (s *Store) insertAliases(ctx context.Context, nodeID string, aliases []string) error {
	for _, a := range aliases {
		const q = `
			INSERT INTO node_aliases (node_id, alias_folded)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`
		if _, err := s.pool.Exec(ctx, q, nodeID, strings.ToLower(a)); err != nil {
			return fmt.Errorf("graph postgres: insert alias: %w", err)
		}
	}
	return nil
}

func (s *Store) loadAliases(ctx context.Context, nodeID string) ([]string, error) {
	const q = `SELECT alias_folded FROM node_aliases WHERE node_id = $1`
	rows, err := s.pool.Query(ctx, q, nodeID)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: load aliases: %w", err)
	}
	aliases, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("graph postgres: load aliases: scan: %w", err)
	}
	return aliases, nil
}

// GetNode implements [graph.Store].
func (s *Store) GetNode(ctx context.Context, id string) (graph.Node, error) {
	const q = `
		SELECT id, user_id, kind, name, properties, privacy, created_at, last_reinforced_at
		FROM   nodes
		WHERE  id = $1`
	row := s.pool.QueryRow(ctx, q, id)
	n, err := scanNode(row)
	if err != nil {
		if isNoRows(err) {
			return graph.Node{}, graph.ErrNotFound
		}
		return graph.Node{}, fmt.Errorf("graph postgres: get node: %w", err)
	}
	n.Aliases, err = s.loadAliases(ctx, id)
	if err != nil {
		return graph.Node{}, err
	}
	return n, nil
}

// DeleteNode implements [graph.Store]. Edges touching the node cascade via
// ON DELETE CASCADE.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("graph postgres: delete node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graph.ErrNotFound
	}
	return nil
}

// FindNodes implements [graph.Store].
func (s *Store) FindNodes(ctx context.Context, opts ...graph.FindOpt) ([]graph.Node, error) {
	kind, hasKind, nameContains, aliasContains := graph.ApplyFindOpts(opts)

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"user_id = " + next(s.userID)}
	if hasKind {
		conditions = append(conditions, "kind = "+next(string(kind)))
	}
	if nameContains != "" {
		conditions = append(conditions, "name ILIKE "+next("%"+nameContains+"%"))
	}
	if aliasContains != "" {
		conditions = append(conditions, "id IN (SELECT node_id FROM node_aliases WHERE alias_folded ILIKE "+next("%"+strings.ToLower(aliasContains)+"%")+")")
	}

	q := "SELECT id, user_id, kind, name, properties, privacy, created_at, last_reinforced_at\n" +
		"FROM   nodes\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND ") + "\n" +
		"ORDER BY name"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: find nodes: %w", err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: find nodes: %w", err)
	}
	for i := range nodes {
		nodes[i].Aliases, err = s.loadAliases(ctx, nodes[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

func scanNode(row pgx.Row) (graph.Node, error) {
	var (
		n         graph.Node
		kind      string
		propsJSON []byte
		privacy   int
	)
	if err := row.Scan(&n.ID, new(string), &kind, &n.Name, &propsJSON, &privacy, &n.CreatedAt, &n.LastReinforcedAt); err != nil {
		return graph.Node{}, err
	}
	n.Kind = graph.NodeKind(kind)
	n.Privacy = graph.PrivacyLevel(privacy)
	if len(propsJSON) > 0 {
		if err := json.Unmarshal(propsJSON, &n.Properties); err != nil {
			return graph.Node{}, fmt.Errorf("unmarshal node properties: %w", err)
		}
	}
	return n, nil
}

func scanNodes(rows pgx.Rows) ([]graph.Node, error) {
	nodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Node, error) {
		return scanNode(row)
	})
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []graph.Node{}
	}
	return nodes, nil
}
