package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/knowgraph/memoryd/pkg/graph"
)

// CreateEdge implements [graph.Store].
func (s *Store) CreateEdge(ctx context.Context, e graph.Edge) (graph.Edge, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO edges
		    (id, user_id, source_id, target_id, relation, confidence, temporal_type,
		     state, first_observed, last_reinforced, decay_rate, context_tags,
		     source_episode_ids, provenance, expiry, retracted, retraction_reason, superseded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now(),$9,$10,$11,$12,$13,false,'','')
		RETURNING id, source_id, target_id, relation, confidence, temporal_type, state,
		          first_observed, last_reinforced, decay_rate, context_tags,
		          source_episode_ids, provenance, expiry, retracted, retraction_reason, superseded_by`

	row := s.pool.QueryRow(ctx, q,
		e.ID, s.userID, e.SourceID, e.TargetID, e.Relation, e.Confidence, string(e.TemporalType),
		string(e.State), e.DecayRate, e.ContextTags, e.SourceEpisodeIDs, string(e.Provenance), e.Expiry,
	)
	created, err := scanEdge(row)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("graph postgres: create edge: %w", err)
	}
	return created, nil
}

// GetEdge implements [graph.Store].
func (s *Store) GetEdge(ctx context.Context, id string) (graph.Edge, error) {
	const q = `
		SELECT id, source_id, target_id, relation, confidence, temporal_type, state,
		       first_observed, last_reinforced, decay_rate, context_tags,
		       source_episode_ids, provenance, expiry, retracted, retraction_reason, superseded_by
		FROM   edges
		WHERE  id = $1`
	row := s.pool.QueryRow(ctx, q, id)
	e, err := scanEdge(row)
	if err != nil {
		if isNoRows(err) {
			return graph.Edge{}, graph.ErrNotFound
		}
		return graph.Edge{}, fmt.Errorf("graph postgres: get edge: %w", err)
	}
	return e, nil
}

// ReinforceEdge implements [graph.Store].
func (s *Store) ReinforceEdge(ctx context.Context, id string, newConfidence float64, episodeID string) (graph.Edge, error) {
	const q = `
		UPDATE edges
		SET    confidence       = $2,
		       state            = $3,
		       last_reinforced  = now(),
		       source_episode_ids = CASE WHEN $4 = '' THEN source_episode_ids ELSE array_append(source_episode_ids, $4) END
		WHERE  id = $1
		RETURNING id, source_id, target_id, relation, confidence, temporal_type, state,
		          first_observed, last_reinforced, decay_rate, context_tags,
		          source_episode_ids, provenance, expiry, retracted, retraction_reason, superseded_by`
	row := s.pool.QueryRow(ctx, q, id, newConfidence, string(graph.EdgeReinforced), episodeID)
	e, err := scanEdge(row)
	if err != nil {
		if isNoRows(err) {
			return graph.Edge{}, graph.ErrNotFound
		}
		return graph.Edge{}, fmt.Errorf("graph postgres: reinforce edge: %w", err)
	}
	return e, nil
}

// ReviseEdge implements [graph.Store]. It atomically supersedes supersededID
// with replacement inside a single transaction.
func (s *Store) ReviseEdge(ctx context.Context, supersededID string, replacement graph.Edge) (graph.Edge, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("graph postgres: revise edge: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if replacement.ID == "" {
		replacement.ID = uuid.NewString()
	}

	const insert = `
		INSERT INTO edges
		    (id, user_id, source_id, target_id, relation, confidence, temporal_type,
		     state, first_observed, last_reinforced, decay_rate, context_tags,
		     source_episode_ids, provenance, expiry, retracted, retraction_reason, superseded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now(),$9,$10,$11,$12,$13,false,'','')
		RETURNING id, source_id, target_id, relation, confidence, temporal_type, state,
		          first_observed, last_reinforced, decay_rate, context_tags,
		          source_episode_ids, provenance, expiry, retracted, retraction_reason, superseded_by`
	row := tx.QueryRow(ctx, insert,
		replacement.ID, s.userID, replacement.SourceID, replacement.TargetID, replacement.Relation,
		replacement.Confidence, string(replacement.TemporalType), string(replacement.State),
		replacement.DecayRate, replacement.ContextTags, replacement.SourceEpisodeIDs,
		string(replacement.Provenance), replacement.Expiry,
	)
	created, err := scanEdge(row)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("graph postgres: revise edge: insert replacement: %w", err)
	}

	const update = `
		UPDATE edges
		SET    state = $2, superseded_by = $3
		WHERE  id = $1`
	tag, err := tx.Exec(ctx, update, supersededID, string(graph.EdgeRevised), created.ID)
	if err != nil {
		return graph.Edge{}, fmt.Errorf("graph postgres: revise edge: mark superseded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graph.Edge{}, graph.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return graph.Edge{}, fmt.Errorf("graph postgres: revise edge: commit: %w", err)
	}
	return created, nil
}

// ArchiveEdge implements [graph.Store].
func (s *Store) ArchiveEdge(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE edges SET state = $2 WHERE id = $1`, id, string(graph.EdgeArchived))
	if err != nil {
		return fmt.Errorf("graph postgres: archive edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graph.ErrNotFound
	}
	return nil
}

// DecayEdge implements [graph.Store].
func (s *Store) DecayEdge(ctx context.Context, id string, newConfidence float64) (graph.Edge, error) {
	const q = `
		UPDATE edges
		SET    confidence = $2, state = $3
		WHERE  id = $1
		RETURNING id, source_id, target_id, relation, confidence, temporal_type, state,
		          first_observed, last_reinforced, decay_rate, context_tags, source_episode_ids,
		          provenance, expiry, retracted, retraction_reason, superseded_by`
	row := s.pool.QueryRow(ctx, q, id, newConfidence, string(graph.EdgeDecaying))
	e, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return graph.Edge{}, graph.ErrNotFound
		}
		return graph.Edge{}, fmt.Errorf("graph postgres: decay edge: %w", err)
	}
	return e, nil
}

// RetractEdge implements [graph.Store].
func (s *Store) RetractEdge(ctx context.Context, id string, reason string) error {
	const q = `
		UPDATE edges
		SET    retracted = true, state = $2, retraction_reason = $3
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, id, string(graph.EdgeRetracted), reason)
	if err != nil {
		return fmt.Errorf("graph postgres: retract edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return graph.ErrNotFound
	}
	return nil
}

// Edges implements [graph.Store].
func (s *Store) Edges(ctx context.Context, opts ...graph.EdgeOpt) ([]graph.Edge, error) {
	source, target, relation, minConfidence, includeInactive := graph.ApplyEdgeOpts(opts)

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"user_id = " + next(s.userID)}
	if source != "" {
		conditions = append(conditions, "source_id = "+next(source))
	}
	if target != "" {
		conditions = append(conditions, "target_id = "+next(target))
	}
	if relation != "" {
		conditions = append(conditions, "relation = "+next(relation))
	}
	if minConfidence > 0 {
		conditions = append(conditions, "confidence >= "+next(minConfidence))
	}
	if !includeInactive {
		conditions = append(conditions, "retracted = false AND state != "+next(string(graph.EdgeArchived))+
			" AND state != "+next(string(graph.EdgeRetracted))+
			" AND (expiry IS NULL OR expiry > now())")
	}

	q := "SELECT id, source_id, target_id, relation, confidence, temporal_type, state,\n" +
		"       first_observed, last_reinforced, decay_rate, context_tags,\n" +
		"       source_episode_ids, provenance, expiry, retracted, retraction_reason, superseded_by\n" +
		"FROM   edges\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND ") + "\n" +
		"ORDER BY id"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: edges: %w", err)
	}
	return scanEdges(rows)
}

// Neighbors implements [graph.Store] via a recursive CTE breadth-first
// traversal that treats edges as undirected for reachability purposes,
// mirroring the context-assembly use case in spec §4.10.
func (s *Store) Neighbors(ctx context.Context, id string, maxNodes int, opts ...graph.TraverseOpt) ([]graph.Node, error) {
	relations, minConfidence, includeInactive := graph.ApplyTraverseOpts(opts)

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	startArg := next(id)

	relFilter := ""
	if len(relations) > 0 {
		relFilter = "\n          AND e.relation = ANY(" + next(relations) + "::text[])"
	}
	confFilter := ""
	if minConfidence > 0 {
		confFilter = "\n          AND e.confidence >= " + next(minConfidence)
	}
	activeFilter := ""
	if !includeInactive {
		activeFilter = "\n          AND e.retracted = false AND e.state != 'archived' AND e.state != 'retracted'" +
			" AND (e.expiry IS NULL OR e.expiry > now())"
	}

	q := fmt.Sprintf(`
		WITH RECURSIVE reachable AS (
		    SELECT %s::text AS id, ARRAY[%s::text] AS visited

		    UNION ALL

		    SELECT next_id, r.visited || next_id
		    FROM   reachable r
		    JOIN   edges e ON (e.source_id = r.id OR e.target_id = r.id)
		    CROSS JOIN LATERAL (
		        SELECT CASE WHEN e.source_id = r.id THEN e.target_id ELSE e.source_id END AS next_id
		    ) hop
		    WHERE  NOT (hop.next_id = ANY(r.visited))%s%s%s
		)
		SELECT DISTINCT ON (n.id)
		       n.id, n.user_id, n.kind, n.name, n.properties, n.privacy, n.created_at, n.last_reinforced_at
		FROM   reachable rc
		JOIN   nodes n ON n.id = rc.id
		WHERE  rc.id != %s
		ORDER  BY n.id`, startArg, startArg, relFilter, confFilter, activeFilter, startArg)

	if maxNodes > 0 {
		args = append(args, maxNodes)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: neighbors: %w", err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: neighbors: %w", err)
	}
	for i := range nodes {
		nodes[i].Aliases, err = s.loadAliases(ctx, nodes[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// Snapshot implements [graph.Store].
func (s *Store) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	nodes, err := s.FindNodes(ctx)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("graph postgres: snapshot: nodes: %w", err)
	}
	edges, err := s.Edges(ctx, graph.EdgeIncludeInactive())
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("graph postgres: snapshot: edges: %w", err)
	}
	return graph.Snapshot{Nodes: nodes, Edges: edges}, nil
}

func scanEdge(row pgx.Row) (graph.Edge, error) {
	var (
		e            graph.Edge
		temporalType string
		state        string
		provenance   string
	)
	if err := row.Scan(
		&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Confidence, &temporalType, &state,
		&e.FirstObserved, &e.LastReinforced, &e.DecayRate, &e.ContextTags,
		&e.SourceEpisodeIDs, &provenance, &e.Expiry, &e.Retracted, &e.RetractionReason, &e.SupersededBy,
	); err != nil {
		return graph.Edge{}, err
	}
	e.TemporalType = graph.TemporalType(temporalType)
	e.State = graph.EdgeState(state)
	e.Provenance = graph.Provenance(provenance)
	return e, nil
}

func scanEdges(rows pgx.Rows) ([]graph.Edge, error) {
	edges, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Edge, error) {
		return scanEdge(row)
	})
	if err != nil {
		return nil, fmt.Errorf("graph postgres: scan edges: %w", err)
	}
	if edges == nil {
		edges = []graph.Edge{}
	}
	return edges, nil
}
