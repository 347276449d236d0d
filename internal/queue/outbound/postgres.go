package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlOutboundItems = `
CREATE TABLE IF NOT EXISTS outbound_items (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL,
	subtype           TEXT NOT NULL,
	priority          DOUBLE PRECISION NOT NULL,
	context_tags      TEXT[] NOT NULL DEFAULT '{}',
	min_turn          INTEGER NOT NULL DEFAULT 0,
	earliest_delivery TIMESTAMPTZ NOT NULL,
	latest_delivery   TIMESTAMPTZ,
	cooldown_until    TIMESTAMPTZ,
	payload           JSONB NOT NULL DEFAULT '{}',
	delivered_today   INTEGER NOT NULL DEFAULT 0,
	delivered_week    INTEGER NOT NULL DEFAULT 0,
	delivered_convo   INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS outbound_items_window_idx
	ON outbound_items (earliest_delivery, latest_delivery);
`

// Store is the Postgres-backed implementation of [Queue]. Candidate
// filtering (delivery window, cooldown) happens in SQL; context-fit
// scoring happens in Go over the bounded candidate set, mirroring
// pkg/graph/postgres's coarse-filter-in-SQL / precise-score-in-Go split.
type Store struct {
	pool    *pgxpool.Pool
	weights ScoreWeights
}

var _ Queue = (*Store)(nil)

// NewStore creates a Store against pool, ensuring outbound_items exists.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, ddlOutboundItems); err != nil {
		return nil, fmt.Errorf("outbound: migrate: %w", err)
	}
	return &Store{pool: pool, weights: DefaultScoreWeights()}, nil
}

func (s *Store) Enqueue(ctx context.Context, it Item) (string, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return "", fmt.Errorf("outbound: enqueue: marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO outbound_items
			(id, kind, subtype, priority, context_tags, min_turn,
			 earliest_delivery, latest_delivery, cooldown_until, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		it.ID, it.Kind, it.Subtype, it.Priority, it.ContextTags, it.MinTurn,
		it.EarliestDelivery, it.LatestDelivery, it.CooldownUntil, payload,
	)
	if err != nil {
		return "", fmt.Errorf("outbound: enqueue: %w", err)
	}
	return it.ID, nil
}

func (s *Store) GetProbe(ctx context.Context, activeTopics, entitiesInScope []string, channel string, turnNumber int, now time.Time) (Item, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, subtype, priority, context_tags, min_turn,
		       earliest_delivery, latest_delivery, cooldown_until, payload,
		       delivered_today, delivered_week, delivered_convo
		FROM outbound_items
		WHERE min_turn <= $1
		  AND earliest_delivery <= $2
		  AND (latest_delivery IS NULL OR latest_delivery > $2)
		  AND (cooldown_until IS NULL OR cooldown_until <= $2)`,
		turnNumber, now,
	)
	if err != nil {
		return Item{}, false, fmt.Errorf("outbound: get probe: query candidates: %w", err)
	}
	defer rows.Close()

	var best Item
	var bestScore float64
	found := false
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return Item{}, false, fmt.Errorf("outbound: get probe: scan: %w", err)
		}
		score := Score(it, activeTopics, entitiesInScope, now, s.weights)
		if score < MatchThreshold {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = it, score, true
		}
	}
	if err := rows.Err(); err != nil {
		return Item{}, false, fmt.Errorf("outbound: get probe: %w", err)
	}
	if !found {
		return Item{}, false, nil
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE outbound_items
		SET delivered_today = delivered_today + 1,
		    delivered_week = delivered_week + 1,
		    delivered_convo = delivered_convo + 1
		WHERE id = $1`, best.ID)
	if err != nil {
		return Item{}, false, fmt.Errorf("outbound: get probe: increment counters: %w", err)
	}
	if err := s.Remove(ctx, best.ID); err != nil {
		return Item{}, false, fmt.Errorf("outbound: get probe: remove: %w", err)
	}
	return best, true, nil
}

func (s *Store) Peek(ctx context.Context, activeTopics, entitiesInScope []string, now time.Time, limit int) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, subtype, priority, context_tags, min_turn,
		       earliest_delivery, latest_delivery, cooldown_until, payload,
		       delivered_today, delivered_week, delivered_convo
		FROM outbound_items
		WHERE earliest_delivery <= $1
		  AND (latest_delivery IS NULL OR latest_delivery > $1)
		  AND (cooldown_until IS NULL OR cooldown_until <= $1)`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("outbound: peek: query candidates: %w", err)
	}
	defer rows.Close()

	type scored struct {
		it    Item
		score float64
	}
	var candidates []scored
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("outbound: peek: scan: %w", err)
		}
		candidates = append(candidates, scored{it: it, score: Score(it, activeTopics, entitiesInScope, now, s.weights)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbound: peek: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Item, len(candidates))
	for i, c := range candidates {
		out[i] = c.it
	}
	return out, nil
}

func (s *Store) Deflect(ctx context.Context, id string, cooldown time.Duration, priorityMultiplier float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbound_items
		SET cooldown_until = now() + $2::interval, priority = priority * $3
		WHERE id = $1`, id, cooldown.String(), priorityMultiplier)
	if err != nil {
		return fmt.Errorf("outbound: deflect: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbound: deflect: %w", pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM outbound_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("outbound: remove: %w", err)
	}
	return nil
}

func scanItem(rows pgx.Rows) (Item, error) {
	var it Item
	var payload []byte
	if err := rows.Scan(
		&it.ID, &it.Kind, &it.Subtype, &it.Priority, &it.ContextTags, &it.MinTurn,
		&it.EarliestDelivery, &it.LatestDelivery, &it.CooldownUntil, &payload,
		&it.DeliveredToday, &it.DeliveredWeek, &it.DeliveredConvo,
	); err != nil {
		return Item{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &it.Payload); err != nil {
			return Item{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return it, nil
}
