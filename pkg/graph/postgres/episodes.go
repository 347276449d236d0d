package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/knowgraph/memoryd/pkg/graph"
)

var _ graph.EpisodeStore = (*Store)(nil)

// RecordEpisode implements [graph.EpisodeStore].
func (s *Store) RecordEpisode(ctx context.Context, e graph.Episode) (graph.Episode, error) {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
		INSERT INTO episodes (id, user_id, occurred_at, session_id, turn_number, channel_tag, sentiment, outcome, edge_ids)
		VALUES ($1, $2, now(), $3, $4, $5, $6, $7, $8)
		RETURNING id, occurred_at, session_id, turn_number, channel_tag, sentiment, outcome, edge_ids`
	row := s.pool.QueryRow(ctx, q, id, s.userID, e.SessionID, e.TurnNumber, e.ChannelTag, e.Sentiment, e.Outcome, e.EdgeIDs)
	recorded, err := scanEpisode(row)
	if err != nil {
		return graph.Episode{}, fmt.Errorf("graph postgres: record episode: %w", err)
	}
	return recorded, nil
}

// Episodes implements [graph.EpisodeStore].
func (s *Store) Episodes(ctx context.Context) ([]graph.Episode, error) {
	const q = `
		SELECT id, occurred_at, session_id, turn_number, channel_tag, sentiment, outcome, edge_ids
		FROM episodes WHERE user_id = $1 ORDER BY occurred_at DESC`
	rows, err := s.pool.Query(ctx, q, s.userID)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: episodes: %w", err)
	}
	defer rows.Close()

	episodes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Episode, error) {
		return scanEpisode(row)
	})
	if err != nil {
		return nil, fmt.Errorf("graph postgres: episodes: scan: %w", err)
	}
	return episodes, nil
}

// CreateExperience implements [graph.EpisodeStore].
func (s *Store) CreateExperience(ctx context.Context, e graph.Experience) (graph.Experience, error) {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	const q = `
		INSERT INTO experiences (id, user_id, description, applicability, confidence, reinforcement_count, source_episode_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING id, description, applicability, confidence, reinforcement_count, source_episode_ids, created_at`
	row := s.pool.QueryRow(ctx, q, id, s.userID, e.Description, e.Applicability, e.Confidence, max(e.ReinforcementCount, 1), e.SourceEpisodeIDs)
	created, err := scanExperience(row)
	if err != nil {
		return graph.Experience{}, fmt.Errorf("graph postgres: create experience: %w", err)
	}
	return created, nil
}

// Experiences implements [graph.EpisodeStore].
func (s *Store) Experiences(ctx context.Context) ([]graph.Experience, error) {
	const q = `
		SELECT id, description, applicability, confidence, reinforcement_count, source_episode_ids, created_at
		FROM experiences WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, s.userID)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: experiences: %w", err)
	}
	defer rows.Close()

	experiences, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.Experience, error) {
		return scanExperience(row)
	})
	if err != nil {
		return nil, fmt.Errorf("graph postgres: experiences: scan: %w", err)
	}
	return experiences, nil
}

func scanEpisode(row pgx.Row) (graph.Episode, error) {
	var e graph.Episode
	err := row.Scan(&e.ID, &e.OccurredAt, &e.SessionID, &e.TurnNumber, &e.ChannelTag, &e.Sentiment, &e.Outcome, &e.EdgeIDs)
	return e, err
}

func scanExperience(row pgx.Row) (graph.Experience, error) {
	var e graph.Experience
	err := row.Scan(&e.ID, &e.Description, &e.Applicability, &e.Confidence, &e.ReinforcementCount, &e.SourceEpisodeIDs, &e.CreatedAt)
	return e, err
}
