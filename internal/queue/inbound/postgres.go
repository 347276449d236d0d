package inbound

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlInboundEvents = `
CREATE TABLE IF NOT EXISTS inbound_events (
	id                TEXT PRIMARY KEY,
	session_id        TEXT NOT NULL,
	turn_number       INTEGER NOT NULL,
	channel_tag       TEXT NOT NULL DEFAULT '',
	text              TEXT NOT NULL,
	mentioned_entities TEXT[] NOT NULL DEFAULT '{}',
	client_timestamp  TIMESTAMPTZ NOT NULL,
	speech_confidence DOUBLE PRECISION,
	status            TEXT NOT NULL DEFAULT 'pending',
	attempt_count     INTEGER NOT NULL DEFAULT 0,
	next_attempt_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS inbound_events_idempotency_idx
	ON inbound_events (session_id, turn_number);
CREATE INDEX IF NOT EXISTS inbound_events_poll_idx
	ON inbound_events (status, next_attempt_at);
`

// Store is the Postgres-backed implementation of [Queue].
type Store struct {
	pool *pgxpool.Pool
}

var _ Queue = (*Store)(nil)

// NewStore creates a Store against pool and ensures the inbound_events
// table and its indexes exist. pool is owned by the caller; Close does not
// close it.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, ddlInboundEvents); err != nil {
		return nil, fmt.Errorf("inbound: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close is a no-op: the underlying pool is owned by the caller.
func (s *Store) Close() error { return nil }

func (s *Store) Enqueue(ctx context.Context, e Event) (string, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO inbound_events
			(id, session_id, turn_number, channel_tag, text, mentioned_entities,
			 client_timestamp, speech_confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, turn_number) DO UPDATE SET session_id = inbound_events.session_id
		RETURNING id`,
		id, e.SessionID, e.TurnNumber, e.ChannelTag, e.Text, e.MentionedEntitiesHint,
		e.ClientTimestamp, e.SpeechConfidence,
	)

	var gotID string
	if err := row.Scan(&gotID); err != nil {
		return "", fmt.Errorf("inbound: enqueue: %w", err)
	}
	return gotID, nil
}

func (s *Store) ClaimBatch(ctx context.Context, n int) ([]Claimed, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE inbound_events
		SET status = 'processing', updated_at = now()
		WHERE id IN (
			SELECT id FROM inbound_events
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, session_id, turn_number, channel_tag, text, mentioned_entities,
		          client_timestamp, speech_confidence, attempt_count`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("inbound: claim batch: %w", err)
	}
	defer rows.Close()

	var claimed []Claimed
	for rows.Next() {
		var c Claimed
		if err := rows.Scan(
			&c.ID, &c.Event.SessionID, &c.Event.TurnNumber, &c.Event.ChannelTag,
			&c.Event.Text, &c.Event.MentionedEntitiesHint, &c.Event.ClientTimestamp,
			&c.Event.SpeechConfidence, &c.AttemptCount,
		); err != nil {
			return nil, fmt.Errorf("inbound: claim batch: scan: %w", err)
		}
		c.ContextLevel = contextLevelForAttempt(c.AttemptCount, len(DefaultRetryPolicy().Delays))
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inbound: claim batch: %w", err)
	}
	return claimed, nil
}

func (s *Store) MarkDone(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE inbound_events SET status = 'done', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("inbound: mark done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inbound: mark done: %w", pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, policy RetryPolicy, cause error) error {
	var attemptCount int
	row := s.pool.QueryRow(ctx, `SELECT attempt_count FROM inbound_events WHERE id = $1`, id)
	if err := row.Scan(&attemptCount); err != nil {
		return fmt.Errorf("inbound: mark failed: lookup attempt count: %w", err)
	}

	delay, _, ok := policy.NextAttempt(attemptCount)
	var errMsg string
	if cause != nil {
		errMsg = cause.Error()
	}

	if !ok {
		_, err := s.pool.Exec(ctx, `
			UPDATE inbound_events
			SET status = 'dead_letter', attempt_count = attempt_count + 1,
			    last_error = $2, updated_at = now()
			WHERE id = $1`, id, errMsg)
		if err != nil {
			return fmt.Errorf("inbound: mark failed: dead letter: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_events
		SET status = 'pending', attempt_count = attempt_count + 1,
		    next_attempt_at = now() + $2::interval, last_error = $3, updated_at = now()
		WHERE id = $1`, id, delay.String(), errMsg)
	if err != nil {
		return fmt.Errorf("inbound: mark failed: reschedule: %w", err)
	}
	return nil
}

func (s *Store) DeadLetters(ctx context.Context) ([]Claimed, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, turn_number, channel_tag, text, mentioned_entities,
		       client_timestamp, speech_confidence, attempt_count
		FROM inbound_events WHERE status = 'dead_letter' ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("inbound: dead letters: %w", err)
	}
	defer rows.Close()

	var out []Claimed
	for rows.Next() {
		var c Claimed
		if err := rows.Scan(
			&c.ID, &c.Event.SessionID, &c.Event.TurnNumber, &c.Event.ChannelTag,
			&c.Event.Text, &c.Event.MentionedEntitiesHint, &c.Event.ClientTimestamp,
			&c.Event.SpeechConfidence, &c.AttemptCount,
		); err != nil {
			return nil, fmt.Errorf("inbound: dead letters: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inbound: dead letters: %w", err)
	}
	return out, nil
}

func (s *Store) SweepExpiredIdempotencyKeys(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM inbound_events
		WHERE status IN ('done', 'dead_letter') AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("inbound: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	row := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM inbound_events
		WHERE status = 'pending' AND next_attempt_at <= now()`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("inbound: pending count: %w", err)
	}
	return n, nil
}
