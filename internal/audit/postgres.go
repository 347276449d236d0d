package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAuditLog = `
CREATE TABLE IF NOT EXISTS audit_log (
    id                 BIGSERIAL    PRIMARY KEY,
    occurred_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    correlation_id     TEXT         NOT NULL DEFAULT '',
    kind               TEXT         NOT NULL,
    component          TEXT         NOT NULL,
    operation          TEXT         NOT NULL DEFAULT '',
    affected_id        TEXT         NOT NULL DEFAULT '',
    old_value          JSONB,
    new_value          JSONB,
    confidence_before  DOUBLE PRECISION,
    confidence_after   DOUBLE PRECISION,
    source_mechanism   TEXT         NOT NULL DEFAULT '',
    session_id         TEXT         NOT NULL DEFAULT '',
    reasoning          TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_log_correlation ON audit_log (correlation_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_affected ON audit_log (affected_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_session ON audit_log (session_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_occurred_at ON audit_log (occurred_at);
`

// Store is a PostgreSQL-backed [Log]. It exposes no update or delete method:
// the only way to change what a caller sees in the log is to Append another
// entry.
type Store struct {
	pool *pgxpool.Pool
}

var _ Log = (*Store)(nil)

// NewStore migrates the audit_log table and returns a [Store] bound to pool.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, ddlAuditLog); err != nil {
		return nil, fmt.Errorf("audit postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Append implements [Log]. It is the only write path this type exposes.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	const q = `
INSERT INTO audit_log
    (correlation_id, kind, component, operation, affected_id,
     old_value, new_value, confidence_before, confidence_after,
     source_mechanism, session_id, reasoning)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id, occurred_at`

	row := s.pool.QueryRow(ctx, q,
		e.CorrelationID, e.Kind, e.Component, e.Operation, e.AffectedID,
		nullBytes(e.OldValue), nullBytes(e.NewValue), e.ConfidenceBefore, e.ConfidenceAfter,
		e.SourceMechanism, e.SessionID, e.Reasoning)
	if err := row.Scan(&e.ID, &e.OccurredAt); err != nil {
		return Entry{}, fmt.Errorf("audit postgres: append: %w", err)
	}
	return e, nil
}

// Query implements [Log].
func (s *Store) Query(ctx context.Context, opts ...QueryOpt) ([]Entry, error) {
	correlationID, affectedID, sessionID, kinds, since, limit := ApplyQueryOpts(opts...)

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"true"}
	if correlationID != "" {
		conditions = append(conditions, "correlation_id = "+next(correlationID))
	}
	if affectedID != "" {
		conditions = append(conditions, "affected_id = "+next(affectedID))
	}
	if sessionID != "" {
		conditions = append(conditions, "session_id = "+next(sessionID))
	}
	if len(kinds) > 0 {
		strs := make([]string, len(kinds))
		for i, k := range kinds {
			strs[i] = string(k)
		}
		conditions = append(conditions, "kind = ANY("+next(strs)+"::text[])")
	}
	if !since.IsZero() {
		conditions = append(conditions, "occurred_at >= "+next(since))
	}

	q := "SELECT id, occurred_at, correlation_id, kind, component, operation, affected_id,\n" +
		"       old_value, new_value, confidence_before, confidence_after,\n" +
		"       source_mechanism, session_id, reasoning\n" +
		"FROM   audit_log\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND ") + "\n" +
		"ORDER BY occurred_at DESC"
	if limit > 0 {
		q += "\nLIMIT " + next(limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit postgres: query: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		var kind, operation string
		if err := row.Scan(&e.ID, &e.OccurredAt, &e.CorrelationID, &kind, &e.Component, &operation,
			&e.AffectedID, &e.OldValue, &e.NewValue, &e.ConfidenceBefore, &e.ConfidenceAfter,
			&e.SourceMechanism, &e.SessionID, &e.Reasoning); err != nil {
			return Entry{}, err
		}
		e.Kind = EventKind(kind)
		e.Operation = Operation(operation)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit postgres: query: %w", err)
	}
	return entries, nil
}

// nullBytes maps a nil/empty slice to SQL NULL so old_value/new_value store
// NULL rather than an empty jsonb value for inserts and deletes.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
