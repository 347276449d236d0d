// Package inbound implements the durable, at-least-once queue of
// interaction events agents push into the extraction pipeline.
//
// Idempotency is keyed on (session_id, turn_number); failed processing is
// retried with exponential backoff and progressive context reduction before
// landing in a dead-letter store for offline review.
package inbound

import (
	"context"
	"time"
)

// Status is the lifecycle state of one enqueued [Event].
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusDeadLetter Status = "dead_letter"
)

// ContextLevel is how much prior conversational context a retry attempt
// should carry, reduced progressively on each retry to raise the odds of a
// successful extraction under a tighter token budget.
type ContextLevel string

const (
	ContextFull    ContextLevel = "full"
	ContextHalf    ContextLevel = "half"
	ContextMinimal ContextLevel = "minimal"
)

// Event is one interaction event accepted from an agent.
type Event struct {
	SessionID             string
	TurnNumber            int
	ChannelTag            string
	Text                  string
	MentionedEntitiesHint []string
	ClientTimestamp       time.Time
	SpeechConfidence      *float64 // nil when the source is text, not voice
}

// Claimed is one event handed to a worker for processing, along with the
// retry bookkeeping the worker needs to decide how to process it.
type Claimed struct {
	ID           string
	Event        Event
	AttemptCount int
	ContextLevel ContextLevel
}

// Queue is the durable store backing the inbound queue.
type Queue interface {
	// Enqueue durably records e. Idempotent on (session_id, turn_number)
	// within the retention window: a duplicate enqueue returns the id of
	// the existing event without creating a new row. Enqueue must be fast
	// (target < 10ms) from the caller's perspective.
	Enqueue(ctx context.Context, e Event) (id string, err error)

	// ClaimBatch atomically moves up to n pending-and-due events to
	// processing and returns them.
	ClaimBatch(ctx context.Context, n int) ([]Claimed, error)

	// MarkDone marks id as successfully processed.
	MarkDone(ctx context.Context, id string) error

	// MarkFailed records a failed processing attempt for id. The queue
	// applies policy to decide the next retry delay and context level, or
	// to move the event to the dead letter status if policy reports
	// exhaustion.
	MarkFailed(ctx context.Context, id string, policy RetryPolicy, cause error) error

	// DeadLetters returns every event currently in StatusDeadLetter, for
	// offline review.
	DeadLetters(ctx context.Context) ([]Claimed, error)

	// SweepExpiredIdempotencyKeys deletes done/dead-letter rows older than
	// the idempotency retention window, so the unique (session_id,
	// turn_number) index doesn't grow unbounded. Intended to run as part
	// of the Background Workers' decay cycle schedule.
	SweepExpiredIdempotencyKeys(ctx context.Context, olderThan time.Time) (int64, error)

	// PendingCount reports how many events are currently pending-and-due,
	// for queue depth reporting.
	PendingCount(ctx context.Context) (int64, error)
}

// RetryPolicy is the pure decision function consumed by a poller when a
// processing attempt fails: it maps an attempt count to the delay before
// the next attempt and the context level that attempt should use, and
// reports whether the attempt budget is exhausted.
type RetryPolicy struct {
	// Delays is the backoff schedule by zero-indexed attempt number. The
	// spec default is {1s, 5s, 30s}: three retries before dead-lettering.
	Delays []time.Duration
}

// DefaultRetryPolicy returns the spec §4.3 default: three retries at 1s,
// 5s, and 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}}
}

// NextAttempt reports the delay and context level for the attempt after
// attemptCount prior failures, or ok=false if the attempt budget
// (len(Delays)) is exhausted and the event should move to the dead
// letter status.
func (p RetryPolicy) NextAttempt(attemptCount int) (delay time.Duration, level ContextLevel, ok bool) {
	if attemptCount >= len(p.Delays) {
		return 0, "", false
	}
	return p.Delays[attemptCount], contextLevelForAttempt(attemptCount, len(p.Delays)), true
}

// contextLevelForAttempt reduces context progressively across the retry
// budget: the first retry keeps full context, the middle retry(ies) use
// half, and the final retry uses minimal context.
func contextLevelForAttempt(attemptCount, budget int) ContextLevel {
	if budget <= 1 {
		return ContextMinimal
	}
	switch {
	case attemptCount == 0:
		return ContextFull
	case attemptCount >= budget-1:
		return ContextMinimal
	default:
		return ContextHalf
	}
}
