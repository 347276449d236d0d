package outbound

import (
	"context"
	"time"
)

// MatchThreshold is the minimum context-fit score an item must clear to be
// returned from [Queue.GetProbe]; items scoring below it are treated as not
// found.
const MatchThreshold = 0.15

// Queue is the durable store backing the outbound queue.
type Queue interface {
	// Enqueue adds it to the queue, assigning an id if it.ID is empty.
	Enqueue(ctx context.Context, it Item) (string, error)

	// GetProbe returns the single best-fit item matching the given
	// context, or found=false if nothing clears [MatchThreshold]. A
	// successful retrieval deducts the item from the queue, increments
	// its delivery counters, and must be paired by the caller with an
	// Audit Log entry recording the decision.
	GetProbe(ctx context.Context, activeTopics, entitiesInScope []string, channel string, turnNumber int, now time.Time) (Item, bool, error)

	// Peek returns up to limit currently-eligible items matching the given
	// context, ordered by descending context-fit score, without removing
	// them or incrementing delivery counters. Used by the Query Surface's
	// assemble_context_block to list pending probes and active starters
	// alongside entity facts.
	Peek(ctx context.Context, activeTopics, entitiesInScope []string, now time.Time, limit int) ([]Item, error)

	// Deflect moves id into cooldown with reduced priority, for an item
	// the user ignored or explicitly deflected.
	Deflect(ctx context.Context, id string, cooldown time.Duration, priorityMultiplier float64) error

	// Remove permanently deletes id (delivered-and-consumed items).
	Remove(ctx context.Context, id string) error
}
