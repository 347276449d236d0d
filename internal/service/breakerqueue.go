package service

import (
	"context"
	"time"

	"github.com/knowgraph/memoryd/internal/queue/inbound"
	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/internal/resilience"
)

// defaultQueueBreakerConfig is the spec §4.13/§6 queue breaker default,
// shared by the inbound and outbound wrappers below: the same tolerance as
// the graph store breaker, since both durable stores sit behind the same
// Postgres pool and fail together.
func defaultQueueBreakerConfig(name string) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}
}

// breakerInboundQueue wraps an [inbound.Queue] with a circuit breaker, the
// spec §6 "inbound queue" health-checker dependency.
type breakerInboundQueue struct {
	inbound.Queue
	breaker *resilience.CircuitBreaker
}

func newBreakerInboundQueue(q inbound.Queue, breaker *resilience.CircuitBreaker) inbound.Queue {
	return &breakerInboundQueue{Queue: q, breaker: breaker}
}

func (b *breakerInboundQueue) Enqueue(ctx context.Context, e inbound.Event) (string, error) {
	var id string
	err := b.breaker.Execute(func() error {
		var err error
		id, err = b.Queue.Enqueue(ctx, e)
		return err
	})
	return id, err
}

func (b *breakerInboundQueue) ClaimBatch(ctx context.Context, n int) ([]inbound.Claimed, error) {
	var out []inbound.Claimed
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Queue.ClaimBatch(ctx, n)
		return err
	})
	return out, err
}

func (b *breakerInboundQueue) MarkDone(ctx context.Context, id string) error {
	return b.breaker.Execute(func() error {
		return b.Queue.MarkDone(ctx, id)
	})
}

func (b *breakerInboundQueue) MarkFailed(ctx context.Context, id string, policy inbound.RetryPolicy, cause error) error {
	return b.breaker.Execute(func() error {
		return b.Queue.MarkFailed(ctx, id, policy, cause)
	})
}

func (b *breakerInboundQueue) DeadLetters(ctx context.Context) ([]inbound.Claimed, error) {
	var out []inbound.Claimed
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Queue.DeadLetters(ctx)
		return err
	})
	return out, err
}

func (b *breakerInboundQueue) SweepExpiredIdempotencyKeys(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := b.breaker.Execute(func() error {
		var err error
		n, err = b.Queue.SweepExpiredIdempotencyKeys(ctx, olderThan)
		return err
	})
	return n, err
}

func (b *breakerInboundQueue) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := b.breaker.Execute(func() error {
		var err error
		n, err = b.Queue.PendingCount(ctx)
		return err
	})
	return n, err
}

// breakerOutboundQueue wraps an [outbound.Queue] with a circuit breaker, the
// spec §6 "outbound queue" health-checker dependency.
type breakerOutboundQueue struct {
	outbound.Queue
	breaker *resilience.CircuitBreaker
}

func newBreakerOutboundQueue(q outbound.Queue, breaker *resilience.CircuitBreaker) outbound.Queue {
	return &breakerOutboundQueue{Queue: q, breaker: breaker}
}

func (b *breakerOutboundQueue) Enqueue(ctx context.Context, it outbound.Item) (string, error) {
	var id string
	err := b.breaker.Execute(func() error {
		var err error
		id, err = b.Queue.Enqueue(ctx, it)
		return err
	})
	return id, err
}

func (b *breakerOutboundQueue) GetProbe(ctx context.Context, activeTopics, entitiesInScope []string, channel string, turnNumber int, now time.Time) (outbound.Item, bool, error) {
	var item outbound.Item
	var found bool
	err := b.breaker.Execute(func() error {
		var err error
		item, found, err = b.Queue.GetProbe(ctx, activeTopics, entitiesInScope, channel, turnNumber, now)
		return err
	})
	return item, found, err
}

func (b *breakerOutboundQueue) Peek(ctx context.Context, activeTopics, entitiesInScope []string, now time.Time, limit int) ([]outbound.Item, error) {
	var out []outbound.Item
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Queue.Peek(ctx, activeTopics, entitiesInScope, now, limit)
		return err
	})
	return out, err
}

func (b *breakerOutboundQueue) Deflect(ctx context.Context, id string, cooldown time.Duration, priorityMultiplier float64) error {
	return b.breaker.Execute(func() error {
		return b.Queue.Deflect(ctx, id, cooldown, priorityMultiplier)
	})
}

func (b *breakerOutboundQueue) Remove(ctx context.Context, id string) error {
	return b.breaker.Execute(func() error {
		return b.Queue.Remove(ctx, id)
	})
}
