package service

import (
	"context"
	"time"

	"github.com/knowgraph/memoryd/internal/resilience"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// defaultStoreBreakerConfig is the spec §4.13 graph store breaker's default
// tuning: more tolerant than the LLM breakers (5 failures and a 30s reset,
// against 3/60s small and 2/60s large) since a single failed query is a
// much cheaper, much more likely-to-be-transient event than a model call.
func defaultStoreBreakerConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         "graph_store",
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
	}
}

// breakerStore wraps a [graph.Store] with a shared circuit breaker, the
// spec §4.13 "graph store" breaker alongside the LLM small/large breakers
// internal/extraction.llmClient already applies. Grounded on that same
// resilience.CircuitBreaker.Execute synchronous wrapping style: each method
// runs its underlying call inside Execute and captures the result through a
// closure variable, since Execute only carries an error.
type breakerStore struct {
	graph.Store
	breaker *resilience.CircuitBreaker
}

// newBreakerStore wraps store so every call is gated by breaker. store must
// be non-nil.
func newBreakerStore(store graph.Store, breaker *resilience.CircuitBreaker) graph.Store {
	return &breakerStore{Store: store, breaker: breaker}
}

func (b *breakerStore) UpsertNode(ctx context.Context, n graph.Node) (graph.Node, error) {
	var out graph.Node
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.UpsertNode(ctx, n)
		return err
	})
	return out, err
}

func (b *breakerStore) GetNode(ctx context.Context, id string) (graph.Node, error) {
	var out graph.Node
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.GetNode(ctx, id)
		return err
	})
	return out, err
}

func (b *breakerStore) DeleteNode(ctx context.Context, id string) error {
	return b.breaker.Execute(func() error {
		return b.Store.DeleteNode(ctx, id)
	})
}

func (b *breakerStore) FindNodes(ctx context.Context, opts ...graph.FindOpt) ([]graph.Node, error) {
	var out []graph.Node
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.FindNodes(ctx, opts...)
		return err
	})
	return out, err
}

func (b *breakerStore) CreateEdge(ctx context.Context, e graph.Edge) (graph.Edge, error) {
	var out graph.Edge
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.CreateEdge(ctx, e)
		return err
	})
	return out, err
}

func (b *breakerStore) GetEdge(ctx context.Context, id string) (graph.Edge, error) {
	var out graph.Edge
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.GetEdge(ctx, id)
		return err
	})
	return out, err
}

func (b *breakerStore) ReinforceEdge(ctx context.Context, id string, newConfidence float64, episodeID string) (graph.Edge, error) {
	var out graph.Edge
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.ReinforceEdge(ctx, id, newConfidence, episodeID)
		return err
	})
	return out, err
}

func (b *breakerStore) ReviseEdge(ctx context.Context, supersededID string, replacement graph.Edge) (graph.Edge, error) {
	var out graph.Edge
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.ReviseEdge(ctx, supersededID, replacement)
		return err
	})
	return out, err
}

func (b *breakerStore) ArchiveEdge(ctx context.Context, id string) error {
	return b.breaker.Execute(func() error {
		return b.Store.ArchiveEdge(ctx, id)
	})
}

func (b *breakerStore) DecayEdge(ctx context.Context, id string, newConfidence float64) (graph.Edge, error) {
	var out graph.Edge
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.DecayEdge(ctx, id, newConfidence)
		return err
	})
	return out, err
}

func (b *breakerStore) RetractEdge(ctx context.Context, id string, reason string) error {
	return b.breaker.Execute(func() error {
		return b.Store.RetractEdge(ctx, id, reason)
	})
}

func (b *breakerStore) Edges(ctx context.Context, opts ...graph.EdgeOpt) ([]graph.Edge, error) {
	var out []graph.Edge
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.Edges(ctx, opts...)
		return err
	})
	return out, err
}

func (b *breakerStore) Neighbors(ctx context.Context, id string, maxNodes int, opts ...graph.TraverseOpt) ([]graph.Node, error) {
	var out []graph.Node
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.Neighbors(ctx, id, maxNodes, opts...)
		return err
	})
	return out, err
}

func (b *breakerStore) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	var out graph.Snapshot
	err := b.breaker.Execute(func() error {
		var err error
		out, err = b.Store.Snapshot(ctx)
		return err
	})
	return out, err
}
