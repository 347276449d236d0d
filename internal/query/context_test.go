package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/graph/memstore"
)

// fakeOutboundQueue is a minimal in-memory [outbound.Queue] for this
// package's tests: enough to exercise Peek, nothing more.
type fakeOutboundQueue struct {
	items []outbound.Item
}

var _ outbound.Queue = (*fakeOutboundQueue)(nil)

func (q *fakeOutboundQueue) Enqueue(_ context.Context, it outbound.Item) (string, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	q.items = append(q.items, it)
	return it.ID, nil
}

func (q *fakeOutboundQueue) GetProbe(context.Context, []string, []string, string, int, time.Time) (outbound.Item, bool, error) {
	return outbound.Item{}, false, nil
}

func (q *fakeOutboundQueue) Peek(_ context.Context, activeTopics, entitiesInScope []string, now time.Time, limit int) ([]outbound.Item, error) {
	var out []outbound.Item
	for _, it := range q.items {
		if it.EarliestDelivery.After(now) {
			continue
		}
		out = append(out, it)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *fakeOutboundQueue) Deflect(context.Context, string, time.Duration, float64) error {
	return nil
}
func (q *fakeOutboundQueue) Remove(context.Context, string) error { return nil }

func TestAssembleContextBlockGathersFactsProbesAndReminders(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	alex, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Alex"})
	wine, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindConcept, Name: "Wine"})
	if _, err := store.CreateEdge(ctx, graph.Edge{
		SourceID: alex.ID, TargetID: wine.ID, Relation: "likes",
		Confidence: 0.8, State: graph.EdgeActive, ContextTags: []string{"food"},
		LastReinforced: now,
	}); err != nil {
		t.Fatalf("CreateEdge() error = %v", err)
	}

	queue := &fakeOutboundQueue{}
	if _, err := queue.Enqueue(ctx, outbound.Item{Kind: outbound.KindProbe, EarliestDelivery: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := queue.Enqueue(ctx, outbound.Item{Kind: outbound.KindStarter, EarliestDelivery: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	block, err := AssembleContextBlock(ctx, store, store, queue, []string{alex.ID}, []string{"food"}, 0, now)
	if err != nil {
		t.Fatalf("AssembleContextBlock() error = %v", err)
	}
	if len(block.Facts) != 1 {
		t.Fatalf("len(block.Facts) = %d, want 1", len(block.Facts))
	}
	if len(block.PendingProbes) != 1 {
		t.Errorf("len(block.PendingProbes) = %d, want 1", len(block.PendingProbes))
	}
	if len(block.ActiveReminders) != 1 {
		t.Errorf("len(block.ActiveReminders) = %d, want 1", len(block.ActiveReminders))
	}
}

func TestAssembleContextBlockCapsFactsByTokenBudget(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Now()

	alex, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Alex"})
	for i := 0; i < 10; i++ {
		target, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindConcept, Name: uuid.NewString()})
		if _, err := store.CreateEdge(ctx, graph.Edge{
			SourceID: alex.ID, TargetID: target.ID, Relation: "likes",
			Confidence: 0.5, State: graph.EdgeActive, LastReinforced: now,
		}); err != nil {
			t.Fatalf("CreateEdge() error = %v", err)
		}
	}

	block, err := AssembleContextBlock(ctx, store, store, nil, []string{alex.ID}, nil, 10, now)
	if err != nil {
		t.Fatalf("AssembleContextBlock() error = %v", err)
	}
	if len(block.Facts) >= 10 {
		t.Errorf("len(block.Facts) = %d, want fewer than 10 under a tight token budget", len(block.Facts))
	}
}
