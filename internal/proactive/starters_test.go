package proactive

import (
	"context"
	"testing"
	"time"

	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/graph/memstore"
)

func TestOnExternalEventEnqueuesStarterWhenRelevant(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	alex, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Alex"})
	paris, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPlace, Name: "Paris"})
	if _, err := store.CreateEdge(ctx, graph.Edge{
		SourceID: alex.ID, TargetID: paris.ID, Relation: "traveling_to",
		Confidence: 0.9, State: graph.EdgeActive,
	}); err != nil {
		t.Fatalf("CreateEdge() error = %v", err)
	}

	queue := newFakeQueue()
	synth := fakeSynthesizer{content: `{"message": "Looks like rain in Paris this weekend.", "priority": 0.7}`}
	cfg := Config{
		Stores:                    func(string) graph.Store { return store },
		Outbound:                  func(string) outbound.Queue { return queue },
		Synthesizer:               synth,
		StarterRelevanceThreshold: 0.40,
		MinEntityConfidence:       0.5,
	}
	e := NewEngine(cfg)

	ev := NormalizedEvent{
		Kind:     ExternalEventWeather,
		Summary:  "Rain forecast in Paris",
		Entities: []string{"Paris"},
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := e.OnExternalEvent(ctx, "u1", ev, now); err != nil {
		t.Fatalf("OnExternalEvent() error = %v", err)
	}

	if len(queue.items) != 1 {
		t.Fatalf("queue.items = %d, want 1", len(queue.items))
	}
	for _, it := range queue.items {
		if it.Subtype != outbound.SubtypeAlert {
			t.Errorf("Subtype = %v, want %v", it.Subtype, outbound.SubtypeAlert)
		}
		if it.Payload["message"] != "Looks like rain in Paris this weekend." {
			t.Errorf("message = %v, want synthesized message", it.Payload["message"])
		}
	}
}

func TestOnExternalEventSkipsBelowRelevanceThreshold(t *testing.T) {
	store := memstore.New()
	queue := newFakeQueue()
	cfg := Config{
		Stores:                    func(string) graph.Store { return store },
		Outbound:                  func(string) outbound.Queue { return queue },
		StarterRelevanceThreshold: 0.40,
	}
	e := NewEngine(cfg)

	ev := NormalizedEvent{Kind: ExternalEventNews, Summary: "unrelated news", Entities: []string{"Nowhere"}}
	if err := e.OnExternalEvent(context.Background(), "u1", ev, time.Now()); err != nil {
		t.Fatalf("OnExternalEvent() error = %v", err)
	}
	if len(queue.items) != 0 {
		t.Errorf("queue.items = %d, want 0 for an irrelevant event", len(queue.items))
	}
}

func TestOnExternalEventWithholdsDuringQuietHoursUnlessOverride(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	alex, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Alex"})
	paris, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPlace, Name: "Paris"})
	_, _ = store.CreateEdge(ctx, graph.Edge{SourceID: alex.ID, TargetID: paris.ID, Relation: "traveling_to", Confidence: 0.9, State: graph.EdgeActive})

	queue := newFakeQueue()
	cfg := Config{
		Stores:                    func(string) graph.Store { return store },
		Outbound:                  func(string) outbound.Queue { return queue },
		StarterRelevanceThreshold: 0.40,
		QuietHours:                DefaultQuietHours(),
	}
	e := NewEngine(cfg)

	lateNight := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	ev := NormalizedEvent{Kind: ExternalEventNews, Summary: "Paris news", Entities: []string{"Paris"}}
	if err := e.OnExternalEvent(ctx, "u1", ev, lateNight); err != nil {
		t.Fatalf("OnExternalEvent() error = %v", err)
	}
	if len(queue.items) != 0 {
		t.Errorf("queue.items = %d, want 0 during quiet hours for a non-overriding event", len(queue.items))
	}

	ev.AllowsQuietHourOverride = true
	if err := e.OnExternalEvent(ctx, "u1", ev, lateNight); err != nil {
		t.Fatalf("OnExternalEvent() error = %v", err)
	}
	if len(queue.items) != 1 {
		t.Errorf("queue.items = %d, want 1 once the event overrides quiet hours", len(queue.items))
	}
}
