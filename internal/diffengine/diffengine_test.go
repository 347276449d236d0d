package diffengine

import (
	"context"
	"testing"

	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/graph/memstore"
)

func TestClassifyInsertWhenNoMatch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	src, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "User"})
	dst, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Lena"})

	decision, err := Classify(ctx, store, confidence.DefaultConfig(), Proposed{
		SourceID: src.ID, TargetID: dst.ID, Relation: "married_to", Confidence: 0.90,
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if decision.Op != OpInsert {
		t.Fatalf("got op %q, want insert", decision.Op)
	}
}

func TestClassifySkipBelowMinStorageThreshold(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	src, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "User"})
	dst, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindConcept, Name: "Something"})

	decision, err := Classify(ctx, store, confidence.DefaultConfig(), Proposed{
		SourceID: src.ID, TargetID: dst.ID, Relation: "mentioned", Confidence: 0.10,
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if decision.Op != OpSkip {
		t.Fatalf("got op %q, want skip", decision.Op)
	}
}

func TestClassifyReinforceWhenEdgeAlreadyExists(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	src, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Lena"})
	dst, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindConcept, Name: "Malbec"})

	existing, err := store.CreateEdge(ctx, graph.Edge{
		SourceID: src.ID, TargetID: dst.ID, Relation: "loves",
		Confidence: 0.90, State: graph.EdgeActive, TemporalType: graph.TemporalTrait,
	})
	if err != nil {
		t.Fatalf("seed edge: %v", err)
	}

	decision, err := Classify(ctx, store, confidence.DefaultConfig(), Proposed{
		SourceID: src.ID, TargetID: dst.ID, Relation: "loves", Confidence: 0.95, TemporalType: graph.TemporalTrait,
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if decision.Op != OpReinforce || decision.ExistingEdgeID != existing.ID {
		t.Fatalf("got %+v, want reinforce of %q", decision, existing.ID)
	}
}

func TestApplyReinforceMatchesSpecScenario(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cfg := confidence.DefaultConfig()
	src, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Lena"})
	dst, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindConcept, Name: "Malbec"})

	existing, _ := store.CreateEdge(ctx, graph.Edge{
		SourceID: src.ID, TargetID: dst.ID, Relation: "loves",
		Confidence: 0.90, State: graph.EdgeActive, TemporalType: graph.TemporalTrait,
	})

	applied, err := Apply(ctx, store, cfg, Decision{Op: OpReinforce, ExistingEdgeID: existing.ID}, Proposed{
		SourceID: src.ID, TargetID: dst.ID, Relation: "loves", EpisodeID: "ep2",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := 0.90 + 0.08*(1-0.90)
	if diff := applied.Edge.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", applied.Edge.Confidence, want)
	}
}

func TestApplyReviseRetractsSuperseded(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	cfg := confidence.DefaultConfig()
	src, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "User"})
	oldTarget, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "OldFriend"})
	newTarget, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "NewFriend"})

	original, _ := store.CreateEdge(ctx, graph.Edge{
		SourceID: src.ID, TargetID: oldTarget.ID, Relation: "best_friend",
		Confidence: 0.60, State: graph.EdgeActive,
	})

	applied, err := Apply(ctx, store, cfg, Decision{Op: OpRevise, ExistingEdgeID: original.ID, NewConfidence: 0.85}, Proposed{
		SourceID: src.ID, TargetID: newTarget.ID, Relation: "best_friend",
	})
	if err != nil {
		t.Fatalf("apply revise: %v", err)
	}

	oldEdge, err := store.GetEdge(ctx, original.ID)
	if err != nil {
		t.Fatalf("get old edge: %v", err)
	}
	if !oldEdge.Retracted || oldEdge.RetractionReason != "superseded" {
		t.Errorf("old edge not properly retracted: %+v", oldEdge)
	}
	if oldEdge.SupersededBy != applied.Edge.ID {
		t.Errorf("superseded_by = %q, want %q", oldEdge.SupersededBy, applied.Edge.ID)
	}
}
