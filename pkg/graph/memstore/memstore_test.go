package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/knowgraph/memoryd/pkg/graph"
)

func TestUpsertNodeMergesByCaseFoldedAlias(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Alex"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "alex", Aliases: []string{"Lex"}})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected merge into existing node %q, got new node %q", first.ID, second.ID)
	}
	nodes, err := s.FindNodes(ctx)
	if err != nil {
		t.Fatalf("find nodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected exactly one node after merge, got %d", len(nodes))
	}
}

func TestPrivacyLevelIsMonotonicallySticky(t *testing.T) {
	ctx := context.Background()
	s := New()

	n, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Sam", Privacy: graph.PrivacyPrivate})
	n, err := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Sam", Privacy: graph.PrivacyPublic})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n.Privacy != graph.PrivacyPrivate {
		t.Fatalf("expected privacy to stay at L3, got %s", n.Privacy)
	}
}

func TestReviseEdgeSupersedesOriginal(t *testing.T) {
	ctx := context.Background()
	s := New()

	src, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "A"})
	dst, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPlace, Name: "Berlin"})

	original, err := s.CreateEdge(ctx, graph.Edge{
		SourceID: src.ID, TargetID: dst.ID, Relation: "lives_in",
		Confidence: 0.8, State: graph.EdgeActive,
	})
	if err != nil {
		t.Fatalf("create edge: %v", err)
	}

	revised, err := s.ReviseEdge(ctx, original.ID, graph.Edge{
		SourceID: src.ID, TargetID: dst.ID, Relation: "lives_in",
		Confidence: 0.6, State: graph.EdgeActive,
	})
	if err != nil {
		t.Fatalf("revise edge: %v", err)
	}

	oldEdge, err := s.GetEdge(ctx, original.ID)
	if err != nil {
		t.Fatalf("get superseded edge: %v", err)
	}
	if oldEdge.State != graph.EdgeRevised {
		t.Fatalf("expected superseded edge state revised, got %s", oldEdge.State)
	}
	if oldEdge.SupersededBy != revised.ID {
		t.Fatalf("expected superseded_by %q, got %q", revised.ID, oldEdge.SupersededBy)
	}
}

func TestNeighborsRespectsMaxNodesAndInactiveEdges(t *testing.T) {
	ctx := context.Background()
	s := New()

	hub, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Hub"})
	a, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindConcept, Name: "A"})
	b, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindConcept, Name: "B"})

	if _, err := s.CreateEdge(ctx, graph.Edge{SourceID: hub.ID, TargetID: a.ID, Relation: "knows", Confidence: 0.9, State: graph.EdgeActive}); err != nil {
		t.Fatalf("create edge a: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if _, err := s.CreateEdge(ctx, graph.Edge{SourceID: hub.ID, TargetID: b.ID, Relation: "knows", Confidence: 0.9, State: graph.EdgeActive, Expiry: &past}); err != nil {
		t.Fatalf("create edge b: %v", err)
	}

	neighbors, err := s.Neighbors(ctx, hub.ID, 10)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].ID != a.ID {
		t.Fatalf("expected exactly node A reachable (expired edge to B excluded), got %+v", neighbors)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	n, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Riley"})
	e, _ := s.CreateEdge(ctx, graph.Edge{SourceID: n.ID, TargetID: n.ID, Relation: "self", Confidence: 0.5, State: graph.EdgeActive})

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Nodes) != 1 || len(snap.Edges) != 1 {
		t.Fatalf("expected 1 node and 1 edge in snapshot, got %d nodes %d edges", len(snap.Nodes), len(snap.Edges))
	}
	if snap.Edges[0].ID != e.ID {
		t.Fatalf("expected snapshot edge id %q, got %q", e.ID, snap.Edges[0].ID)
	}
}

func TestDeleteNodeCascadesEdges(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "A"})
	b, _ := s.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "B"})
	e, _ := s.CreateEdge(ctx, graph.Edge{SourceID: a.ID, TargetID: b.ID, Relation: "knows", Confidence: 0.7, State: graph.EdgeActive})

	if err := s.DeleteNode(ctx, a.ID); err != nil {
		t.Fatalf("delete node: %v", err)
	}
	if _, err := s.GetEdge(ctx, e.ID); err != graph.ErrNotFound {
		t.Fatalf("expected edge to be cascade-deleted, got err=%v", err)
	}
}
