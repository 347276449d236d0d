package extraction

import (
	"context"
	"testing"

	"github.com/knowgraph/memoryd/pkg/graph"
)

func TestAssignTemporalScopeDefaultsToState(t *testing.T) {
	d := &Draft{CleanedText: "I went to the store", Relations: []ExtractedRelation{{Relation: "visited"}}}
	got, err := AssignTemporalScope(context.Background(), d)
	if err != nil {
		t.Fatalf("AssignTemporalScope() error = %v", err)
	}
	if got.Relations[0].TemporalType != graph.TemporalState {
		t.Errorf("TemporalType = %v, want state", got.Relations[0].TemporalType)
	}
	if got.Relations[0].Expiry != nil {
		t.Error("Expiry set for a plain state fact, want nil")
	}
}

func TestAssignTemporalScopeDetectsTrait(t *testing.T) {
	d := &Draft{CleanedText: "I am a software engineer", Relations: []ExtractedRelation{{Relation: "is"}}}
	got, _ := AssignTemporalScope(context.Background(), d)
	if got.Relations[0].TemporalType != graph.TemporalTrait {
		t.Errorf("TemporalType = %v, want trait", got.Relations[0].TemporalType)
	}
}

func TestAssignTemporalScopeResolvesWishExpiry(t *testing.T) {
	d := &Draft{CleanedText: "I wish to visit Japan next month", Relations: []ExtractedRelation{{Relation: "wants"}}}
	got, _ := AssignTemporalScope(context.Background(), d)
	if got.Relations[0].TemporalType != graph.TemporalWish {
		t.Errorf("TemporalType = %v, want wish", got.Relations[0].TemporalType)
	}
	if got.Relations[0].Expiry == nil {
		t.Fatal("Expiry = nil, want a resolved absolute time")
	}
}

func TestAssignTemporalScopeSkipsRetractions(t *testing.T) {
	d := &Draft{CleanedText: "forget what I said", Relations: []ExtractedRelation{{Retraction: true}}}
	got, _ := AssignTemporalScope(context.Background(), d)
	if got.Relations[0].TemporalType != "" {
		t.Errorf("retraction entry TemporalType = %v, want untouched", got.Relations[0].TemporalType)
	}
}
