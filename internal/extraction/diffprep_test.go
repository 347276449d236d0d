package extraction

import (
	"context"
	"testing"

	"github.com/knowgraph/memoryd/pkg/graph"
)

func TestPrepareDiffEmitsProposedOpsForScoredRelations(t *testing.T) {
	d := &Draft{
		Relations: []ExtractedRelation{{
			Source:       "user",
			Target:       "Alex",
			Relation:     "likes",
			Confidence:   0.8,
			TemporalType: graph.TemporalTrait,
			Mechanism:    graph.ProvenanceExplicit,
		}},
	}
	got, err := PrepareDiff(context.Background(), d)
	if err != nil {
		t.Fatalf("PrepareDiff() error = %v", err)
	}
	if len(got.Proposed) != 1 {
		t.Fatalf("Proposed = %+v, want one entry", got.Proposed)
	}
	if got.Proposed[0].Relation != "likes" || got.Proposed[0].Confidence != 0.8 {
		t.Errorf("Proposed[0] = %+v", got.Proposed[0])
	}
}

func TestPrepareDiffSkipsZeroConfidenceRelations(t *testing.T) {
	d := &Draft{Relations: []ExtractedRelation{{Relation: "likes", Confidence: 0}}}
	got, _ := PrepareDiff(context.Background(), d)
	if len(got.Proposed) != 0 {
		t.Errorf("Proposed = %+v, want none", got.Proposed)
	}
}

func TestPrepareDiffEmitsRetractionHints(t *testing.T) {
	d := &Draft{Relations: []ExtractedRelation{{Retraction: true, RetractionHint: "my job"}}}
	got, _ := PrepareDiff(context.Background(), d)
	if len(got.Retractions) != 1 || got.Retractions[0].RelationHint != "my job" {
		t.Fatalf("Retractions = %+v", got.Retractions)
	}
	if len(got.Proposed) != 0 {
		t.Errorf("Proposed = %+v, want none for a retraction-only draft", got.Proposed)
	}
}

func TestPrepareDiffMarksSingleValuedRelation(t *testing.T) {
	d := &Draft{Relations: []ExtractedRelation{{Relation: "married_to", Confidence: 0.9}}}
	got, _ := PrepareDiff(context.Background(), d)
	if !got.Proposed[0].SingleValued {
		t.Error("SingleValued = false, want true for married_to")
	}
}
