package diffengine

import (
	"context"
	"fmt"

	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// Classify deterministically classifies a proposed operation against the
// existing active edges between its source and target. It is the pure
// decision function; callers use [Apply] to execute the decision.
func Classify(ctx context.Context, store graph.Store, cfg confidence.Config, p Proposed) (Decision, error) {
	if p.RefinesEdgeID != "" {
		if _, err := store.GetEdge(ctx, p.RefinesEdgeID); err != nil {
			return Decision{}, fmt.Errorf("diffengine: classify: refines edge: %w", err)
		}
		return Decision{Op: OpMerge, ExistingEdgeID: p.RefinesEdgeID, NewConfidence: p.Confidence, Reason: "specific refinement of existing general edge"}, nil
	}

	existing, err := store.Edges(ctx,
		graph.WithSource(p.SourceID),
		graph.WithTarget(p.TargetID),
		graph.WithRelation(p.Relation),
	)
	if err != nil {
		return Decision{}, fmt.Errorf("diffengine: classify: lookup existing edges: %w", err)
	}

	if len(existing) == 0 {
		if p.SingleValued {
			if conflict, ok := findConflictingSingleValued(ctx, store, p); ok {
				return classifyContradiction(cfg, conflict, p), nil
			}
		}
		if p.Confidence < cfg.MinStorageThreshold {
			return Decision{Op: OpSkip, Reason: "proposed confidence below minimum storage threshold"}, nil
		}
		return Decision{Op: OpInsert, NewConfidence: p.Confidence, Reason: "no matching edge exists"}, nil
	}

	match := existing[0]
	if isNoSemanticChange(match, p) {
		return Decision{Op: OpSkip, ExistingEdgeID: match.ID, Reason: "no semantic change from existing edge"}, nil
	}
	return Decision{Op: OpReinforce, ExistingEdgeID: match.ID, Reason: "consistent with existing edge"}, nil
}

// findConflictingSingleValued looks for an active edge with the same source
// and relation but a different target, which for a single-valued relation
// represents a contradiction (e.g. "married_to" pointing at a new person).
func findConflictingSingleValued(ctx context.Context, store graph.Store, p Proposed) (graph.Edge, bool) {
	edges, err := store.Edges(ctx, graph.WithSource(p.SourceID), graph.WithRelation(p.Relation))
	if err != nil {
		return graph.Edge{}, false
	}
	for _, e := range edges {
		if e.TargetID != p.TargetID {
			return e, true
		}
	}
	return graph.Edge{}, false
}

func classifyContradiction(cfg confidence.Config, existing graph.Edge, p Proposed) Decision {
	rd := cfg.ContradictRevise(existing.Confidence, p.Confidence)
	if rd.Revise {
		return Decision{
			Op:             OpRevise,
			ExistingEdgeID: existing.ID,
			NewConfidence:  p.Confidence,
			Reason:         "new confidence exceeds old by at least the revision margin",
		}
	}
	return Decision{
		Op:             OpProbe,
		ExistingEdgeID: existing.ID,
		NewConfidence:  p.Confidence,
		Reason:         "contradiction below revision margin: clarify with user",
	}
}

// isNoSemanticChange reports whether a proposed fact restates an existing
// edge closely enough that reinforcing it would produce no meaningful
// change: same relation/target and confidence within a negligible delta.
func isNoSemanticChange(existing graph.Edge, p Proposed) bool {
	const epsilon = 1e-6
	delta := p.Confidence - existing.Confidence
	return delta > -epsilon && delta < epsilon && existing.TemporalType == p.TemporalType
}
