package diffengine

import (
	"context"
	"fmt"

	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// Applied describes the effect of executing a [Decision] against the store,
// used by callers that need to fire events or write audit entries.
type Applied struct {
	Decision Decision
	Edge     graph.Edge // zero value for Skip and Probe
}

// Apply executes decision against store using cfg's reinforcement rule for
// REINFORCE decisions. It assumes the caller already holds the
// per-user-graph writer lock (see [graph.UserLocker]).
func Apply(ctx context.Context, store graph.Store, cfg confidence.Config, decision Decision, p Proposed) (Applied, error) {
	switch decision.Op {
	case OpSkip, OpProbe:
		return Applied{Decision: decision}, nil

	case OpInsert:
		e, err := store.CreateEdge(ctx, graph.Edge{
			SourceID:         p.SourceID,
			TargetID:         p.TargetID,
			Relation:         p.Relation,
			Confidence:       decision.NewConfidence,
			TemporalType:     p.TemporalType,
			State:            graph.EdgeActive,
			Provenance:       p.Provenance,
			ContextTags:      p.ContextTags,
			SourceEpisodeIDs: episodeIDs(p.EpisodeID),
			Expiry:           p.Expiry,
		})
		if err != nil {
			return Applied{}, fmt.Errorf("diffengine: apply insert: %w", err)
		}
		return Applied{Decision: decision, Edge: e}, nil

	case OpMerge:
		e, err := store.CreateEdge(ctx, graph.Edge{
			SourceID:         p.SourceID,
			TargetID:         p.TargetID,
			Relation:         p.Relation,
			Confidence:       p.Confidence,
			TemporalType:     p.TemporalType,
			State:            graph.EdgeActive,
			Provenance:       p.Provenance,
			ContextTags:      append(append([]string{}, p.ContextTags...), "refines:"+decision.ExistingEdgeID),
			SourceEpisodeIDs: episodeIDs(p.EpisodeID),
			Expiry:           p.Expiry,
		})
		if err != nil {
			return Applied{}, fmt.Errorf("diffengine: apply merge: %w", err)
		}
		return Applied{Decision: decision, Edge: e}, nil

	case OpReinforce:
		existing, err := store.GetEdge(ctx, decision.ExistingEdgeID)
		if err != nil {
			return Applied{}, fmt.Errorf("diffengine: apply reinforce: %w", err)
		}
		newConfidence := cfg.Reinforce(existing.Confidence)
		e, err := store.ReinforceEdge(ctx, decision.ExistingEdgeID, newConfidence, p.EpisodeID)
		if err != nil {
			return Applied{}, fmt.Errorf("diffengine: apply reinforce: %w", err)
		}
		return Applied{Decision: decision, Edge: e}, nil

	case OpRevise:
		e, err := store.ReviseEdge(ctx, decision.ExistingEdgeID, graph.Edge{
			SourceID:         p.SourceID,
			TargetID:         p.TargetID,
			Relation:         p.Relation,
			Confidence:       decision.NewConfidence,
			TemporalType:     p.TemporalType,
			State:            graph.EdgeActive,
			Provenance:       p.Provenance,
			ContextTags:      p.ContextTags,
			SourceEpisodeIDs: episodeIDs(p.EpisodeID),
			Expiry:           p.Expiry,
		})
		if err != nil {
			return Applied{}, fmt.Errorf("diffengine: apply revise: %w", err)
		}
		if err := store.RetractEdge(ctx, decision.ExistingEdgeID, "superseded"); err != nil {
			return Applied{}, fmt.Errorf("diffengine: apply revise: retract superseded: %w", err)
		}
		return Applied{Decision: decision, Edge: e}, nil

	default:
		return Applied{}, fmt.Errorf("diffengine: apply: unknown op %q", decision.Op)
	}
}

func episodeIDs(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}
