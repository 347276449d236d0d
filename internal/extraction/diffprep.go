package extraction

import (
	"context"

	"github.com/knowgraph/memoryd/internal/diffengine"
)

// singleValuedRelations is the closed set of relations where a node may
// hold at most one active target at a time; a new target for the same
// (source, relation) is a contradiction, not a parallel fact.
var singleValuedRelations = map[string]bool{
	"married_to":  true,
	"lives_in":    true,
	"works_at":    true,
	"employed_by": true,
}

// PrepareDiff implements Stage 7: turn every scored relation into a
// [diffengine.Proposed] operation, and every retraction relation into a
// [Retraction] hint, ready for the Diff Engine and the caller that resolves
// retraction hints against the graph.
func PrepareDiff(_ context.Context, d *Draft) (*Draft, error) {
	d.Proposed = d.Proposed[:0]
	d.Retractions = d.Retractions[:0]

	for _, rel := range d.Relations {
		if rel.Retraction {
			d.Retractions = append(d.Retractions, Retraction{
				RelationHint: rel.RetractionHint,
				Reason:       "user requested retraction",
				EpisodeID:    rel.EpisodeID,
			})
			continue
		}
		if rel.Confidence <= 0 {
			continue // discarded below the Stage 6 floor or by an upstream hallucination discard
		}
		d.Proposed = append(d.Proposed, diffengine.Proposed{
			SourceID:     rel.Source,
			TargetID:     rel.Target,
			Relation:     rel.Relation,
			Confidence:   rel.Confidence,
			TemporalType: rel.TemporalType,
			Provenance:   rel.Mechanism,
			ContextTags:  rel.ContextTags,
			EpisodeID:    rel.EpisodeID,
			Expiry:       rel.Expiry,
			SingleValued: singleValuedRelations[rel.Relation],
		})
	}
	return d, nil
}
