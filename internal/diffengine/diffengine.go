// Package diffengine classifies a proposed graph mutation against the
// existing graph and applies it atomically. Classification is a pure
// function of the proposed edge and the matching existing edges; applying a
// classified decision is the only part that touches the store, and every
// mutation is routed through the Confidence Engine so that boost and decay
// rules stay centralized (spec §4.6).
package diffengine

import (
	"context"
	"fmt"
	"time"

	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// Op is the classification outcome for a proposed edge.
type Op string

const (
	OpInsert    Op = "insert"
	OpReinforce Op = "reinforce"
	OpRevise    Op = "revise"
	OpProbe     Op = "probe" // contradiction below the revision margin: no mutation, caller should enqueue a clarifying probe
	OpSkip      Op = "skip"
	OpMerge     Op = "merge"
)

// Proposed is one operation emitted by the Extraction Pipeline's Stage 7
// (diff preparation), ready for classification.
type Proposed struct {
	SourceID     string
	TargetID     string
	Relation     string
	Confidence   float64
	TemporalType graph.TemporalType
	Provenance   graph.Provenance
	ContextTags  []string
	EpisodeID    string
	Expiry       *time.Time

	// SingleValued marks relations where a node may hold at most one active
	// target (e.g. "married_to"); a new target for the same (source,
	// relation) is a contradiction rather than a parallel edge.
	SingleValued bool

	// RefinesEdgeID, when set, names an existing general edge that this
	// proposed edge specializes (the MERGE case, e.g. "likes wine" →
	// "prefers Malbec"). The general edge is kept; the specific edge is
	// added and linked via context tags.
	RefinesEdgeID string
}

// Decision is the result of classifying a [Proposed] operation.
type Decision struct {
	Op Op

	// ExistingEdgeID is set for Reinforce, Revise, and Probe: the edge the
	// proposed operation matches or contradicts.
	ExistingEdgeID string

	// NewConfidence is the confidence the applied mutation should use.
	NewConfidence float64

	// Reason is a short human-readable explanation, surfaced in probes and
	// audit entries.
	Reason string
}
