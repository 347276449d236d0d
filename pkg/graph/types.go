// Package graph defines the typed directed multigraph that backs the
// knowledge-graph memory service: nodes, edges, episodes, and experiences,
// plus the narrow [Store] interface that mutation and query components are
// built against.
//
// The interface is kept deliberately narrow (no vendor query language leaks
// above this package) so that the reference Postgres/pgvector implementation
// in pkg/graph/postgres can be swapped for another backend without touching
// callers.
//
// All implementations must be safe for concurrent use.
package graph

import "time"

// NodeKind is the closed set of entity kinds a node may carry.
type NodeKind string

const (
	KindPerson       NodeKind = "person"
	KindOrganization NodeKind = "organization"
	KindPlace        NodeKind = "place"
	KindTool         NodeKind = "tool"
	KindConcept      NodeKind = "concept"
	KindEpisode      NodeKind = "episode"
	KindExperience   NodeKind = "experience"
	KindProcedure    NodeKind = "procedure"
	KindPreference   NodeKind = "preference"
	KindContext      NodeKind = "context"
)

// IsValid reports whether k is one of the closed set of recognized kinds.
func (k NodeKind) IsValid() bool {
	switch k {
	case KindPerson, KindOrganization, KindPlace, KindTool, KindConcept,
		KindEpisode, KindExperience, KindProcedure, KindPreference, KindContext:
		return true
	default:
		return false
	}
}

// PrivacyLevel is a monotonically-sticky sensitivity tier for a node.
// A node's level can only be raised, never implicitly lowered.
type PrivacyLevel int

const (
	PrivacyPublic   PrivacyLevel = iota // L0
	PrivacyPlatform                     // L1
	PrivacyPersonal                     // L2
	PrivacyPrivate                      // L3
	PrivacySealed                       // L4
)

// String returns the "L0".."L4" label used in logs and audit records.
func (p PrivacyLevel) String() string {
	switch p {
	case PrivacyPublic:
		return "L0"
	case PrivacyPlatform:
		return "L1"
	case PrivacyPersonal:
		return "L2"
	case PrivacyPrivate:
		return "L3"
	case PrivacySealed:
		return "L4"
	default:
		return "unknown"
	}
}

// TemporalType classifies how long an edge's truth is expected to persist.
type TemporalType string

const (
	TemporalTrait   TemporalType = "trait"   // near-permanent
	TemporalState   TemporalType = "state"   // time-bounded fact
	TemporalWish    TemporalType = "wish"    // desire with expiry
	TemporalEpisode TemporalType = "episode" // one-time event
)

// Provenance is the mechanism by which an edge's fact was established.
type Provenance string

const (
	ProvenanceExplicit       Provenance = "explicit"
	ProvenanceObservational  Provenance = "observational"
	ProvenanceInferential    Provenance = "inferential"
	ProvenanceReflective     Provenance = "reflective"
	ProvenanceUserCorrection Provenance = "user_correction"
)

// EdgeState is the lifecycle state of an edge (spec §4.12).
type EdgeState string

const (
	EdgeProposed     EdgeState = "proposed"
	EdgeActive       EdgeState = "active"
	EdgeReinforced   EdgeState = "reinforced"
	EdgeContradicted EdgeState = "contradicted"
	EdgeRevised      EdgeState = "revised"
	EdgeDecaying     EdgeState = "decaying"
	EdgeArchived     EdgeState = "archived"
	EdgeRetracted    EdgeState = "retracted"
)

// Node is an entity in the knowledge graph.
type Node struct {
	ID               string         `json:"id" db:"id"`
	Kind             NodeKind       `json:"kind" db:"kind"`
	Name             string         `json:"name" db:"name"`
	Aliases          []string       `json:"aliases" db:"aliases"`
	Properties       map[string]any `json:"properties" db:"properties"`
	Privacy          PrivacyLevel   `json:"privacy" db:"privacy"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	LastReinforcedAt time.Time      `json:"last_reinforced_at" db:"last_reinforced_at"`
}

// Edge is a typed, directed, weighted, temporally-scoped relation between
// two nodes. Parallel edges with different relations are permitted; the
// Diff Engine merges duplicates with the same relation by reinforcement.
type Edge struct {
	ID               string       `json:"id" db:"id"`
	SourceID         string       `json:"source_id" db:"source_id"`
	TargetID         string       `json:"target_id" db:"target_id"`
	Relation         string       `json:"relation" db:"relation"`
	Confidence       float64      `json:"confidence" db:"confidence"`
	TemporalType     TemporalType `json:"temporal_type" db:"temporal_type"`
	State            EdgeState    `json:"state" db:"state"`
	FirstObserved    time.Time    `json:"first_observed" db:"first_observed"`
	LastReinforced   time.Time    `json:"last_reinforced" db:"last_reinforced"`
	DecayRate        float64      `json:"decay_rate" db:"decay_rate"`
	ContextTags      []string     `json:"context_tags" db:"context_tags"`
	SourceEpisodeIDs []string     `json:"source_episode_ids" db:"source_episode_ids"`
	Provenance       Provenance   `json:"provenance" db:"provenance"`
	Expiry           *time.Time   `json:"expiry,omitempty" db:"expiry"`
	Retracted        bool         `json:"retracted" db:"retracted"`
	RetractionReason string       `json:"retraction_reason,omitempty" db:"retraction_reason"`
	SupersededBy     string       `json:"superseded_by,omitempty" db:"superseded_by"`
}

// Active reports whether the edge should be visible to ordinary queries:
// not retracted, not archived, and not expired as of now.
func (e Edge) Active(now time.Time) bool {
	if e.Retracted || e.State == EdgeArchived || e.State == EdgeRetracted {
		return false
	}
	if e.Expiry != nil && !e.Expiry.IsZero() && now.After(*e.Expiry) {
		return false
	}
	return true
}

// Episode is a compact record of one interaction that produced one or more
// edges. Episodes are retained to support provenance queries even after the
// originating utterance text is discarded — the utterance text itself is
// never stored.
type Episode struct {
	ID         string    `json:"id" db:"id"`
	OccurredAt time.Time `json:"occurred_at" db:"occurred_at"`
	SessionID  string    `json:"session_id" db:"session_id"`
	TurnNumber int       `json:"turn_number" db:"turn_number"`
	ChannelTag string    `json:"channel_tag" db:"channel_tag"`
	Sentiment  float64   `json:"sentiment" db:"sentiment"`
	Outcome    float64   `json:"outcome" db:"outcome"`
	EdgeIDs    []string  `json:"edge_ids" db:"edge_ids"`
}

// Experience is a derived generalization summarizing a pattern observed
// across multiple episodes (e.g. "user prefers diff-style reviews").
type Experience struct {
	ID                 string    `json:"id" db:"id"`
	Description        string    `json:"description" db:"description"`
	Applicability      string    `json:"applicability" db:"applicability"`
	Confidence         float64   `json:"confidence" db:"confidence"`
	ReinforcementCount int       `json:"reinforcement_count" db:"reinforcement_count"`
	SourceEpisodeIDs   []string  `json:"source_episode_ids" db:"source_episode_ids"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// Snapshot is the full exported state of a graph, used by graph_snapshot and
// by the round-trip testable property in spec §8.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}
