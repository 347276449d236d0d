// Package confidence implements the pure scoring functions that govern an
// edge's belief value across its lifecycle: initial scoring, reinforcement,
// decay, contradiction/revision, and archival.
//
// Every function here is pure (no I/O, no clock reads beyond an explicit
// elapsed-time argument) so the Diff Engine and Background Workers can call
// them deterministically and so reprocessing the same input always produces
// the same output (spec §4.6's idempotency requirement).
package confidence

import (
	"math"
	"time"

	"github.com/knowgraph/memoryd/pkg/graph"
)

// Config holds the tunable parameters of the confidence lifecycle. Every
// field has a spec-mandated default, applied by [DefaultConfig].
type Config struct {
	// MaxConfidence is C_max, the upper clamp for every edge confidence.
	MaxConfidence float64

	// BaseByMechanism is the starting confidence for each provenance
	// mechanism before hedge and sentiment adjustment.
	BaseByMechanism map[graph.Provenance]float64

	// HedgeMultiplier scales base confidence by the detected hedge strength:
	// "none", "mild", "moderate", "strong".
	HedgeMultiplier map[string]float64

	// ReinforcementBoost is the default boost applied on REINFORCE.
	ReinforcementBoost float64

	// RevisionMargin is the minimum confidence delta required for a
	// CONTRADICT to become a REVISE instead of a probe.
	RevisionMargin float64

	// ArchiveThreshold is the confidence below which an edge is archived.
	ArchiveThreshold float64

	// MinStorageThreshold is the SKIP floor: proposed facts below this
	// confidence are never stored (spec §4.6).
	MinStorageThreshold float64

	// DecayRatePerMonth maps each [graph.TemporalType] to its monthly decay
	// rate: traits decay slowly, wishes moderately, episodes fastest.
	DecayRatePerMonth map[graph.TemporalType]float64

	// GracePeriod is the duration since last_reinforced during which no
	// decay is applied.
	GracePeriod time.Duration
}

// DefaultConfig returns the spec-mandated default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConfidence: 1.0,
		BaseByMechanism: map[graph.Provenance]float64{
			graph.ProvenanceExplicit:       0.90,
			graph.ProvenanceObservational:  0.65,
			graph.ProvenanceInferential:    0.45,
			graph.ProvenanceReflective:     0.50,
			graph.ProvenanceUserCorrection: 0.90,
		},
		HedgeMultiplier: map[string]float64{
			"none":     1.00,
			"mild":     0.90,
			"moderate": 0.65,
			"strong":   0.50,
		},
		ReinforcementBoost:  0.08,
		RevisionMargin:      0.10,
		ArchiveThreshold:    0.15,
		MinStorageThreshold: 0.25,
		DecayRatePerMonth: map[graph.TemporalType]float64{
			graph.TemporalTrait:   0.02,
			graph.TemporalState:   0.05,
			graph.TemporalWish:    0.08,
			graph.TemporalEpisode: 0.15,
		},
		GracePeriod: 30 * 24 * time.Hour,
	}
}

// clamp restricts v to [0, max].
func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Initial computes an edge's starting confidence from its provenance
// mechanism, detected hedge strength, and a sentiment-strength factor in
// [0,1] (1.0 for neutral/strong sentiment, lower for weak or ambivalent
// sentiment). Spec §4.5 Stage 6: confidence = base × hedge × sentiment.
func (c Config) Initial(mechanism graph.Provenance, hedge string, sentimentStrengthFactor float64) float64 {
	base, ok := c.BaseByMechanism[mechanism]
	if !ok {
		base = c.BaseByMechanism[graph.ProvenanceObservational]
	}
	mult, ok := c.HedgeMultiplier[hedge]
	if !ok {
		mult = 1.0
	}
	return clamp(base*mult*sentimentStrengthFactor, c.MaxConfidence)
}

// Reinforce applies the spec §4.6 REINFORCE update:
// new = old + boost × (1 − old), capped at MaxConfidence.
func (c Config) Reinforce(current float64) float64 {
	return clamp(current+c.ReinforcementBoost*(1-current), c.MaxConfidence)
}

// Decay computes the confidence remaining after elapsed time since
// last_reinforced, using the per-temporal-type monthly rate and honoring the
// grace period (no decay before it has elapsed). Decay is exponential in
// elapsed whole and partial months beyond the grace period.
func (c Config) Decay(current float64, temporalType graph.TemporalType, elapsed time.Duration) float64 {
	if elapsed <= c.GracePeriod {
		return current
	}
	rate, ok := c.DecayRatePerMonth[temporalType]
	if !ok {
		rate = c.DecayRatePerMonth[graph.TemporalState]
	}
	decayable := elapsed - c.GracePeriod
	months := decayable.Hours() / (30 * 24)
	decayed := current * math.Pow(1-rate, months)
	return clamp(decayed, c.MaxConfidence)
}

// RevisionDecision is the outcome of evaluating a CONTRADICT case.
type RevisionDecision struct {
	// Revise is true when the new confidence exceeds the old by at least
	// RevisionMargin — the contradiction should become a REVISE.
	Revise bool
}

// ContradictRevise decides whether a contradicting fact should supersede the
// existing edge (spec §4.6 CONTRADICT → REVISE): revise only when the new
// confidence exceeds the old by at least RevisionMargin; otherwise the
// caller should emit a clarifying probe instead of mutating the graph.
func (c Config) ContradictRevise(old, new float64) RevisionDecision {
	// The tolerance keeps a delta of exactly the margin (e.g. 0.60 → 0.70)
	// from falling just short of it through float64 rounding.
	const tolerance = 1e-9
	return RevisionDecision{Revise: new-old >= c.RevisionMargin-tolerance}
}

// ShouldArchive reports whether current has fallen below the archive
// threshold and the edge should transition to EdgeArchived.
func (c Config) ShouldArchive(current float64) bool {
	return current < c.ArchiveThreshold
}
