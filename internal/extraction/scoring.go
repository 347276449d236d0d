package extraction

import (
	"context"

	"github.com/knowgraph/memoryd/internal/confidence"
)

const defaultSTTConfidenceFloor = 0.55

// scoreConfidence returns Stage 6 bound to cfg: confidence = base(mechanism)
// × hedge_multiplier(hedge) × sentiment_strength_factor, then clamped, with
// each relation's Stage-3 ConfidenceFactor/ConfidenceCap applied on top.
// Speech-to-text confidence below the configured floor skips extraction
// entirely; at or above the floor it linearly scales the final confidence
// when enabled (spec §4.5 Stage 6).
func scoreConfidence(full Config) Stage {
	cfg := full.Confidence
	if cfg.MaxConfidence == 0 {
		cfg = confidence.DefaultConfig()
	}
	floor := full.STTConfidenceFloor
	if floor <= 0 {
		floor = defaultSTTConfidenceFloor
	}

	return func(_ context.Context, d *Draft) (*Draft, error) {
		if d.SpeechToTextConfidence > 0 && d.SpeechToTextConfidence < floor {
			d.Relations = nil
			d.addTag("stt_confidence_below_floor")
			return d, nil
		}

		for i := range d.Relations {
			rel := &d.Relations[i]
			if rel.Retraction {
				continue
			}
			c := cfg.Initial(rel.Mechanism, rel.Hedge, sentimentStrengthFactor(rel.Sentiment))
			c *= rel.ConfidenceFactor
			if rel.ConfidenceCap > 0 && c > rel.ConfidenceCap {
				c = rel.ConfidenceCap
			}
			if full.ScaleBySTTConfidence && d.SpeechToTextConfidence >= floor {
				c *= d.SpeechToTextConfidence
			}
			if c > cfg.MaxConfidence {
				c = cfg.MaxConfidence
			}
			rel.Confidence = c
		}
		return d, nil
	}
}
