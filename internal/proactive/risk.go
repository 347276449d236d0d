package proactive

// CostCategory is the closed cost tier a candidate proactive action is
// weighed against in the risk model (spec §4.9). Ordered low to high so
// "at most" comparisons in [RiskThresholds.Evaluate] are a simple integer
// comparison.
type CostCategory int

const (
	CostNone CostCategory = iota
	CostLow
	CostMedium
	CostHigh
)

// Action is the risk model's verdict for a candidate proactive action.
type Action string

const (
	ActionAutoExecute   Action = "auto-execute"
	ActionSuggest       Action = "suggest"
	ActionCasualMention Action = "casual-mention"
	ActionDefer         Action = "defer"
)

// RiskThresholds are the (confidence, cost) → action cutoffs spec §4.9
// names as defaults. An all-zero value takes those defaults via
// [RiskThresholds.withDefaults]; a value with any field set is used as
// given, zero fields included.
type RiskThresholds struct {
	// AutoExecuteMinConfidence and AutoExecuteMaxCost gate [ActionAutoExecute].
	AutoExecuteMinConfidence float64
	AutoExecuteMaxCost       CostCategory

	// SuggestMinConfidence and SuggestMaxCost gate [ActionSuggest].
	SuggestMinConfidence float64
	SuggestMaxCost       CostCategory

	// CasualMentionMinConfidence and CasualMentionMaxCost gate
	// [ActionCasualMention].
	CasualMentionMinConfidence float64
	CasualMentionMaxCost       CostCategory
}

// DefaultRiskThresholds returns spec §4.9's default cutoffs: auto-execute
// at confidence ≥ 0.90 with cost none; suggest at ≥ 0.50 with at most
// medium cost; casual-mention at ≥ 0.30 with at most low cost.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		AutoExecuteMinConfidence:   0.90,
		AutoExecuteMaxCost:         CostNone,
		SuggestMinConfidence:       0.50,
		SuggestMaxCost:             CostMedium,
		CasualMentionMinConfidence: 0.30,
		CasualMentionMaxCost:       CostLow,
	}
}

func (r RiskThresholds) withDefaults() RiskThresholds {
	if r == (RiskThresholds{}) {
		return DefaultRiskThresholds()
	}
	return r
}

// Evaluate maps (confidence, cost) to an [Action]. The three gates are
// checked from most to least permissive; a candidate that clears none of
// them defers.
func (r RiskThresholds) Evaluate(confidence float64, cost CostCategory) Action {
	switch {
	case confidence >= r.AutoExecuteMinConfidence && cost <= r.AutoExecuteMaxCost:
		return ActionAutoExecute
	case confidence >= r.SuggestMinConfidence && cost <= r.SuggestMaxCost:
		return ActionSuggest
	case confidence >= r.CasualMentionMinConfidence && cost <= r.CasualMentionMaxCost:
		return ActionCasualMention
	default:
		return ActionDefer
	}
}
