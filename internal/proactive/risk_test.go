package proactive

import "testing"

func TestRiskThresholdsEvaluateMatchesSpecDefaults(t *testing.T) {
	r := DefaultRiskThresholds()

	tests := []struct {
		name       string
		confidence float64
		cost       CostCategory
		want       Action
	}{
		{"high confidence no cost auto-executes", 0.95, CostNone, ActionAutoExecute},
		{"high confidence but nonzero cost only suggests", 0.95, CostLow, ActionSuggest},
		{"mid confidence medium cost suggests", 0.55, CostMedium, ActionSuggest},
		{"mid confidence high cost falls to casual mention or defer", 0.55, CostHigh, ActionDefer},
		{"low confidence low cost casual-mentions", 0.35, CostLow, ActionCasualMention},
		{"low confidence defers", 0.10, CostNone, ActionDefer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Evaluate(tt.confidence, tt.cost); got != tt.want {
				t.Errorf("Evaluate(%v, %v) = %v, want %v", tt.confidence, tt.cost, got, tt.want)
			}
		})
	}
}

func TestRiskThresholdsWithDefaultsAppliesSpecDefaultsOnZeroValue(t *testing.T) {
	var r RiskThresholds
	r = r.withDefaults()
	if r != DefaultRiskThresholds() {
		t.Errorf("withDefaults() = %+v, want %+v", r, DefaultRiskThresholds())
	}
}
