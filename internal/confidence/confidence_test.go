package confidence

import (
	"testing"
	"time"

	"github.com/knowgraph/memoryd/pkg/graph"
)

func TestInitialAppliesBaseHedgeAndSentiment(t *testing.T) {
	c := DefaultConfig()

	got := c.Initial(graph.ProvenanceExplicit, "none", 1.0)
	want := 0.90
	if got != want {
		t.Errorf("Initial(explicit, none, 1.0) = %v, want %v", got, want)
	}

	got = c.Initial(graph.ProvenanceExplicit, "moderate", 1.0)
	want = 0.90 * 0.65
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Initial(explicit, moderate, 1.0) = %v, want %v", got, want)
	}
}

func TestReinforceMatchesSpecScenario(t *testing.T) {
	c := DefaultConfig()
	got := c.Reinforce(0.90)
	want := 0.90 + 0.08*(1-0.90)
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Reinforce(0.90) = %v, want %v", got, want)
	}
}

func TestReinforceNeverExceedsMaxConfidence(t *testing.T) {
	c := DefaultConfig()
	got := c.Reinforce(0.99)
	if got > c.MaxConfidence {
		t.Errorf("Reinforce(0.99) = %v, exceeds MaxConfidence %v", got, c.MaxConfidence)
	}
}

func TestDecayNoOpWithinGracePeriod(t *testing.T) {
	c := DefaultConfig()
	got := c.Decay(0.50, graph.TemporalState, 10*24*time.Hour)
	if got != 0.50 {
		t.Errorf("Decay within grace period = %v, want unchanged 0.50", got)
	}
}

func TestDecayMatchesSpecArchiveScenario(t *testing.T) {
	c := DefaultConfig()
	c.DecayRatePerMonth[graph.TemporalState] = 0.08
	c.ArchiveThreshold = 0.15
	c.GracePeriod = 0

	current := 0.30
	for month := 0; month < 5; month++ {
		current = c.Decay(current, graph.TemporalState, 30*24*time.Hour)
	}
	if !c.ShouldArchive(current) {
		t.Errorf("expected confidence %v to fall below archive threshold %v after 5 decay cycles", current, c.ArchiveThreshold)
	}
}

func TestContradictReviseRequiresMargin(t *testing.T) {
	c := DefaultConfig()

	tests := []struct {
		name     string
		old, new float64
		want     bool
	}{
		{"below margin stays a probe", 0.60, 0.65, false},
		{"at margin revises", 0.60, 0.70, true},
		{"above margin revises", 0.40, 0.90, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ContradictRevise(tt.old, tt.new)
			if got.Revise != tt.want {
				t.Errorf("ContradictRevise(%v, %v).Revise = %v, want %v", tt.old, tt.new, got.Revise, tt.want)
			}
		})
	}
}

func TestShouldArchive(t *testing.T) {
	c := DefaultConfig()
	if c.ShouldArchive(0.20) {
		t.Error("0.20 should not be archived at default threshold 0.15")
	}
	if !c.ShouldArchive(0.10) {
		t.Error("0.10 should be archived at default threshold 0.15")
	}
}
