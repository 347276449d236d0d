package outbound

import (
	"testing"
	"time"
)

func TestJaccardMatchesSpecFormula(t *testing.T) {
	active := []string{"wine", "travel"}
	tags := []string{"wine", "food"}
	// intersection = {wine} = 1, union = {wine, travel, food} = 3
	got := jaccard(active, tags)
	want := 1.0 / 3.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("jaccard = %v, want %v", got, want)
	}
}

func TestJaccardIsCaseInsensitive(t *testing.T) {
	got := jaccard([]string{"Wine"}, []string{"wine"})
	if got != 1.0 {
		t.Errorf("jaccard = %v, want 1.0", got)
	}
}

func TestRecencyDecayFullWithinGracePeriod(t *testing.T) {
	now := time.Now()
	earliest := now.Add(-1 * time.Hour)
	if got := recencyDecay(earliest, now); got != 1.0 {
		t.Errorf("recencyDecay = %v, want 1.0", got)
	}
}

func TestRecencyDecayHalvesAtOneHalfLife(t *testing.T) {
	now := time.Now()
	earliest := now.Add(-(recencyGracePeriod + recencyHalfLife))
	got := recencyDecay(earliest, now)
	if diff := got - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("recencyDecay = %v, want 0.5", got)
	}
}

func TestScoreWeightsMatchSpecDefaults(t *testing.T) {
	w := DefaultScoreWeights()
	if w.Tag != 0.6 || w.Entity != 0.3 || w.Recency != 0.1 {
		t.Fatalf("weights = %+v, want {0.6, 0.3, 0.1}", w)
	}
}

func TestScoreBelowThresholdItemsExcludedByCaller(t *testing.T) {
	now := time.Now()
	it := Item{ContextTags: []string{"unrelated"}, EarliestDelivery: now.Add(-time.Hour)}
	score := Score(it, []string{"wine"}, nil, now, DefaultScoreWeights())
	if score >= MatchThreshold {
		t.Fatalf("score = %v, want below threshold %v for disjoint tags", score, MatchThreshold)
	}
}
