package config_test

import (
	"testing"

	"github.com/knowgraph/memoryd/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:            config.ServerConfig{LogLevel: config.LogLevelInfo},
		ProactivityPreset: config.ProactivityBalanced,
		Probing:           config.ProbingConfig{MaxPerDay: 3},
		Starters: config.StartersConfig{
			PerSubtypeLimits: map[string]int{"alert": 5},
			QuietHours:       []string{"22:00-07:00"},
		},
	}
	other := *cfg
	other.Starters.PerSubtypeLimits = map[string]int{"alert": 5}
	other.Starters.QuietHours = []string{"22:00-07:00"}

	d := config.Diff(cfg, &other)
	if d.LogLevelChanged || d.ProactivityPresetChanged || d.ProbingChanged || d.StartersChanged || d.RiskModelChanged {
		t.Errorf("Diff() = %+v, want no changes", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged = false, want true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_ProactivityPresetChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{ProactivityPreset: config.ProactivityBalanced}
	new := &config.Config{ProactivityPreset: config.ProactivityConservative}

	d := config.Diff(old, new)
	if !d.ProactivityPresetChanged {
		t.Fatal("ProactivityPresetChanged = false, want true")
	}
	if d.NewProactivityPreset != config.ProactivityConservative {
		t.Errorf("NewProactivityPreset = %q, want conservative", d.NewProactivityPreset)
	}
}

func TestDiff_ProbingChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Probing: config.ProbingConfig{MaxPerDay: 3}}
	new := &config.Config{Probing: config.ProbingConfig{MaxPerDay: 6}}

	d := config.Diff(old, new)
	if !d.ProbingChanged {
		t.Fatal("ProbingChanged = false, want true")
	}
	if d.NewProbing.MaxPerDay != 6 {
		t.Errorf("NewProbing.MaxPerDay = %d, want 6", d.NewProbing.MaxPerDay)
	}
}

func TestDiff_StartersPerSubtypeLimitChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Starters: config.StartersConfig{PerSubtypeLimits: map[string]int{"alert": 5}}}
	new := &config.Config{Starters: config.StartersConfig{PerSubtypeLimits: map[string]int{"alert": 10}}}

	d := config.Diff(old, new)
	if !d.StartersChanged {
		t.Fatal("StartersChanged = false, want true")
	}
}

func TestDiff_StartersQuietHoursChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Starters: config.StartersConfig{QuietHours: []string{"22:00-07:00"}}}
	new := &config.Config{Starters: config.StartersConfig{QuietHours: []string{"23:00-06:00"}}}

	d := config.Diff(old, new)
	if !d.StartersChanged {
		t.Fatal("StartersChanged = false, want true")
	}
}

func TestDiff_RiskModelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{RiskModel: config.RiskModelConfig{AutoExecute: config.RiskTier{MinConfidence: 0.9}}}
	new := &config.Config{RiskModel: config.RiskModelConfig{AutoExecute: config.RiskTier{MinConfidence: 0.7}}}

	d := config.Diff(old, new)
	if !d.RiskModelChanged {
		t.Fatal("RiskModelChanged = false, want true")
	}
}
