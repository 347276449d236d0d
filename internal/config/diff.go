package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked — the ones the
// watcher's onChange callback re-applies without a process restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProactivityPresetChanged bool
	NewProactivityPreset     ProactivityPreset

	ProbingChanged   bool
	NewProbing       ProbingConfig
	StartersChanged  bool
	NewStarters      StartersConfig
	RiskModelChanged bool
	NewRiskModel     RiskModelConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart — the limits
// and thresholds the Proactive Engine and probing gate consult on every
// cycle, not the store/provider wiring that's fixed at startup.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.ProactivityPreset != new.ProactivityPreset {
		d.ProactivityPresetChanged = true
		d.NewProactivityPreset = new.ProactivityPreset
	}

	if old.Probing != new.Probing {
		d.ProbingChanged = true
		d.NewProbing = new.Probing
	}

	if !startersEqual(old.Starters, new.Starters) {
		d.StartersChanged = true
		d.NewStarters = new.Starters
	}

	if old.RiskModel != new.RiskModel {
		d.RiskModelChanged = true
		d.NewRiskModel = new.RiskModel
	}

	return d
}

// startersEqual compares StartersConfig by value, since it contains a map
// and slices that don't support Go's == operator.
func startersEqual(a, b StartersConfig) bool {
	if len(a.PerSubtypeLimits) != len(b.PerSubtypeLimits) {
		return false
	}
	for k, v := range a.PerSubtypeLimits {
		if b.PerSubtypeLimits[k] != v {
			return false
		}
	}
	return stringSliceEqual(a.QuietHours, b.QuietHours) &&
		stringSliceEqual(a.QuietHourOverrideKinds, b.QuietHourOverrideKinds)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
