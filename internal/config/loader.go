package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/knowgraph/memoryd/internal/mcp"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
}

// balancedDefaults is the literal "balanced" table from the configuration
// schema. It seeds every load before the proactivity preset and any
// explicit per-field overrides are applied.
func balancedDefaults() Config {
	return Config{
		Server:            ServerConfig{ListenAddr: ":8080", LogLevel: LogLevelInfo},
		ProactivityPreset: ProactivityBalanced,
		Extraction: ExtractionConfig{
			IndirectInference:    true,
			MinStorageConfidence: 0.25,
			STTConfidenceFloor:   0.40,
		},
		Confidence: ConfidenceConfig{
			Base: ConfidenceBase{Explicit: 0.90, Observational: 0.65, Inferential: 0.45, Reflective: 0.50},
			HedgeMultipliers: HedgeMultipliers{
				None: 1.00, Mild: 0.90, Moderate: 0.65, Strong: 0.50,
			},
			ReinforcementBoost:       0.08,
			MaxConfidence:            1.00,
			ArchiveThreshold:         0.15,
			ContradictionMargin:      0.10,
			TraitDecayProtectionDays: 30,
		},
		Decay: DecayConfig{
			Rates:           DecayRates{Trait: 0.01, State: 0.04, Wish: 0.06, Episode: 0.12},
			GracePeriodDays: 30,
			CycleSchedule:   "@weekly",
		},
		Probing: ProbingConfig{
			MaxPerConversation: 1,
			MaxPerDay:          3,
			MaxPerWeek:         10,
			MinTurn:            3,
			MinContextFit:      0.30,
			IgnoreCooldown:     Duration(72 * time.Hour),
			DeflectCooldown:    Duration(336 * time.Hour),
		},
		Starters: StartersConfig{
			PerSubtypeLimits: map[string]int{
				"alert": 5, "opportunity": 3, "revision": 2, "insight": 2, "anticipation": 2,
			},
			QuietHours:             []string{"22:00-07:00"},
			QuietHourOverrideKinds: []string{"alert"},
		},
		RiskModel: RiskModelConfig{
			AutoExecute:   RiskTier{MinConfidence: 0.90, MaxCost: "none"},
			Suggest:       RiskTier{MinConfidence: 0.50, MaxCost: "medium"},
			CasualMention: RiskTier{MinConfidence: 0.30, MaxCost: "low"},
		},
		Background: BackgroundConfig{
			DecaySchedule:          "@weekly",
			RevisionSchedule:       "@daily",
			InferenceSchedule:      "@daily",
			ClusteringSchedule:     "@weekly",
			RevisionBudgetPerCycle: 200,
			InferenceCapPerCycle:   50,
		},
		LLM: LLMConfig{
			Small:          LLMTierConfig{Timeout: Duration(5 * time.Second), Retries: 1, DailyTokenBudget: 200000},
			Large:          LLMTierConfig{Timeout: Duration(20 * time.Second), Retries: 1, DailyTokenBudget: 50000},
			FallbackPolicy: FallbackDegrade,
		},
		Privacy: PrivacyConfig{
			SharingEnabled:             false,
			SharingMinLevel:            "L1",
			DifferentialPrivacyEpsilon: 1.0,
			AutoPIIDetection:           true,
			ArchiveRetention:           Duration(4380 * time.Hour),
		},
		Memory: MemoryConfig{EmbeddingDimensions: 1536},
	}
}

// applyProactivityPreset adjusts cfg's probing, starters, and min_context_fit
// defaults for the conservative/proactive presets. It must run after
// [balancedDefaults] has seeded cfg and before the caller's YAML document is
// decoded on top, so that any field the document sets explicitly still wins.
func applyProactivityPreset(cfg *Config, preset ProactivityPreset) {
	switch preset {
	case ProactivityConservative:
		cfg.Probing.MaxPerConversation = halve(cfg.Probing.MaxPerConversation)
		cfg.Probing.MaxPerDay = halve(cfg.Probing.MaxPerDay)
		cfg.Probing.MaxPerWeek = halve(cfg.Probing.MaxPerWeek)
		cfg.Probing.MinContextFit = min1(cfg.Probing.MinContextFit*1.5, 1.0)
		for k, v := range cfg.Starters.PerSubtypeLimits {
			cfg.Starters.PerSubtypeLimits[k] = halve(v)
		}
	case ProactivityProactive:
		cfg.Probing.MaxPerConversation *= 2
		cfg.Probing.MaxPerDay *= 2
		cfg.Probing.MaxPerWeek *= 2
		cfg.Probing.MinContextFit = cfg.Probing.MinContextFit / 2
		for k, v := range cfg.Starters.PerSubtypeLimits {
			cfg.Starters.PerSubtypeLimits[k] = v * 2
		}
	}
}

func halve(n int) int {
	if n <= 1 {
		return n
	}
	return n / 2
}

func min1(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

// presetProbe is decoded first to discover the requested preset before the
// full document (and its defaults) are assembled.
type presetProbe struct {
	ProactivityPreset ProactivityPreset `yaml:"proactivity_preset"`
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
//
// Defaults are seeded from the "balanced" proactivity preset, then adjusted
// for whichever preset the document names, then the document itself is
// decoded on top — so an explicit field in the document always wins over
// both the balanced table and the preset adjustment.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read yaml: %w", err)
	}

	var probe presetProbe
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	cfg := balancedDefaults()
	applyProactivityPreset(&cfg, probe.ProactivityPreset)

	dec := yaml.NewDecoder(bytesReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.ProactivityPreset.IsValid() {
		errs = append(errs, fmt.Errorf("proactivity_preset %q is invalid; valid values: conservative, balanced, proactive", cfg.ProactivityPreset))
	}
	if !cfg.LLM.FallbackPolicy.IsValid() {
		errs = append(errs, fmt.Errorf("llm.fallback_policy %q is invalid; valid values: degrade, fail", cfg.LLM.FallbackPolicy))
	}

	validateProviderName("llm", cfg.LLM.Small.Provider)
	validateProviderName("llm", cfg.LLM.Large.Provider)

	if cfg.LLM.Small.Provider == "" && cfg.LLM.Large.Provider == "" {
		slog.Warn("no LLM provider configured for either tier; extraction and proactive features will be degraded")
	}

	if cfg.Memory.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("memory.embedding_dimensions must be positive, got %d", cfg.Memory.EmbeddingDimensions))
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; the graph store will not be reachable")
	}

	if cfg.Confidence.MaxConfidence <= 0 || cfg.Confidence.MaxConfidence > 1 {
		errs = append(errs, fmt.Errorf("confidence.max_confidence %.2f is out of range (0, 1]", cfg.Confidence.MaxConfidence))
	}
	if cfg.Confidence.ArchiveThreshold < 0 || cfg.Confidence.ArchiveThreshold >= cfg.Confidence.MaxConfidence {
		errs = append(errs, fmt.Errorf("confidence.archive_threshold %.2f must be in [0, max_confidence)", cfg.Confidence.ArchiveThreshold))
	}

	if cfg.Probing.MaxPerConversation < 0 || cfg.Probing.MaxPerDay < 0 || cfg.Probing.MaxPerWeek < 0 {
		errs = append(errs, errors.New("probing limits must be non-negative"))
	}
	if cfg.Probing.MinContextFit < 0 || cfg.Probing.MinContextFit > 1 {
		errs = append(errs, fmt.Errorf("probing.min_context_fit %.2f is out of range [0, 1]", cfg.Probing.MinContextFit))
	}

	for kind, tier := range cfg.RiskModel.allTiers() {
		if tier.MinConfidence < 0 || tier.MinConfidence > 1 {
			errs = append(errs, fmt.Errorf("risk_model.%s.min_confidence %.2f is out of range [0, 1]", kind, tier.MinConfidence))
		}
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		transport := mcp.Transport(srv.Transport)
		if srv.Transport != "" && !transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// allTiers returns the risk model's three tiers labeled by name, for
// uniform validation.
func (r RiskModelConfig) allTiers() map[string]RiskTier {
	return map[string]RiskTier{
		"auto_execute":   r.AutoExecute,
		"suggest":        r.Suggest,
		"casual_mention": r.CasualMention,
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
