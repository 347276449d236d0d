package extraction

import (
	"log/slog"
	"time"

	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/internal/observe"
	"github.com/knowgraph/memoryd/internal/resilience"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
)

// Config wires the pipeline's two LLM capability slots, their resilience
// wrapping, and the confidence configuration. Every resilience field has a
// spec-mandated default (spec §6); zero values are replaced by [New].
type Config struct {
	// LLMSmall and LLMLarge are the two LLM capability slots spec §6's
	// "LLM small/large provider, timeouts, retries, fallback, budget"
	// configuration names. Stage 2 and the common case of Stage 3 use
	// LLMSmall; LLMLarge is reserved for callers that route the hardest
	// relation-extraction cases to a stronger model (spec §9's "LLM as
	// capability, not dependency").
	LLMSmall llm.Provider
	LLMLarge llm.Provider

	// SmallBreaker/LargeBreaker configure the circuit breaker protecting
	// each capability. Spec-mandated defaults: small 3 failures/60s
	// reset/15s call timeout, large 2 failures/60s reset/60s call timeout.
	SmallBreaker BreakerConfig
	LargeBreaker BreakerConfig

	// SmallTokensPerDay/LargeTokensPerDay cap daily token spend per
	// capability (spec §5). Zero disables the corresponding limiter.
	SmallTokensPerDay int
	LargeTokensPerDay int

	// FallbackPolicy governs what happens when the small capability's
	// breaker is open or its budget is exhausted. FallbackDegrade builds a
	// [resilience.LLMFallback] that retries against LLMLarge before giving
	// up; FallbackFail (the default) never crosses capability tiers.
	FallbackPolicy FallbackPolicy

	// Confidence is the scoring configuration Stage 6 uses. Zero value is
	// replaced with [confidence.DefaultConfig].
	Confidence confidence.Config

	// HallucinationDiscardThreshold is the warning count at or above which
	// a stage discards its own output (spec §4.5 Stage 2: "three or more
	// warnings discard the stage output"). Zero is replaced with 3.
	HallucinationDiscardThreshold int

	// STTConfidenceFloor is the speech-to-text confidence below which
	// extraction is skipped entirely (spec §4.5 Stage 6). Zero is replaced
	// with 0.55.
	STTConfidenceFloor float64

	// ScaleBySTTConfidence enables linearly scaling the final confidence by
	// speech-to-text confidence when it is at or above the floor.
	ScaleBySTTConfidence bool

	// Logger receives per-stage fallback diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Metrics records each LLM capability call's duration and outcome.
	// Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// FallbackPolicy mirrors config.FallbackPolicy without importing the config
// package (internal/config imports internal/mcp, which imports
// internal/service, which imports this package — importing it back here
// would cycle). Callers pass
// string(cfg.LLM.FallbackPolicy) through; the underlying values match.
type FallbackPolicy string

const (
	// FallbackDegrade routes completeSmallWithRetry to LLMLarge once both
	// direct attempts against LLMSmall have failed.
	FallbackDegrade FallbackPolicy = "degrade"

	// FallbackFail never crosses capability tiers; the empty zero value
	// behaves the same way.
	FallbackFail FallbackPolicy = "fail"
)

// BreakerConfig configures one LLM capability's circuit breaker and call
// timeout.
type BreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	CallTimeout  time.Duration
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) metrics() *observe.Metrics {
	if c.Metrics != nil {
		return c.Metrics
	}
	return observe.DefaultMetrics()
}

func defaultSmallBreaker() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, ResetTimeout: 60 * time.Second, CallTimeout: 15 * time.Second}
}

func defaultLargeBreaker() BreakerConfig {
	return BreakerConfig{MaxFailures: 2, ResetTimeout: 60 * time.Second, CallTimeout: 60 * time.Second}
}

func (b BreakerConfig) orDefault(fallback BreakerConfig) BreakerConfig {
	if b.MaxFailures <= 0 {
		b.MaxFailures = fallback.MaxFailures
	}
	if b.ResetTimeout <= 0 {
		b.ResetTimeout = fallback.ResetTimeout
	}
	if b.CallTimeout <= 0 {
		b.CallTimeout = fallback.CallTimeout
	}
	return b
}

func (b BreakerConfig) toCircuitBreakerConfig(name string) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		// HalfOpenMax keeps the teacher's default of 3 probe calls; the
		// spec does not distinguish half-open budgets per capability.
	}
}
