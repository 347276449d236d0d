package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/config"
	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/internal/extraction"
	"github.com/knowgraph/memoryd/internal/observe"
	"github.com/knowgraph/memoryd/internal/proactive"
	"github.com/knowgraph/memoryd/internal/queue/inbound"
	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/internal/resilience"
	"github.com/knowgraph/memoryd/internal/workers"
	"github.com/knowgraph/memoryd/pkg/graph"
	graphpg "github.com/knowgraph/memoryd/pkg/graph/postgres"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
)

// System bundles every long-running piece [Build] wires together: the
// [Service] implementation, the background cycle manager, the proactive
// engine, and the inbound poller. cmd/memoryd starts and stops these
// together.
type System struct {
	Service   *Memoryd
	Workers   *workers.Manager
	Proactive *proactive.Engine
	Poller    *inbound.Poller
	Bus       *eventbus.Bus
	Pool      *pgxpool.Pool

	// Breakers exposes the circuit breakers wrapping every dependency spec
	// §6's "Health and exit" section names, for the health checkers
	// cmd/memoryd registers.
	Breakers Breakers
}

// Breakers bundles the circuit breakers [Build] wraps around the graph
// store and the two durable queues. The LLM small/large breakers live on
// the extraction pipeline itself ([Memoryd.Pipeline]).
type Breakers struct {
	Store    *resilience.CircuitBreaker
	Inbound  *resilience.CircuitBreaker
	Outbound *resilience.CircuitBreaker
}

// Start begins the background cycle manager, the proactive engine's event
// subscription, and the inbound poller.
func (s *System) Start(ctx context.Context) {
	s.Workers.Start(ctx)
	s.Proactive.Start()
	s.Poller.Start(ctx)
}

// Stop halts every component Start began, in reverse order, then closes the
// event bus and connection pool.
func (s *System) Stop() {
	s.Poller.Stop()
	s.Proactive.Stop()
	s.Workers.Stop()
	s.Bus.Close()
	s.Pool.Close()
}

// Build constructs a complete [System] from cfg and registry: a pgx pool
// backing the graph store, the shared (non-per-user, see DESIGN.md) audit
// log and queue stores, the extraction pipeline, the proactive engine, and
// the background worker manager — every component SPEC_FULL.md names,
// wired to the same config schema [internal/config] loads.
func Build(ctx context.Context, cfg *config.Config, registry *config.Registry) (*System, error) {
	pool, err := pgxpool.New(ctx, cfg.Memory.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("service: build: connect postgres: %w", err)
	}

	baseGraph, err := graphpg.NewStore(ctx, cfg.Memory.PostgresDSN, cfg.Memory.EmbeddingDimensions)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("service: build: graph store: %w", err)
	}
	storeBreaker := resilience.NewCircuitBreaker(defaultStoreBreakerConfig())
	stores := func(userID string) graph.Store { return newBreakerStore(baseGraph.ForUser(userID), storeBreaker) }
	episodes := func(userID string) graph.EpisodeStore { return baseGraph.ForUser(userID) }

	auditStore, err := audit.NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("service: build: audit store: %w", err)
	}

	inboundStoreRaw, err := inbound.NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("service: build: inbound queue: %w", err)
	}
	inboundBreaker := resilience.NewCircuitBreaker(defaultQueueBreakerConfig("inbound_queue"))
	inboundStore := newBreakerInboundQueue(inboundStoreRaw, inboundBreaker)

	outboundStoreRaw, err := outbound.NewStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("service: build: outbound queue: %w", err)
	}
	outboundBreaker := resilience.NewCircuitBreaker(defaultQueueBreakerConfig("outbound_queue"))
	outboundStore := newBreakerOutboundQueue(outboundStoreRaw, outboundBreaker)
	outboundFactory := func(userID string) outbound.Queue { return outboundStore }

	bus := eventbus.New(eventbus.WithLogger(slog.Default()), eventbus.WithMetrics(observe.DefaultMetrics()))
	locker := graph.NewUserLocker()
	confCfg := configToConfidence(cfg)

	var small, large llm.Provider
	if cfg.LLM.Small.Provider != "" {
		small, err = registry.CreateLLM(cfg.LLM.Small)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("service: build: llm small: %w", err)
		}
	}
	if cfg.LLM.Large.Provider != "" {
		large, err = registry.CreateLLM(cfg.LLM.Large)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("service: build: llm large: %w", err)
		}
	}

	pipeline := extraction.New(extraction.Config{
		LLMSmall:             small,
		LLMLarge:             large,
		SmallTokensPerDay:    cfg.LLM.Small.DailyTokenBudget,
		LargeTokensPerDay:    cfg.LLM.Large.DailyTokenBudget,
		FallbackPolicy:       extraction.FallbackPolicy(cfg.LLM.FallbackPolicy),
		Confidence:           confCfg,
		STTConfidenceFloor:   cfg.Extraction.STTConfidenceFloor,
		ScaleBySTTConfidence: true,
		Logger:               slog.Default(),
	})

	proactiveCfg := proactive.Config{
		Stores:      stores,
		Outbound:    outboundFactory,
		Audit:       auditStore,
		Bus:         bus,
		Synthesizer: large,
		QuietHours:  parseQuietHours(cfg.Starters.QuietHours),
		Risk:        riskThresholdsFromConfig(cfg),
		Gates: proactive.DeliveryGates{
			MaxPerConversation: cfg.Probing.MaxPerConversation,
			MaxPerDay:          cfg.Probing.MaxPerDay,
			MaxPerWeek:         cfg.Probing.MaxPerWeek,
		},
		Logger: slog.Default(),
	}
	engine := proactive.NewEngine(proactiveCfg)
	gater := proactive.NewGater(proactiveCfg)

	userSource := NewPostgresUserSource(pool)

	var verifier workers.Verifier
	if large != nil {
		verifier = workers.NewLLMVerifier(large)
	}

	mgr := workers.NewManager(workers.Config{
		Stores:                stores,
		Episodes:              episodes,
		Users:                 userSource,
		Locker:                locker,
		Bus:                   bus,
		Audit:                 auditStore,
		Confidence:            confCfg,
		Verifier:              verifier,
		Inferrer:              large,
		DecayInterval:         time.Duration(0), // zero takes the package default (7 days)
		RevisionSchedule:      cfg.Background.RevisionSchedule,
		InferenceSchedule:     cfg.Background.InferenceSchedule,
		EpisodeSchedule:       cfg.Background.ClusteringSchedule,
		RevisionSampleSize:    cfg.Background.RevisionBudgetPerCycle,
		InferenceCandidateCap: cfg.Background.InferenceCapPerCycle,
		Logger:                slog.Default(),
	})

	svc := New(Deps{
		Stores:     stores,
		Episodes:   episodes,
		Locker:     locker,
		Bus:        bus,
		Audit:      auditStore,
		Inbound:    inboundStore,
		Outbound:   outboundFactory,
		Pipeline:   pipeline,
		Gater:      gater,
		Confidence: confCfg,
		Planner:    large,
		Logger:     slog.Default(),
	})

	poller := inbound.NewPoller(inbound.PollerConfig{
		Queue:   inboundStore,
		Process: svc.ProcessClaimed,
		Logger:  slog.Default(),
	})

	return &System{
		Service:   svc,
		Workers:   mgr,
		Proactive: engine,
		Poller:    poller,
		Bus:       bus,
		Pool:      pool,
		Breakers: Breakers{
			Store:    storeBreaker,
			Inbound:  inboundBreaker,
			Outbound: outboundBreaker,
		},
	}, nil
}

// configToConfidence maps the YAML confidence schema onto
// [confidence.Config]. Grounded on internal/config's decode shape and
// confidence.DefaultConfig's field set.
func configToConfidence(cfg *config.Config) confidence.Config {
	base := confidence.DefaultConfig()
	base.MaxConfidence = cfg.Confidence.MaxConfidence
	base.BaseByMechanism[graph.ProvenanceExplicit] = cfg.Confidence.Base.Explicit
	base.BaseByMechanism[graph.ProvenanceObservational] = cfg.Confidence.Base.Observational
	base.BaseByMechanism[graph.ProvenanceInferential] = cfg.Confidence.Base.Inferential
	base.BaseByMechanism[graph.ProvenanceReflective] = cfg.Confidence.Base.Reflective
	base.HedgeMultiplier["none"] = cfg.Confidence.HedgeMultipliers.None
	base.HedgeMultiplier["mild"] = cfg.Confidence.HedgeMultipliers.Mild
	base.HedgeMultiplier["moderate"] = cfg.Confidence.HedgeMultipliers.Moderate
	base.HedgeMultiplier["strong"] = cfg.Confidence.HedgeMultipliers.Strong
	base.ReinforcementBoost = cfg.Confidence.ReinforcementBoost
	base.RevisionMargin = cfg.Confidence.ContradictionMargin
	base.ArchiveThreshold = cfg.Confidence.ArchiveThreshold
	base.MinStorageThreshold = cfg.Extraction.MinStorageConfidence
	base.DecayRatePerMonth[graph.TemporalTrait] = cfg.Decay.Rates.Trait
	base.DecayRatePerMonth[graph.TemporalState] = cfg.Decay.Rates.State
	base.DecayRatePerMonth[graph.TemporalWish] = cfg.Decay.Rates.Wish
	base.DecayRatePerMonth[graph.TemporalEpisode] = cfg.Decay.Rates.Episode
	base.GracePeriod = time.Duration(cfg.Confidence.TraitDecayProtectionDays) * 24 * time.Hour
	return base
}

// parseQuietHours maps the first "HH:MM-HH:MM" window the YAML schema
// carries onto [proactive.QuietHours]. The reference implementation
// supports one nightly window, matching [proactive.QuietHours]'s shape;
// additional entries in the list are a documented limitation, since
// quiet-hour windows beyond the first are rare in practice.
func parseQuietHours(windows []string) proactive.QuietHours {
	if len(windows) == 0 {
		return proactive.DefaultQuietHours()
	}
	var startH, startM, endH, endM int
	n, err := fmt.Sscanf(windows[0], "%d:%d-%d:%d", &startH, &startM, &endH, &endM)
	if n != 4 || err != nil {
		return proactive.DefaultQuietHours()
	}
	return proactive.QuietHours{
		Start: time.Duration(startH)*time.Hour + time.Duration(startM)*time.Minute,
		End:   time.Duration(endH)*time.Hour + time.Duration(endM)*time.Minute,
	}
}

// costCategoryFromString maps the YAML schema's "none"/"low"/"medium"/"high"
// cost labels onto [proactive.CostCategory].
func costCategoryFromString(s string) proactive.CostCategory {
	switch s {
	case "low":
		return proactive.CostLow
	case "medium":
		return proactive.CostMedium
	case "high":
		return proactive.CostHigh
	default:
		return proactive.CostNone
	}
}

func riskThresholdsFromConfig(cfg *config.Config) proactive.RiskThresholds {
	return proactive.RiskThresholds{
		AutoExecuteMinConfidence:   cfg.RiskModel.AutoExecute.MinConfidence,
		AutoExecuteMaxCost:         costCategoryFromString(cfg.RiskModel.AutoExecute.MaxCost),
		SuggestMinConfidence:       cfg.RiskModel.Suggest.MinConfidence,
		SuggestMaxCost:             costCategoryFromString(cfg.RiskModel.Suggest.MaxCost),
		CasualMentionMinConfidence: cfg.RiskModel.CasualMention.MinConfidence,
		CasualMentionMaxCost:       costCategoryFromString(cfg.RiskModel.CasualMention.MaxCost),
	}
}
