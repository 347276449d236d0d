// Package proactive implements the Proactive Engine (spec §4.9): probe
// synthesis on every graph mutation, starter synthesis on normalized
// external events, and the risk model and delivery gates that decide what
// an agent is actually allowed to surface.
package proactive

import (
	"context"
	"log/slog"
	"time"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
)

// StoreFactory returns the [graph.Store] scoped to one user's graph.
type StoreFactory func(userID string) graph.Store

// OutboundFactory returns the [outbound.Queue] scoped to one user.
type OutboundFactory func(userID string) outbound.Queue

// Config configures an [Engine].
type Config struct {
	Stores   StoreFactory
	Outbound OutboundFactory
	Audit    audit.Log
	Bus      *eventbus.Bus

	// Synthesizer is the large-LLM capability used to draft probe questions
	// and starter messages. A nil Synthesizer disables synthesis entirely:
	// the Engine still runs gap detection and relevance scoring, but never
	// enqueues an item.
	Synthesizer llm.Provider

	// ProbeCategories is the closed vocabulary of preference categories gap
	// detection checks for. Defaults to [DefaultProbeCategories].
	ProbeCategories []string

	// GapMinMentions is how many times a category must appear as a context
	// tag elsewhere in the graph before its absence from the person's own
	// preference edges counts as a gap worth probing. Default 2.
	GapMinMentions int

	// StarterRelevanceThreshold is the minimum relevance score (spec §4.9
	// default 0.50) a normalized external event must clear to produce a
	// starter.
	StarterRelevanceThreshold float64

	// StarterWindow bounds how long a synthesized starter remains
	// deliverable after its earliest-delivery time. Default 4h.
	StarterWindow time.Duration

	// MinEntityConfidence is the minimum edge confidence for a node to
	// count as a "known user entity" during relevance scoring. Default 0.5.
	MinEntityConfidence float64

	QuietHours QuietHours

	Risk RiskThresholds

	Gates DeliveryGates

	Logger *slog.Logger
}

// DefaultProbeCategories is a reasonable starting vocabulary of preference
// categories the gap detector checks for when spec §4.9 and its examples
// ("preferences... in a category the user has shown interest in") name no
// closed set of their own.
var DefaultProbeCategories = []string{"food", "travel", "work", "hobby", "entertainment", "health"}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) withDefaults() Config {
	if len(c.ProbeCategories) == 0 {
		c.ProbeCategories = DefaultProbeCategories
	}
	if c.GapMinMentions <= 0 {
		c.GapMinMentions = 2
	}
	if c.StarterRelevanceThreshold <= 0 {
		c.StarterRelevanceThreshold = 0.50
	}
	if c.StarterWindow <= 0 {
		c.StarterWindow = 4 * time.Hour
	}
	if c.MinEntityConfidence <= 0 {
		c.MinEntityConfidence = 0.5
	}
	c.Risk = c.Risk.withDefaults()
	c.Gates = c.Gates.withDefaults()
	return c
}

// Engine synthesizes probes on graph mutation and starters on external
// events, and gates delivery through [Engine.Deliver].
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine from cfg. Call [Engine.Start] to subscribe to
// the event bus for mutation-triggered probe synthesis.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// subscriberID identifies the Engine's event bus subscription.
const subscriberID = "proactive-engine"

// Start subscribes the Engine to every graph mutation event so it can
// evaluate probe-worthy gaps as they open. Safe to call once; a second call
// is a no-op (the bus itself treats duplicate subscription ids as a no-op).
func (e *Engine) Start() {
	if e.cfg.Bus == nil {
		return
	}
	e.cfg.Bus.Subscribe(subscriberID, e.onMutation,
		eventbus.EventNodeAdded, eventbus.EventNodeUpdated,
		eventbus.EventEdgeAdded, eventbus.EventEdgeUpdated)
}

// Stop unsubscribes the Engine from the event bus.
func (e *Engine) Stop() {
	if e.cfg.Bus == nil {
		return
	}
	e.cfg.Bus.Unsubscribe(subscriberID)
}

func (e *Engine) onMutation(ctx context.Context, ev eventbus.Event) error {
	if e.cfg.Stores == nil || e.cfg.Outbound == nil || e.cfg.Synthesizer == nil {
		return nil
	}
	if ev.NodeID == "" {
		return nil // edge-only mutations carry no person node to evaluate gaps for
	}
	store := e.cfg.Stores(ev.UserID)
	return e.evaluateProbeGaps(ctx, store, ev.UserID, ev.NodeID)
}
