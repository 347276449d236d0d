// Package extraction implements the seven-stage transformation from a raw
// utterance to a list of proposed graph operations (spec §4.5).
//
// The pipeline degrades gracefully: a failure at stage N never prevents
// stages N+1..M from running on whatever the earlier stages produced, and
// Run never returns a stage's error to its caller. Each stage records its
// own fallback outcome as a tag on the [Draft] instead of aborting.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/knowgraph/memoryd/internal/diffengine"
	"github.com/knowgraph/memoryd/internal/resilience"
)

// Draft is the single value threaded through every stage, accumulating
// output as it goes. It plays the role the cascade engine's sentence buffer
// plays in the teacher: one mutable accumulator passed stage to stage
// rather than a channel per stage, since extraction's stages are not
// independently streamed.
type Draft struct {
	// Input, set before Run and never mutated by any stage.
	RawText                string
	SessionID              string
	TurnNumber             int
	Speaker                string
	ChannelTag             string
	Timezone               *time.Location
	SpeechToTextConfidence float64 // 0 means text input, no STT floor applies
	KnownEntityNames       map[string]bool

	// EpisodeID is the ID already assigned to the episode this turn will be
	// recorded under. Stage 3 stamps it onto every ExtractedRelation so
	// Stage 7 can carry it into Proposed/Retraction and, from there, into
	// each edge's SourceEpisodeIDs.
	EpisodeID string

	// Populated by Stage 1.
	CleanedText string

	// Populated by Stage 2.
	Entities []ExtractedEntity

	// Populated by Stage 3.
	Relations []ExtractedRelation

	// Populated by Stage 7.
	Proposed    []diffengine.Proposed
	Retractions []Retraction

	// Tags records fallback and diagnostic markers stages attach, e.g.
	// "preprocess_failed", "entities_discarded_hallucination".
	Tags []string

	// HallucinationCount is incremented whenever a stage discards its own
	// output due to three or more hallucination warnings.
	HallucinationCount int
}

// addTag appends tag if not already present.
func (d *Draft) addTag(tag string) {
	for _, t := range d.Tags {
		if t == tag {
			return
		}
	}
	d.Tags = append(d.Tags, tag)
}

// HasTag reports whether tag was recorded by any stage.
func (d *Draft) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Stage transforms a Draft. A non-nil error means the stage applied its
// documented fallback and d already reflects it; Run logs the error but
// always continues to the next stage with the returned Draft.
type Stage func(ctx context.Context, d *Draft) (*Draft, error)

// namedStage pairs a Stage with a label for logging.
type namedStage struct {
	name string
	fn   Stage
}

// Pipeline runs the seven extraction stages in order.
type Pipeline struct {
	stages []namedStage
	logger *slog.Logger
	client *llmClient
}

// New builds the standard seven-stage pipeline using cfg's LLM capabilities,
// resilience wrapping, and confidence scoring configuration.
func New(cfg Config) *Pipeline {
	client := newLLMClient(cfg)
	return &Pipeline{
		logger: cfg.logger(),
		client: client,
		stages: []namedStage{
			{"preprocess", Preprocess},
			{"entity_extraction", client.extractEntities},
			{"relation_extraction", client.extractRelations},
			{"sentiment_and_hedging", ClassifySentiment},
			{"temporal_scope", AssignTemporalScope},
			{"confidence_scoring", scoreConfidence(cfg)},
			{"diff_preparation", PrepareDiff},
		},
	}
}

// SmallBreakerState reports the current state of the LLM small capability's
// circuit breaker, for health checks (spec §6 "Health and exit").
func (p *Pipeline) SmallBreakerState() resilience.State {
	return p.client.smallBreaker.State()
}

// LargeBreakerState reports the current state of the LLM large capability's
// circuit breaker, for health checks (spec §6 "Health and exit").
func (p *Pipeline) LargeBreakerState() resilience.State {
	return p.client.largeBreaker.State()
}

// Run executes every stage in order against a freshly constructed Draft for
// utterance, never returning a stage error to the caller: a stage that
// fails is skipped over with its fallback already applied to the Draft, and
// the next stage still runs on whatever is there.
func (p *Pipeline) Run(ctx context.Context, d *Draft) *Draft {
	for _, s := range p.stages {
		next, err := s.fn(ctx, d)
		if err != nil {
			p.logger.Warn("extraction stage degraded to fallback",
				"stage", s.name, "session_id", d.SessionID, "turn", d.TurnNumber, "error", err)
		}
		if next != nil {
			d = next
		}
	}
	return d
}

// Retraction is Stage 7's output for an utterance that asked to forget a
// previously stated fact ("forget what I said about …"). Resolving which
// edge(s) it names requires a graph lookup extraction deliberately does not
// perform itself — it stays on the narrow hint side of the [graph.Store]
// boundary and leaves resolution to the caller (internal/service), the same
// separation the Diff Engine keeps between classification and application.
type Retraction struct {
	SourceHint   string
	RelationHint string
	TargetHint   string
	Reason       string
	EpisodeID    string
}

func errf(stage string, err error) error {
	return fmt.Errorf("extraction: %s: %w", stage, err)
}
