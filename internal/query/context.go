package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// contextRecencyHalfLife is the half-life used by the recency term of
// assemble_context_block's relevance formula (spec §4.10).
const contextRecencyHalfLife = 14 * 24 * time.Hour

// Fact is one scored fact line contributed to a [Block], either a plain
// node/edge triple or a derived experience.
type Fact struct {
	EntityID  string
	Text      string
	Relevance float64
}

// Block is the compact, ranked description assemble_context_block
// produces for injection into an agent's prompt.
type Block struct {
	Facts           []Fact
	PendingProbes   []outbound.Item
	ActiveReminders []outbound.Item
}

// AssembleContextBlock implements assemble_context_block (spec §4.10): a
// per-entity fact list capped by tokenBudget, pending probes matching the
// given context, and active reminders (starters already eligible for
// delivery). Facts and the outbound queue Peek (split into probes and
// reminders) run concurrently via errgroup.
func AssembleContextBlock(
	ctx context.Context,
	store graph.Store,
	episodes graph.EpisodeStore,
	queue outbound.Queue,
	activeEntities, activeTopics []string,
	tokenBudget int,
	now time.Time,
) (Block, error) {
	var (
		facts     []Fact
		probes    []outbound.Item
		reminders []outbound.Item
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		f, err := gatherFacts(egCtx, store, episodes, activeEntities, activeTopics, now)
		if err != nil {
			return fmt.Errorf("query: assemble context: gather facts: %w", err)
		}
		facts = f
		return nil
	})

	if queue != nil {
		eg.Go(func() error {
			items, err := queue.Peek(egCtx, activeTopics, activeEntities, now, 0)
			if err != nil {
				return fmt.Errorf("query: assemble context: peek outbound: %w", err)
			}
			for _, it := range items {
				if it.Kind == outbound.KindProbe {
					probes = append(probes, it)
				} else {
					reminders = append(reminders, it)
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return Block{}, err
	}

	sort.Slice(facts, func(i, j int) bool { return facts[i].Relevance > facts[j].Relevance })
	facts = capByTokenBudget(facts, tokenBudget)

	return Block{Facts: facts, PendingProbes: probes, ActiveReminders: reminders}, nil
}

// gatherFacts builds one Fact per active entity's edges plus one Fact per
// derived experience, each scored by the spec §4.10 relevance formula:
// relevance = 0.40×entity_match + 0.25×topic_match + 0.20×confidence +
// 0.15×recency.
func gatherFacts(ctx context.Context, store graph.Store, episodes graph.EpisodeStore, activeEntities, activeTopics []string, now time.Time) ([]Fact, error) {
	entitySet := make(map[string]bool, len(activeEntities))
	for _, id := range activeEntities {
		entitySet[id] = true
	}

	var facts []Fact
	seen := make(map[string]bool)
	for _, id := range activeEntities {
		out, err := store.Edges(ctx, graph.WithSource(id))
		if err != nil {
			return nil, err
		}
		in, err := store.Edges(ctx, graph.WithTarget(id))
		if err != nil {
			return nil, err
		}
		for _, e := range append(out, in...) {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			facts = append(facts, edgeFact(e, entitySet, activeTopics, now))
		}
	}

	if episodes != nil {
		experiences, err := episodes.Experiences(ctx)
		if err != nil {
			return nil, err
		}
		for _, exp := range experiences {
			facts = append(facts, experienceFact(exp, activeTopics, now))
		}
	}
	return facts, nil
}

func edgeFact(e graph.Edge, entitySet map[string]bool, activeTopics []string, now time.Time) Fact {
	entityMatch := 0.0
	if entitySet[e.SourceID] || entitySet[e.TargetID] {
		entityMatch = 1.0
	}
	topicMatch := tagOverlap(activeTopics, e.ContextTags)
	recency := contextRecency(e.LastReinforced, now)
	relevance := 0.40*entityMatch + 0.25*topicMatch + 0.20*e.Confidence + 0.15*recency
	return Fact{
		EntityID:  e.SourceID,
		Text:      fmt.Sprintf("%s %s %s", e.SourceID, e.Relation, e.TargetID),
		Relevance: relevance,
	}
}

func experienceFact(exp graph.Experience, activeTopics []string, now time.Time) Fact {
	topicMatch := tagOverlap(activeTopics, []string{exp.Applicability})
	recency := contextRecency(exp.CreatedAt, now)
	relevance := 0.25*topicMatch + 0.20*exp.Confidence + 0.15*recency
	return Fact{Text: exp.Description, Relevance: relevance}
}

// contextRecency is 1.0 for t at or after now and halves for every
// contextRecencyHalfLife of age before it.
func contextRecency(t, now time.Time) float64 {
	age := now.Sub(t)
	if age <= 0 {
		return 1.0
	}
	return math.Pow(2, -age.Hours()/contextRecencyHalfLife.Hours())
}

// tagOverlap reports the fraction of b's elements present in a, a simple
// asymmetric overlap measure (not a full Jaccard index, since activeTopics
// is the reference set being matched against, not a symmetric comparison).
func tagOverlap(a, b []string) float64 {
	if len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	matches := 0
	for _, v := range b {
		if set[v] {
			matches++
		}
	}
	return float64(matches) / float64(len(b))
}

// approxTokens estimates the token cost of s using the common
// four-characters-per-token heuristic — good enough for budget walking
// without a round trip to the provider's tokenizer.
func approxTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return len(s)/4 + 1
}

// capByTokenBudget walks facts (already sorted descending by relevance)
// and keeps a prefix whose estimated token cost stays within budget. A
// non-positive budget is treated as unbounded.
func capByTokenBudget(facts []Fact, budget int) []Fact {
	if budget <= 0 {
		return facts
	}
	spent := 0
	var out []Fact
	for _, f := range facts {
		cost := approxTokens(f.Text)
		if spent+cost > budget {
			break
		}
		spent += cost
		out = append(out, f)
	}
	return out
}
