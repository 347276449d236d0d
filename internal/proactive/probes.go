package proactive

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

const probeSystemPrompt = `You draft a short, natural conversational question the assistant could ask
to learn the user's preference in a given category. Respond with a JSON object only:
{"question": string, "priority": number between 0 and 1, "min_turn": integer}. The question should read
naturally, not like a form field.`

// defaultProbePriority and defaultProbeMinTurn are used when the LLM
// synthesis response omits priority/min_turn or the response is
// unparseable but the gap itself is still worth recording.
const (
	defaultProbePriority = 0.4
	defaultProbeMinTurn  = 3
)

// evaluateProbeGaps checks nodeID (the node the just-applied mutation
// touched) for open preference gaps and synthesizes a probe for the
// highest-mention gap category, if any.
func (e *Engine) evaluateProbeGaps(ctx context.Context, store graph.Store, userID, nodeID string) error {
	person, err := store.GetNode(ctx, nodeID)
	if err != nil || person.Kind != graph.KindPerson {
		return nil // only Person nodes are evaluated for preference gaps
	}

	edges, err := store.Edges(ctx)
	if err != nil {
		return err
	}

	category := topGapCategory(person, edges, e.cfg.ProbeCategories, e.cfg.GapMinMentions)
	if category == "" {
		return nil
	}

	question, priority, minTurn := e.synthesizeProbe(ctx, person, category)
	item := outbound.Item{
		Kind:             outbound.KindProbe,
		Subtype:          outbound.SubtypePreferenceDiscovery,
		Priority:         priority,
		ContextTags:      []string{category},
		MinTurn:          minTurn,
		EarliestDelivery: time.Now(),
		Payload:          map[string]any{"question": question, "category": category},
	}

	queue := e.cfg.Outbound(userID)
	id, err := queue.Enqueue(ctx, item)
	if err != nil {
		return fmt.Errorf("proactive: enqueue probe: %w", err)
	}

	if e.cfg.Audit != nil {
		_, _ = e.cfg.Audit.Append(ctx, audit.Entry{
			Kind:       audit.KindProbeGenerated,
			Component:  "proactive.probes",
			AffectedID: id,
			SessionID:  userID,
			Reasoning:  fmt.Sprintf("preference gap detected in category %q", category),
		})
	}
	return nil
}

// topGapCategory returns the candidate category with the most mentions
// elsewhere in the graph that the person has no active edge tagged with,
// or "" if every mentioned category is already covered.
func topGapCategory(person graph.Node, edges []graph.Edge, candidates []string, minMentions int) string {
	mentionCounts := make(map[string]int, len(candidates))
	personCategories := make(map[string]bool)

	candidateSet := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = true
	}

	for _, edge := range edges {
		for _, tag := range edge.ContextTags {
			if !candidateSet[tag] {
				continue
			}
			mentionCounts[tag]++
			if edge.SourceID == person.ID {
				personCategories[tag] = true
			}
		}
	}

	best := ""
	bestCount := 0
	for _, category := range candidates {
		if personCategories[category] {
			continue
		}
		if mentionCounts[category] < minMentions {
			continue
		}
		if mentionCounts[category] > bestCount {
			best = category
			bestCount = mentionCounts[category]
		}
	}
	return best
}

// synthesizeProbe asks the large-LLM capability to draft a probe question
// for category. On a nil Synthesizer or an unparseable/failed response, it
// falls back to a templated question and the configured defaults rather
// than skipping the probe outright.
func (e *Engine) synthesizeProbe(ctx context.Context, person graph.Node, category string) (question string, priority float64, minTurn int) {
	fallback := fmt.Sprintf("I'm curious, what do you usually go for when it comes to %s?", category)
	if e.cfg.Synthesizer == nil {
		return fallback, defaultProbePriority, defaultProbeMinTurn
	}

	resp, err := e.cfg.Synthesizer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: probeSystemPrompt,
		Messages: []types.Message{{Role: "user", Content: fmt.Sprintf(
			"Person: %s. Category with no recorded preference: %s.", person.Name, category)}},
		Temperature: 0.4,
	})
	if err != nil {
		e.cfg.logger().Warn("proactive: probe synthesis failed, using fallback question", "error", err)
		return fallback, defaultProbePriority, defaultProbeMinTurn
	}

	result := gjson.Parse(resp.Content)
	q := result.Get("question").String()
	if q == "" {
		return fallback, defaultProbePriority, defaultProbeMinTurn
	}
	priority = result.Get("priority").Float()
	if priority <= 0 || priority > 1 {
		priority = defaultProbePriority
	}
	minTurn = int(result.Get("min_turn").Int())
	if minTurn <= 0 {
		minTurn = defaultProbeMinTurn
	}
	return q, priority, minTurn
}
