package proactive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

// ExternalEventKind is the closed set of normalized external event sources
// spec §4.9 names. Normalization of the raw weather/news/calendar feed into
// this shape is an out-of-scope external collaborator (spec §1); this
// package only defines the contract a normalizer must produce.
type ExternalEventKind string

const (
	ExternalEventWeather  ExternalEventKind = "weather"
	ExternalEventCalendar ExternalEventKind = "calendar"
	ExternalEventNews     ExternalEventKind = "news"
)

// subtype maps an external event kind to the outbound starter
// subtype it produces, per spec §4.4's starter subtype vocabulary.
func (k ExternalEventKind) subtype() outbound.Subtype {
	switch k {
	case ExternalEventWeather:
		return outbound.SubtypeAlert
	case ExternalEventCalendar:
		return outbound.SubtypeAnticipation
	case ExternalEventNews:
		return outbound.SubtypeInsight
	default:
		return outbound.SubtypeOpportunity
	}
}

// NormalizedEvent is the contract an external event normalizer (weather
// alert, calendar proximity check, news matcher) must satisfy to feed the
// starter pipeline. The normalizer itself is an external collaborator
// outside this service's scope.
type NormalizedEvent struct {
	Kind                    ExternalEventKind
	Summary                 string
	Entities                []string // entity names the event concerns
	Topics                  []string // topical context tags the event concerns
	Occurred                time.Time
	AllowsQuietHourOverride bool // alerts may override quiet hours
}

const starterSystemPrompt = `You draft a short, natural conversation-opener message for the assistant to
send given a real-world event relevant to the user. Respond with a JSON object only: {"message": string,
"priority": number between 0 and 1}.`

// OnExternalEvent scores ev's relevance against userID's graph and, if it
// clears [Config.StarterRelevanceThreshold], synthesizes and enqueues a
// starter honoring quiet hours (unless ev permits an override).
func (e *Engine) OnExternalEvent(ctx context.Context, userID string, ev NormalizedEvent, now time.Time) error {
	if e.cfg.Stores == nil || e.cfg.Outbound == nil {
		return nil
	}
	store := e.cfg.Stores(userID)

	relevance, err := e.scoreEventRelevance(ctx, store, ev)
	if err != nil {
		return err
	}
	if relevance < e.cfg.StarterRelevanceThreshold {
		return nil
	}
	if e.cfg.QuietHours.Contains(now) && !ev.AllowsQuietHourOverride {
		return nil
	}

	message, priority := e.synthesizeStarter(ctx, ev)
	latest := now.Add(e.cfg.StarterWindow)
	item := outbound.Item{
		Kind:             outbound.KindStarter,
		Subtype:          ev.Kind.subtype(),
		Priority:         priority,
		ContextTags:      append(append([]string{}, ev.Topics...), ev.Entities...),
		EarliestDelivery: now,
		LatestDelivery:   &latest,
		Payload:          map[string]any{"message": message, "summary": ev.Summary},
	}

	queue := e.cfg.Outbound(userID)
	id, err := queue.Enqueue(ctx, item)
	if err != nil {
		return fmt.Errorf("proactive: enqueue starter: %w", err)
	}

	if e.cfg.Audit != nil {
		_, _ = e.cfg.Audit.Append(ctx, audit.Entry{
			Kind:       audit.KindStarterGenerated,
			Component:  "proactive.starters",
			AffectedID: id,
			SessionID:  userID,
			Reasoning:  fmt.Sprintf("external event %s scored relevance %.2f", ev.Kind, relevance),
		})
	}
	return nil
}

// scoreEventRelevance measures overlap between ev's entities/topics and the
// user's known graph: nodes named by an active edge at or above
// [Config.MinEntityConfidence]. Equal weight is given to entity overlap and
// topic overlap, averaged.
func (e *Engine) scoreEventRelevance(ctx context.Context, store graph.Store, ev NormalizedEvent) (float64, error) {
	edges, err := store.Edges(ctx, graph.WithEdgeMinConfidence(e.cfg.MinEntityConfidence))
	if err != nil {
		return 0, err
	}

	known := make(map[string]bool, len(edges)*2)
	topics := make(map[string]bool, len(edges)*2)
	for _, edge := range edges {
		for _, tag := range edge.ContextTags {
			topics[foldKey(tag)] = true
		}
		if node, err := store.GetNode(ctx, edge.SourceID); err == nil {
			known[foldKey(node.Name)] = true
		}
		if node, err := store.GetNode(ctx, edge.TargetID); err == nil {
			known[foldKey(node.Name)] = true
		}
	}

	entityScore := overlapFraction(ev.Entities, known)
	topicScore := overlapFraction(ev.Topics, topics)
	return (entityScore + topicScore) / 2, nil
}

func overlapFraction(candidates []string, known map[string]bool) float64 {
	if len(candidates) == 0 {
		return 0
	}
	matches := 0
	for _, c := range candidates {
		if known[foldKey(c)] {
			matches++
		}
	}
	return float64(matches) / float64(len(candidates))
}

func foldKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// synthesizeStarter asks the large-LLM capability to draft a starter
// message for ev. On a nil Synthesizer or an unparseable/failed response,
// falls back to ev.Summary verbatim at a middling priority.
func (e *Engine) synthesizeStarter(ctx context.Context, ev NormalizedEvent) (message string, priority float64) {
	const fallbackPriority = 0.5
	if e.cfg.Synthesizer == nil {
		return ev.Summary, fallbackPriority
	}

	resp, err := e.cfg.Synthesizer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: starterSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: ev.Summary}},
		Temperature:  0.4,
	})
	if err != nil {
		e.cfg.logger().Warn("proactive: starter synthesis failed, using fallback message", "error", err)
		return ev.Summary, fallbackPriority
	}

	result := gjson.Parse(resp.Content)
	m := result.Get("message").String()
	if m == "" {
		return ev.Summary, fallbackPriority
	}
	priority = result.Get("priority").Float()
	if priority <= 0 || priority > 1 {
		priority = fallbackPriority
	}
	return m, priority
}
