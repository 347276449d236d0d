// Package graphtool exposes internal/service.Service's ten agent-facing
// operations as MCP tools, one tool per operation.
//
// A [Tools] value is bound to a single user: the conversational agent that
// hosts this MCP server runs one server instance per end-user session, the
// same granularity internal/service.Deps.Stores already scopes graph access
// to. See DESIGN.md for why the server is user-scoped rather than routing a
// user id through every tool call.
package graphtool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/internal/mcp/tools"
	"github.com/knowgraph/memoryd/internal/observe"
	"github.com/knowgraph/memoryd/internal/queue/inbound"
	"github.com/knowgraph/memoryd/internal/query"
	"github.com/knowgraph/memoryd/internal/service"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
)

// maxSubscribeWait bounds how long the "subscribe" tool blocks waiting for
// events before returning, since an MCP tool call is a single request/
// response round trip rather than a standing stream.
const maxSubscribeWait = 30 * time.Second

// defaultSubscribeWait is used when a caller omits wait_ms.
const defaultSubscribeWait = 5 * time.Second

// ─────────────────────────────────────────────────────────────────────────────
// report_interaction
// ─────────────────────────────────────────────────────────────────────────────

type reportInteractionArgs struct {
	SessionID             string   `json:"session_id"`
	TurnNumber            int      `json:"turn_number"`
	ChannelTag            string   `json:"channel_tag,omitempty"`
	Text                  string   `json:"text"`
	MentionedEntitiesHint []string `json:"mentioned_entities_hint,omitempty"`
	ClientTimestamp       string   `json:"client_timestamp,omitempty"`
	SpeechConfidence      *float64 `json:"speech_confidence,omitempty"`
}

func makeReportInteractionHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a reportInteractionArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: report_interaction: failed to parse arguments: %w", err)
		}
		if a.Text == "" {
			return "", fmt.Errorf("graph tool: report_interaction: text must not be empty")
		}

		ts := time.Now()
		if a.ClientTimestamp != "" {
			parsed, err := time.Parse(time.RFC3339, a.ClientTimestamp)
			if err != nil {
				return "", fmt.Errorf("graph tool: report_interaction: invalid client_timestamp: %w", err)
			}
			ts = parsed
		}

		id, err := svc.ReportInteraction(ctx, userID, inbound.Event{
			SessionID:             a.SessionID,
			TurnNumber:            a.TurnNumber,
			ChannelTag:            a.ChannelTag,
			Text:                  a.Text,
			MentionedEntitiesHint: a.MentionedEntitiesHint,
			ClientTimestamp:       ts,
			SpeechConfidence:      a.SpeechConfidence,
		})
		if err != nil {
			return "", fmt.Errorf("graph tool: report_interaction: %w", err)
		}

		res, err := json.Marshal(map[string]string{"queued_id": id})
		if err != nil {
			return "", fmt.Errorf("graph tool: report_interaction: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// query
// ─────────────────────────────────────────────────────────────────────────────

type queryArgs struct {
	Entities      []string `json:"entities,omitempty"`
	Relations     []string `json:"relations,omitempty"`
	MinConfidence float64  `json:"min_confidence,omitempty"`
	MaxHops       int      `json:"max_hops,omitempty"`
}

func makeQueryHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a queryArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: query: failed to parse arguments: %w", err)
		}

		result, err := svc.Query(ctx, userID, query.StructuredParams{
			Entities:      a.Entities,
			Relations:     a.Relations,
			MinConfidence: a.MinConfidence,
			MaxHops:       a.MaxHops,
		})
		if err != nil {
			return "", fmt.Errorf("graph tool: query: %w", err)
		}
		return marshal("query", result)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// query_nl
// ─────────────────────────────────────────────────────────────────────────────

type queryNaturalArgs struct {
	Text string `json:"text"`
}

func makeQueryNaturalHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a queryNaturalArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: query_nl: failed to parse arguments: %w", err)
		}
		if a.Text == "" {
			return "", fmt.Errorf("graph tool: query_nl: text must not be empty")
		}

		result, err := svc.QueryNatural(ctx, userID, a.Text)
		if err != nil {
			return "", fmt.Errorf("graph tool: query_nl: %w", err)
		}
		return marshal("query_nl", result)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_context
// ─────────────────────────────────────────────────────────────────────────────

type getContextArgs struct {
	Message string `json:"message"`
}

func makeGetContextHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getContextArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: get_context: failed to parse arguments: %w", err)
		}

		result, err := svc.GetContext(ctx, userID, a.Message)
		if err != nil {
			return "", fmt.Errorf("graph tool: get_context: %w", err)
		}
		return marshal("get_context", result)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_probes
// ─────────────────────────────────────────────────────────────────────────────

type getProbesArgs struct {
	ActiveTopics    []string `json:"active_topics,omitempty"`
	EntitiesInScope []string `json:"entities_in_scope,omitempty"`
	Channel         string   `json:"channel,omitempty"`
	TurnNumber      int      `json:"turn_number"`
}

func makeGetProbesHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getProbesArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: get_probes: failed to parse arguments: %w", err)
		}

		item, ok, err := svc.GetProbes(ctx, userID, a.ActiveTopics, a.EntitiesInScope, a.Channel, a.TurnNumber)
		if err != nil {
			return "", fmt.Errorf("graph tool: get_probes: %w", err)
		}
		if !ok {
			return marshal("get_probes", map[string]any{"delivered": false})
		}
		return marshal("get_probes", map[string]any{"delivered": true, "item": item})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_starters
// ─────────────────────────────────────────────────────────────────────────────

type getStartersArgs struct {
	Channel    string `json:"channel,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

const defaultStartersLimit = 5

func makeGetStartersHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getStartersArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: get_starters: failed to parse arguments: %w", err)
		}
		maxResults := a.MaxResults
		if maxResults <= 0 {
			maxResults = defaultStartersLimit
		}

		items, err := svc.GetStarters(ctx, userID, a.Channel, maxResults)
		if err != nil {
			return "", fmt.Errorf("graph tool: get_starters: %w", err)
		}
		return marshal("get_starters", items)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// user_correction
// ─────────────────────────────────────────────────────────────────────────────

type userCorrectionArgs struct {
	Kind      string `json:"kind"`
	EntityRef string `json:"entity_ref"`
	Field     string `json:"field,omitempty"`
	OldValue  string `json:"old_value,omitempty"`
	NewValue  string `json:"new_value,omitempty"`
}

func makeUserCorrectionHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a userCorrectionArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: user_correction: failed to parse arguments: %w", err)
		}
		if a.EntityRef == "" {
			return "", fmt.Errorf("graph tool: user_correction: entity_ref must not be empty")
		}

		var kind service.CorrectionKind
		switch a.Kind {
		case "revise":
			kind = service.CorrectionRevise
		case "delete":
			kind = service.CorrectionDelete
		case "retract":
			kind = service.CorrectionRetract
		default:
			return "", fmt.Errorf("graph tool: user_correction: unknown kind %q (want revise, delete, or retract)", a.Kind)
		}

		err := svc.UserCorrection(ctx, userID, service.Correction{
			Kind:      kind,
			EntityRef: a.EntityRef,
			Field:     a.Field,
			OldValue:  a.OldValue,
			NewValue:  a.NewValue,
		})
		if err != nil {
			return "", fmt.Errorf("graph tool: user_correction: %w", err)
		}
		return marshal("user_correction", map[string]bool{"applied": true})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_provenance
// ─────────────────────────────────────────────────────────────────────────────

type getProvenanceArgs struct {
	EdgeID string `json:"edge_id"`
}

func makeGetProvenanceHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a getProvenanceArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: get_provenance: failed to parse arguments: %w", err)
		}
		if a.EdgeID == "" {
			return "", fmt.Errorf("graph tool: get_provenance: edge_id must not be empty")
		}

		entries, err := svc.GetProvenance(ctx, userID, a.EdgeID)
		if err != nil {
			return "", fmt.Errorf("graph tool: get_provenance: %w", err)
		}
		return marshal("get_provenance", entries)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// graph_snapshot
// ─────────────────────────────────────────────────────────────────────────────

func makeGraphSnapshotHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		snap, err := svc.GraphSnapshot(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("graph tool: graph_snapshot: %w", err)
		}
		return marshal("graph_snapshot", snap)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// subscribe
// ─────────────────────────────────────────────────────────────────────────────

type subscribeArgs struct {
	EventTypes []string `json:"event_types,omitempty"`
	WaitMs     int      `json:"wait_ms,omitempty"`
}

// makeSubscribeHandler adapts internal/service.Service.Subscribe's standing
// channel to a single request/response tool call: it opens a subscription,
// collects whatever events arrive within the requested (capped) wait window,
// then closes the subscription before returning. A caller wanting a
// continuous feed polls this tool repeatedly.
func makeSubscribeHandler(svc service.Service, userID string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var a subscribeArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("graph tool: subscribe: failed to parse arguments: %w", err)
		}

		wait := defaultSubscribeWait
		if a.WaitMs > 0 {
			wait = time.Duration(a.WaitMs) * time.Millisecond
		}
		if wait > maxSubscribeWait {
			wait = maxSubscribeWait
		}

		types := make([]eventbus.EventType, 0, len(a.EventTypes))
		for _, t := range a.EventTypes {
			types = append(types, eventbus.EventType(t))
		}

		sub := svc.Subscribe(ctx, userID, types...)
		observe.DefaultMetrics().ActiveSubscriptions.Add(ctx, 1)
		defer func() {
			sub.Close()
			observe.DefaultMetrics().ActiveSubscriptions.Add(ctx, -1)
		}()

		timer := time.NewTimer(wait)
		defer timer.Stop()

		var events []eventbus.Event
	collect:
		for {
			select {
			case e, ok := <-sub.Events:
				if !ok {
					break collect
				}
				events = append(events, e)
			case <-timer.C:
				break collect
			case <-ctx.Done():
				break collect
			}
		}

		return marshal("subscribe", map[string]any{"events": events})
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// NewTools
// ─────────────────────────────────────────────────────────────────────────────

// NewTools returns the ten agent-facing tools bound to svc and userID.
func NewTools(svc service.Service, userID string) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "report_interaction",
				Description: "Record a turn of conversation so the memory service can extract entities, relations, and retractions from it. Call this after every user and assistant turn.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"session_id":              map[string]any{"type": "string", "description": "Identifier for the current conversation session."},
						"turn_number":             map[string]any{"type": "integer", "description": "Monotonically increasing turn counter within the session."},
						"channel_tag":             map[string]any{"type": "string", "description": "Optional channel/topic label for this turn."},
						"text":                    map[string]any{"type": "string", "description": "The verbatim text of the turn."},
						"mentioned_entities_hint": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Optional hint of entity names already known to be mentioned."},
						"client_timestamp":        map[string]any{"type": "string", "description": "RFC3339 timestamp the turn occurred at. Defaults to now."},
						"speech_confidence":       map[string]any{"type": "number", "description": "Optional 0-1 STT confidence score for voice input."},
					},
					"required": []string{"session_id", "text"},
				},
			},
			Handler: makeReportInteractionHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "query",
				Description: "Query the knowledge graph with structured filters: entity names, relation names, a minimum confidence, and a hop limit.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"entities":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"relations":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"min_confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"max_hops":       map[string]any{"type": "integer", "minimum": 1},
					},
				},
			},
			Handler: makeQueryHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "query_nl",
				Description: "Query the knowledge graph with a free-form natural-language question. The service plans a structured query internally.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string", "description": "The natural-language question to answer from the graph."},
					},
					"required": []string{"text"},
				},
			},
			Handler: makeQueryNaturalHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_context",
				Description: "Given an in-progress message, extract its candidate entities and assemble a relevant context block (facts, pending probes, active reminders) to ground the assistant's reply.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"message": map[string]any{"type": "string", "description": "The message to extract context for."},
					},
					"required": []string{"message"},
				},
			},
			Handler: makeGetContextHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_probes",
				Description: "Ask whether a proactive probe (a clarifying question, opportunity, or reminder about the active topics) should be delivered this turn, subject to risk and cooldown gating.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"active_topics":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"entities_in_scope": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"channel":           map[string]any{"type": "string"},
						"turn_number":       map[string]any{"type": "integer"},
					},
					"required": []string{"turn_number"},
				},
			},
			Handler: makeGetProbesHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_starters",
				Description: "Fetch conversation starters (alerts, opportunities, insights) appropriate to open a new session with, respecting quiet hours and per-subtype limits.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"channel":     map[string]any{"type": "string"},
						"max_results": map[string]any{"type": "integer", "minimum": 1},
					},
				},
			},
			Handler: makeGetStartersHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "user_correction",
				Description: "Apply an explicit user correction to the graph: revise a fact's value, delete an entity outright, or retract a specific edge.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"kind":       map[string]any{"type": "string", "enum": []string{"revise", "delete", "retract"}},
						"entity_ref": map[string]any{"type": "string", "description": "Entity name or id the correction targets."},
						"field":      map[string]any{"type": "string", "description": "Relation/field name, required for revise and retract."},
						"old_value":  map[string]any{"type": "string"},
						"new_value":  map[string]any{"type": "string"},
					},
					"required": []string{"kind", "entity_ref"},
				},
			},
			Handler: makeUserCorrectionHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "get_provenance",
				Description: "Retrieve the audit trail explaining how a specific edge was inserted, reinforced, revised, or retracted over time.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"edge_id": map[string]any{"type": "string"},
					},
					"required": []string{"edge_id"},
				},
			},
			Handler: makeGetProvenanceHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "graph_snapshot",
				Description: "Return a full snapshot of the user's knowledge graph: all nodes and edges currently stored.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			Handler: makeGraphSnapshotHandler(svc, userID),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "subscribe",
				Description: "Wait briefly for graph mutation events (inserts, revisions, retractions) of the given types, then return whatever arrived. Call repeatedly for a continuous feed.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"event_types": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Event type names to filter on. Empty means all types."},
						"wait_ms":     map[string]any{"type": "integer", "description": "Milliseconds to wait for events before returning. Capped at 30000, defaults to 5000."},
					},
				},
			},
			Handler: makeSubscribeHandler(svc, userID),
		},
	}
}

func marshal(op string, v any) (string, error) {
	res, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("graph tool: %s: failed to encode result: %w", op, err)
	}
	return string(res), nil
}
