// Package service implements the transport-agnostic contract every
// agent-facing surface (the MCP tool layer, and any future transport
// adapter) is built against. It is where the per-component pieces —
// extraction, the diff engine, the query surface, the proactive engine,
// and the audit log — are wired into the ten operations spec §6 names.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/internal/diffengine"
	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/internal/extraction"
	"github.com/knowgraph/memoryd/internal/observe"
	"github.com/knowgraph/memoryd/internal/proactive"
	"github.com/knowgraph/memoryd/internal/query"
	"github.com/knowgraph/memoryd/internal/queue/inbound"
	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
)

// CorrectionKind is the closed set of correction verbs user_correction
// accepts.
type CorrectionKind string

const (
	CorrectionRevise  CorrectionKind = "revise"
	CorrectionDelete  CorrectionKind = "delete"
	CorrectionRetract CorrectionKind = "retract"
)

// Correction is one user-initiated edit to the graph (spec §6's
// user_correction operation).
type Correction struct {
	Kind      CorrectionKind
	EntityRef string // node name or id the correction targets
	Field     string // relation name, for revise/retract
	OldValue  string
	NewValue  string
}

// ContextResult is get_context's return value: the extraction pipeline's
// summary of message, the subgraph it implies, and the structured plan
// used to fetch that subgraph.
type ContextResult struct {
	ExtractionSummary []string
	Subgraph          query.Result
	Plan              query.StructuredParams
}

// Subscription is a live handle on a push stream of graph events, returned
// by [Memoryd.Subscribe]. Events stops arriving once Close is called.
type Subscription struct {
	Events chan eventbus.Event
	id     string
	bus    *eventbus.Bus
}

// Close stops delivery and releases the underlying subscription.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s.id)
	close(s.Events)
}

// NewSubscription builds a [Subscription] backed by bus, for callers (such
// as test fakes of [Service]) that need to hand back a working Subscription
// without going through [Memoryd.Subscribe] itself.
func NewSubscription(bus *eventbus.Bus) *Subscription {
	return &Subscription{
		Events: make(chan eventbus.Event, 64),
		id:     uuid.NewString(),
		bus:    bus,
	}
}

// Service is the plain Go interface the MCP tool layer (and any future
// transport adapter) calls. Every method is scoped to a single user's
// graph by userID.
type Service interface {
	// ReportInteraction implements report_interaction: it enqueues the
	// interaction for asynchronous extraction and returns immediately.
	ReportInteraction(ctx context.Context, userID string, e inbound.Event) (id string, err error)

	// Query implements query: a structured, hop-bounded subgraph read.
	Query(ctx context.Context, userID string, params query.StructuredParams) (query.Result, error)

	// QueryNatural implements query_nl: a natural-language question
	// translated into a structured plan and executed.
	QueryNatural(ctx context.Context, userID, text string) (query.Result, error)

	// GetContext implements get_context: the compact extraction summary,
	// subgraph, and plan implied by message.
	GetContext(ctx context.Context, userID, message string) (ContextResult, error)

	// GetProbes implements get_probes: zero or one gated probe for the
	// given conversational context.
	GetProbes(ctx context.Context, userID string, activeTopics, entitiesInScope []string, channel string, turnNumber int) (outbound.Item, bool, error)

	// GetStarters implements get_starters: ranked conversation starters
	// eligible for delivery right now.
	GetStarters(ctx context.Context, userID, channel string, maxResults int) ([]outbound.Item, error)

	// UserCorrection implements user_correction: revise, delete, or retract
	// a fact at the user's explicit request.
	UserCorrection(ctx context.Context, userID string, c Correction) error

	// GetProvenance implements get_provenance: the audit trail for one edge.
	GetProvenance(ctx context.Context, userID, edgeID string) ([]audit.Entry, error)

	// GraphSnapshot implements graph_snapshot: a full export of the user's
	// graph.
	GraphSnapshot(ctx context.Context, userID string) (graph.Snapshot, error)

	// Subscribe implements subscribe/unsubscribe: a push stream of graph
	// events for userID, filtered to the given event types (or every type
	// if none given). Call [Subscription.Close] to unsubscribe.
	Subscribe(ctx context.Context, userID string, types ...eventbus.EventType) *Subscription
}

// StoreFactory returns the [graph.Store] scoped to one user.
type StoreFactory func(userID string) graph.Store

// EpisodeStoreFactory returns the [graph.EpisodeStore] scoped to one user.
type EpisodeStoreFactory func(userID string) graph.EpisodeStore

// Deps bundles every collaborator [New] wires into a [Memoryd]. Planner
// may be nil, in which case query_nl falls back to a whole-graph scan. The
// probe/starter synthesizer is configured on the proactive package's
// Config, not here.
type Deps struct {
	Stores     StoreFactory
	Episodes   EpisodeStoreFactory
	Locker     *graph.UserLocker
	Bus        *eventbus.Bus
	Audit      audit.Log
	Inbound    inbound.Queue
	Outbound   proactive.OutboundFactory
	Pipeline   *extraction.Pipeline
	Gater      *proactive.Gater
	Confidence confidence.Config
	Planner    llm.Provider
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Memoryd is the concrete [Service] implementation wiring every component
// package together.
type Memoryd struct {
	deps Deps
}

var _ Service = (*Memoryd)(nil)

// New constructs a [Memoryd] from deps.
func New(deps Deps) *Memoryd {
	return &Memoryd{deps: deps}
}

// Pipeline returns the extraction pipeline backing this service, for health
// checks that need to read the LLM small/large circuit breaker states.
func (m *Memoryd) Pipeline() *extraction.Pipeline {
	return m.deps.Pipeline
}

// sessionKeySep separates the owning user id from the caller-supplied
// session id within the inbound queue's SessionID column. The inbound
// queue is a single shared store across every user (see DESIGN.md's
// multi-tenancy note), so the user id has to travel inside the one string
// field idempotency is keyed on rather than in a column of its own.
const sessionKeySep = "\x1f"

func sessionKey(userID, sessionID string) string {
	return userID + sessionKeySep + sessionID
}

func splitSessionKey(key string) (userID, sessionID string) {
	userID, sessionID, _ = strings.Cut(key, sessionKeySep)
	return userID, sessionID
}

// ReportInteraction enqueues e for asynchronous extraction and returns the
// inbound queue's assigned id. The extraction → diff → apply pipeline runs
// out-of-band, driven by [internal/queue/inbound.Poller] calling
// [Memoryd.ProcessClaimed].
func (m *Memoryd) ReportInteraction(ctx context.Context, userID string, e inbound.Event) (string, error) {
	e.SessionID = sessionKey(userID, e.SessionID)
	id, err := m.deps.Inbound.Enqueue(ctx, e)
	if err != nil {
		return "", fmt.Errorf("service: report_interaction: %w", err)
	}
	return id, nil
}

// ProcessClaimed runs the extraction pipeline against one claimed inbound
// event, resolves each proposed edge's entity names to node ids, classifies
// and applies the resulting diff, and records an audit entry plus an
// event-bus notification per mutation. It is the [inbound.Processor] that
// [Build] wires into the inbound poller.
func (m *Memoryd) ProcessClaimed(ctx context.Context, claimed inbound.Claimed) error {
	ctx, span := observe.StartSpan(ctx, "service.ProcessClaimed")
	defer span.End()

	userID, sessionID := splitSessionKey(claimed.Event.SessionID)
	claimed.Event.SessionID = sessionID
	store := m.deps.Stores(userID)
	unlock := m.deps.Locker.Lock(userID)
	defer unlock()

	episodeID := uuid.NewString()
	draft := &extraction.Draft{
		RawText:                claimed.Event.Text,
		SessionID:              claimed.Event.SessionID,
		TurnNumber:             claimed.Event.TurnNumber,
		ChannelTag:             claimed.Event.ChannelTag,
		SpeechToTextConfidence: speechConfidence(claimed.Event.SpeechConfidence),
		KnownEntityNames:       knownEntityNames(ctx, store),
		EpisodeID:              episodeID,
	}
	draft = m.deps.Pipeline.Run(ctx, draft)

	correlationID := observe.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	if draft.HallucinationCount > 0 {
		m.appendAudit(ctx, audit.Entry{
			CorrelationID: correlationID,
			Kind:          audit.KindHallucinationDetected,
			Component:     "extraction",
			SessionID:     claimed.Event.SessionID,
			Reasoning:     fmt.Sprintf("discarded %d extraction result(s) exceeding the hallucination warning threshold: %s", draft.HallucinationCount, strings.Join(draft.Tags, ",")),
		})
	}

	var edgeIDs []string
	for _, p := range draft.Proposed {
		edgeID, err := m.applyProposed(ctx, store, userID, claimed.Event.SessionID, correlationID, p)
		if err != nil {
			m.deps.logger().ErrorContext(ctx, "service: applying proposed edge failed", "error", err)
			continue
		}
		if edgeID != "" {
			edgeIDs = append(edgeIDs, edgeID)
		}
	}
	for _, r := range draft.Retractions {
		edgeID, err := m.applyRetraction(ctx, store, userID, claimed.Event.SessionID, correlationID, r)
		if err != nil {
			m.deps.logger().ErrorContext(ctx, "service: applying retraction hint failed", "error", err)
			continue
		}
		if edgeID != "" {
			edgeIDs = append(edgeIDs, edgeID)
		}
	}

	if m.deps.Episodes != nil {
		episodes := m.deps.Episodes(userID)
		if _, err := episodes.RecordEpisode(ctx, graph.Episode{
			ID:         episodeID,
			OccurredAt: time.Now(),
			SessionID:  claimed.Event.SessionID,
			TurnNumber: claimed.Event.TurnNumber,
			ChannelTag: claimed.Event.ChannelTag,
			EdgeIDs:    edgeIDs,
		}); err != nil {
			m.deps.logger().WarnContext(ctx, "service: record episode failed", "error", err)
		}
	}

	return nil
}

// applyProposed resolves p's entity-name endpoints to node ids, classifies
// the mutation, applies it, and records the audit trail and event-bus
// notification. It returns the id of the edge it created or touched, empty
// if the decision was a probe rather than a mutation.
func (m *Memoryd) applyProposed(ctx context.Context, store graph.Store, userID, sessionID, correlationID string, p diffengine.Proposed) (string, error) {
	sourceID, err := m.resolveNodeID(ctx, store, p.SourceID)
	if err != nil {
		return "", fmt.Errorf("resolve source %q: %w", p.SourceID, err)
	}
	targetID, err := m.resolveNodeID(ctx, store, p.TargetID)
	if err != nil {
		return "", fmt.Errorf("resolve target %q: %w", p.TargetID, err)
	}
	p.SourceID = sourceID
	p.TargetID = targetID

	decision, err := diffengine.Classify(ctx, store, m.deps.Confidence, p)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}

	if decision.Op == diffengine.OpProbe {
		m.appendAudit(ctx, audit.Entry{
			CorrelationID: correlationID,
			Kind:          audit.KindProbeGenerated,
			Component:     "diffengine",
			SessionID:     sessionID,
			Reasoning:     decision.Reason,
		})
		return "", nil
	}

	applied, err := diffengine.Apply(ctx, store, m.deps.Confidence, decision, p)
	if err != nil {
		return "", fmt.Errorf("apply: %w", err)
	}
	m.auditApplied(ctx, correlationID, sessionID, decision, applied)
	m.publishApplied(ctx, userID, decision, applied)
	return applied.Edge.ID, nil
}

// applyRetraction resolves a user-spoken retraction hint against the graph
// and retracts the best-matching edge, if any. It returns the retracted
// edge's id, empty if no match was found.
func (m *Memoryd) applyRetraction(ctx context.Context, store graph.Store, userID, sessionID, correlationID string, r extraction.Retraction) (string, error) {
	var opts []graph.EdgeOpt
	if r.SourceHint != "" {
		if id, err := m.findNodeIDByName(ctx, store, r.SourceHint); err == nil {
			opts = append(opts, graph.WithSource(id))
		}
	}
	if r.TargetHint != "" {
		if id, err := m.findNodeIDByName(ctx, store, r.TargetHint); err == nil {
			opts = append(opts, graph.WithTarget(id))
		}
	}
	if r.RelationHint != "" {
		opts = append(opts, graph.WithRelation(r.RelationHint))
	}
	matches, err := store.Edges(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("lookup retraction target: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	target := matches[0]
	if err := store.RetractEdge(ctx, target.ID, r.Reason); err != nil {
		return "", fmt.Errorf("retract: %w", err)
	}
	m.appendAudit(ctx, audit.Entry{
		CorrelationID: correlationID,
		Kind:          audit.KindEdgeRetracted,
		Component:     "service",
		Operation:     audit.OpDelete,
		AffectedID:    target.ID,
		SessionID:     sessionID,
		Reasoning:     r.Reason,
	})
	m.deps.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventEdgeRetracted, UserID: userID, EdgeID: target.ID})
	return target.ID, nil
}

// resolveNodeID resolves a raw diffengine endpoint to a node id: if ref
// already names an existing node id it is returned unchanged, otherwise ref
// is treated as an entity name and upserted.
func (m *Memoryd) resolveNodeID(ctx context.Context, store graph.Store, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty entity reference")
	}
	if _, err := store.GetNode(ctx, ref); err == nil {
		return ref, nil
	}
	n, err := store.UpsertNode(ctx, graph.Node{Kind: graph.KindConcept, Name: ref})
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

// findNodeIDByName resolves a case-insensitive name to an existing node's
// id, without creating one if absent.
func (m *Memoryd) findNodeIDByName(ctx context.Context, store graph.Store, name string) (string, error) {
	matches, err := store.FindNodes(ctx, graph.WithNameContains(name))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", graph.ErrNotFound
	}
	return matches[0].ID, nil
}

func (m *Memoryd) auditApplied(ctx context.Context, correlationID, sessionID string, decision diffengine.Decision, applied diffengine.Applied) {
	kind, op := auditKindForOp(decision.Op)
	m.appendAudit(ctx, audit.Entry{
		CorrelationID:   correlationID,
		Kind:            kind,
		Component:       "diffengine",
		Operation:       op,
		AffectedID:      applied.Edge.ID,
		ConfidenceAfter: &applied.Edge.Confidence,
		SessionID:       sessionID,
		Reasoning:       decision.Reason,
	})
}

func auditKindForOp(op diffengine.Op) (audit.EventKind, audit.Operation) {
	switch op {
	case diffengine.OpInsert:
		return audit.KindEdgeInserted, audit.OpInsert
	case diffengine.OpReinforce:
		return audit.KindEdgeReinforced, audit.OpReinforce
	case diffengine.OpRevise:
		return audit.KindEdgeRevised, audit.OpRevise
	case diffengine.OpMerge:
		return audit.KindEdgeMerged, audit.OpInsert
	default:
		return audit.KindEdgeSkipped, ""
	}
}

func (m *Memoryd) publishApplied(ctx context.Context, userID string, decision diffengine.Decision, applied diffengine.Applied) {
	eventType := eventbus.EventEdgeAdded
	if decision.Op == diffengine.OpReinforce || decision.Op == diffengine.OpRevise {
		eventType = eventbus.EventEdgeUpdated
	}
	m.deps.Bus.Publish(ctx, eventbus.Event{Type: eventType, UserID: userID, EdgeID: applied.Edge.ID})
}

func (m *Memoryd) appendAudit(ctx context.Context, e audit.Entry) {
	if m.deps.Audit == nil {
		return
	}
	if _, err := m.deps.Audit.Append(ctx, e); err != nil {
		m.deps.logger().WarnContext(ctx, "service: audit append failed", "error", err)
	}
}

// knownEntityNames collects every node name currently in store, used to
// tell extraction's entity stage which entities are already known (so it
// can mark "new" correctly).
func knownEntityNames(ctx context.Context, store graph.Store) map[string]bool {
	nodes, err := store.FindNodes(ctx)
	if err != nil {
		return nil
	}
	names := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		names[strings.ToLower(n.Name)] = true
	}
	return names
}

func speechConfidence(p *float64) float64 {
	if p == nil {
		return 1.0
	}
	return *p
}

// Query implements query_structured.
func (m *Memoryd) Query(ctx context.Context, userID string, params query.StructuredParams) (query.Result, error) {
	return query.QueryStructured(ctx, m.deps.Stores(userID), params)
}

// QueryNatural implements query_natural.
func (m *Memoryd) QueryNatural(ctx context.Context, userID, text string) (query.Result, error) {
	return query.QueryNatural(ctx, m.deps.Stores(userID), m.deps.Planner, text, "", time.Now())
}

// GetContext implements get_context: it runs the extraction pipeline over
// message without applying anything (a read-only preview, unlike
// ReportInteraction), then resolves the entities it found into a subgraph.
func (m *Memoryd) GetContext(ctx context.Context, userID, message string) (ContextResult, error) {
	store := m.deps.Stores(userID)
	draft := &extraction.Draft{
		RawText:          message,
		KnownEntityNames: knownEntityNames(ctx, store),
	}
	draft = m.deps.Pipeline.Run(ctx, draft)

	summary := make([]string, 0, len(draft.Entities)+len(draft.Proposed))
	entityIDs := make([]string, 0, len(draft.Entities))
	for _, e := range draft.Entities {
		summary = append(summary, fmt.Sprintf("%s (%s)", e.Name, e.Kind))
		if id, err := m.findNodeIDByName(ctx, store, e.Name); err == nil {
			entityIDs = append(entityIDs, id)
		}
	}
	for _, p := range draft.Proposed {
		summary = append(summary, fmt.Sprintf("%s %s %s", p.SourceID, p.Relation, p.TargetID))
	}

	plan := query.StructuredParams{Entities: entityIDs, MaxHops: 1}
	subgraph, err := query.QueryStructured(ctx, store, plan)
	if err != nil {
		return ContextResult{}, fmt.Errorf("service: get_context: %w", err)
	}
	return ContextResult{ExtractionSummary: summary, Subgraph: subgraph, Plan: plan}, nil
}

// GetProbes implements get_probes via the shared, per-user-gated
// [proactive.Gater].
func (m *Memoryd) GetProbes(ctx context.Context, userID string, activeTopics, entitiesInScope []string, channel string, turnNumber int) (outbound.Item, bool, error) {
	if m.deps.Gater == nil {
		return outbound.Item{}, false, nil
	}
	return m.deps.Gater.Deliver(ctx, userID, activeTopics, entitiesInScope, channel, turnNumber, time.Now())
}

// GetStarters implements get_starters: the currently-eligible starter
// items, ranked by context-fit score, capped at maxResults.
func (m *Memoryd) GetStarters(ctx context.Context, userID, channel string, maxResults int) ([]outbound.Item, error) {
	q := m.deps.Outbound(userID)
	items, err := q.Peek(ctx, nil, nil, time.Now(), maxResults)
	if err != nil {
		return nil, fmt.Errorf("service: get_starters: %w", err)
	}
	starters := items[:0]
	for _, it := range items {
		if it.Kind == outbound.KindStarter {
			starters = append(starters, it)
		}
	}
	return starters, nil
}

// UserCorrection implements user_correction.
func (m *Memoryd) UserCorrection(ctx context.Context, userID string, c Correction) error {
	store := m.deps.Stores(userID)
	unlock := m.deps.Locker.Lock(userID)
	defer unlock()

	correlationID := uuid.NewString()
	switch c.Kind {
	case CorrectionDelete:
		nodeID, err := m.findNodeIDByName(ctx, store, c.EntityRef)
		if err != nil {
			return fmt.Errorf("service: user_correction delete: %w", err)
		}
		if err := store.DeleteNode(ctx, nodeID); err != nil {
			return fmt.Errorf("service: user_correction delete: %w", err)
		}
		m.appendAudit(ctx, audit.Entry{
			CorrelationID: correlationID, Kind: audit.KindUserCorrectionApplied,
			Component: "service", Operation: audit.OpDelete, AffectedID: nodeID,
		})
		m.deps.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventUserCorrection, UserID: userID, NodeID: nodeID})
		return nil

	case CorrectionRetract:
		_, err := m.applyRetraction(ctx, store, userID, "", correlationID, extraction.Retraction{
			SourceHint:   c.EntityRef,
			RelationHint: c.Field,
			Reason:       "user requested retraction",
		})
		return err

	case CorrectionRevise:
		nodeID, err := m.findNodeIDByName(ctx, store, c.EntityRef)
		if err != nil {
			return fmt.Errorf("service: user_correction revise: %w", err)
		}
		targetID, err := m.resolveNodeID(ctx, store, c.NewValue)
		if err != nil {
			return fmt.Errorf("service: user_correction revise: %w", err)
		}
		existing, err := store.Edges(ctx, graph.WithSource(nodeID), graph.WithRelation(c.Field))
		if err != nil {
			return fmt.Errorf("service: user_correction revise: %w", err)
		}
		replacement := graph.Edge{
			SourceID:   nodeID,
			TargetID:   targetID,
			Relation:   c.Field,
			Confidence: m.deps.Confidence.BaseByMechanism[graph.ProvenanceUserCorrection],
			State:      graph.EdgeActive,
			Provenance: graph.ProvenanceUserCorrection,
		}
		var newEdge graph.Edge
		if len(existing) > 0 {
			newEdge, err = store.ReviseEdge(ctx, existing[0].ID, replacement)
		} else {
			newEdge, err = store.CreateEdge(ctx, replacement)
		}
		if err != nil {
			return fmt.Errorf("service: user_correction revise: %w", err)
		}
		m.appendAudit(ctx, audit.Entry{
			CorrelationID: correlationID, Kind: audit.KindUserCorrectionApplied,
			Component: "service", Operation: audit.OpRevise, AffectedID: newEdge.ID,
		})
		m.deps.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventUserCorrection, UserID: userID, EdgeID: newEdge.ID})
		return nil

	default:
		return fmt.Errorf("service: user_correction: unknown kind %q", c.Kind)
	}
}

// GetProvenance implements get_provenance: the full audit trail for one
// edge, oldest first.
func (m *Memoryd) GetProvenance(ctx context.Context, userID, edgeID string) ([]audit.Entry, error) {
	entries, err := m.deps.Audit.Query(ctx, audit.WithAffectedID(edgeID))
	if err != nil {
		return nil, fmt.Errorf("service: get_provenance: %w", err)
	}
	return entries, nil
}

// GraphSnapshot implements graph_snapshot.
func (m *Memoryd) GraphSnapshot(ctx context.Context, userID string) (graph.Snapshot, error) {
	snap, err := m.deps.Stores(userID).Snapshot(ctx)
	if err != nil {
		return graph.Snapshot{}, fmt.Errorf("service: graph_snapshot: %w", err)
	}
	return snap, nil
}

// Subscribe implements subscribe/unsubscribe: events matching types (or
// every type when none given) are delivered to the returned Subscription's
// channel until [Subscription.Close] is called.
func (m *Memoryd) Subscribe(ctx context.Context, userID string, types ...eventbus.EventType) *Subscription {
	sub := NewSubscription(m.deps.Bus)
	m.deps.Bus.Subscribe(sub.id, func(ctx context.Context, e eventbus.Event) error {
		if e.UserID != "" && e.UserID != userID {
			return nil
		}
		select {
		case sub.Events <- e:
		default:
		}
		return nil
	}, types...)
	return sub
}
