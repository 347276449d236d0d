package graphtool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/internal/queue/inbound"
	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/internal/query"
	"github.com/knowgraph/memoryd/internal/service"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// fakeService is a hand-rolled service.Service stand-in recording its last
// call's userID and returning whatever the test configures.
type fakeService struct {
	lastUserID string

	reportID  string
	reportErr error

	queryResult query.Result
	queryErr    error

	correctionErr error

	provenanceEntries []audit.Entry
	provenanceErr     error

	snapshot    graph.Snapshot
	snapshotErr error

	probeItem outbound.Item
	probeOK   bool
	probeErr  error

	starters    []outbound.Item
	startersErr error

	subEvents []eventbus.Event
}

var _ service.Service = (*fakeService)(nil)

func (f *fakeService) ReportInteraction(ctx context.Context, userID string, e inbound.Event) (string, error) {
	f.lastUserID = userID
	return f.reportID, f.reportErr
}

func (f *fakeService) Query(ctx context.Context, userID string, params query.StructuredParams) (query.Result, error) {
	f.lastUserID = userID
	return f.queryResult, f.queryErr
}

func (f *fakeService) QueryNatural(ctx context.Context, userID, text string) (query.Result, error) {
	f.lastUserID = userID
	return f.queryResult, f.queryErr
}

func (f *fakeService) GetContext(ctx context.Context, userID, message string) (service.ContextResult, error) {
	f.lastUserID = userID
	return service.ContextResult{Subgraph: f.queryResult}, f.queryErr
}

func (f *fakeService) GetProbes(ctx context.Context, userID string, activeTopics, entitiesInScope []string, channel string, turnNumber int) (outbound.Item, bool, error) {
	f.lastUserID = userID
	return f.probeItem, f.probeOK, f.probeErr
}

func (f *fakeService) GetStarters(ctx context.Context, userID, channel string, maxResults int) ([]outbound.Item, error) {
	f.lastUserID = userID
	return f.starters, f.startersErr
}

func (f *fakeService) UserCorrection(ctx context.Context, userID string, c service.Correction) error {
	f.lastUserID = userID
	return f.correctionErr
}

func (f *fakeService) GetProvenance(ctx context.Context, userID, edgeID string) ([]audit.Entry, error) {
	f.lastUserID = userID
	return f.provenanceEntries, f.provenanceErr
}

func (f *fakeService) GraphSnapshot(ctx context.Context, userID string) (graph.Snapshot, error) {
	f.lastUserID = userID
	return f.snapshot, f.snapshotErr
}

func (f *fakeService) Subscribe(ctx context.Context, userID string, types ...eventbus.EventType) *service.Subscription {
	f.lastUserID = userID
	sub := service.NewSubscription(eventbus.New())
	for _, e := range f.subEvents {
		sub.Events <- e
	}
	return sub
}

// ─────────────────────────────────────────────────────────────────────────────
// report_interaction
// ─────────────────────────────────────────────────────────────────────────────

func TestReportInteraction_Success(t *testing.T) {
	t.Parallel()
	svc := &fakeService{reportID: "queued-1"}
	handler := makeReportInteractionHandler(svc, "user-1")

	out, err := handler(context.Background(), `{"session_id":"s1","text":"hello there"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.lastUserID != "user-1" {
		t.Errorf("userID = %q, want user-1", svc.lastUserID)
	}

	var res map[string]string
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res["queued_id"] != "queued-1" {
		t.Errorf("queued_id = %q, want queued-1", res["queued_id"])
	}
}

func TestReportInteraction_EmptyText(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	handler := makeReportInteractionHandler(svc, "user-1")

	_, err := handler(context.Background(), `{"session_id":"s1","text":""}`)
	if err == nil {
		t.Error("expected error for empty text")
	}
	if !strings.HasPrefix(err.Error(), "graph tool:") {
		t.Errorf("error %q should be prefixed with 'graph tool:'", err.Error())
	}
}

func TestReportInteraction_BadTimestamp(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	handler := makeReportInteractionHandler(svc, "user-1")

	_, err := handler(context.Background(), `{"session_id":"s1","text":"hi","client_timestamp":"not-a-time"}`)
	if err == nil {
		t.Error("expected error for invalid client_timestamp")
	}
}

func TestReportInteraction_QueueError(t *testing.T) {
	t.Parallel()
	svc := &fakeService{reportErr: errors.New("queue full")}
	handler := makeReportInteractionHandler(svc, "user-1")

	_, err := handler(context.Background(), `{"session_id":"s1","text":"hi"}`)
	if err == nil {
		t.Error("expected error from service")
	}
}

func TestReportInteraction_BadJSON(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	handler := makeReportInteractionHandler(svc, "user-1")

	_, err := handler(context.Background(), `{bad json}`)
	if err == nil {
		t.Error("expected error for bad JSON")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// query / query_nl
// ─────────────────────────────────────────────────────────────────────────────

func TestQuery_Success(t *testing.T) {
	t.Parallel()
	svc := &fakeService{queryResult: query.Result{
		Nodes: []graph.Node{{ID: "n1", Name: "Alice"}},
	}}
	handler := makeQueryHandler(svc, "user-1")

	out, err := handler(context.Background(), `{"entities":["Alice"],"max_hops":2}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res query.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].Name != "Alice" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestQueryNatural_EmptyText(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	handler := makeQueryNaturalHandler(svc, "user-1")

	_, err := handler(context.Background(), `{"text":""}`)
	if err == nil {
		t.Error("expected error for empty text")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// user_correction
// ─────────────────────────────────────────────────────────────────────────────

func TestUserCorrection_UnknownKind(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	handler := makeUserCorrectionHandler(svc, "user-1")

	_, err := handler(context.Background(), `{"kind":"teleport","entity_ref":"Alice"}`)
	if err == nil {
		t.Error("expected error for unknown correction kind")
	}
}

func TestUserCorrection_Success(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	handler := makeUserCorrectionHandler(svc, "user-1")

	out, err := handler(context.Background(), `{"kind":"delete","entity_ref":"Alice"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res map[string]bool
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if !res["applied"] {
		t.Error("expected applied=true")
	}
}

func TestUserCorrection_MissingEntityRef(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	handler := makeUserCorrectionHandler(svc, "user-1")

	_, err := handler(context.Background(), `{"kind":"delete","entity_ref":""}`)
	if err == nil {
		t.Error("expected error for missing entity_ref")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// get_probes
// ─────────────────────────────────────────────────────────────────────────────

func TestGetProbes_NotDelivered(t *testing.T) {
	t.Parallel()
	svc := &fakeService{probeOK: false}
	handler := makeGetProbesHandler(svc, "user-1")

	out, err := handler(context.Background(), `{"turn_number":3}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res["delivered"] != false {
		t.Errorf("delivered = %v, want false", res["delivered"])
	}
}

func TestGetProbes_Delivered(t *testing.T) {
	t.Parallel()
	svc := &fakeService{probeOK: true, probeItem: outbound.Item{ID: "probe-1", Kind: outbound.KindProbe}}
	handler := makeGetProbesHandler(svc, "user-1")

	out, err := handler(context.Background(), `{"turn_number":3}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "probe-1") {
		t.Errorf("expected output to contain probe-1, got %s", out)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// subscribe
// ─────────────────────────────────────────────────────────────────────────────

func TestSubscribe_CollectsBufferedEvents(t *testing.T) {
	t.Parallel()
	svc := &fakeService{subEvents: []eventbus.Event{
		{Type: eventbus.EventEdgeAdded, UserID: "user-1"},
	}}
	handler := makeSubscribeHandler(svc, "user-1")

	out, err := handler(context.Background(), `{"wait_ms":50}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res map[string][]eventbus.Event
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(res["events"]) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(res["events"]))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// NewTools
// ─────────────────────────────────────────────────────────────────────────────

func TestNewTools_ReturnsExpectedTools(t *testing.T) {
	t.Parallel()
	svc := &fakeService{}
	ts := NewTools(svc, "user-1")

	wantNames := map[string]bool{
		"report_interaction": true,
		"query":              true,
		"query_nl":           true,
		"get_context":        true,
		"get_probes":         true,
		"get_starters":       true,
		"user_correction":    true,
		"get_provenance":     true,
		"graph_snapshot":     true,
		"subscribe":          true,
	}
	if len(ts) != len(wantNames) {
		t.Fatalf("NewTools returned %d tools, want %d", len(ts), len(wantNames))
	}

	for _, tool := range ts {
		if !wantNames[tool.Definition.Name] {
			t.Errorf("unexpected tool name %q", tool.Definition.Name)
		}
		delete(wantNames, tool.Definition.Name)
		if tool.Handler == nil {
			t.Errorf("tool %q has nil Handler", tool.Definition.Name)
		}
	}
	for missing := range wantNames {
		t.Errorf("NewTools missing tool %q", missing)
	}
}
