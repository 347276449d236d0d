package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

const inferenceHopDepth = 3

const inferenceSystemPrompt = `You look at a small knowledge graph neighborhood (one node and its 2-3 hop
neighbors, as relation triples) and hypothesize new relations that plausibly follow from the pattern but are
not already present. Respond with a JSON array only. Each element: {"source": string, "target": string,
"relation": string}. Only hypothesize relations you can justify from the given triples; an empty array is a
valid response when nothing follows.`

// runInferenceCycleAllUsers runs the inference cycle (spec §4.8) for every
// user.
func (m *Manager) runInferenceCycleAllUsers(ctx context.Context) {
	start := time.Now()
	m.forEachUser(ctx, "inference", func(ctx context.Context, store graph.Store, userID string) error {
		return runInferenceCycle(ctx, store, m.cfg, userID)
	})
	m.cfg.metrics().RecordWorkerCycle(ctx, "inference", time.Since(start).Seconds())
}

// runInferenceCycle, for every node with reachable neighbors and at least
// one outgoing edge, sends that node's own outgoing edges to the large-LLM
// capability to hypothesize new relations, emitting candidate edges at the
// inferential base confidence, capped at cfg.InferenceCandidateCap per user
// per run. The breadth-first neighbor walk (up to 20 nodes) only supplies
// target names; edges that do not start at the node are not sent.
func runInferenceCycle(ctx context.Context, store graph.Store, cfg Config, userID string) error {
	if cfg.Inferrer == nil {
		return nil // no large-LLM capability configured for inference
	}

	nodes, err := store.FindNodes(ctx)
	if err != nil {
		return err
	}

	emitted := 0
	for _, n := range nodes {
		if emitted >= cfg.InferenceCandidateCap {
			break
		}

		neighbors, err := store.Neighbors(ctx, n.ID, 20, graph.WithMinConfidence(cfg.Confidence.MinStorageThreshold))
		if err != nil || len(neighbors) == 0 {
			continue
		}
		edges, err := store.Edges(ctx, graph.WithSource(n.ID))
		if err != nil || len(edges) == 0 {
			continue
		}

		triples := describeTriples(n, neighbors, edges)
		resp, err := cfg.Inferrer.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: inferenceSystemPrompt,
			Messages:     []types.Message{{Role: "user", Content: triples}},
			Temperature:  0.2,
		})
		if err != nil {
			continue
		}

		for _, cand := range gjson.Parse(resp.Content).Array() {
			if emitted >= cfg.InferenceCandidateCap {
				break
			}
			source := cand.Get("source").String()
			target := cand.Get("target").String()
			relation := cand.Get("relation").String()
			if source == "" || target == "" || relation == "" {
				continue
			}
			e, err := store.CreateEdge(ctx, graph.Edge{
				SourceID:     source,
				TargetID:     target,
				Relation:     relation,
				Confidence:   cfg.Confidence.BaseByMechanism[graph.ProvenanceInferential],
				TemporalType: graph.TemporalState,
				State:        graph.EdgeProposed,
				Provenance:   graph.ProvenanceInferential,
			})
			if err != nil {
				continue
			}
			emitted++
			if cfg.Bus != nil {
				cfg.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventEdgeAdded, UserID: userID, EdgeID: e.ID, Occurred: time.Now()})
			}
			if cfg.Audit != nil {
				_, _ = cfg.Audit.Append(ctx, audit.Entry{
					Kind:       audit.KindEdgeInserted,
					Component:  "workers.inference",
					Operation:  audit.OpInsert,
					AffectedID: e.ID,
					SessionID:  userID,
					Reasoning:  "inference cycle hypothesis",
				})
			}
		}
	}

	if cfg.Audit != nil {
		_, _ = cfg.Audit.Append(ctx, audit.Entry{
			Kind:      audit.KindInferenceCycleRun,
			Component: "workers.inference",
			SessionID: userID,
			Reasoning: fmt.Sprintf("emitted %d candidate edges", emitted),
		})
	}
	return nil
}

// describeTriples renders n's direct outgoing edges as plain-text relation
// triples for the inference prompt, naming targets from neighbors; edges
// between neighbors are not rendered.
func describeTriples(n graph.Node, neighbors []graph.Node, edges []graph.Edge) string {
	names := make(map[string]string, len(neighbors)+1)
	names[n.ID] = n.Name
	for _, nb := range neighbors {
		names[nb.ID] = nb.Name
	}

	var b strings.Builder
	for _, e := range edges {
		target := names[e.TargetID]
		if target == "" {
			target = e.TargetID
		}
		fmt.Fprintf(&b, "%s %s %s\n", n.Name, e.Relation, target)
	}
	return strings.TrimSpace(fmt.Sprintf("depth %d hop neighborhood:\n%s", inferenceHopDepth, b.String()))
}
