package workers

import (
	"context"
	"testing"

	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/graph/memstore"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

type fakeInferrer struct {
	content string
}

func (f fakeInferrer) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: f.content}, nil
}
func (f fakeInferrer) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}
func (f fakeInferrer) CountTokens([]types.Message) (int, error) { return 0, nil }
func (f fakeInferrer) Capabilities() types.ModelCapabilities    { return types.ModelCapabilities{} }

func TestRunInferenceCycleEmitsCandidateEdges(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	alex, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Alex"})
	acme, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindOrganization, Name: "Acme"})
	_, _ = store.CreateEdge(ctx, graph.Edge{
		SourceID: alex.ID, TargetID: acme.ID, Relation: "works_at",
		Confidence: 0.9, State: graph.EdgeActive,
	})

	inferrer := fakeInferrer{content: `[{"source":"` + alex.ID + `","target":"` + acme.ID + `","relation":"commutes_to"}]`}
	cfg := Config{Confidence: confidence.DefaultConfig(), Inferrer: inferrer, InferenceCandidateCap: 10}

	if err := runInferenceCycle(ctx, store, cfg, "u1"); err != nil {
		t.Fatalf("runInferenceCycle() error = %v", err)
	}

	edges, _ := store.Edges(ctx, graph.WithRelation("commutes_to"))
	if len(edges) != 1 {
		t.Fatalf("commutes_to edges = %d, want 1", len(edges))
	}
	if edges[0].Provenance != graph.ProvenanceInferential {
		t.Errorf("Provenance = %v, want inferential", edges[0].Provenance)
	}
}

func TestRunInferenceCycleRespectsCandidateCap(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	alex, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindPerson, Name: "Alex"})
	acme, _ := store.UpsertNode(ctx, graph.Node{Kind: graph.KindOrganization, Name: "Acme"})
	_, _ = store.CreateEdge(ctx, graph.Edge{SourceID: alex.ID, TargetID: acme.ID, Relation: "works_at", Confidence: 0.9, State: graph.EdgeActive})

	inferrer := fakeInferrer{content: `[{"source":"a","target":"b","relation":"r1"},{"source":"a","target":"b","relation":"r2"}]`}
	cfg := Config{Confidence: confidence.DefaultConfig(), Inferrer: inferrer, InferenceCandidateCap: 1}

	if err := runInferenceCycle(ctx, store, cfg, "u1"); err != nil {
		t.Fatalf("runInferenceCycle() error = %v", err)
	}

	edges, _ := store.Edges(ctx, graph.WithSource("a"))
	if len(edges) != 1 {
		t.Errorf("edges from fake source = %d, want 1 (capped)", len(edges))
	}
}

func TestRunInferenceCycleNoopWithoutInferrer(t *testing.T) {
	store := memstore.New()
	cfg := Config{Confidence: confidence.DefaultConfig()}
	if err := runInferenceCycle(context.Background(), store, cfg, "u1"); err != nil {
		t.Fatalf("runInferenceCycle() error = %v", err)
	}
}
