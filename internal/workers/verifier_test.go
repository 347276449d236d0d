package workers

import (
	"context"
	"testing"

	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

type fakeCompleter struct {
	content string
}

func (f fakeCompleter) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (f fakeCompleter) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f fakeCompleter) CountTokens([]types.Message) (int, error) { return 0, nil }

func (f fakeCompleter) Capabilities() types.ModelCapabilities { return types.ModelCapabilities{} }

func TestLLMVerifierParsesUnchangedClaim(t *testing.T) {
	v := NewLLMVerifier(fakeCompleter{content: `{"unchanged": true, "revised": ""}`})
	unchanged, revised, err := v.Verify(context.Background(), "alice works at acme corp")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !unchanged || revised != "" {
		t.Errorf("Verify() = (%v, %q), want (true, \"\")", unchanged, revised)
	}
}

func TestLLMVerifierParsesRevisedClaim(t *testing.T) {
	v := NewLLMVerifier(fakeCompleter{content: `{"unchanged": false, "revised": "alice works at beta corp"}`})
	unchanged, revised, err := v.Verify(context.Background(), "alice works at acme corp")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if unchanged || revised != "alice works at beta corp" {
		t.Errorf("Verify() = (%v, %q), want (false, \"alice works at beta corp\")", unchanged, revised)
	}
}

func TestLLMVerifierErrorsOnUnparseableResponse(t *testing.T) {
	v := NewLLMVerifier(fakeCompleter{content: "not json"})
	if _, _, err := v.Verify(context.Background(), "claim"); err == nil {
		t.Error("Verify() error = nil, want non-nil for unparseable response")
	}
}
