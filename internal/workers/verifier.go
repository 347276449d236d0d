package workers

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

const verifierSystemPrompt = `You check whether a claimed fact is still true given general knowledge and
common sense about how such facts change over time. Respond with a JSON object only:
{"unchanged": bool, "revised": string}. "revised" is a corrected assertion when unchanged is false, and
should be empty when unchanged is true.`

// llmVerifier adapts an [llm.Provider] to [Verifier] by asking the model
// whether a claim still holds.
type llmVerifier struct {
	provider llm.Provider
}

// NewLLMVerifier wraps provider as a [Verifier] for the revision cycle. It
// issues one Complete call per claim with [verifierSystemPrompt] and parses
// the model's unchanged/revised verdict.
func NewLLMVerifier(provider llm.Provider) Verifier {
	return llmVerifier{provider: provider}
}

func (v llmVerifier) Verify(ctx context.Context, claim string) (unchanged bool, revised string, err error) {
	resp, err := v.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: verifierSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: claim}},
		Temperature:  0,
	})
	if err != nil {
		return false, "", fmt.Errorf("workers: llm verifier: %w", err)
	}

	result := gjson.Parse(resp.Content)
	if !result.Get("unchanged").Exists() {
		return false, "", fmt.Errorf("workers: llm verifier: unparseable response %q", resp.Content)
	}
	return result.Get("unchanged").Bool(), result.Get("revised").String(), nil
}
