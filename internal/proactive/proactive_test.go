package proactive

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/knowgraph/memoryd/internal/queue/outbound"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

// fakeQueue is a minimal in-memory [outbound.Queue] for tests: it ranks
// with [outbound.Score] against [outbound.MatchThreshold] but has no
// cooldown decay, just enough to assert enqueue/retrieve behavior.
type fakeQueue struct {
	items map[string]outbound.Item
}

func newFakeQueue() *fakeQueue { return &fakeQueue{items: make(map[string]outbound.Item)} }

var _ outbound.Queue = (*fakeQueue)(nil)

func (q *fakeQueue) Enqueue(_ context.Context, it outbound.Item) (string, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	q.items[it.ID] = it
	return it.ID, nil
}

func (q *fakeQueue) GetProbe(_ context.Context, activeTopics, entitiesInScope []string, _ string, turnNumber int, now time.Time) (outbound.Item, bool, error) {
	best := outbound.Item{}
	bestScore := -1.0
	for _, it := range q.items {
		if it.MinTurn > turnNumber || it.EarliestDelivery.After(now) {
			continue
		}
		if it.CooldownUntil != nil && it.CooldownUntil.After(now) {
			continue
		}
		score := outbound.Score(it, activeTopics, entitiesInScope, now, outbound.DefaultScoreWeights())
		if score < outbound.MatchThreshold || score <= bestScore {
			continue
		}
		best = it
		bestScore = score
	}
	if bestScore < 0 {
		return outbound.Item{}, false, nil
	}
	delete(q.items, best.ID)
	return best, true, nil
}

func (q *fakeQueue) Peek(_ context.Context, activeTopics, entitiesInScope []string, now time.Time, limit int) ([]outbound.Item, error) {
	var out []outbound.Item
	for _, it := range q.items {
		if it.EarliestDelivery.After(now) {
			continue
		}
		if it.CooldownUntil != nil && it.CooldownUntil.After(now) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		return outbound.Score(out[i], activeTopics, entitiesInScope, now, outbound.DefaultScoreWeights()) >
			outbound.Score(out[j], activeTopics, entitiesInScope, now, outbound.DefaultScoreWeights())
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *fakeQueue) Deflect(_ context.Context, id string, cooldown time.Duration, priorityMultiplier float64) error {
	it, ok := q.items[id]
	if !ok {
		return nil
	}
	until := time.Now().Add(cooldown)
	it.CooldownUntil = &until
	it.Priority *= priorityMultiplier
	q.items[id] = it
	return nil
}

func (q *fakeQueue) Remove(_ context.Context, id string) error {
	delete(q.items, id)
	return nil
}

// fakeSynthesizer is a minimal [llm.Provider] fake returning a fixed
// completion body.
type fakeSynthesizer struct {
	content string
	err     error
}

func (f fakeSynthesizer) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func (f fakeSynthesizer) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (f fakeSynthesizer) CountTokens([]types.Message) (int, error) { return 0, nil }

func (f fakeSynthesizer) Capabilities() types.ModelCapabilities { return types.ModelCapabilities{} }
