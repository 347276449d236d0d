package query

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

const naturalSystemPrompt = `You translate a natural-language question about a user's knowledge graph into a
structured query plan. Respond with a JSON object only: {"entities": [string], "relations": [string],
"min_confidence": number, "max_hops": integer}. "entities" are entity names mentioned or implied by the
question (empty means search the whole graph); "relations" restricts which relation types to follow (empty
means follow all); omit fields you have no opinion on.`

// naturalFallbackLimit caps how many nodes the whole-graph recency×confidence
// scan returns when the planner's output cannot be parsed.
const naturalFallbackLimit = 20

// recencyFallbackHalfLife is the half-life used to weight edge recency in
// the whole-graph fallback scan (spec §4.10: "ranked by recency ×
// confidence").
const recencyFallbackHalfLife = 30 * 24 * time.Hour

// QueryNatural implements query_natural (spec §4.10): it asks the
// large-LLM capability to translate text into a structured plan (honoring
// schemaHint, a description of the node/relation vocabulary available),
// executes that plan via [QueryStructured], and falls back to a whole-graph
// scan ranked by recency × confidence when planner is nil, the planner call
// fails, or its plan cannot be parsed or executed. A plan that names no
// entities is executed from every node rather than falling back.
func QueryNatural(ctx context.Context, store graph.Store, planner llm.Provider, text, schemaHint string, now time.Time) (Result, error) {
	if planner != nil {
		if result, ok := runPlan(ctx, store, planner, text, schemaHint); ok {
			return result, nil
		}
	}
	return wholeGraphFallback(ctx, store, now)
}

// runPlan asks planner for a structured plan and executes it. ok is false
// when the planner is unavailable or its output cannot be parsed into a
// usable plan, signaling the caller to fall back.
func runPlan(ctx context.Context, store graph.Store, planner llm.Provider, text, schemaHint string) (Result, bool) {
	prompt := text
	if schemaHint != "" {
		prompt = schemaHint + "\n\n" + text
	}
	resp, err := planner.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: naturalSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: prompt}},
		Temperature:  0,
	})
	if err != nil {
		return Result{}, false
	}

	parsed := gjson.Parse(resp.Content)
	if !parsed.IsObject() {
		return Result{}, false
	}

	var entityNames []string
	for _, v := range parsed.Get("entities").Array() {
		entityNames = append(entityNames, v.String())
	}
	var relations []string
	for _, v := range parsed.Get("relations").Array() {
		relations = append(relations, v.String())
	}
	minConfidence := parsed.Get("min_confidence").Float()
	maxHops := int(parsed.Get("max_hops").Int())

	entityIDs, err := resolveEntityIDs(ctx, store, entityNames)
	if err != nil {
		return Result{}, false
	}

	result, err := QueryStructured(ctx, store, StructuredParams{
		Entities:      entityIDs,
		Relations:     relations,
		MinConfidence: minConfidence,
		MaxHops:       maxHops,
	})
	if err != nil {
		return Result{}, false
	}
	return result, true
}

// resolveEntityIDs resolves planner-supplied entity names to node IDs via a
// case-insensitive name match, skipping names that resolve to nothing.
func resolveEntityIDs(ctx context.Context, store graph.Store, names []string) ([]string, error) {
	var ids []string
	for _, name := range names {
		if name == "" {
			continue
		}
		matches, err := store.FindNodes(ctx, graph.WithNameContains(name))
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			ids = append(ids, matches[0].ID)
		}
	}
	return ids, nil
}

// wholeGraphFallback implements query_natural's unparseable-plan fallback:
// a broad search over the whole graph ranked by recency × confidence,
// capped at naturalFallbackLimit nodes.
func wholeGraphFallback(ctx context.Context, store graph.Store, now time.Time) (Result, error) {
	edges, err := store.Edges(ctx)
	if err != nil {
		return Result{}, err
	}
	ranked := make([]graph.Edge, len(edges))
	copy(ranked, edges)
	sortEdgesByRecencyConfidence(ranked, now)
	if len(ranked) > naturalFallbackLimit {
		ranked = ranked[:naturalFallbackLimit]
	}

	nodeIDs := make(map[string]bool)
	for _, e := range ranked {
		nodeIDs[e.SourceID] = true
		nodeIDs[e.TargetID] = true
	}
	var nodes []graph.Node
	for id := range nodeIDs {
		n, err := store.GetNode(ctx, id)
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	sortNodes(nodes)
	return Result{Nodes: nodes, Edges: ranked}, nil
}

// sortEdgesByRecencyConfidence orders edges descending by
// recencyWeight(LastReinforced) × Confidence.
func sortEdgesByRecencyConfidence(edges []graph.Edge, now time.Time) {
	score := func(e graph.Edge) float64 { return recencyWeight(e.LastReinforced, now) * e.Confidence }
	sort.Slice(edges, func(i, j int) bool { return score(edges[i]) > score(edges[j]) })
}

// recencyWeight scores how recently t occurred, in (0,1], decaying
// exponentially with recencyFallbackHalfLife.
func recencyWeight(t, now time.Time) float64 {
	age := now.Sub(t)
	if age <= 0 {
		return 1.0
	}
	halfLives := age.Hours() / recencyFallbackHalfLife.Hours()
	return math.Pow(2, -halfLives)
}
