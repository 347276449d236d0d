// Package query implements the Query Surface: structured and natural-language
// reads over a user's knowledge graph, plus the compact context block
// assembled for injection into an agent's prompt.
package query

import (
	"context"
	"sort"

	"github.com/knowgraph/memoryd/pkg/graph"
)

// StructuredParams are the parameters of query_structured (spec §4.10).
// Entities are node IDs used as BFS seeds; an empty Entities list seeds from
// every node in the graph (a broad scan, used by query_natural's fallback
// path). Relations restricts traversal to the given relation names; an
// empty list follows every relation.
type StructuredParams struct {
	Entities      []string
	Relations     []string
	MinConfidence float64
	MaxHops       int
}

// Result is the subgraph returned by query_structured: the nodes reached
// and the edges connecting them, both already ordered per spec §4.10
// (edges descending by confidence then by reinforcement recency).
type Result struct {
	Nodes []graph.Node
	Edges []graph.Edge
}

// QueryStructured runs a bounded-hop BFS from params.Entities, collecting
// every node reached within params.MaxHops and every edge traversed to
// reach it. Retracted, archived, and expired edges are never visible here
// — [graph.Store.Edges] already excludes them by default, per spec §4.1's
// ordinary-query-path rule.
func QueryStructured(ctx context.Context, store graph.Store, params StructuredParams) (Result, error) {
	maxHops := params.MaxHops
	if maxHops <= 0 {
		maxHops = 1
	}
	relSet := make(map[string]bool, len(params.Relations))
	for _, r := range params.Relations {
		relSet[r] = true
	}

	seeds := params.Entities
	if len(seeds) == 0 {
		all, err := store.FindNodes(ctx)
		if err != nil {
			return Result{}, err
		}
		seeds = make([]string, len(all))
		for i, n := range all {
			seeds[i] = n.ID
		}
	}

	visitedNodes := make(map[string]graph.Node, len(seeds))
	visitedEdges := make(map[string]graph.Edge)
	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		n, err := store.GetNode(ctx, id)
		if err != nil {
			continue
		}
		if _, ok := visitedNodes[id]; !ok {
			visitedNodes[id] = n
			frontier = append(frontier, id)
		}
	}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			out, err := store.Edges(ctx, graph.WithSource(id), graph.WithEdgeMinConfidence(params.MinConfidence))
			if err != nil {
				return Result{}, err
			}
			in, err := store.Edges(ctx, graph.WithTarget(id), graph.WithEdgeMinConfidence(params.MinConfidence))
			if err != nil {
				return Result{}, err
			}
			for _, e := range append(out, in...) {
				if len(relSet) > 0 && !relSet[e.Relation] {
					continue
				}
				other := e.TargetID
				if other == id {
					other = e.SourceID
				}
				visitedEdges[e.ID] = e
				if _, ok := visitedNodes[other]; ok {
					continue
				}
				n, err := store.GetNode(ctx, other)
				if err != nil {
					continue
				}
				visitedNodes[other] = n
				next = append(next, other)
			}
		}
		frontier = next
	}

	nodes := make([]graph.Node, 0, len(visitedNodes))
	for _, n := range visitedNodes {
		nodes = append(nodes, n)
	}
	edges := make([]graph.Edge, 0, len(visitedEdges))
	for _, e := range visitedEdges {
		edges = append(edges, e)
	}
	sortNodes(nodes)
	sortEdges(edges)
	return Result{Nodes: nodes, Edges: edges}, nil
}

// sortNodes orders nodes by ID for deterministic output.
func sortNodes(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// sortEdges orders edges descending by confidence, then descending by
// reinforcement recency (spec §4.10).
func sortEdges(edges []graph.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence > edges[j].Confidence
		}
		return edges[i].LastReinforced.After(edges[j].LastReinforced)
	})
}
