// Package memstore provides an in-memory implementation of [graph.Store],
// used as the system-under-test double for the confidence engine, diff
// engine, extraction pipeline, and query surface tests, and for running the
// end-to-end scenarios in spec §8 without a Postgres instance.
//
// Unlike the teacher's call-recording mocks (pkg/memory/mock), memstore
// executes the real storage semantics — upsert-by-alias matching, edge
// lifecycle transitions, BFS traversal — because the testable properties it
// backs assert on actual graph state, not on injected canned results.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knowgraph/memoryd/pkg/graph"
)

// Store is an in-memory, concurrency-safe [graph.Store] and
// [graph.EpisodeStore].
type Store struct {
	mu          sync.RWMutex
	nodes       map[string]graph.Node
	edges       map[string]graph.Edge
	episodes    map[string]graph.Episode
	experiences map[string]graph.Experience
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nodes:       make(map[string]graph.Node),
		edges:       make(map[string]graph.Edge),
		episodes:    make(map[string]graph.Episode),
		experiences: make(map[string]graph.Experience),
	}
}

var _ graph.Store = (*Store)(nil)
var _ graph.EpisodeStore = (*Store)(nil)

func foldedNames(n graph.Node) []string {
	out := make([]string, 0, len(n.Aliases)+1)
	out = append(out, strings.ToLower(n.Name))
	for _, a := range n.Aliases {
		out = append(out, strings.ToLower(a))
	}
	return out
}

// UpsertNode implements [graph.Store].
func (s *Store) UpsertNode(_ context.Context, n graph.Node) (graph.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.nodes {
		if existing.Kind != n.Kind {
			continue
		}
		for _, candidate := range foldedNames(n) {
			for _, known := range foldedNames(existing) {
				if candidate == known {
					merged := existing
					if n.Privacy > merged.Privacy {
						merged.Privacy = n.Privacy // monotonically sticky: only raise
					}
					merged.Aliases = mergeAliases(merged.Aliases, n.Aliases)
					for k, v := range n.Properties {
						if merged.Properties == nil {
							merged.Properties = make(map[string]any)
						}
						merged.Properties[k] = v
					}
					merged.LastReinforcedAt = n.LastReinforcedAt
					s.nodes[merged.ID] = merged
					return merged, nil
				}
			}
		}
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.nodes[n.ID] = n
	return n, nil
}

func mergeAliases(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, a := range existing {
		if !seen[strings.ToLower(a)] {
			seen[strings.ToLower(a)] = true
			out = append(out, a)
		}
	}
	for _, a := range incoming {
		if !seen[strings.ToLower(a)] {
			seen[strings.ToLower(a)] = true
			out = append(out, a)
		}
	}
	return out
}

// GetNode implements [graph.Store].
func (s *Store) GetNode(_ context.Context, id string) (graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return graph.Node{}, graph.ErrNotFound
	}
	return n, nil
}

// DeleteNode implements [graph.Store].
func (s *Store) DeleteNode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return graph.ErrNotFound
	}
	delete(s.nodes, id)
	for eid, e := range s.edges {
		if e.SourceID == id || e.TargetID == id {
			delete(s.edges, eid)
		}
	}
	return nil
}

// FindNodes implements [graph.Store].
func (s *Store) FindNodes(_ context.Context, opts ...graph.FindOpt) ([]graph.Node, error) {
	kind, hasKind, nameContains, aliasContains := graph.ApplyFindOpts(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.Node
	for _, n := range s.nodes {
		if hasKind && n.Kind != kind {
			continue
		}
		if nameContains != "" && !strings.Contains(strings.ToLower(n.Name), strings.ToLower(nameContains)) {
			continue
		}
		if aliasContains != "" {
			match := false
			for _, a := range n.Aliases {
				if strings.Contains(strings.ToLower(a), strings.ToLower(aliasContains)) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateEdge implements [graph.Store].
func (s *Store) CreateEdge(_ context.Context, e graph.Edge) (graph.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.edges[e.ID] = e
	return e, nil
}

// GetEdge implements [graph.Store].
func (s *Store) GetEdge(_ context.Context, id string) (graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	if !ok {
		return graph.Edge{}, graph.ErrNotFound
	}
	return e, nil
}

// ReinforceEdge implements [graph.Store].
func (s *Store) ReinforceEdge(_ context.Context, id string, newConfidence float64, episodeID string) (graph.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return graph.Edge{}, graph.ErrNotFound
	}
	e.Confidence = newConfidence
	e.State = graph.EdgeReinforced
	e.LastReinforced = time.Now()
	if episodeID != "" {
		e.SourceEpisodeIDs = append(e.SourceEpisodeIDs, episodeID)
	}
	s.edges[id] = e
	return e, nil
}

// ReviseEdge implements [graph.Store].
func (s *Store) ReviseEdge(_ context.Context, supersededID string, replacement graph.Edge) (graph.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.edges[supersededID]
	if !ok {
		return graph.Edge{}, graph.ErrNotFound
	}
	if replacement.ID == "" {
		replacement.ID = uuid.NewString()
	}
	old.State = graph.EdgeRevised
	old.SupersededBy = replacement.ID
	s.edges[supersededID] = old
	s.edges[replacement.ID] = replacement
	return replacement, nil
}

// DecayEdge implements [graph.Store].
func (s *Store) DecayEdge(_ context.Context, id string, newConfidence float64) (graph.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return graph.Edge{}, graph.ErrNotFound
	}
	e.Confidence = newConfidence
	e.State = graph.EdgeDecaying
	s.edges[id] = e
	return e, nil
}

// ArchiveEdge implements [graph.Store].
func (s *Store) ArchiveEdge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return graph.ErrNotFound
	}
	e.State = graph.EdgeArchived
	s.edges[id] = e
	return nil
}

// RetractEdge implements [graph.Store].
func (s *Store) RetractEdge(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return graph.ErrNotFound
	}
	e.Retracted = true
	e.State = graph.EdgeRetracted
	e.RetractionReason = reason
	s.edges[id] = e
	return nil
}

// Edges implements [graph.Store].
func (s *Store) Edges(_ context.Context, opts ...graph.EdgeOpt) ([]graph.Edge, error) {
	source, target, relation, minConfidence, includeInactive := graph.ApplyEdgeOpts(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.Edge
	for _, e := range s.edges {
		if source != "" && e.SourceID != source {
			continue
		}
		if target != "" && e.TargetID != target {
			continue
		}
		if relation != "" && e.Relation != relation {
			continue
		}
		if e.Confidence < minConfidence {
			continue
		}
		if !includeInactive && !e.Active(time.Now()) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Neighbors implements [graph.Store] via unweighted breadth-first search.
func (s *Store) Neighbors(_ context.Context, id string, maxNodes int, opts ...graph.TraverseOpt) ([]graph.Node, error) {
	relations, minConfidence, includeInactive := graph.ApplyTraverseOpts(opts)
	relSet := make(map[string]bool, len(relations))
	for _, r := range relations {
		relSet[r] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[string]bool{id: true}
	queue := []string{id}
	var out []graph.Node

	for len(queue) > 0 && (maxNodes <= 0 || len(out) < maxNodes) {
		cur := queue[0]
		queue = queue[1:]

		for _, e := range s.edges {
			if len(relSet) > 0 && !relSet[e.Relation] {
				continue
			}
			if e.Confidence < minConfidence {
				continue
			}
			if !includeInactive && !e.Active(time.Now()) {
				continue
			}

			var next string
			switch cur {
			case e.SourceID:
				next = e.TargetID
			case e.TargetID:
				next = e.SourceID
			default:
				continue
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if n, ok := s.nodes[next]; ok {
				out = append(out, n)
				queue = append(queue, next)
			}
			if maxNodes > 0 && len(out) >= maxNodes {
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Snapshot implements [graph.Store].
func (s *Store) Snapshot(_ context.Context) (graph.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := graph.Snapshot{
		Nodes: make([]graph.Node, 0, len(s.nodes)),
		Edges: make([]graph.Edge, 0, len(s.edges)),
	}
	for _, n := range s.nodes {
		snap.Nodes = append(snap.Nodes, n)
	}
	for _, e := range s.edges {
		snap.Edges = append(snap.Edges, e)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	return snap, nil
}

// Close implements [graph.Store]. It is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
