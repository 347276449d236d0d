package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/knowgraph/memoryd/pkg/graph"
)

// RecordEpisode implements [graph.EpisodeStore].
func (s *Store) RecordEpisode(_ context.Context, e graph.Episode) (graph.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	s.episodes[e.ID] = e
	return e, nil
}

// Episodes implements [graph.EpisodeStore].
func (s *Store) Episodes(_ context.Context) ([]graph.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]graph.Episode, 0, len(s.episodes))
	for _, e := range s.episodes {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

// CreateExperience implements [graph.EpisodeStore].
func (s *Store) CreateExperience(_ context.Context, e graph.Experience) (graph.Experience, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ReinforcementCount <= 0 {
		e.ReinforcementCount = 1
	}
	s.experiences[e.ID] = e
	return e, nil
}

// Experiences implements [graph.EpisodeStore].
func (s *Store) Experiences(_ context.Context) ([]graph.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]graph.Experience, 0, len(s.experiences))
	for _, e := range s.experiences {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
