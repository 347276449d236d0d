package workers

import (
	"context"
	"testing"
	"time"

	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/graph/memstore"
)

func TestRunEpisodeClusteringCyclePromotesLargeCluster(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.RecordEpisode(ctx, graph.Episode{ChannelTag: "standup", OccurredAt: time.Now()}); err != nil {
			t.Fatalf("RecordEpisode() error = %v", err)
		}
	}

	cfg := Config{EpisodeClusterMinSize: 3, EpisodeExperienceConfidence: 0.5}
	if err := runEpisodeClusteringCycle(ctx, store, cfg, "u1"); err != nil {
		t.Fatalf("runEpisodeClusteringCycle() error = %v", err)
	}

	experiences, err := store.Experiences(ctx)
	if err != nil {
		t.Fatalf("Experiences() error = %v", err)
	}
	if len(experiences) != 1 {
		t.Fatalf("experiences = %d, want 1", len(experiences))
	}
	if experiences[0].Confidence != 0.5 || len(experiences[0].SourceEpisodeIDs) != 3 {
		t.Errorf("experience = %+v", experiences[0])
	}
}

func TestRunEpisodeClusteringCycleSkipsSmallClusters(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	_, _ = store.RecordEpisode(ctx, graph.Episode{ChannelTag: "standup", OccurredAt: time.Now()})

	cfg := Config{EpisodeClusterMinSize: 3, EpisodeExperienceConfidence: 0.5}
	if err := runEpisodeClusteringCycle(ctx, store, cfg, "u1"); err != nil {
		t.Fatalf("runEpisodeClusteringCycle() error = %v", err)
	}

	experiences, _ := store.Experiences(ctx)
	if len(experiences) != 0 {
		t.Errorf("experiences = %d, want 0 for a cluster below the minimum size", len(experiences))
	}
}
