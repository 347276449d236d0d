package workers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// runEpisodeClusteringAllUsers runs the episode clustering cycle (spec
// §4.8) for every user.
func (m *Manager) runEpisodeClusteringAllUsers(ctx context.Context) {
	start := time.Now()
	defer func() {
		m.cfg.metrics().RecordWorkerCycle(ctx, "episode_clustering", time.Since(start).Seconds())
	}()

	userIDs, err := m.cfg.Users.ListUserIDs(ctx)
	if err != nil {
		m.cfg.logger().Warn("background worker: could not list users, cycle skipped",
			"cycle", "episode_clustering", "error", err)
		return
	}
	for _, userID := range userIDs {
		unlock := m.cfg.Locker.Lock(userID)
		err := runEpisodeClusteringCycle(ctx, m.cfg.Episodes(userID), m.cfg, userID)
		unlock()
		if err != nil {
			m.cfg.logger().Warn("background worker cycle failed for user",
				"cycle", "episode_clustering", "user_id", userID, "error", err)
		}
	}
}

// runEpisodeClusteringCycle clusters episodes by channel tag (the coarse
// grouping spec §4.8 names as "related episodes") and promotes any cluster
// reaching cfg.EpisodeClusterMinSize to an Experience node at
// cfg.EpisodeExperienceConfidence, with back-links to its source episodes.
func runEpisodeClusteringCycle(ctx context.Context, store graph.EpisodeStore, cfg Config, userID string) error {
	episodes, err := store.Episodes(ctx)
	if err != nil {
		return err
	}

	clusters := make(map[string][]graph.Episode)
	for _, e := range episodes {
		key := e.ChannelTag
		if key == "" {
			key = "uncategorized"
		}
		clusters[key] = append(clusters[key], e)
	}

	promoted := 0
	for tag, cluster := range clusters {
		if len(cluster) < cfg.EpisodeClusterMinSize {
			continue
		}
		sort.Slice(cluster, func(i, j int) bool { return cluster[i].OccurredAt.Before(cluster[j].OccurredAt) })

		sourceIDs := make([]string, len(cluster))
		for i, e := range cluster {
			sourceIDs[i] = e.ID
		}

		exp, err := store.CreateExperience(ctx, graph.Experience{
			Description:        fmt.Sprintf("recurring pattern across %d episodes tagged %q", len(cluster), tag),
			Applicability:      tag,
			Confidence:         cfg.EpisodeExperienceConfidence,
			ReinforcementCount: len(cluster),
			SourceEpisodeIDs:   sourceIDs,
		})
		if err != nil {
			return err
		}
		promoted++

		if cfg.Audit != nil {
			_, _ = cfg.Audit.Append(ctx, audit.Entry{
				Kind:       audit.KindExperienceDerived,
				Component:  "workers.episode_clustering",
				Operation:  audit.OpInsert,
				AffectedID: exp.ID,
				SessionID:  userID,
				Reasoning:  fmt.Sprintf("promoted from %d episodes tagged %q", len(cluster), tag),
			})
		}
	}

	if cfg.Audit != nil {
		_, _ = cfg.Audit.Append(ctx, audit.Entry{
			Kind:      audit.KindEpisodeClusteringRun,
			Component: "workers.episode_clustering",
			SessionID: userID,
			Reasoning: fmt.Sprintf("promoted %d experiences from %d clusters", promoted, len(clusters)),
		})
	}
	return nil
}
