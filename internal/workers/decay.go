package workers

import (
	"context"
	"time"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// runDecayCycleAllUsers runs the decay cycle (spec §4.8) for every user.
func (m *Manager) runDecayCycleAllUsers(ctx context.Context) {
	start := time.Now()
	m.forEachUser(ctx, "decay", func(ctx context.Context, store graph.Store, userID string) error {
		return runDecayCycle(ctx, store, m.cfg, userID, time.Now())
	})
	m.cfg.metrics().RecordWorkerCycle(ctx, "decay", time.Since(start).Seconds())
}

// runDecayCycle computes each active edge's confidence at now given elapsed
// time since it was last reinforced, archiving any edge that falls below
// the archive threshold. Pure decay/archive arithmetic lives in
// [confidence.Config]; this function is the I/O shell around it.
func runDecayCycle(ctx context.Context, store graph.Store, cfg Config, userID string, now time.Time) error {
	edges, err := store.Edges(ctx)
	if err != nil {
		return err
	}

	for _, e := range edges {
		decayed := cfg.Confidence.Decay(e.Confidence, e.TemporalType, now.Sub(e.LastReinforced))
		if decayed == e.Confidence {
			continue
		}

		if cfg.Confidence.ShouldArchive(decayed) {
			if err := store.ArchiveEdge(ctx, e.ID); err != nil {
				return err
			}
			recordDecay(ctx, cfg, userID, e, decayed, true)
			continue
		}

		if _, err := store.DecayEdge(ctx, e.ID, decayed); err != nil {
			return err
		}
		recordDecay(ctx, cfg, userID, e, decayed, false)
	}
	return nil
}

func recordDecay(ctx context.Context, cfg Config, userID string, before graph.Edge, after float64, archived bool) {
	if cfg.Bus != nil {
		eventType := eventbus.EventEdgeUpdated
		if archived {
			eventType = eventbus.EventEdgeArchived
		}
		cfg.Bus.Publish(ctx, eventbus.Event{Type: eventType, UserID: userID, EdgeID: before.ID, Occurred: time.Now()})
	}
	if cfg.Audit == nil {
		return
	}
	beforeConf, afterConf := before.Confidence, after
	kind := audit.KindDecayApplied
	op := audit.OpRevise
	if archived {
		kind = audit.KindEdgeArchived
		op = audit.OpArchive
	}
	_, _ = cfg.Audit.Append(ctx, audit.Entry{
		Kind:             kind,
		Component:        "workers.decay",
		Operation:        op,
		AffectedID:       before.ID,
		ConfidenceBefore: &beforeConf,
		ConfidenceAfter:  &afterConf,
		SessionID:        userID,
		Reasoning:        "decay cycle",
	})
}
