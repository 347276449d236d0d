package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/pkg/graph"
)

// runRevisionCycleAllUsers runs the revision cycle (spec §4.8) for every
// user.
func (m *Manager) runRevisionCycleAllUsers(ctx context.Context) {
	start := time.Now()
	m.forEachUser(ctx, "revision", func(ctx context.Context, store graph.Store, userID string) error {
		return runRevisionCycle(ctx, store, m.cfg, userID, time.Now())
	})
	m.cfg.metrics().RecordWorkerCycle(ctx, "revision", time.Since(start).Seconds())
}

// runRevisionCycle samples edges whose last verification exceeds the
// configured TTL and, for public facts, consults cfg.Verifier: reinforce if
// unchanged, revise if the verifier reports a changed claim. Budget-bounded
// per cycle by cfg.RevisionSampleSize.
func runRevisionCycle(ctx context.Context, store graph.Store, cfg Config, userID string, now time.Time) error {
	if cfg.Verifier == nil {
		return nil // no external verifier configured: nothing to revise against
	}

	edges, err := store.Edges(ctx)
	if err != nil {
		return err
	}

	sampled := 0
	for _, e := range edges {
		if now.Sub(e.LastReinforced) < cfg.RevisionTTL {
			continue
		}
		target, err := store.GetNode(ctx, e.TargetID)
		if err != nil || target.Privacy != graph.PrivacyPublic {
			continue // only public facts are sent to an external verifier
		}
		if sampled >= cfg.RevisionSampleSize {
			break
		}
		sampled++

		claim := fmt.Sprintf("%s %s %s", e.SourceID, e.Relation, e.TargetID)
		unchanged, revised, err := cfg.Verifier.Verify(ctx, claim)
		if err != nil {
			continue // transient verifier failure: leave the edge untouched this cycle
		}

		if unchanged {
			newConfidence := cfg.Confidence.Reinforce(e.Confidence)
			if _, err := store.ReinforceEdge(ctx, e.ID, newConfidence, ""); err != nil {
				return err
			}
			recordRevision(ctx, cfg, userID, e.ID, &e.Confidence, &newConfidence, audit.OpReinforce, audit.KindEdgeReinforced)
			if cfg.Bus != nil {
				cfg.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventEdgeUpdated, UserID: userID, EdgeID: e.ID, Occurred: now})
			}
			continue
		}

		newConfidence := cfg.Confidence.BaseByMechanism[graph.ProvenanceObservational]
		replacement := e
		replacement.Relation = revised
		replacement.Confidence = newConfidence
		replacement.Provenance = graph.ProvenanceObservational
		if _, err := store.ReviseEdge(ctx, e.ID, replacement); err != nil {
			return err
		}
		recordRevision(ctx, cfg, userID, e.ID, &e.Confidence, &newConfidence, audit.OpRevise, audit.KindEdgeRevised)
		if cfg.Bus != nil {
			cfg.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventEdgeUpdated, UserID: userID, EdgeID: e.ID, Occurred: now})
		}
	}

	if cfg.Audit != nil {
		_, _ = cfg.Audit.Append(ctx, audit.Entry{
			Kind:      audit.KindRevisionCycleRun,
			Component: "workers.revision",
			SessionID: userID,
			Reasoning: fmt.Sprintf("sampled %d edges", sampled),
		})
	}
	return nil
}

func recordRevision(ctx context.Context, cfg Config, userID, edgeID string, before, after *float64, op audit.Operation, kind audit.EventKind) {
	if cfg.Audit == nil {
		return
	}
	_, _ = cfg.Audit.Append(ctx, audit.Entry{
		Kind:             kind,
		Component:        "workers.revision",
		Operation:        op,
		AffectedID:       edgeID,
		ConfidenceBefore: before,
		ConfidenceAfter:  after,
		SessionID:        userID,
		Reasoning:        "revision cycle verifier result",
	})
}
