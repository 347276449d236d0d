package audit

import (
	"context"
	"testing"
	"time"
)

// fakeLog is an in-memory [Log] used to exercise QueryOpt composition
// without a database.
type fakeLog struct {
	entries []Entry
	nextID  int64
}

func (f *fakeLog) Append(_ context.Context, e Entry) (Entry, error) {
	f.nextID++
	e.ID = f.nextID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeLog) Query(_ context.Context, opts ...QueryOpt) ([]Entry, error) {
	correlationID, affectedID, sessionID, kinds, since, limit := ApplyQueryOpts(opts...)
	kindSet := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	var out []Entry
	for _, e := range f.entries {
		if correlationID != "" && e.CorrelationID != correlationID {
			continue
		}
		if affectedID != "" && e.AffectedID != affectedID {
			continue
		}
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		if len(kindSet) > 0 && !kindSet[e.Kind] {
			continue
		}
		if !since.IsZero() && e.OccurredAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestAppendIsOnlyWritePath(t *testing.T) {
	log := &fakeLog{}
	e, err := log.Append(context.Background(), Entry{
		Kind:       KindEdgeInserted,
		Component:  "diffengine",
		Operation:  OpInsert,
		AffectedID: "edge-1",
		NewValue:   []byte(`{"relation":"likes"}`),
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if e.ID == 0 {
		t.Error("Append() did not assign an id")
	}
	if e.OccurredAt.IsZero() {
		t.Error("Append() did not default OccurredAt")
	}
}

func TestQueryFiltersByAffectedID(t *testing.T) {
	log := &fakeLog{}
	ctx := context.Background()
	log.Append(ctx, Entry{Kind: KindEdgeInserted, AffectedID: "edge-1"})
	log.Append(ctx, Entry{Kind: KindEdgeReinforced, AffectedID: "edge-2"})

	got, err := log.Query(ctx, WithAffectedID("edge-1"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 || got[0].AffectedID != "edge-1" {
		t.Fatalf("Query(WithAffectedID) = %+v, want one entry for edge-1", got)
	}
}

func TestQueryFiltersByKinds(t *testing.T) {
	log := &fakeLog{}
	ctx := context.Background()
	log.Append(ctx, Entry{Kind: KindEdgeInserted, AffectedID: "edge-1"})
	log.Append(ctx, Entry{Kind: KindEdgeArchived, AffectedID: "edge-1"})
	log.Append(ctx, Entry{Kind: KindProbeGenerated, AffectedID: "probe-1"})

	got, err := log.Query(ctx, WithKinds(KindEdgeInserted, KindEdgeArchived))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query(WithKinds) returned %d entries, want 2", len(got))
	}
}

func TestQueryRespectsLimit(t *testing.T) {
	log := &fakeLog{}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		log.Append(ctx, Entry{Kind: KindDecayApplied, SessionID: "s1"})
	}

	got, err := log.Query(ctx, WithSessionID("s1"), Limit(2))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query(Limit(2)) returned %d entries, want 2", len(got))
	}
}

func TestQueryWithNoOptsReturnsEverything(t *testing.T) {
	log := &fakeLog{}
	ctx := context.Background()
	log.Append(ctx, Entry{Kind: KindEdgeInserted})
	log.Append(ctx, Entry{Kind: KindEdgeArchived})

	got, err := log.Query(ctx)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query() with no opts returned %d entries, want 2", len(got))
	}
}

func TestDeletedPayloadNeverCarriesNewValue(t *testing.T) {
	log := &fakeLog{}
	e, err := log.Append(context.Background(), Entry{
		Kind:       KindEdgeRetracted,
		Operation:  OpDelete,
		AffectedID: "edge-9",
		OldValue:   []byte(`{"relation":"likes","confidence":0.8}`),
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if e.NewValue != nil {
		t.Errorf("deleted entry NewValue = %q, want nil", e.NewValue)
	}
}
