package inbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestDefaultRetryPolicyMatchesSpecSchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	if len(p.Delays) != len(want) {
		t.Fatalf("len(Delays) = %d, want %d", len(p.Delays), len(want))
	}
	for i, d := range want {
		if p.Delays[i] != d {
			t.Errorf("Delays[%d] = %v, want %v", i, p.Delays[i], d)
		}
	}
}

func TestNextAttemptReducesContextProgressively(t *testing.T) {
	p := DefaultRetryPolicy()

	delay, level, ok := p.NextAttempt(0)
	if !ok || delay != time.Second || level != ContextFull {
		t.Errorf("attempt 0: got (%v, %v, %v), want (1s, full, true)", delay, level, ok)
	}

	delay, level, ok = p.NextAttempt(1)
	if !ok || delay != 5*time.Second || level != ContextHalf {
		t.Errorf("attempt 1: got (%v, %v, %v), want (5s, half, true)", delay, level, ok)
	}

	delay, level, ok = p.NextAttempt(2)
	if !ok || delay != 30*time.Second || level != ContextMinimal {
		t.Errorf("attempt 2: got (%v, %v, %v), want (30s, minimal, true)", delay, level, ok)
	}
}

func TestNextAttemptExhaustedAfterThreeFailures(t *testing.T) {
	p := DefaultRetryPolicy()
	if _, _, ok := p.NextAttempt(3); ok {
		t.Fatal("attempt 3 should be exhausted (dead-letter), got ok=true")
	}
}

// fakeQueue is a minimal in-memory [Queue] used to drive [Poller] tests
// without a database.
type fakeQueue struct {
	mu         sync.Mutex
	pending    []Claimed
	done       map[string]bool
	deadLetter map[string]bool
	nextID     int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{done: map[string]bool{}, deadLetter: map[string]bool{}}
}

func (f *fakeQueue) Enqueue(ctx context.Context, e Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("ev%d", f.nextID)
	f.pending = append(f.pending, Claimed{ID: id, Event: e})
	return id, nil
}

func (f *fakeQueue) ClaimBatch(ctx context.Context, n int) ([]Claimed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.pending) {
		n = len(f.pending)
	}
	claimed := f.pending[:n]
	f.pending = f.pending[n:]
	return claimed, nil
}

func (f *fakeQueue) MarkDone(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[id] = true
	return nil
}

func (f *fakeQueue) MarkFailed(ctx context.Context, id string, policy RetryPolicy, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetter[id] = true
	return nil
}

func (f *fakeQueue) DeadLetters(ctx context.Context) ([]Claimed, error) { return nil, nil }

func (f *fakeQueue) SweepExpiredIdempotencyKeys(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeQueue) PendingCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending)), nil
}

func TestPollerProcessesClaimedEventsAndMarksDone(t *testing.T) {
	q := newFakeQueue()
	id, _ := q.Enqueue(context.Background(), Event{SessionID: "s1", TurnNumber: 1, Text: "hello"})

	var processedText string
	var mu sync.Mutex
	done := make(chan struct{})

	poller := NewPoller(PollerConfig{
		Queue:    q,
		Interval: 5 * time.Millisecond,
		Process: func(ctx context.Context, c Claimed) error {
			mu.Lock()
			processedText = c.Event.Text
			mu.Unlock()
			close(done)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for event to be processed")
	}

	mu.Lock()
	defer mu.Unlock()
	if processedText != "hello" {
		t.Errorf("processedText = %q, want %q", processedText, "hello")
	}
	if !q.done[id] {
		t.Errorf("event %q was not marked done", id)
	}
}

func TestPollerMarksFailedOnProcessError(t *testing.T) {
	q := newFakeQueue()
	id, _ := q.Enqueue(context.Background(), Event{SessionID: "s1", TurnNumber: 1, Text: "oops"})

	done := make(chan struct{})
	poller := NewPoller(PollerConfig{
		Queue:    q,
		Interval: 5 * time.Millisecond,
		Process: func(ctx context.Context, c Claimed) error {
			defer close(done)
			return errors.New("extraction failed")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for event to be processed")
	}
	time.Sleep(20 * time.Millisecond)

	if !q.deadLetter[id] {
		t.Errorf("event %q was not marked failed", id)
	}
}
