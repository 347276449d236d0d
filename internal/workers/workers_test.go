package workers

import (
	"context"
	"testing"
	"time"

	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/graph/memstore"
)

type emptyUserSource struct{}

func (emptyUserSource) ListUserIDs(context.Context) ([]string, error) { return nil, nil }

func TestManagerStartStopIsIdempotentAndDoesNotHang(t *testing.T) {
	store := memstore.New()
	cfg := Config{
		Stores:        func(string) graph.Store { return store },
		Episodes:      func(string) graph.EpisodeStore { return store },
		Users:         emptyUserSource{},
		Locker:        graph.NewUserLocker(),
		DecayInterval: 10 * time.Millisecond,
	}
	m := NewManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	time.Sleep(30 * time.Millisecond)

	m.Stop()
	m.Stop() // must not panic or block on a second call
}
