package inbound

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knowgraph/memoryd/internal/observe"
)

// defaultPollInterval is the default period between poll ticks when a
// poller finds nothing to claim.
const defaultPollInterval = 500 * time.Millisecond

// Processor handles one claimed event. A non-nil error causes the poller to
// call [Queue.MarkFailed] with the given policy; nil causes [Queue.MarkDone].
type Processor func(ctx context.Context, c Claimed) error

// Poller runs a fixed-size pool of goroutines that repeatedly claim and
// process batches of pending events. Each goroutine ticks independently.
type Poller struct {
	queue     Queue
	process   Processor
	policy    RetryPolicy
	workers   int
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *observe.Metrics

	lastDepth atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PollerConfig configures a [Poller].
type PollerConfig struct {
	Queue     Queue
	Process   Processor
	Policy    RetryPolicy // defaults to [DefaultRetryPolicy] if zero
	Workers   int         // defaults to 4
	BatchSize int         // defaults to 8
	Interval  time.Duration
	Logger    *slog.Logger

	// Metrics records queue depth and is sampled once per poll tick.
	// Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewPoller constructs a Poller from cfg, applying defaults for zero-value
// fields.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if len(cfg.Policy.Delays) == 0 {
		cfg.Policy = DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Poller{
		queue:     cfg.Queue,
		process:   cfg.Process,
		policy:    cfg.Policy,
		workers:   cfg.Workers,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
	}
}

// Start launches the worker pool in background goroutines. It returns
// immediately; the pool runs until ctx is cancelled or [Poller.Stop] is
// called.
func (p *Poller) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.loop(ctx, workerID)
		}(i)
	}
}

// Stop halts the worker pool and waits for in-flight batches to finish.
// Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.logger.WarnContext(ctx, "inbound: poll tick failed", "worker", workerID, "error", err)
			}
			if workerID == 0 {
				p.sampleDepth(ctx)
			}
		}
	}
}

// sampleDepth reads the queue's current pending count and reports the
// signed change since the previous sample to the [observe.Metrics] gauge,
// which is itself delta-based (an OTel UpDownCounter).
func (p *Poller) sampleDepth(ctx context.Context) {
	depth, err := p.queue.PendingCount(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "inbound: pending count failed", "error", err)
		return
	}
	prev := p.lastDepth.Swap(depth)
	if delta := depth - prev; delta != 0 {
		p.metrics.SetQueueDepth(ctx, "inbound", delta)
	}
}

// tick claims one batch and processes its events concurrently via an
// errgroup, generalizing the teacher's single-ticker consolidation loop
// into a fan-out over a bounded batch.
func (p *Poller) tick(ctx context.Context) error {
	claimed, err := p.queue.ClaimBatch(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range claimed {
		c := c
		g.Go(func() error {
			p.processOne(gctx, c)
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) processOne(ctx context.Context, c Claimed) {
	if err := p.process(ctx, c); err != nil {
		if markErr := p.queue.MarkFailed(ctx, c.ID, p.policy, err); markErr != nil {
			p.logger.ErrorContext(ctx, "inbound: mark failed error", "id", c.ID, "error", markErr)
		}
		return
	}
	if err := p.queue.MarkDone(ctx, c.ID); err != nil {
		p.logger.ErrorContext(ctx, "inbound: mark done error", "id", c.ID, "error", err)
	}
}
