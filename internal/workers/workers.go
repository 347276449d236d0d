// Package workers implements the Background Workers component (spec
// §4.8): the four scheduled cycles — decay, revision, inference, and
// episode clustering — that mutate the graph on a timer rather than in
// response to an inbound utterance.
//
// Each cycle shares the graph store with the online path through the same
// mutation operations on [graph.Store]; its mutations appear on the event
// bus identically to an online-path mutation, and are recorded through the
// same [audit.Log].
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/confidence"
	"github.com/knowgraph/memoryd/internal/eventbus"
	"github.com/knowgraph/memoryd/internal/observe"
	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
)

// StoreFactory returns the [graph.Store] scoped to one user's graph. Every
// cycle is single-tenant at the store level (spec §5's concurrency model);
// a Manager iterates every user returned by [UserSource] and runs the cycle
// once per user, serialized through [graph.UserLocker] the same way the
// online path is.
type StoreFactory func(userID string) graph.Store

// EpisodeStoreFactory returns the [graph.EpisodeStore] scoped to one user's
// graph. Declared separately from [StoreFactory] because EpisodeStore is
// its own narrow interface (see pkg/graph/episodes.go); a caller typically
// backs both factories with the same concrete store instance.
type EpisodeStoreFactory func(userID string) graph.EpisodeStore

// UserSource enumerates the users a cycle must visit. Kept narrow
// deliberately: Background Workers need nothing about a user beyond their
// ID (spec §9's narrow-interface design note).
type UserSource interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Verifier is the external capability the revision cycle consults for a
// public fact's continued truth (spec §4.8's "external verifier
// capability"). The large-LLM capability satisfies this by construction
// (see [NewLLMVerifier]); a deployment without one may leave Config.Verifier
// nil, in which case the revision cycle reinforces every sampled edge
// without ever revising it.
type Verifier interface {
	// Verify reports whether claim (the edge's relation as a natural-
	// language assertion) is still true. revised, if non-empty, is a
	// corrected assertion the caller should extract a revision from.
	Verify(ctx context.Context, claim string) (unchanged bool, revised string, err error)
}

// Config configures a [Manager]. Zero-value Interval/Schedule fields take
// the spec §4.8 defaults (decay weekly, revision/inference nightly, episode
// clustering weekly).
type Config struct {
	Stores   StoreFactory
	Episodes EpisodeStoreFactory
	Users    UserSource
	Locker   *graph.UserLocker
	Bus      *eventbus.Bus
	Audit    audit.Log

	Confidence confidence.Config
	Verifier   Verifier
	Inferrer   llm.Provider // large-LLM capability for the inference cycle

	// DecayInterval overrides the decay cycle's ticker period. Default 7
	// days.
	DecayInterval time.Duration

	// RevisionSchedule, InferenceSchedule, and EpisodeSchedule are robfig/cron
	// expressions. Defaults run revision and inference nightly at 02:00 and
	// 03:00, and episode clustering weekly on Sunday at 04:00.
	RevisionSchedule  string
	InferenceSchedule string
	EpisodeSchedule   string

	// RevisionSampleSize caps how many stale edges the revision cycle
	// consults the verifier for per user per run. Default 50.
	RevisionSampleSize int
	// RevisionTTL is how long since an edge's last reinforcement before it
	// becomes eligible for revision sampling. Default 14 days.
	RevisionTTL time.Duration

	// InferenceCandidateCap bounds how many candidate edges the inference
	// cycle emits per user per run. Default 10.
	InferenceCandidateCap int

	// EpisodeClusterMinSize is the minimum number of episodes a cluster must
	// contain before it is promoted to an Experience node. Default 3.
	EpisodeClusterMinSize int
	// EpisodeExperienceConfidence is the confidence newly-promoted
	// Experience nodes start at. Default 0.50 (spec §4.8).
	EpisodeExperienceConfidence float64

	Logger *slog.Logger

	// Metrics records each cycle's wall-clock duration. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) metrics() *observe.Metrics {
	if c.Metrics != nil {
		return c.Metrics
	}
	return observe.DefaultMetrics()
}

const (
	defaultDecayInterval         = 7 * 24 * time.Hour
	defaultRevisionSchedule      = "0 2 * * *"
	defaultInferenceSchedule     = "0 3 * * *"
	defaultEpisodeSchedule       = "0 4 * * 0"
	defaultRevisionSampleSize    = 50
	defaultRevisionTTL           = 14 * 24 * time.Hour
	defaultInferenceCandidateCap = 10
	defaultEpisodeClusterMinSize = 3
	defaultExperienceConfidence  = 0.50
)

func (c Config) withDefaults() Config {
	if c.DecayInterval <= 0 {
		c.DecayInterval = defaultDecayInterval
	}
	if c.RevisionSchedule == "" {
		c.RevisionSchedule = defaultRevisionSchedule
	}
	if c.InferenceSchedule == "" {
		c.InferenceSchedule = defaultInferenceSchedule
	}
	if c.EpisodeSchedule == "" {
		c.EpisodeSchedule = defaultEpisodeSchedule
	}
	if c.RevisionSampleSize <= 0 {
		c.RevisionSampleSize = defaultRevisionSampleSize
	}
	if c.RevisionTTL <= 0 {
		c.RevisionTTL = defaultRevisionTTL
	}
	if c.InferenceCandidateCap <= 0 {
		c.InferenceCandidateCap = defaultInferenceCandidateCap
	}
	if c.EpisodeClusterMinSize <= 0 {
		c.EpisodeClusterMinSize = defaultEpisodeClusterMinSize
	}
	if c.EpisodeExperienceConfidence <= 0 {
		c.EpisodeExperienceConfidence = defaultExperienceConfidence
	}
	if c.Confidence.MaxConfidence == 0 {
		c.Confidence = confidence.DefaultConfig()
	}
	return c
}

// Manager runs the four Background Workers cycles. It follows the shape of
// the teacher's Consolidator: a config struct, a Start(ctx)/Stop() pair, a
// ticker loop for the decay cycle's elapsed-interval semantics, and a
// sync.Once guarding idempotent shutdown. The wall-clock-anchored cycles
// (revision, inference, episode clustering) are scheduled through
// robfig/cron/v3 instead of a second ticker, since the spec names cron-like
// schedules for them rather than fixed elapsed intervals.
type Manager struct {
	cfg  Config
	cron *cron.Cron

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a Manager. Call [Manager.Start] to begin running
// cycles in the background.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:  cfg.withDefaults(),
		cron: cron.New(),
		done: make(chan struct{}),
	}
}

// Start begins all four cycles in background goroutines. The cycles run
// until ctx is cancelled or [Manager.Stop] is called.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.decayLoop(ctx)

	m.mustSchedule(ctx, m.cfg.RevisionSchedule, m.runRevisionCycleAllUsers)
	m.mustSchedule(ctx, m.cfg.InferenceSchedule, m.runInferenceCycleAllUsers)
	m.mustSchedule(ctx, m.cfg.EpisodeSchedule, m.runEpisodeClusteringAllUsers)
	m.cron.Start()
}

// Stop halts every cycle. Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.cron.Stop()
	})
	m.wg.Wait()
}

func (m *Manager) mustSchedule(ctx context.Context, spec string, run func(context.Context)) {
	_, err := m.cron.AddFunc(spec, func() { run(ctx) })
	if err != nil {
		m.cfg.logger().Error("background worker: invalid cron schedule, cycle disabled",
			"schedule", spec, "error", err)
	}
}

func (m *Manager) decayLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.runDecayCycleAllUsers(ctx)
		}
	}
}

// forEachUser runs fn once per user returned by cfg.Users, holding that
// user's writer lock for the duration of fn and logging (rather than
// aborting the whole cycle on) a per-user failure.
func (m *Manager) forEachUser(ctx context.Context, cycleName string, fn func(ctx context.Context, store graph.Store, userID string) error) {
	userIDs, err := m.cfg.Users.ListUserIDs(ctx)
	if err != nil {
		m.cfg.logger().Warn("background worker: could not list users, cycle skipped",
			"cycle", cycleName, "error", err)
		return
	}

	for _, userID := range userIDs {
		unlock := m.cfg.Locker.Lock(userID)
		store := m.cfg.Stores(userID)
		err := fn(ctx, store, userID)
		unlock()
		if err != nil {
			m.cfg.logger().Warn("background worker cycle failed for user",
				"cycle", cycleName, "user_id", userID, "error", err)
		}
	}
}
