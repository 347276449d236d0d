package proactive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/knowgraph/memoryd/internal/audit"
	"github.com/knowgraph/memoryd/internal/queue/outbound"
)

// DeliveryGates are the frequency caps spec §4.9 layers on top of
// [outbound.Queue.GetProbe]'s own context-fit threshold: a maximum number
// of probes per conversation, per day, and per week. An all-zero value
// takes the spec defaults via [DeliveryGates.withDefaults]; a value with
// any field set is used as given, zero fields included.
type DeliveryGates struct {
	MaxPerConversation int
	MaxPerDay          int
	MaxPerWeek         int
}

// DefaultDeliveryGates returns spec §4.9's defaults: 1 per conversation, 3
// per day, 10 per week.
func DefaultDeliveryGates() DeliveryGates {
	return DeliveryGates{MaxPerConversation: 1, MaxPerDay: 3, MaxPerWeek: 10}
}

func (g DeliveryGates) withDefaults() DeliveryGates {
	if g == (DeliveryGates{}) {
		return DefaultDeliveryGates()
	}
	return g
}

// deliveryCounters tracks one user's rolling delivery counts. A new
// conversation is detected heuristically by the channel's turn number
// resetting to a value not greater than the last turn seen on that
// channel — the proactive delivery path is not told a conversation id
// directly (spec §4.4's get_probes signature carries only channel and
// turn_number).
type deliveryCounters struct {
	mu sync.Mutex

	conversationChannel  string
	conversationLastTurn int
	conversationCount    int

	dayKey   string
	dayCount int

	weekKey   string
	weekCount int
}

func (c *deliveryCounters) record(channel string, turnNumber int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if channel != c.conversationChannel || turnNumber <= c.conversationLastTurn {
		c.conversationChannel = channel
		c.conversationCount = 0
	}
	c.conversationLastTurn = turnNumber
	c.conversationCount++

	if dayKey := now.Format("2006-01-02"); dayKey != c.dayKey {
		c.dayKey = dayKey
		c.dayCount = 0
	}
	c.dayCount++

	if year, week := now.ISOWeek(); fmt.Sprintf("%d-%02d", year, week) != c.weekKey {
		c.weekKey = fmt.Sprintf("%d-%02d", year, week)
		c.weekCount = 0
	}
	c.weekCount++
}

func (c *deliveryCounters) exceeds(g DeliveryGates, channel string, turnNumber int, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	conversationCount := c.conversationCount
	if channel != c.conversationChannel || turnNumber <= c.conversationLastTurn {
		conversationCount = 0
	}
	dayCount := c.dayCount
	if dayKey := now.Format("2006-01-02"); dayKey != c.dayKey {
		dayCount = 0
	}
	weekCount := c.weekCount
	if year, week := now.ISOWeek(); fmt.Sprintf("%d-%02d", year, week) != c.weekKey {
		weekCount = 0
	}

	return conversationCount >= g.MaxPerConversation ||
		dayCount >= g.MaxPerDay ||
		weekCount >= g.MaxPerWeek
}

// Gater wraps an [outbound.Queue] with the frequency caps of
// [DeliveryGates], keyed per user.
type Gater struct {
	cfg      Config
	mu       sync.Mutex
	counters map[string]*deliveryCounters
}

// NewGater creates a Gater from cfg.
func NewGater(cfg Config) *Gater {
	return &Gater{cfg: cfg.withDefaults(), counters: make(map[string]*deliveryCounters)}
}

func (g *Gater) counterFor(userID string) *deliveryCounters {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.counters[userID]
	if !ok {
		c = &deliveryCounters{}
		g.counters[userID] = c
	}
	return c
}

// Deliver retrieves the best-fit item for userID via the underlying
// [outbound.Queue.GetProbe], additionally withholding delivery if any of
// the per-conversation/day/week caps in [Config.Gates] would be exceeded.
// A successful delivery records an [audit.KindProbeDelivered] entry.
func (g *Gater) Deliver(ctx context.Context, userID string, activeTopics, entitiesInScope []string, channel string, turnNumber int, now time.Time) (outbound.Item, bool, error) {
	counters := g.counterFor(userID)
	if counters.exceeds(g.cfg.Gates, channel, turnNumber, now) {
		return outbound.Item{}, false, nil
	}

	queue := g.cfg.Outbound(userID)
	item, found, err := queue.GetProbe(ctx, activeTopics, entitiesInScope, channel, turnNumber, now)
	if err != nil || !found {
		return item, found, err
	}

	counters.record(channel, turnNumber, now)
	if g.cfg.Audit != nil {
		_, _ = g.cfg.Audit.Append(ctx, audit.Entry{
			Kind:       audit.KindProbeDelivered,
			Component:  "proactive.gating",
			AffectedID: item.ID,
			SessionID:  userID,
		})
	}
	return item, true, nil
}
