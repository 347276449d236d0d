package extraction

import (
	"context"
	"strings"
	"time"

	"github.com/knowgraph/memoryd/pkg/graph"
)

// relativeExpiries maps a recognized relative-time phrase to how far past
// "now" (in the utterance's timezone) its expiry should fall.
var relativeExpiries = []struct {
	phrase string
	until  func(now time.Time) time.Time
}{
	{"today", func(now time.Time) time.Time { return endOfDay(now) }},
	{"tonight", func(now time.Time) time.Time { return endOfDay(now) }},
	{"tomorrow", func(now time.Time) time.Time { return endOfDay(now.AddDate(0, 0, 1)) }},
	{"this week", func(now time.Time) time.Time { return now.AddDate(0, 0, 7) }},
	{"next week", func(now time.Time) time.Time { return now.AddDate(0, 0, 14) }},
	{"this month", func(now time.Time) time.Time { return now.AddDate(0, 1, 0) }},
	{"next month", func(now time.Time) time.Time { return now.AddDate(0, 2, 0) }},
}

// temporalCues maps a lexical cue to a [graph.TemporalType], checked before
// falling back to the Stage 5 default of state.
var temporalCues = []struct {
	phrase string
	typ    graph.TemporalType
}{
	{"i wish", graph.TemporalWish},
	{"i hope", graph.TemporalWish},
	{"i want to", graph.TemporalWish},
	{"always", graph.TemporalTrait},
	{"i am a", graph.TemporalTrait},
	{"i have always", graph.TemporalTrait},
}

// AssignTemporalScope implements Stage 5: classify each relation's temporal
// type from lexical cues and resolve any relative time expression present
// in the utterance into an absolute expiry in the session's timezone.
// Fallback: state, no expiry.
func AssignTemporalScope(_ context.Context, d *Draft) (*Draft, error) {
	tz := d.Timezone
	if tz == nil {
		tz = time.UTC
	}
	now := time.Now().In(tz)
	lower := strings.ToLower(d.CleanedText)

	expiry := resolveRelativeExpiry(lower, now)

	for i := range d.Relations {
		rel := &d.Relations[i]
		if rel.Retraction {
			continue
		}
		rel.TemporalType = classifyTemporalType(lower)
		if rel.TemporalType == graph.TemporalWish && expiry != nil {
			rel.Expiry = expiry
		}
	}
	return d, nil
}

func classifyTemporalType(lower string) graph.TemporalType {
	for _, cue := range temporalCues {
		if strings.Contains(lower, cue.phrase) {
			return cue.typ
		}
	}
	return graph.TemporalState
}

func resolveRelativeExpiry(lower string, now time.Time) *time.Time {
	for _, re := range relativeExpiries {
		if strings.Contains(lower, re.phrase) {
			t := re.until(now)
			return &t
		}
	}
	return nil
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
