package proactive

import "time"

// QuietHours is a daily clock-time window (in the recipient's local time)
// during which starters are withheld unless the event kind permits an
// override (spec §4.9: "alerts may").
//
// A zero-value QuietHours (Start == End) is treated as no quiet-hours
// window at all.
type QuietHours struct {
	// Start and End are clock offsets since midnight. End < Start is a
	// window that wraps past midnight (e.g. 22:00 to 07:00).
	Start, End time.Duration
}

// DefaultQuietHours returns the common 22:00–07:00 local-time window.
func DefaultQuietHours() QuietHours {
	return QuietHours{Start: 22 * time.Hour, End: 7 * time.Hour}
}

// Contains reports whether now's local clock time falls within the window.
func (q QuietHours) Contains(now time.Time) bool {
	if q.Start == q.End {
		return false
	}
	clock := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second

	if q.Start < q.End {
		return clock >= q.Start && clock < q.End
	}
	// Wraps past midnight: inside the window if at or after Start, or
	// before End.
	return clock >= q.Start || clock < q.End
}
