package reservation

import (
	"fmt"
	"time"
)

// =============================================================================
// INTERVAL - Half-open time span used for all overlap checks
// =============================================================================

// Interval is the half-open span [Start, End).
//
// Two intervals that merely touch (one ends exactly when the other starts)
// do not overlap, so back-to-back bookings are allowed.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether Start is strictly before End.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Duration returns End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps applies the half-open test: a.start < b.end AND a.end > b.start.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}

// Contains reports whether t falls within [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Day returns the 24h interval starting at midnight of t in t's location.
func Day(t time.Time) Interval {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return Interval{Start: start, End: start.AddDate(0, 0, 1)}
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}
