package reservation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEDULE & STATS - Read-only views for dashboards
// =============================================================================

// DaySchedule lists what occupies a facility on one day.
type DaySchedule struct {
	FacilityID   FacilityID
	Day          Interval
	Reservations []Reservation // active only
	Blackouts    []BlackoutBlock
}

// Schedule returns the active reservations and blackouts overlapping the
// calendar day containing day.
func (m *Manager) Schedule(ctx context.Context, facilityID FacilityID, day time.Time) (DaySchedule, error) {
	if _, err := m.store.GetFacility(ctx, facilityID); err != nil {
		return DaySchedule{}, err
	}
	iv := Day(day)

	blocks, err := findOverlappingBlackouts(ctx, m.store, facilityID, iv)
	if err != nil {
		return DaySchedule{}, err
	}
	active, err := m.detector.FindConflicts(ctx, m.store, facilityID, iv, "")
	if err != nil {
		return DaySchedule{}, err
	}

	return DaySchedule{
		FacilityID:   facilityID,
		Day:          iv,
		Reservations: active,
		Blackouts:    blocks,
	}, nil
}

// Stats summarizes reservations overlapping a window.
type Stats struct {
	From     time.Time
	To       time.Time
	Total    int
	ByStatus map[Status]int
	Pending  int
	// BookedHours sums approved and completed time inside [From, To).
	BookedHours decimal.Decimal
}

// Stats counts reservations overlapping [from, to), optionally limited to
// one facility.
func (m *Manager) Stats(ctx context.Context, facilityID FacilityID, from, to time.Time) (Stats, error) {
	window := Interval{Start: from.UTC(), End: to.UTC()}
	if !window.Valid() {
		return Stats{}, invalidInterval(window)
	}

	rows, err := m.store.ListReservations(ctx, ListFilter{FacilityID: facilityID, From: window.Start, To: window.End})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		From:        window.Start,
		To:          window.End,
		ByStatus:    make(map[Status]int),
		BookedHours: decimal.Zero,
	}
	minutes := decimal.Zero
	for _, r := range rows {
		stats.Total++
		stats.ByStatus[r.Status]++
		if r.Status != StatusApproved && r.Status != StatusCompleted {
			continue
		}
		clipped := clip(r.Interval(), window)
		minutes = minutes.Add(decimal.NewFromFloat(clipped.Minutes()))
	}
	stats.Pending = stats.ByStatus[StatusPending]
	stats.BookedHours = minutes.Div(decimal.NewFromInt(60)).Round(2)
	return stats, nil
}

// clip returns the length of iv inside window.
func clip(iv, window Interval) time.Duration {
	start, end := iv.Start, iv.End
	if start.Before(window.Start) {
		start = window.Start
	}
	if end.After(window.End) {
		end = window.End
	}
	if !start.Before(end) {
		return 0
	}
	return end.Sub(start)
}
