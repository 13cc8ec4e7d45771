/*
conflict.go - Overlap detection against active reservations and blackouts

PURPOSE:
  Answers "may [start, end) be held on this facility?". A reservation
  conflicts when it is PENDING or APPROVED and its half-open interval
  overlaps the candidate. A blackout conflicts whenever it overlaps.

LOCKING:
  The detector itself is stateless. Called with a Tx from a facility-locked
  section its answer stays true until commit; called with a plain Store
  (Availability) it is a point-in-time hint only.

SEE ALSO:
  - interval.go: The overlap test
  - lifecycle.go: Create and Approve run Check inside the facility lock
*/
package reservation

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ConflictDetector finds overlaps on a facility.
type ConflictDetector struct{}

// FindConflicts returns the active reservations on facilityID overlapping iv,
// ordered by start. exclude, when non-empty, is left out of the result.
func (ConflictDetector) FindConflicts(ctx context.Context, r ReservationReader, facilityID FacilityID, iv Interval, exclude ReservationID) ([]Reservation, error) {
	candidates, err := r.FindReservations(ctx, facilityID, iv)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations for facility %s: %w", facilityID, err)
	}

	var out []Reservation
	for _, existing := range candidates {
		if existing.ID == exclude || existing.FacilityID != facilityID {
			continue
		}
		if existing.Status.IsActive() && existing.Interval().Overlaps(iv) {
			out = append(out, existing)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Check returns a ConflictError for the first blackout, then the first active
// reservation, overlapping iv. Blackouts are checked first.
func (d ConflictDetector) Check(ctx context.Context, r Reader, facilityID FacilityID, iv Interval, exclude ReservationID) error {
	blocks, err := findOverlappingBlackouts(ctx, r, facilityID, iv)
	if err != nil {
		return err
	}
	if len(blocks) > 0 {
		return &ConflictError{
			FacilityID: facilityID,
			Interval:   iv,
			BlackoutID: blocks[0].ID,
			Reason:     blocks[0].Reason,
		}
	}

	conflicts, err := d.FindConflicts(ctx, r, facilityID, iv, exclude)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{
			FacilityID:    facilityID,
			Interval:      iv,
			ReservationID: conflicts[0].ID,
		}
	}
	return nil
}

// =============================================================================
// AVAILABILITY - Unlocked read for clients picking a slot
// =============================================================================

// Availability is the result of a read-only availability check.
type Availability struct {
	FacilityID   FacilityID
	Interval     Interval
	Available    bool
	Reservations []Reservation
	Blackouts    []BlackoutBlock
}

// Availability reports what currently blocks [start, end) on the facility.
// It takes no lock, so a later Create may still fail with a conflict.
func (d ConflictDetector) Availability(ctx context.Context, r Reader, facilityID FacilityID, start, end time.Time) (Availability, error) {
	iv := Interval{Start: start, End: end}
	if !iv.Valid() {
		return Availability{}, invalidInterval(iv)
	}
	if _, err := r.GetFacility(ctx, facilityID); err != nil {
		return Availability{}, err
	}

	blocks, err := findOverlappingBlackouts(ctx, r, facilityID, iv)
	if err != nil {
		return Availability{}, err
	}
	conflicts, err := d.FindConflicts(ctx, r, facilityID, iv, "")
	if err != nil {
		return Availability{}, err
	}

	return Availability{
		FacilityID:   facilityID,
		Interval:     iv,
		Available:    len(blocks) == 0 && len(conflicts) == 0,
		Reservations: conflicts,
		Blackouts:    blocks,
	}, nil
}

func invalidInterval(iv Interval) error {
	return &PolicyViolationError{
		Rule: RuleInvalidInterval,
		Message: fmt.Sprintf("start %s must be before end %s",
			iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339)),
	}
}
