package reservation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/facility-engine/reservation"
	"github.com/warp/facility-engine/reservation/store"
)

func TestInterval_HalfOpenOverlap(t *testing.T) {
	iv := func(h1, h2 int) reservation.Interval {
		return reservation.Interval{Start: at(h1, 0), End: at(h2, 0)}
	}

	tests := []struct {
		name string
		a, b reservation.Interval
		want bool
	}{
		{"identical", iv(10, 11), iv(10, 11), true},
		{"partial", iv(10, 12), iv(11, 13), true},
		{"contained", iv(9, 14), iv(10, 11), true},
		{"touching end", iv(10, 11), iv(11, 12), false},
		{"touching start", iv(11, 12), iv(10, 11), false},
		{"disjoint", iv(8, 9), iv(10, 11), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestConflictDetector_ActiveOnlyAndExclude(t *testing.T) {
	// GIVEN: Reservations in every status overlapping 10:00-11:00
	mem := store.NewMemory()
	statuses := []reservation.Status{
		reservation.StatusPending,
		reservation.StatusApproved,
		reservation.StatusRejected,
		reservation.StatusCancelled,
		reservation.StatusCompleted,
	}
	for i, s := range statuses {
		mem.PutReservation(reservation.Reservation{
			ID:         reservation.ReservationID(s),
			FacilityID: "room-101",
			UserID:     "u",
			Start:      at(10, 0).Add(time.Duration(i) * time.Minute),
			End:        at(11, 0),
			Status:     s,
		})
	}
	mem.PutReservation(reservation.Reservation{
		ID: "other-facility", FacilityID: "lab-2", Start: at(10, 0), End: at(11, 0), Status: reservation.StatusApproved,
	})

	var d reservation.ConflictDetector
	ctx := context.Background()
	window := reservation.Interval{Start: at(10, 30), End: at(10, 45)}

	// WHEN / THEN: Only PENDING and APPROVED on the same facility conflict
	got, err := d.FindConflicts(ctx, mem, "room-101", window, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, reservation.ReservationID(reservation.StatusPending), got[0].ID)
	assert.Equal(t, reservation.ReservationID(reservation.StatusApproved), got[1].ID)

	// AND: Excluding one leaves the other
	got, err = d.FindConflicts(ctx, mem, "room-101", window, reservation.ReservationID(reservation.StatusPending))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, reservation.ReservationID(reservation.StatusApproved), got[0].ID)
}

func TestBlackoutRegistry(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveFacility(ctx, reservation.Facility{ID: "room-101", Name: "Room", Active: true}))
	reg := reservation.NewBlackoutRegistry(mem)

	_, err := reg.Add(ctx, reservation.BlackoutBlock{FacilityID: "room-101", Start: at(12, 0), End: at(12, 0)})
	assert.ErrorIs(t, err, reservation.ErrPolicyViolation)

	_, err = reg.Add(ctx, reservation.BlackoutBlock{FacilityID: "missing", Start: at(12, 0), End: at(13, 0)})
	assert.True(t, reservation.IsNotFound(err))

	b, err := reg.Add(ctx, reservation.BlackoutBlock{FacilityID: "room-101", Start: at(12, 0), End: at(13, 0), Type: reservation.BlockHoliday})
	require.NoError(t, err)

	found, err := reg.FindOverlapping(ctx, "room-101", at(12, 59), at(14, 0))
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = reg.FindOverlapping(ctx, "room-101", at(13, 0), at(14, 0))
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, reg.Remove(ctx, b.ID))
	assert.True(t, reservation.IsNotFound(reg.Remove(ctx, b.ID)))

	all, err := reg.List(ctx, "room-101")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStateMachine(t *testing.T) {
	allowed := map[reservation.Status][]reservation.Status{
		reservation.StatusPending:  {reservation.StatusApproved, reservation.StatusRejected, reservation.StatusCancelled},
		reservation.StatusApproved: {reservation.StatusCompleted, reservation.StatusCancelled},
	}
	all := []reservation.Status{
		reservation.StatusPending, reservation.StatusApproved, reservation.StatusRejected,
		reservation.StatusCancelled, reservation.StatusCompleted,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, contains(allowed[from], to), reservation.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func contains(list []reservation.Status, s reservation.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
