// Package storetest is a behavioural suite every reservation.Backend must
// pass. The memory, SQLite and PostgreSQL stores run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/facility-engine/reservation"
)

// Day is the fixed "now" of the suite.
var Day = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, 0, 0, time.UTC)
}

// Run executes the suite. newBackend must return an empty backend; it is
// called once per subtest.
func Run(t *testing.T, newBackend func(t *testing.T) reservation.Backend) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b reservation.Backend)
	}{
		{"FacilityRoundTrip", testFacilityRoundTrip},
		{"InsertFacilityTakenID", testInsertFacilityTakenID},
		{"PolicyOverride", testPolicyOverride},
		{"Blackouts", testBlackouts},
		{"Lifecycle", testLifecycle},
		{"LogOrder", testLogOrder},
		{"ConcurrentOverlappingCreates", testConcurrentOverlappingCreates},
		{"StaleVersion", testStaleVersion},
		{"Rollback", testRollback},
		{"ListFilters", testListFilters},
		{"ApprovedEndedBy", testApprovedEndedBy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newBackend(t))
		})
	}
}

func policy() reservation.EffectivePolicy {
	return reservation.EffectivePolicy{
		MaxDaysInAdvance:       30,
		MinDurationMinutes:     30,
		MaxDurationMinutes:     480,
		AutoCompleteGraceHours: 1,
		MaxActivePerUser:       50,
	}
}

func seed(t *testing.T, b reservation.Backend) *reservation.Manager {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.SaveFacility(ctx, reservation.Facility{
		ID: "room-101", Name: "Room 101", Type: reservation.FacilityMeetingRoom,
		Capacity: 8, Active: true, CreatedAt: Day, UpdatedAt: Day,
	}))
	require.NoError(t, b.SaveFacility(ctx, reservation.Facility{
		ID: "lab-2", Name: "Lab 2", Type: reservation.FacilityLab,
		Active: true, CreatedAt: Day, UpdatedAt: Day,
	}))

	resolver, err := reservation.NewPolicyResolver(b, policy())
	require.NoError(t, err)
	mgr := reservation.NewManager(b, resolver, reservation.Options{
		LockWait: 5 * time.Second,
		Now:      func() time.Time { return Day },
	})
	t.Cleanup(mgr.Wait)
	return mgr
}

func create(t *testing.T, mgr *reservation.Manager, facility reservation.FacilityID, user string, start, end time.Time) reservation.Reservation {
	t.Helper()
	r, err := mgr.Create(context.Background(), reservation.CreateRequest{
		FacilityID: facility, UserID: user, Start: start, End: end, Purpose: "seminar",
	})
	require.NoError(t, err)
	return r
}

func intPtr(n int) *int { return &n }

// =============================================================================
// CATALOG
// =============================================================================

func testFacilityRoundTrip(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	want := reservation.Facility{
		ID: "aud-1", Name: "Auditorium", Type: reservation.FacilityAuditorium,
		Location: "Building A", Description: "Main hall", Capacity: 300, Active: true,
		CreatedAt: Day, UpdatedAt: Day,
	}
	require.NoError(t, b.SaveFacility(ctx, want))

	got, err := b.GetFacility(ctx, "aud-1")
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.Location, got.Location)
	assert.Equal(t, want.Capacity, got.Capacity)
	assert.True(t, got.Active)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	// Saving again updates in place
	want.Active = false
	want.UpdatedAt = Day.Add(time.Hour)
	require.NoError(t, b.SaveFacility(ctx, want))
	got, err = b.GetFacility(ctx, "aud-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))

	all, err := b.ListFacilities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = b.GetFacility(ctx, "missing")
	assert.True(t, reservation.IsNotFound(err))
}

func testInsertFacilityTakenID(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	original := reservation.Facility{
		ID: "lab-9", Name: "Chemistry Lab", Type: reservation.FacilityLab, Capacity: 20, Active: false,
		CreatedAt: Day, UpdatedAt: Day,
	}
	require.NoError(t, b.InsertFacility(ctx, original))

	err := b.InsertFacility(ctx, reservation.Facility{
		ID: "lab-9", Name: "Other", Type: reservation.FacilityOther, Capacity: 1, Active: true,
		CreatedAt: Day, UpdatedAt: Day,
	})

	var ae *reservation.AlreadyExistsError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "lab-9", ae.ID)
	got, err := b.GetFacility(ctx, "lab-9")
	require.NoError(t, err)
	assert.Equal(t, "Chemistry Lab", got.Name)
	assert.False(t, got.Active)
}

func testPolicyOverride(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	seed(t, b)

	p, err := b.GetPolicyOverride(ctx, "room-101")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, b.SavePolicyOverride(ctx, reservation.PolicyOverride{
		FacilityID: "room-101", MaxDurationMinutes: intPtr(120), UpdatedAt: Day,
	}))
	require.NoError(t, b.SavePolicyOverride(ctx, reservation.PolicyOverride{
		FacilityID: "room-101", MaxDurationMinutes: intPtr(90), MaxActivePerUser: intPtr(2), UpdatedAt: Day,
	}))

	p, err = b.GetPolicyOverride(ctx, "room-101")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.MaxDurationMinutes)
	assert.Equal(t, 90, *p.MaxDurationMinutes)
	assert.Equal(t, 2, *p.MaxActivePerUser)
	assert.Nil(t, p.MinDurationMinutes)
}

func testBlackouts(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	seed(t, b)

	block := reservation.BlackoutBlock{
		ID: "b-1", FacilityID: "room-101", Start: at(12, 0), End: at(13, 0),
		Reason: "cleaning", Type: reservation.BlockMaintenance, CreatedBy: "admin", CreatedAt: Day,
	}
	require.NoError(t, b.SaveBlackout(ctx, block))

	found, err := b.FindBlackouts(ctx, "room-101", reservation.Interval{Start: at(12, 30), End: at(14, 0)})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "cleaning", found[0].Reason)
	assert.True(t, at(12, 0).Equal(found[0].Start))

	// Half-open: touching the end is not an overlap
	found, err = b.FindBlackouts(ctx, "room-101", reservation.Interval{Start: at(13, 0), End: at(14, 0)})
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = b.FindBlackouts(ctx, "lab-2", reservation.Interval{Start: at(12, 0), End: at(13, 0)})
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, b.DeleteBlackout(ctx, "b-1"))
	assert.True(t, reservation.IsNotFound(b.DeleteBlackout(ctx, "b-1")))

	all, err := b.ListBlackouts(ctx, "room-101")
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func testLifecycle(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	mgr := seed(t, b)

	r := create(t, mgr, "room-101", "alice", at(10, 0), at(11, 0))
	assert.Equal(t, 1, r.Version)

	stored, err := b.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPending, stored.Status)
	assert.Equal(t, "seminar", stored.Purpose)
	assert.True(t, at(10, 0).Equal(stored.Start))
	assert.Nil(t, stored.ApprovedAt)

	approved, err := mgr.Approve(ctx, r.ID, "admin-1", "ok")
	require.NoError(t, err)
	assert.Equal(t, 2, approved.Version)

	stored, err = b.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusApproved, stored.Status)
	assert.Equal(t, 2, stored.Version)
	require.NotNil(t, stored.ApprovedBy)
	assert.Equal(t, "admin-1", *stored.ApprovedBy)
	require.NotNil(t, stored.ApprovedAt)
	assert.True(t, Day.Equal(*stored.ApprovedAt))

	// Overlap with an approved reservation is a conflict
	_, err = mgr.Create(ctx, reservation.CreateRequest{
		FacilityID: "room-101", UserID: "bob", Start: at(10, 30), End: at(11, 30),
	})
	assert.ErrorIs(t, err, reservation.ErrConflict)

	// Back-to-back is fine
	create(t, mgr, "room-101", "bob", at(11, 0), at(12, 0))

	cancelled, err := mgr.Cancel(ctx, r.ID, reservation.Actor{ID: "alice", Type: reservation.ActorUser}, "plans changed")
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, cancelled.Status)

	// The slot is free again
	create(t, mgr, "room-101", "bob", at(10, 0), at(11, 0))

	n, err := b.CountActiveForUser(ctx, "room-101", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = b.CountActiveForUser(ctx, "room-101", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testLogOrder(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	mgr := seed(t, b)

	r := create(t, mgr, "room-101", "alice", at(10, 0), at(11, 0))
	_, err := mgr.Approve(ctx, r.ID, "admin-1", "")
	require.NoError(t, err)
	_, err = mgr.Complete(ctx, r.ID)
	require.NoError(t, err)

	entries, err := b.ListLog(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, reservation.ActionCreated, entries[0].Action)
	assert.Equal(t, reservation.ActorUser, entries[0].ActorType)
	assert.Equal(t, reservation.ActionApproved, entries[1].Action)
	assert.Equal(t, "admin-1", entries[1].ActorID)
	assert.Equal(t, reservation.ActionAutoCompleted, entries[2].Action)
	assert.Equal(t, reservation.ActorSystem, entries[2].ActorType)
}

func testConcurrentOverlappingCreates(t *testing.T, b reservation.Backend) {
	mgr := seed(t, b)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		other     []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.Create(context.Background(), reservation.CreateRequest{
				FacilityID: "room-101",
				UserID:     fmt.Sprintf("user-%d", i),
				Start:      at(10, 0).Add(time.Duration(i) * time.Minute),
				End:        at(11, 0),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, reservation.ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, conflicts)
}

func testStaleVersion(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	mgr := seed(t, b)
	r := create(t, mgr, "room-101", "alice", at(10, 0), at(11, 0))

	err := b.WithReservationLock(ctx, r.ID, func(tx reservation.Tx) error {
		cur, err := tx.GetReservation(ctx, r.ID)
		if err != nil {
			return err
		}
		cur.Status = reservation.StatusRejected
		if err := tx.UpdateReservation(ctx, cur); err != nil {
			return err
		}
		// cur.Version is now stale
		return tx.UpdateReservation(ctx, cur)
	})
	assert.ErrorIs(t, err, reservation.ErrConcurrentModification)
	assert.True(t, reservation.IsRetryable(err))

	// The whole section rolled back
	stored, err := b.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Version)
}

func testRollback(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	seed(t, b)

	boom := errors.New("boom")
	err := b.WithFacilityLock(ctx, "room-101", time.Second, func(tx reservation.Tx) error {
		if err := tx.InsertReservation(ctx, reservation.Reservation{
			ID: "r-rollback", FacilityID: "room-101", UserID: "alice",
			Start: at(10, 0), End: at(11, 0), Status: reservation.StatusPending,
			Version: 1, CreatedAt: Day, UpdatedAt: Day,
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = b.GetReservation(ctx, "r-rollback")
	assert.True(t, reservation.IsNotFound(err))

	err = b.WithFacilityLock(ctx, "missing", time.Second, func(reservation.Tx) error { return nil })
	assert.True(t, reservation.IsNotFound(err))
}

func testListFilters(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	mgr := seed(t, b)

	a := create(t, mgr, "room-101", "alice", at(9, 0), at(10, 0))
	create(t, mgr, "room-101", "bob", at(13, 0), at(14, 0))
	create(t, mgr, "lab-2", "alice", at(9, 0), at(10, 0))
	_, err := mgr.Approve(ctx, a.ID, "admin", "")
	require.NoError(t, err)

	got, err := b.ListReservations(ctx, reservation.ListFilter{FacilityID: "room-101"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Start.Before(got[1].Start))

	got, err = b.ListReservations(ctx, reservation.ListFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = b.ListReservations(ctx, reservation.ListFilter{Status: reservation.StatusApproved})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	// Range is an overlap test
	got, err = b.ListReservations(ctx, reservation.ListFilter{FacilityID: "room-101", From: at(10, 0), To: at(13, 30)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].UserID)
}

func testApprovedEndedBy(t *testing.T, b reservation.Backend) {
	ctx := context.Background()
	mgr := seed(t, b)

	early := create(t, mgr, "room-101", "alice", at(9, 0), at(10, 0))
	late := create(t, mgr, "room-101", "bob", at(10, 0), at(11, 0))
	pending := create(t, mgr, "lab-2", "carol", at(9, 0), at(10, 0))
	for _, id := range []reservation.ReservationID{early.ID, late.ID} {
		_, err := mgr.Approve(ctx, id, "admin", "")
		require.NoError(t, err)
	}

	got, err := b.ListApprovedEndedBy(ctx, at(10, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, early.ID, got[0].ID)

	got, err = b.ListApprovedEndedBy(ctx, at(12, 0))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, r := range got {
		assert.NotEqual(t, pending.ID, r.ID)
	}
}
