package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/facility-engine/reservation"
)

func approve(t *testing.T, ts *testServer, id string) {
	t.Helper()
	_, err := ts.scheduler.Manager.Approve(context.Background(), reservation.ReservationID(id), "admin-1", "")
	require.NoError(t, err)
}

func TestSweep_RespectsGrace(t *testing.T) {
	// GIVEN: An approved reservation ending at 11:00 with a one hour grace
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))
	approve(t, ts, res.ID)

	// WHEN: Sweeping inside the grace period
	ts.now = at(11, 30)
	got, err := ts.scheduler.Sweep(context.Background())

	// THEN: Nothing is completed
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Skipped: 1}, got)

	// WHEN: Sweeping exactly at end plus grace
	ts.now = at(12, 0)
	got, err = ts.scheduler.Sweep(context.Background())

	// THEN: It is completed and logged as an automatic completion
	require.NoError(t, err)
	assert.Equal(t, 1, got.Completed)

	entries, err := ts.scheduler.Manager.Log(context.Background(), reservation.ReservationID(res.ID))
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, reservation.ActionAutoCompleted, last.Action)
	assert.Equal(t, reservation.ActorSystem, last.ActorType)
}

func TestSweep_IgnoresPendingAndCancelled(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, "alice", at(10, 0), at(11, 0))
	cancelled := ts.create(t, "bob", at(13, 0), at(14, 0))
	approve(t, ts, cancelled.ID)
	_, err := ts.scheduler.Manager.Cancel(context.Background(), reservation.ReservationID(cancelled.ID),
		reservation.Actor{ID: "bob", Type: reservation.ActorUser}, "")
	require.NoError(t, err)

	ts.now = at(20, 0)
	got, err := ts.scheduler.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, got)
}

func TestSweep_Repeatable(t *testing.T) {
	// GIVEN: A completed sweep
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))
	approve(t, ts, res.ID)
	ts.now = at(13, 0)
	_, err := ts.scheduler.Sweep(context.Background())
	require.NoError(t, err)

	// WHEN: Sweeping again
	got, err := ts.scheduler.Sweep(context.Background())

	// THEN: Nothing further happens
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, got)

	entries, err := ts.scheduler.Manager.Log(context.Background(), reservation.ReservationID(res.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

type staleLister struct {
	rows []reservation.Reservation
}

func (s staleLister) ListApprovedEndedBy(context.Context, time.Time) ([]reservation.Reservation, error) {
	return s.rows, nil
}

func TestSweep_CancelledAfterListing(t *testing.T) {
	// GIVEN: A candidate list that still shows a reservation as approved
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))
	approve(t, ts, res.ID)
	stale, err := ts.scheduler.Manager.Get(context.Background(), reservation.ReservationID(res.ID))
	require.NoError(t, err)

	// AND: It was cancelled in the meantime
	_, err = ts.scheduler.Manager.Cancel(context.Background(), stale.ID, reservation.Actor{ID: "admin-2", Type: reservation.ActorAdmin}, "")
	require.NoError(t, err)

	ts.scheduler.Store = staleLister{rows: []reservation.Reservation{stale}}
	ts.now = at(13, 0)

	// WHEN: Sweeping
	got, err := ts.scheduler.Sweep(context.Background())

	// THEN: The row is skipped and stays cancelled
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Skipped: 1}, got)

	current, err := ts.scheduler.Manager.Get(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusCancelled, current.Status)
}

type failingLister struct{}

func (failingLister) ListApprovedEndedBy(context.Context, time.Time) ([]reservation.Reservation, error) {
	return nil, errors.New("database is locked")
}

func TestSweep_ListFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.scheduler.Store = failingLister{}

	_, err := ts.scheduler.Sweep(context.Background())

	assert.EqualError(t, err, "database is locked")
}

func TestScheduler_StartStop(t *testing.T) {
	// GIVEN: A due reservation and a running scheduler
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))
	approve(t, ts, res.ID)
	ts.now = at(13, 0)

	ts.scheduler.CheckInterval = time.Hour
	ts.scheduler.Start()

	// THEN: The first sweep runs immediately
	require.Eventually(t, func() bool {
		r, err := ts.scheduler.Manager.Get(context.Background(), reservation.ReservationID(res.ID))
		return err == nil && r.Status == reservation.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	ts.scheduler.Stop()
	assert.Equal(t, at(14, 0), ts.scheduler.GetNextRunTime())
}

func TestScheduler_Disabled(t *testing.T) {
	ts := newTestServer(t)
	ts.scheduler.Enabled = false

	ts.scheduler.Start()
	defer ts.scheduler.Stop()

	assert.Nil(t, ts.scheduler.ticker)
}
