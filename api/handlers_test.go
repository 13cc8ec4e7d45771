/*
handlers_test.go - Tests for the HTTP API

Tests for:
- Reservation lifecycle over HTTP (create, approve, reject, cancel, log)
- Error mapping (400, 403, 404, 409, 422, 503)
- Facility catalog, policy, availability, schedule and blackout endpoints
- Admin stats and manual completion sweep
- Health and metrics endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/facility-engine/lock"
	"github.com/warp/facility-engine/metrics"
	"github.com/warp/facility-engine/reservation"
	"github.com/warp/facility-engine/reservation/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var monday = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, 0, 0, time.UTC)
}

type testServer struct {
	router    http.Handler
	mem       *store.Memory
	locks     *lock.Keyed
	scheduler *CompletionScheduler
	now       time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	locks := lock.NewKeyed()
	mem := store.NewMemoryWithLocker(locks)
	ctx := context.Background()
	require.NoError(t, mem.SaveFacility(ctx, reservation.Facility{
		ID: "room-101", Name: "Room 101", Type: reservation.FacilityMeetingRoom, Capacity: 8, Active: true,
	}))

	policies, err := reservation.NewPolicyResolver(mem, reservation.EffectivePolicy{
		MaxDaysInAdvance:       30,
		MinDurationMinutes:     30,
		MaxDurationMinutes:     480,
		AutoCompleteGraceHours: 1,
		MaxActivePerUser:       3,
	})
	require.NoError(t, err)

	ts := &testServer{mem: mem, locks: locks, now: monday}
	collector := metrics.New()
	mgr := reservation.NewManager(mem, policies, reservation.Options{
		LockWait: 100 * time.Millisecond,
		Metrics:  collector,
		Now:      func() time.Time { return ts.now },
	})
	t.Cleanup(mgr.Wait)

	ts.scheduler = NewCompletionScheduler(mem, mgr, nil, collector)
	ts.scheduler.Now = func() time.Time { return ts.now }

	h := NewHandler(mgr, reservation.NewCatalog(mem, policies), reservation.NewBlackoutRegistry(mem), ts.scheduler, nil)
	ts.router = NewRouter(h, RouterOptions{
		Metrics: collector,
		Health:  map[string]Pinger{"store": pingerFunc(func(context.Context) error { return nil })},
	})
	return ts
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) create(t *testing.T, user string, start, end time.Time) ReservationDTO {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/reservations", CreateReservationRequest{
		FacilityID: "room-101",
		UserID:     user,
		Start:      start.Format(time.RFC3339),
		End:        end.Format(time.RFC3339),
		Purpose:    "study group",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ReservationDTO](t, rec)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestCreateReservation_Pending(t *testing.T) {
	// GIVEN: An active facility
	ts := newTestServer(t)

	// WHEN: A user books an hour
	res := ts.create(t, "alice", at(10, 0), at(11, 0))

	// THEN: The reservation is pending at version 1
	assert.Equal(t, "PENDING", res.Status)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, "2026-03-02T10:00:00Z", res.Start)

	rec := ts.do(t, http.MethodGet, "/api/reservations/"+res.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, res.ID, decode[ReservationDTO](t, rec).ID)
}

func TestCreateReservation_BadInput(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body CreateReservationRequest
	}{
		{"missing user", CreateReservationRequest{FacilityID: "room-101", Start: "2026-03-02T10:00:00Z", End: "2026-03-02T11:00:00Z"}},
		{"bad start", CreateReservationRequest{FacilityID: "room-101", UserID: "u", Start: "tomorrow", End: "2026-03-02T11:00:00Z"}},
		{"missing end", CreateReservationRequest{FacilityID: "room-101", UserID: "u", Start: "2026-03-02T10:00:00Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/reservations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "bad_request", decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCreateReservation_PolicyViolation(t *testing.T) {
	// GIVEN: A 30 minute minimum duration
	ts := newTestServer(t)

	// WHEN: Booking 15 minutes
	rec := ts.do(t, http.MethodPost, "/api/reservations", CreateReservationRequest{
		FacilityID: "room-101", UserID: "alice",
		Start: at(10, 0).Format(time.RFC3339), End: at(10, 15).Format(time.RFC3339),
	})

	// THEN: 400 with the violated rule
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "policy_violation", resp.Code)
	assert.Equal(t, reservation.RuleMinDuration, resp.Details["rule"])
}

func TestCreateReservation_Conflict(t *testing.T) {
	// GIVEN: A pending reservation 10:00-11:00
	ts := newTestServer(t)
	first := ts.create(t, "alice", at(10, 0), at(11, 0))

	// WHEN: Another user books 10:30-11:30
	rec := ts.do(t, http.MethodPost, "/api/reservations", CreateReservationRequest{
		FacilityID: "room-101", UserID: "bob",
		Start: at(10, 30).Format(time.RFC3339), End: at(11, 30).Format(time.RFC3339),
	})

	// THEN: 409 naming the conflicting reservation
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "conflict", resp.Code)
	assert.Equal(t, first.ID, resp.Details["reservation_id"])

	// AND: Back-to-back is allowed
	ts.create(t, "bob", at(11, 0), at(12, 0))
}

func TestCreateReservation_LockTimeout(t *testing.T) {
	// GIVEN: Another writer holds the facility lock
	ts := newTestServer(t)
	release, err := ts.locks.Acquire(context.Background(), "facility:room-101", time.Second)
	require.NoError(t, err)
	defer release()

	// WHEN: Creating a reservation
	rec := ts.do(t, http.MethodPost, "/api/reservations", CreateReservationRequest{
		FacilityID: "room-101", UserID: "alice",
		Start: at(10, 0).Format(time.RFC3339), End: at(11, 0).Format(time.RFC3339),
	})

	// THEN: 503 with a retry hint
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "lock_timeout", decode[ErrorResponse](t, rec).Code)
}

func TestGetReservation_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/reservations/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestApproveReservation(t *testing.T) {
	// GIVEN: A pending reservation
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))

	// WHEN: An admin approves it
	rec := ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/approve", ApproveRequest{ApproverID: "admin-1", Note: "ok"})

	// THEN: It is approved with the approver recorded
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[ReservationDTO](t, rec)
	assert.Equal(t, "APPROVED", approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "admin-1", *approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Equal(t, 2, approved.Version)

	// AND: Approving again is an invalid transition
	rec = ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/approve", ApproveRequest{ApproverID: "admin-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_state_transition", decode[ErrorResponse](t, rec).Code)
}

func TestApproveReservation_RequiresApprover(t *testing.T) {
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))

	rec := ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/approve", ApproveRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveReservation_BlackoutAddedLater(t *testing.T) {
	// GIVEN: A pending reservation and a blackout added afterwards
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))
	rec := ts.do(t, http.MethodPost, "/api/facilities/room-101/blackouts", CreateBlackoutRequest{
		Start: at(9, 0).Format(time.RFC3339), End: at(12, 0).Format(time.RFC3339),
		Reason: "floor polishing", CreatedBy: "facilities",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	block := decode[BlackoutDTO](t, rec)

	// WHEN: Approving
	rec = ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/approve", ApproveRequest{ApproverID: "admin-1"})

	// THEN: 409 naming the blackout
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[struct {
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, block.ID, resp.Details["blackout_id"])
}

func TestRejectReservation(t *testing.T) {
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))

	rec := ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/reject", RejectRequest{ApproverID: "admin-1", Reason: "exam week"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rejected := decode[ReservationDTO](t, rec)
	assert.Equal(t, "REJECTED", rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "exam week", *rejected.RejectReason)

	// The slot is free again.
	ts.create(t, "bob", at(10, 0), at(11, 0))
}

func TestCancelReservation_Actors(t *testing.T) {
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))

	// WHEN: Another user tries to cancel
	rec := ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/cancel", CancelRequest{ActorID: "bob", ActorType: "user"})
	// THEN: Forbidden
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// WHEN: The owner cancels, actor type defaulting to USER
	rec = ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/cancel", CancelRequest{ActorID: "alice", Reason: "plans changed"})
	// THEN: Cancelled
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[ReservationDTO](t, rec).Status)

	// AND: The log shows creation then cancellation
	rec = ts.do(t, http.MethodGet, "/api/reservations/"+res.ID+"/log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]LogEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "CREATED", entries[0].Action)
	assert.Equal(t, "CANCELLED", entries[1].Action)
	assert.Equal(t, "alice", entries[1].ActorID)
	assert.Equal(t, "USER", entries[1].ActorType)
}

func TestCancelReservation_AdminCancelsApproved(t *testing.T) {
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))
	rec := ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/approve", ApproveRequest{ApproverID: "admin-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/cancel", CancelRequest{ActorID: "admin-2", ActorType: "ADMIN", Reason: "room needed"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[ReservationDTO](t, rec).Status)
}

func TestListReservations_Filters(t *testing.T) {
	// GIVEN: Two reservations, one approved
	ts := newTestServer(t)
	a := ts.create(t, "alice", at(10, 0), at(11, 0))
	ts.create(t, "bob", at(13, 0), at(14, 0))
	rec := ts.do(t, http.MethodPost, "/api/reservations/"+a.ID+"/approve", ApproveRequest{ApproverID: "admin-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"?facility_id=room-101", 2},
		{"?user_id=bob", 1},
		{"?status=approved", 1},
		{"?from=2026-03-02T12:00:00Z&to=2026-03-02T18:00:00Z", 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/reservations"+tt.query, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Len(t, decode[[]ReservationDTO](t, rec), tt.want)
		})
	}

	rec = ts.do(t, http.MethodGet, "/api/reservations?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// FACILITIES
// =============================================================================

func TestFacilities_CreateUpdateDeactivate(t *testing.T) {
	ts := newTestServer(t)

	// WHEN: Creating a facility
	rec := ts.do(t, http.MethodPost, "/api/facilities", CreateFacilityRequest{ID: "gym-1", Name: "Main Gym", Type: "gym", Capacity: 40})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	f := decode[FacilityDTO](t, rec)
	assert.Equal(t, "GYM", f.Type)
	assert.True(t, f.Active)

	// AND: Deactivating it
	inactive := false
	rec = ts.do(t, http.MethodPatch, "/api/facilities/gym-1", UpdateFacilityRequest{Active: &inactive})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[FacilityDTO](t, rec).Active)

	// THEN: It can no longer be booked
	rec = ts.do(t, http.MethodPost, "/api/reservations", CreateReservationRequest{
		FacilityID: "gym-1", UserID: "alice",
		Start: at(10, 0).Format(time.RFC3339), End: at(11, 0).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/facilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]FacilityDTO](t, rec), 2)
}

func TestCreateFacility_DuplicateID(t *testing.T) {
	// GIVEN: A deactivated facility
	ts := newTestServer(t)
	inactive := false
	rec := ts.do(t, http.MethodPatch, "/api/facilities/room-101", UpdateFacilityRequest{Active: &inactive})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: Creating another facility with the same id
	rec = ts.do(t, http.MethodPost, "/api/facilities", CreateFacilityRequest{ID: "room-101", Name: "Imposter", Capacity: 2})

	// THEN: 409, and the stored facility is untouched
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	resp := decode[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "already_exists", resp.Code)
	assert.Equal(t, "room-101", resp.Details["id"])

	rec = ts.do(t, http.MethodGet, "/api/facilities/room-101", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	f := decode[FacilityDTO](t, rec)
	assert.False(t, f.Active)
	assert.Equal(t, 8, f.Capacity)
	assert.NotEqual(t, "Imposter", f.Name)
}

func TestCreateFacility_UnknownTypes(t *testing.T) {
	ts := newTestServer(t)
	ruleOf := func(rec *httptest.ResponseRecorder) string {
		resp := decode[struct {
			Details map[string]string `json:"details"`
		}](t, rec)
		return resp.Details["rule"]
	}

	rec := ts.do(t, http.MethodPost, "/api/facilities", CreateFacilityRequest{Name: "Pool", Type: "swimming_pool"})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, reservation.RuleInvalidFacility, ruleOf(rec))

	rec = ts.do(t, http.MethodPost, "/api/facilities/room-101/blackouts", CreateBlackoutRequest{
		Start: at(9, 0).Format(time.RFC3339), End: at(12, 0).Format(time.RFC3339), Type: "party",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, reservation.RuleInvalidBlackout, ruleOf(rec))

	rec = ts.do(t, http.MethodGet, "/api/facilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]FacilityDTO](t, rec), 1)
	rec = ts.do(t, http.MethodGet, "/api/facilities/room-101/blackouts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]BlackoutDTO](t, rec))
}

func TestFacilityPolicy(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: An override of the per-user cap
	one := 1
	rec := ts.do(t, http.MethodPut, "/api/facilities/room-101/policy", PolicyDTO{MaxActivePerUser: &one})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decode[PolicyDTO](t, rec)
	assert.Equal(t, 1, *p.MaxActivePerUser)
	assert.Equal(t, 480, *p.MaxDurationMinutes)

	rec = ts.do(t, http.MethodGet, "/api/facilities/room-101/policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *decode[PolicyDTO](t, rec).MaxActivePerUser)

	// WHEN: The user books twice
	ts.create(t, "alice", at(10, 0), at(11, 0))
	rec = ts.do(t, http.MethodPost, "/api/reservations", CreateReservationRequest{
		FacilityID: "room-101", UserID: "alice",
		Start: at(13, 0).Format(time.RFC3339), End: at(14, 0).Format(time.RFC3339),
	})

	// THEN: The second is refused
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// AND: An invalid override is refused
	zero := 0
	rec = ts.do(t, http.MethodPut, "/api/facilities/room-101/policy", PolicyDTO{MaxDurationMinutes: &zero})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailabilityAndSchedule(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, "alice", at(10, 0), at(11, 0))

	rec := ts.do(t, http.MethodGet, "/api/facilities/room-101/availability?start=2026-03-02T10:30:00Z&end=2026-03-02T12:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a := decode[AvailabilityDTO](t, rec)
	assert.False(t, a.Available)
	assert.Len(t, a.Reservations, 1)

	rec = ts.do(t, http.MethodGet, "/api/facilities/room-101/availability?start=2026-03-02T11:00:00Z&end=2026-03-02T12:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[AvailabilityDTO](t, rec).Available)

	rec = ts.do(t, http.MethodGet, "/api/facilities/room-101/availability?start=2026-03-02T11:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/facilities/room-101/schedule?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decode[ScheduleDTO](t, rec)
	assert.Equal(t, "2026-03-02", s.Date)
	assert.Len(t, s.Reservations, 1)

	rec = ts.do(t, http.MethodGet, "/api/facilities/room-101/schedule?date=03/02/2026", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlackouts_ListAndDelete(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/facilities/room-101/blackouts", CreateBlackoutRequest{
		Start: at(9, 0).Format(time.RFC3339), End: at(12, 0).Format(time.RFC3339), Type: "holiday",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	block := decode[BlackoutDTO](t, rec)
	assert.Equal(t, "HOLIDAY", block.Type)

	// Booking inside the block is a conflict.
	rec = ts.do(t, http.MethodPost, "/api/reservations", CreateReservationRequest{
		FacilityID: "room-101", UserID: "alice",
		Start: at(10, 0).Format(time.RFC3339), End: at(11, 0).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/facilities/room-101/blackouts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BlackoutDTO](t, rec), 1)

	rec = ts.do(t, http.MethodDelete, "/api/blackouts/"+block.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/blackouts/"+block.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.create(t, "alice", at(10, 0), at(11, 0))

	rec = ts.do(t, http.MethodGet, "/api/facilities/nowhere/blackouts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	a := ts.create(t, "alice", at(10, 0), at(11, 30))
	ts.create(t, "bob", at(13, 0), at(14, 0))
	rec := ts.do(t, http.MethodPost, "/api/reservations/"+a.ID+"/approve", ApproveRequest{ApproverID: "admin-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/stats?from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z&facility_id=room-101", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decode[StatsDTO](t, rec)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.ByStatus["APPROVED"])
	assert.Equal(t, "1.50", s.BookedHours)

	rec = ts.do(t, http.MethodGet, "/api/admin/stats?from=2026-03-02T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunCompletions(t *testing.T) {
	// GIVEN: An approved reservation that ended more than the grace period ago
	ts := newTestServer(t)
	res := ts.create(t, "alice", at(10, 0), at(11, 0))
	rec := ts.do(t, http.MethodPost, "/api/reservations/"+res.ID+"/approve", ApproveRequest{ApproverID: "admin-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	ts.now = at(12, 30)

	// WHEN: Running a sweep
	rec = ts.do(t, http.MethodPost, "/api/admin/completions/run", nil)

	// THEN: It is completed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sweep := decode[SweepDTO](t, rec)
	assert.Equal(t, 1, sweep.Completed)
	assert.NotEmpty(t, sweep.NextRunAt)

	rec = ts.do(t, http.MethodGet, "/api/reservations/"+res.ID, nil)
	assert.Equal(t, "COMPLETED", decode[ReservationDTO](t, rec).Status)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"ok"`)
}

func TestHealthz_Degraded(t *testing.T) {
	router := NewRouter(&Handler{}, RouterOptions{
		Health: map[string]Pinger{"redis": pingerFunc(func(context.Context) error { return errors.New("connection refused") })},
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, "alice", at(10, 0), at(11, 0))

	rec := ts.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "facility_reservation_operations_total")
}
