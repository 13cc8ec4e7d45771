/*
handlers.go - HTTP API handlers for the facility reservation engine

PURPOSE:
  Exposes the reservation engine via REST API. Handles HTTP request/response
  and JSON serialization, and delegates to the reservation package.

ENDPOINTS:
  Reservations:
    POST   /api/reservations                 Create (always PENDING)
    GET    /api/reservations                 List (facility_id, user_id, status, from, to)
    GET    /api/reservations/{id}            Get one
    POST   /api/reservations/{id}/approve    PENDING -> APPROVED
    POST   /api/reservations/{id}/reject     PENDING -> REJECTED
    POST   /api/reservations/{id}/cancel     PENDING|APPROVED -> CANCELLED
    GET    /api/reservations/{id}/log        Audit history

  Facilities:
    GET    /api/facilities                   List
    POST   /api/facilities                   Create
    GET    /api/facilities/{id}              Get one
    PATCH  /api/facilities/{id}              Update name/location/description/active
    GET    /api/facilities/{id}/policy       Effective policy
    PUT    /api/facilities/{id}/policy       Replace override
    GET    /api/facilities/{id}/availability ?start&end
    GET    /api/facilities/{id}/schedule     ?date=YYYY-MM-DD
    GET    /api/facilities/{id}/blackouts    List blocks
    POST   /api/facilities/{id}/blackouts    Add block
    DELETE /api/blackouts/{id}               Remove block

  Admin:
    GET    /api/admin/stats                  ?from&to[&facility_id]
    POST   /api/admin/completions/run        Run one completion sweep

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Manager:   Reservation lifecycle
  - Catalog:   Facility and policy maintenance
  - Blackouts: Blackout registry
  - Scheduler: Completion sweep (manual trigger)

ERROR HANDLING:
  Domain errors are mapped in errors.go:
  - 400: Policy violations, invalid input
  - 403: Actor may not perform the operation
  - 404: Unknown facility, reservation or blackout
  - 409: Overlap conflict, concurrent modification
  - 422: Invalid state transition
  - 503: Facility lock timeout (with Retry-After)

SECURITY NOTE:
  No authentication. Actor identities are taken from the request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/facility-engine/reservation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Manager   *reservation.Manager
	Catalog   *reservation.Catalog
	Blackouts *reservation.BlackoutRegistry
	Scheduler *CompletionScheduler

	logger *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(mgr *reservation.Manager, catalog *reservation.Catalog, blackouts *reservation.BlackoutRegistry, scheduler *CompletionScheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Manager:   mgr,
		Catalog:   catalog,
		Blackouts: blackouts,
		Scheduler: scheduler,
		logger:    logger.Named("api"),
	}
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation books a facility.
// POST /api/reservations
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	if req.FacilityID == "" || req.UserID == "" {
		badRequest(w, "facility_id and user_id are required", nil)
		return
	}
	start, err := parseTime("start", req.Start)
	if err != nil {
		badRequest(w, "Invalid start", err)
		return
	}
	end, err := parseTime("end", req.End)
	if err != nil {
		badRequest(w, "Invalid end", err)
		return
	}
	if req.PartySize < 0 {
		badRequest(w, "party_size must not be negative", nil)
		return
	}

	res, err := h.Manager.Create(r.Context(), reservation.CreateRequest{
		FacilityID: reservation.FacilityID(req.FacilityID),
		UserID:     req.UserID,
		Start:      start,
		End:        end,
		Purpose:    req.Purpose,
		PartySize:  req.PartySize,
	})
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(res))
}

// ListReservations returns reservations matching the query.
// GET /api/reservations?facility_id=&user_id=&status=&from=&to=
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := reservation.ListFilter{
		FacilityID: reservation.FacilityID(q.Get("facility_id")),
		UserID:     q.Get("user_id"),
		Status:     reservation.Status(strings.ToUpper(q.Get("status"))),
	}
	var err error
	if s := q.Get("from"); s != "" {
		if filter.From, err = parseTime("from", s); err != nil {
			badRequest(w, "Invalid from", err)
			return
		}
	}
	if s := q.Get("to"); s != "" {
		if filter.To, err = parseTime("to", s); err != nil {
			badRequest(w, "Invalid to", err)
			return
		}
	}

	rows, err := h.Manager.List(r.Context(), filter)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(rows))
}

// GetReservation returns one reservation.
// GET /api/reservations/{id}
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Manager.Get(r.Context(), reservationID(r))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// ApproveReservation approves a pending reservation.
// POST /api/reservations/{id}/approve
func (h *Handler) ApproveReservation(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	if req.ApproverID == "" {
		badRequest(w, "approver_id is required", nil)
		return
	}

	res, err := h.Manager.Approve(r.Context(), reservationID(r), req.ApproverID, req.Note)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// RejectReservation rejects a pending reservation.
// POST /api/reservations/{id}/reject
func (h *Handler) RejectReservation(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	if req.ApproverID == "" {
		badRequest(w, "approver_id is required", nil)
		return
	}

	res, err := h.Manager.Reject(r.Context(), reservationID(r), req.ApproverID, req.Reason)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// CancelReservation cancels a pending or approved reservation.
// POST /api/reservations/{id}/cancel
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	if req.ActorID == "" {
		badRequest(w, "actor_id is required", nil)
		return
	}
	actorType := reservation.ActorUser
	if req.ActorType != "" {
		actorType = reservation.ActorType(strings.ToUpper(req.ActorType))
	}

	res, err := h.Manager.Cancel(r.Context(), reservationID(r), reservation.Actor{ID: req.ActorID, Type: actorType}, req.Reason)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// GetReservationLog returns the audit history.
// GET /api/reservations/{id}/log
func (h *Handler) GetReservationLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Manager.Log(r.Context(), reservationID(r))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogEntryDTOs(entries))
}

// =============================================================================
// FACILITY HANDLERS
// =============================================================================

// ListFacilities returns all facilities.
// GET /api/facilities
func (h *Handler) ListFacilities(w http.ResponseWriter, r *http.Request) {
	facilities, err := h.Catalog.ListFacilities(r.Context())
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	dtos := make([]FacilityDTO, len(facilities))
	for i, f := range facilities {
		dtos[i] = toFacilityDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateFacility adds a facility.
// POST /api/facilities
func (h *Handler) CreateFacility(w http.ResponseWriter, r *http.Request) {
	var req CreateFacilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}

	f, err := h.Catalog.CreateFacility(r.Context(), reservation.Facility{
		ID:          reservation.FacilityID(req.ID),
		Name:        req.Name,
		Type:        reservation.FacilityType(strings.ToUpper(req.Type)),
		Location:    req.Location,
		Description: req.Description,
		Capacity:    req.Capacity,
	})
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFacilityDTO(f))
}

// GetFacility returns one facility.
// GET /api/facilities/{id}
func (h *Handler) GetFacility(w http.ResponseWriter, r *http.Request) {
	f, err := h.Catalog.GetFacility(r.Context(), facilityID(r))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFacilityDTO(f))
}

// UpdateFacility changes the mutable facility fields.
// PATCH /api/facilities/{id}
func (h *Handler) UpdateFacility(w http.ResponseWriter, r *http.Request) {
	var req UpdateFacilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}

	f, err := h.Catalog.UpdateFacility(r.Context(), facilityID(r), reservation.FacilityUpdate{
		Name:        req.Name,
		Location:    req.Location,
		Description: req.Description,
		Active:      req.Active,
	})
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFacilityDTO(f))
}

// GetPolicy returns the facility's effective policy.
// GET /api/facilities/{id}/policy
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Catalog.Policy(r.Context(), facilityID(r))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(p))
}

// PutPolicy replaces the facility's override and returns the effective policy.
// PUT /api/facilities/{id}/policy
func (h *Handler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}

	p, err := h.Catalog.SetPolicy(r.Context(), reservation.PolicyOverride{
		FacilityID:             facilityID(r),
		MaxDaysInAdvance:       req.MaxDaysInAdvance,
		MinDurationMinutes:     req.MinDurationMinutes,
		MaxDurationMinutes:     req.MaxDurationMinutes,
		AutoCompleteGraceHours: req.AutoCompleteGraceHours,
		MaxActivePerUser:       req.MaxActivePerUser,
	})
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(p))
}

// GetAvailability reports what blocks a window.
// GET /api/facilities/{id}/availability?start=&end=
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	start, err := parseTime("start", r.URL.Query().Get("start"))
	if err != nil {
		badRequest(w, "Invalid start", err)
		return
	}
	end, err := parseTime("end", r.URL.Query().Get("end"))
	if err != nil {
		badRequest(w, "Invalid end", err)
		return
	}

	a, err := h.Manager.Availability(r.Context(), facilityID(r), start, end)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityDTO{
		FacilityID:   string(a.FacilityID),
		Start:        formatTime(a.Interval.Start),
		End:          formatTime(a.Interval.End),
		Available:    a.Available,
		Reservations: toReservationDTOs(a.Reservations),
		Blackouts:    toBlackoutDTOs(a.Blackouts),
	})
}

// GetSchedule lists what occupies a facility on one day.
// GET /api/facilities/{id}/schedule?date=YYYY-MM-DD
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	day, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		badRequest(w, "Invalid date, expected YYYY-MM-DD", err)
		return
	}

	s, err := h.Manager.Schedule(r.Context(), facilityID(r), day)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScheduleDTO{
		FacilityID:   string(s.FacilityID),
		Date:         s.Day.Start.Format("2006-01-02"),
		Reservations: toReservationDTOs(s.Reservations),
		Blackouts:    toBlackoutDTOs(s.Blackouts),
	})
}

// =============================================================================
// BLACKOUT HANDLERS
// =============================================================================

// ListBlackouts returns the facility's blackout blocks.
// GET /api/facilities/{id}/blackouts
func (h *Handler) ListBlackouts(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.Blackouts.List(r.Context(), facilityID(r))
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBlackoutDTOs(blocks))
}

// CreateBlackout adds a blackout block. Existing reservations are not
// touched; approval re-checks against it.
// POST /api/facilities/{id}/blackouts
func (h *Handler) CreateBlackout(w http.ResponseWriter, r *http.Request) {
	var req CreateBlackoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body", err)
		return
	}
	start, err := parseTime("start", req.Start)
	if err != nil {
		badRequest(w, "Invalid start", err)
		return
	}
	end, err := parseTime("end", req.End)
	if err != nil {
		badRequest(w, "Invalid end", err)
		return
	}

	b, err := h.Blackouts.Add(r.Context(), reservation.BlackoutBlock{
		FacilityID: facilityID(r),
		Start:      start,
		End:        end,
		Reason:     req.Reason,
		Type:       reservation.BlockType(strings.ToUpper(req.Type)),
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlackoutDTOs([]reservation.BlackoutBlock{b})[0])
}

// DeleteBlackout removes a blackout block.
// DELETE /api/blackouts/{id}
func (h *Handler) DeleteBlackout(w http.ResponseWriter, r *http.Request) {
	if err := h.Blackouts.Remove(r.Context(), reservation.BlackoutID(chi.URLParam(r, "id"))); err != nil {
		h.domainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GetStats summarizes reservations in a window.
// GET /api/admin/stats?from=&to=&facility_id=
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTime("from", q.Get("from"))
	if err != nil {
		badRequest(w, "Invalid from", err)
		return
	}
	to, err := parseTime("to", q.Get("to"))
	if err != nil {
		badRequest(w, "Invalid to", err)
		return
	}

	s, err := h.Manager.Stats(r.Context(), reservation.FacilityID(q.Get("facility_id")), from, to)
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	byStatus := make(map[string]int, len(s.ByStatus))
	for status, n := range s.ByStatus {
		byStatus[string(status)] = n
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		From:        formatTime(s.From),
		To:          formatTime(s.To),
		Total:       s.Total,
		ByStatus:    byStatus,
		Pending:     s.Pending,
		BookedHours: s.BookedHours.StringFixed(2),
	})
}

// RunCompletions triggers one completion sweep.
// POST /api/admin/completions/run
func (h *Handler) RunCompletions(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Completion scheduler is not configured", nil)
		return
	}
	res, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepDTO{
		Scanned:   res.Scanned,
		Completed: res.Completed,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		NextRunAt: formatTime(h.Scheduler.GetNextRunTime()),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) domainError(w http.ResponseWriter, r *http.Request, err error) {
	if !reservation.IsClientError(err) && !reservation.IsRetryable(err) && !reservation.IsNotFound(err) {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeDomainError(w, err)
}

func reservationID(r *http.Request) reservation.ReservationID {
	return reservation.ReservationID(chi.URLParam(r, "id"))
}

func facilityID(r *http.Request) reservation.FacilityID {
	return reservation.FacilityID(chi.URLParam(r, "id"))
}

func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", field, err)
	}
	return t, nil
}
