package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/warp/facility-engine/reservation"
)

// =============================================================================
// RESPONSES
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, message string, err error) {
	writeError(w, http.StatusBadRequest, "bad_request", message, err)
}

// writeDomainError maps reservation errors to HTTP statuses. Anything it
// does not recognise is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		pv *reservation.PolicyViolationError
		ce *reservation.ConflictError
		lt *reservation.LockTimeoutError
		st *reservation.InvalidStateTransitionError
		nf *reservation.NotFoundError
		fe *reservation.ForbiddenError
		ae *reservation.AlreadyExistsError
	)

	switch {
	case errors.As(err, &pv):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   pv.Message,
			Code:    "policy_violation",
			Details: map[string]string{"rule": pv.Rule},
		})
	case errors.As(err, &ce):
		details := map[string]string{"facility_id": string(ce.FacilityID)}
		if ce.ReservationID != "" {
			details["reservation_id"] = string(ce.ReservationID)
		}
		if ce.BlackoutID != "" {
			details["blackout_id"] = string(ce.BlackoutID)
		}
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: ce.Error(), Code: "conflict", Details: details})
	case errors.As(err, &lt):
		w.Header().Set("Retry-After", retryAfter(lt))
		writeError(w, http.StatusServiceUnavailable, "lock_timeout", "facility is busy, retry later", err)
	case errors.Is(err, reservation.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "lock_timeout", "reservation is busy, retry later", err)
	case errors.As(err, &st):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: st.Error(),
			Code:  "invalid_state_transition",
			Details: map[string]string{
				"from": string(st.From),
				"to":   string(st.To),
			},
		})
	case errors.As(err, &ae):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   ae.Error(),
			Code:    "already_exists",
			Details: map[string]string{"kind": ae.Kind, "id": ae.ID},
		})
	case errors.Is(err, reservation.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", "reservation was modified concurrently, reload and retry", err)
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, "not_found", nf.Error(), nil)
	case errors.As(err, &fe):
		writeError(w, http.StatusForbidden, "forbidden", fe.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error", err)
	}
}

func retryAfter(lt *reservation.LockTimeoutError) string {
	secs := int(math.Ceil(lt.Wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
