/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the reservation domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TIMES:
  All timestamps are RFC3339 strings. Inputs may carry any offset; outputs
  are always UTC.

VALIDATION:
  Validation is done in handlers and in the reservation package, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - reservation/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/facility-engine/reservation"
)

// =============================================================================
// RESERVATIONS
// =============================================================================

// CreateReservationRequest is the body of POST /api/reservations.
type CreateReservationRequest struct {
	FacilityID string `json:"facility_id"`
	UserID     string `json:"user_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Purpose    string `json:"purpose"`
	PartySize  int    `json:"party_size,omitempty"`
}

// ApproveRequest is the body of POST /api/reservations/{id}/approve.
type ApproveRequest struct {
	ApproverID string `json:"approver_id"`
	Note       string `json:"note,omitempty"`
}

// RejectRequest is the body of POST /api/reservations/{id}/reject.
type RejectRequest struct {
	ApproverID string `json:"approver_id"`
	Reason     string `json:"reason"`
}

// CancelRequest is the body of POST /api/reservations/{id}/cancel.
type CancelRequest struct {
	ActorID   string `json:"actor_id"`
	ActorType string `json:"actor_type"`
	Reason    string `json:"reason,omitempty"`
}

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID           string  `json:"id"`
	FacilityID   string  `json:"facility_id"`
	UserID       string  `json:"user_id"`
	Start        string  `json:"start"`
	End          string  `json:"end"`
	Purpose      string  `json:"purpose,omitempty"`
	PartySize    int     `json:"party_size,omitempty"`
	Status       string  `json:"status"`
	ApprovedAt   *string `json:"approved_at,omitempty"`
	ApprovedBy   *string `json:"approved_by,omitempty"`
	AdminNote    *string `json:"admin_note,omitempty"`
	RejectReason *string `json:"reject_reason,omitempty"`
	CancelReason *string `json:"cancel_reason,omitempty"`
	Version      int     `json:"version"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func toReservationDTO(r reservation.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:           string(r.ID),
		FacilityID:   string(r.FacilityID),
		UserID:       r.UserID,
		Start:        formatTime(r.Start),
		End:          formatTime(r.End),
		Purpose:      r.Purpose,
		PartySize:    r.PartySize,
		Status:       string(r.Status),
		ApprovedBy:   r.ApprovedBy,
		AdminNote:    r.AdminNote,
		RejectReason: r.RejectReason,
		CancelReason: r.CancelReason,
		Version:      r.Version,
		CreatedAt:    formatTime(r.CreatedAt),
		UpdatedAt:    formatTime(r.UpdatedAt),
	}
	if r.ApprovedAt != nil {
		s := formatTime(*r.ApprovedAt)
		dto.ApprovedAt = &s
	}
	return dto
}

func toReservationDTOs(rs []reservation.Reservation) []ReservationDTO {
	out := make([]ReservationDTO, len(rs))
	for i, r := range rs {
		out[i] = toReservationDTO(r)
	}
	return out
}

// LogEntryDTO represents one audit entry.
type LogEntryDTO struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	ActorID   string `json:"actor_id"`
	ActorType string `json:"actor_type"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

func toLogEntryDTOs(entries []reservation.LogEntry) []LogEntryDTO {
	out := make([]LogEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = LogEntryDTO{
			ID:        string(e.ID),
			Action:    string(e.Action),
			ActorID:   e.ActorID,
			ActorType: string(e.ActorType),
			Detail:    e.Detail,
			Timestamp: formatTime(e.Timestamp),
		}
	}
	return out
}

// =============================================================================
// FACILITIES
// =============================================================================

// CreateFacilityRequest is the body of POST /api/facilities.
type CreateFacilityRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity"`
}

// UpdateFacilityRequest is the body of PATCH /api/facilities/{id}. Absent
// fields are left unchanged.
type UpdateFacilityRequest struct {
	Name        *string `json:"name"`
	Location    *string `json:"location"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

// FacilityDTO represents a facility in API responses.
type FacilityDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	Capacity    int    `json:"capacity"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toFacilityDTO(f reservation.Facility) FacilityDTO {
	return FacilityDTO{
		ID:          string(f.ID),
		Name:        f.Name,
		Type:        string(f.Type),
		Location:    f.Location,
		Description: f.Description,
		Capacity:    f.Capacity,
		Active:      f.Active,
		CreatedAt:   formatTime(f.CreatedAt),
		UpdatedAt:   formatTime(f.UpdatedAt),
	}
}

// PolicyDTO is both the effective policy returned by GET and the override
// accepted by PUT; in the latter, omitted fields inherit the default.
type PolicyDTO struct {
	MaxDaysInAdvance       *int `json:"max_days_in_advance,omitempty"`
	MinDurationMinutes     *int `json:"min_duration_minutes,omitempty"`
	MaxDurationMinutes     *int `json:"max_duration_minutes,omitempty"`
	AutoCompleteGraceHours *int `json:"auto_complete_grace_hours,omitempty"`
	MaxActivePerUser       *int `json:"max_active_per_user,omitempty"`
}

func toPolicyDTO(p reservation.EffectivePolicy) PolicyDTO {
	return PolicyDTO{
		MaxDaysInAdvance:       &p.MaxDaysInAdvance,
		MinDurationMinutes:     &p.MinDurationMinutes,
		MaxDurationMinutes:     &p.MaxDurationMinutes,
		AutoCompleteGraceHours: &p.AutoCompleteGraceHours,
		MaxActivePerUser:       &p.MaxActivePerUser,
	}
}

// =============================================================================
// BLACKOUTS
// =============================================================================

// CreateBlackoutRequest is the body of POST /api/facilities/{id}/blackouts.
type CreateBlackoutRequest struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Reason    string `json:"reason"`
	Type      string `json:"type,omitempty"`
	CreatedBy string `json:"created_by"`
}

// BlackoutDTO represents a blackout block.
type BlackoutDTO struct {
	ID         string `json:"id"`
	FacilityID string `json:"facility_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Reason     string `json:"reason,omitempty"`
	Type       string `json:"type"`
	CreatedBy  string `json:"created_by,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toBlackoutDTOs(blocks []reservation.BlackoutBlock) []BlackoutDTO {
	out := make([]BlackoutDTO, len(blocks))
	for i, b := range blocks {
		out[i] = BlackoutDTO{
			ID:         string(b.ID),
			FacilityID: string(b.FacilityID),
			Start:      formatTime(b.Start),
			End:        formatTime(b.End),
			Reason:     b.Reason,
			Type:       string(b.Type),
			CreatedBy:  b.CreatedBy,
			CreatedAt:  formatTime(b.CreatedAt),
		}
	}
	return out
}

// =============================================================================
// VIEWS
// =============================================================================

// AvailabilityDTO is the response of GET /api/facilities/{id}/availability.
type AvailabilityDTO struct {
	FacilityID   string           `json:"facility_id"`
	Start        string           `json:"start"`
	End          string           `json:"end"`
	Available    bool             `json:"available"`
	Reservations []ReservationDTO `json:"reservations"`
	Blackouts    []BlackoutDTO    `json:"blackouts"`
}

// ScheduleDTO is the response of GET /api/facilities/{id}/schedule.
type ScheduleDTO struct {
	FacilityID   string           `json:"facility_id"`
	Date         string           `json:"date"`
	Reservations []ReservationDTO `json:"reservations"`
	Blackouts    []BlackoutDTO    `json:"blackouts"`
}

// StatsDTO is the response of GET /api/admin/stats.
type StatsDTO struct {
	From        string         `json:"from"`
	To          string         `json:"to"`
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	Pending     int            `json:"pending"`
	BookedHours string         `json:"booked_hours"`
}

// SweepDTO is the response of POST /api/admin/completions/run.
type SweepDTO struct {
	Scanned   int    `json:"scanned"`
	Completed int    `json:"completed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
