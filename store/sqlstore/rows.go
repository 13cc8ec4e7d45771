package sqlstore

import (
	"fmt"
	"time"

	"github.com/warp/facility-engine/reservation"
)

// =============================================================================
// TIME SCANNING - Accepts native timestamps and RFC3339 text
// =============================================================================

// TextTimeLayout is the fixed-width UTC layout used where timestamps are
// stored as text, so that string comparison matches time order.
const TextTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var parseLayouts = []string{
	TextTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Time scans a NOT NULL timestamp column.
type Time struct {
	time.Time
}

func (t *Time) Scan(src any) error {
	var nt NullTime
	if err := nt.Scan(src); err != nil {
		return err
	}
	if !nt.Valid {
		return fmt.Errorf("unexpected NULL timestamp")
	}
	t.Time = nt.Time
	return nil
}

// NullTime scans a nullable timestamp column.
type NullTime struct {
	Time  time.Time
	Valid bool
}

func (t *NullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		parsed, err := parseTime(v)
		if err != nil {
			return err
		}
		t.Time, t.Valid = parsed, true
		return nil
	case []byte:
		parsed, err := parseTime(string(v))
		if err != nil {
			return err
		}
		t.Time, t.Valid = parsed, true
		return nil
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t NullTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// =============================================================================
// ROWS
// =============================================================================

const facilityColumns = `id, name, facility_type, location, description, capacity, active, created_at, updated_at`

type facilityRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Type        string `db:"facility_type"`
	Location    string `db:"location"`
	Description string `db:"description"`
	Capacity    int    `db:"capacity"`
	Active      bool   `db:"active"`
	CreatedAt   Time   `db:"created_at"`
	UpdatedAt   Time   `db:"updated_at"`
}

func (r facilityRow) toDomain() reservation.Facility {
	return reservation.Facility{
		ID:          reservation.FacilityID(r.ID),
		Name:        r.Name,
		Type:        reservation.FacilityType(r.Type),
		Location:    r.Location,
		Description: r.Description,
		Capacity:    r.Capacity,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt.Time,
		UpdatedAt:   r.UpdatedAt.Time,
	}
}

const policyColumns = `facility_id, max_days_in_advance, min_duration_minutes, max_duration_minutes,
	auto_complete_grace_hours, max_active_per_user, updated_at`

type policyRow struct {
	FacilityID             string `db:"facility_id"`
	MaxDaysInAdvance       *int   `db:"max_days_in_advance"`
	MinDurationMinutes     *int   `db:"min_duration_minutes"`
	MaxDurationMinutes     *int   `db:"max_duration_minutes"`
	AutoCompleteGraceHours *int   `db:"auto_complete_grace_hours"`
	MaxActivePerUser       *int   `db:"max_active_per_user"`
	UpdatedAt              Time   `db:"updated_at"`
}

func (r policyRow) toDomain() *reservation.PolicyOverride {
	return &reservation.PolicyOverride{
		FacilityID:             reservation.FacilityID(r.FacilityID),
		MaxDaysInAdvance:       r.MaxDaysInAdvance,
		MinDurationMinutes:     r.MinDurationMinutes,
		MaxDurationMinutes:     r.MaxDurationMinutes,
		AutoCompleteGraceHours: r.AutoCompleteGraceHours,
		MaxActivePerUser:       r.MaxActivePerUser,
		UpdatedAt:              r.UpdatedAt.Time,
	}
}

const blackoutColumns = `id, facility_id, block_start, block_end, reason, block_type, created_by, created_at`

type blackoutRow struct {
	ID         string `db:"id"`
	FacilityID string `db:"facility_id"`
	Start      Time   `db:"block_start"`
	End        Time   `db:"block_end"`
	Reason     string `db:"reason"`
	Type       string `db:"block_type"`
	CreatedBy  string `db:"created_by"`
	CreatedAt  Time   `db:"created_at"`
}

func (r blackoutRow) toDomain() reservation.BlackoutBlock {
	return reservation.BlackoutBlock{
		ID:         reservation.BlackoutID(r.ID),
		FacilityID: reservation.FacilityID(r.FacilityID),
		Start:      r.Start.Time,
		End:        r.End.Time,
		Reason:     r.Reason,
		Type:       reservation.BlockType(r.Type),
		CreatedBy:  r.CreatedBy,
		CreatedAt:  r.CreatedAt.Time,
	}
}

const reservationColumns = `id, facility_id, user_id, start_time, end_time, purpose, party_size, status,
	approved_at, approved_by, admin_note, reject_reason, cancel_reason, version, created_at, updated_at`

type reservationRow struct {
	ID           string   `db:"id"`
	FacilityID   string   `db:"facility_id"`
	UserID       string   `db:"user_id"`
	Start        Time     `db:"start_time"`
	End          Time     `db:"end_time"`
	Purpose      string   `db:"purpose"`
	PartySize    int      `db:"party_size"`
	Status       string   `db:"status"`
	ApprovedAt   NullTime `db:"approved_at"`
	ApprovedBy   *string  `db:"approved_by"`
	AdminNote    *string  `db:"admin_note"`
	RejectReason *string  `db:"reject_reason"`
	CancelReason *string  `db:"cancel_reason"`
	Version      int      `db:"version"`
	CreatedAt    Time     `db:"created_at"`
	UpdatedAt    Time     `db:"updated_at"`
}

func (r reservationRow) toDomain() reservation.Reservation {
	return reservation.Reservation{
		ID:           reservation.ReservationID(r.ID),
		FacilityID:   reservation.FacilityID(r.FacilityID),
		UserID:       r.UserID,
		Start:        r.Start.Time,
		End:          r.End.Time,
		Purpose:      r.Purpose,
		PartySize:    r.PartySize,
		Status:       reservation.Status(r.Status),
		ApprovedAt:   r.ApprovedAt.Ptr(),
		ApprovedBy:   r.ApprovedBy,
		AdminNote:    r.AdminNote,
		RejectReason: r.RejectReason,
		CancelReason: r.CancelReason,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
	}
}

const logColumns = `id, reservation_id, action, actor_id, actor_type, detail, created_at`

type logRow struct {
	ID            string `db:"id"`
	ReservationID string `db:"reservation_id"`
	Action        string `db:"action"`
	ActorID       string `db:"actor_id"`
	ActorType     string `db:"actor_type"`
	Detail        string `db:"detail"`
	CreatedAt     Time   `db:"created_at"`
}

func (r logRow) toDomain() reservation.LogEntry {
	return reservation.LogEntry{
		ID:            reservation.LogEntryID(r.ID),
		ReservationID: reservation.ReservationID(r.ReservationID),
		Action:        reservation.Action(r.Action),
		ActorID:       r.ActorID,
		ActorType:     reservation.ActorType(r.ActorType),
		Detail:        r.Detail,
		Timestamp:     r.CreatedAt.Time,
	}
}
