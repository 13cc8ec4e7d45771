/*
types.go - Core types for the facility reservation engine

PURPOSE:
  Defines the entities the engine reasons about: facilities, their
  per-facility policy overrides, blackout blocks, reservations and the
  append-only reservation log.

KEY CONCEPTS:
  Facility:       A bookable physical resource (room, lab, study space)
  PolicyOverride: Per-facility policy values; nil fields fall back to defaults
  BlackoutBlock:  Administrator-declared interval that cannot be booked
  Reservation:    A user's claim on a facility for a half-open interval
  LogEntry:       One row per state transition, never updated

ACTIVE RESERVATIONS:
  Only PENDING and APPROVED reservations take part in conflict detection
  and in the per-user cap. REJECTED, CANCELLED and COMPLETED are terminal.

SEE ALSO:
  - state.go: Transition table
  - interval.go: Half-open overlap arithmetic
  - lifecycle.go: The only writer of Reservation rows
*/
package reservation

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FacilityID string

type ReservationID string

type BlackoutID string

type LogEntryID string

// =============================================================================
// FACILITY
// =============================================================================

// FacilityType classifies a facility. Values mirror the campus inventory.
type FacilityType string

const (
	FacilityMeetingRoom FacilityType = "MEETING_ROOM"
	FacilitySeminarRoom FacilityType = "SEMINAR_ROOM"
	FacilityLectureRoom FacilityType = "LECTURE_ROOM"
	FacilityLab         FacilityType = "LAB"
	FacilityStudyRoom   FacilityType = "STUDY_ROOM"
	FacilityAuditorium  FacilityType = "AUDITORIUM"
	FacilityGym         FacilityType = "GYM"
	FacilityStudio      FacilityType = "STUDIO"
	FacilityOther       FacilityType = "OTHER"
)

// Valid reports whether t is one of the known facility types.
func (t FacilityType) Valid() bool {
	switch t {
	case FacilityMeetingRoom, FacilitySeminarRoom, FacilityLectureRoom, FacilityLab,
		FacilityStudyRoom, FacilityAuditorium, FacilityGym, FacilityStudio, FacilityOther:
		return true
	}
	return false
}

// Facility is a bookable resource. Only name, location, description and the
// active flag change after creation.
type Facility struct {
	ID          FacilityID
	Name        string
	Type        FacilityType
	Location    string
	Description string
	Capacity    int // 0 means unspecified
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// POLICY
// =============================================================================

// PolicyOverride is the per-facility policy row. Nil fields inherit the
// global default.
type PolicyOverride struct {
	FacilityID             FacilityID
	MaxDaysInAdvance       *int
	MinDurationMinutes     *int
	MaxDurationMinutes     *int
	AutoCompleteGraceHours *int
	MaxActivePerUser       *int
	UpdatedAt              time.Time
}

// EffectivePolicy is a fully resolved policy with every field set.
type EffectivePolicy struct {
	MaxDaysInAdvance       int
	MinDurationMinutes     int
	MaxDurationMinutes     int
	AutoCompleteGraceHours int
	MaxActivePerUser       int
}

// MinDuration returns the minimum reservation length.
func (p EffectivePolicy) MinDuration() time.Duration {
	return time.Duration(p.MinDurationMinutes) * time.Minute
}

// MaxDuration returns the maximum reservation length.
func (p EffectivePolicy) MaxDuration() time.Duration {
	return time.Duration(p.MaxDurationMinutes) * time.Minute
}

// Grace returns how long after its end an APPROVED reservation stays open.
func (p EffectivePolicy) Grace() time.Duration {
	return time.Duration(p.AutoCompleteGraceHours) * time.Hour
}

// =============================================================================
// BLACKOUT
// =============================================================================

type BlockType string

const (
	BlockMaintenance BlockType = "MAINTENANCE"
	BlockHoliday     BlockType = "HOLIDAY"
	BlockEvent       BlockType = "EVENT"
)

func (t BlockType) Valid() bool {
	return t == BlockMaintenance || t == BlockHoliday || t == BlockEvent
}

// BlackoutBlock is a half-open interval [Start, End) during which the
// facility cannot be reserved.
type BlackoutBlock struct {
	ID         BlackoutID
	FacilityID FacilityID
	Start      time.Time
	End        time.Time
	Reason     string
	Type       BlockType
	CreatedBy  string
	CreatedAt  time.Time
}

// Interval returns the block's time span.
func (b BlackoutBlock) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// =============================================================================
// RESERVATION
// =============================================================================

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// IsActive reports whether the status counts toward conflicts and caps.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusApproved
}

// IsTerminal reports whether no transition leaves this status.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Reservation is a claim on a facility for [Start, End).
type Reservation struct {
	ID         ReservationID
	FacilityID FacilityID
	UserID     string
	Start      time.Time
	End        time.Time
	Purpose    string
	PartySize  int // 0 means not given
	Status     Status

	ApprovedAt   *time.Time
	ApprovedBy   *string
	AdminNote    *string
	RejectReason *string
	CancelReason *string

	// Version increments on every update and guards against lost updates.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interval returns the reservation's time span.
func (r Reservation) Interval() Interval {
	return Interval{Start: r.Start, End: r.End}
}

// =============================================================================
// RESERVATION LOG
// =============================================================================

type Action string

const (
	ActionCreated       Action = "CREATED"
	ActionApproved      Action = "APPROVED"
	ActionRejected      Action = "REJECTED"
	ActionCancelled     Action = "CANCELLED"
	ActionAutoCompleted Action = "AUTO_COMPLETED"
)

type ActorType string

const (
	ActorSystem ActorType = "SYSTEM"
	ActorUser   ActorType = "USER"
	ActorAdmin  ActorType = "ADMIN"
)

// Actor identifies who performed an operation.
type Actor struct {
	ID   string
	Type ActorType
}

// SchedulerActor is the actor recorded for automatic completions.
var SchedulerActor = Actor{ID: "SCHEDULER", Type: ActorSystem}

// LogEntry is one append-only audit row.
type LogEntry struct {
	ID            LogEntryID
	ReservationID ReservationID
	Action        Action
	ActorID       string
	ActorType     ActorType
	Detail        string
	Timestamp     time.Time
}
