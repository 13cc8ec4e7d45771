/*
errors.go - Error taxonomy of the reservation engine

PURPOSE:
  Every rejected operation returns a specific error kind plus a
  human-readable reason. Structured errors carry the context (which rule,
  which conflicting reservation) and unwrap to a sentinel for errors.Is.

ERROR KINDS:
  PolicyViolationError         Request breaks a policy bound. Never retried.
  ConflictError                Overlaps a reservation or blackout.
  LockTimeoutError             Facility lock not acquired in time. Retry with backoff.
  InvalidStateTransitionError  Transition not allowed from current status.
  NotFoundError                Unknown facility, reservation or blackout.
  AlreadyExistsError           Create with an id that is already taken.
  ForbiddenError               Actor may not perform the operation.

USAGE:
  var conflict *reservation.ConflictError
  if errors.As(err, &conflict) {
      // conflict.ReservationID names the blocking reservation
  }

SEE ALSO:
  - api/errors.go: HTTP status mapping
*/
package reservation

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPolicyViolation = errors.New("policy violation")

	ErrConflict = errors.New("reservation conflict")

	// ErrLockTimeout is returned when the facility lock could not be taken
	// within the configured wait.
	ErrLockTimeout = errors.New("lock timeout")

	ErrInvalidTransition = errors.New("invalid state transition")

	ErrNotFound = errors.New("not found")

	ErrAlreadyExists = errors.New("already exists")

	ErrForbidden = errors.New("forbidden")

	// ErrConcurrentModification is returned when an update finds the row at
	// a different version than the one it read.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Policy rules reported in PolicyViolationError.Rule.
const (
	RuleInvalidInterval  = "invalid_interval"
	RuleFacilityInactive = "facility_inactive"
	RuleSameDay          = "same_day"
	RuleStartInPast      = "start_in_past"
	RuleTooFarInAdvance  = "max_days_in_advance"
	RuleMinDuration      = "min_duration"
	RuleMaxDuration      = "max_duration"
	RuleCapacity         = "capacity"
	RuleMaxActivePerUser = "max_active_per_user"

	// Admin input rules.
	RuleInvalidFacility = "invalid_facility"
	RuleInvalidBlackout = "invalid_blackout"
	RuleInvalidPolicy   = "invalid_policy"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PolicyViolationError reports which policy bound was violated.
type PolicyViolationError struct {
	Rule    string
	Message string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Rule, e.Message)
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrPolicyViolation
}

// ConflictError names what blocks the requested interval. Exactly one of
// ReservationID and BlackoutID is set.
type ConflictError struct {
	FacilityID    FacilityID
	Interval      Interval
	ReservationID ReservationID
	BlackoutID    BlackoutID
	Reason        string
}

func (e *ConflictError) Error() string {
	if e.BlackoutID != "" {
		msg := fmt.Sprintf("facility %s is blacked out during %s (blackout %s)", e.FacilityID, e.Interval, e.BlackoutID)
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
		return msg
	}
	return fmt.Sprintf("facility %s already reserved during %s (reservation %s)", e.FacilityID, e.Interval, e.ReservationID)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// LockTimeoutError is returned when the per-facility lock wait elapses.
type LockTimeoutError struct {
	FacilityID FacilityID
	Wait       time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not lock facility %s within %v, retry later", e.FacilityID, e.Wait)
}

func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// InvalidStateTransitionError is returned for a transition the state machine
// does not allow. State is never mutated when this is returned.
type InvalidStateTransitionError struct {
	ReservationID ReservationID
	From          Status
	To            Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("reservation %s cannot move from %s to %s", e.ReservationID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "facility", "reservation", "blackout"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError names the entity whose id is taken.
type AlreadyExistsError struct {
	Kind string
	ID   string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.ID)
}

func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// ForbiddenError is returned when the actor may not act on the reservation.
type ForbiddenError struct {
	ActorID string
	Message string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s: %s", e.ActorID, e.Message)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// FacilityNotFound builds the error stores return for a missing facility.
func FacilityNotFound(id FacilityID) error {
	return &NotFoundError{Kind: "facility", ID: string(id)}
}

// FacilityExists builds the error stores return when inserting a taken id.
func FacilityExists(id FacilityID) error {
	return &AlreadyExistsError{Kind: "facility", ID: string(id)}
}

// ReservationNotFound builds the error stores return for a missing reservation.
func ReservationNotFound(id ReservationID) error {
	return &NotFoundError{Kind: "reservation", ID: string(id)}
}

// BlackoutNotFound builds the error stores return for a missing blackout.
func BlackoutNotFound(id BlackoutID) error {
	return &NotFoundError{Kind: "blackout", ID: string(id)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or
// stale view of the reservation.
func IsClientError(err error) bool {
	return errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
