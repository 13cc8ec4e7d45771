/*
store.go - Persistence interfaces for the reservation engine

PURPOSE:
  Defines the boundary between the lifecycle logic and storage. The engine
  never talks to a database directly; it reads through Reader and writes
  only inside a Tx handed out by one of the locked sections.

KEY INTERFACES:
  Reader:     Facility, policy, blackout and reservation lookups
  Tx:         Reader plus the three writes the engine performs
  Store:      Reader, list queries and the two locked sections
  AdminStore: Facility, policy override and blackout maintenance

LOCKED SECTIONS:
  WithFacilityLock holds an exclusive lock keyed by facility id for the
  whole transaction. Create and approve run their read-check-write here.
  The wait is bounded; on timeout the store returns a LockTimeoutError.

  WithReservationLock locks one reservation row. Reject, cancel and
  complete use it; they never compete for the facility lock.

  In both cases fn's error rolls the transaction back and nil commits it.

OPTIMISTIC GUARD:
  UpdateReservation writes only if the stored version equals r.Version and
  bumps it by one. A mismatch returns ErrConcurrentModification.

IMPLEMENTATIONS:
  - reservation/store/memory.go: In-memory, for tests and demos
  - store/sqlite: SQLite with advisory facility locks
  - store/postgres: PostgreSQL with SELECT ... FOR UPDATE

SEE ALSO:
  - lifecycle.go: The only caller of the write methods
*/
package reservation

import (
	"context"
	"time"
)

// =============================================================================
// READERS
// =============================================================================

type FacilityReader interface {
	// GetFacility returns a NotFoundError when the facility does not exist.
	GetFacility(ctx context.Context, id FacilityID) (Facility, error)

	// GetPolicyOverride returns nil, nil when the facility has no override row.
	GetPolicyOverride(ctx context.Context, id FacilityID) (*PolicyOverride, error)
}

type BlackoutReader interface {
	// FindBlackouts returns the facility's blocks that overlap iv. A superset
	// is allowed; callers apply the overlap test themselves.
	FindBlackouts(ctx context.Context, facilityID FacilityID, iv Interval) ([]BlackoutBlock, error)
}

type ReservationReader interface {
	// GetReservation returns a NotFoundError when the reservation does not exist.
	GetReservation(ctx context.Context, id ReservationID) (Reservation, error)

	// FindReservations returns the facility's reservations that overlap iv.
	// It must include every PENDING and APPROVED one; implementations may
	// leave out or include the others.
	FindReservations(ctx context.Context, facilityID FacilityID, iv Interval) ([]Reservation, error)

	// CountActiveForUser counts the user's PENDING and APPROVED reservations
	// on the facility.
	CountActiveForUser(ctx context.Context, facilityID FacilityID, userID string) (int, error)
}

type Reader interface {
	FacilityReader
	BlackoutReader
	ReservationReader
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Tx is the write side, valid only inside a locked section.
type Tx interface {
	Reader

	InsertReservation(ctx context.Context, r Reservation) error

	// UpdateReservation persists r if the stored version equals r.Version.
	UpdateReservation(ctx context.Context, r Reservation) error

	// AppendLog adds an audit entry. Entries are never updated or deleted.
	AppendLog(ctx context.Context, e LogEntry) error
}

// =============================================================================
// STORE
// =============================================================================

// ListFilter narrows ListReservations. Zero values mean "any".
type ListFilter struct {
	FacilityID FacilityID
	UserID     string
	Status     Status
	// From and To select reservations overlapping [From, To). Either may be zero.
	From time.Time
	To   time.Time
}

// Matches reports whether r passes the filter.
func (f ListFilter) Matches(r Reservation) bool {
	if f.FacilityID != "" && r.FacilityID != f.FacilityID {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && !r.End.After(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.Start.Before(f.To) {
		return false
	}
	return true
}

type Store interface {
	Reader

	// ListReservations returns matching reservations ordered by start time.
	ListReservations(ctx context.Context, filter ListFilter) ([]Reservation, error)

	// ListApprovedEndedBy returns APPROVED reservations with End <= t.
	ListApprovedEndedBy(ctx context.Context, t time.Time) ([]Reservation, error)

	// ListLog returns the reservation's audit entries, oldest first.
	ListLog(ctx context.Context, id ReservationID) ([]LogEntry, error)

	WithFacilityLock(ctx context.Context, facilityID FacilityID, wait time.Duration, fn func(Tx) error) error

	WithReservationLock(ctx context.Context, id ReservationID, fn func(Tx) error) error
}

// AdminStore maintains the data the engine only reads.
type AdminStore interface {
	// InsertFacility fails with AlreadyExistsError when the id is taken.
	InsertFacility(ctx context.Context, f Facility) error
	// SaveFacility inserts or replaces.
	SaveFacility(ctx context.Context, f Facility) error
	ListFacilities(ctx context.Context) ([]Facility, error)
	SavePolicyOverride(ctx context.Context, p PolicyOverride) error
	SaveBlackout(ctx context.Context, b BlackoutBlock) error
	DeleteBlackout(ctx context.Context, id BlackoutID) error
	ListBlackouts(ctx context.Context, facilityID FacilityID) ([]BlackoutBlock, error)
}

// Backend is a store that supports both the engine and admin maintenance.
type Backend interface {
	Store
	AdminStore
}
