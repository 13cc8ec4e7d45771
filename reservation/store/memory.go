// Package store provides an in-memory reservation.Backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/facility-engine/lock"
	"github.com/warp/facility-engine/reservation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps. Locked sections hold a keyed advisory
// lock and stage their writes, which are applied atomically on commit after
// a version check.
type Memory struct {
	mu           sync.RWMutex
	facilities   map[reservation.FacilityID]reservation.Facility
	policies     map[reservation.FacilityID]reservation.PolicyOverride
	blackouts    map[reservation.BlackoutID]reservation.BlackoutBlock
	reservations map[reservation.ReservationID]reservation.Reservation
	logs         map[reservation.ReservationID][]reservation.LogEntry

	locks lock.Locker
}

var _ reservation.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return NewMemoryWithLocker(lock.NewKeyed())
}

// NewMemoryWithLocker uses locker for the facility and reservation locks.
func NewMemoryWithLocker(locker lock.Locker) *Memory {
	return &Memory{
		facilities:   make(map[reservation.FacilityID]reservation.Facility),
		policies:     make(map[reservation.FacilityID]reservation.PolicyOverride),
		blackouts:    make(map[reservation.BlackoutID]reservation.BlackoutBlock),
		reservations: make(map[reservation.ReservationID]reservation.Reservation),
		logs:         make(map[reservation.ReservationID][]reservation.LogEntry),
		locks:        locker,
	}
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetFacility(_ context.Context, id reservation.FacilityID) (reservation.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facilities[id]
	if !ok {
		return reservation.Facility{}, reservation.FacilityNotFound(id)
	}
	return f, nil
}

func (m *Memory) GetPolicyOverride(_ context.Context, id reservation.FacilityID) (*reservation.PolicyOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) FindBlackouts(_ context.Context, facilityID reservation.FacilityID, iv reservation.Interval) ([]reservation.BlackoutBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []reservation.BlackoutBlock
	for _, b := range m.blackouts {
		if b.FacilityID == facilityID && b.Interval().Overlaps(iv) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) GetReservation(_ context.Context, id reservation.ReservationID) (reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return reservation.Reservation{}, reservation.ReservationNotFound(id)
	}
	return r, nil
}

func (m *Memory) FindReservations(_ context.Context, facilityID reservation.FacilityID, iv reservation.Interval) ([]reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []reservation.Reservation
	for _, r := range m.reservations {
		if r.FacilityID == facilityID && r.Interval().Overlaps(iv) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) CountActiveForUser(_ context.Context, facilityID reservation.FacilityID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.reservations {
		if r.FacilityID == facilityID && r.UserID == userID && r.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListReservations(_ context.Context, filter reservation.ListFilter) ([]reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []reservation.Reservation
	for _, r := range m.reservations {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *Memory) ListApprovedEndedBy(_ context.Context, t time.Time) ([]reservation.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []reservation.Reservation
	for _, r := range m.reservations {
		if r.Status == reservation.StatusApproved && !r.End.After(t) {
			out = append(out, r)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *Memory) ListLog(_ context.Context, id reservation.ReservationID) ([]reservation.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.logs[id]
	out := make([]reservation.LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// =============================================================================
// LOCKED SECTIONS
// =============================================================================

func (m *Memory) WithFacilityLock(ctx context.Context, facilityID reservation.FacilityID, wait time.Duration, fn func(reservation.Tx) error) error {
	if _, err := m.GetFacility(ctx, facilityID); err != nil {
		return err
	}
	release, err := m.locks.Acquire(ctx, "facility:"+string(facilityID), wait)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return &reservation.LockTimeoutError{FacilityID: facilityID, Wait: wait}
		}
		return err
	}
	defer release()
	return m.run(fn)
}

func (m *Memory) WithReservationLock(ctx context.Context, id reservation.ReservationID, fn func(reservation.Tx) error) error {
	release, err := m.locks.Acquire(ctx, "reservation:"+string(id), reservation.DefaultLockWait)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return fmt.Errorf("reservation %s is locked: %w", id, reservation.ErrLockTimeout)
		}
		return err
	}
	defer release()
	return m.run(fn)
}

func (m *Memory) run(fn func(reservation.Tx) error) error {
	tx := &memTx{
		Memory:   m,
		inserted: make(map[reservation.ReservationID]reservation.Reservation),
		updated:  make(map[reservation.ReservationID]stagedUpdate),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range tx.inserted {
		if _, exists := m.reservations[id]; exists {
			return fmt.Errorf("reservation %s already exists", id)
		}
	}
	for id, u := range tx.updated {
		cur, ok := m.reservations[id]
		if !ok {
			return reservation.ReservationNotFound(id)
		}
		if cur.Version != u.expected {
			return fmt.Errorf("reservation %s at version %d, expected %d: %w",
				id, cur.Version, u.expected, reservation.ErrConcurrentModification)
		}
	}

	for id, r := range tx.inserted {
		m.reservations[id] = r
	}
	for id, u := range tx.updated {
		m.reservations[id] = u.row
	}
	for _, e := range tx.logs {
		m.logs[e.ReservationID] = append(m.logs[e.ReservationID], e)
	}
	return nil
}

type stagedUpdate struct {
	expected int
	row      reservation.Reservation
}

// memTx reads through to the committed maps and overlays its staged writes.
type memTx struct {
	*Memory
	inserted map[reservation.ReservationID]reservation.Reservation
	updated  map[reservation.ReservationID]stagedUpdate
	logs     []reservation.LogEntry
}

func (tx *memTx) staged(r reservation.Reservation) reservation.Reservation {
	if u, ok := tx.updated[r.ID]; ok {
		return u.row
	}
	return r
}

func (tx *memTx) GetReservation(ctx context.Context, id reservation.ReservationID) (reservation.Reservation, error) {
	if r, ok := tx.inserted[id]; ok {
		return r, nil
	}
	if u, ok := tx.updated[id]; ok {
		return u.row, nil
	}
	return tx.Memory.GetReservation(ctx, id)
}

func (tx *memTx) FindReservations(ctx context.Context, facilityID reservation.FacilityID, iv reservation.Interval) ([]reservation.Reservation, error) {
	committed, err := tx.Memory.FindReservations(ctx, facilityID, iv)
	if err != nil {
		return nil, err
	}
	out := make([]reservation.Reservation, 0, len(committed))
	for _, r := range committed {
		out = append(out, tx.staged(r))
	}
	for _, r := range tx.inserted {
		if r.FacilityID == facilityID && r.Interval().Overlaps(iv) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (tx *memTx) CountActiveForUser(ctx context.Context, facilityID reservation.FacilityID, userID string) (int, error) {
	tx.Memory.mu.RLock()
	n := 0
	for _, r := range tx.Memory.reservations {
		r = tx.staged(r)
		if r.FacilityID == facilityID && r.UserID == userID && r.Status.IsActive() {
			n++
		}
	}
	tx.Memory.mu.RUnlock()

	for _, r := range tx.inserted {
		if r.FacilityID == facilityID && r.UserID == userID && r.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) InsertReservation(_ context.Context, r reservation.Reservation) error {
	if _, ok := tx.inserted[r.ID]; ok {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	tx.inserted[r.ID] = r
	return nil
}

func (tx *memTx) UpdateReservation(_ context.Context, r reservation.Reservation) error {
	if _, ok := tx.inserted[r.ID]; ok {
		r.Version++
		tx.inserted[r.ID] = r
		return nil
	}
	expected := r.Version
	if u, ok := tx.updated[r.ID]; ok {
		if u.row.Version != r.Version {
			return reservation.ErrConcurrentModification
		}
		expected = u.expected
	}
	r.Version++
	tx.updated[r.ID] = stagedUpdate{expected: expected, row: r}
	return nil
}

func (tx *memTx) AppendLog(_ context.Context, e reservation.LogEntry) error {
	tx.logs = append(tx.logs, e)
	return nil
}

// =============================================================================
// ADMIN
// =============================================================================

func (m *Memory) InsertFacility(_ context.Context, f reservation.Facility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.facilities[f.ID]; ok {
		return reservation.FacilityExists(f.ID)
	}
	m.facilities[f.ID] = f
	return nil
}

func (m *Memory) SaveFacility(_ context.Context, f reservation.Facility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facilities[f.ID] = f
	return nil
}

func (m *Memory) ListFacilities(_ context.Context) ([]reservation.Facility, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]reservation.Facility, 0, len(m.facilities))
	for _, f := range m.facilities {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SavePolicyOverride(_ context.Context, p reservation.PolicyOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.FacilityID] = p
	return nil
}

func (m *Memory) SaveBlackout(_ context.Context, b reservation.BlackoutBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blackouts[b.ID] = b
	return nil
}

func (m *Memory) DeleteBlackout(_ context.Context, id reservation.BlackoutID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blackouts[id]; !ok {
		return reservation.BlackoutNotFound(id)
	}
	delete(m.blackouts, id)
	return nil
}

func (m *Memory) ListBlackouts(_ context.Context, facilityID reservation.FacilityID) ([]reservation.BlackoutBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []reservation.BlackoutBlock
	for _, b := range m.blackouts {
		if b.FacilityID == facilityID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// PutReservation stores r directly, bypassing the lifecycle. Test fixtures
// use it to seed history.
func (m *Memory) PutReservation(r reservation.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Version == 0 {
		r.Version = 1
	}
	m.reservations[r.ID] = r
}

func sortByStart(rs []reservation.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start.Equal(rs[j].Start) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Start.Before(rs[j].Start)
	})
}
