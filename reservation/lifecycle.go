/*
lifecycle.go - Reservation lifecycle manager

PURPOSE:
  Owns the reservation state machine. Every write to a reservation goes
  through one of the operations here, and each transition appends exactly
  one audit entry in the same transaction.

CREATE FLOW:
  ┌──────────────────────────────────────────────────────────────────────┐
  │                                                                      │
  │  (a) start < end          ┌──── facility lock (bounded wait) ─────┐  │
  │  one calendar day (UTC)   │                                       │  │
  │  facility exists/active   │ (d) user's active count < cap         │  │
  │  (b) advance window  ──▶  │ (e) no blackout overlap               │  │
  │  (c) duration bounds      │ (f) no active reservation overlap     │  │
  │  capacity                 │ insert PENDING + CREATED log, commit  │  │
  │                           └───────────────────────────────────────┘  │
  │                                            │                         │
  │                                            ▼                         │
  │                                     async notification               │
  └──────────────────────────────────────────────────────────────────────┘

  The first violation wins. (a)-(d) are PolicyViolationError, (e)-(f)
  ConflictError, a lock wait overrun LockTimeoutError.

OTHER TRANSITIONS:
  Approve   PENDING -> APPROVED, under the facility lock, re-checks overlaps
  Reject    PENDING -> REJECTED, under the reservation row lock
  Cancel    PENDING|APPROVED -> CANCELLED, under the reservation row lock
  Complete  APPROVED -> COMPLETED, system only, idempotent on COMPLETED

NOTIFICATIONS:
  Sent after commit on a goroutine with a detached context. A failure is
  logged and counted and never changes the committed state. Wait drains
  in-flight notifications on shutdown.

SEE ALSO:
  - conflict.go: Overlap checks
  - policy.go: Effective policy
  - api/scheduler.go: Calls Complete
*/
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/facility-engine/metrics"
)

// DefaultLockWait bounds how long create and approve wait for a facility.
const DefaultLockWait = 3 * time.Second

// DefaultNotifyTimeout bounds a single notification delivery.
const DefaultNotifyTimeout = 10 * time.Second

// =============================================================================
// MANAGER
// =============================================================================

// Options configures a Manager. Zero values select defaults.
type Options struct {
	LockWait      time.Duration
	NotifyTimeout time.Duration
	Notifier      Notifier
	Logger        *zap.Logger
	Metrics       *metrics.Collector
	Now           func() time.Time
	NewID         func() string
}

// Manager runs the reservation lifecycle.
type Manager struct {
	store    Store
	policies *PolicyResolver
	detector ConflictDetector
	audit    *AuditLog
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Collector

	lockWait      time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string

	inflight sync.WaitGroup
}

// NewManager wires a Manager over store.
func NewManager(store Store, policies *PolicyResolver, opts Options) *Manager {
	m := &Manager{
		store:         store,
		policies:      policies,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		lockWait:      opts.LockWait,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
		newID:         opts.NewID,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("lifecycle")
	if m.lockWait <= 0 {
		m.lockWait = DefaultLockWait
	}
	if m.notifyTimeout <= 0 {
		m.notifyTimeout = DefaultNotifyTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	m.audit = &AuditLog{store: store, newID: m.newID, now: m.now}
	return m
}

// Policies returns the manager's policy resolver.
func (m *Manager) Policies() *PolicyResolver {
	return m.policies
}

// Wait blocks until every in-flight notification has finished.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// =============================================================================
// CREATE
// =============================================================================

// CreateRequest is the input of Create.
type CreateRequest struct {
	FacilityID FacilityID
	UserID     string
	Start      time.Time
	End        time.Time
	Purpose    string
	PartySize  int
}

// Create validates the request and stores a PENDING reservation.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (res Reservation, err error) {
	defer func() { m.observe("create", err) }()

	iv := Interval{Start: req.Start.UTC(), End: req.End.UTC()}

	if !iv.Valid() {
		return Reservation{}, invalidInterval(iv)
	}
	if err := checkSameDay(iv); err != nil {
		return Reservation{}, err
	}

	facility, err := m.store.GetFacility(ctx, req.FacilityID)
	if err != nil {
		return Reservation{}, err
	}
	if !facility.Active {
		return Reservation{}, &PolicyViolationError{
			Rule:    RuleFacilityInactive,
			Message: fmt.Sprintf("facility %s is not accepting reservations", facility.ID),
		}
	}

	policy, err := m.policies.Resolve(ctx, req.FacilityID)
	if err != nil {
		return Reservation{}, err
	}

	now := m.now().UTC()

	// Time and size rules need no lock.
	if err := checkAdvanceWindow(iv, now, policy); err != nil {
		return Reservation{}, err
	}
	if err := checkDuration(iv, policy); err != nil {
		return Reservation{}, err
	}
	if facility.Capacity > 0 && req.PartySize > facility.Capacity {
		return Reservation{}, &PolicyViolationError{
			Rule:    RuleCapacity,
			Message: fmt.Sprintf("party of %d exceeds capacity %d of facility %s", req.PartySize, facility.Capacity, facility.ID),
		}
	}

	r := Reservation{
		ID:         ReservationID(m.newID()),
		FacilityID: req.FacilityID,
		UserID:     req.UserID,
		Start:      iv.Start,
		End:        iv.End,
		Purpose:    req.Purpose,
		PartySize:  req.PartySize,
		Status:     StatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = m.withFacilityLock(ctx, "create", req.FacilityID, func(tx Tx) error {
		active, err := tx.CountActiveForUser(ctx, req.FacilityID, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to count active reservations: %w", err)
		}
		if active >= policy.MaxActivePerUser {
			return &PolicyViolationError{
				Rule: RuleMaxActivePerUser,
				Message: fmt.Sprintf("user %s already holds %d active reservations on facility %s (limit %d)",
					req.UserID, active, req.FacilityID, policy.MaxActivePerUser),
			}
		}

		if err := m.detector.Check(ctx, tx, req.FacilityID, iv, ""); err != nil {
			return err
		}

		if err := tx.InsertReservation(ctx, r); err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return m.audit.Append(ctx, tx, r.ID, ActionCreated, Actor{ID: req.UserID, Type: ActorUser}, iv.String())
	})
	if err != nil {
		return Reservation{}, err
	}

	m.logger.Info("reservation created",
		zap.String("reservation_id", string(r.ID)),
		zap.String("facility_id", string(r.FacilityID)),
		zap.String("user_id", r.UserID),
		zap.Time("start", r.Start),
		zap.Time("end", r.End))

	m.dispatch(r.UserID, EventCreated, r)
	return r, nil
}

func checkAdvanceWindow(iv Interval, now time.Time, p EffectivePolicy) error {
	if iv.Start.Before(now) {
		return &PolicyViolationError{
			Rule:    RuleStartInPast,
			Message: fmt.Sprintf("start %s is in the past", iv.Start.Format(time.RFC3339)),
		}
	}
	latest := now.AddDate(0, 0, p.MaxDaysInAdvance)
	if iv.Start.After(latest) {
		return &PolicyViolationError{
			Rule:    RuleTooFarInAdvance,
			Message: fmt.Sprintf("start %s is more than %d days ahead", iv.Start.Format(time.RFC3339), p.MaxDaysInAdvance),
		}
	}
	return nil
}

func checkDuration(iv Interval, p EffectivePolicy) error {
	d := iv.Duration()
	if d < p.MinDuration() {
		return &PolicyViolationError{
			Rule:    RuleMinDuration,
			Message: fmt.Sprintf("duration %v is shorter than the minimum of %d minutes", d, p.MinDurationMinutes),
		}
	}
	if d > p.MaxDuration() {
		return &PolicyViolationError{
			Rule:    RuleMaxDuration,
			Message: fmt.Sprintf("duration %v is longer than the maximum of %d minutes", d, p.MaxDurationMinutes),
		}
	}
	return nil
}

// checkSameDay rejects bookings that span two UTC calendar dates. The end is
// exclusive, so a booking may end exactly at the following midnight.
func checkSameDay(iv Interval) error {
	last := iv.End.Add(-time.Nanosecond)
	if Day(iv.Start).Start.Equal(Day(last).Start) {
		return nil
	}
	return &PolicyViolationError{
		Rule:    RuleSameDay,
		Message: fmt.Sprintf("reservation %s spans more than one day, book each day separately", iv),
	}
}

// =============================================================================
// APPROVE / REJECT / CANCEL / COMPLETE
// =============================================================================

// Approve moves a PENDING reservation to APPROVED after re-checking
// overlaps under the facility lock.
func (m *Manager) Approve(ctx context.Context, id ReservationID, approverID, note string) (res Reservation, err error) {
	defer func() { m.observe("approve", err) }()

	current, err := m.store.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, err
	}
	if err := checkTransition(current, StatusApproved); err != nil {
		return Reservation{}, err
	}

	var updated Reservation
	err = m.withFacilityLock(ctx, "approve", current.FacilityID, func(tx Tx) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(r, StatusApproved); err != nil {
			return err
		}
		// The facility may have been deactivated since the request was made.
		facility, err := tx.GetFacility(ctx, r.FacilityID)
		if err != nil {
			return err
		}
		if !facility.Active {
			return &PolicyViolationError{
				Rule:    RuleFacilityInactive,
				Message: fmt.Sprintf("facility %s is not active", facility.ID),
			}
		}
		if err := m.detector.Check(ctx, tx, r.FacilityID, r.Interval(), r.ID); err != nil {
			return err
		}

		now := m.now().UTC()
		r.Status = StatusApproved
		r.ApprovedAt = &now
		r.ApprovedBy = &approverID
		if note != "" {
			r.AdminNote = &note
		}
		r.UpdatedAt = now
		if err := m.update(ctx, tx, &r); err != nil {
			return err
		}
		updated = r
		return m.audit.Append(ctx, tx, r.ID, ActionApproved, Actor{ID: approverID, Type: ActorAdmin}, note)
	})
	if err != nil {
		return Reservation{}, err
	}

	m.logger.Info("reservation approved",
		zap.String("reservation_id", string(id)),
		zap.String("approver_id", approverID))
	m.dispatch(updated.UserID, EventApproved, updated)
	return updated, nil
}

// Reject moves a PENDING reservation to REJECTED.
func (m *Manager) Reject(ctx context.Context, id ReservationID, approverID, reason string) (res Reservation, err error) {
	defer func() { m.observe("reject", err) }()

	res, err = m.transition(ctx, id, StatusRejected, func(r *Reservation) error {
		r.RejectReason = &reason
		return nil
	}, ActionRejected, Actor{ID: approverID, Type: ActorAdmin}, reason)
	if err != nil {
		return Reservation{}, err
	}

	m.logger.Info("reservation rejected",
		zap.String("reservation_id", string(id)),
		zap.String("approver_id", approverID))
	m.dispatch(res.UserID, EventRejected, res)
	return res, nil
}

// Cancel moves a PENDING or APPROVED reservation to CANCELLED. Users may
// cancel only their own reservations; administrators may cancel any.
func (m *Manager) Cancel(ctx context.Context, id ReservationID, actor Actor, reason string) (res Reservation, err error) {
	defer func() { m.observe("cancel", err) }()

	if actor.Type != ActorUser && actor.Type != ActorAdmin {
		return Reservation{}, &ForbiddenError{ActorID: actor.ID, Message: fmt.Sprintf("actor type %q may not cancel reservations", actor.Type)}
	}

	res, err = m.transition(ctx, id, StatusCancelled, func(r *Reservation) error {
		if actor.Type == ActorUser && r.UserID != actor.ID {
			return &ForbiddenError{ActorID: actor.ID, Message: fmt.Sprintf("only the requester may cancel reservation %s", r.ID)}
		}
		r.CancelReason = &reason
		return nil
	}, ActionCancelled, actor, reason)
	if err != nil {
		return Reservation{}, err
	}

	m.logger.Info("reservation cancelled",
		zap.String("reservation_id", string(id)),
		zap.String("actor_id", actor.ID),
		zap.String("actor_type", string(actor.Type)))

	// Tell the other party: the requester when an administrator cancels, the
	// approver when the requester cancels an approved booking.
	switch {
	case actor.Type == ActorAdmin:
		m.dispatch(res.UserID, EventCancelled, res)
	case res.ApprovedBy != nil && *res.ApprovedBy != actor.ID:
		m.dispatch(*res.ApprovedBy, EventCancelled, res)
	}
	return res, nil
}

// Complete moves an APPROVED reservation to COMPLETED. It is only called by
// the completion sweep. Completing an already COMPLETED reservation returns
// it unchanged.
func (m *Manager) Complete(ctx context.Context, id ReservationID) (res Reservation, err error) {
	defer func() { m.observe("complete", err) }()

	err = m.store.WithReservationLock(ctx, id, func(tx Tx) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == StatusCompleted {
			res = r
			return nil
		}
		if err := checkTransition(r, StatusCompleted); err != nil {
			return err
		}

		r.Status = StatusCompleted
		r.UpdatedAt = m.now().UTC()
		if err := m.update(ctx, tx, &r); err != nil {
			return err
		}
		res = r
		return m.audit.Append(ctx, tx, r.ID, ActionAutoCompleted, SchedulerActor,
			fmt.Sprintf("ended at %s", r.End.Format(time.RFC3339)))
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// transition runs a conflict-free transition under the reservation row lock.
func (m *Manager) transition(
	ctx context.Context,
	id ReservationID,
	next Status,
	mutate func(r *Reservation) error,
	action Action,
	actor Actor,
	detail string,
) (Reservation, error) {
	var updated Reservation
	err := m.store.WithReservationLock(ctx, id, func(tx Tx) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(r, next); err != nil {
			return err
		}
		if err := mutate(&r); err != nil {
			return err
		}

		r.Status = next
		r.UpdatedAt = m.now().UTC()
		if err := m.update(ctx, tx, &r); err != nil {
			return err
		}
		updated = r
		return m.audit.Append(ctx, tx, r.ID, action, actor, detail)
	})
	return updated, err
}

// update writes r and advances its in-memory version to match the store.
func (m *Manager) update(ctx context.Context, tx Tx, r *Reservation) error {
	if err := tx.UpdateReservation(ctx, *r); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return err
		}
		return fmt.Errorf("failed to update reservation %s: %w", r.ID, err)
	}
	r.Version++
	return nil
}

// =============================================================================
// READS - Never take a lock
// =============================================================================

// Get returns one reservation.
func (m *Manager) Get(ctx context.Context, id ReservationID) (Reservation, error) {
	return m.store.GetReservation(ctx, id)
}

// List returns reservations matching filter, ordered by start time.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Reservation, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &PolicyViolationError{Rule: "invalid_filter", Message: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, invalidInterval(Interval{Start: filter.From, End: filter.To})
	}
	return m.store.ListReservations(ctx, filter)
}

// Log returns the reservation's audit history, oldest first.
func (m *Manager) Log(ctx context.Context, id ReservationID) ([]LogEntry, error) {
	if _, err := m.store.GetReservation(ctx, id); err != nil {
		return nil, err
	}
	return m.audit.Entries(ctx, id)
}

// Availability reports what currently blocks [start, end) on a facility.
func (m *Manager) Availability(ctx context.Context, facilityID FacilityID, start, end time.Time) (Availability, error) {
	return m.detector.Availability(ctx, m.store, facilityID, start.UTC(), end.UTC())
}

// =============================================================================
// INTERNALS
// =============================================================================

// withFacilityLock runs fn under the facility lock and records how long the
// lock took to acquire.
func (m *Manager) withFacilityLock(ctx context.Context, op string, facilityID FacilityID, fn func(Tx) error) error {
	requested := time.Now()
	acquired := false
	err := m.store.WithFacilityLock(ctx, facilityID, m.lockWait, func(tx Tx) error {
		if !acquired {
			acquired = true
			m.metrics.LockWait(op, time.Since(requested))
		}
		return fn(tx)
	})
	if errors.Is(err, ErrLockTimeout) {
		m.logger.Warn("facility lock timeout",
			zap.String("operation", op),
			zap.String("facility_id", string(facilityID)),
			zap.Duration("wait", m.lockWait))
	}
	return err
}

// dispatch delivers a notification in the background.
func (m *Manager) dispatch(userID string, event Event, r Reservation) {
	if m.notifier == nil || userID == "" {
		return
	}
	payload := notificationPayload(r)

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				m.metrics.NotificationFailed(string(event))
				m.logger.Error("notifier panicked", zap.String("event", string(event)), zap.Any("panic", rec))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), m.notifyTimeout)
		defer cancel()

		if err := m.notifier.Notify(ctx, userID, event, payload); err != nil {
			m.metrics.NotificationFailed(string(event))
			m.logger.Warn("notification failed",
				zap.String("event", string(event)),
				zap.String("user_id", userID),
				zap.String("reservation_id", string(r.ID)),
				zap.Error(err))
		}
	}()
}

func (m *Manager) observe(op string, err error) {
	m.metrics.Operation(op, Outcome(err))
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
