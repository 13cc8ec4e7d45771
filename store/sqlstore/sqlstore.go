/*
Package sqlstore holds the SQL shared by the SQLite and PostgreSQL stores.

PURPOSE:
  Both stores run the same statements. Queries are written with `?`
  placeholders and rebound by sqlx for the target driver; timestamps are
  encoded by the Dialect (fixed-width text for SQLite, native for
  PostgreSQL). What differs between the engines is how the locked
  sections acquire their locks, which each store supplies through RunTx.

KEY TYPES:
  Dialect: Placeholder style, timestamp encoding, row-lock suffix
  Store:   reservation.Reader, list queries and AdminStore over *sqlx.DB
  Tx:      reservation.Tx over *sqlx.Tx

SEE ALSO:
  - store/sqlite: Advisory locks around immediate transactions
  - store/postgres: SELECT ... FOR UPDATE with lock_timeout
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/warp/facility-engine/reservation"
)

// Dialect captures what differs between SQL engines.
type Dialect struct {
	// BindType is sqlx.QUESTION or sqlx.DOLLAR.
	BindType int
	// Time encodes a timestamp parameter.
	Time func(time.Time) any
	// RowLock is appended to single-row reads inside a transaction, e.g.
	// " FOR UPDATE". Empty where the engine has no row locks.
	RowLock string
}

// TextTime encodes timestamps as fixed-width UTC text.
func TextTime(t time.Time) any {
	return t.UTC().Format(TextTimeLayout)
}

// NativeTime passes timestamps through in UTC.
func NativeTime(t time.Time) any {
	return t.UTC()
}

func nullableTime(d Dialect, t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.Time(*t)
}

// =============================================================================
// QUERIES - Shared by Store (db) and Tx (tx)
// =============================================================================

type queries struct {
	ext     sqlx.ExtContext
	dialect Dialect
	// locking is set inside transactions; GetReservation then takes a row lock.
	locking bool
}

func (q queries) rebind(query string) string {
	return sqlx.Rebind(q.dialect.BindType, query)
}

func (q queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.rebind(query), args...)
}

func (q queries) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.rebind(query), args...)
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.rebind(query), args...)
}

func (q queries) GetFacility(ctx context.Context, id reservation.FacilityID) (reservation.Facility, error) {
	var row facilityRow
	err := q.get(ctx, &row, `SELECT `+facilityColumns+` FROM facilities WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Facility{}, reservation.FacilityNotFound(id)
	}
	if err != nil {
		return reservation.Facility{}, fmt.Errorf("failed to get facility %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (q queries) GetPolicyOverride(ctx context.Context, id reservation.FacilityID) (*reservation.PolicyOverride, error) {
	var row policyRow
	err := q.get(ctx, &row, `SELECT `+policyColumns+` FROM facility_policies WHERE facility_id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy for facility %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (q queries) FindBlackouts(ctx context.Context, facilityID reservation.FacilityID, iv reservation.Interval) ([]reservation.BlackoutBlock, error) {
	var rows []blackoutRow
	err := q.selectRows(ctx, &rows,
		`SELECT `+blackoutColumns+` FROM blackout_blocks
		WHERE facility_id = ? AND block_start < ? AND block_end > ?
		ORDER BY block_start`,
		string(facilityID), q.dialect.Time(iv.End), q.dialect.Time(iv.Start))
	if err != nil {
		return nil, fmt.Errorf("failed to find blackouts: %w", err)
	}
	out := make([]reservation.BlackoutBlock, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q queries) GetReservation(ctx context.Context, id reservation.ReservationID) (reservation.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	if q.locking {
		query += q.dialect.RowLock
	}
	var row reservationRow
	err := q.get(ctx, &row, query, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return reservation.Reservation{}, reservation.ReservationNotFound(id)
	}
	if err != nil {
		return reservation.Reservation{}, fmt.Errorf("failed to get reservation %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (q queries) FindReservations(ctx context.Context, facilityID reservation.FacilityID, iv reservation.Interval) ([]reservation.Reservation, error) {
	return q.listReservations(ctx,
		`WHERE facility_id = ? AND status IN ('PENDING', 'APPROVED') AND start_time < ? AND end_time > ?`,
		string(facilityID), q.dialect.Time(iv.End), q.dialect.Time(iv.Start))
}

func (q queries) CountActiveForUser(ctx context.Context, facilityID reservation.FacilityID, userID string) (int, error) {
	var n int
	err := q.get(ctx, &n,
		`SELECT COUNT(*) FROM reservations
		WHERE facility_id = ? AND user_id = ? AND status IN ('PENDING', 'APPROVED')`,
		string(facilityID), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count active reservations: %w", err)
	}
	return n, nil
}

func (q queries) ListReservations(ctx context.Context, f reservation.ListFilter) ([]reservation.Reservation, error) {
	var (
		conds []string
		args  []any
	)
	if f.FacilityID != "" {
		conds = append(conds, "facility_id = ?")
		args = append(args, string(f.FacilityID))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		conds = append(conds, "end_time > ?")
		args = append(args, q.dialect.Time(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "start_time < ?")
		args = append(args, q.dialect.Time(f.To))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return q.listReservations(ctx, where, args...)
}

func (q queries) ListApprovedEndedBy(ctx context.Context, t time.Time) ([]reservation.Reservation, error) {
	return q.listReservations(ctx, `WHERE status = 'APPROVED' AND end_time <= ?`, q.dialect.Time(t))
}

func (q queries) listReservations(ctx context.Context, where string, args ...any) ([]reservation.Reservation, error) {
	var rows []reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations ` + where + ` ORDER BY start_time, id`
	if err := q.selectRows(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	out := make([]reservation.Reservation, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q queries) ListLog(ctx context.Context, id reservation.ReservationID) ([]reservation.LogEntry, error) {
	var rows []logRow
	err := q.selectRows(ctx, &rows,
		`SELECT `+logColumns+` FROM reservation_logs WHERE reservation_id = ? ORDER BY created_at, seq`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list log for reservation %s: %w", id, err)
	}
	out := make([]reservation.LogEntry, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// =============================================================================
// WRITES (inside a locked section)
// =============================================================================

func (q queries) InsertReservation(ctx context.Context, r reservation.Reservation) error {
	_, err := q.exec(ctx,
		`INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.FacilityID), r.UserID,
		q.dialect.Time(r.Start), q.dialect.Time(r.End),
		r.Purpose, r.PartySize, string(r.Status),
		nullableTime(q.dialect, r.ApprovedAt), r.ApprovedBy, r.AdminNote, r.RejectReason, r.CancelReason,
		r.Version, q.dialect.Time(r.CreatedAt), q.dialect.Time(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert reservation %s: %w", r.ID, err)
	}
	return nil
}

func (q queries) UpdateReservation(ctx context.Context, r reservation.Reservation) error {
	res, err := q.exec(ctx,
		`UPDATE reservations SET
			status = ?, approved_at = ?, approved_by = ?, admin_note = ?,
			reject_reason = ?, cancel_reason = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(r.Status), nullableTime(q.dialect, r.ApprovedAt), r.ApprovedBy, r.AdminNote,
		r.RejectReason, r.CancelReason, q.dialect.Time(r.UpdatedAt),
		string(r.ID), r.Version)
	if err != nil {
		return fmt.Errorf("failed to update reservation %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update reservation %s: %w", r.ID, err)
	}
	if n == 0 {
		if _, err := q.GetReservation(ctx, r.ID); err != nil {
			return err
		}
		return fmt.Errorf("reservation %s changed since version %d: %w", r.ID, r.Version, reservation.ErrConcurrentModification)
	}
	return nil
}

func (q queries) AppendLog(ctx context.Context, e reservation.LogEntry) error {
	_, err := q.exec(ctx,
		`INSERT INTO reservation_logs (`+logColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.ReservationID), string(e.Action), e.ActorID, string(e.ActorType),
		e.Detail, q.dialect.Time(e.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// =============================================================================
// ADMIN
// =============================================================================

func (q queries) InsertFacility(ctx context.Context, f reservation.Facility) error {
	res, err := q.exec(ctx,
		`INSERT INTO facilities (`+facilityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		string(f.ID), f.Name, string(f.Type), f.Location, f.Description, f.Capacity, f.Active,
		q.dialect.Time(f.CreatedAt), q.dialect.Time(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert facility %s: %w", f.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert facility %s: %w", f.ID, err)
	}
	if n == 0 {
		return reservation.FacilityExists(f.ID)
	}
	return nil
}

func (q queries) SaveFacility(ctx context.Context, f reservation.Facility) error {
	_, err := q.exec(ctx,
		`INSERT INTO facilities (`+facilityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			description = excluded.description,
			capacity = excluded.capacity,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		string(f.ID), f.Name, string(f.Type), f.Location, f.Description, f.Capacity, f.Active,
		q.dialect.Time(f.CreatedAt), q.dialect.Time(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save facility %s: %w", f.ID, err)
	}
	return nil
}

func (q queries) ListFacilities(ctx context.Context) ([]reservation.Facility, error) {
	var rows []facilityRow
	if err := q.selectRows(ctx, &rows, `SELECT `+facilityColumns+` FROM facilities ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	out := make([]reservation.Facility, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (q queries) SavePolicyOverride(ctx context.Context, p reservation.PolicyOverride) error {
	_, err := q.exec(ctx,
		`INSERT INTO facility_policies (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (facility_id) DO UPDATE SET
			max_days_in_advance = excluded.max_days_in_advance,
			min_duration_minutes = excluded.min_duration_minutes,
			max_duration_minutes = excluded.max_duration_minutes,
			auto_complete_grace_hours = excluded.auto_complete_grace_hours,
			max_active_per_user = excluded.max_active_per_user,
			updated_at = excluded.updated_at`,
		string(p.FacilityID), p.MaxDaysInAdvance, p.MinDurationMinutes, p.MaxDurationMinutes,
		p.AutoCompleteGraceHours, p.MaxActivePerUser, q.dialect.Time(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save policy for facility %s: %w", p.FacilityID, err)
	}
	return nil
}

func (q queries) SaveBlackout(ctx context.Context, b reservation.BlackoutBlock) error {
	_, err := q.exec(ctx,
		`INSERT INTO blackout_blocks (`+blackoutColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), string(b.FacilityID), q.dialect.Time(b.Start), q.dialect.Time(b.End),
		b.Reason, string(b.Type), b.CreatedBy, q.dialect.Time(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save blackout: %w", err)
	}
	return nil
}

func (q queries) DeleteBlackout(ctx context.Context, id reservation.BlackoutID) error {
	res, err := q.exec(ctx, `DELETE FROM blackout_blocks WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete blackout %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reservation.BlackoutNotFound(id)
	}
	return nil
}

func (q queries) ListBlackouts(ctx context.Context, facilityID reservation.FacilityID) ([]reservation.BlackoutBlock, error) {
	var rows []blackoutRow
	err := q.selectRows(ctx, &rows,
		`SELECT `+blackoutColumns+` FROM blackout_blocks WHERE facility_id = ? ORDER BY block_start`,
		string(facilityID))
	if err != nil {
		return nil, fmt.Errorf("failed to list blackouts: %w", err)
	}
	out := make([]reservation.BlackoutBlock, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// =============================================================================
// STORE & TX
// =============================================================================

// Store serves reads and admin writes straight from the pool. The engine
// stores embed it and add their own locked sections.
type Store struct {
	queries
	DB *sqlx.DB
}

// New wraps db.
func New(db *sqlx.DB, d Dialect) *Store {
	return &Store{queries: queries{ext: db, dialect: d}, DB: db}
}

// Tx is the reservation.Tx handed to locked sections.
type Tx struct {
	queries
	SQL *sqlx.Tx
}

var _ reservation.Tx = (*Tx)(nil)

// RunTx begins a transaction, runs setup (lock acquisition), then fn. An
// error from either rolls back; otherwise the transaction commits.
func (s *Store) RunTx(ctx context.Context, opts *sql.TxOptions, setup func(*sqlx.Tx) error, fn func(reservation.Tx) error) (err error) {
	tx, err := s.DB.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if setup != nil {
		if err = setup(tx); err != nil {
			return err
		}
	}
	if err = fn(&Tx{queries: queries{ext: tx, dialect: s.dialect, locking: true}, SQL: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rebind converts a `?` query to the store's placeholder style.
func (s *Store) Rebind(query string) string {
	return s.rebind(query)
}

func (s *Store) Close() error {
	return s.DB.Close()
}
