/*
Package sqlite provides a SQLite-backed reservation.Backend.

PURPOSE:
  Single-node persistence for the reservation engine. All statements live in
  store/sqlstore and are shared with PostgreSQL; this package owns the schema
  and the locked sections.

LOCKED SECTIONS:
  SQLite has no row locks. WithFacilityLock takes an advisory lock keyed by
  facility id (in-process by default, Redis when several engine processes
  share one database file) and then opens an IMMEDIATE transaction, so the
  check-then-insert in create and approve is serialised per facility while
  other facilities proceed. The lock is always acquired before the
  transaction begins; the reverse order can deadlock on the single writer.

  WithReservationLock does the same keyed on the reservation id.

KEY TABLES:
  facilities:         Catalog of bookable facilities
  facility_policies:  Per-facility policy overrides (NULL = inherit)
  blackout_blocks:    Administrative blocks
  reservations:       Reservation rows with optimistic version
  reservation_logs:   Append-only audit trail

TIMESTAMPS:
  Stored as fixed-width UTC text (sqlstore.TextTimeLayout), so the range
  predicates compare correctly as strings.

USAGE:
  store, err := sqlite.New("./data/facility.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  mgr := reservation.NewManager(store, resolver, opts)

MIGRATION:
  Schema is auto-migrated on New(). PostgreSQL uses versioned migrations
  instead (store/postgres/migrations).

SEE ALSO:
  - reservation/store.go: Interface definitions
  - reservation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/facility-engine/lock"
	"github.com/warp/facility-engine/reservation"
	"github.com/warp/facility-engine/store/sqlstore"
)

// Dialect is the SQLite flavour of the shared statements.
var Dialect = sqlstore.Dialect{
	BindType: sqlx.QUESTION,
	Time:     sqlstore.TextTime,
}

// Store implements reservation.Backend using SQLite.
type Store struct {
	*sqlstore.Store
	locks lock.Locker
}

var _ reservation.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLocker replaces the in-process advisory locker, e.g. with lock.NewRedis
// when more than one process writes the same database.
func WithLocker(l lock.Locker) Option {
	return func(s *Store) { s.locks = l }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{
		Store: sqlstore.New(db, Dialect),
		locks: lock.NewKeyed(),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func dsn(path string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if path != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

// Migrate re-applies the schema. New already does this; the CLI calls it
// explicitly so that `migrate` works the same for both engines.
func (s *Store) Migrate(_ context.Context) error {
	return s.migrate()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS facilities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		facility_type TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		capacity INTEGER NOT NULL DEFAULT 0 CHECK (capacity >= 0),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- NULL columns inherit the engine defaults
	CREATE TABLE IF NOT EXISTS facility_policies (
		facility_id TEXT PRIMARY KEY REFERENCES facilities(id),
		max_days_in_advance INTEGER,
		min_duration_minutes INTEGER,
		max_duration_minutes INTEGER,
		auto_complete_grace_hours INTEGER,
		max_active_per_user INTEGER,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blackout_blocks (
		id TEXT PRIMARY KEY,
		facility_id TEXT NOT NULL REFERENCES facilities(id),
		block_start TEXT NOT NULL,
		block_end TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		block_type TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		CHECK (block_start < block_end)
	);

	CREATE INDEX IF NOT EXISTS idx_blackouts_facility_range
		ON blackout_blocks(facility_id, block_start, block_end);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		facility_id TEXT NOT NULL REFERENCES facilities(id),
		user_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		party_size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		approved_at TEXT,
		approved_by TEXT,
		admin_note TEXT,
		reject_reason TEXT,
		cancel_reason TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (start_time < end_time)
	);

	-- Conflict check (hot path)
	CREATE INDEX IF NOT EXISTS idx_reservations_facility_status_range
		ON reservations(facility_id, status, start_time, end_time);

	-- Per-user cap
	CREATE INDEX IF NOT EXISTS idx_reservations_user
		ON reservations(facility_id, user_id, status);

	-- Auto-completion sweep
	CREATE INDEX IF NOT EXISTS idx_reservations_status_end
		ON reservations(status, end_time);

	-- seq breaks ties between entries written in the same instant
	CREATE TABLE IF NOT EXISTS reservation_logs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		reservation_id TEXT NOT NULL REFERENCES reservations(id),
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_type TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservation_logs_reservation
		ON reservation_logs(reservation_id, created_at, seq);
	`

	_, err := s.DB.Exec(schema)
	return err
}

// =============================================================================
// LOCKED SECTIONS
// =============================================================================

func (s *Store) WithFacilityLock(ctx context.Context, facilityID reservation.FacilityID, wait time.Duration, fn func(reservation.Tx) error) error {
	if _, err := s.GetFacility(ctx, facilityID); err != nil {
		return err
	}
	release, err := s.locks.Acquire(ctx, "facility:"+string(facilityID), wait)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return &reservation.LockTimeoutError{FacilityID: facilityID, Wait: wait}
		}
		return err
	}
	defer release()
	return s.RunTx(ctx, nil, nil, fn)
}

func (s *Store) WithReservationLock(ctx context.Context, id reservation.ReservationID, fn func(reservation.Tx) error) error {
	release, err := s.locks.Acquire(ctx, "reservation:"+string(id), reservation.DefaultLockWait)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return fmt.Errorf("reservation %s is locked: %w", id, reservation.ErrLockTimeout)
		}
		return err
	}
	defer release()
	return s.RunTx(ctx, nil, nil, fn)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data. Used by demos and tests.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"reservation_logs", "reservations", "blackout_blocks", "facility_policies", "facilities"}
	return s.RunTx(ctx, nil, func(tx *sqlx.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	}, func(reservation.Tx) error { return nil })
}

// Ping checks the database handle for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
