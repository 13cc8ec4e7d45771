/*
Package postgres provides a PostgreSQL-backed reservation.Backend.

PURPOSE:
  Multi-node persistence. Several engine processes can share one database:
  the facility lock is a row lock on the facility, so it is held by the
  database rather than by any one process.

LOCKED SECTIONS:
  WithFacilityLock:    SET LOCAL lock_timeout, then
                       SELECT ... FROM facilities WHERE id = $1 FOR UPDATE.
                       A timeout (SQLSTATE 55P03) becomes LockTimeoutError.
  WithReservationLock: Reservation reads inside the transaction use
                       FOR UPDATE, which locks just that row.

MIGRATION:
  Versioned SQL files under migrations/ are embedded and applied with
  golang-migrate. Migrate is idempotent; ErrNoChange is not an error.

SEE ALSO:
  - store/sqlstore: The shared statements
  - store/sqlite: Single-node alternative
*/
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/warp/facility-engine/reservation"
	"github.com/warp/facility-engine/store/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// lockNotAvailable is SQLSTATE 55P03.
const lockNotAvailable = "55P03"

// Dialect is the PostgreSQL flavour of the shared statements.
var Dialect = sqlstore.Dialect{
	BindType: sqlx.DOLLAR,
	Time:     sqlstore.NativeTime,
	RowLock:  " FOR UPDATE",
}

// Store implements reservation.Backend using PostgreSQL.
type Store struct {
	*sqlstore.Store
	logger *zap.Logger
}

var _ reservation.Backend = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open connects to dsn and verifies the connection. It does not migrate.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{Store: sqlstore.New(db, Dialect), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("postgres")
	return s, nil
}

// Migrate applies every pending migration.
func (s *Store) Migrate(_ context.Context) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := pgmigrate.WithInstance(s.DB.DB, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		s.logger.Warn("schema is dirty", zap.Uint("version", version))
	} else {
		s.logger.Info("schema migrated", zap.Uint("version", version))
	}
	return nil
}

// Ping checks the connection for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// =============================================================================
// LOCKED SECTIONS
// =============================================================================

func (s *Store) WithFacilityLock(ctx context.Context, facilityID reservation.FacilityID, wait time.Duration, fn func(reservation.Tx) error) error {
	err := s.RunTx(ctx, nil, func(tx *sqlx.Tx) error {
		if err := setLockTimeout(ctx, tx, wait); err != nil {
			return err
		}
		var id string
		err := tx.GetContext(ctx, &id, `SELECT id FROM facilities WHERE id = $1 FOR UPDATE`, string(facilityID))
		if errors.Is(err, sql.ErrNoRows) {
			return reservation.FacilityNotFound(facilityID)
		}
		return err
	}, fn)
	if isLockTimeout(err) {
		return &reservation.LockTimeoutError{FacilityID: facilityID, Wait: wait}
	}
	return err
}

func (s *Store) WithReservationLock(ctx context.Context, id reservation.ReservationID, fn func(reservation.Tx) error) error {
	err := s.RunTx(ctx, nil, func(tx *sqlx.Tx) error {
		return setLockTimeout(ctx, tx, reservation.DefaultLockWait)
	}, fn)
	if isLockTimeout(err) {
		return fmt.Errorf("reservation %s is locked: %w", id, reservation.ErrLockTimeout)
	}
	return err
}

func setLockTimeout(ctx context.Context, tx *sqlx.Tx, wait time.Duration) error {
	ms := wait.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	// SET does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}
	return nil
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable
}
