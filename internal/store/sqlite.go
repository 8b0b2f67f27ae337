// ABOUTME: SQLite implementation of the aethos store using modernc.org/sqlite by default
// ABOUTME: Opens the database with per-connection pragmas and applies embedded migrations

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported database/sql driver names.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
)

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// timeFormat is fixed width so stored timestamps sort lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists settings, providers, and conversations in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	sealer Sealer
	logger *slog.Logger
	now    func() time.Time

	// writeMu serializes multi-statement write transactions.
	writeMu sync.Mutex
}

// Option configures a SQLiteStore.
type Option func(*options)

type options struct {
	driver      string
	busyTimeout time.Duration
	logger      *slog.Logger
	clock       func() time.Time
}

// WithDriver selects the database/sql driver: DriverSQLite or DriverSQLite3.
func WithDriver(driver string) Option {
	return func(o *options) { o.driver = driver }
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides the time source used for row timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func buildOptions(opts []Option) options {
	o := options{
		driver:      DriverSQLite,
		busyTimeout: DefaultBusyTimeout,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates it to the latest schema. Parent directories are created if needed.
func NewSQLiteStore(path string, sealer Sealer, opts ...Option) (*SQLiteStore, error) {
	o := buildOptions(opts)
	logger := o.logger.With("component", "store")

	dsn, err := buildDSN(o.driver, path, o.busyTimeout)
	if err != nil {
		return nil, err
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(o.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := newStoreWithDB(db, sealer, o)
	logger.Info("SQLite store initialized", "path", path, "driver", o.driver)
	return s, nil
}

func newStoreWithDB(db *sql.DB, sealer Sealer, o options) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		sealer: sealer,
		logger: o.logger.With("component", "store"),
		now:    o.clock,
	}
}

// buildDSN turns path into a driver-specific DSN whose pragmas apply to
// every pooled connection. Transactions begin IMMEDIATE: a deferred
// read-then-write transaction cannot upgrade once another connection has
// committed, and fails with SQLITE_BUSY without waiting out busy_timeout.
func buildDSN(driver, path string, busyTimeout time.Duration) (string, error) {
	ms := busyTimeout.Milliseconds()
	switch driver {
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", path, ms), nil
	case DriverSQLite3:
		return fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate", path, ms), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	// m.Close would close db, which the store still owns.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// withTx runs fn in one transaction under the write lock. The transaction
// commits only if fn returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeFormat, value)
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
