// Package db is the durable on-device store backing the reactive cache.
//
// Rows of every table are persisted to a single SQLite database. The store
// is never read during normal operation: the cache hydrates itself once with
// LoadAll at startup and from then on only writes flow here, batched by the
// cache's flusher through Apply.
//
// Architecture:
//   - Database file: <data_dir>/luna.db
//   - WAL mode: crash-safe appends, readers never block the flusher
//   - Tables: profiles, daily_logs, cycles, sync_queue, sync_settings, id_aliases
//   - Migrations: additive only, ordered by semantic version
//
// Three drivers are supported. "sqlite3" (ncruces/go-sqlite3, the default)
// and "sqlite" (modernc.org/sqlite) are pure Go; "libsql" requires building
// with the libsql tag.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "modernc.org/sqlite"
)

// Supported driver names, as registered with database/sql.
const (
	DriverNcruces = "sqlite3"
	DriverModernc = "sqlite"
	DriverLibSQL  = "libsql"
)

// DefaultBusyTimeout is how long a write waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Options configures Open.
type Options struct {
	// Driver selects the SQL driver (default DriverNcruces).
	Driver string
	// BusyTimeout overrides DefaultBusyTimeout.
	BusyTimeout time.Duration
	// Logger receives checkpoint and migration messages (default slog.Default()).
	Logger *slog.Logger
}

// DB is the durable store.
type DB struct {
	conn   *sql.DB
	path   string
	driver string
	sb     sq.StatementBuilderType
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path. The special path
// ":memory:" opens a private in-memory database.
//
// Open does not create tables; call InitSchema before use. The caller MUST
// call Close when done.
func Open(path string, opts Options) (*DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverNcruces
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if !isRegistered(opts.Driver) {
		return nil, fmt.Errorf("unsupported store driver %q (available: %v)", opts.Driver, sql.Drivers())
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open(opts.Driver, "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer at a time; this also keeps ":memory:" on a single connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{
		conn:   conn,
		path:   path,
		driver: opts.Driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		logger: opts.Logger,
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

func isRegistered(driver string) bool {
	for _, d := range sql.Drivers() {
		if d == driver {
			return true
		}
	}
	return false
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Driver returns the name of the driver in use.
func (db *DB) Driver() string { return db.driver }

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warn("failed to checkpoint WAL", "path", db.path, "error", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Count returns the number of rows in table.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	query, args, err := db.sb.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
