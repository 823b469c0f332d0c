package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/mod/semver"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

const baseSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	birth_date TEXT,
	cycle_type TEXT NOT NULL DEFAULT 'regular',
	average_cycle_length INTEGER,
	cycle_range_min INTEGER,
	cycle_range_max INTEGER,
	period_length INTEGER NOT NULL DEFAULT 5,
	has_pcos INTEGER NOT NULL DEFAULT 0,
	pcos_symptoms TEXT NOT NULL DEFAULT '[]',  -- JSON array
	pcos_treatment TEXT NOT NULL DEFAULT '[]', -- JSON array
	contraceptive_method TEXT NOT NULL DEFAULT 'none',
	wants_pregnancy INTEGER NOT NULL DEFAULT 0,
	synced INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_user ON profiles(user_id);

CREATE TABLE IF NOT EXISTS daily_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	date TEXT NOT NULL,
	symptoms TEXT NOT NULL DEFAULT '[]', -- JSON array
	flow TEXT NOT NULL DEFAULT 'none',
	mood TEXT NOT NULL DEFAULT '',       -- comma-joined
	notes TEXT NOT NULL DEFAULT '',
	synced INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	UNIQUE (user_id, date)
);

CREATE TABLE IF NOT EXISTS cycles (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT,
	delay INTEGER NOT NULL DEFAULT 0,
	synced INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycles_user_start ON cycles(user_id, start_date);

CREATE TABLE IF NOT EXISTS sync_queue (
	id INTEGER PRIMARY KEY,
	table_name TEXT NOT NULL,
	record_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	data TEXT, -- remote-shaped JSON, NULL for delete
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_order ON sync_queue(created_at, id);

CREATE TABLE IF NOT EXISTS sync_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

type migration struct {
	version string
	name    string
	stmts   []string
}

// migrations are additive: each either creates something new or adds a
// column. Re-running one against a database that already has the change is
// a no-op.
var migrations = []migration{
	{
		version: "v1.0.0",
		name:    "base schema",
		stmts:   []string{baseSchema},
	},
	{
		version: "v1.1.0",
		name:    "daily log notes",
		stmts:   []string{`ALTER TABLE daily_logs ADD COLUMN notes TEXT NOT NULL DEFAULT ''`},
	},
	{
		version: "v1.2.0",
		name:    "id aliases",
		stmts: []string{
			`CREATE TABLE id_aliases (
				temp_id TEXT PRIMARY KEY,
				remote_id TEXT NOT NULL,
				table_name TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX idx_id_aliases_remote ON id_aliases(remote_id)`,
		},
	},
}

// SchemaVersion is the version InitSchema brings the database to.
func SchemaVersion() string {
	latest := ""
	for _, m := range migrations {
		if latest == "" || semver.Compare(m.version, latest) > 0 {
			latest = m.version
		}
	}
	return latest
}

// InitSchema creates the schema if it doesn't exist and applies pending
// migrations. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	current, err := db.currentVersion(ctx)
	if err != nil {
		return err
	}

	pending := make([]migration, 0, len(migrations))
	for _, m := range migrations {
		if current == "" || semver.Compare(m.version, current) > 0 {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return semver.Compare(pending[i].version, pending[j].version) < 0
	})

	for _, m := range pending {
		for _, stmt := range m.stmts {
			if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
				if isAlreadyApplied(err) {
					db.logger.Debug("migration step already applied", "version", m.version, "name", m.name)
					continue
				}
				return fmt.Errorf("failed to apply migration %s (%s): %w", m.version, m.name, err)
			}
		}
		if err := db.setVersion(ctx, m.version); err != nil {
			return err
		}
		db.logger.Debug("applied migration", "version", m.version, "name", m.name)
	}

	return nil
}

// isAlreadyApplied reports whether err means an additive change is already
// present.
func isAlreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

func (db *DB) currentVersion(ctx context.Context) (string, error) {
	var exists int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, schema.TableSettings).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return "", nil
	}

	query, args, err := db.sb.Select("value").
		From(schema.TableSettings).
		Where(sq.Eq{"key": schema.SettingSchemaVersion}).
		ToSql()
	if err != nil {
		return "", err
	}
	var version string
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (db *DB) setVersion(ctx context.Context, version string) error {
	query, args, err := db.sb.Insert(schema.TableSettings).
		Columns("key", "value", "updated_at").
		Values(schema.SettingSchemaVersion, version, schema.FormatTimestamp(time.Now())).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
