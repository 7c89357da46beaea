// Package sqlite provides SQLite-based persistent storage for MediaGate.
// Uses WAL mode for concurrent reads and crash-safe writes. The single-writer
// connection pool plus immediate transactions give every store method the
// atomic read-modify-write the entitlement invariants depend on.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// One record per user — the only gate-relevant entity. Timestamps
		// are unix seconds; NULL means "absent".
		`CREATE TABLE IF NOT EXISTS entitlements (
			user_id            TEXT PRIMARY KEY,
			free_attempts_used INTEGER NOT NULL DEFAULT 0,
			last_reset_at      INTEGER NOT NULL DEFAULT 0,
			verified_until     INTEGER,
			pending_token      TEXT,
			token_expires_at   INTEGER,
			premium_until      INTEGER,
			points             INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
			referred_by        TEXT,
			referral_count     INTEGER NOT NULL DEFAULT 0,
			created_at         INTEGER NOT NULL
		)`,
		// Redemption looks records up by token. Unique: a token belongs to
		// at most one pending record.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_entitlements_token
			ON entitlements(pending_token) WHERE pending_token IS NOT NULL`,

		// Points audit trail. The balance column on entitlements is
		// authoritative; this is for operators and status displays.
		`CREATE TABLE IF NOT EXISTS points_ledger (
			tx_id      TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			delta      INTEGER NOT NULL,
			reason     TEXT NOT NULL,
			balance    INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user ON points_ledger(user_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func unixOrZero(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0)
}
