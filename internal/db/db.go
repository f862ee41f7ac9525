// Package db implements the durable store behind the negotiation pipeline
// on SQLite: deals, messages, MESO rounds and vendor profiles.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"accordo/internal/logger"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
	q   querier // *sql.DB normally, *sql.Tx inside Transaction
}

// querier is the subset of database/sql shared by DB and Tx handles.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func dbPath() string {
	// Prefer working directory so the DB is stable across go run / go build.
	// Fall back to executable directory for deployed builds.
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "accordo.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "accordo.db")
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open() (*DB, error) {
	return OpenPath(dbPath())
}

// OpenPath opens the database at an explicit path (a temporary file in tests).
func OpenPath(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB, q: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS deals (
				id                  TEXT PRIMARY KEY,
				title               TEXT NOT NULL,
				mode                TEXT NOT NULL,
				status              TEXT NOT NULL,
				round               INTEGER NOT NULL DEFAULT 0,
				priority            TEXT NOT NULL,
				buyer_id            TEXT NOT NULL DEFAULT '',
				vendor_id           TEXT NOT NULL DEFAULT '',
				requisition_id      TEXT NOT NULL DEFAULT '',
				contract_id         TEXT NOT NULL DEFAULT '',
				requisition         TEXT NOT NULL DEFAULT '{}',
				config              TEXT NOT NULL DEFAULT '{}',
				state               TEXT NOT NULL DEFAULT '{}',
				latest_vendor_offer TEXT,
				latest_counter      TEXT,
				latest_utility      REAL NOT NULL DEFAULT 0,
				latest_action       TEXT NOT NULL DEFAULT '',
				degraded            INTEGER NOT NULL DEFAULT 0,
				created_at          TEXT NOT NULL,
				last_message_at     TEXT NOT NULL DEFAULT '',
				archived_at         TEXT,
				deleted_at          TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_deals_vendor ON deals(vendor_id);
			CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);

			CREATE TABLE IF NOT EXISTS messages (
				id         TEXT PRIMARY KEY,
				deal_id    TEXT NOT NULL REFERENCES deals(id),
				role       TEXT NOT NULL,
				round      INTEGER NOT NULL,
				content    TEXT NOT NULL,
				offer      TEXT,
				decision   TEXT,
				created_at TEXT NOT NULL,
				UNIQUE(deal_id, round, role)
			);
			CREATE INDEX IF NOT EXISTS idx_messages_deal ON messages(deal_id, round);

			CREATE TABLE IF NOT EXISTS meso_rounds (
				id                   TEXT PRIMARY KEY,
				deal_id              TEXT NOT NULL REFERENCES deals(id),
				round                INTEGER NOT NULL,
				type                 TEXT NOT NULL,
				options              TEXT NOT NULL DEFAULT '[]',
				target_utility       REAL NOT NULL,
				variance             REAL NOT NULL,
				selected_option_id   TEXT NOT NULL DEFAULT '',
				inferred_preferences TEXT,
				created_at           TEXT NOT NULL,
				UNIQUE(deal_id, round)
			);

			CREATE TABLE IF NOT EXISTS vendor_profiles (
				vendor_id           TEXT PRIMARY KEY,
				deal_count          INTEGER NOT NULL DEFAULT 0,
				accepted_count      INTEGER NOT NULL DEFAULT 0,
				sum_final_discount  REAL NOT NULL DEFAULT 0,
				behavior_tag        TEXT NOT NULL DEFAULT '',
				updated_at          TEXT NOT NULL
			);

			INSERT INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}
	return nil
}

// Transaction runs fn against a transaction-backed handle. Either every
// write inside commits, or none do.
func (d *DB) Transaction(ctx context.Context, fn func(tx *DB) error) error {
	if _, isTx := d.q.(*sql.Tx); isTx {
		return fn(d) // already inside a transaction
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txDB := &DB{sql: d.sql, q: tx}
	if err := fn(txDB); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// retryAttempts bounds retries for transient SQLite failures (locked or
// busy database under concurrent writers).
const retryAttempts = 3

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// withRetry retries a transient-failing operation with jittered backoff.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
		backoff := time.Duration(20*(attempt+1))*time.Millisecond + time.Duration(rand.Intn(20))*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func timeToCol(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func colToTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func timePtrToCol(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func colToTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
