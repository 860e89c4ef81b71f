// Package store provides the embedded SQLite record store for tracksync.
//
// The store holds every synchronized record (users, clients, projects,
// tasks) in a single table keyed by an AUTOINCREMENT local id, so local ids
// are never reused even after rows are removed. Remote ids are bound once and
// never rebound.
//
// Architecture:
//   - Database file: ~/.tracksync/tracksync.db (configurable)
//   - WAL mode: presentation reads while a sync pass writes
//   - Schema: records, sync_marks tables
//   - Dirty tracking: dirty flag + per-record stamp, bumped on every local edit
//
// Writers:
//  1. The presentation layer creates, edits and deletes records (always dirty)
//  2. The sync engine applies remote state and clears dirty flags
//  3. A stamp mismatch turns a racing clear into a no-op, so edits made while
//     a pass is in flight stay dirty for the next pass
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrNotFound is returned when a record lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidParent is returned when a local edit points a project at a
	// client, or a task at a project, that is missing or deleted.
	ErrInvalidParent = errors.New("parent record missing or deleted")

	// ErrHasChildren is returned when deleting a client or project that
	// active records still reference.
	ErrHasChildren = errors.New("record is still referenced")
)

// timeLayout is fixed-width UTC so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite connection pool with record-store operations.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open creates a new database connection at the specified path.
//
// The database is opened in WAL mode with a busy timeout so the presentation
// layer and the sync worker can share it. Open creates the parent directory
// and the schema if they do not exist yet.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	database, err := store.Open(filepath.Join(home, ".tracksync", "tracksync.db"))
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
		now:  time.Now,
	}

	if err := db.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		local_id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		remote_id INTEGER,
		guid TEXT NOT NULL,

		dirty INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		stamp INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,

		name TEXT NOT NULL DEFAULT '',
		retention_days INTEGER NOT NULL DEFAULT 0,

		client_local_id INTEGER,
		client_project_name TEXT NOT NULL DEFAULT '',

		description TEXT,
		duration INTEGER NOT NULL DEFAULT 0,
		start_at TEXT,
		project_local_id INTEGER
	);

	CREATE TABLE IF NOT EXISTS sync_marks (
		kind TEXT PRIMARY KEY,
		mark INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_remote
	    ON records(kind, remote_id) WHERE remote_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(kind, dirty);
	CREATE INDEX IF NOT EXISTS idx_records_updated ON records(kind, updated_at);
	CREATE INDEX IF NOT EXISTS idx_records_start ON records(kind, deleted, start_at);
	CREATE INDEX IF NOT EXISTS idx_records_client ON records(client_local_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) timestamp() string {
	return formatTime(db.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
