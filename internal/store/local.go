// Package store persists tasks, task executions and conversation turns in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aisatoshi/internal/logging"
	"aisatoshi/internal/types"

	_ "github.com/mattn/go-sqlite3" // driver "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // driver "sqlite" (pure Go)
)

// DefaultDriver is the pure-Go SQLite driver.
const DefaultDriver = "sqlite"

// LocalStore is the single SQLite-backed store for every persisted entity.
// All writes go through one connection, so single-row updates are atomic and
// a conditional UPDATE is a sufficient claim primitive.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore opens (creating if needed) the database at path using driver
// ("sqlite" or "sqlite3"). Use ":memory:" for a throwaway database.
func NewLocalStore(driver, path string) (*LocalStore, error) {
	if driver == "" {
		driver = DefaultDriver
	}

	existed := false
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, types.StorageFailure("create directory", err)
		}
		if _, err := os.Stat(path); err == nil {
			existed = true
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, types.StorageFailure("open database", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, types.StorageFailure("configure database", err)
		}
	}

	if existed && tableExists(db, "tasks") && GetSchemaVersion(db) < CurrentSchemaVersion {
		if _, err := CreateBackup(path); err != nil {
			logging.StoreWarn("pre-migration backup failed: %v", err)
		}
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("store opened: driver=%s path=%s", driver, path)
	return store, nil
}

// Conversation turns are keyed by a store-assigned sequence. The channel's
// delivery id of a user turn is unique per conversation; replies carry NULL.
const turnTableDDL = `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		conversation_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		role TEXT NOT NULL,
		delivery INTEGER,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, sequence)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_delivery ON conversation_turns(conversation_id, delivery);
	`

// counterTableDDL holds the last sequence handed out per conversation, so
// sequences stay monotonic across prune and clear.
const counterTableDDL = `
	CREATE TABLE IF NOT EXISTS conversation_counters (
		conversation_id TEXT PRIMARY KEY,
		last_sequence INTEGER NOT NULL
	);
	`

// entityTableDDL is the shared table for small JSON-payload entities such as
// remembered facts. rank and summary are the queryable projections of the
// payload.
const entityTableDDL = `
	CREATE TABLE IF NOT EXISTS entities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		rank INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_scope ON entities(entity_type, scope, rank);
	`

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	taskTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL DEFAULT 'generic',
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 2,
		params TEXT NOT NULL DEFAULT '{}',
		interval_ns INTEGER NOT NULL DEFAULT 0,
		next_run_at INTEGER NOT NULL DEFAULT 0,
		execution_count INTEGER NOT NULL DEFAULT 0,
		last_result TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(status, next_run_at);
	`

	executionTable := `
	CREATE TABLE IF NOT EXISTS task_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT 'running',
		output TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_executions_task ON task_executions(task_id, started_at);
	`

	// Tables renamed or rebuilt by a schema change are migrated first.
	if err := migrateTurnKeys(s.db); err != nil {
		return types.StorageFailure("migrate conversation turns", err)
	}

	for _, table := range []string{taskTable, executionTable, turnTableDDL, counterTableDDL, entityTableDDL} {
		if _, err := s.db.Exec(table); err != nil {
			return types.StorageFailure("create table", err)
		}
	}

	if err := RunMigrations(s.db); err != nil {
		return types.StorageFailure("migrate", err)
	}
	return nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// DB exposes the handle for diagnostics and tests.
func (s *LocalStore) DB() *sql.DB {
	return s.db
}

// Path returns the database path.
func (s *LocalStore) Path() string {
	return s.dbPath
}

// Ping verifies the database is reachable.
func (s *LocalStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return types.StorageFailure("ping", err)
	}
	return nil
}

// Timestamps are stored as unix nanoseconds; 0 means unset.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func statusArgs(statuses []types.TaskStatus) []interface{} {
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return args
}
