package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"aisatoshi/internal/logging"
)

// Schema versions:
// v1: tasks + conversation turns
// v2: task_executions history, tasks.priority
// v3: tasks.last_error, tasks.completed_at, tasks.description
// v4: conversation_turns keyed by (conversation_id, sequence), delivery
//     column, conversation_counters, entities
const CurrentSchemaVersion = 4

// Migration defines a database schema migration.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists column additions for databases created by older
// versions. Tables that are missing entirely are created by initialize.
var pendingMigrations = []Migration{
	{"tasks", "priority", "INTEGER NOT NULL DEFAULT 2"},
	{"tasks", "description", "TEXT NOT NULL DEFAULT ''"},
	{"tasks", "last_error", "TEXT NOT NULL DEFAULT ''"},
	{"tasks", "completed_at", "INTEGER NOT NULL DEFAULT 0"},
	{"tasks", "execution_count", "INTEGER NOT NULL DEFAULT 0"},
}

// RunMigrations applies schema migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	logging.StoreDebug("Running schema migrations (%d pending)", len(pendingMigrations))

	appliedCount := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			logging.StoreDebug("Table missing, skipping migration: %s.%s", m.Table, m.Column)
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s: %w", m.Table, m.Column, err)
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		appliedCount++
	}

	if GetSchemaVersion(db) < CurrentSchemaVersion {
		if err := SetSchemaVersion(db, CurrentSchemaVersion); err != nil {
			return err
		}
	}

	logging.StoreDebug("Schema migrations complete: applied=%d", appliedCount)
	return nil
}

// migrateTurnKeys rebuilds a v1-v3 conversation_turns table, which was keyed
// by (conversation_id, sequence, role) with the reply reusing the delivery id.
// Turns are renumbered 1..n per conversation in their original order and the
// delivery id moves to its own column.
func migrateTurnKeys(db *sql.DB) error {
	if !tableExists(db, "conversation_turns") || columnExists(db, "conversation_turns", "delivery") {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "migrateTurnKeys")
	defer timer.Stop()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []string{
		"ALTER TABLE conversation_turns RENAME TO conversation_turns_v3",
		turnTableDDL,
		counterTableDDL,
		`INSERT INTO conversation_turns (conversation_id, sequence, role, delivery, text, created_at)
		SELECT conversation_id,
			ROW_NUMBER() OVER (PARTITION BY conversation_id ORDER BY sequence ASC, role DESC),
			role,
			CASE WHEN role = 'user' THEN sequence END,
			text, created_at
		FROM conversation_turns_v3`,
		`INSERT OR REPLACE INTO conversation_counters (conversation_id, last_sequence)
		SELECT conversation_id, MAX(sequence) FROM conversation_turns GROUP BY conversation_id`,
		"DROP TABLE conversation_turns_v3",
	}
	for _, q := range steps {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Store("Migration applied: conversation_turns rekeyed by (conversation_id, sequence)")
	return nil
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}

// GetSchemaVersion returns the recorded schema version, or 0 for a database
// that has never been versioned.
func GetSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "schema_versions") {
		return 0
	}
	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_versions").Scan(&version); err != nil {
		return 0
	}
	return version
}

// SetSchemaVersion records a new schema version in the database.
func SetSchemaVersion(db *sql.DB, version int) error {
	createTable := `
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			applied_at INTEGER NOT NULL,
			description TEXT
		)
	`
	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("failed to create schema_versions table: %w", err)
	}

	desc := fmt.Sprintf("Migrated to schema version %d", version)
	if _, err := db.Exec(
		"INSERT INTO schema_versions (version, applied_at, description) VALUES (?, ?, ?)",
		version, time.Now().UnixNano(), desc,
	); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	logging.Store("Schema version set to %d", version)
	return nil
}

// CreateBackup creates a backup copy of the database file.
func CreateBackup(dbPath string) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateBackup")
	defer timer.Stop()

	backupPath := dbPath + fmt.Sprintf(".backup_%s", time.Now().Format("20060102_150405"))

	src, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source database: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	bytesCopied, err := io.Copy(dst, src)
	if err != nil {
		return "", fmt.Errorf("failed to copy database to backup: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync backup to disk: %w", err)
	}

	logging.Store("Database backup created: %s (%d bytes)", backupPath, bytesCopied)
	return backupPath, nil
}
