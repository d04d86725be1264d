package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inlet-sh/inlet/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite ledger at baseDir/inlet.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.inlet.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Open database with pragmas in connection string (applies to all
	// connections). WAL tolerates the single-writer model with concurrent
	// readers; busy_timeout bounds lock waits; foreign_keys enforces the
	// audit/error-log ownership cascade.
	dbPath := filepath.Join(baseDir, "inlet.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS captures (
		  id                   TEXT PRIMARY KEY,
		  source               TEXT NOT NULL,
		  raw_content          TEXT NOT NULL DEFAULT '',
		  content_hash         TEXT,
		  external_ref         TEXT,
		  external_fingerprint TEXT,
		  size_bytes           INTEGER,
		  status               TEXT NOT NULL,
		  quarantined          INTEGER NOT NULL DEFAULT 0,
		  channel_native_id    TEXT NOT NULL,
		  metadata             TEXT,
		  created_at           INTEGER NOT NULL,
		  updated_at           INTEGER NOT NULL,
		  UNIQUE (source, channel_native_id)
		);

		CREATE INDEX IF NOT EXISTS idx_captures_status
		ON captures(status, updated_at);

		CREATE INDEX IF NOT EXISTS idx_captures_content_hash
		ON captures(content_hash)
		WHERE content_hash IS NOT NULL;

		CREATE TABLE IF NOT EXISTS export_audits (
		  id           INTEGER PRIMARY KEY AUTOINCREMENT,
		  capture_id   TEXT NOT NULL REFERENCES captures(id) ON DELETE CASCADE,
		  output_path  TEXT NOT NULL,
		  content_hash TEXT,
		  mode         TEXT NOT NULL CHECK (mode IN ('initial','duplicate_skip','placeholder')),
		  errored      INTEGER NOT NULL DEFAULT 0,
		  exported_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_export_audits_capture
		ON export_audits(capture_id, id);

		CREATE TABLE IF NOT EXISTS error_log (
		  id         INTEGER PRIMARY KEY AUTOINCREMENT,
		  capture_id TEXT REFERENCES captures(id) ON DELETE SET NULL,
		  stage      TEXT NOT NULL,
		  message    TEXT NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_error_log_stage
		ON error_log(stage, created_at DESC);

		CREATE TABLE IF NOT EXISTS app_state (
		  key   TEXT PRIMARY KEY,
		  value TEXT NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
