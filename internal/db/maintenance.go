package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/errors"
)

// Snapshot writes a point-in-time consistent copy of the ledger to destPath.
// VACUUM INTO runs inside its own read transaction, so the copy never sees a
// half-applied write even with the WAL active. The destination must not
// already exist.
func Snapshot(db *sql.DB, destPath string) error {
	if destPath == "" {
		return errors.NewInvalidRequest("snapshot path is required")
	}
	if _, err := os.Stat(destPath); err == nil {
		return errors.NewInvalidRequest("snapshot destination already exists: " + destPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0700); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create snapshot directory: %w", err))
	}

	if _, err := db.Exec("VACUUM INTO ?", destPath); err != nil {
		return errors.NewInternal(fmt.Errorf("snapshot failed: %w", err))
	}
	_ = os.Chmod(destPath, 0600)
	return nil
}

// CheckIntegrity runs SQLite's integrity and foreign-key checks and returns
// the list of problems found. An empty slice means the ledger is sound.
func CheckIntegrity(db *sql.DB) ([]string, error) {
	var problems []string

	rows, err := db.Query("PRAGMA integrity_check;")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return nil, errors.NewInternal(err)
		}
		if line != "ok" {
			problems = append(problems, "integrity: "+line)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.NewInternal(err)
	}
	rows.Close()

	fkRows, err := db.Query("PRAGMA foreign_key_check;")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var table string
		var rowid sql.NullInt64
		var parent string
		var fkid int
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, errors.NewInternal(err)
		}
		problems = append(problems, fmt.Sprintf("foreign key: %s row %d references missing %s", table, rowid.Int64, parent))
	}
	if err := fkRows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return problems, nil
}

// SweepPublished permanently removes captures that reached a terminal,
// successfully exported status more than olderThanDays ago. The foreign key
// cascade removes their audit rows; error-log rows are detached, not
// deleted. This is the only physical deletion path for captures.
func SweepPublished(db *sql.DB, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, errors.NewInvalidRequest("retention days must be non-negative")
	}

	cutoff := time.Now().AddDate(0, 0, -olderThanDays).Unix()

	terminal := []capture.Status{
		capture.StatusPublished,
		capture.StatusPublishedDuplicate,
		capture.StatusPublishedPlaceholder,
	}
	placeholders := make([]string, len(terminal))
	args := make([]any, 0, len(terminal)+1)
	for i, s := range terminal {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, cutoff)

	result, err := db.Exec(
		"DELETE FROM captures WHERE status IN ("+strings.Join(placeholders, ",")+") AND updated_at < ?",
		args...,
	)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return removed, nil
}
