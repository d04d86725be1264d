package db

import (
	"database/sql"
	"time"

	"github.com/inlet-sh/inlet/internal/errors"
)

// ErrorEntry is one append-only diagnostic record. Entries are never
// trimmed automatically while their capture is still non-terminal.
type ErrorEntry struct {
	ID        int64   `json:"id"`
	CaptureID *string `json:"capture_id"`
	Stage     string  `json:"stage"`
	Message   string  `json:"message"`
	CreatedAt int64   `json:"created_at"`
}

// LogError appends a diagnostic record. captureID may be empty for
// failures with no owning capture (e.g. a rejected envelope).
func LogError(db *sql.DB, captureID, stage, message string) error {
	var capID sql.NullString
	if captureID != "" {
		capID = sql.NullString{String: captureID, Valid: true}
	}

	_, err := db.Exec(
		"INSERT INTO error_log (capture_id, stage, message, created_at) VALUES (?, ?, ?, ?)",
		capID, stage, message, time.Now().Unix(),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// RecentErrorsByStage returns up to perStage recent entries for each stage,
// newest first within a stage.
func RecentErrorsByStage(db *sql.DB, perStage int) (map[string][]*ErrorEntry, error) {
	if perStage <= 0 {
		perStage = 10
	}

	// Window over (stage, created_at desc) keeps this one round trip.
	rows, err := db.Query(
		`SELECT id, capture_id, stage, message, created_at FROM (
			SELECT id, capture_id, stage, message, created_at,
				ROW_NUMBER() OVER (PARTITION BY stage ORDER BY created_at DESC, id DESC) AS rn
			FROM error_log
		) WHERE rn <= ? ORDER BY stage ASC, created_at DESC, id DESC`,
		perStage,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := make(map[string][]*ErrorEntry)
	for rows.Next() {
		var (
			e     ErrorEntry
			capID sql.NullString
		)
		if err := rows.Scan(&e.ID, &capID, &e.Stage, &e.Message, &e.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		e.CaptureID = fromNullString(capID)
		out[e.Stage] = append(out[e.Stage], &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
