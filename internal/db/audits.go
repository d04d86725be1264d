package db

import (
	"database/sql"
	"time"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/errors"
)

// ExportMode tags what an export attempt actually did.
type ExportMode string

const (
	ExportModeInitial       ExportMode = "initial"
	ExportModeDuplicateSkip ExportMode = "duplicate_skip"
	ExportModePlaceholder   ExportMode = "placeholder"
)

// ExportAudit is one append-only record of a publish attempt. Rows are
// never updated: a retried or duplicate export produces an additional row.
type ExportAudit struct {
	ID          int64      `json:"id"`
	CaptureID   string     `json:"capture_id"`
	OutputPath  string     `json:"output_path"`
	ContentHash *string    `json:"content_hash"`
	Mode        ExportMode `json:"mode"`
	Errored     bool       `json:"errored"`
	ExportedAt  int64      `json:"exported_at"`
}

// FinalizeExport records the outcome of a publish in one transaction: the
// audit row and the capture's transition to its terminal status commit or
// roll back together, so a crash between them cannot leave an audited
// export on a non-terminal capture.
func FinalizeExport(db *sql.DB, audit *ExportAudit, from, to capture.Status) error {
	if err := capture.CanTransition(audit.CaptureID, from, to); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	audit.ExportedAt = now

	result, err := tx.Exec(
		"UPDATE captures SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), now, audit.CaptureID, string(from),
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return staleTransitionError(db, audit.CaptureID, to)
	}

	res, err := tx.Exec(
		`INSERT INTO export_audits (capture_id, output_path, content_hash, mode, errored, exported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		audit.CaptureID, audit.OutputPath, toNullString(audit.ContentHash),
		string(audit.Mode), boolToInt(audit.Errored), audit.ExportedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	if audit.ID, err = res.LastInsertId(); err != nil {
		return errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// InsertAudit appends an audit row outside a status transition. Used for
// re-publish attempts against an already-terminal capture, where the
// duplicate_skip outcome still gets its own row.
func InsertAudit(db *sql.DB, audit *ExportAudit) error {
	audit.ExportedAt = time.Now().Unix()
	res, err := db.Exec(
		`INSERT INTO export_audits (capture_id, output_path, content_hash, mode, errored, exported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		audit.CaptureID, audit.OutputPath, toNullString(audit.ContentHash),
		string(audit.Mode), boolToInt(audit.Errored), audit.ExportedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	if audit.ID, err = res.LastInsertId(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// AuditsForCapture returns every audit row for a capture in insert order.
func AuditsForCapture(db *sql.DB, captureID string) ([]*ExportAudit, error) {
	rows, err := db.Query(
		`SELECT id, capture_id, output_path, content_hash, mode, errored, exported_at
		 FROM export_audits WHERE capture_id = ? ORDER BY id ASC`,
		captureID,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*ExportAudit
	for rows.Next() {
		var (
			a           ExportAudit
			contentHash sql.NullString
			mode        string
			errored     int
		)
		if err := rows.Scan(&a.ID, &a.CaptureID, &a.OutputPath, &contentHash, &mode, &errored, &a.ExportedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		a.ContentHash = fromNullString(contentHash)
		a.Mode = ExportMode(mode)
		a.Errored = errored != 0
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// CountAuditsByMode returns how many audit rows a capture has per mode.
func CountAuditsByMode(db *sql.DB, captureID string) (map[ExportMode]int, error) {
	rows, err := db.Query(
		"SELECT mode, COUNT(*) FROM export_audits WHERE capture_id = ? GROUP BY mode",
		captureID,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	counts := make(map[ExportMode]int)
	for rows.Next() {
		var mode string
		var count int
		if err := rows.Scan(&mode, &count); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[ExportMode(mode)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}
