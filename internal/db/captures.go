package db

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/errors"
)

// InsertCapture stages a new capture row. The UNIQUE(source,
// channel_native_id) constraint is the identity dedup layer: a second
// staging attempt for the same origin-native item fails here, before any
// hashing happens.
func InsertCapture(db *sql.DB, c *capture.Capture) error {
	meta, err := metadataToNull(c.Metadata)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO captures (
			id, source, raw_content, content_hash, external_ref,
			external_fingerprint, size_bytes, status, quarantined,
			channel_native_id, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = db.Exec(query,
		c.ID, string(c.Source), c.RawContent, toNullString(c.ContentHash),
		toNullString(c.ExternalRef), toNullString(c.ExternalFingerprint),
		toNullInt64(c.SizeBytes), string(c.Status), boolToInt(c.Quarantined),
		c.ChannelNativeID, meta, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewDuplicateCapture(string(c.Source), c.ChannelNativeID)
		}
		return errors.NewInternal(err)
	}

	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetCapture retrieves a capture by its ULID.
func GetCapture(db *sql.DB, id string) (*capture.Capture, error) {
	row := db.QueryRow(captureSelect+" WHERE id = ?", id)
	c, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// ListByStatus returns captures in any of the given statuses, oldest update
// first so recovery re-drives the longest-stalled captures before fresh ones.
func ListByStatus(db *sql.DB, statuses []capture.Status, limit int) ([]*capture.Capture, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, s := range statuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	query := captureSelect + " WHERE status IN (" + strings.Join(placeholders, ",") + ") ORDER BY updated_at ASC, id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []*capture.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// ListNonTerminal returns every capture the recovery scanner must re-drive.
func ListNonTerminal(db *sql.DB, limit int) ([]*capture.Capture, error) {
	return ListByStatus(db, capture.NonTerminalStatuses, limit)
}

// CountNonTerminal returns the backlog size used for backpressure checks.
func CountNonTerminal(db *sql.DB) (int, error) {
	placeholders := make([]string, len(capture.NonTerminalStatuses))
	args := make([]any, len(capture.NonTerminalStatuses))
	for i, s := range capture.NonTerminalStatuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}

	var count int
	query := "SELECT COUNT(*) FROM captures WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// CountsByStatus returns the aggregate capture count per status.
func CountsByStatus(db *sql.DB) (map[capture.Status]int, error) {
	rows, err := db.Query("SELECT status, COUNT(*) FROM captures GROUP BY status")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	counts := make(map[capture.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[capture.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}

// FindPublishedByContentHash is the content dedup layer: it returns the
// earliest published capture bound to the given hash, excluding the capture
// being published. Unpublished hash-holders never match; only a capture that
// already owns a durable artifact can be the surviving original.
func FindPublishedByContentHash(db *sql.DB, contentHash, excludeID string) (*capture.Capture, error) {
	row := db.QueryRow(
		captureSelect+" WHERE content_hash = ? AND id != ? AND status = ? ORDER BY id ASC LIMIT 1",
		contentHash, excludeID, string(capture.StatusPublished))
	c, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// UpdateStatus applies one validated lifecycle transition. The transition is
// checked against the lifecycle table, then applied with a compare-and-swap
// on the expected current status so a concurrent or replayed mutation cannot
// slip a capture backward. Zero rows affected means the row moved (or never
// existed); the caller gets the distinct error for whichever it was.
func UpdateStatus(db *sql.DB, id string, from, to capture.Status) error {
	if err := capture.CanTransition(id, from, to); err != nil {
		return err
	}

	now := time.Now().Unix()
	result, err := db.Exec(
		"UPDATE captures SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), now, id, string(from),
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return staleTransitionError(db, id, to)
	}
	return nil
}

// staleTransitionError distinguishes a missing capture from one whose
// status moved underneath the caller.
func staleTransitionError(db *sql.DB, id string, to capture.Status) error {
	current, err := GetCapture(db, id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return errors.NewTerminalState(id, string(current.Status))
	}
	return errors.NewStateViolation(id, string(current.Status), string(to))
}

// SetContentHash binds the content hash: the single legal NULL -> value
// transition. Once non-null the hash is immutable; a repeat bind of the
// same value is an idempotent no-op, a different value fails loudly.
func SetContentHash(db *sql.DB, id, contentHash string) error {
	now := time.Now().Unix()
	result, err := db.Exec(
		"UPDATE captures SET content_hash = ?, updated_at = ? WHERE id = ? AND content_hash IS NULL",
		contentHash, now, id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected > 0 {
		return nil
	}

	current, err := GetCapture(db, id)
	if err != nil {
		return err
	}
	if current.ContentHash != nil && *current.ContentHash == contentHash {
		return nil
	}
	existing := ""
	if current.ContentHash != nil {
		existing = *current.ContentHash
	}
	return errors.NewHashImmutable(id, existing, contentHash)
}

// SetRawContent fills in the text body after enrichment: set at most once,
// from empty to non-empty.
func SetRawContent(db *sql.DB, id, rawContent string) error {
	if strings.TrimSpace(rawContent) == "" {
		return errors.NewInvalidRequest("raw_content must not be empty")
	}

	now := time.Now().Unix()
	result, err := db.Exec(
		"UPDATE captures SET raw_content = ?, updated_at = ? WHERE id = ? AND raw_content = ''",
		rawContent, now, id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected > 0 {
		return nil
	}

	current, err := GetCapture(db, id)
	if err != nil {
		return err
	}
	if current.RawContent == rawContent {
		return nil
	}
	return errors.NewInvalidRequest("raw_content is already set for capture " + id)
}

// SetExternalFingerprint records the artifact prefix fingerprint computed
// during staging.
func SetExternalFingerprint(db *sql.DB, id, fingerprint string) error {
	now := time.Now().Unix()
	result, err := db.Exec(
		"UPDATE captures SET external_fingerprint = ?, updated_at = ? WHERE id = ?",
		fingerprint, now, id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// SetQuarantined flips the manual-resolution flag.
func SetQuarantined(db *sql.DB, id string, quarantined bool) error {
	now := time.Now().Unix()
	result, err := db.Exec(
		"UPDATE captures SET quarantined = ?, updated_at = ? WHERE id = ?",
		boolToInt(quarantined), now, id,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

const captureSelect = `
	SELECT id, source, raw_content, content_hash, external_ref,
		external_fingerprint, size_bytes, status, quarantined,
		channel_native_id, metadata, created_at, updated_at
	FROM captures`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCapture scans a single row into a Capture struct.
func scanCapture(row rowScanner) (*capture.Capture, error) {
	var (
		c           capture.Capture
		source      string
		status      string
		contentHash sql.NullString
		externalRef sql.NullString
		fingerprint sql.NullString
		sizeBytes   sql.NullInt64
		quarantined int
		meta        sql.NullString
	)

	err := row.Scan(
		&c.ID, &source, &c.RawContent, &contentHash, &externalRef,
		&fingerprint, &sizeBytes, &status, &quarantined,
		&c.ChannelNativeID, &meta, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Source = capture.Source(source)
	c.Status = capture.Status(status)
	c.ContentHash = fromNullString(contentHash)
	c.ExternalRef = fromNullString(externalRef)
	c.ExternalFingerprint = fromNullString(fingerprint)
	c.Quarantined = quarantined != 0
	if sizeBytes.Valid {
		c.SizeBytes = &sizeBytes.Int64
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// metadataToNull serializes the metadata map for storage; empty maps are
// stored as NULL so they scan back as nil.
func metadataToNull(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// toNullInt64 converts a *int64 to sql.NullInt64.
func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
