package db

import (
	"database/sql"

	"github.com/inlet-sh/inlet/internal/errors"
)

// GetState reads an adapter-owned state value by key. The core never
// interprets cursor semantics; values are opaque strings.
func GetState(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFound(key)
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return value, nil
}

// SetState upserts an adapter-owned state value.
func SetState(db *sql.DB, key, value string) error {
	_, err := db.Exec(
		"INSERT INTO app_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
