package ingest

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/logger"
)

// SnapshotInput contains parameters for the Snapshot operation.
type SnapshotInput struct {
	// Path is the destination file; defaults to
	// <base>/snapshots/inlet-<timestamp>.db.
	Path    string
	BaseDir string
}

// SnapshotOutput contains the result of the Snapshot operation.
type SnapshotOutput struct {
	Path string `json:"path"`
}

// Snapshot writes a consistent point-in-time copy of the ledger.
func Snapshot(ctx context.Context, database *sql.DB, cfg *config.Config, input SnapshotInput) (*SnapshotOutput, error) {
	path := strings.TrimSpace(input.Path)
	if path == "" {
		name := "inlet-" + time.Now().Format("2006-01-02T150405") + ".db"
		path = filepath.Join(input.BaseDir, "snapshots", name)
	}
	if err := db.Snapshot(database, path); err != nil {
		return nil, err
	}
	logger.Named("maintain").Info().Str("path", path).Msg("ledger snapshot written")
	return &SnapshotOutput{Path: path}, nil
}

// CheckInput contains parameters for the Check operation.
type CheckInput struct{}

// CheckOutput contains the result of the Check operation.
type CheckOutput struct {
	OK       bool     `json:"ok"`
	Problems []string `json:"problems,omitempty"`
}

// Check runs the ledger's integrity and foreign-key checks.
func Check(ctx context.Context, database *sql.DB, cfg *config.Config, input CheckInput) (*CheckOutput, error) {
	problems, err := db.CheckIntegrity(database)
	if err != nil {
		return nil, err
	}
	return &CheckOutput{OK: len(problems) == 0, Problems: problems}, nil
}

// SweepInput contains parameters for the Sweep operation.
type SweepInput struct {
	// OlderThanDays overrides the configured retention floor when > 0.
	OlderThanDays int
}

// SweepOutput contains the result of the Sweep operation.
type SweepOutput struct {
	Removed int64 `json:"removed"`
	Days    int   `json:"older_than_days"`
}

// Sweep removes terminal captures older than the retention floor. Audit
// rows go with their capture; error-log entries stay for diagnosis.
func Sweep(ctx context.Context, database *sql.DB, cfg *config.Config, input SweepInput) (*SweepOutput, error) {
	days := input.OlderThanDays
	if days <= 0 {
		days = cfg.RetentionDays
	}
	removed, err := db.SweepPublished(database, days)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		logger.Named("maintain").Info().Int64("removed", removed).Int("older_than_days", days).Msg("retention sweep complete")
	}
	return &SweepOutput{Removed: removed, Days: days}, nil
}
