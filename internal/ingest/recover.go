package ingest

import (
	"context"
	"database/sql"
	"time"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/logger"
	"github.com/inlet-sh/inlet/internal/publish"
)

// RecoverInput contains parameters for the Recover operation.
type RecoverInput struct {
	// DryRun reports what the scan would do without changing anything.
	DryRun bool
}

// RecoverOutput summarizes one recovery pass.
type RecoverOutput struct {
	Scanned      int `json:"scanned"`
	TempsRemoved int `json:"temps_removed"`
	Verified     int `json:"verified"`
	Staged       int `json:"staged"`
	Published    int `json:"published"`
	Reverted     int `json:"reverted"`
	Quarantined  int `json:"quarantined"`
	Deferred     int `json:"deferred"`
}

// Recover re-drives every non-terminal capture one step toward a
// terminal status and sweeps orphaned temp files out of the inbox. The
// scan is safe to run at every startup and at any time in between: each
// step is idempotent, and a capture the scan cannot advance (quarantined,
// mid-enrichment, or failing transiently) is left for the next pass.
func Recover(ctx context.Context, database *sql.DB, cfg *config.Config, input RecoverInput) (*RecoverOutput, error) {
	out := &RecoverOutput{}
	log := logger.Named("recover")

	p := &publish.Publisher{DB: database, VaultRoot: cfg.VaultRoot, InboxSubdir: cfg.InboxSubdir}
	if !input.DryRun {
		removed, err := p.SweepTemps()
		if err != nil {
			return nil, err
		}
		out.TempsRemoved = removed
	}

	captures, err := db.ListNonTerminal(database, 0)
	if err != nil {
		return nil, err
	}
	out.Scanned = len(captures)

	enrichCutoff := time.Now().Unix() - cfg.EnrichTimeoutSecs

	for _, c := range captures {
		select {
		case <-ctx.Done():
			return out, errors.NewInternal(ctx.Err())
		default:
		}

		if c.Quarantined {
			out.Quarantined++
			continue
		}

		switch c.Status {
		case capture.StatusDiscovered:
			if input.DryRun {
				out.Verified++
				continue
			}
			if _, err := Verify(ctx, database, cfg, VerifyInput{ID: c.ID}); err != nil {
				if errors.Retriable(err) {
					out.Deferred++
					continue
				}
				return out, err
			}
			out.Verified++

		case capture.StatusVerified:
			if input.DryRun {
				out.Staged++
				continue
			}
			if _, err := Stage(ctx, database, cfg, StageInput{ID: c.ID}); err != nil {
				if errors.Is(err, errors.ErrQuarantined) {
					out.Quarantined++
					continue
				}
				if errors.Retriable(err) {
					out.Deferred++
					continue
				}
				return out, err
			}
			out.Staged++

		case capture.StatusStaged:
			// A staged capture without a hash is waiting on enrichment,
			// which only an external caller can start.
			if c.ContentHash == nil {
				out.Deferred++
				continue
			}
			if input.DryRun {
				out.Published++
				continue
			}
			if err := recoverPublish(ctx, database, cfg, c.ID, out); err != nil {
				return out, err
			}

		case capture.StatusEnriching:
			if c.UpdatedAt >= enrichCutoff {
				out.Deferred++
				continue
			}
			if input.DryRun {
				out.Reverted++
				continue
			}
			if err := db.UpdateStatus(database, c.ID, capture.StatusEnriching, capture.StatusStaged); err != nil {
				return out, err
			}
			log.Warn().Str("id", c.ID).Msg("enrichment timed out; reverted to staged")
			out.Reverted++

		case capture.StatusReady, capture.StatusFailedEnrichment:
			if input.DryRun {
				out.Published++
				continue
			}
			if err := recoverPublish(ctx, database, cfg, c.ID, out); err != nil {
				return out, err
			}
		}
	}

	log.Info().
		Int("scanned", out.Scanned).
		Int("published", out.Published).
		Int("reverted", out.Reverted).
		Int("deferred", out.Deferred).
		Msg("recovery pass complete")
	return out, nil
}

// recoverPublish attempts a publish during recovery. Transient failures
// defer the capture to the next pass; a quarantine outcome is counted
// but not fatal; anything else stops the scan.
func recoverPublish(ctx context.Context, database *sql.DB, cfg *config.Config, id string, out *RecoverOutput) error {
	if _, err := Publish(ctx, database, cfg, PublishInput{ID: id}); err != nil {
		if errors.Retriable(err) {
			out.Deferred++
			return nil
		}
		if errors.Is(err, errors.ErrIntegrityViolation) || errors.Is(err, errors.ErrQuarantined) {
			out.Quarantined++
			return nil
		}
		return err
	}
	out.Published++
	return nil
}
