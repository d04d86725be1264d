package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/logger"
)

// VerifyInput contains parameters for the Verify operation.
type VerifyInput struct {
	ID string
}

// VerifyOutput contains the result of the Verify operation.
type VerifyOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Verify confirms a discovered capture's external artifact is reachable
// and moves it to verified. Inline captures have nothing to check and
// pass through. A failed check leaves the capture discovered so the
// recovery scan retries it; the failure is recorded in the error log.
func Verify(ctx context.Context, database *sql.DB, cfg *config.Config, input VerifyInput) (*VerifyOutput, error) {
	c, err := db.GetCapture(database, input.ID)
	if err != nil {
		return nil, err
	}
	if c.Status != capture.StatusDiscovered {
		return nil, errors.NewStateViolation(c.ID, string(c.Status), string(capture.StatusVerified))
	}

	if c.ExternalRef != nil {
		info, statErr := os.Stat(*c.ExternalRef)
		if statErr != nil {
			msg := fmt.Sprintf("external ref unreachable: %v", statErr)
			if logErr := db.LogError(database, c.ID, "verify", msg); logErr != nil {
				return nil, logErr
			}
			logger.Named("verify").Warn().Str("id", c.ID).Str("ref", *c.ExternalRef).Msg("external ref unreachable")
			return nil, errors.NewTransientIO(statErr)
		}
		if info.IsDir() {
			msg := "external ref is a directory"
			if logErr := db.LogError(database, c.ID, "verify", msg); logErr != nil {
				return nil, logErr
			}
			return nil, errors.NewInvalidRequest(msg)
		}
		// Adapter-reported size is advisory; a mismatch is logged but
		// does not block, since some channels report pre-transcoding
		// sizes.
		if c.SizeBytes != nil && *c.SizeBytes != info.Size() {
			msg := fmt.Sprintf("size mismatch: adapter reported %d, artifact is %d", *c.SizeBytes, info.Size())
			if logErr := db.LogError(database, c.ID, "verify", msg); logErr != nil {
				return nil, logErr
			}
		}
	}

	if err := db.UpdateStatus(database, c.ID, capture.StatusDiscovered, capture.StatusVerified); err != nil {
		return nil, err
	}

	logger.Named("verify").Info().Str("id", c.ID).Msg("capture verified")
	return &VerifyOutput{ID: c.ID, Status: string(capture.StatusVerified)}, nil
}
