package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/hash"
	"github.com/inlet-sh/inlet/internal/logger"
)

// StageInput contains parameters for the Stage operation.
type StageInput struct {
	ID string
}

// StageOutput contains the result of the Stage operation.
type StageOutput struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	ContentHash *string `json:"content_hash,omitempty"`
	Fingerprint *string `json:"external_fingerprint,omitempty"`
}

// Stage moves a verified capture to staged and pins down its content
// identity: inline captures get their content hash, external captures a
// prefix fingerprint of the referenced artifact. A fingerprint failure
// quarantines the capture for manual resolution but does not lose it;
// the status stays verified.
func Stage(ctx context.Context, database *sql.DB, cfg *config.Config, input StageInput) (*StageOutput, error) {
	c, err := db.GetCapture(database, input.ID)
	if err != nil {
		return nil, err
	}
	if c.Quarantined {
		return nil, errors.NewQuarantined(c.ID)
	}
	if c.Status != capture.StatusVerified {
		return nil, errors.NewStateViolation(c.ID, string(c.Status), string(capture.StatusStaged))
	}

	out := &StageOutput{ID: c.ID}

	if c.ExternalRef != nil && c.ExternalFingerprint == nil {
		fp, fpErr := hash.FilePrefix(*c.ExternalRef, cfg.FingerprintPrefixBytes)
		if fpErr != nil {
			msg := fmt.Sprintf("fingerprint failed: %v", fpErr)
			if logErr := db.LogError(database, c.ID, "stage", msg); logErr != nil {
				return nil, logErr
			}
			if qErr := db.SetQuarantined(database, c.ID, true); qErr != nil {
				return nil, qErr
			}
			logger.Named("stage").Warn().Str("id", c.ID).Msg("capture quarantined: fingerprint failed")
			return nil, errors.NewQuarantined(c.ID)
		}
		if err := db.SetExternalFingerprint(database, c.ID, fp); err != nil {
			return nil, err
		}
		out.Fingerprint = &fp
	} else {
		out.Fingerprint = c.ExternalFingerprint
	}

	// Inline content is final at staging, so its hash is set here, once.
	// External captures stay hashless until enrichment delivers text.
	if c.RawContent != "" && c.ContentHash == nil {
		contentHash := hash.Content(string(c.Source), c.RawContent, c.Metadata)
		if err := db.SetContentHash(database, c.ID, contentHash); err != nil {
			return nil, err
		}
		out.ContentHash = &contentHash
	} else {
		out.ContentHash = c.ContentHash
	}

	if err := db.UpdateStatus(database, c.ID, capture.StatusVerified, capture.StatusStaged); err != nil {
		return nil, err
	}
	out.Status = string(capture.StatusStaged)

	logger.Named("stage").Info().Str("id", c.ID).Msg("capture staged")
	return out, nil
}
