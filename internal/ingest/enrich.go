package ingest

import (
	"context"
	"database/sql"
	"strings"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/hash"
	"github.com/inlet-sh/inlet/internal/logger"
)

// BeginEnrichmentInput contains parameters for the BeginEnrichment operation.
type BeginEnrichmentInput struct {
	ID string
}

// BeginEnrichmentOutput contains the result of the BeginEnrichment operation.
type BeginEnrichmentOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// BeginEnrichment hands a staged capture to an external enricher
// (transcription, OCR) by moving it to enriching. Recovery reverts the
// capture to staged if no completion arrives within the configured
// timeout.
func BeginEnrichment(ctx context.Context, database *sql.DB, cfg *config.Config, input BeginEnrichmentInput) (*BeginEnrichmentOutput, error) {
	c, err := db.GetCapture(database, input.ID)
	if err != nil {
		return nil, err
	}
	if c.Quarantined {
		return nil, errors.NewQuarantined(c.ID)
	}
	if c.ContentHash != nil {
		return nil, errors.NewInvalidRequest("capture " + c.ID + " already has final content; publish it instead")
	}
	if err := db.UpdateStatus(database, c.ID, capture.StatusStaged, capture.StatusEnriching); err != nil {
		return nil, err
	}
	logger.Named("enrich").Info().Str("id", c.ID).Msg("enrichment started")
	return &BeginEnrichmentOutput{ID: c.ID, Status: string(capture.StatusEnriching)}, nil
}

// CompleteEnrichmentInput contains parameters for the CompleteEnrichment operation.
type CompleteEnrichmentInput struct {
	ID string
	// Text is the enriched body (e.g. a transcript). Required for
	// captures that arrived without inline content.
	Text string
}

// CompleteEnrichmentOutput contains the result of the CompleteEnrichment operation.
type CompleteEnrichmentOutput struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ContentHash string `json:"content_hash"`
}

// CompleteEnrichment records the enricher's output and moves the capture
// to ready. The delivered text becomes the capture's body exactly once;
// the content hash is pinned at the same moment and never changes after.
func CompleteEnrichment(ctx context.Context, database *sql.DB, cfg *config.Config, input CompleteEnrichmentInput) (*CompleteEnrichmentOutput, error) {
	c, err := db.GetCapture(database, input.ID)
	if err != nil {
		return nil, err
	}
	if c.Status != capture.StatusEnriching {
		return nil, errors.NewStateViolation(c.ID, string(c.Status), string(capture.StatusReady))
	}

	body := c.RawContent
	if body == "" {
		body = strings.TrimSpace(input.Text)
		if body == "" {
			return nil, errors.NewInvalidRequest("enrichment must deliver text for a capture without inline content")
		}
		if err := db.SetRawContent(database, c.ID, body); err != nil {
			return nil, err
		}
	}

	contentHash := hash.Content(string(c.Source), body, c.Metadata)
	if c.ContentHash == nil {
		if err := db.SetContentHash(database, c.ID, contentHash); err != nil {
			return nil, err
		}
	} else {
		contentHash = *c.ContentHash
	}

	if err := db.UpdateStatus(database, c.ID, capture.StatusEnriching, capture.StatusReady); err != nil {
		return nil, err
	}

	logger.Named("enrich").Info().Str("id", c.ID).Msg("enrichment complete")
	return &CompleteEnrichmentOutput{ID: c.ID, Status: string(capture.StatusReady), ContentHash: contentHash}, nil
}

// FailEnrichmentInput contains parameters for the FailEnrichment operation.
type FailEnrichmentInput struct {
	ID string
	// Reason describes the permanent failure for the error log.
	Reason string
}

// FailEnrichmentOutput contains the result of the FailEnrichment operation.
type FailEnrichmentOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// FailEnrichment records a permanent enrichment failure. The capture
// moves to failed_enrichment and will be published as a placeholder; the
// referenced external artifact is never touched.
func FailEnrichment(ctx context.Context, database *sql.DB, cfg *config.Config, input FailEnrichmentInput) (*FailEnrichmentOutput, error) {
	c, err := db.GetCapture(database, input.ID)
	if err != nil {
		return nil, err
	}
	if err := db.UpdateStatus(database, c.ID, capture.StatusEnriching, capture.StatusFailedEnrichment); err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "enrichment failed permanently"
	}
	if logErr := db.LogError(database, c.ID, "enrich", reason); logErr != nil {
		return nil, logErr
	}

	logger.Named("enrich").Warn().Str("id", c.ID).Str("reason", reason).Msg("enrichment failed permanently")
	return &FailEnrichmentOutput{ID: c.ID, Status: string(capture.StatusFailedEnrichment)}, nil
}
