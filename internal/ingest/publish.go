package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/logger"
	"github.com/inlet-sh/inlet/internal/publish"
)

// PublishInput contains parameters for the Publish operation.
type PublishInput struct {
	ID string
}

// PublishOutput contains the result of the Publish operation.
type PublishOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Path   string `json:"path"`
	Mode   string `json:"mode"`
}

// Publish exports a capture into the vault inbox. Ready captures are
// written as full artifacts; failed_enrichment captures as placeholders.
// A capture whose content hash matches an already-published capture is
// skipped as a content duplicate, recording an audit row that points at
// the surviving artifact. Re-publishing an already-terminal capture
// appends a duplicate_skip audit row and changes nothing else.
func Publish(ctx context.Context, database *sql.DB, cfg *config.Config, input PublishInput) (*PublishOutput, error) {
	c, err := db.GetCapture(database, input.ID)
	if err != nil {
		return nil, err
	}

	p := &publish.Publisher{
		DB:          database,
		VaultRoot:   cfg.VaultRoot,
		InboxSubdir: cfg.InboxSubdir,
	}

	if c.Status.Terminal() {
		return recordRetry(database, p, c)
	}
	if c.Quarantined {
		return nil, errors.NewQuarantined(c.ID)
	}

	switch c.Status {
	case capture.StatusFailedEnrichment:
		return publishPlaceholder(database, p, c)
	case capture.StatusStaged:
		// Inline captures whose hash was pinned at staging skip the
		// enrichment leg entirely.
		if c.ContentHash == nil {
			return nil, errors.NewInvalidRequest("capture " + c.ID + " has no content hash; enrich it before publishing")
		}
		if err := db.UpdateStatus(database, c.ID, capture.StatusStaged, capture.StatusReady); err != nil {
			return nil, err
		}
	case capture.StatusReady:
		if c.ContentHash == nil {
			return nil, errors.NewInternal(fmt.Errorf("ready capture %s has no content hash", c.ID))
		}
	default:
		return nil, errors.NewStateViolation(c.ID, string(c.Status), string(capture.StatusPublished))
	}

	contentHash := *c.ContentHash

	original, err := db.FindPublishedByContentHash(database, contentHash, c.ID)
	if err != nil {
		return nil, err
	}
	if original != nil {
		res, err := p.RecordDuplicate(c, p.FinalPath(original.ID), contentHash, capture.StatusReady)
		if err != nil {
			return nil, err
		}
		logger.Named("publish").Info().
			Str("id", c.ID).
			Str("duplicate_of", original.ID).
			Msg("content duplicate skipped")
		return &PublishOutput{
			ID:     c.ID,
			Status: string(capture.StatusPublishedDuplicate),
			Path:   res.Path,
			Mode:   res.Mode,
		}, nil
	}

	res, err := p.Publish(publish.Request{
		Capture: c,
		Body:    c.RawContent,
		Hash:    contentHash,
		From:    capture.StatusReady,
		To:      capture.StatusPublished,
		Mode:    db.ExportModeInitial,
	})
	if err != nil {
		return nil, notePublishFailure(database, c.ID, err)
	}

	logger.Named("publish").Info().Str("id", c.ID).Str("path", res.Path).Bool("resumed", res.Resumed).Msg("capture published")
	return &PublishOutput{
		ID:     c.ID,
		Status: string(capture.StatusPublished),
		Path:   res.Path,
		Mode:   res.Mode,
	}, nil
}

func publishPlaceholder(database *sql.DB, p *publish.Publisher, c *capture.Capture) (*PublishOutput, error) {
	res, err := p.Publish(publish.Request{
		Capture: c,
		Body:    capture.PlaceholderBody,
		Hash:    "",
		From:    capture.StatusFailedEnrichment,
		To:      capture.StatusPublishedPlaceholder,
		Mode:    db.ExportModePlaceholder,
	})
	if err != nil {
		return nil, notePublishFailure(database, c.ID, err)
	}
	logger.Named("publish").Info().Str("id", c.ID).Str("path", res.Path).Msg("placeholder published")
	return &PublishOutput{
		ID:     c.ID,
		Status: string(capture.StatusPublishedPlaceholder),
		Path:   res.Path,
		Mode:   res.Mode,
	}, nil
}

// recordRetry answers a re-publish of a terminal capture: an appended
// duplicate_skip audit row pointing wherever the original export went.
func recordRetry(database *sql.DB, p *publish.Publisher, c *capture.Capture) (*PublishOutput, error) {
	path := p.FinalPath(c.ID)
	audits, err := db.AuditsForCapture(database, c.ID)
	if err != nil {
		return nil, err
	}
	if len(audits) > 0 {
		path = audits[len(audits)-1].OutputPath
	}

	contentHash := ""
	if c.ContentHash != nil {
		contentHash = *c.ContentHash
	}
	res, err := p.RecordRetry(c, path, contentHash)
	if err != nil {
		return nil, err
	}
	logger.Named("publish").Info().Str("id", c.ID).Msg("re-publish of terminal capture recorded")
	return &PublishOutput{
		ID:     c.ID,
		Status: string(c.Status),
		Path:   res.Path,
		Mode:   res.Mode,
	}, nil
}

// notePublishFailure records a failed export in the error log. An
// integrity violation additionally quarantines the capture, because the
// vault and ledger disagree and only a human can decide which is right.
// The original publish failure is always what the caller sees; bookkeeping
// failures are logged, never allowed to mask it.
func notePublishFailure(database *sql.DB, id string, err error) error {
	if logErr := db.LogError(database, id, "publish", err.Error()); logErr != nil {
		logger.Named("publish").Error().Err(logErr).Str("id", id).Msg("could not record publish failure")
	}
	if errors.Is(err, errors.ErrIntegrityViolation) {
		if qErr := db.SetQuarantined(database, id, true); qErr != nil {
			logger.Named("publish").Error().Err(qErr).Str("id", id).Msg("could not quarantine capture after artifact collision")
		} else {
			logger.Named("publish").Error().Str("id", id).Msg("capture quarantined: artifact collision with different content")
		}
	}
	return err
}
