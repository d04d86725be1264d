// Package ingest implements the capture pipeline operations: admission,
// verification, staging, enrichment bookkeeping, publishing, and the
// recovery scan. Every operation is idempotent against the ledger so any
// of them can be re-driven after a crash.
package ingest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/logger"
)

// IngestInput contains parameters for the Ingest operation.
type IngestInput struct {
	Envelope capture.Envelope
}

// IngestOutput contains the result of the Ingest operation.
type IngestOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Ingest admits one adapter envelope into the ledger as a discovered
// capture. Identity duplicates (same source and channel-native id) are
// rejected; the caller treats that as successful delivery of an envelope
// it already handed over.
func Ingest(ctx context.Context, database *sql.DB, cfg *config.Config, input IngestInput) (*IngestOutput, error) {
	env := &input.Envelope
	if err := capture.ValidateEnvelope(env); err != nil {
		return nil, err
	}

	src, ok := capture.ParseSource(env.Source)
	if !ok {
		return nil, errors.NewInvalidRequest("source must be one of: voice, email")
	}

	pending, err := db.CountNonTerminal(database)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPending > 0 && pending >= cfg.MaxPending {
		return nil, errors.NewBackpressure(pending, cfg.MaxPending)
	}

	id := env.ID
	if id == "" {
		generated, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		id = generated.String()
	}

	now := time.Now().Unix()
	c := &capture.Capture{
		ID:              id,
		Source:          src,
		RawContent:      env.RawContent,
		ExternalRef:     cleanOptionalString(env.ExternalRef),
		SizeBytes:       env.SizeBytes,
		Status:          capture.StatusDiscovered,
		ChannelNativeID: env.ChannelNativeID,
		Metadata:        env.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if env.ExternalFingerprint != nil && strings.TrimSpace(*env.ExternalFingerprint) != "" {
		fp := strings.ToLower(strings.TrimSpace(*env.ExternalFingerprint))
		c.ExternalFingerprint = &fp
	}

	if err := db.InsertCapture(database, c); err != nil {
		return nil, err
	}

	logger.Named("ingest").Info().
		Str("id", c.ID).
		Str("source", string(c.Source)).
		Str("channel_native_id", c.ChannelNativeID).
		Msg("capture admitted")

	return &IngestOutput{ID: c.ID, Status: string(c.Status)}, nil
}

func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
