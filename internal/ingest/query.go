package ingest

import (
	"context"
	"database/sql"
	"strings"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
)

// Pagination limits for read operations.
const (
	DefaultPendingLimit = 50
	MaxPendingLimit     = 500
)

// CaptureView is the read-side projection of a capture: persisted fields
// plus the derived pipeline state.
type CaptureView struct {
	ID                  string            `json:"id"`
	Source              string            `json:"source"`
	Status              string            `json:"status"`
	IngestState         string            `json:"ingest_state"`
	Quarantined         bool              `json:"quarantined,omitempty"`
	ContentHash         *string           `json:"content_hash,omitempty"`
	ExternalRef         *string           `json:"external_ref,omitempty"`
	ExternalFingerprint *string           `json:"external_fingerprint,omitempty"`
	SizeBytes           *int64            `json:"size_bytes,omitempty"`
	ChannelNativeID     string            `json:"channel_native_id"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           int64             `json:"created_at"`
	UpdatedAt           int64             `json:"updated_at"`
}

func viewOf(c *capture.Capture) *CaptureView {
	return &CaptureView{
		ID:                  c.ID,
		Source:              string(c.Source),
		Status:              string(c.Status),
		IngestState:         string(capture.DerivedIngestState(c)),
		Quarantined:         c.Quarantined,
		ContentHash:         c.ContentHash,
		ExternalRef:         c.ExternalRef,
		ExternalFingerprint: c.ExternalFingerprint,
		SizeBytes:           c.SizeBytes,
		ChannelNativeID:     c.ChannelNativeID,
		Metadata:            c.Metadata,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

// PendingInput contains parameters for the Pending operation.
type PendingInput struct {
	// Status optionally narrows the listing to one lifecycle status.
	Status string
	Limit  int
}

// PendingOutput contains the result of the Pending operation.
type PendingOutput struct {
	Captures []*CaptureView `json:"captures"`
	Count    int            `json:"count"`
}

// Pending lists non-terminal captures oldest-first, the same order the
// recovery scan drives them.
func Pending(ctx context.Context, database *sql.DB, cfg *config.Config, input PendingInput) (*PendingOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	if limit > MaxPendingLimit {
		limit = MaxPendingLimit
	}

	var (
		captures []*capture.Capture
		err      error
	)
	if s := strings.TrimSpace(input.Status); s != "" {
		status := capture.Status(s)
		if !status.Valid() && !status.Terminal() {
			return nil, errors.NewInvalidRequest("unknown status: " + s)
		}
		captures, err = db.ListByStatus(database, []capture.Status{status}, limit)
	} else {
		captures, err = db.ListNonTerminal(database, limit)
	}
	if err != nil {
		return nil, err
	}

	views := make([]*CaptureView, 0, len(captures))
	for _, c := range captures {
		views = append(views, viewOf(c))
	}
	return &PendingOutput{Captures: views, Count: len(views)}, nil
}

// ShowInput contains parameters for the Show operation.
type ShowInput struct {
	ID string
	// WithContent includes the raw body, which can be large.
	WithContent bool
}

// ShowOutput contains the result of the Show operation.
type ShowOutput struct {
	Capture    *CaptureView      `json:"capture"`
	RawContent string            `json:"raw_content,omitempty"`
	Audits     []*db.ExportAudit `json:"audits,omitempty"`
}

// Show returns one capture with its export history.
func Show(ctx context.Context, database *sql.DB, cfg *config.Config, input ShowInput) (*ShowOutput, error) {
	c, err := db.GetCapture(database, input.ID)
	if err != nil {
		return nil, err
	}
	audits, err := db.AuditsForCapture(database, c.ID)
	if err != nil {
		return nil, err
	}
	out := &ShowOutput{Capture: viewOf(c), Audits: audits}
	if input.WithContent {
		out.RawContent = c.RawContent
	}
	return out, nil
}

// AuditsInput contains parameters for the Audits operation.
type AuditsInput struct {
	ID string
}

// AuditsOutput contains the result of the Audits operation.
type AuditsOutput struct {
	Audits []*db.ExportAudit `json:"audits"`
	Count  int               `json:"count"`
}

// Audits returns a capture's append-only export history.
func Audits(ctx context.Context, database *sql.DB, cfg *config.Config, input AuditsInput) (*AuditsOutput, error) {
	if _, err := db.GetCapture(database, input.ID); err != nil {
		return nil, err
	}
	audits, err := db.AuditsForCapture(database, input.ID)
	if err != nil {
		return nil, err
	}
	return &AuditsOutput{Audits: audits, Count: len(audits)}, nil
}

// RecentErrorsInput contains parameters for the RecentErrors operation.
type RecentErrorsInput struct {
	// PerStage caps how many entries each pipeline stage contributes.
	PerStage int
}

// RecentErrorsOutput contains the result of the RecentErrors operation.
type RecentErrorsOutput struct {
	Errors map[string][]*db.ErrorEntry `json:"errors"`
}

// RecentErrors returns the newest error-log entries grouped by stage.
func RecentErrors(ctx context.Context, database *sql.DB, cfg *config.Config, input RecentErrorsInput) (*RecentErrorsOutput, error) {
	perStage := input.PerStage
	if perStage <= 0 {
		perStage = 10
	}
	entries, err := db.RecentErrorsByStage(database, perStage)
	if err != nil {
		return nil, err
	}
	return &RecentErrorsOutput{Errors: entries}, nil
}

// StatsInput contains parameters for the Stats operation.
type StatsInput struct{}

// StatsOutput contains the result of the Stats operation.
type StatsOutput struct {
	ByStatus    map[string]int `json:"by_status"`
	NonTerminal int            `json:"non_terminal"`
	MaxPending  int            `json:"max_pending"`
}

// Stats reports ledger occupancy against the backpressure threshold.
func Stats(ctx context.Context, database *sql.DB, cfg *config.Config, input StatsInput) (*StatsOutput, error) {
	counts, err := db.CountsByStatus(database)
	if err != nil {
		return nil, err
	}
	pending, err := db.CountNonTerminal(database)
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	return &StatsOutput{ByStatus: byStatus, NonTerminal: pending, MaxPending: cfg.MaxPending}, nil
}
