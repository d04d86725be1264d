package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/ingest"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// Request types for each tool

// IngestRequest represents the arguments for capture_ingest.
type IngestRequest struct {
	ID                  string            `json:"id,omitempty"`
	Source              string            `json:"source"`
	RawContent          string            `json:"raw_content,omitempty"`
	ExternalRef         *string           `json:"external_ref,omitempty"`
	ExternalFingerprint *string           `json:"external_fingerprint,omitempty"`
	SizeBytes           *int64            `json:"size_bytes,omitempty"`
	ChannelNativeID     string            `json:"channel_native_id"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// PublishRequest represents the arguments for capture_publish.
type PublishRequest struct {
	ID string `json:"id"`
}

// PendingRequest represents the arguments for capture_pending.
type PendingRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ShowRequest represents the arguments for capture_show.
type ShowRequest struct {
	ID          string `json:"id"`
	WithContent bool   `json:"with_content,omitempty"`
}

// AuditsRequest represents the arguments for capture_audits.
type AuditsRequest struct {
	ID string `json:"id"`
}

// ErrorsRequest represents the arguments for capture_errors.
type ErrorsRequest struct {
	PerStage int `json:"per_stage,omitempty"`
}

// RecoverRequest represents the arguments for capture_recover.
type RecoverRequest struct {
	DryRun bool `json:"dry_run,omitempty"`
}

// CursorGetRequest represents the arguments for capture_cursor_get.
type CursorGetRequest struct {
	Source string `json:"source"`
}

// CursorSetRequest represents the arguments for capture_cursor_set.
type CursorSetRequest struct {
	Source string `json:"source"`
	Cursor string `json:"cursor"`
}

// Handler implementations

// HandleIngest handles the capture_ingest tool call.
func (h *Handlers) HandleIngest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[IngestRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.Ingest(ctx, h.db, h.cfg, ingest.IngestInput{Envelope: capture.Envelope{
		ID:                  input.ID,
		Source:              input.Source,
		RawContent:          input.RawContent,
		ExternalRef:         input.ExternalRef,
		ExternalFingerprint: input.ExternalFingerprint,
		SizeBytes:           input.SizeBytes,
		ChannelNativeID:     input.ChannelNativeID,
		Metadata:            input.Metadata,
	}})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePublish handles the capture_publish tool call.
func (h *Handlers) HandlePublish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[PublishRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.Publish(ctx, h.db, h.cfg, ingest.PublishInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePending handles the capture_pending tool call.
func (h *Handlers) HandlePending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[PendingRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.Pending(ctx, h.db, h.cfg, ingest.PendingInput{
		Status: input.Status,
		Limit:  input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleShow handles the capture_show tool call.
func (h *Handlers) HandleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[ShowRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.Show(ctx, h.db, h.cfg, ingest.ShowInput{
		ID:          input.ID,
		WithContent: input.WithContent,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleAudits handles the capture_audits tool call.
func (h *Handlers) HandleAudits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[AuditsRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.Audits(ctx, h.db, h.cfg, ingest.AuditsInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleErrors handles the capture_errors tool call.
func (h *Handlers) HandleErrors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[ErrorsRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.RecentErrors(ctx, h.db, h.cfg, ingest.RecentErrorsInput{PerStage: input.PerStage})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStats handles the capture_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ingest.Stats(ctx, h.db, h.cfg, ingest.StatsInput{})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRecover handles the capture_recover tool call.
func (h *Handlers) HandleRecover(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[RecoverRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.Recover(ctx, h.db, h.cfg, ingest.RecoverInput{DryRun: input.DryRun})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCursorGet handles the capture_cursor_get tool call.
func (h *Handlers) HandleCursorGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[CursorGetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.CursorGet(ctx, h.db, h.cfg, ingest.CursorGetInput{Source: input.Source})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleCursorSet handles the capture_cursor_set tool call.
func (h *Handlers) HandleCursorSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeArgs[CursorSetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ingest.CursorSet(ctx, h.db, h.cfg, ingest.CursorSetInput{
		Source: input.Source,
		Cursor: input.Cursor,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// errorResult creates an MCP error result from any error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if inletErr, ok := err.(*errors.InletError); ok {
		errorObj := map[string]any{
			"code":      inletErr.Code,
			"message":   inletErr.Message,
			"status":    inletErr.Status,
			"retriable": inletErr.Retriable(),
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if inletErr.Code != errors.ErrInternal && inletErr.Details != nil {
			errorObj["details"] = inletErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":      "INTERNAL",
				"message":   "an internal error occurred",
				"status":    500,
				"retriable": false,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
