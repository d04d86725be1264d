package ingest

import (
	"context"
	"database/sql"
	"strings"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/logger"
)

// cursorKey namespaces adapter cursors inside the app_state table.
func cursorKey(source capture.Source) string {
	return "cursor:" + string(source)
}

// CursorGetInput contains parameters for the CursorGet operation.
type CursorGetInput struct {
	Source string
}

// CursorGetOutput contains the result of the CursorGet operation.
type CursorGetOutput struct {
	Source string `json:"source"`
	Cursor string `json:"cursor"`
}

// CursorGet returns the stored resume position for a channel adapter.
// A source with no stored cursor yields the empty cursor, meaning the
// adapter starts from the beginning of its channel.
func CursorGet(ctx context.Context, database *sql.DB, cfg *config.Config, input CursorGetInput) (*CursorGetOutput, error) {
	src, ok := capture.ParseSource(strings.TrimSpace(input.Source))
	if !ok {
		return nil, errors.NewInvalidRequest("source must be one of: voice, email")
	}

	value, err := db.GetState(database, cursorKey(src))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return &CursorGetOutput{Source: string(src), Cursor: ""}, nil
		}
		return nil, err
	}
	return &CursorGetOutput{Source: string(src), Cursor: value}, nil
}

// CursorSetInput contains parameters for the CursorSet operation.
type CursorSetInput struct {
	Source string
	Cursor string
}

// CursorSetOutput contains the result of the CursorSet operation.
type CursorSetOutput struct {
	Source string `json:"source"`
	Cursor string `json:"cursor"`
}

// CursorSet records how far a channel adapter has read. Adapters advance
// their cursor only after the captures behind it are safely in the
// ledger, so a crash re-reads rather than skips.
func CursorSet(ctx context.Context, database *sql.DB, cfg *config.Config, input CursorSetInput) (*CursorSetOutput, error) {
	src, ok := capture.ParseSource(strings.TrimSpace(input.Source))
	if !ok {
		return nil, errors.NewInvalidRequest("source must be one of: voice, email")
	}
	cursor := strings.TrimSpace(input.Cursor)
	if cursor == "" {
		return nil, errors.NewInvalidRequest("cursor is required")
	}

	if err := db.SetState(database, cursorKey(src), cursor); err != nil {
		return nil, err
	}

	logger.Named("cursor").Debug().Str("source", string(src)).Str("cursor", cursor).Msg("cursor advanced")
	return &CursorSetOutput{Source: string(src), Cursor: cursor}, nil
}
