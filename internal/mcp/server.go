package mcp

import (
	"context"
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/inlet-sh/inlet/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capture_ingest": {
		def:     ingestToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIngest },
	},
	"capture_publish": {
		def:     publishToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePublish },
	},
	"capture_pending": {
		def:     pendingToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePending },
	},
	"capture_show": {
		def:     showToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleShow },
	},
	"capture_audits": {
		def:     auditsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAudits },
	},
	"capture_errors": {
		def:     errorsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleErrors },
	},
	"capture_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"capture_recover": {
		def:     recoverToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecover },
	},
	"capture_cursor_get": {
		def:     cursorGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCursorGet },
	},
	"capture_cursor_set": {
		def:     cursorSetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCursorSet },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with inlet tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"inlet",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, version string) error {
	s := NewServer(db, cfg, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
