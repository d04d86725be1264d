package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions. Names follow the "capture_<action>" pattern; the
// descriptions are what an MCP client shows its user, so they describe
// outcomes, not internals.

var ingestToolDef = mcp.NewTool("capture_ingest",
	mcp.WithDescription("Admit a capture envelope into the staging ledger. Returns the capture id. Rejects identity duplicates and malformed envelopes."),
	mcp.WithString("source", mcp.Required(), mcp.Description("Origin channel: voice or email")),
	mcp.WithString("channel_native_id", mcp.Required(), mcp.Description("Channel-supplied identifier (message id, file path)")),
	mcp.WithString("raw_content", mcp.Description("Inline text body, if the channel delivers text")),
	mcp.WithString("external_ref", mcp.Description("Path to an out-of-band artifact (e.g. an audio file); referenced, never copied")),
	mcp.WithString("external_fingerprint", mcp.Description("Adapter-computed hex fingerprint of the external artifact")),
	mcp.WithNumber("size_bytes", mcp.Description("External artifact size as reported by the adapter")),
	mcp.WithObject("metadata", mcp.Description("Adapter-supplied key/value pairs; participates in the content's canonical form")),
	mcp.WithString("id", mcp.Description("Pre-assigned ULID; omit to let the ledger assign one")),
)

var publishToolDef = mcp.NewTool("capture_publish",
	mcp.WithDescription("Export a capture into the vault inbox as a durable artifact. Content duplicates are skipped with an audit pointing at the surviving artifact; re-publishing a finished capture only appends an audit row."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capture ULID")),
)

var pendingToolDef = mcp.NewTool("capture_pending",
	mcp.WithDescription("List unfinished captures oldest-first, optionally narrowed to one lifecycle status."),
	mcp.WithString("status", mcp.Description("Lifecycle status filter (discovered, verified, staged, enriching, ready, failed_enrichment)")),
	mcp.WithNumber("limit", mcp.Description("Maximum captures to return (default 50, max 500)")),
)

var showToolDef = mcp.NewTool("capture_show",
	mcp.WithDescription("Show one capture with its derived pipeline state and full export history."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capture ULID")),
	mcp.WithBoolean("with_content", mcp.Description("Include the raw body, which can be large")),
)

var auditsToolDef = mcp.NewTool("capture_audits",
	mcp.WithDescription("Return a capture's append-only export audit trail."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capture ULID")),
)

var errorsToolDef = mcp.NewTool("capture_errors",
	mcp.WithDescription("Return recent pipeline errors grouped by stage (verify, stage, enrich, publish)."),
	mcp.WithNumber("per_stage", mcp.Description("Entries per stage (default 10)")),
)

var statsToolDef = mcp.NewTool("capture_stats",
	mcp.WithDescription("Report ledger occupancy per status and the backlog against the backpressure threshold."),
)

var recoverToolDef = mcp.NewTool("capture_recover",
	mcp.WithDescription("Run one recovery pass: sweep orphaned temp files and re-drive every unfinished capture one step toward completion."),
	mcp.WithBoolean("dry_run", mcp.Description("Report what the pass would do without changing anything")),
)

var cursorGetToolDef = mcp.NewTool("capture_cursor_get",
	mcp.WithDescription("Read a channel adapter's stored resume position."),
	mcp.WithString("source", mcp.Required(), mcp.Description("Origin channel: voice or email")),
)

var cursorSetToolDef = mcp.NewTool("capture_cursor_set",
	mcp.WithDescription("Advance a channel adapter's resume position. Set only after the captures behind it are safely in the ledger."),
	mcp.WithString("source", mcp.Required(), mcp.Description("Origin channel: voice or email")),
	mcp.WithString("cursor", mcp.Required(), mcp.Description("Opaque adapter-defined position")),
)
