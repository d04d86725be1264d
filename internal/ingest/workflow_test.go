package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
)

// TestFullWorkflow exercises the complete capture lifecycle:
// ingest → verify → stage → enrich → publish → query → cursor → sweep
func TestFullWorkflow(t *testing.T) {
	database, cfg := testEnv(t)
	ctx := context.Background()

	// 1. Ingest an external voice capture.
	ref := writeExternalArtifact(t, "voice memo bytes")
	ingested, err := Ingest(ctx, database, cfg, IngestInput{Envelope: capture.Envelope{
		Source:          string(capture.SourceVoice),
		ExternalRef:     &ref,
		ChannelNativeID: "wf-memo-1",
	}})
	require.NoError(t, err)
	id := ingested.ID

	// 2. Verify and stage.
	_, err = Verify(ctx, database, cfg, VerifyInput{ID: id})
	require.NoError(t, err)
	stageOut, err := Stage(ctx, database, cfg, StageInput{ID: id})
	require.NoError(t, err)
	require.NotNil(t, stageOut.Fingerprint)
	require.Nil(t, stageOut.ContentHash)

	// 3. Pending shows it waiting on enrichment.
	pending, err := Pending(ctx, database, cfg, PendingInput{})
	require.NoError(t, err)
	require.Equal(t, 1, pending.Count)
	require.Equal(t, string(capture.IngestStatePending), pending.Captures[0].IngestState)

	// 4. Enrich.
	_, err = BeginEnrichment(ctx, database, cfg, BeginEnrichmentInput{ID: id})
	require.NoError(t, err)
	enriched, err := CompleteEnrichment(ctx, database, cfg, CompleteEnrichmentInput{
		ID:   id,
		Text: "pick up the dry cleaning on Thursday",
	})
	require.NoError(t, err)
	require.NotEmpty(t, enriched.ContentHash)

	// 5. Publish.
	published, err := Publish(ctx, database, cfg, PublishInput{ID: id})
	require.NoError(t, err)
	require.Equal(t, string(db.ExportModeInitial), published.Mode)
	data, err := os.ReadFile(published.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), "pick up the dry cleaning")

	// 6. Show and Audits agree.
	shown, err := Show(ctx, database, cfg, ShowInput{ID: id, WithContent: true})
	require.NoError(t, err)
	require.Equal(t, string(capture.StatusPublished), shown.Capture.Status)
	require.Equal(t, string(capture.IngestStateDone), shown.Capture.IngestState)
	require.Equal(t, "pick up the dry cleaning on Thursday", shown.RawContent)
	require.Len(t, shown.Audits, 1)

	auditsOut, err := Audits(ctx, database, cfg, AuditsInput{ID: id})
	require.NoError(t, err)
	require.Len(t, auditsOut.Audits, 1)
	require.Equal(t, db.ExportModeInitial, auditsOut.Audits[0].Mode)

	// 7. Stats reflect one terminal capture, zero backlog.
	stats, err := Stats(ctx, database, cfg, StatsInput{})
	require.NoError(t, err)
	require.Equal(t, 0, stats.NonTerminal)
	require.Equal(t, 1, stats.ByStatus[string(capture.StatusPublished)])

	// 8. The adapter advances its cursor past the delivered envelope.
	cur, err := CursorGet(ctx, database, cfg, CursorGetInput{Source: "voice"})
	require.NoError(t, err)
	require.Empty(t, cur.Cursor)
	_, err = CursorSet(ctx, database, cfg, CursorSetInput{Source: "voice", Cursor: "wf-memo-1"})
	require.NoError(t, err)
	cur, err = CursorGet(ctx, database, cfg, CursorGetInput{Source: "voice"})
	require.NoError(t, err)
	require.Equal(t, "wf-memo-1", cur.Cursor)

	// Cursors are per-source.
	other, err := CursorGet(ctx, database, cfg, CursorGetInput{Source: "email"})
	require.NoError(t, err)
	require.Empty(t, other.Cursor)

	// 9. Ledger health and snapshot.
	check, err := Check(ctx, database, cfg, CheckInput{})
	require.NoError(t, err)
	require.True(t, check.OK)

	snapDir := t.TempDir()
	snap, err := Snapshot(ctx, database, cfg, SnapshotInput{Path: filepath.Join(snapDir, "wf.db")})
	require.NoError(t, err)
	require.FileExists(t, snap.Path)

	// 10. The fresh capture survives a retention sweep.
	swept, err := Sweep(ctx, database, cfg, SweepInput{})
	require.NoError(t, err)
	require.Zero(t, swept.Removed)
	_, err = db.GetCapture(database, id)
	require.NoError(t, err)

	// Aged past the floor, it is removed along with its audits.
	ageCapture(t, database, id, int64(cfg.RetentionDays+1)*24*3600)
	swept, err = Sweep(ctx, database, cfg, SweepInput{})
	require.NoError(t, err)
	require.EqualValues(t, 1, swept.Removed)
	_, err = db.GetCapture(database, id)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCursorValidation(t *testing.T) {
	database, cfg := testEnv(t)
	ctx := context.Background()

	_, err := CursorGet(ctx, database, cfg, CursorGetInput{Source: "fax"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = CursorSet(ctx, database, cfg, CursorSetInput{Source: "voice", Cursor: "   "})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
