package publish

import (
	"crypto/rand"
	"database/sql"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/hash"
)

func testPublisher(t *testing.T) (*sql.DB, *Publisher) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database, &Publisher{
		DB:          database,
		VaultRoot:   t.TempDir(),
		InboxSubdir: "inbox",
	}
}

func stagedCapture(t *testing.T, database *sql.DB, body string) (*capture.Capture, string) {
	t.Helper()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
	now := time.Now().Unix()
	c := &capture.Capture{
		ID:              id,
		Source:          capture.SourceVoice,
		RawContent:      body,
		Status:          capture.StatusDiscovered,
		ChannelNativeID: "native-" + id,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := db.InsertCapture(database, c); err != nil {
		t.Fatalf("InsertCapture failed: %v", err)
	}
	advance(t, database, id, capture.StatusDiscovered, capture.StatusVerified, capture.StatusStaged)

	contentHash := hash.Content(string(c.Source), body, nil)
	if err := db.SetContentHash(database, id, contentHash); err != nil {
		t.Fatalf("SetContentHash failed: %v", err)
	}
	c.Status = capture.StatusStaged
	c.ContentHash = &contentHash
	return c, contentHash
}

func advance(t *testing.T, database *sql.DB, id string, chain ...capture.Status) {
	t.Helper()
	for i := 0; i < len(chain)-1; i++ {
		if err := db.UpdateStatus(database, id, chain[i], chain[i+1]); err != nil {
			t.Fatalf("transition %s -> %s failed: %v", chain[i], chain[i+1], err)
		}
	}
}

func mustStatus(t *testing.T, database *sql.DB, id string, want capture.Status) {
	t.Helper()
	got, err := db.GetCapture(database, id)
	if err != nil {
		t.Fatalf("GetCapture failed: %v", err)
	}
	if got.Status != want {
		t.Fatalf("status = %s, want %s", got.Status, want)
	}
}

func TestPublishWritesArtifact(t *testing.T) {
	database, p := testPublisher(t)
	c, contentHash := stagedCapture(t, database, "buy oat milk")
	advance(t, database, c.ID, capture.StatusStaged, capture.StatusReady)

	res, err := p.Publish(Request{
		Capture: c,
		Body:    c.RawContent,
		Hash:    contentHash,
		From:    capture.StatusReady,
		To:      capture.StatusPublished,
		Mode:    db.ExportModeInitial,
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if res.Resumed {
		t.Error("fresh publish reported resumed")
	}
	if res.Path != p.FinalPath(c.ID) {
		t.Errorf("result path = %s, want %s", res.Path, p.FinalPath(c.ID))
	}

	data, err := os.ReadFile(p.FinalPath(c.ID))
	if err != nil {
		t.Fatalf("reading artifact failed: %v", err)
	}
	hdr, err := capture.ParseArtifactHeader(data)
	if err != nil {
		t.Fatalf("ParseArtifactHeader failed: %v", err)
	}
	if hdr.ID != c.ID || hdr.Source != capture.SourceVoice || hdr.Hash != contentHash {
		t.Errorf("header = %+v", hdr)
	}
	if !strings.Contains(string(data), "buy oat milk") {
		t.Error("artifact body missing")
	}
	if _, err := os.Stat(p.TempPath(c.ID)); !os.IsNotExist(err) {
		t.Error("temp file left behind after publish")
	}

	mustStatus(t, database, c.ID, capture.StatusPublished)

	audits, err := db.AuditsForCapture(database, c.ID)
	if err != nil {
		t.Fatalf("AuditsForCapture failed: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("audit count = %d, want 1", len(audits))
	}
	if audits[0].Mode != db.ExportModeInitial || audits[0].OutputPath != res.Path {
		t.Errorf("audit = %+v", audits[0])
	}
	if audits[0].ContentHash == nil || *audits[0].ContentHash != contentHash {
		t.Errorf("audit hash = %v, want %s", audits[0].ContentHash, contentHash)
	}
}

func TestPublishPlaceholderOmitsHash(t *testing.T) {
	database, p := testPublisher(t)
	c, _ := stagedCapture(t, database, "raw body")
	advance(t, database, c.ID, capture.StatusStaged, capture.StatusEnriching, capture.StatusFailedEnrichment)

	res, err := p.Publish(Request{
		Capture: c,
		Body:    capture.PlaceholderBody,
		Hash:    "",
		From:    capture.StatusFailedEnrichment,
		To:      capture.StatusPublishedPlaceholder,
		Mode:    db.ExportModePlaceholder,
	})
	if err != nil {
		t.Fatalf("placeholder publish failed: %v", err)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("reading placeholder failed: %v", err)
	}
	if strings.Contains(string(data), "hash:") {
		t.Error("placeholder header carries a hash line")
	}
	if !strings.Contains(string(data), capture.PlaceholderBody) {
		t.Error("placeholder body missing")
	}

	mustStatus(t, database, c.ID, capture.StatusPublishedPlaceholder)

	audits, err := db.AuditsForCapture(database, c.ID)
	if err != nil {
		t.Fatalf("AuditsForCapture failed: %v", err)
	}
	if len(audits) != 1 || audits[0].Mode != db.ExportModePlaceholder {
		t.Fatalf("audits = %+v", audits)
	}
	if audits[0].ContentHash != nil {
		t.Errorf("placeholder audit hash = %v, want nil", audits[0].ContentHash)
	}
}

func TestPublishCrashPoints(t *testing.T) {
	injected := stderrors.New("injected crash")

	tests := []struct {
		name      string
		hooks     func(err error) Hooks
		wantFinal bool
		wantTemp  bool
	}{
		{
			name:  "before write",
			hooks: func(err error) Hooks { return Hooks{PreWrite: func() error { return err }} },
		},
		{
			name:     "before sync",
			hooks:    func(err error) Hooks { return Hooks{PreSync: func() error { return err }} },
			wantTemp: true,
		},
		{
			name:     "before rename",
			hooks:    func(err error) Hooks { return Hooks{PreRename: func() error { return err }} },
			wantTemp: true,
		},
		{
			name:      "before dir sync",
			hooks:     func(err error) Hooks { return Hooks{PreDirSync: func() error { return err }} },
			wantFinal: true,
		},
		{
			name:      "before audit",
			hooks:     func(err error) Hooks { return Hooks{PreAudit: func() error { return err }} },
			wantFinal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database, p := testPublisher(t)
			c, contentHash := stagedCapture(t, database, "crash test body")
			advance(t, database, c.ID, capture.StatusStaged, capture.StatusReady)
			p.Hooks = tt.hooks(injected)

			_, err := p.Publish(Request{
				Capture: c,
				Body:    c.RawContent,
				Hash:    contentHash,
				From:    capture.StatusReady,
				To:      capture.StatusPublished,
				Mode:    db.ExportModeInitial,
			})
			if !stderrors.Is(err, injected) {
				t.Fatalf("err = %v, want injected crash", err)
			}

			// The ledger never records a publish that did not finish.
			mustStatus(t, database, c.ID, capture.StatusReady)
			audits, auditErr := db.AuditsForCapture(database, c.ID)
			if auditErr != nil {
				t.Fatalf("AuditsForCapture failed: %v", auditErr)
			}
			if len(audits) != 0 {
				t.Errorf("audit count = %d, want 0", len(audits))
			}

			if _, statErr := os.Stat(p.FinalPath(c.ID)); tt.wantFinal != (statErr == nil) {
				t.Errorf("final file present = %v, want %v", statErr == nil, tt.wantFinal)
			}
			if _, statErr := os.Stat(p.TempPath(c.ID)); tt.wantTemp != (statErr == nil) {
				t.Errorf("temp file present = %v, want %v", statErr == nil, tt.wantTemp)
			}
		})
	}
}

func TestPublishResumesAfterCrashedAudit(t *testing.T) {
	database, p := testPublisher(t)
	c, contentHash := stagedCapture(t, database, "resume me")
	advance(t, database, c.ID, capture.StatusStaged, capture.StatusReady)

	injected := stderrors.New("injected crash")
	p.Hooks = Hooks{PreAudit: func() error { return injected }}

	req := Request{
		Capture: c,
		Body:    c.RawContent,
		Hash:    contentHash,
		From:    capture.StatusReady,
		To:      capture.StatusPublished,
		Mode:    db.ExportModeInitial,
	}
	if _, err := p.Publish(req); !stderrors.Is(err, injected) {
		t.Fatalf("err = %v, want injected crash", err)
	}

	// Retry after "restart": the artifact is already in place, so only
	// the ledger half runs.
	p.Hooks = Hooks{}
	res, err := p.Publish(req)
	if err != nil {
		t.Fatalf("resumed publish failed: %v", err)
	}
	if !res.Resumed {
		t.Error("retry did not report resumed")
	}

	mustStatus(t, database, c.ID, capture.StatusPublished)
	audits, err := db.AuditsForCapture(database, c.ID)
	if err != nil {
		t.Fatalf("AuditsForCapture failed: %v", err)
	}
	if len(audits) != 1 {
		t.Errorf("audit count = %d, want 1", len(audits))
	}
}

func TestPublishIntegrityHalt(t *testing.T) {
	database, p := testPublisher(t)
	c, contentHash := stagedCapture(t, database, "the real content")
	advance(t, database, c.ID, capture.StatusStaged, capture.StatusReady)

	// Same filename, different artifact: the vault disagrees with the
	// ledger and publishing must halt without touching either.
	foreign := capture.RenderArtifact(capture.ArtifactHeader{
		ID:       c.ID,
		Source:   capture.SourceVoice,
		Captured: c.CreatedAt,
		Hash:     strings.Repeat("ab", 32),
	}, "someone else's content")
	if err := os.MkdirAll(p.InboxDir(), 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(p.FinalPath(c.ID), foreign, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := p.Publish(Request{
		Capture: c,
		Body:    c.RawContent,
		Hash:    contentHash,
		From:    capture.StatusReady,
		To:      capture.StatusPublished,
		Mode:    db.ExportModeInitial,
	})
	if !errors.Is(err, errors.ErrIntegrityViolation) {
		t.Fatalf("err = %v, want INTEGRITY_VIOLATION", err)
	}

	mustStatus(t, database, c.ID, capture.StatusReady)
	data, readErr := os.ReadFile(p.FinalPath(c.ID))
	if readErr != nil {
		t.Fatalf("ReadFile failed: %v", readErr)
	}
	if string(data) != string(foreign) {
		t.Error("existing artifact was modified during halt")
	}
	audits, auditErr := db.AuditsForCapture(database, c.ID)
	if auditErr != nil {
		t.Fatalf("AuditsForCapture failed: %v", auditErr)
	}
	if len(audits) != 0 {
		t.Errorf("audit count = %d, want 0", len(audits))
	}
}

func TestPublishAgainstTerminalCapture(t *testing.T) {
	database, p := testPublisher(t)
	c, contentHash := stagedCapture(t, database, "publish twice")
	advance(t, database, c.ID, capture.StatusStaged, capture.StatusReady)

	req := Request{
		Capture: c,
		Body:    c.RawContent,
		Hash:    contentHash,
		From:    capture.StatusReady,
		To:      capture.StatusPublished,
		Mode:    db.ExportModeInitial,
	}
	if _, err := p.Publish(req); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}

	// A second full publish finds the artifact in place but the capture
	// already terminal; callers route this through RecordRetry instead.
	_, err := p.Publish(req)
	if !errors.Is(err, errors.ErrTerminalState) {
		t.Fatalf("err = %v, want TERMINAL_STATE", err)
	}
}

func TestRecordDuplicate(t *testing.T) {
	database, p := testPublisher(t)

	original, contentHash := stagedCapture(t, database, "same words")
	advance(t, database, original.ID, capture.StatusStaged, capture.StatusReady)
	if _, err := p.Publish(Request{
		Capture: original,
		Body:    original.RawContent,
		Hash:    contentHash,
		From:    capture.StatusReady,
		To:      capture.StatusPublished,
		Mode:    db.ExportModeInitial,
	}); err != nil {
		t.Fatalf("original publish failed: %v", err)
	}

	dup, _ := stagedCapture(t, database, "same words (different channel id)")
	advance(t, database, dup.ID, capture.StatusStaged, capture.StatusReady)

	res, err := p.RecordDuplicate(dup, p.FinalPath(original.ID), contentHash, capture.StatusReady)
	if err != nil {
		t.Fatalf("RecordDuplicate failed: %v", err)
	}
	if res.Path != p.FinalPath(original.ID) {
		t.Errorf("duplicate audit path = %s, want original artifact path", res.Path)
	}

	mustStatus(t, database, dup.ID, capture.StatusPublishedDuplicate)
	if _, statErr := os.Stat(p.FinalPath(dup.ID)); !os.IsNotExist(statErr) {
		t.Error("duplicate capture produced its own artifact")
	}

	audits, err := db.AuditsForCapture(database, dup.ID)
	if err != nil {
		t.Fatalf("AuditsForCapture failed: %v", err)
	}
	if len(audits) != 1 || audits[0].Mode != db.ExportModeDuplicateSkip {
		t.Fatalf("audits = %+v", audits)
	}
}

func TestRecordRetryAppendsAudit(t *testing.T) {
	database, p := testPublisher(t)
	c, contentHash := stagedCapture(t, database, "retry body")
	advance(t, database, c.ID, capture.StatusStaged, capture.StatusReady)

	if _, err := p.Publish(Request{
		Capture: c,
		Body:    c.RawContent,
		Hash:    contentHash,
		From:    capture.StatusReady,
		To:      capture.StatusPublished,
		Mode:    db.ExportModeInitial,
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := p.RecordRetry(c, p.FinalPath(c.ID), contentHash); err != nil {
			t.Fatalf("RecordRetry %d failed: %v", i, err)
		}
	}

	mustStatus(t, database, c.ID, capture.StatusPublished)
	counts, err := db.CountAuditsByMode(database, c.ID)
	if err != nil {
		t.Fatalf("CountAuditsByMode failed: %v", err)
	}
	if counts[db.ExportModeInitial] != 1 || counts[db.ExportModeDuplicateSkip] != 3 {
		t.Errorf("audit counts = %v, want 1 initial + 3 duplicate_skip", counts)
	}
}

func TestSweepTemps(t *testing.T) {
	_, p := testPublisher(t)
	if err := os.MkdirAll(p.InboxDir(), 0700); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	keep := filepath.Join(p.InboxDir(), "01ARZ3NDEKTSV4RRFFQ69G5FAV.md")
	if err := os.WriteFile(keep, []byte("published artifact"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	for _, name := range []string{".01AAA.md.tmp", ".01BBB.md.tmp"} {
		if err := os.WriteFile(filepath.Join(p.InboxDir(), name), []byte("orphan"), 0600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	removed, err := p.SweepTemps()
	if err != nil {
		t.Fatalf("SweepTemps failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Error("sweep removed a published artifact")
	}

	// Missing inbox is not an error.
	p.InboxSubdir = "never-created"
	if removed, err := p.SweepTemps(); err != nil || removed != 0 {
		t.Errorf("sweep of missing inbox = (%d, %v), want (0, nil)", removed, err)
	}
}
