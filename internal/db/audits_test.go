package db

import (
	"strings"
	"testing"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/errors"
)

func TestFinalizeExport(t *testing.T) {
	db := testDB(t)

	c := newTestCapture(t, capture.SourceEmail, "msg-a1")
	c.Status = capture.StatusReady
	if err := InsertCapture(db, c); err != nil {
		t.Fatalf("InsertCapture failed: %v", err)
	}

	h := strings.Repeat("aa", 32)
	audit := &ExportAudit{
		CaptureID:   c.ID,
		OutputPath:  "/vault/inbox/" + c.ID + ".md",
		ContentHash: &h,
		Mode:        ExportModeInitial,
	}
	if err := FinalizeExport(db, audit, capture.StatusReady, capture.StatusPublished); err != nil {
		t.Fatalf("FinalizeExport failed: %v", err)
	}
	if audit.ID == 0 {
		t.Error("audit ID should be assigned")
	}
	if audit.ExportedAt == 0 {
		t.Error("ExportedAt should be set")
	}

	got, _ := GetCapture(db, c.ID)
	if got.Status != capture.StatusPublished {
		t.Errorf("Status = %s, want published", got.Status)
	}

	audits, err := AuditsForCapture(db, c.ID)
	if err != nil {
		t.Fatalf("AuditsForCapture failed: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("audit count = %d, want 1", len(audits))
	}
	if audits[0].Mode != ExportModeInitial {
		t.Errorf("Mode = %s, want initial", audits[0].Mode)
	}
}

func TestFinalizeExport_IllegalTransitionWritesNothing(t *testing.T) {
	db := testDB(t)

	c := newTestCapture(t, capture.SourceEmail, "msg-a2")
	if err := InsertCapture(db, c); err != nil {
		t.Fatalf("InsertCapture failed: %v", err)
	}

	audit := &ExportAudit{CaptureID: c.ID, OutputPath: "/x", Mode: ExportModeInitial}
	err := FinalizeExport(db, audit, capture.StatusDiscovered, capture.StatusPublished)
	if !errors.Is(err, errors.ErrStateViolation) {
		t.Fatalf("got %v, want STATE_VIOLATION", err)
	}

	audits, _ := AuditsForCapture(db, c.ID)
	if len(audits) != 0 {
		t.Errorf("audit count = %d, want 0 after rejected transition", len(audits))
	}
	got, _ := GetCapture(db, c.ID)
	if got.Status != capture.StatusDiscovered {
		t.Errorf("Status = %s, want discovered (unchanged)", got.Status)
	}
}

func TestInsertAudit_AppendOnlyRetries(t *testing.T) {
	db := testDB(t)

	c := newTestCapture(t, capture.SourceEmail, "msg-a3")
	c.Status = capture.StatusPublished
	if err := InsertCapture(db, c); err != nil {
		t.Fatalf("InsertCapture failed: %v", err)
	}

	path := "/vault/inbox/" + c.ID + ".md"
	for i := 0; i < 3; i++ {
		audit := &ExportAudit{CaptureID: c.ID, OutputPath: path, Mode: ExportModeDuplicateSkip}
		if err := InsertAudit(db, audit); err != nil {
			t.Fatalf("InsertAudit %d failed: %v", i, err)
		}
	}

	counts, err := CountAuditsByMode(db, c.ID)
	if err != nil {
		t.Fatalf("CountAuditsByMode failed: %v", err)
	}
	if counts[ExportModeDuplicateSkip] != 3 {
		t.Errorf("duplicate_skip count = %d, want 3", counts[ExportModeDuplicateSkip])
	}
}

func TestAuditCascadeOnCaptureDelete(t *testing.T) {
	db := testDB(t)

	c := newTestCapture(t, capture.SourceEmail, "msg-a4")
	c.Status = capture.StatusPublished
	if err := InsertCapture(db, c); err != nil {
		t.Fatalf("InsertCapture failed: %v", err)
	}
	audit := &ExportAudit{CaptureID: c.ID, OutputPath: "/x", Mode: ExportModeInitial}
	if err := InsertAudit(db, audit); err != nil {
		t.Fatalf("InsertAudit failed: %v", err)
	}

	if _, err := db.Exec("DELETE FROM captures WHERE id = ?", c.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	audits, err := AuditsForCapture(db, c.ID)
	if err != nil {
		t.Fatalf("AuditsForCapture failed: %v", err)
	}
	if len(audits) != 0 {
		t.Errorf("audit count = %d, want 0 after cascade", len(audits))
	}
}

func TestErrorLog(t *testing.T) {
	db := testDB(t)

	c := newTestCapture(t, capture.SourceVoice, "memo-e1")
	if err := InsertCapture(db, c); err != nil {
		t.Fatalf("InsertCapture failed: %v", err)
	}

	if err := LogError(db, c.ID, "verify", "artifact unreadable"); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}
	if err := LogError(db, c.ID, "verify", "artifact unreadable again"); err != nil {
		t.Fatalf("LogError failed: %v", err)
	}
	if err := LogError(db, "", "ingest", "rejected envelope"); err != nil {
		t.Fatalf("LogError without capture failed: %v", err)
	}

	byStage, err := RecentErrorsByStage(db, 10)
	if err != nil {
		t.Fatalf("RecentErrorsByStage failed: %v", err)
	}
	if len(byStage["verify"]) != 2 {
		t.Errorf("verify entries = %d, want 2", len(byStage["verify"]))
	}
	if len(byStage["ingest"]) != 1 {
		t.Errorf("ingest entries = %d, want 1", len(byStage["ingest"]))
	}
	if byStage["ingest"][0].CaptureID != nil {
		t.Error("ingest entry should have no capture id")
	}
}

func TestAppState(t *testing.T) {
	db := testDB(t)

	if _, err := GetState(db, "gmail.cursor"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing key should return NOT_FOUND, got: %v", err)
	}

	if err := SetState(db, "gmail.cursor", "history-12345"); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	v, err := GetState(db, "gmail.cursor")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if v != "history-12345" {
		t.Errorf("value = %q, want history-12345", v)
	}

	// Upsert.
	if err := SetState(db, "gmail.cursor", "history-12346"); err != nil {
		t.Fatalf("SetState upsert failed: %v", err)
	}
	v, _ = GetState(db, "gmail.cursor")
	if v != "history-12346" {
		t.Errorf("value = %q, want history-12346", v)
	}
}
