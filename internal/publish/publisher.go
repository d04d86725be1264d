package publish

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/db"
	"github.com/inlet-sh/inlet/internal/errors"
)

// tempPrefix marks in-flight artifact files. Recovery sweeps any file
// carrying it, because a temp that survived a restart belongs to no
// live publish.
const tempPrefix = "."

const tempSuffix = ".tmp"

// Hooks are fault-injection points inside the publish sequence. A hook
// returning an error aborts the publish at exactly that point, leaving
// the filesystem and ledger in whatever state the preceding steps
// produced. Production code leaves them nil.
type Hooks struct {
	PreWrite   func() error
	PreSync    func() error
	PreRename  func() error
	PreDirSync func() error
	PreAudit   func() error
}

// Publisher writes artifacts into the vault inbox with crash-safe
// ordering: temp file, fsync, rename, directory fsync, then the audit
// row and terminal transition in one ledger transaction. Visibility of
// the final filename is the commit point for the file itself; the
// ledger only records success after the bytes are durable under the
// final name.
type Publisher struct {
	DB          *sql.DB
	VaultRoot   string
	InboxSubdir string
	Hooks       Hooks
}

// Request describes one publish attempt.
type Request struct {
	Capture *capture.Capture
	// Body is the artifact body to write beneath the header.
	Body string
	// Hash is the content hash recorded in the header; empty for
	// placeholder artifacts.
	Hash string
	From capture.Status
	To   capture.Status
	Mode db.ExportMode
}

// Result reports what a publish attempt did.
type Result struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	// Resumed is true when the artifact was already on disk from an
	// earlier attempt that crashed before the ledger committed, and
	// this call only completed the bookkeeping.
	Resumed bool `json:"resumed"`
}

// InboxDir returns the directory artifacts are published into.
func (p *Publisher) InboxDir() string {
	return filepath.Join(p.VaultRoot, p.InboxSubdir)
}

// FinalPath returns the permanent artifact path for a capture id.
func (p *Publisher) FinalPath(id string) string {
	return filepath.Join(p.InboxDir(), id+capture.ArtifactExt)
}

// TempPath returns the in-flight path for a capture id. The name is
// deterministic so a retry overwrites its own leftover rather than
// accumulating temp files.
func (p *Publisher) TempPath(id string) string {
	return filepath.Join(p.InboxDir(), tempPrefix+id+capture.ArtifactExt+tempSuffix)
}

// Publish runs the full crash-safe export sequence for one capture.
// If the final path already holds an identical artifact from a crashed
// earlier attempt, the file steps are skipped and only the ledger
// commit runs. If the final path holds different bytes under the same
// id, publishing halts with an integrity violation and nothing is
// modified.
func (p *Publisher) Publish(req Request) (*Result, error) {
	c := req.Capture
	finalPath := p.FinalPath(c.ID)
	tempPath := p.TempPath(c.ID)

	artifact := capture.RenderArtifact(capture.ArtifactHeader{
		ID:       c.ID,
		Source:   c.Source,
		Captured: c.CreatedAt,
		Hash:     req.Hash,
	}, req.Body)

	resumed, err := p.resolveCollision(c.ID, finalPath, req.Hash)
	if err != nil {
		return nil, err
	}

	if !resumed {
		if err := os.MkdirAll(p.InboxDir(), 0700); err != nil {
			return nil, classifyFSErr(fmt.Errorf("failed to create inbox directory: %w", err))
		}
		if err := p.writeArtifact(tempPath, finalPath, artifact); err != nil {
			return nil, err
		}
	}

	if err := runHook(p.Hooks.PreAudit); err != nil {
		return nil, err
	}

	audit := &db.ExportAudit{
		CaptureID:   c.ID,
		OutputPath:  finalPath,
		ContentHash: nullableHash(req.Hash),
		Mode:        req.Mode,
	}
	if err := db.FinalizeExport(p.DB, audit, req.From, req.To); err != nil {
		return nil, err
	}

	return &Result{Path: finalPath, Mode: string(req.Mode), Resumed: resumed}, nil
}

// RecordDuplicate finishes a publish that resolved to an existing
// artifact: no file is written, the capture transitions to
// published_duplicate, and the audit row points at the surviving
// artifact's path.
func (p *Publisher) RecordDuplicate(c *capture.Capture, originalPath, hash string, from capture.Status) (*Result, error) {
	if err := runHook(p.Hooks.PreAudit); err != nil {
		return nil, err
	}
	audit := &db.ExportAudit{
		CaptureID:   c.ID,
		OutputPath:  originalPath,
		ContentHash: nullableHash(hash),
		Mode:        db.ExportModeDuplicateSkip,
	}
	if err := db.FinalizeExport(p.DB, audit, from, capture.StatusPublishedDuplicate); err != nil {
		return nil, err
	}
	return &Result{Path: originalPath, Mode: string(db.ExportModeDuplicateSkip)}, nil
}

// RecordRetry appends a duplicate_skip audit row for a re-publish of a
// capture that is already terminal. The capture row is untouched.
func (p *Publisher) RecordRetry(c *capture.Capture, originalPath, hash string) (*Result, error) {
	if err := runHook(p.Hooks.PreAudit); err != nil {
		return nil, err
	}
	audit := &db.ExportAudit{
		CaptureID:   c.ID,
		OutputPath:  originalPath,
		ContentHash: nullableHash(hash),
		Mode:        db.ExportModeDuplicateSkip,
	}
	if err := db.InsertAudit(p.DB, audit); err != nil {
		return nil, err
	}
	return &Result{Path: originalPath, Mode: string(db.ExportModeDuplicateSkip)}, nil
}

// SweepTemps removes leftover in-flight files from the inbox and
// returns how many it deleted. Only names matching the publisher's own
// temp pattern are touched.
func (p *Publisher) SweepTemps() (int, error) {
	entries, err := os.ReadDir(p.InboxDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, classifyFSErr(err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if len(name) < len(tempPrefix)+len(tempSuffix) ||
			name[:len(tempPrefix)] != tempPrefix ||
			name[len(name)-len(tempSuffix):] != tempSuffix {
			continue
		}
		if err := os.Remove(filepath.Join(p.InboxDir(), name)); err != nil {
			return removed, classifyFSErr(err)
		}
		removed++
	}
	return removed, nil
}

// resolveCollision decides what an existing file under the capture's
// final name means. Identical id and hash in the header is a crashed
// prior attempt and the publish resumes past the file steps. Anything
// else under that name means the vault and ledger disagree, and the
// publish halts rather than guess.
func (p *Publisher) resolveCollision(id, finalPath, wantHash string) (bool, error) {
	data, err := os.ReadFile(finalPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, classifyFSErr(err)
	}

	hdr, parseErr := capture.ParseArtifactHeader(data)
	if parseErr != nil || hdr.ID != id || hdr.Hash != wantHash {
		got := "unparseable header"
		if parseErr == nil {
			got = fmt.Sprintf("id %s hash %q", hdr.ID, hdr.Hash)
		}
		return false, errors.NewIntegrityViolation(id, finalPath, wantHash, got)
	}
	return true, nil
}

// writeArtifact performs the file half of a publish: temp write, fsync,
// rename into place, directory fsync. Any filesystem failure removes
// the temp and leaves the final name untouched.
func (p *Publisher) writeArtifact(tempPath, finalPath string, artifact []byte) error {
	if err := runHook(p.Hooks.PreWrite); err != nil {
		return err
	}

	file, err := openArtifactFile(tempPath)
	if err != nil {
		return classifyFSErr(fmt.Errorf("failed to create temp artifact: %w", err))
	}

	// Hook failures model a crash and leave the temp behind for the
	// recovery sweep; real filesystem failures clean up after
	// themselves.
	success := false
	crashed := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success && !crashed {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(artifact); err != nil {
		return classifyFSErr(fmt.Errorf("failed to write artifact: %w", err))
	}

	if err := runHook(p.Hooks.PreSync); err != nil {
		crashed = true
		return err
	}
	if err := file.Sync(); err != nil {
		return classifyFSErr(fmt.Errorf("failed to sync artifact: %w", err))
	}

	// Close before rename (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return classifyFSErr(fmt.Errorf("failed to close temp artifact: %w", err))
	}
	file = nil

	if err := runHook(p.Hooks.PreRename); err != nil {
		crashed = true
		return err
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return classifyFSErr(fmt.Errorf("failed to finalize artifact: %w", err))
	}
	success = true

	if err := runHook(p.Hooks.PreDirSync); err != nil {
		return err
	}
	if err := syncDir(p.InboxDir()); err != nil {
		return classifyFSErr(fmt.Errorf("failed to sync inbox directory: %w", err))
	}
	return nil
}

func runHook(h func() error) error {
	if h == nil {
		return nil
	}
	return h()
}

func nullableHash(hash string) *string {
	if hash == "" {
		return nil
	}
	return &hash
}
