package capture

import (
	"fmt"
	"strings"
	"time"
)

// ArtifactExt is the extension of every published artifact.
const ArtifactExt = ".md"

// PlaceholderBody is the immutable body written when enrichment failed
// permanently and the capture is published as a placeholder.
const PlaceholderBody = "Enrichment failed permanently. The original artifact is referenced above and was never modified."

// ArtifactHeader is the fenced header block at the top of a published
// artifact: identifier, source, capture timestamp, and content hash.
type ArtifactHeader struct {
	ID       string
	Source   Source
	Captured int64
	// Hash is empty for placeholder exports.
	Hash string
}

// RenderArtifact produces the full on-disk form of a published artifact:
// a fenced header block followed by the content body. Filenames derive
// only from the id, so the rendered bytes are the sole content carrier.
func RenderArtifact(h ArtifactHeader, body string) []byte {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", h.ID)
	fmt.Fprintf(&b, "source: %s\n", h.Source)
	fmt.Fprintf(&b, "captured: %s\n", time.Unix(h.Captured, 0).UTC().Format(time.RFC3339))
	if h.Hash != "" {
		fmt.Fprintf(&b, "hash: %s\n", h.Hash)
	}
	b.WriteString("---\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// ParseArtifactHeader reads the fenced header back out of rendered artifact
// bytes. The publisher uses this to resolve filename collisions against the
// hash recorded at the previous publish.
func ParseArtifactHeader(data []byte) (*ArtifactHeader, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || lines[0] != "---" {
		return nil, fmt.Errorf("artifact has no header fence")
	}

	h := &ArtifactHeader{}
	closed := false
	for _, line := range lines[1:] {
		if line == "---" {
			closed = true
			break
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		switch key {
		case "id":
			h.ID = value
		case "source":
			h.Source = Source(value)
		case "captured":
			ts, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("malformed captured timestamp %q: %w", value, err)
			}
			h.Captured = ts.Unix()
		case "hash":
			h.Hash = value
		}
	}
	if !closed {
		return nil, fmt.Errorf("artifact header fence never closed")
	}
	if h.ID == "" {
		return nil, fmt.Errorf("artifact header missing id")
	}
	return h, nil
}
