package capture

// Source identifies the channel a capture originated from.
type Source string

const (
	SourceVoice Source = "voice"
	SourceEmail Source = "email"
)

// KnownSources lists the accepted origin tags.
var KnownSources = []Source{SourceVoice, SourceEmail}

// Capture is one staged unit of captured input. The id doubles as the
// published artifact's filename stem and never changes after creation.
type Capture struct {
	// ID is a ULID that uniquely identifies this capture
	ID string

	// Source is the immutable origin tag
	Source Source

	// RawContent is the text body; empty until enrichment for captures
	// that arrive as an external artifact reference
	RawContent string

	// ContentHash is the hex BLAKE3 digest of the canonical content.
	// Nullable until the content is final; immutable once set.
	ContentHash *string

	// ExternalRef points at an out-of-band artifact (e.g. an audio file)
	// that this record references but never copies or relocates
	ExternalRef *string

	// ExternalFingerprint is the prefix fingerprint of the external artifact
	ExternalFingerprint *string

	// SizeBytes is the external artifact's size as reported by the adapter
	SizeBytes *int64

	// Status is the lifecycle tag; progresses only along the transition table
	Status Status

	// Quarantined marks a capture whose fingerprint could not be computed,
	// requiring manual resolution
	Quarantined bool

	// ChannelNativeID is the origin-supplied identifier (message id, file
	// path); unique per (source, channel_native_id)
	ChannelNativeID string

	// Metadata carries adapter-supplied key/value pairs that participate
	// in the canonical content form
	Metadata map[string]string

	// CreatedAt is the Unix timestamp when the capture was staged (immutable)
	CreatedAt int64

	// UpdatedAt is the Unix timestamp of the last mutation
	UpdatedAt int64
}

// IngestState summarizes where a capture sits in the pipeline. It is
// recomputed from persisted fields on every read rather than stored;
// promote it to a column only if read-path profiles demand it.
type IngestState string

const (
	IngestStatePending    IngestState = "pending"    // staged, not yet publishable
	IngestStateEnriching  IngestState = "enriching"  // waiting on external enrichment
	IngestStateQuarantine IngestState = "quarantine" // needs manual resolution
	IngestStateReady      IngestState = "ready"      // publishable now
	IngestStateDone       IngestState = "done"       // terminal outcome reached
)

// DerivedIngestState computes the read-side pipeline summary for a capture.
func DerivedIngestState(c *Capture) IngestState {
	switch {
	case c.Status.Terminal():
		return IngestStateDone
	case c.Quarantined:
		return IngestStateQuarantine
	case c.Status == StatusEnriching:
		return IngestStateEnriching
	case c.Status == StatusReady || c.Status == StatusFailedEnrichment:
		return IngestStateReady
	case c.Status == StatusStaged && c.ContentHash != nil:
		return IngestStateReady
	default:
		return IngestStatePending
	}
}

// ParseSource validates an origin tag.
func ParseSource(s string) (Source, bool) {
	for _, known := range KnownSources {
		if Source(s) == known {
			return known, true
		}
	}
	return "", false
}
