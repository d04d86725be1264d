package capture

import (
	"strings"
	"testing"

	"github.com/inlet-sh/inlet/internal/errors"
)

func strPtr(s string) *string { return &s }

func TestValidateEnvelope_Valid(t *testing.T) {
	env := &Envelope{
		Source:          "email",
		RawContent:      "A message body.",
		ChannelNativeID: "msg-123",
	}
	if err := ValidateEnvelope(env); err != nil {
		t.Errorf("valid envelope rejected: %v", err)
	}
}

func TestValidateEnvelope_ExternalRefOnly(t *testing.T) {
	size := int64(1024)
	env := &Envelope{
		Source:          "voice",
		ExternalRef:     strPtr("/icloud/memos/2026-09-01.m4a"),
		SizeBytes:       &size,
		ChannelNativeID: "2026-09-01.m4a",
	}
	if err := ValidateEnvelope(env); err != nil {
		t.Errorf("artifact-only envelope rejected: %v", err)
	}
}

func TestValidateEnvelope_Rejections(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"missing source", Envelope{RawContent: "x", ChannelNativeID: "id"}},
		{"unknown source", Envelope{Source: "fax", RawContent: "x", ChannelNativeID: "id"}},
		{"missing channel id", Envelope{Source: "email", RawContent: "x"}},
		{"whitespace channel id", Envelope{Source: "email", RawContent: "x", ChannelNativeID: "   "}},
		{"no content no ref", Envelope{Source: "email", ChannelNativeID: "id"}},
		{"blank external ref", Envelope{Source: "voice", ExternalRef: strPtr("  "), ChannelNativeID: "id"}},
		{"bad id", Envelope{ID: "not-a-ulid-at-all-really-no", Source: "email", RawContent: "x", ChannelNativeID: "id"}},
		{"short id", Envelope{ID: "01JA", Source: "email", RawContent: "x", ChannelNativeID: "id"}},
		{"negative size", Envelope{Source: "voice", ExternalRef: strPtr("/a"), SizeBytes: int64Ptr(-1), ChannelNativeID: "id"}},
		{"short fingerprint", Envelope{Source: "voice", ExternalRef: strPtr("/a"), ExternalFingerprint: strPtr("abcd"), ChannelNativeID: "id"}},
	}
	for _, c := range cases {
		env := c.env
		if err := ValidateEnvelope(&env); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("%s: got %v, want INVALID_REQUEST", c.name, err)
		}
	}
}

func TestValidateEnvelope_AcceptsSuppliedULID(t *testing.T) {
	env := &Envelope{
		ID:              "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Source:          "email",
		RawContent:      "x",
		ChannelNativeID: "id",
	}
	if err := ValidateEnvelope(env); err != nil {
		t.Errorf("well-formed ULID rejected: %v", err)
	}
}

func TestValidateEnvelope_AcceptsFingerprint(t *testing.T) {
	env := &Envelope{
		Source:              "voice",
		ExternalRef:         strPtr("/memos/a.m4a"),
		ExternalFingerprint: strPtr(strings.Repeat("ab", 32)),
		ChannelNativeID:     "a.m4a",
	}
	if err := ValidateEnvelope(env); err != nil {
		t.Errorf("64-hex fingerprint rejected: %v", err)
	}
}

func int64Ptr(v int64) *int64 { return &v }
