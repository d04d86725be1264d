package hash

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest. All capture fingerprints (content
// and artifact prefix) are this size, rendered as 64 hex characters.
type Digest [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain separation
// ensures the same bytes fingerprinted as note content and as an artifact
// prefix never collide across contexts. The byte values are the ASCII
// encoding of the domain name, zero-padded to 32 bytes, so the keys stay
// readable in hex dumps.
type domainKey [32]byte

var (
	contentDomainKey = domainKey{
		'i', 'n', 'l', 'e', 't', '.', 'c', 'a', 'p', 't', 'u', 'r', 'e', '.',
		'c', 'o', 'n', 't', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	artifactDomainKey = domainKey{
		'i', 'n', 'l', 'e', 't', '.', 'c', 'a', 'p', 't', 'u', 'r', 'e', '.',
		'a', 'r', 't', 'i', 'f', 'a', 'c', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// canonicalVersion tags the serialization layout. Changing field order,
// separators, or normalization rules requires a bump, which invalidates
// every stored content hash.
const canonicalVersion = "v1"

// fieldSep separates canonical fields. A control byte cannot appear in
// normalized text, so two different field splits never serialize equally.
const fieldSep = "\x1f"

// CanonicalContent builds the canonical byte serialization of a capture's
// semantic content: version tag, source, normalized body, and metadata with
// sorted keys, joined with explicit separators.
func CanonicalContent(source, body string, metadata map[string]string) []byte {
	var b strings.Builder
	b.WriteString(canonicalVersion)
	b.WriteString(fieldSep)
	b.WriteString(source)
	b.WriteString(fieldSep)
	b.WriteString(normalizeBody(body))
	b.WriteString(fieldSep)

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(fieldSep)
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(metadata[k])
	}

	return []byte(b.String())
}

// Content computes the content-domain digest of a capture's canonical
// serialization and returns it as 64 hex characters. Deterministic: the
// same (source, body, metadata) always yields the same digest.
func Content(source, body string, metadata map[string]string) string {
	d := keyedHash(contentDomainKey, CanonicalContent(source, body, metadata))
	return hex.EncodeToString(d[:])
}

// FilePrefix computes the artifact-domain digest over the first prefixBytes
// of the file at path. Large out-of-band artifacts (audio files) are
// fingerprinted by prefix rather than in full, trading exhaustive
// verification for staging latency. The prefix fingerprint is an early
// dedup signal, not a long-term integrity proof.
func FilePrefix(path string, prefixBytes int64) (string, error) {
	if prefixBytes <= 0 {
		return "", fmt.Errorf("prefix byte count must be positive, got %d", prefixBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening artifact for fingerprint: %w", err)
	}
	defer f.Close()

	hasher, err := blake3.NewKeyed(artifactDomainKey[:])
	if err != nil {
		panic("hash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	if _, err := io.Copy(hasher, io.LimitReader(f, prefixBytes)); err != nil {
		return "", fmt.Errorf("reading artifact prefix: %w", err)
	}

	var d Digest
	copy(d[:], hasher.Sum(nil))
	return hex.EncodeToString(d[:]), nil
}

// Parse validates a 64-character hex string as a digest.
func Parse(hexString string) (Digest, error) {
	var d Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return d, fmt.Errorf("parsing content hash: %w", err)
	}
	if len(decoded) != 32 {
		return d, fmt.Errorf("content hash is %d bytes, want 32", len(decoded))
	}
	copy(d[:], decoded)
	return d, nil
}

// normalizeBody applies the canonicalization rules for text content:
// CRLF and bare CR collapse to LF, and outer whitespace is trimmed.
// Internal whitespace is semantic and preserved.
func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.TrimSpace(body)
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Digest {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("hash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d
}
