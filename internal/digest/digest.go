// Package digest computes the content fingerprints that define photo identity.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprint is the SHA-256 digest of a file's full byte content.
// Two files are the same photo iff their fingerprints are equal; filename,
// path, and metadata never participate in identity.
type Fingerprint [sha256.Size]byte

// Hex returns the lowercase hex encoding used by the ledger and cache.
func (fp Fingerprint) Hex() string {
	return hex.EncodeToString(fp[:])
}

// Short returns a truncated hex prefix for log output.
func (fp Fingerprint) Short() string {
	return hex.EncodeToString(fp[:6])
}

// ParseHex decodes a hex-encoded fingerprint as persisted by Hex.
func ParseHex(s string) (Fingerprint, error) {
	var fp Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("digest: decode fingerprint: %w", err)
	}
	if len(b) != sha256.Size {
		return fp, fmt.Errorf("digest: fingerprint is %d bytes, want %d", len(b), sha256.Size)
	}
	copy(fp[:], b)
	return fp, nil
}

// Sum streams r through SHA-256 and returns the fingerprint.
// Content is consumed in chunks, so RAW files of any size hash in
// constant memory.
func Sum(r io.Reader) (Fingerprint, error) {
	var fp Fingerprint
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fp, fmt.Errorf("digest: read: %w", err)
	}
	copy(fp[:], h.Sum(nil))
	return fp, nil
}

// SumFile opens path and streams its content through Sum.
func SumFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("digest: open %s: %w", path, err)
	}
	defer f.Close()
	return Sum(f)
}
