// internal/custody/hash.go
// Package custody computes the chain-of-custody digest recorded for every
// piece of evidence.
package custody

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hash returns the lowercase hex SHA-256 digest of content.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256 and returns the hex digest.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash evidence: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether content still matches a previously recorded digest.
func Verify(content []byte, digest string) bool {
	return Hash(content) == digest
}
