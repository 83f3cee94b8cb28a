// Package sha256 derives cache keys and callback tokens from URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultTokenLength keeps inline-button payloads well under the 64 byte limit.
const DefaultTokenLength = 16

// Hasher implements feed.Hasher using SHA-256.
type Hasher struct {
	tokenLength int
}

// New returns a SHA-256 hasher producing tokens of DefaultTokenLength.
func New() *Hasher {
	return &Hasher{tokenLength: DefaultTokenLength}
}

// NewWithTokenLength returns a hasher with a custom token length.
// Values outside (0, 64] fall back to the default.
func NewWithTokenLength(n int) *Hasher {
	if n <= 0 || n > sha256.Size*2 {
		n = DefaultTokenLength
	}
	return &Hasher{tokenLength: n}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Token returns a short, stable identifier for s.
func (h *Hasher) Token(s string) string {
	digest, _ := h.Hash([]byte(s))
	return digest[:h.tokenLength]
}
