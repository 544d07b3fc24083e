package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// Short returns the first 12 hex characters, enough to label a run in reports.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// ComputeFingerprint hashes labelled values in the order given. Callers pass
// values in a fixed order so identical configurations hash identically.
func ComputeFingerprint(parts ...interface{}) Hash {
	var data strings.Builder
	for i, part := range parts {
		if i > 0 {
			data.WriteByte('|')
		}
		data.WriteString(fmt.Sprintf("%v", part))
	}
	return NewHash([]byte(data.String()))
}
