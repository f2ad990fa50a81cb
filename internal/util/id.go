package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 32-hex-char random identifier, prefixed like "doc_..."
// when a prefix is given.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
