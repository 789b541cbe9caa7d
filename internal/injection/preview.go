package injection

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

const previewBytes = 64

// preview cuts text to at most maxBytes on a rune boundary. When it cuts, it
// also returns the SHA-256 of the full text so log lines can be correlated.
func preview(text string, maxBytes int) (string, string) {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text, ""
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	sum := sha256.Sum256([]byte(text))
	return text[:cut], hex.EncodeToString(sum[:])
}
