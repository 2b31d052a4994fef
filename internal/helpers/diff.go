package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeContent collapses whitespace and lowercases text so that
// trivially different renderings of the same page hash identically.
func NormalizeContent(s string) string {
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}

// ContentHash returns the sha256 hex digest of the normalized content.
// Pages reached through different URLs but carrying the same text get
// the same hash.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(s)))
	return hex.EncodeToString(sum[:])
}
