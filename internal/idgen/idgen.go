// Package idgen mints the prefixed identifiers used across the marketplace
// ("gig_", "app_", "pi_", "le_", "user_", "sk_").
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix + 24 hex chars of cryptographic randomness.
// ID generation must not fail silently; an unreadable entropy source is a
// broken host.
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("idgen: crypto/rand unavailable: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
