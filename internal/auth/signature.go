// Package auth holds the request authentication primitives: constant-time
// secret comparison for vendor webhooks and HMAC/domain checks for the
// Shopify install flow.
package auth

import "crypto/subtle"

// SecureCompare reports whether two secrets are equal without leaking timing
// information. Empty values and length mismatches fail closed.
func SecureCompare(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
