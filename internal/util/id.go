package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID returns a prefixed random identifier, e.g. "call_9f86d081...".
func NewID(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("util: rand read failed: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(b)
}

// NewSecret returns a 64-character hex token suitable for webhook secrets.
func NewSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("util: rand read failed: %v", err))
	}
	return hex.EncodeToString(b)
}
