package id

import (
	"crypto/rand"
	"encoding/hex"
)

// Short generates a short random hex ID (16 characters).
// Used for capture IDs where brevity matters.
func Short() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
