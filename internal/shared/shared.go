// Package shared holds small helpers used across the connection, session,
// and link endpoints that don't belong to any one of them.
package shared

import (
	"crypto/rand"
	"math/big"
)

const randStringAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns a random alphanumeric string of length n, used to
// generate a default link name when the caller does not provide one.
func RandString(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(randStringAlphabet))))
		if err != nil {
			// crypto/rand failure is unrecoverable; fall back to a fixed
			// character rather than panicking mid-attach.
			b[i] = randStringAlphabet[0]
			continue
		}
		b[i] = randStringAlphabet[idx.Int64()]
	}
	return string(b)
}
