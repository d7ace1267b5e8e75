package protocolone

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Authenticate computes the pinUvAuthParam for a message: HMAC-SHA-256
// truncated to the first 16 bytes, per PIN/UV auth protocol one.
func Authenticate(key []byte, message []byte) []byte {
	hasher := hmac.New(sha256.New, key)
	hasher.Write(message)
	return hasher.Sum(nil)[:16]
}

// Verify checks a signature in constant time.
func Verify(key []byte, message []byte, signature []byte) bool {
	return hmac.Equal(signature, Authenticate(key, message))
}
