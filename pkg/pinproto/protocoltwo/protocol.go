package protocoltwo

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Authenticate computes the pinUvAuthParam for a message: full HMAC-SHA-256,
// per PIN/UV auth protocol two.
//
// If the key is longer than 32 bytes, the excess is discarded. (This selects
// the HMAC-key portion of a shared secret. When the key is the
// pinUvAuthToken, it is exactly 32 bytes long, and thus this step has no
// effect.)
func Authenticate(key []byte, message []byte) []byte {
	if len(key) > 32 {
		key = key[:32]
	}

	hasher := hmac.New(sha256.New, key)
	hasher.Write(message)
	return hasher.Sum(nil)
}

// Verify checks a signature in constant time.
func Verify(key []byte, message []byte, signature []byte) bool {
	return hmac.Equal(signature, Authenticate(key, message))
}
