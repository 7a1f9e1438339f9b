package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashRefreshToken is the store key digest of a raw refresh token.
func HashRefreshToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

func RefreshTokenHashEqual(raw, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashRefreshToken(raw)), []byte(storedHash)) == 1
}
