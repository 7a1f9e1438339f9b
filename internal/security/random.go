package security

import (
	"crypto/rand"
	"encoding/base64"
)

// NewSigningSecret returns n random bytes in standard base64, the form
// JWT_SECRET_BASE64 expects.
func NewSigningSecret(n int) (string, error) {
	if n < MinSecretBytes {
		n = MinSecretBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
