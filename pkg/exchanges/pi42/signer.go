package pi42

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces the hex HMAC-SHA256 signature Pi42 expects over the exact
// request body (POST) or the literal query string (GET).
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns hex(HMAC-SHA256(secret, message)).
func (s *Signer) Sign(message []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// SignString is Sign for query strings.
func (s *Signer) SignString(message string) string {
	return s.Sign([]byte(message))
}
