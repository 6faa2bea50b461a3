package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Delivery headers.
const (
	HeaderSignature = "X-Renderq-Signature"
	HeaderEvent     = "X-Renderq-Event"
	HeaderDelivery  = "X-Renderq-Delivery"
	HeaderTimestamp = "X-Renderq-Timestamp"
)

const signaturePrefix = "sha256="

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 of the exact bytes under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid Sign value for body. The
// comparison is constant time.
func Verify(secret string, body []byte, signature string) bool {
	got, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// NewSecret returns a random 32-byte secret, hex encoded.
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
