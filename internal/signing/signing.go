// Package signing implements the HMAC helper behind signed report download
// URLs.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for a scan id and expiry.
func (s *Signer) Sign(scanID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", scanID, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and that the link has not expired.
func (s *Signer) Validate(scanID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if time.Now().Unix() > exp {
		return false
	}
	expected := s.Sign(scanID, exp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
