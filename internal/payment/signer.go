package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// SignatureHeader is the header carrying webhook signatures.
const SignatureHeader = "Stripe-Signature"

// Signer signs webhook payloads for outbound delivery.
type Signer interface {
	Sign(payload []byte, secret string) map[string]string
}

// StripeSigner produces v1 signatures accepted by webhook.ConstructEvent:
//
//	Stripe-Signature: t={timestamp},v1=HMAC-SHA256(secret, "{timestamp}.{payload}")
type StripeSigner struct {
	now func() time.Time
}

// NewStripeSigner creates a signer stamping the current time.
func NewStripeSigner() *StripeSigner {
	return &StripeSigner{now: time.Now}
}

// Sign returns the signature header for payload.
func (s *StripeSigner) Sign(payload []byte, secret string) map[string]string {
	return s.SignWithTimestamp(payload, secret, s.now().Unix())
}

// SignWithTimestamp signs with an explicit timestamp.
func (s *StripeSigner) SignWithTimestamp(payload []byte, secret string, timestamp int64) map[string]string {
	return map[string]string{
		SignatureHeader: fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(timestamp, payload, secret)),
	}
}

// ComputeSignature computes the hex HMAC-SHA256 over "{timestamp}.{payload}".
func ComputeSignature(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
