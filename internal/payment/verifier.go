package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// DevBypassToken is a literal signature accepted only when the verifier is
// built with dev bypass enabled. It exists so integration tests can post
// callbacks without computing an HMAC. It is NOT a security feature: a
// production deployment must never set PAYMENT_ALLOW_DEV_BYPASS.
const DevBypassToken = "dev"

// Verifier checks that a settlement callback originates from the payment
// provider.
type Verifier struct {
	secret         []byte
	allowDevBypass bool
}

// NewVerifier creates a verifier with the shared provider secret.
func NewVerifier(secret string, allowDevBypass bool) *Verifier {
	return &Verifier{
		secret:         []byte(secret),
		allowDevBypass: allowDevBypass,
	}
}

// Verify reports whether signature is a valid HMAC-SHA256 of payload.
// A missing signature always fails. Comparison is constant-time.
func (v *Verifier) Verify(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	if v.allowDevBypass && signature == DevBypassToken {
		return true
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	computed := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(computed), []byte(signature)) == 1
}

// Sign computes the hex HMAC-SHA256 of payload with the shared secret.
// Used by tests and by local tooling that emulates the provider.
func (v *Verifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
