package payment

import "testing"

func TestVerifyMissingSignature(t *testing.T) {
	v := NewVerifier("secret", false)
	if v.Verify([]byte(`{"sessionId":1,"status":"success"}`), "") {
		t.Fatal("missing signature must not verify")
	}
}

func TestVerifyMismatchedHMAC(t *testing.T) {
	v := NewVerifier("secret", false)
	if v.Verify([]byte(`{"sessionId":1,"status":"success"}`), "deadbeef") {
		t.Fatal("wrong signature must not verify")
	}
}

func TestVerifyCorrectHMAC(t *testing.T) {
	v := NewVerifier("secret", false)
	payload := []byte(`{"sessionId":1,"status":"success"}`)
	sig := v.Sign(payload)

	if !v.Verify(payload, sig) {
		t.Fatal("correct signature must verify")
	}
	if v.Verify([]byte(`{"sessionId":2,"status":"success"}`), sig) {
		t.Fatal("signature must be bound to the exact payload")
	}
}

func TestVerifyDevBypass(t *testing.T) {
	payload := []byte(`{}`)

	enabled := NewVerifier("secret", true)
	if !enabled.Verify(payload, DevBypassToken) {
		t.Fatal("dev bypass must verify when enabled")
	}

	disabled := NewVerifier("secret", false)
	if disabled.Verify(payload, DevBypassToken) {
		t.Fatal("dev bypass must not verify when disabled")
	}
}

func TestVerifyDifferentSecrets(t *testing.T) {
	payload := []byte(`{"sessionId":7,"status":"failed"}`)
	sig := NewVerifier("other-secret", false).Sign(payload)

	if NewVerifier("secret", false).Verify(payload, sig) {
		t.Fatal("signature from a different secret must not verify")
	}
}
