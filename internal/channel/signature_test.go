package channel

import "testing"

func TestSignatureRoundTrip(t *testing.T) {
	t.Parallel()

	body := []byte(`{"events":[]}`)
	sig := Sign("secret-1", body)
	if !VerifySignature("secret-1", body, sig) {
		t.Error("expected valid signature to verify")
	}
}

func TestSignatureRejections(t *testing.T) {
	t.Parallel()

	body := []byte(`{"events":[]}`)
	sig := Sign("secret-1", body)

	if VerifySignature("secret-2", body, sig) {
		t.Error("wrong secret must not verify")
	}
	if VerifySignature("secret-1", []byte(`tampered`), sig) {
		t.Error("tampered body must not verify")
	}
	if VerifySignature("secret-1", body, "not base64 %%%") {
		t.Error("malformed signature must not verify")
	}
	if VerifySignature("secret-1", body, "") {
		t.Error("missing signature must not verify")
	}
	if VerifySignature("", body, Sign("", body)) {
		t.Error("empty secret must never verify")
	}
}
