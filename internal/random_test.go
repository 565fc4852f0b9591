package internal

import "testing"

func TestIDRoundTrip(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}

	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %v != %v", parsed, id)
	}
}

func TestParseIDRejectsBadInput(t *testing.T) {
	for _, s := range []string{"", "!!!!", "AAAA", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		if _, err := ParseID(s); err == nil {
			t.Fatalf("ParseID(%q) must fail", s)
		}
	}
}

func TestOpaqueTokenRoundTrip(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}

	token, err := EncodeOpaqueToken(id.String(), secret)
	if err != nil {
		t.Fatalf("EncodeOpaqueToken failed: %v", err)
	}

	gotID, gotSecret, err := DecodeOpaqueToken(token)
	if err != nil {
		t.Fatalf("DecodeOpaqueToken failed: %v", err)
	}
	if gotID != id.String() || gotSecret != secret {
		t.Fatal("round trip mismatch")
	}
	if HashSecret(gotSecret) != HashSecret(secret) {
		t.Fatal("secret hash mismatch")
	}
}

func TestDecodeOpaqueTokenRejectsBadInput(t *testing.T) {
	for _, s := range []string{"", "!!!!", "AAAAAAAA"} {
		if _, _, err := DecodeOpaqueToken(s); err == nil {
			t.Fatalf("DecodeOpaqueToken(%q) must fail", s)
		}
	}
}
