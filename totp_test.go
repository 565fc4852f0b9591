package identio

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"
)

// RFC 4226 appendix D test vectors, secret "12345678901234567890".
func TestHOTPReferenceVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	expected := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}

	for counter, want := range expected {
		got, err := hotpCode(secret, int64(counter), 6, "SHA1")
		if err != nil {
			t.Fatalf("counter %d: %v", counter, err)
		}
		if got != want {
			t.Fatalf("counter %d: expected %s, got %s", counter, want, got)
		}
	}
}

func TestVerifyCodeAcceptsWithinSkew(t *testing.T) {
	engine := newTOTPEngine(TOTPConfig{Issuer: "identio", Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"})

	_, secret, err := engine.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}

	now := time.Unix(59, 0)
	counter := now.Unix() / 30

	for _, offset := range []int64{-1, 0, 1} {
		code, err := hotpCode(key, counter+offset, 6, "SHA1")
		if err != nil {
			t.Fatalf("hotpCode failed: %v", err)
		}
		ok, err := engine.VerifyCode(secret, code, now)
		if err != nil {
			t.Fatalf("VerifyCode failed: %v", err)
		}
		if !ok {
			t.Fatalf("offset %d: expected code to verify", offset)
		}
	}

	outside, err := hotpCode(key, counter+2, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	if ok, _ := engine.VerifyCode(secret, outside, now); ok {
		t.Fatal("code outside skew window must not verify")
	}
}

func TestVerifyCodeRejectsMalformedInput(t *testing.T) {
	engine := newTOTPEngine(TOTPConfig{Issuer: "identio", Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"})
	_, secret, err := engine.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	for _, code := range []string{"", "12345", "1234567", "12345a", "      "} {
		ok, err := engine.VerifyCode(secret, code, time.Now())
		if err != nil {
			t.Fatalf("code %q: unexpected error %v", code, err)
		}
		if ok {
			t.Fatalf("code %q: must not verify", code)
		}
	}
}

func TestProvisionURIFormat(t *testing.T) {
	engine := newTOTPEngine(TOTPConfig{Issuer: "identio", Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"})

	uri := engine.ProvisionURI("JBSWY3DPEHPK3PXP", "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("bad scheme: %s", uri)
	}
	for _, fragment := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=identio", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, fragment) {
			t.Fatalf("uri missing %s: %s", fragment, uri)
		}
	}
}
