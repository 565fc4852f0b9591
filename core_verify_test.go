package identio

import (
	"context"
	"errors"
	"testing"

	"github.com/tamrel/identio/user"
)

func TestConfirmEmailVerificationActivatesAccount(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()

	u, err := tc.core.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-password-123",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token := tc.mail.last(t).Params["token"]

	if err := tc.core.ConfirmEmailVerification(ctx, token); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}

	updated := tc.store.get(u.ID)
	if !updated.Verified || updated.Status != user.StatusActive {
		t.Fatalf("expected verified active account: %+v", updated)
	}

	// The token is single-use.
	if err := tc.core.ConfirmEmailVerification(ctx, token); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("replayed token: expected ErrResetTokenInvalid, got %v", err)
	}
}

func TestRequestEmailVerificationSkipsVerifiedAndUnknown(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()
	tc.register(t, "alice", "alice@example.com", "correct-password-123")

	before := len(tc.mail.sent)
	if err := tc.core.RequestEmailVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("verified account must not error: %v", err)
	}
	if err := tc.core.RequestEmailVerification(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if len(tc.mail.sent) != before {
		t.Fatal("no mail expected for verified or unknown accounts")
	}
}

func TestRequestEmailVerificationReissuesToken(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()

	if _, err := tc.core.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-password-123",
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	firstToken := tc.mail.last(t).Params["token"]

	if err := tc.core.RequestEmailVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	secondToken := tc.mail.last(t).Params["token"]

	// The reissue supersedes the registration-time token.
	if err := tc.core.ConfirmEmailVerification(ctx, firstToken); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("superseded token: expected ErrResetTokenInvalid, got %v", err)
	}
	if err := tc.core.ConfirmEmailVerification(ctx, secondToken); err != nil {
		t.Fatalf("latest token must confirm: %v", err)
	}
}
