package identio

import (
	"context"
	"errors"
	"testing"

	"github.com/tamrel/identio/user"
)

func TestRegisterCreatesPendingAccount(t *testing.T) {
	tc := newTestCore(t)

	u, err := tc.core.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "correct-password-123",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if u.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %s", u.Email)
	}
	if u.Status != user.StatusPendingVerification || u.Verified {
		t.Fatalf("expected pending unverified account: %+v", u)
	}
	if u.PasswordHash == "" || u.PasswordHash == "correct-password-123" {
		t.Fatal("password must be stored hashed")
	}

	mail := tc.mail.last(t)
	if mail.Template != tc.core.config.Email.VerifyTemplate {
		t.Fatalf("expected verification mail, got %s", mail.Template)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input RegisterInput
		want  error
	}{
		{"short username", RegisterInput{Username: "ab", Email: "a@b.com", Password: "correct-password-123"}, ErrInvalidInput},
		{"bad characters", RegisterInput{Username: "al ice!", Email: "a@b.com", Password: "correct-password-123"}, ErrInvalidInput},
		{"bad email", RegisterInput{Username: "alice", Email: "not-an-email", Password: "correct-password-123"}, ErrInvalidInput},
		{"short password", RegisterInput{Username: "alice", Email: "a@b.com", Password: "short"}, ErrPasswordPolicy},
	}

	for _, tcase := range cases {
		if _, err := tc.core.Register(ctx, tcase.input); !errors.Is(err, tcase.want) {
			t.Errorf("%s: expected %v, got %v", tcase.name, tcase.want, err)
		}
	}
}

func TestRegisterUsernameConflictSuggestsAlternative(t *testing.T) {
	tc := newTestCore(t)
	ctx := context.Background()
	tc.register(t, "alice", "alice@example.com", "correct-password-123")

	_, err := tc.core.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: "correct-password-123",
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	var conflict *UsernameConflictError
	if !errors.As(err, &conflict) || conflict.Suggested == "" || conflict.Suggested == "alice" {
		t.Fatalf("expected a usable suggestion, got %+v", conflict)
	}

	// The suggestion is actually free.
	if _, err := tc.core.Register(ctx, RegisterInput{
		Username: conflict.Suggested,
		Email:    "other@example.com",
		Password: "correct-password-123",
	}); err != nil {
		t.Fatalf("suggested username should register: %v", err)
	}
}

func TestRegisterEmailConflict(t *testing.T) {
	tc := newTestCore(t)
	tc.register(t, "alice", "alice@example.com", "correct-password-123")

	_, err := tc.core.Register(context.Background(), RegisterInput{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: "correct-password-123",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}
