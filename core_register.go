package identio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/mail"
	"time"

	"github.com/tamrel/identio/password"
	"github.com/tamrel/identio/user"
)

const (
	usernameMinLen = 3
	usernameMaxLen = 32
)

// Register creates a local account in pending-verification state and sends
// the verification email when a sender is configured. A username conflict
// is returned as *UsernameConflictError carrying a free alternative.
func (c *Core) Register(ctx context.Context, input RegisterInput) (*user.User, error) {
	username := normalizeUsername(input.Username)
	email := normalizeEmail(input.Email)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	hash, err := c.hasher.Hash(input.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return nil, ErrPasswordPolicy
		}
		return nil, wrapInternal(err)
	}

	now := time.Now()
	u := &user.User{
		ID:           newUserID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Provider:     user.ProviderLocal,
		Status:       user.StatusPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	sctx, cancel := c.storeCtx(ctx)
	err = c.users.Insert(sctx, u)
	cancel()
	if err != nil {
		var dup *user.DuplicateError
		if errors.As(err, &dup) {
			c.metricInc(MetricRegisterConflict)
			switch dup.Field {
			case "username":
				return nil, &UsernameConflictError{Suggested: c.suggestUsername(ctx, username)}
			case "email":
				return nil, ErrEmailTaken
			}
		}
		return nil, wrapInternal(err)
	}

	c.metricInc(MetricRegisterSuccess)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventRegister,
		UserID:    u.ID,
		Success:   true,
	})

	if c.email != nil {
		if err := c.sendVerificationEmail(ctx, u); err != nil {
			log.Printf("identio: verification token for %s: %v", u.ID, err)
		}
	}

	return u, nil
}

func validateUsername(username string) error {
	if len(username) < usernameMinLen || len(username) > usernameMaxLen {
		return ErrInvalidInput
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return ErrInvalidInput
		}
	}
	return nil
}

// suggestUsername probes a few numeric-suffix variants and returns the
// first free one. Best-effort: on store trouble it returns a variant
// without the availability check.
func (c *Core) suggestUsername(ctx context.Context, base string) string {
	for i := 0; i < 3; i++ {
		candidate := fmt.Sprintf("%s%d", base, 100+rand.Intn(900))
		if len(candidate) > usernameMaxLen {
			candidate = candidate[:usernameMaxLen]
		}

		sctx, cancel := c.storeCtx(ctx)
		_, err := c.users.FindByUsername(sctx, candidate)
		cancel()
		if errors.Is(err, user.ErrNotFound) {
			return candidate
		}
	}
	return fmt.Sprintf("%s%d", base, rand.Intn(100000))
}
