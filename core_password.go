package identio

import (
	"context"
	"errors"
	"log"

	"github.com/tamrel/identio/password"
	"github.com/tamrel/identio/user"
)

// ChangePassword rotates the password of an authenticated user. All other
// sessions are revoked; keepSessionID, when non-empty, names the caller's
// current session to keep alive.
func (c *Core) ChangePassword(ctx context.Context, userID, oldPass, newPass, keepSessionID string) error {
	u, err := c.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Provider != user.ProviderLocal || u.PasswordHash == "" {
		return ErrInvalidCredentials
	}

	ok, verifyErr := c.hasher.Verify(oldPass, u.PasswordHash)
	if verifyErr != nil || !ok {
		c.metricInc(MetricPasswordChangeFailure)
		c.emitAudit(ctx, AuditEvent{
			EventType: auditEventPasswordChange,
			UserID:    u.ID,
			Success:   false,
			Error:     ErrInvalidCredentials.Code,
		})
		return ErrInvalidCredentials
	}

	if oldPass == newPass {
		return ErrPasswordReuse
	}

	if err := c.applyNewPassword(ctx, u, newPass, keepSessionID); err != nil {
		return err
	}

	c.metricInc(MetricPasswordChangeSuccess)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventPasswordChange,
		UserID:    u.ID,
		Success:   true,
	})
	c.notify(ctx, u.ID, "password_changed")

	return nil
}

// ForgotPassword is success-shaped regardless of whether the email resolves
// to an account, so the endpoint cannot be used to enumerate users. When it
// does resolve, a reset token is issued and mailed best-effort.
func (c *Core) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	c.metricInc(MetricPasswordResetRequest)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventPasswordForgot,
		Success:   true,
	})

	sctx, cancel := c.storeCtx(ctx)
	u, err := c.users.FindByEmail(sctx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			log.Printf("identio: forgot password lookup: %v", err)
		}
		return nil
	}

	cctx, cancel := c.cacheCtx(ctx)
	tokenStr, err := c.resets.Issue(cctx, purposePasswordReset, u.ID, u.Email, c.config.Reset.PasswordTTL)
	cancel()
	if err != nil {
		log.Printf("identio: issue reset token for %s: %v", u.ID, err)
		return nil
	}

	c.sendTemplatedEmail(ctx, u.Email, c.config.Email.ResetTemplate, map[string]string{
		"token":    tokenStr,
		"username": u.Username,
	})

	return nil
}

// ResetPassword redeems a reset token exactly once and rotates the
// password. Every live session of the account is revoked.
func (c *Core) ResetPassword(ctx context.Context, tokenStr, newPass string) error {
	cctx, cancel := c.cacheCtx(ctx)
	record, err := c.resets.Redeem(cctx, purposePasswordReset, tokenStr)
	cancel()
	if err != nil {
		if errors.Is(err, errResetNotFound) {
			c.metricInc(MetricPasswordResetFailure)
			c.emitAudit(ctx, AuditEvent{
				EventType: auditEventPasswordReset,
				Success:   false,
				Error:     ErrResetTokenInvalid.Code,
			})
			return ErrResetTokenInvalid
		}
		return wrapInternal(err)
	}

	u, err := c.activeUser(ctx, record.UserID)
	if err != nil {
		return ErrResetTokenInvalid
	}

	if err := c.applyNewPassword(ctx, u, newPass, ""); err != nil {
		return err
	}

	c.metricInc(MetricPasswordResetSuccess)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventPasswordReset,
		UserID:    u.ID,
		Success:   true,
	})
	c.notify(ctx, u.ID, "password_changed")

	return nil
}

// applyNewPassword hashes and stores the new password, revokes sessions
// (all but keepSessionID) and purges the cache.
func (c *Core) applyNewPassword(ctx context.Context, u *user.User, newPass, keepSessionID string) error {
	hash, err := c.hasher.Hash(newPass)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) {
			return ErrPasswordPolicy
		}
		return wrapInternal(err)
	}

	sctx, cancel := c.storeCtx(ctx)
	err = c.users.UpdateFields(sctx, u.ID, user.Fields{PasswordHash: &hash})
	cancel()
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return wrapInternal(err)
	}
	u.PasswordHash = hash

	if err := c.revokeOtherSessions(ctx, u.ID, keepSessionID); err != nil {
		return err
	}
	c.invalidateUserCache(ctx, u)

	return nil
}

// revokeOtherSessions drops every session of userID except keepSessionID.
// An empty keepSessionID revokes them all.
func (c *Core) revokeOtherSessions(ctx context.Context, userID, keepSessionID string) error {
	cctx, cancel := c.cacheCtx(ctx)
	defer cancel()

	if keepSessionID == "" {
		if err := c.sessions.RevokeAll(cctx, userID); err != nil {
			return wrapInternal(err)
		}
		c.metricInc(MetricSessionsRevokedAll)
		return nil
	}

	list, err := c.sessions.ListByUser(cctx, userID)
	if err != nil {
		return wrapInternal(err)
	}
	for _, sess := range list {
		if sess.SessionID == keepSessionID {
			continue
		}
		if _, err := c.sessions.Revoke(cctx, userID, sess.SessionID); err != nil {
			return wrapInternal(err)
		}
		c.metricInc(MetricSessionRevoked)
	}
	return nil
}
