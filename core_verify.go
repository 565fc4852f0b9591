package identio

import (
	"context"
	"errors"
	"log"

	"github.com/tamrel/identio/user"
)

// RequestEmailVerification issues a fresh verification token and mails it.
// Like ForgotPassword it is success-shaped for unknown emails, and it is a
// no-op for accounts that are already verified.
func (c *Core) RequestEmailVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	c.metricInc(MetricEmailVerifyRequest)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventEmailVerifyRequest,
		Success:   true,
	})

	sctx, cancel := c.storeCtx(ctx)
	u, err := c.users.FindByEmail(sctx, email)
	cancel()
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			log.Printf("identio: verification lookup: %v", err)
		}
		return nil
	}
	if u.Verified {
		return nil
	}

	if err := c.sendVerificationEmail(ctx, u); err != nil {
		log.Printf("identio: issue verification token for %s: %v", u.ID, err)
	}

	return nil
}

// ConfirmEmailVerification redeems a verification token, marks the account
// verified and lifts the pending-verification status.
func (c *Core) ConfirmEmailVerification(ctx context.Context, tokenStr string) error {
	cctx, cancel := c.cacheCtx(ctx)
	record, err := c.resets.Redeem(cctx, purposeEmailVerify, tokenStr)
	cancel()
	if err != nil {
		if errors.Is(err, errResetNotFound) {
			c.metricInc(MetricEmailVerifyFailure)
			return ErrResetTokenInvalid
		}
		return wrapInternal(err)
	}

	u, err := c.activeUser(ctx, record.UserID)
	if err != nil {
		return ErrResetTokenInvalid
	}

	verified := true
	fields := user.Fields{Verified: &verified}
	if u.Status == user.StatusPendingVerification {
		active := user.StatusActive
		fields.Status = &active
	}

	sctx, cancel := c.storeCtx(ctx)
	err = c.users.UpdateFields(sctx, u.ID, fields)
	cancel()
	if err != nil {
		return wrapInternal(err)
	}

	u.Verified = true
	if fields.Status != nil {
		u.Status = *fields.Status
	}
	c.invalidateUserCache(ctx, u)

	c.metricInc(MetricEmailVerifySuccess)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventEmailVerified,
		UserID:    u.ID,
		Success:   true,
	})

	return nil
}

// sendVerificationEmail issues the token and hands it to the mailer.
func (c *Core) sendVerificationEmail(ctx context.Context, u *user.User) error {
	cctx, cancel := c.cacheCtx(ctx)
	tokenStr, err := c.resets.Issue(cctx, purposeEmailVerify, u.ID, u.Email, c.config.Reset.VerifyTTL)
	cancel()
	if err != nil {
		return err
	}

	c.sendTemplatedEmail(ctx, u.Email, c.config.Email.VerifyTemplate, map[string]string{
		"token":    tokenStr,
		"username": u.Username,
	})

	return nil
}
