package identio

import (
	"context"
	"time"

	"github.com/tamrel/identio/user"
)

// BeginTwoFactorSetup stores a fresh secret against the account without
// enabling it. Existing logins are unaffected until the enrollment is
// confirmed; calling again before confirmation rotates the secret.
func (c *Core) BeginTwoFactorSetup(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	u, err := c.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.TOTPEnabled {
		return nil, ErrTwoFactorEnabled
	}

	_, secretBase32, err := c.totp.GenerateSecret()
	if err != nil {
		return nil, wrapInternal(err)
	}

	sctx, cancel := c.storeCtx(ctx)
	err = c.users.UpdateFields(sctx, u.ID, user.Fields{TOTPSecret: &secretBase32})
	cancel()
	if err != nil {
		return nil, wrapInternal(err)
	}

	u.TOTPSecret = secretBase32
	c.invalidateUserCache(ctx, u)

	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventTOTPSetupBegin,
		UserID:    u.ID,
		Success:   true,
	})

	return &TwoFactorSetup{
		Secret: secretBase32,
		URI:    c.totp.ProvisionURI(secretBase32, u.Email),
	}, nil
}

// ConfirmTwoFactorSetup turns the pending secret on after one valid code.
// Every other session is revoked so a stolen credential cannot ride out
// the security upgrade.
func (c *Core) ConfirmTwoFactorSetup(ctx context.Context, userID, code, keepSessionID string) error {
	u, err := c.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.TOTPEnabled {
		return ErrTwoFactorEnabled
	}
	if u.TOTPSecret == "" {
		return ErrTwoFactorNotEnrolled
	}

	valid, err := c.totp.VerifyCode(u.TOTPSecret, code, time.Now())
	if err != nil {
		return wrapInternal(err)
	}
	if !valid {
		c.emitAudit(ctx, AuditEvent{
			EventType: auditEventTOTPSetupConfirm,
			UserID:    u.ID,
			Success:   false,
			Error:     ErrTwoFactorInvalid.Code,
		})
		return ErrTwoFactorInvalid
	}

	enabled := true
	sctx, cancel := c.storeCtx(ctx)
	err = c.users.UpdateFields(sctx, u.ID, user.Fields{TOTPEnabled: &enabled})
	cancel()
	if err != nil {
		return wrapInternal(err)
	}

	u.TOTPEnabled = true
	c.invalidateUserCache(ctx, u)

	if err := c.revokeOtherSessions(ctx, u.ID, keepSessionID); err != nil {
		return err
	}

	c.metricInc(MetricTOTPEnrolled)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventTOTPSetupConfirm,
		UserID:    u.ID,
		Success:   true,
	})
	c.notify(ctx, u.ID, "totp_enabled")

	return nil
}

// DisableTwoFactor turns 2FA off. It demands a valid current code; there
// is deliberately no recovery fallback here, lost-device flows go through
// password reset plus support tooling.
func (c *Core) DisableTwoFactor(ctx context.Context, userID, code string) error {
	u, err := c.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TOTPEnabled || u.TOTPSecret == "" {
		return ErrTwoFactorNotEnrolled
	}

	valid, err := c.totp.VerifyCode(u.TOTPSecret, code, time.Now())
	if err != nil {
		return wrapInternal(err)
	}
	if !valid {
		c.emitAudit(ctx, AuditEvent{
			EventType: auditEventTOTPDisabled,
			UserID:    u.ID,
			Success:   false,
			Error:     ErrTwoFactorInvalid.Code,
		})
		return ErrTwoFactorInvalid
	}

	empty := ""
	disabled := false
	sctx, cancel := c.storeCtx(ctx)
	err = c.users.UpdateFields(sctx, u.ID, user.Fields{TOTPSecret: &empty, TOTPEnabled: &disabled})
	cancel()
	if err != nil {
		return wrapInternal(err)
	}

	u.TOTPSecret = ""
	u.TOTPEnabled = false
	c.invalidateUserCache(ctx, u)

	if err := c.revokeOtherSessions(ctx, u.ID, ""); err != nil {
		return err
	}

	c.metricInc(MetricTOTPDisabled)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventTOTPDisabled,
		UserID:    u.ID,
		Success:   true,
	})
	c.notify(ctx, u.ID, "totp_disabled")

	return nil
}
