package identio

import (
	"context"
	"errors"
	"time"

	"github.com/tamrel/identio/internal"
	"github.com/tamrel/identio/user"
)

// Login authenticates a local account. When two-factor is enabled the
// result carries a challenge id instead of a token; the login completes in
// [Core.ConfirmLoginTOTP]. Unknown account, wrong password and blocked
// states all fail as ErrInvalidCredentials.
func (c *Core) Login(ctx context.Context, email, pass string, meta ClientMeta) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || pass == "" {
		return nil, c.loginFailure(ctx, "", meta, ErrInvalidCredentials)
	}

	sctx, cancel := c.storeCtx(ctx)
	u, err := c.userCache.GetByEmailValidated(sctx, email, c.users)
	cancel()
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Burn a hash anyway so unknown emails cost the same as bad
			// passwords.
			_, _ = c.hasher.Verify(pass, dummyHash)
			return nil, c.loginFailure(ctx, "", meta, ErrInvalidCredentials)
		}
		return nil, wrapInternal(err)
	}

	ok, err := c.hasher.Verify(pass, u.PasswordHash)
	if err != nil || !ok {
		return nil, c.loginFailure(ctx, u.ID, meta, ErrInvalidCredentials)
	}

	if err := c.loginEligible(u); err != nil {
		return nil, c.loginFailure(ctx, u.ID, meta, err)
	}

	c.maybeRehash(ctx, u, pass)

	if u.TOTPEnabled {
		return c.beginMFAChallenge(ctx, u, meta)
	}

	return c.completeLogin(ctx, u, meta, auditEventLoginSuccess)
}

// ConfirmLoginTOTP finishes a two-factor login. The challenge is single-use
// and attempt-capped; a wrong code burns an attempt, a correct code on a
// consumed or expired challenge fails like a wrong one.
func (c *Core) ConfirmLoginTOTP(ctx context.Context, challengeID, code string, meta ClientMeta) (*LoginResult, error) {
	cctx, cancel := c.cacheCtx(ctx)
	challenge, err := c.mfa.Get(cctx, challengeID)
	cancel()
	if err != nil {
		if errors.Is(err, errMFAChallengeNotFound) {
			c.metricInc(MetricLoginMFAFailure)
			return nil, ErrTwoFactorInvalid
		}
		return nil, wrapInternal(err)
	}

	u, err := c.activeUser(ctx, challenge.UserID)
	if err != nil {
		return nil, ErrTwoFactorInvalid
	}
	if !u.TOTPEnabled || u.TOTPSecret == "" {
		return nil, ErrTwoFactorInvalid
	}

	valid, err := c.totp.VerifyCode(u.TOTPSecret, code, time.Now())
	if err != nil {
		return nil, wrapInternal(err)
	}
	if !valid {
		cctx, cancel := c.cacheCtx(ctx)
		failErr := c.mfa.RecordFailure(cctx, challengeID, c.config.MFALogin.MaxAttempts)
		cancel()
		if failErr != nil && !errors.Is(failErr, errMFAChallengeNotFound) && !errors.Is(failErr, errMFAChallengeExceeded) {
			return nil, wrapInternal(failErr)
		}
		c.metricInc(MetricLoginMFAFailure)
		return nil, c.loginFailure(ctx, u.ID, meta, ErrTwoFactorInvalid)
	}

	// Only the caller that consumes the challenge may mint the session.
	cctx, cancel = c.cacheCtx(ctx)
	consumed, err := c.mfa.Consume(cctx, challengeID)
	cancel()
	if err != nil {
		return nil, wrapInternal(err)
	}
	if !consumed {
		c.metricInc(MetricLoginMFAFailure)
		return nil, ErrTwoFactorInvalid
	}

	c.metricInc(MetricLoginMFASuccess)

	if meta.IP == "" {
		meta.IP = challenge.IP
	}
	if meta.UserAgent == "" {
		meta.UserAgent = challenge.UserAgent
	}

	return c.completeLogin(ctx, u, meta, auditEventLoginSuccess)
}

// LoginExternal signs in via an OAuth authorization code. A first-time
// external identity creates a verified account; a colliding unlinked local
// email is rejected rather than silently linked. External logins never
// enter the TOTP path.
func (c *Core) LoginExternal(ctx context.Context, provider user.Provider, code, redirectURI string, meta ClientMeta) (*LoginResult, error) {
	exchanger, ok := c.oauth[provider]
	if !ok {
		return nil, ErrNotReady
	}

	octx, cancel := c.oauthCtx(ctx)
	identity, err := exchanger.ExchangeCode(octx, code, redirectURI)
	cancel()
	if err != nil {
		c.metricInc(MetricLoginExternalFailure)
		c.emitAudit(ctx, AuditEvent{
			EventType: auditEventLoginExternal,
			IP:        meta.IP,
			Success:   false,
			Error:     errorString(err),
			Metadata:  map[string]string{"provider": string(provider)},
		})
		return nil, ErrExternalExchange
	}

	sctx, cancel := c.storeCtx(ctx)
	u, err := c.users.FindByExternalID(sctx, provider, identity.ExternalID)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, user.ErrNotFound):
		u, err = c.createExternalUser(ctx, identity)
		if err != nil {
			c.metricInc(MetricLoginExternalFailure)
			return nil, err
		}
	default:
		return nil, wrapInternal(err)
	}

	if err := c.loginEligible(u); err != nil {
		return nil, c.loginFailure(ctx, u.ID, meta, err)
	}

	c.metricInc(MetricLoginExternalSuccess)

	return c.completeLogin(ctx, u, meta, auditEventLoginExternal)
}

// Logout revokes the session named by the token. Invalid and unknown
// tokens fail identically.
func (c *Core) Logout(ctx context.Context, tokenStr string) error {
	claims, err := c.tokens.Validate(tokenStr)
	if err != nil {
		return ErrTokenInvalid
	}

	cctx, cancel := c.cacheCtx(ctx)
	active, err := c.sessions.IsActive(cctx, claims.SID)
	cancel()
	if err != nil {
		return wrapInternal(err)
	}
	if !active {
		return ErrTokenInvalid
	}

	cctx, cancel = c.cacheCtx(ctx)
	err = c.sessions.RevokeSession(cctx, claims.SID)
	cancel()
	if err != nil {
		return wrapInternal(err)
	}

	c.metricInc(MetricLogout)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventLogout,
		UserID:    claims.UID,
		SessionID: claims.SID,
		Success:   true,
	})

	return nil
}

// ValidateToken accepts only tokens that are structurally valid, whose
// session is still registered, and whose owner still exists un-deleted.
func (c *Core) ValidateToken(ctx context.Context, tokenStr string) (*TokenInfo, error) {
	start := time.Now()
	defer func() {
		c.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	claims, err := c.tokens.Validate(tokenStr)
	if err != nil {
		c.metricInc(MetricTokenValidateFailure)
		return nil, ErrTokenInvalid
	}

	cctx, cancel := c.cacheCtx(ctx)
	active, err := c.sessions.IsActive(cctx, claims.SID)
	cancel()
	if err != nil {
		return nil, wrapInternal(err)
	}
	if !active {
		c.metricInc(MetricTokenValidateFailure)
		return nil, ErrTokenInvalid
	}

	if _, err := c.activeUser(ctx, claims.UID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.metricInc(MetricTokenValidateFailure)
			return nil, ErrTokenInvalid
		}
		return nil, err
	}

	c.metricInc(MetricTokenValidateSuccess)

	return &TokenInfo{
		UserID:    claims.UID,
		SessionID: claims.SID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// dummyHash is a real Argon2id digest of an unguessable throwaway value,
// used to equalize verify cost on unknown-email logins.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA==$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func (c *Core) loginEligible(u *user.User) *Error {
	if u.SoftDeleted() || u.Status == user.StatusBanned {
		return ErrInvalidCredentials
	}
	if c.config.RequireVerifiedEmail && u.Status == user.StatusPendingVerification {
		return ErrInvalidCredentials
	}
	return nil
}

func (c *Core) loginFailure(ctx context.Context, userID string, meta ClientMeta, cause *Error) error {
	c.metricInc(MetricLoginFailure)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventLoginFailure,
		UserID:    userID,
		IP:        meta.IP,
		Success:   false,
		Error:     cause.Code,
	})
	return cause
}

func (c *Core) beginMFAChallenge(ctx context.Context, u *user.User, meta ClientMeta) (*LoginResult, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, wrapInternal(err)
	}

	challenge := &mfaChallenge{
		UserID:    u.ID,
		Email:     u.Email,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		ExpiresAt: time.Now().Add(c.config.MFALogin.ChallengeTTL).Unix(),
	}

	cctx, cancel := c.cacheCtx(ctx)
	err = c.mfa.Save(cctx, id.String(), challenge, c.config.MFALogin.ChallengeTTL)
	cancel()
	if err != nil {
		return nil, wrapInternal(err)
	}

	c.metricInc(MetricLoginMFARequired)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventLoginMFARequired,
		UserID:    u.ID,
		IP:        meta.IP,
		Success:   true,
	})

	return &LoginResult{
		User:              u,
		TwoFactorRequired: true,
		ChallengeID:       id.String(),
	}, nil
}

func (c *Core) completeLogin(ctx context.Context, u *user.User, meta ClientMeta, eventType string) (*LoginResult, error) {
	tokenStr, sessionID, err := c.issueSession(ctx, u, meta)
	if err != nil {
		return nil, err
	}

	c.metricInc(MetricLoginSuccess)
	c.emitAudit(ctx, AuditEvent{
		EventType: eventType,
		UserID:    u.ID,
		SessionID: sessionID,
		IP:        meta.IP,
		Success:   true,
	})

	c.recordLogin(ctx, u)
	c.notify(ctx, u.ID, "login")

	return &LoginResult{
		Token:     tokenStr,
		SessionID: sessionID,
		User:      u,
	}, nil
}

// maybeRehash upgrades the stored hash after a successful verify when the
// hashing parameters have been strengthened since the hash was written.
func (c *Core) maybeRehash(ctx context.Context, u *user.User, pass string) {
	needs, err := c.hasher.NeedsUpgrade(u.PasswordHash)
	if err != nil || !needs {
		return
	}

	newHash, err := c.hasher.Hash(pass)
	if err != nil {
		return
	}

	sctx, cancel := c.storeCtx(ctx)
	defer cancel()
	if err := c.users.UpdateFields(sctx, u.ID, user.Fields{PasswordHash: &newHash}); err == nil {
		u.PasswordHash = newHash
		c.invalidateUserCache(ctx, u)
	}
}

func (c *Core) createExternalUser(ctx context.Context, identity ExternalIdentity) (*user.User, error) {
	email := normalizeEmail(identity.Email)
	if email == "" {
		return nil, ErrExternalExchange
	}

	now := time.Now()
	u := &user.User{
		ID:         newUserID(),
		Username:   externalUsername(identity),
		Email:      email,
		Verified:   true,
		Provider:   identity.Provider,
		ExternalID: identity.ExternalID,
		Status:     user.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	sctx, cancel := c.storeCtx(ctx)
	err := c.users.Insert(sctx, u)
	cancel()
	if err != nil {
		var dup *user.DuplicateError
		if errors.As(err, &dup) {
			switch dup.Field {
			case "email":
				// A local account already owns this address. Linking is an
				// explicit account action, not a login side effect.
				return nil, ErrEmailTaken
			case "username":
				u.Username = externalUsername(identity) + "-" + u.ID[:8]
				sctx, cancel := c.storeCtx(ctx)
				defer cancel()
				if err := c.users.Insert(sctx, u); err == nil {
					return u, nil
				}
			}
		}
		return nil, wrapInternal(err)
	}

	return u, nil
}
