package identio

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tamrel/identio/cache"
	"github.com/tamrel/identio/internal"
	"github.com/tamrel/identio/password"
	"github.com/tamrel/identio/session"
	"github.com/tamrel/identio/token"
	"github.com/tamrel/identio/user"
)

// Core is the identity orchestrator. All state lives in the user store and
// Redis; a Core is safe for concurrent use and cheap to share.
type Core struct {
	config Config

	users     user.Store
	tokens    *token.Issuer
	sessions  *session.Registry
	userCache *cache.UserCache
	hasher    *password.Hasher
	totp      *totpEngine
	resets    *resetTokenStore
	mfa       *mfaChallengeStore
	audit     *auditDispatcher
	metrics   *Metrics

	email    EmailSender
	notifier Notifier
	oauth    map[user.Provider]OAuthExchanger
}

// Close drains the audit dispatcher. The Core must not be used afterwards.
func (c *Core) Close() {
	if c == nil {
		return
	}
	if c.audit != nil {
		c.audit.Close()
	}
}

func (c *Core) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// AuditDropped reports audit events shed under backpressure.
func (c *Core) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}

func (c *Core) metricInc(id MetricID) {
	c.metrics.Inc(id)
}

func (c *Core) emitAudit(ctx context.Context, event AuditEvent) {
	if c.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	c.audit.Emit(ctx, event)
}

// storeCtx bounds a user-store call.
func (c *Core) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.Timeouts.Store)
}

// cacheCtx bounds a cache or Redis call that must not stall the request.
func (c *Core) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.Timeouts.Cache)
}

func (c *Core) oauthCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.Timeouts.OAuth)
}

// issueSession creates the session record and mints its bearer token. On a
// token failure the half-created session is rolled back.
func (c *Core) issueSession(ctx context.Context, u *user.User, meta ClientMeta) (string, string, error) {
	sessionID, err := internal.NewID()
	if err != nil {
		return "", "", wrapInternal(err)
	}

	now := time.Now()
	sess := &session.Session{
		SessionID: sessionID.String(),
		UserID:    u.ID,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.config.Session.TTL).Unix(),
	}

	if err := c.sessions.Register(ctx, sess, c.config.Session.TTL); err != nil {
		return "", "", wrapInternal(err)
	}

	tokenStr, err := c.tokens.Issue(u.ID, sess.SessionID, 0)
	if err != nil {
		if rbErr := c.sessions.RevokeSession(ctx, sess.SessionID); rbErr != nil {
			log.Printf("identio: session rollback failed: %v", rbErr)
		}
		return "", "", wrapInternal(err)
	}

	c.metricInc(MetricSessionCreated)

	return tokenStr, sess.SessionID, nil
}

// recordLogin stamps LastLoginAt best-effort.
func (c *Core) recordLogin(ctx context.Context, u *user.User) {
	now := time.Now()
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	if err := c.users.UpdateFields(sctx, u.ID, user.Fields{LastLoginAt: &now}); err != nil {
		log.Printf("identio: record last login for %s: %v", u.ID, err)
	}
}

// invalidateUserCache purges both cache projections best-effort.
func (c *Core) invalidateUserCache(ctx context.Context, u *user.User) {
	cctx, cancel := c.cacheCtx(ctx)
	defer cancel()

	if err := c.userCache.Invalidate(cctx, u); err != nil {
		log.Printf("identio: cache invalidate for %s: %v", u.ID, err)
	}
}

// activeUser loads a user by id and filters soft-deleted accounts.
func (c *Core) activeUser(ctx context.Context, userID string) (*user.User, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	u, err := c.users.FindByID(sctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, wrapInternal(err)
	}
	if u.SoftDeleted() {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func newUserID() string {
	return uuid.NewString()
}

// externalUsername derives a username from the provider profile, falling
// back to the email local part.
func externalUsername(identity ExternalIdentity) string {
	name := strings.TrimSpace(identity.DisplayName)
	name = strings.ReplaceAll(strings.ToLower(name), " ", ".")
	if name != "" {
		return name
	}
	if at := strings.IndexByte(identity.Email, '@'); at > 0 {
		return strings.ToLower(identity.Email[:at])
	}
	return "user-" + identity.ExternalID
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// notify pushes an out-of-band notification best-effort.
func (c *Core) notify(ctx context.Context, userID, kind string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Push(ctx, userID, kind); err != nil {
		log.Printf("identio: notify %s for %s: %v", kind, userID, err)
	}
}

// sendTemplatedEmail delivers best-effort; a failure is logged and audited
// but never fails the calling operation.
func (c *Core) sendTemplatedEmail(ctx context.Context, to, template string, params map[string]string) {
	if c.email == nil {
		return
	}

	err := c.email.SendTemplated(ctx, to, template, c.config.Email.Language, params)
	if err == nil {
		return
	}

	log.Printf("identio: send %s email: %v", template, err)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventEmailSendFailed,
		Success:   false,
		Error:     errorString(err),
		Metadata:  map[string]string{"template": template},
	})
}
