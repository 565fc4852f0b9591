package identio

import (
	"context"
	"time"
)

// ListSessions enumerates the live sessions of a user. Ordering is
// unspecified; dangling index entries are pruned by the registry.
func (c *Core) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if _, err := c.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	cctx, cancel := c.cacheCtx(ctx)
	defer cancel()

	list, err := c.sessions.ListByUser(cctx, userID)
	if err != nil {
		return nil, wrapInternal(err)
	}

	infos := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		infos = append(infos, SessionInfo{
			SessionID: sess.SessionID,
			UserID:    sess.UserID,
			IssuedAt:  time.Unix(sess.IssuedAt, 0),
			IP:        sess.IP,
			UserAgent: sess.UserAgent,
		})
	}
	return infos, nil
}

// RevokeSession removes one session of a user. Revoking a session that is
// absent, expired, or owned by someone else reports ErrSessionNotFound.
func (c *Core) RevokeSession(ctx context.Context, userID, sessionID string) error {
	cctx, cancel := c.cacheCtx(ctx)
	revoked, err := c.sessions.Revoke(cctx, userID, sessionID)
	cancel()
	if err != nil {
		return wrapInternal(err)
	}
	if !revoked {
		return ErrSessionNotFound
	}

	c.metricInc(MetricSessionRevoked)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventSessionRevoked,
		UserID:    userID,
		SessionID: sessionID,
		Success:   true,
	})

	return nil
}

// RevokeAllSessions signs the user out everywhere.
func (c *Core) RevokeAllSessions(ctx context.Context, userID string) error {
	cctx, cancel := c.cacheCtx(ctx)
	err := c.sessions.RevokeAll(cctx, userID)
	cancel()
	if err != nil {
		return wrapInternal(err)
	}

	c.metricInc(MetricSessionsRevokedAll)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventSessionsRevokedAll,
		UserID:    userID,
		Success:   true,
	})

	return nil
}
