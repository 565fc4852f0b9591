package identio

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tamrel/identio/user"
)

// SoftDeleteUser logically removes an account. The store write lands
// first; the cache purge and session revocation are then both attempted
// regardless of each other, and partial failures are joined into the
// returned error rather than swallowed. The row itself is retained for
// restore and audit.
func (c *Core) SoftDeleteUser(ctx context.Context, userID string) error {
	u, err := c.activeUser(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	banned := user.StatusBanned
	sctx, cancel := c.storeCtx(ctx)
	err = c.users.UpdateFields(sctx, u.ID, user.Fields{
		Status:       &banned,
		SetDeletedAt: true,
		DeletedAt:    &now,
	})
	cancel()
	if err != nil {
		return wrapInternal(err)
	}

	u.DeletedAt = &now
	u.Status = banned

	var cleanup []error

	cctx, cancel := c.cacheCtx(ctx)
	if err := c.userCache.Invalidate(cctx, u); err != nil {
		log.Printf("identio: soft delete cache purge for %s: %v", u.ID, err)
		cleanup = append(cleanup, err)
	}
	cancel()

	cctx, cancel = c.cacheCtx(ctx)
	if err := c.sessions.RevokeAll(cctx, u.ID); err != nil {
		log.Printf("identio: soft delete session revoke for %s: %v", u.ID, err)
		cleanup = append(cleanup, err)
	}
	cancel()

	c.metricInc(MetricUserSoftDeleted)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventUserSoftDeleted,
		UserID:    u.ID,
		Success:   len(cleanup) == 0,
		Error:     errorString(errors.Join(cleanup...)),
	})

	if len(cleanup) > 0 {
		return wrapInternal(errors.Join(cleanup...))
	}
	return nil
}

// RestoreUser reverses a soft delete. Sessions revoked at deletion stay
// revoked; the user signs in again normally.
func (c *Core) RestoreUser(ctx context.Context, userID string) error {
	sctx, cancel := c.storeCtx(ctx)
	u, err := c.users.FindByID(sctx, userID)
	cancel()
	if err == nil && !u.SoftDeleted() {
		// Already live; restoring twice is a no-op.
		return nil
	}
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return wrapInternal(err)
	}

	// UpdateFields reaches soft-deleted rows, unlike the Find methods.
	active := user.StatusActive
	sctx, cancel = c.storeCtx(ctx)
	err = c.users.UpdateFields(sctx, userID, user.Fields{
		Status:       &active,
		SetDeletedAt: true,
		DeletedAt:    nil,
	})
	cancel()
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ErrUserNotFound
		}
		return wrapInternal(err)
	}

	cctx, cancel := c.cacheCtx(ctx)
	if err := c.userCache.InvalidateByID(cctx, userID); err != nil {
		log.Printf("identio: restore cache purge for %s: %v", userID, err)
	}
	cancel()

	c.metricInc(MetricUserRestored)
	c.emitAudit(ctx, AuditEvent{
		EventType: auditEventUserRestored,
		UserID:    userID,
		Success:   true,
	})

	return nil
}
