// Package cache is the read-through/write-through layer in front of the
// user store. All user-cache mutation lives here; no other component
// touches these keys, which is what keeps invalidation from being missed
// at call sites.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tamrel/identio/user"
)

// ErrMiss is returned when no projection exists for the requested key.
var ErrMiss = errors.New("cache miss")

// ErrUnavailable wraps Redis transport failures. Callers on the login path
// degrade to the store instead of propagating it.
var ErrUnavailable = errors.New("cache backend unavailable")

// UserCache keeps a denormalized copy of each user under an id key and an
// email key, both with the same TTL. The store stays authoritative: on
// security-sensitive reads a hit is revalidated before being trusted.
type UserCache struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration

	// opTimeout bounds each Redis round-trip made on behalf of a validated
	// read, so a hung cache backend costs at most opTimeout before the call
	// degrades to the store.
	opTimeout time.Duration
}

// New creates a [UserCache]. A non-positive ttl defaults to ten minutes; a
// non-positive opTimeout defaults to 500ms.
func New(client redis.UniversalClient, prefix string, ttl, opTimeout time.Duration) *UserCache {
	if prefix == "" {
		prefix = "uc"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &UserCache{redis: client, prefix: prefix, ttl: ttl, opTimeout: opTimeout}
}

func (c *UserCache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

func (c *UserCache) idKey(id string) string {
	return c.prefix + ":id:" + id
}

func (c *UserCache) emailKey(email string) string {
	return c.prefix + ":email:" + email
}

// Set upserts both projections of u.
func (c *UserCache) Set(ctx context.Context, u *user.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.idKey(u.ID), data, c.ttl)
		pipe.Set(ctx, c.emailKey(u.Email), data, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// GetByEmail returns the cached projection without revalidation. Suitable
// for non-security reads only; the login path must use GetByEmailValidated.
func (c *UserCache) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return c.get(ctx, c.emailKey(email))
}

// GetByID returns the cached projection without revalidation.
func (c *UserCache) GetByID(ctx context.Context, id string) (*user.User, error) {
	return c.get(ctx, c.idKey(id))
}

func (c *UserCache) get(ctx context.Context, key string) (*user.User, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var u user.User
	if err := json.Unmarshal(data, &u); err != nil {
		// A corrupt entry is treated as absent; the key is purged so the
		// next read repopulates it from the store.
		_ = c.redis.Del(ctx, key).Err()
		return nil, ErrMiss
	}

	return &u, nil
}

// GetByEmailValidated resolves a user for a security-sensitive decision.
// A cache hit is revalidated by id against the store before being trusted:
// if the store shows the record gone or soft-deleted, the projections are
// purged and the call reports user.ErrNotFound. A miss falls through to the
// store and populates the cache. Cache transport failures degrade to a
// plain store read; only store failures propagate.
//
// The extra store round-trip on every hit is deliberate: a banned or
// deleted user whose cache entry has not yet expired must not be able to
// log in.
//
// Every cache round-trip in here carries its own opTimeout sub-deadline.
// Without it a hung backend would eat the caller's whole budget and the
// store fallback would start already expired.
func (c *UserCache) GetByEmailValidated(ctx context.Context, email string, store user.Store) (*user.User, error) {
	rctx, cancel := c.opCtx(ctx)
	cached, err := c.GetByEmail(rctx, email)
	cancel()
	if err != nil {
		if errors.Is(err, ErrMiss) || errors.Is(err, ErrUnavailable) ||
			errors.Is(err, context.DeadlineExceeded) {
			return c.readThrough(ctx, email, store)
		}
		return nil, err
	}

	fresh, err := store.FindByID(ctx, cached.ID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Stale hit: the id no longer resolves in the store.
			c.purge(ctx, cached)
			return nil, user.ErrNotFound
		}
		return nil, err
	}

	if fresh.Email != email {
		// Email changed under the old projection; drop it and resolve the
		// address the caller actually asked for.
		c.purge(ctx, cached)
		return c.readThrough(ctx, email, store)
	}

	// Repopulation is best effort.
	sctx, cancel := c.opCtx(ctx)
	_ = c.Set(sctx, fresh)
	cancel()

	return fresh, nil
}

func (c *UserCache) readThrough(ctx context.Context, email string, store user.Store) (*user.User, error) {
	u, err := store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	sctx, cancel := c.opCtx(ctx)
	_ = c.Set(sctx, u)
	cancel()

	return u, nil
}

// InvalidateByEmail removes both projections reachable from an email key.
// Called on soft delete and on any write that changes identity-relevant
// fields.
func (c *UserCache) InvalidateByEmail(ctx context.Context, email string) error {
	cached, err := c.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			if delErr := c.redis.Del(ctx, c.emailKey(email)).Err(); delErr != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, delErr)
			}
			return nil
		}
		return err
	}

	c.purge(ctx, cached)
	return nil
}

// InvalidateByID removes both projections reachable from an id key.
func (c *UserCache) InvalidateByID(ctx context.Context, id string) error {
	cached, err := c.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			if delErr := c.redis.Del(ctx, c.idKey(id)).Err(); delErr != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, delErr)
			}
			return nil
		}
		return err
	}

	c.purge(ctx, cached)
	return nil
}

// Invalidate removes both projections of a user the caller already holds.
func (c *UserCache) Invalidate(ctx context.Context, u *user.User) error {
	if err := c.redis.Del(ctx, c.idKey(u.ID), c.emailKey(u.Email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *UserCache) purge(ctx context.Context, u *user.User) {
	pctx, cancel := c.opCtx(ctx)
	defer cancel()
	_ = c.redis.Del(pctx, c.idKey(u.ID), c.emailKey(u.Email)).Err()
}
