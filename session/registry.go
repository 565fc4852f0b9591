package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every Redis transport failure so callers can treat
// backend outage uniformly.
var ErrUnavailable = errors.New("session backend unavailable")

// revokeScript deletes a session blob and its user-index entry in one atomic
// step so a racing Register/Revoke pair for the same user can never leave a
// dangling index entry pointing at a live key.
const revokeScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var revokeLua = redis.NewScript(revokeScript)

// Registry is the Redis-backed session registry. Atomicity is per session
// key plus the owner's index set; operations on different users never
// contend.
type Registry struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRegistry creates a [Registry] with the given key-namespace prefix.
func NewRegistry(client redis.UniversalClient, prefix string) *Registry {
	if prefix == "" {
		prefix = "is"
	}
	return &Registry{redis: client, prefix: prefix}
}

func (r *Registry) key(sessionID string) string {
	return r.prefix + ":s:" + sessionID
}

func (r *Registry) userKey(userID string) string {
	return r.prefix + ":u:" + userID
}

// Register persists a session with the given TTL and adds it to the owner's
// index. Two concurrent logins for the same user each register their own
// session id; neither write is lost.
func (r *Registry) Register(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, r.userKey(sess.UserID), sess.SessionID)
		// Index outlives its members by the session TTL at most; dangling
		// ids are pruned on enumeration.
		pipe.Expire(ctx, r.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Get fetches one session. Returns redis.Nil when absent or expired.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	if sess.Expired(time.Now()) {
		_ = r.revoke(ctx, sess.UserID, sessionID)
		return nil, redis.Nil
	}

	return sess, nil
}

// IsActive reports whether a session currently exists. Used by token
// validation to reject structurally valid tokens whose session was revoked.
func (r *Registry) IsActive(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.redis.Exists(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// ListByUser enumerates the user's live sessions and prunes index entries
// whose session key has already expired.
func (r *Registry) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var dangling []interface{}
	now := time.Now()
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				dangling = append(dangling, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = ids[i]
		if sess.Expired(now) {
			dangling = append(dangling, ids[i])
			continue
		}
		sessions = append(sessions, sess)
	}

	if len(dangling) > 0 {
		if err := r.redis.SRem(ctx, r.userKey(userID), dangling...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return sessions, nil
}

// Revoke removes one session. Returns false when the session does not exist
// or is not owned by userID; cross-user revocation is impossible.
func (r *Registry) Revoke(ctx context.Context, userID, sessionID string) (bool, error) {
	data, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return false, err
	}
	if sess.UserID != userID {
		return false, nil
	}

	if err := r.revoke(ctx, userID, sessionID); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeSession removes one session without an ownership check, for callers
// that already resolved the session themselves (logout by token).
func (r *Registry) RevokeSession(ctx context.Context, sessionID string) error {
	data, err := r.redis.Get(ctx, r.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return err
	}
	return r.revoke(ctx, sess.UserID, sessionID)
}

// RevokeAll removes every session for a user. Used on soft delete, password
// change and 2FA toggles.
//
// Not fully atomic: a session registered between the SMembers read and the
// pipelined delete survives this call. The window is microscopic and the
// stray session still expires naturally; callers needing certainty can
// invoke RevokeAll a second time.
func (r *Registry) RevokeAll(ctx context.Context, userID string) error {
	ids, err := r.redis.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.key(id))
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, r.userKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Ping reports Redis availability and round-trip latency.
func (r *Registry) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func (r *Registry) revoke(ctx context.Context, userID, sessionID string) error {
	_, err := revokeLua.Run(
		ctx,
		r.redis,
		[]string{r.key(sessionID), r.userKey(userID)},
		sessionID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
