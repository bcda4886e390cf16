package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned when no live session exists for an ID.
var ErrSessionNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps transport failures from the session backend.
var ErrRedisUnavailable = errors.New("redis unavailable")

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is the Redis-backed session registry. It keeps one record per
// session plus a per-principal index set so every session a principal
// holds can be enumerated and revoked together.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "se"
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) indexKey(principalID string) string {
	return "si:" + principalID
}

// Save persists a session record and registers it in the principal's
// index.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.indexKey(sess.PrincipalID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get fetches a session by ID. An expired record is deleted lazily and
// reported as not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.ID = sessionID

	if sess.Expired(time.Now()) {
		if err := s.deleteSessionAndIndex(ctx, sess.PrincipalID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	return sess, nil
}

// Touch updates the session's last-activity timestamp in place, keeping
// the record's remaining TTL.
func (s *Store) Touch(ctx context.Context, sessionID string, now time.Time) error {
	key := s.key(sessionID)

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastActivityAt = now.Unix()

	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		return ErrSessionNotFound
	}

	data, err := Encode(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, data, pttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Revoke marks a session inactive with the given reason and removes it
// from the principal's index. The record itself stays until its TTL
// lapses so introspection can still report why it ended.
func (s *Store) Revoke(ctx context.Context, sessionID string, reason LogoutReason) (*Session, error) {
	key := s.key(sessionID)

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Active {
		return sess, nil
	}

	sess.Active = false
	sess.LogoutReason = reason

	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		return nil, ErrSessionNotFound
	}

	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, pttl)
		pipe.SRem(ctx, s.indexKey(sess.PrincipalID), sessionID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return sess, nil
}

// RevokeAllForPrincipal revokes every indexed session of a principal and
// returns the IDs that were still active.
func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID string, reason LogoutReason) ([]string, error) {
	ids, err := s.ActiveSessionIDs(ctx, principalID)
	if err != nil {
		return nil, err
	}

	revoked := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := s.Revoke(ctx, id, reason); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return revoked, err
		}
		revoked = append(revoked, id)
	}

	return revoked, nil
}

// Delete removes a session record and its index entry atomically.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return err
	}

	return s.deleteSessionAndIndex(ctx, sess.PrincipalID, sessionID)
}

// ActiveSessionIDs returns the indexed session IDs for a principal.
func (s *Store) ActiveSessionIDs(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ActiveSessionCount returns how many sessions are indexed for a principal.
func (s *Store) ActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.indexKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// ListForPrincipal fetches all indexed sessions for a principal. Records
// that expired since indexing are skipped.
func (s *Store) ListForPrincipal(ctx context.Context, principalID string) ([]*Session, error) {
	ids, err := s.ActiveSessionIDs(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	now := time.Now()
	sessions := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.ID = ids[i]
		if sess.Expired(now) {
			continue
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// KnownFingerprint reports whether some currently active session of the
// principal carries the given device fingerprint. Once the last session
// from a device ends, the device counts as new again.
func (s *Store) KnownFingerprint(ctx context.Context, principalID, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return true, nil
	}
	sessions, err := s.ListForPrincipal(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, sess := range sessions {
		if sess.Active && sess.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

// Ping reports Redis availability and round trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, principalID, sessionID string) error {
	_, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.indexKey(principalID)},
		sessionID,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
