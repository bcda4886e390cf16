package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBlacklistBackend indicates the blacklist backend is unreachable.
var ErrBlacklistBackend = errors.New("blacklist backend unavailable")

// BlacklistStore records revoked token identifiers and revoked sessions.
// Entries carry a TTL equal to the revoked token's remaining natural
// lifetime, so the blacklist never outgrows the set of tokens that could
// still verify.
type BlacklistStore struct {
	redis redis.UniversalClient
}

func NewBlacklistStore(redisClient redis.UniversalClient) *BlacklistStore {
	return &BlacklistStore{redis: redisClient}
}

func (s *BlacklistStore) jtiKey(jti string) string {
	return "bl:j:" + jti
}

func (s *BlacklistStore) sessionKey(sessionID string) string {
	return "bl:s:" + sessionID
}

// RevokeToken blacklists a single token id for the rest of its lifetime.
func (s *BlacklistStore) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.jtiKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlacklistBackend, err)
	}
	return nil
}

// ClaimRotation blacklists the jti with set-if-absent semantics and reports
// whether this caller made the claim. Exactly one of N concurrent refresh
// calls for the same token observes true; the rest must treat the token as
// already rotated.
func (s *BlacklistStore) ClaimRotation(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	claimed, err := s.redis.SetNX(ctx, s.jtiKey(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBlacklistBackend, err)
	}
	return claimed, nil
}

// RevokeSession blacklists every outstanding token bound to a session.
// Individual jtis of already-issued access tokens are not tracked, so the
// session-scoped entry is checked alongside the per-token entry.
func (s *BlacklistStore) RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.sessionKey(sessionID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBlacklistBackend, err)
	}
	return nil
}

// IsRevoked reports whether either the token id or its session is
// blacklisted. One pipelined round trip.
func (s *BlacklistStore) IsRevoked(ctx context.Context, jti, sessionID string) (bool, error) {
	pipe := s.redis.Pipeline()
	jtiCmd := pipe.Exists(ctx, s.jtiKey(jti))
	var sessCmd *redis.IntCmd
	if sessionID != "" {
		sessCmd = pipe.Exists(ctx, s.sessionKey(sessionID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", ErrBlacklistBackend, err)
	}

	if n, err := jtiCmd.Result(); err == nil && n > 0 {
		return true, nil
	}
	if sessCmd != nil {
		if n, err := sessCmd.Result(); err == nil && n > 0 {
			return true, nil
		}
	}
	return false, nil
}
