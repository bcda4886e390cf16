package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResetNotFound = errors.New("password reset record not found")
	ErrResetBackend  = errors.New("password reset backend unavailable")
)

// consumeResetScript releases the record only when the supplied secret
// digest matches, deleting both the record and the per-principal pointer
// in the same step so a reset token verifies at most once.
const consumeResetScript = `
local stored = redis.call("HGET", KEYS[1], "digest")
if not stored then
  return {-1}
end
if stored ~= ARGV[1] then
  return {0}
end
local principal = redis.call("HGET", KEYS[1], "principal")
redis.call("DEL", KEYS[1])
if principal then
  redis.call("DEL", ARGV[2] .. principal)
end
return {1, principal}
`

var consumeResetLua = redis.NewScript(consumeResetScript)

// ResetStore holds outstanding password reset records. Only the SHA-256
// digest of the secret half of the token is stored. A new request for the
// same principal replaces any outstanding record.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewResetStore(redisClient redis.UniversalClient, prefix string) *ResetStore {
	if prefix == "" {
		prefix = "pr"
	}
	return &ResetStore{redis: redisClient, prefix: prefix}
}

func (s *ResetStore) key(resetID string) string {
	return s.prefix + ":" + resetID
}

func (s *ResetStore) principalKeyPrefix() string {
	return s.prefix + ":p:"
}

func (s *ResetStore) principalKey(principalID string) string {
	return s.principalKeyPrefix() + principalID
}

// Put records a reset token, superseding any outstanding one for the
// principal.
func (s *ResetStore) Put(ctx context.Context, resetID, principalID string, secretDigest [32]byte, ttl time.Duration) error {
	previous, err := s.redis.Get(ctx, s.principalKey(principalID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrResetBackend, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" {
			pipe.Del(ctx, s.key(previous))
		}
		pipe.HSet(ctx, s.key(resetID),
			"digest", hex.EncodeToString(secretDigest[:]),
			"principal", principalID,
		)
		pipe.Expire(ctx, s.key(resetID), ttl)
		pipe.Set(ctx, s.principalKey(principalID), resetID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetBackend, err)
	}
	return nil
}

// Consume verifies the secret digest and, on a match, deletes the record
// and returns the principal it belongs to. A mismatch leaves the record
// in place.
func (s *ResetStore) Consume(ctx context.Context, resetID string, secretDigest [32]byte) (string, error) {
	result, err := consumeResetLua.Run(
		ctx,
		s.redis,
		[]string{s.key(resetID)},
		hex.EncodeToString(secretDigest[:]),
		s.principalKeyPrefix(),
	).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResetBackend, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return "", fmt.Errorf("%w: invalid reset script response", ErrResetBackend)
	}
	code, _ := parts[0].(int64)
	switch code {
	case 1:
		if len(parts) < 2 {
			return "", fmt.Errorf("%w: missing principal in reset record", ErrResetBackend)
		}
		principal, _ := parts[1].(string)
		if principal == "" {
			return "", fmt.Errorf("%w: missing principal in reset record", ErrResetBackend)
		}
		return principal, nil
	case 0:
		return "", ErrResetNotFound
	default:
		return "", ErrResetNotFound
	}
}
