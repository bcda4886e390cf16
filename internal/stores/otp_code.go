package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrOTPBackend indicates the delivered-code backend is unreachable.
var ErrOTPBackend = errors.New("otp code backend unavailable")

// verifyConsumeScript compares the stored digest with the supplied one and
// deletes the key only on a match. A failed compare leaves the code in
// place for a retry until the TTL runs out.
const verifyConsumeScript = `
local stored = redis.call("GET", KEYS[1])
if not stored then
  return -1
end
if stored == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

var verifyConsumeLua = redis.NewScript(verifyConsumeScript)

// OTPCodeStore holds the short-lived codes delivered over SMS/email during
// MFA step-up. Codes are stored as SHA-256 digests, never plaintext.
type OTPCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOTPCodeStore(redisClient redis.UniversalClient, prefix string) *OTPCodeStore {
	if prefix == "" {
		prefix = "oc"
	}
	return &OTPCodeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *OTPCodeStore) key(principalID, channel string) string {
	return s.prefix + ":" + channel + ":" + principalID
}

func digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Put records the code sent to the principal over the given channel.
// An existing undelivered code for the same channel is replaced.
func (s *OTPCodeStore) Put(ctx context.Context, principalID, channel, code string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(principalID, channel), digest(code), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}
	return nil
}

// VerifyConsume returns true and deletes the stored code when the supplied
// code matches. A mismatch returns false and leaves the code stored; a
// missing/expired code also returns false.
func (s *OTPCodeStore) VerifyConsume(ctx context.Context, principalID, channel, code string) (bool, error) {
	result, err := verifyConsumeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(principalID, channel)},
		digest(code),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}
	return result == 1, nil
}
