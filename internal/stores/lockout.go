package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the progressive lockout counter.
type LockoutConfig struct {
	Threshold int
	// Window bounds how long failures accumulate before the counter
	// auto-resets. Zero means the counter only resets on success/unlock.
	Window time.Duration
	// Duration is how long a triggered lock holds.
	Duration time.Duration
}

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// failAndCompareScript performs the increment-and-compare in one atomic
// step: the failure that reaches the threshold also writes the lock key,
// so concurrent failures for the same principal can neither under-count
// nor double-lock.
const failAndCompareScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 and tonumber(ARGV[2]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if count >= tonumber(ARGV[1]) then
  redis.call("SET", KEYS[2], ARGV[4], "PX", ARGV[3])
  redis.call("DEL", KEYS[1])
  return {count, 1}
end
return {count, 0}
`

var failAndCompareLua = redis.NewScript(failAndCompareScript)

// LockoutStore tracks consecutive failed credential checks per principal
// and flips the principal into the locked state at the threshold.
type LockoutStore struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

func NewLockoutStore(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutStore {
	return &LockoutStore{redis: redisClient, config: cfg}
}

func (s *LockoutStore) counterKey(principalID string) string {
	return "lo:c:" + principalID
}

func (s *LockoutStore) lockKey(principalID string) string {
	return "lo:l:" + principalID
}

// RecordFailure atomically increments the failure counter. When the new
// count reaches the threshold the lock key is written in the same script
// call; the returned lockedUntil is non-zero exactly in that case.
func (s *LockoutStore) RecordFailure(ctx context.Context, principalID string) (count int, lockedUntil time.Time, err error) {
	if principalID == "" || s.config.Threshold <= 0 {
		return 0, time.Time{}, nil
	}

	until := time.Now().Add(s.config.Duration)
	result, err := failAndCompareLua.Run(
		ctx,
		s.redis,
		[]string{s.counterKey(principalID), s.lockKey(principalID)},
		s.config.Threshold,
		s.config.Window.Milliseconds(),
		s.config.Duration.Milliseconds(),
		until.Unix(),
	).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: invalid lockout script response", ErrLockoutUnavailable)
	}
	n, _ := parts[0].(int64)
	locked, _ := parts[1].(int64)

	if locked == 1 {
		return int(n), until, nil
	}
	return int(n), time.Time{}, nil
}

// LockedUntil reports the active lock expiry for a principal, or the zero
// time when no lock is held.
func (s *LockoutStore) LockedUntil(ctx context.Context, principalID string) (time.Time, error) {
	until, err := s.redis.Get(ctx, s.lockKey(principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	t := time.Unix(until, 0)
	if !t.After(time.Now()) {
		return time.Time{}, nil
	}
	return t, nil
}

// Reset clears both the counter and any active lock. Called on successful
// login and on administrative unlock.
func (s *LockoutStore) Reset(ctx context.Context, principalID string) error {
	if principalID == "" {
		return nil
	}
	if err := s.redis.Del(ctx, s.counterKey(principalID), s.lockKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current consecutive failure count.
func (s *LockoutStore) FailureCount(ctx context.Context, principalID string) (int, error) {
	count, err := s.redis.Get(ctx, s.counterKey(principalID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
