package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBackend wraps transport failures from the decision cache.
var ErrBackend = errors.New("rbac cache backend unavailable")

// CacheConfig controls decision caching. Negative results get a shorter
// TTL so a freshly granted permission is not masked by a stale denial.
type CacheConfig struct {
	PositiveTTL time.Duration
	NegativeTTL time.Duration
}

// DefaultCacheConfig returns the standard asymmetric TTLs.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		PositiveTTL: 5 * time.Minute,
		NegativeTTL: 30 * time.Second,
	}
}

// Cache memoizes permission decisions per (principal, resource, action)
// in Redis.
type Cache struct {
	redis  redis.UniversalClient
	config CacheConfig
}

func NewCache(rdb redis.UniversalClient, cfg CacheConfig) *Cache {
	if cfg.PositiveTTL <= 0 {
		cfg.PositiveTTL = 5 * time.Minute
	}
	if cfg.NegativeTTL <= 0 || cfg.NegativeTTL > cfg.PositiveTTL {
		cfg.NegativeTTL = cfg.PositiveTTL / 10
		if cfg.NegativeTTL <= 0 {
			cfg.NegativeTTL = time.Second
		}
	}
	return &Cache{redis: rdb, config: cfg}
}

func (c *Cache) key(principalID, resource, action string) string {
	return "pc:" + principalID + ":" + resource + ":" + action
}

func (c *Cache) principalPattern(principalID string) string {
	return "pc:" + principalID + ":*"
}

// Get returns the cached decision and whether one was present.
func (c *Cache) Get(ctx context.Context, principalID, resource, action string) (allowed, found bool, err error) {
	val, err := c.redis.Get(ctx, c.key(principalID, resource, action)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return val == "1", true, nil
}

// Put stores a decision with the TTL matching its polarity.
func (c *Cache) Put(ctx context.Context, principalID, resource, action string, allowed bool) error {
	val := "0"
	ttl := c.config.NegativeTTL
	if allowed {
		val = "1"
		ttl = c.config.PositiveTTL
	}
	if err := c.redis.Set(ctx, c.key(principalID, resource, action), val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// InvalidatePrincipal drops every cached decision for a principal. Called
// whenever the principal's role or direct-permission assignments change.
func (c *Cache) InvalidatePrincipal(ctx context.Context, principalID string) error {
	pattern := c.principalPattern(principalID)
	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrBackend, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
