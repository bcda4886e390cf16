package rate

import "errors"

var (
	// ErrRateLimited indicates the attempt budget for the window is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable indicates the limiter backend is unreachable.
	ErrRedisUnavailable = errors.New("rate limiter backend unavailable")
)
