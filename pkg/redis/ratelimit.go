package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
	RetryIn   time.Duration
}

// slidingWindowScript records n hits when they fit under limit within the window.
// It returns {allowed, remaining, oldest_score}.
var slidingWindowScript = goredis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local n = tonumber(ARGV[5])

	redis.call("zremrangebyscore", key, "-inf", window_start)
	local current = redis.call("zcard", key)

	if current + n <= limit then
		for i = 1, n do
			redis.call("zadd", key, now, now .. "-" .. math.random() .. "-" .. i)
		end
		redis.call("pexpire", key, window_ms)
		return {1, limit - current - n, 0}
	end

	local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
	if #oldest > 0 then
		return {0, 0, oldest[2]}
	end
	return {0, 0, 0}
`)

// RateLimiter is a sliding-window limiter backed by sorted sets.
type RateLimiter struct {
	client    *Client
	keyPrefix string
	now       func() time.Time
}

func NewRateLimiter(client *Client, keyPrefix string) *RateLimiter {
	if keyPrefix == "" {
		keyPrefix = "fern:ratelimit:"
	}
	return &RateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		// zrange WITHSCORES comes back as a string
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func (r *RateLimiter) blockKey(key string) string {
	return r.keyPrefix + key + ":block"
}

// BlockFor rejects every request for key during d, e.g. after a 429 with Retry-After.
func (r *RateLimiter) BlockFor(ctx context.Context, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.blockKey(key), "1", d)
}

// IsBlocked returns whether key is blocked and for how much longer.
func (r *RateLimiter) IsBlocked(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.blockKey(key))
	if err != nil {
		return false, 0, err
	}
	// -2 means the key does not exist
	if ttl == -2 {
		return false, 0, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return true, ttl, nil
}

// Allow records one hit for key if it fits in limit per window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, limit, window, 1)
}

// AllowN records n hits for key if they all fit in limit per window.
func (r *RateLimiter) AllowN(ctx context.Context, key string, limit int64, window time.Duration, n int64) (*RateLimitResult, error) {
	now := r.now()

	if blocked, ttl, err := r.IsBlocked(ctx, key); err == nil && blocked {
		return &RateLimitResult{
			Allowed: false,
			ResetAt: now.Add(ttl),
			RetryIn: ttl,
		}, nil
	}

	result, err := slidingWindowScript.Run(ctx, r.client.rdb, []string{r.keyPrefix + key},
		now.UnixMilli(),
		now.Add(-window).UnixMilli(),
		limit,
		window.Milliseconds(),
		n,
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("unexpected rate limit script result: %v", result)
	}

	allowedFlag, err := toInt64(result[0])
	if err != nil {
		return nil, err
	}
	remaining, err := toInt64(result[1])
	if err != nil {
		return nil, err
	}
	oldestMs, err := toInt64(result[2])
	if err != nil {
		return nil, err
	}

	res := &RateLimitResult{
		Allowed:   allowedFlag == 1,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}
	if !res.Allowed && oldestMs > 0 {
		res.RetryIn = time.UnixMilli(oldestMs).Add(window).Sub(now)
	}

	return res, nil
}

// Reset clears the window and any block for key.
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key, r.blockKey(key))
}
