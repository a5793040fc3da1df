package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisOpTimeout bounds each Redis round trip made on the request path.
const redisOpTimeout = 500 * time.Millisecond

// incrWindow increments the counter and starts the window on the first hit.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisRateLimiter is a Limiter backed by Redis, so all replicas share one
// count per key. When Redis is unreachable it fails open and logs.
type RedisRateLimiter struct {
	client      redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger
}

// NewRedisRateLimiter creates a limiter storing counters under prefix+key.
// The client is owned by the caller.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, maxAttempts int, window time.Duration, logger *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:      client,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		window:      window,
		logger:      logger,
	}
}

func (rl *RedisRateLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	n, err := incrWindow.Run(ctx, rl.client, []string{rl.prefix + key}, rl.window.Milliseconds()).Int64()
	if err != nil {
		rl.logger.Warn("rate limit store unavailable, allowing request", "error", err)
		return true
	}
	return n <= int64(rl.maxAttempts)
}

func (rl *RedisRateLimiter) Reset(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := rl.client.Del(ctx, rl.prefix+key).Err(); err != nil {
		rl.logger.Warn("rate limit reset failed", "error", err)
	}
}

func (rl *RedisRateLimiter) TimeUntilReset(key string) time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	ttl, err := rl.client.PTTL(ctx, rl.prefix+key).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// Close is a no-op; the Redis client outlives the limiter.
func (rl *RedisRateLimiter) Close() {}

var (
	_ Limiter = (*RateLimiter)(nil)
	_ Limiter = (*RedisRateLimiter)(nil)
)
