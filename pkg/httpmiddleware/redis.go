package httpmiddleware

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed window limiter shared by every instance using the
// same Redis.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter allows max requests per key in each window. Keys are
// stored under prefix.
func NewRedisLimiter(client redis.Cmdable, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: max, window: window}
}

// Allow counts a request for key in the window containing now.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	resetAt := start.Add(l.window)
	k := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpireAt(ctx, k, resetAt.Add(time.Second))
		return nil
	}); err != nil {
		return Decision{}, errors.Wrap(err, "count request")
	}

	count := int(incr.Val())
	if count > l.max {
		return Decision{ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: l.max - count, ResetAt: resetAt}, nil
}
