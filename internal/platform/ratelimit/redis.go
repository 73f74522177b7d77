package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// Redis is a fixed-window limiter sharing its counters across nodes. The
// counter key embeds the window start so INCR and EXPIRE stay race-free
// without a script.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter allowing limit requests per window.
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (*Result, error) {
	now := r.now()
	windowStart := now.Truncate(r.window)
	resetAt := windowStart.Add(r.window)
	counterKey := fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, windowStart.Unix())

	pipe := r.client.TxPipeline()
	count := pipe.Incr(ctx, counterKey)
	pipe.ExpireNX(ctx, counterKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ratelimit incr: %w", err)
	}

	n := int(count.Val())
	if n > r.limit {
		return &Result{Allowed: false, Limit: r.limit, Remaining: 0, ResetAt: resetAt}, nil
	}
	return &Result{Allowed: true, Limit: r.limit, Remaining: r.limit - n, ResetAt: resetAt}, nil
}
