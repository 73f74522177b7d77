package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAllowUntilLimit(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemory(3, time.Minute)

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "caller-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := limiter.Allow(ctx, "caller-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	// A different caller has its own window.
	res, err = limiter.Allow(ctx, "caller-b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemorySlidingWindowExpiry(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemory(2, time.Minute)

	current := time.Now()
	limiter.now = func() time.Time { return current }

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "caller")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Half a window later the first request is still in scope.
	current = current.Add(30 * time.Second)
	res, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// A full window past the first request, capacity frees up again.
	current = current.Add(31 * time.Second)
	res, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryReset(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemory(1, time.Minute)

	res, err := limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	require.False(t, res.Allowed)

	limiter.Reset("caller")

	res, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRetryAfterFloorsAtOneSecond(t *testing.T) {
	now := time.Now()
	res := &Result{ResetAt: now.Add(500 * time.Millisecond)}
	assert.Equal(t, 1, res.RetryAfter(now))

	res = &Result{ResetAt: now.Add(45 * time.Second)}
	assert.Equal(t, 45, res.RetryAfter(now))
}
