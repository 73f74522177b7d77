package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a sliding-window limiter backed by per-key timestamp lists.
// Sliding windows avoid the burst-at-boundary problem of fixed windows.
// Not distributed; use Redis when running more than one node.
type Memory struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*slidingWindow
	now     func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
}

// NewMemory creates an in-memory limiter allowing limit requests per window.
func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*slidingWindow),
		now:     time.Now,
	}
}

func (m *Memory) Allow(ctx context.Context, key string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sw := m.buckets[key]
	if sw == nil {
		sw = &slidingWindow{}
		m.buckets[key] = sw
	}
	sw.cleanup(now.Add(-m.window))

	if len(sw.timestamps) >= m.limit {
		return &Result{
			Allowed:   false,
			Limit:     m.limit,
			Remaining: 0,
			ResetAt:   sw.timestamps[0].Add(m.window),
		}, nil
	}

	sw.timestamps = append(sw.timestamps, now)
	return &Result{
		Allowed:   true,
		Limit:     m.limit,
		Remaining: m.limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(m.window),
	}, nil
}

// Reset clears the counter for a key.
func (m *Memory) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
}

func (sw *slidingWindow) cleanup(cutoff time.Time) {
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
