package geocode

import (
	"context"
	"sync"
	"time"
)

// Window is the length of one rate-limit counting window.
const Window = 60 * time.Second

// WindowCounter atomically admits one request for key in the window starting at
// windowStart. It returns false when the counter for that window has reached limit.
type WindowCounter interface {
	AllowRequest(ctx context.Context, key string, limit int, windowStart time.Time) (bool, error)
}

type Limiter interface {
	Allow(ctx context.Context, provider string) (bool, error)
}

// FixedWindowLimiter enforces N requests per 60-second window per provider.
// Providers without a configured limit, or with a limit <= 0, are not limited.
type FixedWindowLimiter struct {
	counter WindowCounter
	limits  map[string]int
	now     func() time.Time
}

func NewFixedWindowLimiter(counter WindowCounter, limits map[string]int) *FixedWindowLimiter {
	return &FixedWindowLimiter{counter: counter, limits: limits, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (l *FixedWindowLimiter) WithClock(now func() time.Time) *FixedWindowLimiter {
	l.now = now
	return l
}

func (l *FixedWindowLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	limit, ok := l.limits[provider]
	if !ok || limit <= 0 {
		return true, nil
	}
	windowStart := l.now().UTC().Truncate(Window)
	return l.counter.AllowRequest(ctx, "geocode:"+provider, limit, windowStart)
}

type windowCount struct {
	start time.Time
	count int
}

// MemoryCounter is an in-process WindowCounter. It is shared by all workers of one process.
type MemoryCounter struct {
	mu       sync.Mutex
	counters map[string]windowCount
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counters: make(map[string]windowCount)}
}

func (m *MemoryCounter) AllowRequest(_ context.Context, key string, limit int, windowStart time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.counters[key]
	if !c.start.Equal(windowStart) {
		c = windowCount{start: windowStart}
	}
	if c.count >= limit {
		return false, nil
	}
	c.count++
	m.counters[key] = c
	return true, nil
}
