package geocode

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFixedWindowLimiter_ResetsEachWindow(t *testing.T) {
	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 5, 0, time.UTC)}
	l := NewFixedWindowLimiter(NewMemoryCounter(), map[string]int{"google": 2}).WithClock(clk.now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "google"); !ok {
			t.Fatalf("expected call %d allowed", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "google"); ok {
		t.Fatalf("expected third call in window rejected")
	}

	clk.t = clk.t.Add(50 * time.Second) // 12:00:55, same window
	if ok, _ := l.Allow(ctx, "google"); ok {
		t.Fatalf("expected rejection until the window rolls over")
	}

	clk.t = clk.t.Add(10 * time.Second) // 12:01:05
	if ok, _ := l.Allow(ctx, "google"); !ok {
		t.Fatalf("expected new window to allow")
	}
}

func TestFixedWindowLimiter_PerProviderBudgets(t *testing.T) {
	l := NewFixedWindowLimiter(NewMemoryCounter(), map[string]int{"google": 1, "nominatim": 1})
	ctx := context.Background()

	l.Allow(ctx, "google")
	if ok, _ := l.Allow(ctx, "nominatim"); !ok {
		t.Fatalf("expected separate budget for nominatim")
	}
	if ok, _ := l.Allow(ctx, "unlisted"); !ok {
		t.Fatalf("expected providers without a limit to pass")
	}
}

func TestMemoryCounter_ConcurrentCallersShareBudget(t *testing.T) {
	l := NewFixedWindowLimiter(NewMemoryCounter(), map[string]int{"google": 10})
	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(context.Background(), "google"); ok {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	// a window boundary during the loop could admit up to twice the limit
	if allowed < 10 || allowed > 20 {
		t.Fatalf("expected the budget to cap concurrent callers, got %d allowed", allowed)
	}
}
