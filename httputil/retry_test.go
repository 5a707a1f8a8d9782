package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func getter(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestFetch_RetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	resp, err := Fetch(context.Background(), srv.Client(), policy, time.Second, getter(srv.URL))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || string(resp.Body) != "ok" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, resp.Body)
	}
	if resp.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", resp.Attempts)
	}
}

func TestFetch_ReturnsLastRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	policy := RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}
	resp, err := Fetch(context.Background(), srv.Client(), policy, time.Second, getter(srv.URL))
	if err != nil {
		t.Fatalf("expected response, got error %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestFetch_CancelledContextStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 5, Delay: time.Hour}
	if _, err := Fetch(ctx, srv.Client(), policy, time.Second, getter(srv.URL)); err == nil {
		t.Fatalf("expected context error")
	}
}
