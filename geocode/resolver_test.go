package geocode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mls_ingest/identity"
	"mls_ingest/models"
)

type fakeProvider struct {
	name       string
	configured bool
	result     *Result
	err        error
	calls      int
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Geocode(ctx context.Context, address string) (*Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.Source = f.name
	return &r, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]models.GeocodeEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]models.GeocodeEntry)}
}

func (c *fakeCache) GetGeocode(ctx context.Context, hash string) (*models.GeocodeEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *fakeCache) PutGeocode(ctx context.Context, e *models.GeocodeEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.AddressHash] = *e
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

const testAddress = "123 Main St, Toronto, ON"

func TestResolve_EmptyAddressMakesNoCalls(t *testing.T) {
	primary := &fakeProvider{name: "google", configured: true, result: &Result{Lat: 1, Lng: 2}}
	r := NewResolver(newFakeCache(), nil, Options{}, primary)

	res, err := r.Resolve(context.Background(), "   ")
	if err != nil || res != nil {
		t.Fatalf("expected nil result, got %v, %v", res, err)
	}
	if primary.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", primary.calls)
	}
}

func TestResolve_PrimarySuccessIsCached(t *testing.T) {
	cache := newFakeCache()
	primary := &fakeProvider{name: "google", configured: true, result: &Result{Lat: 43.65, Lng: -79.38}}
	r := NewResolver(cache, nil, Options{}, primary)

	res, err := r.Resolve(context.Background(), testAddress)
	if err != nil || res == nil {
		t.Fatalf("expected result, got %v, %v", res, err)
	}
	if res.Source != "google" || res.Lat != 43.65 {
		t.Fatalf("unexpected result %+v", res)
	}

	res, _ = r.Resolve(context.Background(), "123 MAIN ST,  toronto, on")
	if res == nil || res.Lat != 43.65 {
		t.Fatalf("expected cached result, got %+v", res)
	}
	if primary.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", primary.calls)
	}
}

func TestResolve_FallsBackToSecondary(t *testing.T) {
	cache := newFakeCache()
	primary := &fakeProvider{name: "google", configured: true, err: ErrNoResults}
	fallback := &fakeProvider{name: "nominatim", configured: true, result: &Result{Lat: 45.42, Lng: -75.69}}
	r := NewResolver(cache, nil, Options{}, primary, fallback)

	res, _ := r.Resolve(context.Background(), testAddress)
	if res == nil || res.Source != "nominatim" {
		t.Fatalf("expected fallback result, got %+v", res)
	}

	entry, _ := cache.GetGeocode(context.Background(), identity.AddressHash(testAddress))
	if entry == nil || entry.Status != models.GeocodeSuccess || entry.Provider != "nominatim" {
		t.Fatalf("expected cached nominatim success, got %+v", entry)
	}
}

func TestResolve_NegativeCacheWithinTTL(t *testing.T) {
	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	cache := newFakeCache()
	primary := &fakeProvider{name: "google", configured: true, err: ErrNoResults}
	fallback := &fakeProvider{name: "nominatim", configured: true, err: ErrNoResults}
	r := NewResolver(cache, nil, Options{TTL: 7 * 24 * time.Hour, Now: clk.now}, primary, fallback)

	if res, _ := r.Resolve(context.Background(), testAddress); res != nil {
		t.Fatalf("expected nil, got %+v", res)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("expected one call each, got %d/%d", primary.calls, fallback.calls)
	}

	clk.t = clk.t.Add(6 * 24 * time.Hour)
	if res, _ := r.Resolve(context.Background(), testAddress); res != nil {
		t.Fatalf("expected negative cache hit, got %+v", res)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("expected no new calls within TTL, got %d/%d", primary.calls, fallback.calls)
	}

	clk.t = clk.t.Add(24*time.Hour + time.Second)
	primary.err = nil
	primary.result = &Result{Lat: 43.7, Lng: -79.4}
	res, _ := r.Resolve(context.Background(), testAddress)
	if res == nil {
		t.Fatalf("expected fresh lookup after TTL")
	}
	if primary.calls != 2 {
		t.Fatalf("expected primary called again after TTL, got %d", primary.calls)
	}
}

func TestResolve_PendingEntryIsMiss(t *testing.T) {
	cache := newFakeCache()
	cache.PutGeocode(context.Background(), &models.GeocodeEntry{
		AddressHash: identity.AddressHash(testAddress),
		GeocodedAt:  time.Now(),
		Status:      models.GeocodePending,
	})
	primary := &fakeProvider{name: "google", configured: true, result: &Result{Lat: 1, Lng: 1}}
	r := NewResolver(cache, nil, Options{}, primary)

	if res, _ := r.Resolve(context.Background(), testAddress); res == nil {
		t.Fatalf("expected provider lookup for pending entry")
	}
	if primary.calls != 1 {
		t.Fatalf("expected 1 call, got %d", primary.calls)
	}
}

func TestResolve_RateLimitedPrimarySkipsWithoutCall(t *testing.T) {
	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC)}
	limiter := NewFixedWindowLimiter(NewMemoryCounter(), map[string]int{"google": 1}).WithClock(clk.now)
	cache := newFakeCache()
	primary := &fakeProvider{name: "google", configured: true, result: &Result{Lat: 1, Lng: 1}}
	fallback := &fakeProvider{name: "nominatim", configured: true, result: &Result{Lat: 2, Lng: 2}}
	r := NewResolver(cache, limiter, Options{Now: clk.now}, primary, fallback)

	if res, _ := r.Resolve(context.Background(), "1 First St"); res == nil || res.Source != "google" {
		t.Fatalf("expected google result, got %+v", res)
	}
	res, _ := r.Resolve(context.Background(), "2 Second St")
	if res == nil || res.Source != "nominatim" {
		t.Fatalf("expected nominatim result after primary budget used, got %+v", res)
	}
	if primary.calls != 1 {
		t.Fatalf("expected rate-limited primary not called, got %d calls", primary.calls)
	}
}

func TestResolve_RateLimitIsNotNegativelyCached(t *testing.T) {
	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewFixedWindowLimiter(NewMemoryCounter(), map[string]int{"google": 1, "nominatim": 1}).WithClock(clk.now)
	primary := &fakeProvider{name: "google", configured: true, err: errors.New("boom")}
	fallback := &fakeProvider{name: "nominatim", configured: true, result: &Result{Lat: 2, Lng: 2}}
	cache := newFakeCache()
	r := NewResolver(cache, limiter, Options{Now: clk.now}, primary, fallback)

	r.Resolve(context.Background(), "1 First St")
	res, _ := r.Resolve(context.Background(), "2 Second St")
	if res != nil {
		t.Fatalf("expected nil with both budgets exhausted, got %+v", res)
	}
	if entry, _ := cache.GetGeocode(context.Background(), identity.AddressHash("2 Second St")); entry != nil {
		t.Fatalf("expected no cache entry for a rate-limited miss, got %+v", entry)
	}
}

func TestResolve_PlaceholderOnlyWithoutPrimaryKey(t *testing.T) {
	primary := &fakeProvider{name: "google", configured: false}
	r := NewResolver(newFakeCache(), nil, Options{}, primary)

	a, _ := r.Resolve(context.Background(), testAddress)
	b, _ := r.Resolve(context.Background(), testAddress)
	if a == nil || b == nil {
		t.Fatalf("expected placeholder results")
	}
	if a.Source != "placeholder" || a.Lat != b.Lat || a.Lng != b.Lng {
		t.Fatalf("expected deterministic placeholder, got %+v and %+v", a, b)
	}
	if primary.calls != 0 {
		t.Fatalf("unconfigured primary must not be called")
	}

	inZone := false
	for _, z := range placeholderZones {
		if abs(a.Lat-z.lat) <= placeholderJitter && abs(a.Lng-z.lng) <= placeholderJitter {
			inZone = true
		}
	}
	if !inZone {
		t.Fatalf("placeholder %+v is outside every zone", a)
	}

	configured := &fakeProvider{name: "google", configured: true, err: ErrNoResults}
	r = NewResolver(newFakeCache(), nil, Options{}, configured)
	if res, _ := r.Resolve(context.Background(), testAddress); res != nil {
		t.Fatalf("placeholder must not run when primary is configured, got %+v", res)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
