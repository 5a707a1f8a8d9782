package odata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"mls_ingest/httputil"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func newTestClient(url string, ttl time.Duration) *Client {
	return NewClient(Options{
		BaseURL:  url,
		Token:    "secret-token",
		Timeout:  2 * time.Second,
		Retry:    httputil.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
		CacheTTL: ttl,
	})
}

func TestFetchManyWithCount_SendsAuthAndParses(t *testing.T) {
	page := loadFixture(t, "property_page.json")
	var gotAuth, gotAccept, gotFilter, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotFilter = r.URL.Query().Get("$filter")
		gotPath = r.URL.Path
		w.Write(page)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	q := NewQuery().AddFilter("City", "Toronto", OpEq).SetTop(2).SetCount(true)

	res, err := c.FetchManyWithCount(context.Background(), q)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Fatalf("expected json accept, got %q", gotAccept)
	}
	if gotPath != "/Property" {
		t.Fatalf("expected /Property, got %s", gotPath)
	}
	if gotFilter != "City eq 'Toronto'" {
		t.Fatalf("unexpected filter %q", gotFilter)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(res.Items))
	}
	if res.Count == nil || *res.Count != 3 {
		t.Fatalf("expected count 3, got %v", res.Count)
	}
}

func TestFetchMany_MissingValueIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"@odata.count": 4}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).FetchMany(context.Background(), NewQuery())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestFetchMany_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"value": []}`))
	}))
	defer srv.Close()

	items, err := newTestClient(srv.URL, 0).FetchMany(context.Background(), NewQuery())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty page, got %d", len(items))
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchMany_StopsAtMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).FetchMany(context.Background(), NewQuery())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 HTTPError, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestFetchMany_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).FetchMany(context.Background(), NewQuery())
	if err == nil {
		t.Fatalf("expected error for 400")
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}

func TestFetchMany_CachesSmallPagesOnly(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"value": [{"ListingKey": "A"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.FetchMany(ctx, NewQuery().SetTop(10).AddFilter("City", "Toronto", OpEq)); err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected cached second call, got %d upstream calls", calls)
	}

	for i := 0; i < 2; i++ {
		if _, err := c.FetchMany(ctx, NewQuery().SetTop(100)); err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected large pages to bypass cache, got %d upstream calls", calls)
	}
}

func TestFetchMany_ZeroTTLDisablesCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"value": []}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 0)
	for i := 0; i < 2; i++ {
		c.FetchMany(context.Background(), NewQuery().SetTop(5))
	}
	if calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls)
	}
}

func TestFetchOne_NotFoundIsNil(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	raw, err := newTestClient(srv.URL, 0).FetchOne(context.Background(), "X9'9")
	if err != nil {
		t.Fatalf("expected nil error for 404, got %v", err)
	}
	if raw != nil {
		t.Fatalf("expected nil record, got %s", raw)
	}
	if gotPath != "/Property('X9''9')" {
		t.Fatalf("unexpected path %s", gotPath)
	}
}

func TestFetchOne_OtherErrorsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, 0).FetchOne(context.Background(), "X1"); err == nil {
		t.Fatalf("expected error for 403")
	}
}

func TestFetchMedia_GroupsAndOrders(t *testing.T) {
	page := loadFixture(t, "media_page.json")
	var gotFilter, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("$filter")
		gotPath = r.URL.Path
		w.Write(page)
	}))
	defer srv.Close()

	groups, err := newTestClient(srv.URL, 0).FetchMedia(context.Background(), []string{"X1001", "X1002"}, "Large", 500)
	if err != nil {
		t.Fatalf("fetch media failed: %v", err)
	}
	if gotPath != "/Media" {
		t.Fatalf("expected /Media, got %s", gotPath)
	}
	want := "ResourceRecordKey in ('X1001','X1002') and ImageSizeDescription eq 'Large'"
	if gotFilter != want {
		t.Fatalf("expected filter %q, got %q", want, gotFilter)
	}
	if len(groups["X1001"]) != 3 || len(groups["X1002"]) != 1 {
		t.Fatalf("unexpected grouping: %d / %d", len(groups["X1001"]), len(groups["X1002"]))
	}
	for i, item := range groups["X1001"] {
		if item.Order != i+1 {
			t.Fatalf("expected order %d at position %d, got %d", i+1, i, item.Order)
		}
	}
}

func TestFetchMedia_NoKeysNoCall(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", 0)
	groups, err := c.FetchMedia(context.Background(), nil, "Large", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected empty map, got %d", len(groups))
	}
}
