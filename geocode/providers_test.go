package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func TestGoogle_ParsesFirstResult(t *testing.T) {
	body := loadFixture(t, "google_ok.json")
	var gotKey, gotAddress string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotAddress = r.URL.Query().Get("address")
		w.Write(body)
	}))
	defer srv.Close()

	g := NewGoogle("k-123", srv.Client())
	g.Endpoint = srv.URL

	res, err := g.Geocode(context.Background(), "123 Main St, Toronto")
	if err != nil {
		t.Fatalf("geocode failed: %v", err)
	}
	if gotKey != "k-123" || gotAddress != "123 Main St, Toronto" {
		t.Fatalf("unexpected query key=%q address=%q", gotKey, gotAddress)
	}
	if res.Lat != 43.6863 || res.Lng != -79.3015 {
		t.Fatalf("unexpected coordinates %+v", res)
	}
	if res.Source != "google" {
		t.Fatalf("expected source google, got %s", res.Source)
	}
}

func TestGoogle_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [], "status": "ZERO_RESULTS"}`))
	}))
	defer srv.Close()

	g := NewGoogle("k", srv.Client())
	g.Endpoint = srv.URL
	if _, err := g.Geocode(context.Background(), "nowhere"); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestGoogle_OverQueryLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [], "status": "OVER_QUERY_LIMIT"}`))
	}))
	defer srv.Close()

	g := NewGoogle("k", srv.Client())
	g.Endpoint = srv.URL
	if _, err := g.Geocode(context.Background(), "x"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestNominatim_ParsesStringCoordinates(t *testing.T) {
	body := loadFixture(t, "nominatim_ok.json")
	var gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		w.Write(body)
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL, "mls-ingest/1.0 (ops@example.com)", srv.Client())
	res, err := n.Geocode(context.Background(), "Ottawa")
	if err != nil {
		t.Fatalf("geocode failed: %v", err)
	}
	if gotPath != "/search" {
		t.Fatalf("expected /search, got %s", gotPath)
	}
	if gotUA != "mls-ingest/1.0 (ops@example.com)" {
		t.Fatalf("unexpected user agent %q", gotUA)
	}
	if res.Lat != 45.4215 || res.Lng != -75.6972 {
		t.Fatalf("unexpected coordinates %+v", res)
	}
}

func TestNominatim_EmptyArrayIsNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL, "ua", srv.Client())
	if _, err := n.Geocode(context.Background(), "x"); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}
