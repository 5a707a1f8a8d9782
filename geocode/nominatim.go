package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mls_ingest/httputil"
)

const nominatimEndpoint = "https://nominatim.openstreetmap.org"

// Nominatim is the fallback provider, an OpenStreetMap free-text search.
type Nominatim struct {
	BaseURL      string
	UserAgent    string
	CountryCodes string
	Client       *http.Client
	Retry        httputil.RetryPolicy
	Timeout      time.Duration
}

func NewNominatim(baseURL, userAgent string, client *http.Client) *Nominatim {
	if baseURL == "" {
		baseURL = nominatimEndpoint
	}
	return &Nominatim{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		UserAgent:    userAgent,
		CountryCodes: "ca",
		Client:       client,
		Retry:        httputil.RetryPolicy{MaxAttempts: 2, Delay: time.Second},
		Timeout:      10 * time.Second,
	}
}

func (n *Nominatim) Name() string     { return "nominatim" }
func (n *Nominatim) Configured() bool { return n.BaseURL != "" }

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (n *Nominatim) Geocode(ctx context.Context, address string) (*Result, error) {
	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "json")
	params.Set("limit", "1")
	if n.CountryCodes != "" {
		params.Set("countrycodes", n.CountryCodes)
	}
	endpoint := n.BaseURL + "/search?" + params.Encode()

	resp, err := httputil.Fetch(ctx, n.Client, n.Retry, n.Timeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		// Nominatim usage policy requires an identifying User-Agent
		req.Header.Set("User-Agent", n.UserAgent)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("nominatim: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim: unexpected status %d", resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(resp.Body, &places); err != nil {
		return nil, fmt.Errorf("nominatim: decode: %w", err)
	}
	if len(places) == 0 {
		return nil, ErrNoResults
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim: bad lat %q", places[0].Lat)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("nominatim: bad lon %q", places[0].Lon)
	}

	return &Result{
		Lat:              lat,
		Lng:              lng,
		Source:           n.Name(),
		FormattedAddress: places[0].DisplayName,
	}, nil
}
