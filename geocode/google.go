package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"mls_ingest/httputil"
)

const googleEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// Google is the primary provider, backed by the Google Geocoding API.
type Google struct {
	APIKey   string
	Endpoint string
	Region   string
	Client   *http.Client
	Retry    httputil.RetryPolicy
	Timeout  time.Duration
}

func NewGoogle(apiKey string, client *http.Client) *Google {
	return &Google{
		APIKey:   apiKey,
		Endpoint: googleEndpoint,
		Region:   "ca",
		Client:   client,
		Retry:    httputil.RetryPolicy{MaxAttempts: 2, Delay: time.Second},
		Timeout:  10 * time.Second,
	}
}

func (g *Google) Name() string     { return "google" }
func (g *Google) Configured() bool { return g.APIKey != "" }

type googleResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func (g *Google) Geocode(ctx context.Context, address string) (*Result, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("key", g.APIKey)
	if g.Region != "" {
		params.Set("region", g.Region)
	}
	endpoint := g.Endpoint + "?" + params.Encode()

	resp, err := httputil.Fetch(ctx, g.Client, g.Retry, g.Timeout, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: unexpected status %d", resp.StatusCode)
	}

	var body googleResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("google: decode: %w", err)
	}

	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, ErrNoResults
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("google: status %s: %s", body.Status, body.ErrorMessage)
	}
	if len(body.Results) == 0 {
		return nil, ErrNoResults
	}

	first := body.Results[0]
	return &Result{
		Lat:              first.Geometry.Location.Lat,
		Lng:              first.Geometry.Location.Lng,
		Source:           g.Name(),
		FormattedAddress: first.FormattedAddress,
	}, nil
}
