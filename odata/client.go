package odata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"mls_ingest/httputil"
)

// cacheBypassTop is the page size above which responses are never cached.
const cacheBypassTop = 50

var ErrMalformedResponse = errors.New("malformed response")

// HTTPError is returned for any non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

type Options struct {
	BaseURL       string
	Resource      string // entity set for listings, e.g. Property
	MediaResource string // entity set for media, e.g. Media
	Token         string
	Timeout       time.Duration
	Retry         httputil.RetryPolicy
	CacheTTL      time.Duration // 0 disables the response cache
	HTTPClient    *http.Client
}

// Page is one collection response.
type Page struct {
	Items []json.RawMessage
	Count *int
}

type Client struct {
	opts  Options
	http  *http.Client
	cache *cache.Cache
}

const envelopeSchema = `{
	"type": "object",
	"required": ["value"],
	"properties": {
		"value": {"type": "array"},
		"@odata.count": {"type": "integer"}
	}
}`

var envelope = jsonschema.MustCompileString("envelope.json", envelopeSchema)

func NewClient(opts Options) *Client {
	if opts.Resource == "" {
		opts.Resource = "Property"
	}
	if opts.MediaResource == "" {
		opts.MediaResource = "Media"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{opts: opts, http: httpClient}
	if opts.CacheTTL > 0 {
		c.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return c
}

// FetchMany returns the value array of a collection query.
func (c *Client) FetchMany(ctx context.Context, q *Query) ([]json.RawMessage, error) {
	page, err := c.FetchManyWithCount(ctx, q)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// FetchManyWithCount returns the value array and @odata.count when the server sent one.
func (c *Client) FetchManyWithCount(ctx context.Context, q *Query) (*Page, error) {
	return c.fetchCollection(ctx, c.opts.Resource, q)
}

// FetchOne reads a single entity by key. A 404 is reported as (nil, nil).
func (c *Client) FetchOne(ctx context.Context, key string) (json.RawMessage, error) {
	path := fmt.Sprintf("%s('%s')", c.opts.Resource, url.PathEscape(EscapeKey(key)))
	endpoint := c.opts.BaseURL + "/" + path

	cacheKey := ""
	if c.cache != nil {
		cacheKey = hashKey(path, nil)
		if v, ok := c.cache.Get(cacheKey); ok {
			return v.(json.RawMessage), nil
		}
	}

	body, err := c.do(ctx, endpoint)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid JSON for %s", ErrMalformedResponse, path)
	}

	raw := json.RawMessage(body)
	if c.cache != nil {
		c.cache.SetDefault(cacheKey, raw)
	}
	return raw, nil
}

func (c *Client) fetchCollection(ctx context.Context, resource string, q *Query) (*Page, error) {
	params := q.Values()
	endpoint := c.opts.BaseURL + "/" + resource
	if enc := params.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	useCache := c.cache != nil && q.Top() <= cacheBypassTop
	cacheKey := ""
	if useCache {
		cacheKey = hashKey(resource, params)
		if v, ok := c.cache.Get(cacheKey); ok {
			return v.(*Page), nil
		}
	}

	body, err := c.do(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", resource, err)
	}

	if useCache {
		c.cache.SetDefault(cacheKey, page)
	}
	return page, nil
}

func decodePage(body []byte) (*Page, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := envelope.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var env struct {
		Value []json.RawMessage `json:"value"`
		Count *int              `json:"@odata.count"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &Page{Items: env.Value, Count: env.Count}, nil
}

// do runs a GET with bearer auth, a per-attempt timeout and the retry policy.
func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	resp, err := httputil.Fetch(ctx, c.http, c.opts.Retry, c.opts.Timeout, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.opts.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.Token)
		}
		return req, nil
	})
	if err != nil {
		slog.Error("Listing API: request failed", "url", endpoint, "err", err)
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Listing API: non-2xx response", "status", resp.StatusCode, "url", endpoint, "attempts", resp.Attempts)
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: endpoint, Body: truncate(string(resp.Body), 300)}
	}
	return resp.Body, nil
}

// hashKey derives a cache key from the path and the sorted query parameters.
func hashKey(path string, params url.Values) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{'?'})
	h.Write([]byte(params.Encode())) // Encode sorts by key
	return hex.EncodeToString(h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
