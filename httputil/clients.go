package httputil

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

type Clients struct {
	Listing *http.Client // listing API, proxied when PROXY_URL is set
	Geocode *http.Client // geocoding providers, always direct
}

func NewClients(proxyURL string, timeout time.Duration) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
			slog.Info("HTTP: listing client using proxy", "host", parsed.Host)
		} else {
			slog.Warn("HTTP: ignoring invalid proxy URL", "err", err)
		}
	}

	return &Clients{
		Listing: &http.Client{Transport: transport},
		Geocode: &http.Client{Timeout: timeout},
	}
}
