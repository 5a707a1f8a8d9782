package geocode

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mls_ingest/identity"
	"mls_ingest/models"
)

const DefaultTTL = 7 * 24 * time.Hour

// Cache persists lookups by address hash. Put must be an upsert.
type Cache interface {
	GetGeocode(ctx context.Context, addressHash string) (*models.GeocodeEntry, error)
	PutGeocode(ctx context.Context, entry *models.GeocodeEntry) error
}

// Recorder observes lookup outcomes. metrics.Collector implements it.
type Recorder interface {
	ObserveGeocode(provider, outcome string)
}

type Options struct {
	TTL      time.Duration
	Now      func() time.Time
	Recorder Recorder
}

// Resolver turns a free-form address into coordinates through an ordered
// provider chain, a persistent cache and per-provider rate limits.
type Resolver struct {
	providers []Provider
	cache     Cache
	limiter   Limiter
	ttl       time.Duration
	now       func() time.Time
	recorder  Recorder
}

// NewResolver builds a resolver. The first provider is the primary; when it is
// not configured the resolver falls back to offline placeholder coordinates
// after the remaining providers come up empty.
func NewResolver(cache Cache, limiter Limiter, opts Options, providers ...Provider) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		providers: providers,
		cache:     cache,
		limiter:   limiter,
		ttl:       opts.TTL,
		now:       opts.Now,
		recorder:  opts.Recorder,
	}
}

// PlaceholderMode reports whether no primary credential is configured.
func (r *Resolver) PlaceholderMode() bool {
	return len(r.providers) == 0 || !r.providers[0].Configured()
}

// Resolve returns coordinates for address, or nil when none could be found.
// Rate limiting and provider failures are never returned as errors; the only
// error is a cancelled context.
func (r *Resolver) Resolve(ctx context.Context, address string) (*Result, error) {
	address = identity.CleanAddress(address)
	if address == "" {
		return nil, nil
	}
	hash := identity.AddressHash(address)

	if res, hit := r.fromCache(ctx, hash); hit {
		return res, nil
	}

	definitiveMiss := false
	for i, p := range r.providers {
		if i == 0 && !p.Configured() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := r.try(ctx, p, address)
		if err == nil {
			r.store(ctx, &models.GeocodeEntry{
				AddressHash:      hash,
				OriginalAddress:  address,
				Latitude:         &res.Lat,
				Longitude:        &res.Lng,
				FormattedAddress: res.FormattedAddress,
				Provider:         res.Source,
				GeocodedAt:       r.now(),
				Status:           models.GeocodeSuccess,
			})
			return res, nil
		}
		if errors.Is(err, ErrNoResults) {
			definitiveMiss = true
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if r.PlaceholderMode() {
		r.observe("placeholder", "success")
		return placeholder(address), nil
	}

	if definitiveMiss {
		r.store(ctx, &models.GeocodeEntry{
			AddressHash:     hash,
			OriginalAddress: address,
			GeocodedAt:      r.now(),
			Status:          models.GeocodeFailed,
		})
	}
	return nil, nil
}

// fromCache reports hit=true for a fresh success (with coordinates) or a fresh
// failure (nil result). Pending and stale entries are misses.
func (r *Resolver) fromCache(ctx context.Context, hash string) (*Result, bool) {
	if r.cache == nil {
		return nil, false
	}
	entry, err := r.cache.GetGeocode(ctx, hash)
	if err != nil {
		slog.Warn("Geocode: cache read failed", "err", err)
		return nil, false
	}
	if entry == nil || r.now().Sub(entry.GeocodedAt) >= r.ttl {
		return nil, false
	}

	switch entry.Status {
	case models.GeocodeSuccess:
		if entry.Latitude == nil || entry.Longitude == nil {
			return nil, false
		}
		r.observe("cache", "hit")
		return &Result{
			Lat:              *entry.Latitude,
			Lng:              *entry.Longitude,
			Source:           entry.Provider,
			FormattedAddress: entry.FormattedAddress,
		}, true
	case models.GeocodeFailed:
		r.observe("cache", "negative_hit")
		return nil, true
	}
	return nil, false
}

func (r *Resolver) try(ctx context.Context, p Provider, address string) (*Result, error) {
	if r.limiter != nil {
		ok, err := r.limiter.Allow(ctx, p.Name())
		if err != nil {
			slog.Warn("Geocode: limiter error, skipping provider", "provider", p.Name(), "err", err)
			r.observe(p.Name(), "limiter_error")
			return nil, ErrRateLimited
		}
		if !ok {
			r.observe(p.Name(), "rate_limited")
			return nil, ErrRateLimited
		}
	}

	res, err := p.Geocode(ctx, address)
	switch {
	case err == nil:
		r.observe(p.Name(), "success")
	case errors.Is(err, ErrNoResults):
		r.observe(p.Name(), "no_results")
	case errors.Is(err, ErrRateLimited):
		r.observe(p.Name(), "rate_limited")
	default:
		slog.Warn("Geocode: provider failed", "provider", p.Name(), "err", err)
		r.observe(p.Name(), "error")
	}
	return res, err
}

func (r *Resolver) store(ctx context.Context, entry *models.GeocodeEntry) {
	if r.cache == nil {
		return
	}
	if err := r.cache.PutGeocode(ctx, entry); err != nil {
		slog.Warn("Geocode: cache write failed", "err", err)
	}
}

func (r *Resolver) observe(provider, outcome string) {
	if r.recorder != nil {
		r.recorder.ObserveGeocode(provider, outcome)
	}
}
