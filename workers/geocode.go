package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mmcloughlin/geohash"
	"golang.org/x/sync/errgroup"

	"mls_ingest/geocode"
	"mls_ingest/models"
	"mls_ingest/services"
	"mls_ingest/storage"
)

// GeohashPrecision is roughly a 150m cell.
const GeohashPrecision = 7

// Geocoder resolves an address, returning nil when nothing was found.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (*geocode.Result, error)
}

// GeocodeWorker fills in coordinates for listings the feed delivered without them.
type GeocodeWorker struct {
	repo        storage.ListingRepository
	geocoder    Geocoder
	concurrency int
	maxAttempts int
	triggerCh   chan struct{}
	logFunc     LogFunc
}

func NewGeocodeWorker(repo storage.ListingRepository, geocoder Geocoder, concurrency, maxAttempts int) *GeocodeWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &GeocodeWorker{
		repo:        repo,
		geocoder:    geocoder,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		triggerCh:   make(chan struct{}, 1),
		logFunc:     NoOpLogger,
	}
}

func (w *GeocodeWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *GeocodeWorker) Trigger() {
	trigger(w.triggerCh)
}

// GeocodeStats counts one batch.
type GeocodeStats struct {
	Attempted int
	Resolved  int
	Missed    int
}

func (w *GeocodeWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	runLoop(ctx, "Geocode", interval, w.triggerCh, func(ctx context.Context) {
		if _, err := w.ProcessBatch(ctx, batchSize); err != nil {
			slog.Warn("Geocode: batch aborted", "err", err)
		}
	})
}

// ProcessBatch geocodes up to batchSize listings. Every attempt is recorded so
// an address that never resolves stops being retried after maxAttempts.
func (w *GeocodeWorker) ProcessBatch(ctx context.Context, batchSize int) (GeocodeStats, error) {
	listings, err := w.repo.ListMissingCoordinates(ctx, batchSize, w.maxAttempts)
	if err != nil {
		return GeocodeStats{}, fmt.Errorf("list missing coordinates: %w", err)
	}
	if len(listings) == 0 {
		return GeocodeStats{}, nil
	}

	slog.Info("Geocode: processing listings", "count", len(listings))

	var resolved, missed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for i := range listings {
		l := &listings[i]
		g.Go(func() error {
			ok, err := w.geocodeListing(gctx, l)
			if err != nil {
				return err
			}
			if ok {
				resolved.Add(1)
			} else {
				missed.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	stats := GeocodeStats{Attempted: len(listings), Resolved: int(resolved.Load()), Missed: int(missed.Load())}
	if stats.Resolved > 0 || stats.Missed > 0 {
		slog.Info("Geocode: batch done", "resolved", stats.Resolved, "missed", stats.Missed)
		w.logFunc(models.LogLevelInfo, "geocode",
			fmt.Sprintf("Geocoded %d of %d listings", stats.Resolved, stats.Attempted))
	}
	return stats, err
}

func (w *GeocodeWorker) geocodeListing(ctx context.Context, l *models.Listing) (bool, error) {
	res, err := w.geocoder.Resolve(ctx, services.GeocodeAddress(l))
	if err != nil {
		return false, err
	}

	if res == nil {
		if err := w.repo.SetCoordinates(ctx, l.ListingKey, nil, nil, ""); err != nil {
			slog.Warn("Geocode: failed to record attempt", "key", l.ListingKey, "err", err)
		}
		return false, nil
	}

	lat, lng := res.Lat, res.Lng
	hash := geohash.EncodeWithPrecision(lat, lng, GeohashPrecision)
	if err := w.repo.SetCoordinates(ctx, l.ListingKey, &lat, &lng, hash); err != nil {
		slog.Warn("Geocode: failed to store coordinates", "key", l.ListingKey, "err", err)
		return false, nil
	}
	slog.Debug("Geocode: resolved", "key", l.ListingKey, "source", res.Source, "geohash", hash)
	return true, nil
}
