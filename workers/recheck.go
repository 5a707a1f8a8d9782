package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mls_ingest/models"
	"mls_ingest/notify"
	"mls_ingest/services"
	"mls_ingest/storage"
)

// ListingFetcher reads one upstream record by key. A record that no longer
// exists upstream is reported as (nil, nil).
type ListingFetcher interface {
	FetchOne(ctx context.Context, key string) (json.RawMessage, error)
}

// RecheckWorker re-reads listings that have not been touched by a sync for a
// while, or whose last write failed, straight from the upstream by key.
type RecheckWorker struct {
	repo       storage.ListingRepository
	source     ListingFetcher
	listings   *services.ListingService
	publisher  notify.Publisher
	staleAfter time.Duration
	delay      time.Duration
	now        func() time.Time
	triggerCh  chan struct{}
	logFunc    LogFunc
}

func NewRecheckWorker(repo storage.ListingRepository, source ListingFetcher, staleAfter time.Duration) *RecheckWorker {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return &RecheckWorker{
		repo:       repo,
		source:     source,
		listings:   services.NewListingService(repo),
		staleAfter: staleAfter,
		delay:      200 * time.Millisecond,
		now:        time.Now,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
	}
}

func (w *RecheckWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// SetPublisher enables status change events for rechecked listings.
func (w *RecheckWorker) SetPublisher(p notify.Publisher) {
	w.publisher = p
}

// Trigger causes the worker to run immediately
func (w *RecheckWorker) Trigger() {
	trigger(w.triggerCh)
}

type RecheckStats struct {
	Checked       int
	Removed       int
	StatusChanged int
	Failed        int
}

func (w *RecheckWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	runLoop(ctx, "Recheck", interval, w.triggerCh, func(ctx context.Context) {
		if _, err := w.ProcessBatch(ctx, batchSize); err != nil {
			slog.Warn("Recheck: batch aborted", "err", err)
		}
	})
}

func (w *RecheckWorker) ProcessBatch(ctx context.Context, batchSize int) (RecheckStats, error) {
	var stats RecheckStats

	stale, err := w.repo.ListStale(ctx, w.now().Add(-w.staleAfter), batchSize)
	if err != nil {
		return stats, fmt.Errorf("list stale: %w", err)
	}
	if len(stale) == 0 {
		return stats, nil
	}

	slog.Info("Recheck: checking stale listings", "count", len(stale))

	for i, l := range stale {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if i > 0 && w.delay > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(w.delay):
			}
		}
		stats.Checked++

		raw, err := w.source.FetchOne(ctx, l.ListingKey)
		if err != nil {
			slog.Warn("Recheck: fetch failed", "key", l.ListingKey, "err", err)
			w.listings.MarkFailed(ctx, l.ListingKey, err)
			stats.Failed++
			continue
		}

		if raw == nil {
			if _, err := w.repo.Delete(ctx, l.ListingKey); err != nil {
				slog.Warn("Recheck: delete failed", "key", l.ListingKey, "err", err)
				stats.Failed++
				continue
			}
			slog.Info("Recheck: listing gone upstream, removed", "key", l.ListingKey)
			stats.Removed++
			continue
		}

		res, err := w.listings.ProcessRecord(ctx, raw, nil, false)
		if err != nil {
			slog.Warn("Recheck: process failed", "key", l.ListingKey, "err", err)
			stats.Failed++
			continue
		}

		switch res.Outcome {
		case services.OutcomeRemoved:
			stats.Removed++
		case services.OutcomeStatusChanged:
			stats.StatusChanged++
			if w.publisher != nil && res.Change != nil {
				if err := w.publisher.PublishStatusChange(ctx, *res.Change); err != nil {
					slog.Warn("Recheck: status event not published", "key", l.ListingKey, "err", err)
				}
			}
		}
	}

	if stats.Removed > 0 || stats.StatusChanged > 0 || stats.Failed > 0 {
		msg := fmt.Sprintf("Checked %d listings", stats.Checked)
		if stats.Removed > 0 {
			msg += fmt.Sprintf(", %d removed", stats.Removed)
		}
		if stats.StatusChanged > 0 {
			msg += fmt.Sprintf(", %d status changes", stats.StatusChanged)
		}
		if stats.Failed > 0 {
			msg += fmt.Sprintf(", %d failed", stats.Failed)
		}
		slog.Info("Recheck: " + msg)
		w.logFunc(models.LogLevelInfo, "recheck", msg)
	}
	return stats, nil
}
