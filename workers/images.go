package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mls_ingest/models"
	"mls_ingest/storage"
)

// ImageSource resolves image URLs for a batch of listing keys.
type ImageSource interface {
	FetchImages(ctx context.Context, keys []string) (map[string][]string, error)
}

// ImageBackfillWorker fills image URLs for listings that were stored while
// the media lookup was failing or returned nothing. A listing is given up on
// after maxAttempts lookups.
type ImageBackfillWorker struct {
	repo        storage.ListingRepository
	images      ImageSource
	maxAttempts int
	triggerCh   chan struct{}
	logFunc     LogFunc
}

func NewImageBackfillWorker(repo storage.ListingRepository, images ImageSource, maxAttempts int) *ImageBackfillWorker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ImageBackfillWorker{
		repo:        repo,
		images:      images,
		maxAttempts: maxAttempts,
		triggerCh:   make(chan struct{}, 1),
		logFunc:     NoOpLogger,
	}
}

func (w *ImageBackfillWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *ImageBackfillWorker) Trigger() {
	trigger(w.triggerCh)
}

func (w *ImageBackfillWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	runLoop(ctx, "Images", interval, w.triggerCh, func(ctx context.Context) {
		if _, err := w.ProcessBatch(ctx, batchSize); err != nil {
			slog.Warn("Images: batch failed", "err", err)
		}
	})
}

// ProcessBatch returns how many listings received images.
func (w *ImageBackfillWorker) ProcessBatch(ctx context.Context, batchSize int) (int, error) {
	listings, err := w.repo.ListWithoutImages(ctx, batchSize, w.maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("list without images: %w", err)
	}
	if len(listings) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(listings))
	for _, l := range listings {
		keys = append(keys, l.ListingKey)
	}

	urls, err := w.images.FetchImages(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("fetch images: %w", err)
	}

	// Misses are written too so the attempt counter moves on.
	filled := 0
	for _, key := range keys {
		found := urls[key]
		if err := w.repo.SetImages(ctx, key, found); err != nil {
			slog.Warn("Images: failed to store", "key", key, "err", err)
			continue
		}
		if len(found) > 0 {
			filled++
		}
	}

	if filled > 0 {
		slog.Info("Images: backfilled listings", "filled", filled, "checked", len(keys))
		w.logFunc(models.LogLevelInfo, "images", fmt.Sprintf("Backfilled images for %d of %d listings", filled, len(keys)))
	}
	return filled, nil
}
