package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mls_ingest/models"
	"mls_ingest/storage"
)

type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeUpdated       Outcome = "updated"
	OutcomeStatusChanged Outcome = "status_changed"
	OutcomeRemoved       Outcome = "removed"
	OutcomeSkipped       Outcome = "skipped"
)

// ProcessResult contains the outcome of processing one upstream record
type ProcessResult struct {
	ListingKey string
	Outcome    Outcome
	Listing    *models.Listing
	Change     *models.StatusChange
}

// Delta is the run counter contribution of this result.
func (r *ProcessResult) Delta() models.RunStats {
	switch r.Outcome {
	case OutcomeCreated:
		return models.RunStats{Synced: 1}
	case OutcomeUpdated:
		return models.RunStats{Updated: 1}
	case OutcomeStatusChanged:
		return models.RunStats{StatusChanged: 1}
	}
	return models.RunStats{}
}

// ListingService normalizes upstream records and writes them to the repository.
type ListingService struct {
	repo storage.ListingRepository
	now  func() time.Time
}

func NewListingService(repo storage.ListingRepository) *ListingService {
	return &ListingService{repo: repo, now: time.Now}
}

// WithClock overrides the sync timestamp source.
func (s *ListingService) WithClock(now func() time.Time) *ListingService {
	s.now = now
	return s
}

// ProcessRecord decodes, derives and upserts one record. images holds the
// harvested URLs for the page; when imagesKnown is false the stored images
// are left alone. Records that are neither active nor closed are removed
// instead of stored. Idempotent for the same input.
func (s *ListingService) ProcessRecord(ctx context.Context, raw json.RawMessage, images map[string][]string, imagesKnown bool) (*ProcessResult, error) {
	rec, err := DecodeRecord(raw)
	if err != nil {
		return nil, err
	}
	listing := NormalizeListing(rec, s.now())
	result := &ProcessResult{ListingKey: listing.ListingKey, Listing: listing}

	existing, err := s.repo.FindByKey(ctx, listing.ListingKey)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", listing.ListingKey, err)
	}

	if listing.Status == models.StatusActive && !listing.IsActive {
		result.Outcome = OutcomeSkipped
		if existing != nil {
			if _, err := s.repo.Delete(ctx, listing.ListingKey); err != nil {
				return nil, fmt.Errorf("delete %s: %w", listing.ListingKey, err)
			}
			result.Outcome = OutcomeRemoved
			slog.Debug("Listing: removed untracked record", "key", listing.ListingKey, "standard_status", rec.StandardStatus)
		}
		return result, nil
	}

	if imagesKnown {
		listing.ImageURLs = images[listing.ListingKey]
	}
	if len(listing.ImageURLs) == 0 && existing != nil {
		listing.ImageURLs = existing.ImageURLs
	}
	listing.HasImages = len(listing.ImageURLs) > 0

	if err := s.repo.Upsert(ctx, listing); err != nil {
		if existing != nil {
			if markErr := s.repo.MarkSyncFailed(ctx, listing.ListingKey, err.Error()); markErr != nil {
				slog.Warn("Listing: could not flag sync failure", "key", listing.ListingKey, "err", markErr)
			}
		}
		return nil, err
	}

	switch {
	case existing == nil:
		result.Outcome = OutcomeCreated
	case existing.Status != listing.Status:
		result.Outcome = OutcomeStatusChanged
		result.Change = &models.StatusChange{
			ListingKey: listing.ListingKey,
			MLSNumber:  listing.MLSNumber,
			From:       existing.Status,
			To:         listing.Status,
			Price:      listing.Price,
			At:         listing.LastSyncedAt,
		}
	default:
		result.Outcome = OutcomeUpdated
	}
	return result, nil
}

// MarkFailed flags an existing record whose processing failed.
func (s *ListingService) MarkFailed(ctx context.Context, listingKey string, cause error) {
	if listingKey == "" {
		return
	}
	if err := s.repo.MarkSyncFailed(ctx, listingKey, cause.Error()); err != nil {
		slog.Warn("Listing: could not flag sync failure", "key", listingKey, "err", err)
	}
}
