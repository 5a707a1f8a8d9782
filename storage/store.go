package storage

import (
	"context"
	"errors"
	"time"

	"mls_ingest/models"
)

var ErrSyncRunning = errors.New("already syncing")

// ListingRepository is the durable store for normalized listings.
// Lookups return (nil, nil) when nothing matches.
type ListingRepository interface {
	Upsert(ctx context.Context, l *models.Listing) error
	FindByKey(ctx context.Context, listingKey string) (*models.Listing, error)
	Delete(ctx context.Context, listingKey string) (bool, error)
	MarkSyncFailed(ctx context.Context, listingKey, message string) error
	PurgeStaleActive(ctx context.Context, olderThan time.Time) (int64, error)
	CountBy(ctx context.Context, c models.CountCriteria) (int, error)
	MaxLastSyncedAt(ctx context.Context) (*time.Time, error)

	ListMissingCoordinates(ctx context.Context, limit, maxAttempts int) ([]models.Listing, error)
	SetCoordinates(ctx context.Context, listingKey string, lat, lng *float64, geohash string) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.Listing, error)
	ListWithoutImages(ctx context.Context, limit, maxAttempts int) ([]models.Listing, error)
	SetImages(ctx context.Context, listingKey string, urls []string) error
}

// StartRequest describes a run about to start. Scope names the status scope a
// full sync checkpoints; incremental runs leave it empty and the checkpoint is
// not touched. With Resume set the stored offset is kept only while the
// initial load is still running and the checkpoint belongs to Scope.
type StartRequest struct {
	BatchSize int
	Scope     string
	Resume    bool
}

// resumes reports whether st's checkpoint survives the start of req.
func (req StartRequest) resumes(st models.SyncState) bool {
	return req.Resume && st.Mode == models.ModeInitialLoad && st.CheckpointScope == req.Scope
}

// SyncStateStore guards the singleton sync progress record. StartSync is an
// atomic compare-and-set: ok is false when a run is already in progress or the
// process is paused, and nothing is modified in that case. It never changes
// the mode; only MarkInitialSyncComplete does.
type SyncStateStore interface {
	GetInstance(ctx context.Context) (models.SyncState, error)
	StartSync(ctx context.Context, req StartRequest) (models.SyncState, bool, error)
	UpdateRunStats(ctx context.Context, delta models.RunStats) error
	SetOffset(ctx context.Context, offset int) error
	CompleteSync(ctx context.Context) error
	FailSync(ctx context.Context, message string) error
	MarkInitialSyncComplete(ctx context.Context) error
	SetPaused(ctx context.Context, paused bool) error
}
