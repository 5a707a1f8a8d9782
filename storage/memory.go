package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mls_ingest/geocode"
	"mls_ingest/models"
)

// MemoryStore is a process-local implementation of every store interface.
// It backs tests and runs without DATABASE_URL. Rate-limit windows come from
// the embedded geocode.MemoryCounter.
type MemoryStore struct {
	*geocode.MemoryCounter

	mu       sync.Mutex
	listings map[string]models.Listing
	state    models.SyncState
	geocodes map[string]models.GeocodeEntry
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		MemoryCounter: geocode.NewMemoryCounter(),
		listings:      make(map[string]models.Listing),
		state:         models.NewSyncState(),
		geocodes:      make(map[string]models.GeocodeEntry),
		now:           time.Now,
	}
}

// WithClock replaces the time source used for timestamps the store sets itself.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// ===== Listings =====

func (m *MemoryStore) Upsert(ctx context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := cloneListing(*l)
	if prev, ok := m.listings[l.ListingKey]; ok {
		if next.Latitude == nil {
			next.Latitude = prev.Latitude
		}
		if next.Longitude == nil {
			next.Longitude = prev.Longitude
		}
		if next.Geohash == "" {
			next.Geohash = prev.Geohash
		}
		if next.ListedDate == nil {
			next.ListedDate = prev.ListedDate
		}
		if next.SoldDate == nil {
			next.SoldDate = prev.SoldDate
		}
		next.GeocodeAttempts = prev.GeocodeAttempts
		next.ImageAttempts = prev.ImageAttempts
	} else {
		next.GeocodeAttempts = 0
		next.ImageAttempts = 0
	}
	next.HasImages = len(next.ImageURLs) > 0
	next.SyncFailed = false
	next.SyncError = nil
	m.listings[l.ListingKey] = next
	return nil
}

func (m *MemoryStore) FindByKey(ctx context.Context, listingKey string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[listingKey]
	if !ok {
		return nil, nil
	}
	out := cloneListing(l)
	return &out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, listingKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.listings[listingKey]; !ok {
		return false, nil
	}
	delete(m.listings, listingKey)
	return true, nil
}

func (m *MemoryStore) MarkSyncFailed(ctx context.Context, listingKey, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[listingKey]
	if !ok {
		return nil
	}
	l.SyncFailed = true
	l.SyncError = &message
	m.listings[listingKey] = l
	return nil
}

func (m *MemoryStore) PurgeStaleActive(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, l := range m.listings {
		if l.IsActive && l.LastSyncedAt.Before(olderThan) {
			delete(m.listings, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountBy(ctx context.Context, c models.CountCriteria) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.listings {
		if c.Status != "" && l.Status != c.Status {
			continue
		}
		if c.City != "" && !strings.EqualFold(l.City, c.City) {
			continue
		}
		if c.ActiveOnly && !l.IsActive {
			continue
		}
		if c.SyncFailed != nil && l.SyncFailed != *c.SyncFailed {
			continue
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) MaxLastSyncedAt(ctx context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var max *time.Time
	for _, l := range m.listings {
		if l.SyncFailed {
			continue
		}
		if max == nil || l.LastSyncedAt.After(*max) {
			t := l.LastSyncedAt
			max = &t
		}
	}
	return max, nil
}

func (m *MemoryStore) ListMissingCoordinates(ctx context.Context, limit, maxAttempts int) ([]models.Listing, error) {
	return m.list(limit, func(l models.Listing) bool {
		return l.Latitude == nil && l.Address != "" && l.GeocodeAttempts < maxAttempts
	}, newestFirst), nil
}

func (m *MemoryStore) SetCoordinates(ctx context.Context, listingKey string, lat, lng *float64, geohash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[listingKey]
	if !ok {
		return nil
	}
	if lat != nil {
		l.Latitude = lat
	}
	if lng != nil {
		l.Longitude = lng
	}
	if geohash != "" {
		l.Geohash = geohash
	}
	l.GeocodeAttempts++
	m.listings[listingKey] = l
	return nil
}

func (m *MemoryStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.Listing, error) {
	return m.list(limit, func(l models.Listing) bool {
		return l.SyncFailed || l.LastSyncedAt.Before(olderThan)
	}, func(a, b models.Listing) bool {
		if a.SyncFailed != b.SyncFailed {
			return a.SyncFailed
		}
		return a.LastSyncedAt.Before(b.LastSyncedAt)
	}), nil
}

func (m *MemoryStore) ListWithoutImages(ctx context.Context, limit, maxAttempts int) ([]models.Listing, error) {
	return m.list(limit, func(l models.Listing) bool {
		return !l.HasImages && l.ImageAttempts < maxAttempts
	}, func(a, b models.Listing) bool {
		if a.ImageAttempts != b.ImageAttempts {
			return a.ImageAttempts < b.ImageAttempts
		}
		return newestFirst(a, b)
	}), nil
}

func (m *MemoryStore) SetImages(ctx context.Context, listingKey string, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[listingKey]
	if !ok {
		return nil
	}
	l.ImageURLs = append([]string(nil), urls...)
	l.HasImages = len(urls) > 0
	l.ImageAttempts++
	m.listings[listingKey] = l
	return nil
}

func (m *MemoryStore) list(limit int, keep func(models.Listing) bool, less func(a, b models.Listing) bool) []models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Listing
	for _, l := range m.listings {
		if keep(l) {
			out = append(out, cloneListing(l))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ListingKey < out[j].ListingKey
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func newestFirst(a, b models.Listing) bool {
	return a.LastSyncedAt.After(b.LastSyncedAt)
}

func cloneListing(l models.Listing) models.Listing {
	if l.ImageURLs != nil {
		l.ImageURLs = append([]string(nil), l.ImageURLs...)
	}
	if l.RawData != nil {
		l.RawData = append([]byte(nil), l.RawData...)
	}
	return l
}

// ===== Sync state =====

func (m *MemoryStore) GetInstance(ctx context.Context) (models.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStore) StartSync(ctx context.Context, req StartRequest) (models.SyncState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Status == models.SyncRunning || m.state.Status == models.SyncPaused {
		return m.state, false, nil
	}

	now := m.now()
	if req.Scope != "" {
		if !req.resumes(m.state) {
			m.state.CurrentBatchOffset = 0
		}
		m.state.CheckpointScope = req.Scope
	}
	m.state.Status = models.SyncRunning
	m.state.BatchSize = req.BatchSize
	m.state.LastSyncStartedAt = &now
	m.state.LastError = nil
	m.state.CurrentRun = models.RunStats{}
	return m.state, true, nil
}

func (m *MemoryStore) UpdateRunStats(ctx context.Context, d models.RunStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.CurrentRun.Add(d)
	m.state.TotalSynced += d.Synced + d.Updated + d.StatusChanged
	return nil
}

func (m *MemoryStore) SetOffset(ctx context.Context, offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Mode == models.ModeInitialLoad && offset < m.state.CurrentBatchOffset {
		return nil
	}
	m.state.CurrentBatchOffset = offset
	return nil
}

func (m *MemoryStore) CompleteSync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.state.Status = models.SyncIdle
	m.state.LastSyncCompletedAt = &now
	return nil
}

func (m *MemoryStore) FailSync(ctx context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Status = models.SyncFailed
	m.state.LastError = &message
	return nil
}

func (m *MemoryStore) MarkInitialSyncComplete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.state.InitialSyncComplete = true
	m.state.InitialSyncCompletedAt = &now
	m.state.Mode = models.ModeIncremental
	m.state.CurrentBatchOffset = 0
	return nil
}

func (m *MemoryStore) SetPaused(ctx context.Context, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if paused {
		if m.state.Status == models.SyncRunning {
			return ErrSyncRunning
		}
		m.state.Status = models.SyncPaused
		return nil
	}
	if m.state.Status == models.SyncPaused {
		m.state.Status = models.SyncIdle
	}
	return nil
}

// SetState overwrites the singleton. Test setup only.
func (m *MemoryStore) SetState(st models.SyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
}

// ===== Geocode cache =====

func (m *MemoryStore) GetGeocode(ctx context.Context, addressHash string) (*models.GeocodeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.geocodes[addressHash]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) PutGeocode(ctx context.Context, e *models.GeocodeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geocodes[e.AddressHash] = *e
	return nil
}
