package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"mls_ingest/models"
)

//go:embed schema.sql
var postgresSchema string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `listing_key, mls_number, latitude, longitude, geohash, address, city, province,
	postal_code, country, property_type, property_sub_type, status, is_active, price, bedrooms,
	bathrooms, parking_spaces, square_footage, lot_size, remarks, listed_date, sold_date,
	updated_date, last_synced_at, raw_data, image_urls, has_images, geocode_attempts,
	image_attempts, sync_failed, sync_error`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	var status string
	err := row.Scan(
		&l.ListingKey, &l.MLSNumber, &l.Latitude, &l.Longitude, &l.Geohash, &l.Address, &l.City, &l.Province,
		&l.PostalCode, &l.Country, &l.PropertyType, &l.PropertySubType, &status, &l.IsActive, &l.Price, &l.Bedrooms,
		&l.Bathrooms, &l.ParkingSpaces, &l.SquareFootage, &l.LotSize, &l.Remarks, &l.ListedDate, &l.SoldDate,
		&l.UpdatedDate, &l.LastSyncedAt, &l.RawData, &l.ImageURLs, &l.HasImages, &l.GeocodeAttempts,
		&l.ImageAttempts, &l.SyncFailed, &l.SyncError,
	)
	if err != nil {
		return nil, err
	}
	l.Status = models.ListingStatus(status)
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]models.Listing, error) {
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// Upsert inserts or refreshes a listing. Coordinates survive an update that
// carries none, and a successful write clears any earlier sync failure.
func (s *PostgresStore) Upsert(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, 0, 0, FALSE, NULL
		)
		ON CONFLICT (listing_key) DO UPDATE SET
			mls_number = EXCLUDED.mls_number,
			latitude = COALESCE(EXCLUDED.latitude, listings.latitude),
			longitude = COALESCE(EXCLUDED.longitude, listings.longitude),
			geohash = COALESCE(NULLIF(EXCLUDED.geohash, ''), listings.geohash),
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			province = EXCLUDED.province,
			postal_code = EXCLUDED.postal_code,
			country = EXCLUDED.country,
			property_type = EXCLUDED.property_type,
			property_sub_type = EXCLUDED.property_sub_type,
			status = EXCLUDED.status,
			is_active = EXCLUDED.is_active,
			price = EXCLUDED.price,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			parking_spaces = EXCLUDED.parking_spaces,
			square_footage = EXCLUDED.square_footage,
			lot_size = EXCLUDED.lot_size,
			remarks = EXCLUDED.remarks,
			listed_date = COALESCE(EXCLUDED.listed_date, listings.listed_date),
			sold_date = COALESCE(EXCLUDED.sold_date, listings.sold_date),
			updated_date = EXCLUDED.updated_date,
			last_synced_at = EXCLUDED.last_synced_at,
			raw_data = EXCLUDED.raw_data,
			image_urls = EXCLUDED.image_urls,
			has_images = EXCLUDED.has_images,
			sync_failed = FALSE,
			sync_error = NULL,
			updated_at = NOW()`

	images := l.ImageURLs
	if images == nil {
		images = []string{}
	}

	_, err := s.pool.Exec(ctx, query,
		l.ListingKey, l.MLSNumber, l.Latitude, l.Longitude, l.Geohash, l.Address, l.City, l.Province,
		l.PostalCode, l.Country, l.PropertyType, l.PropertySubType, string(l.Status), l.IsActive, l.Price, l.Bedrooms,
		l.Bathrooms, l.ParkingSpaces, l.SquareFootage, l.LotSize, l.Remarks, l.ListedDate, l.SoldDate,
		l.UpdatedDate, l.LastSyncedAt, l.RawData, images, len(images) > 0,
	)
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", l.ListingKey, err)
	}
	return nil
}

func (s *PostgresStore) FindByKey(ctx context.Context, listingKey string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE listing_key = $1`

	l, err := scanListing(s.pool.QueryRow(ctx, query, listingKey))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) Delete(ctx context.Context, listingKey string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE listing_key = $1`, listingKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSyncFailed flags a listing without touching any other column.
func (s *PostgresStore) MarkSyncFailed(ctx context.Context, listingKey, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings SET sync_failed = TRUE, sync_error = $2, updated_at = NOW()
		WHERE listing_key = $1`, listingKey, message)
	return err
}

// PurgeStaleActive hard-deletes active listings not seen since olderThan.
func (s *PostgresStore) PurgeStaleActive(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM listings WHERE is_active = TRUE AND last_synced_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountBy(ctx context.Context, c models.CountCriteria) (int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if c.Status != "" {
		add("status = $%d", string(c.Status))
	}
	if c.City != "" {
		add("LOWER(city) = LOWER($%d)", c.City)
	}
	if c.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if c.SyncFailed != nil {
		add("sync_failed = $%d", *c.SyncFailed)
	}

	query := `SELECT COUNT(*) FROM listings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MaxLastSyncedAt is the newest last_synced_at among healthy rows, nil on an empty table.
func (s *PostgresStore) MaxLastSyncedAt(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(last_synced_at) FROM listings WHERE sync_failed = FALSE`).Scan(&t)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) ListMissingCoordinates(ctx context.Context, limit, maxAttempts int) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE latitude IS NULL AND address <> '' AND geocode_attempts < $2
		ORDER BY last_synced_at DESC
		LIMIT $1`, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	return collectListings(rows)
}

// SetCoordinates records a geocode attempt. nil coordinates only bump the attempt counter.
func (s *PostgresStore) SetCoordinates(ctx context.Context, listingKey string, lat, lng *float64, geohash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE listings SET
			latitude = COALESCE($2, latitude),
			longitude = COALESCE($3, longitude),
			geohash = COALESCE(NULLIF($4, ''), geohash),
			geocode_attempts = geocode_attempts + 1,
			updated_at = NOW()
		WHERE listing_key = $1`, listingKey, lat, lng, geohash)
	return err
}

// ListStale returns failed rows first, then rows not synced since olderThan.
func (s *PostgresStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE sync_failed = TRUE OR last_synced_at < $1
		ORDER BY sync_failed DESC, last_synced_at ASC
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectListings(rows)
}

// ListWithoutImages returns the least-tried imageless listings first, so rows
// with no upstream media do not starve the rest.
func (s *PostgresStore) ListWithoutImages(ctx context.Context, limit, maxAttempts int) ([]models.Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE has_images = FALSE AND image_attempts < $2
		ORDER BY image_attempts ASC, last_synced_at DESC
		LIMIT $1`, limit, maxAttempts)
	if err != nil {
		return nil, err
	}
	return collectListings(rows)
}

// SetImages stores the harvested URLs and counts the attempt, found or not.
func (s *PostgresStore) SetImages(ctx context.Context, listingKey string, urls []string) error {
	if urls == nil {
		urls = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE listings SET
			image_urls = $2,
			has_images = $3,
			image_attempts = image_attempts + 1,
			updated_at = NOW()
		WHERE listing_key = $1`, listingKey, urls, len(urls) > 0)
	return err
}

// =============================================================================
// Sync State
// =============================================================================

const syncStateColumns = `mode, status, current_batch_offset, checkpoint_scope, batch_size, total_synced,
	initial_sync_complete, initial_sync_completed_at, last_sync_started_at,
	last_sync_completed_at, last_error, current_run_synced, current_run_updated,
	current_run_failed, current_run_status_changed`

func scanSyncState(row pgx.Row) (models.SyncState, error) {
	var st models.SyncState
	var mode, status string
	err := row.Scan(
		&mode, &status, &st.CurrentBatchOffset, &st.CheckpointScope, &st.BatchSize, &st.TotalSynced,
		&st.InitialSyncComplete, &st.InitialSyncCompletedAt, &st.LastSyncStartedAt,
		&st.LastSyncCompletedAt, &st.LastError, &st.CurrentRun.Synced, &st.CurrentRun.Updated,
		&st.CurrentRun.Failed, &st.CurrentRun.StatusChanged,
	)
	st.Mode = models.SyncMode(mode)
	st.Status = models.SyncStatus(status)
	return st, err
}

func (s *PostgresStore) ensureSyncState(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO sync_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING`)
	return err
}

func (s *PostgresStore) GetInstance(ctx context.Context) (models.SyncState, error) {
	if err := s.ensureSyncState(ctx); err != nil {
		return models.SyncState{}, fmt.Errorf("ensure sync state: %w", err)
	}
	return scanSyncState(s.pool.QueryRow(ctx, `SELECT `+syncStateColumns+` FROM sync_state WHERE id = 1`))
}

// StartSync moves the singleton into running in a single conditional UPDATE.
// The checkpoint decision reads the row inside the same statement, so it sees
// the mode and scope the CAS is applied to.
func (s *PostgresStore) StartSync(ctx context.Context, req StartRequest) (models.SyncState, bool, error) {
	if err := s.ensureSyncState(ctx); err != nil {
		return models.SyncState{}, false, fmt.Errorf("ensure sync state: %w", err)
	}

	st, err := scanSyncState(s.pool.QueryRow(ctx, `
		UPDATE sync_state SET
			status = 'running',
			batch_size = $1,
			current_batch_offset = CASE
				WHEN $2 = '' THEN current_batch_offset
				WHEN $3::boolean AND mode = 'initial_load' AND checkpoint_scope = $2 THEN current_batch_offset
				ELSE 0 END,
			checkpoint_scope = COALESCE(NULLIF($2, ''), checkpoint_scope),
			last_sync_started_at = NOW(),
			last_error = NULL,
			current_run_synced = 0,
			current_run_updated = 0,
			current_run_failed = 0,
			current_run_status_changed = 0,
			updated_at = NOW()
		WHERE id = 1 AND status NOT IN ('running', 'paused')
		RETURNING `+syncStateColumns, req.BatchSize, req.Scope, req.Resume))
	if err == pgx.ErrNoRows {
		current, err := s.GetInstance(ctx)
		return current, false, err
	}
	if err != nil {
		return models.SyncState{}, false, fmt.Errorf("start sync: %w", err)
	}
	return st, true, nil
}

func (s *PostgresStore) UpdateRunStats(ctx context.Context, d models.RunStats) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET
			current_run_synced = current_run_synced + $1,
			current_run_updated = current_run_updated + $2,
			current_run_failed = current_run_failed + $3,
			current_run_status_changed = current_run_status_changed + $4,
			total_synced = total_synced + $1 + $2 + $4,
			updated_at = NOW()
		WHERE id = 1`, d.Synced, d.Updated, d.Failed, d.StatusChanged)
	return err
}

// SetOffset never moves the offset backwards during the initial load.
func (s *PostgresStore) SetOffset(ctx context.Context, offset int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET
			current_batch_offset = CASE WHEN mode = 'initial_load'
				THEN GREATEST(current_batch_offset, $1) ELSE $1 END,
			updated_at = NOW()
		WHERE id = 1`, offset)
	return err
}

func (s *PostgresStore) CompleteSync(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET status = 'idle', last_sync_completed_at = NOW(), updated_at = NOW()
		WHERE id = 1`)
	return err
}

func (s *PostgresStore) FailSync(ctx context.Context, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET status = 'failed', last_error = $1, updated_at = NOW()
		WHERE id = 1`, message)
	return err
}

func (s *PostgresStore) MarkInitialSyncComplete(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET
			initial_sync_complete = TRUE,
			initial_sync_completed_at = NOW(),
			mode = 'incremental',
			current_batch_offset = 0,
			updated_at = NOW()
		WHERE id = 1`)
	return err
}

func (s *PostgresStore) SetPaused(ctx context.Context, paused bool) error {
	if err := s.ensureSyncState(ctx); err != nil {
		return err
	}
	if paused {
		tag, err := s.pool.Exec(ctx, `
			UPDATE sync_state SET status = 'paused', updated_at = NOW()
			WHERE id = 1 AND status <> 'running'`)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrSyncRunning
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_state SET status = 'idle', updated_at = NOW()
		WHERE id = 1 AND status = 'paused'`)
	return err
}

// =============================================================================
// Geocode Cache
// =============================================================================

func (s *PostgresStore) GetGeocode(ctx context.Context, addressHash string) (*models.GeocodeEntry, error) {
	var e models.GeocodeEntry
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT address_hash, original_address, latitude, longitude, formatted_address,
			provider, geocoded_at, status
		FROM geocode_cache WHERE address_hash = $1`, addressHash).Scan(
		&e.AddressHash, &e.OriginalAddress, &e.Latitude, &e.Longitude, &e.FormattedAddress,
		&e.Provider, &e.GeocodedAt, &status,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = models.GeocodeStatus(status)
	return &e, nil
}

// PutGeocode is last-writer-wins per address hash.
func (s *PostgresStore) PutGeocode(ctx context.Context, e *models.GeocodeEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO geocode_cache (address_hash, original_address, latitude, longitude,
			formatted_address, provider, geocoded_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address_hash) DO UPDATE SET
			original_address = EXCLUDED.original_address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			formatted_address = EXCLUDED.formatted_address,
			provider = EXCLUDED.provider,
			geocoded_at = EXCLUDED.geocoded_at,
			status = EXCLUDED.status`,
		e.AddressHash, e.OriginalAddress, e.Latitude, e.Longitude,
		e.FormattedAddress, e.Provider, e.GeocodedAt, string(e.Status),
	)
	return err
}

// =============================================================================
// Rate Limits
// =============================================================================

// AllowRequest counts one request against key's fixed window in a single statement.
// The row is reset when windowStart moves on; no row comes back when the
// current window is already at limit.
func (s *PostgresStore) AllowRequest(ctx context.Context, key string, limit int, windowStart time.Time) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rate_limits (key, window_start, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN rate_limits.window_start = EXCLUDED.window_start
				THEN rate_limits.count + 1 ELSE 1 END,
			window_start = EXCLUDED.window_start
		WHERE rate_limits.window_start <> EXCLUDED.window_start OR rate_limits.count < $3
		RETURNING count`, key, windowStart, limit).Scan(&count)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
