package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// Client reads the listing store from Postgres and the daemon's run history
// from SQLite. Commands are written to SQLite, where the scheduler polls them.
type Client struct {
	pg     *pgxpool.Pool // nil when the daemon runs on the in-memory store
	sqlite *sql.DB
	ctx    context.Context
}

type SyncState struct {
	Mode                string
	Status              string
	Offset              int
	BatchSize           int
	TotalSynced         int64
	InitialSyncComplete bool
	LastStartedAt       *time.Time
	LastCompletedAt     *time.Time
	LastError           string
	RunSynced           int
	RunUpdated          int
	RunFailed           int
	RunStatusChanged    int
}

type ListingStats struct {
	Total          int
	Active         int
	Sold           int
	Leased         int
	MissingCoords  int
	MissingImages  int
	FailedRechecks int
}

type CityStats struct {
	City        string
	Active      int
	Sold        int
	Leased      int
	AvgActive   float64
	Unlocatable int
}

type SyncRun struct {
	ID            string
	Mode          string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Status        string
	StartOffset   int
	EndOffset     int
	Pages         int
	Synced        int
	Updated       int
	Failed        int
	StatusChanged int
	Purged        int64
	Error         string
}

func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

type SyncLog struct {
	ID        int64
	RunID     string
	Timestamp time.Time
	Level     string
	Message   string
}

// Command names understood by the daemon's scheduler.
const (
	CmdSyncFull        = "sync_full"
	CmdSyncIncremental = "sync_incremental"
	CmdSyncAuto        = "sync_auto"
	CmdPause           = "pause"
	CmdResume          = "resume"
	CmdRunGeocode      = "run_geocode"
	CmdRunRecheck      = "run_recheck"
	CmdRunImages       = "run_images"
)

// New opens both stores. An empty postgresURL leaves the listing panels empty.
func New(postgresURL, sqlitePath string) (*Client, error) {
	ctx := context.Background()

	var pgPool *pgxpool.Pool
	if postgresURL != "" {
		var err error
		pgPool, err = pgxpool.New(ctx, postgresURL)
		if err != nil {
			return nil, err
		}
	}

	sqliteDB, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		if pgPool != nil {
			pgPool.Close()
		}
		return nil, err
	}

	return &Client{pg: pgPool, sqlite: sqliteDB, ctx: ctx}, nil
}

func (c *Client) Close() error {
	if c.pg != nil {
		c.pg.Close()
	}
	return c.sqlite.Close()
}

func (c *Client) HasListingStore() bool {
	return c.pg != nil
}

// ===== Postgres =====

func (c *Client) GetSyncState() (*SyncState, error) {
	if c.pg == nil {
		return nil, nil
	}
	var s SyncState
	var lastErr *string
	err := c.pg.QueryRow(c.ctx, `
		SELECT mode, status, current_batch_offset, batch_size, total_synced,
			initial_sync_complete, last_sync_started_at, last_sync_completed_at, last_error,
			current_run_synced, current_run_updated, current_run_failed, current_run_status_changed
		FROM sync_state WHERE id = 1
	`).Scan(&s.Mode, &s.Status, &s.Offset, &s.BatchSize, &s.TotalSynced,
		&s.InitialSyncComplete, &s.LastStartedAt, &s.LastCompletedAt, &lastErr,
		&s.RunSynced, &s.RunUpdated, &s.RunFailed, &s.RunStatusChanged)
	if err != nil {
		return nil, err
	}
	if lastErr != nil {
		s.LastError = *lastErr
	}
	return &s, nil
}

func (c *Client) GetListingStats() (ListingStats, error) {
	var s ListingStats
	if c.pg == nil {
		return s, nil
	}
	err := c.pg.QueryRow(c.ctx, `
		SELECT
			COUNT(*)::int,
			COUNT(*) FILTER (WHERE status = 'active')::int,
			COUNT(*) FILTER (WHERE status = 'sold')::int,
			COUNT(*) FILTER (WHERE status = 'leased')::int,
			COUNT(*) FILTER (WHERE latitude IS NULL AND is_active)::int,
			COUNT(*) FILTER (WHERE NOT has_images AND is_active)::int,
			COUNT(*) FILTER (WHERE sync_failed)::int
		FROM listings
	`).Scan(&s.Total, &s.Active, &s.Sold, &s.Leased, &s.MissingCoords, &s.MissingImages, &s.FailedRechecks)
	return s, err
}

func (c *Client) GetCityStats(limit int) ([]CityStats, error) {
	if c.pg == nil {
		return nil, nil
	}
	rows, err := c.pg.Query(c.ctx, `
		SELECT
			CASE WHEN city = '' THEN 'Unknown' ELSE city END,
			COUNT(*) FILTER (WHERE status = 'active')::int,
			COUNT(*) FILTER (WHERE status = 'sold')::int,
			COUNT(*) FILTER (WHERE status = 'leased')::int,
			COALESCE(AVG(price) FILTER (WHERE status = 'active'), 0)::float8,
			COUNT(*) FILTER (WHERE geocode_attempts > 0 AND latitude IS NULL)::int
		FROM listings
		GROUP BY 1
		ORDER BY COUNT(*) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []CityStats
	for rows.Next() {
		var s CityStats
		if err := rows.Scan(&s.City, &s.Active, &s.Sold, &s.Leased, &s.AvgActive, &s.Unlocatable); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// ===== SQLite =====

func (c *Client) GetRecentRuns(limit int) ([]SyncRun, error) {
	rows, err := c.sqlite.Query(`
		SELECT id, COALESCE(mode, ''), started_at, finished_at, COALESCE(status, ''),
			start_offset, end_offset, pages, synced, updated, failed, status_changed, purged,
			COALESCE(error, '')
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []SyncRun
	for rows.Next() {
		var r SyncRun
		var started, finished any
		err := rows.Scan(&r.ID, &r.Mode, &started, &finished, &r.Status,
			&r.StartOffset, &r.EndOffset, &r.Pages, &r.Synced, &r.Updated,
			&r.Failed, &r.StatusChanged, &r.Purged, &r.Error)
		if err != nil {
			return nil, err
		}
		r.StartedAt = parseTimestamp(started)
		if t := parseTimestamp(finished); !t.IsZero() {
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRecentLogs returns the newest log lines. level "" or "ALL" disables the
// level filter; source narrows to one run id or worker name.
func (c *Client) GetRecentLogs(limit int, level, source string) ([]SyncLog, error) {
	query := `SELECT id, COALESCE(run_id, ''), timestamp, COALESCE(level, ''), COALESCE(message, '') FROM sync_logs`
	var where []string
	var args []any
	if level != "" && !strings.EqualFold(level, "ALL") {
		where = append(where, "UPPER(level) = UPPER(?)")
		args = append(args, level)
	}
	if source != "" {
		where = append(where, "run_id = ?")
		args = append(args, source)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.sqlite.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []SyncLog
	for rows.Next() {
		var l SyncLog
		var ts any
		if err := rows.Scan(&l.ID, &l.RunID, &ts, &l.Level, &l.Message); err != nil {
			return nil, err
		}
		l.Timestamp = parseTimestamp(ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (c *Client) PendingCommandCount() (int, error) {
	var n int
	err := c.sqlite.QueryRow(`SELECT COUNT(*) FROM commands WHERE processed_at IS NULL`).Scan(&n)
	return n, err
}

// SendCommand queues a command for the daemon. params may be nil.
func (c *Client) SendCommand(command string, params map[string]any) error {
	raw := ""
	if len(params) > 0 {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		raw = string(b)
	}
	_, err := c.sqlite.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		command, raw, time.Now())
	return err
}

func (c *Client) SyncFull(reset bool) error {
	if reset {
		return c.SendCommand(CmdSyncFull, map[string]any{"reset": true})
	}
	return c.SendCommand(CmdSyncFull, nil)
}

func (c *Client) SyncIncremental() error { return c.SendCommand(CmdSyncIncremental, nil) }
func (c *Client) SyncAuto() error        { return c.SendCommand(CmdSyncAuto, nil) }
func (c *Client) Pause() error           { return c.SendCommand(CmdPause, nil) }
func (c *Client) Resume() error          { return c.SendCommand(CmdResume, nil) }
func (c *Client) RunGeocode() error      { return c.SendCommand(CmdRunGeocode, nil) }
func (c *Client) RunRecheck() error      { return c.SendCommand(CmdRunRecheck, nil) }
func (c *Client) RunImages() error       { return c.SendCommand(CmdRunImages, nil) }

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts whatever the SQLite driver hands back for a
// DATETIME column. Unparseable values come back as the zero time.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return parseTimestampString(t)
	case []byte:
		return parseTimestampString(string(t))
	}
	return time.Time{}
}

func parseTimestampString(s string) time.Time {
	// time.Time.String() appends a monotonic clock reading
	if i := strings.Index(s, " m="); i > 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, " "); i > 19 {
		// "2006-01-02 15:04:05 -0700 MST"
		if t, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", s); err == nil {
			return t
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
