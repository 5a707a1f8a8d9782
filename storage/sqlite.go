package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"mls_ingest/models"
)

// SQLiteStore holds operational data local to one daemon: the command queue,
// sync run history and run log lines.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		mode TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		start_offset INTEGER DEFAULT 0,
		end_offset INTEGER DEFAULT 0,
		pages INTEGER DEFAULT 0,
		synced INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		status_changed INTEGER DEFAULT 0,
		purged INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON sync_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ===== Sync runs =====

func (s *SQLiteStore) CreateRun(run *models.SyncRun) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_runs (id, mode, started_at, status, start_offset)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.StartedAt, run.Status, run.StartOffset)
	return err
}

func (s *SQLiteStore) UpdateRun(run *models.SyncRun) error {
	_, err := s.db.Exec(`
		UPDATE sync_runs SET finished_at = ?, status = ?, end_offset = ?, pages = ?,
			synced = ?, updated = ?, failed = ?, status_changed = ?, purged = ?, error = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.EndOffset, run.Pages,
		run.Stats.Synced, run.Stats.Updated, run.Stats.Failed, run.Stats.StatusChanged,
		run.Purged, run.Error, run.ID)
	return err
}

func (s *SQLiteStore) RecentRuns(limit int) ([]models.SyncRun, error) {
	rows, err := s.db.Query(`
		SELECT id, mode, started_at, finished_at, status, start_offset, end_offset, pages,
			synced, updated, failed, status_changed, purged, COALESCE(error, '')
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Mode, &r.StartedAt, &finished, &r.Status, &r.StartOffset,
			&r.EndOffset, &r.Pages, &r.Stats.Synced, &r.Stats.Updated, &r.Stats.Failed,
			&r.Stats.StatusChanged, &r.Purged, &r.Error); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(runID string, level models.LogLevel, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_logs (run_id, timestamp, level, message)
		VALUES (?, ?, ?, ?)`,
		runID, time.Now(), level, message)
	return err
}

// ===== Commands =====

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return 0, err
		}
	}
	result, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, string(raw), time.Now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}
