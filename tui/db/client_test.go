package db

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

const testSchema = `
CREATE TABLE sync_runs (
	id TEXT PRIMARY KEY, mode TEXT, started_at DATETIME, finished_at DATETIME, status TEXT,
	start_offset INTEGER DEFAULT 0, end_offset INTEGER DEFAULT 0, pages INTEGER DEFAULT 0,
	synced INTEGER DEFAULT 0, updated INTEGER DEFAULT 0, failed INTEGER DEFAULT 0,
	status_changed INTEGER DEFAULT 0, purged INTEGER DEFAULT 0, error TEXT
);
CREATE TABLE sync_logs (id INTEGER PRIMARY KEY, run_id TEXT, timestamp DATETIME, level TEXT, message TEXT);
CREATE TABLE commands (
	id INTEGER PRIMARY KEY, command TEXT, params JSON,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP, processed_at DATETIME
);
`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New("", filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if _, err := c.sqlite.Exec(testSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return c
}

func TestSendCommand_QueuesWithParams(t *testing.T) {
	c := newTestClient(t)

	if err := c.SyncFull(true); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.RunGeocode(); err != nil {
		t.Fatalf("send: %v", err)
	}

	n, err := c.PendingCommandCount()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 pending commands, got %d (%v)", n, err)
	}

	var command, params string
	if err := c.sqlite.QueryRow(`SELECT command, params FROM commands ORDER BY id LIMIT 1`).Scan(&command, &params); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if command != CmdSyncFull {
		t.Fatalf("expected %s, got %s", CmdSyncFull, command)
	}
	var decoded map[string]bool
	if err := json.Unmarshal([]byte(params), &decoded); err != nil || !decoded["reset"] {
		t.Fatalf("expected reset param, got %q", params)
	}

	c.sqlite.Exec(`UPDATE commands SET processed_at = ?`, time.Now())
	if n, _ := c.PendingCommandCount(); n != 0 {
		t.Fatalf("expected processed commands to drop out, got %d", n)
	}
}

func TestGetRecentLogs_Filters(t *testing.T) {
	c := newTestClient(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, l := range []struct{ run, level, msg string }{
		{"run-1", "info", "page 1"},
		{"run-1", "error", "page 2 failed"},
		{"geocode", "info", "resolved 3"},
		{"geocode", "warn", "rate limited"},
	} {
		if _, err := c.sqlite.Exec(`INSERT INTO sync_logs (run_id, timestamp, level, message) VALUES (?, ?, ?, ?)`,
			l.run, base.Add(time.Duration(i)*time.Minute), l.level, l.msg); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := c.GetRecentLogs(10, "ALL", "")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(all) != 4 || all[0].Message != "rate limited" {
		t.Fatalf("expected 4 logs newest first, got %+v", all)
	}
	if !all[0].Timestamp.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("expected timestamp %v, got %v", base.Add(3*time.Minute), all[0].Timestamp)
	}

	errs, _ := c.GetRecentLogs(10, "ERROR", "")
	if len(errs) != 1 || errs[0].Message != "page 2 failed" {
		t.Fatalf("expected only the error line, got %+v", errs)
	}

	worker, _ := c.GetRecentLogs(10, "", "geocode")
	if len(worker) != 2 {
		t.Fatalf("expected 2 geocode lines, got %d", len(worker))
	}

	limited, _ := c.GetRecentLogs(1, "INFO", "run-1")
	if len(limited) != 1 || limited[0].Message != "page 1" {
		t.Fatalf("expected one info line for run-1, got %+v", limited)
	}
}

func TestGetRecentRuns(t *testing.T) {
	c := newTestClient(t)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	c.sqlite.Exec(`INSERT INTO sync_runs (id, mode, started_at, finished_at, status, start_offset, end_offset, synced, failed)
		VALUES ('a', 'initial_load', ?, ?, 'completed', 0, 300, 300, 2)`, started, finished)
	c.sqlite.Exec(`INSERT INTO sync_runs (id, mode, started_at, status) VALUES ('b', 'incremental', ?, 'running')`,
		started.Add(time.Hour))

	runs, err := c.GetRecentRuns(10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}
	if runs[0].FinishedAt != nil {
		t.Fatalf("expected running run without finish time")
	}
	done := runs[1]
	if done.EndOffset != 300 || done.Synced != 300 || done.Failed != 2 {
		t.Fatalf("unexpected counters %+v", done)
	}
	if done.Duration() != 90*time.Second {
		t.Fatalf("expected 90s, got %v", done.Duration())
	}
}

func TestListingPanels_WithoutPostgres(t *testing.T) {
	c := newTestClient(t)
	if c.HasListingStore() {
		t.Fatalf("expected no listing store")
	}
	st, err := c.GetSyncState()
	if st != nil || err != nil {
		t.Fatalf("expected nil state, got %+v / %v", st, err)
	}
	cities, err := c.GetCityStats(10)
	if cities != nil || err != nil {
		t.Fatalf("expected no cities, got %+v / %v", cities, err)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	for _, tc := range []struct {
		name string
		in   any
	}{
		{"time", want},
		{"driver string", "2026-03-01 09:30:15+00:00"},
		{"rfc3339", "2026-03-01T09:30:15Z"},
		{"naive", "2026-03-01 09:30:15"},
		{"go string", "2026-03-01 09:30:15 +0000 UTC"},
		{"bytes", []byte("2026-03-01T09:30:15Z")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseTimestamp(tc.in); !got.Equal(want) {
				t.Fatalf("expected %v, got %v", want, got)
			}
		})
	}
	if !parseTimestamp(nil).IsZero() || !parseTimestamp("garbage").IsZero() {
		t.Fatalf("expected zero time for unparseable input")
	}
}
