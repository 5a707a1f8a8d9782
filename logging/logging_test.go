package logging

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriter_KeepsOneBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.log")
	w, err := NewRotatingWriter(path, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	w.Write([]byte("0123456789AB"))
	w.Write([]byte("second"))

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if string(backup) != "0123456789AB" {
		t.Fatalf("expected first write in backup, got %q", backup)
	}
	current, _ := os.ReadFile(path)
	if string(current) != "second" {
		t.Fatalf("expected second write in fresh file, got %q", current)
	}
}

type fakePoster struct {
	tags []string
	msgs []map[string]any
}

func (p *fakePoster) Post(tag string, message interface{}) error {
	p.tags = append(p.tags, tag)
	p.msgs = append(p.msgs, message.(map[string]any))
	return nil
}

func (p *fakePoster) Close() error { return nil }

func TestFluentHandler_PostsRecord(t *testing.T) {
	p := &fakePoster{}
	h := &FluentHandler{client: p, tag: "mls_ingest", minLevel: slog.LevelInfo, attrs: map[string]any{}}
	logger := slog.New(h).With("component", "syncer")

	logger.Debug("dropped")
	logger.Warn("Sync: page failed", "offset", 300, "err", errors.New("boom"), "took", 2*time.Second)

	if len(p.tags) != 1 || p.tags[0] != "mls_ingest.warn" {
		t.Fatalf("expected one warn post, got %v", p.tags)
	}
	msg := p.msgs[0]
	if msg["message"] != "Sync: page failed" || msg["component"] != "syncer" {
		t.Fatalf("unexpected payload %v", msg)
	}
	if msg["err"] != "boom" || msg["took"] != "2s" {
		t.Fatalf("expected error and duration as strings, got %v / %v", msg["err"], msg["took"])
	}
	if msg["offset"] != int64(300) {
		t.Fatalf("expected offset 300, got %#v", msg["offset"])
	}
}

type captureHandler struct {
	level slog.Level
	got   []string
}

func (c *captureHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= c.level }
func (c *captureHandler) Handle(_ context.Context, r slog.Record) error {
	c.got = append(c.got, r.Message)
	return nil
}
func (c *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *captureHandler) WithGroup(string) slog.Handler      { return c }

func TestFanout_RespectsEachLevel(t *testing.T) {
	debug := &captureHandler{level: slog.LevelDebug}
	warn := &captureHandler{level: slog.LevelWarn}
	logger := slog.New(Fanout(debug, warn))

	logger.Debug("d")
	logger.Warn("w")

	if strings.Join(debug.got, ",") != "d,w" || strings.Join(warn.got, ",") != "w" {
		t.Fatalf("unexpected fan-out %v / %v", debug.got, warn.got)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
