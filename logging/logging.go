package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
)

const maxLogSize = 2 * 1024 * 1024 // 2MB

type RotatingWriter struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	size    int64
	maxSize int64
}

func NewRotatingWriter(logPath string, maxSize int64) (*RotatingWriter, error) {
	if maxSize <= 0 {
		maxSize = maxLogSize
	}
	// Truncate if too large on startup
	if info, err := os.Stat(logPath); err == nil && info.Size() > maxSize {
		os.Truncate(logPath, 0)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, _ := f.Stat()
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	return &RotatingWriter{
		file:    f,
		path:    logPath,
		size:    size,
		maxSize: maxSize,
	}, nil
}

func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err = w.file.Write(p)
	w.size += int64(n)

	if w.size > w.maxSize {
		w.rotate()
	}

	return n, err
}

func (w *RotatingWriter) rotate() {
	w.file.Close()

	// Keep one backup
	os.Rename(w.path, w.path+".1")

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}

	w.file = f
	w.size = 0
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

type Options struct {
	Level      string
	File       string // empty disables file output
	FluentHost string
	FluentPort int
	Tag        string
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Setup installs the default slog logger: tint on stdout and the rotating
// file, plus Fluent forwarding when a host is configured. The returned closer
// flushes and closes every sink.
func Setup(opts Options) (io.Closer, error) {
	level := ParseLevel(opts.Level)
	var closers multiCloser

	out := io.Writer(os.Stdout)
	var setupErr error
	if opts.File != "" {
		rw, err := NewRotatingWriter(opts.File, maxLogSize)
		if err != nil {
			setupErr = err
		} else {
			out = io.MultiWriter(os.Stdout, rw)
			closers = append(closers, rw)
		}
	}

	handlers := []slog.Handler{tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    opts.File != "",
	})}

	if opts.FluentHost != "" {
		fh, err := NewFluentHandler(opts.FluentHost, opts.FluentPort, opts.Tag, level)
		if err != nil {
			setupErr = errors.Join(setupErr, err)
		} else {
			handlers = append(handlers, fh)
			closers = append(closers, fh)
		}
	}

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = Fanout(handlers...)
	}
	slog.SetDefault(slog.New(handler))

	return closers, setupErr
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type fanout struct {
	handlers []slog.Handler
}

// Fanout returns a handler that forwards every record to all handlers.
func Fanout(handlers ...slog.Handler) slog.Handler {
	return &fanout{handlers: handlers}
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: next}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanout{handlers: next}
}
