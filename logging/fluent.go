package logging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
)

// poster is the subset of *fluent.Fluent the handler needs.
type poster interface {
	Post(tag string, message interface{}) error
	Close() error
}

// FluentHandler is a slog.Handler that forwards records to a Fluent Bit or
// Fluentd forward input. Tags are <tag>.<level>.
type FluentHandler struct {
	client   poster
	tag      string
	minLevel slog.Level
	attrs    map[string]any
	group    string
}

func NewFluentHandler(host string, port int, tag string, minLevel slog.Level) (*FluentHandler, error) {
	if port == 0 {
		port = 24224
	}
	if tag == "" {
		tag = "mls_ingest"
	}
	client, err := fluent.New(fluent.Config{
		FluentHost:    host,
		FluentPort:    port,
		Async:         true,
		MarshalAsJSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fluent connect %s:%d: %w", host, port, err)
	}
	return &FluentHandler{client: client, tag: tag, minLevel: minLevel, attrs: map[string]any{}}, nil
}

func (h *FluentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *FluentHandler) Handle(_ context.Context, r slog.Record) error {
	data := make(map[string]any, len(h.attrs)+r.NumAttrs()+3)
	for k, v := range h.attrs {
		data[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		h.put(data, a)
		return true
	})
	data["level"] = r.Level.String()
	data["message"] = r.Message
	data["timestamp"] = r.Time.UTC().Format(time.RFC3339Nano)

	return h.client.Post(h.tag+"."+levelTag(r.Level), data)
}

func (h *FluentHandler) put(data map[string]any, a slog.Attr) {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			data[key] = err.Error()
			return
		}
		data[key] = fmt.Sprint(v.Any())
	case slog.KindTime:
		data[key] = v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		data[key] = v.Duration().String()
	default:
		data[key] = v.Any()
	}
}

func (h *FluentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		h.put(next.attrs, a)
	}
	return next
}

func (h *FluentHandler) WithGroup(name string) slog.Handler {
	next := h.clone()
	if next.group != "" {
		name = next.group + "." + name
	}
	next.group = name
	return next
}

func (h *FluentHandler) clone() *FluentHandler {
	attrs := make(map[string]any, len(h.attrs))
	for k, v := range h.attrs {
		attrs[k] = v
	}
	return &FluentHandler{client: h.client, tag: h.tag, minLevel: h.minLevel, attrs: attrs, group: h.group}
}

func (h *FluentHandler) Close() error {
	return h.client.Close()
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	}
	return "debug"
}
