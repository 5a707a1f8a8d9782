package workers

import (
	"context"
	"log/slog"
	"time"

	"mls_ingest/models"
)

// LogFunc writes a worker summary line to the operational log table.
type LogFunc func(level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, source, message string) {}

// runLoop calls fn on every tick and on every manual trigger until ctx ends.
func runLoop(ctx context.Context, name string, interval time.Duration, trigger <-chan struct{}, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info(name + " worker stopping")
			return
		case <-ticker.C:
			fn(ctx)
		case <-trigger:
			slog.Info(name + " worker triggered manually")
			fn(ctx)
		}
	}
}

func trigger(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
