package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mls_ingest/config"
	"mls_ingest/geocode"
	"mls_ingest/httputil"
	"mls_ingest/logging"
	"mls_ingest/metrics"
	"mls_ingest/models"
	"mls_ingest/notify"
	"mls_ingest/odata"
	"mls_ingest/scheduler"
	"mls_ingest/server"
	"mls_ingest/services"
	"mls_ingest/storage"
	"mls_ingest/syncer"
	"mls_ingest/workers"
)

var (
	syncOnce  = flag.String("sync", "", "Run one sync (full, incremental or auto) and exit")
	resetSync = flag.Bool("reset", false, "Ignore the stored resume offset on a full sync")
)

// dataStore is everything the ingest path needs from the primary store.
type dataStore interface {
	storage.ListingRepository
	storage.SyncStateStore
	geocode.Cache
	geocode.WindowCounter
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		return 1
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		FluentHost: cfg.Log.FluentHost,
		FluentPort: cfg.Log.FluentPort,
		Tag:        "mls_ingest",
	})
	if err != nil {
		slog.Warn("Could not set up all log outputs", "err", err)
	}
	defer logCloser.Close()

	slog.Info("Starting mls_ingest...")

	if cfg.ListingAPI.BaseURL == "" {
		slog.Error("LISTING_API_URL is required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open listing store", "err", err)
		return 1
	}
	defer closeStore()

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open SQLite", "err", err)
		return 1
	}
	defer sqliteStore.Close()
	slog.Info("SQLite database", "path", cfg.DBPath)

	m := metrics.New()
	clients := httputil.NewClients(cfg.ProxyURL, cfg.ListingAPI.Timeout)
	if cfg.ProxyURL != "" {
		slog.Info("Listing API proxied", "proxy", maskConnectionString(cfg.ProxyURL))
	}

	retry := httputil.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.ListingAPI.MaxAttempts
	retry.Delay = cfg.ListingAPI.RetryDelay
	client := odata.NewClient(odata.Options{
		BaseURL:       cfg.ListingAPI.BaseURL,
		Resource:      cfg.ListingAPI.Resource,
		MediaResource: "Media",
		Token:         cfg.ListingAPI.Token,
		Timeout:       cfg.ListingAPI.Timeout,
		Retry:         retry,
		CacheTTL:      cfg.ListingAPI.CacheTTL,
		HTTPClient:    clients.Listing,
	})
	harvester := services.NewImageHarvester(client, cfg.Images.Sizes, cfg.Images.PerListing)

	orchestrator := syncer.NewOrchestrator(client, harvester, store, store,
		syncer.NewFilters(cfg.Feed), syncer.OptionsFromConfig(cfg.Sync))

	var archiver syncer.Archiver
	if cfg.S3.Bucket != "" {
		a, err := storage.NewS3Archiver(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			slog.Warn("Raw page archive disabled", "err", err)
		} else {
			archiver = a
			slog.Info("Archiving raw pages", "bucket", cfg.S3.Bucket)
		}
	}

	var publisher notify.Publisher
	if cfg.AMQP.URL != "" {
		p, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			slog.Warn("Status events disabled", "err", err)
		} else {
			defer p.Close()
			publisher = p
			slog.Info("Publishing status events", "exchange", cfg.AMQP.Exchange)
		}
	}

	orchestrator.SetServices(archiver, publisher, sqliteStore, m)

	if *syncOnce != "" {
		return runOnce(ctx, orchestrator, cfg, *syncOnce, *resetSync)
	}

	// Daemon mode
	workerLog := func(level models.LogLevel, source, message string) {
		if err := sqliteStore.Log(source, level, message); err != nil {
			slog.Warn("Could not write worker log", "source", source, "err", err)
		}
	}

	resolver := geocode.NewResolver(store,
		geocode.NewFixedWindowLimiter(store, map[string]int{
			"google":    cfg.Geocode.PrimaryRPM,
			"nominatim": cfg.Geocode.NominatimRPM,
		}),
		geocode.Options{TTL: cfg.Geocode.CacheTTL, Recorder: m},
		geocode.NewGoogle(cfg.Geocode.GoogleAPIKey, clients.Geocode),
		geocode.NewNominatim(cfg.Geocode.NominatimURL, cfg.Geocode.UserAgent, clients.Geocode),
	)
	if resolver.PlaceholderMode() {
		slog.Warn("GOOGLE_GEOCODING_API_KEY not set, unresolved addresses get placeholder coordinates")
	}

	geocodeWorker := workers.NewGeocodeWorker(store, resolver, cfg.Geocode.Workers, cfg.Geocode.MaxAttempts)
	geocodeWorker.SetLogger(workerLog)
	go geocodeWorker.Run(ctx, cfg.Geocode.BatchSize, cfg.Geocode.Interval)
	slog.Info("Geocode worker started", "batch", cfg.Geocode.BatchSize, "interval", cfg.Geocode.Interval)

	recheckWorker := workers.NewRecheckWorker(store, client, 24*time.Hour)
	recheckWorker.SetLogger(workerLog)
	if publisher != nil {
		recheckWorker.SetPublisher(publisher)
	}
	go recheckWorker.Run(ctx, 20, 30*time.Minute) // listings untouched for 24h, batch 20, every 30 min
	slog.Info("Recheck worker started")

	imageWorker := workers.NewImageBackfillWorker(store, harvester, cfg.Images.MaxAttempts)
	imageWorker.SetLogger(workerLog)
	go imageWorker.Run(ctx, 20, 10*time.Minute)
	slog.Info("Image backfill worker started")

	sched := scheduler.New(cfg.Scheduler, orchestrator, sqliteStore)
	sched.SetWorkers(geocodeWorker, recheckWorker, imageWorker)
	if err := sched.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", "err", err)
		return 1
	}

	handlers := server.NewHandlers(ctx, orchestrator, store, sqliteStore, sqliteStore)
	srv := server.NewServer(cfg.HTTPAddr, handlers, m.Handler())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server failed", "err", err)
			stop()
		}
	}()

	slog.Info("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	slog.Info("Shutting down...")
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
	handlers.Wait()
	slog.Info("Goodbye!")
	return 0
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config) (dataStore, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store; nothing survives a restart")
		return storage.NewMemoryStore(), func() {}, nil
	}

	pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	slog.Info("Connected to Postgres", "url", maskConnectionString(cfg.DatabaseURL))
	return pg, pg.Close, nil
}

func runOnce(ctx context.Context, o *syncer.Orchestrator, cfg *config.Config, mode string, reset bool) int {
	var res *syncer.Result
	switch mode {
	case "full":
		res = o.RunFullSync(ctx, syncer.FullOptions{
			Limit:       cfg.Sync.FullLimit,
			BatchSize:   cfg.Sync.BatchSize,
			Resumable:   !reset,
			StatusScope: syncer.ScopeActive,
		})
	case "incremental":
		res = o.RunIncrementalSync(ctx, syncer.IncrementalOptions{
			BatchSize:  cfg.Sync.BatchSize,
			MaxBatches: cfg.Sync.IncrementalMaxBatches,
		})
	case "auto":
		res = o.RunAuto(ctx)
	default:
		slog.Error("Unknown -sync mode, expected full, incremental or auto", "mode", mode)
		return 2
	}

	if !res.Success {
		slog.Error("Sync failed", "mode", res.Mode, "errors", res.Errors)
		return 1
	}
	slog.Info("Sync complete!",
		"mode", res.Mode,
		"synced", res.Synced,
		"updated", res.Updated,
		"status_changed", res.StatusChanged,
		"failed", res.Failed,
		"purged", res.Purged,
		"offset", res.EndOffset,
		"reached_end", res.ReachedEnd,
	)
	return 0
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
