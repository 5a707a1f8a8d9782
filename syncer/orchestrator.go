package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mls_ingest/config"
	"mls_ingest/metrics"
	"mls_ingest/models"
	"mls_ingest/notify"
	"mls_ingest/odata"
	"mls_ingest/services"
	"mls_ingest/storage"
)

const (
	incrementalOverlap  = 5 * time.Minute
	incrementalFallback = 7 * 24 * time.Hour
	maxResultErrors     = 50
)

// ListingSource pages through the upstream listing collection.
type ListingSource interface {
	FetchManyWithCount(ctx context.Context, q *odata.Query) (*odata.Page, error)
}

// ImageSource resolves image URLs for a batch of listing keys.
type ImageSource interface {
	FetchImages(ctx context.Context, keys []string) (map[string][]string, error)
}

// Archiver stores raw upstream pages.
type Archiver interface {
	ArchivePage(ctx context.Context, runID string, offset int, body []byte) error
}

// RunRecorder keeps run history and per-run log lines.
type RunRecorder interface {
	CreateRun(run *models.SyncRun) error
	UpdateRun(run *models.SyncRun) error
	Log(runID string, level models.LogLevel, message string) error
}

type Options struct {
	BatchSize             int
	FullLimit             int
	IncrementalMaxBatches int
	PurgeGrace            time.Duration
}

func OptionsFromConfig(c config.SyncConfig) Options {
	return Options{
		BatchSize:             c.BatchSize,
		FullLimit:             c.FullLimit,
		IncrementalMaxBatches: c.IncrementalMaxBatches,
		PurgeGrace:            c.PurgeGrace,
	}
}

type FullOptions struct {
	Limit       int // 0 pages until the upstream runs out
	BatchSize   int
	Resumable   bool
	StatusScope Scope
}

type IncrementalOptions struct {
	BatchSize  int
	MaxBatches int
}

// Result summarizes one sync invocation. Failures are reported here rather
// than returned as errors.
type Result struct {
	RunID         string          `json:"run_id,omitempty"`
	Success       bool            `json:"success"`
	Mode          models.SyncMode `json:"mode"`
	Synced        int             `json:"synced"`
	Updated       int             `json:"updated"`
	Failed        int             `json:"failed"`
	StatusChanged int             `json:"status_changed"`
	Purged        int64           `json:"purged"`
	Pages         int             `json:"pages"`
	ReachedEnd    bool            `json:"reached_end"`
	StartOffset   int             `json:"start_offset"`
	EndOffset     int             `json:"end_offset"`
	Errors        []string        `json:"errors,omitempty"`
}

func (r *Result) add(d models.RunStats) {
	r.Synced += d.Synced
	r.Updated += d.Updated
	r.Failed += d.Failed
	r.StatusChanged += d.StatusChanged
}

func (r *Result) addError(msg string) {
	if len(r.Errors) < maxResultErrors {
		r.Errors = append(r.Errors, msg)
	}
}

type Orchestrator struct {
	source   ListingSource
	images   ImageSource
	repo     storage.ListingRepository
	state    storage.SyncStateStore
	listings *services.ListingService
	filters  Filters
	opts     Options

	archiver  Archiver
	publisher notify.Publisher
	runs      RunRecorder
	metrics   *metrics.Collector
	now       func() time.Time
}

func NewOrchestrator(source ListingSource, images ImageSource, repo storage.ListingRepository, state storage.SyncStateStore, filters Filters, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.IncrementalMaxBatches <= 0 {
		opts.IncrementalMaxBatches = 10
	}
	if opts.PurgeGrace <= 0 {
		opts.PurgeGrace = 48 * time.Hour
	}
	return &Orchestrator{
		source:   source,
		images:   images,
		repo:     repo,
		state:    state,
		listings: services.NewListingService(repo),
		filters:  filters,
		opts:     opts,
		now:      time.Now,
	}
}

// SetServices injects the optional side channels. Any of them may be nil.
func (o *Orchestrator) SetServices(archiver Archiver, publisher notify.Publisher, runs RunRecorder, m *metrics.Collector) {
	o.archiver = archiver
	o.publisher = publisher
	o.runs = runs
	o.metrics = m
}

// WithClock overrides the time source for sync timestamps and the incremental window.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	o.listings.WithClock(now)
	return o
}

func (o *Orchestrator) GetState(ctx context.Context) (models.SyncState, error) {
	return o.state.GetInstance(ctx)
}

func (o *Orchestrator) Pause(ctx context.Context) error {
	return o.state.SetPaused(ctx, true)
}

func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.state.SetPaused(ctx, false)
}

// RunAuto runs a resumable full sync until the initial load has completed,
// and incremental syncs after that.
func (o *Orchestrator) RunAuto(ctx context.Context) *Result {
	st, err := o.state.GetInstance(ctx)
	if err != nil {
		return &Result{Errors: []string{err.Error()}}
	}
	if !st.InitialSyncComplete {
		return o.RunFullSync(ctx, FullOptions{
			Limit:       o.opts.FullLimit,
			BatchSize:   o.opts.BatchSize,
			Resumable:   true,
			StatusScope: ScopeActive,
		})
	}
	return o.RunIncrementalSync(ctx, IncrementalOptions{
		BatchSize:  o.opts.BatchSize,
		MaxBatches: o.opts.IncrementalMaxBatches,
	})
}

// RunFullSync pages through the whole scope newest-first, checkpointing the
// offset after every page. A resumable run picks the checkpoint up only while
// the initial load is pending and the checkpoint came from the same scope.
func (o *Orchestrator) RunFullSync(ctx context.Context, opts FullOptions) *Result {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = o.opts.BatchSize
	}
	if opts.StatusScope == "" {
		opts.StatusScope = ScopeActive
	}

	st, run, res := o.start(ctx, storage.StartRequest{
		BatchSize: batch,
		Scope:     string(opts.StatusScope),
		Resume:    opts.Resumable,
	})
	if run == nil {
		return res
	}
	defer o.recoverRun(run)

	start := st.CurrentBatchOffset
	res.StartOffset = start
	res.EndOffset = start
	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting full sync (scope %s, offset %d, batch %d)", opts.StatusScope, start, batch))

	base := o.filters.Apply(odata.NewQuery(), opts.StatusScope).
		SetOrderBy("ModificationTimestamp", true).
		SetCount(true)

	for skip := start; opts.Limit <= 0 || skip < start+opts.Limit; skip += batch {
		n, err := o.syncPage(ctx, run, res, base, skip, batch)
		if err != nil {
			return o.fail(ctx, run, res, fmt.Errorf("page at offset %d: %w", skip, err))
		}

		res.EndOffset = skip + n
		if err := o.state.SetOffset(ctx, res.EndOffset); err != nil {
			return o.fail(ctx, run, res, err)
		}
		o.metrics.SetOffset(res.EndOffset)

		if n < batch {
			res.ReachedEnd = true
			break
		}
	}

	purged, err := o.repo.PurgeStaleActive(ctx, o.now().Add(-o.opts.PurgeGrace))
	if err != nil {
		o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Purge failed: %v", err))
	} else {
		res.Purged = purged
	}

	if res.ReachedEnd {
		if err := o.state.MarkInitialSyncComplete(ctx); err != nil {
			return o.fail(ctx, run, res, err)
		}
	}
	return o.complete(ctx, run, res)
}

// RunIncrementalSync pulls records modified since the last local sync,
// oldest change first, for at most MaxBatches pages.
func (o *Orchestrator) RunIncrementalSync(ctx context.Context, opts IncrementalOptions) *Result {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = o.opts.BatchSize
	}
	maxBatches := opts.MaxBatches
	if maxBatches <= 0 {
		maxBatches = o.opts.IncrementalMaxBatches
	}

	_, run, res := o.start(ctx, storage.StartRequest{BatchSize: batch})
	if run == nil {
		return res
	}
	defer o.recoverRun(run)

	since := o.now().Add(-incrementalFallback)
	last, err := o.repo.MaxLastSyncedAt(ctx)
	if err != nil {
		return o.fail(ctx, run, res, err)
	}
	if last != nil {
		since = last.Add(-incrementalOverlap)
	}
	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting incremental sync since %s", since.UTC().Format(time.RFC3339)))

	base := o.filters.Apply(odata.NewQuery(), ScopeAll).
		AddCustomFilter(odata.ModifiedSince("ModificationTimestamp", since)).
		SetOrderBy("ModificationTimestamp", false)

	for i := 0; i < maxBatches; i++ {
		skip := i * batch
		n, err := o.syncPage(ctx, run, res, base, skip, batch)
		if err != nil {
			return o.fail(ctx, run, res, fmt.Errorf("page at offset %d: %w", skip, err))
		}
		res.EndOffset = skip + n
		if n < batch {
			res.ReachedEnd = true
			break
		}
	}

	return o.complete(ctx, run, res)
}

// start performs the compare-and-set on the sync state. A nil run means the
// start was refused and res already describes why.
func (o *Orchestrator) start(ctx context.Context, req storage.StartRequest) (models.SyncState, *models.SyncRun, *Result) {
	st, ok, err := o.state.StartSync(ctx, req)
	if err != nil {
		return st, nil, &Result{Mode: st.Mode, Errors: []string{err.Error()}}
	}
	if !ok {
		slog.Info("Sync: start refused", "status", st.Status)
		o.metrics.ObserveRun(string(st.Mode), string(models.RunStatusRejected))
		return st, nil, &Result{Mode: st.Mode, Errors: []string{storage.ErrSyncRunning.Error()}}
	}

	run := &models.SyncRun{
		ID:        uuid.NewString(),
		Mode:      st.Mode,
		StartedAt: o.now(),
		Status:    models.RunStatusRunning,
	}
	if req.Scope != "" {
		run.StartOffset = st.CurrentBatchOffset
	}
	if o.runs != nil {
		if err := o.runs.CreateRun(run); err != nil {
			slog.Warn("Sync: failed to record run", "run", run.ID, "err", err)
		}
	}
	return st, run, &Result{RunID: run.ID, Mode: st.Mode}
}

// syncPage fetches, archives and processes one page. Record-level failures
// are counted and the page carries on; an error return aborts the run.
func (o *Orchestrator) syncPage(ctx context.Context, run *models.SyncRun, res *Result, base *odata.Query, skip, batch int) (int, error) {
	began := time.Now()
	mode := string(run.Mode)

	page, err := o.source.FetchManyWithCount(ctx, base.Clone().SetTop(batch).SetSkip(skip))
	if err != nil {
		o.metrics.ObservePage(mode, "error", time.Since(began).Seconds())
		return 0, err
	}
	o.metrics.ObservePage(mode, "ok", time.Since(began).Seconds())
	res.Pages++
	run.Pages++

	if o.archiver != nil && len(page.Items) > 0 {
		body, err := json.Marshal(page.Items)
		if err == nil {
			err = o.archiver.ArchivePage(ctx, run.ID, skip, body)
		}
		if err != nil {
			slog.Warn("Sync: archive failed", "run", run.ID, "offset", skip, "err", err)
		}
	}

	images, imagesKnown := o.fetchImages(ctx, run, page.Items)

	var delta models.RunStats
	for _, raw := range page.Items {
		if err := ctx.Err(); err != nil {
			o.flush(ctx, run, res, delta)
			return 0, err
		}

		pr, err := o.listings.ProcessRecord(ctx, raw, images, imagesKnown)
		if err != nil {
			delta.Failed++
			res.addError(err.Error())
			o.metrics.ObserveRecord("failed")
			o.log(run.ID, models.LogLevelError, fmt.Sprintf("Record failed: %v", err))
			continue
		}

		delta.Add(pr.Delta())
		o.metrics.ObserveRecord(string(pr.Outcome))
		if pr.Change != nil && o.publisher != nil {
			if err := o.publisher.PublishStatusChange(ctx, *pr.Change); err != nil {
				slog.Warn("Sync: status event not published", "key", pr.ListingKey, "err", err)
			}
		}
	}

	if err := o.flush(ctx, run, res, delta); err != nil {
		return 0, err
	}
	return len(page.Items), nil
}

func (o *Orchestrator) flush(ctx context.Context, run *models.SyncRun, res *Result, delta models.RunStats) error {
	res.add(delta)
	run.Stats.Add(delta)
	if delta == (models.RunStats{}) {
		return nil
	}
	return o.state.UpdateRunStats(context.WithoutCancel(ctx), delta)
}

func (o *Orchestrator) fetchImages(ctx context.Context, run *models.SyncRun, items []json.RawMessage) (map[string][]string, bool) {
	if o.images == nil || len(items) == 0 {
		return nil, false
	}

	keys := make([]string, 0, len(items))
	for _, raw := range items {
		var head struct {
			ListingKey string `json:"ListingKey"`
		}
		if json.Unmarshal(raw, &head) == nil && head.ListingKey != "" {
			keys = append(keys, head.ListingKey)
		}
	}

	images, err := o.images.FetchImages(ctx, keys)
	if err != nil {
		o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Image lookup failed, keeping stored images: %v", err))
		return nil, false
	}
	return images, true
}

func (o *Orchestrator) complete(ctx context.Context, run *models.SyncRun, res *Result) *Result {
	ctx = context.WithoutCancel(ctx)
	if err := o.state.CompleteSync(ctx); err != nil {
		return o.fail(ctx, run, res, err)
	}

	res.Success = true
	run.Status = models.RunStatusCompleted
	run.Purged = res.Purged
	o.finish(run, res)
	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d new, %d updated, %d status changes, %d failed, %d purged",
			res.Synced, res.Updated, res.StatusChanged, res.Failed, res.Purged))
	return res
}

func (o *Orchestrator) fail(ctx context.Context, run *models.SyncRun, res *Result, cause error) *Result {
	msg := cause.Error()
	if err := o.state.FailSync(context.WithoutCancel(ctx), msg); err != nil {
		slog.Error("Sync: failed to record failure", "run", run.ID, "err", err)
	}

	res.Success = false
	res.addError(msg)
	run.Status = models.RunStatusFailed
	run.Error = msg
	o.finish(run, res)
	o.log(run.ID, models.LogLevelError, "Sync failed: "+msg)
	return res
}

// recoverRun marks the state failed before letting a panic continue.
func (o *Orchestrator) recoverRun(run *models.SyncRun) {
	r := recover()
	if r == nil {
		return
	}
	msg := fmt.Sprintf("panic: %v", r)
	if err := o.state.FailSync(context.Background(), msg); err != nil {
		slog.Error("Sync: failed to record panic", "run", run.ID, "err", err)
	}
	run.Status = models.RunStatusFailed
	run.Error = msg
	o.finish(run, nil)
	panic(r)
}

func (o *Orchestrator) finish(run *models.SyncRun, res *Result) {
	now := o.now()
	run.FinishedAt = &now
	if res != nil {
		run.EndOffset = res.EndOffset
	}
	o.metrics.ObserveRun(string(run.Mode), string(run.Status))
	if o.runs != nil {
		if err := o.runs.UpdateRun(run); err != nil {
			slog.Warn("Sync: failed to update run", "run", run.ID, "err", err)
		}
	}
}

// HandleCommand executes a queued sync or pause command.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd models.CommandType, params *models.CommandParams) (*Result, error) {
	if params == nil {
		params = &models.CommandParams{}
	}

	switch cmd {
	case models.CmdSyncFull:
		return o.RunFullSync(ctx, FullOptions{
			Limit:       params.Limit,
			BatchSize:   params.BatchSize,
			Resumable:   !params.Reset,
			StatusScope: ParseScope(params.StatusScope),
		}), nil
	case models.CmdSyncIncremental:
		return o.RunIncrementalSync(ctx, IncrementalOptions{
			BatchSize:  params.BatchSize,
			MaxBatches: params.MaxBatches,
		}), nil
	case models.CmdSyncAuto:
		return o.RunAuto(ctx), nil
	case models.CmdPause:
		if err := o.Pause(ctx); err != nil {
			return nil, err
		}
		slog.Info("Sync: paused")
	case models.CmdResume:
		if err := o.Resume(ctx); err != nil {
			return nil, err
		}
		slog.Info("Sync: resumed")
	default:
		return nil, fmt.Errorf("unsupported command: %s", cmd)
	}
	return nil, nil
}

// IsRejected reports whether res describes a refused start.
func IsRejected(res *Result) bool {
	return res != nil && !res.Success && res.RunID == "" && len(res.Errors) == 1 &&
		res.Errors[0] == storage.ErrSyncRunning.Error()
}

func (o *Orchestrator) log(runID string, level models.LogLevel, message string) {
	switch level {
	case models.LogLevelError:
		slog.Error("Sync: "+message, "run", runID)
	case models.LogLevelWarn:
		slog.Warn("Sync: "+message, "run", runID)
	default:
		slog.Info("Sync: "+message, "run", runID)
	}
	if o.runs != nil {
		o.runs.Log(runID, level, message)
	}
}
