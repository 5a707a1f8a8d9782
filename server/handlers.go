package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"mls_ingest/models"
	"mls_ingest/storage"
	"mls_ingest/syncer"
)

// SyncAPI is the orchestrator surface exposed over HTTP.
type SyncAPI interface {
	RunFullSync(ctx context.Context, opts syncer.FullOptions) *syncer.Result
	RunIncrementalSync(ctx context.Context, opts syncer.IncrementalOptions) *syncer.Result
	RunAuto(ctx context.Context) *syncer.Result
	GetState(ctx context.Context) (models.SyncState, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

type ListingCounter interface {
	CountBy(ctx context.Context, c models.CountCriteria) (int, error)
}

type RunHistory interface {
	RecentRuns(limit int) ([]models.SyncRun, error)
}

// CommandQueue hands work to the scheduler's command poller.
type CommandQueue interface {
	EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error)
}

type Handlers struct {
	base     context.Context
	sync     SyncAPI
	listings ListingCounter
	runs     RunHistory
	commands CommandQueue
	wg       sync.WaitGroup
}

// NewHandlers builds the handlers. Background syncs started over HTTP run
// under base, so cancelling it stops them. runs and commands may be nil.
func NewHandlers(base context.Context, s SyncAPI, listings ListingCounter, runs RunHistory, commands CommandQueue) *Handlers {
	return &Handlers{base: base, sync: s, listings: listings, runs: runs, commands: commands}
}

var workerCommands = map[string]models.CommandType{
	"geocode": models.CmdRunGeocode,
	"recheck": models.CmdRunRecheck,
	"images":  models.CmdRunImages,
}

// Wait blocks until background syncs started over HTTP have returned.
func (h *Handlers) Wait() {
	h.wg.Wait()
}

type fullSyncRequest struct {
	Limit       int    `json:"limit"`
	BatchSize   int    `json:"batch_size"`
	Reset       bool   `json:"reset"`
	StatusScope string `json:"status_scope"`
}

type incrementalSyncRequest struct {
	BatchSize  int `json:"batch_size"`
	MaxBatches int `json:"max_batches"`
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sync.GetState(r.Context()); err != nil {
		WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	st, err := h.sync.GetState(r.Context())
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, st)
}

func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		WriteJSONError(w, http.StatusNotFound, "run history not enabled")
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil || limit <= 0 || limit > 500 {
		WriteJSONError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	runs, err := h.runs.RecentRuns(limit)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, runs)
}

func (h *Handlers) HandleFullSync(w http.ResponseWriter, r *http.Request) {
	var req fullSyncRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	opts := syncer.FullOptions{
		Limit:       req.Limit,
		BatchSize:   req.BatchSize,
		Resumable:   !req.Reset,
		StatusScope: syncer.ParseScope(req.StatusScope),
	}
	h.dispatch(w, r, "full", func(ctx context.Context) *syncer.Result {
		return h.sync.RunFullSync(ctx, opts)
	})
}

func (h *Handlers) HandleIncrementalSync(w http.ResponseWriter, r *http.Request) {
	var req incrementalSyncRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	opts := syncer.IncrementalOptions{BatchSize: req.BatchSize, MaxBatches: req.MaxBatches}
	h.dispatch(w, r, "incremental", func(ctx context.Context) *syncer.Result {
		return h.sync.RunIncrementalSync(ctx, opts)
	})
}

func (h *Handlers) HandleAutoSync(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "auto", h.sync.RunAuto)
}

// dispatch runs a sync inline when ?wait=1, otherwise in the background with
// 202. A run that is already in progress or paused is reported as 409 up front.
func (h *Handlers) dispatch(w http.ResponseWriter, r *http.Request, name string, run func(context.Context) *syncer.Result) {
	if r.URL.Query().Get("wait") == "1" {
		res := run(r.Context())
		switch {
		case syncer.IsRejected(res):
			RespondWithJSON(w, http.StatusConflict, res)
		case res.Success:
			RespondWithJSON(w, http.StatusOK, res)
		default:
			RespondWithJSON(w, http.StatusBadGateway, res)
		}
		return
	}

	st, err := h.sync.GetState(r.Context())
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if st.Status == models.SyncRunning || st.Status == models.SyncPaused {
		WriteJSONError(w, http.StatusConflict, "sync is "+string(st.Status))
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res := run(h.base)
		slog.Info("HTTP: background sync finished", "sync", name, "success", res.Success, "errors", res.Errors)
	}()
	RespondWithJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "sync": name})
}

func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.Pause(r.Context()); err != nil {
		if errors.Is(err, storage.ErrSyncRunning) {
			WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.HandleState(w, r)
}

func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.Resume(r.Context()); err != nil {
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.HandleState(w, r)
}

// HandleRunWorker queues an immediate batch for one background worker.
func (h *Handlers) HandleRunWorker(w http.ResponseWriter, r *http.Request) {
	if h.commands == nil {
		WriteJSONError(w, http.StatusNotFound, "command queue not enabled")
		return
	}
	name := chi.URLParam(r, "name")
	cmd, ok := workerCommands[name]
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "unknown worker "+name)
		return
	}
	id, err := h.commands.EnqueueCommand(cmd, nil)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]any{"queued": cmd, "id": id})
}

func (h *Handlers) HandleCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := models.CountCriteria{City: strings.TrimSpace(q.Get("city"))}

	if s := strings.ToLower(strings.TrimSpace(q.Get("status"))); s != "" {
		switch models.ListingStatus(s) {
		case models.StatusActive, models.StatusSold, models.StatusLeased:
			c.Status = models.ListingStatus(s)
		default:
			WriteJSONError(w, http.StatusBadRequest, "status must be active, sold or leased")
			return
		}
	}

	n, err := h.listings.CountBy(r.Context(), c)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]int{"count": n})
}

// decodeOptional decodes a JSON body into v. An empty body keeps the zero value.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
