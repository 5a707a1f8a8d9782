package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mls_ingest/metrics"
	"mls_ingest/models"
	"mls_ingest/storage"
	"mls_ingest/syncer"
)

type fakeSync struct {
	mu       sync.Mutex
	state    models.SyncState
	full     []syncer.FullOptions
	incr     []syncer.IncrementalOptions
	autoRuns int
	result   *syncer.Result
}

func (f *fakeSync) RunFullSync(ctx context.Context, opts syncer.FullOptions) *syncer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = append(f.full, opts)
	return f.result
}

func (f *fakeSync) RunIncrementalSync(ctx context.Context, opts syncer.IncrementalOptions) *syncer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incr = append(f.incr, opts)
	return f.result
}

func (f *fakeSync) RunAuto(ctx context.Context) *syncer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoRuns++
	return f.result
}

func (f *fakeSync) GetState(ctx context.Context) (models.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeSync) Pause(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Status == models.SyncRunning {
		return storage.ErrSyncRunning
	}
	f.state.Status = models.SyncPaused
	return nil
}

func (f *fakeSync) Resume(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Status = models.SyncIdle
	return nil
}

type fakeQueue struct {
	queued []models.CommandType
}

func (q *fakeQueue) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	q.queued = append(q.queued, cmd)
	return int64(len(q.queued)), nil
}

func newTestServer(t *testing.T, fs *fakeSync) (*httptest.Server, *Handlers, *storage.MemoryStore) {
	return newTestServerWithQueue(t, fs, nil)
}

func newTestServerWithQueue(t *testing.T, fs *fakeSync, q CommandQueue) (*httptest.Server, *Handlers, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	h := NewHandlers(context.Background(), fs, store, nil, q)
	srv := httptest.NewServer(NewRouter(h, metrics.New().Handler()))
	t.Cleanup(srv.Close)
	return srv, h, store
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestFullSync_WaitReturnsResult(t *testing.T) {
	fs := &fakeSync{state: models.NewSyncState(), result: &syncer.Result{Success: true, Synced: 5}}
	srv, _, _ := newTestServer(t, fs)

	resp := post(t, srv.URL+"/sync/full?wait=1", `{"limit":200,"reset":true,"status_scope":"closed"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res syncer.Result
	json.NewDecoder(resp.Body).Decode(&res)
	if res.Synced != 5 {
		t.Fatalf("expected result body, got %+v", res)
	}
	opts := fs.full[0]
	if opts.Limit != 200 || opts.Resumable || opts.StatusScope != syncer.ScopeClosed {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestSync_WaitRejectedIsConflict(t *testing.T) {
	fs := &fakeSync{state: models.NewSyncState(), result: &syncer.Result{Errors: []string{storage.ErrSyncRunning.Error()}}}
	srv, _, _ := newTestServer(t, fs)

	resp := post(t, srv.URL+"/sync/incremental?wait=1", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestAutoSync_AsyncAccepted(t *testing.T) {
	fs := &fakeSync{state: models.NewSyncState(), result: &syncer.Result{Success: true}}
	srv, h, _ := newTestServer(t, fs)

	resp := post(t, srv.URL+"/sync/auto", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	done := make(chan struct{})
	go func() { h.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("background sync did not finish")
	}
	if fs.autoRuns != 1 {
		t.Fatalf("expected one auto run, got %d", fs.autoRuns)
	}
}

func TestAsyncSync_ConflictWhileRunning(t *testing.T) {
	st := models.NewSyncState()
	st.Status = models.SyncRunning
	fs := &fakeSync{state: st}
	srv, _, _ := newTestServer(t, fs)

	resp := post(t, srv.URL+"/sync/full", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict || len(fs.full) != 0 {
		t.Fatalf("expected 409 without a run, got %d / %d runs", resp.StatusCode, len(fs.full))
	}

	resp = post(t, srv.URL+"/sync/pause", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected pause refused while running, got %d", resp.StatusCode)
	}
}

func TestFullSync_BadBody(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeSync{state: models.NewSyncState()})

	resp := post(t, srv.URL+"/sync/full", `{"limit":`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPauseResume_ReturnState(t *testing.T) {
	fs := &fakeSync{state: models.NewSyncState()}
	srv, _, _ := newTestServer(t, fs)

	resp := post(t, srv.URL+"/sync/pause", "")
	var st models.SyncState
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.Status != models.SyncPaused {
		t.Fatalf("expected paused, got %s", st.Status)
	}

	resp = post(t, srv.URL+"/sync/resume", "")
	json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if st.Status != models.SyncIdle {
		t.Fatalf("expected idle, got %s", st.Status)
	}
}

func TestCount(t *testing.T) {
	fs := &fakeSync{state: models.NewSyncState()}
	srv, _, store := newTestServer(t, fs)
	ctx := context.Background()
	for _, l := range []models.Listing{
		{ListingKey: "A", City: "Toronto", Status: models.StatusActive, IsActive: true},
		{ListingKey: "B", City: "Toronto", Status: models.StatusSold},
		{ListingKey: "C", City: "Ottawa", Status: models.StatusActive, IsActive: true},
	} {
		store.Upsert(ctx, &l)
	}

	resp, err := http.Get(srv.URL + "/listings/count?status=active&city=Toronto")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var body map[string]int
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["count"] != 1 {
		t.Fatalf("expected 1, got %v", body)
	}

	resp, _ = http.Get(srv.URL + "/listings/count?status=pending")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeSync{state: models.NewSyncState()})

	resp, _ := http.Get(srv.URL + "/healthz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Trace-ID") == "" {
		t.Fatalf("expected 200 with trace id, got %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", resp.StatusCode)
	}
}

func TestRuns_DisabledWithoutHistory(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeSync{state: models.NewSyncState()})

	resp, _ := http.Get(srv.URL + "/sync/runs")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRunWorker_QueuesCommand(t *testing.T) {
	q := &fakeQueue{}
	srv, _, _ := newTestServerWithQueue(t, &fakeSync{state: models.NewSyncState()}, q)

	resp := post(t, srv.URL+"/workers/geocode/run", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(q.queued) != 1 || q.queued[0] != models.CmdRunGeocode {
		t.Fatalf("expected run_geocode queued, got %v", q.queued)
	}

	resp = post(t, srv.URL+"/workers/enrichment/run", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || len(q.queued) != 1 {
		t.Fatalf("expected 404 for unknown worker, got %d", resp.StatusCode)
	}
}

func TestRunWorker_DisabledWithoutQueue(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeSync{state: models.NewSyncState()})

	resp := post(t, srv.URL+"/workers/images/run", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
