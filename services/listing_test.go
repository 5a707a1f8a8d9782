package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"mls_ingest/models"
	"mls_ingest/storage"
)

func record(fields map[string]any) json.RawMessage {
	data, _ := json.Marshal(fields)
	return data
}

func newTestService() (*ListingService, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewListingService(store).WithClock(func() time.Time { return syncTime }), store
}

func TestProcessRecord_CreateUpdateStatusChange(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	active := record(map[string]any{"ListingKey": "K1", "StandardStatus": "Active", "ListPrice": 500000, "City": "Toronto"})
	res, err := svc.ProcessRecord(ctx, active, map[string][]string{"K1": {"https://cdn/1.jpg"}}, true)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeCreated || res.Delta().Synced != 1 {
		t.Fatalf("expected created, got %s", res.Outcome)
	}

	res, _ = svc.ProcessRecord(ctx, active, nil, false)
	if res.Outcome != OutcomeUpdated || res.Delta().Updated != 1 {
		t.Fatalf("expected updated, got %s", res.Outcome)
	}
	stored, _ := store.FindByKey(ctx, "K1")
	if !stored.HasImages || stored.ImageURLs[0] != "https://cdn/1.jpg" {
		t.Fatalf("expected images kept when not harvested, got %v", stored.ImageURLs)
	}

	sold := record(map[string]any{"ListingKey": "K1", "MlsStatus": "Sold", "StandardStatus": "Closed", "ClosePrice": 490000})
	res, _ = svc.ProcessRecord(ctx, sold, nil, false)
	if res.Outcome != OutcomeStatusChanged || res.Change == nil {
		t.Fatalf("expected status change, got %s", res.Outcome)
	}
	if res.Change.From != models.StatusActive || res.Change.To != models.StatusSold {
		t.Fatalf("expected active->sold, got %s->%s", res.Change.From, res.Change.To)
	}
	stored, _ = store.FindByKey(ctx, "K1")
	if stored.IsActive || *stored.Price != 490000 {
		t.Fatalf("expected inactive at close price, got %+v", stored)
	}
}

func TestProcessRecord_UntrackedStatusIsRemoved(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	svc.ProcessRecord(ctx, record(map[string]any{"ListingKey": "K2", "StandardStatus": "Active"}), nil, false)

	res, err := svc.ProcessRecord(ctx, record(map[string]any{"ListingKey": "K2", "StandardStatus": "Expired"}), nil, false)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeRemoved {
		t.Fatalf("expected removed, got %s", res.Outcome)
	}
	if l, _ := store.FindByKey(ctx, "K2"); l != nil {
		t.Fatalf("expected record deleted")
	}

	res, _ = svc.ProcessRecord(ctx, record(map[string]any{"ListingKey": "K3", "StandardStatus": "Withdrawn"}), nil, false)
	if res.Outcome != OutcomeSkipped {
		t.Fatalf("expected skipped for unseen untracked record, got %s", res.Outcome)
	}
}

func TestProcessRecord_InvalidPayload(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.ProcessRecord(context.Background(), json.RawMessage(`{"ListPrice": 1}`), nil, false); err == nil {
		t.Fatalf("expected error for record without key")
	}
}
