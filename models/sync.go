package models

import "time"

type SyncMode string

const (
	ModeInitialLoad SyncMode = "initial_load"
	ModeIncremental SyncMode = "incremental"
)

type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncRunning SyncStatus = "running"
	SyncPaused  SyncStatus = "paused"
	SyncFailed  SyncStatus = "failed"
)

// RunStats are the per-run counters. Used both as the stored totals and as additive deltas.
type RunStats struct {
	Synced        int `json:"synced"`
	Updated       int `json:"updated"`
	Failed        int `json:"failed"`
	StatusChanged int `json:"status_changed"`
}

func (r *RunStats) Add(d RunStats) {
	r.Synced += d.Synced
	r.Updated += d.Updated
	r.Failed += d.Failed
	r.StatusChanged += d.StatusChanged
}

// SyncState is the singleton progress record of the ingestion process.
type SyncState struct {
	Mode                   SyncMode   `json:"mode" db:"mode"`
	Status                 SyncStatus `json:"status" db:"status"`
	CurrentBatchOffset     int        `json:"current_batch_offset" db:"current_batch_offset"`
	CheckpointScope        string     `json:"checkpoint_scope" db:"checkpoint_scope"`
	BatchSize              int        `json:"batch_size" db:"batch_size"`
	TotalSynced            int        `json:"total_synced" db:"total_synced"`
	InitialSyncComplete    bool       `json:"initial_sync_complete" db:"initial_sync_complete"`
	InitialSyncCompletedAt *time.Time `json:"initial_sync_completed_at" db:"initial_sync_completed_at"`
	LastSyncStartedAt      *time.Time `json:"last_sync_started_at" db:"last_sync_started_at"`
	LastSyncCompletedAt    *time.Time `json:"last_sync_completed_at" db:"last_sync_completed_at"`
	LastError              *string    `json:"last_error" db:"last_error"`
	CurrentRun             RunStats   `json:"current_run"`
}

// DefaultCheckpointScope is the status scope the initial load pages through.
const DefaultCheckpointScope = "active"

// NewSyncState returns the state a fresh deployment starts from.
func NewSyncState() SyncState {
	return SyncState{
		Mode:            ModeInitialLoad,
		Status:          SyncIdle,
		CheckpointScope: DefaultCheckpointScope,
	}
}
