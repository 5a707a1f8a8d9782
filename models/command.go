package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdSyncFull        CommandType = "sync_full"
	CmdSyncIncremental CommandType = "sync_incremental"
	CmdSyncAuto        CommandType = "sync_auto"
	CmdPause           CommandType = "pause"
	CmdResume          CommandType = "resume"
	CmdRunGeocode      CommandType = "run_geocode"
	CmdRunRecheck      CommandType = "run_recheck"
	CmdRunImages       CommandType = "run_images"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Limit       int    `json:"limit,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	MaxBatches  int    `json:"max_batches,omitempty"`
	Reset       bool   `json:"reset,omitempty"`
	StatusScope string `json:"status_scope,omitempty"`
}
