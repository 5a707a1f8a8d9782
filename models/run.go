package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusRejected  RunStatus = "rejected"
)

// SyncRun is one row of run history kept in the operational database.
type SyncRun struct {
	ID          string     `json:"id" db:"id"`
	Mode        SyncMode   `json:"mode" db:"mode"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at" db:"finished_at"`
	Status      RunStatus  `json:"status" db:"status"`
	StartOffset int        `json:"start_offset" db:"start_offset"`
	EndOffset   int        `json:"end_offset" db:"end_offset"`
	Pages       int        `json:"pages" db:"pages"`
	Stats       RunStats   `json:"stats"`
	Purged      int64      `json:"purged" db:"purged"`
	Error       string     `json:"error" db:"error"`
}
