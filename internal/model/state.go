package model

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

func (s RunStatus) String() string { return string(s) }

// CoordinatorState is the per-run state row saved by the coordinator.
type CoordinatorState struct {
	CoordinatorID string    `json:"-"            db:"coordinator_id"`
	RunID         string    `json:"run_id"       db:"run_id"`
	Status        RunStatus `json:"status"       db:"status"`
	LastRun       string    `json:"last_run"     db:"last_run"`
	TasksCount    int       `json:"tasks_count"  db:"tasks_count"`
	UpdatedAt     time.Time `json:"-"            db:"updated_at"`
}

// CacheSnapshot is the JSON document uploaded to the cache bucket.
type CacheSnapshot struct {
	Timestamp     string `json:"timestamp"`
	CoordinatorID string `json:"coordinator_id"`
	CacheEntries  int    `json:"cache_entries"`
	Status        string `json:"status"` // cached
}
