package models

import (
	"encoding/json"
	"time"
)

// Run statuses. A run is created as running and mutated exactly once to a
// terminal status; rows are never deleted.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// JobRun is the execution log for one job invocation. For date-targeted
// jobs at most one success row exists per (job_name, target_date); gap
// detection is built on that uniqueness.
type JobRun struct {
	ID           string          `json:"id" db:"id"`
	JobName      string          `json:"job_name" db:"job_name"`
	TargetDate   *time.Time      `json:"target_date,omitempty" db:"target_date"`
	Status       string          `json:"status" db:"status"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	ErrorSummary *string         `json:"error_summary,omitempty" db:"error_summary"`
	Meta         json.RawMessage `json:"meta,omitempty" db:"meta"`
}

// JobRunItem is an optional per-dataset sub-log of a run.
type JobRunItem struct {
	RunID     string `json:"run_id" db:"run_id"`
	Dataset   string `json:"dataset" db:"dataset"`
	Status    string `json:"status" db:"status"`
	RowCount  int64  `json:"row_count" db:"row_count"`
	PageCount int64  `json:"page_count" db:"page_count"`
}
