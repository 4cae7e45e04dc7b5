package models

import "time"

// JobLock is a leased claim of exclusivity for one job name, recorded as a
// row rather than a session lock because connections are pooled and shared.
// Exactly one row exists per job name; it is overwritten on re-acquisition
// and never deleted.
type JobLock struct {
	JobName     string    `json:"job_name" db:"job_name"`
	LockedUntil time.Time `json:"locked_until" db:"locked_until"`
	LockToken   string    `json:"lock_token" db:"lock_token"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// JobHeartbeat is the last-seen record per job name, upserted on every run
// transition. External alerting reads it to flag stale jobs.
type JobHeartbeat struct {
	JobName        string     `json:"job_name" db:"job_name"`
	LastSeenAt     time.Time  `json:"last_seen_at" db:"last_seen_at"`
	LastStatus     string     `json:"last_status" db:"last_status"`
	LastRunID      *string    `json:"last_run_id,omitempty" db:"last_run_id"`
	LastTargetDate *time.Time `json:"last_target_date,omitempty" db:"last_target_date"`
	LastError      *string    `json:"last_error,omitempty" db:"last_error"`
}
