package models

import (
	"time"
)

// RebuildJobState is the lifecycle state of a rebuild job
type RebuildJobState string

const (
	RebuildJobRunning   RebuildJobState = "running"
	RebuildJobCompleted RebuildJobState = "completed"
	RebuildJobCancelled RebuildJobState = "cancelled"
	RebuildJobFailed    RebuildJobState = "failed"
)

// RebuildJob tracks a relationship recompute over a document window.
// The job checkpoint lives in Redis so an interrupted job resumes
// without redoing processed documents.
type RebuildJob struct {
	ID         string          `json:"id"`
	State      RebuildJobState `json:"state"`
	WindowDays int             `json:"window_days"`

	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Cursor    string `json:"cursor,omitempty"` // last processed document id

	Error string `json:"error,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Done reports whether the job has reached a terminal state
func (j *RebuildJob) Done() bool {
	return j.State != RebuildJobRunning
}
