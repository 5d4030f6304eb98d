package schedule

import "time"

// Execution represents a single firing decision for a scheduled job
//
// Each fired or skipped slot produces one record so operators can see when
// a schedule ran, how long the browser session took, and at which stage a
// failed run stopped.
type Execution struct {
	// Identity
	ID         string `json:"id"`          // uuid
	ScheduleID string `json:"schedule_id"` // not a foreign key: history outlives the schedule

	// Execution status
	Status string `json:"status"` // "running", "completed", "failed", "skipped"

	// Outcome of the posting run
	Stage        string `json:"stage,omitempty"`
	Artifact     string `json:"artifact,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Timing
	ScheduledFor time.Time  `json:"scheduled_for"` // anchored slot being served
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
}

// Execution status constants for type safety
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
	ExecutionStatusSkipped   = "skipped" // previous run of the same schedule still in flight
)
