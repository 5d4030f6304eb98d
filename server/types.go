package server

import (
	"time"

	"github.com/teranos/repost/pulse/budget"
	"github.com/teranos/repost/pulse/posting"
	"github.com/teranos/repost/pulse/schedule"
)

// =======================
// API Request/Response Types
// =======================

// UpsertScheduleRequest is the body of PUT /api/schedules/{id}
type UpsertScheduleRequest struct {
	Interval      string             `json:"interval,omitempty"`       // "12h", "@every 12h", "@daily"
	IntervalHours int                `json:"interval_hours,omitempty"` // alternative to interval
	Credential    posting.Credential `json:"credential"`
	Listing       posting.Listing    `json:"listing"`
	Active        *bool              `json:"active,omitempty"` // default true
}

// UpdateScheduleRequest is the body of PATCH /api/schedules/{id}.
// A new interval keeps the stored credential and listing.
type UpdateScheduleRequest struct {
	Interval      string `json:"interval,omitempty"`
	IntervalHours int    `json:"interval_hours,omitempty"`
	Active        *bool  `json:"active,omitempty"`
}

// ScheduleResponse represents a schedule in API responses. The credential
// secret is always redacted.
type ScheduleResponse struct {
	ID              string             `json:"id"`
	Interval        string             `json:"interval"`
	IntervalSeconds int64              `json:"interval_seconds"`
	State           string             `json:"state"`
	Credential      posting.Credential `json:"credential"`
	Listing         posting.Listing    `json:"listing"`
	AnchorAt        string             `json:"anchor_at"`   // RFC3339 timestamp
	NextRunAt       string             `json:"next_run_at"` // RFC3339 timestamp
	LastRunAt       *string            `json:"last_run_at,omitempty"`
	LastSuccessAt   *string            `json:"last_success_at,omitempty"`
	LastExecutionID string             `json:"last_execution_id,omitempty"`
	InFlight        bool               `json:"in_flight"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
}

// ListSchedulesResponse represents the response for listing schedules
type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
	Count     int                `json:"count"`
}

// ListExecutionsResponse represents the response for a schedule's run history
type ListExecutionsResponse struct {
	ScheduleID string                `json:"schedule_id"`
	Executions []*schedule.Execution `json:"executions"`
	Count      int                   `json:"count"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Scheduler schedule.Stats `json:"scheduler"`

	CaptchaBudget *budget.Status `json:"captcha_budget,omitempty"`
}

// ErrorResponse represents an API error with optional structured details
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"` // Structured error context from errors.GetAllDetails()
}

func toScheduleResponse(job *schedule.Job, inFlight bool) ScheduleResponse {
	resp := ScheduleResponse{
		ID:              job.ID,
		Interval:        job.Interval.String(),
		IntervalSeconds: int64(job.Interval / time.Second),
		State:           job.State,
		Credential:      job.Credential.Redacted(),
		Listing:         job.Listing,
		AnchorAt:        job.AnchorAt.Format(time.RFC3339),
		NextRunAt:       job.NextRunAt.Format(time.RFC3339),
		LastExecutionID: job.LastExecutionID,
		InFlight:        inFlight,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
	if job.LastRunAt != nil {
		s := job.LastRunAt.Format(time.RFC3339)
		resp.LastRunAt = &s
	}
	if job.LastSuccessAt != nil {
		s := job.LastSuccessAt.Format(time.RFC3339)
		resp.LastSuccessAt = &s
	}
	return resp
}
