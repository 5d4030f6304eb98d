// Package schedule provides durable recurring triggers for posting runs
// with pulse control: anchored slots, misfire grace and one run in flight
// per schedule.
package schedule

import (
	"time"

	"github.com/teranos/repost/pulse/posting"
)

// Job is the persisted trigger for one schedule identity
type Job struct {
	ID              string
	Interval        time.Duration
	Credential      posting.Credential
	Listing         posting.Listing
	State           string
	AnchorAt        time.Time // slots fall at AnchorAt + k*Interval
	NextRunAt       time.Time
	LastRunAt       *time.Time
	LastSuccessAt   *time.Time
	LastExecutionID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// State constants for scheduled jobs
const (
	StateActive   = "active"   // Job fires on schedule
	StateInactive = "inactive" // Job is kept but does not fire
)
