package scraper

import (
	"context"
	"errors"
	"time"
)

// JobState is the lifecycle phase of a job.
type JobState string

const (
	// JobStateRunning means URLs are still being processed.
	JobStateRunning JobState = "running"
	// JobStateDelivering means every URL has a record and batches are still in flight.
	JobStateDelivering JobState = "delivering"
	// JobStateDone means every batch reached a terminal delivery outcome.
	JobStateDone JobState = "done"
)

// ErrJobNotFound is returned by JobStore lookups for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// JobCounters tracks per-job progress.
type JobCounters struct {
	Total            int `json:"total"`
	Completed        int `json:"completed"`
	Errors           int `json:"errors"`
	BatchesDelivered int `json:"batchesDelivered"`
	BatchesAbandoned int `json:"batchesAbandoned"`
}

// Processed returns the number of URLs with a final record.
func (c JobCounters) Processed() int {
	return c.Completed + c.Errors
}

// JobSnapshot is the observable status of a job.
type JobSnapshot struct {
	ID          string      `json:"jobId"`
	State       JobState    `json:"status"`
	CallbackURL string      `json:"callbackUrl"`
	Counters    JobCounters `json:"counters"`
	Submitted   time.Time   `json:"submittedAt"`
	Finished    *time.Time  `json:"finishedAt,omitempty"`
}

// JobStore persists job status for the status endpoint.
type JobStore interface {
	CreateJob(ctx context.Context, job JobSnapshot) error
	RecordResult(ctx context.Context, jobID string, status Status) error
	RecordBatch(ctx context.Context, jobID string, delivered bool) error
	SetJobState(ctx context.Context, jobID string, state JobState) error
	GetJob(ctx context.Context, jobID string) (JobSnapshot, error)
}
