package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// JobStore keeps job status in memory. Finished jobs older than the
// retention window are evicted when new jobs arrive.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]scraper.JobSnapshot
	retention time.Duration
	now       func() time.Time
}

// NewJobStore constructs a JobStore. A zero retention keeps jobs forever.
func NewJobStore(retention time.Duration) *JobStore {
	return &JobStore{
		jobs:      make(map[string]scraper.JobSnapshot),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job scraper.JobSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.evictLocked()
	s.jobs[job.ID] = job
	return nil
}

// RecordResult counts a finished record against the job.
func (s *JobStore) RecordResult(_ context.Context, jobID string, status scraper.Status) error {
	return s.update(jobID, func(job *scraper.JobSnapshot) {
		if status == scraper.StatusCompleted {
			job.Counters.Completed++
		} else {
			job.Counters.Errors++
		}
	})
}

// RecordBatch counts a batch delivery outcome against the job.
func (s *JobStore) RecordBatch(_ context.Context, jobID string, delivered bool) error {
	return s.update(jobID, func(job *scraper.JobSnapshot) {
		if delivered {
			job.Counters.BatchesDelivered++
		} else {
			job.Counters.BatchesAbandoned++
		}
	})
}

// SetJobState moves the job to state, stamping Finished on completion.
func (s *JobStore) SetJobState(_ context.Context, jobID string, state scraper.JobState) error {
	return s.update(jobID, func(job *scraper.JobSnapshot) {
		job.State = state
		if state == scraper.JobStateDone && job.Finished == nil {
			job.Finished = pointerTime(s.now())
		}
	})
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.JobSnapshot{}, scraper.ErrJobNotFound
	}
	return job, nil
}

func (s *JobStore) update(jobID string, fn func(*scraper.JobSnapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrJobNotFound
	}
	fn(&job)
	s.jobs[jobID] = job
	return nil
}

func (s *JobStore) evictLocked() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	for id, job := range s.jobs {
		if job.Finished != nil && job.Finished.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
