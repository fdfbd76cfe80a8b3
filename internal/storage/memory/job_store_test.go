package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore(0)
	ctx := context.Background()
	job := scraper.JobSnapshot{ID: "job-1", State: scraper.JobStateRunning, Counters: scraper.JobCounters{Total: 3}}

	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.CreateJob(ctx, job); err == nil {
		t.Fatal("expected duplicate job error")
	}
	for _, st := range []scraper.Status{scraper.StatusCompleted, scraper.StatusCompleted, scraper.StatusError} {
		if err := store.RecordResult(ctx, job.ID, st); err != nil {
			t.Fatalf("RecordResult() error = %v", err)
		}
	}
	if err := store.RecordBatch(ctx, job.ID, true); err != nil {
		t.Fatalf("RecordBatch() error = %v", err)
	}
	if err := store.RecordBatch(ctx, job.ID, false); err != nil {
		t.Fatalf("RecordBatch() error = %v", err)
	}
	if err := store.SetJobState(ctx, job.ID, scraper.JobStateDone); err != nil {
		t.Fatalf("SetJobState() error = %v", err)
	}

	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	want := scraper.JobCounters{Total: 3, Completed: 2, Errors: 1, BatchesDelivered: 1, BatchesAbandoned: 1}
	if final.Counters != want {
		t.Fatalf("unexpected counters %+v", final.Counters)
	}
	if final.State != scraper.JobStateDone || final.Finished == nil {
		t.Fatalf("expected done job with finish time, got %+v", final)
	}
	if final.Counters.Processed() != 3 {
		t.Fatalf("expected 3 processed, got %d", final.Counters.Processed())
	}
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore(0)
	ctx := context.Background()
	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, scraper.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.RecordResult(ctx, "missing", scraper.StatusError); !errors.Is(err, scraper.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreEvictsFinishedJobs(t *testing.T) {
	t.Parallel()

	store := NewJobStore(time.Hour)
	now := time.Unix(10_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if err := store.CreateJob(ctx, scraper.JobSnapshot{ID: "old"}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := store.SetJobState(ctx, "old", scraper.JobStateDone); err != nil {
		t.Fatalf("SetJobState() error = %v", err)
	}
	if err := store.CreateJob(ctx, scraper.JobSnapshot{ID: "running"}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	now = now.Add(2 * time.Hour)
	if err := store.CreateJob(ctx, scraper.JobSnapshot{ID: "new"}); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if _, err := store.GetJob(ctx, "old"); err == nil {
		t.Fatal("expected finished job to be evicted")
	}
	if _, err := store.GetJob(ctx, "running"); err != nil {
		t.Fatalf("expected unfinished job to survive, got %v", err)
	}
}
