package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/clock/fake"
	"github.com/JakeFAU/realtime-price-scraper/internal/dispatcher"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
	"github.com/JakeFAU/realtime-price-scraper/internal/storage/memory"
	"github.com/JakeFAU/realtime-price-scraper/internal/worker"
)

type stubProcessor struct {
	hold chan struct{}
}

func (s *stubProcessor) Process(ctx context.Context, jobID string, task scraper.URLTask) scraper.ScrapeRecord {
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-ctx.Done():
			return scraper.NewErrorRecord(jobID, task, ctx.Err().Error(), time.Time{})
		}
	}
	return scraper.ScrapeRecord{
		URLID:       task.URLID,
		ScrapeJobID: jobID,
		Status:      scraper.StatusCompleted,
		Fields:      scraper.ProductFields{scraper.FieldCurrentPrice: 1.0},
	}
}

type recordingDeliverer struct {
	mu      sync.Mutex
	batches []scraper.Batch
	targets []scraper.CallbackTarget
	fail    bool
}

func (r *recordingDeliverer) Deliver(_ context.Context, batch scraper.Batch, target scraper.CallbackTarget) dispatcher.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	r.targets = append(r.targets, target)
	return dispatcher.Outcome{Delivered: !r.fail, Attempts: 1}
}

func (r *recordingDeliverer) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, len(b.Records))
	}
	return out
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type harness struct {
	clock   *fake.Clock
	jobs    *memory.JobStore
	deliver *recordingDeliverer
	manager *Manager
}

func newHarness(t *testing.T, proc worker.Processor, cfg Config) *harness {
	t.Helper()
	clk := fake.New(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	pool, err := worker.New(8, proc, clk, zap.NewNop())
	require.NoError(t, err)
	jobs := memory.NewJobStore(0)
	deliver := &recordingDeliverer{}
	m, err := NewManager(pool, deliver, jobs, clk, &seqIDs{}, cfg, zap.NewNop())
	require.NoError(t, err)
	return &harness{clock: clk, jobs: jobs, deliver: deliver, manager: m}
}

func request(n int) Request {
	req := Request{CallbackURL: "https://caller.example.com/hook", CallbackToken: "tok"}
	for i := 0; i < n; i++ {
		req.URLs = append(req.URLs, scraper.URLTask{
			URLID: fmt.Sprintf("u-%d", i),
			URL:   fmt.Sprintf("https://shop.example.com/p/%d", i),
		})
	}
	return req
}

func (h *harness) waitState(t *testing.T, jobID string, state scraper.JobState) scraper.JobSnapshot {
	t.Helper()
	var snap scraper.JobSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = h.manager.Status(context.Background(), jobID)
		return err == nil && snap.State == state
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestTwoURLsDeliverOneBatchAfterWait(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubProcessor{}, Config{})
	jobID, err := h.manager.Start(context.Background(), request(2))
	require.NoError(t, err)

	h.waitState(t, jobID, scraper.JobStateDelivering)
	require.Empty(t, h.deliver.sizes())

	h.clock.Advance(5 * time.Second)
	snap := h.waitState(t, jobID, scraper.JobStateDone)

	require.Equal(t, []int{2}, h.deliver.sizes())
	require.Equal(t, scraper.CallbackTarget{URL: "https://caller.example.com/hook", Token: "tok"}, h.deliver.targets[0])
	require.Equal(t, scraper.JobCounters{Total: 2, Completed: 2, BatchesDelivered: 1}, snap.Counters)
	require.NotNil(t, snap.Finished)
}

func TestSixtyURLsSplitIntoFiftyAndTen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubProcessor{}, Config{})
	jobID, err := h.manager.Start(context.Background(), request(60))
	require.NoError(t, err)

	h.waitState(t, jobID, scraper.JobStateDelivering)
	require.Eventually(t, func() bool { return len(h.deliver.sizes()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []int{50}, h.deliver.sizes())

	h.clock.Advance(5 * time.Second)
	snap := h.waitState(t, jobID, scraper.JobStateDone)
	require.Equal(t, []int{50, 10}, h.deliver.sizes())
	require.Equal(t, 60, snap.Counters.Completed)
	require.Equal(t, 2, snap.Counters.BatchesDelivered)

	seen := map[string]bool{}
	for _, b := range h.deliver.batches {
		for _, rec := range b.Records {
			require.False(t, seen[rec.URLID])
			seen[rec.URLID] = true
			require.Equal(t, jobID, rec.ScrapeJobID)
		}
	}
	require.Len(t, seen, 60)
}

func TestAbandonedBatchesAreCounted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubProcessor{}, Config{MaxBatchSize: 1})
	h.deliver.fail = true
	jobID, err := h.manager.Start(context.Background(), request(3))
	require.NoError(t, err)

	snap := h.waitState(t, jobID, scraper.JobStateDone)
	require.Equal(t, 3, snap.Counters.BatchesAbandoned)
	require.Zero(t, snap.Counters.BatchesDelivered)
}

func TestShutdownFlushesAndCancelsPendingTasks(t *testing.T) {
	t.Parallel()

	proc := &stubProcessor{hold: make(chan struct{})}
	h := newHarness(t, proc, Config{})
	jobID, err := h.manager.Start(context.Background(), request(20))
	require.NoError(t, err)

	require.NoError(t, h.manager.Ready(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Shutdown(ctx))
	require.ErrorIs(t, h.manager.Ready(context.Background()), ErrShuttingDown)

	snap, err := h.manager.Status(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStateDone, snap.State)
	require.Equal(t, 20, snap.Counters.Errors)
	require.Equal(t, []int{20}, h.deliver.sizes())

	_, err = h.manager.Start(context.Background(), request(1))
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestStartValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubProcessor{}, Config{MaxURLs: 2})
	tests := []struct {
		name string
		req  Request
	}{
		{name: "no urls", req: Request{CallbackURL: "https://caller.example.com"}},
		{name: "too many urls", req: request(3)},
		{name: "missing callback", req: Request{URLs: request(1).URLs}},
		{name: "bad callback scheme", req: Request{URLs: request(1).URLs, CallbackURL: "ftp://caller.example.com"}},
		{name: "missing url id", req: Request{
			URLs:        []scraper.URLTask{{URL: "https://shop.example.com"}},
			CallbackURL: "https://caller.example.com",
		}},
		{name: "relative url", req: Request{
			URLs:        []scraper.URLTask{{URLID: "u", URL: "/p/1"}},
			CallbackURL: "https://caller.example.com",
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := h.manager.Start(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestStatusUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &stubProcessor{}, Config{})
	_, err := h.manager.Status(context.Background(), "missing")
	require.ErrorIs(t, err, scraper.ErrJobNotFound)
}
