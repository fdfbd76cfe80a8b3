// Package worker runs URL tasks through the processor with a global
// concurrency cap shared by every job.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// DefaultSize is the pool's concurrency cap when none is configured.
const DefaultSize = 50

// CanceledMessage is the errorMessage of tasks that were never admitted.
const CanceledMessage = "scrape canceled"

// Processor converts one task into its record.
type Processor interface {
	Process(ctx context.Context, jobID string, task scraper.URLTask) scraper.ScrapeRecord
}

// Pool admits at most Size tasks at a time.
type Pool struct {
	sem    chan struct{}
	proc   Processor
	clock  scraper.Clock
	logger *zap.Logger
	wg     sync.WaitGroup
}

// Handle tracks one Submit call.
type Handle struct {
	total int
	done  chan struct{}
}

// Total returns the number of tasks submitted.
func (h *Handle) Total() int { return h.total }

// Done is closed once every task has produced a record.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until Done or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for tasks: %w", ctx.Err())
	}
}

// New builds a Pool.
func New(size int, proc Processor, clock scraper.Clock, logger *zap.Logger) (*Pool, error) {
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		sem:    make(chan struct{}, size),
		proc:   proc,
		clock:  clock,
		logger: logger,
	}, nil
}

// Size returns the concurrency cap.
func (p *Pool) Size() int { return cap(p.sem) }

// Submit queues tasks and returns immediately. Every task yields exactly one
// record on sink: tasks still waiting for a slot when ctx ends are recorded
// as canceled.
func (p *Pool) Submit(ctx context.Context, jobID string, tasks []scraper.URLTask, sink scraper.RecordSink) *Handle {
	h := &Handle{total: len(tasks), done: make(chan struct{})}
	metrics.AddPending(len(tasks))
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(h.done)
		p.admit(ctx, jobID, tasks, sink)
	}()
	return h
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) admit(ctx context.Context, jobID string, tasks []scraper.URLTask, sink scraper.RecordSink) {
	var running sync.WaitGroup
	defer running.Wait()

	for i, task := range tasks {
		if !p.acquire(ctx) {
			p.cancelRemaining(jobID, tasks[i:], sink)
			return
		}
		metrics.AddPending(-1)
		metrics.IncInFlight()
		running.Add(1)
		go func(task scraper.URLTask) {
			defer running.Done()
			defer p.release()
			defer metrics.DecInFlight()
			sink.Add(p.run(ctx, jobID, task))
		}(task)
	}
}

func (p *Pool) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case p.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) release() {
	<-p.sem
}

// run isolates one processor call.
func (p *Pool) run(ctx context.Context, jobID string, task scraper.URLTask) (rec scraper.ScrapeRecord) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panic",
				zap.String("job_id", jobID),
				zap.String("url_id", task.URLID),
				zap.Any("panic", r),
			)
			rec = scraper.NewErrorRecord(jobID, task, fmt.Sprintf("internal error: %v", r), p.clock.Now())
		}
	}()
	return p.proc.Process(ctx, jobID, task)
}

func (p *Pool) cancelRemaining(jobID string, tasks []scraper.URLTask, sink scraper.RecordSink) {
	p.logger.Warn("job canceled before all tasks were admitted",
		zap.String("job_id", jobID),
		zap.Int("remaining", len(tasks)),
	)
	now := p.clock.Now()
	for _, task := range tasks {
		metrics.AddPending(-1)
		sink.Add(scraper.NewErrorRecord(jobID, task, CanceledMessage, now))
	}
}
