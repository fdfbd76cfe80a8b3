// Package job accepts scrape requests, fans their URLs out to the worker
// pool, and wires each job's result queue to the callback dispatcher.
package job

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/dispatcher"
	"github.com/JakeFAU/realtime-price-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-price-scraper/internal/results"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
	"github.com/JakeFAU/realtime-price-scraper/internal/worker"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid scrape request")
	// ErrShuttingDown is returned by Start once Shutdown has begun.
	ErrShuttingDown = errors.New("service is shutting down")
)

// Request is an inbound scrape job.
type Request struct {
	URLs          []scraper.URLTask `json:"urls"`
	CallbackURL   string            `json:"callbackUrl"`
	CallbackToken string            `json:"callbackToken"`
}

// Submitter runs tasks and reports each record to sink.
type Submitter interface {
	Submit(ctx context.Context, jobID string, tasks []scraper.URLTask, sink scraper.RecordSink) *worker.Handle
}

// Deliverer posts one batch to the caller.
type Deliverer interface {
	Deliver(ctx context.Context, batch scraper.Batch, target scraper.CallbackTarget) dispatcher.Outcome
}

// Config sets the result queue triggers and request limits.
type Config struct {
	MaxBatchSize int
	MaxWait      time.Duration
	// MaxURLs rejects larger requests. Zero means unlimited.
	MaxURLs int
}

// Manager owns the lifecycle of every accepted job.
type Manager struct {
	pool    Submitter
	deliver Deliverer
	jobs    scraper.JobStore
	clock   scraper.Clock
	ids     scraper.IDGenerator
	cfg     Config
	logger  *zap.Logger

	workCtx        context.Context
	cancelWork     context.CancelFunc
	deliveryCtx    context.Context
	cancelDelivery context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewManager wires a Manager.
func NewManager(
	pool Submitter,
	deliver Deliverer,
	jobs scraper.JobStore,
	clock scraper.Clock,
	ids scraper.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) (*Manager, error) {
	if pool == nil || deliver == nil || jobs == nil {
		return nil, fmt.Errorf("pool, dispatcher, and job store are required")
	}
	if clock == nil || ids == nil {
		return nil, fmt.Errorf("clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workCtx, cancelWork := context.WithCancel(context.Background())
	deliveryCtx, cancelDelivery := context.WithCancel(context.Background())
	return &Manager{
		pool:           pool,
		deliver:        deliver,
		jobs:           jobs,
		clock:          clock,
		ids:            ids,
		cfg:            cfg,
		logger:         logger,
		workCtx:        workCtx,
		cancelWork:     cancelWork,
		deliveryCtx:    deliveryCtx,
		cancelDelivery: cancelDelivery,
	}, nil
}

// Start validates req, registers the job, and begins processing. It
// returns as soon as the URLs are handed to the pool.
func (m *Manager) Start(ctx context.Context, req Request) (string, error) {
	if err := m.validate(req); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return "", ErrShuttingDown
	}

	jobID, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	snapshot := scraper.JobSnapshot{
		ID:          jobID,
		State:       scraper.JobStateRunning,
		CallbackURL: req.CallbackURL,
		Counters:    scraper.JobCounters{Total: len(req.URLs)},
		Submitted:   m.clock.Now(),
	}
	if err := m.jobs.CreateJob(ctx, snapshot); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	metrics.ObserveJob()

	logger := m.logger.With(zap.String("job_id", jobID))
	target := scraper.CallbackTarget{URL: req.CallbackURL, Token: req.CallbackToken}
	queue, err := results.New(results.Config{
		MaxBatchSize: m.cfg.MaxBatchSize,
		MaxWait:      m.cfg.MaxWait,
		BaseContext:  m.deliveryCtx,
		Logger:       logger.Named("results"),
	}, m.clock, m.ids, func(ctx context.Context, batch scraper.Batch) {
		out := m.deliver.Deliver(ctx, batch, target)
		if err := m.jobs.RecordBatch(context.WithoutCancel(ctx), jobID, out.Delivered); err != nil {
			logger.Warn("record batch outcome failed", zap.Error(err))
		}
	})
	if err != nil {
		return "", fmt.Errorf("build result queue: %w", err)
	}

	sink := scraper.RecordSinkFunc(func(rec scraper.ScrapeRecord) {
		if err := m.jobs.RecordResult(context.Background(), jobID, rec.Status); err != nil {
			logger.Warn("record result failed", zap.String("url_id", rec.URLID), zap.Error(err))
		}
		queue.Add(rec)
	})

	tasks := append([]scraper.URLTask(nil), req.URLs...)
	handle := m.pool.Submit(m.workCtx, jobID, tasks, sink)
	logger.Info("job accepted", zap.Int("urls", len(tasks)))

	m.wg.Add(1)
	go m.finish(jobID, handle, queue, logger)
	return jobID, nil
}

// Status returns the job's current snapshot.
func (m *Manager) Status(ctx context.Context, jobID string) (scraper.JobSnapshot, error) {
	job, err := m.jobs.GetJob(ctx, jobID)
	if err != nil {
		return scraper.JobSnapshot{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// Ready reports ErrShuttingDown once Shutdown has begun.
func (m *Manager) Ready(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrShuttingDown
	}
	return nil
}

// Shutdown stops accepting jobs, cancels tasks not yet admitted, flushes
// every open window immediately, and waits for deliveries. If ctx ends
// first, in-flight deliveries are canceled.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.cancelWork()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancelDelivery()
		return nil
	case <-ctx.Done():
		m.cancelDelivery()
		return fmt.Errorf("job manager shutdown: %w", ctx.Err())
	}
}

func (m *Manager) finish(jobID string, handle *worker.Handle, queue *results.Queue, logger *zap.Logger) {
	defer m.wg.Done()
	<-handle.Done()
	m.setState(jobID, scraper.JobStateDelivering, logger)

	if err := queue.Drain(m.workCtx); err != nil {
		// Shutdown began while waiting on the batch timer.
		if err := queue.Close(m.deliveryCtx); err != nil {
			logger.Warn("result queue close interrupted", zap.Error(err))
		}
	}
	m.setState(jobID, scraper.JobStateDone, logger)
	logger.Info("job finished")
}

func (m *Manager) setState(jobID string, state scraper.JobState, logger *zap.Logger) {
	if err := m.jobs.SetJobState(context.Background(), jobID, state); err != nil {
		logger.Warn("set job state failed", zap.String("state", string(state)), zap.Error(err))
	}
}

func (m *Manager) validate(req Request) error {
	if len(req.URLs) == 0 {
		return fmt.Errorf("%w: urls must not be empty", ErrInvalidRequest)
	}
	if m.cfg.MaxURLs > 0 && len(req.URLs) > m.cfg.MaxURLs {
		return fmt.Errorf("%w: at most %d urls per request", ErrInvalidRequest, m.cfg.MaxURLs)
	}
	if err := validateHTTPURL(req.CallbackURL); err != nil {
		return fmt.Errorf("%w: callbackUrl %v", ErrInvalidRequest, err)
	}
	for i, task := range req.URLs {
		if strings.TrimSpace(task.URLID) == "" {
			return fmt.Errorf("%w: urls[%d].urlId is required", ErrInvalidRequest, i)
		}
		if err := validateHTTPURL(task.URL); err != nil {
			return fmt.Errorf("%w: urls[%d].url %v", ErrInvalidRequest, i, err)
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is malformed: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must be http or https")
	}
	if u.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}
