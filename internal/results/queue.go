// Package results buffers finished records for one job and hands them to a
// flusher in batches, by size or after a wait measured from the first
// record of the current window.
package results

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

const (
	defaultMaxBatchSize = 50
	defaultMaxWait      = 5 * time.Second
)

// FlushFunc delivers one batch. It runs on its own goroutine.
type FlushFunc func(ctx context.Context, batch scraper.Batch)

// Config controls the flush triggers.
//   - MaxBatchSize: flush as soon as this many records are buffered (default 50).
//   - MaxWait: flush this long after the first record of a window (default 5s).
//   - BaseContext: context handed to the flusher (defaults to context.Background()).
type Config struct {
	MaxBatchSize int
	MaxWait      time.Duration
	BaseContext  context.Context
	Logger       *zap.Logger
}

// Queue implements scraper.RecordSink.
type Queue struct {
	cfg    Config
	clock  scraper.Clock
	ids    scraper.IDGenerator
	flush  FlushFunc
	logger *zap.Logger

	mu     sync.Mutex
	buf    []scraper.ScrapeRecord
	gen    uint64
	timer  scraper.Timer
	closed bool

	// pending counts the open window plus every delivery still running.
	pending sync.WaitGroup
}

// New builds a Queue.
func New(cfg Config, clock scraper.Clock, ids scraper.IDGenerator, flush FlushFunc) (*Queue, error) {
	if clock == nil || ids == nil {
		return nil, fmt.Errorf("clock and id generator are required")
	}
	if flush == nil {
		return nil, fmt.Errorf("flush func is required")
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:    cfg,
		clock:  clock,
		ids:    ids,
		flush:  flush,
		logger: logger,
	}, nil
}

// Add buffers rec and flushes when the size trigger is reached.
func (q *Queue) Add(rec scraper.ScrapeRecord) {
	q.mu.Lock()
	if len(q.buf) == 0 {
		q.pending.Add(1)
		if !q.closed {
			gen := q.gen
			q.timer = q.clock.AfterFunc(q.cfg.MaxWait, func() { q.onTimer(gen) })
		}
	}
	q.buf = append(q.buf, rec)
	if len(q.buf) < q.cfg.MaxBatchSize && !q.closed {
		q.mu.Unlock()
		return
	}
	records := q.takeLocked()
	q.mu.Unlock()
	go q.deliver(records)
}

// Buffered returns the number of records waiting in the open window.
func (q *Queue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Drain waits for the open window to flush on its own timer and for every
// delivery to finish.
func (q *Queue) Drain(ctx context.Context) error {
	return q.wait(ctx)
}

// Close flushes the open window immediately and waits for deliveries.
// Records added afterwards are delivered one batch each.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	var records []scraper.ScrapeRecord
	if len(q.buf) > 0 {
		records = q.takeLocked()
	}
	q.mu.Unlock()
	if records != nil {
		go q.deliver(records)
	}
	return q.wait(ctx)
}

func (q *Queue) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("results queue wait: %w", ctx.Err())
	}
}

func (q *Queue) onTimer(gen uint64) {
	q.mu.Lock()
	if gen != q.gen || len(q.buf) == 0 {
		q.mu.Unlock()
		return
	}
	records := q.takeLocked()
	q.mu.Unlock()
	go q.deliver(records)
}

// takeLocked swaps the buffer out and retires the window's timer. The
// window's pending count passes to the delivery.
func (q *Queue) takeLocked() []scraper.ScrapeRecord {
	records := q.buf
	q.buf = nil
	q.gen++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	return records
}

func (q *Queue) deliver(records []scraper.ScrapeRecord) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("batch flush panic", zap.Any("panic", r), zap.Int("records", len(records)))
		}
	}()

	batch := scraper.Batch{
		BatchID:     q.batchID(),
		ProcessedAt: q.clock.Now().UnixMilli(),
		Records:     records,
	}
	metrics.ObserveBatchFlushed(len(records))
	q.logger.Debug("flushing batch", zap.String("batch_id", batch.BatchID), zap.Int("records", len(records)))
	q.flush(q.cfg.BaseContext, batch)
}

func (q *Queue) batchID() string {
	id, err := q.ids.NewID()
	if err != nil {
		q.logger.Warn("batch id generation failed", zap.Error(err))
		return "batch-" + strconv.FormatInt(q.clock.Now().UnixNano(), 36)
	}
	return id
}

var _ scraper.RecordSink = (*Queue)(nil)
