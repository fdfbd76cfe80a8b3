// Package processor turns one URLTask into exactly one ScrapeRecord by
// running the primary tier and escalating failed dimensions to the fallback
// tier.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// Default per-attempt budgets.
const (
	DefaultDataTimeout       = 90 * time.Second
	DefaultScreenshotTimeout = 180 * time.Second
)

// Config holds per-attempt timeouts and the escalated screenshot retry policy.
type Config struct {
	DataTimeout       time.Duration
	ScreenshotTimeout time.Duration
	// ScreenshotRetry governs the fallback screenshot. Nil means a single attempt.
	ScreenshotRetry scraper.RetryPolicy
	// Sleep waits between screenshot retries. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Processor implements the per-URL extraction state machine.
type Processor struct {
	primary  scraper.Provider
	fallback scraper.Provider
	store    scraper.ScreenshotStore
	clock    scraper.Clock
	cfg      Config
	logger   *zap.Logger
}

// New wires a Processor.
func New(
	primary scraper.Provider,
	fallback scraper.Provider,
	store scraper.ScreenshotStore,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Processor, error) {
	if primary == nil || fallback == nil {
		return nil, fmt.Errorf("primary and fallback providers are required")
	}
	if store == nil {
		return nil, fmt.Errorf("screenshot store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.DataTimeout <= 0 {
		cfg.DataTimeout = DefaultDataTimeout
	}
	if cfg.ScreenshotTimeout <= 0 {
		cfg.ScreenshotTimeout = DefaultScreenshotTimeout
	}
	if cfg.ScreenshotRetry == nil {
		cfg.ScreenshotRetry = scraper.NoRetry{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		primary:  primary,
		fallback: fallback,
		store:    store,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

type tier struct {
	provider scraper.Provider
	method   string
}

// Process runs task to completion. It never panics and always returns a
// record.
func (p *Processor) Process(ctx context.Context, jobID string, task scraper.URLTask) (rec scraper.ScrapeRecord) {
	logger := p.logger.With(zap.String("job_id", jobID), zap.String("url_id", task.URLID))
	ctx, span := otel.Tracer("processor").Start(ctx, "process_url")
	span.SetAttributes(attribute.String("job_id", jobID), attribute.String("url_id", task.URLID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("processor panic", zap.Any("panic", r))
			rec = scraper.NewErrorRecord(jobID, task, fmt.Sprintf("internal error: %v", r), p.clock.Now())
		}
		metrics.ObserveRecord(string(rec.Status), rec.Method)
		span.SetAttributes(attribute.String("status", string(rec.Status)), attribute.String("method", rec.Method))
		span.End()
	}()

	first := tier{provider: p.primary, method: scraper.MethodPrimary}
	second := tier{provider: p.fallback, method: scraper.MethodFallback}
	if task.PreferFallback() {
		first, second = second, first
	}

	trail := &trail{}
	var (
		data Outcome[scraper.ProductFields]
		shot Outcome[string]
		wg   sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		data = p.extract(ctx, first, task, trail)
	}()
	go func() {
		defer wg.Done()
		shot = p.capture(ctx, first, task, trail, scraper.NoRetry{})
	}()
	wg.Wait()

	grid := Classify(data.OK(), shot.OK())
	logger.Debug("first tier finished", zap.String("tier", first.method), zap.Stringer("grid", grid))

	switch grid {
	case BothOK:
	case ScreenshotFailed:
		metrics.ObserveFallback(scraper.OperationScreenshot)
		shot = p.capture(ctx, second, task, trail, p.cfg.ScreenshotRetry)
	case DataFailed:
		metrics.ObserveFallback(scraper.OperationData)
		data = p.extract(ctx, second, task, trail)
	case BothFailed:
		metrics.ObserveFallback(scraper.OperationData)
		metrics.ObserveFallback(scraper.OperationScreenshot)
		wg.Add(2)
		go func() {
			defer wg.Done()
			data = p.extract(ctx, second, task, trail)
		}()
		go func() {
			defer wg.Done()
			shot = p.capture(ctx, second, task, trail, p.cfg.ScreenshotRetry)
		}()
		wg.Wait()
	}

	rec = p.buildRecord(jobID, task, data, shot, trail)
	if rec.Status == scraper.StatusError {
		logger.Info("url finished with error", zap.String("error", rec.ErrorMessage))
	}
	return rec
}

// extract runs one data attempt on t under the data timeout.
func (p *Processor) extract(ctx context.Context, t tier, task scraper.URLTask, tr *trail) Outcome[scraper.ProductFields] {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.DataTimeout)
	defer cancel()

	start := p.clock.Now()
	fields, err := guard(func() (scraper.ProductFields, error) {
		return t.provider.ExtractData(attemptCtx, task)
	})
	if err == nil && !fields.HasPrice() {
		err = scraper.ErrPriceNotFound
	}
	tr.attempt(t.method, scraper.OperationData, err, p.clock.Now().Sub(start))
	if err != nil {
		return failed[scraper.ProductFields](err, t.method)
	}
	return succeeded(fields, t.method)
}

// capture runs screenshot attempts on t until one captures and uploads or
// the policy gives up.
func (p *Processor) capture(
	ctx context.Context,
	t tier,
	task scraper.URLTask,
	tr *trail,
	policy scraper.RetryPolicy,
) Outcome[string] {
	for attempt := 1; ; attempt++ {
		uri, err := p.captureOnce(ctx, t, task, tr)
		if err == nil {
			return succeeded(uri, t.method)
		}
		if ctx.Err() != nil || !policy.ShouldRetry(err, attempt) {
			return failed[string](err, t.method)
		}
		wait := policy.Backoff(attempt - 1)
		p.logger.Debug("retrying screenshot",
			zap.String("url_id", task.URLID),
			zap.String("tier", t.method),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepErr := p.cfg.Sleep(ctx, wait); sleepErr != nil {
			return failed[string](err, t.method)
		}
	}
}

func (p *Processor) captureOnce(ctx context.Context, t tier, task scraper.URLTask, tr *trail) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.ScreenshotTimeout)
	defer cancel()

	start := p.clock.Now()
	shot, err := guard(func() (scraper.Screenshot, error) {
		return t.provider.CaptureScreenshot(attemptCtx, task)
	})
	tr.attempt(t.method, scraper.OperationScreenshot, err, p.clock.Now().Sub(start))
	if err != nil {
		return "", err
	}

	start = p.clock.Now()
	uri, err := guard(func() (string, error) {
		return p.store.Save(attemptCtx, task.URLID, shot)
	})
	tr.attempt(t.method, scraper.OperationUpload, err, p.clock.Now().Sub(start))
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (p *Processor) buildRecord(
	jobID string,
	task scraper.URLTask,
	data Outcome[scraper.ProductFields],
	shot Outcome[string],
	tr *trail,
) scraper.ScrapeRecord {
	attempts, errs := tr.snapshot()
	rec := scraper.ScrapeRecord{
		URLID:       task.URLID,
		ScrapeJobID: jobID,
		ProductURL:  task.URL,
		ScrapedAt:   p.clock.Now(),
		Attempts:    attempts,
		Errors:      errs,
	}
	if data.OK() {
		rec.Status = scraper.StatusCompleted
		rec.Fields = data.Value
		rec.Method = data.Method
	} else {
		rec.Status = scraper.StatusError
		rec.ErrorMessage = dataErrorMessage(data.Err)
	}
	if shot.OK() {
		rec.ScreenshotURL = shot.Value
	} else {
		rec.ScreenshotError = shot.Err.Error()
	}
	return rec
}

func dataErrorMessage(err error) string {
	if err == nil || errors.Is(err, scraper.ErrPriceNotFound) {
		return scraper.PriceNotFoundMessage
	}
	return err.Error()
}

// guard converts a panic in fn into an error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return fn()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// trail collects attempts from concurrently running dimensions.
type trail struct {
	mu       sync.Mutex
	attempts []scraper.Attempt
	errors   []scraper.AttemptError
}

func (t *trail) attempt(method, operation string, err error, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = append(t.attempts, scraper.Attempt{
		Method:     method,
		Operation:  operation,
		Success:    err == nil,
		DurationMs: d.Milliseconds(),
	})
	if err != nil {
		t.errors = append(t.errors, scraper.AttemptError{
			Method:    method,
			Operation: operation,
			Error:     err.Error(),
		})
	}
}

func (t *trail) snapshot() ([]scraper.Attempt, []scraper.AttemptError) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]scraper.Attempt(nil), t.attempts...), append([]scraper.AttemptError(nil), t.errors...)
}
