// Package dispatcher delivers result batches to caller webhooks with a
// fixed retry schedule and hands abandoned batches to a dead-letter policy.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// Batch outcomes reported to metrics and the job store.
const (
	OutcomeDelivered = "delivered"
	OutcomeAbandoned = "abandoned"
)

const (
	defaultMaxAttempts    = 3
	defaultRequestTimeout = 30 * time.Second
	userAgent             = "realtime-price-scraper/callback"
)

// DefaultSchedule is the wait before each retry.
var DefaultSchedule = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// Config controls delivery.
type Config struct {
	MaxAttempts    int
	Schedule       []time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	// DeadLetters receives abandoned batches. Nil discards them with a log line.
	DeadLetters scraper.DeadLetterStore
	Clock       scraper.Clock
	// Sleep waits between attempts. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome summarizes one Deliver call.
type Outcome struct {
	Delivered  bool
	Attempts   int
	StatusCode int
	Err        error
}

// Dispatcher posts batches to callback URLs.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Dispatcher.
func New(cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, client: client, logger: logger}, nil
}

// Deliver posts batch to target, retrying on transport errors and non-2xx
// responses. Abandoned batches go to the dead-letter policy.
func (d *Dispatcher) Deliver(ctx context.Context, batch scraper.Batch, target scraper.CallbackTarget) (out Outcome) {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "deliver_batch")
	span.SetAttributes(attribute.String("batch_id", batch.BatchID), attribute.Int("records", len(batch.Records)))
	defer func() {
		span.SetAttributes(attribute.Int("attempts", out.Attempts), attribute.Bool("delivered", out.Delivered))
		if !out.Delivered && out.Err != nil {
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
	}()

	logger := d.logger.With(
		zap.String("batch_id", batch.BatchID),
		zap.Int("records", len(batch.Records)),
	)
	payload, err := json.Marshal(batch)
	if err != nil {
		out = Outcome{Err: fmt.Errorf("marshal batch: %w", err)}
		d.abandon(ctx, batch, target, out, logger)
		return out
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt
		out.StatusCode, out.Err = d.post(ctx, target, batch.BatchID, payload)
		metrics.ObserveCallbackAttempt(out.StatusCode)
		if out.Err == nil {
			out.Delivered = true
			metrics.ObserveBatchOutcome(OutcomeDelivered)
			logger.Debug("batch delivered", zap.Int("attempt", attempt), zap.Int("status", out.StatusCode))
			return out
		}
		logger.Warn("callback attempt failed", zap.Int("attempt", attempt), zap.Error(out.Err))
		if attempt == d.cfg.MaxAttempts {
			break
		}
		if err := d.cfg.Sleep(ctx, d.wait(attempt)); err != nil {
			out.Err = fmt.Errorf("%w (retry aborted: %v)", out.Err, err)
			break
		}
	}
	d.abandon(ctx, batch, target, out, logger)
	return out
}

// wait returns the pause after failed attempt n (1-based).
func (d *Dispatcher) wait(n int) time.Duration {
	idx := n - 1
	if idx >= len(d.cfg.Schedule) {
		idx = len(d.cfg.Schedule) - 1
	}
	return d.cfg.Schedule[idx]
}

func (d *Dispatcher) post(ctx context.Context, target scraper.CallbackTarget, batchID string, payload []byte) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Batch-ID", batchID)
	otel.GetTextMapPropagator().Inject(reqCtx, propagation.HeaderCarrier(req.Header))
	if target.Token != "" {
		req.Header.Set("Authorization", "Bearer "+target.Token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("callback request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) abandon(
	ctx context.Context,
	batch scraper.Batch,
	target scraper.CallbackTarget,
	out Outcome,
	logger *zap.Logger,
) {
	metrics.ObserveBatchOutcome(OutcomeAbandoned)
	lastErr := ""
	if out.Err != nil {
		lastErr = out.Err.Error()
	}
	if d.cfg.DeadLetters == nil {
		logger.Error("batch abandoned and discarded",
			zap.Int("attempts", out.Attempts),
			zap.String("callback_url", target.URL),
			zap.String("last_error", lastErr),
		)
		return
	}
	letter := scraper.DeadLetter{
		JobID:       jobIDOf(batch),
		CallbackURL: target.URL,
		Batch:       batch,
		Attempts:    out.Attempts,
		LastError:   lastErr,
		FailedAt:    d.cfg.Clock.Now(),
	}
	// The caller's context may already be done at shutdown; the dead letter
	// still gets a bounded write.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.RequestTimeout)
	defer cancel()
	if err := d.cfg.DeadLetters.SaveDeadLetter(saveCtx, letter); err != nil {
		logger.Error("dead letter save failed", zap.Error(err), zap.String("last_error", lastErr))
		return
	}
	logger.Warn("batch abandoned to dead letters", zap.Int("attempts", out.Attempts))
}

func jobIDOf(batch scraper.Batch) string {
	for _, rec := range batch.Records {
		if rec.ScrapeJobID != "" {
			return rec.ScrapeJobID
		}
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("callback backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
