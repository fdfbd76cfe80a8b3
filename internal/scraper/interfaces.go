package scraper

import (
	"context"
	"io"
	"time"
)

// Provider extracts product data and captures screenshots for a URL. The
// primary and fallback tiers are two configured Providers.
type Provider interface {
	Name() string
	ExtractData(ctx context.Context, task URLTask) (ProductFields, error)
	CaptureScreenshot(ctx context.Context, task URLTask) (Screenshot, error)
}

// HTMLSource fetches the rendered HTML of a page.
type HTMLSource interface {
	FetchHTML(ctx context.Context, url string) (string, error)
}

// ScreenshotSource captures a full-page image of a page.
type ScreenshotSource interface {
	Capture(ctx context.Context, url string) (Screenshot, error)
}

// Extractor turns page HTML into product fields.
type Extractor interface {
	Extract(ctx context.Context, pageURL string, html string) (ProductFields, error)
}

// ScreenshotStore compresses and persists a screenshot, returning its URL.
type ScreenshotStore interface {
	Save(ctx context.Context, urlID string, shot Screenshot) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes payloads to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// DeadLetter is a batch whose delivery was abandoned.
type DeadLetter struct {
	JobID       string    `json:"jobId"`
	CallbackURL string    `json:"callbackUrl"`
	Batch       Batch     `json:"batch"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError"`
	FailedAt    time.Time `json:"failedAt"`
}

// DeadLetterStore keeps abandoned batches for manual recovery.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, letter DeadLetter) error
}

// RecordSink receives finished records.
type RecordSink interface {
	Add(record ScrapeRecord)
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(ScrapeRecord)

// Add calls f(record).
func (f RecordSinkFunc) Add(record ScrapeRecord) { f(record) }

// Clock returns the current time and schedules callbacks (useful for testing).
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// IDGenerator produces job and batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
