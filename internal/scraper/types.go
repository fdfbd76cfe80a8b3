package scraper

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Status is the terminal state of a ScrapeRecord.
type Status string

const (
	// StatusCompleted marks a record whose data dimension produced a price.
	StatusCompleted Status = "completed"
	// StatusError marks a record whose data dimension failed.
	StatusError Status = "error"
)

// Tier names used on records, attempts, and metrics.
const (
	MethodPrimary  = "primary"
	MethodFallback = "fallback"
)

// Operation names for attempts and errors.
const (
	OperationData       = "data"
	OperationScreenshot = "screenshot"
	OperationUpload     = "upload"
)

// PriceNotFoundMessage is the errorMessage reported when no tier yields a price.
const PriceNotFoundMessage = "Could not find the price"

var (
	// ErrPriceNotFound is returned by extraction when the page has no price.
	ErrPriceNotFound = errors.New("price not found")
	// ErrHTMLTooSmall is returned when a fetched document is below the minimum size.
	ErrHTMLTooSmall = errors.New("html content too small")
	// ErrScreenshotTooSmall is returned when a captured image is below the minimum size.
	ErrScreenshotTooSmall = errors.New("screenshot too small")
	// ErrUnsupported is returned by providers that lack a capability.
	ErrUnsupported = errors.New("operation not supported by provider")
)

// URLTask is one unit of work: a caller-assigned id and the product URL.
type URLTask struct {
	URLID string `json:"urlId"`
	URL   string `json:"url"`
	// Method optionally asks for a tier to be tried first ("primary" or "fallback").
	Method string `json:"method,omitempty"`
}

// PreferFallback reports whether the task asks to start with the fallback tier.
func (t URLTask) PreferFallback() bool {
	switch strings.ToLower(strings.TrimSpace(t.Method)) {
	case MethodFallback, "fb":
		return true
	default:
		return false
	}
}

// Screenshot is a captured page image.
type Screenshot struct {
	Data        []byte
	ContentType string
}

// AttemptError records one failed provider call.
type AttemptError struct {
	Method    string `json:"method"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// Attempt records one provider call, successful or not.
type Attempt struct {
	Method     string `json:"method"`
	Operation  string `json:"operation"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
}

// ScrapeRecord is the final outcome for one URLTask.
type ScrapeRecord struct {
	URLID           string
	ScrapeJobID     string
	ProductURL      string
	Status          Status
	Fields          ProductFields
	ScreenshotURL   string
	ErrorMessage    string
	ScreenshotError string
	ScrapedAt       time.Time
	Method          string
	Attempts        []Attempt
	Errors          []AttemptError
}

// MarshalJSON flattens product fields next to the record keys. Record keys win
// over product fields of the same name.
func (r ScrapeRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+12)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["urlId"] = r.URLID
	out["status"] = r.Status
	out["productUrl"] = r.ProductURL
	out["scrapedAt"] = r.ScrapedAt.UnixMilli()
	if r.ScrapeJobID != "" {
		out["scrapeJobId"] = r.ScrapeJobID
	}
	if r.Method != "" {
		out["method"] = r.Method
	}
	if r.ScreenshotURL != "" {
		out["screenshotUrl"] = r.ScreenshotURL
	}
	if r.ErrorMessage != "" {
		out["errorMessage"] = r.ErrorMessage
	}
	if r.ScreenshotError != "" {
		out["screenshotError"] = r.ScreenshotError
	}
	if len(r.Attempts) > 0 {
		out["attempts"] = r.Attempts
	}
	if len(r.Errors) > 0 {
		out["errors"] = r.Errors
	}
	return json.Marshal(out)
}

// Batch is a group of records delivered in one callback.
type Batch struct {
	BatchID     string         `json:"batchId"`
	ProcessedAt int64          `json:"processedAt"`
	Records     []ScrapeRecord `json:"scrapes"`
}

// CallbackTarget is where a job's batches are delivered.
type CallbackTarget struct {
	URL   string
	Token string
}

// NewErrorRecord builds an error-status record for a task that never
// produced an outcome.
func NewErrorRecord(jobID string, task URLTask, message string, at time.Time) ScrapeRecord {
	return ScrapeRecord{
		URLID:        task.URLID,
		ScrapeJobID:  jobID,
		ProductURL:   task.URL,
		Status:       StatusError,
		ErrorMessage: message,
		ScrapedAt:    at,
	}
}
