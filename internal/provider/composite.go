// Package provider assembles a scraping tier from an HTML source, a
// screenshot source, and an extractor.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-price-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// Default content floors below which a fetch is treated as blocked or empty.
const (
	DefaultMinHTMLBytes       = 5000
	DefaultMinScreenshotBytes = 1000
)

// Config names a tier and sets its content floors.
type Config struct {
	Name               string
	MinHTMLBytes       int
	MinScreenshotBytes int
}

// Composite implements scraper.Provider.
type Composite struct {
	name      string
	html      scraper.HTMLSource
	shots     scraper.ScreenshotSource
	extractor scraper.Extractor
	minHTML   int
	minShot   int
	now       func() time.Time
}

// New builds a Composite tier.
func New(cfg Config, html scraper.HTMLSource, shots scraper.ScreenshotSource, extractor scraper.Extractor) (*Composite, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if html == nil || shots == nil || extractor == nil {
		return nil, fmt.Errorf("provider %s: html source, screenshot source, and extractor are required", cfg.Name)
	}
	minHTML := cfg.MinHTMLBytes
	if minHTML <= 0 {
		minHTML = DefaultMinHTMLBytes
	}
	minShot := cfg.MinScreenshotBytes
	if minShot <= 0 {
		minShot = DefaultMinScreenshotBytes
	}
	return &Composite{
		name:      cfg.Name,
		html:      html,
		shots:     shots,
		extractor: extractor,
		minHTML:   minHTML,
		minShot:   minShot,
		now:       time.Now,
	}, nil
}

// Name returns the tier label.
func (c *Composite) Name() string { return c.name }

// ExtractData fetches the page and extracts product fields.
func (c *Composite) ExtractData(ctx context.Context, task scraper.URLTask) (fields scraper.ProductFields, err error) {
	start := c.now()
	defer func() {
		metrics.ObserveProviderCall(c.name, scraper.OperationData, err, c.now().Sub(start))
	}()

	html, err := c.html.FetchHTML(ctx, task.URL)
	if err != nil {
		return nil, fmt.Errorf("%s fetch html: %w", c.name, err)
	}
	if len(html) < c.minHTML {
		return nil, fmt.Errorf("%s: %w (%d bytes)", c.name, scraper.ErrHTMLTooSmall, len(html))
	}
	fields, err = c.extractor.Extract(ctx, task.URL, html)
	if err != nil {
		return fields, fmt.Errorf("%s extract: %w", c.name, err)
	}
	return fields, nil
}

// CaptureScreenshot captures the page and enforces the size floor.
func (c *Composite) CaptureScreenshot(ctx context.Context, task scraper.URLTask) (shot scraper.Screenshot, err error) {
	start := c.now()
	defer func() {
		metrics.ObserveProviderCall(c.name, scraper.OperationScreenshot, err, c.now().Sub(start))
	}()

	shot, err = c.shots.Capture(ctx, task.URL)
	if err != nil {
		return scraper.Screenshot{}, fmt.Errorf("%s capture: %w", c.name, err)
	}
	if len(shot.Data) <= c.minShot {
		return scraper.Screenshot{}, fmt.Errorf("%s: %w (%d bytes)", c.name, scraper.ErrScreenshotTooSmall, len(shot.Data))
	}
	return shot, nil
}

var _ scraper.Provider = (*Composite)(nil)
