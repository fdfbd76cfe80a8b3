package headless

import (
	"context"
	"fmt"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// Unsupported is a source for a tier that has no implementation for an
// operation. Every call fails with scraper.ErrUnsupported.
type Unsupported struct {
	Name string
}

// NewUnsupported returns a source labeled name.
func NewUnsupported(name string) Unsupported {
	return Unsupported{Name: name}
}

// FetchHTML always fails.
func (u Unsupported) FetchHTML(_ context.Context, _ string) (string, error) {
	return "", fmt.Errorf("%s html: %w", u.label(), scraper.ErrUnsupported)
}

// Capture always fails.
func (u Unsupported) Capture(_ context.Context, _ string) (scraper.Screenshot, error) {
	return scraper.Screenshot{}, fmt.Errorf("%s screenshot: %w", u.label(), scraper.ErrUnsupported)
}

func (u Unsupported) label() string {
	if u.Name == "" {
		return "source"
	}
	return u.Name
}
