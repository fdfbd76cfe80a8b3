// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// Clock implements scraper.Clock using the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs f in its own goroutine after d.
func (Clock) AfterFunc(d time.Duration, f func()) scraper.Timer {
	return time.AfterFunc(d, f)
}
