// Package headless renders pages and captures screenshots in headless Chrome.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// clearOverlaysJS removes cookie banners, modals, and other fixed layers
// that would cover the product in a screenshot.
const clearOverlaysJS = `(() => {
  ['modal','popup','overlay','cookie','banner','consent','newsletter'].forEach(kw => {
    document.querySelectorAll('[class*="' + kw + '"],[id*="' + kw + '"]').forEach(el => {
      const s = getComputedStyle(el);
      if (parseInt(s.zIndex) > 100 || s.position === 'fixed') el.remove();
    });
  });
  document.body.style.overflow = 'auto';
  return true;
})()`

// Config controls the behavior of the browser source.
type Config struct {
	MaxParallel       int
	UserAgent         string
	ViewportWidth     int64
	ViewportHeight    int64
	Settle            time.Duration
	Quality           int
	NavigationTimeout time.Duration
	Headers           http.Header
}

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Browser implements scraper.HTMLSource and scraper.ScreenshotSource with
// chromedp.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	hosts       Waiter
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a browser source. hosts may be nil.
func NewChromedp(cfg Config, hosts Waiter) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	cfg = withDefaults(cfg)
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		hosts:       hosts,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1920
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 1080
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 90
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	return cfg
}

// Close cancels the allocator context and shuts Chrome down.
func (b *Browser) Close() {
	b.allocCancel()
}

// FetchHTML navigates to url and returns the rendered DOM.
func (b *Browser) FetchHTML(ctx context.Context, url string) (string, error) {
	var html string
	err := b.run(ctx, url, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return "", err
	}
	return html, nil
}

// Capture navigates to url, clears overlays, and takes a full-page
// screenshot.
func (b *Browser) Capture(ctx context.Context, url string) (scraper.Screenshot, error) {
	var buf []byte
	var cleared bool
	err := b.run(ctx, url,
		chromedp.Evaluate(clearOverlaysJS, &cleared),
		chromedp.Sleep(200*time.Millisecond),
		chromedp.FullScreenshot(&buf, b.cfg.Quality),
	)
	if err != nil {
		return scraper.Screenshot{}, err
	}
	contentType := "image/jpeg"
	if b.cfg.Quality >= 100 {
		contentType = "image/png"
	}
	return scraper.Screenshot{Data: buf, ContentType: contentType}, nil
}

func (b *Browser) run(ctx context.Context, url string, tail ...chromedp.Action) error {
	if b.hosts != nil {
		if err := b.hosts.Wait(ctx, url); err != nil {
			return err
		}
	}
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, b.navTimeout(ctx))
	defer cancel()
	// Propagate caller cancellation into the tab.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	actions := []chromedp.Action{
		b.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if b.cfg.Settle > 0 {
		actions = append(actions, chromedp.Sleep(b.cfg.Settle))
	}
	actions = append(actions, tail...)
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	if status := meta.status(); status >= http.StatusBadRequest {
		return fmt.Errorf("chromedp document status %d", status)
	}
	return nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(b.cfg.ViewportWidth, b.cfg.ViewportHeight, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(b.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(b.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// navTimeout returns the configured navigation timeout, shortened to the
// caller's deadline.
func (b *Browser) navTimeout(ctx context.Context) time.Duration {
	timeout := b.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

// responseMeta records the main document's HTTP status.
type responseMeta struct {
	mu   sync.RWMutex
	code int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	// The first document response is the navigation target; later ones are
	// iframes.
	if m.code == 0 {
		m.code = int(resp.Response.Status)
	}
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

var (
	_ scraper.HTMLSource       = (*Browser)(nil)
	_ scraper.ScreenshotSource = (*Browser)(nil)
)
