package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	browser, err := NewChromedp(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	defer browser.Close()
	require.Equal(t, 2, cap(browser.limiter))
	require.Equal(t, int64(1920), browser.cfg.ViewportWidth)
	require.Equal(t, int64(1080), browser.cfg.ViewportHeight)
	require.Equal(t, 90, browser.cfg.Quality)
}

func TestNavTimeout(t *testing.T) {
	t.Parallel()

	b := &Browser{}
	require.Equal(t, 60*time.Second, b.navTimeout(context.Background()))

	b.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, b.navTimeout(context.Background()))

	b.cfg.NavigationTimeout = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.LessOrEqual(t, b.navTimeout(ctx), 2*time.Second)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	b := &Browser{limiter: make(chan struct{}, 1)}
	require.NoError(t, b.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	b.release()
	require.NoError(t, b.acquire(context.Background()))
	b.release()
	b.release()
}

func TestResponseMetaKeepsFirstDocumentStatus(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	require.Zero(t, meta.status())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 403},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200},
	})
	require.Equal(t, 403, meta.status())
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(http.Header{
		"X-Single": {"a"},
		"X-Multi":  {"a", "b"},
		"X-Empty":  {},
	})
	require.Equal(t, "a", headers["X-Single"])
	require.Equal(t, []string{"a", "b"}, headers["X-Multi"])
	require.NotContains(t, headers, "X-Empty")
}

func TestUnsupported(t *testing.T) {
	t.Parallel()

	u := NewUnsupported("direct")
	_, err := u.FetchHTML(context.Background(), "https://x")
	require.ErrorIs(t, err, scraper.ErrUnsupported)
	_, err = u.Capture(context.Background(), "https://x")
	require.ErrorIs(t, err, scraper.ErrUnsupported)
	require.Contains(t, err.Error(), "direct screenshot")
}
