// Package scrapeapi fetches pages and screenshots through a hosted
// scraping proxy that accepts {zone, url, format} requests.
package scrapeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// DefaultEndpoint is the request API used when none is configured.
const DefaultEndpoint = "https://api.brightdata.com/request"

// DefaultMaxBodyBytes caps a response body; full-page screenshots are the
// largest payloads.
const DefaultMaxBodyBytes = 32 << 20

const maxErrorBody = 512

// ErrBodyTooLarge is returned when a response exceeds the configured cap.
var ErrBodyTooLarge = errors.New("scrapeapi response too large")

// Config holds API credentials and client limits.
type Config struct {
	Endpoint string
	APIKey   string
	Zone     string
	Country  string
	// RPS caps outbound API calls across all hosts. Zero means unlimited.
	RPS        float64
	Burst      int
	HTTPClient *http.Client
	// MaxBodyBytes caps response bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Client implements scraper.HTMLSource and scraper.ScreenshotSource.
type Client struct {
	endpoint string
	apiKey   string
	zone     string
	country  string
	http     *http.Client
	limiter  *rate.Limiter
	maxBody  int64
}

type requestBody struct {
	Zone       string `json:"zone"`
	URL        string `json:"url"`
	Format     string `json:"format"`
	DataFormat string `json:"data_format,omitempty"`
	Country    string `json:"country,omitempty"`
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("scrapeapi api key is required")
	}
	if strings.TrimSpace(cfg.Zone) == "" {
		return nil, fmt.Errorf("scrapeapi zone is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Minute}
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Client{
		maxBody:  maxBody,
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		zone:     cfg.Zone,
		country:  cfg.Country,
		http:     client,
		limiter:  rate.NewLimiter(limit, burst),
	}, nil
}

// FetchHTML returns the raw page body fetched by the API.
func (c *Client) FetchHTML(ctx context.Context, url string) (string, error) {
	body, _, err := c.do(ctx, requestBody{Zone: c.zone, URL: url, Format: "raw", Country: c.country})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Capture asks the API for a rendered screenshot of url.
func (c *Client) Capture(ctx context.Context, url string) (scraper.Screenshot, error) {
	body, contentType, err := c.do(ctx, requestBody{
		Zone:       c.zone,
		URL:        url,
		Format:     "raw",
		DataFormat: "screenshot",
		Country:    c.country,
	})
	if err != nil {
		return scraper.Screenshot{}, err
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(body)
	}
	return scraper.Screenshot{Data: body, ContentType: contentType}, nil
}

func (c *Client) do(ctx context.Context, reqBody requestBody) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", fmt.Errorf("scrapeapi rate limit: %w", err)
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", fmt.Errorf("marshal scrapeapi request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("build scrapeapi request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("scrapeapi request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, "", fmt.Errorf("read scrapeapi response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &StatusError{Code: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}
	if int64(len(body)) > c.maxBody {
		return nil, "", fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, c.maxBody)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// StatusError reports a non-2xx API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("scrapeapi status %d", e.Code)
	}
	return fmt.Sprintf("scrapeapi status %d: %s", e.Code, e.Body)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	_ scraper.HTMLSource       = (*Client)(nil)
	_ scraper.ScreenshotSource = (*Client)(nil)
)
