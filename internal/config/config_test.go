package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
pool:
  size: 12
batch:
  max_size: 20
  max_wait_ms: 2500
timeouts:
  data_seconds: 30
  screenshot_seconds: 60
callback:
  schedule_ms: [10, 20, 30]
  max_attempts: 3
  dead_letter: persist
providers:
  primary:
    html: direct
    screenshot: browser
  fallback:
    html: scrapeapi
    screenshot: scrapeapi
scrapeapi:
  api_key: token
  zone: unlocker
screenshot:
  backend: gcs
  bucket: shots
  public_base_url: https://cdn.example.com
logging:
  development: false
  level: warn
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Pool.Size != 12 || cfg.Batch.MaxSize != 20 {
		t.Fatalf("expected pool/batch overrides, got %+v %+v", cfg.Pool, cfg.Batch)
	}
	if got := cfg.BatchWait(); got != 2500*time.Millisecond {
		t.Fatalf("expected batch wait 2.5s, got %v", got)
	}
	if cfg.DataTimeout() != 30*time.Second || cfg.ScreenshotTimeout() != time.Minute {
		t.Fatalf("unexpected timeouts %v %v", cfg.DataTimeout(), cfg.ScreenshotTimeout())
	}
	sched := cfg.CallbackSchedule()
	if len(sched) != 3 || sched[0] != 10*time.Millisecond || sched[2] != 30*time.Millisecond {
		t.Fatalf("unexpected schedule %v", sched)
	}
	if cfg.Callback.DeadLetter != DeadLetterPersist {
		t.Fatalf("expected persist dead letter, got %q", cfg.Callback.DeadLetter)
	}
	if cfg.Providers.Primary.HTML != SourceDirect || cfg.Providers.Fallback.Screenshot != SourceScrapeAPI {
		t.Fatalf("unexpected providers %+v", cfg.Providers)
	}
	if cfg.Providers.Primary.Name != "primary" {
		t.Fatalf("expected default tier name, got %q", cfg.Providers.Primary.Name)
	}
	if cfg.Screenshot.PublicBaseURL != "https://cdn.example.com" || cfg.Screenshot.JPEGQuality != 85 {
		t.Fatalf("unexpected screenshot config %+v", cfg.Screenshot)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "scrapeapi:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.Size != 50 || cfg.Batch.MaxSize != 50 || cfg.Batch.MaxWaitMs != 5000 {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Pool, cfg.Batch)
	}
	if cfg.DataTimeout() != 90*time.Second || cfg.ScreenshotTimeout() != 180*time.Second {
		t.Fatalf("unexpected default timeouts")
	}
	if cfg.Fallback.ScreenshotAttempts != 4 || cfg.Callback.MaxAttempts != 3 {
		t.Fatalf("unexpected retry defaults %+v %+v", cfg.Fallback, cfg.Callback)
	}
	want := []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	got := cfg.CallbackSchedule()
	if len(got) != len(want) {
		t.Fatalf("expected schedule %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected schedule %v, got %v", want, got)
		}
	}
	if cfg.ScrapeAPI.MinHTMLBytes != 5000 || cfg.Screenshot.MinBytes != 1000 {
		t.Fatalf("unexpected size floors %d %d", cfg.ScrapeAPI.MinHTMLBytes, cfg.Screenshot.MinBytes)
	}
	if cfg.Telemetry.SampleRatio != 1 {
		t.Fatalf("expected every trace sampled by default, got %v", cfg.Telemetry.SampleRatio)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Pool:     PoolConfig{Size: 50},
			Batch:    BatchConfig{MaxSize: 50, MaxWaitMs: 5000},
			Timeouts: TimeoutConfig{DataSeconds: 90, ScreenshotSeconds: 180},
			Fallback: FallbackConfig{ScreenshotAttempts: 4},
			Callback: CallbackConfig{ScheduleMs: []int{1000, 5000}, MaxAttempts: 3, DeadLetter: DeadLetterDiscard},
			Providers: ProvidersConfig{
				Primary:  TierConfig{HTML: SourceDirect, Screenshot: SourceNone},
				Fallback: TierConfig{HTML: SourceBrowser, Screenshot: SourceBrowser},
			},
			Browser:    BrowserConfig{MaxParallel: 1},
			Screenshot: ScreenshotConfig{Backend: "memory", JPEGQuality: 85},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "auth without key", mutate: func(c *Config) { c.Auth.Enabled = true }, wantErr: "auth.api_key"},
		{name: "zero pool", mutate: func(c *Config) { c.Pool.Size = 0 }, wantErr: "pool.size"},
		{name: "short schedule", mutate: func(c *Config) { c.Callback.ScheduleMs = []int{1} }, wantErr: "schedule_ms"},
		{name: "bad dead letter", mutate: func(c *Config) { c.Callback.DeadLetter = "retry" }, wantErr: "dead_letter"},
		{
			name:    "direct screenshot",
			mutate:  func(c *Config) { c.Providers.Primary.Screenshot = SourceDirect },
			wantErr: "cannot capture",
		},
		{
			name:    "scrapeapi without key",
			mutate:  func(c *Config) { c.Providers.Fallback.HTML = SourceScrapeAPI },
			wantErr: "scrapeapi.api_key",
		},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Screenshot.Backend = "gcs" }, wantErr: "screenshot.bucket"},
		{name: "bad quality", mutate: func(c *Config) { c.Screenshot.JPEGQuality = 101 }, wantErr: "jpeg_quality"},
		{name: "sample ratio above one", mutate: func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, wantErr: "sample_ratio"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
