// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Source kinds selectable for a provider tier.
const (
	SourceScrapeAPI = "scrapeapi"
	SourceBrowser   = "browser"
	SourceDirect    = "direct"
	SourceNone      = "none"
)

// Dead-letter policies for abandoned callback batches.
const (
	DeadLetterDiscard = "discard"
	DeadLetterPersist = "persist"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts"`
	Fallback   FallbackConfig   `mapstructure:"fallback"`
	Callback   CallbackConfig   `mapstructure:"callback"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	ScrapeAPI  ScrapeAPIConfig  `mapstructure:"scrapeapi"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Direct     DirectConfig     `mapstructure:"direct"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Database   DatabaseConfig   `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PoolConfig bounds concurrent URL processing across all jobs.
type PoolConfig struct {
	Size int `mapstructure:"size"`
}

// BatchConfig sets the result queue flush triggers.
type BatchConfig struct {
	MaxSize   int `mapstructure:"max_size"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// TimeoutConfig holds per-attempt provider timeouts.
type TimeoutConfig struct {
	DataSeconds       int `mapstructure:"data_seconds"`
	ScreenshotSeconds int `mapstructure:"screenshot_seconds"`
}

// FallbackConfig controls fallback screenshot retries.
type FallbackConfig struct {
	ScreenshotAttempts int `mapstructure:"screenshot_attempts"`
	BackoffBaseMs      int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs       int `mapstructure:"backoff_max_ms"`
}

// CallbackConfig controls webhook delivery.
type CallbackConfig struct {
	ScheduleMs            []int  `mapstructure:"schedule_ms"`
	MaxAttempts           int    `mapstructure:"max_attempts"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	DeadLetter            string `mapstructure:"dead_letter"`
}

// TierConfig picks the HTML and screenshot sources for one provider tier.
type TierConfig struct {
	Name       string `mapstructure:"name"`
	HTML       string `mapstructure:"html"`
	Screenshot string `mapstructure:"screenshot"`
}

// ProvidersConfig holds both tiers.
type ProvidersConfig struct {
	Primary  TierConfig `mapstructure:"primary"`
	Fallback TierConfig `mapstructure:"fallback"`
}

// ScrapeAPIConfig configures the hosted unblocking API source.
type ScrapeAPIConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	APIKey       string  `mapstructure:"api_key"`
	Zone         string  `mapstructure:"zone"`
	Country      string  `mapstructure:"country"`
	RPS          float64 `mapstructure:"rps"`
	Burst        int     `mapstructure:"burst"`
	MinHTMLBytes int     `mapstructure:"min_html_bytes"`
}

// BrowserConfig configures the headless Chrome source.
type BrowserConfig struct {
	MaxParallel    int    `mapstructure:"max_parallel"`
	UserAgent      string `mapstructure:"user_agent"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
	SettleMs       int    `mapstructure:"settle_ms"`
	Quality        int    `mapstructure:"quality"`
}

// DirectConfig configures the plain HTTP source.
type DirectConfig struct {
	UserAgent     string  `mapstructure:"user_agent"`
	RespectRobots bool    `mapstructure:"respect_robots"`
	PerHostRPS    float64 `mapstructure:"per_host_rps"`
	PerHostBurst  int     `mapstructure:"per_host_burst"`
}

// ScreenshotConfig sets where compressed screenshots go.
type ScreenshotConfig struct {
	Backend       string      `mapstructure:"backend"`
	Bucket        string      `mapstructure:"bucket"`
	PublicBaseURL string      `mapstructure:"public_base_url"`
	Prefix        string      `mapstructure:"prefix"`
	JPEGQuality   int         `mapstructure:"jpeg_quality"`
	MinBytes      int         `mapstructure:"min_bytes"`
	Local         LocalConfig `mapstructure:"local"`
}

// LocalConfig points the local blob store at a directory.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to the dead-letter database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	DeadLetterTable string        `mapstructure:"dead_letter_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds the dead-letter topic.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DeadLetterTopic string `mapstructure:"dead_letter_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory, when present, is loaded into the environment first.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("pool.size", 50)
	v.SetDefault("batch.max_size", 50)
	v.SetDefault("batch.max_wait_ms", 5000)
	v.SetDefault("timeouts.data_seconds", 90)
	v.SetDefault("timeouts.screenshot_seconds", 180)
	v.SetDefault("fallback.screenshot_attempts", 4)
	v.SetDefault("fallback.backoff_base_ms", 2000)
	v.SetDefault("fallback.backoff_max_ms", 60000)
	v.SetDefault("callback.schedule_ms", []int{1000, 5000, 30000})
	v.SetDefault("callback.max_attempts", 3)
	v.SetDefault("callback.request_timeout_seconds", 30)
	v.SetDefault("callback.dead_letter", DeadLetterDiscard)
	v.SetDefault("providers.primary.name", "primary")
	v.SetDefault("providers.primary.html", SourceScrapeAPI)
	v.SetDefault("providers.primary.screenshot", SourceScrapeAPI)
	v.SetDefault("providers.fallback.name", "fallback")
	v.SetDefault("providers.fallback.html", SourceBrowser)
	v.SetDefault("providers.fallback.screenshot", SourceBrowser)
	v.SetDefault("scrapeapi.endpoint", "https://api.brightdata.com/request")
	v.SetDefault("scrapeapi.api_key", "")
	v.SetDefault("scrapeapi.zone", "web_unlocker")
	v.SetDefault("scrapeapi.country", "")
	v.SetDefault("scrapeapi.rps", 10.0)
	v.SetDefault("scrapeapi.burst", 10)
	v.SetDefault("scrapeapi.min_html_bytes", 5000)
	v.SetDefault("browser.max_parallel", 4)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.settle_ms", 2000)
	v.SetDefault("browser.quality", 85)
	v.SetDefault("direct.user_agent", "realtime-price-scraper/0.1")
	v.SetDefault("direct.respect_robots", false)
	v.SetDefault("direct.per_host_rps", 2.0)
	v.SetDefault("direct.per_host_burst", 2)
	v.SetDefault("screenshot.backend", "memory")
	v.SetDefault("screenshot.bucket", "")
	v.SetDefault("screenshot.public_base_url", "")
	v.SetDefault("screenshot.prefix", "screenshots")
	v.SetDefault("screenshot.jpeg_quality", 85)
	v.SetDefault("screenshot.min_bytes", 1000)
	v.SetDefault("screenshot.local.base_dir", "./data")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dead_letter_table", "callback_dead_letters")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.dead_letter_topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "realtime-price-scraper")
	v.SetDefault("telemetry.version", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be > 0")
	}
	if c.Batch.MaxSize <= 0 {
		return fmt.Errorf("batch.max_size must be > 0")
	}
	if c.Batch.MaxWaitMs <= 0 {
		return fmt.Errorf("batch.max_wait_ms must be > 0")
	}
	if c.Timeouts.DataSeconds <= 0 || c.Timeouts.ScreenshotSeconds <= 0 {
		return fmt.Errorf("timeouts.data_seconds and timeouts.screenshot_seconds must be > 0")
	}
	if c.Fallback.ScreenshotAttempts <= 0 {
		return fmt.Errorf("fallback.screenshot_attempts must be > 0")
	}
	if c.Callback.MaxAttempts <= 0 {
		return fmt.Errorf("callback.max_attempts must be > 0")
	}
	if len(c.Callback.ScheduleMs) < c.Callback.MaxAttempts-1 {
		return fmt.Errorf("callback.schedule_ms needs at least %d entries", c.Callback.MaxAttempts-1)
	}
	switch c.Callback.DeadLetter {
	case DeadLetterDiscard, DeadLetterPersist:
	default:
		return fmt.Errorf("callback.dead_letter must be %q or %q", DeadLetterDiscard, DeadLetterPersist)
	}
	for name, tier := range map[string]TierConfig{"primary": c.Providers.Primary, "fallback": c.Providers.Fallback} {
		if err := validateSource(tier.HTML, true); err != nil {
			return fmt.Errorf("providers.%s.html: %w", name, err)
		}
		if err := validateSource(tier.Screenshot, false); err != nil {
			return fmt.Errorf("providers.%s.screenshot: %w", name, err)
		}
	}
	if c.usesSource(SourceScrapeAPI) && c.ScrapeAPI.APIKey == "" {
		return fmt.Errorf("scrapeapi.api_key must be set when a tier uses %q", SourceScrapeAPI)
	}
	if c.usesSource(SourceBrowser) && c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0 when a tier uses %q", SourceBrowser)
	}
	switch c.Screenshot.Backend {
	case "memory", "local":
	case "gcs":
		if c.Screenshot.Bucket == "" {
			return fmt.Errorf("screenshot.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown screenshot.backend %q", c.Screenshot.Backend)
	}
	if q := c.Screenshot.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("screenshot.jpeg_quality must be within 1..100")
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within 0..1")
	}
	return nil
}

func validateSource(kind string, html bool) error {
	switch kind {
	case SourceScrapeAPI, SourceBrowser, SourceNone:
		return nil
	case SourceDirect:
		if html {
			return nil
		}
		return fmt.Errorf("%q cannot capture screenshots", kind)
	default:
		return fmt.Errorf("unknown source %q", kind)
	}
}

func (c Config) usesSource(kind string) bool {
	for _, s := range []string{
		c.Providers.Primary.HTML, c.Providers.Primary.Screenshot,
		c.Providers.Fallback.HTML, c.Providers.Fallback.Screenshot,
	} {
		if s == kind {
			return true
		}
	}
	return false
}

// DataTimeout is the per-attempt budget for data extraction.
func (c Config) DataTimeout() time.Duration {
	return time.Duration(c.Timeouts.DataSeconds) * time.Second
}

// ScreenshotTimeout is the per-attempt budget for screenshot capture.
func (c Config) ScreenshotTimeout() time.Duration {
	return time.Duration(c.Timeouts.ScreenshotSeconds) * time.Second
}

// BatchWait is the result queue time trigger.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Batch.MaxWaitMs) * time.Millisecond
}

// CallbackSchedule converts the configured wait list into durations.
func (c Config) CallbackSchedule() []time.Duration {
	out := make([]time.Duration, 0, len(c.Callback.ScheduleMs))
	for _, ms := range c.Callback.ScheduleMs {
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out
}
