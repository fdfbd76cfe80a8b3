// Package server builds the application's dependency graph and runs the HTTP
// server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-scraper/internal/api"
	"github.com/JakeFAU/realtime-price-scraper/internal/clock/system"
	"github.com/JakeFAU/realtime-price-scraper/internal/config"
	"github.com/JakeFAU/realtime-price-scraper/internal/dispatcher"
	"github.com/JakeFAU/realtime-price-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/realtime-price-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-price-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-price-scraper/internal/fetcher/scrapeapi"
	"github.com/JakeFAU/realtime-price-scraper/internal/id/uuid"
	"github.com/JakeFAU/realtime-price-scraper/internal/job"
	"github.com/JakeFAU/realtime-price-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-price-scraper/internal/processor"
	"github.com/JakeFAU/realtime-price-scraper/internal/provider"
	mempublisher "github.com/JakeFAU/realtime-price-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-price-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
	"github.com/JakeFAU/realtime-price-scraper/internal/screenshot"
	gcsstorage "github.com/JakeFAU/realtime-price-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-price-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-price-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-price-scraper/internal/storage/postgres"
	"github.com/JakeFAU/realtime-price-scraper/internal/telemetry"
	"github.com/JakeFAU/realtime-price-scraper/internal/worker"
)

const jobRetention = 24 * time.Hour

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	manager   *job.Manager
	pool      *worker.Pool

	browser      *headless.Browser
	storage      *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	deadLetters  *pgstore.DeadLetterStore

	tracerShutdown func(context.Context) error
}

// sources lazily builds each configured fetch backend once so both tiers
// can share it.
type sources struct {
	app       *App
	scrapeAPI *scrapeapi.Client
	direct    *collyfetcher.Fetcher
	limiter   *ratelimit.Limiter
}

// Build creates the application's dependencies. logger must not be nil.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("pool_size", cfg.Pool.Size),
		zap.String("screenshot_backend", cfg.Screenshot.Backend),
		zap.String("dead_letter", cfg.Callback.DeadLetter),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	clock := system.New()
	ids := uuid.New()

	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	shots, err := screenshot.New(blobs, clock, ids, screenshot.Config{
		Prefix:      cfg.Screenshot.Prefix,
		JPEGQuality: cfg.Screenshot.JPEGQuality,
	})
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("screenshot store init failed: %w", err)
	}

	src := &sources{app: app}
	primary, err := src.tier(cfg.Providers.Primary)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	fallback, err := src.tier(cfg.Providers.Fallback)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	proc, err := processor.New(primary, fallback, shots, clock, processor.Config{
		DataTimeout:       cfg.DataTimeout(),
		ScreenshotTimeout: cfg.ScreenshotTimeout(),
		ScreenshotRetry: scraper.NewExponentialRetryPolicy(
			cfg.Fallback.ScreenshotAttempts,
			time.Duration(cfg.Fallback.BackoffBaseMs)*time.Millisecond,
			time.Duration(cfg.Fallback.BackoffMaxMs)*time.Millisecond,
		),
	}, logger.Named("processor"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("processor init failed: %w", err)
	}

	app.pool, err = worker.New(cfg.Pool.Size, proc, clock, logger.Named("worker"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("worker pool init failed: %w", err)
	}

	deadLetters, err := app.setupDeadLetters(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	dispatch, err := dispatcher.New(dispatcher.Config{
		MaxAttempts:    cfg.Callback.MaxAttempts,
		Schedule:       cfg.CallbackSchedule(),
		RequestTimeout: time.Duration(cfg.Callback.RequestTimeoutSeconds) * time.Second,
		DeadLetters:    deadLetters,
		Clock:          clock,
	}, logger.Named("dispatcher"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	app.manager, err = job.NewManager(
		app.pool,
		dispatch,
		memorystorage.NewJobStore(jobRetention),
		clock,
		ids,
		job.Config{
			MaxBatchSize: cfg.Batch.MaxSize,
			MaxWait:      cfg.BatchWait(),
		},
		logger.Named("job"),
	)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("job manager init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.manager, api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
		Ready:       app.manager.Ready,
	}, logger.Named("api"))

	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or a termination signal arrives,
// then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close stops accepting jobs, flushes pending results, and releases clients.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.manager != nil {
		if err = a.manager.Shutdown(ctx); err != nil {
			a.logger.Warn("job manager shutdown incomplete", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Wait()
	}
	a.closeInfrastructure()
	if a.tracerShutdown != nil {
		if shutdownErr := a.tracerShutdown(ctx); shutdownErr != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(shutdownErr))
		}
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.cfg.Server.ShutdownSeconds) * time.Second
}

func (a *App) closeInfrastructure() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	a.deadLetters.Close()
}

func (a *App) setupBlobStore(ctx context.Context) (scraper.BlobStore, error) {
	cfg := a.cfg.Screenshot
	switch cfg.Backend {
	case "gcs":
		a.logger.Info("using GCS screenshot backend", zap.String("bucket", cfg.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:        cfg.Bucket,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		a.logger.Info("using local screenshot backend", zap.String("path", cfg.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{
			BaseDir:       cfg.Local.BaseDir,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Warn("using in-memory screenshot backend; screenshots are lost on restart")
		return memorystorage.NewBlobStore(), nil
	}
}

// setupDeadLetters returns nil for the discard policy. For persist it
// prefers Postgres, then Pub/Sub, then an in-memory topic when only the
// topic is set, then an in-memory store.
func (a *App) setupDeadLetters(ctx context.Context) (scraper.DeadLetterStore, error) {
	if a.cfg.Callback.DeadLetter != config.DeadLetterPersist {
		a.logger.Info("abandoned batches will be logged and discarded")
		return nil, nil
	}
	if dsn := a.cfg.Database.DSN; dsn != "" {
		store, err := pgstore.NewDeadLetterStore(ctx, pgstore.DeadLetterStoreConfig{
			DSN:             dsn,
			Table:           a.cfg.Database.DeadLetterTable,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("dead letter store init failed: %w", err)
		}
		a.deadLetters = store
		a.logger.Info("dead letters persisted to postgres", zap.String("table", a.cfg.Database.DeadLetterTable))
		return store, nil
	}
	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.DeadLetterTopic != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.publisher = gcppublisher.New(client.Topic(a.cfg.PubSub.DeadLetterTopic))
		a.logger.Info("dead letters published to pubsub",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.DeadLetterTopic),
		)
		return dispatcher.PublishingDeadLetterStore{
			Publisher: a.publisher,
			Topic:     a.cfg.PubSub.DeadLetterTopic,
		}, nil
	}
	if topic := a.cfg.PubSub.DeadLetterTopic; topic != "" {
		a.logger.Warn("pubsub project not set, publishing dead letters in memory", zap.String("topic", topic))
		return dispatcher.PublishingDeadLetterStore{Publisher: mempublisher.New(), Topic: topic}, nil
	}
	a.logger.Warn("no dead letter backend configured, keeping abandoned batches in memory")
	return memorystorage.NewDeadLetterStore(), nil
}

func (s *sources) tier(cfg config.TierConfig) (*provider.Composite, error) {
	html, err := s.html(cfg.HTML, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("%s html source: %w", cfg.Name, err)
	}
	shots, err := s.screenshots(cfg.Screenshot, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("%s screenshot source: %w", cfg.Name, err)
	}
	composite, err := provider.New(provider.Config{
		Name:               cfg.Name,
		MinHTMLBytes:       s.app.cfg.ScrapeAPI.MinHTMLBytes,
		MinScreenshotBytes: s.app.cfg.Screenshot.MinBytes,
	}, html, shots, extract.New())
	if err != nil {
		return nil, fmt.Errorf("%s provider init failed: %w", cfg.Name, err)
	}
	s.app.logger.Info("provider tier ready",
		zap.String("tier", cfg.Name),
		zap.String("html", cfg.HTML),
		zap.String("screenshot", cfg.Screenshot),
	)
	return composite, nil
}

func (s *sources) html(kind, tier string) (scraper.HTMLSource, error) {
	switch kind {
	case config.SourceScrapeAPI:
		return s.scrapeAPIClient()
	case config.SourceBrowser:
		return s.browserSource()
	case config.SourceDirect:
		return s.directFetcher(), nil
	case config.SourceNone:
		return headless.NewUnsupported(tier), nil
	default:
		return nil, fmt.Errorf("unknown source %q", kind)
	}
}

func (s *sources) screenshots(kind, tier string) (scraper.ScreenshotSource, error) {
	switch kind {
	case config.SourceScrapeAPI:
		return s.scrapeAPIClient()
	case config.SourceBrowser:
		return s.browserSource()
	case config.SourceNone:
		return headless.NewUnsupported(tier), nil
	default:
		return nil, fmt.Errorf("source %q cannot capture screenshots", kind)
	}
}

func (s *sources) scrapeAPIClient() (*scrapeapi.Client, error) {
	if s.scrapeAPI != nil {
		return s.scrapeAPI, nil
	}
	cfg := s.app.cfg.ScrapeAPI
	client, err := scrapeapi.New(scrapeapi.Config{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Zone:     cfg.Zone,
		Country:  cfg.Country,
		RPS:      cfg.RPS,
		Burst:    cfg.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("scrapeapi client init failed: %w", err)
	}
	s.scrapeAPI = client
	return client, nil
}

func (s *sources) browserSource() (*headless.Browser, error) {
	if s.app.browser != nil {
		return s.app.browser, nil
	}
	cfg := s.app.cfg.Browser
	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:    cfg.MaxParallel,
		UserAgent:      cfg.UserAgent,
		ViewportWidth:  int64(cfg.ViewportWidth),
		ViewportHeight: int64(cfg.ViewportHeight),
		Settle:         time.Duration(cfg.SettleMs) * time.Millisecond,
		Quality:        cfg.Quality,
	}, s.hostLimiter())
	if err != nil {
		return nil, fmt.Errorf("headless browser init failed: %w", err)
	}
	s.app.browser = browser
	s.app.logger.Info("using headless browser", zap.Int("max_parallel", cfg.MaxParallel))
	return browser, nil
}

func (s *sources) directFetcher() *collyfetcher.Fetcher {
	if s.direct != nil {
		return s.direct
	}
	cfg := s.app.cfg.Direct
	s.direct = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       s.app.cfg.DataTimeout(),
	}, s.hostLimiter())
	s.app.logger.Info("using direct fetcher", zap.String("user_agent", cfg.UserAgent))
	return s.direct
}

// hostLimiter is shared by the browser and direct sources so a host sees
// one combined request rate.
func (s *sources) hostLimiter() *ratelimit.Limiter {
	if s.limiter == nil {
		s.limiter = ratelimit.New(ratelimit.Config{
			PerHostRPS:   s.app.cfg.Direct.PerHostRPS,
			PerHostBurst: s.app.cfg.Direct.PerHostBurst,
		})
	}
	return s.limiter
}
