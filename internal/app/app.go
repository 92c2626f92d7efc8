// Package app initializes and holds long-lived application services, acting as a dependency
// injection container for the scrape pipeline, stores and report generator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/rivalwatch/internal/clock/system"
	"github.com/JakeFAU/rivalwatch/internal/config"
	"github.com/JakeFAU/rivalwatch/internal/describe"
	"github.com/JakeFAU/rivalwatch/internal/dispatcher"
	"github.com/JakeFAU/rivalwatch/internal/extract"
	collyfetcher "github.com/JakeFAU/rivalwatch/internal/fetcher/colly"
	"github.com/JakeFAU/rivalwatch/internal/fetcher/headless"
	"github.com/JakeFAU/rivalwatch/internal/headless/detector"
	"github.com/JakeFAU/rivalwatch/internal/id/uuid"
	"github.com/JakeFAU/rivalwatch/internal/monitor"
	"github.com/JakeFAU/rivalwatch/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/rivalwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/rivalwatch/internal/report"
	"github.com/JakeFAU/rivalwatch/internal/storage/gcs"
	"github.com/JakeFAU/rivalwatch/internal/storage/local"
	"github.com/JakeFAU/rivalwatch/internal/storage/memory"
	"github.com/JakeFAU/rivalwatch/internal/storage/postgres"
	"github.com/JakeFAU/rivalwatch/internal/storage/sqlite"
	"github.com/JakeFAU/rivalwatch/internal/targets"
	"github.com/JakeFAU/rivalwatch/internal/worker"
)

// Components are the pluggable backends an App runs on. Store, Targets and Probe are required.
type Components struct {
	Store     monitor.SnapshotStore
	Targets   monitor.TargetProvider
	Probe     monitor.Fetcher
	Headless  monitor.Fetcher
	Detector  monitor.HeadlessDetector
	BlobStore monitor.BlobStore
	Publisher monitor.Publisher
	Clock     monitor.Clock
	IDs       monitor.IDGenerator
	// Closers are released by App.Close after the store.
	Closers []io.Closer
}

// App holds the shared, long-lived services and implements the operations the API and CLI drive.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      monitor.SnapshotStore
	targets    monitor.TargetProvider
	clock      monitor.Clock
	dispatcher *dispatcher.Dispatcher
	reports    *report.Generator
	closers    []io.Closer

	runMu     sync.Mutex
	closeOnce sync.Once
}

// New builds every backend named in cfg and assembles an App.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []io.Closer
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("init snapshot store: %w", err))
	}
	closers = append(closers, store)
	logger.Info("snapshot store ready", zap.String("driver", cfg.Storage.Driver))

	provider, err := newTargets(cfg)
	if err != nil {
		return fail(fmt.Errorf("init targets: %w", err))
	}

	blobs, blobCloser, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("init archive: %w", err))
	}
	if blobCloser != nil {
		closers = append(closers, blobCloser)
	}

	comps := Components{
		Store:     store,
		Targets:   provider,
		BlobStore: blobs,
		Clock:     system.New(),
		IDs:       uuid.New(),
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.NewFromProject(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return fail(fmt.Errorf("init publisher: %w", err))
		}
		closers = append(closers, pub)
		comps.Publisher = pub
		logger.Info("change publishing enabled", zap.String("topic", cfg.PubSub.TopicName))
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitRPS,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
	})
	comps.Probe = collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Crawler.UserAgent,
		Timeout:        cfg.FetchTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		MaxBodyBytes:   cfg.Crawler.MaxBodyBytes,
		RespectRobots:  cfg.Crawler.RespectRobots,
	}, collyfetcher.WithLimiter(limiter), collyfetcher.WithLogger(logger.Named("fetcher")))

	if cfg.Headless.Enabled {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
			MaxBodyBytes:      cfg.Crawler.MaxBodyBytes,
		})
		if err != nil {
			return fail(fmt.Errorf("init headless fetcher: %w", err))
		}
		closers = append(closers, hf)
		comps.Headless = hf
		comps.Detector = detector.NewHeuristic(detector.Config{
			BodyLengthThreshold: cfg.Headless.BodyLengthThreshold,
			MinTextChars:        cfg.Headless.MinTextChars,
			Keywords:            cfg.Headless.Keywords,
			RequiredSelectors:   cfg.Headless.RequiredSelectors,
		})
		logger.Info("headless promotion enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	// The store is closed by App.Close itself.
	comps.Closers = closers[1:]
	return Assemble(cfg, comps, logger)
}

// Assemble wires an App from ready-made components.
func Assemble(cfg config.Config, c Components, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Store == nil || c.Targets == nil || c.Probe == nil {
		return nil, errors.New("store, targets and probe fetcher are required")
	}
	if c.Clock == nil {
		c.Clock = system.New()
	}
	if c.IDs == nil {
		c.IDs = uuid.New()
	}

	concurrency := cfg.Crawler.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	extractor := extract.New(extract.DefaultConfig(), logger.Named("extract"))
	describer := describe.New(describe.Config{
		MaxItems:              cfg.Describe.MaxItems,
		MaxPlanFeatureChanges: cfg.Describe.MaxPlanFeatureChanges,
		MaxDescriptionChars:   cfg.Describe.MaxDescriptionChars,
	})
	wcfg := worker.Config{
		ContentType:     cfg.Storage.ContentType,
		BlobPrefix:      cfg.Storage.Prefix,
		Topic:           cfg.PubSub.TopicName,
		MaxContentBytes: cfg.Crawler.MaxContentBytes,
		MaxExcerptBytes: cfg.Crawler.MaxExcerptBytes,
	}
	deps := worker.Dependencies{
		Store:     c.Store,
		Clock:     c.Clock,
		Probe:     c.Probe,
		Headless:  c.Headless,
		Detector:  c.Detector,
		BlobStore: c.BlobStore,
		Publisher: c.Publisher,
		Extractor: extractor,
		Describer: describer,
	}
	workers := make([]*worker.Worker, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		workers = append(workers, worker.New(deps, wcfg, logger.Named("worker").With(zap.Int("worker", i))))
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      c.Store,
		targets:    c.Targets,
		clock:      c.Clock,
		dispatcher: dispatcher.New(workers, c.IDs, c.Clock, logger.Named("dispatcher")),
		reports:    report.New(c.Store, c.Clock),
		closers:    c.Closers,
	}, nil
}

// ScrapeAll runs one pass over every target, waiting for any run already in progress.
// Failures are reported in the result.
func (a *App) ScrapeAll(ctx context.Context) monitor.RunResult {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.scrape(ctx)
}

// TryScrapeAll is ScrapeAll that returns monitor.ErrRunInProgress instead of waiting.
func (a *App) TryScrapeAll(ctx context.Context) (monitor.RunResult, error) {
	if !a.runMu.TryLock() {
		return monitor.RunResult{}, monitor.ErrRunInProgress
	}
	defer a.runMu.Unlock()
	return a.scrape(ctx), nil
}

func (a *App) scrape(ctx context.Context) monitor.RunResult {
	list, err := a.targets.ListTargets(ctx)
	if err != nil {
		a.logger.Error("list targets failed; run skipped", zap.Error(err))
		now := a.clock.Now()
		return monitor.RunResult{Started: now, Finished: now}
	}
	return a.dispatcher.Run(ctx, list)
}

// GenerateReport renders the text report for the last days days.
func (a *App) GenerateReport(ctx context.Context, days int) (string, error) {
	text, err := a.reports.Generate(ctx, days)
	if err != nil {
		return "", fmt.Errorf("generate report: %w", err)
	}
	return text, nil
}

// RecentChanges lists changes from the last days days, newest first.
func (a *App) RecentChanges(ctx context.Context, days, limit int) ([]monitor.ChangeEvent, error) {
	days = monitor.ClampDays(days)
	changes, err := a.store.ListChanges(ctx, monitor.ChangeQuery{
		Since: a.clock.Now().AddDate(0, 0, -days),
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	return changes, nil
}

// Stats summarizes the stored history.
func (a *App) Stats(ctx context.Context) (monitor.StoreStats, error) {
	st, err := a.store.Stats(ctx, a.clock.Now())
	if err != nil {
		return monitor.StoreStats{}, fmt.Errorf("load stats: %w", err)
	}
	return st, nil
}

// MarkNotified flags changes as delivered.
func (a *App) MarkNotified(ctx context.Context, ids []string) error {
	if err := a.store.MarkNotified(ctx, ids); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the store is reachable.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store not ready: %w", err)
		}
	}
	return nil
}

// Close releases the store and every other backend. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application services")
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func newStore(ctx context.Context, cfg config.Config) (monitor.SnapshotStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		store, err := postgres.NewSnapshotStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			SnapshotsTable:  cfg.DB.SnapshotsTable,
			ChangesTable:    cfg.DB.ChangesTable,
			MaxConns:        int32(cfg.DB.MaxConns), //nolint:gosec // bounded by config
			MinConns:        int32(cfg.DB.MinConns), //nolint:gosec // bounded by config
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
			AutoMigrate:     cfg.DB.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverMemory, "":
		return memory.NewSnapshotStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func newTargets(cfg config.Config) (monitor.TargetProvider, error) {
	if cfg.Targets.File != "" {
		p, err := targets.NewFileProvider(cfg.Targets.File)
		if err != nil {
			return nil, fmt.Errorf("load targets file: %w", err)
		}
		return p, nil
	}
	list := targets.Flatten(cfg.Targets.Competitors)
	if len(list) == 0 {
		return nil, targets.ErrNoTargets
	}
	p, err := targets.NewStatic(list)
	if err != nil {
		return nil, fmt.Errorf("load inline targets: %w", err)
	}
	return p, nil
}

func newBlobStore(ctx context.Context, cfg config.Config) (monitor.BlobStore, io.Closer, error) {
	switch cfg.Storage.Archive {
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil, nil
	case config.ArchiveLocal:
		bs, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("open local archive: %w", err)
		}
		return bs, nil, nil
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		bs, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("open gcs archive: %w", err)
		}
		return bs, bs, nil
	default:
		return nil, nil, nil
	}
}
