// Package app builds the long-lived services from configuration and runs them.
// It owns every resource it opens and releases them in Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	adminapi "github.com/JakeFAU/comicfeed/internal/api"
	"github.com/JakeFAU/comicfeed/internal/clock/system"
	"github.com/JakeFAU/comicfeed/internal/config"
	"github.com/JakeFAU/comicfeed/internal/dispatcher"
	"github.com/JakeFAU/comicfeed/internal/feed"
	collyfetcher "github.com/JakeFAU/comicfeed/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/comicfeed/internal/fetcher/headless"
	"github.com/JakeFAU/comicfeed/internal/hash/sha256"
	"github.com/JakeFAU/comicfeed/internal/headless/detector"
	"github.com/JakeFAU/comicfeed/internal/id/uuid"
	"github.com/JakeFAU/comicfeed/internal/metrics"
	"github.com/JakeFAU/comicfeed/internal/policy/ratelimit"
	"github.com/JakeFAU/comicfeed/internal/progress"
	"github.com/JakeFAU/comicfeed/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/comicfeed/internal/publisher/pubsub"
	queuemem "github.com/JakeFAU/comicfeed/internal/queue/memory"
	"github.com/JakeFAU/comicfeed/internal/render"
	"github.com/JakeFAU/comicfeed/internal/scanner"
	"github.com/JakeFAU/comicfeed/internal/source"
	"github.com/JakeFAU/comicfeed/internal/source/asura"
	"github.com/JakeFAU/comicfeed/internal/source/comick"
	"github.com/JakeFAU/comicfeed/internal/source/mangadex"
	"github.com/JakeFAU/comicfeed/internal/storage/gcs"
	"github.com/JakeFAU/comicfeed/internal/storage/local"
	"github.com/JakeFAU/comicfeed/internal/storage/memory"
	"github.com/JakeFAU/comicfeed/internal/storage/postgres"
	"github.com/JakeFAU/comicfeed/internal/storage/sqlite"
	"github.com/JakeFAU/comicfeed/internal/telegram"
	"github.com/JakeFAU/comicfeed/internal/updater"
	"github.com/JakeFAU/comicfeed/internal/worker"
)

const (
	shutdownTimeout = 10 * time.Second
	drainPoll       = 100 * time.Millisecond
)

// TelegramFactory connects the chat transport. Tests swap it for a fake.
type TelegramFactory func(cfg config.TelegramConfig) (telegram.API, error)

// DefaultTelegramFactory dials the Bot API.
func DefaultTelegramFactory(cfg config.TelegramConfig) (telegram.API, error) {
	bot, err := telegram.Connect(cfg.Token, cfg.APIEndpoint, cfg.Debug)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

// Option customizes New.
type Option func(*options)

type options struct {
	store    feed.Store
	sources  []feed.Source
	archive  feed.BlobStore
	telegram TelegramFactory
	clock    feed.Clock
}

// WithStore uses store instead of the configured backend.
func WithStore(store feed.Store) Option {
	return func(o *options) { o.store = store }
}

// WithSources replaces the configured adapters.
func WithSources(sources ...feed.Source) Option {
	return func(o *options) { o.sources = sources }
}

// WithArchive replaces the configured document archive.
func WithArchive(archive feed.BlobStore) Option {
	return func(o *options) { o.archive = archive }
}

// WithTelegram replaces DefaultTelegramFactory.
func WithTelegram(factory TelegramFactory) Option {
	return func(o *options) { o.telegram = factory }
}

// WithClock replaces the system clock.
func WithClock(clock feed.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// App holds the shared services. Build it with New and release it with Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Store        feed.Store
	Registry     *source.Registry
	Downloader   *source.Downloader
	Renderer     *render.Renderer
	Archive      feed.BlobStore
	Publisher    feed.Publisher
	Queue        *queuemem.Queue
	Suppressions *feed.Suppressions
	Progress     *progress.Hub
	History      *sinks.RecentSink

	clock    feed.Clock
	hasher   *sha256.Hasher
	ids      *uuid.Generator
	telegram TelegramFactory

	mu        sync.Mutex
	adminAddr string
	closers   []func() error
}

// New builds every service the configuration asks for. It fails fast when a
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{telegram: DefaultTelegramFactory, clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a = &App{
		cfg:          cfg,
		logger:       logger,
		Queue:        queuemem.NewQueue(cfg.Delivery.QueueCapacity),
		Suppressions: feed.NewSuppressions(),
		clock:        o.clock,
		hasher:       sha256.New(),
		ids:          uuid.New(),
		telegram:     o.telegram,
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = a.openStore(ctx); err != nil {
			return a, err
		}
	}
	a.closers = append(a.closers, a.Store.Close)

	client, err := a.newClient()
	if err != nil {
		return a, err
	}
	sources := o.sources
	if sources == nil {
		sources = a.newSources(client)
	}
	if a.Registry, err = source.NewRegistry(logger.Named("sources"), sources...); err != nil {
		return a, err
	}

	cache, err := local.New(local.Config{BaseDir: cfg.Cache.Dir})
	if err != nil {
		return a, fmt.Errorf("init image cache: %w", err)
	}
	a.Downloader = source.NewDownloader(client, a.Registry, cache, a.hasher, cfg.Delivery.ImageParallelism, logger.Named("downloader"))
	a.Renderer = render.New(render.Config{MaxWidth: cfg.Render.MaxWidth, JPEGQuality: cfg.Render.JPEGQuality}, logger.Named("render"))

	a.Archive = o.archive
	if a.Archive == nil {
		if a.Archive, err = a.openArchive(ctx); err != nil {
			return a, err
		}
	}
	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID, logger.Named("pubsub"))
		if err != nil {
			return a, fmt.Errorf("init pubsub: %w", err)
		}
		a.Publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	if err := a.startProgress(); err != nil {
		return a, err
	}

	a.closers = append(a.closers, func() error {
		a.Queue.Close()
		return nil
	})
	logger.Info("services initialized",
		zap.String("db", cfg.DB.Driver),
		zap.Strings("sources", a.Registry.Names()),
		zap.String("archive", cfg.Archive.Provider),
		zap.Bool("pubsub", a.Publisher != nil),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (feed.Store, error) {
	switch a.cfg.DB.Driver {
	case "memory":
		a.logger.Warn("using in-memory store; subscriptions are lost on restart")
		return memory.NewStore(), nil
	case "sqlite":
		store, err := sqlite.Open(a.cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			MaxConns: int32(a.cfg.DB.MaxConns),
			MinConns: int32(a.cfg.DB.MinConns),
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", a.cfg.DB.Driver)
	}
}

func (a *App) newClient() (*source.Client, error) {
	cfg := a.cfg
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     cfg.HTTPTimeout(),
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	opts := []source.ClientOption{
		source.WithLimiter(ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.HTTP.RatePerHost,
			DefaultBurst: cfg.HTTP.Burst,
		})),
		source.WithRetry(source.NewRetryPolicy(
			cfg.HTTP.MaxRetries+1,
			time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		)),
		source.WithLogger(a.logger.Named("client")),
	}
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func() error {
			headless.Close()
			return nil
		})
		opts = append(opts, source.WithHeadless(headless, detector.NewHeuristic(cfg.Headless.PromotionThresh)))
	}
	return source.NewClient(probe, opts...), nil
}

func (a *App) newSources(client *source.Client) []feed.Source {
	cfg := a.cfg.Sources
	sources := make([]feed.Source, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		switch name {
		case mangadex.Name:
			sources = append(sources, mangadex.New(client, mangadex.Config{APIBase: cfg.MangaDexAPI, Language: cfg.MangaDexLanguage}))
		case comick.Name:
			sources = append(sources, comick.New(client, comick.Config{BaseURL: cfg.ComickBaseURL}))
		case asura.Name:
			sources = append(sources, asura.New(client, asura.Config{BaseURL: cfg.AsuraBaseURL}))
		default:
			a.logger.Warn("ignoring unknown source", zap.String("source", name))
		}
	}
	return sources
}

func (a *App) openArchive(ctx context.Context) (feed.BlobStore, error) {
	switch a.cfg.Archive.Provider {
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(ctx, client, gcs.Config{Bucket: a.cfg.Archive.Bucket, VerifyBucket: true}, a.logger.Named("archive"))
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

// startProgress builds the delivery event hub with its log, metrics and
// history sinks.
func (a *App) startProgress() error {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	a.History = sinks.NewRecentSink(a.cfg.Progress.Recent)
	a.Progress = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         a.logger.Named("progress"),
	}, sinks.NewLogSink(a.logger.Named("progress")), promSink, a.History)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Progress.Close(ctx)
	})
	return nil
}

func (a *App) newDispatcher(sender feed.Sender) *dispatcher.Dispatcher {
	cfg := a.cfg
	workers := make([]*worker.Worker, 0, cfg.Delivery.Workers)
	for i := range cfg.Delivery.Workers {
		workers = append(workers, worker.New(
			a.Queue,
			a.Store,
			a.Downloader,
			a.Renderer,
			sender,
			a.Archive,
			a.hasher,
			a.clock,
			a.Suppressions,
			worker.Config{
				ID:            fmt.Sprintf("worker-%d", i),
				ChapterDelay:  cfg.ChapterDelay(),
				ArchivePrefix: cfg.Archive.Prefix,
				Events:        a.Progress,
			},
			a.logger.Named("worker"),
		))
	}
	return dispatcher.New(a.Queue, workers, a.logger.Named("dispatcher"))
}

func (a *App) newScanner(enqueuer feed.Enqueuer, dryRun bool) *scanner.Scanner {
	return scanner.New(
		a.Store,
		a.Registry,
		enqueuer,
		a.Publisher,
		a.clock,
		a.Suppressions,
		scanner.Config{
			MaxNewChapters: a.cfg.Updater.MaxNewChapters,
			FullWalkEvery:  uint64(max(a.cfg.Updater.FullWalkEvery, 0)),
			DryRun:         dryRun,
			Topic:          a.cfg.PubSub.TopicName,
		},
		a.logger.Named("scanner"),
	)
}

func (a *App) connectTelegram() (telegram.API, *telegram.Sender, error) {
	if a.telegram == nil {
		return nil, nil, errors.New("telegram is not configured")
	}
	tg, err := a.telegram(a.cfg.Telegram)
	if err != nil {
		return nil, nil, err
	}
	sender := telegram.NewSender(tg, a.clock, a.cfg.Delivery.FloodRetries, a.logger.Named("telegram"))
	return tg, sender, nil
}

// Run starts the bot, the update loop, the delivery workers and the admin
// server, and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	tg, sender, err := a.connectTelegram()
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	dispatch := a.newDispatcher(sender)
	scan := a.newScanner(dispatch, false)
	loop := updater.New(scan, a.clock, a.cfg.Period(), a.logger.Named("updater"))
	sessions := telegram.NewSessions(a.cfg.Session.Size, a.cfg.SessionTTL(), a.hasher, a.ids)
	bot := telegram.NewBot(tg, sender, a.Registry, a.Store, dispatch, scan, sessions, a.clock, telegram.Config{
		Concurrency: a.cfg.Telegram.Concurrency,
		MaxResults:  a.cfg.Telegram.MaxResults,
		Admins:      a.cfg.Telegram.Admins,
	}, a.logger.Named("bot"))
	admin := adminapi.NewServer(a.Store, scan, dispatch, scan, a.History, adminapi.Config{APIKey: a.cfg.Server.APIKey}, a.logger.Named("api"))

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen admin server: %w", err)
	}
	a.mu.Lock()
	a.adminAddr = ln.Addr().String()
	a.mu.Unlock()
	srv := &http.Server{
		Handler:           admin.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return bot.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("admin server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("admin server shutdown error", zap.Error(err))
		}
		a.Queue.Close()
		return nil
	})
	err = g.Wait()
	a.logger.Info("shutdown complete")
	return err
}

// AdminAddr reports the admin server's listen address once Run has bound it.
func (a *App) AdminAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adminAddr
}

// ScanOnce runs a single update pass. Without commit nothing is written,
// enqueued or published. With commit the deliveries the pass produces are
// sent before ScanOnce returns.
func (a *App) ScanOnce(ctx context.Context, commit bool) (scanner.Report, error) {
	if !commit {
		return a.newScanner(discard{}, true).Scan(ctx)
	}
	_, sender, err := a.connectTelegram()
	if err != nil {
		return scanner.Report{}, fmt.Errorf("connect telegram: %w", err)
	}
	dispatch := a.newDispatcher(sender)
	dctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatch.Run(dctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	report, err := a.newScanner(dispatch, false).Scan(ctx)
	if drainErr := a.drain(ctx); drainErr != nil {
		err = multierr.Append(err, drainErr)
	}
	return report, err
}

// drain waits until every queued delivery has been taken and released.
func (a *App) drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for a.Queue.Len() > 0 || a.Queue.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain delivery queue: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Search runs a fan-out search across every enabled adapter.
func (a *App) Search(ctx context.Context, query string) ([]feed.Title, error) {
	return a.Registry.Search(ctx, query)
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

type discard struct{}

func (discard) Enqueue(context.Context, feed.Delivery) error { return nil }
