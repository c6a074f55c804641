// Package server assembles the orchestrator service from configuration and
// runs it until it is signalled to stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/api"
	"github.com/JakeFAU/scrape-orchestrator/internal/clock/system"
	"github.com/JakeFAU/scrape-orchestrator/internal/config"
	"github.com/JakeFAU/scrape-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/scrape-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/scrape-orchestrator/internal/metrics"
	"github.com/JakeFAU/scrape-orchestrator/internal/monitor"
	"github.com/JakeFAU/scrape-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/scrape-orchestrator/internal/policy/ratelimit"
	"github.com/JakeFAU/scrape-orchestrator/internal/progress"
	"github.com/JakeFAU/scrape-orchestrator/internal/progress/sinks"
	"github.com/JakeFAU/scrape-orchestrator/internal/publisher/pubsub"
	"github.com/JakeFAU/scrape-orchestrator/internal/scheduler"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
	"github.com/JakeFAU/scrape-orchestrator/internal/storage/gcs"
	"github.com/JakeFAU/scrape-orchestrator/internal/storage/local"
	"github.com/JakeFAU/scrape-orchestrator/internal/storage/memory"
	"github.com/JakeFAU/scrape-orchestrator/internal/storage/postgres"
	"github.com/JakeFAU/scrape-orchestrator/internal/worker"
)

const defaultShutdownTimeout = 10 * time.Second

// App holds the assembled service and everything that must be released on
// shutdown.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	orch    *orchestrator.Orchestrator
	hub     *progress.Hub
	handler http.Handler

	pool      *pgxpool.Pool
	publisher *pubsub.Publisher
	archive   *gcs.BlobStore

	stopListener context.CancelFunc
	listenerDone chan struct{}
}

// Build creates the application's dependencies. Nothing is started until Run
// or Start is called.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	// Release whatever was opened if a later step fails.
	defer func() {
		if err == nil {
			return
		}
		if app.hub != nil {
			_ = app.hub.Close(context.Background())
		}
		app.closeInfrastructure()
	}()

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(app.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}

	configs, jobs, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}

	hubSinks, err := app.setupSinks(ctx)
	if err != nil {
		return nil, err
	}
	app.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      logger.Named("progress_hub"),
	}, hubSinks...)
	logger.Info("progress hub initialized", zap.Int("sinks", len(hubSinks)))

	client, err := worker.New(worker.Config{
		URL:     cfg.Worker.URL,
		APIKey:  cfg.Worker.APIKey,
		Timeout: cfg.WorkerTimeout(),
	}, logger.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("worker client init failed: %w", err)
	}
	var dispatchTo scrape.WorkerClient = client
	if cfg.Worker.DispatchRPS > 0 {
		limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Worker.DispatchRPS, Burst: cfg.Worker.DispatchBurst})
		dispatchTo = ratelimit.WrapWorker(client, limiter, logger.Named("ratelimit"))
	}
	logger.Info("worker client configured",
		zap.String("url", cfg.Worker.URL),
		zap.Duration("timeout", cfg.WorkerTimeout()),
		zap.Float64("dispatch_rps", cfg.Worker.DispatchRPS),
	)

	clock := system.New()
	app.orch, err = orchestrator.New(ctx, orchestrator.Options{
		Configs:            configs,
		Jobs:               jobs,
		Dispatcher:         dispatcher.New(jobs, dispatchTo, uuid.New(), clock, logger.Named("dispatcher")),
		Monitor:            monitor.New(jobs, app.hub, clock, logger.Named("monitor")),
		Scheduler:          scheduler.New(cfg.Tick(), logger.Named("scheduler")),
		Clock:              clock,
		Emitter:            app.hub,
		Recorder:           m,
		Logger:             logger.Named("orchestrator"),
		StallTimeout:       cfg.StallTimeout(),
		WatchdogInterval:   cfg.WatchdogInterval(),
		HoldCursorOnManual: !cfg.Scheduler.AdvanceCursorOnManual,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	opts := api.Options{
		Metrics:    metrics.Handler(app.registry),
		Middleware: []func(http.Handler) http.Handler{m.Middleware},
		Logger:     logger.Named("api"),
	}
	if cfg.Auth.Enabled {
		opts.APIKey = cfg.Auth.APIKey
	}
	if app.pool != nil {
		opts.Ready = app.pool.Ping
	}
	app.handler = api.NewServer(app.orch, jobs, opts).Handler()
	return app, nil
}

func (a *App) setupStores(ctx context.Context) (scrape.ConfigStore, scrape.JobStore, error) {
	seed := a.cfg.Scraper.ScraperConfig()
	if a.cfg.Store.Driver != config.DriverPostgres {
		a.logger.Warn("using in-memory stores; jobs and config are lost on restart")
		return memory.NewConfigStore(seed), memory.NewJobStore(), nil
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
	}
	jobs := postgres.NewJobStore(pool, uuid.New())

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopListener = cancel
	a.listenerDone = make(chan struct{})
	listener := postgres.NewListener(pool, jobs, a.logger.Named("pg_listener"))
	go func() {
		defer close(a.listenerDone)
		if err := listener.Run(listenCtx); err != nil {
			a.logger.Error("notification listener exited", zap.Error(err))
		}
	}()

	a.logger.Info("using postgres stores",
		zap.Int32("max_conns", a.cfg.DB.MaxConns),
		zap.Int32("min_conns", a.cfg.DB.MinConns),
	)
	return postgres.NewConfigStore(pool, seed), jobs, nil
}

func (a *App) setupSinks(ctx context.Context) ([]progress.Sink, error) {
	out := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress_log"))}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	out = append(out, promSink)

	blobs, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	if blobs != nil {
		out = append(out, sinks.NewArchiveSink(blobs, a.cfg.Archive.Prefix, a.logger.Named("archive")))
	}

	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no pub/sub topic configured, lifecycle publishing disabled")
		return out, nil
	}
	a.publisher, err = pubsub.NewFromProject(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	a.logger.Info("pub/sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return append(out, sinks.NewPublishSink(a.publisher, a.cfg.PubSub.TopicName)), nil
}

func (a *App) setupArchive(ctx context.Context) (scrape.BlobStore, error) {
	switch a.cfg.Archive.Driver {
	case config.DriverGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.archive = store
		a.logger.Info("archiving transcripts to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return store, nil
	case config.DriverLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("archiving transcripts locally", zap.String("path", a.cfg.Archive.BaseDir))
		return store, nil
	case config.DriverMemory:
		a.logger.Info("archiving transcripts in memory")
		return memory.NewBlobStore(), nil
	default:
		a.logger.Info("transcript archive disabled")
		return nil, nil
	}
}

// Handler returns the HTTP surface of the service.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Orchestrator exposes the assembled orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Start begins loop ticking and the stall watchdog.
func (a *App) Start() {
	a.orch.Start()
}

// Run serves HTTP until ctx ends or SIGINT/SIGTERM arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close stops the loops, flushes pending progress events and releases every
// client. Jobs already dispatched keep running in the worker.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.orch != nil {
		if err := a.orch.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	// Sync fails on stderr-backed loggers on some platforms; nothing to do.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.archive = nil
	}
	if a.stopListener != nil {
		a.stopListener()
		<-a.listenerDone
		a.stopListener = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
