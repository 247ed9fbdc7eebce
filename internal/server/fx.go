// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/lesson-progress-tracker/internal/api"
	"github.com/JakeFAU/lesson-progress-tracker/internal/auth"
	"github.com/JakeFAU/lesson-progress-tracker/internal/backend"
	"github.com/JakeFAU/lesson-progress-tracker/internal/clock/system"
	"github.com/JakeFAU/lesson-progress-tracker/internal/config"
	"github.com/JakeFAU/lesson-progress-tracker/internal/id/uuid"
	"github.com/JakeFAU/lesson-progress-tracker/internal/logging"
	"github.com/JakeFAU/lesson-progress-tracker/internal/metrics"
	"github.com/JakeFAU/lesson-progress-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/lesson-progress-tracker/internal/progress"
	progresssinks "github.com/JakeFAU/lesson-progress-tracker/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/lesson-progress-tracker/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/lesson-progress-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/lesson-progress-tracker/internal/storage/local"
	memorystorage "github.com/JakeFAU/lesson-progress-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/lesson-progress-tracker/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/lesson-progress-tracker/internal/storage/sqlite"
	"github.com/JakeFAU/lesson-progress-tracker/internal/store"
	"github.com/JakeFAU/lesson-progress-tracker/internal/telemetry"
	"github.com/JakeFAU/lesson-progress-tracker/internal/tracker"
	"github.com/JakeFAU/lesson-progress-tracker/internal/watch"
)

const limiterPruneInterval = time.Minute

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
	logger     *zap.Logger
}

// WithRegisterer registers the progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	tracker        *tracker.Manager
	progressHub    *progress.Hub
	limiter        *ratelimit.Limiter
	backend        *backend.Client
	publisher      *gcppublisher.Publisher
	storage        *storage.Client
	progressRepo   store.ProgressRepository
	closeRepo      func() error
	ready          []api.ReadyFunc
	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	// Define a struct for logging only non-sensitive config fields
	type SanitizedConfig struct {
		ServerPort  int    `json:"server_port"`
		AuthEnabled bool   `json:"auth_enabled"`
		DBDriver    string `json:"db_driver"`
		Archive     string `json:"archive,omitempty"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:  cfg.Server.Port,
		AuthEnabled: cfg.Auth.Enabled,
		DBDriver:    cfg.DB.Driver,
		Archive:     cfg.Archive.Backend,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	go a.pruneLimiter(ctx)

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

func (a *App) pruneLimiter(ctx context.Context) {
	if a.limiter == nil {
		return
	}
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.limiter.Prune(); removed > 0 {
				a.logger.Debug("pruned idle rate limit buckets", zap.Int("removed", removed))
			}
		}
	}
}

// Close gracefully shuts down the application: open sessions are ended so
// their final events reach the hub, then the hub drains into the sinks
// before the stores and clients behind them are released.
func (a *App) Close(ctx context.Context) error {
	if a.tracker != nil {
		if err := a.tracker.Close(ctx); err != nil {
			a.logger.Warn("tracker close failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.closeRepo != nil {
		if err := a.closeRepo(); err != nil {
			a.logger.Warn("progress store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stdout/stderr for some platforms; nothing to do about it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	options := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	app.logger.Info("building application dependencies")
	// Anything opened before a failure is released by Close.
	fail := func(err error) (*App, error) {
		_ = app.Close(ctx)
		return nil, err
	}

	if err := setupDatabase(ctx, app); err != nil {
		return fail(err)
	}
	if err := setupBackend(app); err != nil {
		return fail(err)
	}
	if err := setupPublisher(ctx, app); err != nil {
		return fail(err)
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return fail(err)
	}
	if err := setupProgress(ctx, app, options.registerer, archive); err != nil {
		return fail(err)
	}
	if err := setupTracker(app); err != nil {
		return fail(err)
	}
	if err := metrics.RegisterRuntime(options.registerer, metrics.RuntimeStats{
		OpenSessions:    app.tracker.Active,
		DroppedEvents:   app.progressHub.Dropped,
		DeliveredEvents: app.progressHub.Delivered,
	}); err != nil {
		return fail(err)
	}

	deps := api.Deps{
		Tracker:  app.tracker,
		Progress: app.progressRepo,
		Ready:    app.ready,
		Logger:   logger.Named("api"),
	}
	if app.backend != nil {
		deps.Catalog = app.backend
	}
	if cfg.Auth.Enabled {
		deps.Verifier, err = auth.NewVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			return fail(fmt.Errorf("auth init failed: %w", err))
		}
	}
	if cfg.API.RateLimitRPS > 0 {
		app.limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.API.RateLimitRPS,
			Burst: cfg.API.RateLimitBurst,
		})
		deps.Limiter = app.limiter
		app.logger.Info("per-learner rate limiter enabled",
			zap.Float64("rps", cfg.API.RateLimitRPS),
			zap.Int("burst", cfg.API.RateLimitBurst),
		)
	}
	app.apiServer, err = api.NewServer(deps)
	if err != nil {
		return fail(fmt.Errorf("api init failed: %w", err))
	}

	return app, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	db := app.cfg.DB
	switch db.Driver {
	case config.DriverPostgres:
		repo, err := pgstore.NewProgressStore(ctx, pgstore.Config{
			DSN:             db.DSN,
			MaxConns:        db.MaxConns,
			MinConns:        db.MinConns,
			MaxConnLifetime: db.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("postgres progress store init failed: %w", err)
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.progressRepo = repo
		app.closeRepo = func() error { repo.Close(); return nil }
		app.ready = append(app.ready, repo.Ping)
		app.logger.Info("using postgres progress store")
	case config.DriverSQLite:
		repo, err := sqlitestore.NewProgressStore(ctx, db.DSN)
		if err != nil {
			return fmt.Errorf("sqlite progress store init failed: %w", err)
		}
		app.progressRepo = repo
		app.closeRepo = repo.Close
		app.ready = append(app.ready, repo.Ping)
		app.logger.Info("using sqlite progress store", zap.String("path", db.DSN))
	default:
		app.progressRepo = memorystorage.NewProgressStore()
		app.logger.Warn("using in-memory progress store; progress is lost on restart")
	}
	return nil
}

func setupBackend(app *App) error {
	if app.cfg.Backend.BaseURL == "" {
		app.logger.Info("no course API configured; completion is resolved from the local store")
		return nil
	}
	client, err := backend.New(backend.Config{
		BaseURL:           app.cfg.Backend.BaseURL,
		Timeout:           app.cfg.Backend.Timeout(),
		RequestsPerSecond: app.cfg.Backend.RequestsPerSecond,
		Burst:             app.cfg.Backend.Burst,
		Logger:            app.logger.Named("backend"),
	})
	if err != nil {
		return fmt.Errorf("backend client init failed: %w", err)
	}
	app.backend = client
	app.logger.Info("course API client initialized", zap.String("base_url", app.cfg.Backend.BaseURL))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured; progress events are not published")
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

func setupArchive(ctx context.Context, app *App) (progresssinks.BlobStore, error) {
	archive := app.cfg.Archive
	switch archive.Backend {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       archive.GCSBucket,
			CacheControl: archive.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving progress batches to GCS", zap.String("bucket", archive.GCSBucket))
		return blobs, nil
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving progress batches locally", zap.String("path", archive.LocalDir))
		return blobs, nil
	case config.ArchiveMemory:
		app.logger.Info("archiving progress batches in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func setupProgress(
	ctx context.Context,
	app *App,
	reg prometheus.Registerer,
	archive progresssinks.BlobStore,
) error {
	cfg := app.cfg.Progress
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.progressRepo, app.logger.Named("progress_store")),
	}
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	if cfg.MetricsEnabled {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		app.logger.Debug("Added progress metrics sink")
	}
	if cfg.BackendEnabled && app.backend != nil {
		sinkList = append(sinkList, progresssinks.NewBackendSink(app.backend))
		app.logger.Debug("Added course API sink")
	}
	if app.publisher != nil {
		sinkList = append(sinkList, progresssinks.NewPublishSink(app.publisher))
		app.logger.Debug("Added Pub/Sub sink")
	}
	if archive != nil {
		sinkList = append(sinkList, progresssinks.NewArchiveSink(archive, uuid.New(), app.cfg.Archive.Prefix))
		app.logger.Debug("Added archive sink")
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(cfg.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func setupTracker(app *App) error {
	tcfg := app.cfg.Tracker
	var lookup tracker.CompletionLookup = app.progressRepo
	if app.backend != nil {
		lookup = app.backend
	}
	mgr, err := tracker.New(tracker.Config{
		Watch: watch.Config{
			CompletionThresholdPct:   tcfg.CompletionThresholdPct,
			SyncIntervalSeconds:      tcfg.SyncIntervalSeconds,
			MaxPlausibleDeltaSeconds: tcfg.MaxPlausibleDeltaSeconds,
		},
		PlayerOrigin:   tcfg.PlayerOrigin,
		AccessDebounce: tcfg.AccessDebounce(),
		IdleTimeout:    tcfg.IdleTimeout(),
		ReapInterval:   tcfg.ReapInterval(),
		LookupTimeout:  tcfg.LookupTimeout(),
		Logger:         app.logger,
	}, system.New(), app.progressHub, lookup, uuid.New())
	if err != nil {
		return fmt.Errorf("tracker init failed: %w", err)
	}
	app.tracker = mgr
	return nil
}
