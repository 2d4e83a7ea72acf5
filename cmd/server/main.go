package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/crosslist/backend/docs"

	"github.com/crosslist/backend/internal/application/deadletter"
	"github.com/crosslist/backend/internal/application/ingest"
	"github.com/crosslist/backend/internal/application/monitor"
	"github.com/crosslist/backend/internal/application/orchestration"
	"github.com/crosslist/backend/internal/domain/integration"
	"github.com/crosslist/backend/internal/domain/shared"
	"github.com/crosslist/backend/internal/infrastructure/auth"
	"github.com/crosslist/backend/internal/infrastructure/cache"
	"github.com/crosslist/backend/internal/infrastructure/config"
	"github.com/crosslist/backend/internal/infrastructure/event"
	"github.com/crosslist/backend/internal/infrastructure/logger"
	"github.com/crosslist/backend/internal/infrastructure/marketplace"
	"github.com/crosslist/backend/internal/infrastructure/persistence"
	"github.com/crosslist/backend/internal/infrastructure/resilience"
	"github.com/crosslist/backend/internal/infrastructure/scheduler"
	"github.com/crosslist/backend/internal/infrastructure/storage"
	"github.com/crosslist/backend/internal/infrastructure/telemetry"
	"github.com/crosslist/backend/internal/interfaces/http/handler"
	"github.com/crosslist/backend/internal/interfaces/http/middleware"
	"github.com/crosslist/backend/internal/interfaces/http/router"
)

const (
	shutdownTimeout    = 30 * time.Second
	slowQueryThreshold = 200 * time.Millisecond
)

//	@title			Crosslist API
//	@version		1.0
//	@description	Marketplace webhooks, sale sync and dead-letter administration

//	@host		localhost:8080
//	@BasePath	/

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Operator token. Format: "Bearer {token}"

//go:generate swag init -g cmd/server/main.go -d ../.. -o ../../docs

// lifecycle is a background component started with the server
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "", "config file (default ./config.toml)")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, base *zap.Logger) error {
	clock := shared.SystemClock{}

	// Telemetry first so the bridged logger and meters reach every component
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, base)
	if err != nil {
		return err
	}
	defer func() {
		_ = providers.Shutdown(context.Background())
	}()
	log := providers.BridgeLogger(base, logger.ParseLevel(cfg.Log.Level))

	log.Info("Starting crosslist",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.Profiling.Enabled,
		ServerAddress:     cfg.Telemetry.Profiling.ServerAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Telemetry.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Telemetry.Profiling.BasicAuthPassword,
		MutexAndBlock:     cfg.Telemetry.Profiling.MutexAndBlock,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		_ = profiler.Stop()
	}()
	if profiler.Enabled() && cfg.Telemetry.Profiling.SpanProfiles {
		if !providers.EnableSpanProfiles() {
			log.Warn("span profiles need telemetry.enabled; skipping")
		}
	}

	meter := providers.Meter(cfg.Telemetry.ServiceName)
	metrics, err := telemetry.NewResilienceMetrics(meter)
	if err != nil {
		return err
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.GormLevel(cfg.Log.Level), slowQueryThreshold)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			return err
		}
	}
	if err := telemetry.InstrumentDB(db.DB, telemetry.DBTracingConfig{
		Enabled:            cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem:           dbSystem(cfg.Database.Driver),
		SlowQueryThreshold: slowQueryThreshold,
	}, log); err != nil {
		return err
	}
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	listings := persistence.NewGormListingRepository(db.DB)
	syncJobs := persistence.NewGormSyncJobRepository(db.DB)
	auditLog := persistence.NewGormAuditLog(db.DB)
	jobs := persistence.NewGormJobRepository(db.DB)
	attempts := persistence.NewGormRetryAttemptRepository(db.DB)
	deadLetters := persistence.NewGormDeadLetterRepository(db.DB)
	pollSchedules := persistence.NewGormPollScheduleRepository(db.DB)

	// Shared state: limiter windows, breaker snapshots, ingest health, webhook dedup
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			if !cfg.State.AllowInMemoryFallback {
				return err
			}
			log.Warn("Redis unavailable", zap.Error(err))
			redisClient = nil
		} else {
			defer func() { _ = redisClient.Close() }()
		}
	}
	var universal redis.UniversalClient
	if redisClient != nil {
		universal = redisClient
	}
	stores := cache.NewStoreFactory(cfg.State, cfg.Dedup, universal,
		cache.WithLogger(log),
		cache.WithDedupObserver(metrics),
	)
	defer func() { _ = stores.IdempotencyStore().Close() }()
	stateStore, err := stores.StateStore()
	if err != nil {
		return err
	}

	// Marketplaces
	catalog, err := config.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	registry, err := marketplace.NewRegistryFromCatalog(catalog, &http.Client{}, log)
	if err != nil {
		return err
	}

	// Resilience
	defaults := breakerDefaults(cfg.Resilience)
	limiter := resilience.NewRateLimiter(stateStore, resilience.NewLimitTable(), resilience.RateLimiterConfig{
		ThrottleThreshold: cfg.Resilience.ThrottleThreshold,
		MaxThrottleDelay:  cfg.Resilience.MaxThrottleDelay,
		PacingThreshold:   cfg.Resilience.PacingThreshold,
		Base429Backoff:    cfg.Resilience.Base429Backoff,
		Max429Backoff:     cfg.Resilience.Max429Backoff,
	}, clock, log)
	breaker := resilience.NewCircuitBreaker(stateStore, defaults, clock, log)
	breaker.OnStateChange(func(m integration.MarketplaceID, from, to integration.BreakerState) {
		log.Warn("Circuit breaker transition",
			zap.String("marketplace", string(m)),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	})
	displayNames, err := applyCatalog(catalog, limiter.Limits(), breaker, defaults)
	if err != nil {
		return err
	}
	caller := resilience.NewRetryingCaller(registry, limiter, breaker, resilience.CallerConfig{
		MaxRetries:  cfg.Resilience.MaxRetries,
		BaseDelay:   cfg.Resilience.RetryBaseDelay,
		MaxDelay:    cfg.Resilience.RetryMaxDelay,
		CallTimeout: cfg.Resilience.CallTimeout,
	}, log, resilience.WithObserver(metrics), resilience.WithClock(clock))

	// Events
	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(event.NewEscalationLogger(log))

	// Dead-letter queue
	dlqConfig := deadletter.DefaultConfig()
	dlqConfig.Retention = cfg.DeadLetter.Retention
	dlqConfig.BulkBatchSize = cfg.DeadLetter.BulkBatchSize
	dlqConfig.BulkPause = cfg.DeadLetter.BulkPause
	dlqConfig.JobMaxAttempts = cfg.Scheduler.JobMaxAttempts
	dlqOpts := []deadletter.Option{
		deadletter.WithNotifier(deadletter.NewEventNotifier(bus, clock)),
		deadletter.WithObserver(metrics),
		deadletter.WithClock(clock),
	}
	if cfg.Storage.ArchiveEnabled {
		archive, err := storage.NewS3Archive(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return err
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Warn("Dead letter archive bucket check failed", zap.Error(err))
		}
		dlqOpts = append(dlqOpts, deadletter.WithArchiver(archive))
	}
	dlq := deadletter.NewService(deadLetters, dlqConfig, log, dlqOpts...)

	// Sale sync
	orchConfig := orchestration.DefaultConfig()
	if cfg.Resilience.BatchConcurrency > 0 {
		orchConfig.Concurrency = cfg.Resilience.BatchConcurrency
	}
	orchConfig.RetryMaxAttempts = cfg.Scheduler.JobMaxAttempts
	if cfg.Scheduler.RetryBaseDelay > 0 {
		orchConfig.RetryDelay = cfg.Scheduler.RetryBaseDelay
	}
	orchestrator := orchestration.NewOrchestrator(listings, syncJobs, auditLog, registry, caller, orchConfig, log,
		orchestration.WithAdmission(limiter),
		orchestration.WithBreaker(breaker),
		orchestration.WithObserver(metrics),
		orchestration.WithClock(clock),
	)
	saleRecorder := orchestration.NewSaleRecorder(listings, bus, clock, log)
	consumerConfig := event.DefaultAsyncConsumerConfig()
	if cfg.Event.ConsumerWorkers > 0 {
		consumerConfig.Workers = cfg.Event.ConsumerWorkers
	}
	if cfg.Event.BufferSize > 0 {
		consumerConfig.BufferSize = cfg.Event.BufferSize
	}
	saleConsumer, err := orchestration.NewSaleSyncConsumer(orchestrator, consumerConfig, log)
	if err != nil {
		return err
	}
	bus.Subscribe(event.NewIdempotentHandler(saleConsumer, stores.IdempotencyStore(), log))

	// Background jobs
	delist := scheduler.NewDelistExecutor(caller, listings, registry, orchestrator, clock, log)
	jobScheduler, err := scheduler.NewJobScheduler(scheduler.JobSchedulerConfig{
		Workers:        cfg.Scheduler.Workers,
		QueueSize:      cfg.Scheduler.QueueSize,
		PollInterval:   cfg.Scheduler.PollInterval,
		ClaimBatchSize: cfg.Scheduler.ClaimBatchSize,
		JobTimeout:     cfg.Scheduler.JobTimeout,
		RetryBaseDelay: cfg.Scheduler.RetryBaseDelay,
		RetryMaxDelay:  cfg.Scheduler.RetryMaxDelay,
	}, jobs, attempts, dlq, log,
		scheduler.WithExecutor(integration.JobTypeDelist, delist),
		scheduler.WithJobObserver(metrics),
		scheduler.WithSchedulerClock(clock),
	)
	if err != nil {
		return err
	}
	orchestrator.SetScheduler(jobScheduler)
	dlq.SetScheduler(jobScheduler)

	// Ingest
	healthTracker := ingest.NewHealthTracker(stateStore, ingest.DefaultHealthRetention, clock, log)
	ingestConfig := ingest.DefaultConfig()
	if cfg.Dedup.TTL > 0 {
		ingestConfig.DedupTTL = cfg.Dedup.TTL
	}
	ingestor := ingest.NewIngestor(registry, listings, saleRecorder, stores.IdempotencyStore(), ingestConfig, log,
		ingest.WithHealthTracker(healthTracker),
		ingest.WithObserver(metrics),
		ingest.WithClock(clock),
	)

	background := []lifecycle{bus, saleConsumer}
	if cfg.Scheduler.Enabled {
		background = append(background, jobScheduler)
	}
	if cfg.Polling.Enabled {
		polling, err := ingest.NewSalesPolling(ingestor, registry, pollSchedules, caller.Guard(), integration.PollingConfig{
			MinInterval:     cfg.Polling.MinInterval,
			MaxInterval:     cfg.Polling.MaxInterval,
			DefaultInterval: cfg.Polling.DefaultInterval,
		}, clock, log)
		if err != nil {
			return err
		}
		created, err := polling.EnsureSchedules(ctx)
		if err != nil {
			return err
		}
		log.Info("Poll schedules ready", zap.Int("created", created))

		pollConfig := scheduler.DefaultPollSchedulerConfig()
		if cfg.Polling.TickInterval > 0 {
			pollConfig.TickInterval = cfg.Polling.TickInterval
		}
		pollScheduler, err := scheduler.NewPollScheduler(pollConfig, pollSchedules, polling, clock, log)
		if err != nil {
			return err
		}
		background = append(background, pollScheduler)
	}
	if cfg.DeadLetter.CleanupEnabled {
		cleanup, err := scheduler.NewIntervalTrigger("dead_letter_cleanup", cfg.DeadLetter.CleanupInterval, func(ctx context.Context) error {
			_, err := dlq.AutoCleanup(ctx)
			return err
		}, log)
		if err != nil {
			return err
		}
		background = append(background, cleanup)
	}

	// Monitoring
	status := monitor.NewService(registry, breaker, limiter, log,
		monitor.WithHealth(healthTracker),
		monitor.WithDeadLetters(dlq),
		monitor.WithCaller(caller),
		monitor.WithDisplayNames(displayNames),
		monitor.WithCheckTimeout(cfg.Resilience.CallTimeout),
	)
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = telemetry.MetricsHandler(telemetry.NewRegistry(telemetry.NewStatusCollector(status, log)))
	}

	// HTTP
	var tokens middleware.TokenValidator
	if cfg.Admin.JWTSecret != "" {
		tokenService, err := auth.NewTokenService(cfg.Admin, clock)
		if err != nil {
			return err
		}
		tokens = tokenService
	}

	health := handler.NewHealthHandler(status).
		WithDependency("database", handler.PingFunc(func(context.Context) error { return db.Ping() }))
	if redisClient != nil {
		health.WithDependency("redis", handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	engine := router.New(router.Options{
		HTTP: cfg.HTTP,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Swagger: middleware.SwaggerConfig{
			Enabled:     cfg.Swagger.Enabled,
			RequireAuth: cfg.Swagger.RequireAuth,
			AllowedIPs:  cfg.Swagger.AllowedIPs,
		},
		Tokens:      tokens,
		Meter:       meter,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
		Clock:       clock,
		Logger:      log,
	}, router.Handlers{
		Webhook:    handler.NewWebhookHandler(ingestor, cfg.HTTP.MaxBodySize),
		Sale:       handler.NewSaleHandler(saleRecorder),
		SyncJob:    handler.NewSyncJobHandler(orchestrator),
		DeadLetter: handler.NewDeadLetterHandler(dlq),
		Health:     health,
		System:     handler.NewSystemHandler(registry, clock),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	started := make([]lifecycle, 0, len(background))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(stopCtx); err != nil {
				log.Warn("Background component stop failed", zap.Error(err))
			}
		}
	}()
	for _, c := range background {
		if err := c.Start(ctx); err != nil {
			return err
		}
		started = append(started, c)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func dbSystem(driver string) string {
	if driver == "sqlite" {
		return "sqlite"
	}
	return "postgresql"
}
