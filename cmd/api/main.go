package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estimate_backend/internal/auth"
	"estimate_backend/internal/email"
	"estimate_backend/internal/events"
	apphttp "estimate_backend/internal/http"
	"estimate_backend/internal/http/router"
	"estimate_backend/internal/leads"
	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/leads/service"
	"estimate_backend/internal/line"
	"estimate_backend/internal/outbox"
	"estimate_backend/internal/pricing"
	"estimate_backend/internal/questionflow"
	"estimate_backend/internal/reconcile"
	"estimate_backend/internal/records"
	"estimate_backend/internal/scheduler"
	"estimate_backend/internal/storage"
	"estimate_backend/internal/webhook"
	"estimate_backend/platform/config"
	"estimate_backend/platform/db"
	"estimate_backend/platform/logger"
	"estimate_backend/platform/retry"
	"estimate_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const outboxPollInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Questionnaire definition and pricing table
	// ========================================================================

	flow, table, err := loadDefinitions(cfg)
	if err != nil {
		log.Error("failed to load questionnaire definitions", "error", err)
		panic("failed to load questionnaire definitions: " + err.Error())
	}
	log.Info("questionnaire loaded", "flowVersion", flow.Version(), "tableVersion", table.Version())

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	var (
		leadStore repository.LeadStore = repository.NewMemoryStore()
		health    apphttp.HealthChecker
	)
	if cfg.IsDatabaseEnabled() {
		pool := connectDatabase(ctx, cfg, log)
		defer pool.Close()
		leadStore = repository.NewPostgresStore(pool)
		health = db.NewPoolAdapter(pool)
	} else {
		log.Warn("DATABASE_URL not configured; leads are kept in memory")
	}

	var linkStore reconcile.LinkStore = reconcile.NewMemoryLinkStore()
	if cfg.GetRedisURL() != "" {
		redisLinks, err := reconcile.NewRedisLinkStoreFromURL(cfg.GetRedisURL())
		if err != nil {
			log.Error("failed to initialize link store", "error", err)
			panic("failed to initialize link store: " + err.Error())
		}
		defer func() { _ = redisLinks.Close() }()
		if err := retry.Do(ctx, log, "redis connection", 5, 2*time.Second, func() error {
			return redisLinks.Ping(ctx)
		}); err != nil {
			log.Error("failed to connect to redis", "error", err)
			panic("failed to connect to redis: " + err.Error())
		}
		linkStore = redisLinks
	} else {
		log.Warn("REDIS_URL not configured; link state is kept in memory")
	}

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	messaging := line.NewMessagingClient(cfg, log)
	if messaging == nil {
		log.Warn("LINE_CHANNEL_ACCESS_TOKEN not configured; estimates stay pending until messaging is enabled")
	}
	login := line.NewLoginClient(cfg)
	if login == nil {
		log.Warn("LINE_LOGIN_CHANNEL_ID not configured; LINE login disabled")
	}

	photoStore := initPhotoStore(ctx, cfg, log)
	if sink := initRecordSink(cfg, flow, log); sink != nil {
		sink.Subscribe(eventBus)
	}
	leads.SubscribeAudit(eventBus, log)

	retries, closeRetries := initRetryScheduler(cfg, log)
	if closeRetries != nil {
		defer closeRetries()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	reconciler := reconcile.New(leadStore, linkStore, messaging, retries, reconcile.Config{
		AppBaseURL: cfg.GetAppBaseURL(),
		ClaimTTL:   cfg.GetDeliveryClaimTTL(),
	}, log)
	reconciler.Subscribe(eventBus)

	if mem, ok := retries.(*outbox.MemoryOutbox); ok {
		go mem.Run(ctx, reconciler, outboxPollInterval)
	}

	leadService := service.New(flow, table, leadStore, reconciler, eventBus, service.Options{
		Photos:       photoStore,
		MaxPhotoSize: cfg.GetMinIOMaxFileSize(),
	}, log)

	authModule := auth.NewModule(login, leadService, cfg, log)
	webhookModule := webhook.NewModule(leadService, cfg, log)
	leadsModule := leads.NewModule(leadService, reconciler, photoStore, cfg.GetMinIOMaxFileSize(), val, log)

	// QR codes point at the auth module's login start (breaks circular dependency)
	leadsModule.SetLoginURLFunc(authModule.LoginURL)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   health,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			authModule,
			webhookModule,
			leadsModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// loadDefinitions reads the questionnaire and pricing table, falling back to the
// embedded defaults, and fails when the two disagree.
func loadDefinitions(cfg config.CatalogConfig) (*questionflow.Flow, *pricing.Table, error) {
	flow, err := loadOrDefault(cfg.GetQuestionsPath(), questionflow.Load, questionflow.Default)
	if err != nil {
		return nil, nil, fmt.Errorf("questions: %w", err)
	}
	table, err := loadOrDefault(cfg.GetPricingTablePath(), pricing.Load, pricing.Default)
	if err != nil {
		return nil, nil, fmt.Errorf("pricing table: %w", err)
	}
	if err := table.CheckAgainst(flow); err != nil {
		return nil, nil, err
	}
	return flow, table.WithLabels(flow.Label), nil
}

func loadOrDefault[T any](path string, load func(io.Reader) (T, error), fallback func() (T, error)) (T, error) {
	if path == "" {
		return fallback()
	}
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer func() { _ = f.Close() }()
	return load(f)
}

func connectDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) *pgxpool.Pool {
	if err := retry.Do(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := retry.Do(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	log.Info("database connection established")
	return pool
}

// initPhotoStore returns nil when MinIO is not configured; photos are then mailed only.
func initPhotoStore(ctx context.Context, cfg config.MinIOConfig, log *logger.Logger) storage.PhotoStore {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; photos are not stored")
		return nil
	}
	store, err := storage.NewMinIOStore(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	if err := retry.Do(ctx, log, "ensure lead-photos bucket", 5, 2*time.Second, func() error {
		return store.EnsureBucket(ctx)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinIOBucketLeadPhotos())
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	log.Info("storage service initialized", "leadPhotosBucket", cfg.GetMinIOBucketLeadPhotos())
	return store
}

// initRecordSink returns nil when neither back-office channel is configured.
func initRecordSink(cfg *config.Config, flow *questionflow.Flow, log *logger.Logger) *records.Sink {
	var (
		rows records.RowAppender
		mail records.AdminNotifier
	)
	if sheets := records.NewSheetsClient(cfg); sheets != nil {
		rows = sheets
	} else {
		log.Warn("Google Sheets not configured; lead rows are not recorded")
	}
	if sender := email.NewSMTPSender(cfg); sender != nil {
		mail = sender
	} else {
		log.Warn("SMTP not configured; admin notifications disabled")
	}
	if rows == nil && mail == nil {
		return nil
	}
	return records.New(flow, rows, mail, log)
}

// initRetryScheduler prefers the Redis-backed queue (drained by cmd/scheduler) and
// falls back to an in-process outbox.
func initRetryScheduler(cfg *config.Config, log *logger.Logger) (outbox.Scheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; delivery retries run in process")
		return outbox.NewMemoryOutbox(cfg.GetDeliveryRetryBaseDelay(), cfg.GetDeliveryMaxAttempts(), log), nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize delivery retry client", "error", err)
		panic("failed to initialize delivery retry client: " + err.Error())
	}
	return client, func() {
		_ = client.Close()
	}
}
