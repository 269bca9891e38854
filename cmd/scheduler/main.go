package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estimate_backend/internal/leads/repository"
	"estimate_backend/internal/line"
	"estimate_backend/internal/reconcile"
	"estimate_backend/internal/scheduler"
	"estimate_backend/platform/config"
	"estimate_backend/platform/db"
	"estimate_backend/platform/logger"
	"estimate_backend/platform/retry"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.IsDatabaseEnabled() || cfg.GetRedisURL() == "" {
		panic("scheduler requires DATABASE_URL and REDIS_URL")
	}

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
	defer pool.Close()

	links, err := reconcile.NewRedisLinkStoreFromURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("failed to initialize link store", "error", err)
		panic("failed to initialize link store: " + err.Error())
	}
	defer func() { _ = links.Close() }()

	// Retries are re-driven by asynq itself, so the worker-side reconciler never schedules.
	reconciler := reconcile.New(
		repository.NewPostgresStore(pool),
		links,
		line.NewMessagingClient(cfg, log),
		nil,
		reconcile.Config{AppBaseURL: cfg.GetAppBaseURL(), ClaimTTL: cfg.GetDeliveryClaimTTL()},
		log,
	)

	worker, err := scheduler.NewWorker(cfg, reconciler, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}
