package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tallyard/tallyard/internal/app"
	jobmetrics "github.com/tallyard/tallyard/internal/jobs"
	"github.com/tallyard/tallyard/internal/platform/db"
	"github.com/tallyard/tallyard/internal/rbac"
	"github.com/tallyard/tallyard/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	catalog := rbac.DefaultCatalog()
	rbacRepo := rbac.NewRepository(pool)
	// The worker mutates nothing an administrator owns, so no audit logger
	// or change publisher is attached.
	rbacService := rbac.NewService(rbacRepo, catalog, nil, nil, logger)

	metrics := jobmetrics.NewMetrics(nil)
	catalogSync := jobs.NewCatalogSyncJob(rbacService, logger, metrics)
	matrixIntegrity := jobs.NewMatrixIntegrityJob(rbacService, logger, metrics)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	integrityTask := jobs.NewMatrixIntegrityTask()
	syncTask, err := jobs.NewCatalogSyncTask(jobs.CatalogSyncPayload{})
	if err != nil {
		logger.Error("build catalog sync task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCatalogSync, Handler: catalogSync.Handle},
			{Type: jobs.TaskMatrixIntegrity, Handler: matrixIntegrity.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every 6h", Task: syncTask},
			{Spec: "@daily", Task: integrityTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
