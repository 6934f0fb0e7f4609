package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tallyard/tallyard/internal/app"
	"github.com/tallyard/tallyard/internal/audit"
	"github.com/tallyard/tallyard/internal/observability"
	"github.com/tallyard/tallyard/internal/platform/cache"
	"github.com/tallyard/tallyard/internal/platform/db"
	"github.com/tallyard/tallyard/internal/rbac"
	"github.com/tallyard/tallyard/internal/shared"
	"github.com/tallyard/tallyard/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "tallyard_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	catalog := rbac.DefaultCatalog()
	publisher := rbac.NewRedisPublisher(redisClient)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo, catalog, auditLogger, publisher, logger)

	evaluator, err := rbac.NewEvaluator(catalog, rbacRepo, logger, metrics, rbac.EvaluatorConfig{
		CacheSize: cfg.GrantCacheSize,
		Strict:    cfg.IsDevelopment(),
	})
	if err != nil {
		logger.Error("init evaluator", slog.Any("error", err))
		os.Exit(1)
	}

	listener := rbac.NewListener(redisClient, logger)
	stopListener, err := listener.AttachEvaluator(ctx, evaluator)
	if err != nil {
		logger.Error("subscribe rbac changes", slog.Any("error", err))
		os.Exit(1)
	}
	defer stopListener()

	guard := rbac.Middleware{Evaluator: evaluator, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacService, guard)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo, auditLogger, publisher, logger)
	usersHandler := users.NewHandler(logger, usersService, guard)

	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audit.NewHandler(logger, auditService, guard)

	// Catalog rows must exist before the first grant commit.
	if touched, err := rbacService.SyncCatalog(ctx); err != nil {
		logger.Error("catalog sync", slog.Any("error", err))
		os.Exit(1)
	} else {
		logger.Info("catalog synced", slog.Int("rows", touched))
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		RBACHandler:    rbacHandler,
		UsersHandler:   usersHandler,
		AuditHandler:   auditHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
