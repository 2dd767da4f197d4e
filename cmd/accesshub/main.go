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

	"github.com/hibiken/asynq"

	"github.com/accesshub/accesshub/internal/app"
	"github.com/accesshub/accesshub/internal/approval"
	"github.com/accesshub/accesshub/internal/audit"
	"github.com/accesshub/accesshub/internal/auth"
	"github.com/accesshub/accesshub/internal/authz"
	"github.com/accesshub/accesshub/internal/grants"
	"github.com/accesshub/accesshub/internal/notify"
	"github.com/accesshub/accesshub/internal/platform/cache"
	"github.com/accesshub/accesshub/internal/platform/db"
	"github.com/accesshub/accesshub/internal/provision"
	"github.com/accesshub/accesshub/internal/users"
	"github.com/accesshub/accesshub/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	catalog := authz.DefaultCatalog()
	decisionCache := authz.NewDecisionCache(redisClient, cfg.AuthzCacheTTL)
	authzRepo := authz.NewRepository(pool)
	resolver := authz.NewResolver(catalog, authzRepo, authzRepo, decisionCache, logger)
	guard := authz.NewGuard(resolver)

	userRepo := users.NewRepository(pool)
	authService := auth.NewService(userRepo, auth.NewPGSessionStore(pool))
	authHandler := auth.NewHandler(authService)

	auditRecorder := audit.NewRecorder(pool)
	notifyRepo := notify.NewRepository(pool)
	sender := notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	notifyService := notify.NewService(notifyRepo, sender, logger)

	bus := grants.NewEventBus(logger,
		audit.NewSink(auditRecorder),
		notify.NewLifecycleListener(notifyService),
	)

	var provisioner provision.Provisioner = provision.Noop{}
	if cfg.ProvisionerURL != "" {
		provisioner = provision.NewRetrier(
			provision.NewHTTPProvisioner(cfg.ProvisionerURL, cfg.ProvisionerTimeout),
			cfg.ProvisionerTimeout,
			logger,
		)
	}

	grantsRepo := grants.NewRepository(pool)
	policy := approval.NewPolicy(catalog)
	grantsService := grants.NewService(grantsRepo, resolver, guard, policy, provisioner, bus, logger)

	authzService := authz.NewService(authzRepo, resolver, guard, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Authz:         authz.Middleware{Resolver: resolver, Logger: logger},
		AuthHandler:   authHandler,
		GrantsHandler: grants.NewHandler(grantsService, logger),
		AuthzHandler:  authz.NewHandler(authzService, logger),
		AuditHandler:  audit.NewHandler(auditRecorder, guard),
		NotifyHandler: notify.NewHandler(notifyService),
		JobHandler:    jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
