package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/accesshub/accesshub/internal/app"
	"github.com/accesshub/accesshub/internal/approval"
	"github.com/accesshub/accesshub/internal/audit"
	"github.com/accesshub/accesshub/internal/authz"
	"github.com/accesshub/accesshub/internal/grants"
	"github.com/accesshub/accesshub/internal/notify"
	"github.com/accesshub/accesshub/internal/platform/cache"
	"github.com/accesshub/accesshub/internal/platform/db"
	"github.com/accesshub/accesshub/internal/provision"
	"github.com/accesshub/accesshub/jobs"
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

	expiryJob := jobs.NewExpirySweepJob(grantsService, logger)
	warningJob := jobs.NewExpiryWarningJob(grantsService, logger)
	syncRetryJob := jobs.NewSyncRetryJob(grantsService, logger)
	cleanupJob := jobs.NewCleanupJob(grantsService, notifyService, authzRepo, logger)
	notifyRetryJob := jobs.NewNotifyRetryJob(notifyService, logger)

	expiryTask, err := jobs.NewExpirySweepTask(jobs.ExpirySweepPayload{})
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	warningTask, err := jobs.NewExpiryWarningTask(jobs.ExpiryWarningPayload{
		WindowHours: int(cfg.ExpiryWarningWindow.Hours()),
		RewarnHours: int(cfg.RewarnAfter.Hours()),
	})
	if err != nil {
		logger.Error("build warning task", slog.Any("error", err))
		os.Exit(1)
	}
	syncRetryTask, err := jobs.NewSyncRetryTask(jobs.SyncRetryPayload{})
	if err != nil {
		logger.Error("build sync retry task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewCleanupTask(jobs.CleanupPayload{
		RetentionDays: int(cfg.CleanupRetention.Hours() / 24),
	})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	notifyRetryTask, err := jobs.NewNotifyRetryTask(jobs.NotifyRetryPayload{})
	if err != nil {
		logger.Error("build notify retry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGrantExpirySweep, Handler: expiryJob.Handle},
			{Type: jobs.TaskGrantExpiryWarning, Handler: warningJob.Handle},
			{Type: jobs.TaskGrantSyncRetry, Handler: syncRetryJob.Handle},
			{Type: jobs.TaskGrantCleanup, Handler: cleanupJob.Handle},
			{Type: jobs.TaskNotifyRetry, Handler: notifyRetryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 * * * *", Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 */6 * * *", Task: warningTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: syncRetryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/30 * * * *", Task: notifyRetryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
