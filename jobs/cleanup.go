package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TerminalPurger removes terminal records older than a retention horizon.
type TerminalPurger interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// NotificationPurger removes finished notification tasks past retention.
type NotificationPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// RoleStatePurger removes role assignments and overrides whose expiry
// passed before the cutoff.
type RoleStatePurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob purges terminal requests and grants, finished notification
// tasks, and expired role state.
type CleanupJob struct {
	Grants        TerminalPurger
	Notifications NotificationPurger
	Roles         RoleStatePurger
	Logger        *slog.Logger
	clock         func() time.Time
}

// NewCleanupJob initialises the cleanup handler.
func NewCleanupJob(grants TerminalPurger, notifications NotificationPurger, roles RoleStatePurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		Grants:        grants,
		Notifications: notifications,
		Roles:         roles,
		Logger:        logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one purge pass.
func (j *CleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Grants == nil {
		return errors.New("cleanup: handler not configured")
	}
	var payload CleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 180
	}

	start := j.now()
	retention := time.Duration(payload.RetentionDays) * 24 * time.Hour
	logger := j.logger().With(slog.Int("retention_days", payload.RetentionDays))
	logger.Info("starting cleanup")

	purged, err := j.Grants.Cleanup(ctx, retention)
	if err != nil {
		logger.Error("cleanup failed", slog.Any("error", err))
		return err
	}

	var notifPurged int64
	if j.Notifications != nil {
		notifPurged, err = j.Notifications.Purge(ctx, retention)
		if err != nil {
			logger.Error("notification purge failed", slog.Any("error", err))
			return err
		}
	}

	var rolesPurged int64
	if j.Roles != nil {
		rolesPurged, err = j.Roles.PurgeExpired(ctx, start.Add(-retention))
		if err != nil {
			logger.Error("role state purge failed", slog.Any("error", err))
			return err
		}
	}

	logger.Info("completed cleanup",
		slog.Int64("records_purged", purged),
		slog.Int64("notifications_purged", notifPurged),
		slog.Int64("role_state_purged", rolesPurged),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *CleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantCleanup))
	}
	return slog.Default().With(slog.String("job", TaskGrantCleanup))
}

func (j *CleanupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
