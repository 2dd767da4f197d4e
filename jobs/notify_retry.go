package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// NotificationRetrier re-attempts notification tasks due for retry.
type NotificationRetrier interface {
	ProcessRetries(ctx context.Context) (int, error)
}

// NotifyRetryJob drains the notification retry backlog.
type NotifyRetryJob struct {
	Notifications NotificationRetrier
	Logger        *slog.Logger
	clock         func() time.Time
}

// NewNotifyRetryJob initialises the notification retry handler.
func NewNotifyRetryJob(notifications NotificationRetrier, logger *slog.Logger) *NotifyRetryJob {
	return &NotifyRetryJob{
		Notifications: notifications,
		Logger:        logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one retry pass.
func (j *NotifyRetryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Notifications == nil {
		return errors.New("notify retry: handler not configured")
	}
	var payload NotifyRetryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting notification retry sweep")

	processed, err := j.Notifications.ProcessRetries(ctx)
	if err != nil {
		logger.Error("notification retry sweep failed", slog.Any("error", err))
		return err
	}

	logger.Info("completed notification retry sweep",
		slog.Int("processed", processed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *NotifyRetryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskNotifyRetry))
	}
	return slog.Default().With(slog.String("job", TaskNotifyRetry))
}

func (j *NotifyRetryJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
