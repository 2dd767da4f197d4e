package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// GrantSyncRetrier re-drives provisioning for grants whose external sync failed.
type GrantSyncRetrier interface {
	RetrySyncFailed(ctx context.Context) (int, error)
}

// SyncRetryJob reconciles grants flagged with a failed provisioning sync.
type SyncRetryJob struct {
	Grants GrantSyncRetrier
	Logger *slog.Logger
	clock  func() time.Time
}

// NewSyncRetryJob initialises the provisioning retry handler.
func NewSyncRetryJob(grants GrantSyncRetrier, logger *slog.Logger) *SyncRetryJob {
	return &SyncRetryJob{
		Grants: grants,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one reconciliation pass.
func (j *SyncRetryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Grants == nil {
		return errors.New("sync retry: handler not configured")
	}
	var payload SyncRetryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting sync retry sweep")

	synced, err := j.Grants.RetrySyncFailed(ctx)
	if err != nil {
		logger.Error("sync retry sweep failed", slog.Any("error", err))
		return err
	}

	logger.Info("completed sync retry sweep",
		slog.Int("synced", synced),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *SyncRetryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantSyncRetry))
	}
	return slog.Default().With(slog.String("job", TaskGrantSyncRetry))
}

func (j *SyncRetryJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
