package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// GrantWarner notifies holders whose grants expire inside a window.
type GrantWarner interface {
	WarnExpiring(ctx context.Context, window, rewarnAfter time.Duration) (int, error)
}

// ExpiryWarningJob warns grant holders ahead of expiry.
type ExpiryWarningJob struct {
	Grants GrantWarner
	Logger *slog.Logger
	clock  func() time.Time
}

// NewExpiryWarningJob initialises the warning sweep handler.
func NewExpiryWarningJob(grants GrantWarner, logger *slog.Logger) *ExpiryWarningJob {
	return &ExpiryWarningJob{
		Grants: grants,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one warning sweep.
func (j *ExpiryWarningJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Grants == nil {
		return errors.New("expiry warning: handler not configured")
	}
	var payload ExpiryWarningPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 7 * 24
	}
	if payload.RewarnHours <= 0 {
		payload.RewarnHours = 24
	}

	start := j.now()
	window := time.Duration(payload.WindowHours) * time.Hour
	rewarn := time.Duration(payload.RewarnHours) * time.Hour
	logger := j.logger().With(slog.Duration("window", window))
	logger.Info("starting expiry warning sweep")

	warned, err := j.Grants.WarnExpiring(ctx, window, rewarn)
	if err != nil {
		logger.Error("expiry warning sweep failed", slog.Any("error", err))
		return err
	}

	logger.Info("completed expiry warning sweep",
		slog.Int("warned", warned),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ExpiryWarningJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantExpiryWarning))
	}
	return slog.Default().With(slog.String("job", TaskGrantExpiryWarning))
}

func (j *ExpiryWarningJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
