package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// GrantExpirer transitions overdue grants to their terminal state.
type GrantExpirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// ExpirySweepJob deactivates grants whose expiry timestamp has passed.
type ExpirySweepJob struct {
	Grants GrantExpirer
	Logger *slog.Logger
	clock  func() time.Time
}

// NewExpirySweepJob initialises the expiry sweep handler.
func NewExpirySweepJob(grants GrantExpirer, logger *slog.Logger) *ExpirySweepJob {
	return &ExpirySweepJob{
		Grants: grants,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep over all overdue grants.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Grants == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	var payload ExpirySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting expiry sweep")

	expired, err := j.Grants.ExpireDue(ctx)
	if err != nil {
		logger.Error("expiry sweep failed", slog.Any("error", err))
		return err
	}

	logger.Info("completed expiry sweep",
		slog.Int("expired", expired),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ExpirySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantExpirySweep))
	}
	return slog.Default().With(slog.String("job", TaskGrantExpirySweep))
}

func (j *ExpirySweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
