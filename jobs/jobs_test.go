package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeSweeps struct {
	expired     int
	warned      int
	synced      int
	purged      int64
	notifSent   int
	notifPurged int64
	rolesPurged int64
	err         error

	gotWindow time.Duration
	gotRewarn time.Duration
	gotCutoff time.Time
}

func (f *fakeSweeps) ExpireDue(ctx context.Context) (int, error) {
	return f.expired, f.err
}

func (f *fakeSweeps) WarnExpiring(ctx context.Context, window, rewarnAfter time.Duration) (int, error) {
	f.gotWindow = window
	f.gotRewarn = rewarnAfter
	return f.warned, f.err
}

func (f *fakeSweeps) RetrySyncFailed(ctx context.Context) (int, error) {
	return f.synced, f.err
}

func (f *fakeSweeps) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return f.purged, f.err
}

func (f *fakeSweeps) ProcessRetries(ctx context.Context) (int, error) {
	return f.notifSent, f.err
}

func (f *fakeSweeps) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return f.notifPurged, f.err
}

func (f *fakeSweeps) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	f.gotCutoff = cutoff
	return f.rolesPurged, f.err
}

func TestExpirySweepJobHandle(t *testing.T) {
	sweeps := &fakeSweeps{expired: 3}
	job := NewExpirySweepJob(sweeps, nil)

	task, err := NewExpirySweepTask(ExpirySweepPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestExpirySweepJobPropagatesError(t *testing.T) {
	sweeps := &fakeSweeps{err: errors.New("db down")}
	job := NewExpirySweepJob(sweeps, nil)

	task, err := NewExpirySweepTask(ExpirySweepPayload{})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestExpirySweepJobSkipsBadPayload(t *testing.T) {
	job := NewExpirySweepJob(&fakeSweeps{}, nil)

	bad := asynq.NewTask(TaskGrantExpirySweep, []byte("{not json"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

func TestExpiryWarningJobAppliesDefaults(t *testing.T) {
	sweeps := &fakeSweeps{warned: 2}
	job := NewExpiryWarningJob(sweeps, nil)

	task, err := NewExpiryWarningTask(ExpiryWarningPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 7*24*time.Hour, sweeps.gotWindow)
	require.Equal(t, 24*time.Hour, sweeps.gotRewarn)
}

func TestExpiryWarningJobUsesPayload(t *testing.T) {
	sweeps := &fakeSweeps{}
	job := NewExpiryWarningJob(sweeps, nil)

	task, err := NewExpiryWarningTask(ExpiryWarningPayload{WindowHours: 48, RewarnHours: 12})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, sweeps.gotWindow)
	require.Equal(t, 12*time.Hour, sweeps.gotRewarn)
}

func TestSyncRetryJobHandle(t *testing.T) {
	job := NewSyncRetryJob(&fakeSweeps{synced: 1}, nil)

	task, err := NewSyncRetryTask(SyncRetryPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	bad := asynq.NewTask(TaskGrantSyncRetry, []byte("nope"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

func TestCleanupJobHandle(t *testing.T) {
	sweeps := &fakeSweeps{purged: 10, notifPurged: 4, rolesPurged: 2}
	job := NewCleanupJob(sweeps, sweeps, sweeps, nil)

	task, err := NewCleanupTask(CleanupPayload{RetentionDays: 90})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestCleanupJobPurgesExpiredRoleState(t *testing.T) {
	sweeps := &fakeSweeps{rolesPurged: 3}
	job := NewCleanupJob(sweeps, sweeps, sweeps, nil)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return start }

	task, err := NewCleanupTask(CleanupPayload{RetentionDays: 90})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, start.Add(-90*24*time.Hour), sweeps.gotCutoff)
}

func TestCleanupJobWithoutOptionalPurgers(t *testing.T) {
	job := NewCleanupJob(&fakeSweeps{}, nil, nil, nil)

	task, err := NewCleanupTask(CleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestNotifyRetryJobHandle(t *testing.T) {
	job := NewNotifyRetryJob(&fakeSweeps{notifSent: 2}, nil)

	task, err := NewNotifyRetryTask(NotifyRetryPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	bad := asynq.NewTask(TaskNotifyRetry, []byte("nope"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

func TestUnconfiguredJobsError(t *testing.T) {
	task, err := NewExpirySweepTask(ExpirySweepPayload{})
	require.NoError(t, err)

	var nilJob *ExpirySweepJob
	require.Error(t, nilJob.Handle(context.Background(), task))
	require.Error(t, NewExpirySweepJob(nil, nil).Handle(context.Background(), task))
}
