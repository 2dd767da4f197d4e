package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantExpirySweep transitions overdue grants to EXPIRED.
	TaskGrantExpirySweep = "grants:expiry-sweep"
	// TaskGrantExpiryWarning notifies holders of grants expiring soon.
	TaskGrantExpiryWarning = "grants:expiry-warning"
	// TaskGrantSyncRetry re-drives provisioning for grants stuck in FAILED sync.
	TaskGrantSyncRetry = "grants:sync-retry"
	// TaskGrantCleanup purges old terminal requests and grants.
	TaskGrantCleanup = "grants:cleanup"
	// TaskNotifyRetry re-attempts notification tasks due for retry.
	TaskNotifyRetry = "notify:retry"
)

// ExpirySweepPayload configures a single expiry sweep run.
type ExpirySweepPayload struct {
	BatchSize int `json:"batch_size"`
}

// ExpiryWarningPayload configures the pre-expiry warning sweep.
type ExpiryWarningPayload struct {
	WindowHours int `json:"window_hours"`
	RewarnHours int `json:"rewarn_hours"`
}

// SyncRetryPayload configures the provisioning retry sweep.
type SyncRetryPayload struct {
	BatchSize int `json:"batch_size"`
}

// CleanupPayload configures the terminal-record purge.
type CleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NotifyRetryPayload configures the notification retry sweep.
type NotifyRetryPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewExpirySweepTask constructs an Asynq task for the expiry sweep.
func NewExpirySweepTask(payload ExpirySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantExpirySweep, data), nil
}

// NewExpiryWarningTask constructs an Asynq task for the warning sweep.
func NewExpiryWarningTask(payload ExpiryWarningPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantExpiryWarning, data), nil
}

// NewSyncRetryTask constructs an Asynq task for the provisioning retry sweep.
func NewSyncRetryTask(payload SyncRetryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantSyncRetry, data), nil
}

// NewCleanupTask constructs an Asynq task for the terminal-record purge.
func NewCleanupTask(payload CleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantCleanup, data), nil
}

// NewNotifyRetryTask constructs an Asynq task for the notification retry sweep.
func NewNotifyRetryTask(payload NotifyRetryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyRetry, data), nil
}
