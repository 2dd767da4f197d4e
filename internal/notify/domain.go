package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TemplateType selects the message rendered for a task.
type TemplateType string

const (
	TemplateRequestSubmitted TemplateType = "request_submitted"
	TemplateRequestApproved  TemplateType = "request_approved"
	TemplateRequestRejected  TemplateType = "request_rejected"
	TemplateGrantExpiring    TemplateType = "grant_expiring"
	TemplateGrantExpired     TemplateType = "grant_expired"
	TemplateGrantRevoked     TemplateType = "grant_revoked"
)

// TaskStatus tracks delivery progress.
type TaskStatus string

const (
	StatusPending  TaskStatus = "PENDING"
	StatusSent     TaskStatus = "SENT"
	StatusRetrying TaskStatus = "RETRYING"
	StatusFailed   TaskStatus = "FAILED"
)

// MaxRetries bounds delivery attempts. A task only reaches FAILED after
// this many failures; it is then dead-lettered, never silently dropped.
const MaxRetries = 3

// Task is one queued notification.
type Task struct {
	ID            uuid.UUID
	Recipient     string
	Template      TemplateType
	Payload       map[string]any
	Status        TaskStatus
	RetryCount    int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	SentAt        *time.Time
}

// ErrNotFound indicates the task does not exist.
var ErrNotFound = errors.New("notify: not found")
