package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, t Task) error
	Get(ctx context.Context, id uuid.UUID) (Task, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	MarkFailure(ctx context.Context, id uuid.UUID, cause string, nextAttemptAt time.Time) (Task, error)
	DeadLetter(ctx context.Context, id uuid.UUID, cause string) (Task, error)
	ListDueRetries(ctx context.Context, now time.Time) ([]Task, error)
	ListDeadLetters(ctx context.Context) ([]Task, error)
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	sendTimeout  = 10 * time.Second
	retryBackoff = 30 * time.Minute
)

// Service owns notification delivery: it attempts each task once on
// enqueue, then hands failures to the retry sweep with a bounded budget.
type Service struct {
	repo    RepositoryPort
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	clock   func() time.Time
}

// NewService constructs the notification service.
func NewService(repo RepositoryPort, sender Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		sender:  sender,
		timeout: sendTimeout,
		logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Enqueue persists a task and makes the first delivery attempt inline.
func (s *Service) Enqueue(ctx context.Context, recipient string, template TemplateType, payload map[string]any) (Task, error) {
	task := Task{
		ID:        uuid.New(),
		Recipient: recipient,
		Template:  template,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: s.clock(),
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return Task{}, err
	}
	s.attempt(ctx, task)
	return s.repo.Get(ctx, task.ID)
}

// ProcessRetries drives every due retrying task through one more delivery
// attempt. Returns the number of tasks that reached SENT.
func (s *Service) ProcessRetries(ctx context.Context) (int, error) {
	due, err := s.repo.ListDueRetries(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, task := range due {
		if s.attempt(ctx, task) {
			sent++
		}
	}
	return sent, nil
}

// DeadLetters lists permanently failed tasks for manual attention.
func (s *Service) DeadLetters(ctx context.Context) ([]Task, error) {
	return s.repo.ListDeadLetters(ctx)
}

// Purge removes sent and dead-lettered tasks older than the retention window.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PurgeTerminal(ctx, s.clock().Add(-retention))
}

// attempt makes one bounded delivery attempt and records the outcome.
func (s *Service) attempt(ctx context.Context, task Task) bool {
	msg, err := Render(task)
	if err != nil {
		// A template failure never heals on retry; dead-letter right away
		// by burning the remaining budget.
		s.logger.Error("render notification", slog.String("task_id", task.ID.String()), slog.Any("error", err))
		s.deadLetter(ctx, task, err.Error())
		return false
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err = s.sender.Send(sendCtx, task.Recipient, msg)
	cancel()
	if err != nil {
		s.recordFailure(ctx, task, err.Error())
		return false
	}
	ok, err := s.repo.MarkSent(ctx, task.ID, s.clock())
	if err != nil {
		s.logger.Error("mark sent", slog.String("task_id", task.ID.String()), slog.Any("error", err))
		return false
	}
	return ok
}

func (s *Service) deadLetter(ctx context.Context, task Task, cause string) {
	updated, err := s.repo.DeadLetter(ctx, task.ID, cause)
	if err != nil {
		s.logger.Error("dead-letter", slog.String("task_id", task.ID.String()), slog.Any("error", err))
		return
	}
	s.logger.Error("notification dead-lettered",
		slog.String("task_id", task.ID.String()),
		slog.String("recipient", task.Recipient),
		slog.String("template", string(task.Template)),
		slog.String("last_error", updated.LastError),
	)
}

func (s *Service) recordFailure(ctx context.Context, task Task, cause string) {
	updated, err := s.repo.MarkFailure(ctx, task.ID, cause, s.clock().Add(retryBackoff))
	if err != nil {
		s.logger.Error("mark failure", slog.String("task_id", task.ID.String()), slog.Any("error", err))
		return
	}
	if updated.Status == StatusFailed {
		s.logger.Error("notification dead-lettered",
			slog.String("task_id", task.ID.String()),
			slog.String("recipient", task.Recipient),
			slog.String("template", string(task.Template)),
			slog.String("last_error", updated.LastError),
		)
		return
	}
	s.logger.Warn("notification attempt failed",
		slog.String("task_id", task.ID.String()),
		slog.Int("retry_count", updated.RetryCount),
		slog.String("error", cause),
	)
}
