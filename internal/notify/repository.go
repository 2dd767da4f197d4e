package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for notification tasks.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const taskColumns = `id, recipient, template, payload, status, retry_count, last_error, next_attempt_at, created_at, sent_at`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var template, status string
	var payload []byte
	err := row.Scan(&t.ID, &t.Recipient, &template, &payload, &status, &t.RetryCount,
		&t.LastError, &t.NextAttemptAt, &t.CreatedAt, &t.SentAt)
	if err != nil {
		return Task{}, err
	}
	t.Template = TemplateType(template)
	t.Status = TaskStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return Task{}, err
		}
	}
	return t, nil
}

// Create inserts a task.
func (r *Repository) Create(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO notification_tasks (`+taskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.Recipient, string(t.Template), payload, string(t.Status), t.RetryCount,
		t.LastError, t.NextAttemptAt, t.CreatedAt, t.SentAt)
	return err
}

// Get fetches a task by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+`
FROM notification_tasks WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

// MarkSent records a successful delivery. The status precondition keeps two
// overlapping retry runs from double-recording.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notification_tasks
SET status=$2, sent_at=$3, last_error=''
WHERE id=$1 AND status IN ($4, $5)`,
		id, string(StatusSent), at, string(StatusPending), string(StatusRetrying))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailure records a failed attempt, moving the task to RETRYING or, once
// the retry budget is spent, to the FAILED dead-letter state.
func (r *Repository) MarkFailure(ctx context.Context, id uuid.UUID, cause string, nextAttemptAt time.Time) (Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `UPDATE notification_tasks
SET retry_count = retry_count + 1,
    last_error = $2,
    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE $5 END,
    next_attempt_at = CASE WHEN retry_count + 1 >= $3 THEN NULL ELSE $6 END
WHERE id=$1 AND status IN ($5, $7)
RETURNING `+taskColumns, id, cause, MaxRetries, string(StatusFailed), string(StatusRetrying), nextAttemptAt, string(StatusPending)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

// DeadLetter moves a task straight to FAILED, spending the whole retry
// budget in one step. Used for failures no retry can heal.
func (r *Repository) DeadLetter(ctx context.Context, id uuid.UUID, cause string) (Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `UPDATE notification_tasks
SET status=$2, retry_count=$3, last_error=$4, next_attempt_at=NULL
WHERE id=$1 AND status IN ($5, $6)
RETURNING `+taskColumns, id, string(StatusFailed), MaxRetries, cause, string(StatusPending), string(StatusRetrying)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

// ListDueRetries returns retrying tasks whose next attempt is due.
func (r *Repository) ListDueRetries(ctx context.Context, now time.Time) ([]Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+`
FROM notification_tasks
WHERE status=$1 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
ORDER BY created_at ASC`, string(StatusRetrying), now)
}

// ListDeadLetters returns permanently failed tasks for manual attention.
func (r *Repository) ListDeadLetters(ctx context.Context) ([]Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+`
FROM notification_tasks WHERE status=$1 ORDER BY created_at DESC`, string(StatusFailed))
}

// PurgeTerminal deletes sent and failed tasks older than the cutoff.
func (r *Repository) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notification_tasks
WHERE status IN ($1, $2) AND created_at < $3`,
		string(StatusSent), string(StatusFailed), cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
