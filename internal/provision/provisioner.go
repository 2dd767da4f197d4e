// Package provision talks to the downstream system that performs the
// real-world access change. Calls here are the only lifecycle operations
// allowed to block on external I/O, and they are always wrapped with a
// timeout and a bounded retry budget.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/accesshub/accesshub/internal/approval"
	"github.com/accesshub/accesshub/internal/shared"
)

// Access identifies one provisioned access right downstream.
type Access struct {
	PrincipalID string
	Scope       string
	Resource    string
	Level       approval.AccessLevel
}

// Provisioner performs and undoes the real-world access grant. Both calls
// are idempotent from the caller's perspective.
type Provisioner interface {
	Grant(ctx context.Context, access Access) error
	Revoke(ctx context.Context, access Access) error
}

const (
	defaultAttempts = 3
	defaultTimeout  = 10 * time.Second
	baseBackoff     = 500 * time.Millisecond
)

// Retrier wraps a Provisioner with a per-call timeout and a fixed retry
// budget with exponential backoff. Exhaustion surfaces as
// shared.ErrExternalService; the caller flags sync_status=FAILED and never
// reverts the grant's authorization status.
type Retrier struct {
	inner    Provisioner
	attempts int
	timeout  time.Duration
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetrier constructs a Retrier with the default budget of 3 attempts.
func NewRetrier(inner Provisioner, timeout time.Duration, logger *slog.Logger) *Retrier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		inner:    inner,
		attempts: defaultAttempts,
		timeout:  timeout,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Grant drives the downstream grant call through the retry budget.
func (r *Retrier) Grant(ctx context.Context, access Access) error {
	return r.do(ctx, "grant", access, r.inner.Grant)
}

// Revoke drives the downstream revoke call through the retry budget.
func (r *Retrier) Revoke(ctx context.Context, access Access) error {
	return r.do(ctx, "revoke", access, r.inner.Revoke)
}

func (r *Retrier) do(ctx context.Context, op string, access Access, call func(context.Context, Access) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := call(attemptCtx, access)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		r.logger.Warn("provisioner call failed",
			slog.String("op", op),
			slog.String("resource", access.Resource),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if attempt == r.attempts {
			break
		}
		backoff := baseBackoff << (attempt - 1)
		if err := r.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("%w: provisioner %s interrupted: %v", shared.ErrExternalService, op, err)
		}
	}
	return fmt.Errorf("%w: provisioner %s after %d attempts: %v", shared.ErrExternalService, op, r.attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrNotConfigured indicates no downstream endpoint was configured.
var ErrNotConfigured = errors.New("provision: not configured")

// Noop satisfies Provisioner without touching any downstream system. Used
// when no endpoint is configured; every grant then stays SYNCED trivially.
type Noop struct{}

// Grant is a no-op.
func (Noop) Grant(ctx context.Context, access Access) error { return nil }

// Revoke is a no-op.
func (Noop) Revoke(ctx context.Context, access Access) error { return nil }
