package grants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accesshub/accesshub/internal/approval"
	"github.com/accesshub/accesshub/internal/authz"
	"github.com/accesshub/accesshub/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for requests and grants.
// Every status mutation is guarded by a precondition on the current status,
// so concurrent sweeps and user-driven transitions cannot double-apply.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx, so the insert and
// decide statements can run standalone or inside a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const requestColumns = `id, principal_id, scope, target_resource, level, justification, duration_days,
status, auto_approved, requires_approval, processed_at, processed_by, grant_id, created_at`

const grantColumns = `id, principal_id, scope, target_resource, level, status, sync_status,
approved_at, expires_at, extension_count, revoked_at, revoked_by, revoked_reason, warned_at`

func scanRequest(row pgx.Row) (PermissionRequest, error) {
	var req PermissionRequest
	var level, status string
	var requires *string
	err := row.Scan(&req.ID, &req.PrincipalID, &req.Scope, &req.TargetResource, &level,
		&req.Justification, &req.DurationDays, &status, &req.AutoApproved, &requires,
		&req.ProcessedAt, &req.ProcessedBy, &req.GrantID, &req.CreatedAt)
	if err != nil {
		return PermissionRequest{}, err
	}
	req.Level = approval.AccessLevel(level)
	req.Status = RequestStatus(status)
	if requires != nil {
		role := authz.RoleID(*requires)
		req.RequiresApproval = &role
	}
	return req, nil
}

func scanGrant(row pgx.Row) (PermissionGrant, error) {
	var g PermissionGrant
	var level, status, sync string
	err := row.Scan(&g.ID, &g.PrincipalID, &g.Scope, &g.TargetResource, &level, &status, &sync,
		&g.ApprovedAt, &g.ExpiresAt, &g.ExtensionCount, &g.RevokedAt, &g.RevokedBy,
		&g.RevokedReason, &g.WarnedAt)
	if err != nil {
		return PermissionGrant{}, err
	}
	g.Level = approval.AccessLevel(level)
	g.Status = GrantStatus(status)
	g.SyncStatus = SyncStatus(sync)
	return g, nil
}

// CreateRequest inserts a pending or auto-approved request. A unique
// violation on the pending-per-resource index maps to ErrDuplicateRequest.
func (r *Repository) CreateRequest(ctx context.Context, req PermissionRequest) error {
	return insertRequest(ctx, r.pool, req)
}

// CreateRequestWithGrant inserts an auto-approved request together with its
// grant in one transaction, so a failed grant insert leaves no terminal
// request behind.
func (r *Repository) CreateRequestWithGrant(ctx context.Context, req PermissionRequest, g PermissionGrant) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertRequest(ctx, tx, req); err != nil {
			return err
		}
		return insertGrant(ctx, tx, g)
	})
}

func insertRequest(ctx context.Context, q execer, req PermissionRequest) error {
	var requires *string
	if req.RequiresApproval != nil {
		s := string(*req.RequiresApproval)
		requires = &s
	}
	_, err := q.Exec(ctx, `INSERT INTO permission_requests (`+requestColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		req.ID, req.PrincipalID, req.Scope, req.TargetResource, string(req.Level),
		req.Justification, req.DurationDays, string(req.Status), req.AutoApproved, requires,
		req.ProcessedAt, req.ProcessedBy, req.GrantID, req.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_pending_request_per_resource" {
			return ErrDuplicateRequest
		}
		return err
	}
	return nil
}

// GetRequest fetches a request by id.
func (r *Repository) GetRequest(ctx context.Context, id uuid.UUID) (PermissionRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+`
FROM permission_requests WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionRequest{}, ErrNotFound
		}
		return PermissionRequest{}, err
	}
	return req, nil
}

// DecideRequest moves a pending request into a terminal status. Returns
// false when the request was no longer pending.
func (r *Repository) DecideRequest(ctx context.Context, id uuid.UUID, to RequestStatus, processedBy *string, processedAt time.Time, grantID *uuid.UUID) (bool, error) {
	return decideRequest(ctx, r.pool, id, to, processedBy, processedAt, grantID)
}

// ApproveWithGrant moves a pending request to approved and inserts its grant
// in one transaction; a failed grant insert rolls the decision back. Returns
// false when the request was no longer pending.
func (r *Repository) ApproveWithGrant(ctx context.Context, id uuid.UUID, approvedBy string, at time.Time, g PermissionGrant) (bool, error) {
	var applied bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		ok, err := decideRequest(ctx, tx, id, RequestStatusApproved, &approvedBy, at, &g.ID)
		if err != nil {
			return err
		}
		applied = ok
		if !ok {
			return nil
		}
		return insertGrant(ctx, tx, g)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func decideRequest(ctx context.Context, q execer, id uuid.UUID, to RequestStatus, processedBy *string, processedAt time.Time, grantID *uuid.UUID) (bool, error) {
	tag, err := q.Exec(ctx, `UPDATE permission_requests
SET status=$2, processed_by=$3, processed_at=$4, grant_id=$5
WHERE id=$1 AND status=$6`,
		id, string(to), processedBy, processedAt, grantID, string(RequestStatusPending))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListRequestsByStatus returns requests in the given status, oldest first.
func (r *Repository) ListRequestsByStatus(ctx context.Context, status RequestStatus) ([]PermissionRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+`
FROM permission_requests WHERE status=$1 ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ListRequestsByPrincipal returns a principal's requests, newest first.
func (r *Repository) ListRequestsByPrincipal(ctx context.Context, principalID string) ([]PermissionRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+`
FROM permission_requests WHERE principal_id=$1 ORDER BY created_at DESC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func insertGrant(ctx context.Context, q execer, g PermissionGrant) error {
	_, err := q.Exec(ctx, `INSERT INTO permission_grants (`+grantColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		g.ID, g.PrincipalID, g.Scope, g.TargetResource, string(g.Level), string(g.Status),
		string(g.SyncStatus), g.ApprovedAt, g.ExpiresAt, g.ExtensionCount,
		g.RevokedAt, g.RevokedBy, g.RevokedReason, g.WarnedAt)
	return err
}

// GetGrant fetches a grant by id.
func (r *Repository) GetGrant(ctx context.Context, id uuid.UUID) (PermissionGrant, error) {
	g, err := scanGrant(r.pool.QueryRow(ctx, `SELECT `+grantColumns+`
FROM permission_grants WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionGrant{}, ErrNotFound
		}
		return PermissionGrant{}, err
	}
	return g, nil
}

// ExtendGrant pushes the expiry out and bumps the extension count. The
// precondition pins both the active status and the observed extension count,
// so two concurrent extensions cannot both apply.
func (r *Repository) ExtendGrant(ctx context.Context, id uuid.UUID, newExpiry time.Time, observedCount int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE permission_grants
SET expires_at=$2, extension_count=extension_count+1
WHERE id=$1 AND status=$3 AND extension_count=$4`,
		id, newExpiry, string(GrantStatusActive), observedCount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireGrant transitions an active, overdue grant to expired. Returns false
// when the grant was not active or not yet due, which makes the sweep
// idempotent.
func (r *Repository) ExpireGrant(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE permission_grants
SET status=$2
WHERE id=$1 AND status=$3 AND expires_at IS NOT NULL AND expires_at <= $4`,
		id, string(GrantStatusExpired), string(GrantStatusActive), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeGrant transitions an active grant to revoked.
func (r *Repository) RevokeGrant(ctx context.Context, id uuid.UUID, actorID string, reason string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE permission_grants
SET status=$2, revoked_at=$3, revoked_by=$4, revoked_reason=$5
WHERE id=$1 AND status=$6`,
		id, string(GrantStatusRevoked), now, actorID, reason, string(GrantStatusActive))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkWarned records an expiry warning. Returns false when the grant is no
// longer active or was already warned after the since cutoff, which keeps
// the warning sweep from double-sending.
func (r *Repository) MarkWarned(ctx context.Context, id uuid.UUID, now, since time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE permission_grants
SET warned_at=$2
WHERE id=$1 AND status=$3 AND (warned_at IS NULL OR warned_at < $4)`,
		id, now, string(GrantStatusActive), since)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetSyncStatus records the provisioner sync outcome.
func (r *Repository) SetSyncStatus(ctx context.Context, id uuid.UUID, status SyncStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE permission_grants SET sync_status=$2 WHERE id=$1`, id, string(status))
	return err
}

// ListDueForExpiry returns active grants whose expiry passed.
func (r *Repository) ListDueForExpiry(ctx context.Context, now time.Time) ([]PermissionGrant, error) {
	return r.listGrants(ctx, `SELECT `+grantColumns+`
FROM permission_grants WHERE status=$1 AND expires_at IS NOT NULL AND expires_at <= $2
ORDER BY expires_at ASC`, string(GrantStatusActive), now)
}

// ListExpiringSoon returns active grants expiring inside the window that
// have not been warned since the cutoff.
func (r *Repository) ListExpiringSoon(ctx context.Context, now, windowEnd, warnedSince time.Time) ([]PermissionGrant, error) {
	return r.listGrants(ctx, `SELECT `+grantColumns+`
FROM permission_grants
WHERE status=$1 AND expires_at IS NOT NULL AND expires_at > $2 AND expires_at <= $3
  AND (warned_at IS NULL OR warned_at < $4)
ORDER BY expires_at ASC`, string(GrantStatusActive), now, windowEnd, warnedSince)
}

// ListSyncFailed returns grants whose provisioner call has not succeeded.
func (r *Repository) ListSyncFailed(ctx context.Context) ([]PermissionGrant, error) {
	return r.listGrants(ctx, `SELECT `+grantColumns+`
FROM permission_grants WHERE sync_status=$1 ORDER BY approved_at ASC`, string(SyncStatusFailed))
}

// ListGrantsByPrincipal returns a principal's grants, newest first.
func (r *Repository) ListGrantsByPrincipal(ctx context.Context, principalID string) ([]PermissionGrant, error) {
	return r.listGrants(ctx, `SELECT `+grantColumns+`
FROM permission_grants WHERE principal_id=$1 ORDER BY approved_at DESC`, principalID)
}

// HasActiveConflict reports whether the principal already has a pending
// request or an effective grant for the resource.
func (r *Repository) HasActiveConflict(ctx context.Context, principalID, targetResource string, now time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM permission_requests WHERE principal_id=$1 AND target_resource=$2 AND status=$3
UNION ALL
SELECT 1 FROM permission_grants WHERE principal_id=$1 AND target_resource=$2 AND status=$4
  AND (expires_at IS NULL OR expires_at > $5)
)`, principalID, targetResource, string(RequestStatusPending), string(GrantStatusActive), now).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// PurgeTerminal deletes terminal requests and grants older than the cutoff.
// Both deletes run in one transaction so a partial purge never survives.
func (r *Repository) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM permission_requests
WHERE status <> $1 AND processed_at IS NOT NULL AND processed_at < $2`,
			string(RequestStatusPending), cutoff)
		if err != nil {
			return err
		}
		purged += tag.RowsAffected()
		tag, err = tx.Exec(ctx, `DELETE FROM permission_grants
WHERE status IN ($1, $2) AND COALESCE(revoked_at, expires_at) < $3`,
			string(GrantStatusExpired), string(GrantStatusRevoked), cutoff)
		if err != nil {
			return err
		}
		purged += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func (r *Repository) listGrants(ctx context.Context, query string, args ...any) ([]PermissionGrant, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
