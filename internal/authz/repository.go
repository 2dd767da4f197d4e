package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for role assignments
// and permission overrides.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListAssignments returns every assignment for the principal. Validity
// filtering (expiry, scope) happens in the resolver so cached decision
// staleness stays bounded by the cache TTL alone.
func (r *Repository) ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, principal_id, role_id, scope, expires_at, created_at
FROM role_assignments WHERE principal_id=$1 ORDER BY created_at ASC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		var role string
		if err := rows.Scan(&a.ID, &a.PrincipalID, &role, &a.Scope, &a.ExpiresAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = RoleID(role)
		a.Scope = normalizeScope(a.Scope)
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// ListOverrides returns every override for the principal.
func (r *Repository) ListOverrides(ctx context.Context, principalID string) ([]PermissionOverride, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, principal_id, permission, is_granted, scope, resource_id, expires_at, created_at
FROM permission_overrides WHERE principal_id=$1 ORDER BY created_at ASC`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []PermissionOverride
	for rows.Next() {
		var o PermissionOverride
		var perm string
		if err := rows.Scan(&o.ID, &o.PrincipalID, &perm, &o.IsGranted, &o.Scope, &o.ResourceID, &o.ExpiresAt, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Permission = Permission(perm)
		o.Scope = normalizeScope(o.Scope)
		o.ResourceID = normalizeScope(o.ResourceID)
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// InsertAssignment persists a role assignment.
func (r *Repository) InsertAssignment(ctx context.Context, a RoleAssignment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO role_assignments (id, principal_id, role_id, scope, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, a.ID, a.PrincipalID, string(a.Role), normalizeScope(a.Scope), a.ExpiresAt, a.CreatedAt)
	return err
}

// DeleteAssignment removes an assignment. Returns ErrNotFound when nothing
// was deleted.
func (r *Repository) DeleteAssignment(ctx context.Context, id uuid.UUID) (string, error) {
	var principalID string
	err := r.pool.QueryRow(ctx, `DELETE FROM role_assignments WHERE id=$1 RETURNING principal_id`, id).Scan(&principalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return principalID, nil
}

// UpsertOverride inserts or replaces an override for the same decision tuple.
func (r *Repository) UpsertOverride(ctx context.Context, o PermissionOverride) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO permission_overrides (id, principal_id, permission, is_granted, scope, resource_id, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (principal_id, permission, COALESCE(scope, ''), COALESCE(resource_id, ''))
DO UPDATE SET is_granted = EXCLUDED.is_granted, expires_at = EXCLUDED.expires_at`,
		o.ID, o.PrincipalID, string(o.Permission), o.IsGranted, normalizeScope(o.Scope), normalizeScope(o.ResourceID), o.ExpiresAt, o.CreatedAt)
	return err
}

// DeleteOverride removes an override. Returns ErrNotFound when nothing was
// deleted.
func (r *Repository) DeleteOverride(ctx context.Context, id uuid.UUID) (string, error) {
	var principalID string
	err := r.pool.QueryRow(ctx, `DELETE FROM permission_overrides WHERE id=$1 RETURNING principal_id`, id).Scan(&principalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return principalID, nil
}

// PurgeExpired removes assignments and overrides whose expiry passed before
// the cutoff. Used by the cleanup sweep.
func (r *Repository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	tag, err := r.pool.Exec(ctx, `DELETE FROM role_assignments WHERE expires_at IS NOT NULL AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	purged += tag.RowsAffected()
	tag, err = r.pool.Exec(ctx, `DELETE FROM permission_overrides WHERE expires_at IS NOT NULL AND expires_at < $1`, cutoff)
	if err != nil {
		return purged, err
	}
	purged += tag.RowsAffected()
	return purged, nil
}
