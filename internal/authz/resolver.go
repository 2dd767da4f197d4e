package authz

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// AssignmentStore lists role assignments for a principal.
type AssignmentStore interface {
	ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error)
}

// OverrideStore lists permission overrides for a principal.
type OverrideStore interface {
	ListOverrides(ctx context.Context, principalID string) ([]PermissionOverride, error)
}

// Resolver answers permission checks. It combines catalog lookups,
// per-principal role assignments and per-principal overrides, caches
// decisions with bounded staleness, and fails closed on every internal error.
type Resolver struct {
	catalog     *Catalog
	assignments AssignmentStore
	overrides   OverrideStore
	cache       *DecisionCache
	logger      *slog.Logger
	group       singleflight.Group
	clock       func() time.Time
}

// NewResolver constructs a Resolver. The cache may be nil, which disables
// decision caching entirely.
func NewResolver(catalog *Catalog, assignments AssignmentStore, overrides OverrideStore, cache *DecisionCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		catalog:     catalog,
		assignments: assignments,
		overrides:   overrides,
		cache:       cache,
		logger:      logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CheckPermission reports whether the principal may perform perm within the
// given scope on the given resource. It never returns an error for "no
// permission"; every internal failure resolves to deny.
func (r *Resolver) CheckPermission(ctx context.Context, principalID string, perm Permission, scope, resourceID string) bool {
	if principalID == "" || perm == "" {
		return false
	}

	key, err := r.cache.Key(ctx, principalID, perm, scope, resourceID)
	if err == nil {
		allowed, hit, cerr := r.cache.Get(ctx, key)
		if cerr != nil {
			r.logger.Warn("authz cache read", slog.Any("error", cerr))
		} else if hit {
			return allowed
		}
	} else {
		r.logger.Warn("authz cache key", slog.Any("error", err))
		key = strings.Join([]string{principalID, string(perm), scope, resourceID}, ":")
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		allowed, err := r.resolve(ctx, principalID, perm, scope, resourceID)
		if err != nil {
			return false, err
		}
		if err := r.cache.Put(ctx, key, allowed); err != nil {
			r.logger.Warn("authz cache write", slog.Any("error", err))
		}
		return allowed, nil
	})
	if err != nil {
		r.logger.Error("authz resolve failed, denying",
			slog.String("principal_id", principalID),
			slog.String("permission", string(perm)),
			slog.Any("error", err),
		)
		return false
	}
	return result.(bool)
}

func (r *Resolver) resolve(ctx context.Context, principalID string, perm Permission, scope, resourceID string) (bool, error) {
	now := r.clock()

	overrides, err := r.overrides.ListOverrides(ctx, principalID)
	if err != nil {
		return false, err
	}
	// Deny overrides win over everything, so they are checked before any
	// role-derived grant.
	for _, o := range overrides {
		if !o.IsGranted && o.Matches(now, perm, scope, resourceID) {
			return false, nil
		}
	}
	for _, o := range overrides {
		if o.IsGranted && o.Matches(now, perm, scope, resourceID) {
			return true, nil
		}
	}

	roles, err := r.validRoles(ctx, principalID, scope, now)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if r.catalog.GrantsPermission(role, perm) {
			return true, nil
		}
	}
	return false, nil
}

// validRoles resolves the principal's assignments into catalog roles valid
// for the given scope and instant, ordered by hierarchy level descending.
func (r *Resolver) validRoles(ctx context.Context, principalID, scope string, now time.Time) ([]Role, error) {
	assignments, err := r.assignments.ListAssignments(ctx, principalID)
	if err != nil {
		return nil, err
	}
	seen := make(map[RoleID]struct{}, len(assignments))
	for _, a := range assignments {
		if !a.ValidAt(now, scope) {
			continue
		}
		seen[a.Role] = struct{}{}
	}
	var roles []Role
	for _, role := range r.catalog.Roles() {
		if _, ok := seen[role.ID]; ok {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// EffectiveRole returns the principal's highest valid role for the scope.
func (r *Resolver) EffectiveRole(ctx context.Context, principalID, scope string) (Role, error) {
	roles, err := r.validRoles(ctx, principalID, scope, r.clock())
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, ErrUnknownRole
	}
	return roles[0], nil
}

// CanManageRole reports whether a principal holding actorRole may manage
// targetRole.
func (r *Resolver) CanManageRole(actorRole, targetRole RoleID) bool {
	actor, ok := r.catalog.Lookup(actorRole)
	if !ok {
		return false
	}
	target, ok := r.catalog.Lookup(targetRole)
	if !ok {
		return false
	}
	return r.catalog.CanManageRole(actor, target)
}

// Catalog exposes the immutable role catalog.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Invalidate drops cached decisions for the principal. Callers that mutate
// assignments or overrides must invoke this before returning.
func (r *Resolver) Invalidate(ctx context.Context, principalID string) error {
	return r.cache.Invalidate(ctx, principalID)
}
