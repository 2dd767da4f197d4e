package authz

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Permission represents an atomic capability.
type Permission string

// Platform permissions.
const (
	PermRequestsSubmit  Permission = "requests.submit"
	PermRequestsView    Permission = "requests.view"
	PermRequestsApprove Permission = "requests.approve"

	PermGrantsView   Permission = "grants.view"
	PermGrantsExtend Permission = "grants.extend"
	PermGrantsRevoke Permission = "grants.revoke"

	PermRolesAssign     Permission = "roles.assign"
	PermOverridesManage Permission = "overrides.manage"

	PermAuditView      Permission = "audit.view"
	PermDeadLetterView Permission = "notifications.deadletter.view"
)

// RoleID identifies a role in the static catalog.
type RoleID string

// Catalog roles, ordered by hierarchy level.
const (
	RoleRequester  RoleID = "requester"
	RoleManager    RoleID = "manager"
	RoleAdmin      RoleID = "admin"
	RoleSuperAdmin RoleID = "superadmin"
)

// Role is immutable configuration loaded at process start. A role with
// hierarchy level L manages every role with a lower level and inherits the
// permissions of every role with a strictly lower level.
type Role struct {
	ID             RoleID
	Name           string
	HierarchyLevel int
	Permissions    []Permission
}

// HasPermission reports whether the role's own permission set contains perm.
// Inherited permissions are resolved by the catalog, not here.
func (r Role) HasPermission(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// RoleAssignment binds a principal to a catalog role, optionally scoped to a
// client and optionally expiring. A principal may hold several assignments.
type RoleAssignment struct {
	ID          uuid.UUID
	PrincipalID string
	Role        RoleID
	Scope       *string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// ValidAt reports whether the assignment applies at the given instant for the
// given scope. A nil assignment scope matches any request scope.
func (a RoleAssignment) ValidAt(now time.Time, scope string) bool {
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	if a.Scope != nil && *a.Scope != scope {
		return false
	}
	return true
}

// PermissionOverride narrows or widens the role-derived decision for one
// principal. A deny override always wins over any grant for the same
// (permission, scope, resource) tuple.
type PermissionOverride struct {
	ID          uuid.UUID
	PrincipalID string
	Permission  Permission
	IsGranted   bool
	Scope       *string
	ResourceID  *string
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// Matches reports whether the override applies to the given check. Nil scope
// and resource act as wildcards.
func (o PermissionOverride) Matches(now time.Time, perm Permission, scope, resourceID string) bool {
	if o.Permission != perm {
		return false
	}
	if o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
		return false
	}
	if o.Scope != nil && *o.Scope != scope {
		return false
	}
	if o.ResourceID != nil && *o.ResourceID != resourceID {
		return false
	}
	return true
}

// normalizeScope collapses an empty scope (or resource id) pointer to nil,
// the system-wide wildcard. The override unique index folds NULL and ''
// together, so both spellings must carry the same meaning everywhere.
func normalizeScope(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

var (
	// ErrUnknownRole indicates a role id missing from the catalog.
	ErrUnknownRole = errors.New("authz: unknown role")
	// ErrNotFound indicates the assignment or override does not exist.
	ErrNotFound = errors.New("authz: not found")
)
