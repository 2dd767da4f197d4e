package authz

import "sort"

// Catalog holds the immutable role configuration. Built once at process
// start; lookups after construction are read-only and safe for concurrent use.
type Catalog struct {
	roles   map[RoleID]Role
	byLevel []Role
}

// NewCatalog builds a catalog from the given roles, indexed by id and sorted
// by hierarchy level descending for inheritance walks.
func NewCatalog(roles []Role) *Catalog {
	c := &Catalog{roles: make(map[RoleID]Role, len(roles))}
	for _, r := range roles {
		c.roles[r.ID] = r
	}
	c.byLevel = make([]Role, len(roles))
	copy(c.byLevel, roles)
	sort.Slice(c.byLevel, func(i, j int) bool {
		return c.byLevel[i].HierarchyLevel > c.byLevel[j].HierarchyLevel
	})
	return c
}

// DefaultCatalog returns the canonical role hierarchy.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Role{
		{
			ID:             RoleRequester,
			Name:           "Requester",
			HierarchyLevel: 10,
			Permissions: []Permission{
				PermRequestsSubmit,
			},
		},
		{
			ID:             RoleManager,
			Name:           "Manager",
			HierarchyLevel: 20,
			Permissions: []Permission{
				PermRequestsView,
				PermRequestsApprove,
				PermGrantsView,
				PermGrantsExtend,
			},
		},
		{
			ID:             RoleAdmin,
			Name:           "Admin",
			HierarchyLevel: 30,
			Permissions: []Permission{
				PermGrantsRevoke,
				PermRolesAssign,
				PermOverridesManage,
				PermDeadLetterView,
			},
		},
		{
			ID:             RoleSuperAdmin,
			Name:           "Super Admin",
			HierarchyLevel: 40,
			Permissions: []Permission{
				PermAuditView,
			},
		},
	})
}

// Lookup returns the role for the given id.
func (c *Catalog) Lookup(id RoleID) (Role, bool) {
	r, ok := c.roles[id]
	return r, ok
}

// Roles returns every role ordered by hierarchy level descending.
func (c *Catalog) Roles() []Role {
	out := make([]Role, len(c.byLevel))
	copy(out, c.byLevel)
	return out
}

// TopLevel returns the role with the highest hierarchy level.
func (c *Catalog) TopLevel() Role {
	return c.byLevel[0]
}

// Inherited returns every role with a strictly lower hierarchy level than
// the given role, ordered by level descending.
func (c *Catalog) Inherited(role Role) []Role {
	var out []Role
	for _, r := range c.byLevel {
		if r.HierarchyLevel < role.HierarchyLevel {
			out = append(out, r)
		}
	}
	return out
}

// GrantsPermission reports whether the role grants perm either directly or
// through inheritance from a lower level.
func (c *Catalog) GrantsPermission(role Role, perm Permission) bool {
	if role.HasPermission(perm) {
		return true
	}
	for _, inherited := range c.Inherited(role) {
		if inherited.HasPermission(perm) {
			return true
		}
	}
	return false
}

// CanManageRole reports whether actor may manage target. True when the
// actor's hierarchy level strictly exceeds the target's, with the carve-out
// that only the top-level role may manage the top-level role.
func (c *Catalog) CanManageRole(actor, target Role) bool {
	top := c.TopLevel()
	if target.ID == top.ID {
		return actor.ID == top.ID
	}
	return actor.HierarchyLevel > target.HierarchyLevel
}

// AtLeast reports whether the role with the given id sits at or above the
// minimum role's hierarchy level.
func (c *Catalog) AtLeast(id, minimum RoleID) bool {
	role, ok := c.roles[id]
	if !ok {
		return false
	}
	min, ok := c.roles[minimum]
	if !ok {
		return false
	}
	return role.HierarchyLevel >= min.HierarchyLevel
}
