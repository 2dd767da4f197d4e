// Package approval decides whether a permission request can be auto-approved.
// The policy is a pure function over static configuration: identical inputs
// always yield an identical decision.
package approval

import (
	"fmt"

	"github.com/accesshub/accesshub/internal/authz"
)

// AccessLevel orders the sensitivity of requested access.
type AccessLevel string

const (
	// LevelRead grants read-only access.
	LevelRead AccessLevel = "read"
	// LevelStandard grants day-to-day write access.
	LevelStandard AccessLevel = "standard"
	// LevelElevated grants configuration-changing access.
	LevelElevated AccessLevel = "elevated"
	// LevelAdmin grants full administrative access.
	LevelAdmin AccessLevel = "admin"
)

// IsValid reports whether the level is a known value.
func (l AccessLevel) IsValid() bool {
	switch l {
	case LevelRead, LevelStandard, LevelElevated, LevelAdmin:
		return true
	}
	return false
}

// Levels returns every access level ordered by ascending sensitivity.
func Levels() []AccessLevel {
	return []AccessLevel{LevelRead, LevelStandard, LevelElevated, LevelAdmin}
}

// Decision is the outcome of evaluating a permission request.
type Decision struct {
	AutoApproved     bool
	RequiresApproval *authz.RoleID
	Reason           string
}

// rule maps one access level to its approval requirements. A nil
// AutoApproveMin means the level is never auto-approved.
type rule struct {
	AutoApproveMin *authz.RoleID
	ManualApprover authz.RoleID
}

// Policy is the static approval rule table.
type Policy struct {
	catalog *Catalog
	rules   map[AccessLevel]rule
}

// Catalog is the subset of the role catalog the policy consults.
type Catalog = authz.Catalog

// NewPolicy builds the canonical rule table: read auto-approves for every
// role, standard auto-approves at manager and above, elevated always needs
// an admin, and admin-level access always needs the top-level role no matter
// who asks.
func NewPolicy(catalog *Catalog) *Policy {
	requester := authz.RoleRequester
	manager := authz.RoleManager
	return &Policy{
		catalog: catalog,
		rules: map[AccessLevel]rule{
			LevelRead:     {AutoApproveMin: &requester, ManualApprover: authz.RoleManager},
			LevelStandard: {AutoApproveMin: &manager, ManualApprover: authz.RoleManager},
			LevelElevated: {ManualApprover: authz.RoleAdmin},
			LevelAdmin:    {ManualApprover: authz.RoleSuperAdmin},
		},
	}
}

// Evaluate decides whether a request by requesterRole for level within scope
// is auto-approved, and if not, which role must approve it manually. Unknown
// levels and roles resolve to manual approval by the top-level role.
func (p *Policy) Evaluate(requesterRole authz.RoleID, level AccessLevel, scope string) Decision {
	r, ok := p.rules[level]
	if !ok {
		top := p.catalog.TopLevel().ID
		return Decision{
			RequiresApproval: &top,
			Reason:           fmt.Sprintf("unknown access level %q requires %s approval", level, top),
		}
	}
	if _, known := p.catalog.Lookup(requesterRole); !known {
		top := p.catalog.TopLevel().ID
		return Decision{
			RequiresApproval: &top,
			Reason:           fmt.Sprintf("unknown role %q requires %s approval", requesterRole, top),
		}
	}
	if r.AutoApproveMin != nil && p.catalog.AtLeast(requesterRole, *r.AutoApproveMin) {
		return Decision{
			AutoApproved: true,
			Reason:       fmt.Sprintf("%s access auto-approved for role %s", level, requesterRole),
		}
	}
	approver := r.ManualApprover
	return Decision{
		RequiresApproval: &approver,
		Reason:           fmt.Sprintf("%s access requires %s approval", level, approver),
	}
}
