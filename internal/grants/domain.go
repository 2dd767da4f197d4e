package grants

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/accesshub/accesshub/internal/approval"
	"github.com/accesshub/accesshub/internal/authz"
)

// Permission request lifecycle statuses.
type RequestStatus string

const (
	RequestStatusPending      RequestStatus = "PENDING"
	RequestStatusAutoApproved RequestStatus = "AUTO_APPROVED"
	RequestStatusApproved     RequestStatus = "APPROVED"
	RequestStatusRejected     RequestStatus = "REJECTED"
	RequestStatusCancelled    RequestStatus = "CANCELLED"
)

// IsTerminal reports whether the status permits no further transitions.
// A request never moves from a terminal status back to pending.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusAutoApproved, RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled:
		return true
	}
	return false
}

// Grant lifecycle statuses.
type GrantStatus string

const (
	GrantStatusApproved GrantStatus = "APPROVED"
	GrantStatusActive   GrantStatus = "ACTIVE"
	GrantStatusExpired  GrantStatus = "EXPIRED"
	GrantStatusRevoked  GrantStatus = "REVOKED"
)

// IsTerminal reports whether the grant status permits no further transitions.
func (s GrantStatus) IsTerminal() bool {
	return s == GrantStatusExpired || s == GrantStatusRevoked
}

// SyncStatus tracks whether the downstream provisioner reflects the grant.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusFailed  SyncStatus = "FAILED"
	SyncStatusPending SyncStatus = "PENDING"
)

const (
	// MaxExtensions caps how often a grant may be extended.
	MaxExtensions = 3
	// MaxDurationDays caps the requestable access duration.
	MaxDurationDays = 90
	// MinJustificationLength is the minimum length for justification text.
	MinJustificationLength = 10
)

// PermissionRequest is a user's submission for time-bounded access.
type PermissionRequest struct {
	ID               uuid.UUID
	PrincipalID      string
	Scope            string
	TargetResource   string
	Level            approval.AccessLevel
	Justification    string
	DurationDays     int
	Status           RequestStatus
	AutoApproved     bool
	RequiresApproval *authz.RoleID
	ProcessedAt      *time.Time
	ProcessedBy      *string
	GrantID          *uuid.UUID
	CreatedAt        time.Time
}

// PermissionGrant is an approved, time-bounded access right.
type PermissionGrant struct {
	ID             uuid.UUID
	PrincipalID    string
	Scope          string
	TargetResource string
	Level          approval.AccessLevel
	Status         GrantStatus
	SyncStatus     SyncStatus
	ApprovedAt     time.Time
	ExpiresAt      *time.Time
	ExtensionCount int
	RevokedAt      *time.Time
	RevokedBy      *string
	RevokedReason  string
	WarnedAt       *time.Time
}

// Effective reports whether the grant confers access at the given instant.
func (g PermissionGrant) Effective(now time.Time) bool {
	if g.Status != GrantStatusActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

var (
	// ErrNotFound indicates the request or grant does not exist.
	ErrNotFound = errors.New("grants: not found")
	// ErrDuplicateRequest indicates an active request already exists for
	// the same principal and resource.
	ErrDuplicateRequest = errors.New("grants: duplicate active request")
)
