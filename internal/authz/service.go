package authz

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/accesshub/accesshub/internal/shared"
)

// AdminRepository describes the write operations used by Service.
type AdminRepository interface {
	AssignmentStore
	OverrideStore
	InsertAssignment(ctx context.Context, a RoleAssignment) error
	DeleteAssignment(ctx context.Context, id uuid.UUID) (string, error)
	UpsertOverride(ctx context.Context, o PermissionOverride) error
	DeleteOverride(ctx context.Context, id uuid.UUID) (string, error)
}

// Service orchestrates role-assignment and override administration. Every
// mutation synchronously invalidates the principal's cached decisions before
// returning, so a subsequent CheckPermission observes the change.
type Service struct {
	repo     AdminRepository
	resolver *Resolver
	guard    *Guard
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService constructs the admin service.
func NewService(repo AdminRepository, resolver *Resolver, guard *Guard, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		guard:    guard,
		logger:   logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// AssignRoleInput describes an assignment payload.
type AssignRoleInput struct {
	PrincipalID string
	Role        RoleID
	Scope       *string
	ExpiresAt   *time.Time
}

// AssignRole binds a principal to a role. The acting principal must hold the
// roles.assign permission and must outrank the role being assigned.
func (s *Service) AssignRole(ctx context.Context, input AssignRoleInput) (RoleAssignment, error) {
	input.Scope = normalizeScope(input.Scope)
	scope := ""
	if input.Scope != nil {
		scope = *input.Scope
	}
	if err := s.guard.Authorize(ctx, PermRolesAssign, scope); err != nil {
		return RoleAssignment{}, err
	}
	input.PrincipalID = strings.TrimSpace(input.PrincipalID)
	if input.PrincipalID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: principal id required", shared.ErrValidation)
	}
	target, ok := s.resolver.Catalog().Lookup(input.Role)
	if !ok {
		return RoleAssignment{}, fmt.Errorf("%w: unknown role %q", shared.ErrValidation, input.Role)
	}
	if err := s.requireManages(ctx, scope, target); err != nil {
		return RoleAssignment{}, err
	}
	now := s.clock()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return RoleAssignment{}, fmt.Errorf("%w: expiry must be in the future", shared.ErrValidation)
	}
	assignment := RoleAssignment{
		ID:          uuid.New(),
		PrincipalID: input.PrincipalID,
		Role:        input.Role,
		Scope:       input.Scope,
		ExpiresAt:   input.ExpiresAt,
		CreatedAt:   now,
	}
	if err := s.repo.InsertAssignment(ctx, assignment); err != nil {
		return RoleAssignment{}, err
	}
	s.invalidate(ctx, assignment.PrincipalID)
	return assignment, nil
}

// RemoveAssignment deletes an assignment and invalidates its principal.
func (s *Service) RemoveAssignment(ctx context.Context, id uuid.UUID) error {
	if err := s.guard.Authorize(ctx, PermRolesAssign, ""); err != nil {
		return err
	}
	principalID, err := s.repo.DeleteAssignment(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return fmt.Errorf("%w: assignment %s", shared.ErrNotFound, id)
		}
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// PutOverrideInput describes an override payload.
type PutOverrideInput struct {
	PrincipalID string
	Permission  Permission
	IsGranted   bool
	Scope       *string
	ResourceID  *string
	ExpiresAt   *time.Time
}

// PutOverride creates or replaces a per-principal override.
func (s *Service) PutOverride(ctx context.Context, input PutOverrideInput) (PermissionOverride, error) {
	input.Scope = normalizeScope(input.Scope)
	input.ResourceID = normalizeScope(input.ResourceID)
	scope := ""
	if input.Scope != nil {
		scope = *input.Scope
	}
	if err := s.guard.Authorize(ctx, PermOverridesManage, scope); err != nil {
		return PermissionOverride{}, err
	}
	input.PrincipalID = strings.TrimSpace(input.PrincipalID)
	if input.PrincipalID == "" {
		return PermissionOverride{}, fmt.Errorf("%w: principal id required", shared.ErrValidation)
	}
	if input.Permission == "" {
		return PermissionOverride{}, fmt.Errorf("%w: permission required", shared.ErrValidation)
	}
	override := PermissionOverride{
		ID:          uuid.New(),
		PrincipalID: input.PrincipalID,
		Permission:  input.Permission,
		IsGranted:   input.IsGranted,
		Scope:       input.Scope,
		ResourceID:  input.ResourceID,
		ExpiresAt:   input.ExpiresAt,
		CreatedAt:   s.clock(),
	}
	if err := s.repo.UpsertOverride(ctx, override); err != nil {
		return PermissionOverride{}, err
	}
	s.invalidate(ctx, override.PrincipalID)
	return override, nil
}

// RemoveOverride deletes an override and invalidates its principal.
func (s *Service) RemoveOverride(ctx context.Context, id uuid.UUID) error {
	if err := s.guard.Authorize(ctx, PermOverridesManage, ""); err != nil {
		return err
	}
	principalID, err := s.repo.DeleteOverride(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return fmt.Errorf("%w: override %s", shared.ErrNotFound, id)
		}
		return err
	}
	s.invalidate(ctx, principalID)
	return nil
}

// ListPrincipalAssignments returns the principal's assignments.
func (s *Service) ListPrincipalAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	if err := s.guard.Authorize(ctx, PermRolesAssign, ""); err != nil {
		return nil, err
	}
	return s.repo.ListAssignments(ctx, principalID)
}

// ListPrincipalOverrides returns the principal's overrides.
func (s *Service) ListPrincipalOverrides(ctx context.Context, principalID string) ([]PermissionOverride, error) {
	if err := s.guard.Authorize(ctx, PermOverridesManage, ""); err != nil {
		return nil, err
	}
	return s.repo.ListOverrides(ctx, principalID)
}

// requireManages enforces the hierarchy rule on role assignment: the acting
// principal's effective role must be allowed to manage the target role.
func (s *Service) requireManages(ctx context.Context, scope string, target Role) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	actorRole, err := s.resolver.EffectiveRole(ctx, actor.PrincipalID, scope)
	if err != nil {
		return fmt.Errorf("%w: actor has no role", shared.ErrForbidden)
	}
	if !s.resolver.Catalog().CanManageRole(actorRole, target) {
		return fmt.Errorf("%w: %s may not manage %s", shared.ErrForbidden, actorRole.ID, target.ID)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, principalID string) {
	if err := s.resolver.Invalidate(ctx, principalID); err != nil {
		s.logger.Error("authz invalidate", slog.String("principal_id", principalID), slog.Any("error", err))
	}
}
