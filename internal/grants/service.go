package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/accesshub/accesshub/internal/approval"
	"github.com/accesshub/accesshub/internal/authz"
	"github.com/accesshub/accesshub/internal/provision"
	"github.com/accesshub/accesshub/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	CreateRequest(ctx context.Context, req PermissionRequest) error
	CreateRequestWithGrant(ctx context.Context, req PermissionRequest, g PermissionGrant) error
	GetRequest(ctx context.Context, id uuid.UUID) (PermissionRequest, error)
	DecideRequest(ctx context.Context, id uuid.UUID, to RequestStatus, processedBy *string, processedAt time.Time, grantID *uuid.UUID) (bool, error)
	ApproveWithGrant(ctx context.Context, id uuid.UUID, approvedBy string, at time.Time, g PermissionGrant) (bool, error)
	ListRequestsByStatus(ctx context.Context, status RequestStatus) ([]PermissionRequest, error)
	ListRequestsByPrincipal(ctx context.Context, principalID string) ([]PermissionRequest, error)

	GetGrant(ctx context.Context, id uuid.UUID) (PermissionGrant, error)
	ExtendGrant(ctx context.Context, id uuid.UUID, newExpiry time.Time, observedCount int) (bool, error)
	ExpireGrant(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	RevokeGrant(ctx context.Context, id uuid.UUID, actorID, reason string, now time.Time) (bool, error)
	MarkWarned(ctx context.Context, id uuid.UUID, now, since time.Time) (bool, error)
	SetSyncStatus(ctx context.Context, id uuid.UUID, status SyncStatus) error
	ListDueForExpiry(ctx context.Context, now time.Time) ([]PermissionGrant, error)
	ListExpiringSoon(ctx context.Context, now, windowEnd, warnedSince time.Time) ([]PermissionGrant, error)
	ListSyncFailed(ctx context.Context) ([]PermissionGrant, error)
	ListGrantsByPrincipal(ctx context.Context, principalID string) ([]PermissionGrant, error)
	HasActiveConflict(ctx context.Context, principalID, targetResource string, now time.Time) (bool, error)
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResolverPort is the slice of the authorization resolver the lifecycle
// machine consults. It reads role state only; it never mutates it.
type ResolverPort interface {
	EffectiveRole(ctx context.Context, principalID, scope string) (authz.Role, error)
	Catalog() *authz.Catalog
}

// GuardPort authorizes use-case entry.
type GuardPort interface {
	Authorize(ctx context.Context, perm authz.Permission, scope string) error
}

// Service owns every status write to PermissionRequest and PermissionGrant.
// User-driven transitions and scheduler sweeps all funnel through here, so
// the status-precondition discipline lives in one place.
type Service struct {
	repo        RepositoryPort
	resolver    ResolverPort
	guard       GuardPort
	policy      *approval.Policy
	provisioner provision.Provisioner
	bus         *EventBus
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService constructs the lifecycle service.
func NewService(repo RepositoryPort, resolver ResolverPort, guard GuardPort, policy *approval.Policy, provisioner provision.Provisioner, bus *EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		resolver:    resolver,
		guard:       guard,
		policy:      policy,
		provisioner: provisioner,
		bus:         bus,
		logger:      logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SubmitRequestInput describes a submission payload. The requesting
// principal is taken from the context actor.
type SubmitRequestInput struct {
	Scope          string
	TargetResource string
	Level          approval.AccessLevel
	Justification  string
	DurationDays   int
}

// SubmitRequest evaluates the auto-approval policy and either activates a
// grant immediately or parks the request pending manual approval.
func (s *Service) SubmitRequest(ctx context.Context, input SubmitRequestInput) (PermissionRequest, error) {
	if err := s.guard.Authorize(ctx, authz.PermRequestsSubmit, input.Scope); err != nil {
		return PermissionRequest{}, err
	}
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return PermissionRequest{}, fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	if err := validateSubmission(input); err != nil {
		return PermissionRequest{}, err
	}

	now := s.clock()
	conflict, err := s.repo.HasActiveConflict(ctx, actor.PrincipalID, input.TargetResource, now)
	if err != nil {
		return PermissionRequest{}, err
	}
	if conflict {
		return PermissionRequest{}, fmt.Errorf("%w: %s already has an active request or grant for %s",
			shared.ErrConflict, actor.PrincipalID, input.TargetResource)
	}

	requesterRole := authz.RoleID("")
	if role, err := s.resolver.EffectiveRole(ctx, actor.PrincipalID, input.Scope); err == nil {
		requesterRole = role.ID
	}
	decision := s.policy.Evaluate(requesterRole, input.Level, input.Scope)

	req := PermissionRequest{
		ID:             uuid.New(),
		PrincipalID:    actor.PrincipalID,
		Scope:          input.Scope,
		TargetResource: input.TargetResource,
		Level:          input.Level,
		Justification:  strings.TrimSpace(input.Justification),
		DurationDays:   input.DurationDays,
		Status:         RequestStatusPending,
		CreatedAt:      now,
	}

	if !decision.AutoApproved {
		req.RequiresApproval = decision.RequiresApproval
		if err := s.repo.CreateRequest(ctx, req); err != nil {
			return PermissionRequest{}, mapRepoErr(err)
		}
		s.publish(ctx, EventRequestSubmitted, req.ID, &actor.PrincipalID, now, map[string]any{
			"principal_id": req.PrincipalID,
			"level":        string(req.Level),
			"resource":     req.TargetResource,
			"decision":     decision.Reason,
		})
		return req, nil
	}

	grant := s.buildGrant(req, now)
	req.Status = RequestStatusAutoApproved
	req.AutoApproved = true
	req.ProcessedAt = &now
	req.GrantID = &grant.ID
	// Request and grant land atomically; a failed grant insert must not
	// strand an auto-approved request pointing at nothing.
	if err := s.repo.CreateRequestWithGrant(ctx, req, grant); err != nil {
		return PermissionRequest{}, mapRepoErr(err)
	}
	s.publish(ctx, EventRequestSubmitted, req.ID, &actor.PrincipalID, now, map[string]any{
		"principal_id":  req.PrincipalID,
		"level":         string(req.Level),
		"resource":      req.TargetResource,
		"auto_approved": true,
		"decision":      decision.Reason,
	})
	s.activate(ctx, grant, &actor.PrincipalID)
	return req, nil
}

// Approve moves a pending request to approved and activates its grant. The
// actor must hold the approve permission and satisfy the request's minimum
// approver role.
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID) (PermissionGrant, error) {
	if err := s.guard.Authorize(ctx, authz.PermRequestsApprove, ""); err != nil {
		return PermissionGrant{}, err
	}
	actor := shared.ActorFromContext(ctx)
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return PermissionGrant{}, mapRepoErr(err)
	}
	// Cancellation wins any race: a request that already left pending is a
	// conflict, never a silent success.
	if req.Status != RequestStatusPending {
		return PermissionGrant{}, fmt.Errorf("%w: request %s is %s", shared.ErrConflict, requestID, req.Status)
	}
	if req.PrincipalID == actor.PrincipalID {
		return PermissionGrant{}, fmt.Errorf("%w: requester may not approve their own request", shared.ErrForbidden)
	}
	if err := s.requireApproverRole(ctx, actor.PrincipalID, req); err != nil {
		return PermissionGrant{}, err
	}

	now := s.clock()
	grant := s.buildGrant(req, now)
	// Decision and grant commit together, so the request stays pending and
	// re-approvable when the grant insert fails.
	applied, err := s.repo.ApproveWithGrant(ctx, req.ID, actor.PrincipalID, now, grant)
	if err != nil {
		return PermissionGrant{}, err
	}
	if !applied {
		return PermissionGrant{}, fmt.Errorf("%w: request %s was decided concurrently", shared.ErrConflict, requestID)
	}
	s.publish(ctx, EventRequestApproved, req.ID, &actor.PrincipalID, now, map[string]any{
		"principal_id": req.PrincipalID,
		"grant_id":     grant.ID.String(),
		"level":        string(req.Level),
		"resource":     req.TargetResource,
		"expires_at":   grant.ExpiresAt,
	})
	s.activate(ctx, grant, &actor.PrincipalID)
	return grant, nil
}

// Reject moves a pending request to rejected. A reason is required.
func (s *Service) Reject(ctx context.Context, requestID uuid.UUID, reason string) error {
	if err := s.guard.Authorize(ctx, authz.PermRequestsApprove, ""); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	actor := shared.ActorFromContext(ctx)
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return mapRepoErr(err)
	}
	if req.Status != RequestStatusPending {
		return fmt.Errorf("%w: request %s is %s", shared.ErrConflict, requestID, req.Status)
	}
	if err := s.requireApproverRole(ctx, actor.PrincipalID, req); err != nil {
		return err
	}
	now := s.clock()
	applied, err := s.repo.DecideRequest(ctx, req.ID, RequestStatusRejected, &actor.PrincipalID, now, nil)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: request %s was decided concurrently", shared.ErrConflict, requestID)
	}
	s.publish(ctx, EventRequestRejected, req.ID, &actor.PrincipalID, now, map[string]any{
		"principal_id": req.PrincipalID,
		"resource":     req.TargetResource,
		"reason":       reason,
	})
	return nil
}

// Cancel withdraws a pending request. Only the requester may cancel, and
// only while the request is still pending.
func (s *Service) Cancel(ctx context.Context, requestID uuid.UUID) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return mapRepoErr(err)
	}
	if req.PrincipalID != actor.PrincipalID {
		return fmt.Errorf("%w: only the requester may cancel", shared.ErrForbidden)
	}
	if req.Status != RequestStatusPending {
		return fmt.Errorf("%w: request %s is %s", shared.ErrConflict, requestID, req.Status)
	}
	now := s.clock()
	applied, err := s.repo.DecideRequest(ctx, req.ID, RequestStatusCancelled, &actor.PrincipalID, now, nil)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: request %s was decided concurrently", shared.ErrConflict, requestID)
	}
	s.publish(ctx, EventRequestCancelled, req.ID, &actor.PrincipalID, now, nil)
	return nil
}

// Extend pushes an effective grant's expiry out by the given number of days,
// up to MaxExtensions times.
func (s *Service) Extend(ctx context.Context, grantID uuid.UUID, days int) (PermissionGrant, error) {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return PermissionGrant{}, fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	if days <= 0 || days > MaxDurationDays {
		return PermissionGrant{}, fmt.Errorf("%w: extension must be between 1 and %d days", shared.ErrValidation, MaxDurationDays)
	}
	grant, err := s.repo.GetGrant(ctx, grantID)
	if err != nil {
		return PermissionGrant{}, mapRepoErr(err)
	}
	// The grant owner may extend their own access; anyone else needs the
	// extend permission for the grant's scope.
	if grant.PrincipalID != actor.PrincipalID {
		if err := s.guard.Authorize(ctx, authz.PermGrantsExtend, grant.Scope); err != nil {
			return PermissionGrant{}, err
		}
	}
	now := s.clock()
	if !grant.Effective(now) {
		return PermissionGrant{}, fmt.Errorf("%w: grant %s is not currently effective", shared.ErrBusinessRule, grantID)
	}
	if grant.ExtensionCount >= MaxExtensions {
		return PermissionGrant{}, fmt.Errorf("%w: grant %s already extended %d times", shared.ErrBusinessRule, grantID, MaxExtensions)
	}
	if grant.ExpiresAt == nil {
		return PermissionGrant{}, fmt.Errorf("%w: grant %s has no expiry to extend", shared.ErrBusinessRule, grantID)
	}
	newExpiry := grant.ExpiresAt.AddDate(0, 0, days)
	applied, err := s.repo.ExtendGrant(ctx, grantID, newExpiry, grant.ExtensionCount)
	if err != nil {
		return PermissionGrant{}, err
	}
	if !applied {
		return PermissionGrant{}, fmt.Errorf("%w: grant %s changed concurrently", shared.ErrConflict, grantID)
	}
	grant.ExpiresAt = &newExpiry
	grant.ExtensionCount++
	s.publish(ctx, EventGrantExtended, grant.ID, &actor.PrincipalID, now, map[string]any{
		"days":            days,
		"expires_at":      newExpiry,
		"extension_count": grant.ExtensionCount,
	})
	return grant, nil
}

// Revoke terminates an active grant and undoes the downstream access.
// A reason is required.
func (s *Service) Revoke(ctx context.Context, grantID uuid.UUID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: revocation reason required", shared.ErrValidation)
	}
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	grant, err := s.repo.GetGrant(ctx, grantID)
	if err != nil {
		return mapRepoErr(err)
	}
	if err := s.guard.Authorize(ctx, authz.PermGrantsRevoke, grant.Scope); err != nil {
		return err
	}
	now := s.clock()
	applied, err := s.repo.RevokeGrant(ctx, grantID, actor.PrincipalID, reason, now)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: grant %s is %s", shared.ErrBusinessRule, grantID, grant.Status)
	}
	s.publish(ctx, EventGrantRevoked, grantID, &actor.PrincipalID, now, map[string]any{
		"principal_id": grant.PrincipalID,
		"resource":     grant.TargetResource,
		"reason":       reason,
	})
	s.deprovision(ctx, grant)
	return nil
}

// ExpireDue transitions every overdue active grant to expired. The sweep is
// idempotent: a grant already expired is skipped and emits nothing, so two
// immediately consecutive runs produce zero additional transitions.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock()
	due, err := s.repo.ListDueForExpiry(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, grant := range due {
		applied, err := s.repo.ExpireGrant(ctx, grant.ID, now)
		if err != nil {
			s.logger.Error("expire grant", slog.String("grant_id", grant.ID.String()), slog.Any("error", err))
			continue
		}
		if !applied {
			continue
		}
		expired++
		s.publish(ctx, EventGrantExpired, grant.ID, nil, now, map[string]any{
			"principal_id": grant.PrincipalID,
			"resource":     grant.TargetResource,
		})
		grant.Status = GrantStatusExpired
		s.deprovision(ctx, grant)
	}
	return expired, nil
}

// WarnExpiring emits an expiry warning for active grants expiring within the
// window that have not been warned inside the rewarn interval.
func (s *Service) WarnExpiring(ctx context.Context, window, rewarnAfter time.Duration) (int, error) {
	now := s.clock()
	candidates, err := s.repo.ListExpiringSoon(ctx, now, now.Add(window), now.Add(-rewarnAfter))
	if err != nil {
		return 0, err
	}
	warned := 0
	for _, grant := range candidates {
		applied, err := s.repo.MarkWarned(ctx, grant.ID, now, now.Add(-rewarnAfter))
		if err != nil {
			s.logger.Error("mark warned", slog.String("grant_id", grant.ID.String()), slog.Any("error", err))
			continue
		}
		if !applied {
			continue
		}
		warned++
		s.publish(ctx, EventGrantExpiring, grant.ID, nil, now, map[string]any{
			"principal_id": grant.PrincipalID,
			"resource":     grant.TargetResource,
			"expires_at":   grant.ExpiresAt,
		})
	}
	return warned, nil
}

// RetrySyncFailed re-drives the provisioner for grants whose downstream call
// has not succeeded. Active grants are re-granted; terminal ones re-revoked.
func (s *Service) RetrySyncFailed(ctx context.Context) (int, error) {
	failed, err := s.repo.ListSyncFailed(ctx)
	if err != nil {
		return 0, err
	}
	synced := 0
	for _, grant := range failed {
		access := grantAccess(grant)
		var callErr error
		if grant.Status == GrantStatusActive || grant.Status == GrantStatusApproved {
			callErr = s.provisioner.Grant(ctx, access)
		} else {
			callErr = s.provisioner.Revoke(ctx, access)
		}
		if callErr != nil {
			s.logger.Warn("provisioner sync retry failed",
				slog.String("grant_id", grant.ID.String()),
				slog.Any("error", callErr),
			)
			continue
		}
		if err := s.repo.SetSyncStatus(ctx, grant.ID, SyncStatusSynced); err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

// Cleanup purges terminal records older than the retention window.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.PurgeTerminal(ctx, s.clock().Add(-retention))
}

// GetRequest returns a request visible to the actor: requesters see their
// own, holders of the view permission see all.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (PermissionRequest, error) {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return PermissionRequest{}, fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return PermissionRequest{}, mapRepoErr(err)
	}
	if req.PrincipalID != actor.PrincipalID {
		if err := s.guard.Authorize(ctx, authz.PermRequestsView, req.Scope); err != nil {
			return PermissionRequest{}, err
		}
	}
	return req, nil
}

// ListMyRequests returns the actor's own requests.
func (s *Service) ListMyRequests(ctx context.Context) ([]PermissionRequest, error) {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return nil, fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	return s.repo.ListRequestsByPrincipal(ctx, actor.PrincipalID)
}

// ListPending returns every pending request for approvers.
func (s *Service) ListPending(ctx context.Context) ([]PermissionRequest, error) {
	if err := s.guard.Authorize(ctx, authz.PermRequestsView, ""); err != nil {
		return nil, err
	}
	return s.repo.ListRequestsByStatus(ctx, RequestStatusPending)
}

// ListMyGrants returns the actor's own grants.
func (s *Service) ListMyGrants(ctx context.Context) ([]PermissionGrant, error) {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return nil, fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	return s.repo.ListGrantsByPrincipal(ctx, actor.PrincipalID)
}

// buildGrant derives the active grant for an approved request.
func (s *Service) buildGrant(req PermissionRequest, now time.Time) PermissionGrant {
	expiresAt := now.AddDate(0, 0, req.DurationDays)
	return PermissionGrant{
		ID:             uuid.New(),
		PrincipalID:    req.PrincipalID,
		Scope:          req.Scope,
		TargetResource: req.TargetResource,
		Level:          req.Level,
		Status:         GrantStatusActive,
		SyncStatus:     SyncStatusPending,
		ApprovedAt:     now,
		ExpiresAt:      &expiresAt,
	}
}

// activate provisions downstream access for a freshly created grant. A
// provisioner failure flags the grant rather than rolling it back: the
// requester must not lose a legitimately approved grant because a
// downstream call failed.
func (s *Service) activate(ctx context.Context, grant PermissionGrant, actorID *string) {
	now := s.clock()
	s.publish(ctx, EventGrantActivated, grant.ID, actorID, now, map[string]any{
		"principal_id": grant.PrincipalID,
		"resource":     grant.TargetResource,
		"level":        string(grant.Level),
		"expires_at":   grant.ExpiresAt,
	})
	syncStatus := SyncStatusSynced
	if err := s.provisioner.Grant(ctx, grantAccess(grant)); err != nil {
		s.logger.Error("provisioner grant failed, flagging for retry",
			slog.String("grant_id", grant.ID.String()),
			slog.Any("error", err),
		)
		syncStatus = SyncStatusFailed
	}
	if err := s.repo.SetSyncStatus(ctx, grant.ID, syncStatus); err != nil {
		s.logger.Error("set sync status", slog.String("grant_id", grant.ID.String()), slog.Any("error", err))
	}
}

// deprovision undoes downstream access after a revoke or expiry.
func (s *Service) deprovision(ctx context.Context, grant PermissionGrant) {
	syncStatus := SyncStatusSynced
	if err := s.provisioner.Revoke(ctx, grantAccess(grant)); err != nil {
		s.logger.Error("provisioner revoke failed, flagging for retry",
			slog.String("grant_id", grant.ID.String()),
			slog.Any("error", err),
		)
		syncStatus = SyncStatusFailed
	}
	if err := s.repo.SetSyncStatus(ctx, grant.ID, syncStatus); err != nil {
		s.logger.Error("set sync status", slog.String("grant_id", grant.ID.String()), slog.Any("error", err))
	}
}

// requireApproverRole checks the actor's effective role against the
// request's minimum approver role.
func (s *Service) requireApproverRole(ctx context.Context, actorID string, req PermissionRequest) error {
	if req.RequiresApproval == nil {
		return nil
	}
	role, err := s.resolver.EffectiveRole(ctx, actorID, req.Scope)
	if err != nil {
		return fmt.Errorf("%w: approver has no role for scope %q", shared.ErrForbidden, req.Scope)
	}
	if !s.resolver.Catalog().AtLeast(role.ID, *req.RequiresApproval) {
		return fmt.Errorf("%w: approval requires role %s or above", shared.ErrForbidden, *req.RequiresApproval)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ EventType, entityID uuid.UUID, actorID *string, at time.Time, detail map[string]any) {
	s.bus.Publish(ctx, Event{
		Type:       typ,
		EntityID:   entityID,
		ActorID:    actorID,
		OccurredAt: at,
		Detail:     detail,
	})
}

func validateSubmission(input SubmitRequestInput) error {
	if strings.TrimSpace(input.TargetResource) == "" {
		return fmt.Errorf("%w: target resource required", shared.ErrValidation)
	}
	if !input.Level.IsValid() {
		return fmt.Errorf("%w: unknown access level %q", shared.ErrValidation, input.Level)
	}
	if len(strings.TrimSpace(input.Justification)) < MinJustificationLength {
		return fmt.Errorf("%w: justification must be at least %d characters", shared.ErrValidation, MinJustificationLength)
	}
	if input.DurationDays <= 0 || input.DurationDays > MaxDurationDays {
		return fmt.Errorf("%w: duration must be between 1 and %d days", shared.ErrValidation, MaxDurationDays)
	}
	return nil
}

func grantAccess(g PermissionGrant) provision.Access {
	return provision.Access{
		PrincipalID: g.PrincipalID,
		Scope:       g.Scope,
		Resource:    g.TargetResource,
		Level:       g.Level,
	}
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	case errors.Is(err, ErrDuplicateRequest):
		return fmt.Errorf("%w: %v", shared.ErrConflict, err)
	default:
		return err
	}
}
