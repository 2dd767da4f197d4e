package grants

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/accesshub/accesshub/internal/approval"
	"github.com/accesshub/accesshub/internal/authz"
	"github.com/accesshub/accesshub/internal/provision"
	"github.com/accesshub/accesshub/internal/shared"
)

type memoryRepo struct {
	requests map[uuid.UUID]*PermissionRequest
	grants   map[uuid.UUID]*PermissionGrant
	grantErr error // injected grant-insert failure
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests: make(map[uuid.UUID]*PermissionRequest),
		grants:   make(map[uuid.UUID]*PermissionGrant),
	}
}

func (r *memoryRepo) CreateRequest(ctx context.Context, req PermissionRequest) error {
	for _, existing := range r.requests {
		if existing.PrincipalID == req.PrincipalID &&
			existing.TargetResource == req.TargetResource &&
			existing.Status == RequestStatusPending && req.Status == RequestStatusPending {
			return ErrDuplicateRequest
		}
	}
	cp := req
	r.requests[req.ID] = &cp
	return nil
}

func (r *memoryRepo) CreateRequestWithGrant(ctx context.Context, req PermissionRequest, g PermissionGrant) error {
	if err := r.CreateRequest(ctx, req); err != nil {
		return err
	}
	if err := r.createGrant(g); err != nil {
		delete(r.requests, req.ID)
		return err
	}
	return nil
}

func (r *memoryRepo) GetRequest(ctx context.Context, id uuid.UUID) (PermissionRequest, error) {
	req, ok := r.requests[id]
	if !ok {
		return PermissionRequest{}, ErrNotFound
	}
	return *req, nil
}

func (r *memoryRepo) DecideRequest(ctx context.Context, id uuid.UUID, to RequestStatus, processedBy *string, processedAt time.Time, grantID *uuid.UUID) (bool, error) {
	req, ok := r.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status != RequestStatusPending {
		return false, nil
	}
	req.Status = to
	req.ProcessedBy = processedBy
	req.ProcessedAt = &processedAt
	req.GrantID = grantID
	return true, nil
}

func (r *memoryRepo) ApproveWithGrant(ctx context.Context, id uuid.UUID, approvedBy string, at time.Time, g PermissionGrant) (bool, error) {
	req, ok := r.requests[id]
	if !ok {
		return false, ErrNotFound
	}
	if req.Status != RequestStatusPending {
		return false, nil
	}
	if err := r.createGrant(g); err != nil {
		return false, err
	}
	req.Status = RequestStatusApproved
	req.ProcessedBy = &approvedBy
	req.ProcessedAt = &at
	gid := g.ID
	req.GrantID = &gid
	return true, nil
}

func (r *memoryRepo) ListRequestsByStatus(ctx context.Context, status RequestStatus) ([]PermissionRequest, error) {
	var out []PermissionRequest
	for _, req := range r.requests {
		if req.Status == status {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListRequestsByPrincipal(ctx context.Context, principalID string) ([]PermissionRequest, error) {
	var out []PermissionRequest
	for _, req := range r.requests {
		if req.PrincipalID == principalID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *memoryRepo) createGrant(g PermissionGrant) error {
	if r.grantErr != nil {
		return r.grantErr
	}
	cp := g
	r.grants[g.ID] = &cp
	return nil
}

func (r *memoryRepo) GetGrant(ctx context.Context, id uuid.UUID) (PermissionGrant, error) {
	g, ok := r.grants[id]
	if !ok {
		return PermissionGrant{}, ErrNotFound
	}
	return *g, nil
}

func (r *memoryRepo) ExtendGrant(ctx context.Context, id uuid.UUID, newExpiry time.Time, observedCount int) (bool, error) {
	g, ok := r.grants[id]
	if !ok {
		return false, ErrNotFound
	}
	if g.Status != GrantStatusActive || g.ExtensionCount != observedCount {
		return false, nil
	}
	g.ExpiresAt = &newExpiry
	g.ExtensionCount++
	return true, nil
}

func (r *memoryRepo) ExpireGrant(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	g, ok := r.grants[id]
	if !ok {
		return false, ErrNotFound
	}
	if g.Status != GrantStatusActive || g.ExpiresAt == nil || g.ExpiresAt.After(now) {
		return false, nil
	}
	g.Status = GrantStatusExpired
	return true, nil
}

func (r *memoryRepo) RevokeGrant(ctx context.Context, id uuid.UUID, actorID, reason string, now time.Time) (bool, error) {
	g, ok := r.grants[id]
	if !ok {
		return false, ErrNotFound
	}
	if g.Status != GrantStatusActive {
		return false, nil
	}
	g.Status = GrantStatusRevoked
	g.RevokedAt = &now
	g.RevokedBy = &actorID
	g.RevokedReason = reason
	return true, nil
}

func (r *memoryRepo) MarkWarned(ctx context.Context, id uuid.UUID, now, since time.Time) (bool, error) {
	g, ok := r.grants[id]
	if !ok {
		return false, ErrNotFound
	}
	if g.WarnedAt != nil && !g.WarnedAt.Before(since) {
		return false, nil
	}
	g.WarnedAt = &now
	return true, nil
}

func (r *memoryRepo) SetSyncStatus(ctx context.Context, id uuid.UUID, status SyncStatus) error {
	g, ok := r.grants[id]
	if !ok {
		return ErrNotFound
	}
	g.SyncStatus = status
	return nil
}

func (r *memoryRepo) ListDueForExpiry(ctx context.Context, now time.Time) ([]PermissionGrant, error) {
	var out []PermissionGrant
	for _, g := range r.grants {
		if g.Status == GrantStatusActive && g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListExpiringSoon(ctx context.Context, now, windowEnd, warnedSince time.Time) ([]PermissionGrant, error) {
	var out []PermissionGrant
	for _, g := range r.grants {
		if g.Status != GrantStatusActive || g.ExpiresAt == nil {
			continue
		}
		if !g.ExpiresAt.After(now) || g.ExpiresAt.After(windowEnd) {
			continue
		}
		if g.WarnedAt != nil && !g.WarnedAt.Before(warnedSince) {
			continue
		}
		out = append(out, *g)
	}
	return out, nil
}

func (r *memoryRepo) ListSyncFailed(ctx context.Context) ([]PermissionGrant, error) {
	var out []PermissionGrant
	for _, g := range r.grants {
		if g.SyncStatus == SyncStatusFailed {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListGrantsByPrincipal(ctx context.Context, principalID string) ([]PermissionGrant, error) {
	var out []PermissionGrant
	for _, g := range r.grants {
		if g.PrincipalID == principalID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (r *memoryRepo) HasActiveConflict(ctx context.Context, principalID, targetResource string, now time.Time) (bool, error) {
	for _, req := range r.requests {
		if req.PrincipalID == principalID && req.TargetResource == targetResource && req.Status == RequestStatusPending {
			return true, nil
		}
	}
	for _, g := range r.grants {
		if g.PrincipalID == principalID && g.TargetResource == targetResource && g.Effective(now) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for id, req := range r.requests {
		if req.Status.IsTerminal() && req.CreatedAt.Before(cutoff) {
			delete(r.requests, id)
			purged++
		}
	}
	for id, g := range r.grants {
		if g.Status.IsTerminal() && g.ApprovedAt.Before(cutoff) {
			delete(r.grants, id)
			purged++
		}
	}
	return purged, nil
}

type stubResolver struct {
	roles map[string]authz.RoleID
}

func (r *stubResolver) EffectiveRole(ctx context.Context, principalID, scope string) (authz.Role, error) {
	id, ok := r.roles[principalID]
	if !ok {
		return authz.Role{}, authz.ErrUnknownRole
	}
	role, ok := authz.DefaultCatalog().Lookup(id)
	if !ok {
		return authz.Role{}, authz.ErrUnknownRole
	}
	return role, nil
}

func (r *stubResolver) Catalog() *authz.Catalog {
	return authz.DefaultCatalog()
}

type allowAllGuard struct{}

func (allowAllGuard) Authorize(ctx context.Context, perm authz.Permission, scope string) error {
	return nil
}

type flakyProvisioner struct {
	grantErrs  int
	revokeErrs int
	grantCalls int
}

func (p *flakyProvisioner) Grant(ctx context.Context, access provision.Access) error {
	p.grantCalls++
	if p.grantErrs > 0 {
		p.grantErrs--
		return errors.New("downstream unavailable")
	}
	return nil
}

func (p *flakyProvisioner) Revoke(ctx context.Context, access provision.Access) error {
	if p.revokeErrs > 0 {
		p.revokeErrs--
		return errors.New("downstream unavailable")
	}
	return nil
}

type recordingHandler struct {
	events []Event
}

func (h *recordingHandler) HandleEvent(ctx context.Context, evt Event) error {
	h.events = append(h.events, evt)
	return nil
}

func (h *recordingHandler) ofType(typ EventType) []Event {
	var out []Event
	for _, e := range h.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	repo     *memoryRepo
	resolver *stubResolver
	prov     *flakyProvisioner
	events   *recordingHandler
	service  *Service
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	resolver := &stubResolver{roles: map[string]authz.RoleID{
		"requester":  authz.RoleRequester,
		"manager":    authz.RoleManager,
		"admin":      authz.RoleAdmin,
		"superadmin": authz.RoleSuperAdmin,
	}}
	prov := &flakyProvisioner{}
	events := &recordingHandler{}
	f := &fixture{
		repo:     repo,
		resolver: resolver,
		prov:     prov,
		events:   events,
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewService(repo, resolver, allowAllGuard{}, approval.NewPolicy(authz.DefaultCatalog()),
		prov, NewEventBus(nil, events), nil)
	f.service.clock = func() time.Time { return f.now }
	return f
}

func asActor(principalID string) context.Context {
	return shared.ContextWithActor(context.Background(), &shared.Actor{
		PrincipalID: principalID,
		Email:       principalID + "@accesshub.local",
	})
}

func validInput() SubmitRequestInput {
	return SubmitRequestInput{
		Scope:          "acme",
		TargetResource: "billing-db",
		Level:          approval.LevelStandard,
		Justification:  "quarterly reconciliation run",
		DurationDays:   30,
	}
}

func TestSubmitRequestAutoApprovesForManager(t *testing.T) {
	f := newFixture(t)

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)
	require.Equal(t, RequestStatusAutoApproved, req.Status)
	require.True(t, req.AutoApproved)
	require.NotNil(t, req.GrantID)

	grant, err := f.repo.GetGrant(context.Background(), *req.GrantID)
	require.NoError(t, err)
	require.Equal(t, GrantStatusActive, grant.Status)
	require.Equal(t, SyncStatusSynced, grant.SyncStatus)
	require.NotNil(t, grant.ExpiresAt)
	require.Equal(t, f.now.AddDate(0, 0, 30), *grant.ExpiresAt)

	require.Len(t, f.events.ofType(EventRequestSubmitted), 1)
	require.Len(t, f.events.ofType(EventGrantActivated), 1)
}

func TestSubmitRequestLeavesAdminLevelPending(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelAdmin
	req, err := f.service.SubmitRequest(asActor("manager"), input)
	require.NoError(t, err)
	require.Equal(t, RequestStatusPending, req.Status)
	require.False(t, req.AutoApproved)
	require.NotNil(t, req.RequiresApproval)
	require.Equal(t, authz.RoleSuperAdmin, *req.RequiresApproval)
	require.Nil(t, req.GrantID)
	require.Empty(t, f.events.ofType(EventGrantActivated))
}

func TestSubmitRequestValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		mutate func(*SubmitRequestInput)
	}{
		{"empty resource", func(in *SubmitRequestInput) { in.TargetResource = " " }},
		{"unknown level", func(in *SubmitRequestInput) { in.Level = "root" }},
		{"short justification", func(in *SubmitRequestInput) { in.Justification = "because" }},
		{"zero duration", func(in *SubmitRequestInput) { in.DurationDays = 0 }},
		{"duration over cap", func(in *SubmitRequestInput) { in.DurationDays = 91 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			_, err := f.service.SubmitRequest(asActor("requester"), input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestSubmitRequestRejectsDuplicate(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelElevated
	_, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	_, err = f.service.SubmitRequest(asActor("requester"), input)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestSubmitRequestConflictsWithEffectiveGrant(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)

	// The auto-approved grant is still effective, so a new request for the
	// same resource is refused.
	_, err = f.service.SubmitRequest(asActor("manager"), validInput())
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestApproveActivatesGrant(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelElevated
	req, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	grant, err := f.service.Approve(asActor("admin"), req.ID)
	require.NoError(t, err)
	require.Equal(t, GrantStatusActive, grant.Status)

	stored, err := f.repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusApproved, stored.Status)
	require.NotNil(t, stored.ProcessedBy)
	require.Equal(t, "admin", *stored.ProcessedBy)
	require.Len(t, f.events.ofType(EventRequestApproved), 1)
}

func TestApproveLeavesRequestPendingWhenGrantWriteFails(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelElevated
	req, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	f.repo.grantErr = errors.New("insert failed")
	_, err = f.service.Approve(asActor("admin"), req.ID)
	require.Error(t, err)

	// The decision rolled back with the grant: no dangling grant_id, and
	// the request stays approvable.
	stored, err := f.repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusPending, stored.Status)
	require.Nil(t, stored.GrantID)

	f.repo.grantErr = nil
	grant, err := f.service.Approve(asActor("admin"), req.ID)
	require.NoError(t, err)
	_, err = f.repo.GetGrant(context.Background(), grant.ID)
	require.NoError(t, err)
}

func TestSubmitAutoApproveWritesNothingWhenGrantWriteFails(t *testing.T) {
	f := newFixture(t)

	f.repo.grantErr = errors.New("insert failed")
	_, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.Error(t, err)
	require.Empty(t, f.repo.requests)
	require.Empty(t, f.repo.grants)

	f.repo.grantErr = nil
	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)
	require.Equal(t, RequestStatusAutoApproved, req.Status)
}

func TestApproveForbidsSelfApproval(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelStandard
	req, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	_, err = f.service.Approve(asActor("requester"), req.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestApproveRequiresSufficientRole(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelAdmin
	req, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	// Admin sits below the superadmin minimum for admin-level access.
	_, err = f.service.Approve(asActor("admin"), req.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.service.Approve(asActor("superadmin"), req.ID)
	require.NoError(t, err)
}

func TestApproveAfterCancelConflicts(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelElevated
	req, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	require.NoError(t, f.service.Cancel(asActor("requester"), req.ID))

	_, err = f.service.Approve(asActor("admin"), req.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelElevated
	req, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	require.ErrorIs(t, f.service.Reject(asActor("admin"), req.ID, "  "), shared.ErrValidation)
	require.NoError(t, f.service.Reject(asActor("admin"), req.ID, "insufficient justification"))

	stored, err := f.repo.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusRejected, stored.Status)
}

func TestCancelOnlyByRequesterWhilePending(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelElevated
	req, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	require.ErrorIs(t, f.service.Cancel(asActor("manager"), req.ID), shared.ErrForbidden)
	require.NoError(t, f.service.Cancel(asActor("requester"), req.ID))
	require.ErrorIs(t, f.service.Cancel(asActor("requester"), req.ID), shared.ErrConflict)
}

func TestExtendCapsAtMaxExtensions(t *testing.T) {
	f := newFixture(t)

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)
	grantID := *req.GrantID

	for i := 0; i < MaxExtensions; i++ {
		_, err := f.service.Extend(asActor("manager"), grantID, 10)
		require.NoError(t, err)
	}

	_, err = f.service.Extend(asActor("manager"), grantID, 10)
	require.ErrorIs(t, err, shared.ErrBusinessRule)

	grant, err := f.repo.GetGrant(context.Background(), grantID)
	require.NoError(t, err)
	require.Equal(t, MaxExtensions, grant.ExtensionCount)
	require.Equal(t, f.now.AddDate(0, 0, 30+3*10), *grant.ExpiresAt)
}

func TestExtendRejectsIneffectiveGrant(t *testing.T) {
	f := newFixture(t)

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)
	grantID := *req.GrantID

	require.NoError(t, f.service.Revoke(asActor("admin"), grantID, "access review"))

	_, err = f.service.Extend(asActor("manager"), grantID, 10)
	require.ErrorIs(t, err, shared.ErrBusinessRule)
}

func TestExtendValidatesDays(t *testing.T) {
	f := newFixture(t)

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)

	_, err = f.service.Extend(asActor("manager"), *req.GrantID, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.service.Extend(asActor("manager"), *req.GrantID, MaxDurationDays+1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRevokeRequiresReasonAndActiveGrant(t *testing.T) {
	f := newFixture(t)

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)
	grantID := *req.GrantID

	require.ErrorIs(t, f.service.Revoke(asActor("admin"), grantID, ""), shared.ErrValidation)
	require.NoError(t, f.service.Revoke(asActor("admin"), grantID, "access review"))
	require.ErrorIs(t, f.service.Revoke(asActor("admin"), grantID, "again"), shared.ErrBusinessRule)

	grant, err := f.repo.GetGrant(context.Background(), grantID)
	require.NoError(t, err)
	require.Equal(t, GrantStatusRevoked, grant.Status)
	require.Equal(t, "access review", grant.RevokedReason)
	require.Len(t, f.events.ofType(EventGrantRevoked), 1)
}

func TestExpireDueIsIdempotent(t *testing.T) {
	f := newFixture(t)

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)
	grantID := *req.GrantID

	f.now = f.now.AddDate(0, 0, 31)

	expired, err := f.service.ExpireDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	// A second immediate sweep transitions nothing and emits nothing more.
	expired, err = f.service.ExpireDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, expired)
	require.Len(t, f.events.ofType(EventGrantExpired), 1)

	grant, err := f.repo.GetGrant(context.Background(), grantID)
	require.NoError(t, err)
	require.Equal(t, GrantStatusExpired, grant.Status)

	// Sweep expiries are system events.
	require.Nil(t, f.events.ofType(EventGrantExpired)[0].ActorID)
}

func TestExpireDueSkipsFutureExpiries(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)

	expired, err := f.service.ExpireDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, expired)
}

func TestWarnExpiringHonoursRewarnInterval(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.DurationDays = 5
	_, err := f.service.SubmitRequest(asActor("manager"), input)
	require.NoError(t, err)

	window := 7 * 24 * time.Hour
	rewarn := 24 * time.Hour

	warned, err := f.service.WarnExpiring(context.Background(), window, rewarn)
	require.NoError(t, err)
	require.Equal(t, 1, warned)

	// Within the rewarn interval the same grant stays quiet.
	warned, err = f.service.WarnExpiring(context.Background(), window, rewarn)
	require.NoError(t, err)
	require.Equal(t, 0, warned)

	// Once the interval elapses the warning repeats.
	f.now = f.now.Add(25 * time.Hour)
	warned, err = f.service.WarnExpiring(context.Background(), window, rewarn)
	require.NoError(t, err)
	require.Equal(t, 1, warned)
	require.Len(t, f.events.ofType(EventGrantExpiring), 2)
}

func TestProvisionFailureFlagsGrantWithoutRollback(t *testing.T) {
	f := newFixture(t)
	f.prov.grantErrs = 1

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)
	require.Equal(t, RequestStatusAutoApproved, req.Status)

	grant, err := f.repo.GetGrant(context.Background(), *req.GrantID)
	require.NoError(t, err)
	require.Equal(t, GrantStatusActive, grant.Status)
	require.Equal(t, SyncStatusFailed, grant.SyncStatus)
}

func TestRetrySyncFailedReconciles(t *testing.T) {
	f := newFixture(t)
	f.prov.grantErrs = 1

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)

	synced, err := f.service.RetrySyncFailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, synced)

	grant, err := f.repo.GetGrant(context.Background(), *req.GrantID)
	require.NoError(t, err)
	require.Equal(t, SyncStatusSynced, grant.SyncStatus)
}

func TestRetrySyncFailedKeepsFlagOnRepeatedFailure(t *testing.T) {
	f := newFixture(t)
	f.prov.grantErrs = 2

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)

	synced, err := f.service.RetrySyncFailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, synced)

	grant, err := f.repo.GetGrant(context.Background(), *req.GrantID)
	require.NoError(t, err)
	require.Equal(t, SyncStatusFailed, grant.SyncStatus)
}

func TestCleanupPurgesOldTerminalRecords(t *testing.T) {
	f := newFixture(t)

	req, err := f.service.SubmitRequest(asActor("manager"), validInput())
	require.NoError(t, err)
	require.NoError(t, f.service.Revoke(asActor("admin"), *req.GrantID, "access review"))

	// Nothing is old enough yet.
	purged, err := f.service.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Zero(t, purged)

	f.now = f.now.AddDate(0, 0, 200)
	purged, err = f.service.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(2), purged)
}

func TestGetRequestVisibility(t *testing.T) {
	f := newFixture(t)

	input := validInput()
	input.Level = approval.LevelElevated
	req, err := f.service.SubmitRequest(asActor("requester"), input)
	require.NoError(t, err)

	got, err := f.service.GetRequest(asActor("requester"), req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ID)

	_, err = f.service.GetRequest(asActor("manager"), uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}
