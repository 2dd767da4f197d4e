package authz

import (
	"context"
	"fmt"

	"github.com/accesshub/accesshub/internal/shared"
)

// Guard is the composable authorization check called at the top of each
// use-case, independent of any routing layer.
type Guard struct {
	resolver *Resolver
}

// NewGuard constructs a Guard.
func NewGuard(resolver *Resolver) *Guard {
	return &Guard{resolver: resolver}
}

// Authorize returns nil when the context's actor holds perm for the scope.
// Anonymous contexts and denied checks yield shared.ErrForbidden.
func (g *Guard) Authorize(ctx context.Context, perm Permission, scope string) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	if !g.resolver.CheckPermission(ctx, actor.PrincipalID, perm, scope, "") {
		return fmt.Errorf("%w: %s", shared.ErrForbidden, perm)
	}
	return nil
}

// AuthorizeResource is Authorize narrowed to a single resource.
func (g *Guard) AuthorizeResource(ctx context.Context, perm Permission, scope, resourceID string) error {
	actor := shared.ActorFromContext(ctx)
	if actor == nil {
		return fmt.Errorf("%w: no actor", shared.ErrForbidden)
	}
	if !g.resolver.CheckPermission(ctx, actor.PrincipalID, perm, scope, resourceID) {
		return fmt.Errorf("%w: %s", shared.ErrForbidden, perm)
	}
	return nil
}
