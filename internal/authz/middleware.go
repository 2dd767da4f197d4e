package authz

import (
	"log/slog"
	"net/http"

	"github.com/accesshub/accesshub/internal/shared"
)

// Middleware wires authorization checks for HTTP handlers. Use-cases carry
// their own Guard calls; this layer only short-circuits obviously
// unauthorized routes.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// Require ensures the current actor holds the permission before the handler
// runs. The scope, when route-specific, is re-checked inside the use-case.
func (m Middleware) Require(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			if actor == nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if !m.Resolver.CheckPermission(r.Context(), actor.PrincipalID, perm, "", "") {
				if m.Logger != nil {
					m.Logger.Info("authz denied",
						slog.String("principal_id", actor.PrincipalID),
						slog.String("permission", string(perm)),
					)
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
