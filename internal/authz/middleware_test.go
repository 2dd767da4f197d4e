package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/accesshub/accesshub/internal/shared"
)

func TestRequireRejectsAnonymous(t *testing.T) {
	mw := Middleware{Resolver: newTestResolver(t, newMemoryStores())}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	res := httptest.NewRecorder()
	mw.Require(PermAuditView)(next).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/audit", nil))

	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestRequireRejectsUnderPrivileged(t *testing.T) {
	stores := newMemoryStores()
	stores.assignments["carol"] = []RoleAssignment{{PrincipalID: "carol", Role: RoleManager}}
	mw := Middleware{Resolver: newTestResolver(t, stores)}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), &shared.Actor{PrincipalID: "carol"}))
	res := httptest.NewRecorder()
	mw.Require(PermAuditView)(next).ServeHTTP(res, req)

	require.Equal(t, http.StatusForbidden, res.Code)
}

func TestRequireAllowsPermitted(t *testing.T) {
	stores := newMemoryStores()
	stores.assignments["root"] = []RoleAssignment{{PrincipalID: "root", Role: RoleSuperAdmin}}
	mw := Middleware{Resolver: newTestResolver(t, stores)}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), &shared.Actor{PrincipalID: "root"}))
	res := httptest.NewRecorder()
	mw.Require(PermAuditView)(next).ServeHTTP(res, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, res.Code)
}
