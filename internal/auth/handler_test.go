package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/accesshub/accesshub/internal/auth"
	"github.com/accesshub/accesshub/internal/shared"
	"github.com/accesshub/accesshub/internal/users"
)

type stubUsers struct {
	user *users.User
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (users.User, error) {
	if s.user == nil || s.user.Email != email {
		return users.User{}, shared.ErrNotFound
	}
	return *s.user, nil
}

type memorySessions struct {
	byToken map[string]auth.Session
}

func newMemorySessions() *memorySessions {
	return &memorySessions{byToken: make(map[string]auth.Session)}
}

func (m *memorySessions) Create(ctx context.Context, sess auth.Session) error {
	m.byToken[sess.Token] = sess
	return nil
}

func (m *memorySessions) Delete(ctx context.Context, token string) error {
	delete(m.byToken, token)
	return nil
}

func (m *memorySessions) Resolve(ctx context.Context, token string) (*shared.Actor, error) {
	sess, ok := m.byToken[token]
	if !ok || sess.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return &shared.Actor{PrincipalID: sess.UserID, Email: sess.Email}, nil
}

func activeUser(t *testing.T, password string) *users.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &users.User{
		ID:           "u-1",
		Email:        "manager@example.com",
		PasswordHash: string(hash),
		IsActive:     true,
	}
}

func newAuthRouter(t *testing.T, finder auth.UserFinder, sessions auth.SessionStore) (chi.Router, *auth.Handler) {
	t.Helper()
	handler := auth.NewHandler(auth.NewService(finder, sessions))
	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	return r, handler
}

func TestLoginIssuesToken(t *testing.T) {
	sessions := newMemorySessions()
	router, _ := newAuthRouter(t, &stubUsers{user: activeUser(t, "s3cret")}, sessions)

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"manager@example.com","password":"s3cret"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	require.Contains(t, sessions.byToken, body.Token)
}

func TestLoginWrongPassword(t *testing.T) {
	router, _ := newAuthRouter(t, &stubUsers{user: activeUser(t, "s3cret")}, newMemorySessions())

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"manager@example.com","password":"wrong"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	user := activeUser(t, "s3cret")
	user.IsActive = false
	router, _ := newAuthRouter(t, &stubUsers{user: user}, newMemorySessions())

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"manager@example.com","password":"s3cret"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginMalformedBody(t *testing.T) {
	router, _ := newAuthRouter(t, &stubUsers{}, newMemorySessions())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLogoutDeletesSession(t *testing.T) {
	sessions := newMemorySessions()
	sessions.byToken["tok-1"] = auth.Session{Token: "tok-1", UserID: "u-1"}
	router, _ := newAuthRouter(t, &stubUsers{}, sessions)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusNoContent, res.Code)
	require.NotContains(t, sessions.byToken, "tok-1")
}

func TestMiddlewareResolvesActor(t *testing.T) {
	sessions := newMemorySessions()
	sessions.byToken["tok-1"] = auth.Session{
		Token:     "tok-1",
		UserID:    "u-1",
		Email:     "manager@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	_, handler := newAuthRouter(t, &stubUsers{}, sessions)

	var seen *shared.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/access/requests", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	handler.Middleware(next).ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, seen)
	require.Equal(t, "u-1", seen.PrincipalID)
}

func TestMiddlewarePassesAnonymousThrough(t *testing.T) {
	_, handler := newAuthRouter(t, &stubUsers{}, newMemorySessions())

	var seen *shared.Actor
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen = shared.ActorFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/access/requests", nil)
	handler.Middleware(next).ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, called)
	require.Nil(t, seen)
}
