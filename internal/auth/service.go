// Package auth is thin session glue so HTTP actors can be identified. The
// engine packages never import it; they read the actor from context.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/accesshub/accesshub/internal/shared"
	"github.com/accesshub/accesshub/internal/users"
)

// SessionTTL is how long an issued token stays valid.
const SessionTTL = 12 * time.Hour

// Session is one issued login token.
type Session struct {
	Token     string
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// UserFinder loads accounts for credential checks.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
}

// SessionStore persists and resolves issued tokens.
type SessionStore interface {
	Create(ctx context.Context, sess Session) error
	Delete(ctx context.Context, token string) error
	Resolve(ctx context.Context, token string) (*shared.Actor, error)
}

// Service wraps authentication business rules.
type Service struct {
	users    UserFinder
	sessions SessionStore
	now      func() time.Time
}

// NewService constructs a new Service.
func NewService(userFinder UserFinder, sessions SessionStore) *Service {
	return &Service{users: userFinder, sessions: sessions, now: time.Now}
}

// Login validates credentials and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return Session{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	sess := Session{
		Token:     newToken(),
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: s.now().UTC().Add(SessionTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Logout removes the session.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Lookup resolves a token into an actor, nil when unknown or expired.
func (s *Service) Lookup(ctx context.Context, token string) (*shared.Actor, error) {
	return s.sessions.Resolve(ctx, token)
}

// PGSessionStore keeps sessions in the sessions table.
type PGSessionStore struct {
	pool *pgxpool.Pool
}

// NewPGSessionStore constructs a Postgres-backed session store.
func NewPGSessionStore(pool *pgxpool.Pool) *PGSessionStore {
	return &PGSessionStore{pool: pool}
}

// Create inserts the session row.
func (s *PGSessionStore) Create(ctx context.Context, sess Session) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		sess.Token, sess.UserID, sess.ExpiresAt)
	return err
}

// Delete removes the session row.
func (s *PGSessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token=$1`, token)
	return err
}

// Resolve returns the actor for a live token, nil when unknown or expired.
func (s *PGSessionStore) Resolve(ctx context.Context, token string) (*shared.Actor, error) {
	var userID, email string
	err := s.pool.QueryRow(ctx, `SELECT s.user_id, u.email FROM sessions s
JOIN users u ON u.id = s.user_id
WHERE s.token=$1 AND s.expires_at > NOW() AND u.is_active`, token).Scan(&userID, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &shared.Actor{PrincipalID: userID, Email: email}, nil
}

func newToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
