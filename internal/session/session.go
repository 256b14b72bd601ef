// Package session keeps login sessions in a Store and hands out signed
// tokens that point at them. A token is only valid while its session record
// exists, so logging out or expiry revokes it.
package session

import (
	"context"
	"errors"
	"time"

	"animehub-be/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the cookie the session token is carried in.
const CookieName = "animehub.sid"

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID        string    `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Store interface {
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	// Load returns ErrNotFound for missing or expired sessions.
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(store Store, secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Start opens a session for userID and returns its signed token.
func (m *Manager) Start(ctx context.Context, userID uuid.UUID) (string, *Session, error) {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, s, m.ttl); err != nil {
		return "", nil, apperr.Internal("failed to start session", err)
	}

	claims := Claims{
		SessionID: s.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, apperr.Internal("failed to sign session token", err)
	}
	return token, s, nil
}

func (m *Manager) parse(token string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil || !t.Valid || claims.SessionID == "" {
		return nil, apperr.Unauthenticated("invalid session")
	}
	return claims, nil
}

// Resolve checks the token signature and that its session is still live.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperr.Unauthenticated("not logged in")
	}
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	s, err := m.store.Load(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthenticated("session expired")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load session", err)
	}
	if s.UserID.String() != claims.Subject {
		return nil, apperr.Unauthenticated("invalid session")
	}
	return s, nil
}

// End deletes the session behind token. Ending an unknown session is not an
// error.
func (m *Manager) End(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, claims.SessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return apperr.Internal("failed to end session", err)
	}
	return nil
}
