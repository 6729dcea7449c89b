// Package session owns the signed-in identity and its credential. Nothing
// else mutates the persisted entries; collaborators read through Store.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/models"
)

// Well-known keys; both are written and cleared together.
const (
	KeyUser  = "user"
	KeyToken = "token"
)

// Backend is the keyed persistence the store writes through to.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Reauthenticator obtains a fresh session when the stored one is missing
// or expired (for example from Telegram Mini-App init data).
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) (models.Session, error)
}

type Store struct {
	mu      sync.RWMutex
	backend Backend
	current *models.Session
	now     func() time.Time
	logger  *slog.Logger
}

func NewStore(backend Backend, logger *slog.Logger) *Store {
	return &Store{backend: backend, now: time.Now, logger: logging.Component(logger, "session")}
}

// Current returns the in-memory session, if any.
func (s *Store) Current() (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Session{}, false
	}
	return *s.current, true
}

// Credential is the raw bearer token of the current session, or "".
func (s *Store) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Token
}

// Set persists user and credential, replacing any prior session.
func (s *Store) Set(ctx context.Context, sess models.Session) error {
	if sess.Token == "" || sess.User.ID == "" {
		return errs.Msg(errs.Auth, "session.set", "session needs a user id and a token")
	}
	user, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	if err := s.backend.Set(ctx, KeyUser, string(user)); err != nil {
		return fmt.Errorf("persisting user: %w", err)
	}
	if err := s.backend.Set(ctx, KeyToken, sess.Token); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}
	if exp, err := ExpiresAt(sess.Token); err == nil {
		sess.ExpiresAt = exp
	}
	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	s.logger.Info("session stored", "user_id", sess.User.ID)
	return nil
}

// Clear removes the persisted session and forgets the in-memory copy.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	if err := s.backend.Delete(ctx, KeyUser, KeyToken); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	s.logger.Info("session cleared")
	return nil
}

// Load reads a previously persisted session into memory. A missing or
// unreadable entry leaves the store empty.
func (s *Store) Load(ctx context.Context) (models.Session, bool, error) {
	rawUser, okUser, err := s.backend.Get(ctx, KeyUser)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("reading user: %w", err)
	}
	token, okToken, err := s.backend.Get(ctx, KeyToken)
	if err != nil {
		return models.Session{}, false, fmt.Errorf("reading token: %w", err)
	}
	if !okUser || !okToken || token == "" {
		return models.Session{}, false, nil
	}
	var user models.UserSummary
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		s.logger.Warn("discarding unreadable stored user", "error", err)
		return models.Session{}, false, nil
	}
	sess := models.Session{User: user, Token: token}
	if exp, err := ExpiresAt(token); err == nil {
		sess.ExpiresAt = exp
	}
	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	return sess, true, nil
}

// IsExpired decodes the credential's exp claim. Anything that cannot be
// decoded, or has no exp, counts as expired.
func (s *Store) IsExpired(sess models.Session) bool {
	exp, err := ExpiresAt(sess.Token)
	if err != nil {
		return true
	}
	return !exp.After(s.now())
}

// Restore is the startup path: use the stored session when it is still
// valid, otherwise re-authenticate. A failed re-authentication clears the
// store and returns an auth error.
func (s *Store) Restore(ctx context.Context, reauth Reauthenticator) (models.Session, error) {
	sess, ok, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn("could not read stored session", "error", err)
	}
	if ok && !s.IsExpired(sess) {
		return sess, nil
	}
	if ok {
		s.logger.Info("stored credential expired", "user_id", sess.User.ID)
	}
	if reauth == nil {
		_ = s.Clear(ctx)
		return models.Session{}, errs.Msg(errs.Auth, "session.restore", "no valid session")
	}
	fresh, err := reauth.Reauthenticate(ctx)
	if err != nil {
		if cerr := s.Clear(ctx); cerr != nil {
			s.logger.Error("clearing session after failed reauth", "error", cerr)
		}
		return models.Session{}, errs.E(errs.Auth, "session.restore", err)
	}
	if err := s.Set(ctx, fresh); err != nil {
		_ = s.Clear(ctx)
		return models.Session{}, err
	}
	return fresh, nil
}

// ExpiresAt decodes the exp claim without verifying the signature; the
// server remains the authority on validity.
func ExpiresAt(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("decoding credential: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("credential has no exp claim")
	}
	return exp.Time, nil
}
