package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/models"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return tok
}

func tokenExpiringIn(t *testing.T, d time.Duration) string {
	return signed(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(d).Unix()})
}

type fakeReauth struct {
	sess  models.Session
	err   error
	calls int
}

func (f *fakeReauth) Reauthenticate(context.Context) (models.Session, error) {
	f.calls++
	return f.sess, f.err
}

func TestIsExpired(t *testing.T) {
	s := NewStore(NewMemoryBackend(), nil)
	cases := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid", tokenExpiringIn(t, time.Hour), false},
		{"expired", tokenExpiringIn(t, -time.Minute), true},
		{"no exp claim", signed(t, jwt.MapClaims{"sub": "u1"}), true},
		{"garbage", "not-a-jwt", true},
		{"empty", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.IsExpired(models.Session{Token: tc.token}); got != tc.want {
				t.Fatalf("IsExpired = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSetPersistsAndClearRemovesBoth(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewStore(backend, nil)
	sess := models.Session{User: models.UserSummary{ID: "u1", Username: "abebe"}, Token: tokenExpiringIn(t, time.Hour)}
	if err := s.Set(ctx, sess); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := backend.Get(ctx, KeyUser); !ok {
		t.Fatalf("user not persisted")
	}
	if v, _, _ := backend.Get(ctx, KeyToken); v != sess.Token {
		t.Fatalf("token not persisted")
	}
	cur, ok := s.Current()
	if !ok || cur.User.ID != "u1" || cur.ExpiresAt.IsZero() {
		t.Fatalf("unexpected current %+v", cur)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("expected no session after clear")
	}
	if _, ok, _ := backend.Get(ctx, KeyUser); ok {
		t.Fatalf("user entry survived clear")
	}
	if _, ok, _ := backend.Get(ctx, KeyToken); ok {
		t.Fatalf("token entry survived clear")
	}
	if s.Credential() != "" {
		t.Fatalf("credential survived clear")
	}
}

func TestSetRejectsIncompleteSession(t *testing.T) {
	s := NewStore(NewMemoryBackend(), nil)
	if err := s.Set(context.Background(), models.Session{Token: "x"}); !errs.Is(err, errs.Auth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestRestoreUsesValidStoredSession(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	seed := NewStore(backend, nil)
	if err := seed.Set(ctx, models.Session{User: models.UserSummary{ID: "u1"}, Token: tokenExpiringIn(t, time.Hour)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewStore(backend, nil)
	reauth := &fakeReauth{err: errors.New("must not be called")}
	sess, err := s.Restore(ctx, reauth)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if sess.User.ID != "u1" || reauth.calls != 0 {
		t.Fatalf("expected stored session without reauth, got %+v calls=%d", sess, reauth.calls)
	}
}

func TestRestoreExpiredReauthFailureClears(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	seed := NewStore(backend, nil)
	if err := seed.Set(ctx, models.Session{User: models.UserSummary{ID: "u1"}, Token: tokenExpiringIn(t, -time.Hour)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewStore(backend, nil)
	reauth := &fakeReauth{err: errors.New("telegram rejected init data")}
	_, err := s.Restore(ctx, reauth)
	if !errs.Is(err, errs.Auth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if reauth.calls != 1 {
		t.Fatalf("expected one reauth attempt, got %d", reauth.calls)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("expected Current() to be empty after failed reauth")
	}
	if _, ok, _ := backend.Get(ctx, KeyToken); ok {
		t.Fatalf("expected persisted token to be cleared")
	}
}

func TestRestoreMissingSessionReauthenticates(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(), nil)
	fresh := models.Session{User: models.UserSummary{ID: "tg-7"}, Token: tokenExpiringIn(t, time.Hour)}
	reauth := &fakeReauth{sess: fresh}
	got, err := s.Restore(ctx, reauth)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got.User.ID != "tg-7" || s.Credential() != fresh.Token {
		t.Fatalf("expected fresh session stored, got %+v", got)
	}
}

func TestRestoreWithoutReauthenticator(t *testing.T) {
	s := NewStore(NewMemoryBackend(), nil)
	if _, err := s.Restore(context.Background(), nil); !errs.Is(err, errs.Auth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestFileBackendSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	tok := tokenExpiringIn(t, time.Hour)
	if err := NewStore(NewFileBackend(path), nil).Set(ctx, models.Session{User: models.UserSummary{ID: "u9"}, Token: tok}); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened := NewStore(NewFileBackend(path), nil)
	sess, ok, err := reopened.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if sess.User.ID != "u9" || sess.Token != tok {
		t.Fatalf("unexpected session %+v", sess)
	}
	if err := reopened.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := NewStore(NewFileBackend(path), nil).Load(ctx); ok {
		t.Fatalf("expected cleared file")
	}
}
