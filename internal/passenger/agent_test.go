package passenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-passenger/internal/api"
	"github.com/example/ride-passenger/internal/channel"
	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/session"
)

func token(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "exp": time.Now().Add(ttl).Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

type fakeChannel struct {
	mu       sync.Mutex
	openErr  error
	opened   []string
	closed   bool
	state    models.ConnectionState
	onStatus func(models.Ride)
	onState  func(models.ConnectionState)
	onReject func(error)
	requests int
}

func (f *fakeChannel) Open(_ context.Context, cred string) error {
	f.mu.Lock()
	f.opened = append(f.opened, cred)
	if f.openErr != nil {
		f.mu.Unlock()
		return f.openErr
	}
	f.state = models.Connected
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(models.Connected)
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.state = models.Disconnected
	f.onStatus, f.onState, f.onReject = nil, nil, nil
	return nil
}

func (f *fakeChannel) State() models.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" {
		return models.Disconnected
	}
	return f.state
}

func (f *fakeChannel) OnRideStatus(fn func(models.Ride)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStatus = fn
}

func (f *fakeChannel) OnState(fn func(models.ConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeChannel) OnRejected(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReject = fn
}

// drop simulates a lost connection whose redial was refused.
func (f *fakeChannel) drop(err error) {
	f.mu.Lock()
	f.state = models.Disconnected
	onState, onReject := f.onState, f.onReject
	f.mu.Unlock()
	if onState != nil {
		onState(models.Disconnected)
	}
	if onReject != nil {
		onReject(err)
	}
}

func (f *fakeChannel) RequestRide(context.Context, channel.RideRequestPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return nil
}

func (f *fakeChannel) CancelRide(context.Context, string) error { return nil }

func (f *fakeChannel) push(r models.Ride) {
	f.mu.Lock()
	fn := f.onStatus
	f.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

type fakeBackend struct {
	sess      models.Session
	err       error
	walletErr error
}

func (f *fakeBackend) Login(context.Context, api.LoginRequest) (models.Session, error) {
	return f.sess, f.err
}
func (f *fakeBackend) Register(context.Context, api.RegisterRequest) (models.Session, error) {
	return f.sess, f.err
}
func (f *fakeBackend) TelegramLogin(context.Context, string) (models.Session, error) {
	return f.sess, f.err
}
func (f *fakeBackend) Wallet(context.Context, string) (api.WalletView, error) {
	return api.WalletView{Wallet: models.Wallet{Balance: 10}}, f.walletErr
}
func (f *fakeBackend) TopUp(context.Context, string, api.TopUpRequest) (api.WalletUpdate, error) {
	return api.WalletUpdate{}, f.walletErr
}
func (f *fakeBackend) Pay(context.Context, string, api.PayRequest) (api.WalletUpdate, error) {
	return api.WalletUpdate{}, f.walletErr
}
func (f *fakeBackend) Tip(context.Context, string, api.TipRequest) (api.WalletUpdate, error) {
	return api.WalletUpdate{}, f.walletErr
}

type harness struct {
	agent    *Agent
	store    *session.Store
	backend  *fakeBackend
	mu       sync.Mutex
	channels []*fakeChannel
	openErr  error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: session.NewStore(session.NewMemoryBackend(), nil), backend: &fakeBackend{}}
	h.agent = New(Config{
		Session: h.store,
		Backend: h.backend,
		NewChannel: func() RideChannel {
			h.mu.Lock()
			defer h.mu.Unlock()
			ch := &fakeChannel{openErr: h.openErr}
			h.channels = append(h.channels, ch)
			return ch
		},
		OpenMin: 5 * time.Millisecond,
		OpenMax: 10 * time.Millisecond,
	})
	t.Cleanup(h.agent.Close)
	return h
}

func (h *harness) channelAt(t *testing.T, i int) *fakeChannel {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		if len(h.channels) > i {
			ch := h.channels[i]
			h.mu.Unlock()
			return ch
		}
		h.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("channel %d never created", i)
	return nil
}

func waitConnected(t *testing.T, a *Agent) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.State() == models.Connected && a.Ride().Snapshot().Connection == models.Connected {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("agent never connected")
}

func TestLoginStoresSessionAndConnects(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "p1", time.Hour)
	h.backend.sess = models.Session{User: models.UserSummary{ID: "p1"}, Token: tok}

	if _, err := h.agent.Login(context.Background(), api.LoginRequest{Email: "a@b.co", Password: "x"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if h.store.Credential() != tok {
		t.Fatalf("session not stored")
	}
	waitConnected(t, h.agent)
	ch := h.channelAt(t, 0)
	if len(ch.opened) == 0 || ch.opened[0] != tok {
		t.Fatalf("channel opened with %v", ch.opened)
	}

	ch.push(models.Ride{ID: "r1", Passenger: models.Party{ID: "p1"}, Status: models.StatusAccepted})
	if s := h.agent.Ride().Snapshot(); s.Message != "driver accepted" {
		t.Fatalf("status not routed to controller: %+v", s)
	}
}

func TestStartWithExpiredSessionAndFailedReauthSignsOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	if err := h.store.Set(ctx, models.Session{User: models.UserSummary{ID: "p1"}, Token: token(t, "p1", -time.Hour)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.agent.reauth = api.TelegramReauth{}

	if err := h.agent.Start(ctx); !errs.Is(err, errs.Auth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, ok := h.agent.Session(); ok {
		t.Fatalf("expected no session")
	}
	h.mu.Lock()
	n := len(h.channels)
	h.mu.Unlock()
	if n != 0 {
		t.Fatalf("channel opened without a session")
	}
}

func TestRejectedCredentialClearsSession(t *testing.T) {
	h := newHarness(t)
	h.openErr = errs.E(errs.Connection, "channel.open", fmt.Errorf("%w: status 401", channel.ErrUnauthorized))
	h.backend.sess = models.Session{User: models.UserSummary{ID: "p1"}, Token: token(t, "p1", time.Hour)}

	if _, err := h.agent.Login(context.Background(), api.LoginRequest{Email: "a@b.co", Password: "x"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.agent.Session(); !ok {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session survived a rejected channel handshake")
}

func TestRejectedReconnectClearsSession(t *testing.T) {
	h := newHarness(t)
	h.backend.sess = models.Session{User: models.UserSummary{ID: "p1"}, Token: token(t, "p1", time.Hour)}
	if _, err := h.agent.Login(context.Background(), api.LoginRequest{Email: "a@b.co", Password: "x"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitConnected(t, h.agent)
	ch := h.channelAt(t, 0)

	ch.drop(fmt.Errorf("%w: status 401", channel.ErrUnauthorized))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ch.mu.Lock()
		closed := ch.closed
		ch.mu.Unlock()
		if _, ok := h.agent.Session(); !ok && closed {
			if h.agent.State() != models.Disconnected {
				t.Fatalf("expected disconnected after sign-out")
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session survived a rejected reconnect")
}

func TestOpenRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.openErr = errs.E(errs.Connection, "channel.open", errors.New("dial tcp: refused"))
	h.backend.sess = models.Session{User: models.UserSummary{ID: "p1"}, Token: token(t, "p1", time.Hour)}
	if _, err := h.agent.Login(context.Background(), api.LoginRequest{Email: "a@b.co", Password: "x"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	ch := h.channelAt(t, 0)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ch.mu.Lock()
		n := len(ch.opened)
		ch.mu.Unlock()
		if n >= 3 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("open was not retried")
}

func TestSignOutClosesChannel(t *testing.T) {
	h := newHarness(t)
	h.backend.sess = models.Session{User: models.UserSummary{ID: "p1"}, Token: token(t, "p1", time.Hour)}
	if _, err := h.agent.Login(context.Background(), api.LoginRequest{Email: "a@b.co", Password: "x"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitConnected(t, h.agent)

	if err := h.agent.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	ch := h.channelAt(t, 0)
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if !closed {
		t.Fatalf("channel left open")
	}
	if h.agent.State() != models.Disconnected {
		t.Fatalf("expected disconnected")
	}
	if err := h.agent.RequestRide(context.Background(), channel.RideRequestPayload{}); !errors.Is(err, channel.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestWalletAuthFailureSignsOut(t *testing.T) {
	h := newHarness(t)
	h.backend.sess = models.Session{User: models.UserSummary{ID: "p1"}, Token: token(t, "p1", time.Hour)}
	if _, err := h.agent.Login(context.Background(), api.LoginRequest{Email: "a@b.co", Password: "x"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	h.backend.walletErr = errs.E(errs.Auth, "api.wallet", errors.New("status 401"))

	if _, err := h.agent.Wallet(context.Background()); !errs.Is(err, errs.Auth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, ok := h.agent.Session(); ok {
		t.Fatalf("session should be cleared")
	}
}

func TestWalletRequiresSession(t *testing.T) {
	h := newHarness(t)
	if _, err := h.agent.Wallet(context.Background()); !errs.Is(err, errs.Auth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := h.agent.TopUp(context.Background(), api.TopUpRequest{Amount: -1}); !errs.Is(err, errs.Validation) {
		t.Fatalf("expected validation error first, got %v", err)
	}
}
