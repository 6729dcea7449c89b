// Package passenger is the application root. It owns the session, the ride
// channel for the signed-in user, the ride controller and ride history,
// and is what the dashboard gateway calls into.
package passenger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-passenger/internal/api"
	"github.com/example/ride-passenger/internal/channel"
	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/ride"
	"github.com/example/ride-passenger/internal/session"
)

// RideChannel is the part of *channel.Channel the agent drives.
type RideChannel interface {
	Open(ctx context.Context, credential string) error
	Close() error
	State() models.ConnectionState
	OnRideStatus(func(models.Ride))
	OnState(func(models.ConnectionState))
	OnRejected(func(error))
	RequestRide(ctx context.Context, p channel.RideRequestPayload) error
	CancelRide(ctx context.Context, rideID string) error
}

// Backend is the REST surface used for sign-in and the wallet.
type Backend interface {
	Login(ctx context.Context, req api.LoginRequest) (models.Session, error)
	Register(ctx context.Context, req api.RegisterRequest) (models.Session, error)
	TelegramLogin(ctx context.Context, initData string) (models.Session, error)
	Wallet(ctx context.Context, token string) (api.WalletView, error)
	TopUp(ctx context.Context, token string, req api.TopUpRequest) (api.WalletUpdate, error)
	Pay(ctx context.Context, token string, req api.PayRequest) (api.WalletUpdate, error)
	Tip(ctx context.Context, token string, req api.TipRequest) (api.WalletUpdate, error)
}

// HistoryReader lists finished rides; satisfied by *history.Recorder.
type HistoryReader interface {
	List(ctx context.Context, passengerID string, limit int) ([]models.HistoryEntry, error)
}

type Config struct {
	Session    *session.Store
	Backend    Backend
	Reauth     session.Reauthenticator
	NewChannel func() RideChannel
	History    HistoryReader
	// Ride settings; Commander and Identity are filled in by the agent.
	Ride       ride.Config
	OpenMin    time.Duration
	OpenMax    time.Duration
	Logger     *slog.Logger
}

type Agent struct {
	store      *session.Store
	backend    Backend
	reauth     session.Reauthenticator
	newChannel func() RideChannel
	history    HistoryReader
	ride       *ride.Controller
	openMin    time.Duration
	openMax    time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	ch       RideChannel
	stopOpen context.CancelFunc
	closed   bool
}

func New(cfg Config) *Agent {
	if cfg.OpenMin <= 0 {
		cfg.OpenMin = time.Second
	}
	if cfg.OpenMax < cfg.OpenMin {
		cfg.OpenMax = 30 * cfg.OpenMin
	}
	a := &Agent{
		store:      cfg.Session,
		backend:    cfg.Backend,
		reauth:     cfg.Reauth,
		newChannel: cfg.NewChannel,
		history:    cfg.History,
		openMin:    cfg.OpenMin,
		openMax:    cfg.OpenMax,
		logger:     logging.Component(cfg.Logger, "agent"),
	}
	rc := cfg.Ride
	rc.Commander = a
	rc.Identity = cfg.Session
	if rc.Logger == nil {
		rc.Logger = cfg.Logger
	}
	a.ride = ride.NewController(rc)
	return a
}

func (a *Agent) Ride() *ride.Controller { return a.ride }

// Start restores the persisted session, re-authenticating when it is
// missing or expired, and connects the ride channel. A failed restore
// leaves the agent signed out; it is reported but not fatal.
func (a *Agent) Start(ctx context.Context) error {
	sess, err := a.store.Restore(ctx, a.reauth)
	if err != nil {
		a.logger.Warn("starting signed out", "error", err)
		return err
	}
	a.connect(sess)
	return nil
}

// Session returns the signed-in session, if any.
func (a *Agent) Session() (models.Session, bool) { return a.store.Current() }

func (a *Agent) Login(ctx context.Context, req api.LoginRequest) (models.Session, error) {
	return a.signIn(ctx, func() (models.Session, error) { return a.backend.Login(ctx, req) })
}

func (a *Agent) Register(ctx context.Context, req api.RegisterRequest) (models.Session, error) {
	return a.signIn(ctx, func() (models.Session, error) { return a.backend.Register(ctx, req) })
}

func (a *Agent) TelegramLogin(ctx context.Context, initData string) (models.Session, error) {
	return a.signIn(ctx, func() (models.Session, error) { return a.backend.TelegramLogin(ctx, initData) })
}

func (a *Agent) signIn(ctx context.Context, auth func() (models.Session, error)) (models.Session, error) {
	sess, err := auth()
	if err != nil {
		return models.Session{}, err
	}
	a.disconnect()
	a.ride.Reset()
	if err := a.store.Set(ctx, sess); err != nil {
		return models.Session{}, err
	}
	a.connect(sess)
	return sess, nil
}

// SignOut drops the channel, the ride view and the persisted session.
func (a *Agent) SignOut(ctx context.Context) error {
	a.disconnect()
	a.ride.Reset()
	return a.store.Clear(ctx)
}

// connect opens a fresh channel for sess in the background, retrying with
// backoff until it connects, the credential is rejected, or the session
// changes.
func (a *Agent) connect(sess models.Session) {
	ch := a.newChannel()
	ch.OnRideStatus(a.ride.HandleStatus)
	ch.OnState(a.ride.SetConnection)
	ch.OnRejected(func(err error) {
		if a.current() != ch {
			return
		}
		a.logger.Error("ride channel reconnect rejected credential, signing out", "user_id", sess.User.ID, "error", err)
		// expire closes ch, which waits for the goroutine running this callback
		go a.expire(sess)
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cancel()
		_ = ch.Close()
		return
	}
	a.ch = ch
	a.stopOpen = cancel
	a.mu.Unlock()

	go a.openWithRetry(ctx, ch, sess)
}

func (a *Agent) openWithRetry(ctx context.Context, ch RideChannel, sess models.Session) {
	delay := a.openMin
	for {
		err := ch.Open(ctx, sess.Token)
		if err == nil {
			a.ride.SetConnection(ch.State())
			return
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, channel.ErrUnauthorized) {
			a.logger.Error("ride channel rejected credential, signing out", "user_id", sess.User.ID)
			a.expire(sess)
			return
		}
		a.logger.Warn("ride channel unavailable", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > a.openMax {
			delay = a.openMax
		}
	}
}

// expire clears sess if it is still the current session.
func (a *Agent) expire(sess models.Session) {
	cur, ok := a.store.Current()
	if !ok || cur.Token != sess.Token {
		return
	}
	a.disconnect()
	a.ride.Reset()
	if err := a.store.Clear(context.Background()); err != nil {
		a.logger.Error("clearing rejected session", "error", err)
	}
}

func (a *Agent) disconnect() {
	a.mu.Lock()
	ch, stop := a.ch, a.stopOpen
	a.ch, a.stopOpen = nil, nil
	a.mu.Unlock()
	if stop != nil {
		stop()
	}
	if ch != nil {
		_ = ch.Close()
	}
	a.ride.SetConnection(models.Disconnected)
}

func (a *Agent) current() RideChannel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch
}

// State reports the current channel's connection state.
func (a *Agent) State() models.ConnectionState {
	if ch := a.current(); ch != nil {
		return ch.State()
	}
	return models.Disconnected
}

func (a *Agent) RequestRide(ctx context.Context, p channel.RideRequestPayload) error {
	ch := a.current()
	if ch == nil {
		return channel.ErrNotConnected
	}
	return ch.RequestRide(ctx, p)
}

func (a *Agent) CancelRide(ctx context.Context, rideID string) error {
	ch := a.current()
	if ch == nil {
		return channel.ErrNotConnected
	}
	return ch.CancelRide(ctx, rideID)
}

// credential returns the bearer token or an auth error when signed out.
func (a *Agent) credential(op string) (models.Session, error) {
	sess, ok := a.store.Current()
	if !ok {
		return models.Session{}, errs.Msg(errs.Auth, op, "not signed in")
	}
	if a.store.IsExpired(sess) {
		a.expire(sess)
		return models.Session{}, errs.Msg(errs.Auth, op, "session expired")
	}
	return sess, nil
}

// authFailed signs out when the backend rejected the credential.
func (a *Agent) authFailed(sess models.Session, err error) error {
	if errs.Is(err, errs.Auth) {
		a.expire(sess)
	}
	return err
}

func (a *Agent) Wallet(ctx context.Context) (api.WalletView, error) {
	sess, err := a.credential("agent.wallet")
	if err != nil {
		return api.WalletView{}, err
	}
	v, err := a.backend.Wallet(ctx, sess.Token)
	return v, a.authFailed(sess, err)
}

func (a *Agent) TopUp(ctx context.Context, req api.TopUpRequest) (api.WalletUpdate, error) {
	if err := api.Validate(req); err != nil {
		return api.WalletUpdate{}, err
	}
	sess, err := a.credential("agent.topup")
	if err != nil {
		return api.WalletUpdate{}, err
	}
	up, err := a.backend.TopUp(ctx, sess.Token, req)
	return up, a.authFailed(sess, err)
}

func (a *Agent) Pay(ctx context.Context, req api.PayRequest) (api.WalletUpdate, error) {
	if err := api.Validate(req); err != nil {
		return api.WalletUpdate{}, err
	}
	sess, err := a.credential("agent.pay")
	if err != nil {
		return api.WalletUpdate{}, err
	}
	up, err := a.backend.Pay(ctx, sess.Token, req)
	return up, a.authFailed(sess, err)
}

func (a *Agent) Tip(ctx context.Context, req api.TipRequest) (api.WalletUpdate, error) {
	if err := api.Validate(req); err != nil {
		return api.WalletUpdate{}, err
	}
	sess, err := a.credential("agent.tip")
	if err != nil {
		return api.WalletUpdate{}, err
	}
	up, err := a.backend.Tip(ctx, sess.Token, req)
	return up, a.authFailed(sess, err)
}

// History lists the signed-in passenger's finished rides, newest first.
func (a *Agent) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	sess, ok := a.store.Current()
	if !ok {
		return nil, errs.Msg(errs.Auth, "agent.history", "not signed in")
	}
	if a.history == nil {
		return []models.HistoryEntry{}, nil
	}
	out, err := a.history.List(ctx, sess.User.ID, limit)
	if err != nil {
		return nil, errs.E(errs.Other, "agent.history", err)
	}
	if out == nil {
		out = []models.HistoryEntry{}
	}
	return out, nil
}

// Close tears down the channel and the controller and waits for pending
// history writes. The persisted session is kept for the next start.
func (a *Agent) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	a.disconnect()
	a.ride.Close()
	// let in-flight history writes reach their sinks before those close
	a.ride.WaitRecorded()
}
