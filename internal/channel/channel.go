// Package channel keeps the single authenticated WebSocket between the
// passenger and the ride backend. It carries ride commands out and ride
// status snapshots in; ordering and idempotence of events are the
// caller's concern.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/observability"
)

// Dialer is satisfied by *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Handler func(Envelope)

// StateListener observes connection state changes.
type StateListener func(models.ConnectionState)

var (
	// ErrNotConnected is returned by Send when no connection is established.
	// The command is dropped, not queued.
	ErrNotConnected = errs.Msg(errs.CommandRejected, "channel.send", "not connected")
	ErrUnauthorized = errors.New("handshake rejected credential")
	ErrClosed       = errors.New("channel closed")
)

type Config struct {
	URL          string
	Dialer       Dialer
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type Channel struct {
	url          string
	dialer       Dialer
	reconnectMin time.Duration
	reconnectMax time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	state      models.ConnectionState
	conn       *websocket.Conn
	credential string
	handlers   map[Event][]Handler
	listeners  []StateListener
	rejected   []func(error)
	opened     bool
	closed     bool
	cancel     context.CancelFunc
	done       chan struct{}

	// held for reading while handlers run so Close can wait them out
	dispatchMu sync.RWMutex
	writeMu    sync.Mutex
}

func New(cfg Config) *Channel {
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * cfg.ReconnectMin
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	c := &Channel{
		url:          cfg.URL,
		dialer:       cfg.Dialer,
		reconnectMin: cfg.ReconnectMin,
		reconnectMax: cfg.ReconnectMax,
		writeTimeout: cfg.WriteTimeout,
		logger:       logging.Component(cfg.Logger, "channel"),
		state:        models.Disconnected,
		handlers:     make(map[Event][]Handler),
	}
	observability.ChannelState.WithLabelValues(string(models.Disconnected)).Set(1)
	return c
}

// Open dials and authenticates with credential. It does not retry: a
// failed first dial is returned as a connection error and the caller
// decides on backoff. Drops after a successful Open are redialed with the
// same credential until Close.
func (c *Channel) Open(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.E(errs.Connection, "channel.open", ErrClosed)
	}
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.credential = credential
	c.mu.Unlock()

	c.setState(models.Connecting)
	conn, err := c.dial(ctx, credential)
	if err != nil {
		c.setState(models.Disconnected)
		return errs.E(errs.Connection, "channel.open", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return errs.E(errs.Connection, "channel.open", ErrClosed)
	}
	c.opened = true
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.setState(models.Connected)
	c.logger.Info("ride channel connected", "url", c.url)
	go c.run(runCtx, conn, done)
	return nil
}

func (c *Channel) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("connecting to websocket: %w", err)
	}
	return conn, nil
}

func (c *Channel) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for conn != nil {
		err := c.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("ride channel dropped", "error", err)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		c.setState(models.Disconnected)
		var rerr error
		conn, rerr = c.reconnect(ctx)
		if rerr != nil {
			c.notifyRejected(rerr)
		}
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		observability.EventsReceived.WithLabelValues(env.Event).Inc()
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	c.dispatchMu.RLock()
	defer c.dispatchMu.RUnlock()
	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[Event(env.Event)]...)
	c.mu.Unlock()
	if len(hs) == 0 {
		c.logger.Debug("no handler for event", "event", env.Event)
		return
	}
	for _, h := range hs {
		h(env)
	}
}

// reconnect redials with exponential backoff until it succeeds, the
// handshake rejects the credential, or the channel is closed. A rejection
// is returned as the error.
func (c *Channel) reconnect(ctx context.Context) (*websocket.Conn, error) {
	delay := c.reconnectMin
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		case <-timer.C:
		}

		c.mu.Lock()
		credential := c.credential
		c.mu.Unlock()

		observability.ChannelReconnects.Inc()
		c.setState(models.Connecting)
		conn, err := c.dial(ctx, credential)
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				_ = conn.Close()
				return nil, nil
			}
			c.conn = conn
			c.mu.Unlock()
			c.setState(models.Connected)
			c.logger.Info("ride channel reconnected")
			return conn, nil
		}
		c.setState(models.Disconnected)
		if errors.Is(err, ErrUnauthorized) {
			c.logger.Error("reconnect rejected credential, giving up", "error", err)
			return nil, err
		}
		delay *= 2
		if delay > c.reconnectMax {
			delay = c.reconnectMax
		}
		c.logger.Warn("reconnect failed", "error", err, "retry_in", delay)
	}
}

// Send writes one command. When not connected it logs, drops the command
// and returns ErrNotConnected.
func (c *Channel) Send(ctx context.Context, cmd Command, payload any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != models.Connected {
		c.logger.Warn("dropping command, channel not connected", "command", cmd, "state", state)
		observability.CommandsSent.WithLabelValues(string(cmd), "dropped").Inc()
		return ErrNotConnected
	}
	env, err := encode(cmd, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(deadline)
	err = conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		observability.CommandsSent.WithLabelValues(string(cmd), "error").Inc()
		return errs.E(errs.Connection, "channel.send", fmt.Errorf("writing %s: %w", cmd, err))
	}
	observability.CommandsSent.WithLabelValues(string(cmd), "sent").Inc()
	c.logger.Debug("command sent", "command", cmd)
	return nil
}

func (c *Channel) RequestRide(ctx context.Context, p RideRequestPayload) error {
	return c.Send(ctx, CommandRideRequest, p)
}

func (c *Channel) CancelRide(ctx context.Context, rideID string) error {
	return c.Send(ctx, CommandRideCancel, RideCancelPayload{RideID: rideID})
}

// SendLocation is used by driver-role clients only.
func (c *Channel) SendLocation(ctx context.Context, driverID string, lat, lng float64) error {
	return c.Send(ctx, CommandDriverLocation, DriverLocationPayload{DriverID: driverID, Lat: lat, Lng: lng})
}

// OnEvent registers h for every inbound event named ev, in receive order.
// Handlers must not call Close.
func (c *Channel) OnEvent(ev Event, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.handlers[ev] = append(c.handlers[ev], h)
}

// OnRideStatus registers a typed handler for ride:status snapshots.
func (c *Channel) OnRideStatus(h func(models.Ride)) {
	c.OnEvent(EventRideStatus, func(env Envelope) {
		v, err := Decode(env)
		if err != nil {
			c.logger.Warn("dropping ride status", "error", err)
			return
		}
		if p, ok := v.(RideStatusPayload); ok {
			h(p.Ride)
		}
	})
}

// OnState registers a listener for connection state changes.
func (c *Channel) OnState(fn func(models.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.listeners = append(c.listeners, fn)
}

// OnRejected registers fn for a reconnect the handshake refused. The
// channel stays disconnected afterwards. fn runs on the channel's read
// goroutine and must not call Close synchronously.
func (c *Channel) OnRejected(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.rejected = append(c.rejected, fn)
}

func (c *Channel) notifyRejected(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fns := append([]func(error){}, c.rejected...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *Channel) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s models.ConnectionState) {
	c.mu.Lock()
	if c.closed || c.state == s {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	ls := append([]StateListener(nil), c.listeners...)
	c.mu.Unlock()

	observability.ChannelState.WithLabelValues(string(prev)).Set(0)
	observability.ChannelState.WithLabelValues(string(s)).Set(1)
	for _, fn := range ls {
		fn(s)
	}
}

// Close tears the channel down. Handlers and listeners are unregistered
// before it returns and no handler is running afterwards. Safe to call
// more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.handlers = map[Event][]Handler{}
	c.listeners = nil
	c.rejected = nil
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn = nil
	prev := c.state
	c.state = models.Disconnected
	c.mu.Unlock()

	// wait out any handler already running
	c.dispatchMu.Lock()
	c.dispatchMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	observability.ChannelState.WithLabelValues(string(prev)).Set(0)
	observability.ChannelState.WithLabelValues(string(models.Disconnected)).Set(1)
	c.logger.Info("ride channel closed")
	return nil
}
