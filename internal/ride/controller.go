// Package ride runs the passenger's ride lifecycle: quoting, requesting,
// and following server status snapshots until the ride is cleared.
package ride

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-passenger/internal/channel"
	"github.com/example/ride-passenger/internal/errs"
	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/models"
	"github.com/example/ride-passenger/internal/observability"
)

const DefaultCompletedDelay = 4 * time.Second

// Estimator prices a candidate destination.
type Estimator interface {
	Estimate(ctx context.Context, origin, destination models.Coordinate, label string) (models.RideQuote, error)
}

// Commander is the outbound half of the ride channel.
type Commander interface {
	State() models.ConnectionState
	RequestRide(ctx context.Context, p channel.RideRequestPayload) error
	CancelRide(ctx context.Context, rideID string) error
}

// Identity supplies the signed-in user that inbound events are filtered on.
type Identity interface {
	Current() (models.Session, bool)
}

// Recorder receives every ride that reached a terminal status.
type Recorder interface {
	Record(ctx context.Context, entry models.HistoryEntry) error
}

type Config struct {
	Estimator      Estimator
	Commander      Commander
	Identity       Identity
	Recorder       Recorder
	CompletedDelay time.Duration
	Logger         *slog.Logger
}

var (
	errRideActive   = errs.Msg(errs.CommandRejected, "ride", "a ride is already in progress")
	errNoQuote      = errs.Msg(errs.CommandRejected, "ride.confirm", "no quote to confirm")
	errNoRide       = errs.Msg(errs.CommandRejected, "ride.cancel", "no active ride")
	errNotAcked     = errs.Msg(errs.CommandRejected, "ride.cancel", "ride not yet acknowledged")
	errNoOrigin     = errs.Msg(errs.Validation, "ride.quote", "current location unknown")
	errNotConnected = errs.Msg(errs.CommandRejected, "ride.confirm", "not connected")
	errConfirming   = errs.Msg(errs.CommandRejected, "ride.quote", "ride request in progress")
)

type Controller struct {
	estimator Estimator
	commander Commander
	identity  Identity
	recorder  Recorder
	delay     time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	snap       Snapshot
	last       *models.Ride
	tabActive  bool
	closed     bool
	quoteSeq   uint64
	confirming bool
	timer      *time.Timer
	timerGen   uint64
	subs       map[int]func(Snapshot)
	nextSub    int

	// history writes run off the caller's goroutine
	recording sync.WaitGroup

	// serialises delivery so subscribers see snapshots in version order
	deliverMu sync.Mutex
}

func NewController(cfg Config) *Controller {
	if cfg.CompletedDelay <= 0 {
		cfg.CompletedDelay = DefaultCompletedDelay
	}
	return &Controller{
		estimator: cfg.Estimator,
		commander: cfg.Commander,
		identity:  cfg.Identity,
		recorder:  cfg.Recorder,
		delay:     cfg.CompletedDelay,
		logger:    logging.Component(cfg.Logger, "ride"),
		snap:      Snapshot{Phase: PhaseIdle, Connection: models.Disconnected},
		tabActive: true,
		subs:      make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Subscribe registers fn for every future snapshot and returns a func that
// removes it. fn must not call back into the controller's mutators.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// commit publishes next. Callers hold c.mu; commit releases it.
func (c *Controller) commit(next Snapshot) {
	prevPhase := c.snap.Phase
	next.Version = c.snap.Version + 1
	c.snap = next
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.deliverMu.Lock()
	c.mu.Unlock()
	defer c.deliverMu.Unlock()

	if prevPhase != next.Phase {
		observability.RideTransitions.WithLabelValues(string(next.Phase)).Inc()
		c.logger.Info("ride phase changed", "from", prevPhase, "to", next.Phase)
	}
	for _, fn := range subs {
		fn(next)
	}
}

// SetTabActive pauses origin updates while the request view is hidden.
func (c *Controller) SetTabActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tabActive = active
}

// SetOrigin records the passenger's current position. Updates that arrive
// after Close or while the request view is inactive are dropped.
func (c *Controller) SetOrigin(o models.Coordinate) bool {
	c.mu.Lock()
	if c.closed || !c.tabActive {
		c.mu.Unlock()
		return false
	}
	if c.snap.Origin != nil && *c.snap.Origin == o {
		c.mu.Unlock()
		return true
	}
	next := c.snap
	next.Origin = ptr(o)
	c.commit(next)
	return true
}

// SetConnection mirrors the channel's connection state into the snapshot.
func (c *Controller) SetConnection(s models.ConnectionState) {
	c.mu.Lock()
	if c.closed || c.snap.Connection == s {
		c.mu.Unlock()
		return
	}
	next := c.snap
	next.Connection = s
	c.commit(next)
}

// SelectDestination prices a trip to dest and moves to quoting. A failed
// estimate leaves the controller idle with the quote hidden. Only the
// latest selection may publish its result.
func (c *Controller) SelectDestination(ctx context.Context, dest models.Coordinate, label string) (models.RideQuote, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.RideQuote{}, errs.Msg(errs.Other, "ride.quote", "controller closed")
	}
	if c.snap.Phase.Active() {
		c.mu.Unlock()
		return models.RideQuote{}, errRideActive
	}
	if c.confirming {
		c.mu.Unlock()
		return models.RideQuote{}, errConfirming
	}
	if c.snap.Origin == nil {
		c.mu.Unlock()
		return models.RideQuote{}, errNoOrigin
	}
	origin := *c.snap.Origin
	c.quoteSeq++
	seq := c.quoteSeq
	c.mu.Unlock()

	start := time.Now()
	q, err := c.estimator.Estimate(ctx, origin, dest, label)
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.QuoteLatency.WithLabelValues(q.Provider, result).Observe(time.Since(start).Seconds())

	c.mu.Lock()
	if c.closed || seq != c.quoteSeq || c.snap.Phase.Active() || c.confirming {
		c.mu.Unlock()
		if err != nil {
			return models.RideQuote{}, err
		}
		return q, nil
	}
	next := c.snap
	next.Ride = nil
	if err != nil {
		c.logger.Warn("quote failed", "error", err)
		next.Phase = PhaseIdle
		next.Quote = nil
		next.SheetVisible = false
		next.Message = errs.UserMessage(err)
		next.Success = false
		c.commit(next)
		return models.RideQuote{}, err
	}
	next.Phase = PhaseQuoting
	next.Quote = ptr(q)
	next.SheetVisible = true
	next.Message = ""
	next.Success = false
	c.commit(next)
	return q, nil
}

// Dismiss drops the current quote without booking. It does nothing while
// the quote is being confirmed.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	if c.closed || c.snap.Phase != PhaseQuoting || c.confirming {
		c.mu.Unlock()
		return
	}
	c.quoteSeq++
	next := c.snap
	next.Phase = PhaseIdle
	next.Quote = nil
	next.SheetVisible = false
	next.Message = ""
	c.commit(next)
}

// Confirm submits the quoted ride. The controller moves to requested only
// once the channel is connected and the request was written; otherwise it
// stays quoting with a "not connected" message.
func (c *Controller) Confirm(ctx context.Context) (models.Ride, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.Ride{}, errs.Msg(errs.Other, "ride.confirm", "controller closed")
	}
	if c.snap.Phase.Active() || c.confirming {
		c.mu.Unlock()
		return models.Ride{}, errRideActive
	}
	if c.snap.Phase != PhaseQuoting || c.snap.Quote == nil {
		c.mu.Unlock()
		return models.Ride{}, errNoQuote
	}
	sess, ok := c.identity.Current()
	if !ok {
		c.mu.Unlock()
		return models.Ride{}, errs.Msg(errs.Auth, "ride.confirm", "not signed in")
	}
	quote := *c.snap.Quote
	c.confirming = true
	c.mu.Unlock()

	var err error
	if c.commander.State() != models.Connected {
		err = errNotConnected
	} else {
		err = c.commander.RequestRide(ctx, channel.RideRequestPayload{
			PassengerID:  sess.User.ID,
			Origin:       quote.Origin,
			Destination:  quote.Destination,
			Quote:        quote,
			DropoffLabel: quote.DropoffLabel,
		})
	}

	c.mu.Lock()
	c.confirming = false
	if c.closed {
		c.mu.Unlock()
		return models.Ride{}, errs.Msg(errs.Other, "ride.confirm", "controller closed")
	}
	if err != nil {
		c.logger.Warn("ride request not sent", "error", err)
		next := c.snap
		next.Message = errs.UserMessage(err)
		next.Success = false
		c.commit(next)
		return models.Ride{}, err
	}
	if c.snap.Phase.Active() {
		// the server's first snapshot beat us here; it is authoritative
		r := *c.snap.Ride
		c.mu.Unlock()
		return r, nil
	}

	r := models.Ride{
		ID:        "local-" + uuid.NewString(),
		Passenger: models.Party{ID: sess.User.ID, Name: sess.User.Username},
		Status:    models.StatusRequested,
		From:      quote.Origin,
		To:        quote.Destination,
		Distance:  quote.DistanceKm,
		Fare:      quote.FareAmount,
		DropName:  quote.DropoffLabel,
		Local:     true,
		UpdatedAt: time.Now(),
	}
	next := c.snap
	next.Phase = phaseOf(r.Status)
	next.Ride = ptr(r)
	next.SheetVisible = true
	next.Message = StatusMessage(r.Status)
	next.Success = true
	c.commit(next)
	return r, nil
}

// Cancel asks the server to cancel the active ride. The local state only
// changes when the server's cancelled snapshot arrives.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || !c.snap.Phase.Active() || c.snap.Ride == nil || c.snap.Ride.Status.Terminal() {
		c.mu.Unlock()
		return errNoRide
	}
	if c.snap.Ride.Local {
		c.mu.Unlock()
		return errNotAcked
	}
	id := c.snap.Ride.ID
	c.mu.Unlock()

	err := c.commander.CancelRide(ctx, id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	next := c.snap
	if err != nil {
		next.Message = errs.UserMessage(err)
		next.Success = false
	} else {
		next.Message = "cancellation requested"
	}
	c.commit(next)
	return err
}

// Acknowledge clears a completed ride before the display delay runs out.
func (c *Controller) Acknowledge() {
	c.mu.Lock()
	if c.closed || c.snap.Phase != phaseOf(models.StatusTripCompleted) {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.last = nil
	c.commit(c.idleLocked(""))
}

// Reset returns to idle at once, dropping any quote or ride from view.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.quoteSeq++
	c.last = nil
	c.commit(c.idleLocked(""))
}

// HandleStatus applies one ride:status snapshot from the server. Snapshots
// for another passenger and repeats of the last applied one are ignored;
// any status value is otherwise taken as-is. Once the view has gone back to
// idle locally, the next snapshot is applied even if it repeats.
func (c *Controller) HandleStatus(r models.Ride) {
	r.Local = false
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	sess, ok := c.identity.Current()
	if !ok || r.Passenger.ID == "" || r.Passenger.ID != sess.User.ID {
		c.mu.Unlock()
		observability.RideEventsIgnored.WithLabelValues("identity").Inc()
		c.logger.Debug("ignoring ride status for another passenger", "ride_id", r.ID)
		return
	}
	if c.last != nil && reflect.DeepEqual(*c.last, r) {
		c.mu.Unlock()
		observability.RideEventsIgnored.WithLabelValues("duplicate").Inc()
		return
	}
	c.last = ptr(r)
	c.stopTimerLocked()
	c.quoteSeq++

	var next Snapshot
	switch r.Status {
	case models.StatusCancelled:
		next = c.idleLocked(StatusMessage(r.Status))
	default:
		next = c.snap
		next.Phase = phaseOf(r.Status)
		next.Ride = ptr(r)
		next.SheetVisible = true
		next.Message = StatusMessage(r.Status)
	}
	next.Success = StatusSuccess(r.Status)

	if r.Status == models.StatusTripCompleted {
		gen := c.timerGen
		c.timer = time.AfterFunc(c.delay, func() { c.clearCompleted(gen) })
	}
	c.commit(next)

	if r.Status.Terminal() {
		c.recording.Add(1)
		go func() {
			defer c.recording.Done()
			c.record(r)
		}()
	}
}

func (c *Controller) clearCompleted(gen uint64) {
	c.mu.Lock()
	if c.closed || c.timerGen != gen || c.snap.Phase != phaseOf(models.StatusTripCompleted) {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.last = nil
	c.commit(c.idleLocked(""))
}

// idleLocked builds the idle snapshot, keeping origin and connection.
func (c *Controller) idleLocked(message string) Snapshot {
	next := c.snap
	next.Phase = PhaseIdle
	next.Ride = nil
	next.Quote = nil
	next.SheetVisible = false
	next.Message = message
	next.Success = false
	return next
}

func (c *Controller) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) record(r models.Ride) {
	if c.recorder == nil {
		return
	}
	entry := models.HistoryEntry{
		RideID:      r.ID,
		PassengerID: r.Passenger.ID,
		Status:      r.Status,
		From:        r.From,
		To:          r.To,
		DropName:    r.DropName,
		Fare:        r.Fare,
		DistanceKm:  r.Distance,
		FinishedAt:  r.UpdatedAt,
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.recorder.Record(ctx, entry); err != nil {
		c.logger.Error("recording finished ride", "ride_id", r.ID, "error", err)
	}
}

// WaitRecorded blocks until every history write started so far finished.
func (c *Controller) WaitRecorded() { c.recording.Wait() }

// Close stops timers and drops subscribers. Nothing mutates the controller
// afterwards. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.stopTimerLocked()
	c.subs = map[int]func(Snapshot){}
}
