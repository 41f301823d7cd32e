// Package session ties one peer's negotiation, media, chat and connectivity
// together behind a single controller with explicit leave semantics: a hard
// leave ends the session for both sides, a tutor stepping away only marks
// the room as unattended so it can be rejoined.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/classcall/classcall/server/atomic"
	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/media"
	"github.com/classcall/classcall/server/multierr"
	"github.com/classcall/classcall/server/negotiator"
	"github.com/classcall/classcall/server/store"
	"github.com/juju/errors"
)

const eventBufferSize = 64

// TerminationReason tells the OnTerminated callback why the session ended.
type TerminationReason string

const (
	// ReasonLeft is a local leave or step-away.
	ReasonLeft TerminationReason = "left"
	// ReasonRemoteEnded is the other peer ending the call, or the tutor
	// going offline from the student's point of view.
	ReasonRemoteEnded TerminationReason = "remote_ended"
)

type Params struct {
	Log               logger.Logger
	Store             store.Store
	Media             *media.Pipeline
	NewPeerConnection negotiator.PCFactory
	Clock             clock.Clock
	RoomID            store.RoomID
	Role              store.Role

	// Backoff overrides the reconnect delay. Zero means the default.
	Backoff time.Duration
	// PingInterval overrides the connectivity probe interval.
	PingInterval time.Duration

	// OnTerminated runs exactly once when the session is torn down, after
	// all resources are released.
	OnTerminated func(reason TerminationReason)
}

// Controller is the lifecycle of one peer's participation in a session.
type Controller struct {
	params Params
	log    logger.Logger

	neg     *negotiator.Negotiator
	monitor *Monitor
	chat    *Chat

	events chan negotiator.State

	started atomic.Bool
	left    atomic.Bool

	teardownOnce sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	watcherWG sync.WaitGroup

	mu              sync.Mutex
	seenTutorOnline bool
}

func New(params Params) *Controller {
	log := params.Log.WithNamespaceAppended("session").WithCtx(logger.Ctx{
		"room_id": params.RoomID,
		"role":    params.Role,
	})

	c := &Controller{
		params: params,
		log:    log,
		events: make(chan negotiator.State, eventBufferSize),
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.monitor = NewMonitor(
		log, params.Clock, params.PingInterval, c.pingStore, c.connectivityChanged)

	c.neg = negotiator.New(negotiator.Params{
		Log:               log,
		Store:             params.Store,
		Media:             params.Media,
		NewPeerConnection: params.NewPeerConnection,
		Clock:             params.Clock,
		RoomID:            params.RoomID,
		Role:              params.Role,
		Backoff:           params.Backoff,
		Online:            c.monitor.Online,
	})

	c.chat = newChat(log, params.Store, params.RoomID, params.Role, c.chatAvailable)

	return c
}

// Start begins the session as the initiating tutor.
func (c *Controller) Start(ctx context.Context) error {
	if c.params.Role != store.RoleTutor {
		return errors.New("only the tutor starts a session, use Join")
	}

	return errors.Trace(c.begin(ctx))
}

// Join enters the session as the answering student.
func (c *Controller) Join(ctx context.Context) error {
	if c.params.Role != store.RoleStudent {
		return errors.New("only the student joins a session, use Start")
	}

	return errors.Trace(c.begin(ctx))
}

// begin is idempotent: a second call while the session runs is a no-op.
func (c *Controller) begin(ctx context.Context) error {
	if !c.started.CompareAndSwap(true) {
		return nil
	}

	if err := c.params.Media.Acquire(ctx); err != nil {
		c.started.Set(false)

		return errors.Trace(err)
	}

	if c.params.Role == store.RoleTutor {
		online := true

		err := c.params.Store.SetCall(c.params.RoomID, store.CallFields{
			TutorOnline: &online,
		})
		if err != nil {
			c.started.Set(false)

			return errors.Annotate(err, "mark tutor online")
		}
	}

	records, unsubscribe, err := c.params.Store.SubscribeCall(c.ctx, c.params.RoomID)
	if err != nil {
		c.started.Set(false)

		return errors.Annotate(err, "watch call record")
	}

	c.watcherWG.Add(1)

	go c.watchTermination(records, unsubscribe)

	c.watcherWG.Add(1)

	go c.forwardEvents()

	c.monitor.Start()

	if err := c.neg.Start(ctx); err != nil {
		c.left.Set(true)
		c.started.Set(false)
		c.teardown(ReasonLeft, false)

		return errors.Trace(err)
	}

	c.log.Info("Session started", nil)

	prometheusSessionStartTotal.WithLabelValues(string(c.params.Role)).Inc()
	prometheusSessionActive.Inc()

	return nil
}

// Leave ends the session for both peers. The end marker write is best
// effort: while offline it is skipped rather than retried. Idempotent.
func (c *Controller) Leave() error {
	if !c.left.CompareAndSwap(true) {
		return nil
	}

	if c.monitor.Online() {
		ended := true
		fields := store.CallFields{Ended: &ended, TouchLastLeft: true}

		if c.params.Role == store.RoleTutor {
			offline := false
			fields.TutorOnline = &offline
		}

		if err := c.params.Store.SetCall(c.params.RoomID, fields); err != nil {
			c.log.Error("Write end marker", errors.Trace(err), nil)
		}
	} else {
		c.log.Info("Offline, leaving without end marker", nil)
	}

	c.teardown(ReasonLeft, true)

	return nil
}

// StepAway is the tutor's soft leave: the room stays open for a later
// rejoin, the student sees the tutor go offline. Idempotent.
func (c *Controller) StepAway() error {
	if c.params.Role != store.RoleTutor {
		return errors.New("only the tutor can step away")
	}

	if !c.left.CompareAndSwap(true) {
		return nil
	}

	if c.monitor.Online() {
		offline := false

		err := c.params.Store.SetCall(c.params.RoomID, store.CallFields{
			TutorOnline:   &offline,
			TouchLastLeft: true,
		})
		if err != nil {
			c.log.Error("Write step-away marker", errors.Trace(err), nil)
		}
	}

	c.teardown(ReasonLeft, true)

	return nil
}

// Resume is the visibility-regained hook: it retries the connection when
// the transport was left disconnected, and does nothing otherwise.
func (c *Controller) Resume() {
	c.neg.Reconnect()
}

// State returns the current negotiation state.
func (c *Controller) State() negotiator.State {
	return c.neg.State()
}

// Events delivers negotiation state changes in order. Closed on teardown.
func (c *Controller) Events() <-chan negotiator.State {
	return c.events
}

// Online reports store connectivity.
func (c *Controller) Online() bool {
	return c.monitor.Online()
}

// Chat returns the session's text channel.
func (c *Controller) Chat() *Chat {
	return c.chat
}

func (c *Controller) pingStore() error {
	_, err := c.params.Store.GetCall(c.params.RoomID)
	if err != nil && !multierr.Is(err, store.ErrRoomNotFound) {
		return errors.Trace(err)
	}

	return nil
}

// connectivityChanged runs on every online/offline edge. Regaining
// connectivity while the transport sits disconnected kicks off the
// reconnect that was deferred while offline.
func (c *Controller) connectivityChanged(online bool) {
	if online {
		c.neg.Reconnect()
	}
}

func (c *Controller) chatAvailable() bool {
	return c.monitor.Online() && c.neg.State() == negotiator.StateConnected
}

// watchTermination enforces the remote end conditions: an end marker from
// either role, or the tutor going offline from the student's side.
func (c *Controller) watchTermination(records <-chan store.CallRecord, unsubscribe func()) {
	defer c.watcherWG.Done()
	defer unsubscribe()

	for record := range records {
		if c.left.Get() {
			continue
		}

		if record.Ended {
			c.remoteTerminate()

			continue
		}

		if c.params.Role != store.RoleStudent {
			continue
		}

		if record.TutorOnline {
			c.mu.Lock()
			c.seenTutorOnline = true
			c.mu.Unlock()

			continue
		}

		// Only a transition to offline counts: a room whose tutor has not
		// arrived yet is not a stepped-away room.
		c.mu.Lock()
		seen := c.seenTutorOnline
		c.mu.Unlock()

		if seen {
			c.remoteTerminate()
		}
	}
}

func (c *Controller) remoteTerminate() {
	if !c.left.CompareAndSwap(true) {
		return
	}

	c.log.Info("Session ended remotely", nil)

	// Teardown waits for the watcher that called us, so it runs elsewhere.
	go c.teardown(ReasonRemoteEnded, true)
}

func (c *Controller) forwardEvents() {
	defer c.watcherWG.Done()

	for state := range c.neg.Events() {
		select {
		case c.events <- state:
		default:
			c.log.Warn("Session event dropped", logger.Ctx{
				"state": state,
			})
		}
	}
}

// teardown releases everything exactly once. After it returns the
// controller is inert: every entry point is a no-op.
func (c *Controller) teardown(reason TerminationReason, notify bool) {
	c.teardownOnce.Do(func() {
		c.cancel()
		c.neg.Close()
		c.monitor.Close()
		c.watcherWG.Wait()
		close(c.events)
		c.params.Media.Close()

		if c.started.Get() {
			prometheusSessionActive.Dec()
		}

		c.log.Info("Session torn down", logger.Ctx{
			"reason": reason,
		})

		if notify && c.params.OnTerminated != nil {
			c.params.OnTerminated(reason)
		}
	})
}
