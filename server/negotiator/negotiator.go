// Package negotiator drives the WebRTC offer/answer handshake of one
// session peer through the signaling store. The tutor initiates every
// round; the student answers. Either side recovers from transport failure
// by re-running its half of the protocol against a fresh peer connection.
package negotiator

import (
	"context"
	"sync"
	"time"

	"github.com/classcall/classcall/server/atomic"
	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/media"
	"github.com/classcall/classcall/server/store"
	"github.com/juju/errors"
	"github.com/pion/webrtc/v3"
)

// DefaultBackoff is the delay between a transport failure and the restart
// attempt.
const DefaultBackoff = 2 * time.Second

const eventBufferSize = 64

// PeerConnection is the transport surface the negotiator drives. The rtc
// package implements it on top of pion; tests use a fake.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (media.Sender, error)
	CreateOffer(iceRestart bool) (store.SessionDescription, error)
	CreateAnswer() (store.SessionDescription, error)
	SetLocalDescription(desc store.SessionDescription) error
	SetRemoteDescription(desc store.SessionDescription) error
	RemoteDescriptionSet() bool
	AddICECandidate(candidate store.Candidate) error
	OnICECandidate(fn func(candidate store.Candidate))
	OnConnectionStateChange(fn func(state webrtc.PeerConnectionState))
	Close() error
}

// PCFactory creates a fresh peer connection for one negotiation round.
type PCFactory func() (PeerConnection, error)

// MediaAttacher adds the local tracks to a new peer connection.
// *media.Pipeline satisfies it.
type MediaAttacher interface {
	AttachTo(pc media.TrackAdder) error
}

type Params struct {
	Log               logger.Logger
	Store             store.Store
	Media             MediaAttacher
	NewPeerConnection PCFactory
	Clock             clock.Clock
	RoomID            store.RoomID
	Role              store.Role

	// Backoff is the reconnect delay. Zero means DefaultBackoff.
	Backoff time.Duration

	// Online gates automatic reconnection. When it reports false the failure
	// is left for the connectivity monitor to retrigger via Reconnect. Nil
	// means always online.
	Online func() bool
}

// Negotiator is the per-peer negotiation state machine. All mutation runs
// under one mutex; at most one peer connection is live at any time.
type Negotiator struct {
	params  Params
	log     logger.Logger
	backoff time.Duration

	events chan State
	done   chan struct{}

	// reconnecting makes the recovery path single-flight: concurrent failure
	// signals schedule exactly one restart.
	reconnecting atomic.Bool

	mu         sync.Mutex
	state      State
	closed     bool
	pc         PeerConnection
	generation int
	pending    []store.Candidate
	seen       map[string]struct{}
	// localOffer is the SDP of the offer this round published. The initiator
	// only accepts an answer from a call record still carrying it; records
	// written before the offer carry the previous one and are stale.
	localOffer string
	// appliedOffer is the remote offer SDP the joiner answered. A call
	// record with a different offer forces a discard and restart.
	appliedOffer string
	roundCancel  context.CancelFunc
	callCancel   func()
	wg           sync.WaitGroup
}

func New(params Params) *Negotiator {
	backoff := params.Backoff
	if backoff == 0 {
		backoff = DefaultBackoff
	}

	return &Negotiator{
		params:  params,
		log:     params.Log.WithNamespaceAppended("negotiator"),
		backoff: backoff,
		events:  make(chan State, eventBufferSize),
		done:    make(chan struct{}),
		state:   StateIdle,
		seen:    map[string]struct{}{},
	}
}

// State returns the current lifecycle state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.state
}

// Events delivers state changes in order. The channel closes when the
// negotiator is closed.
func (n *Negotiator) Events() <-chan State {
	return n.events
}

// Start begins the role protocol. The initiator publishes an offer
// immediately; the joiner waits for one through the call subscription.
func (n *Negotiator) Start(ctx context.Context) error {
	records, unsubscribe, err := n.params.Store.SubscribeCall(ctx, n.params.RoomID)
	if err != nil {
		return errors.Annotate(err, "subscribe call")
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		unsubscribe()

		return errors.New("negotiator is ended")
	}

	n.callCancel = unsubscribe

	n.wg.Add(1)

	go func() {
		defer n.wg.Done()

		for record := range records {
			n.handleCallRecord(record)
		}
	}()

	if n.params.Role == store.RoleTutor {
		err := n.startInitiatorRoundLocked(false)
		n.mu.Unlock()

		return errors.Trace(err)
	}

	n.mu.Unlock()

	return nil
}

// Reconnect triggers the recovery path when the transport is disconnected.
// Used on the connectivity-regained and visibility-resumed edges; a no-op
// in any other state.
func (n *Negotiator) Reconnect() {
	n.maybeReconnect()
}

// Close ends the negotiation for good. The state becomes StateEnded and the
// events channel closes once internal goroutines have drained.
func (n *Negotiator) Close() {
	n.mu.Lock()

	if n.closed {
		n.mu.Unlock()

		return
	}

	n.closed = true
	n.applyLocked(EventEnd)

	if n.roundCancel != nil {
		n.roundCancel()
	}

	if n.callCancel != nil {
		n.callCancel()
	}

	pc := n.pc
	n.pc = nil
	n.mu.Unlock()

	close(n.done)

	if pc != nil {
		if err := pc.Close(); err != nil {
			n.log.Error("Close peer connection", errors.Trace(err), nil)
		}
	}

	n.wg.Wait()
	close(n.events)
}

// handleCallRecord reacts to every mutation of the shared call record.
func (n *Negotiator) handleCallRecord(record store.CallRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	if n.params.Role == store.RoleTutor {
		n.handleAnswerLocked(record)

		return
	}

	n.handleOfferLocked(record)
}

func (n *Negotiator) handleAnswerLocked(record store.CallRecord) {
	if n.pc == nil || n.pc.RemoteDescriptionSet() || record.Answer == nil {
		return
	}

	// Records written before this round's offer still carry the previous
	// offer, so their answer belongs to a connection that no longer exists.
	if record.Offer == nil || record.Offer.SDP != n.localOffer {
		return
	}

	if err := n.pc.SetRemoteDescription(*record.Answer); err != nil {
		n.log.Error("Set remote answer", errors.Trace(err), nil)

		return
	}

	n.flushPendingLocked()
}

func (n *Negotiator) handleOfferLocked(record store.CallRecord) {
	if record.Ended || record.Offer == nil || !record.TutorOnline {
		return
	}

	if n.pc != nil && n.pc.RemoteDescriptionSet() {
		if record.Offer.SDP == n.appliedOffer {
			return
		}

		// The initiator started a new round. Patch nothing: discard the
		// whole connection and answer the new offer from scratch.
		n.log.Info("New remote offer, restarting", logger.Ctx{
			"room_id": n.params.RoomID,
		})
	}

	if err := n.startJoinerRoundLocked(*record.Offer); err != nil {
		n.log.Error("Answer offer", errors.Trace(err), nil)
	}
}

// newRoundLocked discards the previous connection and its candidate state
// and creates a fresh peer connection with tracks attached.
func (n *Negotiator) newRoundLocked() (PeerConnection, context.Context, int, error) {
	if n.roundCancel != nil {
		n.roundCancel()
		n.roundCancel = nil
	}

	if n.pc != nil {
		if err := n.pc.Close(); err != nil {
			n.log.Error("Close previous peer connection", errors.Trace(err), nil)
		}

		n.pc = nil
	}

	n.generation++
	gen := n.generation
	n.pending = nil
	n.seen = map[string]struct{}{}
	n.localOffer = ""
	n.appliedOffer = ""

	n.applyLocked(EventNegotiate)

	pc, err := n.params.NewPeerConnection()
	if err != nil {
		return nil, nil, 0, errors.Annotate(err, "create peer connection")
	}

	if err := n.params.Media.AttachTo(pc); err != nil {
		_ = pc.Close()

		return nil, nil, 0, errors.Annotate(err, "attach media")
	}

	pc.OnICECandidate(func(candidate store.Candidate) {
		n.publishLocalCandidate(gen, candidate)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.handleConnectionState(gen, state)
	})

	ctx, cancel := context.WithCancel(context.Background())
	n.roundCancel = cancel
	n.pc = pc

	return pc, ctx, gen, nil
}

func (n *Negotiator) startInitiatorRoundLocked(iceRestart bool) error {
	pc, roundCtx, gen, err := n.newRoundLocked()
	if err != nil {
		return errors.Trace(err)
	}

	offer, err := pc.CreateOffer(iceRestart)
	if err != nil {
		return errors.Annotate(err, "create offer")
	}

	if err := pc.SetLocalDescription(offer); err != nil {
		return errors.Annotate(err, "set local offer")
	}

	n.localOffer = offer.SDP

	st := n.params.Store
	roomID := n.params.RoomID

	// Leftovers of the previous round would otherwise be answered or applied
	// against the new connection.
	if err := st.ClearCandidates(roomID, store.RoleTutor); err != nil {
		return errors.Annotate(err, "clear offer candidates")
	}

	if err := st.ClearCandidates(roomID, store.RoleStudent); err != nil {
		return errors.Annotate(err, "clear answer candidates")
	}

	if err := n.subscribeCandidatesLocked(roundCtx, gen); err != nil {
		return errors.Trace(err)
	}

	ended := false

	err = st.SetCall(roomID, store.CallFields{
		Offer:       &offer,
		ClearAnswer: true,
		Ended:       &ended,
	})
	if err != nil {
		return errors.Annotate(err, "publish offer")
	}

	n.log.Info("Offer published", logger.Ctx{
		"room_id":     roomID,
		"ice_restart": iceRestart,
	})

	prometheusNegotiationTotal.WithLabelValues(string(n.params.Role)).Inc()

	return nil
}

func (n *Negotiator) startJoinerRoundLocked(offer store.SessionDescription) error {
	pc, roundCtx, gen, err := n.newRoundLocked()
	if err != nil {
		return errors.Trace(err)
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return errors.Annotate(err, "set remote offer")
	}

	n.appliedOffer = offer.SDP

	answer, err := pc.CreateAnswer()
	if err != nil {
		return errors.Annotate(err, "create answer")
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		return errors.Annotate(err, "set local answer")
	}

	if err := n.subscribeCandidatesLocked(roundCtx, gen); err != nil {
		return errors.Trace(err)
	}

	st := n.params.Store
	roomID := n.params.RoomID

	if err := st.SetCall(roomID, store.CallFields{Answer: &answer}); err != nil {
		return errors.Annotate(err, "publish answer")
	}

	// Offer candidates written before the subscription existed. Overlap with
	// the subscription is possible; the seen set deduplicates by id.
	snapshot, err := st.GetCandidates(roomID, store.RoleTutor)
	if err != nil {
		return errors.Annotate(err, "read offer candidates")
	}

	for _, candidate := range snapshot {
		n.ingestCandidateLocked(gen, candidate)
	}

	n.log.Info("Answer published", logger.Ctx{
		"room_id": roomID,
	})

	prometheusNegotiationTotal.WithLabelValues(string(n.params.Role)).Inc()

	return nil
}

// subscribeCandidatesLocked watches the remote role's candidate collection
// for the rest of the round.
func (n *Negotiator) subscribeCandidatesLocked(ctx context.Context, gen int) error {
	candidates, unsubscribe, err := n.params.Store.SubscribeCandidates(
		ctx, n.params.RoomID, n.params.Role.Other())
	if err != nil {
		return errors.Annotate(err, "subscribe candidates")
	}

	n.wg.Add(1)

	go func() {
		defer n.wg.Done()
		defer unsubscribe()

		for candidate := range candidates {
			n.mu.Lock()
			n.ingestCandidateLocked(gen, candidate)
			n.mu.Unlock()
		}
	}()

	return nil
}

// ingestCandidateLocked queues or applies one remote candidate. Candidates
// from a previous round and duplicate deliveries are dropped silently.
func (n *Negotiator) ingestCandidateLocked(gen int, candidate store.Candidate) {
	if n.closed || gen != n.generation || n.pc == nil {
		return
	}

	if candidate.ID != "" {
		if _, ok := n.seen[candidate.ID]; ok {
			return
		}

		n.seen[candidate.ID] = struct{}{}
	}

	if !n.pc.RemoteDescriptionSet() {
		n.pending = append(n.pending, candidate)
		prometheusCandidateQueuedTotal.Inc()

		return
	}

	n.applyCandidateLocked(candidate)
}

// flushPendingLocked applies the queued candidates in arrival order. Called
// right after the remote description is set.
func (n *Negotiator) flushPendingLocked() {
	pending := n.pending
	n.pending = nil

	for _, candidate := range pending {
		n.applyCandidateLocked(candidate)
	}
}

func (n *Negotiator) applyCandidateLocked(candidate store.Candidate) {
	if err := n.pc.AddICECandidate(candidate); err != nil {
		n.log.Error("Add remote candidate", errors.Trace(err), nil)

		return
	}

	prometheusCandidateAppliedTotal.Inc()
}

// publishLocalCandidate writes one locally gathered candidate to this
// role's collection.
func (n *Negotiator) publishLocalCandidate(gen int, candidate store.Candidate) {
	n.mu.Lock()

	if n.closed || gen != n.generation {
		n.mu.Unlock()

		return
	}
	n.mu.Unlock()

	_, err := n.params.Store.AddCandidate(n.params.RoomID, n.params.Role, candidate)
	if err != nil {
		n.log.Error("Publish candidate", errors.Trace(err), nil)
	}
}

func (n *Negotiator) handleConnectionState(gen int, state webrtc.PeerConnectionState) {
	n.mu.Lock()

	if n.closed || gen != n.generation {
		n.mu.Unlock()

		return
	}

	n.log.Debug("Connection state changed", logger.Ctx{
		"connection_state": state,
	})

	switch state {
	case webrtc.PeerConnectionStateConnected:
		n.applyLocked(EventConnected)
		n.mu.Unlock()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		n.applyLocked(EventDisconnected)
		n.mu.Unlock()

		n.maybeReconnect()
	default:
		n.mu.Unlock()
	}
}

func (n *Negotiator) maybeReconnect() {
	n.mu.Lock()

	if n.closed || n.state != StateDisconnected {
		n.mu.Unlock()

		return
	}
	n.mu.Unlock()

	if online := n.params.Online; online != nil && !online() {
		// The connectivity monitor calls Reconnect on the next online edge.
		n.log.Info("Offline, reconnect deferred", nil)

		return
	}

	if !n.reconnecting.CompareAndSwap(true) {
		return
	}

	n.mu.Lock()

	if n.closed || n.state != StateDisconnected {
		n.mu.Unlock()
		n.reconnecting.Set(false)

		return
	}

	// The timer must exist before the reconnecting state is observable, so
	// that a clock advance racing the state event cannot skip past it.
	timer := n.params.Clock.NewTimer(n.backoff)

	n.applyLocked(EventReconnect)
	n.mu.Unlock()

	n.log.Info("Reconnect scheduled", logger.Ctx{
		"backoff": n.backoff,
	})

	prometheusReconnectTotal.WithLabelValues(string(n.params.Role)).Inc()

	n.wg.Add(1)

	go func() {
		defer n.wg.Done()
		defer n.reconnecting.Set(false)

		select {
		case <-timer.C():
		case <-n.done:
			timer.Stop()

			return
		}

		n.restart()
	}()
}

// restart re-runs the role protocol after the backoff.
func (n *Negotiator) restart() {
	if n.params.Role == store.RoleTutor {
		n.mu.Lock()

		if n.closed {
			n.mu.Unlock()

			return
		}

		if err := n.startInitiatorRoundLocked(true); err != nil {
			n.applyLocked(EventDisconnected)
			n.mu.Unlock()

			n.log.Error("Restart negotiation", errors.Trace(err), nil)

			return
		}

		n.mu.Unlock()

		return
	}

	// The joiner answers whatever offer is current. When the initiator is
	// restarting too, its fresh offer arrives through the call subscription
	// and forces another round; answering the old offer here is harmless.
	record, err := n.params.Store.GetCall(n.params.RoomID)
	if err != nil {
		n.mu.Lock()
		n.applyLocked(EventDisconnected)
		n.mu.Unlock()

		n.log.Error("Read call for restart", errors.Trace(err), nil)

		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	if record.Ended || record.Offer == nil || !record.TutorOnline {
		n.applyLocked(EventDisconnected)

		return
	}

	if err := n.startJoinerRoundLocked(*record.Offer); err != nil {
		n.applyLocked(EventDisconnected)

		n.log.Error("Restart negotiation", errors.Trace(err), nil)
	}
}

// applyLocked feeds the pure transition function and emits the new state.
func (n *Negotiator) applyLocked(event Event) {
	next, ok := transition(n.state, event)
	if !ok || next == n.state {
		return
	}

	n.state = next

	select {
	case n.events <- next:
	default:
		n.log.Warn("State event dropped", logger.Ctx{
			"state": next,
		})
	}
}
