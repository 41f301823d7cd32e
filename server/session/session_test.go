package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/media"
	"github.com/classcall/classcall/server/multierr"
	"github.com/classcall/classcall/server/negotiator"
	"github.com/classcall/classcall/server/session"
	"github.com/classcall/classcall/server/store"
	"github.com/classcall/classcall/server/test"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const room = store.RoomID("session-room")

type peer struct {
	controller *session.Controller
	factory    *fakeFactory
	pipeline   *media.Pipeline
	terminated chan session.TerminationReason
}

func newPeer(
	t *testing.T,
	st store.Store,
	clk clock.Clock,
	role store.Role,
) *peer {
	t.Helper()

	log := test.NewLogger()
	factory := &fakeFactory{}
	pipeline := media.NewPipeline(log, media.NewFakeSource())
	terminated := make(chan session.TerminationReason, 1)

	controller := session.New(session.Params{
		Log:               log,
		Store:             st,
		Media:             pipeline,
		NewPeerConnection: factory.create,
		Clock:             clk,
		RoomID:            room,
		Role:              role,
		Backoff:           2 * time.Second,
		PingInterval:      time.Second,
		OnTerminated: func(reason session.TerminationReason) {
			terminated <- reason
		},
	})

	return &peer{
		controller: controller,
		factory:    factory,
		pipeline:   pipeline,
		terminated: terminated,
	}
}

func waitState(t *testing.T, events <-chan negotiator.State, want negotiator.State) {
	t.Helper()

	for state := range events {
		if state == want {
			return
		}
	}

	t.Fatalf("events closed before reaching %s", want)
}

func connect(t *testing.T, tutor, student *peer) {
	t.Helper()

	require.NoError(t, tutor.controller.Start(context.Background()))
	require.NoError(t, student.controller.Join(context.Background()))

	// The student answers the published offer; the answer lands on the
	// tutor's connection.
	require.Eventually(t, func() bool {
		return tutor.factory.count() == 1 && tutor.factory.pc(0).RemoteDescriptionSet()
	}, 5*time.Second, 10*time.Millisecond)

	tutor.factory.pc(0).fireState(webrtc.PeerConnectionStateConnected)
	student.factory.pc(0).fireState(webrtc.PeerConnectionStateConnected)

	waitState(t, tutor.controller.Events(), negotiator.StateConnected)
	waitState(t, student.controller.Events(), negotiator.StateConnected)
}

func TestSession_HappyPath(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer test.Timeout(t, 15*time.Second)()

	log := test.NewLogger()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	sharedStore := store.NewMemoryStore(log, clk)
	defer sharedStore.Close()

	tutor := newPeer(t, sharedStore, clk, store.RoleTutor)
	student := newPeer(t, sharedStore, clk, store.RoleStudent)

	connect(t, tutor, student)

	assert.Equal(t, negotiator.StateConnected, tutor.controller.State())
	assert.Equal(t, negotiator.StateConnected, student.controller.State())

	// Both sides chat once connected.
	require.NoError(t, tutor.controller.Chat().Send("hello"))
	clk.Add(time.Millisecond)
	require.NoError(t, student.controller.Chat().Send("hi"))

	messages, err := student.controller.Chat().Messages()
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Tutor", messages[0].Sender)
	assert.Equal(t, "hello", messages[0].Text)
	assert.Equal(t, "Student", messages[1].Sender)

	// The tutor hangs up; the student is forced out.
	require.NoError(t, tutor.controller.Leave())

	assert.Equal(t, session.ReasonLeft, <-tutor.terminated)
	assert.Equal(t, session.ReasonRemoteEnded, <-student.terminated)

	record, err := sharedStore.GetCall(room)
	require.NoError(t, err)
	assert.True(t, record.Ended)
	assert.False(t, record.TutorOnline)
	assert.False(t, record.LastLeftAt.IsZero())

	// Leaving after the remote end is a quiet no-op.
	require.NoError(t, student.controller.Leave())
	assert.Equal(t, negotiator.StateEnded, student.controller.State())
}

func TestSession_StartIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer test.Timeout(t, 15*time.Second)()

	log := test.NewLogger()
	clk := clock.NewMock()
	sharedStore := store.NewMemoryStore(log, clk)
	defer sharedStore.Close()

	tutor := newPeer(t, sharedStore, clk, store.RoleTutor)

	require.NoError(t, tutor.controller.Start(context.Background()))
	require.NoError(t, tutor.controller.Start(context.Background()))

	assert.Equal(t, 1, tutor.factory.count())

	require.NoError(t, tutor.controller.Leave())
	<-tutor.terminated
}

func TestSession_RoleGuards(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := test.NewLogger()
	clk := clock.NewMock()
	sharedStore := store.NewMemoryStore(log, clk)
	defer sharedStore.Close()

	student := newPeer(t, sharedStore, clk, store.RoleStudent)

	assert.Error(t, student.controller.Start(context.Background()))
	assert.Error(t, student.controller.StepAway())

	require.NoError(t, student.controller.Leave())
	<-student.terminated
}

func TestSession_MediaFailureIsFatal(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := test.NewLogger()
	clk := clock.NewMock()
	sharedStore := store.NewMemoryStore(log, clk)
	defer sharedStore.Close()

	source := media.NewFakeSource()
	source.MicrophoneErr = media.ErrPermissionDenied
	pipeline := media.NewPipeline(log, source)
	defer pipeline.Close()

	controller := session.New(session.Params{
		Log:               log,
		Store:             sharedStore,
		Media:             pipeline,
		NewPeerConnection: (&fakeFactory{}).create,
		Clock:             clk,
		RoomID:            room,
		Role:              store.RoleTutor,
	})

	err := controller.Start(context.Background())
	assert.True(t, multierr.Is(err, media.ErrPermissionDenied))

	require.NoError(t, controller.Leave())
}

func TestSession_StepAway(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer test.Timeout(t, 15*time.Second)()

	log := test.NewLogger()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	sharedStore := store.NewMemoryStore(log, clk)
	defer sharedStore.Close()

	tutor := newPeer(t, sharedStore, clk, store.RoleTutor)
	student := newPeer(t, sharedStore, clk, store.RoleStudent)

	connect(t, tutor, student)

	require.NoError(t, tutor.controller.StepAway())
	assert.Equal(t, session.ReasonLeft, <-tutor.terminated)

	// The student sees the tutor go offline and is torn down, but the room
	// itself stays open for a rejoin.
	assert.Equal(t, session.ReasonRemoteEnded, <-student.terminated)

	record, err := sharedStore.GetCall(room)
	require.NoError(t, err)
	assert.False(t, record.Ended)
	assert.False(t, record.TutorOnline)
	assert.False(t, record.LastLeftAt.IsZero())
}

func TestSession_ChatGatedOnConnection(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer test.Timeout(t, 15*time.Second)()

	log := test.NewLogger()
	clk := clock.NewMock()
	sharedStore := store.NewMemoryStore(log, clk)
	defer sharedStore.Close()

	tutor := newPeer(t, sharedStore, clk, store.RoleTutor)

	require.NoError(t, tutor.controller.Start(context.Background()))

	// Negotiating, not yet connected.
	err := tutor.controller.Chat().Send("too early")
	assert.True(t, multierr.Is(err, session.ErrChatUnavailable))

	tutor.factory.pc(0).fireState(webrtc.PeerConnectionStateConnected)
	waitState(t, tutor.controller.Events(), negotiator.StateConnected)

	require.NoError(t, tutor.controller.Chat().Send("now it works"))

	require.NoError(t, tutor.controller.Leave())
	<-tutor.terminated
}

func TestSession_OfflineReconnectOnConnectivityEdge(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer test.Timeout(t, 15*time.Second)()

	log := test.NewLogger()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	memoryStore := store.NewMemoryStore(log, clk)
	defer memoryStore.Close()

	flaky := &failableStore{Store: memoryStore}
	tutor := newPeer(t, flaky, clk, store.RoleTutor)

	require.NoError(t, tutor.controller.Start(context.Background()))

	pc1 := tutor.factory.pc(0)
	pc1.fireState(webrtc.PeerConnectionStateConnected)
	waitState(t, tutor.controller.Events(), negotiator.StateConnected)

	// The store becomes unreachable and the next probe notices.
	flaky.setDown(true)
	clk.Add(time.Second)

	require.Eventually(t, func() bool {
		return !tutor.controller.Online()
	}, 5*time.Second, 10*time.Millisecond)

	// Transport failure while offline: no reconnect is scheduled.
	pc1.fireState(webrtc.PeerConnectionStateFailed)
	waitState(t, tutor.controller.Events(), negotiator.StateDisconnected)
	assert.Equal(t, 1, tutor.factory.count())

	// Connectivity returns; the probe edge triggers the deferred reconnect.
	flaky.setDown(false)
	clk.Add(time.Second)
	waitState(t, tutor.controller.Events(), negotiator.StateReconnecting)

	clk.Add(2 * time.Second)
	waitState(t, tutor.controller.Events(), negotiator.StateNegotiating)
	assert.Equal(t, 2, tutor.factory.count())

	require.NoError(t, tutor.controller.Leave())
	<-tutor.terminated
}

func TestSession_TeardownTerminal(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer test.Timeout(t, 15*time.Second)()

	log := test.NewLogger()
	clk := clock.NewMock()
	sharedStore := store.NewMemoryStore(log, clk)
	defer sharedStore.Close()

	tutor := newPeer(t, sharedStore, clk, store.RoleTutor)

	require.NoError(t, tutor.controller.Start(context.Background()))
	require.NoError(t, tutor.controller.Leave())
	<-tutor.terminated

	assert.Equal(t, negotiator.StateEnded, tutor.controller.State())

	// Everything after teardown is inert.
	require.NoError(t, tutor.controller.Leave())
	tutor.controller.Resume()
	clk.Add(time.Minute)

	err := tutor.controller.Chat().Send("too late")
	assert.True(t, multierr.Is(err, session.ErrChatUnavailable))

	assert.Equal(t, 1, tutor.factory.count())

	// The events channel has closed.
	for range tutor.controller.Events() {
	}
}
