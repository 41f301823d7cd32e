package session_test

import (
	"fmt"
	"sync"

	"github.com/classcall/classcall/server/media"
	"github.com/classcall/classcall/server/negotiator"
	"github.com/classcall/classcall/server/store"
	"github.com/juju/errors"
	"github.com/pion/webrtc/v3"
)

var errStoreDown = errors.New("store down")

type fakeSender struct{}

func (s *fakeSender) ReplaceTrack(webrtc.TrackLocal) error {
	return nil
}

type fakePC struct {
	id int

	mu      sync.Mutex
	local   *store.SessionDescription
	remote  *store.SessionDescription
	onState func(webrtc.PeerConnectionState)
	closed  bool
}

func (p *fakePC) AddTrack(webrtc.TrackLocal) (media.Sender, error) {
	return &fakeSender{}, nil
}

func (p *fakePC) CreateOffer(bool) (store.SessionDescription, error) {
	return store.SessionDescription{
		Type: "offer",
		SDP:  fmt.Sprintf("offer-%d", p.id),
	}, nil
}

func (p *fakePC) CreateAnswer() (store.SessionDescription, error) {
	return store.SessionDescription{
		Type: "answer",
		SDP:  fmt.Sprintf("answer-%d", p.id),
	}, nil
}

func (p *fakePC) SetLocalDescription(desc store.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.local = &desc

	return nil
}

func (p *fakePC) SetRemoteDescription(desc store.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.remote = &desc

	return nil
}

func (p *fakePC) RemoteDescriptionSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.remote != nil
}

func (p *fakePC) AddICECandidate(store.Candidate) error {
	return nil
}

func (p *fakePC) OnICECandidate(func(store.Candidate)) {}

func (p *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.onState = fn
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

func (p *fakePC) fireState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

type fakeFactory struct {
	mu  sync.Mutex
	pcs []*fakePC
}

func (f *fakeFactory) create() (negotiator.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pc := &fakePC{id: len(f.pcs) + 1}
	f.pcs = append(f.pcs, pc)

	return pc, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.pcs)
}

func (f *fakeFactory) pc(i int) *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pcs[i]
}

// failableStore wraps a Store so tests can simulate losing connectivity to
// the signaling backend.
type failableStore struct {
	store.Store

	mu   sync.Mutex
	down bool
}

func (s *failableStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.down = down
}

func (s *failableStore) GetCall(roomID store.RoomID) (store.CallRecord, error) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()

	if down {
		return store.CallRecord{}, errStoreDown
	}

	return s.Store.GetCall(roomID)
}
