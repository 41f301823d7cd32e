package negotiator

import (
	"testing"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/media"
	"github.com/classcall/classcall/server/store"
	"github.com/classcall/classcall/server/test"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type countingPC struct {
	remote  *store.SessionDescription
	applied []store.Candidate
}

func (p *countingPC) AddTrack(webrtc.TrackLocal) (media.Sender, error) {
	return nil, nil
}

func (p *countingPC) CreateOffer(bool) (store.SessionDescription, error) {
	return store.SessionDescription{Type: "offer", SDP: "offer"}, nil
}

func (p *countingPC) CreateAnswer() (store.SessionDescription, error) {
	return store.SessionDescription{Type: "answer", SDP: "answer"}, nil
}

func (p *countingPC) SetLocalDescription(store.SessionDescription) error {
	return nil
}

func (p *countingPC) SetRemoteDescription(desc store.SessionDescription) error {
	p.remote = &desc

	return nil
}

func (p *countingPC) RemoteDescriptionSet() bool {
	return p.remote != nil
}

func (p *countingPC) AddICECandidate(candidate store.Candidate) error {
	p.applied = append(p.applied, candidate)

	return nil
}

func (p *countingPC) OnICECandidate(func(store.Candidate)) {}

func (p *countingPC) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (p *countingPC) Close() error {
	return nil
}

// Redis delivers a candidate both in the snapshot read and through the
// subscription when the two overlap. The seen set must collapse such
// duplicates, and candidates from a discarded round must be dropped.
func TestIngestCandidate_DedupeAndStaleDrop(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := test.NewLogger()
	clk := clock.NewMock()
	memoryStore := store.NewMemoryStore(log, clk)
	defer memoryStore.Close()

	pc := &countingPC{}

	n := New(Params{
		Log:   log,
		Store: memoryStore,
		Media: noopAttacher{},
		NewPeerConnection: func() (PeerConnection, error) {
			return pc, nil
		},
		Clock:  clk,
		RoomID: "room-1",
		Role:   store.RoleStudent,
	})
	defer n.Close()

	offer := store.SessionDescription{Type: "offer", SDP: "tutor-offer"}
	n.handleCallRecord(store.CallRecord{Offer: &offer, TutorOnline: true})

	n.mu.Lock()
	gen := n.generation
	require.Equal(t, 1, gen)

	n.ingestCandidateLocked(gen, store.Candidate{ID: "a", Candidate: "c1"})
	n.ingestCandidateLocked(gen, store.Candidate{ID: "a", Candidate: "c1"})
	n.ingestCandidateLocked(gen, store.Candidate{ID: "b", Candidate: "c2"})
	n.ingestCandidateLocked(gen-1, store.Candidate{ID: "z", Candidate: "stale"})
	n.mu.Unlock()

	require.Len(t, pc.applied, 2)
	assert.Equal(t, "c1", pc.applied[0].Candidate)
	assert.Equal(t, "c2", pc.applied[1].Candidate)
}

type noopAttacher struct{}

func (noopAttacher) AttachTo(media.TrackAdder) error {
	return nil
}
