package rtc

import (
	"io"
	"sync"
	"time"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/media"
	"github.com/classcall/classcall/server/negotiator"
	"github.com/classcall/classcall/server/store"
	"github.com/juju/errors"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

var _ negotiator.PeerConnection = &PeerConnection{}

// PeerConnection wraps *webrtc.PeerConnection behind the negotiator's
// transport surface, translating between pion types and store documents.
type PeerConnection struct {
	log         logger.Logger
	clk         clock.Clock
	pc          *webrtc.PeerConnection
	pliInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newPeerConnection(
	log logger.Logger,
	clk clock.Clock,
	pc *webrtc.PeerConnection,
	pliInterval time.Duration,
) *PeerConnection {
	p := &PeerConnection{
		log:         log,
		clk:         clk,
		pc:          pc,
		pliInterval: pliInterval,
		done:        make(chan struct{}),
	}

	pc.OnTrack(p.handleTrack)

	return p
}

func (p *PeerConnection) AddTrack(track webrtc.TrackLocal) (media.Sender, error) {
	sender, err := p.pc.AddTrack(track)

	return sender, errors.Annotate(err, "add track")
}

func (p *PeerConnection) CreateOffer(iceRestart bool) (store.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{
		ICERestart: iceRestart,
	})
	if err != nil {
		return store.SessionDescription{}, errors.Annotate(err, "create offer")
	}

	return store.SessionDescription{
		Type: offer.Type.String(),
		SDP:  offer.SDP,
	}, nil
}

func (p *PeerConnection) CreateAnswer() (store.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return store.SessionDescription{}, errors.Annotate(err, "create answer")
	}

	return store.SessionDescription{
		Type: answer.Type.String(),
		SDP:  answer.SDP,
	}, nil
}

func (p *PeerConnection) SetLocalDescription(desc store.SessionDescription) error {
	return errors.Annotate(
		p.pc.SetLocalDescription(pionDescription(desc)), "set local description")
}

func (p *PeerConnection) SetRemoteDescription(desc store.SessionDescription) error {
	return errors.Annotate(
		p.pc.SetRemoteDescription(pionDescription(desc)), "set remote description")
}

func (p *PeerConnection) RemoteDescriptionSet() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *PeerConnection) AddICECandidate(candidate store.Candidate) error {
	return errors.Annotate(p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	}), "add ice candidate")
}

func (p *PeerConnection) OnICECandidate(fn func(candidate store.Candidate)) {
	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// Nil marks the end of gathering.
		if candidate == nil {
			return
		}

		init := candidate.ToJSON()

		fn(store.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (p *PeerConnection) OnConnectionStateChange(fn func(state webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *PeerConnection) Close() error {
	var err error

	p.closeOnce.Do(func() {
		close(p.done)
		err = p.pc.Close()
		p.wg.Wait()
	})

	return errors.Trace(err)
}

// handleTrack drains every incoming track and keeps keyframes coming for
// video.
func (p *PeerConnection) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	p.log.Info("Track started", logger.Ctx{
		"track_id":   track.ID(),
		"track_kind": track.Kind(),
		"ssrc":       track.SSRC(),
	})

	if track.Kind() == webrtc.RTPCodecTypeVideo && p.pliInterval > 0 {
		p.wg.Add(1)

		go p.pliLoop(uint32(track.SSRC()))
	}

	p.wg.Add(1)

	go p.readLoop(track)
}

// readLoop consumes the track so the RTCP interceptors do their work. The
// payload itself goes nowhere: this peer has no renderer.
func (p *PeerConnection) readLoop(track *webrtc.TrackRemote) {
	defer p.wg.Done()

	for {
		if _, _, err := track.ReadRTP(); err != nil {
			if err != io.EOF {
				p.log.Debug("Track read ended", logger.Ctx{
					"track_id": track.ID(),
					"error":    err,
				})
			}

			return
		}
	}
}

// pliLoop asks the remote side for a keyframe on an interval, so a late or
// recovering receiver does not wait indefinitely for a decodable frame.
func (p *PeerConnection) pliLoop(ssrc uint32) {
	defer p.wg.Done()

	ticker := p.clk.NewTicker(p.pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			err := p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{
					MediaSSRC: ssrc,
				},
			})
			if err != nil {
				p.log.Debug("Write PLI", logger.Ctx{
					"ssrc":  ssrc,
					"error": err,
				})

				return
			}
		case <-p.done:
			return
		}
	}
}

func pionDescription(desc store.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
}
