package media

import (
	"context"
	"sync"
	"time"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/juju/errors"
	"github.com/pion/randutil"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	opusTimestampStep = 960 // 48kHz * 20ms

	videoFrameDuration = 33 * time.Millisecond
	videoTimestampStep = 3000 // 90kHz / ~30fps
)

// RTPSource is the headless DeviceSource: it synthesizes Opus silence and
// VP8 keyframe-shaped packets on a ticker. It exists so that a classcall
// session peer can run without any capture hardware and still exercise the
// full negotiation and transport path.
type RTPSource struct {
	log logger.Logger
	clk clock.Clock

	mu  sync.Mutex
	rnd randutil.MathRandomGenerator
	wg  sync.WaitGroup
}

var _ DeviceSource = &RTPSource{}

func NewRTPSource(log logger.Logger, clk clock.Clock) *RTPSource {
	return &RTPSource{
		log: log.WithNamespaceAppended("media:rtp"),
		clk: clk,
		rnd: randutil.NewMathRandomGenerator(),
	}
}

func (s *RTPSource) OpenMicrophone(_ context.Context) (*Track, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "classcall")
	if err != nil {
		return nil, errors.Annotate(err, "create audio track")
	}

	// A minimal Opus silence frame.
	payload := []byte{0xf8, 0xff, 0xfe}

	stop := s.startWriter(track, opusFrameDuration, opusTimestampStep, payload)

	return NewTrack(TrackKindAudio, track, stop), nil
}

func (s *RTPSource) OpenCamera(_ context.Context) (*Track, error) {
	return s.openVideo("camera")
}

func (s *RTPSource) OpenDisplay(_ context.Context) (*Track, error) {
	return s.openVideo("display")
}

func (s *RTPSource) openVideo(id string) (*Track, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, id, "classcall")
	if err != nil {
		return nil, errors.Annotatef(err, "create video track: %s", id)
	}

	// VP8 payload descriptor of an empty keyframe partition. Decoders show
	// black; the packets are valid enough to keep the transport flowing.
	payload := []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}

	stop := s.startWriter(track, videoFrameDuration, videoTimestampStep, payload)

	return NewTrack(TrackKindVideo, track, stop), nil
}

// startWriter spawns the packet ticker goroutine and returns its stop
// function.
func (s *RTPSource) startWriter(
	track *webrtc.TrackLocalStaticRTP,
	interval time.Duration,
	timestampStep uint32,
	payload []byte,
) func() {
	s.mu.Lock()
	sequence := uint16(s.rnd.Intn(1 << 16))
	timestamp := uint32(s.rnd.Intn(1 << 31))
	ssrc := uint32(s.rnd.Intn(1 << 31))
	s.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := s.clk.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C():
				packet := &rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						Marker:         true,
						SequenceNumber: sequence,
						Timestamp:      timestamp,
						SSRC:           ssrc,
					},
					Payload: payload,
				}

				sequence++
				timestamp += timestampStep

				if err := track.WriteRTP(packet); err != nil {
					s.log.Error("Write RTP", errors.Trace(err), logger.Ctx{
						"track_id": track.ID(),
					})
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			close(done)
		})
	}
}

// Wait blocks until all writer goroutines have exited. Used by tests and
// teardown.
func (s *RTPSource) Wait() {
	s.wg.Wait()
}
