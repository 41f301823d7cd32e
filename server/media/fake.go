package media

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/pion/webrtc/v3"
)

// FakeSource is a DeviceSource for tests and local development. Tracks are
// real webrtc sample tracks without any generator behind them, so opening
// is instant and side-effect free. Errors can be injected per device.
type FakeSource struct {
	mu sync.Mutex

	MicrophoneErr error
	CameraErr     error
	DisplayErr    error

	opened []*Track
}

var _ DeviceSource = &FakeSource{}

func NewFakeSource() *FakeSource {
	return &FakeSource{}
}

func (s *FakeSource) OpenMicrophone(_ context.Context) (*Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.MicrophoneErr != nil {
		return nil, errors.Trace(s.MicrophoneErr)
	}

	return s.newTrack(TrackKindAudio, webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeOpus,
	}, "audio"), nil
}

func (s *FakeSource) OpenCamera(_ context.Context) (*Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CameraErr != nil {
		return nil, errors.Trace(s.CameraErr)
	}

	return s.newTrack(TrackKindVideo, webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8,
	}, "camera"), nil
}

func (s *FakeSource) OpenDisplay(_ context.Context) (*Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DisplayErr != nil {
		return nil, errors.Trace(s.DisplayErr)
	}

	return s.newTrack(TrackKindVideo, webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8,
	}, "display"), nil
}

func (s *FakeSource) newTrack(
	kind TrackKind, capability webrtc.RTPCodecCapability, id string,
) *Track {
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, "fake")
	if err != nil {
		// Static capabilities above are always valid.
		panic(err)
	}

	track := NewTrack(kind, local, nil)
	s.opened = append(s.opened, track)

	return track
}

// Opened returns every track the source has handed out, in order.
func (s *FakeSource) Opened() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Track(nil), s.opened...)
}
