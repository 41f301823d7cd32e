// Package media implements the local media pipeline of a session peer: track
// acquisition, mute toggles and screen sharing. It knows nothing about
// signaling; the session controller attaches the pipeline to a peer
// connection once negotiation starts.
package media

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/pion/webrtc/v3"
)

var (
	// ErrPermissionDenied means the capture device exists but access was
	// refused. Fatal to session start, never retried.
	ErrPermissionDenied = errors.New("device permission denied")

	// ErrDeviceUnavailable means no usable capture device was found.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrNoDisplay means no display surface is available for sharing. Unlike
	// the camera errors it is not fatal to the session.
	ErrNoDisplay = errors.New("no display to share")
)

// TrackKind distinguishes the audio and video halves of the pipeline.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// DeviceSource abstracts the capture layer. The production implementation
// synthesizes RTP; tests plug in a fake.
type DeviceSource interface {
	OpenMicrophone(ctx context.Context) (*Track, error)
	OpenCamera(ctx context.Context) (*Track, error)
	OpenDisplay(ctx context.Context) (*Track, error)
}

// Sender is the transceiver half the pipeline substitutes tracks on. It is
// the subset of *webrtc.RTPSender the pipeline needs.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// TrackAdder is the subset of a peer connection the pipeline attaches to.
type TrackAdder interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)
}

// Track pairs a local webrtc track with its enabled flag and lifecycle. A
// stopped track never restarts; reacquisition creates a new Track.
type Track struct {
	kind  TrackKind
	local webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	stopped bool
	stop    func()
	onEnded []func()
}

// NewTrack wraps local. The stop callback tears down the underlying
// generator or capture and may be nil.
func NewTrack(kind TrackKind, local webrtc.TrackLocal, stop func()) *Track {
	return &Track{
		kind:    kind,
		local:   local,
		enabled: true,
		stop:    stop,
	}
}

func (t *Track) Kind() TrackKind {
	return t.kind
}

// Local returns the track to hand to a peer connection.
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.enabled
}

// Toggle flips the enabled flag and returns the new value.
func (t *Track) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = !t.enabled

	return t.enabled
}

// Live reports whether the track has not been stopped.
func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return !t.stopped
}

// OnEnded registers fn to run when the track stops. Registration after the
// track has stopped runs fn immediately.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()

	if t.stopped {
		t.mu.Unlock()
		fn()

		return
	}

	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// Stop ends the track and fires the ended hooks. Idempotent.
func (t *Track) Stop() {
	t.mu.Lock()

	if t.stopped {
		t.mu.Unlock()

		return
	}

	t.stopped = true
	stop := t.stop
	hooks := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	if stop != nil {
		stop()
	}

	for _, fn := range hooks {
		fn()
	}
}
