package media

import (
	"context"
	"sync"

	"github.com/classcall/classcall/server/logger"
	"github.com/juju/errors"
)

// Pipeline owns the local tracks of one session peer: microphone and camera,
// plus an optional display track while sharing. At most one of camera and
// display is outgoing at any time; sharing substitutes the video sender's
// track and ending the share reverts it.
type Pipeline struct {
	log    logger.Logger
	source DeviceSource

	mu          sync.Mutex
	audio       *Track
	video       *Track
	display     *Track
	videoSender Sender
	closed      bool
}

func NewPipeline(log logger.Logger, source DeviceSource) *Pipeline {
	return &Pipeline{
		log:    log.WithNamespaceAppended("media"),
		source: source,
	}
}

// Acquire opens the microphone and camera. Live tracks are reused so
// repeated calls are cheap and never flicker the devices.
func (p *Pipeline) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pipeline is closed")
	}

	if p.audio == nil || !p.audio.Live() {
		audio, err := p.source.OpenMicrophone(ctx)
		if err != nil {
			return errors.Trace(err)
		}

		p.audio = audio
	}

	if p.video == nil || !p.video.Live() {
		video, err := p.source.OpenCamera(ctx)
		if err != nil {
			return errors.Trace(err)
		}

		p.video = video
	}

	p.log.Debug("Acquired local tracks", nil)

	return nil
}

// AttachTo adds the local tracks to pc and remembers the video sender so
// screen sharing can substitute its track later.
func (p *Pipeline) AttachTo(pc TrackAdder) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audio == nil || p.video == nil {
		return errors.New("tracks not acquired")
	}

	if _, err := pc.AddTrack(p.audio.Local()); err != nil {
		return errors.Annotate(err, "add audio track")
	}

	sender, err := pc.AddTrack(p.outgoingVideoLocked().Local())
	if err != nil {
		return errors.Annotate(err, "add video track")
	}

	p.videoSender = sender

	return nil
}

// outgoingVideoLocked returns the track currently feeding the video sender.
func (p *Pipeline) outgoingVideoLocked() *Track {
	if p.display != nil && p.display.Live() {
		return p.display
	}

	return p.video
}

// ToggleAudio flips the microphone mute and returns the new enabled state.
func (p *Pipeline) ToggleAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audio == nil {
		return false
	}

	return p.audio.Toggle()
}

// ToggleVideo flips the camera and returns the new enabled state.
func (p *Pipeline) ToggleVideo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.video == nil {
		return false
	}

	return p.video.Toggle()
}

// Sharing reports whether a display track is currently outgoing.
func (p *Pipeline) Sharing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.display != nil && p.display.Live()
}

// StartScreenShare opens a display track and substitutes it for the camera
// on the video sender. When the display track ends on its own the pipeline
// reverts to the camera automatically. No-op while already sharing.
func (p *Pipeline) StartScreenShare(ctx context.Context) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return errors.New("pipeline is closed")
	}

	if p.display != nil && p.display.Live() {
		p.mu.Unlock()

		return nil
	}

	display, err := p.source.OpenDisplay(ctx)
	if err != nil {
		p.mu.Unlock()

		return errors.Trace(err)
	}

	p.display = display

	if p.videoSender != nil {
		if err := p.videoSender.ReplaceTrack(display.Local()); err != nil {
			display.Stop()
			p.display = nil
			p.mu.Unlock()

			return errors.Annotate(err, "replace video track")
		}
	}

	p.mu.Unlock()

	display.OnEnded(func() {
		p.StopScreenShare()
	})

	p.log.Info("Screen share started", nil)

	return nil
}

// StopScreenShare ends the share and reverts the video sender to the
// camera. Idempotent.
func (p *Pipeline) StopScreenShare() {
	p.mu.Lock()

	display := p.display
	p.display = nil

	if display == nil {
		p.mu.Unlock()

		return
	}

	if p.videoSender != nil && p.video != nil {
		if err := p.videoSender.ReplaceTrack(p.video.Local()); err != nil {
			p.log.Error("Revert to camera track", errors.Trace(err), nil)
		}
	}

	p.mu.Unlock()

	display.Stop()

	p.log.Info("Screen share stopped", nil)
}

// Close stops every track. Idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return
	}

	p.closed = true
	tracks := []*Track{p.display, p.video, p.audio}
	p.display = nil
	p.video = nil
	p.audio = nil
	p.videoSender = nil
	p.mu.Unlock()

	for _, track := range tracks {
		if track != nil {
			track.Stop()
		}
	}
}
