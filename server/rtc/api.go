// Package rtc adapts pion to the negotiator's peer connection surface. It
// owns codec and interceptor registration and the keyframe request loop for
// incoming video.
package rtc

import (
	"time"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/pionlogger"
	"github.com/juju/errors"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// DefaultPLIInterval is how often a picture loss indication is sent for
// every incoming video track, keeping the remote side pushing keyframes.
const DefaultPLIInterval = 3 * time.Second

// NewMediaEngine returns a media engine with the default codecs.
func NewMediaEngine() (*webrtc.MediaEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}

	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Annotate(err, "register default codecs")
	}

	return mediaEngine, nil
}

// NewInterceptorRegistry returns an interceptor registry with the default
// RTCP feedback and report interceptors bound to mediaEngine.
func NewInterceptorRegistry(mediaEngine *webrtc.MediaEngine) (*interceptor.Registry, error) {
	registry := &interceptor.Registry{}

	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, errors.Annotate(err, "register default interceptors")
	}

	return registry, nil
}

// Factory builds peer connections sharing one webrtc API instance.
type Factory struct {
	log         logger.Logger
	clk         clock.Clock
	api         *webrtc.API
	iceServers  []webrtc.ICEServer
	pliInterval time.Duration
}

type FactoryParams struct {
	Log        logger.Logger
	Clock      clock.Clock
	ICEServers []webrtc.ICEServer

	// PLIInterval overrides DefaultPLIInterval. Negative disables the loop.
	PLIInterval time.Duration
}

func NewFactory(params FactoryParams) (*Factory, error) {
	mediaEngine, err := NewMediaEngine()
	if err != nil {
		return nil, errors.Trace(err)
	}

	registry, err := NewInterceptorRegistry(mediaEngine)
	if err != nil {
		return nil, errors.Trace(err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: pionlogger.NewFactory(params.Log),
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	pliInterval := params.PLIInterval
	if pliInterval == 0 {
		pliInterval = DefaultPLIInterval
	}

	return &Factory{
		log:         params.Log.WithNamespaceAppended("rtc"),
		clk:         params.Clock,
		api:         api,
		iceServers:  params.ICEServers,
		pliInterval: pliInterval,
	}, nil
}

// NewPeerConnection creates one connection configured with the factory's
// ICE servers.
func (f *Factory) NewPeerConnection() (*PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.iceServers,
	})
	if err != nil {
		return nil, errors.Annotate(err, "new peer connection")
	}

	return newPeerConnection(f.log, f.clk, pc, f.pliInterval), nil
}
