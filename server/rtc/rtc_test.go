package rtc_test

import (
	"testing"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/rtc"
	"github.com/classcall/classcall/server/test"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_NewPeerConnection(t *testing.T) {
	factory, err := rtc.NewFactory(rtc.FactoryParams{
		Log:   test.NewLogger(),
		Clock: clock.New(),
	})
	require.NoError(t, err)

	pc, err := factory.NewPeerConnection()
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, pc.Close())
	}()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8,
	}, "camera", "classcall")
	require.NoError(t, err)

	_, err = pc.AddTrack(track)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(false)
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Contains(t, offer.SDP, "m=video")

	assert.False(t, pc.RemoteDescriptionSet())
}

func TestFactory_NewPeerConnection_Answer(t *testing.T) {
	factory, err := rtc.NewFactory(rtc.FactoryParams{
		Log:   test.NewLogger(),
		Clock: clock.New(),
	})
	require.NoError(t, err)

	offerer, err := factory.NewPeerConnection()
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, offerer.Close())
	}()

	answerer, err := factory.NewPeerConnection()
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, answerer.Close())
	}()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeOpus,
	}, "audio", "classcall")
	require.NoError(t, err)

	_, err = offerer.AddTrack(track)
	require.NoError(t, err)

	offer, err := offerer.CreateOffer(false)
	require.NoError(t, err)

	require.NoError(t, answerer.SetRemoteDescription(offer))
	assert.True(t, answerer.RemoteDescriptionSet())

	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
}
