package media_test

import (
	"context"
	"testing"
	"time"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/media"
	"github.com/classcall/classcall/server/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRTPSource_TracksStopCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer test.Timeout(t, 10*time.Second)()

	clk := clock.NewMock()
	source := media.NewRTPSource(test.NewLogger(), clk)

	audio, err := source.OpenMicrophone(context.Background())
	require.NoError(t, err)

	video, err := source.OpenCamera(context.Background())
	require.NoError(t, err)

	assert.Equal(t, media.TrackKindAudio, audio.Kind())
	assert.Equal(t, media.TrackKindVideo, video.Kind())
	assert.True(t, audio.Live())

	clk.Add(100 * time.Millisecond)

	audio.Stop()
	video.Stop()

	assert.False(t, audio.Live())

	// Writer goroutines exit once their tracks stop.
	source.Wait()
}
