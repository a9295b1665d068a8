package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryCatalogueIsBitExact(t *testing.T) {
	t.Parallel()

	r := New()

	tempo, ok := r.Get("tempo")
	require.True(t, ok)
	assert.Equal(t, uint8(1), tempo.Encoding.Channel)
	assert.Equal(t, uint8(80), tempo.Encoding.CC)
	assert.Equal(t, uint8(64), tempo.Default)

	groove, ok := r.Get("groove")
	require.True(t, ok)
	assert.Equal(t, uint8(81), groove.Encoding.CC)
	assert.Equal(t, uint8(64), groove.Default)

	nextScene, ok := r.Get("next_scene")
	require.True(t, ok)
	assert.Equal(t, uint8(84), nextScene.Encoding.CC)

	for i := 1; i <= 16; i++ {
		vol, ok := r.Get(trackParamID(i, "volume"))
		require.True(t, ok)
		assert.Equal(t, uint8(7), vol.Encoding.CC)
		assert.Equal(t, uint8(i), vol.Encoding.Channel)
		assert.Equal(t, uint8(100), vol.Default)

		mute, ok := r.Get(trackParamID(i, "mute"))
		require.True(t, ok)
		assert.Equal(t, uint8(9), mute.Encoding.CC)
		assert.Equal(t, uint8(0), mute.Default)

		pan, ok := r.Get(trackParamID(i, "pan"))
		require.True(t, ok)
		assert.Equal(t, uint8(10), pan.Encoding.CC)
		assert.Equal(t, uint8(64), pan.Default)
	}
}

func trackParamID(track int, suffix string) string {
	return fmt.Sprintf("track_%d_%s", track, suffix)
}

func TestByChannelCCLookup(t *testing.T) {
	t.Parallel()

	r := New()
	d, ok := r.ByChannelCC(1, 80)
	require.True(t, ok)
	assert.Equal(t, "tempo", d.ID)

	_, ok = r.ByChannelCC(5, 126)
	assert.False(t, ok)
}

func TestEncodeUnknownParameterIsSkippedSilently(t *testing.T) {
	t.Parallel()

	r := New()
	_, ok := r.Encode("does_not_exist", 42)
	assert.False(t, ok)
}

func TestEncodeCCParameter(t *testing.T) {
	t.Parallel()

	r := New()
	msg, ok := r.Encode("track_7_pan", 10)
	require.True(t, ok)
	cc, ok := msg.(interface{ Bytes() []byte })
	require.True(t, ok)
	assert.NotEmpty(t, cc.Bytes())
}

func TestBPMRoundTrip(t *testing.T) {
	t.Parallel()

	for v := 0; v <= 127; v++ {
		got := BPMToMIDI(MIDIToBPM(uint8(v)))
		assert.Equal(t, uint8(v), got, "v=%d", v)
	}
}

func TestPanCentreAndMute(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint8(64), PanToMIDI(0))
	assert.Equal(t, uint8(127), MuteToMIDI(true))
	assert.Equal(t, uint8(0), MuteToMIDI(false))
	assert.True(t, MIDIToMute(64))
	assert.False(t, MIDIToMute(63))
}
