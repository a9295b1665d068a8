package snapshot

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/groovedeck/groovedeck/message"
	"github.com/groovedeck/groovedeck/registry"
)

func newTestStore() (*Store, *registry.Registry) {
	reg := registry.New()
	fake := clocktesting.NewFakeClock(time.Unix(0, 0))
	return New(reg, fake, logrus.NewEntry(logrus.New())), reg
}

func TestCreateEmptyThenCapture(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()

	id, err := s.CreateEmpty(0, 0, "")
	require.NoError(t, err)
	snap, ok := s.Get(id)
	require.True(t, ok)
	assert.Empty(t, snap.Parameters)

	s.SetCurrent("track_1_volume", 100)
	capID, err := s.Capture(1, 0, "my capture")
	require.NoError(t, err)
	capSnap, ok := s.Get(capID)
	require.True(t, ok)

	found := false
	for _, p := range capSnap.Parameters {
		if p.ParameterID == "track_1_volume" {
			found = true
			assert.Equal(t, uint8(100), p.Value)
			assert.True(t, p.Enabled)
		}
	}
	assert.True(t, found)
}

func TestPositionUniquenessEvictsPriorOccupant(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	first, err := s.CreateEmpty(2, 3, "first")
	require.NoError(t, err)
	second, err := s.CreateEmpty(2, 3, "second")
	require.NoError(t, err)

	_, stillThere := s.Get(first)
	assert.False(t, stillThere)

	found, ok := s.FindByPosition(2, 3)
	require.True(t, ok)
	assert.Equal(t, second, found.ID)
}

func TestSetParameterUpsertsAndClamps(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	id, _ := s.CreateEmpty(0, 0, "")

	ok := s.SetParameter(id, "track_1_pan", 200, true)
	require.True(t, ok)
	snap, _ := s.Get(id)
	require.Len(t, snap.Parameters, 1)
	assert.Equal(t, uint8(127), snap.Parameters[0].Value)

	ok = s.SetParameter(id, "track_1_pan", 10, false)
	require.True(t, ok)
	snap, _ = s.Get(id)
	require.Len(t, snap.Parameters, 1)
	assert.Equal(t, uint8(10), snap.Parameters[0].Value)
	assert.False(t, snap.Parameters[0].Enabled)
}

func TestRemoveAndToggleParameter(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	id, _ := s.CreateEmpty(0, 0, "")
	s.SetParameter(id, "track_2_mute", 0, true)

	ok := s.ToggleParameterEnabled(id, "track_2_mute")
	require.True(t, ok)
	snap, _ := s.Get(id)
	assert.False(t, snap.Parameters[0].Enabled)

	ok = s.RemoveParameter(id, "track_2_mute")
	require.True(t, ok)
	snap, _ = s.Get(id)
	assert.Empty(t, snap.Parameters)
}

func TestDeleteUnknownIDReturnsFalse(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	assert.False(t, s.Delete("nope"))
	assert.False(t, s.Update("nope", Patch{}))
	assert.False(t, s.SetParameter("nope", "tempo", 1, true))
}

func TestCopyCreatesFreshIDAndSuffix(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	id, _ := s.CreateEmpty(0, 0, "Intro")
	s.SetParameter(id, "tempo", 64, true)

	newID, ok := s.Copy(id, 0, 1)
	require.True(t, ok)
	assert.NotEqual(t, id, newID)

	copied, _ := s.Get(newID)
	assert.Equal(t, "Intro (copy)", copied.Name)
	assert.Equal(t, 0, copied.Bank)
	assert.Equal(t, 1, copied.Slot)
}

func TestEmptyPositionsAndNextAvailable(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	s.CreateEmpty(0, 0, "")
	s.CreateEmpty(0, 1, "")

	empties := s.EmptyPositions(0, 4)
	require.Len(t, empties, 2)
	assert.Equal(t, Position{Bank: 0, Slot: 2}, empties[0])

	next, ok := s.NextAvailable(0, 4, 2)
	require.True(t, ok)
	assert.Equal(t, Position{Bank: 0, Slot: 2}, next)
}

func TestCurrentValueShadowDefaultsAndReset(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	v, ok := s.GetCurrent("track_5_volume")
	require.True(t, ok)
	assert.Equal(t, uint8(100), v)

	s.SetCurrent("track_5_volume", 200)
	v, _ = s.GetCurrent("track_5_volume")
	assert.Equal(t, uint8(127), v)

	s.ResetCurrent()
	v, _ = s.GetCurrent("track_5_volume")
	assert.Equal(t, uint8(100), v)
}

func TestOutboundMessagesSkipsDisabledAndUnknownAppendsOneShots(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	id, _ := s.CreateEmpty(0, 0, "")
	s.SetParameter(id, "track_1_volume", 90, true)
	s.SetParameter(id, "track_2_volume", 10, false) // disabled, skipped
	s.SetParameter(id, "not_a_real_param", 1, true) // unknown, skipped

	s.Update(id, Patch{OneShots: []message.Message{message.PC{Channel: 1, Program: 5}}})

	msgs := s.OutboundMessages(id)
	require.Len(t, msgs, 2)
	_, isCC := msgs[0].(message.CC)
	assert.True(t, isCC)
	_, isPC := msgs[1].(message.PC)
	assert.True(t, isPC)
}

func TestCaptureThenOutboundMessagesRoundTripsShadow(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	s.SetCurrent("track_3_pan", 20)
	s.SetCurrent("tempo", 90)

	id, err := s.Capture(0, 0, "")
	require.NoError(t, err)

	msgs := s.OutboundMessages(id)
	valuesByCC := map[[2]uint8]uint8{}
	for _, m := range msgs {
		if cc, ok := m.(message.CC); ok {
			valuesByCC[[2]uint8{cc.Channel, cc.Controller}] = cc.Value
		}
	}
	assert.Equal(t, uint8(20), valuesByCC[[2]uint8{3, 10}]) // track_3_pan -> ch3 CC10
	assert.Equal(t, uint8(90), valuesByCC[[2]uint8{1, 80}]) // tempo -> ch1 CC80
}

func TestColourValidatedThroughColorful(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	id, _ := s.CreateEmpty(0, 0, "")

	valid := "#ff0000"
	ok := s.Update(id, Patch{Colour: &valid})
	require.True(t, ok)
	snap, _ := s.Get(id)
	assert.Equal(t, "#ff0000", snap.Colour)

	invalid := "not-a-color"
	ok = s.Update(id, Patch{Colour: &invalid})
	require.True(t, ok) // update still succeeds, colour field just untouched
	snap, _ = s.Get(id)
	assert.Equal(t, "#ff0000", snap.Colour)
}

func TestExportLoadJSONRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore()
	id, _ := s.CreateEmpty(1, 2, "roundtrip")
	s.SetParameter(id, "groove", 77, true)
	s.Update(id, Patch{OneShots: []message.Message{message.Note{Channel: 1, Note: 60, Velocity: 100, On: true}}})

	data, err := s.ExportJSON()
	require.NoError(t, err)

	s2, _ := newTestStore()
	require.NoError(t, s2.LoadJSON(data))

	got, ok := s2.Get(id)
	require.True(t, ok)
	assert.Equal(t, "roundtrip", got.Name)
	require.Len(t, got.OneShots, 1)
	note, ok := got.OneShots[0].(message.Note)
	require.True(t, ok)
	assert.Equal(t, uint8(60), note.Note)
}
