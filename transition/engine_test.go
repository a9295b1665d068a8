package transition

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/groovedeck/groovedeck/clock"
	"github.com/groovedeck/groovedeck/message"
	"github.com/groovedeck/groovedeck/registry"
	"github.com/groovedeck/groovedeck/snapshot"
)

// sink collects messages under a mutex, since the engine may deliver them
// from its own goroutine.
type sink struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (s *sink) accept(m message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *sink) snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Message(nil), s.msgs...)
}

func newHarness(t *testing.T) (*Engine, *snapshot.Store, *clock.Clock, *clocktesting.FakeClock, *sink) {
	t.Helper()
	reg := registry.New()
	fake := clocktesting.NewFakeClock(time.Unix(0, 0))
	store := snapshot.New(reg, fake, logrus.NewEntry(logrus.New()))
	musical := clock.New(fake, logrus.NewEntry(logrus.New()))
	eng := New(fake, musical, store, reg, logrus.NewEntry(logrus.New()))
	sk := &sink{}
	eng.OnMessage(sk.accept)
	return eng, store, musical, fake, sk
}

func TestExecuteJumpNoQuantizationNoFadeEmitsImmediately(t *testing.T) {
	t.Parallel()
	eng, store, _, _, sk := newHarness(t)

	id, _ := store.CreateEmpty(0, 0, "")
	store.SetParameter(id, "track_1_volume", 42, true)

	var completed *snapshot.Snapshot
	eng.OnComplete(func(s *snapshot.Snapshot) { completed = s })

	eng.ExecuteJump(id, Settings{Mode: Jump, FadeMS: 0, Quantization: clock.QuantNone})

	msgs := sk.snapshot()
	require.Len(t, msgs, 1)
	cc, ok := msgs[0].(message.CC)
	require.True(t, ok)
	assert.Equal(t, uint8(42), cc.Value)
	require.NotNil(t, completed)
	assert.False(t, eng.IsActive())
}

func TestExecuteJumpUnknownSnapshotIsNoop(t *testing.T) {
	t.Parallel()
	eng, _, _, _, sk := newHarness(t)

	eng.ExecuteJump("does-not-exist", Settings{Mode: Jump, Quantization: clock.QuantNone})
	assert.Empty(t, sk.snapshot())
	assert.False(t, eng.IsActive())
}

func TestExecuteJumpWithFadeInterpolatesThenCompletes(t *testing.T) {
	t.Parallel()
	eng, store, _, fake, sk := newHarness(t)

	id, _ := store.CreateEmpty(0, 0, "")
	store.SetParameter(id, "track_1_volume", 127, true)
	store.SetCurrent("track_1_volume", 0)

	var completed *snapshot.Snapshot
	eng.OnComplete(func(s *snapshot.Snapshot) { completed = s })

	eng.ExecuteJump(id, Settings{Mode: Jump, FadeMS: 100, Quantization: clock.QuantNone})
	assert.True(t, eng.IsActive())

	for i := 0; i < 8; i++ {
		fake.Step(interpolationFrameInterval)
		time.Sleep(2 * time.Millisecond)
	}

	require.NotNil(t, completed)
	assert.False(t, eng.IsActive())

	msgs := sk.snapshot()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1].(message.CC)
	assert.Equal(t, uint8(127), last.Value)

	v, _ := store.GetCurrent("track_1_volume")
	assert.Equal(t, uint8(127), v)
}

func TestCancelDuringInterpolationStopsFurtherMessages(t *testing.T) {
	t.Parallel()
	eng, store, _, fake, sk := newHarness(t)

	id, _ := store.CreateEmpty(0, 0, "")
	store.SetParameter(id, "track_1_volume", 127, true)
	store.SetCurrent("track_1_volume", 0)

	eng.ExecuteJump(id, Settings{Mode: Jump, FadeMS: 1000, Quantization: clock.QuantNone})
	fake.Step(interpolationFrameInterval)
	time.Sleep(2 * time.Millisecond)

	before := len(sk.snapshot())
	require.Greater(t, before, 0)

	eng.Cancel()
	assert.False(t, eng.IsActive())

	fake.Step(500 * time.Millisecond)
	time.Sleep(2 * time.Millisecond)

	assert.Equal(t, before, len(sk.snapshot()), "no further frames after cancel")

	eng.Cancel() // idempotent
}

func TestExecuteJumpQuantizedToBarSchedulesAndFires(t *testing.T) {
	t.Parallel()
	eng, store, musical, fake, sk := newHarness(t)

	id, _ := store.CreateEmpty(0, 0, "")
	store.SetParameter(id, "track_1_volume", 99, true)

	musical.Start()
	eng.ExecuteJump(id, Settings{Mode: Jump, FadeMS: 0, Quantization: clock.QuantBar})

	sched, ok := eng.Scheduled()
	require.True(t, ok)
	assert.Equal(t, id, sched.SnapshotID)
	assert.Empty(t, sk.snapshot())

	tickInterval := 60000.0 / (120.0 * 24.0)
	for i := 0; i < 96; i++ {
		fake.Step(time.Duration(tickInterval * float64(time.Millisecond)))
		time.Sleep(time.Millisecond)
	}

	msgs := sk.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(99), msgs[0].(message.CC).Value)
	_, stillScheduled := eng.Scheduled()
	assert.False(t, stillScheduled)
}

func TestExecuteDropFiresAtNextBarBoundary(t *testing.T) {
	t.Parallel()
	eng, store, musical, fake, sk := newHarness(t)

	id, _ := store.CreateEmpty(0, 0, "")
	store.SetParameter(id, "track_2_mute", 127, true)

	musical.Start()
	eng.ExecuteDrop(id, Settings{Mode: Drop, CycleLengthBars: 1})

	tickInterval := 60000.0 / (120.0 * 24.0)
	for i := 0; i < 96; i++ {
		fake.Step(time.Duration(tickInterval * float64(time.Millisecond)))
		time.Sleep(time.Millisecond)
	}

	msgs := sk.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(127), msgs[0].(message.CC).Value)
}

func TestExecuteDropRepeatReschedules(t *testing.T) {
	t.Parallel()
	eng, store, musical, fake, sk := newHarness(t)

	id, _ := store.CreateEmpty(0, 0, "")
	store.SetParameter(id, "groove", 5, true)

	musical.Start()
	eng.ExecuteDrop(id, Settings{Mode: Drop, CycleLengthBars: 1, Repeat: true})

	tickInterval := 60000.0 / (120.0 * 24.0)
	for i := 0; i < 96*2; i++ {
		fake.Step(time.Duration(tickInterval * float64(time.Millisecond)))
		time.Sleep(time.Millisecond)
	}

	msgs := sk.snapshot()
	assert.GreaterOrEqual(t, len(msgs), 2, "repeat drop should fire more than once")

	sched, ok := eng.Scheduled()
	require.True(t, ok)
	assert.Equal(t, id, sched.SnapshotID)
}

func TestRetriggerOverridesPendingDrop(t *testing.T) {
	t.Parallel()
	eng, store, musical, fake, sk := newHarness(t)

	first, _ := store.CreateEmpty(0, 0, "first")
	store.SetParameter(first, "track_1_mute", 127, true)
	second, _ := store.CreateEmpty(0, 1, "second")
	store.SetParameter(second, "track_1_mute", 0, true)

	musical.Start()
	eng.ExecuteDrop(first, Settings{Mode: Drop, CycleLengthBars: 4})
	eng.ExecuteDrop(second, Settings{Mode: Drop, CycleLengthBars: 1})

	sched, ok := eng.Scheduled()
	require.True(t, ok)
	assert.Equal(t, second, sched.SnapshotID)

	tickInterval := 60000.0 / (120.0 * 24.0)
	for i := 0; i < 96; i++ {
		fake.Step(time.Duration(tickInterval * float64(time.Millisecond)))
		time.Sleep(time.Millisecond)
	}

	msgs := sk.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(0), msgs[0].(message.CC).Value)
}

func TestStopCancelsScheduledTransition(t *testing.T) {
	t.Parallel()
	eng, store, musical, fake, sk := newHarness(t)

	id, _ := store.CreateEmpty(0, 0, "")
	store.SetParameter(id, "track_1_volume", 55, true)

	musical.Start()
	eng.ExecuteDrop(id, Settings{Mode: Drop, CycleLengthBars: 4})
	require.True(t, eng.IsActive())

	musical.Stop()
	time.Sleep(2 * time.Millisecond)
	assert.False(t, eng.IsActive())

	tickInterval := 60000.0 / (120.0 * 24.0)
	for i := 0; i < 96*4; i++ {
		fake.Step(time.Duration(tickInterval * float64(time.Millisecond)))
		time.Sleep(time.Millisecond)
	}
	assert.Empty(t, sk.snapshot())
}

func TestExternalClockSlaveDropFiresOnTickThatAdvancesBar(t *testing.T) {
	t.Parallel()
	eng, store, musical, fake, sk := newHarness(t)

	id, _ := store.CreateEmpty(0, 0, "")
	store.SetParameter(id, "track_1_mute", 127, true)

	musical.SetSource(clock.External)
	musical.IngestExternalStart()

	// ClockSource is left unset (clock.KeepCurrent), so the Drop must not
	// pull the clock back to Internal — the ticks below have to be the only
	// thing advancing the bar.
	eng.ExecuteDrop(id, Settings{Mode: Drop, CycleLengthBars: 1})
	require.Equal(t, clock.External, musical.GetState().Source)

	// Each external tick arrives alongside a matching wall-clock advance, so
	// the engine's wall-clock deadline timer fires right as bar 1 begins.
	tickInterval := 60000.0 / (120.0 * 24.0)
	for i := 0; i < 96; i++ {
		musical.IngestExternalTick()
		fake.Step(time.Duration(tickInterval * float64(time.Millisecond)))
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, clock.External, musical.GetState().Source)
	assert.Equal(t, 1, musical.GetState().CurrentBar)
	msgs := sk.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint8(127), msgs[0].(message.CC).Value)
}
