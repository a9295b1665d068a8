// Package coordinator wires the Clock, Snapshot Store, and Transition
// Engine together behind the external MIDI surface described in §6: it owns
// all three collaborators, the way the teacher's cuelist.Master owns a
// clock.Clock plus a fixture.Manager, and turns incoming CC messages into
// calls against them.
package coordinator

import (
	"time"

	"github.com/sirupsen/logrus"
	utilsclock "k8s.io/utils/clock"

	"github.com/groovedeck/groovedeck/clock"
	"github.com/groovedeck/groovedeck/message"
	"github.com/groovedeck/groovedeck/registry"
	"github.com/groovedeck/groovedeck/snapshot"
	"github.com/groovedeck/groovedeck/transition"
)

// Tempo CC addressing, per §6: only channel 1, controller 80 is recognized
// as a tempo-set message.
const (
	tempoChannel    uint8 = 1
	tempoController uint8 = 80
)

// Port is the Clock input port of §6, expressed as Go channels rather than
// a callback-subscription model (§9 "Callbacks vs. streams": "a
// systems-language port may equivalently expose a pull-based event
// channel"). A transport adapter (outside the core) produces these events
// from whatever wire format it speaks; the Coordinator only ever consumes
// them.
type Port interface {
	Ticks() <-chan struct{}
	Starts() <-chan struct{}
	Stops() <-chan struct{}
	Continues() <-chan struct{}
}

// Coordinator is the top-level object a transport adapter drives (§6
// "External interfaces"). The zero value is not usable; construct with New.
type Coordinator struct {
	Clock    *clock.Clock
	Store    *snapshot.Store
	Engine   *transition.Engine
	Registry *registry.Registry

	log *logrus.Entry
}

// New constructs a Coordinator with its own Clock, Store, and Engine, all
// driven by the given clk (production: utilsclock.RealClock{}; tests: a
// clock/testing.FakeClock), using the default Jump interpolation pacing.
func New(clk utilsclock.WithTickerAndDelayedExecution, log *logrus.Entry) *Coordinator {
	return NewWithFrameInterval(clk, log, 0)
}

// NewWithFrameInterval is New with an explicit Jump interpolation pacing,
// as configured by internal/config's InterpolationFrameInterval; 0 selects
// the Engine's default.
func NewWithFrameInterval(clk utilsclock.WithTickerAndDelayedExecution, log *logrus.Entry, frameInterval time.Duration) *Coordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	reg := registry.New()
	musical := clock.New(clk, log.WithField("component", "clock"))
	store := snapshot.New(reg, clk, log.WithField("component", "snapshot"))
	engine := transition.NewWithFrameInterval(clk, musical, store, reg, log.WithField("component", "transition"), frameInterval)

	return &Coordinator{
		Clock:    musical,
		Store:    store,
		Engine:   engine,
		Registry: reg,
		log:      log,
	}
}

// HandleControlChange interprets one incoming CC (§6 "Tempo CC"). Only
// cc=80 on channel=1 carries meaning here; anything else is ignored (the
// caller is expected to route other CCs at the parameter-registry level,
// e.g. toward ExecuteJump/ExecuteDrop triggers). Out-of-range values are
// rejected and logged (§7 "Domain violation"), never clamped silently into
// a tempo change.
func (c *Coordinator) HandleControlChange(cc, value, channel uint8) {
	if channel != tempoChannel || cc != tempoController {
		return
	}
	bpm := registry.MIDIToBPM(value)
	if bpm < 40 || bpm > 240 {
		c.log.WithFields(logrus.Fields{"channel": channel, "cc": cc, "value": value, "bpm": bpm}).
			Warn("coordinator: tempo CC out of range, ignoring")
		return
	}
	c.Clock.SetBPM(bpm)
}

// ListenPort drains a Port's event channels onto the Clock until stop is
// closed, translating each event into the matching Ingest* call (§6 "Clock
// input port"). Run it in its own goroutine; it blocks until stop closes.
func (c *Coordinator) ListenPort(p Port, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-p.Ticks():
			c.HandleExternalTick()
		case <-p.Starts():
			c.HandleExternalStart()
		case <-p.Stops():
			c.HandleExternalStop()
		case <-p.Continues():
			c.HandleExternalContinue()
		}
	}
}

// HandleExternalTick forwards one 24-PPQN tick from an external clock port
// (§4.1, §6).
func (c *Coordinator) HandleExternalTick() {
	c.Clock.IngestExternalTick()
}

// HandleExternalStart forwards a MIDI transport Start from an external
// clock port.
func (c *Coordinator) HandleExternalStart() {
	c.Clock.IngestExternalStart()
}

// HandleExternalStop forwards a MIDI transport Stop from an external clock
// port.
func (c *Coordinator) HandleExternalStop() {
	c.Clock.IngestExternalStop()
}

// HandleExternalContinue forwards a MIDI transport Continue from an
// external clock port.
func (c *Coordinator) HandleExternalContinue() {
	c.Clock.IngestExternalContinue()
}

// TriggerJump executes a Jump transition to the snapshot at (bank, slot), if
// one exists there (§6 "Scene triggers").
func (c *Coordinator) TriggerJump(bank, slot int, settings transition.Settings) bool {
	snap, ok := c.Store.FindByPosition(bank, slot)
	if !ok {
		return false
	}
	c.Engine.ExecuteJump(snap.ID, settings)
	return true
}

// TriggerDrop executes a Drop transition to the snapshot at (bank, slot), if
// one exists there (§6 "Scene triggers").
func (c *Coordinator) TriggerDrop(bank, slot int, settings transition.Settings) bool {
	snap, ok := c.Store.FindByPosition(bank, slot)
	if !ok {
		return false
	}
	c.Engine.ExecuteDrop(snap.ID, settings)
	return true
}

// OnMessage registers the sink that receives every outbound wire message
// from the Engine (§6).
func (c *Coordinator) OnMessage(sink message.Sink) {
	c.Engine.OnMessage(sink)
}
