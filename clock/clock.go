// Package clock implements the musical Clock (§4.1): authoritative bar/beat
// position, generated internally or slaved to an external 24-PPQN source,
// plus the quantization-boundary queries the Transition Engine schedules
// against.
//
// It is grounded on the teacher's rhythm.Metronome (robmorgan/halo), which
// tracks tempo/beat/bar/phrase off a timeline origin, generalized here to
// also run its own tick generator and emit bar/beat/tick events to
// listeners, per §4.1's "Algorithm". Timing is driven through an injected
// k8s.io/utils/clock.Clock (the same dependency the teacher's
// cuelist.Master wires via clock.RealClock{}) so tests can swap in a
// clock/testing.FakeClock instead of sleeping.
package clock

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	utilsclock "k8s.io/utils/clock"
)

// Source selects whether the Clock generates its own ticks or is slaved to
// an external port (§3 "Clock state").
//
// The zero value, KeepCurrent, is not a real source: it exists so a
// per-trigger override field (transition.Settings.ClockSource) can leave
// the clock's current source untouched when the caller doesn't ask for a
// specific one. A Clock itself is always explicitly set to Internal or
// External; it is never left at the zero value.
type Source int

const (
	KeepCurrent Source = iota
	Internal
	External
)

func (s Source) String() string {
	switch s {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return "keep-current"
	}
}

// Quantization is a granularity a transition can be scheduled against (§3
// "Transition settings").
type Quantization string

const (
	QuantNone Quantization = "none"
	QuantBeat Quantization = "beat"
	QuantBar  Quantization = "bar"
	Quant2Bar Quantization = "2bar"
	Quant4Bar Quantization = "4bar"
)

// EventKind identifies what a Clock Event represents.
type EventKind string

const (
	EventBar   EventKind = "bar"
	EventBeat  EventKind = "beat"
	EventTick  EventKind = "tick"
	EventStart EventKind = "start"
	EventStop  EventKind = "stop"
	// EventAll matches every event kind; listeners registered under it
	// receive bar, beat, tick, start, and stop events alike, per §4.1
	// "Listeners register per event kind or for all."
	EventAll EventKind = "all"
)

// State is a point-in-time snapshot of the Clock's transport and position
// (§3 "Clock state").
type State struct {
	IsRunning    bool
	Source       Source
	BPM          float64
	CurrentBeat  int
	CurrentBar   int
	BeatsPerBar  int
	PPQN         int
	LastTickTime time.Time
}

// Event is delivered to listeners on every bar/beat/tick/start/stop
// transition, carrying the state as of that event (§5 "Ordering guarantees").
type Event struct {
	Kind  EventKind
	State State
}

// Listener receives Clock events. It must not block.
type Listener func(Event)

const (
	minBPM  = 20.0
	maxBPM  = 300.0
	ppqn    = 24
)

// Clock is the musical clock described in §4.1. The zero value is not
// usable; construct with New.
type Clock struct {
	mu sync.Mutex

	clk utilsclock.WithTicker
	log *logrus.Entry

	running      bool
	source       Source
	bpm          float64
	beatsPerBar  int
	currentBeat  int
	currentBar   int
	tickAcc      int
	lastTickTime time.Time

	ticker      utilsclock.Ticker
	tickerStopC chan struct{}

	listeners map[EventKind][]Listener
}

// New constructs a Clock at the default 120 BPM, 4/4, stopped, internal
// source (teacher default: rhythm.NewMetronome's 120 BPM / 4 beats-per-bar).
func New(clk utilsclock.WithTicker, log *logrus.Entry) *Clock {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Clock{
		clk:         clk,
		log:         log,
		source:      Internal,
		bpm:         120,
		beatsPerBar: 4,
		listeners:   make(map[EventKind][]Listener),
	}
}

// On subscribes a listener to events of the given kind (or EventAll).
func (c *Clock) On(kind EventKind, l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[kind] = append(c.listeners[kind], l)
}

// GetState returns a snapshot of the current transport and position.
func (c *Clock) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Clock) stateLocked() State {
	return State{
		IsRunning:    c.running,
		Source:       c.source,
		BPM:          c.bpm,
		CurrentBeat:  c.currentBeat,
		CurrentBar:   c.currentBar,
		BeatsPerBar:  c.beatsPerBar,
		PPQN:         ppqn,
		LastTickTime: c.lastTickTime,
	}
}

// Start begins the transport. A no-op if already running (§4.1).
func (c *Clock) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	if c.source == Internal {
		c.startInternalGeneratorLocked()
	}
	st := c.stateLocked()
	c.mu.Unlock()
	c.emit(Event{Kind: EventStart, State: st})
}

// Stop halts the transport. A no-op if already stopped (§4.1).
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stopInternalGeneratorLocked()
	st := c.stateLocked()
	c.mu.Unlock()
	c.emit(Event{Kind: EventStop, State: st})
}

// Reset returns position to bar 0, beat 0 and clears the tick accumulator,
// independent of running state (§4.1).
func (c *Clock) Reset() {
	c.mu.Lock()
	c.currentBar = 0
	c.currentBeat = 0
	c.tickAcc = 0
	c.mu.Unlock()
}

// SetBPM clamps to [20,300]; if running on the internal source, it re-paces
// the generator without resetting position (§4.1).
func (c *Clock) SetBPM(bpm float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bpm < minBPM {
		bpm = minBPM
	}
	if bpm > maxBPM {
		bpm = maxBPM
	}
	c.bpm = bpm
	if c.running && c.source == Internal {
		c.stopInternalGeneratorLocked()
		c.startInternalGeneratorLocked()
	}
}

// SetBeatsPerBar changes the bar length. Values below 1 are ignored (§3
// "Clock state" requires a positive beats-per-bar).
func (c *Clock) SetBeatsPerBar(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beatsPerBar = n
}

// SetSource switches between internal/external. If running, it transparently
// stops and restarts under the new source; position is preserved (§4.1).
// KeepCurrent is ignored.
func (c *Clock) SetSource(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if src == KeepCurrent || c.source == src {
		return
	}
	wasRunning := c.running
	if wasRunning {
		c.stopInternalGeneratorLocked()
	}
	c.source = src
	if wasRunning && src == Internal {
		c.startInternalGeneratorLocked()
	}
}

// tickIntervalLocked is the ms duration of one 24-PPQN tick at the current
// BPM, recomputed on every BPM change so drift never accumulates (§4.1
// "Internal generator").
func (c *Clock) tickIntervalLocked() time.Duration {
	ms := 60000.0 / (c.bpm * ppqn)
	return time.Duration(ms * float64(time.Millisecond))
}

func (c *Clock) startInternalGeneratorLocked() {
	interval := c.tickIntervalLocked()
	ticker := c.clk.NewTicker(interval)
	stopC := make(chan struct{})
	c.ticker = ticker
	c.tickerStopC = stopC
	go func() {
		for {
			select {
			case <-stopC:
				return
			case <-ticker.C():
				c.advanceTick()
			}
		}
	}()
}

func (c *Clock) stopInternalGeneratorLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		close(c.tickerStopC)
		c.ticker = nil
		c.tickerStopC = nil
	}
}

// IngestExternalTick accepts one tick from the external clock port. It acts
// only when source=External; otherwise it is silently ignored (§4.1).
func (c *Clock) IngestExternalTick() {
	c.mu.Lock()
	if c.source != External || !c.running {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.advanceTick()
}

// IngestExternalStart accepts a Start from the external port. It also
// performs a reset (§4.1).
func (c *Clock) IngestExternalStart() {
	c.mu.Lock()
	if c.source != External {
		c.mu.Unlock()
		return
	}
	c.currentBar = 0
	c.currentBeat = 0
	c.tickAcc = 0
	c.running = true
	st := c.stateLocked()
	c.mu.Unlock()
	c.emit(Event{Kind: EventStart, State: st})
}

// IngestExternalStop accepts a Stop from the external port.
func (c *Clock) IngestExternalStop() {
	c.mu.Lock()
	if c.source != External || !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	st := c.stateLocked()
	c.mu.Unlock()
	c.emit(Event{Kind: EventStop, State: st})
}

// IngestExternalContinue accepts a Continue from the external port. Unlike
// Start, it does not reset position (§4.1).
func (c *Clock) IngestExternalContinue() {
	c.mu.Lock()
	if c.source != External {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()
}

// advanceTick is the single place tick/beat/bar bookkeeping happens,
// whether driven by the internal generator or external ingestion. Bar
// events are emitted before the beat event that starts the new bar, and a
// tick event fires on every call regardless (§4.1 "Algorithm").
func (c *Clock) advanceTick() {
	c.mu.Lock()
	c.lastTickTime = c.clk.Now()
	c.tickAcc++
	newBeat := false
	newBar := false
	if c.tickAcc >= ppqn {
		c.tickAcc = 0
		newBeat = true
		c.currentBeat++
		if c.currentBeat >= c.beatsPerBar {
			c.currentBeat = 0
			c.currentBar++
			newBar = true
		}
	}
	st := c.stateLocked()
	c.mu.Unlock()

	if newBar {
		c.emit(Event{Kind: EventBar, State: st})
	}
	if newBeat {
		c.emit(Event{Kind: EventBeat, State: st})
	}
	c.emit(Event{Kind: EventTick, State: st})
}

func (c *Clock) emit(evt Event) {
	c.mu.Lock()
	kindListeners := append([]Listener{}, c.listeners[evt.Kind]...)
	allListeners := append([]Listener{}, c.listeners[EventAll]...)
	c.mu.Unlock()
	for _, l := range kindListeners {
		l(evt)
	}
	for _, l := range allListeners {
		l(evt)
	}
}

// ticksElapsedInBarLocked is the number of 24-PPQN ticks that have elapsed
// since the start of the current bar.
func (c *Clock) ticksElapsedInBarLocked() int {
	return c.currentBeat*ppqn + c.tickAcc
}

func (c *Clock) ticksToMsLocked(ticks int) float64 {
	interval := c.tickIntervalLocked()
	return float64(ticks) * float64(interval) / float64(time.Millisecond)
}

// TimeUntilNextQuantization returns ms until the next boundary of kind q,
// 0 if exactly on the boundary (§4.1).
func (c *Clock) TimeUntilNextQuantization(q Quantization) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch q {
	case QuantNone:
		return 0
	case QuantBeat:
		remaining := (ppqn - c.tickAcc) % ppqn
		return c.ticksToMsLocked(remaining)
	case QuantBar:
		return c.ticksToMsLocked(c.ticksUntilCycleLocked(1))
	case Quant2Bar:
		return c.ticksToMsLocked(c.ticksUntilCycleLocked(2))
	case Quant4Bar:
		return c.ticksToMsLocked(c.ticksUntilCycleLocked(4))
	default:
		return 0
	}
}

// ticksUntilCycleLocked computes the ticks remaining until the next bar
// boundary whose bar index is a multiple of cycleLen, treating bars modulo
// the cycle length (§4.1).
func (c *Clock) ticksUntilCycleLocked(cycleLen int) int {
	elapsed := c.ticksElapsedInBarLocked()
	curMod := c.currentBar % cycleLen
	if curMod == 0 && elapsed == 0 {
		return 0
	}
	barsAhead := cycleLen - curMod
	if curMod == 0 {
		barsAhead = cycleLen
	}
	totalTicksPerBar := c.beatsPerBar * ppqn
	return barsAhead*totalTicksPerBar - elapsed
}

// TimeUntilBar returns ms from now until the first tick of target_bar; 0 if
// target_bar <= current_bar (§4.1).
func (c *Clock) TimeUntilBar(targetBar int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if targetBar <= c.currentBar {
		return 0
	}
	barsAhead := targetBar - c.currentBar
	totalTicksPerBar := c.beatsPerBar * ppqn
	ticksRemaining := barsAhead*totalTicksPerBar - c.ticksElapsedInBarLocked()
	return c.ticksToMsLocked(ticksRemaining)
}

// NextCycleBar returns the smallest multiple of cycleLen strictly greater
// than current_bar (§4.1).
func (c *Clock) NextCycleBar(cycleLen int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cycleLen < 1 {
		cycleLen = 1
	}
	return (c.currentBar/cycleLen + 1) * cycleLen
}
