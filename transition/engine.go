// Package transition implements the Transition Engine (§4.3): it turns a
// trigger + settings into the right sequence of emitted messages at the
// right moments, respecting musical time, cancellation, and the
// current-value shadow.
//
// It is grounded on the teacher's cuelist.Master (robmorgan/halo), which
// owns a clock.Clock, schedules work against it, and fans callbacks out to
// a sink — generalized here from DMX frame playback to the Jump/Drop
// transitions of §4.3. The eased sixteen-millisecond pacing loop
// mirrors engine.HaloLoop's time.Ticker-driven update loop, and the cubic
// ease-out computation is grounded on effect.Effect.Update's use of the
// fogleman/ease package.
package transition

import (
	"time"

	"github.com/fogleman/ease"
	"github.com/sirupsen/logrus"
	utilsclock "k8s.io/utils/clock"

	"github.com/groovedeck/groovedeck/clock"
	"github.com/groovedeck/groovedeck/message"
	"github.com/groovedeck/groovedeck/registry"
	"github.com/groovedeck/groovedeck/snapshot"
)

// Mode selects which transition shape a trigger uses (§3 "Transition
// settings").
type Mode int

const (
	Jump Mode = iota
	Drop
)

// interpolationFrameInterval paces the Jump loop at ~60Hz (§4.3).
const interpolationFrameInterval = 16 * time.Millisecond

const (
	minFadeMS   = 0
	maxFadeMS   = 10000
	minCycleLen = 1
	maxCycleLen = 32
)

// Settings is an immutable per-trigger configuration (§3 "Transition
// settings"). ClockSource and InternalBPM let a trigger pin the musical
// clock to a specific source/tempo before its deadline is computed — e.g.
// a Drop fired while the clock is slaved externally but meant to land on an
// internally-paced boundary. ClockSource's zero value is clock.KeepCurrent,
// meaning "don't touch the clock's source" — a caller must opt in to an
// override by setting it explicitly.
type Settings struct {
	Mode            Mode
	FadeMS          int
	Quantization    clock.Quantization
	CycleLengthBars int
	Repeat          bool
	ClockSource     clock.Source
	InternalBPM     float64
}

// applyClockOverride pins the musical clock to the settings' source (and
// tempo, if InternalBPM is given) before a deadline is computed against it
// (§3 "clock source, internal BPM"). ClockSource == clock.KeepCurrent (the
// zero value) leaves the clock's current source alone, so a caller that
// never touches this field can't accidentally knock an externally-slaved
// clock back to internal.
func (e *Engine) applyClockOverride(settings Settings) {
	if e.musical == nil || settings.ClockSource == clock.KeepCurrent {
		return
	}
	e.musical.SetSource(settings.ClockSource)
	if settings.ClockSource == clock.Internal && settings.InternalBPM > 0 {
		e.musical.SetBPM(settings.InternalBPM)
	}
}

// normalize clamps Settings fields to their documented domains (§6, §7
// "Domain violation") and fills in the zero-value defaults a caller gets by
// leaving a field unset.
func (s Settings) normalize() Settings {
	if s.FadeMS < minFadeMS {
		s.FadeMS = minFadeMS
	}
	if s.FadeMS > maxFadeMS {
		s.FadeMS = maxFadeMS
	}
	if s.CycleLengthBars < minCycleLen {
		s.CycleLengthBars = minCycleLen
	}
	if s.CycleLengthBars > maxCycleLen {
		s.CycleLengthBars = maxCycleLen
	}
	if s.Quantization == "" {
		s.Quantization = clock.QuantNone
	}
	return s
}

// ScheduledTransition is an accepted-but-not-yet-fired transition (§3).
type ScheduledTransition struct {
	SnapshotID  string
	Mode        Mode
	DeadlineAt  time.Time
	TargetBar   int // meaningful for Drop only; -1 for Jump
	ScheduledAt time.Time
}

// InterpolationState describes an active Jump's fade (§3).
type InterpolationState struct {
	SnapshotID   string
	StartValues  map[string]uint8
	TargetValues map[string]uint8
	Order        []string
	StartTime    time.Time
	DurationMS   int
	Progress     float64
}

// Engine schedules and runs Jump/Drop transitions against a snapshot.Store
// and a clock.Clock (§4.3). The zero value is not usable; construct with
// New.
type Engine struct {
	clk           utilsclock.WithTickerAndDelayedExecution
	musical       *clock.Clock
	store         *snapshot.Store
	registry      *registry.Registry
	log           *logrus.Entry
	frameInterval time.Duration

	cmds chan func()

	scheduled      *ScheduledTransition
	scheduledTimer utilsclock.Timer

	interp      *InterpolationState
	interpTimer utilsclock.Ticker
	interpStopC chan struct{}

	onMessage             message.Sink
	onInterpolationUpdate func(InterpolationState)
	onComplete            func(*snapshot.Snapshot)
}

// New constructs an Engine with the default ~60Hz interpolation pacing. It
// subscribes to the Clock's stop event so a pending scheduled transition is
// cancelled when the transport stops (§9 "Drop fires while stopped" — see
// DESIGN.md for the decision).
func New(clk utilsclock.WithTickerAndDelayedExecution, musical *clock.Clock, store *snapshot.Store, reg *registry.Registry, log *logrus.Entry) *Engine {
	return NewWithFrameInterval(clk, musical, store, reg, log, interpolationFrameInterval)
}

// NewWithFrameInterval is New with an explicit Jump interpolation pacing,
// letting a deployment trade CPU for smoothness (internal/config's
// InterpolationFrameInterval) without touching the default.
func NewWithFrameInterval(clk utilsclock.WithTickerAndDelayedExecution, musical *clock.Clock, store *snapshot.Store, reg *registry.Registry, log *logrus.Entry, frameInterval time.Duration) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if frameInterval <= 0 {
		frameInterval = interpolationFrameInterval
	}
	e := &Engine{
		clk:           clk,
		musical:       musical,
		store:         store,
		registry:      reg,
		log:           log,
		frameInterval: frameInterval,
		cmds:          make(chan func(), 64),
	}
	go e.run()
	if musical != nil {
		musical.On(clock.EventStop, func(clock.Event) {
			e.submit(func() { e.cancelOnClockStop() })
		})
	}
	return e
}

// run is the Engine's single logical execution context (§5 "Scheduling
// model"): every state mutation and callback invocation below is funneled
// through this goroutine via e.cmds, so there is no internal locking.
func (e *Engine) run() {
	for fn := range e.cmds {
		fn()
	}
}

// submit schedules fn to run on the Engine's execution context and blocks
// until it has completed, giving callers (including tests) a synchronous
// view of otherwise-asynchronous engine operations.
func (e *Engine) submit(fn func()) {
	done := make(chan struct{})
	e.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// OnMessage registers the sink transitions push messages through.
func (e *Engine) OnMessage(f message.Sink) {
	e.submit(func() { e.onMessage = f })
}

// OnInterpolationUpdate registers a callback for Jump progress updates.
func (e *Engine) OnInterpolationUpdate(f func(InterpolationState)) {
	e.submit(func() { e.onInterpolationUpdate = f })
}

// OnComplete registers a callback fired when a Jump reaches progress=1 or a
// Drop fires.
func (e *Engine) OnComplete(f func(*snapshot.Snapshot)) {
	e.submit(func() { e.onComplete = f })
}

// IsActive reports whether a transition is scheduled or interpolating.
func (e *Engine) IsActive() bool {
	var active bool
	e.submit(func() { active = e.scheduled != nil || e.interp != nil })
	return active
}

// Scheduled returns the pending scheduled transition, if any.
func (e *Engine) Scheduled() (ScheduledTransition, bool) {
	var out ScheduledTransition
	var ok bool
	e.submit(func() {
		if e.scheduled != nil {
			out = *e.scheduled
			ok = true
		}
	})
	return out, ok
}

// Interpolation returns the active interpolation state, if any.
func (e *Engine) Interpolation() (InterpolationState, bool) {
	var out InterpolationState
	var ok bool
	e.submit(func() {
		if e.interp != nil {
			out = *e.interp
			ok = true
		}
	})
	return out, ok
}

// Cancel cancels any scheduled-but-not-fired transition and any in-progress
// Jump interpolation. It is synchronous: on return, no further callbacks or
// messages from the cancelled transition will arrive (§4.3). Calling it
// twice in a row is idempotent (§8).
func (e *Engine) Cancel() {
	e.submit(e.cancelEngine)
}

func (e *Engine) cancelEngine() {
	if e.scheduledTimer != nil {
		e.scheduledTimer.Stop()
		e.scheduledTimer = nil
	}
	e.scheduled = nil
	e.stopInterpolation()
}

func (e *Engine) stopInterpolation() {
	if e.interpTimer != nil {
		e.interpTimer.Stop()
		close(e.interpStopC)
		e.interpTimer = nil
		e.interpStopC = nil
	}
	e.interp = nil
}

// cancelOnClockStop cancels a scheduled transition when the musical clock
// stops, without disturbing an in-flight Jump fade (a Jump's interpolation
// runs on wall-clock time independent of transport state).
func (e *Engine) cancelOnClockStop() {
	if e.scheduled == nil {
		return
	}
	e.log.WithField("snapshot_id", e.scheduled.SnapshotID).Debug("transition: clock stopped, cancelling scheduled transition")
	if e.scheduledTimer != nil {
		e.scheduledTimer.Stop()
		e.scheduledTimer = nil
	}
	e.scheduled = nil
}

// ExecuteJump triggers a Jump transition (§4.3). A missing snapshot id is a
// no-op (§7).
func (e *Engine) ExecuteJump(snapshotID string, settings Settings) {
	e.submit(func() { e.runJump(snapshotID, settings.normalize()) })
}

func (e *Engine) runJump(snapshotID string, settings Settings) {
	e.cancelEngine()

	if _, ok := e.store.Get(snapshotID); !ok {
		e.log.WithField("snapshot_id", snapshotID).Debug("transition: jump target not found, ignoring")
		return
	}

	if settings.Quantization == clock.QuantNone || e.musical == nil {
		e.beginInterpolation(snapshotID, settings)
		return
	}

	e.applyClockOverride(settings)

	delayMS := e.musical.TimeUntilNextQuantization(settings.Quantization)
	deadline := e.clk.Now().Add(time.Duration(delayMS) * time.Millisecond)
	e.scheduled = &ScheduledTransition{
		SnapshotID:  snapshotID,
		Mode:        Jump,
		DeadlineAt:  deadline,
		TargetBar:   -1,
		ScheduledAt: e.clk.Now(),
	}
	e.scheduledTimer = e.clk.AfterFunc(time.Duration(delayMS)*time.Millisecond, func() {
		e.submit(func() { e.fireScheduledJump(snapshotID, settings) })
	})
}

func (e *Engine) fireScheduledJump(snapshotID string, settings Settings) {
	if e.scheduled == nil || e.scheduled.SnapshotID != snapshotID || e.scheduled.Mode != Jump {
		return // stale timer, already cancelled or superseded
	}
	e.scheduled = nil
	if _, ok := e.store.Get(snapshotID); !ok {
		return
	}
	e.beginInterpolation(snapshotID, settings)
}

// beginInterpolation starts a Jump's fade (§4.3 steps 3-5).
func (e *Engine) beginInterpolation(snapshotID string, settings Settings) {
	order := e.store.EnabledParameterOrder(snapshotID)
	targets := e.store.InterpolationTargets(snapshotID)
	start := make(map[string]uint8, len(order))
	for _, id := range order {
		v, _ := e.store.GetCurrent(id)
		start[id] = v
	}

	if settings.FadeMS <= 0 {
		for _, id := range order {
			e.emitParameter(id, targets[id])
		}
		e.fireComplete(snapshotID)
		return
	}

	e.interp = &InterpolationState{
		SnapshotID:   snapshotID,
		StartValues:  start,
		TargetValues: targets,
		Order:        order,
		StartTime:    e.clk.Now(),
		DurationMS:   settings.FadeMS,
	}

	ticker := e.clk.NewTicker(e.frameInterval)
	stopC := make(chan struct{})
	e.interpTimer = ticker
	e.interpStopC = stopC
	go func() {
		for {
			select {
			case <-stopC:
				return
			case <-ticker.C():
				e.submit(e.advanceInterpolationFrame)
			}
		}
	}()
}

// advanceInterpolationFrame computes and emits one frame of a Jump fade
// (§4.3 step 4, §8 "eased progress" invariants).
func (e *Engine) advanceInterpolationFrame() {
	if e.interp == nil {
		return
	}
	elapsedMS := float64(e.clk.Now().Sub(e.interp.StartTime)) / float64(time.Millisecond)
	progress := clamp01(elapsedMS / float64(e.interp.DurationMS))
	eased := ease.OutCubic(progress)

	for _, id := range e.interp.Order {
		startV := e.interp.StartValues[id]
		targetV := e.interp.TargetValues[id]
		v := roundLerp(startV, targetV, eased)
		e.emitParameter(id, v)
	}

	e.interp.Progress = progress
	if e.onInterpolationUpdate != nil {
		e.onInterpolationUpdate(*e.interp)
	}

	if progress >= 1.0 {
		snapshotID := e.interp.SnapshotID
		e.stopInterpolation()
		e.fireComplete(snapshotID)
	}
}

// emitParameter encodes one parameter via the registry, pushes it to the
// sink, and updates the current-value shadow to match (§4.3 step 4a/4b).
// Unknown parameter ids are skipped silently (§7).
func (e *Engine) emitParameter(parameterID string, value uint8) {
	msg, ok := e.registry.Encode(parameterID, value)
	if !ok {
		return
	}
	if e.onMessage != nil {
		e.onMessage(msg)
	}
	e.store.SetCurrent(parameterID, value)
}

func (e *Engine) fireComplete(snapshotID string) {
	snap, ok := e.store.Get(snapshotID)
	if !ok || e.onComplete == nil {
		return
	}
	e.onComplete(snap)
}

// ExecuteDrop triggers a Drop transition (§4.3). A missing snapshot id is a
// no-op (§7).
func (e *Engine) ExecuteDrop(snapshotID string, settings Settings) {
	e.submit(func() {
		e.cancelEngine()
		e.scheduleDrop(snapshotID, settings.normalize())
	})
}

func (e *Engine) scheduleDrop(snapshotID string, settings Settings) {
	if _, ok := e.store.Get(snapshotID); !ok {
		e.log.WithField("snapshot_id", snapshotID).Debug("transition: drop target not found, ignoring")
		return
	}
	if e.musical == nil {
		return
	}
	e.applyClockOverride(settings)

	targetBar := e.musical.NextCycleBar(settings.CycleLengthBars)
	delayMS := e.musical.TimeUntilBar(targetBar)
	deadline := e.clk.Now().Add(time.Duration(delayMS) * time.Millisecond)

	e.scheduled = &ScheduledTransition{
		SnapshotID:  snapshotID,
		Mode:        Drop,
		DeadlineAt:  deadline,
		TargetBar:   targetBar,
		ScheduledAt: e.clk.Now(),
	}
	e.scheduledTimer = e.clk.AfterFunc(time.Duration(delayMS)*time.Millisecond, func() {
		e.submit(func() { e.fireScheduledDrop(snapshotID, settings) })
	})
}

func (e *Engine) fireScheduledDrop(snapshotID string, settings Settings) {
	if e.scheduled == nil || e.scheduled.SnapshotID != snapshotID || e.scheduled.Mode != Drop {
		return // stale timer, already cancelled or superseded
	}
	e.scheduled = nil

	msgs := e.store.OutboundMessages(snapshotID)
	if e.onMessage != nil {
		for _, m := range msgs {
			e.onMessage(m)
		}
	}
	targets := e.store.InterpolationTargets(snapshotID)
	for id, v := range targets {
		e.store.SetCurrent(id, v)
	}

	e.fireComplete(snapshotID)

	if settings.Repeat {
		e.scheduleDrop(snapshotID, settings)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundLerp(start, target uint8, eased float64) uint8 {
	v := float64(start) + (float64(target)-float64(start))*eased
	return registry.Clamp127(int(v + 0.5))
}
