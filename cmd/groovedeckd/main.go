// Command groovedeckd is the demo wiring entry point for the groovedeck
// engine: it builds a Coordinator, points its outbound messages at a real
// MIDI output port when one is present (falling back to logging them
// otherwise), starts the internal clock, and waits for CTRL+C.
//
// It is grounded on the teacher's main.go (robmorgan/halo), which builds a
// config, wires up its cuelist.Master against a clock.RealClock{}, and
// blocks on an interrupt signal before tearing down; the MIDI output port
// discovery is grounded on grahamseamans-go-sequence's midi.DeviceManager
// scan-by-name pattern, simplified from continuous hot-plug polling to a
// one-shot lookup since a groovebox controller is expected to already be
// connected at startup.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/sirupsen/logrus"
	utilsclock "k8s.io/utils/clock"

	"github.com/groovedeck/groovedeck/coordinator"
	"github.com/groovedeck/groovedeck/internal/applog"
	"github.com/groovedeck/groovedeck/internal/config"
	"github.com/groovedeck/groovedeck/message"
)

// midiPort is the demo coordinator.Port implementation: it classifies raw
// v2 message bytes off a real input port into the four transport events.
// It does no device I/O of its own; opening/enumerating the port and
// stopping the listener is main's job.
type midiPort struct {
	ticks     chan struct{}
	starts    chan struct{}
	stops     chan struct{}
	continues chan struct{}
}

func newMIDIPort() *midiPort {
	return &midiPort{
		ticks:     make(chan struct{}, 32),
		starts:    make(chan struct{}, 1),
		stops:     make(chan struct{}, 1),
		continues: make(chan struct{}, 1),
	}
}

func (p *midiPort) Ticks() <-chan struct{}     { return p.ticks }
func (p *midiPort) Starts() <-chan struct{}    { return p.starts }
func (p *midiPort) Stops() <-chan struct{}     { return p.stops }
func (p *midiPort) Continues() <-chan struct{} { return p.continues }

// deliver classifies one incoming wire message and, for realtime transport
// bytes, forwards it non-blockingly onto the matching channel (a slow
// listener drops ticks rather than backing up the driver's callback). CCs
// are routed straight to the coordinator since they carry a payload the
// Port interface has no channel for.
func (p *midiPort) deliver(coord *coordinator.Coordinator, msg gomidi.Message) {
	var ch, cc, val uint8
	if msg.GetControlChange(&ch, &cc, &val) {
		coord.HandleControlChange(cc, val, ch+1)
		return
	}
	if len(msg) == 0 {
		return
	}
	var target chan struct{}
	switch msg[0] {
	case message.TransportTimingClock:
		target = p.ticks
	case message.TransportStart:
		target = p.starts
	case message.TransportStop:
		target = p.stops
	case message.TransportContinue:
		target = p.continues
	default:
		return
	}
	select {
	case target <- struct{}{}:
	default:
	}
}

func main() {
	cfg, err := config.New()
	if err != nil {
		panic("error creating config")
	}

	log := applog.New(applog.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	root := applog.Component(log, "main")

	root.Info("initializing coordinator...")
	coord := coordinator.NewWithFrameInterval(utilsclock.RealClock{}, applog.Component(log, "coordinator"), cfg.InterpolationFrameInterval)
	coord.Clock.SetBPM(cfg.InitialBPM)
	coord.Clock.SetBeatsPerBar(cfg.InitialBeatsPerBar)

	sink := openOutputSink(root)
	coord.OnMessage(sink)

	stopPort := openInputPort(root, coord)
	if stopPort != nil {
		defer stopPort()
	}

	root.Info("starting internal clock...")
	coord.Clock.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	root.Info("shutting down groovedeckd")
	coord.Clock.Stop()
}

// openInputPort is a demo only: it shows, but does not fully productionize,
// how a real MIDI input feeds coordinator.Port. It does no enumeration
// beyond picking the first available input, and the returned stop function
// merely closes the listener goroutine, it does not detect hot-unplug.
func openInputPort(log *logrus.Entry, coord *coordinator.Coordinator) func() {
	ins := gomidi.GetInPorts()
	var chosen drivers.In
	for _, in := range ins {
		name := strings.ToLower(in.String())
		if strings.Contains(name, "through") {
			continue
		}
		chosen = in
		break
	}
	if chosen == nil {
		log.Warn("no midi input port found, external clock sync disabled")
		return nil
	}
	if err := chosen.Open(); err != nil {
		log.WithField("port", chosen.String()).WithField("err", err).Warn("could not open midi input port, external clock sync disabled")
		return nil
	}

	port := newMIDIPort()
	stopListen := make(chan struct{})

	stopFn, err := gomidi.ListenTo(chosen, func(msg gomidi.Message, _ int32) {
		port.deliver(coord, msg)
	}, gomidi.HandleError(func(listenErr error) {
		log.WithField("err", listenErr).Warn("groovedeckd: midi input listener error")
	}))
	if err != nil {
		log.WithField("port", chosen.String()).WithField("err", err).Warn("could not listen on midi input port, external clock sync disabled")
		return nil
	}

	go coord.ListenPort(port, stopListen)

	log.WithField("port", chosen.String()).Info("groovedeckd: listening for external clock/CC on midi input port")
	return func() {
		close(stopListen)
		stopFn()
	}
}

// openOutputSink finds the first non-virtual MIDI output port and returns a
// Sink that writes every message's wire bytes to it. If no port is found
// (or opening fails), it falls back to logging each message — the demo
// binary never blocks the engine on missing hardware.
func openOutputSink(log *logrus.Entry) message.Sink {
	outs := gomidi.GetOutPorts()
	var chosen drivers.Out
	for _, out := range outs {
		name := strings.ToLower(out.String())
		if strings.Contains(name, "through") || strings.Contains(name, "dummy") {
			continue
		}
		chosen = out
		break
	}
	if chosen == nil {
		log.Warn("no midi output port found, logging messages instead")
		return func(m message.Message) {
			log.WithField("message", m.String()).Debug("groovedeckd: (no device) outbound message")
		}
	}
	if err := chosen.Open(); err != nil {
		log.WithField("port", chosen.String()).WithField("err", err).Warn("could not open midi output port, logging messages instead")
		return func(m message.Message) {
			log.WithField("message", m.String()).Debug("groovedeckd: (open failed) outbound message")
		}
	}
	log.WithField("port", chosen.String()).Info("groovedeckd: sending to midi output port")
	return func(m message.Message) {
		if err := chosen.Send(m.Bytes()); err != nil {
			log.WithField("err", err).Warn("groovedeckd: write to midi output failed")
		}
	}
}
