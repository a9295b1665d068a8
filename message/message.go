// Package message defines the abstract parameter messages that flow between
// the snapshot/transition core and the downstream device, and the Sink the
// core pushes them through. The core never talks to a transport directly
// (§1 of the spec): it builds these values and hands them to whatever Sink
// the owning coordinator installed.
package message

import (
	"encoding/json"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// Message is the wire form of one parameter update or one-shot trigger.
// Exactly one of the concrete types below satisfies it.
type Message interface {
	// Bytes renders the message as the raw MIDI bytes a transport would
	// send. NRPN renders as its CC99/CC98/CC6 triplet.
	Bytes() []byte
	String() string
}

// CC is a Control Change message: channel 1-16, controller 0-127, value 0-127.
type CC struct {
	Channel    uint8
	Controller uint8
	Value      uint8
}

func (m CC) Bytes() []byte {
	return midi.ControlChange(m.Channel-1, m.Controller, m.Value)
}

func (m CC) String() string {
	return fmt.Sprintf("CC(ch=%d cc=%d val=%d)", m.Channel, m.Controller, m.Value)
}

// PC is a Program Change message: channel 1-16, program 0-127.
type PC struct {
	Channel uint8
	Program uint8
}

func (m PC) Bytes() []byte {
	return midi.ProgramChange(m.Channel-1, m.Program)
}

func (m PC) String() string {
	return fmt.Sprintf("PC(ch=%d prog=%d)", m.Channel, m.Program)
}

// Note is a Note On (On=true, velocity>0) or Note Off (On=false) message.
type Note struct {
	Channel  uint8
	Note     uint8
	Velocity uint8
	On       bool
}

func (m Note) Bytes() []byte {
	if m.On {
		return midi.NoteOn(m.Channel-1, m.Note, m.Velocity)
	}
	return midi.NoteOff(m.Channel-1, m.Note)
}

func (m Note) String() string {
	verb := "off"
	if m.On {
		verb = "on"
	}
	return fmt.Sprintf("Note%s(ch=%d note=%d vel=%d)", verb, m.Channel, m.Note, m.Velocity)
}

// NRPN is a non-registered parameter number update: channel 1-16, MSB/LSB
// 0-127, value 0-127. MIDI has no single NRPN status byte, so Bytes renders
// the CC99(MSB)/CC98(LSB)/CC6(value) triplet in that order, per §4.2.
type NRPN struct {
	Channel uint8
	MSB     uint8
	LSB     uint8
	Value   uint8
}

func (m NRPN) Bytes() []byte {
	ch := m.Channel - 1
	out := make([]byte, 0, 9)
	out = append(out, midi.ControlChange(ch, 99, m.MSB)...)
	out = append(out, midi.ControlChange(ch, 98, m.LSB)...)
	out = append(out, midi.ControlChange(ch, 6, m.Value)...)
	return out
}

func (m NRPN) String() string {
	return fmt.Sprintf("NRPN(ch=%d msb=%d lsb=%d val=%d)", m.Channel, m.MSB, m.LSB, m.Value)
}

// Sink accepts one wire message at a time. Implementations must return
// promptly and must not block (§6); the core calls it synchronously.
type Sink func(Message)

// wireJSON is the on-disk shape of a Message, used so a persistence
// collaborator can round-trip one-shot messages through JSON without the
// core knowing anything about files or databases (§1, §4.2).
type wireJSON struct {
	Kind string `json:"kind"`
	CC   *CC    `json:"cc,omitempty"`
	PC   *PC    `json:"pc,omitempty"`
	Note *Note  `json:"note,omitempty"`
	NRPN *NRPN  `json:"nrpn,omitempty"`
}

// MarshalJSON encodes a Message by its concrete kind.
func MarshalJSON(m Message) ([]byte, error) {
	switch v := m.(type) {
	case CC:
		return json.Marshal(wireJSON{Kind: "cc", CC: &v})
	case PC:
		return json.Marshal(wireJSON{Kind: "pc", PC: &v})
	case Note:
		return json.Marshal(wireJSON{Kind: "note", Note: &v})
	case NRPN:
		return json.Marshal(wireJSON{Kind: "nrpn", NRPN: &v})
	default:
		return nil, fmt.Errorf("message: unknown concrete type %T", m)
	}
}

// UnmarshalJSON decodes a Message previously encoded by MarshalJSON.
func UnmarshalJSON(data []byte) (Message, error) {
	var w wireJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Kind {
	case "cc":
		if w.CC == nil {
			return nil, fmt.Errorf("message: cc kind missing cc payload")
		}
		return *w.CC, nil
	case "pc":
		if w.PC == nil {
			return nil, fmt.Errorf("message: pc kind missing pc payload")
		}
		return *w.PC, nil
	case "note":
		if w.Note == nil {
			return nil, fmt.Errorf("message: note kind missing note payload")
		}
		return *w.Note, nil
	case "nrpn":
		if w.NRPN == nil {
			return nil, fmt.Errorf("message: nrpn kind missing nrpn payload")
		}
		return *w.NRPN, nil
	default:
		return nil, fmt.Errorf("message: unknown kind %q", w.Kind)
	}
}

// Transport control bytes, emitted by the owning coordinator alongside
// internal-clock start/stop/ticks to keep a downstream device's transport
// in sync (§6). The core does not emit these itself.
const (
	TransportStart       byte = 0xFA
	TransportStop        byte = 0xFC
	TransportContinue    byte = 0xFB
	TransportTimingClock byte = 0xF8
)
