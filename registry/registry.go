// Package registry implements the Parameter Registry (§4.4): a process-wide,
// read-only catalogue of addressable parameters and their wire encodings,
// built once at startup. It is grounded on the teacher's fixture profile
// catalogue (robmorgan/halo's profile.Profile / config.initializeFixtureProfiles,
// which maps logical channel names to DMX addresses) generalized to the
// MIDI CC/PC/Note/NRPN addressing §3 and §6 require, plus the generated
// 16-track cross product the teacher's PatchFixtures helpers do per-fixture.
package registry

import (
	"fmt"

	"github.com/groovedeck/groovedeck/message"
)

// Category tags a parameter's role in the UI/grid, per §3.
type Category string

const (
	CategoryScene     Category = "scene"
	CategoryTempo     Category = "tempo"
	CategoryTrack     Category = "track"
	CategoryGroove    Category = "groove"
	CategoryTransport Category = "transport"
)

// Kind identifies which wire shape a descriptor encodes to.
type Kind int

const (
	KindCC Kind = iota
	KindPC
	KindNote
	KindNRPN
)

// Encoding is the wire encoding for one descriptor: a channel plus exactly
// one addressing scheme, per §3 "wire encoding".
type Encoding struct {
	Kind    Kind
	Channel uint8 // 1-16

	CC uint8 // KindCC

	Program uint8 // KindPC

	Note            uint8 // KindNote
	VelocityDefault uint8 // KindNote, used when a trigger doesn't specify one

	NRPNMSB uint8 // KindNRPN
	NRPNLSB uint8 // KindNRPN
}

// Descriptor is one catalogue entry (§3 "Parameter descriptor").
type Descriptor struct {
	ID       string
	Name     string
	Encoding Encoding
	Default  uint8
	Category Category
}

// Registry is the immutable, process-wide parameter catalogue.
type Registry struct {
	byID       map[string]Descriptor
	byChanCC   map[[2]uint8]Descriptor // [channel, cc] -> descriptor, KindCC only
	byCategory map[Category][]Descriptor
	order      []string // registration order, for stable iteration
}

// New builds the fixed catalogue described in §6 "Parameter catalogue
// (bit-exact)": the global scene/tempo/groove parameters, plus the 16 x
// {volume, mute, pan} cross product.
func New() *Registry {
	r := &Registry{
		byID:       make(map[string]Descriptor),
		byChanCC:   make(map[[2]uint8]Descriptor),
		byCategory: make(map[Category][]Descriptor),
	}

	r.add(Descriptor{ID: "delayed_scene", Name: "Delayed Scene", Category: CategoryScene,
		Encoding: Encoding{Kind: KindCC, Channel: 1, CC: 82}, Default: 0})
	r.add(Descriptor{ID: "prev_scene", Name: "Previous Scene", Category: CategoryScene,
		Encoding: Encoding{Kind: KindCC, Channel: 1, CC: 83}, Default: 0})
	r.add(Descriptor{ID: "next_scene", Name: "Next Scene", Category: CategoryScene,
		Encoding: Encoding{Kind: KindCC, Channel: 1, CC: 84}, Default: 0})
	r.add(Descriptor{ID: "scene_direct", Name: "Scene Direct", Category: CategoryScene,
		Encoding: Encoding{Kind: KindCC, Channel: 1, CC: 85}, Default: 0})
	r.add(Descriptor{ID: "tempo", Name: "Tempo", Category: CategoryTempo,
		Encoding: Encoding{Kind: KindCC, Channel: 1, CC: 80}, Default: 64})
	r.add(Descriptor{ID: "groove", Name: "Groove", Category: CategoryGroove,
		Encoding: Encoding{Kind: KindCC, Channel: 1, CC: 81}, Default: 64})

	for i := 1; i <= 16; i++ {
		ch := uint8(i)
		r.add(Descriptor{
			ID:       fmt.Sprintf("track_%d_volume", i),
			Name:     fmt.Sprintf("Track %d Volume", i),
			Category: CategoryTrack,
			Encoding: Encoding{Kind: KindCC, Channel: ch, CC: 7},
			Default:  100,
		})
		r.add(Descriptor{
			ID:       fmt.Sprintf("track_%d_mute", i),
			Name:     fmt.Sprintf("Track %d Mute", i),
			Category: CategoryTrack,
			Encoding: Encoding{Kind: KindCC, Channel: ch, CC: 9},
			Default:  0,
		})
		r.add(Descriptor{
			ID:       fmt.Sprintf("track_%d_pan", i),
			Name:     fmt.Sprintf("Track %d Pan", i),
			Category: CategoryTrack,
			Encoding: Encoding{Kind: KindCC, Channel: ch, CC: 10},
			Default:  64,
		})
	}

	return r
}

func (r *Registry) add(d Descriptor) {
	r.byID[d.ID] = d
	r.order = append(r.order, d.ID)
	r.byCategory[d.Category] = append(r.byCategory[d.Category], d)
	if d.Encoding.Kind == KindCC {
		r.byChanCC[[2]uint8{d.Encoding.Channel, d.Encoding.CC}] = d
	}
}

// Get looks up a descriptor by its stable id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// ByChannelCC looks up the descriptor addressed by a given channel+CC pair,
// if any (unregistered CC numbers simply aren't present).
func (r *Registry) ByChannelCC(channel, cc uint8) (Descriptor, bool) {
	d, ok := r.byChanCC[[2]uint8{channel, cc}]
	return d, ok
}

// ByCategory returns every descriptor tagged with the given category, in
// registration order.
func (r *Registry) ByCategory(cat Category) []Descriptor {
	src := r.byCategory[cat]
	out := make([]Descriptor, len(src))
	copy(out, src)
	return out
}

// IDs returns every registered parameter id, in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Default returns the registry default for a parameter, or 0 if unknown.
func (r *Registry) Default(id string) uint8 {
	if d, ok := r.byID[id]; ok {
		return d.Default
	}
	return 0
}

// Encode translates a parameter id and value into its wire message, per
// §4.2 "Encoding". Unknown ids return ok=false and are skipped silently by
// callers, per §7.
func (r *Registry) Encode(id string, value uint8) (message.Message, bool) {
	d, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	switch d.Encoding.Kind {
	case KindCC:
		return message.CC{Channel: d.Encoding.Channel, Controller: d.Encoding.CC, Value: value}, true
	case KindPC:
		return message.PC{Channel: d.Encoding.Channel, Program: value}, true
	case KindNote:
		if value > 0 {
			return message.Note{Channel: d.Encoding.Channel, Note: d.Encoding.Note, Velocity: value, On: true}, true
		}
		return message.Note{Channel: d.Encoding.Channel, Note: d.Encoding.Note, Velocity: d.Encoding.VelocityDefault, On: false}, true
	case KindNRPN:
		return message.NRPN{Channel: d.Encoding.Channel, MSB: d.Encoding.NRPNMSB, LSB: d.Encoding.NRPNLSB, Value: value}, true
	default:
		return nil, false
	}
}
