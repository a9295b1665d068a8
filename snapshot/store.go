// Package snapshot implements the Snapshot Store (§4.2): the bank/slot grid
// of parameter-value sets, plus the current-value shadow the Transition
// Engine interpolates from and writes back to.
//
// It is grounded on the teacher's fixture.Group / fixture.StateManager
// (robmorgan/halo), which hold a name-keyed collection behind a mutex and
// expose get/set/list operations over it; the grid-position scan is
// grounded on config.PatchFixtures' "patch a bunch of named slots, merge
// into groups" shape, generalized to the (bank, slot) addressing of §3.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gruntwork-io/go-commons/errors"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/sirupsen/logrus"
	utilsclock "k8s.io/utils/clock"
	"slices"

	"github.com/groovedeck/groovedeck/message"
	"github.com/groovedeck/groovedeck/registry"
)

// Grid dimensions, per §6.
const (
	Banks        = 8
	SlotsPerBank = 16
)

// Parameter is one (id, value, enabled) entry within a snapshot (§3).
type Parameter struct {
	ParameterID string
	Value       uint8
	Enabled     bool
}

// Position addresses one cell of the bank/slot grid.
type Position struct {
	Bank int
	Slot int
}

// Snapshot is a named, identifier-keyed record living in one grid cell
// (§3 "Snapshot").
type Snapshot struct {
	ID         string
	Name       string
	Bank       int
	Slot       int
	Parameters []Parameter
	OneShots   []message.Message
	Colour     string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// clone deep-copies a Snapshot so callers can't mutate store internals
// through a returned pointer.
func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Parameters = append([]Parameter(nil), s.Parameters...)
	out.OneShots = append([]message.Message(nil), s.OneShots...)
	return &out
}

// Patch merges allowed field updates into a snapshot (§4.2 "update"). A nil
// field is left unchanged.
type Patch struct {
	Name       *string
	Parameters []Parameter
	OneShots   []message.Message
	Colour     *string
}

// Store owns every Snapshot plus the current-value shadow (§3, §9 "Shared
// mutable state" — the shadow is a field here, never exposed by reference).
type Store struct {
	mu        sync.RWMutex
	registry  *registry.Registry
	clk       utilsclock.Clock
	log       *logrus.Entry
	snapshots map[string]*Snapshot
	shadow    map[string]uint8
}

// New constructs an empty Store whose shadow starts at the registry's
// defaults, per §3 "Current-value shadow: initialised from the registry
// defaults".
func New(reg *registry.Registry, clk utilsclock.Clock, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{
		registry:  reg,
		clk:       clk,
		log:       log,
		snapshots: make(map[string]*Snapshot),
		shadow:    make(map[string]uint8),
	}
	for _, id := range reg.IDs() {
		s.shadow[id] = reg.Default(id)
	}
	return s
}

func newSnapshotID() string {
	return uuid.NewString()
}

// evictAtPositionLocked deletes any existing snapshot occupying (bank, slot),
// enforcing the uniqueness decision documented in DESIGN.md (resolving the
// §9 open question on position uniqueness). Caller must hold s.mu.
func (s *Store) evictAtPositionLocked(bank, slot int) {
	for id, snap := range s.snapshots {
		if snap.Bank == bank && snap.Slot == slot {
			delete(s.snapshots, id)
			return
		}
	}
}

// CreateEmpty creates a snapshot with no parameters and no one-shot
// messages at (bank, slot), per §4.2.
func (s *Store) CreateEmpty(bank, slot int, name string) (string, error) {
	if bank < 0 || bank >= Banks || slot < 0 || slot >= SlotsPerBank {
		return "", errors.WithStackTrace(fmt.Errorf("position (%d,%d) out of grid", bank, slot))
	}
	if name == "" {
		name = fmt.Sprintf("%d-%02d", bank, slot)
	}
	now := s.clk.Now()
	snap := &Snapshot{
		ID:         newSnapshotID(),
		Name:       name,
		Bank:       bank,
		Slot:       slot,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictAtPositionLocked(bank, slot)
	s.snapshots[snap.ID] = snap
	return snap.ID, nil
}

// Capture creates a snapshot whose parameters are the full current-value
// shadow with enabled=true on each — the "capture current state" primitive
// (§4.2).
func (s *Store) Capture(bank, slot int, name string) (string, error) {
	if bank < 0 || bank >= Banks || slot < 0 || slot >= SlotsPerBank {
		return "", errors.WithStackTrace(fmt.Errorf("position (%d,%d) out of grid", bank, slot))
	}
	if name == "" {
		name = fmt.Sprintf("%d-%02d", bank, slot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.registry.IDs()
	sort.Strings(ids)
	params := make([]Parameter, 0, len(ids))
	for _, id := range ids {
		params = append(params, Parameter{ParameterID: id, Value: s.shadow[id], Enabled: true})
	}

	now := s.clk.Now()
	snap := &Snapshot{
		ID:         newSnapshotID(),
		Name:       name,
		Bank:       bank,
		Slot:       slot,
		Parameters: params,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	s.evictAtPositionLocked(bank, slot)
	s.snapshots[snap.ID] = snap
	return snap.ID, nil
}

// Get returns a copy of the snapshot with the given id.
func (s *Store) Get(id string) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, false
	}
	return snap.clone(), true
}

// FindByPosition returns the first snapshot found at (bank, slot) in
// iteration order (§3 "lookup-by-position returns the first match").
func (s *Store) FindByPosition(bank, slot int) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap := s.snapshots[id]
		if snap.Bank == bank && snap.Slot == slot {
			return snap.clone(), true
		}
	}
	return nil, false
}

// ListAll returns every snapshot, ordered by (bank, slot) then id.
func (s *Store) ListAll() []*Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.clone())
	}
	slices.SortFunc(out, func(a, b *Snapshot) int {
		return comparePosition(a, b)
	})
	return out
}

// ListByBank returns every snapshot in the given bank, ordered by slot.
func (s *Store) ListByBank(bank int) []*Snapshot {
	all := s.ListAll()
	out := make([]*Snapshot, 0)
	for _, snap := range all {
		if snap.Bank == bank {
			out = append(out, snap)
		}
	}
	return out
}

func comparePosition(a, b *Snapshot) int {
	if a.Bank != b.Bank {
		return a.Bank - b.Bank
	}
	if a.Slot != b.Slot {
		return a.Slot - b.Slot
	}
	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}

// Update merges a patch's non-nil fields into the snapshot and bumps
// ModifiedAt. Returns false if id is unknown (§7 "Not found").
func (s *Store) Update(id string, patch Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return false
	}
	if patch.Name != nil {
		snap.Name = *patch.Name
	}
	if patch.Parameters != nil {
		snap.Parameters = dedupeParameters(patch.Parameters)
	}
	if patch.OneShots != nil {
		snap.OneShots = patch.OneShots
	}
	if patch.Colour != nil {
		if c, err := colorful.Hex(*patch.Colour); err == nil {
			snap.Colour = c.Hex()
		}
	}
	snap.ModifiedAt = s.clk.Now()
	return true
}

// dedupeParameters enforces the §3 invariant that parameter ids within a
// snapshot are unique and clamps values to [0,127], keeping the
// last-specified entry for any duplicate id.
func dedupeParameters(in []Parameter) []Parameter {
	byID := make(map[string]int, len(in))
	out := make([]Parameter, 0, len(in))
	for _, p := range in {
		p.Value = registry.Clamp127(int(p.Value))
		if idx, ok := byID[p.ParameterID]; ok {
			out[idx] = p
			continue
		}
		byID[p.ParameterID] = len(out)
		out = append(out, p)
	}
	return out
}

// SetParameter upserts a (parameter_id, value, enabled) entry on a
// snapshot, clamping the value to [0,127] (§4.2).
func (s *Store) SetParameter(id, parameterID string, value uint8, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return false
	}
	value = registry.Clamp127(int(value))
	for i := range snap.Parameters {
		if snap.Parameters[i].ParameterID == parameterID {
			snap.Parameters[i].Value = value
			snap.Parameters[i].Enabled = enabled
			snap.ModifiedAt = s.clk.Now()
			return true
		}
	}
	snap.Parameters = append(snap.Parameters, Parameter{ParameterID: parameterID, Value: value, Enabled: enabled})
	snap.ModifiedAt = s.clk.Now()
	return true
}

// RemoveParameter deletes a parameter entry from a snapshot.
func (s *Store) RemoveParameter(id, parameterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return false
	}
	for i := range snap.Parameters {
		if snap.Parameters[i].ParameterID == parameterID {
			snap.Parameters = append(snap.Parameters[:i], snap.Parameters[i+1:]...)
			snap.ModifiedAt = s.clk.Now()
			return true
		}
	}
	return false
}

// ToggleParameterEnabled flips a parameter's enabled flag.
func (s *Store) ToggleParameterEnabled(id, parameterID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return false
	}
	for i := range snap.Parameters {
		if snap.Parameters[i].ParameterID == parameterID {
			snap.Parameters[i].Enabled = !snap.Parameters[i].Enabled
			snap.ModifiedAt = s.clk.Now()
			return true
		}
	}
	return false
}

// Delete removes a snapshot outright.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return false
	}
	delete(s.snapshots, id)
	return true
}

// Copy duplicates a snapshot to a new (bank, slot) with a fresh id, "(copy)"
// name suffix, and fresh timestamps (§4.2).
func (s *Store) Copy(srcID string, dstBank, dstSlot int) (string, bool) {
	if dstBank < 0 || dstBank >= Banks || dstSlot < 0 || dstSlot >= SlotsPerBank {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.snapshots[srcID]
	if !ok {
		return "", false
	}
	now := s.clk.Now()
	dst := &Snapshot{
		ID:         newSnapshotID(),
		Name:       src.Name + " (copy)",
		Bank:       dstBank,
		Slot:       dstSlot,
		Parameters: append([]Parameter(nil), src.Parameters...),
		OneShots:   append([]message.Message(nil), src.OneShots...),
		Colour:     src.Colour,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	s.evictAtPositionLocked(dstBank, dstSlot)
	s.snapshots[dst.ID] = dst
	return dst.ID, true
}

// EmptyPositions scans a single bank lexicographically by slot and returns
// every slot with no occupant (§4.2).
func (s *Store) EmptyPositions(bank, slotsPerBank int) []Position {
	occupied := make(map[int]bool)
	s.mu.RLock()
	for _, snap := range s.snapshots {
		if snap.Bank == bank {
			occupied[snap.Slot] = true
		}
	}
	s.mu.RUnlock()

	out := make([]Position, 0)
	for slot := 0; slot < slotsPerBank; slot++ {
		if !occupied[slot] {
			out = append(out, Position{Bank: bank, Slot: slot})
		}
	}
	return out
}

// NextAvailable scans banks/slots lexicographically starting at startBank
// and returns the first empty position (§4.2).
func (s *Store) NextAvailable(startBank, slotsPerBank, totalBanks int) (Position, bool) {
	for b := startBank; b < totalBanks; b++ {
		empties := s.EmptyPositions(b, slotsPerBank)
		if len(empties) > 0 {
			return empties[0], true
		}
	}
	return Position{}, false
}

// GetCurrent reads the current-value shadow for a parameter.
func (s *Store) GetCurrent(parameterID string) (uint8, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.shadow[parameterID]
	return v, ok
}

// SetCurrent writes the current-value shadow for a parameter, clamping to
// [0,127] (§4.2, §9).
func (s *Store) SetCurrent(parameterID string, value uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shadow[parameterID] = registry.Clamp127(int(value))
}

// ResetCurrent reinitialises the shadow to the registry defaults.
func (s *Store) ResetCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.registry.IDs() {
		s.shadow[id] = s.registry.Default(id)
	}
}

// InterpolationTargets returns the enabled-parameter target map for a
// snapshot (§4.2).
func (s *Store) InterpolationTargets(id string) map[string]uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil
	}
	out := make(map[string]uint8, len(snap.Parameters))
	for _, p := range snap.Parameters {
		if p.Enabled {
			out[p.ParameterID] = p.Value
		}
	}
	return out
}

// EnabledParameterOrder returns the enabled parameter ids of a snapshot in
// its stored order — the iteration order the Transition Engine's Jump
// emissions must follow (§4.3 "Ordering guarantees").
func (s *Store) EnabledParameterOrder(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(snap.Parameters))
	for _, p := range snap.Parameters {
		if p.Enabled {
			out = append(out, p.ParameterID)
		}
	}
	return out
}

// OutboundMessages encodes every enabled parameter via the registry, then
// appends the snapshot's one-shot messages in order. Disabled parameters
// and unknown parameter ids are skipped silently (§4.2, §7).
func (s *Store) OutboundMessages(id string) []message.Message {
	s.mu.RLock()
	snap, ok := s.snapshots[id]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	params := append([]Parameter(nil), snap.Parameters...)
	oneShots := append([]message.Message(nil), snap.OneShots...)
	s.mu.RUnlock()

	out := make([]message.Message, 0, len(params)+len(oneShots))
	for _, p := range params {
		if !p.Enabled {
			continue
		}
		msg, ok := s.registry.Encode(p.ParameterID, p.Value)
		if !ok {
			s.log.WithField("parameter_id", p.ParameterID).Debug("snapshot: skipping unregistered parameter")
			continue
		}
		out = append(out, msg)
	}
	out = append(out, oneShots...)
	return out
}

// Load bulk-replaces the snapshot set, for persistence collaborators (§4.2).
func (s *Store) Load(list []*Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[string]*Snapshot, len(list))
	for _, snap := range list {
		s.snapshots[snap.ID] = snap.clone()
	}
}

// Export bulk-reads the snapshot set, for persistence collaborators (§4.2).
func (s *Store) Export() []*Snapshot {
	return s.ListAll()
}

// ExportJSON serializes the snapshot set, giving the out-of-scope
// persistence collaborator (§1) something concrete to write to durable
// storage without the core touching a filesystem.
func (s *Store) ExportJSON() ([]byte, error) {
	return json.Marshal(s.Export())
}

// LoadJSON bulk-replaces the snapshot set from a serialized export.
func (s *Store) LoadJSON(data []byte) error {
	var list []*Snapshot
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.WithStackTrace(err)
	}
	s.Load(list)
	return nil
}
