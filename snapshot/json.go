package snapshot

import (
	"encoding/json"
	"time"

	"github.com/groovedeck/groovedeck/message"
)

// snapshotJSON is the on-disk shape of a Snapshot. OneShots needs custom
// handling because message.Message is a sum-type interface with no
// reflectable concrete type for encoding/json to target directly.
type snapshotJSON struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Bank       int               `json:"bank"`
	Slot       int               `json:"slot"`
	Parameters []Parameter       `json:"parameters"`
	OneShots   []json.RawMessage `json:"one_shots"`
	Colour     string            `json:"colour,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ModifiedAt time.Time         `json:"modified_at"`
}

// MarshalJSON implements json.Marshaler for Snapshot.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(s.OneShots))
	for _, m := range s.OneShots {
		b, err := message.MarshalJSON(m)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(snapshotJSON{
		ID:         s.ID,
		Name:       s.Name,
		Bank:       s.Bank,
		Slot:       s.Slot,
		Parameters: s.Parameters,
		OneShots:   raw,
		Colour:     s.Colour,
		CreatedAt:  s.CreatedAt,
		ModifiedAt: s.ModifiedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Snapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var sj snapshotJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}
	oneShots := make([]message.Message, 0, len(sj.OneShots))
	for _, raw := range sj.OneShots {
		m, err := message.UnmarshalJSON(raw)
		if err != nil {
			return err
		}
		oneShots = append(oneShots, m)
	}
	s.ID = sj.ID
	s.Name = sj.Name
	s.Bank = sj.Bank
	s.Slot = sj.Slot
	s.Parameters = sj.Parameters
	s.OneShots = oneShots
	s.Colour = sj.Colour
	s.CreatedAt = sj.CreatedAt
	s.ModifiedAt = sj.ModifiedAt
	return nil
}
