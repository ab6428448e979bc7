package room

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/loshunter/herobyte/go/internal/room/selection"
)

// Snapshot is the full-room view broadcast to every client. It shares no
// memory with the RoomState it was taken from.
type Snapshot struct {
	RoomID     string           `json:"roomId"`
	Players    []Player         `json:"players"`
	Tokens     []Token          `json:"tokens"`
	Props      []Prop           `json:"props"`
	Characters []Character      `json:"characters"`
	Selection  *selection.State `json:"selectionState"`
	TakenAt    time.Time        `json:"takenAt"`
}

// Snapshot copies the current state
func (s *RoomState) Snapshot(now time.Time) *Snapshot {
	snap := &Snapshot{
		RoomID:     s.ID,
		Players:    make([]Player, 0, len(s.Players)),
		Tokens:     make([]Token, 0, len(s.Tokens)),
		Props:      make([]Prop, 0, len(s.Props)),
		Characters: make([]Character, 0, len(s.Characters)),
		Selection:  s.Selection.Clone(),
		TakenAt:    now,
	}
	for _, p := range s.Players {
		snap.Players = append(snap.Players, *p)
	}
	for _, t := range s.Tokens {
		snap.Tokens = append(snap.Tokens, *t)
	}
	for _, p := range s.Props {
		snap.Props = append(snap.Props, *p)
	}
	for _, c := range s.Characters {
		snap.Characters = append(snap.Characters, *c)
	}

	sort.Slice(snap.Players, func(i, j int) bool { return snap.Players[i].UID < snap.Players[j].UID })
	sort.Slice(snap.Tokens, func(i, j int) bool { return snap.Tokens[i].ID < snap.Tokens[j].ID })
	sort.Slice(snap.Props, func(i, j int) bool { return snap.Props[i].ID < snap.Props[j].ID })
	sort.Slice(snap.Characters, func(i, j int) bool { return snap.Characters[i].ID < snap.Characters[j].ID })
	return snap
}

// document is the persisted part of a room. Players and selections are
// session state and are not saved.
type document struct {
	Tokens     []Token     `json:"tokens"`
	Props      []Prop      `json:"props"`
	Characters []Character `json:"characters"`
}

func (s *RoomState) marshalDocument() ([]byte, error) {
	snap := s.Snapshot(time.Time{})
	return json.Marshal(document{
		Tokens:     snap.Tokens,
		Props:      snap.Props,
		Characters: snap.Characters,
	})
}

func (s *RoomState) restoreDocument(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal room document: %w", err)
	}
	for i := range doc.Tokens {
		t := doc.Tokens[i]
		s.Tokens[t.ID] = &t
	}
	for i := range doc.Props {
		p := doc.Props[i]
		s.Props[p.ID] = &p
	}
	for i := range doc.Characters {
		c := doc.Characters[i]
		s.Characters[c.ID] = &c
	}
	return nil
}
