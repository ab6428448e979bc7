package room

import (
	"time"

	"github.com/loshunter/herobyte/go/internal/room/selection"
)

// CharacterKind distinguishes player characters from DM-controlled NPCs
type CharacterKind string

const (
	CharacterKindPC  CharacterKind = "pc"
	CharacterKindNPC CharacterKind = "npc"
)

// Player is a connected user in a room
type Player struct {
	UID      string    `json:"uid"`
	Name     string    `json:"name"`
	IsDM     bool      `json:"isDM"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Token is a movable piece on the map
type Token struct {
	ID          string  `json:"id"`
	OwnerUID    string  `json:"owner"`
	Name        string  `json:"name"`
	Color       string  `json:"color,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	CharacterID string  `json:"characterId,omitempty"`
}

// Prop is a static image placed on the map by the DM
type Prop struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	ImageURL string  `json:"imageUrl"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// Character is a PC or NPC sheet
type Character struct {
	ID       string        `json:"id"`
	Kind     CharacterKind `json:"type"`
	Name     string        `json:"name"`
	HP       int           `json:"hp"`
	MaxHP    int           `json:"maxHp"`
	Portrait string        `json:"portrait,omitempty"`
	OwnerUID string        `json:"owner,omitempty"`
	TokenID  string        `json:"tokenId,omitempty"`
}

// RoomState is the single mutable state of one room. It is only touched from
// the room's actor goroutine.
type RoomState struct {
	ID         string
	Players    map[string]*Player
	Tokens     map[string]*Token
	Props      map[string]*Prop
	Characters map[string]*Character
	Selection  *selection.State
}

// NewRoomState creates an empty room state
func NewRoomState(id string) *RoomState {
	return &RoomState{
		ID:         id,
		Players:    make(map[string]*Player),
		Tokens:     make(map[string]*Token),
		Props:      make(map[string]*Prop),
		Characters: make(map[string]*Character),
		Selection:  selection.NewState(),
	}
}

// IsDM reports whether uid is a connected player holding the DM role
func (s *RoomState) IsDM(uid string) bool {
	p, ok := s.Players[uid]
	return ok && p.IsDM
}

// HasDM reports whether any connected player holds the DM role
func (s *RoomState) HasDM() bool {
	for _, p := range s.Players {
		if p.IsDM {
			return true
		}
	}
	return false
}

// removeToken deletes a token and drops it from every selection
func (s *RoomState) removeToken(id string) bool {
	tok, ok := s.Tokens[id]
	if !ok {
		return false
	}
	delete(s.Tokens, id)
	if tok.CharacterID != "" {
		if c, ok := s.Characters[tok.CharacterID]; ok && c.TokenID == id {
			c.TokenID = ""
		}
	}
	selection.RemoveObject(s.Selection, id)
	return true
}
