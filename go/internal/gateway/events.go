package gateway

import (
	"time"

	"github.com/google/uuid"
	"github.com/loshunter/herobyte/go/internal/room"
)

// RoomEvent is the envelope for every message pushed to clients
type RoomEvent struct {
	ID        string    `json:"id"`        // Event UUID
	RoomID    string    `json:"room_id"`   // Room the event belongs to
	Type      EventType `json:"type"`      // Event type
	Timestamp time.Time `json:"timestamp"` // Event creation time
	Data      any       `json:"data"`      // Event-specific payload
}

// EventType represents the type of room event
type EventType string

const (
	EventTypeRoomState EventType = "room-state"
)

// NewRoomStateEvent wraps a snapshot for delivery to clients
func NewRoomStateEvent(roomID string, snap *room.Snapshot) *RoomEvent {
	ts := time.Now().UTC()
	if snap != nil && !snap.TakenAt.IsZero() {
		ts = snap.TakenAt
	}
	return &RoomEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      EventTypeRoomState,
		Timestamp: ts,
		Data:      snap,
	}
}
