package room

import "errors"

var (
	// ErrRoomBusy is returned when a room's mailbox is full
	ErrRoomBusy = errors.New("room mailbox is full")
	// ErrRoomClosed is returned after a room has shut down
	ErrRoomClosed = errors.New("room is closed")
	// ErrRoomNotFound is returned for queries on a room that was never opened
	ErrRoomNotFound = errors.New("room not found")
	// ErrUnknownMessage is returned for an inbound message type with no route
	ErrUnknownMessage = errors.New("unknown message type")
)
