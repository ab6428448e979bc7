package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loshunter/herobyte/go/internal/room"
	"github.com/rs/zerolog/log"
)

// StateHandler serves room snapshots over plain HTTP
type StateHandler struct {
	rooms RoomRouter
}

// NewStateHandler creates a new state handler
func NewStateHandler(rooms RoomRouter) *StateHandler {
	return &StateHandler{
		rooms: rooms,
	}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	snap, err := h.rooms.Snapshot(r.Context(), roomID)
	if errors.Is(err, room.ErrRoomNotFound) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		http.Error(w, "Failed to get room state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms/{id}/state", h.HandleGetRoomState)
}
