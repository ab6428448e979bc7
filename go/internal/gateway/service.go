package gateway

import (
	"context"
	"net/http"

	"github.com/loshunter/herobyte/go/internal/room"
	"github.com/rs/zerolog/log"
)

// Service is the room gateway: WebSocket connections in, room snapshots out
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	rooms             *room.Manager
}

// Config holds configuration for the room gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	RoomConfig       room.Config
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RoomConfig:       room.DefaultConfig(),
	}
}

// NewService creates the gateway and the room manager behind it. The
// connection manager is installed as the rooms' broadcaster.
func NewService(config Config, deps room.Dependencies) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, nil)

	deps.Broadcaster = connectionManager
	rooms := room.NewManager(config.RoomConfig, deps)
	connectionManager.rooms = rooms

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(rooms),
		rooms:             rooms,
	}
}

// Start begins the gateway service and blocks until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	go s.connectionManager.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop tears down every room actor
func (s *Service) Stop() error {
	s.rooms.Stop()
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "room_gateway"
	stats["status"] = "running"
	stats["open_rooms"] = s.rooms.RoomCount()
	return stats
}
