package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loshunter/herobyte/go/internal/room"
	"github.com/rs/zerolog/log"
)

// RoomRouter is the room-side API the gateway drives
type RoomRouter interface {
	Join(ctx context.Context, roomID, uid, name string) error
	Leave(ctx context.Context, roomID, uid string) error
	Deliver(roomID, uid string, data []byte) error
	Snapshot(ctx context.Context, roomID string) (*room.Snapshot, error)
}

// ConnectionManager manages WebSocket connections grouped by room
type ConnectionManager struct {
	// Connection pools organized by room ID
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Where inbound client messages go
	rooms RoomRouter

	// Event broadcasting
	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	UserID  string
	Name    string
	RoomID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	JoinTimeout     time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	RoomID string
	Event  *RoomEvent
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		JoinTimeout:     5 * time.Second,
		MaxMessageSize:  64 * 1024, // select-objects carries up to 100 ids plus junk
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, rooms RoomRouter) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		rooms:       rooms,
		broadcastCh: make(chan BroadcastMessage, 1000), // Buffer for high throughput
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and joins the room
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, name, roomID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		RoomID:      roomID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	// Register before joining so the join broadcast reaches this connection
	cm.registerConnection(connection)

	go connection.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.JoinTimeout)
	defer cancel()
	if err := cm.rooms.Join(ctx, roomID, userID, name); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", connection.ID).
			Str("room_id", roomID).
			Msg("failed to join room")
		// The room never counted this session, so there is nothing to leave
		cm.removeConnection(connection)
		return nil
	}

	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("room_id", roomID).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID).
		Int("total_connections", len(cm.roomConnections[conn.RoomID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection and closes its session in the room
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	if cm.removeConnection(conn) {
		cm.leaveRoom(conn)
	}
}

// leaveRoom tells the room one session of conn.UserID has ended. The room
// keeps the player until their last session leaves.
func (cm *ConnectionManager) leaveRoom(conn *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), cm.config.JoinTimeout)
	defer cancel()
	if err := cm.rooms.Leave(ctx, conn.RoomID, conn.UserID); err != nil && !errors.Is(err, room.ErrRoomClosed) && !errors.Is(err, room.ErrRoomNotFound) {
		log.Error().
			Err(err).
			Str("room_id", conn.RoomID).
			Str("user_id", conn.UserID).
			Msg("failed to leave room")
	}
}

// removeConnection drops conn from its pool and closes Send. It reports false
// if conn was already removed.
func (cm *ConnectionManager) removeConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.roomConnections[conn.RoomID]
	if !exists {
		return false
	}
	if _, exists := connections[conn]; !exists {
		return false
	}

	delete(connections, conn)
	close(conn.Send)

	// Clean up empty room connection pools
	if len(connections) == 0 {
		delete(cm.roomConnections, conn.RoomID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("room_id", conn.RoomID).
		Msg("connection unregistered")

	return true
}

// BroadcastSnapshot implements room.Broadcaster
func (cm *ConnectionManager) BroadcastSnapshot(roomID string, snap *room.Snapshot) {
	cm.BroadcastToRoom(roomID, NewRoomStateEvent(roomID, snap))
}

// BroadcastToRoom sends an event to all connections for a specific room
func (cm *ConnectionManager) BroadcastToRoom(roomID string, event *RoomEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomID: roomID, Event: event}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the targets so the lock is not held while sending
	targetConnections := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targetConnections = append(targetConnections, conn)
	}
	cm.mu.RUnlock()

	// Marshal the event once
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	for _, conn := range targetConnections {
		if !cm.roomConnections[message.RoomID][conn] {
			continue // unregistered meanwhile; Send is closed
		}
		select {
		case conn.Send <- eventData:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		// Leave blocks on the room mailbox; keep it off the broadcast loop
		if cm.removeConnection(conn) {
			go cm.leaveRoom(conn)
		}
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("room_id", message.RoomID).
		Int("connections", len(targetConnections)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	roomCounts := make(map[string]int)

	for roomID, connections := range cm.roomConnections {
		count := len(connections)
		totalConnections += count
		roomCounts[roomID] = count
	}

	return map[string]interface{}{
		"total_connections": totalConnections,
		"active_rooms":      len(cm.roomConnections),
		"room_connections":  roomCounts,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				c.Manager.unregisterConnection(c)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				c.Manager.unregisterConnection(c)
				return
			}
		}
	}
}

// readPump forwards client messages to the room until the socket closes
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage hands a client message to the room actor
func (c *Connection) handleClientMessage(message []byte) {
	if err := c.Manager.rooms.Deliver(c.RoomID, c.UserID, message); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Str("room_id", c.RoomID).
			Msg("dropped client message")
	}
}
