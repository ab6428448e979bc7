// Package publish mirrors room snapshots onto NATS so other services can
// follow a table without holding a websocket.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loshunter/herobyte/go/internal/room"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Config holds NATS connection settings
type Config struct {
	URL           string
	SubjectPrefix string // e.g. "herobyte.rooms"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default NATS settings
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "herobyte.rooms",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Envelope wraps a snapshot on the bus
type Envelope struct {
	EventID   string         `json:"eventId"`
	RoomID    string         `json:"roomId"`
	Timestamp time.Time      `json:"timestamp"`
	Snapshot  *room.Snapshot `json:"snapshot"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every broadcast snapshot to <prefix>.<roomID>.state
type NATSPublisher struct {
	nc     *nats.Conn
	conn   publisher
	prefix string
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(config Config) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("herobyte-gateway"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Str("prefix", config.SubjectPrefix).Msg("snapshot publisher connected")
	return &NATSPublisher{nc: nc, conn: nc, prefix: config.SubjectPrefix}, nil
}

// Subject returns the subject snapshots for roomID are published on
func (p *NATSPublisher) Subject(roomID string) string {
	return fmt.Sprintf("%s.%s.state", p.prefix, roomID)
}

// PublishSnapshot implements room.SnapshotPublisher
func (p *NATSPublisher) PublishSnapshot(roomID string, snap *room.Snapshot) error {
	data, err := json.Marshal(Envelope{
		EventID:   uuid.NewString(),
		RoomID:    roomID,
		Timestamp: snap.TakenAt,
		Snapshot:  snap,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}

	if err := p.conn.Publish(p.Subject(roomID), data); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// IsConnected reports the NATS connection status
func (p *NATSPublisher) IsConnected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close drains and closes the connection
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	log.Info().Msg("closing snapshot publisher")
	return p.nc.Drain()
}
