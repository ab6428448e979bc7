package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthStatus is the result of one health check
type HealthStatus struct {
	Healthy           bool
	DatabaseEnabled   bool
	DatabaseConnected bool
	NATSEnabled       bool
	NATSConnected     bool
	OpenRooms         int
	Connections       int
	Errors            []string
}

// Pinger is satisfied by the Postgres snapshot store
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionReporter is satisfied by the NATS snapshot publisher
type ConnectionReporter interface {
	IsConnected() bool
}

// HealthChecker reports on the gateway and its optional backends
type HealthChecker struct {
	service *Service
	db      Pinger
	nats    ConnectionReporter
}

// NewHealthChecker creates a checker. db and nats may be nil when the
// corresponding backend is disabled.
func NewHealthChecker(service *Service, db Pinger, nats ConnectionReporter) *HealthChecker {
	return &HealthChecker{
		service: service,
		db:      db,
		nats:    nats,
	}
}

// Check runs every backend check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	stats := h.service.GetStats()
	status.OpenRooms, _ = stats["open_rooms"].(int)
	status.Connections, _ = stats["total_connections"].(int)

	if h.db != nil {
		status.DatabaseEnabled = true
		if err := h.db.Ping(ctx); err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		} else {
			status.DatabaseConnected = true
		}
	}

	if h.nats != nil {
		status.NATSEnabled = true
		status.NATSConnected = h.nats.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	return status
}

// ServeHTTP writes the status as JSON, with 503 when unhealthy
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	response := map[string]interface{}{
		"healthy":            status.Healthy,
		"open_rooms":         status.OpenRooms,
		"connections":        status.Connections,
		"database_enabled":   status.DatabaseEnabled,
		"database_connected": status.DatabaseConnected,
		"nats_enabled":       status.NATSEnabled,
		"nats_connected":     status.NATSConnected,
		"errors":             status.Errors,
	}

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode health response")
	}
}

// Export renders the status in the Prometheus text format
func (h *HealthChecker) Export(ctx context.Context) string {
	status := h.Check(ctx)

	return fmt.Sprintf(`# HELP herobyte_healthy Whether the gateway is healthy
# TYPE herobyte_healthy gauge
herobyte_healthy %d

# HELP herobyte_open_rooms Number of running room actors
# TYPE herobyte_open_rooms gauge
herobyte_open_rooms %d

# HELP herobyte_connections Number of open websocket connections
# TYPE herobyte_connections gauge
herobyte_connections %d

# HELP herobyte_database_connected Whether the snapshot store answers pings
# TYPE herobyte_database_connected gauge
herobyte_database_connected %d

# HELP herobyte_nats_connected Whether the snapshot publisher is connected
# TYPE herobyte_nats_connected gauge
herobyte_nats_connected %d
`,
		gauge(status.Healthy),
		status.OpenRooms,
		status.Connections,
		gauge(status.DatabaseConnected),
		gauge(status.NATSConnected),
	)
}

// ServeMetrics handles GET /metrics
func (h *HealthChecker) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if _, err := w.Write([]byte(h.Export(ctx))); err != nil {
		log.Error().Err(err).Msg("failed to write metrics response")
	}
}

func gauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
