package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/loshunter/herobyte/go/internal/config"
	"github.com/loshunter/herobyte/go/internal/dbconfig"
	"github.com/loshunter/herobyte/go/internal/gateway"
	"github.com/loshunter/herobyte/go/internal/room"
	"github.com/loshunter/herobyte/go/internal/room/publish"
	"github.com/loshunter/herobyte/go/internal/room/store"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)

	dbCfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid database configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := room.Dependencies{}

	roomStore, pg, err := openStore(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Str("database", dbCfg.Database).Msg("failed to connect to database")
	}
	if pg != nil {
		defer pg.Close()
	}
	deps.Store = roomStore

	// Optional snapshot fan-out
	var publisher *publish.NATSPublisher
	if cfg.NATSURL != "" {
		natsCfg := publish.DefaultConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.SubjectPrefix = cfg.NATSSubjectPrefix
		publisher, err = publish.NewNATSPublisher(natsCfg)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to connect snapshot publisher")
		}
		deps.Publisher = publisher
	}

	log.Info().
		Bool("persistence", dbCfg.Enabled).
		Str("nats_url", cfg.NATSURL).
		Str("port", cfg.Port).
		Dur("broadcast_quantum", cfg.BroadcastQuantum).
		Msg("starting room gateway")

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.CheckOrigin = originChecker(cfg)
	gatewayConfig.RoomConfig = room.Config{
		BroadcastQuantum: cfg.BroadcastQuantum,
		MailboxSize:      cfg.MailboxSize,
		SaveTimeout:      cfg.SaveTimeout,
	}

	gatewayService := gateway.NewService(gatewayConfig, deps)

	health := newHealthChecker(gatewayService, pg, publisher)

	server := setupServer(cfg, gatewayService, health, publisher)

	// Start gateway service (connection manager and rooms)
	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stopping the service drains every room, including pending saves
	cancel()
	select {
	case <-serviceDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("timed out waiting for rooms to stop")
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close snapshot publisher")
		}
	}

	log.Info().Msg("room gateway shutdown complete")
}

func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func originChecker(cfg *config.Config) func(r *http.Request) bool {
	if cfg.AllowsAnyOrigin() {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(cfg.AllowedOrigins, origin)
	}
}

// openStore connects to Postgres, or falls back to the in-process store when
// persistence is disabled. pg is nil in the fallback case.
func openStore(ctx context.Context, dbCfg dbconfig.Config) (room.SnapshotStore, *store.Postgres, error) {
	if !dbCfg.Enabled {
		log.Warn().Msg("persistence disabled, rooms are kept in process memory only")
		return store.NewMemory(), nil, nil
	}
	pg, err := store.NewPostgres(ctx, dbCfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	return pg, pg, nil
}

// newHealthChecker keeps nil backends out of the checker's interfaces
func newHealthChecker(svc *gateway.Service, pg *store.Postgres, publisher *publish.NATSPublisher) *gateway.HealthChecker {
	var db gateway.Pinger
	if pg != nil {
		db = pg
	}
	var nats gateway.ConnectionReporter
	if publisher != nil {
		nats = publisher
	}
	return gateway.NewHealthChecker(svc, db, nats)
}

func setupServer(cfg *config.Config, gatewayService *gateway.Service, health *gateway.HealthChecker, publisher *publish.NATSPublisher) *http.Server {
	mux := http.NewServeMux()

	// Register gateway routes (WebSocket and REST)
	gatewayService.RegisterRoutes(mux)

	mux.Handle("GET /health", health)
	mux.HandleFunc("GET /metrics", health.ServeMetrics)

	mux.HandleFunc("GET /info", func(w http.ResponseWriter, r *http.Request) {
		stats := gatewayService.GetStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"herobyte-gateway","version":"1.0.0","connections":%d,"rooms":%d,"nats_connected":%t}`,
			stats["total_connections"], stats["open_rooms"], publisher != nil && publisher.IsConnected())
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}
