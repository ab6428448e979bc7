// Package store persists room documents.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when no document exists for a room
var ErrNotFound = errors.New("room document not found")

const schema = `
CREATE TABLE IF NOT EXISTS room_documents (
    room_id    TEXT PRIMARY KEY,
    document   JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores one JSONB document per room
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and makes sure the table exists
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create room_documents table: %w", err)
	}

	log.Info().Str("module", "store").Msg("postgres room store ready")
	return &Postgres{pool: pool}, nil
}

// Save upserts the document for roomID
func (p *Postgres) Save(ctx context.Context, roomID string, doc []byte) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO room_documents (room_id, document, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (room_id) DO UPDATE
        SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
    `, roomID, doc)
	if err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

// Load returns the stored document for roomID
func (p *Postgres) Load(ctx context.Context, roomID string) ([]byte, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT document FROM room_documents WHERE room_id = $1`,
		roomID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return doc, nil
}

// Ping checks the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool
func (p *Postgres) Close() {
	p.pool.Close()
}
