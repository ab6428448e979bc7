package room

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/loshunter/herobyte/go/internal/room/store"
	"github.com/rs/zerolog/log"
)

// Dependencies are the collaborators shared by every room
type Dependencies struct {
	Broadcaster Broadcaster
	Publisher   SnapshotPublisher
	Store       SnapshotStore
	Authorizer  Authorizer
	Clock       clockwork.Clock
	NewID       func() string
}

// Manager owns one Room actor per room id
type Manager struct {
	config Config
	deps   Dependencies

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	rooms map[string]*Room

	// rooms that emptied out and are flushing their last save
	closing map[string]*Room
}

// NewManager creates a room manager. Rooms are started lazily on first join.
func NewManager(config Config, deps Dependencies) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if config.MailboxSize <= 0 {
		config.MailboxSize = DefaultConfig().MailboxSize
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = DefaultConfig().SaveTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:  config,
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]*Room),
		closing: make(map[string]*Room),
	}
}

// Join adds uid to the room, opening the room if needed
func (m *Manager) Join(ctx context.Context, roomID, uid, name string) error {
	for {
		r, err := m.open(ctx, roomID)
		if err != nil {
			return err
		}
		// The room may have emptied and stopped before taking the join;
		// open a fresh one.
		err = r.Join(ctx, uid, name)
		if !errors.Is(err, ErrRoomClosed) || m.ctx.Err() != nil {
			return err
		}
	}
}

// Leave removes uid from the room
func (m *Manager) Leave(ctx context.Context, roomID, uid string) error {
	r, ok := m.lookup(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	return m.closed(r.Leave(ctx, uid))
}

// Deliver queues a client message for the room without blocking
func (m *Manager) Deliver(roomID, uid string, data []byte) error {
	r, ok := m.lookup(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	return m.closed(r.Deliver(uid, data))
}

// Snapshot returns the current state of an open room
func (m *Manager) Snapshot(ctx context.Context, roomID string) (*Snapshot, error) {
	r, ok := m.lookup(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	snap, err := r.Snapshot(ctx)
	return snap, m.closed(err)
}

// closed reports a room that stopped on its own as not found
func (m *Manager) closed(err error) error {
	if errors.Is(err, ErrRoomClosed) && m.ctx.Err() == nil {
		return ErrRoomNotFound
	}
	return err
}

// RoomCount returns the number of open rooms
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Stop shuts every room down and waits for them to exit
func (m *Manager) Stop() {
	// Cancel under the lock so open cannot start a room after Wait begins
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	m.rooms = make(map[string]*Room)
	m.closing = make(map[string]*Room)
	m.mu.Unlock()
	log.Info().Str("module", "room.manager").Msg("all rooms stopped")
}

func (m *Manager) lookup(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

func (m *Manager) open(ctx context.Context, roomID string) (*Room, error) {
	for {
		m.mu.Lock()
		r, ok := m.rooms[roomID]
		old, closing := m.closing[roomID]
		m.mu.Unlock()

		if ok {
			return r, nil
		}
		if closing {
			// Restore only after the previous actor has written its last save
			select {
			case <-old.stopped:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := m.ctx.Err(); err != nil {
			return nil, ErrRoomClosed
		}

		// Load outside the lock; store I/O must not stall other rooms.
		state := NewRoomState(roomID)
		m.restore(ctx, state)

		if r, ok := m.start(state); ok {
			return r, nil
		}
		if err := m.ctx.Err(); err != nil {
			return nil, ErrRoomClosed
		}
		// Another opener's room came and went while we restored
	}
}

// start runs a room for state unless one is already open. ok is false when
// the manager is stopping or an older room for the id is still closing.
func (m *Manager) start(state *RoomState) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID := state.ID
	if r, ok := m.rooms[roomID]; ok {
		return r, true
	}
	if _, ok := m.closing[roomID]; ok || m.ctx.Err() != nil {
		return nil, false
	}

	r := newRoom(state, m.config, m.deps)
	r.release = m.release
	m.rooms[roomID] = r
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.Run(m.ctx)

		m.mu.Lock()
		if m.rooms[roomID] == r {
			delete(m.rooms, roomID)
		}
		if m.closing[roomID] == r {
			delete(m.closing, roomID)
		}
		m.mu.Unlock()
	}()

	log.Info().
		Str("module", "room.manager").
		Str("room_id", roomID).
		Int("rooms", len(m.rooms)).
		Msg("room opened")
	return r, true
}

// release runs on the room goroutine when its last player leaves. A room with
// queued commands is kept; someone is about to use it.
func (m *Manager) release(r *Room) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms[r.id] != r || len(r.mailbox) > 0 {
		return false
	}
	delete(m.rooms, r.id)
	m.closing[r.id] = r

	log.Info().
		Str("module", "room.manager").
		Str("room_id", r.id).
		Int("rooms", len(m.rooms)).
		Msg("room emptied, closing")
	return true
}

func (m *Manager) restore(ctx context.Context, state *RoomState) {
	if m.deps.Store == nil {
		return
	}

	doc, err := m.deps.Store.Load(ctx, state.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("module", "room.manager").Str("room_id", state.ID).Msg("failed to load room, starting empty")
		}
		return
	}

	if err := state.restoreDocument(doc); err != nil {
		log.Error().Err(err).Str("module", "room.manager").Str("room_id", state.ID).Msg("failed to restore room, starting empty")
		return
	}

	log.Info().
		Str("module", "room.manager").
		Str("room_id", state.ID).
		Int("tokens", len(state.Tokens)).
		Int("props", len(state.Props)).
		Int("characters", len(state.Characters)).
		Msg("room restored")
}
