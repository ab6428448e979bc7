package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/loshunter/herobyte/go/internal/room/broadcast"
	"github.com/loshunter/herobyte/go/internal/room/selection"
	"github.com/rs/zerolog/log"
)

// Broadcaster delivers a snapshot to every client connected to a room
type Broadcaster interface {
	BroadcastSnapshot(roomID string, snap *Snapshot)
}

// SnapshotPublisher mirrors snapshots to an external bus
type SnapshotPublisher interface {
	PublishSnapshot(roomID string, snap *Snapshot) error
}

// SnapshotStore persists room documents
type SnapshotStore interface {
	Save(ctx context.Context, roomID string, doc []byte) error
	Load(ctx context.Context, roomID string) ([]byte, error)
}

// Config holds per-room settings
type Config struct {
	BroadcastQuantum time.Duration
	MailboxSize      int
	SaveTimeout      time.Duration
}

// DefaultConfig returns default room settings
func DefaultConfig() Config {
	return Config{
		BroadcastQuantum: broadcast.DefaultQuantum,
		MailboxSize:      1024,
		SaveTimeout:      5 * time.Second,
	}
}

type commandKind int

const (
	commandMessage commandKind = iota
	commandJoin
	commandLeave
	commandSnapshot
)

type command struct {
	kind  commandKind
	uid   string
	name  string
	data  []byte
	reply chan *Snapshot
	ack   chan struct{}
}

// Room serializes all work on one RoomState through a single goroutine
type Room struct {
	id     string
	config Config
	state  *RoomState
	clock  clockwork.Clock

	coordinator *broadcast.Coordinator
	router      *Router

	broadcaster Broadcaster
	publisher   SnapshotPublisher
	store       SnapshotStore

	// open connections per player; the player leaves when it reaches zero
	sessions map[string]int

	// release asks the owner to forget this room once it is empty. It
	// reports whether the room may stop.
	release func(*Room) bool
	retired bool

	mailbox chan command
	flushCh chan struct{}
	saveCh  chan []byte
	done    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
}

func newRoom(state *RoomState, config Config, deps Dependencies) *Room {
	r := &Room{
		id:          state.ID,
		config:      config,
		state:       state,
		clock:       deps.Clock,
		coordinator: broadcast.NewCoordinator(deps.Clock, config.BroadcastQuantum),
		broadcaster: deps.Broadcaster,
		publisher:   deps.Publisher,
		store:       deps.Store,
		sessions:    make(map[string]int),
		mailbox:     make(chan command, config.MailboxSize),
		flushCh:     make(chan struct{}, 1),
		saveCh:      make(chan []byte, 1),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	r.router = NewRouter(deps.Authorizer, r)
	if deps.NewID != nil {
		r.router.newID = deps.NewID
	}
	return r
}

// ID returns the room id
func (r *Room) ID() string {
	return r.id
}

// Run processes the mailbox until ctx is cancelled or the last player leaves
func (r *Room) Run(ctx context.Context) {
	log.Info().Str("module", "room").Str("room_id", r.id).Msg("room started")

	if r.store != nil {
		r.wg.Add(1)
		go r.runSaver()
	}

	defer func() {
		r.coordinator.Stop()
		close(r.done)
		r.wg.Wait()
		close(r.stopped)
		log.Info().Str("module", "room").Str("room_id", r.id).Msg("room stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.flushCh:
			r.flush()
		case cmd := <-r.mailbox:
			r.handle(cmd)
			if r.retired {
				return
			}
		}
	}
}

// Deliver queues a raw client message without blocking
func (r *Room) Deliver(uid string, data []byte) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}

	select {
	case r.mailbox <- command{kind: commandMessage, uid: uid, data: data}:
		return nil
	default:
		return ErrRoomBusy
	}
}

// Join registers a player and broadcasts the room immediately. It returns
// once the room has applied the join, or ErrRoomClosed if the room stopped
// first.
func (r *Room) Join(ctx context.Context, uid, name string) error {
	ack := make(chan struct{}, 1)
	if err := r.send(ctx, command{kind: commandJoin, uid: uid, name: name, ack: ack}); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-r.done:
		select {
		case <-ack:
			return nil
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave closes one of the player's sessions. The player and their selection
// are removed with the last one.
func (r *Room) Leave(ctx context.Context, uid string) error {
	return r.send(ctx, command{kind: commandLeave, uid: uid})
}

// Snapshot returns a copy of the current state, taken on the room goroutine
func (r *Room) Snapshot(ctx context.Context) (*Snapshot, error) {
	reply := make(chan *Snapshot, 1)
	if err := r.send(ctx, command{kind: commandSnapshot, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-r.done:
		return nil, ErrRoomClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Room) send(ctx context.Context, cmd command) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.mailbox <- cmd:
		return nil
	}
}

func (r *Room) handle(cmd command) {
	switch cmd.kind {
	case commandMessage:
		rc := NewRoutingContext(cmd.uid, StateSourceFunc(func() *RoomState { return r.state }))
		if err := r.router.Route(r.state, rc, cmd.data); err != nil {
			log.Warn().
				Err(err).
				Str("module", "room").
				Str("room_id", r.id).
				Str("user_id", cmd.uid).
				Msg("dropped client message")
		}

	case commandJoin:
		r.join(cmd.uid, cmd.name)
		cmd.ack <- struct{}{}

	case commandLeave:
		r.leave(cmd.uid)

	case commandSnapshot:
		cmd.reply <- r.state.Snapshot(r.clock.Now())
	}
}

func (r *Room) join(uid, name string) {
	r.sessions[uid]++
	if p, ok := r.state.Players[uid]; ok {
		if name != "" {
			p.Name = name
		}
	} else {
		r.state.Players[uid] = &Player{
			UID:      uid,
			Name:     name,
			JoinedAt: r.clock.Now(),
		}
	}

	log.Info().
		Str("module", "room").
		Str("room_id", r.id).
		Str("user_id", uid).
		Int("players", len(r.state.Players)).
		Msg("player joined")

	r.coordinator.EmitNow(r.flush)
}

func (r *Room) leave(uid string) {
	if _, ok := r.state.Players[uid]; !ok {
		return
	}
	if r.sessions[uid]--; r.sessions[uid] > 0 {
		log.Debug().
			Str("module", "room").
			Str("room_id", r.id).
			Str("user_id", uid).
			Int("sessions", r.sessions[uid]).
			Msg("player closed a session")
		return
	}
	delete(r.sessions, uid)
	delete(r.state.Players, uid)
	selection.Deselect(r.state.Selection, uid)

	log.Info().
		Str("module", "room").
		Str("room_id", r.id).
		Str("user_id", uid).
		Int("players", len(r.state.Players)).
		Msg("player left")

	if len(r.state.Players) == 0 && r.release != nil && r.release(r) {
		r.retired = true
		return
	}
	r.ProcessResult(resultBroadcast)
}

// ProcessResult schedules the broadcast and save a handler asked for
func (r *Room) ProcessResult(result *HandlerResult) {
	if result == nil {
		return
	}
	if result.Broadcast {
		r.coordinator.Schedule(r.requestFlush)
	}
	if result.Save {
		r.queueSave()
	}
}

// requestFlush runs on the timer goroutine and hands the flush back to Run
func (r *Room) requestFlush() {
	select {
	case r.flushCh <- struct{}{}:
	default:
	}
}

func (r *Room) flush() {
	snap := r.state.Snapshot(r.clock.Now())
	r.broadcaster.BroadcastSnapshot(r.id, snap)

	if r.publisher != nil {
		if err := r.publisher.PublishSnapshot(r.id, snap); err != nil {
			log.Error().Err(err).Str("module", "room").Str("room_id", r.id).Msg("failed to publish snapshot")
		}
	}
}

// queueSave hands the latest document to the saver, replacing any unsaved one
func (r *Room) queueSave() {
	if r.store == nil {
		return
	}
	doc, err := r.state.marshalDocument()
	if err != nil {
		log.Error().Err(err).Str("module", "room").Str("room_id", r.id).Msg("failed to marshal room document")
		return
	}

	select {
	case <-r.saveCh:
	default:
	}
	r.saveCh <- doc
}

func (r *Room) runSaver() {
	defer r.wg.Done()

	for {
		select {
		case doc := <-r.saveCh:
			r.save(context.Background(), doc)
		case <-r.done:
			// Write whatever is still queued before exiting.
			select {
			case doc := <-r.saveCh:
				r.save(context.Background(), doc)
			default:
			}
			return
		}
	}
}

func (r *Room) save(parent context.Context, doc []byte) {
	ctx, cancel := context.WithTimeout(parent, r.config.SaveTimeout)
	defer cancel()

	if err := r.store.Save(ctx, r.id, doc); err != nil {
		log.Error().Err(err).Str("module", "room").Str("room_id", r.id).Msg("failed to save room")
		return
	}
	log.Debug().Str("module", "room").Str("room_id", r.id).Int("bytes", len(doc)).Msg("room saved")
}
