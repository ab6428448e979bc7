package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/loshunter/herobyte/go/internal/room/broadcast"
	"github.com/loshunter/herobyte/go/internal/room/selection"
	"github.com/loshunter/herobyte/go/internal/room/store"
)

type captureBroadcaster struct {
	ch chan *Snapshot
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{ch: make(chan *Snapshot, 64)}
}

func (b *captureBroadcaster) BroadcastSnapshot(_ string, snap *Snapshot) {
	b.ch <- snap
}

func (b *captureBroadcaster) next(t *testing.T) *Snapshot {
	t.Helper()
	select {
	case snap := <-b.ch:
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func (b *captureBroadcaster) none(t *testing.T) {
	t.Helper()
	select {
	case snap := <-b.ch:
		t.Fatalf("unexpected broadcast: %+v", snap)
	case <-time.After(30 * time.Millisecond):
	}
}

type managerFixture struct {
	clock   *clockwork.FakeClock
	caster  *captureBroadcaster
	store   *store.Memory
	manager *Manager
}

func newManagerFixture(t *testing.T, st *store.Memory) *managerFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	caster := newCaptureBroadcaster()
	n := 0
	deps := Dependencies{
		Broadcaster: caster,
		Clock:       clock,
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
	if st != nil {
		deps.Store = st
	}

	m := NewManager(DefaultConfig(), deps)
	t.Cleanup(m.Stop)
	return &managerFixture{clock: clock, caster: caster, store: st, manager: m}
}

func (f *managerFixture) join(t *testing.T, roomID, uid string) *Snapshot {
	t.Helper()
	if err := f.manager.Join(context.Background(), roomID, uid, uid); err != nil {
		t.Fatalf("Join(%s): %v", uid, err)
	}
	return f.caster.next(t)
}

func (f *managerFixture) deliver(t *testing.T, roomID, uid string, msgType MessageType, data any) {
	t.Helper()
	payload, _ := json.Marshal(data)
	raw, _ := json.Marshal(Inbound{Type: msgType, Data: payload})
	if err := f.manager.Deliver(roomID, uid, raw); err != nil {
		t.Fatalf("Deliver(%s): %v", msgType, err)
	}
}

// settle waits until every queued message has been handled
func (f *managerFixture) settle(t *testing.T, roomID string) *Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := f.manager.Snapshot(ctx, roomID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func (f *managerFixture) fireBroadcast(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for scheduled broadcast: %v", err)
	}
	f.clock.Advance(broadcast.DefaultQuantum)
}

func TestRoom_JoinBroadcastsImmediately(t *testing.T) {
	f := newManagerFixture(t, nil)

	snap := f.join(t, "tavern", "u1")
	if snap.RoomID != "tavern" || len(snap.Players) != 1 || snap.Players[0].UID != "u1" {
		t.Errorf("snapshot = %+v, want tavern with u1", snap)
	}

	snap = f.join(t, "tavern", "u2")
	if len(snap.Players) != 2 {
		t.Errorf("players = %d, want 2", len(snap.Players))
	}
	if f.manager.RoomCount() != 1 {
		t.Errorf("RoomCount = %d, want 1", f.manager.RoomCount())
	}
}

func TestRoom_SelectionBurstCoalesces(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.join(t, "tavern", "u1")

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.deliver(t, "tavern", "u1", MessageSelectObject, map[string]any{"objectId": id})
	}
	f.settle(t, "tavern")
	f.caster.none(t)

	f.fireBroadcast(t)
	snap := f.caster.next(t)
	f.caster.none(t)

	e, ok := snap.Selection.Get("u1")
	if !ok || e != (selection.Single{ObjectID: "e"}) {
		t.Errorf("u1 selection = %#v, want Single{e}", e)
	}
}

func TestRoom_NoOpSelectionDoesNotBroadcast(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.join(t, "tavern", "u1")

	f.deliver(t, "tavern", "u1", MessageDeselect, nil)
	f.settle(t, "tavern")
	f.clock.Advance(time.Second)
	f.caster.none(t)
}

func TestRoom_PrivilegedActionDroppedSilently(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.join(t, "tavern", "u1")

	f.deliver(t, "tavern", "u1", MessageType(ActionCreateProp), map[string]any{"label": "Tree"})
	snap := f.settle(t, "tavern")
	f.clock.Advance(time.Second)
	f.caster.none(t)

	if len(snap.Props) != 0 {
		t.Errorf("props = %+v, want none", snap.Props)
	}
}

func TestRoom_DMActionBroadcasts(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.join(t, "tavern", "dm")
	f.deliver(t, "tavern", "dm", MessageClaimDM, nil)
	f.deliver(t, "tavern", "dm", MessageType(ActionCreateProp), map[string]any{"label": "Tree"})
	f.settle(t, "tavern")

	f.fireBroadcast(t)
	snap := f.caster.next(t)
	if len(snap.Props) != 1 || snap.Props[0].Label != "Tree" {
		t.Errorf("props = %+v, want Tree", snap.Props)
	}
	if !snap.Players[0].IsDM {
		t.Error("dm should hold the DM role")
	}
}

func TestRoom_LeaveDropsSelection(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.join(t, "tavern", "u1")
	f.join(t, "tavern", "u2")

	f.deliver(t, "tavern", "u1", MessageSelectObjects, map[string]any{"objectIds": []string{"a", "b"}})
	f.settle(t, "tavern")
	f.fireBroadcast(t)
	f.caster.next(t)

	if err := f.manager.Leave(context.Background(), "tavern", "u1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	f.settle(t, "tavern")
	f.fireBroadcast(t)
	snap := f.caster.next(t)

	if snap.Selection.Len() != 0 {
		t.Errorf("selection len = %d, want 0", snap.Selection.Len())
	}
	if len(snap.Players) != 1 || snap.Players[0].UID != "u2" {
		t.Errorf("players = %+v, want only u2", snap.Players)
	}
}

func TestRoom_SaveAndRestore(t *testing.T) {
	st := store.NewMemory()
	f := newManagerFixture(t, st)
	f.join(t, "keep", "u1")
	f.deliver(t, "keep", "u1", MessageAddToken, map[string]any{"name": "Aria", "x": 2, "y": 3})
	f.settle(t, "keep")

	deadline := time.Now().Add(time.Second)
	for {
		if _, err := st.Load(context.Background(), "keep"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("room document was never saved")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.manager.Stop()

	g := newManagerFixture(t, st)
	snap := g.join(t, "keep", "u2")
	if len(snap.Tokens) != 1 || snap.Tokens[0].Name != "Aria" || snap.Tokens[0].X != 2 {
		t.Errorf("restored tokens = %+v, want Aria at 2,3", snap.Tokens)
	}
	if len(snap.Players) != 1 || snap.Players[0].UID != "u2" {
		t.Errorf("players = %+v, players are not persisted", snap.Players)
	}
}

func TestManager_Errors(t *testing.T) {
	f := newManagerFixture(t, nil)

	if err := f.manager.Deliver("nowhere", "u1", []byte(`{}`)); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Deliver err = %v, want ErrRoomNotFound", err)
	}
	if _, err := f.manager.Snapshot(context.Background(), "nowhere"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Snapshot err = %v, want ErrRoomNotFound", err)
	}
	if err := f.manager.Leave(context.Background(), "nowhere", "u1"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Leave err = %v, want ErrRoomNotFound", err)
	}

	f.manager.Stop()
	if err := f.manager.Join(context.Background(), "late", "u1", "u1"); !errors.Is(err, ErrRoomClosed) {
		t.Errorf("Join after Stop err = %v, want ErrRoomClosed", err)
	}
}

func TestRoom_DeliverBusy(t *testing.T) {
	state := NewRoomState("full")
	r := newRoom(state, Config{MailboxSize: 1}, Dependencies{
		Broadcaster: newCaptureBroadcaster(),
		Clock:       clockwork.NewFakeClock(),
	})

	// Not running: the mailbox fills up.
	if err := r.Deliver("u1", []byte(`{}`)); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	if err := r.Deliver("u1", []byte(`{}`)); !errors.Is(err, ErrRoomBusy) {
		t.Errorf("second Deliver err = %v, want ErrRoomBusy", err)
	}
}

func (f *managerFixture) leave(t *testing.T, roomID, uid string) {
	t.Helper()
	if err := f.manager.Leave(context.Background(), roomID, uid); err != nil {
		t.Fatalf("Leave(%s): %v", uid, err)
	}
}

func waitForRoomCount(t *testing.T, m *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.RoomCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("RoomCount = %d, want %d", m.RoomCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_EmptyRoomsClose(t *testing.T) {
	f := newManagerFixture(t, nil)

	const rooms = 200
	for i := 0; i < rooms; i++ {
		id := fmt.Sprintf("room-%d", i)
		f.join(t, id, "u1")
		f.leave(t, id, "u1")
	}
	waitForRoomCount(t, f.manager, 0)

	// Closed rooms reopen on demand
	snap := f.join(t, "room-7", "u2")
	if snap.RoomID != "room-7" || len(snap.Players) != 1 || snap.Players[0].UID != "u2" {
		t.Errorf("snapshot = %+v, want room-7 with u2", snap)
	}
	if f.manager.RoomCount() != 1 {
		t.Errorf("RoomCount = %d, want 1", f.manager.RoomCount())
	}
}

func TestManager_ClosedRoomRestoresFromStore(t *testing.T) {
	st := store.NewMemory()
	f := newManagerFixture(t, st)

	f.join(t, "keep", "dm")
	f.deliver(t, "keep", "dm", MessageAddToken, map[string]any{"name": "Aria", "x": 4, "y": 1})
	f.settle(t, "keep")
	f.leave(t, "keep", "dm")
	waitForRoomCount(t, f.manager, 0)

	if _, err := st.Load(context.Background(), "keep"); err != nil {
		t.Fatalf("closing room did not flush its save: %v", err)
	}

	snap := f.join(t, "keep", "u2")
	if len(snap.Tokens) != 1 || snap.Tokens[0].Name != "Aria" || snap.Tokens[0].X != 4 {
		t.Errorf("restored tokens = %+v, want Aria at 4,1", snap.Tokens)
	}
}

func TestManager_LeaveAfterCloseIsNotFound(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.join(t, "tavern", "u1")
	f.leave(t, "tavern", "u1")
	waitForRoomCount(t, f.manager, 0)

	if err := f.manager.Leave(context.Background(), "tavern", "u1"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Leave err = %v, want ErrRoomNotFound", err)
	}
}

func TestRoom_PlayerStaysUntilLastSessionLeaves(t *testing.T) {
	f := newManagerFixture(t, nil)

	// Two tabs for u1, plus u2 so the room stays open
	f.join(t, "tavern", "u1")
	f.join(t, "tavern", "u1")
	f.join(t, "tavern", "u2")
	f.deliver(t, "tavern", "u1", MessageSelectObject, map[string]any{"objectId": "door"})

	// The first tab closing must not drop the player
	f.leave(t, "tavern", "u1")
	snap := f.settle(t, "tavern")
	if len(snap.Players) != 2 {
		t.Fatalf("players = %+v, want u1 and u2", snap.Players)
	}
	if e, ok := snap.Selection.Get("u1"); !ok || e != (selection.Single{ObjectID: "door"}) {
		t.Errorf("u1 selection = %#v, want Single{door}", e)
	}

	f.leave(t, "tavern", "u1")
	snap = f.settle(t, "tavern")
	if len(snap.Players) != 1 || snap.Players[0].UID != "u2" {
		t.Errorf("players = %+v, want only u2", snap.Players)
	}
	if _, ok := snap.Selection.Get("u1"); ok {
		t.Error("u1 selection should be gone with the last session")
	}
}

func TestRoom_RejoinBeforeLeaveKeepsPlayer(t *testing.T) {
	f := newManagerFixture(t, nil)

	// A new tab joins before the old tab's leave arrives
	f.join(t, "tavern", "u1")
	f.join(t, "tavern", "u1")
	f.leave(t, "tavern", "u1")

	snap := f.settle(t, "tavern")
	if len(snap.Players) != 1 || snap.Players[0].UID != "u1" {
		t.Errorf("players = %+v, want u1", snap.Players)
	}
	if f.manager.RoomCount() != 1 {
		t.Errorf("RoomCount = %d, want 1", f.manager.RoomCount())
	}
}
