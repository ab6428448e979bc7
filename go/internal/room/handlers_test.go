package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/loshunter/herobyte/go/internal/room/selection"
)

type routerFixture struct {
	state  *RoomState
	proc   *recordingProcessor
	router *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	state := NewRoomState("r1")
	state.Players["dm"] = &Player{UID: "dm", IsDM: true}
	state.Players["u1"] = &Player{UID: "u1"}
	state.Players["u2"] = &Player{UID: "u2"}

	proc := &recordingProcessor{}
	router := NewRouter(nil, proc)
	n := 0
	router.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return &routerFixture{state: state, proc: proc, router: router}
}

func (f *routerFixture) send(t *testing.T, uid string, msgType MessageType, data any) error {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(Inbound{Type: msgType, Data: payload})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	rc := NewRoutingContext(uid, StateSourceFunc(func() *RoomState { return f.state }))
	return f.router.Route(f.state, rc, raw)
}

func (f *routerFixture) mustSend(t *testing.T, uid string, msgType MessageType, data any) {
	t.Helper()
	if err := f.send(t, uid, msgType, data); err != nil {
		t.Fatalf("%s: %v", msgType, err)
	}
}

func (f *routerFixture) lastResult(t *testing.T) *HandlerResult {
	t.Helper()
	if len(f.proc.results) == 0 {
		t.Fatal("no results processed")
	}
	return f.proc.results[len(f.proc.results)-1]
}

func TestRouter_UnknownMessage(t *testing.T) {
	f := newRouterFixture(t)
	err := f.send(t, "u1", "fly", map[string]any{})
	if !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("err = %v, want ErrUnknownMessage", err)
	}
}

func TestRouter_BadEnvelope(t *testing.T) {
	f := newRouterFixture(t)
	rc := NewRoutingContext("u1", StateSourceFunc(func() *RoomState { return f.state }))
	if err := f.router.Route(f.state, rc, []byte("{nope")); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestRouter_Selection(t *testing.T) {
	f := newRouterFixture(t)

	f.mustSend(t, "u1", MessageSelectObject, map[string]any{"objectId": "a"})
	if r := f.lastResult(t); r == nil || !r.Broadcast || r.Save {
		t.Errorf("select-object result = %+v, want broadcast only", r)
	}

	f.mustSend(t, "u1", MessageSelectObject, map[string]any{"objectId": "a"})
	if r := f.lastResult(t); r != nil {
		t.Errorf("repeated select-object result = %+v, want nil", r)
	}

	// Non-string and duplicate ids are sanitized away.
	f.mustSend(t, "u2", MessageSelectObjects, map[string]any{
		"objectIds": []any{"a", 7, "b", "b", ""},
		"mode":      "replace",
	})
	e, _ := f.state.Selection.Get("u2")
	if diff := cmp.Diff([]string{"a", "b"}, e.IDs()); diff != "" {
		t.Errorf("u2 selection mismatch (-want +got):\n%s", diff)
	}
	if _, ok := f.state.Selection.Get("u1"); ok {
		t.Error("u1 should have lost a to u2")
	}

	f.mustSend(t, "u2", MessageSelectObjects, map[string]any{"objectIds": []string{"a"}, "mode": "subtract"})
	if e, _ := f.state.Selection.Get("u2"); e != (selection.Single{ObjectID: "b"}) {
		t.Errorf("u2 = %#v, want Single{b}", e)
	}

	f.mustSend(t, "u2", MessageDeselect, nil)
	if f.state.Selection.Len() != 0 {
		t.Errorf("selection len = %d, want 0", f.state.Selection.Len())
	}
}

func TestRouter_MalformedSelectionIsSanitized(t *testing.T) {
	f := newRouterFixture(t)
	f.mustSend(t, "u1", MessageSelectObject, map[string]any{"objectId": "a"})

	// objectId of the wrong type decodes as an empty selection: a deselect.
	f.mustSend(t, "u1", MessageSelectObject, map[string]any{"objectId": 42})
	if _, ok := f.state.Selection.Get("u1"); ok {
		t.Error("malformed select-object should clear the selection")
	}
}

func TestRouter_PrivilegedActionsRejectedForPlayers(t *testing.T) {
	f := newRouterFixture(t)
	f.state.Characters["npc-1"] = &Character{ID: "npc-1", Kind: CharacterKindNPC, Name: "Goblin"}
	f.state.Props["prop-1"] = &Prop{ID: "prop-1"}
	f.state.Tokens["tok-1"] = &Token{ID: "tok-1", OwnerUID: "u1"}

	payloads := map[Action]any{
		ActionCreateCharacter: map[string]any{"name": "Hero"},
		ActionCreateNPC:       map[string]any{"name": "Orc"},
		ActionUpdateNPC:       map[string]any{"npcId": "npc-1", "name": "Boss"},
		ActionDeleteNPC:       map[string]any{"npcId": "npc-1"},
		ActionPlaceNPCToken:   map[string]any{"npcId": "npc-1", "x": 1, "y": 2},
		ActionCreateProp:      map[string]any{"label": "Tree"},
		ActionUpdateProp:      map[string]any{"propId": "prop-1", "label": "Rock"},
		ActionDeleteProp:      map[string]any{"propId": "prop-1"},
		ActionClearAllTokens:  map[string]any{},
	}

	for _, action := range PrivilegedActions() {
		f.mustSend(t, "u1", MessageType(action), payloads[action])
	}

	if len(f.proc.results) != 0 {
		t.Errorf("processor received %d results, want 0", len(f.proc.results))
	}
	if len(f.state.Characters) != 1 || f.state.Characters["npc-1"].Name != "Goblin" {
		t.Errorf("characters changed: %+v", f.state.Characters)
	}
	if len(f.state.Props) != 1 || f.state.Props["prop-1"].Label != "" {
		t.Errorf("props changed: %+v", f.state.Props)
	}
	if len(f.state.Tokens) != 1 {
		t.Errorf("tokens changed: %+v", f.state.Tokens)
	}
}

func TestRouter_NPCLifecycle(t *testing.T) {
	f := newRouterFixture(t)

	f.mustSend(t, "dm", MessageType(ActionCreateNPC), map[string]any{"name": "Goblin", "hp": 12, "maxHp": 7})
	npc, ok := f.state.Characters["id-1"]
	if !ok {
		t.Fatal("npc not created")
	}
	if npc.Kind != CharacterKindNPC || npc.HP != 7 || npc.MaxHP != 7 {
		t.Errorf("npc = %+v, want npc with hp clamped to 7/7", npc)
	}
	if r := f.lastResult(t); r == nil || !r.Broadcast || !r.Save {
		t.Errorf("create-npc result = %+v, want broadcast+save", r)
	}

	f.mustSend(t, "dm", MessageType(ActionUpdateNPC), map[string]any{"npcId": "id-1", "name": "Goblin Boss", "maxHp": 20, "hp": 15})
	if npc.Name != "Goblin Boss" || npc.HP != 15 || npc.MaxHP != 20 {
		t.Errorf("npc after update = %+v", npc)
	}

	f.mustSend(t, "dm", MessageType(ActionPlaceNPCToken), map[string]any{"npcId": "id-1", "x": 3, "y": 4})
	tok, ok := f.state.Tokens["id-2"]
	if !ok {
		t.Fatal("npc token not placed")
	}
	if tok.CharacterID != "id-1" || npc.TokenID != "id-2" || tok.X != 3 || tok.Y != 4 {
		t.Errorf("token = %+v, npc = %+v", tok, npc)
	}

	// Placing again moves the existing token.
	f.mustSend(t, "dm", MessageType(ActionPlaceNPCToken), map[string]any{"npcId": "id-1", "x": 5, "y": 6})
	if len(f.state.Tokens) != 1 || tok.X != 5 || tok.Y != 6 {
		t.Errorf("tokens = %+v, want the same token moved", f.state.Tokens)
	}

	f.mustSend(t, "u1", MessageSelectObject, map[string]any{"objectId": "id-2"})
	f.mustSend(t, "dm", MessageType(ActionDeleteNPC), map[string]any{"npcId": "id-1"})
	if len(f.state.Characters) != 0 || len(f.state.Tokens) != 0 {
		t.Errorf("npc delete should cascade: characters=%v tokens=%v", f.state.Characters, f.state.Tokens)
	}
	if _, ok := f.state.Selection.Get("u1"); ok {
		t.Error("deleting the npc token should drop it from selections")
	}

	f.mustSend(t, "dm", MessageType(ActionUpdateNPC), map[string]any{"npcId": "id-1", "name": "ghost"})
	if r := f.lastResult(t); r != nil {
		t.Errorf("update of missing npc result = %+v, want nil", r)
	}
}

func TestRouter_CreateCharacter(t *testing.T) {
	f := newRouterFixture(t)
	f.mustSend(t, "dm", MessageType(ActionCreateCharacter), map[string]any{"name": "Aria", "hp": 10, "maxHp": 10, "ownerUid": "u1"})

	c := f.state.Characters["id-1"]
	if c == nil || c.Kind != CharacterKindPC || c.OwnerUID != "u1" {
		t.Fatalf("character = %+v, want PC owned by u1", c)
	}

	// create-npc never takes an owner
	f.mustSend(t, "dm", MessageType(ActionCreateNPC), map[string]any{"name": "Rat", "ownerUid": "u1"})
	if npc := f.state.Characters["id-2"]; npc.OwnerUID != "" {
		t.Errorf("npc owner = %s, want empty", npc.OwnerUID)
	}
}

func TestRouter_Props(t *testing.T) {
	f := newRouterFixture(t)

	f.mustSend(t, "dm", MessageType(ActionCreateProp), map[string]any{"label": "Tree", "imageUrl": "tree.png", "width": 2, "height": 3})
	prop := f.state.Props["id-1"]
	if prop == nil || prop.Label != "Tree" || prop.Width != 2 {
		t.Fatalf("prop = %+v", prop)
	}

	f.mustSend(t, "dm", MessageType(ActionUpdateProp), map[string]any{"propId": "id-1", "x": 9})
	if prop.X != 9 || prop.Label != "Tree" {
		t.Errorf("prop after update = %+v", prop)
	}

	f.mustSend(t, "u1", MessageSelectObjects, map[string]any{"objectIds": []string{"id-1", "other"}})
	f.mustSend(t, "dm", MessageType(ActionDeleteProp), map[string]any{"propId": "id-1"})
	if len(f.state.Props) != 0 {
		t.Error("prop not deleted")
	}
	if e, _ := f.state.Selection.Get("u1"); e != (selection.Single{ObjectID: "other"}) {
		t.Errorf("u1 = %#v, want Single{other}", e)
	}
}

func TestRouter_ClearAllTokens(t *testing.T) {
	f := newRouterFixture(t)
	f.mustSend(t, "dm", MessageType(ActionClearAllTokens), nil)
	if r := f.lastResult(t); r != nil {
		t.Errorf("clearing no tokens result = %+v, want nil", r)
	}

	f.mustSend(t, "u1", MessageAddToken, map[string]any{"name": "A"})
	f.mustSend(t, "u2", MessageAddToken, map[string]any{"name": "B"})
	f.mustSend(t, "u1", MessageSelectObjects, map[string]any{"objectIds": []string{"id-1", "id-2"}})

	f.mustSend(t, "dm", MessageType(ActionClearAllTokens), nil)
	if len(f.state.Tokens) != 0 {
		t.Errorf("tokens = %v, want none", f.state.Tokens)
	}
	if f.state.Selection.Len() != 0 {
		t.Error("selections of cleared tokens should be dropped")
	}
}

func TestRouter_TokenOwnership(t *testing.T) {
	f := newRouterFixture(t)
	f.mustSend(t, "u1", MessageAddToken, map[string]any{"name": "Aria", "x": 1, "y": 1})
	tok := f.state.Tokens["id-1"]
	if tok == nil || tok.OwnerUID != "u1" {
		t.Fatalf("token = %+v", tok)
	}

	f.mustSend(t, "u2", MessageMoveToken, map[string]any{"tokenId": "id-1", "x": 9, "y": 9})
	if tok.X != 1 {
		t.Error("non-owner must not move the token")
	}

	f.mustSend(t, "u1", MessageMoveToken, map[string]any{"tokenId": "id-1", "x": 2, "y": 3})
	if tok.X != 2 || tok.Y != 3 {
		t.Errorf("token = %+v, want moved to 2,3", tok)
	}

	f.mustSend(t, "dm", MessageMoveToken, map[string]any{"tokenId": "id-1", "x": 4, "y": 4})
	if tok.X != 4 {
		t.Error("DM should move any token")
	}

	f.mustSend(t, "u2", MessageDeleteToken, map[string]any{"tokenId": "id-1"})
	if _, ok := f.state.Tokens["id-1"]; !ok {
		t.Error("non-owner must not delete the token")
	}

	f.mustSend(t, "u2", MessageSelectObject, map[string]any{"objectId": "id-1"})
	f.mustSend(t, "u1", MessageDeleteToken, map[string]any{"tokenId": "id-1"})
	if _, ok := f.state.Tokens["id-1"]; ok {
		t.Error("owner should delete the token")
	}
	if _, ok := f.state.Selection.Get("u2"); ok {
		t.Error("deleted token should leave u2's selection")
	}
}

func TestRouter_ClaimAndReleaseDM(t *testing.T) {
	f := newRouterFixture(t)

	f.mustSend(t, "u1", MessageClaimDM, nil)
	if f.state.IsDM("u1") {
		t.Error("claim must fail while a DM is present")
	}

	f.mustSend(t, "u1", MessageReleaseDM, nil)
	if r := f.lastResult(t); r != nil {
		t.Errorf("release by non-DM result = %+v, want nil", r)
	}

	f.mustSend(t, "dm", MessageReleaseDM, nil)
	if f.state.HasDM() {
		t.Fatal("DM role should be released")
	}

	f.mustSend(t, "u1", MessageClaimDM, nil)
	if !f.state.IsDM("u1") {
		t.Error("u1 should hold the DM role")
	}
}

func TestRouter_BadPayloadReturnsError(t *testing.T) {
	f := newRouterFixture(t)
	raw := []byte(`{"type":"add-token","data":{"x":"left"}}`)
	rc := NewRoutingContext("u1", StateSourceFunc(func() *RoomState { return f.state }))

	if err := f.router.Route(f.state, rc, raw); err == nil {
		t.Fatal("expected decode error")
	}
	if len(f.proc.results) != 0 {
		t.Error("failed handler must not forward a result")
	}
}
