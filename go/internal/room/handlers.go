package room

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/loshunter/herobyte/go/internal/room/selection"
	"github.com/rs/zerolog/log"
)

type handlerFunc func(state *RoomState, rc *RoutingContext, data json.RawMessage) (*HandlerResult, error)

type route struct {
	handler    handlerFunc
	privileged bool
}

// Router dispatches inbound messages to their handlers. Privileged routes go
// through the Gate; the rest forward their result directly.
type Router struct {
	routes  map[MessageType]route
	gate    *Gate
	results ResultProcessor
	newID   func() string
}

// NewRouter creates a router forwarding handler results to results
func NewRouter(authorizer Authorizer, results ResultProcessor) *Router {
	r := &Router{
		gate:    NewGate(authorizer, results),
		results: results,
		newID:   uuid.NewString,
	}

	r.routes = map[MessageType]route{
		MessageSelectObject:  {handler: handleSelectObject},
		MessageSelectObjects: {handler: handleSelectObjects},
		MessageDeselect:      {handler: handleDeselect},
		MessageAddToken:      {handler: r.handleAddToken},
		MessageMoveToken:     {handler: handleMoveToken},
		MessageDeleteToken:   {handler: handleDeleteToken},
		MessageClaimDM:       {handler: handleClaimDM},
		MessageReleaseDM:     {handler: handleReleaseDM},

		MessageType(ActionCreateCharacter): {handler: r.handleCreateCharacter, privileged: true},
		MessageType(ActionCreateNPC):       {handler: r.handleCreateNPC, privileged: true},
		MessageType(ActionUpdateNPC):       {handler: handleUpdateNPC, privileged: true},
		MessageType(ActionDeleteNPC):       {handler: handleDeleteNPC, privileged: true},
		MessageType(ActionPlaceNPCToken):   {handler: r.handlePlaceNPCToken, privileged: true},
		MessageType(ActionCreateProp):      {handler: r.handleCreateProp, privileged: true},
		MessageType(ActionUpdateProp):      {handler: handleUpdateProp, privileged: true},
		MessageType(ActionDeleteProp):      {handler: handleDeleteProp, privileged: true},
		MessageType(ActionClearAllTokens):  {handler: handleClearAllTokens, privileged: true},
	}
	return r
}

// Route decodes one raw client message and runs its handler against state
func (r *Router) Route(state *RoomState, rc *RoutingContext, raw []byte) error {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("unmarshal message envelope: %w", err)
	}

	rt, ok := r.routes[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}

	run := func() (*HandlerResult, error) {
		result, err := rt.handler(state, rc, msg.Data)
		if err != nil {
			return nil, fmt.Errorf("handle %s: %w", msg.Type, err)
		}
		return result, nil
	}

	if rt.privileged {
		_, err := r.gate.Run(rc.SenderUID(), rc.IsDM(), Action(msg.Type), run)
		return err
	}

	result, err := run()
	if err != nil {
		return err
	}
	r.results.ProcessResult(result)
	return nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func changed(ok bool, result *HandlerResult) *HandlerResult {
	if !ok {
		return nil
	}
	return result
}

// Selection

func handleSelectObject(state *RoomState, rc *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p selectObjectPayload
	if err := decode(data, &p); err != nil {
		// Malformed selections are treated as empty, never rejected.
		p = selectObjectPayload{}
	}
	ok := selection.SelectMultiple(state.Selection, rc.SenderUID(), []string{p.ObjectID}, selection.ModeReplace)
	return changed(ok, resultBroadcast), nil
}

func handleSelectObjects(state *RoomState, rc *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p selectObjectsPayload
	if err := decode(data, &p); err != nil {
		p = selectObjectsPayload{}
	}
	ids := selection.DecodeIDs(p.ObjectIDs)
	ok := selection.SelectMultiple(state.Selection, rc.SenderUID(), ids, selection.ParseMode(p.Mode))
	return changed(ok, resultBroadcast), nil
}

func handleDeselect(state *RoomState, rc *RoutingContext, _ json.RawMessage) (*HandlerResult, error) {
	ok := selection.Deselect(state.Selection, rc.SenderUID())
	return changed(ok, resultBroadcast), nil
}

// Tokens

func (r *Router) handleAddToken(state *RoomState, rc *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p addTokenPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	tok := &Token{
		ID:       r.newID(),
		OwnerUID: rc.SenderUID(),
		Name:     p.Name,
		Color:    p.Color,
		X:        p.X,
		Y:        p.Y,
	}
	state.Tokens[tok.ID] = tok
	return resultBroadcastSave, nil
}

// canTouchToken reports whether the sender owns the token or is the DM
func canTouchToken(rc *RoutingContext, tok *Token) bool {
	return tok.OwnerUID == rc.SenderUID() || rc.IsDM()
}

func handleMoveToken(state *RoomState, rc *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p moveTokenPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	tok, ok := state.Tokens[p.TokenID]
	if !ok || !canTouchToken(rc, tok) {
		return nil, nil
	}
	if tok.X == p.X && tok.Y == p.Y {
		return nil, nil
	}
	tok.X, tok.Y = p.X, p.Y
	return resultBroadcastSave, nil
}

func handleDeleteToken(state *RoomState, rc *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p tokenRefPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	tok, ok := state.Tokens[p.TokenID]
	if !ok || !canTouchToken(rc, tok) {
		return nil, nil
	}
	state.removeToken(tok.ID)
	return resultBroadcastSave, nil
}

// DM role

func handleClaimDM(state *RoomState, rc *RoutingContext, _ json.RawMessage) (*HandlerResult, error) {
	p, ok := state.Players[rc.SenderUID()]
	if !ok || p.IsDM || state.HasDM() {
		return nil, nil
	}
	p.IsDM = true
	log.Info().
		Str("module", "room").
		Str("room_id", state.ID).
		Str("user_id", p.UID).
		Msg("player claimed DM role")
	return resultBroadcast, nil
}

func handleReleaseDM(state *RoomState, rc *RoutingContext, _ json.RawMessage) (*HandlerResult, error) {
	if !rc.IsDM() {
		return nil, nil
	}
	state.Players[rc.SenderUID()].IsDM = false
	return resultBroadcast, nil
}

// Characters and NPCs

func clampHP(hp, maxHP int) (int, int) {
	if maxHP < 0 {
		maxHP = 0
	}
	if hp < 0 {
		hp = 0
	}
	if maxHP > 0 && hp > maxHP {
		hp = maxHP
	}
	return hp, maxHP
}

func (r *Router) createCharacter(state *RoomState, kind CharacterKind, p createCharacterPayload) {
	hp, maxHP := clampHP(p.HP, p.MaxHP)
	c := &Character{
		ID:       r.newID(),
		Kind:     kind,
		Name:     p.Name,
		HP:       hp,
		MaxHP:    maxHP,
		Portrait: p.Portrait,
	}
	if kind == CharacterKindPC {
		c.OwnerUID = p.OwnerUID
	}
	state.Characters[c.ID] = c
}

func (r *Router) handleCreateCharacter(state *RoomState, _ *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p createCharacterPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	r.createCharacter(state, CharacterKindPC, p)
	return resultBroadcastSave, nil
}

func (r *Router) handleCreateNPC(state *RoomState, _ *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p createCharacterPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	r.createCharacter(state, CharacterKindNPC, p)
	return resultBroadcastSave, nil
}

func npcByID(state *RoomState, id string) (*Character, bool) {
	c, ok := state.Characters[id]
	if !ok || c.Kind != CharacterKindNPC {
		return nil, false
	}
	return c, true
}

func handleUpdateNPC(state *RoomState, _ *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p updateNPCPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	npc, ok := npcByID(state, p.NPCID)
	if !ok {
		return nil, nil
	}
	if p.Name != nil {
		npc.Name = *p.Name
	}
	if p.Portrait != nil {
		npc.Portrait = *p.Portrait
	}
	hp, maxHP := npc.HP, npc.MaxHP
	if p.HP != nil {
		hp = *p.HP
	}
	if p.MaxHP != nil {
		maxHP = *p.MaxHP
	}
	npc.HP, npc.MaxHP = clampHP(hp, maxHP)
	return resultBroadcastSave, nil
}

func handleDeleteNPC(state *RoomState, _ *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p npcRefPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	npc, ok := npcByID(state, p.NPCID)
	if !ok {
		return nil, nil
	}
	if npc.TokenID != "" {
		state.removeToken(npc.TokenID)
	}
	delete(state.Characters, npc.ID)
	return resultBroadcastSave, nil
}

func (r *Router) handlePlaceNPCToken(state *RoomState, rc *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p placeNPCTokenPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	npc, ok := npcByID(state, p.NPCID)
	if !ok {
		return nil, nil
	}

	if tok, ok := state.Tokens[npc.TokenID]; ok {
		tok.X, tok.Y = p.X, p.Y
		return resultBroadcastSave, nil
	}

	tok := &Token{
		ID:          r.newID(),
		OwnerUID:    rc.SenderUID(),
		Name:        npc.Name,
		X:           p.X,
		Y:           p.Y,
		CharacterID: npc.ID,
	}
	state.Tokens[tok.ID] = tok
	npc.TokenID = tok.ID
	return resultBroadcastSave, nil
}

// Props

func (r *Router) handleCreateProp(state *RoomState, _ *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p createPropPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	prop := &Prop{
		ID:       r.newID(),
		Label:    p.Label,
		ImageURL: p.ImageURL,
		X:        p.X,
		Y:        p.Y,
		Width:    p.Width,
		Height:   p.Height,
	}
	state.Props[prop.ID] = prop
	return resultBroadcastSave, nil
}

func handleUpdateProp(state *RoomState, _ *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p updatePropPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	prop, ok := state.Props[p.PropID]
	if !ok {
		return nil, nil
	}
	if p.Label != nil {
		prop.Label = *p.Label
	}
	if p.ImageURL != nil {
		prop.ImageURL = *p.ImageURL
	}
	if p.X != nil {
		prop.X = *p.X
	}
	if p.Y != nil {
		prop.Y = *p.Y
	}
	if p.Width != nil {
		prop.Width = *p.Width
	}
	if p.Height != nil {
		prop.Height = *p.Height
	}
	return resultBroadcastSave, nil
}

func handleDeleteProp(state *RoomState, _ *RoutingContext, data json.RawMessage) (*HandlerResult, error) {
	var p propRefPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if _, ok := state.Props[p.PropID]; !ok {
		return nil, nil
	}
	delete(state.Props, p.PropID)
	selection.RemoveObject(state.Selection, p.PropID)
	return resultBroadcastSave, nil
}

func handleClearAllTokens(state *RoomState, _ *RoutingContext, _ json.RawMessage) (*HandlerResult, error) {
	if len(state.Tokens) == 0 {
		return nil, nil
	}
	for id := range state.Tokens {
		state.removeToken(id)
	}
	return resultBroadcastSave, nil
}
