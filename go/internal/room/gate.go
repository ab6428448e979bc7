package room

import (
	"github.com/rs/zerolog/log"
)

// HandlerResult tells the room what to do after a handler mutated state
type HandlerResult struct {
	Broadcast bool
	Save      bool
}

var (
	// resultBroadcast is returned by transient changes such as drags and selections
	resultBroadcast = &HandlerResult{Broadcast: true}
	// resultBroadcastSave is returned by changes to persisted objects
	resultBroadcastSave = &HandlerResult{Broadcast: true, Save: true}
)

// Action labels a privileged (DM-only) operation
type Action string

const (
	ActionCreateCharacter Action = "create-character"
	ActionCreateNPC       Action = "create-npc"
	ActionUpdateNPC       Action = "update-npc"
	ActionDeleteNPC       Action = "delete-npc"
	ActionPlaceNPCToken   Action = "place-npc-token"
	ActionCreateProp      Action = "create-prop"
	ActionUpdateProp      Action = "update-prop"
	ActionDeleteProp      Action = "delete-prop"
	ActionClearAllTokens  Action = "clear-all-tokens"
)

// PrivilegedActions returns every action routed through the gate
func PrivilegedActions() []Action {
	return []Action{
		ActionCreateCharacter,
		ActionCreateNPC,
		ActionUpdateNPC,
		ActionDeleteNPC,
		ActionPlaceNPCToken,
		ActionCreateProp,
		ActionUpdateProp,
		ActionDeleteProp,
		ActionClearAllTokens,
	}
}

// Authorizer decides whether a sender may perform a privileged action
type Authorizer interface {
	Authorize(senderUID string, isDM bool, action Action) bool
}

// ResultProcessor receives the results of handlers that ran
type ResultProcessor interface {
	ProcessResult(result *HandlerResult)
}

// DMAuthorizer allows privileged actions for the DM only
type DMAuthorizer struct{}

func (DMAuthorizer) Authorize(senderUID string, isDM bool, action Action) bool {
	if !isDM {
		log.Warn().
			Str("module", "room.gate").
			Str("user_id", senderUID).
			Str("action", string(action)).
			Msg("rejected non-DM attempt at privileged action")
		return false
	}
	return true
}

// Gate runs privileged handlers after an authorization check
type Gate struct {
	authorizer Authorizer
	results    ResultProcessor
}

// NewGate creates a gate. A nil authorizer uses DMAuthorizer.
func NewGate(authorizer Authorizer, results ResultProcessor) *Gate {
	if authorizer == nil {
		authorizer = DMAuthorizer{}
	}
	return &Gate{
		authorizer: authorizer,
		results:    results,
	}
}

// Run invokes handler only if the sender is authorized for action, then
// forwards its result, nil included, to the result processor. A rejected
// call returns (nil, nil) without running the handler. Handler errors are
// returned as-is and the result is not forwarded.
func (g *Gate) Run(senderUID string, isDM bool, action Action, handler func() (*HandlerResult, error)) (*HandlerResult, error) {
	if !g.authorizer.Authorize(senderUID, isDM, action) {
		return nil, nil
	}

	result, err := handler()
	if err != nil {
		return nil, err
	}

	g.results.ProcessResult(result)
	return result, nil
}
