package room

// StateSource yields the current room state
type StateSource interface {
	State() *RoomState
}

// StateSourceFunc adapts a function to StateSource
type StateSourceFunc func() *RoomState

func (f StateSourceFunc) State() *RoomState { return f() }

// RoutingContext caches the room state and the sender's role for the
// handling of one inbound message. It never mutates the state.
type RoutingContext struct {
	senderUID string
	state     *RoomState
	roleOf    func(state *RoomState, uid string) bool

	dmResolved bool
	dm         bool
}

// NewRoutingContext fetches the state once from source
func NewRoutingContext(senderUID string, source StateSource) *RoutingContext {
	return newRoutingContext(senderUID, source, (*RoomState).IsDM)
}

func newRoutingContext(senderUID string, source StateSource, roleOf func(*RoomState, string) bool) *RoutingContext {
	return &RoutingContext{
		senderUID: senderUID,
		state:     source.State(),
		roleOf:    roleOf,
	}
}

// SenderUID returns the uid of the user who sent the message
func (rc *RoutingContext) SenderUID() string {
	return rc.senderUID
}

// State returns the state fetched when the context was created
func (rc *RoutingContext) State() *RoomState {
	return rc.state
}

// IsDM reports whether the sender is the DM, computed on first use
func (rc *RoutingContext) IsDM() bool {
	if !rc.dmResolved {
		rc.dm = rc.roleOf(rc.State(), rc.senderUID)
		rc.dmResolved = true
	}
	return rc.dm
}
