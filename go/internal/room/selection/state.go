package selection

import (
	"encoding/json"
	"sort"
)

// State holds every user's selection in one room.
// Only the operations in this package write to it.
type State struct {
	entries map[string]Entry
}

// NewState creates an empty selection state
func NewState() *State {
	return &State{entries: make(map[string]Entry)}
}

// Get returns the entry for uid, if any
func (s *State) Get(uid string) (Entry, bool) {
	e, ok := s.entries[uid]
	return e, ok
}

// Len returns the number of users with a selection
func (s *State) Len() int {
	return len(s.entries)
}

// Owner returns the uid currently holding objectID. Selections are
// exclusive, so there is at most one.
func (s *State) Owner(objectID string) (string, bool) {
	for uid, e := range s.entries {
		for _, id := range e.IDs() {
			if id == objectID {
				return uid, true
			}
		}
	}
	return "", false
}

// Users returns the uids with a selection, sorted
func (s *State) Users() []string {
	uids := make([]string, 0, len(s.entries))
	for uid := range s.entries {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Clone returns a deep copy, safe to hand to another goroutine
func (s *State) Clone() *State {
	out := NewState()
	for uid, e := range s.entries {
		out.entries[uid] = entryFor(e.IDs())
	}
	return out
}

// MarshalJSON renders uid -> {mode, objectId|objectIds}
func (s *State) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.entries)
}

func (s *State) set(uid string, e Entry) {
	s.entries[uid] = e
}

func (s *State) remove(uid string) bool {
	if _, ok := s.entries[uid]; !ok {
		return false
	}
	delete(s.entries, uid)
	return true
}
