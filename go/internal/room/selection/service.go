// Package selection owns per-user selections over scene objects in a room.
//
// A scene-object id is held by at most one user at a time: selecting an id
// that another user holds takes it away from them first. None of the
// operations here lock; callers serialize access per room.
package selection

import (
	"encoding/json"
)

// MaxSelection caps how many ids a single user can hold
const MaxSelection = 100

// NormalizeIDs drops empty ids, removes duplicates keeping the first
// occurrence, and truncates to MaxSelection.
func NormalizeIDs(ids []string) []string {
	out := make([]string, 0, min(len(ids), MaxSelection))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == MaxSelection {
			break
		}
	}
	return out
}

// DecodeIDs decodes a JSON array of ids, keeping only string members.
// Anything that is not an array decodes to nil.
func DecodeIDs(raw json.RawMessage) []string {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

// SelectObject replaces uid's selection with objectID
func SelectObject(state *State, uid, objectID string) bool {
	return SelectMultiple(state, uid, []string{objectID}, ModeReplace)
}

// Deselect clears uid's selection
func Deselect(state *State, uid string) bool {
	return SelectMultiple(state, uid, nil, ModeReplace)
}

// SelectMultiple combines objectIDs with uid's current selection according to
// mode and applies the result. It reports whether the state changed.
func SelectMultiple(state *State, uid string, objectIDs []string, mode Mode) bool {
	current, hasCurrent := state.Get(uid)

	var candidate []string
	switch mode {
	case ModeAppend:
		var merged []string
		if hasCurrent {
			merged = append(merged, current.IDs()...)
		}
		merged = append(merged, objectIDs...)
		candidate = NormalizeIDs(merged)

	case ModeSubtract:
		if !hasCurrent {
			return false
		}
		drop := make(map[string]struct{}, len(objectIDs))
		for _, id := range objectIDs {
			drop[id] = struct{}{}
		}
		for _, id := range current.IDs() {
			if _, ok := drop[id]; !ok {
				candidate = append(candidate, id)
			}
		}

	default:
		candidate = NormalizeIDs(objectIDs)
	}

	return apply(state, uid, candidate)
}

// RemoveObject strips objectID from whichever selection holds it. Used when
// the object itself is deleted.
func RemoveObject(state *State, objectID string) bool {
	uid, ok := state.Owner(objectID)
	if !ok {
		return false
	}
	e, _ := state.Get(uid)
	return without(state, uid, e, map[string]struct{}{objectID: {}})
}

// apply writes candidate as uid's selection after taking its ids away from
// everyone else.
func apply(state *State, uid string, candidate []string) bool {
	next := entryFor(candidate)
	if next == nil {
		return state.remove(uid)
	}

	if current, ok := state.Get(uid); ok && sameEntry(current, next) {
		return false
	}

	claimed := make(map[string]struct{}, len(candidate))
	for _, id := range candidate {
		claimed[id] = struct{}{}
	}
	for _, other := range state.Users() {
		if other == uid {
			continue
		}
		e, _ := state.Get(other)
		without(state, other, e, claimed)
	}

	state.set(uid, next)
	return true
}

// without removes the ids in drop from uid's entry e and stores the
// re-derived shape. It reports whether anything was removed.
func without(state *State, uid string, e Entry, drop map[string]struct{}) bool {
	if s, ok := e.(Single); ok {
		if _, hit := drop[s.ObjectID]; hit {
			return state.remove(uid)
		}
		return false
	}

	ids := e.IDs()
	kept := ids[:0]
	for _, id := range ids {
		if _, hit := drop[id]; !hit {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(ids) {
		return false
	}

	if next := entryFor(kept); next != nil {
		state.set(uid, next)
	} else {
		state.remove(uid)
	}
	return true
}
