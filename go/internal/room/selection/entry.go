package selection

import "encoding/json"

// Mode controls how a requested id list combines with a user's current selection
type Mode string

const (
	ModeReplace  Mode = "replace"
	ModeAppend   Mode = "append"
	ModeSubtract Mode = "subtract"
)

// ParseMode maps a client-supplied mode string to a Mode.
// Unknown and empty strings fall back to ModeReplace.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeAppend:
		return ModeAppend
	case ModeSubtract:
		return ModeSubtract
	default:
		return ModeReplace
	}
}

// Entry is one user's non-empty selection. It is either Single or Multiple.
type Entry interface {
	// IDs returns the selected object ids in selection order.
	IDs() []string
	isEntry()
}

// Single is a selection of exactly one object
type Single struct {
	ObjectID string
}

// Multiple is a selection of two or more objects
type Multiple struct {
	ObjectIDs []string
}

func (s Single) IDs() []string { return []string{s.ObjectID} }

func (m Multiple) IDs() []string {
	out := make([]string, len(m.ObjectIDs))
	copy(out, m.ObjectIDs)
	return out
}

func (Single) isEntry()   {}
func (Multiple) isEntry() {}

// entryFor derives the canonical shape for ids. It returns nil for an empty list.
func entryFor(ids []string) Entry {
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return Single{ObjectID: ids[0]}
	default:
		cp := make([]string, len(ids))
		copy(cp, ids)
		return Multiple{ObjectIDs: cp}
	}
}

// sameEntry reports whether two entries have the same shape and ids in the same order.
func sameEntry(a, b Entry) bool {
	switch av := a.(type) {
	case Single:
		bv, ok := b.(Single)
		return ok && av.ObjectID == bv.ObjectID
	case Multiple:
		bv, ok := b.(Multiple)
		if !ok || len(av.ObjectIDs) != len(bv.ObjectIDs) {
			return false
		}
		for i := range av.ObjectIDs {
			if av.ObjectIDs[i] != bv.ObjectIDs[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// wireEntry is the client-facing JSON view of an Entry
type wireEntry struct {
	Mode      string   `json:"mode"`
	ObjectID  string   `json:"objectId,omitempty"`
	ObjectIDs []string `json:"objectIds,omitempty"`
}

func (s Single) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEntry{Mode: "single", ObjectID: s.ObjectID})
}

func (m Multiple) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEntry{Mode: "multiple", ObjectIDs: m.ObjectIDs})
}
