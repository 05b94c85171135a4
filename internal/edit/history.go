package edit

import "slices"

// DefaultHistoryDepth is how many undo steps a session keeps.
const DefaultHistoryDepth = 20

// Snapshot is a deep copy of a document's editable state.
type Snapshot struct {
	Filters   FilterState    `json:"filters"`
	Transform TransformState `json:"transform"`
	Texts     []TextOverlay  `json:"texts"`
}

// Equal reports whether both snapshots describe the same document.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.Filters == o.Filters && s.Transform == o.Transform && slices.Equal(s.Texts, o.Texts)
}

func (s Snapshot) clone() Snapshot {
	s.Texts = append([]TextOverlay(nil), s.Texts...)
	return s
}

// History is a bounded LIFO of snapshots. Pushing past the limit silently
// drops the oldest entry.
type History struct {
	entries []Snapshot
	limit   int
}

// NewHistory returns a stack keeping at most limit snapshots.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = DefaultHistoryDepth
	}
	return &History{limit: limit}
}

// Push records s as the newest entry.
func (h *History) Push(s Snapshot) {
	h.entries = append(h.entries, s.clone())
	if over := len(h.entries) - h.limit; over > 0 {
		copy(h.entries, h.entries[over:])
		h.entries = h.entries[:h.limit]
	}
}

// Pop removes and returns the newest entry. ok is false when empty.
func (h *History) Pop() (s Snapshot, ok bool) {
	if len(h.entries) == 0 {
		return Snapshot{}, false
	}
	last := len(h.entries) - 1
	s = h.entries[last]
	h.entries[last] = Snapshot{}
	h.entries = h.entries[:last]
	return s, true
}

func (h *History) Len() int { return len(h.entries) }

func (h *History) Clear() { h.entries = nil }
