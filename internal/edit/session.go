package edit

import "sync"

// Session is the interactive editing state of one image: a document plus its
// undo history. Every gesture pushes exactly one snapshot taken before the
// gesture's first mutation. It is safe for concurrent use.
type Session struct {
	mu      sync.Mutex
	doc     *Document
	history *History
	inDrag  bool
}

// NewSession returns a session with a fresh document and an undo stack of the
// given depth.
func NewSession(depth int) *Session {
	return &Session{doc: NewDocument(), history: NewHistory(depth)}
}

// Apply runs one discrete gesture: fn mutates the document and the
// pre-gesture state is pushed if anything changed. While a drag is open the
// push is skipped, so the whole drag stays one undo step.
func (s *Session) Apply(fn func(d *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inDrag {
		fn(s.doc)
		return
	}
	before := s.doc.Snapshot()
	fn(s.doc)
	if !before.Equal(s.doc.Snapshot()) {
		s.history.Push(before)
	}
}

// Begin opens a continuous gesture such as a slider drag and pushes once.
// A second Begin without End is ignored.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inDrag {
		return
	}
	s.history.Push(s.doc.Snapshot())
	s.inDrag = true
}

// End closes the gesture opened by Begin.
func (s *Session) End() {
	s.mu.Lock()
	s.inDrag = false
	s.mu.Unlock()
}

// Undo restores the newest snapshot. It reports false when there is nothing
// to undo.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.history.Pop()
	if !ok {
		return false
	}
	s.doc.Restore(snap)
	s.inDrag = false
	return true
}

// Reset restores neutral filters and the identity transform as one gesture.
func (s *Session) Reset() {
	s.Apply(func(d *Document) { d.Reset() })
}

// ApplyPreset assigns a preset as one gesture.
func (s *Session) ApplyPreset(p Preset) {
	s.Apply(func(d *Document) { d.ApplyPreset(p) })
}

// Replaced is called after the underlying bitmap changes. Geometry and text
// are reset, filters kept, and history dropped since its snapshots describe
// the old bitmap.
func (s *Session) Replaced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ResetGeometry()
	s.history.Clear()
	s.inDrag = false
}

// State returns a deep copy of the current document.
func (s *Session) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Snapshot()
}

// Active returns the overlay currently selected for editing.
func (s *Session) Active() (TextOverlay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Texts.Active()
}

// Select marks an overlay active without touching history.
func (s *Session) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Texts.SetActive(id)
}

// UndoDepth reports how many steps can be undone.
func (s *Session) UndoDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}
