package anchor

import "sync"

// Status is the resolution state of the thread an anchor belongs to.
type Status string

const (
	StatusUnresolved Status = "unresolved"
	StatusResolved   Status = "resolved"
)

// NormalizeStatus maps anything other than resolved to unresolved.
func NormalizeStatus(value string) Status {
	if Status(value) == StatusResolved {
		return StatusResolved
	}
	return StatusUnresolved
}

// Anchor is the live position of one thread inside an open document.
type Anchor struct {
	ID     string `json:"id"`
	From   int    `json:"anchorFrom"`
	To     int    `json:"anchorTo"`
	Status Status `json:"status"`
}

// Range returns the anchor's [From, To) span.
func (a Anchor) Range() Range {
	return Range{From: a.From, To: a.To}
}

func (a Anchor) withRange(r Range) Anchor {
	a.From = r.From
	a.To = r.To
	return a
}

// Snapshot is a coherent copy of the anchor set at one version.
type Snapshot struct {
	Version uint64
	DocSize int
	Anchors []Anchor
}

// State holds the anchors of a single editing session. Each session owns its
// own State; nothing is shared between documents.
type State struct {
	mu       sync.RWMutex
	threads  []Anchor
	hovered  string
	selected string
	docSize  int
	version  uint64
}

// NewState creates an empty state for a document of docSize units.
func NewState(docSize int) *State {
	if docSize < 0 {
		docSize = 0
	}
	return &State{docSize: docSize}
}

// SetThreads replaces the working set. Every anchor is clamped against the
// current document size because the document may have changed since the
// anchors were persisted.
func (s *State) SetThreads(threads []Anchor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]Anchor, 0, len(threads))
	for _, thread := range threads {
		thread.Status = NormalizeStatus(string(thread.Status))
		next = append(next, thread.withRange(Clamp(thread.Range(), s.docSize)))
	}
	s.threads = next
	s.version++
}

// Upsert inserts or replaces a single anchor, clamped like SetThreads.
func (s *State) Upsert(a Anchor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Status = NormalizeStatus(string(a.Status))
	a = a.withRange(Clamp(a.Range(), s.docSize))
	for i := range s.threads {
		if s.threads[i].ID == a.ID {
			s.threads[i] = a
			s.version++
			return
		}
	}
	s.threads = append(s.threads, a)
	s.version++
}

// Remove drops the anchor with the given id and clears any pointer at it.
func (s *State) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.threads {
		if s.threads[i].ID != id {
			continue
		}
		s.threads = append(s.threads[:i], s.threads[i+1:]...)
		if s.hovered == id {
			s.hovered = ""
		}
		if s.selected == id {
			s.selected = ""
		}
		s.version++
		return true
	}
	return false
}

// ApplyEdit remaps every anchor through e.
func (s *State) ApplyEdit(e Edit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(e)
	s.version++
}

// ApplyMapping remaps every anchor through each edit of m in order.
func (s *State) ApplyMapping(m Mapping) {
	if m.Len() == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range m.edits {
		s.applyLocked(e)
	}
	s.version++
}

func (s *State) applyLocked(e Edit) {
	s.docSize = ResizeAfter(s.docSize, e)
	for i := range s.threads {
		s.threads[i] = s.threads[i].withRange(MapRange(s.threads[i].Range(), e, s.docSize))
	}
}

// SetDocSize resynchronises the document size and re-clamps every anchor.
func (s *State) SetDocSize(docSize int) {
	if docSize < 0 {
		docSize = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docSize = docSize
	for i := range s.threads {
		s.threads[i] = s.threads[i].withRange(Clamp(s.threads[i].Range(), docSize))
	}
	s.version++
}

// SetStatus updates the resolution status of one anchor.
func (s *State) SetStatus(id string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.threads {
		if s.threads[i].ID == id {
			s.threads[i].Status = NormalizeStatus(string(status))
			return true
		}
	}
	return false
}

// Hover points at the thread under the cursor; "" clears it.
func (s *State) Hover(id string) {
	s.mu.Lock()
	s.hovered = id
	s.mu.Unlock()
}

// Select marks the active thread; "" clears it.
func (s *State) Select(id string) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

func (s *State) Hovered() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hovered
}

func (s *State) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *State) DocSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docSize
}

// Version changes whenever anchor positions or membership change. Hover and
// selection do not count.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Threads returns a copy of the current anchors.
func (s *State) Threads() []Anchor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Anchor(nil), s.threads...)
}

// Find returns the anchor with the given id.
func (s *State) Find(id string) (Anchor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, thread := range s.threads {
		if thread.ID == id {
			return thread, true
		}
	}
	return Anchor{}, false
}

// Snapshot copies the anchors together with the version they belong to.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Version: s.version,
		DocSize: s.docSize,
		Anchors: append([]Anchor(nil), s.threads...),
	}
}
