// Package anchor keeps thread anchors attached to document content while the
// document is edited.
package anchor

// MinPos is the first addressable position inside a document.
const MinPos = 1

// Edit is one atomic content change: Deleted units are removed at Pos and
// Inserted units are put in their place.
type Edit struct {
	Pos      int `json:"pos"`
	Deleted  int `json:"deleted"`
	Inserted int `json:"inserted"`
}

// Insert describes n units inserted at pos.
func Insert(pos, n int) Edit {
	return Edit{Pos: pos, Inserted: n}
}

// Delete describes n units removed starting at pos.
func Delete(pos, n int) Edit {
	return Edit{Pos: pos, Deleted: n}
}

// Replace describes the range [pos, pos+deleted) replaced by inserted units.
func Replace(pos, deleted, inserted int) Edit {
	return Edit{Pos: pos, Deleted: deleted, Inserted: inserted}
}

func (e Edit) normalize() Edit {
	if e.Pos < 0 {
		e.Pos = 0
	}
	if e.Deleted < 0 {
		e.Deleted = 0
	}
	if e.Inserted < 0 {
		e.Inserted = 0
	}
	return e
}

// Range is a half-open [From, To) span of document positions.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Empty reports whether the range covers no content.
func (r Range) Empty() bool {
	return r.To <= r.From
}

// mapPos moves a single endpoint through an edit. Positions before the edit
// stay put, positions after it shift by the size change, and anything touching
// the edited region [Pos, Pos+Deleted] lands just past the new content. Text
// typed at From therefore stays outside the range and text typed at To joins
// it. A delete followed by an insert at the same spot maps like the single
// replacement.
func mapPos(pos int, e Edit) int {
	switch {
	case pos < e.Pos:
		return pos
	case pos > e.Pos+e.Deleted:
		return pos - e.Deleted + e.Inserted
	default:
		return e.Pos + e.Inserted
	}
}

// ResizeAfter returns the document size once e has been applied.
func ResizeAfter(docSize int, e Edit) int {
	e = e.normalize()
	size := docSize - e.Deleted + e.Inserted
	if size < 0 {
		return 0
	}
	return size
}

// Clamp forces r into the document: 1 <= From <= To <= max(1, docSize).
func Clamp(r Range, docSize int) Range {
	upper := docSize
	if upper < MinPos {
		upper = MinPos
	}
	r.From = clampInt(r.From, MinPos, upper)
	r.To = clampInt(r.To, MinPos, upper)
	if r.To < r.From {
		r.To = r.From
	}
	return r
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MapRange maps r through e and clamps the result against docSize, the size
// of the document after the edit.
func MapRange(r Range, e Edit, docSize int) Range {
	e = e.normalize()
	mapped := Range{
		From: mapPos(r.From, e),
		To:   mapPos(r.To, e),
	}
	return Clamp(mapped, docSize)
}

// Mapping is an ordered sequence of edits applied one after another.
type Mapping struct {
	edits []Edit
}

// Compose chains edits into a single mapping.
func Compose(edits ...Edit) Mapping {
	return Mapping{edits: append([]Edit(nil), edits...)}
}

// Then returns a new mapping with more edits appended.
func (m Mapping) Then(edits ...Edit) Mapping {
	out := make([]Edit, 0, len(m.edits)+len(edits))
	out = append(out, m.edits...)
	out = append(out, edits...)
	return Mapping{edits: out}
}

// Edits returns a copy of the edits in application order.
func (m Mapping) Edits() []Edit {
	return append([]Edit(nil), m.edits...)
}

// Len is the number of edits in the mapping.
func (m Mapping) Len() int {
	return len(m.edits)
}

// ResizeAfter returns the document size once every edit has been applied.
func (m Mapping) ResizeAfter(docSize int) int {
	for _, e := range m.edits {
		docSize = ResizeAfter(docSize, e)
	}
	return docSize
}

// MapRange maps r through every edit in order, starting from a document of
// sizeBefore units. The range is re-clamped after each step, which makes the
// result identical to mapping through the edits one call at a time.
func (m Mapping) MapRange(r Range, sizeBefore int) Range {
	size := sizeBefore
	for _, e := range m.edits {
		size = ResizeAfter(size, e)
		r = MapRange(r, e, size)
	}
	return r
}
