// Package decoration turns anchor state into highlight regions for the editor
// overlay and resolves clicks back to thread ids.
package decoration

import (
	"sort"
	"strings"

	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/anchor"
)

type Emphasis string

const (
	EmphasisDefault  Emphasis = "default"
	EmphasisHovered  Emphasis = "hovered"
	EmphasisSelected Emphasis = "selected"
)

const classBase = "thread-anchor"

// Region is one highlighted span of the document.
type Region struct {
	ThreadID string        `json:"threadId"`
	From     int           `json:"from"`
	To       int           `json:"to"`
	Status   anchor.Status `json:"status"`
	Emphasis Emphasis      `json:"emphasis"`
}

// Class returns the style tag for the region, for example
// "thread-anchor thread-anchor--unresolved thread-anchor--selected".
func (r Region) Class() string {
	var b strings.Builder
	b.WriteString(classBase)
	b.WriteString(" ")
	b.WriteString(classBase)
	b.WriteString("--")
	b.WriteString(string(anchor.NormalizeStatus(string(r.Status))))
	if r.Emphasis == EmphasisHovered || r.Emphasis == EmphasisSelected {
		b.WriteString(" ")
		b.WriteString(classBase)
		b.WriteString("--")
		b.WriteString(string(r.Emphasis))
	}
	return b.String()
}

// View is the read side of an anchor state. *anchor.State satisfies it.
type View interface {
	Threads() []anchor.Anchor
	Hovered() string
	Selected() string
}

// Build computes the regions for the current view. Threads whose range is
// empty produce nothing. When an id appears more than once the last anchor
// wins.
func Build(view View) []Region {
	threads := view.Threads()
	hovered := view.Hovered()
	selected := view.Selected()

	byID := make(map[string]anchor.Anchor, len(threads))
	for _, thread := range threads {
		byID[thread.ID] = thread
	}

	regions := make([]Region, 0, len(byID))
	for id, thread := range byID {
		if thread.Range().Empty() {
			continue
		}
		emphasis := EmphasisDefault
		switch {
		case id == "":
		case id == selected:
			emphasis = EmphasisSelected
		case id == hovered:
			emphasis = EmphasisHovered
		}
		regions = append(regions, Region{
			ThreadID: id,
			From:     thread.From,
			To:       thread.To,
			Status:   anchor.NormalizeStatus(string(thread.Status)),
			Emphasis: emphasis,
		})
	}

	sort.Slice(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.ThreadID < b.ThreadID
	})
	return regions
}

// ThreadAt returns the topmost thread covering pos: the narrowest region,
// then the one starting later, then the larger id.
func ThreadAt(regions []Region, pos int) (string, bool) {
	var best *Region
	for i := range regions {
		r := &regions[i]
		if pos < r.From || pos >= r.To {
			continue
		}
		if best == nil || above(r, best) {
			best = r
		}
	}
	if best == nil {
		return "", false
	}
	return best.ThreadID, true
}

func above(a, b *Region) bool {
	wa, wb := a.To-a.From, b.To-b.From
	if wa != wb {
		return wa < wb
	}
	if a.From != b.From {
		return a.From > b.From
	}
	return a.ThreadID > b.ThreadID
}
