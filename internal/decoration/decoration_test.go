package decoration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/anchor"
)

func TestBuildSkipsEmptyRanges(t *testing.T) {
	state := anchor.NewState(50)
	state.SetThreads([]anchor.Anchor{
		{ID: "visible", From: 5, To: 12},
		{ID: "collapsed", From: 8, To: 8},
	})

	regions := Build(state)
	require.Len(t, regions, 1)
	assert.Equal(t, "visible", regions[0].ThreadID)
	assert.Len(t, state.Threads(), 2)
}

func TestBuildEmphasis(t *testing.T) {
	state := anchor.NewState(50)
	state.SetThreads([]anchor.Anchor{
		{ID: "a", From: 1, To: 4},
		{ID: "b", From: 5, To: 9, Status: anchor.StatusResolved},
		{ID: "c", From: 10, To: 20},
	})
	state.Hover("a")
	state.Select("b")

	regions := Build(state)
	require.Len(t, regions, 3)
	assert.Equal(t, EmphasisHovered, regions[0].Emphasis)
	assert.Equal(t, EmphasisSelected, regions[1].Emphasis)
	assert.Equal(t, EmphasisDefault, regions[2].Emphasis)

	assert.Equal(t, "thread-anchor thread-anchor--unresolved thread-anchor--hovered", regions[0].Class())
	assert.Equal(t, "thread-anchor thread-anchor--resolved thread-anchor--selected", regions[1].Class())
	assert.Equal(t, "thread-anchor thread-anchor--unresolved", regions[2].Class())
}

func TestBuildSelectedWinsOverHovered(t *testing.T) {
	state := anchor.NewState(50)
	state.SetThreads([]anchor.Anchor{{ID: "a", From: 1, To: 4}})
	state.Hover("a")
	state.Select("a")

	regions := Build(state)
	require.Len(t, regions, 1)
	assert.Equal(t, EmphasisSelected, regions[0].Emphasis)
}

type staticView struct {
	threads []anchor.Anchor
}

func (v staticView) Threads() []anchor.Anchor { return v.threads }
func (v staticView) Hovered() string          { return "" }
func (v staticView) Selected() string         { return "" }

func TestBuildDeduplicatesByID(t *testing.T) {
	regions := Build(staticView{threads: []anchor.Anchor{
		{ID: "dup", From: 1, To: 3},
		{ID: "dup", From: 7, To: 9},
	}})

	require.Len(t, regions, 1)
	assert.Equal(t, 7, regions[0].From)
}

func TestBuildSortsByPosition(t *testing.T) {
	regions := Build(staticView{threads: []anchor.Anchor{
		{ID: "z", From: 4, To: 9},
		{ID: "y", From: 4, To: 6},
		{ID: "x", From: 1, To: 2},
	}})

	ids := make([]string, 0, len(regions))
	for _, r := range regions {
		ids = append(ids, r.ThreadID)
	}
	assert.Equal(t, []string{"x", "y", "z"}, ids)
}

func TestThreadAt(t *testing.T) {
	regions := []Region{
		{ThreadID: "outer", From: 1, To: 20},
		{ThreadID: "inner", From: 5, To: 8},
		{ThreadID: "twin-a", From: 10, To: 13},
		{ThreadID: "twin-b", From: 11, To: 14},
		{ThreadID: "same-a", From: 15, To: 17},
		{ThreadID: "same-b", From: 15, To: 17},
	}

	cases := []struct {
		pos    int
		want   string
		wantOK bool
	}{
		{pos: 2, want: "outer", wantOK: true},
		{pos: 6, want: "inner", wantOK: true},
		{pos: 8, want: "outer", wantOK: true},
		{pos: 12, want: "twin-b", wantOK: true},
		{pos: 16, want: "same-b", wantOK: true},
		{pos: 20, wantOK: false},
		{pos: 0, wantOK: false},
	}

	for _, tc := range cases {
		got, ok := ThreadAt(regions, tc.pos)
		assert.Equal(t, tc.wantOK, ok, "pos=%d", tc.pos)
		assert.Equal(t, tc.want, got, "pos=%d", tc.pos)
	}
}
