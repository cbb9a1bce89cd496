package anchor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThreadsClampsAgainstCurrentSize(t *testing.T) {
	s := NewState(3)
	s.SetThreads([]Anchor{
		{ID: "t1", From: 10, To: 20, Status: "resolved"},
		{ID: "t2", From: 0, To: 2, Status: "bogus"},
	})

	threads := s.Threads()
	require.Len(t, threads, 2)
	assert.Equal(t, Anchor{ID: "t1", From: 3, To: 3, Status: StatusResolved}, threads[0])
	assert.Equal(t, Anchor{ID: "t2", From: 1, To: 2, Status: StatusUnresolved}, threads[1])
}

func TestApplyEditKeepsCollapsedThreads(t *testing.T) {
	s := NewState(50)
	s.SetThreads([]Anchor{
		{ID: "a", From: 5, To: 12},
		{ID: "b", From: 10, To: 20},
	})

	s.ApplyEdit(Delete(1, 47))

	assert.Equal(t, 3, s.DocSize())
	threads := s.Threads()
	require.Len(t, threads, 2)
	for _, thread := range threads {
		assert.Equal(t, 1, thread.From)
		assert.Equal(t, 1, thread.To)
	}
}

func TestApplyEditShrinkScenario(t *testing.T) {
	s := NewState(50)
	s.SetThreads([]Anchor{{ID: "t", From: 10, To: 20}})

	s.ApplyMapping(Compose(Delete(1, 17), Delete(4, 30)))

	assert.Equal(t, 3, s.DocSize())
	got, ok := s.Find("t")
	require.True(t, ok)
	assert.Equal(t, Range{From: 1, To: 3}, got.Range())
}

func TestApplyMappingMatchesSequentialEdits(t *testing.T) {
	edits := []Edit{Insert(5, 3), Delete(2, 4), Replace(8, 2, 7), Insert(1, 1)}
	seed := []Anchor{{ID: "x", From: 4, To: 9}, {ID: "y", From: 9, To: 30}, {ID: "z", From: 6, To: 6}}

	stepwise := NewState(40)
	stepwise.SetThreads(seed)
	for _, e := range edits {
		stepwise.ApplyEdit(e)
	}

	batched := NewState(40)
	batched.SetThreads(seed)
	batched.ApplyMapping(Compose(edits...))

	assert.Equal(t, stepwise.Threads(), batched.Threads())
	assert.Equal(t, stepwise.DocSize(), batched.DocSize())
}

func TestVersionTracksPositionChangesOnly(t *testing.T) {
	s := NewState(20)
	assert.Equal(t, uint64(0), s.Version())

	s.SetThreads([]Anchor{{ID: "a", From: 2, To: 5}})
	v := s.Version()
	assert.Equal(t, uint64(1), v)

	s.Hover("a")
	s.Select("a")
	s.SetStatus("a", StatusResolved)
	assert.Equal(t, v, s.Version())

	s.ApplyMapping(Compose())
	assert.Equal(t, v, s.Version())

	s.ApplyEdit(Insert(1, 1))
	assert.Greater(t, s.Version(), v)
}

func TestRemoveClearsHoverAndSelection(t *testing.T) {
	s := NewState(20)
	s.SetThreads([]Anchor{{ID: "a", From: 2, To: 5}, {ID: "b", From: 6, To: 9}})
	s.Hover("a")
	s.Select("a")

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	assert.Empty(t, s.Hovered())
	assert.Empty(t, s.Selected())
	assert.Len(t, s.Threads(), 1)
}

func TestUpsertReplacesExisting(t *testing.T) {
	s := NewState(20)
	s.Upsert(Anchor{ID: "a", From: 2, To: 5})
	s.Upsert(Anchor{ID: "a", From: 3, To: 40})

	threads := s.Threads()
	require.Len(t, threads, 1)
	assert.Equal(t, Range{From: 3, To: 20}, threads[0].Range())
}

func TestSetDocSizeReclamps(t *testing.T) {
	s := NewState(20)
	s.SetThreads([]Anchor{{ID: "a", From: 8, To: 15}})
	s.SetDocSize(10)

	got, ok := s.Find("a")
	require.True(t, ok)
	assert.Equal(t, Range{From: 8, To: 10}, got.Range())
}

func TestSnapshotIsDetached(t *testing.T) {
	s := NewState(20)
	s.SetThreads([]Anchor{{ID: "a", From: 2, To: 5}})

	snap := s.Snapshot()
	snap.Anchors[0].From = 9

	got, _ := s.Find("a")
	assert.Equal(t, 2, got.From)
	assert.Equal(t, s.Version(), snap.Version)
	assert.Equal(t, 20, snap.DocSize)
}
