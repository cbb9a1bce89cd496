package anchorsync

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/anchor"
)

type fakeClient struct {
	calls [][]Update
	err   error
}

func (f *fakeClient) Sync(_ context.Context, _ string, updates []Update) (Result, error) {
	f.calls = append(f.calls, updates)
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Updated: len(updates)}, nil
}

// runeText treats position p as the rune at index p-1.
type runeText []rune

func (r runeText) TextBetween(from, to int) string {
	from, to = max(from-1, 0), min(to-1, len(r))
	if to <= from {
		return ""
	}
	return string(r[from:to])
}

func newLoadedState() *anchor.State {
	state := anchor.NewState(50)
	state.SetThreads([]anchor.Anchor{
		{ID: "a", From: 5, To: 12},
		{ID: "b", From: 20, To: 30},
	})
	return state
}

func TestFlushOnlySendsChangedState(t *testing.T) {
	state := newLoadedState()
	client := &fakeClient{}
	syncer := NewSyncer(state, client, "doc_1")
	ctx := context.Background()

	_, sent, err := syncer.Flush(ctx)
	require.NoError(t, err)
	assert.False(t, sent, "freshly loaded anchors are already on the server")

	state.Hover("a")
	_, sent, err = syncer.Flush(ctx)
	require.NoError(t, err)
	assert.False(t, sent)

	state.ApplyEdit(anchor.Insert(10, 3))
	assert.True(t, syncer.Pending())
	result, sent, err := syncer.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, Result{Updated: 2}, result)
	require.Len(t, client.calls, 1)
	assert.Equal(t, []Update{
		{ID: "a", AnchorFrom: 5, AnchorTo: 15},
		{ID: "b", AnchorFrom: 23, AnchorTo: 33},
	}, client.calls[0])
	assert.False(t, syncer.Pending())

	_, sent, err = syncer.Flush(ctx)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestMaybeFlushIsThrottled(t *testing.T) {
	state := newLoadedState()
	client := &fakeClient{}
	syncer := NewSyncer(state, client, "doc_1", WithRate(rate.Every(time.Hour), 1))
	ctx := context.Background()

	state.ApplyEdit(anchor.Delete(1, 2))
	_, sent, err := syncer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.True(t, sent)

	state.ApplyEdit(anchor.Delete(1, 2))
	_, sent, err = syncer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.False(t, sent, "second opportunistic flush is throttled")
	assert.True(t, syncer.Pending())

	_, sent, err = syncer.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, sent, "explicit flush ignores the throttle")
	assert.Len(t, client.calls, 2)
}

func TestMaybeFlushBacksOffAfterRateLimit(t *testing.T) {
	state := newLoadedState()
	client := &fakeClient{err: &APIError{Status: http.StatusTooManyRequests, RetryAfter: time.Minute}}
	syncer := NewSyncer(state, client, "doc_1", WithRate(rate.Inf, 1))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	syncer.now = func() time.Time { return now }
	ctx := context.Background()

	state.ApplyEdit(anchor.Insert(1, 1))
	_, sent, err := syncer.MaybeFlush(ctx)
	require.Error(t, err)
	assert.True(t, sent)
	assert.True(t, syncer.Pending())

	client.err = nil
	_, sent, err = syncer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.False(t, sent, "still inside Retry-After")

	now = now.Add(2 * time.Minute)
	_, sent, err = syncer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.False(t, syncer.Pending())
}

func TestFlushCarriesFingerprint(t *testing.T) {
	text := runeText(strings.Repeat("a", 40) + "TARGET" + strings.Repeat("b", 40))
	state := anchor.NewState(len(text) + 1)
	state.SetThreads([]anchor.Anchor{{ID: "t", From: 41, To: 47}})
	client := &fakeClient{}
	syncer := NewSyncer(state, client, "doc_1", WithTextSource(text))

	state.Upsert(anchor.Anchor{ID: "t", From: 41, To: 47})
	_, sent, err := syncer.Flush(context.Background())
	require.NoError(t, err)
	require.True(t, sent)

	update := client.calls[0][0]
	require.NotNil(t, update.AnchorExact)
	assert.Equal(t, "TARGET", *update.AnchorExact)
	assert.Equal(t, strings.Repeat("a", FingerprintContext), *update.AnchorPrefix)
	assert.Equal(t, strings.Repeat("b", FingerprintContext), *update.AnchorSuffix)
}

func TestFingerprintStopsAtDocumentEdges(t *testing.T) {
	text := runeText("hello world")
	size := len(text) + 1

	exact, prefix, suffix := Fingerprint(text, anchor.Range{From: 1, To: 6}, size)
	assert.Equal(t, "hello", exact)
	assert.Empty(t, prefix)
	assert.Equal(t, " world", suffix)

	exact, prefix, suffix = Fingerprint(text, anchor.Range{From: 7, To: 12}, size)
	assert.Equal(t, "world", exact)
	assert.Equal(t, "hello ", prefix)
	assert.Empty(t, suffix)
}
