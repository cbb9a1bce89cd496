package anchorsync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/anchor"
)

// FingerprintContext is how many position units of context are captured on
// each side of an anchor.
const FingerprintContext = 32

// TextSource gives access to the live document text between two positions.
type TextSource interface {
	TextBetween(from, to int) string
}

type syncClient interface {
	Sync(ctx context.Context, documentID string, updates []Update) (Result, error)
}

type Option func(*Syncer)

// WithTextSource makes every update carry its textual fingerprint.
func WithTextSource(source TextSource) Option {
	return func(s *Syncer) { s.text = source }
}

// WithRate sets the throttle used by MaybeFlush.
func WithRate(limit rate.Limit, burst int) Option {
	return func(s *Syncer) { s.limiter = rate.NewLimiter(limit, burst) }
}

// Syncer binds one anchor state to a document and pushes its positions when
// they change. The state version at construction counts as already synced.
type Syncer struct {
	mu         sync.Mutex
	state      *anchor.State
	client     syncClient
	documentID string
	text       TextSource
	limiter    *rate.Limiter
	synced     uint64
	retryAt    time.Time
	now        func() time.Time
}

func NewSyncer(state *anchor.State, client syncClient, documentID string, opts ...Option) *Syncer {
	s := &Syncer{
		state:      state,
		client:     client,
		documentID: documentID,
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
		synced:     state.Version(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pending reports whether the state moved since the last successful sync.
func (s *Syncer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Version() != s.synced
}

// Flush sends the current snapshot if it changed since the last successful
// sync. The boolean reports whether a request was made.
func (s *Syncer) Flush(ctx context.Context) (Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// MaybeFlush is Flush behind the rate limiter and any server-requested
// backoff. It never blocks waiting for a token.
func (s *Syncer) MaybeFlush(ctx context.Context) (Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Version() == s.synced {
		return Result{}, false, nil
	}
	now := s.now()
	if now.Before(s.retryAt) || !s.limiter.AllowN(now, 1) {
		return Result{}, false, nil
	}
	return s.flushLocked(ctx)
}

func (s *Syncer) flushLocked(ctx context.Context) (Result, bool, error) {
	snap := s.state.Snapshot()
	if snap.Version == s.synced {
		return Result{}, false, nil
	}

	updates := make([]Update, 0, len(snap.Anchors))
	for _, a := range snap.Anchors {
		updates = append(updates, s.update(a, snap.DocSize))
	}

	result, err := s.client.Sync(ctx, s.documentID, updates)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
			backoff := apiErr.RetryAfter
			if backoff <= 0 {
				backoff = 5 * time.Second
			}
			s.retryAt = s.now().Add(backoff)
		}
		return result, true, err
	}
	s.synced = snap.Version
	return result, true, nil
}

func (s *Syncer) update(a anchor.Anchor, docSize int) Update {
	u := Update{ID: a.ID, AnchorFrom: a.From, AnchorTo: a.To}
	if s.text == nil {
		return u
	}
	exact, prefix, suffix := Fingerprint(s.text, a.Range(), docSize)
	u.AnchorExact = &exact
	u.AnchorPrefix = &prefix
	u.AnchorSuffix = &suffix
	return u
}

// Fingerprint captures the anchored text and up to FingerprintContext units
// of context on either side, bounded by the document.
func Fingerprint(source TextSource, r anchor.Range, docSize int) (exact, prefix, suffix string) {
	end := max(docSize, anchor.MinPos)
	prefixFrom := max(r.From-FingerprintContext, anchor.MinPos)
	suffixTo := min(r.To+FingerprintContext, end)
	if suffixTo < r.To {
		suffixTo = r.To
	}
	return source.TextBetween(r.From, r.To),
		source.TextBetween(prefixFrom, r.From),
		source.TextBetween(r.To, suffixTo)
}
