package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/events"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/search"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/store"
)

// fakeStore keeps documents, threads and comments in memory. The Fn hooks
// override individual methods.
type fakeStore struct {
	mu            sync.Mutex
	documents     map[string]store.Document
	collaborators map[string]map[string]string
	threads       map[string]store.Thread
	comments      map[string]store.Comment
	clock         time.Time

	pingFn                func(context.Context) error
	getDocumentFn         func(context.Context, string) (store.Document, error)
	insertThreadFn        func(context.Context, store.Thread, store.Comment) error
	updateThreadAnchorsFn func(context.Context, string, string, []store.AnchorUpdate) (int, error)

	anchorBatches [][]store.AnchorUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		documents:     make(map[string]store.Document),
		collaborators: make(map[string]map[string]string),
		threads:       make(map[string]store.Thread),
		comments:      make(map[string]store.Comment),
		clock:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) addDocument(id, ownerID string, size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[id] = store.Document{ID: id, OwnerID: ownerID, Size: size}
}

func (f *fakeStore) addCollaborator(documentID, userID, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collaborators[documentID] == nil {
		f.collaborators[documentID] = make(map[string]string)
	}
	f.collaborators[documentID][userID] = role
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func (f *fakeStore) SetDocumentSize(_ context.Context, documentID string, size int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	doc.Size = size
	f.documents[documentID] = doc
	return nil
}

func (f *fakeStore) GetCollaboratorRole(_ context.Context, documentID, userID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.collaborators[documentID][userID]
	return role, ok, nil
}

func (f *fakeStore) ListThreads(_ context.Context, documentID string) ([]store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Thread, 0)
	for _, thread := range f.threads {
		if thread.DocumentID == documentID {
			items = append(items, f.withCommentsLocked(thread))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (f *fakeStore) withCommentsLocked(thread store.Thread) store.Thread {
	thread.Comments = make([]store.Comment, 0)
	for _, comment := range f.comments {
		if comment.ThreadID == thread.ID {
			thread.Comments = append(thread.Comments, comment)
		}
	}
	sort.Slice(thread.Comments, func(i, j int) bool {
		if !thread.Comments[i].CreatedAt.Equal(thread.Comments[j].CreatedAt) {
			return thread.Comments[i].CreatedAt.Before(thread.Comments[j].CreatedAt)
		}
		return thread.Comments[i].ID < thread.Comments[j].ID
	})
	return thread
}

func (f *fakeStore) GetThread(_ context.Context, documentID, threadID string) (store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok || thread.DocumentID != documentID {
		return store.Thread{}, sql.ErrNoRows
	}
	return f.withCommentsLocked(thread), nil
}

func (f *fakeStore) InsertThreadWithComment(ctx context.Context, thread store.Thread, comment store.Comment) error {
	if f.insertThreadFn != nil {
		return f.insertThreadFn(ctx, thread, comment)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	thread.Comments = nil
	f.threads[thread.ID] = thread
	comment.ThreadID = thread.ID
	f.comments[comment.ID] = comment
	return nil
}

func (f *fakeStore) SetThreadResolved(_ context.Context, documentID, threadID string, resolved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok || thread.DocumentID != documentID {
		return sql.ErrNoRows
	}
	now := f.tick()
	if resolved {
		thread.Status = store.ThreadStatusResolved
		thread.ResolvedAt = &now
	} else {
		thread.Status = store.ThreadStatusUnresolved
		thread.ResolvedAt = nil
	}
	thread.UpdatedAt = now
	f.threads[threadID] = thread
	return nil
}

func (f *fakeStore) DeleteThread(_ context.Context, documentID, threadID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	thread, ok := f.threads[threadID]
	if !ok || thread.DocumentID != documentID {
		return nil, sql.ErrNoRows
	}
	delete(f.threads, threadID)
	ids := make([]string, 0)
	for id, comment := range f.comments {
		if comment.ThreadID == threadID {
			ids = append(ids, id)
			delete(f.comments, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) InsertComment(_ context.Context, comment store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[comment.ID] = comment
	return nil
}

func (f *fakeStore) GetComment(_ context.Context, threadID, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok || comment.ThreadID != threadID {
		return store.Comment{}, sql.ErrNoRows
	}
	return comment, nil
}

func (f *fakeStore) UpdateCommentContent(_ context.Context, threadID, commentID, content, contentText string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok || comment.ThreadID != threadID {
		return store.Comment{}, sql.ErrNoRows
	}
	comment.Content = content
	comment.ContentText = contentText
	comment.UpdatedAt = f.tick()
	f.comments[commentID] = comment
	return comment, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, threadID, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok || comment.ThreadID != threadID {
		return sql.ErrNoRows
	}
	delete(f.comments, commentID)
	return nil
}

func (f *fakeStore) UpdateThreadAnchors(ctx context.Context, documentID, ownerID string, updates []store.AnchorUpdate) (int, error) {
	if f.updateThreadAnchorsFn != nil {
		return f.updateThreadAnchorsFn(ctx, documentID, ownerID, updates)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchorBatches = append(f.anchorBatches, updates)
	updated := 0
	for _, update := range updates {
		thread, ok := f.threads[update.ThreadID]
		if !ok || thread.DocumentID != documentID || thread.CreatedBy != ownerID {
			continue
		}
		thread.AnchorFrom = update.From
		thread.AnchorTo = update.To
		if update.Exact != nil {
			thread.AnchorExact = update.Exact
		}
		if update.Prefix != nil {
			thread.AnchorPrefix = update.Prefix
		}
		if update.Suffix != nil {
			thread.AnchorSuffix = update.Suffix
		}
		f.threads[update.ThreadID] = thread
		updated++
	}
	return updated, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeIndex struct {
	mu       sync.Mutex
	indexed  map[string]search.CommentRecord
	deleted  []string
	queries  []search.Query
	response search.Response
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{indexed: make(map[string]search.CommentRecord)}
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.response
}

func (f *fakeIndex) IndexComment(c search.CommentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[c.ID] = c
}

func (f *fakeIndex) DeleteComment(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, id)
	f.deleted = append(f.deleted, id)
}

func (f *fakeIndex) DeleteComments(ids []string) {
	for _, id := range ids {
		f.DeleteComment(id)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type testEnv struct {
	store     *fakeStore
	index     *fakeIndex
	publisher *recordingPublisher
	service   *Service
}

func newTestService() *testEnv {
	fs := newFakeStore()
	fs.addDocument("doc_1", "owner", 50)
	idx := newFakeIndex()
	pub := &recordingPublisher{}
	svc := newService(fs, idx, pub, nil, nil)
	return &testEnv{store: fs, index: idx, publisher: pub, service: svc}
}
