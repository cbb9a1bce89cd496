package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/anchor"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/events"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/logging"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/metrics"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/rbac"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/richtext"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/search"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/store"
	"github.com/JoeBuildsStuff/cookbook-app-sub001/internal/util"
	"go.uber.org/zap"
)

const (
	MaxContentLength  = 10000
	MaxAnchorsPerSync = 500
)

type CommentView struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ThreadView struct {
	ID           string        `json:"id"`
	DocumentID   string        `json:"documentId"`
	CreatedBy    string        `json:"createdBy"`
	Status       string        `json:"status"`
	AnchorFrom   int           `json:"anchorFrom"`
	AnchorTo     int           `json:"anchorTo"`
	AnchorExact  *string       `json:"anchorExact"`
	AnchorPrefix *string       `json:"anchorPrefix"`
	AnchorSuffix *string       `json:"anchorSuffix"`
	ResolvedAt   *time.Time    `json:"resolvedAt"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Comments     []CommentView `json:"comments"`
}

type CreateThreadInput struct {
	DocumentID   string  `json:"-"`
	CallerID     string  `json:"-"`
	AnchorFrom   int     `json:"anchorFrom"`
	AnchorTo     int     `json:"anchorTo"`
	AnchorExact  *string `json:"anchorExact"`
	AnchorPrefix *string `json:"anchorPrefix"`
	AnchorSuffix *string `json:"anchorSuffix"`
	Content      string  `json:"content"`
}

type UpdateThreadInput struct {
	Resolved *bool `json:"resolved"`
}

type CreateCommentInput struct {
	DocumentID string `json:"-"`
	ThreadID   string `json:"-"`
	CallerID   string `json:"-"`
	Content    string `json:"content"`
}

type UpdateCommentInput struct {
	DocumentID string `json:"-"`
	ThreadID   string `json:"-"`
	CommentID  string `json:"-"`
	CallerID   string `json:"-"`
	Content    string `json:"content"`
}

type DeleteCommentInput struct {
	DocumentID string
	ThreadID   string
	CommentID  string
	CallerID   string
}

// AnchorInput is one remapped range reported by a client.
type AnchorInput struct {
	ID           string  `json:"id"`
	AnchorFrom   int     `json:"anchorFrom"`
	AnchorTo     int     `json:"anchorTo"`
	AnchorExact  *string `json:"anchorExact,omitempty"`
	AnchorPrefix *string `json:"anchorPrefix,omitempty"`
	AnchorSuffix *string `json:"anchorSuffix,omitempty"`
}

type UpdateAnchorsInput struct {
	DocumentID string        `json:"-"`
	CallerID   string        `json:"-"`
	Anchors    []AnchorInput `json:"anchors"`
}

type AnchorSyncResult struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

type SearchInput struct {
	DocumentID string
	CallerID   string
	Text       string
	Limit      int
	Offset     int
}

type dataStore interface {
	GetDocument(context.Context, string) (store.Document, error)
	SetDocumentSize(context.Context, string, int) error
	GetCollaboratorRole(context.Context, string, string) (string, bool, error)
	ListThreads(context.Context, string) ([]store.Thread, error)
	GetThread(context.Context, string, string) (store.Thread, error)
	InsertThreadWithComment(context.Context, store.Thread, store.Comment) error
	SetThreadResolved(context.Context, string, string, bool) error
	DeleteThread(context.Context, string, string) ([]string, error)
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string, string) (store.Comment, error)
	UpdateCommentContent(context.Context, string, string, string, string) (store.Comment, error)
	DeleteComment(context.Context, string, string) error
	UpdateThreadAnchors(context.Context, string, string, []store.AnchorUpdate) (int, error)
	Ping(context.Context) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexComment(search.CommentRecord)
	DeleteComment(string)
	DeleteComments([]string)
}

type Service struct {
	store   dataStore
	search  searchIndex
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(dataStore *store.PostgresStore, searchService *search.Service, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *Service {
	var index searchIndex
	if searchService != nil {
		index = searchService
	}
	return newService(dataStore, index, publisher, m, logger)
}

func newService(dataStore dataStore, index searchIndex, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NewNoop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   dataStore,
		search:  index,
		events:  publisher,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// authorize loads the document and checks the caller's role on it. Callers
// without any access get NotFound so document existence is not leaked.
func (s *Service) authorize(ctx context.Context, documentID, callerID string, action rbac.Action) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, errNotFound("document")
		}
		return store.Document{}, err
	}

	collaboratorRole, isCollaborator := "", false
	if doc.OwnerID != callerID {
		collaboratorRole, isCollaborator, err = s.store.GetCollaboratorRole(ctx, documentID, callerID)
		if err != nil {
			return store.Document{}, err
		}
	}
	role := rbac.Resolve(doc.OwnerID, callerID, collaboratorRole, isCollaborator)
	if role == rbac.RoleNone {
		return store.Document{}, errNotFound("document")
	}
	if !rbac.Can(role, action) {
		return store.Document{}, errForbidden(fmt.Sprintf("role %s cannot %s", role, action))
	}
	return doc, nil
}

func (s *Service) loadThread(ctx context.Context, documentID, threadID string) (store.Thread, error) {
	thread, err := s.store.GetThread(ctx, documentID, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Thread{}, errNotFound("thread")
		}
		return store.Thread{}, err
	}
	return thread, nil
}

// validateContent trims content and returns it with its plain-text
// projection.
func validateContent(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	plain := richtext.ToPlainText(trimmed)
	if plain == "" {
		return "", "", errEmptyContent()
	}
	if n := richtext.Length(trimmed); n > MaxContentLength {
		return "", "", errContentTooLong(n)
	}
	return trimmed, plain, nil
}

func (s *Service) ListThreads(ctx context.Context, documentID, callerID string) ([]ThreadView, error) {
	if _, err := s.authorize(ctx, documentID, callerID, rbac.ActionRead); err != nil {
		return nil, err
	}
	threads, err := s.store.ListThreads(ctx, documentID)
	if err != nil {
		return nil, err
	}
	views := make([]ThreadView, 0, len(threads))
	for _, thread := range threads {
		views = append(views, threadView(thread))
	}
	return views, nil
}

func (s *Service) GetThread(ctx context.Context, documentID, threadID, callerID string) (ThreadView, error) {
	if _, err := s.authorize(ctx, documentID, callerID, rbac.ActionRead); err != nil {
		return ThreadView{}, err
	}
	thread, err := s.loadThread(ctx, documentID, threadID)
	if err != nil {
		return ThreadView{}, err
	}
	return threadView(thread), nil
}

func (s *Service) CreateThread(ctx context.Context, input CreateThreadInput) (ThreadView, error) {
	if _, err := s.authorize(ctx, input.DocumentID, input.CallerID, rbac.ActionComment); err != nil {
		return ThreadView{}, err
	}
	if input.AnchorFrom < anchor.MinPos || input.AnchorTo <= input.AnchorFrom {
		return ThreadView{}, errInvalidRange(input.AnchorFrom, input.AnchorTo)
	}
	content, plain, err := validateContent(input.Content)
	if err != nil {
		return ThreadView{}, err
	}

	now := s.now()
	thread := store.Thread{
		ID:           util.NewID("thr"),
		DocumentID:   input.DocumentID,
		CreatedBy:    input.CallerID,
		Status:       store.ThreadStatusUnresolved,
		AnchorFrom:   input.AnchorFrom,
		AnchorTo:     input.AnchorTo,
		AnchorExact:  input.AnchorExact,
		AnchorPrefix: input.AnchorPrefix,
		AnchorSuffix: input.AnchorSuffix,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	seed := store.Comment{
		ID:          util.NewID("cmt"),
		ThreadID:    thread.ID,
		UserID:      input.CallerID,
		Content:     content,
		ContentText: plain,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertThreadWithComment(ctx, thread, seed); err != nil {
		return ThreadView{}, err
	}
	thread.Comments = []store.Comment{seed}

	s.index(seed, input.DocumentID)
	s.publish(ctx, events.Event{Type: events.TypeThreadCreated, DocumentID: input.DocumentID, ThreadID: thread.ID, CommentID: seed.ID, ActorID: input.CallerID})
	return threadView(thread), nil
}

func (s *Service) UpdateThread(ctx context.Context, documentID, threadID, callerID string, input UpdateThreadInput) (ThreadView, error) {
	if _, err := s.authorize(ctx, documentID, callerID, rbac.ActionComment); err != nil {
		return ThreadView{}, err
	}
	thread, err := s.loadThread(ctx, documentID, threadID)
	if err != nil {
		return ThreadView{}, err
	}
	if input.Resolved == nil {
		return threadView(thread), nil
	}

	if err := s.store.SetThreadResolved(ctx, documentID, threadID, *input.Resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ThreadView{}, errNotFound("thread")
		}
		return ThreadView{}, err
	}
	thread, err = s.loadThread(ctx, documentID, threadID)
	if err != nil {
		return ThreadView{}, err
	}

	eventType := events.TypeThreadReopened
	if *input.Resolved {
		eventType = events.TypeThreadResolved
	}
	s.publish(ctx, events.Event{Type: eventType, DocumentID: documentID, ThreadID: threadID, ActorID: callerID})
	return threadView(thread), nil
}

func (s *Service) DeleteThread(ctx context.Context, documentID, threadID, callerID string) error {
	if _, err := s.authorize(ctx, documentID, callerID, rbac.ActionComment); err != nil {
		return err
	}
	commentIDs, err := s.store.DeleteThread(ctx, documentID, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("thread")
		}
		return err
	}
	if s.search != nil && len(commentIDs) > 0 {
		s.search.DeleteComments(commentIDs)
	}
	s.publish(ctx, events.Event{Type: events.TypeThreadDeleted, DocumentID: documentID, ThreadID: threadID, ActorID: callerID, Count: len(commentIDs)})
	return nil
}

func (s *Service) CreateComment(ctx context.Context, input CreateCommentInput) (CommentView, error) {
	if _, err := s.authorize(ctx, input.DocumentID, input.CallerID, rbac.ActionComment); err != nil {
		return CommentView{}, err
	}
	if _, err := s.loadThread(ctx, input.DocumentID, input.ThreadID); err != nil {
		return CommentView{}, err
	}
	content, plain, err := validateContent(input.Content)
	if err != nil {
		return CommentView{}, err
	}

	now := s.now()
	comment := store.Comment{
		ID:          util.NewID("cmt"),
		ThreadID:    input.ThreadID,
		UserID:      input.CallerID,
		Content:     content,
		ContentText: plain,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return CommentView{}, err
	}

	s.index(comment, input.DocumentID)
	s.publish(ctx, events.Event{Type: events.TypeCommentCreated, DocumentID: input.DocumentID, ThreadID: input.ThreadID, CommentID: comment.ID, ActorID: input.CallerID})
	return commentView(comment), nil
}

// loadOwnComment resolves a comment on a thread of the document and checks
// that callerID wrote it.
func (s *Service) loadOwnComment(ctx context.Context, documentID, threadID, commentID, callerID string) (store.Comment, error) {
	if _, err := s.loadThread(ctx, documentID, threadID); err != nil {
		return store.Comment{}, err
	}
	comment, err := s.store.GetComment(ctx, threadID, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, errNotFound("comment")
		}
		return store.Comment{}, err
	}
	if comment.UserID != callerID {
		return store.Comment{}, errForbidden("only the author can change this comment")
	}
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, input UpdateCommentInput) (CommentView, error) {
	if _, err := s.authorize(ctx, input.DocumentID, input.CallerID, rbac.ActionComment); err != nil {
		return CommentView{}, err
	}
	if _, err := s.loadOwnComment(ctx, input.DocumentID, input.ThreadID, input.CommentID, input.CallerID); err != nil {
		return CommentView{}, err
	}
	content, plain, err := validateContent(input.Content)
	if err != nil {
		return CommentView{}, err
	}

	comment, err := s.store.UpdateCommentContent(ctx, input.ThreadID, input.CommentID, content, plain)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CommentView{}, errNotFound("comment")
		}
		return CommentView{}, err
	}

	s.index(comment, input.DocumentID)
	s.publish(ctx, events.Event{Type: events.TypeCommentUpdated, DocumentID: input.DocumentID, ThreadID: input.ThreadID, CommentID: comment.ID, ActorID: input.CallerID})
	return commentView(comment), nil
}

// DeleteComment removes one comment. The thread stays even when it has no
// comments left.
func (s *Service) DeleteComment(ctx context.Context, input DeleteCommentInput) error {
	if _, err := s.authorize(ctx, input.DocumentID, input.CallerID, rbac.ActionComment); err != nil {
		return err
	}
	if _, err := s.loadOwnComment(ctx, input.DocumentID, input.ThreadID, input.CommentID, input.CallerID); err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, input.ThreadID, input.CommentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("comment")
		}
		return err
	}

	if s.search != nil {
		s.search.DeleteComment(input.CommentID)
	}
	s.publish(ctx, events.Event{Type: events.TypeCommentDeleted, DocumentID: input.DocumentID, ThreadID: input.ThreadID, CommentID: input.CommentID, ActorID: input.CallerID})
	return nil
}

// UpdateThreadAnchors stores a batch of client-remapped ranges. Only threads
// the caller created are written; the rest are counted as skipped. Positions
// are clamped to the stored document size when one is known.
func (s *Service) UpdateThreadAnchors(ctx context.Context, input UpdateAnchorsInput) (AnchorSyncResult, error) {
	doc, err := s.authorize(ctx, input.DocumentID, input.CallerID, rbac.ActionComment)
	if err != nil {
		return AnchorSyncResult{}, err
	}
	if len(input.Anchors) > MaxAnchorsPerSync {
		return AnchorSyncResult{}, errTooManyAnchors(len(input.Anchors))
	}

	position := make(map[string]int, len(input.Anchors))
	updates := make([]store.AnchorUpdate, 0, len(input.Anchors))
	for i, item := range input.Anchors {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return AnchorSyncResult{}, errInvalidAnchor(i)
		}
		r := clampAnchor(anchor.Range{From: item.AnchorFrom, To: item.AnchorTo}, doc.Size)
		update := store.AnchorUpdate{
			ThreadID: id,
			From:     r.From,
			To:       r.To,
			Exact:    item.AnchorExact,
			Prefix:   item.AnchorPrefix,
			Suffix:   item.AnchorSuffix,
		}
		// last entry for an id wins
		if idx, ok := position[id]; ok {
			updates[idx] = update
			continue
		}
		position[id] = len(updates)
		updates = append(updates, update)
	}

	updated, err := s.store.UpdateThreadAnchors(ctx, input.DocumentID, input.CallerID, updates)
	if err != nil {
		return AnchorSyncResult{}, err
	}
	result := AnchorSyncResult{Updated: updated, Skipped: len(updates) - updated}

	if s.metrics != nil {
		s.metrics.AnchorsSynced.WithLabelValues("updated").Add(float64(result.Updated))
		s.metrics.AnchorsSynced.WithLabelValues("skipped").Add(float64(result.Skipped))
	}
	if result.Skipped > 0 {
		logging.FromContext(ctx, s.logger).Debug("anchor sync skipped threads",
			zap.String("document_id", input.DocumentID),
			zap.Int("skipped", result.Skipped),
		)
	}
	if result.Updated > 0 {
		s.publish(ctx, events.Event{Type: events.TypeAnchorsSynced, DocumentID: input.DocumentID, ActorID: input.CallerID, Count: result.Updated})
	}
	return result, nil
}

// clampAnchor applies anchor.Clamp when the document size is known. A size of
// zero means the host has not reported one yet, so only the lower bounds hold.
func clampAnchor(r anchor.Range, docSize int) anchor.Range {
	if docSize > 0 {
		return anchor.Clamp(r, docSize)
	}
	if r.From < anchor.MinPos {
		r.From = anchor.MinPos
	}
	if r.To < r.From {
		r.To = r.From
	}
	return r
}

// SetDocumentSize records the document's current content length so anchor
// syncs can be clamped against it.
func (s *Service) SetDocumentSize(ctx context.Context, documentID, callerID string, size int) error {
	if _, err := s.authorize(ctx, documentID, callerID, rbac.ActionWrite); err != nil {
		return err
	}
	if size < 0 {
		return errInvalidSize(size)
	}
	if err := s.store.SetDocumentSize(ctx, documentID, size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("document")
		}
		return err
	}
	return nil
}

func (s *Service) SearchComments(ctx context.Context, input SearchInput) (search.Response, error) {
	if _, err := s.authorize(ctx, input.DocumentID, input.CallerID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	text := strings.TrimSpace(input.Text)
	if text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:       text,
		DocumentID: input.DocumentID,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}), nil
}

func (s *Service) index(comment store.Comment, documentID string) {
	if s.search == nil {
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:         comment.ID,
		ThreadID:   comment.ThreadID,
		DocumentID: documentID,
		UserID:     comment.UserID,
		Content:    comment.ContentText,
	})
}

// publish hands an event to the broker. Failures are logged and counted but
// never fail the request.
func (s *Service) publish(ctx context.Context, event events.Event) {
	result := "ok"
	if err := s.events.Publish(ctx, event, logging.RequestID(ctx)); err != nil {
		result = "error"
		logging.FromContext(ctx, s.logger).Warn("publish event failed",
			zap.String("type", event.Type),
			zap.String("document_id", event.DocumentID),
			zap.Error(err),
		)
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(event.Type, result).Inc()
	}
}

func threadView(thread store.Thread) ThreadView {
	comments := make([]CommentView, 0, len(thread.Comments))
	for _, comment := range thread.Comments {
		comments = append(comments, commentView(comment))
	}
	return ThreadView{
		ID:           thread.ID,
		DocumentID:   thread.DocumentID,
		CreatedBy:    thread.CreatedBy,
		Status:       thread.Status,
		AnchorFrom:   thread.AnchorFrom,
		AnchorTo:     thread.AnchorTo,
		AnchorExact:  thread.AnchorExact,
		AnchorPrefix: thread.AnchorPrefix,
		AnchorSuffix: thread.AnchorSuffix,
		ResolvedAt:   thread.ResolvedAt,
		CreatedAt:    thread.CreatedAt,
		UpdatedAt:    thread.UpdatedAt,
		Comments:     comments,
	}
}

func commentView(comment store.Comment) CommentView {
	return CommentView{
		ID:        comment.ID,
		ThreadID:  comment.ThreadID,
		UserID:    comment.UserID,
		Content:   comment.Content,
		CreatedAt: comment.CreatedAt,
		UpdatedAt: comment.UpdatedAt,
	}
}
