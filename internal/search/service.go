package search

import (
	"context"

	"go.uber.org/zap"
)

// Backend is a search engine that can also be written to.
type Backend interface {
	Searcher
	Indexer
}

// Reloader can list every comment for a full reindex.
type Reloader interface {
	LoadAllRecords(ctx context.Context) ([]CommentRecord, error)
}

type bulkIndexer interface {
	IndexComments(comments []CommentRecord) error
}

// Service is the facade that tries the primary backend first and falls back
// to Postgres FTS.
type Service struct {
	primary  Backend
	fallback Searcher
	logger   *zap.Logger
	async    bool
}

// NewService creates a search service. primary may be nil when Meilisearch is
// not configured.
func NewService(primary Backend, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{primary: primary, fallback: fallback, logger: logger, async: true}
}

// Search tries the primary backend if healthy, otherwise the fallback.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("primary search failed, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexComment indexes a comment (fire-and-forget).
func (s *Service) IndexComment(c CommentRecord) {
	s.dispatch(func(b Backend) error { return b.IndexComment(c) }, zap.String("comment_id", c.ID))
}

// DeleteComment removes a comment from the index (fire-and-forget).
func (s *Service) DeleteComment(id string) {
	s.dispatch(func(b Backend) error { return b.DeleteComment(id) }, zap.String("comment_id", id))
}

// DeleteComments removes the comments of a deleted thread (fire-and-forget).
func (s *Service) DeleteComments(ids []string) {
	if len(ids) == 0 {
		return
	}
	s.dispatch(func(b Backend) error { return b.DeleteComments(ids) }, zap.Int("count", len(ids)))
}

func (s *Service) dispatch(op func(Backend) error, field zap.Field) {
	if s == nil || s.primary == nil || !s.primary.Healthy() {
		return
	}
	run := func() {
		if err := op(s.primary); err != nil {
			s.logger.Warn("search index update failed", field, zap.Error(err))
		}
	}
	if s.async {
		go run()
		return
	}
	run()
}

// ReindexAll pushes every comment known to reloader into the primary backend.
func (s *Service) ReindexAll(ctx context.Context, reloader Reloader) {
	if s.primary == nil || !s.primary.Healthy() || reloader == nil {
		return
	}
	comments, err := reloader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", zap.Error(err))
		return
	}
	if bulk, ok := s.primary.(bulkIndexer); ok {
		if err := bulk.IndexComments(comments); err != nil {
			s.logger.Warn("reindex failed", zap.Error(err))
			return
		}
		s.logger.Info("search reindex complete", zap.Int("comments", len(comments)))
		return
	}
	for _, c := range comments {
		if err := s.primary.IndexComment(c); err != nil {
			s.logger.Warn("reindex comment failed", zap.String("comment_id", c.ID), zap.Error(err))
			return
		}
	}
	s.logger.Info("search reindex complete", zap.Int("comments", len(comments)))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
