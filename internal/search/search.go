package search

// Result is a single comment hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	ThreadID   string `json:"threadId"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Snippet    string `json:"snippet"`
}

// Query describes a search request. Searches are always scoped to one
// document.
type Query struct {
	Text       string
	DocumentID string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push comments into a search index.
type Indexer interface {
	IndexComment(c CommentRecord) error
	DeleteComment(id string) error
	DeleteComments(ids []string) error
}

// CommentRecord is the data we index for a comment. Content is the plain-text
// projection of the stored markup.
type CommentRecord struct {
	ID         string `json:"id"`
	ThreadID   string `json:"threadId"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Content    string `json:"content"`
}

const defaultLimit = 20
const maxLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
