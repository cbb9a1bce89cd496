package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// comments.fts generated column.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole service is.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	return p.SearchContext(context.Background(), q)
}

// SearchContext ranks comments of one document with plainto_tsquery and
// ts_rank, using ts_headline for snippets.
func (p *PgFTS) SearchContext(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const where = `
		FROM comments c
		JOIN threads t ON t.id = c.thread_id
		WHERE t.document_id = $2 AND c.fts @@ plainto_tsquery('english', $1)`

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*)`+where, q.Text, q.DocumentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT c.id, c.thread_id, t.document_id, c.user_id,
			ts_headline('english', c.content_text, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		%s
		ORDER BY ts_rank(c.fts, plainto_tsquery('english', $1)) DESC, c.created_at, c.id
		LIMIT %d OFFSET %d`, where, normalizeLimit(q.Limit), offset), q.Text, q.DocumentID)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.DocumentID, &r.UserID, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every comment for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CommentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.thread_id, t.document_id, c.user_id, c.content_text
		FROM comments c
		JOIN threads t ON t.id = c.thread_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	defer rows.Close()

	comments := make([]CommentRecord, 0)
	for rows.Next() {
		var c CommentRecord
		if err := rows.Scan(&c.ID, &c.ThreadID, &c.DocumentID, &c.UserID, &c.Content); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return comments, nil
}
