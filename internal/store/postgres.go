package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, content_size, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&item.ID, &item.OwnerID, &item.Title, &item.Size, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, title, content_size)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.OwnerID, item.Title, item.Size)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// SetDocumentSize records the content size reported by the document host.
func (s *PostgresStore) SetDocumentSize(ctx context.Context, documentID string, size int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content_size=$2, updated_at=NOW() WHERE id=$1
	`, documentID, size)
	if err != nil {
		return fmt.Errorf("set document size: %w", err)
	}
	return requireAffected(result, "set document size")
}

func (s *PostgresStore) UpsertCollaborator(ctx context.Context, item Collaborator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_collaborators (document_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, item.DocumentID, item.UserID, item.Role)
	if err != nil {
		return fmt.Errorf("upsert collaborator: %w", err)
	}
	return nil
}

// GetCollaboratorRole returns the caller's role on a document and whether a
// collaborator row exists at all.
func (s *PostgresStore) GetCollaboratorRole(ctx context.Context, documentID, userID string) (string, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM document_collaborators WHERE document_id=$1 AND user_id=$2
	`, documentID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup collaborator: %w", err)
	}
	return role, true, nil
}

const threadColumns = `id, document_id, created_by, status, anchor_from, anchor_to, anchor_exact, anchor_prefix, anchor_suffix, resolved_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (Thread, error) {
	var item Thread
	var exact, prefix, suffix sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.CreatedBy,
		&item.Status,
		&item.AnchorFrom,
		&item.AnchorTo,
		&exact,
		&prefix,
		&suffix,
		&resolvedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Thread{}, err
	}
	item.AnchorExact = nullableString(exact)
	item.AnchorPrefix = nullableString(prefix)
	item.AnchorSuffix = nullableString(suffix)
	if resolvedAt.Valid {
		at := resolvedAt.Time
		item.ResolvedAt = &at
	}
	return item, nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func scanComment(row rowScanner) (Comment, error) {
	var item Comment
	if err := row.Scan(&item.ID, &item.ThreadID, &item.UserID, &item.Content, &item.ContentText, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Comment{}, err
	}
	return item, nil
}

// ListThreads returns every thread of a document with its comments, both in
// (created_at, id) order.
func (s *PostgresStore) ListThreads(ctx context.Context, documentID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE document_id=$1
		ORDER BY created_at ASC, id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]Thread, 0)
	index := map[string]int{}
	for rows.Next() {
		item, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		item.Comments = make([]Comment, 0)
		index[item.ID] = len(items)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	commentRows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.thread_id, c.user_id, c.content, c.content_text, c.created_at, c.updated_at
		FROM comments c
		JOIN threads t ON t.id = c.thread_id
		WHERE t.document_id=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer commentRows.Close()

	for commentRows.Next() {
		comment, err := scanComment(commentRows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if i, ok := index[comment.ThreadID]; ok {
			items[i].Comments = append(items[i].Comments, comment)
		}
	}
	if err := commentRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// GetThread returns one thread of a document with its comments, or
// sql.ErrNoRows.
func (s *PostgresStore) GetThread(ctx context.Context, documentID, threadID string) (Thread, error) {
	item, err := scanThread(s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE document_id=$1 AND id=$2
	`, documentID, threadID))
	if err != nil {
		return Thread{}, err
	}

	comments, err := s.listThreadComments(ctx, threadID)
	if err != nil {
		return Thread{}, err
	}
	item.Comments = comments
	return item, nil
}

func (s *PostgresStore) listThreadComments(ctx context.Context, threadID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, user_id, content, content_text, created_at, updated_at
		FROM comments
		WHERE thread_id=$1
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread comments: %w", err)
	}
	return items, nil
}

// InsertThreadWithComment persists a thread and its seed comment atomically.
func (s *PostgresStore) InsertThreadWithComment(ctx context.Context, thread Thread, comment Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create thread tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status := thread.Status
	if status == "" {
		status = ThreadStatusUnresolved
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO threads (id, document_id, created_by, status, anchor_from, anchor_to, anchor_exact, anchor_prefix, anchor_suffix, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, thread.ID, thread.DocumentID, thread.CreatedBy, status, thread.AnchorFrom, thread.AnchorTo,
		thread.AnchorExact, thread.AnchorPrefix, thread.AnchorSuffix, thread.CreatedAt); err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (id, thread_id, user_id, content, content_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, comment.ID, thread.ID, comment.UserID, comment.Content, comment.ContentText, comment.CreatedAt); err != nil {
		return fmt.Errorf("insert seed comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create thread: %w", err)
	}
	return nil
}

// SetThreadResolved moves a thread to resolved (refreshing resolved_at) or
// back to unresolved.
func (s *PostgresStore) SetThreadResolved(ctx context.Context, documentID, threadID string, resolved bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET status = CASE WHEN $3::boolean THEN 'resolved' ELSE 'unresolved' END,
			resolved_at = CASE WHEN $3::boolean THEN NOW() ELSE NULL END,
			updated_at = NOW()
		WHERE document_id=$1 AND id=$2
	`, documentID, threadID, resolved)
	if err != nil {
		return fmt.Errorf("set thread resolved: %w", err)
	}
	return requireAffected(result, "set thread resolved")
}

// DeleteThread removes a thread; comments go with it through the foreign key.
// The ids of the removed comments are returned.
func (s *PostgresStore) DeleteThread(ctx context.Context, documentID, threadID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete thread tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM comments WHERE thread_id=$1`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread comment ids: %w", err)
	}
	commentIDs := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan comment id: %w", err)
		}
		commentIDs = append(commentIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate comment ids: %w", err)
	}
	rows.Close()

	result, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE document_id=$1 AND id=$2`, documentID, threadID)
	if err != nil {
		return nil, fmt.Errorf("delete thread: %w", err)
	}
	if err := requireAffected(result, "delete thread"); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete thread: %w", err)
	}
	return commentIDs, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create comment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (id, thread_id, user_id, content, content_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, comment.ID, comment.ThreadID, comment.UserID, comment.Content, comment.ContentText, comment.CreatedAt); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at=NOW() WHERE id=$1`, comment.ThreadID); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, threadID, commentID string) (Comment, error) {
	return scanComment(s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, user_id, content, content_text, created_at, updated_at
		FROM comments
		WHERE thread_id=$1 AND id=$2
	`, threadID, commentID))
}

func (s *PostgresStore) UpdateCommentContent(ctx context.Context, threadID, commentID, content, contentText string) (Comment, error) {
	item, err := scanComment(s.db.QueryRowContext(ctx, `
		UPDATE comments
		SET content=$3, content_text=$4, updated_at=NOW()
		WHERE thread_id=$1 AND id=$2
		RETURNING id, thread_id, user_id, content, content_text, created_at, updated_at
	`, threadID, commentID, content, contentText))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Comment{}, err
		}
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, threadID, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE thread_id=$1 AND id=$2`, threadID, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return requireAffected(result, "delete comment")
}

// UpdateThreadAnchors writes a batch of anchor positions in one transaction.
// Only threads on documentID created by ownerID are touched; the number of
// rows actually updated is returned.
func (s *PostgresStore) UpdateThreadAnchors(ctx context.Context, documentID, ownerID string, updates []AnchorUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin anchor sync tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE threads
		SET anchor_from=$4,
			anchor_to=$5,
			anchor_exact=COALESCE($6, anchor_exact),
			anchor_prefix=COALESCE($7, anchor_prefix),
			anchor_suffix=COALESCE($8, anchor_suffix),
			updated_at=NOW()
		WHERE id=$1 AND document_id=$2 AND created_by=$3
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare anchor update: %w", err)
	}
	defer stmt.Close()

	updated := 0
	for _, update := range updates {
		result, err := stmt.ExecContext(ctx, update.ThreadID, documentID, ownerID, update.From, update.To, update.Exact, update.Prefix, update.Suffix)
		if err != nil {
			return 0, fmt.Errorf("update anchor %s: %w", update.ThreadID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("update anchor rows: %w", err)
		}
		updated += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit anchor sync: %w", err)
	}
	return updated, nil
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
