package store

import (
	"context"
	"database/sql"
	"fmt"
)

const threadColumns = `id, document_id, anchor, body, status, created_by_id, created_by_name, COALESCE(resolved_by_name, ''), resolved_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (Thread, error) {
	var item Thread
	var resolvedAt sql.NullTime
	if err := row.Scan(
		&item.ID,
		&item.DocumentID,
		&item.Anchor,
		&item.Text,
		&item.Status,
		&item.AuthorID,
		&item.Author,
		&item.ResolvedBy,
		&resolvedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Thread{}, err
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time
		item.ResolvedAt = &at
	}
	return item, nil
}

func (s *PostgresStore) InsertThread(ctx context.Context, thread Thread) error {
	status := thread.Status
	if status == "" {
		status = "OPEN"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_threads (id, document_id, anchor, body, status, created_by_id, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, thread.ID, thread.DocumentID, thread.Anchor, thread.Text, status, thread.AuthorID, thread.Author)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

// GetThread returns sql.ErrNoRows when the thread does not belong to the
// document.
func (s *PostgresStore) GetThread(ctx context.Context, documentID, threadID string) (Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM comment_threads
		WHERE document_id=$1 AND id=$2
	`, documentID, threadID)
	return scanThread(row)
}

func (s *PostgresStore) ListThreads(ctx context.Context, documentID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+`
		FROM comment_threads
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]Thread, 0)
	for rows.Next() {
		item, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ResolveThread(ctx context.Context, documentID, threadID, resolvedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comment_threads
		SET status='RESOLVED', resolved_by_name=$3, resolved_at=NOW(), updated_at=NOW()
		WHERE document_id=$1 AND id=$2 AND status <> 'RESOLVED'
	`, documentID, threadID, resolvedBy)
	if err != nil {
		return false, fmt.Errorf("resolve thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve thread rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ReopenThread(ctx context.Context, documentID, threadID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comment_threads
		SET status='OPEN', resolved_by_name=NULL, resolved_at=NULL, updated_at=NOW()
		WHERE document_id=$1 AND id=$2 AND status='RESOLVED'
	`, documentID, threadID)
	if err != nil {
		return false, fmt.Errorf("reopen thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reopen thread rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertReply(ctx context.Context, reply Reply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_replies (id, thread_id, author_id, author_name, body)
		VALUES ($1, $2, $3, $4, $5)
	`, reply.ID, reply.ThreadID, reply.AuthorID, reply.Author, reply.Body)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

// ListReplies returns the replies of every thread in the document, oldest
// first, grouped by thread id.
func (s *PostgresStore) ListReplies(ctx context.Context, documentID string) (map[string][]Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.thread_id, r.author_id, r.author_name, r.body, r.created_at
		FROM comment_replies r
		JOIN comment_threads t ON t.id = r.thread_id
		WHERE t.document_id=$1
		ORDER BY r.created_at ASC, r.id ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]Reply)
	for rows.Next() {
		var item Reply
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.AuthorID, &item.Author, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		items[item.ThreadID] = append(items[item.ThreadID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, link)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.UserID, item.Type, item.Title, item.Message, item.Link)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, link, is_read, created_at
		FROM notifications
		WHERE user_id=$1 AND (NOT $2::boolean OR is_read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Type, &item.Title, &item.Message, &item.Link, &item.Read, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationsRead marks the given notifications read, or every unread
// notification of the user when ids is empty. It returns how many changed.
func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, userID string, ids []string) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if len(ids) == 0 {
		result, err = s.db.ExecContext(ctx, `
			UPDATE notifications SET is_read=TRUE
			WHERE user_id=$1 AND is_read=FALSE
		`, userID)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE notifications SET is_read=TRUE
			WHERE user_id=$1 AND is_read=FALSE AND id = ANY($2::text[])
		`, userID, ids)
	}
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark notifications read rows: %w", err)
	}
	return affected, nil
}
