package store

import (
	"context"
	"database/sql"
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

// UpsertDocument creates the document or replaces its content, returning the
// stored timestamps. Content is stored as text so the canonical bytes come
// back unchanged. A soft-deleted document is not revived and yields
// sql.ErrNoRows.
func (s *PostgresStore) UpsertDocument(ctx context.Context, item Document) (Document, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content, content_hash, body_text, formatter_version, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title,
			content=EXCLUDED.content,
			content_hash=EXCLUDED.content_hash,
			body_text=EXCLUDED.body_text,
			formatter_version=EXCLUDED.formatter_version,
			updated_by=EXCLUDED.updated_by,
			updated_at=NOW()
		WHERE documents.deleted_at IS NULL
		RETURNING created_at, updated_at
	`, item.ID, item.Title, string(item.Content), item.ContentHash, item.BodyText, item.FormatterVersion, item.UpdatedBy).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("upsert document: %w", err)
	}
	return item, nil
}

// GetDocument returns sql.ErrNoRows when the document does not exist or has
// been deleted.
func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	var content string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, content_hash, body_text, formatter_version, updated_by, created_at, updated_at
		FROM documents
		WHERE id=$1 AND deleted_at IS NULL
	`, documentID).Scan(&item.ID, &item.Title, &content, &item.ContentHash, &item.BodyText, &item.FormatterVersion, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	item.Content = []byte(content)
	return item, nil
}

// ListDocuments returns documents newest first without their content.
func (s *PostgresStore) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content_hash, formatter_version, updated_by, created_at, updated_at
		FROM documents
		WHERE deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.ContentHash, &item.FormatterVersion, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// InsertVersion records a snapshot and assigns the next version number for
// the document. The document row is locked so concurrent snapshots get
// distinct numbers.
func (s *PostgresStore) InsertVersion(ctx context.Context, version DocumentVersion) (DocumentVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DocumentVersion{}, fmt.Errorf("begin version tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, version.DocumentID).Scan(&locked); err != nil {
		return DocumentVersion{}, fmt.Errorf("lock document %s: %w", version.DocumentID, err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO document_versions (document_id, version_number, title, commit_hash, content_hash, change_summary, created_by)
		SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3, $4, $5, $6
		FROM document_versions
		WHERE document_id=$1
		RETURNING id, version_number, created_at
	`, version.DocumentID, version.Title, version.CommitHash, version.ContentHash, version.ChangeSummary, version.CreatedBy).Scan(&version.ID, &version.VersionNumber, &version.CreatedAt)
	if err != nil {
		return DocumentVersion{}, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return DocumentVersion{}, fmt.Errorf("commit version tx: %w", err)
	}
	return version, nil
}

// ListVersions returns snapshots newest first.
func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]DocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version_number, title, commit_hash, content_hash, change_summary, created_by, created_at
		FROM document_versions
		WHERE document_id=$1
		ORDER BY version_number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentVersion, 0)
	for rows.Next() {
		var item DocumentVersion
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.VersionNumber, &item.Title, &item.CommitHash, &item.ContentHash, &item.ChangeSummary, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

// SoftDeleteDocument marks a live document deleted. It reports false when
// the document is missing or already deleted.
func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, documentID, deletedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET deleted_at=NOW(), deleted_by=$2
		WHERE id=$1 AND deleted_at IS NULL
	`, documentID, deletedBy)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
