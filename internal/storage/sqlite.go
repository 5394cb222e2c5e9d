package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// SQLite driver registration.
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a Store and AuditSink backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite-backed store at the
// given path. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()

		return nil, err
	}

	return s, nil
}

// init ensures the schema exists.
func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id           TEXT NOT NULL PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			title        TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			updated_at   TIMESTAMP NOT NULL,
			UNIQUE (workspace_id, title)
		);
		CREATE TABLE IF NOT EXISTS activities (
			action       TEXT NOT NULL,
			document_id  TEXT,
			workspace_id TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			occurred_at  TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateDocument creates a new document record.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc Document) error {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, workspace_id, title, content, updated_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.WorkspaceID, doc.Title, doc.Content, doc.UpdatedAt,
	)
	if err != nil {
		msg := err.Error()

		switch {
		case strings.Contains(msg, "documents.id"):
			return ErrDocumentExists
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return ErrDuplicateTitle
		}

		return fmt.Errorf("insert document: %w", err)
	}

	return nil
}

// GetDocument retrieves a document record.
func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (Document, error) {
	var doc Document

	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, title, content, updated_at FROM documents WHERE id = ?`,
		docID,
	).Scan(&doc.ID, &doc.WorkspaceID, &doc.Title, &doc.Content, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}

	if err != nil {
		return Document{}, fmt.Errorf("select document: %w", err)
	}

	return doc, nil
}

// LoadContent retrieves the current markup content for a document.
func (s *SQLiteStore) LoadContent(ctx context.Context, docID string) (string, error) {
	var content string

	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM documents WHERE id = ?`, docID,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrDocumentNotFound
	}

	if err != nil {
		return "", fmt.Errorf("select content: %w", err)
	}

	return content, nil
}

// SaveContent replaces the markup content for a document.
func (s *SQLiteStore) SaveContent(ctx context.Context, docID, markup string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, updated_at = ? WHERE id = ?`,
		markup, time.Now(), docID,
	)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}

	if affected == 0 {
		return ErrDocumentNotFound
	}

	return nil
}

// DeleteDocument removes a document record.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if affected == 0 {
		return ErrDocumentNotFound
	}

	return nil
}

// Record appends an activity entry.
func (s *SQLiteStore) Record(ctx context.Context, activity Activity) error {
	if activity.OccurredAt.IsZero() {
		activity.OccurredAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (action, document_id, workspace_id, user_id, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		string(activity.Action), activity.DocumentID, activity.WorkspaceID, activity.UserID, activity.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	return nil
}

// Ensure SQLiteStore implements Store and AuditSink.
var (
	_ Store     = (*SQLiteStore)(nil)
	_ AuditSink = (*SQLiteStore)(nil)
)
