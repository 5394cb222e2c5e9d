package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrDuplicateTitle   = errors.New("document title already in use")
)

// Document is the durable record for one document: flattened markup
// content plus metadata, no operation history.
type Document struct {
	ID          string
	WorkspaceID string
	Title       string
	Content     string
	UpdatedAt   time.Time
}

// Store defines the interface for the durable document store.
// Implementations can use in-memory storage, databases, or other backends.
type Store interface {
	// CreateDocument creates a new document record.
	// Returns ErrDocumentExists if the ID is taken, ErrDuplicateTitle if
	// another document in the same workspace already has the title.
	CreateDocument(ctx context.Context, doc Document) error

	// GetDocument retrieves a document record.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, docID string) (Document, error)

	// LoadContent retrieves the current markup content for a document.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	LoadContent(ctx context.Context, docID string) (string, error)

	// SaveContent replaces the markup content for a document and bumps
	// its modification time.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	SaveContent(ctx context.Context, docID, markup string) error

	// DeleteDocument removes a document record.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, docID string) error
}

// Action identifies an audited user action.
type Action string

// Audited actions.
const (
	ActionCreatedDocument Action = "CREATED_DOCUMENT"
	ActionEditedDocument  Action = "EDITED_DOCUMENT"
	ActionDeletedDocument Action = "DELETED_DOCUMENT"
)

// Activity is one audit record.
type Activity struct {
	Action      Action
	DocumentID  string
	WorkspaceID string
	UserID      string
	OccurredAt  time.Time
}

// AuditSink records activity entries. Recording is fire-and-forget from
// the caller's perspective: a failed Record never fails the triggering
// operation.
type AuditSink interface {
	Record(ctx context.Context, activity Activity) error
}
