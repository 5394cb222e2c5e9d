package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store and AuditSink.
// Useful for testing and development.
type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[string]*Document
	activities []Activity
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*Document),
	}
}

// CreateDocument creates a new document record.
func (m *MemoryStore) CreateDocument(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[doc.ID]; exists {
		return ErrDocumentExists
	}

	for _, existing := range m.docs {
		if existing.WorkspaceID == doc.WorkspaceID && existing.Title == doc.Title {
			return ErrDuplicateTitle
		}
	}

	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}

	m.docs[doc.ID] = &doc

	return nil
}

// GetDocument retrieves a document record.
func (m *MemoryStore) GetDocument(_ context.Context, docID string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return Document{}, ErrDocumentNotFound
	}

	return *doc, nil
}

// LoadContent retrieves the current markup content for a document.
func (m *MemoryStore) LoadContent(_ context.Context, docID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return "", ErrDocumentNotFound
	}

	return doc.Content, nil
}

// SaveContent replaces the markup content for a document.
func (m *MemoryStore) SaveContent(_ context.Context, docID, markup string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	doc.Content = markup
	doc.UpdatedAt = time.Now()

	return nil
}

// DeleteDocument removes a document record.
func (m *MemoryStore) DeleteDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[docID]; !exists {
		return ErrDocumentNotFound
	}

	delete(m.docs, docID)

	return nil
}

// Record appends an activity entry.
func (m *MemoryStore) Record(_ context.Context, activity Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if activity.OccurredAt.IsZero() {
		activity.OccurredAt = time.Now()
	}

	m.activities = append(m.activities, activity)

	return nil
}

// Activities returns a copy of all recorded activity entries.
func (m *MemoryStore) Activities() []Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Activity, len(m.activities))
	copy(result, m.activities)

	return result
}

// Ensure MemoryStore implements Store and AuditSink.
var (
	_ Store     = (*MemoryStore)(nil)
	_ AuditSink = (*MemoryStore)(nil)
)
