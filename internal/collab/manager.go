package collab

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftpad/driftpad/internal/logging"
	"github.com/driftpad/driftpad/internal/metrics"
)

// sessionEntry tracks a session plus its registry bookkeeping: the number
// of attached connections (pins) and, once that drops to zero, when the
// session went idle.
type sessionEntry struct {
	session   *Session
	pins      int
	idleSince time.Time
	timer     *time.Timer
}

// Manager is the process-wide registry of live document sessions. At most
// one session per document ID exists at any time; sessions with no
// attached connections are evicted after a grace period.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry

	grace   time.Duration
	onEvict func(*Session)

	log zerolog.Logger
}

// ManagerConfig holds configuration for creating a manager.
type ManagerConfig struct {
	// EvictionGrace is how long a session with zero attached connections
	// survives before eviction.
	EvictionGrace time.Duration

	// OnEvict runs after a session is removed from the registry, with the
	// session already closed. Used for the final durable flush.
	OnEvict func(*Session)
}

// NewManager creates a new session registry.
func NewManager(cfg ManagerConfig) *Manager {
	grace := cfg.EvictionGrace
	if grace == 0 {
		grace = 30 * time.Second
	}

	return &Manager{
		entries: make(map[string]*sessionEntry),
		grace:   grace,
		onEvict: cfg.OnEvict,
		log:     logging.WithComponent("registry"),
	}
}

// Acquire returns the existing session for a document or atomically
// creates a new empty one, and registers the caller as an attached
// connection. Safe under concurrent calls for the same document ID: only
// one session object is ever constructed per ID. Callers must pair every
// Acquire with a Release.
func (m *Manager) Acquire(docID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[docID]
	if !exists {
		entry = &sessionEntry{session: NewSession(docID)}
		m.entries[docID] = entry
		metrics.SessionsOpen.Inc()
	}

	entry.pins++

	// A pending eviction no longer applies
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}

	return entry.session
}

// Release drops one attached connection. When the last connection is
// released the eviction grace timer starts.
func (m *Manager) Release(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[docID]
	if !exists {
		return
	}

	entry.pins--
	if entry.pins > 0 {
		return
	}

	entry.pins = 0
	entry.idleSince = time.Now()

	if entry.timer != nil {
		entry.timer.Stop()
	}

	entry.timer = time.AfterFunc(m.grace, func() {
		m.EvictIfIdle(docID)
	})
}

// Get returns the session for a document, or nil if none exists. Pure
// lookup, no side effects.
func (m *Manager) Get(docID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[docID]
	if !exists {
		return nil
	}

	return entry.session
}

// EvictIfIdle removes a session that has had zero attached connections
// for at least the grace period. A no-op if connections exist or the
// grace period hasn't elapsed; the connection count is re-checked under
// the registry lock, so a subscriber arriving mid-eviction wins.
//
// The final flush runs before the entry is removed, with the lock held:
// an Acquire for the same document blocks until the evicted session's
// state is durable, so its fresh session never hydrates content the
// flush is about to overwrite.
func (m *Manager) EvictIfIdle(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[docID]
	if !exists || entry.pins > 0 || time.Since(entry.idleSince) < m.grace {
		return false
	}

	m.log.Info().Str("doc_id", docID).Msg("evicting idle session")
	entry.session.Close()

	if m.onEvict != nil {
		m.onEvict(entry.session)
	}

	delete(m.entries, docID)
	metrics.SessionsOpen.Dec()

	return true
}

// Sessions returns all live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*Session, 0, len(m.entries))
	for _, entry := range m.entries {
		result = append(result, entry.session)
	}

	return result
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// CloseAll closes every session and empties the registry. Used at
// shutdown; the OnEvict hook runs for each session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := make([]*sessionEntry, 0, len(m.entries))

	for _, entry := range m.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}

		entries = append(entries, entry)
	}

	m.entries = make(map[string]*sessionEntry)
	metrics.SessionsOpen.Set(0)
	m.mu.Unlock()

	for _, entry := range entries {
		entry.session.Close()

		if m.onEvict != nil {
			m.onEvict(entry.session)
		}
	}
}
