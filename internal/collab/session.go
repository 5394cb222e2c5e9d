package collab

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/driftpad/driftpad/internal/crdt"
)

// Common errors.
var (
	ErrSessionClosed = errors.New("session is closed")

	// ErrMalformedFragment indicates an update fragment that could not be
	// merged. Local to the fragment: the session and its other
	// subscribers are unaffected.
	ErrMalformedFragment = errors.New("malformed update fragment")
)

// HydrationOutcome reports what a hydration attempt did.
type HydrationOutcome int

const (
	// HydrationLoaded means durable content was loaded into the state.
	HydrationLoaded HydrationOutcome = iota

	// HydrationAlreadyDone means a previous hydration already ran.
	HydrationAlreadyDone

	// HydrationSkippedLiveEdits means a client started editing before the
	// durable load completed; the live edits are preferred.
	HydrationSkippedLiveEdits
)

// Session is the live pairing of a document ID with its authoritative
// replicated-state object. All state access is serialized by the session
// mutex: no fragment merges into the state while another merge or the
// hydration step is in progress.
type Session struct {
	docID string

	mu           sync.Mutex
	state        *crdt.Document
	hydrated     bool
	closed       bool
	lastActivity time.Time
	lastFlushed  string // markup at last successful flush or hydration
}

// NewSession creates a session with an empty replicated state.
func NewSession(docID string) *Session {
	return &Session{
		docID:        docID,
		state:        crdt.New(),
		lastActivity: time.Now(),
	}
}

// DocID returns the document ID for this session.
func (s *Session) DocID() string {
	return s.docID
}

// ApplyFragment merges an incoming update fragment into the session state
// and records the activity time. The fragment is applied locally before
// any rebroadcast; on a merge failure the state is left untouched and
// ErrMalformedFragment is returned.
func (s *Session) ApplyFragment(fragment []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	if err := s.state.ApplyUpdate(fragment); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFragment, err)
	}

	s.lastActivity = time.Now()

	return nil
}

// SnapshotMarkup renders the current state to its flattened durable
// representation. Deterministic: the same state yields identical markup.
func (s *Session) SnapshotMarkup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Markup()
}

// SaveState returns the full serialized state, used to bring a late
// joiner's replica up to date.
func (s *Session) SaveState() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Save()
}

// RunHydration performs the one-time durable load. The load function is
// invoked at most once per session lifetime across all callers: the
// session mutex is held for the duration, so concurrent first attaches
// cannot double-load. If the load fails the session stays unhydrated and
// a later attach may retry. If a client managed to edit before the load
// completed, the loaded content is discarded in favor of the live edits.
func (s *Session) RunHydration(load func() (string, error)) (HydrationOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return HydrationAlreadyDone, ErrSessionClosed
	}

	if s.hydrated {
		return HydrationAlreadyDone, nil
	}

	markup, err := load()
	if err != nil {
		return HydrationAlreadyDone, err
	}

	if !s.state.Empty() {
		s.hydrated = true
		s.lastFlushed = markup

		return HydrationSkippedLiveEdits, nil
	}

	if err := s.state.SetMarkup(markup); err != nil {
		return HydrationAlreadyDone, err
	}

	s.hydrated = true
	s.lastFlushed = markup

	return HydrationLoaded, nil
}

// Hydrated reports whether the one-time durable load has completed.
func (s *Session) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hydrated
}

// LastActivity returns the time of the last accepted fragment.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActivity
}

// LastFlushedMarkup returns the markup recorded at the last successful
// flush or hydration.
func (s *Session) LastFlushedMarkup() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastFlushed
}

// MarkFlushed records that the given markup was durably written.
func (s *Session) MarkFlushed(markup string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFlushed = markup
}

// NeedsFlush reports whether the current state differs from the last
// durably written markup.
func (s *Session) NeedsFlush() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	markup, err := s.state.Markup()
	if err != nil {
		return false, err
	}

	return markup != s.lastFlushed, nil
}

// Close marks the session closed. Further fragments are rejected.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
