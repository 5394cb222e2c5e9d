// Package presence tracks ephemeral per-connection state: who is attached
// to each document and where their cursor is. Nothing here is persisted.
package presence

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/driftpad/driftpad/internal/logging"
)

// EventType identifies a presence change.
type EventType string

const (
	EventJoin   EventType = "join"
	EventUpdate EventType = "update"
	EventLeave  EventType = "leave"
)

// Cursor is a position within a document's addressable content.
type Cursor struct {
	Anchor int
	Head   int
}

// Entry is one connected peer's presence within a document.
type Entry struct {
	PeerID      string
	UserID      string
	DisplayName string
	Color       string
	Cursor      *Cursor
}

// Event is emitted on every accepted presence change. Peers carries the
// full peer list after the change, for "N users editing" style consumers.
type Event struct {
	Type  EventType
	DocID string
	Peer  Entry
	Peers []Entry
}

// Tracker maintains presence entries per document.
type Tracker struct {
	mu    sync.RWMutex
	byDoc map[string]map[string]*Entry

	log zerolog.Logger
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byDoc: make(map[string]map[string]*Entry),
		log:   logging.WithComponent("presence"),
	}
}

// Join adds a peer to a document and returns the resulting event.
func (t *Tracker) Join(docID string, entry Entry) Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byDoc[docID] == nil {
		t.byDoc[docID] = make(map[string]*Entry)
	}

	t.byDoc[docID][entry.PeerID] = &entry

	return Event{
		Type:  EventJoin,
		DocID: docID,
		Peer:  entry,
		Peers: t.peersLocked(docID),
	}
}

// UpdateCursor mutates an existing peer's cursor. Presence updates are
// best-effort: an unknown peer (a connection that raced with a
// disconnect) is logged and dropped, never surfaced as an error.
func (t *Tracker) UpdateCursor(docID, peerID string, cursor *Cursor) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	peers, ok := t.byDoc[docID]
	if !ok {
		t.log.Debug().Str("doc_id", docID).Str("peer_id", peerID).Msg("cursor update for unknown document")

		return Event{}, false
	}

	entry, ok := peers[peerID]
	if !ok {
		t.log.Debug().Str("doc_id", docID).Str("peer_id", peerID).Msg("cursor update for unknown peer")

		return Event{}, false
	}

	entry.Cursor = cursor

	return Event{
		Type:  EventUpdate,
		DocID: docID,
		Peer:  *entry,
		Peers: t.peersLocked(docID),
	}, true
}

// Leave removes a peer from a document and reports whether the peer was
// known. The emitted event's Peers list is empty when the last peer left;
// the registry's connection count drives eviction from there.
func (t *Tracker) Leave(docID, peerID string) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	peers, ok := t.byDoc[docID]
	if !ok {
		return Event{}, false
	}

	entry, ok := peers[peerID]
	if !ok {
		return Event{}, false
	}

	delete(peers, peerID)

	if len(peers) == 0 {
		delete(t.byDoc, docID)
	}

	return Event{
		Type:  EventLeave,
		DocID: docID,
		Peer:  *entry,
		Peers: t.peersLocked(docID),
	}, true
}

// Count returns the number of peers attached to a document.
func (t *Tracker) Count(docID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.byDoc[docID])
}

// Peers returns the current peer list for a document, sorted by peer ID
// for stable output.
func (t *Tracker) Peers(docID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.peersLocked(docID)
}

// peersLocked must be called with the lock held.
func (t *Tracker) peersLocked(docID string) []Entry {
	peers := t.byDoc[docID]

	result := make([]Entry, 0, len(peers))
	for _, entry := range peers {
		result = append(result, *entry)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PeerID < result[j].PeerID
	})

	return result
}
