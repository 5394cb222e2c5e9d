package bridge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftpad/driftpad/internal/bridge"
	"github.com/driftpad/driftpad/internal/collab"
	"github.com/driftpad/driftpad/internal/crdt"
	"github.com/driftpad/driftpad/internal/storage"
)

// countingStore wraps a Store, counting loads and optionally failing.
type countingStore struct {
	storage.Store

	loads    atomic.Int64
	saves    atomic.Int64
	failSave atomic.Bool
}

func (c *countingStore) LoadContent(ctx context.Context, docID string) (string, error) {
	c.loads.Add(1)

	return c.Store.LoadContent(ctx, docID)
}

func (c *countingStore) SaveContent(ctx context.Context, docID, markup string) error {
	if c.failSave.Load() {
		return errors.New("store unavailable")
	}

	c.saves.Add(1)

	return c.Store.SaveContent(ctx, docID, markup)
}

func newTestStore(t *testing.T, docID, content string) (*countingStore, *storage.MemoryStore) {
	t.Helper()

	mem := storage.NewMemoryStore()
	require.NoError(t, mem.CreateDocument(t.Context(), storage.Document{
		ID:          docID,
		WorkspaceID: "ws1",
		Title:       "Notes",
		Content:     content,
	}))

	return &countingStore{Store: mem}, mem
}

func TestBridge_Hydrate(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "doc1", "<p>stored</p>")
	b := bridge.New(bridge.Config{Store: store})
	session := collab.NewSession("doc1")

	require.NoError(t, b.Hydrate(t.Context(), session))

	markup, err := session.SnapshotMarkup()
	require.NoError(t, err)

	if markup != "<p>stored</p>" {
		t.Errorf("expected hydrated content, got %q", markup)
	}
}

func TestBridge_Hydrate_OncePerSession(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "doc1", "<p>stored</p>")
	b := bridge.New(bridge.Config{Store: store})
	session := collab.NewSession("doc1")

	// Two connections attach to a never-before-opened document at once
	var wg sync.WaitGroup

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = b.Hydrate(context.Background(), session)
		}()
	}

	wg.Wait()

	if got := store.loads.Load(); got != 1 {
		t.Errorf("expected exactly one load, got %d", got)
	}
}

func TestBridge_Hydrate_StoreError(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore() // document does not exist
	b := bridge.New(bridge.Config{Store: store})
	session := collab.NewSession("missing")

	err := b.Hydrate(t.Context(), session)
	if !errors.Is(err, bridge.ErrHydration) {
		t.Fatalf("expected ErrHydration, got %v", err)
	}

	if session.Hydrated() {
		t.Error("failed hydration must leave the session unhydrated")
	}
}

func TestBridge_Flush(t *testing.T) {
	t.Parallel()

	store, mem := newTestStore(t, "doc1", "<p>stored</p>")
	b := bridge.New(bridge.Config{Store: store, Audit: mem})
	session := collab.NewSession("doc1")

	require.NoError(t, b.Hydrate(t.Context(), session))

	// No changes yet: flush is a no-op and no audit entry appears
	result, err := b.Flush(t.Context(), session, bridge.FlushManual, "user1")
	require.NoError(t, err)

	if result.Changed {
		t.Error("flush of unchanged content reported a change")
	}

	if len(mem.Activities()) != 0 {
		t.Error("unchanged flush must not record an audit entry")
	}

	// Edit, then flush
	peer, err := crdt.Load(session.SaveState())
	require.NoError(t, err)
	require.NoError(t, peer.AppendText(" World"))
	require.NoError(t, session.ApplyFragment(peer.IncrementalSave()))

	result, err = b.Flush(t.Context(), session, bridge.FlushManual, "user1")
	require.NoError(t, err)

	if !result.Changed {
		t.Error("expected flush to report a change")
	}

	content, err := mem.LoadContent(t.Context(), "doc1")
	require.NoError(t, err)

	if content != "<p>stored</p> World" {
		t.Errorf("unexpected stored content %q", content)
	}

	activities := mem.Activities()
	require.Len(t, activities, 1)

	if activities[0].Action != storage.ActionEditedDocument || activities[0].UserID != "user1" {
		t.Errorf("unexpected audit entry %+v", activities[0])
	}

	if activities[0].WorkspaceID != "ws1" {
		t.Errorf("expected workspace ws1, got %q", activities[0].WorkspaceID)
	}
}

func TestBridge_Flush_StoreError(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "doc1", "")
	b := bridge.New(bridge.Config{Store: store})
	session := collab.NewSession("doc1")

	require.NoError(t, b.Hydrate(t.Context(), session))

	peer, err := crdt.Load(session.SaveState())
	require.NoError(t, err)
	require.NoError(t, peer.SetMarkup("content"))
	require.NoError(t, session.ApplyFragment(peer.IncrementalSave()))

	store.failSave.Store(true)

	_, err = b.Flush(t.Context(), session, bridge.FlushIdle, "")
	if !errors.Is(err, bridge.ErrFlush) {
		t.Fatalf("expected ErrFlush, got %v", err)
	}

	// The session still has unwritten changes; a retry after the store
	// recovers succeeds
	store.failSave.Store(false)

	result, err := b.Flush(t.Context(), session, bridge.FlushIdle, "")
	require.NoError(t, err)

	if !result.Changed {
		t.Error("expected retried flush to write")
	}
}

// slowStore holds every SaveContent until released.
type slowStore struct {
	*countingStore

	saveStarted chan struct{}
	releaseSave chan struct{}
	started     sync.Once
}

func (s *slowStore) SaveContent(ctx context.Context, docID, markup string) error {
	s.started.Do(func() { close(s.saveStarted) })
	<-s.releaseSave

	return s.countingStore.SaveContent(ctx, docID, markup)
}

func TestBridge_ReattachDuringEvictionHydratesFlushedContent(t *testing.T) {
	t.Parallel()

	counting, mem := newTestStore(t, "doc1", "<p>old</p>")
	store := &slowStore{
		countingStore: counting,
		saveStarted:   make(chan struct{}),
		releaseSave:   make(chan struct{}),
	}

	b := bridge.New(bridge.Config{Store: store, Audit: mem})

	manager := collab.NewManager(collab.ManagerConfig{
		EvictionGrace: 10 * time.Millisecond,
		OnEvict:       b.FlushOnEvict(),
	})

	session := manager.Acquire("doc1")
	require.NoError(t, b.Hydrate(t.Context(), session))

	peer, err := crdt.Load(session.SaveState())
	require.NoError(t, err)
	require.NoError(t, peer.AppendText(" plus edits"))
	require.NoError(t, session.ApplyFragment(peer.IncrementalSave()))

	manager.Release("doc1")
	<-store.saveStarted

	// A connection reattaches while the eviction flush is still writing.
	// It must see the flushed content, not the pre-flush store state.
	acquired := make(chan *collab.Session)

	go func() {
		acquired <- manager.Acquire("doc1")
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(store.releaseSave)
	}()

	fresh := <-acquired
	defer manager.Release("doc1")

	if fresh == session {
		t.Fatal("expected a fresh session after eviction")
	}

	require.NoError(t, b.Hydrate(t.Context(), fresh))

	markup, err := fresh.SnapshotMarkup()
	require.NoError(t, err)

	if markup != "<p>old</p> plus edits" {
		t.Errorf("reattached session hydrated stale content %q", markup)
	}
}

func TestBridge_FlushOnEvict(t *testing.T) {
	t.Parallel()

	store, mem := newTestStore(t, "doc1", "")
	b := bridge.New(bridge.Config{Store: store})
	session := collab.NewSession("doc1")

	require.NoError(t, b.Hydrate(t.Context(), session))

	peer, err := crdt.Load(session.SaveState())
	require.NoError(t, err)
	require.NoError(t, peer.SetMarkup("final state"))
	require.NoError(t, session.ApplyFragment(peer.IncrementalSave()))

	session.Close()
	b.FlushOnEvict()(session)

	content, err := mem.LoadContent(t.Context(), "doc1")
	require.NoError(t, err)

	if content != "final state" {
		t.Errorf("expected eviction flush to persist, got %q", content)
	}
}
