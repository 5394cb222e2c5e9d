package collab_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftpad/driftpad/internal/collab"
)

func TestManager_Acquire(t *testing.T) {
	t.Parallel()

	manager := collab.NewManager(collab.ManagerConfig{})

	session := manager.Acquire("doc1")
	if session == nil {
		t.Fatal("expected session, got nil")
	}

	if session.DocID() != "doc1" {
		t.Errorf("expected docID doc1, got %s", session.DocID())
	}

	// Acquiring again returns the same session instance
	session2 := manager.Acquire("doc1")
	if session != session2 {
		t.Error("expected same session instance")
	}

	if manager.Count() != 1 {
		t.Errorf("expected 1 session, got %d", manager.Count())
	}
}

func TestManager_Acquire_Concurrent(t *testing.T) {
	t.Parallel()

	manager := collab.NewManager(collab.ManagerConfig{})

	const k = 32

	var wg sync.WaitGroup

	sessions := make([]*collab.Session, k)

	for i := range k {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			sessions[i] = manager.Acquire("doc1")
		}(i)
	}

	wg.Wait()

	for i := 1; i < k; i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("concurrent Acquire constructed more than one session")
		}
	}

	if manager.Count() != 1 {
		t.Errorf("expected exactly one session, got %d", manager.Count())
	}
}

func TestManager_Get(t *testing.T) {
	t.Parallel()

	manager := collab.NewManager(collab.ManagerConfig{})

	if manager.Get("missing") != nil {
		t.Error("expected nil for unknown document")
	}

	session := manager.Acquire("doc1")

	if manager.Get("doc1") != session {
		t.Error("expected lookup to return the live session")
	}
}

func TestManager_EvictIfIdle(t *testing.T) {
	t.Parallel()

	evicted := make(chan *collab.Session, 1)

	manager := collab.NewManager(collab.ManagerConfig{
		EvictionGrace: 20 * time.Millisecond,
		OnEvict: func(s *collab.Session) {
			evicted <- s
		},
	})

	session := manager.Acquire("D2")

	// Still attached: eviction is a no-op
	if manager.EvictIfIdle("D2") {
		t.Error("eviction must not remove a session with attached connections")
	}

	manager.Release("D2")

	// Grace period not elapsed yet
	if manager.EvictIfIdle("D2") {
		t.Error("eviction must not remove a session before the grace period")
	}

	select {
	case s := <-evicted:
		if s != session {
			t.Error("evicted a different session")
		}
	case <-time.After(time.Second):
		t.Fatal("session was not evicted after the grace period")
	}

	if manager.Get("D2") != nil {
		t.Error("expected session to be absent after eviction")
	}

	if !session.Closed() {
		t.Error("evicted session should be closed")
	}
}

func TestManager_Acquire_WaitsForEvictionFlush(t *testing.T) {
	t.Parallel()

	flushStarted := make(chan struct{})
	releaseFlush := make(chan struct{})

	var flushDone atomic.Bool

	manager := collab.NewManager(collab.ManagerConfig{
		EvictionGrace: 10 * time.Millisecond,
		OnEvict: func(*collab.Session) {
			close(flushStarted)
			<-releaseFlush
			flushDone.Store(true)
		},
	})

	evictedSession := manager.Acquire("doc1")
	manager.Release("doc1")

	<-flushStarted

	// A connection arrives for the same document mid-eviction. It must
	// not get a session until the evicted one's state is durable.
	acquired := make(chan *collab.Session)

	go func() {
		acquired <- manager.Acquire("doc1")
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire returned while the eviction flush was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(releaseFlush)

	fresh := <-acquired
	defer manager.Release("doc1")

	if !flushDone.Load() {
		t.Error("Acquire returned before the eviction flush completed")
	}

	if fresh == evictedSession {
		t.Error("expected a fresh session after eviction")
	}

	if !evictedSession.Closed() {
		t.Error("evicted session should be closed")
	}
}

func TestManager_Acquire_CancelsEviction(t *testing.T) {
	t.Parallel()

	manager := collab.NewManager(collab.ManagerConfig{
		EvictionGrace: 30 * time.Millisecond,
	})

	session := manager.Acquire("doc1")
	manager.Release("doc1")

	// A new subscriber arrives during the grace period
	again := manager.Acquire("doc1")
	if again != session {
		t.Fatal("expected the same session while within the grace period")
	}

	time.Sleep(80 * time.Millisecond)

	if manager.Get("doc1") == nil {
		t.Error("session with an attached connection was evicted")
	}
}

func TestManager_CloseAll(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex

	evicted := 0

	manager := collab.NewManager(collab.ManagerConfig{
		OnEvict: func(*collab.Session) {
			mu.Lock()
			evicted++
			mu.Unlock()
		},
	})

	manager.Acquire("a")
	manager.Acquire("b")

	manager.CloseAll()

	if manager.Count() != 0 {
		t.Errorf("expected empty registry, got %d sessions", manager.Count())
	}

	mu.Lock()
	defer mu.Unlock()

	if evicted != 2 {
		t.Errorf("expected OnEvict for both sessions, got %d", evicted)
	}
}
