package collab_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftpad/driftpad/internal/collab"
	"github.com/driftpad/driftpad/internal/crdt"
)

// fragmentFor produces an update fragment editing the given base state.
func fragmentFor(t *testing.T, base []byte, edit func(*crdt.Document)) []byte {
	t.Helper()

	peer, err := crdt.Load(base)
	require.NoError(t, err)

	edit(peer)

	return peer.IncrementalSave()
}

func TestSession_ApplyFragment(t *testing.T) {
	t.Parallel()

	session := collab.NewSession("doc1")

	_, err := session.RunHydration(func() (string, error) {
		return "<p>Hello</p>", nil
	})
	require.NoError(t, err)

	frag := fragmentFor(t, session.SaveState(), func(d *crdt.Document) {
		require.NoError(t, d.AppendText(" World"))
	})

	before := session.LastActivity()
	time.Sleep(time.Millisecond)

	require.NoError(t, session.ApplyFragment(frag))

	markup, err := session.SnapshotMarkup()
	require.NoError(t, err)

	if markup != "<p>Hello</p> World" {
		t.Errorf("expected merged markup, got %q", markup)
	}

	if !session.LastActivity().After(before) {
		t.Error("expected last activity to advance")
	}
}

func TestSession_ApplyFragment_Malformed(t *testing.T) {
	t.Parallel()

	session := collab.NewSession("doc1")

	_, err := session.RunHydration(func() (string, error) {
		return "<p>untouched</p>", nil
	})
	require.NoError(t, err)

	err = session.ApplyFragment([]byte{0xde, 0xad, 0xbe, 0xef})
	if !errors.Is(err, collab.ErrMalformedFragment) {
		t.Fatalf("expected ErrMalformedFragment, got %v", err)
	}

	markup, err := session.SnapshotMarkup()
	require.NoError(t, err)

	if markup != "<p>untouched</p>" {
		t.Errorf("state changed by rejected fragment: %q", markup)
	}
}

func TestSession_RunHydration_Once(t *testing.T) {
	t.Parallel()

	session := collab.NewSession("doc1")

	loads := 0
	load := func() (string, error) {
		loads++

		return "<p>stored</p>", nil
	}

	outcome, err := session.RunHydration(load)
	require.NoError(t, err)

	if outcome != collab.HydrationLoaded {
		t.Errorf("expected HydrationLoaded, got %v", outcome)
	}

	outcome, err = session.RunHydration(load)
	require.NoError(t, err)

	if outcome != collab.HydrationAlreadyDone {
		t.Errorf("expected HydrationAlreadyDone, got %v", outcome)
	}

	if loads != 1 {
		t.Errorf("expected exactly one load, got %d", loads)
	}

	markup, err := session.SnapshotMarkup()
	require.NoError(t, err)

	if markup != "<p>stored</p>" {
		t.Errorf("expected hydrated markup, got %q", markup)
	}
}

func TestSession_RunHydration_FailureAllowsRetry(t *testing.T) {
	t.Parallel()

	session := collab.NewSession("doc1")

	_, err := session.RunHydration(func() (string, error) {
		return "", errors.New("store unavailable")
	})
	require.Error(t, err)

	if session.Hydrated() {
		t.Error("failed hydration must not mark the session hydrated")
	}

	outcome, err := session.RunHydration(func() (string, error) {
		return "<p>second try</p>", nil
	})
	require.NoError(t, err)

	if outcome != collab.HydrationLoaded {
		t.Errorf("expected retry to load, got %v", outcome)
	}
}

func TestSession_RunHydration_PrefersLiveEdits(t *testing.T) {
	t.Parallel()

	session := collab.NewSession("doc1")

	// A client starts editing before the durable load completes
	peer := crdt.New()
	require.NoError(t, peer.SetMarkup("live edit"))
	require.NoError(t, session.ApplyFragment(peer.IncrementalSave()))

	outcome, err := session.RunHydration(func() (string, error) {
		return "<p>stored</p>", nil
	})
	require.NoError(t, err)

	if outcome != collab.HydrationSkippedLiveEdits {
		t.Errorf("expected HydrationSkippedLiveEdits, got %v", outcome)
	}

	markup, err := session.SnapshotMarkup()
	require.NoError(t, err)

	if markup != "live edit" {
		t.Errorf("live edits were overwritten: %q", markup)
	}
}

func TestSession_NeedsFlush(t *testing.T) {
	t.Parallel()

	session := collab.NewSession("doc1")

	_, err := session.RunHydration(func() (string, error) {
		return "<p>stored</p>", nil
	})
	require.NoError(t, err)

	dirty, err := session.NeedsFlush()
	require.NoError(t, err)

	if dirty {
		t.Error("freshly hydrated session should not need a flush")
	}

	frag := fragmentFor(t, session.SaveState(), func(d *crdt.Document) {
		require.NoError(t, d.AppendText("!"))
	})
	require.NoError(t, session.ApplyFragment(frag))

	dirty, err = session.NeedsFlush()
	require.NoError(t, err)

	if !dirty {
		t.Error("session with unwritten changes should need a flush")
	}

	markup, err := session.SnapshotMarkup()
	require.NoError(t, err)
	session.MarkFlushed(markup)

	dirty, err = session.NeedsFlush()
	require.NoError(t, err)

	if dirty {
		t.Error("session should be clean after MarkFlushed")
	}
}

func TestSession_Closed(t *testing.T) {
	t.Parallel()

	session := collab.NewSession("doc1")
	session.Close()

	err := session.ApplyFragment([]byte("anything"))
	if !errors.Is(err, collab.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}

	_, err = session.RunHydration(func() (string, error) {
		return "", nil
	})
	if !errors.Is(err, collab.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed from hydration, got %v", err)
	}
}
