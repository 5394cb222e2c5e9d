// Package bridge reconciles live replicated state with the durable store:
// a one-time hydration per session, and flushes triggered manually, by
// idle timeout, or by eviction.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftpad/driftpad/internal/collab"
	"github.com/driftpad/driftpad/internal/logging"
	"github.com/driftpad/driftpad/internal/metrics"
	"github.com/driftpad/driftpad/internal/storage"
)

// Common errors.
var (
	// ErrHydration indicates the durable load failed or timed out. The
	// session remains attached with empty state; editing can proceed and
	// a later first-attach may retry the load.
	ErrHydration = errors.New("hydration failed")

	// ErrFlush indicates the durable save failed or timed out.
	ErrFlush = errors.New("flush failed")
)

// FlushReason identifies what triggered a flush.
type FlushReason string

const (
	FlushManual   FlushReason = "manual"
	FlushIdle     FlushReason = "idle"
	FlushEviction FlushReason = "eviction"
	FlushShutdown FlushReason = "shutdown"
)

// FlushResult reports what a flush did.
type FlushResult struct {
	// Changed is true when the rendered markup differed from the
	// previously stored value and a write happened.
	Changed bool
}

// Bridge connects sessions to the durable store and audit sink.
type Bridge struct {
	store storage.Store
	audit storage.AuditSink

	hydrateTimeout time.Duration
	flushTimeout   time.Duration

	log zerolog.Logger
}

// Config holds configuration for creating a bridge.
type Config struct {
	Store          storage.Store
	Audit          storage.AuditSink
	HydrateTimeout time.Duration
	FlushTimeout   time.Duration
}

// New creates a persistence bridge.
func New(cfg Config) *Bridge {
	hydrateTimeout := cfg.HydrateTimeout
	if hydrateTimeout == 0 {
		hydrateTimeout = 5 * time.Second
	}

	flushTimeout := cfg.FlushTimeout
	if flushTimeout == 0 {
		flushTimeout = 5 * time.Second
	}

	return &Bridge{
		store:          cfg.Store,
		audit:          cfg.Audit,
		hydrateTimeout: hydrateTimeout,
		flushTimeout:   flushTimeout,
		log:            logging.WithComponent("bridge"),
	}
}

// Hydrate loads the durable document content into a fresh session's
// state. Runs at most once per session lifetime; the session serializes
// concurrent callers so the store sees at most one load. A session whose
// state already carries live edits keeps them and the load is discarded.
func (b *Bridge) Hydrate(ctx context.Context, session *collab.Session) error {
	outcome, err := session.RunHydration(func() (string, error) {
		loadCtx, cancel := context.WithTimeout(ctx, b.hydrateTimeout)
		defer cancel()

		return b.store.LoadContent(loadCtx, session.DocID())
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHydration, err)
	}

	switch outcome {
	case collab.HydrationLoaded:
		metrics.Hydrations.Inc()
	case collab.HydrationSkippedLiveEdits:
		b.log.Warn().Str("doc_id", session.DocID()).
			Msg("hydration skipped: session already carries live edits")
	case collab.HydrationAlreadyDone:
	}

	return nil
}

// Flush renders the session's current markup and writes it to the
// durable store when it differs from the previously stored value. On a
// content-changing flush an audit record is emitted for the triggering
// user; audit failures are logged, never surfaced.
func (b *Bridge) Flush(ctx context.Context, session *collab.Session, reason FlushReason, userID string) (FlushResult, error) {
	markup, err := session.SnapshotMarkup()
	if err != nil {
		return FlushResult{}, fmt.Errorf("%w: %v", ErrFlush, err)
	}

	if markup == session.LastFlushedMarkup() {
		return FlushResult{Changed: false}, nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, b.flushTimeout)
	defer cancel()

	if err := b.store.SaveContent(saveCtx, session.DocID(), markup); err != nil {
		metrics.FlushErrors.Inc()

		return FlushResult{}, fmt.Errorf("%w: %v", ErrFlush, err)
	}

	session.MarkFlushed(markup)
	metrics.Flushes.WithLabelValues(string(reason)).Inc()
	b.log.Debug().Str("doc_id", session.DocID()).Str("reason", string(reason)).Msg("flushed session")

	b.recordEdit(ctx, session.DocID(), userID)

	return FlushResult{Changed: true}, nil
}

// recordEdit emits an EDITED_DOCUMENT audit entry, fire-and-forget.
func (b *Bridge) recordEdit(ctx context.Context, docID, userID string) {
	if b.audit == nil {
		return
	}

	workspaceID := ""
	if doc, err := b.store.GetDocument(ctx, docID); err == nil {
		workspaceID = doc.WorkspaceID
	}

	err := b.audit.Record(ctx, storage.Activity{
		Action:      storage.ActionEditedDocument,
		DocumentID:  docID,
		WorkspaceID: workspaceID,
		UserID:      userID,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		b.log.Warn().Err(err).Str("doc_id", docID).Msg("failed to record edit activity")
	}
}

// RunIdleFlusher periodically flushes sessions that have been idle since
// their last accepted fragment and still have unwritten changes. A failed
// automatic flush is logged and retried on the next tick; it never
// interrupts editing. Blocks until the context is cancelled.
func (b *Bridge) RunIdleFlusher(ctx context.Context, manager *collab.Manager, idleAfter time.Duration) {
	interval := idleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushIdleSessions(ctx, manager, idleAfter)
		case <-ctx.Done():
			return
		}
	}
}

// flushIdleSessions runs one idle-flush sweep.
func (b *Bridge) flushIdleSessions(ctx context.Context, manager *collab.Manager, idleAfter time.Duration) {
	for _, session := range manager.Sessions() {
		if time.Since(session.LastActivity()) < idleAfter {
			continue
		}

		dirty, err := session.NeedsFlush()
		if err != nil {
			b.log.Warn().Err(err).Str("doc_id", session.DocID()).Msg("idle flush check failed")

			continue
		}

		if !dirty {
			continue
		}

		if _, err := b.Flush(ctx, session, FlushIdle, ""); err != nil {
			b.log.Warn().Err(err).Str("doc_id", session.DocID()).Msg("idle flush failed, will retry")
		}
	}
}

// FlushOnEvict returns a hook for the session registry that performs the
// final durable flush when a session is evicted.
func (b *Bridge) FlushOnEvict() func(*collab.Session) {
	return func(session *collab.Session) {
		if _, err := b.Flush(context.Background(), session, FlushEviction, ""); err != nil {
			b.log.Warn().Err(err).Str("doc_id", session.DocID()).Msg("eviction flush failed")
		}
	}
}
