// Package gateway accepts transport connections, authenticates them,
// resolves the target document, and attaches them to that document's
// session and broadcast group.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/driftpad/driftpad/internal/auth"
	"github.com/driftpad/driftpad/internal/bridge"
	"github.com/driftpad/driftpad/internal/collab"
	"github.com/driftpad/driftpad/internal/logging"
	"github.com/driftpad/driftpad/internal/metrics"
	"github.com/driftpad/driftpad/internal/presence"
	"github.com/driftpad/driftpad/internal/storage"
	"github.com/driftpad/driftpad/internal/ws"
)

// Gateway authenticates incoming connections and runs their lifecycle
// against the session registry, presence tracker, and persistence bridge.
type Gateway struct {
	authn    auth.Authenticator
	authz    auth.Authorizer
	store    storage.Store
	manager  *collab.Manager
	bridge   *bridge.Bridge
	hub      *ws.Hub
	presence *presence.Tracker

	idleTimeout time.Duration
	upgrader    websocket.Upgrader
	log         zerolog.Logger
}

// Config holds configuration for creating a gateway.
type Config struct {
	Authenticator auth.Authenticator
	Authorizer    auth.Authorizer
	Store         storage.Store
	Manager       *collab.Manager
	Bridge        *bridge.Bridge
	Hub           *ws.Hub
	Presence      *presence.Tracker

	// IdleTimeout disconnects a connection with no traffic for this long.
	// Zero disables the idle check.
	IdleTimeout time.Duration
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	return &Gateway{
		authn:       cfg.Authenticator,
		authz:       cfg.Authorizer,
		store:       cfg.Store,
		manager:     cfg.Manager,
		bridge:      cfg.Bridge,
		hub:         cfg.Hub,
		presence:    cfg.Presence,
		idleTimeout: cfg.IdleTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		log: logging.WithComponent("gateway"),
	}
}

// HandleSync handles GET /sync/{docID}: upgrades the transport and runs
// the connection state machine until the connection closes.
func (g *Gateway) HandleSync(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docID"]
	if docID == "" {
		http.Error(w, "document ID is required", http.StatusBadRequest)

		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")

		return
	}

	g.runConnection(r, conn, docID)
}

// connection is the per-transport-connection state.
type connection struct {
	state   State
	client  *ws.Client
	docID   string
	session *collab.Session
	entry   presence.Entry
	log     zerolog.Logger
}

// transition advances the connection state machine.
func (c *connection) transition(next State) {
	c.log.Debug().Str("from", c.state.String()).Str("to", next.String()).Msg("connection state")
	c.state = next
}

// runConnection drives one connection from handshake to close.
func (g *Gateway) runConnection(r *http.Request, rawConn ws.Conn, docID string) {
	ctx := r.Context()

	c := &connection{
		state: StateConnecting,
		docID: docID,
		log:   logging.WithDocument("gateway", docID),
	}

	client := ws.NewClient(uuid.New().String(), "", rawConn)
	c.client = client

	defer func() {
		c.transition(StateClosed)
		_ = client.Close()
	}()

	// Authentication and authorization failures are fatal per-connection:
	// the transport is closed with a client-visible reason and no session
	// is touched.
	c.transition(StateAuthenticating)

	identity, err := g.authn.ValidateToken(ctx, bearerToken(r))
	if err != nil {
		_ = client.SendError(ws.ErrorCodeAuthenticationFailed, "invalid or expired token")
		c.log.Warn().Msg("authentication failed")

		return
	}

	client.UserID = identity.UserID
	c.log = c.log.With().Str("user_id", identity.UserID).Logger()

	c.transition(StateResolvingDocument)

	doc, err := g.store.GetDocument(ctx, docID)
	if err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			_ = client.SendError(ws.ErrorCodeInvalidMessage, "document not found")
		} else {
			_ = client.SendError(ws.ErrorCodeInternalError, "failed to resolve document")
		}

		return
	}

	member, err := g.authz.IsMember(ctx, identity.UserID, doc.WorkspaceID)
	if err != nil {
		_ = client.SendError(ws.ErrorCodeInternalError, "membership check failed")

		return
	}

	if !member {
		_ = client.SendError(ws.ErrorCodeAuthorizationFailed, "not a member of the document's workspace")
		c.log.Warn().Msg("authorization failed")

		return
	}

	if err := g.attach(ctx, r, c, identity); err != nil {
		return
	}

	defer g.detach(c)

	g.readLoop(ctx, c)
}

// attach registers the connection with the session, presence tracking,
// and the broadcast group, hydrating the session first if needed. The
// attach acknowledgment is only sent after hydration so the client never
// observes an empty document about to be overwritten by late-loaded
// durable content.
func (g *Gateway) attach(ctx context.Context, r *http.Request, c *connection, identity auth.Identity) error {
	c.session = g.manager.Acquire(c.docID)

	if err := g.bridge.Hydrate(ctx, c.session); err != nil {
		// Not fatal: editing proceeds against empty state and a later
		// first attach may retry the load.
		c.log.Warn().Err(err).Msg("hydration failed")
		_ = c.client.SendError(ws.ErrorCodeHydrationFailed, "document content could not be loaded")
	}

	c.entry = presence.Entry{
		PeerID:      c.client.ID,
		UserID:      identity.UserID,
		DisplayName: displayName(r, identity),
		Color:       peerColor(r, c.client.ID),
	}

	g.hub.Register(c.client)
	g.hub.Subscribe(c.client, c.docID)
	metrics.PeersConnected.Inc()

	c.transition(StateAttached)

	event := g.presence.Join(c.docID, c.entry)

	if err := c.client.SendEvent(ws.Message{
		Type: ws.MessageTypeAttached,
		Payload: ws.AttachedPayload{
			DocID: c.docID,
			Peers: peerInfos(event.Peers),
		},
	}); err != nil {
		g.detach(c)

		return err
	}

	// Full state brings the late joiner's replica up to date; merging it
	// client-side is idempotent.
	if err := c.client.SendFragment(c.session.SaveState()); err != nil {
		g.detach(c)

		return err
	}

	// Every subscriber hears about the join, the new peer included.
	g.hub.BroadcastEvent(c.docID, presenceMessage(event), "")

	return nil
}

// detach unwinds everything attach set up. Safe to call once per attach.
func (g *Gateway) detach(c *connection) {
	if c.state != StateAttached {
		return
	}

	c.transition(StateDetaching)

	if event, ok := g.presence.Leave(c.docID, c.client.ID); ok {
		g.hub.BroadcastEvent(c.docID, presenceMessage(event), c.client.ID)
	}

	g.hub.Unsubscribe(c.client, c.docID)
	g.hub.Unregister(c.client)
	metrics.PeersConnected.Dec()

	// Last one out starts the eviction grace timer
	g.manager.Release(c.docID)
}

// readLoop processes incoming messages until the transport closes.
// Transport-level read errors are an implicit disconnect.
func (g *Gateway) readLoop(ctx context.Context, c *connection) {
	for {
		messageType, data, err := c.client.Receive(g.idleTimeout)
		if err != nil {
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			g.handleFragment(c, data)
		case websocket.TextMessage:
			g.handleControl(ctx, c, data)
		}
	}
}

// handleFragment merges an update fragment into the session and forwards
// it to the other subscribers. A malformed fragment is recoverable: the
// sender is notified, the state is untouched, nobody else hears about it.
func (g *Gateway) handleFragment(c *connection, fragment []byte) {
	if err := c.session.ApplyFragment(fragment); err != nil {
		if errors.Is(err, collab.ErrMalformedFragment) {
			metrics.FragmentsRejected.Inc()
			c.log.Warn().Msg("dropped malformed fragment")
			_ = c.client.SendError(ws.ErrorCodeMalformedFragment, "fragment could not be merged")

			return
		}

		_ = c.client.SendError(ws.ErrorCodeInternalError, err.Error())

		return
	}

	metrics.FragmentsApplied.Inc()

	// Local application always precedes rebroadcast
	g.hub.BroadcastFragment(c.docID, fragment, c.client.ID)
}

// handleControl dispatches a JSON control envelope.
func (g *Gateway) handleControl(ctx context.Context, c *connection, data []byte) {
	var raw struct {
		Type    ws.MessageType  `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "malformed control message")

		return
	}

	switch raw.Type {
	case ws.MessageTypePresence:
		g.handlePresence(c, raw.Payload)
	case ws.MessageTypeSave:
		g.handleSave(ctx, c)
	case ws.MessageTypeAttached, ws.MessageTypeSaved, ws.MessageTypeError:
		_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type")
	default:
		_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "unknown message type")
	}
}

// handlePresence applies a cursor update from the peer. Best-effort:
// failures never block editing.
func (g *Gateway) handlePresence(c *connection, payload json.RawMessage) {
	var p ws.PresencePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		_ = c.client.SendError(ws.ErrorCodeInvalidMessage, "malformed presence payload")

		return
	}

	var cursor *presence.Cursor
	if p.Peer.Cursor != nil {
		cursor = &presence.Cursor{Anchor: p.Peer.Cursor.Anchor, Head: p.Peer.Cursor.Head}
	}

	if event, ok := g.presence.UpdateCursor(c.docID, c.client.ID, cursor); ok {
		g.hub.BroadcastEvent(c.docID, presenceMessage(event), c.client.ID)
	}
}

// handleSave runs an explicit flush and reports the outcome to the
// requesting connection specifically.
func (g *Gateway) handleSave(ctx context.Context, c *connection) {
	result, err := g.bridge.Flush(ctx, c.session, bridge.FlushManual, c.client.UserID)
	if err != nil {
		c.log.Warn().Err(err).Msg("manual flush failed")
		_ = c.client.SendError(ws.ErrorCodeFlushFailed, "save failed")

		return
	}

	_ = c.client.SendEvent(ws.Message{
		Type: ws.MessageTypeSaved,
		Payload: ws.SavedPayload{
			DocID:   c.docID,
			Changed: result.Changed,
		},
	})
}

// presenceMessage converts a presence event into its wire form.
func presenceMessage(event presence.Event) ws.Message {
	return ws.Message{
		Type: ws.MessageTypePresence,
		Payload: ws.PresencePayload{
			Event: string(event.Type),
			Peer:  peerInfo(event.Peer),
			Peers: peerInfos(event.Peers),
		},
	}
}

// peerInfo converts a presence entry into its wire form.
func peerInfo(entry presence.Entry) ws.PeerInfo {
	info := ws.PeerInfo{
		PeerID:      entry.PeerID,
		UserID:      entry.UserID,
		DisplayName: entry.DisplayName,
		Color:       entry.Color,
	}

	if entry.Cursor != nil {
		info.Cursor = &ws.Cursor{Anchor: entry.Cursor.Anchor, Head: entry.Cursor.Head}
	}

	return info
}

// peerInfos converts a presence entry list into its wire form.
func peerInfos(entries []presence.Entry) []ws.PeerInfo {
	result := make([]ws.PeerInfo, 0, len(entries))
	for _, entry := range entries {
		result = append(result, peerInfo(entry))
	}

	return result
}

// bearerToken extracts the credential from the Authorization header or,
// failing that, the token query parameter (browsers cannot set headers on
// WebSocket requests).
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}

	return r.URL.Query().Get("token")
}

// displayName resolves the peer's display name from the connect request,
// falling back to the identity.
func displayName(r *http.Request, identity auth.Identity) string {
	if name := r.URL.Query().Get("displayName"); name != "" {
		return name
	}

	if identity.DisplayName != "" {
		return identity.DisplayName
	}

	return identity.UserID
}

// peerColor picks the cursor color supplied at connect time, or derives a
// stable one from the peer ID.
func peerColor(r *http.Request, peerID string) string {
	if color := r.URL.Query().Get("color"); color != "" {
		return color
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(peerID))

	return fmt.Sprintf("#%06x", h.Sum32()&0xFFFFFF)
}
