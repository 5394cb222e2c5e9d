package ws

import (
	"sync"
)

// Hub manages connected clients and per-document broadcast groups.
// Clients are held as handles only: their lifetime is owned by the
// transport layer, the hub never closes a connection.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// documents maps document ID to set of client IDs
	documents map[string]map[string]struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		documents: make(map[string]map[string]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
}

// Unregister removes a client from the hub and any document subscription.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	docID := client.DocID()
	if docID != "" {
		h.removeSubscription(docID, client.ID)
	}

	delete(h.clients, client.ID)
}

// Subscribe adds a client to a document's broadcast group.
func (h *Hub) Subscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	oldDocID := client.DocID()
	if oldDocID != "" && oldDocID != docID {
		h.removeSubscription(oldDocID, client.ID)
	}

	if h.documents[docID] == nil {
		h.documents[docID] = make(map[string]struct{})
	}

	h.documents[docID][client.ID] = struct{}{}
	client.SetDocID(docID)
}

// Unsubscribe removes a client from a document's broadcast group.
func (h *Hub) Unsubscribe(client *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeSubscription(docID, client.ID)

	if client.DocID() == docID {
		client.SetDocID("")
	}
}

// removeSubscription must be called with the lock held.
func (h *Hub) removeSubscription(docID, clientID string) {
	clients, ok := h.documents[docID]
	if !ok {
		return
	}

	delete(clients, clientID)

	if len(clients) == 0 {
		delete(h.documents, docID)
	}
}

// BroadcastFragment sends an update fragment to all clients subscribed to
// a document, except the sender (identified by excludeClientID). Each
// subscriber's own send queue preserves the enqueue order; a subscriber
// whose queue is full is dropped by its client, never waited on.
func (h *Hub) BroadcastFragment(docID string, fragment []byte, excludeClientID string) {
	for _, client := range h.subscribers(docID, excludeClientID) {
		_ = client.SendFragment(fragment)
	}
}

// BroadcastEvent sends a control message to all clients subscribed to a
// document. Pass an empty excludeClientID to include every subscriber.
func (h *Hub) BroadcastEvent(docID string, msg Message, excludeClientID string) {
	for _, client := range h.subscribers(docID, excludeClientID) {
		_ = client.SendEvent(msg)
	}
}

// subscribers returns the clients subscribed to a document, excluding one.
func (h *Hub) subscribers(docID, excludeClientID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientIDs, ok := h.documents[docID]
	if !ok {
		return nil
	}

	result := make([]*Client, 0, len(clientIDs))

	for clientID := range clientIDs {
		if clientID == excludeClientID {
			continue
		}

		if client, ok := h.clients[clientID]; ok {
			result = append(result, client)
		}
	}

	return result
}

// ClientCount returns the number of clients subscribed to a document.
func (h *Hub) ClientCount(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.documents[docID]; ok {
		return len(clients)
	}

	return 0
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
