package ws

import "encoding/json"

// MessageType identifies the kind of control message. Update fragments do
// not use the envelope: they travel as raw binary WebSocket messages, one
// fragment per message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypePresence MessageType = "presence" // Peer announces cursor/info change
	MessageTypeSave     MessageType = "save"     // Peer requests a durable flush

	// Server to Client messages.
	MessageTypeAttached MessageType = "attached" // Attachment acknowledged, peer list follows
	MessageTypeSaved    MessageType = "saved"    // Manual flush completed
	MessageTypeError    MessageType = "error"    // Server reports an error
)

// Message is the envelope for all control (non-fragment) communication.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// Cursor is a position within the document's addressable content.
type Cursor struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// PeerInfo describes one connected peer for presence purposes.
type PeerInfo struct {
	PeerID      string  `json:"peerId"`
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Color       string  `json:"color"`
	Cursor      *Cursor `json:"cursor,omitempty"`
}

// AttachedPayload acknowledges attachment and carries the current peer
// list. The full document state follows as the first binary message.
type AttachedPayload struct {
	DocID string     `json:"docId"`
	Peers []PeerInfo `json:"peers"`
}

// PresencePayload announces a presence change.
type PresencePayload struct {
	Event string     `json:"event"` // "join", "update" or "leave"
	Peer  PeerInfo   `json:"peer"`
	Peers []PeerInfo `json:"peers"`
}

// SavedPayload confirms a manual flush.
type SavedPayload struct {
	DocID   string `json:"docId"`
	Changed bool   `json:"changed"`
}

// ErrorPayload reports an error to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrorCodeAuthenticationFailed = "authentication_failed"
	ErrorCodeAuthorizationFailed  = "authorization_failed"
	ErrorCodeMalformedFragment    = "malformed_fragment"
	ErrorCodeHydrationFailed      = "hydration_failed"
	ErrorCodeFlushFailed          = "flush_failed"
	ErrorCodeInvalidMessage       = "invalid_message"
	ErrorCodeInternalError        = "internal_error"
)

// DecodePayload re-decodes a message payload into a concrete type. Used
// when a Message round-tripped through JSON and the payload is generic.
func DecodePayload(payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}
