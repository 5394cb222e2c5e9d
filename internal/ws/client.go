package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClientClosed indicates a send to a client whose connection is
// closed or closing.
var ErrClientClosed = errors.New("client connection closed")

// sendQueueSize bounds the per-client outbound queue. A client that
// cannot drain this many frames is dropped rather than reordered or
// allowed to stall everyone else.
const sendQueueSize = 256

// writeTimeout bounds a single frame write, so a peer that stops
// reading cannot wedge the writer.
const writeTimeout = 10 * time.Second

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// frame is one queued outbound message.
type frame struct {
	messageType int
	data        []byte
}

// Client represents a connected peer. One Client exists per transport
// connection; a user with two tabs open has two clients. All outbound
// messages pass through a single writer goroutine, so each client
// observes sends in exactly the order they were enqueued.
type Client struct {
	ID     string
	UserID string

	mu    sync.Mutex
	conn  Conn
	docID string // Currently subscribed document

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new client wrapper and starts its writer.
func NewClient(id, userID string, conn Conn) *Client {
	c := &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		send:   make(chan frame, sendQueueSize),
		done:   make(chan struct{}),
	}

	go c.writePump()

	return c
}

// writePump drains the send queue onto the connection, one frame at a
// time. The pump owns closing the transport: on Close it flushes what
// was already queued (so a final error envelope still reaches the peer)
// and then closes the connection, which unblocks the read side.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	write := func(f frame) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		return c.conn.WriteMessage(f.messageType, f.data) == nil
	}

	for {
		select {
		case f := <-c.send:
			if !write(f) {
				return
			}
		case <-c.done:
			for {
				select {
				case f := <-c.send:
					if !write(f) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// enqueue appends a frame to the outbound queue. A full queue means the
// peer is not keeping up; the connection is dropped instead of blocking
// or reordering delivery.
func (c *Client) enqueue(messageType int, data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- frame{messageType: messageType, data: data}:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		_ = c.Close()

		return ErrClientClosed
	}
}

// SendFragment queues an update fragment as a binary message.
func (c *Client) SendFragment(fragment []byte) error {
	return c.enqueue(websocket.BinaryMessage, fragment)
}

// SendEvent queues a control message as a JSON text message.
func (c *Client) SendEvent(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return c.enqueue(websocket.TextMessage, data)
}

// SendError queues an error message to the client.
func (c *Client) SendError(code, message string) error {
	return c.SendEvent(Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	})
}

// Receive reads the next raw message from the client. Binary messages are
// update fragments; text messages are JSON control envelopes. A non-zero
// idleTimeout bounds the wait: a connection that stays silent past it is
// treated as disconnected.
func (c *Client) Receive(idleTimeout time.Duration) (messageType int, data []byte, err error) {
	if idleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return 0, nil, err
		}
	}

	return c.conn.ReadMessage()
}

// Close rejects further sends and signals the writer, which flushes the
// queue and closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	return nil
}

// DocID returns the document the client is subscribed to.
func (c *Client) DocID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.docID
}

// SetDocID sets the document the client is subscribed to.
func (c *Client) SetDocID(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.docID = docID
}
