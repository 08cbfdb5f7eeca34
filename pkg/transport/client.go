// Package transport owns the single WebSocket connection between a voxpipe
// client and the remote speech service. It serializes outbound PCM frames
// and JSON control messages, demultiplexes inbound traffic by payload kind
// (text vs. binary), and publishes connection-state events.
//
// The connection is addressed by the service endpoint plus the client's
// identity as a path segment: <endpoint>/ws/<client_id>. The WebSocket
// guarantees ordered, reliable delivery per direction, so no sequencing is
// layered on top.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ErrNotConnected is returned by send operations while no connection is
// open. Frames hitting this are dropped by the caller, never queued:
// real-time audio has no value once stale.
var ErrNotConnected = errors.New("transport: not connected")

// State is the connection status of a [Client].
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ControlMessage is a structured event received from the remote service.
// An absent isFinal is equivalent to false.
type ControlMessage struct {
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
}

// StateEvent reports a connection-state transition. Reason is non-nil when
// the transition to Disconnected was caused by a failure.
type StateEvent struct {
	State  State
	Reason error
}

// outboundText is the JSON payload for a finalized transcript submission.
type outboundText struct {
	Text string `json:"text"`
}

// NewClientID returns a fresh opaque identity for one client process. The
// identity is generated once, kept for the process lifetime, and routes the
// connection on the server side.
func NewClientID() string {
	return uuid.NewString()
}

// Option is a functional option for [New].
type Option func(*Client)

// WithReadLimit overrides the maximum inbound message size in bytes.
// The default is 1 MiB, sized for whole synthesized audio chunks.
func WithReadLimit(n int64) Option {
	return func(c *Client) { c.readLimit = n }
}

// Client owns exactly one logical connection to the remote endpoint. It is
// safe for concurrent use; sends from the capture pump and the user path may
// interleave, and each WebSocket write is atomic.
type Client struct {
	endpoint  string
	clientID  string
	readLimit int64

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	connectCancel context.CancelFunc
	readCancel    context.CancelFunc
	readDone      chan struct{}

	// writeMu serializes writes: coder/websocket allows one concurrent writer.
	writeMu sync.Mutex

	control chan ControlMessage
	audio   chan []byte
	events  chan StateEvent
}

// New creates a disconnected Client for endpoint (e.g. "ws://host:8000")
// and the given client identity.
func New(endpoint, clientID string, opts ...Option) *Client {
	c := &Client{
		endpoint:  endpoint,
		clientID:  clientID,
		readLimit: 1 << 20,
		control:   make(chan ControlMessage, 64),
		audio:     make(chan []byte, 256),
		events:    make(chan StateEvent, 8),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client currently holds an open connection.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Control returns the channel of inbound JSON control messages, in wire
// arrival order.
func (c *Client) Control() <-chan ControlMessage { return c.control }

// Audio returns the channel of inbound binary audio chunks, in wire arrival
// order.
func (c *Client) Audio() <-chan []byte { return c.audio }

// Events returns the channel of connection-state events.
func (c *Client) Events() <-chan StateEvent { return c.events }

// Connect establishes the connection. Idempotent: when already Connected or
// Connecting it returns immediately without creating a second connection.
// On success the client transitions to Connected and emits a connected
// event; on failure a disconnected event carrying the reason is emitted.
// The client never retries internally; retry policy belongs to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	dctx, cancel := context.WithCancel(ctx)
	c.connectCancel = cancel
	c.mu.Unlock()

	wsURL, err := url.JoinPath(c.endpoint, "ws", c.clientID)
	if err != nil {
		c.connectFailed(fmt.Errorf("transport: bad endpoint: %w", err))
		return fmt.Errorf("transport: bad endpoint: %w", err)
	}

	conn, _, err := websocket.Dial(dctx, wsURL, nil)
	if err != nil {
		err = fmt.Errorf("transport: dial %s: %w", wsURL, err)
		c.connectFailed(err)
		return err
	}
	conn.SetReadLimit(c.readLimit)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the dial and won; discard the fresh connection.
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return ErrNotConnected
	}
	c.connectCancel = nil
	c.conn = conn
	c.state = StateConnected
	rctx, rcancel := context.WithCancel(context.Background())
	c.readCancel = rcancel
	c.readDone = make(chan struct{})
	go c.readLoop(rctx, conn, c.readDone)
	c.mu.Unlock()

	slog.Info("transport connected", "url", wsURL)
	c.emit(StateEvent{State: StateConnected})
	return nil
}

// connectFailed rolls the state back after a failed dial and emits the
// disconnected event with the reason.
func (c *Client) connectFailed(reason error) {
	c.mu.Lock()
	c.connectCancel = nil
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	c.emit(StateEvent{State: StateDisconnected, Reason: reason})
}

// SendFrame transmits one encoded PCM frame as a binary message. While not
// Connected it returns [ErrNotConnected] and the frame is discarded; frames
// are never queued for later delivery.
func (c *Client) SendFrame(ctx context.Context, pcm []byte) error {
	conn := c.connectedConn()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return fmt.Errorf("transport: send frame: %w", err)
	}
	return nil
}

// SendText transmits {"text": text} as a JSON text message, submitting a
// finalized transcript for processing. Returns [ErrNotConnected] while
// disconnected.
func (c *Client) SendText(ctx context.Context, text string) error {
	conn := c.connectedConn()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(outboundText{Text: text})
	if err != nil {
		return fmt.Errorf("transport: marshal text: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("transport: send text: %w", err)
	}
	return nil
}

// connectedConn returns the open connection, or nil when not Connected.
func (c *Client) connectedConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

// Disconnect closes the connection and cancels any in-progress connect
// wait. Safe to call multiple times and from any state.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.connectCancel != nil {
		c.connectCancel()
		c.connectCancel = nil
	}
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	readCancel := c.readCancel
	readDone := c.readDone
	c.conn = nil
	c.readCancel = nil
	c.readDone = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if readCancel != nil {
		readCancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if readDone != nil {
		<-readDone
	}
	slog.Info("transport disconnected")
	c.emit(StateEvent{State: StateDisconnected})
	return nil
}

// readLoop receives messages until the connection fails or is closed, and
// dispatches them to the control and audio channels in arrival order.
// Malformed text frames are logged and discarded; the connection stays open.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			c.readFailed(conn, err)
			return
		}
		switch typ {
		case websocket.MessageText:
			var msg ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Warn("discarding malformed control message",
					"bytes", len(data),
					"err", err,
				)
				continue
			}
			select {
			case c.control <- msg:
			case <-ctx.Done():
				return
			}
		case websocket.MessageBinary:
			select {
			case c.audio <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// readFailed handles a connection dropped by the peer or the network.
// A deliberate Disconnect has already transitioned the state, in which case
// no duplicate event is emitted.
func (c *Client) readFailed(conn *websocket.Conn, reason error) {
	c.mu.Lock()
	if c.state != StateConnected || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	c.readCancel = nil
	c.readDone = nil
	c.mu.Unlock()

	conn.Close(websocket.StatusInternalError, "read failed")
	slog.Warn("transport connection lost", "err", reason)
	c.emit(StateEvent{State: StateDisconnected, Reason: reason})
}

// emit publishes a state event without blocking. With no one consuming, the
// oldest buffered event is evicted so the most recent transition is always
// the one a late consumer sees.
func (c *Client) emit(ev StateEvent) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case old := <-c.events:
			slog.Debug("state event evicted", "state", old.State)
		default:
		}
	}
}
