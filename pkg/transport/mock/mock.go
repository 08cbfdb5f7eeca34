// Package mock provides an in-memory stand-in for the transport client,
// used by session tests to script inbound traffic and inspect outbound
// sends without a network.
package mock

import (
	"context"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/transport"
)

// Client records outbound traffic and lets tests inject inbound control
// messages, audio chunks, and state events.
type Client struct {
	mu        sync.Mutex
	connected bool

	connectCount int
	connectErr   error

	frames  [][]byte
	texts   []string
	sendErr error

	control chan transport.ControlMessage
	audio   chan []byte
	events  chan transport.StateEvent
}

// NewClient returns a disconnected mock client.
func NewClient() *Client {
	return &Client{
		control: make(chan transport.ControlMessage, 64),
		audio:   make(chan []byte, 64),
		events:  make(chan transport.StateEvent, 8),
	}
}

// SetConnected flips the connection state without emitting an event.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// SetConnectErr makes subsequent Connect calls fail with err.
func (c *Client) SetConnectErr(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

// SetSendErr makes subsequent SendFrame and SendText calls fail with err.
func (c *Client) SetSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Connected reports the scripted connection state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect counts the attempt and succeeds unless an error was scripted.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCount++
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

// Disconnect marks the client disconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// SendFrame records a copy of pcm, or fails when disconnected.
func (c *Client) SendFrame(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return transport.ErrNotConnected
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	c.frames = append(c.frames, cp)
	return nil
}

// SendText records text, or fails when disconnected.
func (c *Client) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return transport.ErrNotConnected
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.texts = append(c.texts, text)
	return nil
}

// Control returns the scriptable inbound control channel.
func (c *Client) Control() <-chan transport.ControlMessage { return c.control }

// Audio returns the scriptable inbound audio channel.
func (c *Client) Audio() <-chan []byte { return c.audio }

// Events returns the scriptable state event channel.
func (c *Client) Events() <-chan transport.StateEvent { return c.events }

// PushControl injects an inbound control message.
func (c *Client) PushControl(msg transport.ControlMessage) { c.control <- msg }

// PushAudio injects an inbound audio chunk.
func (c *Client) PushAudio(chunk []byte) { c.audio <- chunk }

// PushEvent injects a state event.
func (c *Client) PushEvent(ev transport.StateEvent) { c.events <- ev }

// CloseInbound closes the inbound channels, ending a session dispatch loop.
func (c *Client) CloseInbound() {
	close(c.control)
	close(c.audio)
	close(c.events)
}

// ConnectCount returns how many times Connect was called.
func (c *Client) ConnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectCount
}

// Frames returns the recorded binary sends in order.
func (c *Client) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Texts returns the recorded text sends in order.
func (c *Client) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.texts))
	copy(out, c.texts)
	return out
}
