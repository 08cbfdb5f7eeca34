// Package mock provides hand-written test doubles for the audio package
// interfaces: capture device, capture stream, player, and uplink.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/audio"
)

// CaptureDevice is a mock [audio.CaptureDevice]. Configure OpenErr to
// simulate a missing or denied microphone.
type CaptureDevice struct {
	mu      sync.Mutex
	OpenErr error

	opened  int
	streams []*CaptureStream
}

// OpenCapture returns a new mock stream, or OpenErr if set.
func (d *CaptureDevice) OpenCapture(cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opened++
	s := &CaptureStream{frames: make(chan audio.Frame, 64)}
	d.streams = append(d.streams, s)
	return s, nil
}

// OpenCount returns how many capture streams were opened.
func (d *CaptureDevice) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// LastStream returns the most recently opened stream, or nil.
func (d *CaptureDevice) LastStream() *CaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// CaptureStream is a mock [audio.CaptureStream] fed by tests via Emit.
type CaptureStream struct {
	mu     sync.Mutex
	frames chan audio.Frame
	closed bool

	CloseCount int
}

// Emit delivers one frame to the stream's consumer. No-op after Close.
func (s *CaptureStream) Emit(frame audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- frame
}

// Frames returns the frame channel.
func (s *CaptureStream) Frames() <-chan audio.Frame { return s.frames }

// Close closes the frame channel. Safe to call more than once; CloseCount
// records every call so tests can assert single release.
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

// Player is a mock [audio.Player]. It records every unit handed to Play and
// lets tests complete units manually via FinishCurrent.
type Player struct {
	mu sync.Mutex

	PlayErr error

	units   [][]byte
	dones   []func(error)
	active  int // index into units of the in-flight unit, -1 when idle
	stopped int
}

// NewPlayer returns an idle mock player.
func NewPlayer() *Player {
	return &Player{active: -1}
}

// Play records the unit. Returns PlayErr if set.
func (p *Player) Play(unit []byte, done func(err error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PlayErr != nil {
		return p.PlayErr
	}
	p.units = append(p.units, unit)
	p.dones = append(p.dones, done)
	p.active = len(p.units) - 1
	return nil
}

// Stop marks the in-flight unit as cancelled. Its done callback is not
// invoked (the real players invoke done with nil from their own goroutine;
// tests that care call FinishCurrent explicitly).
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active >= 0 {
		p.stopped++
		p.active = -1
	}
}

// Close is a no-op.
func (p *Player) Close() error { return nil }

// FinishCurrent invokes the done callback of the most recent Play with err,
// simulating natural completion or a device error. The callback runs on the
// caller's goroutine, which is outside the buffer's lock as required by the
// [audio.Player] contract.
func (p *Player) FinishCurrent(err error) {
	p.mu.Lock()
	if len(p.dones) == 0 {
		p.mu.Unlock()
		return
	}
	done := p.dones[len(p.dones)-1]
	p.active = -1
	p.mu.Unlock()
	done(err)
}

// Units returns every unit handed to Play, in order.
func (p *Player) Units() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.units))
	copy(out, p.units)
	return out
}

// StopCount returns how many in-flight units were cancelled via Stop.
func (p *Player) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// ActiveUnits returns the number of units currently in flight (0 or 1 when
// the at-most-one invariant holds).
func (p *Player) ActiveUnits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active >= 0 {
		return 1
	}
	return 0
}

// Uplink is a mock [audio.Uplink]. It records sent frames and can simulate
// a transport that is down or fails to connect.
type Uplink struct {
	mu sync.Mutex

	ConnectErr error
	connected  bool
	connects   int
	frames     [][]byte
}

// ErrUplinkDown is returned by SendFrame while the mock is disconnected.
var ErrUplinkDown = errors.New("mock: not connected")

// SetConnected forces the connection flag.
func (u *Uplink) SetConnected(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.connected = v
}

// Connected reports the connection flag.
func (u *Uplink) Connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connected
}

// Connect increments the attempt counter and either fails with ConnectErr
// or marks the uplink connected.
func (u *Uplink) Connect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.connects++
	if u.ConnectErr != nil {
		return u.ConnectErr
	}
	u.connected = true
	return nil
}

// ConnectCount returns how many Connect attempts were made.
func (u *Uplink) ConnectCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.connects
}

// SendFrame records pcm while connected; returns ErrUplinkDown otherwise.
func (u *Uplink) SendFrame(ctx context.Context, pcm []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.connected {
		return ErrUplinkDown
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	u.frames = append(u.frames, buf)
	return nil
}

// Frames returns every frame sent while connected, in order.
func (u *Uplink) Frames() [][]byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([][]byte, len(u.frames))
	copy(out, u.frames)
	return out
}
