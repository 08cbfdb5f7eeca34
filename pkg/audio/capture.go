package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Uplink is the outbound side of the transport as seen by [Capture].
// *transport.Client satisfies it.
type Uplink interface {
	// Connected reports whether the transport currently holds an open
	// connection.
	Connected() bool

	// Connect establishes the connection. Idempotent; the supplied context
	// bounds the attempt.
	Connect(ctx context.Context) error

	// SendFrame transmits one encoded PCM frame as a binary message.
	// Returns an error when the transport is not connected; the frame is
	// never queued.
	SendFrame(ctx context.Context, pcm []byte) error
}

// CaptureOption is a functional option for [NewCapture].
type CaptureOption func(*Capture)

// WithCaptureConfig overrides the capture format (default 16 kHz mono,
// 4096-sample frames).
func WithCaptureConfig(cfg CaptureConfig) CaptureOption {
	return func(c *Capture) { c.cfg = cfg }
}

// WithConnectTimeout bounds the single connect attempt made by
// [Capture.StartListening] when the transport is cold. Default 5s.
func WithConnectTimeout(d time.Duration) CaptureOption {
	return func(c *Capture) { c.connectTimeout = d }
}

// WithLevelFunc registers a callback invoked with the peak input level of
// each captured frame, in [0, 1]. Invoked on the capture pump goroutine;
// the callback must not block.
func WithLevelFunc(fn func(level float64)) CaptureOption {
	return func(c *Capture) { c.onLevel = fn }
}

// Capture bridges the microphone to the outbound frame stream, gated by an
// explicit listening flag.
//
// The listening flag is a single atomic boolean written only by
// StartListening/StopListening and read by the pump on every frame, so a
// frame already buffered when listening is turned off is refused rather
// than sent. Frames that fail to send (transport disconnected) are dropped:
// real-time audio has no value once stale.
type Capture struct {
	device CaptureDevice
	uplink Uplink

	cfg            CaptureConfig
	connectTimeout time.Duration
	onLevel        func(float64)

	listening atomic.Bool

	// mu guards stream/pump lifecycle across StartListening/StopListening.
	mu       sync.Mutex
	stream   CaptureStream
	pumpDone chan struct{}
}

// NewCapture creates a Capture reading from device and sending encoded
// frames through uplink.
func NewCapture(device CaptureDevice, uplink Uplink, opts ...CaptureOption) *Capture {
	c := &Capture{
		device:         device,
		uplink:         uplink,
		cfg:            DefaultCaptureConfig(),
		connectTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Listening reports whether the capture pipeline is currently running.
func (c *Capture) Listening() bool { return c.listening.Load() }

// StartListening opens the microphone and begins streaming encoded frames.
//
// If the transport is not connected, exactly one connect attempt is made,
// bounded by the configured timeout; on failure StartListening returns
// [ErrConnectionUnavailable] and listening does not start. If the microphone
// cannot be opened, [ErrDeviceUnavailable] is returned. Calling
// StartListening while already listening is a no-op.
func (c *Capture) StartListening(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listening.Load() {
		return nil
	}

	if !c.uplink.Connected() {
		cctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		err := c.uplink.Connect(cctx)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
		}
	}

	stream, err := c.device.OpenCapture(c.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	c.stream = stream
	c.pumpDone = make(chan struct{})
	c.listening.Store(true)
	go c.pump(stream, c.pumpDone)

	slog.Info("listening started",
		"sample_rate", c.cfg.SampleRate,
		"frame_size", c.cfg.FrameSize,
	)
	return nil
}

// StopListening tears down the capture pipeline and clears the listening
// flag. Idempotent: calling it when not listening, or twice in a row, is a
// no-op and never releases a device handle twice.
func (c *Capture) StopListening() {
	if !c.listening.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			slog.Warn("capture stream close error", "err", err)
		}
		c.stream = nil
	}
	if c.pumpDone != nil {
		<-c.pumpDone
		c.pumpDone = nil
	}
	slog.Info("listening stopped")
}

// pump reads frames from the stream, encodes them, and sends them through
// the uplink in strict capture order. It exits when the stream closes.
func (c *Capture) pump(stream CaptureStream, done chan struct{}) {
	defer close(done)
	for frame := range stream.Frames() {
		// Re-check on every frame: a callback already in flight when
		// StopListening ran must not send.
		if !c.listening.Load() {
			continue
		}
		if c.onLevel != nil {
			c.onLevel(frame.Peak())
		}
		pcm := EncodeFrame(frame.Samples)
		if err := c.uplink.SendFrame(context.Background(), pcm); err != nil {
			// Perishable: drop, never queue.
			slog.Debug("dropping audio frame", "bytes", len(pcm), "err", err)
		}
	}
}
