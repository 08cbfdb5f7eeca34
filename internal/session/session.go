// Package session ties the capture pipeline, the playback buffer, and the
// transport together into one conversation. A single dispatch loop consumes
// every inbound channel, so conversation state and the playback buffer are
// only ever driven from one goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/transport"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one completed utterance in the conversation history.
type Message struct {
	Role Role
	Text string
	At   time.Time
}

// Transport is the connection surface the session drives. Satisfied by
// *transport.Client.
type Transport interface {
	Connected() bool
	Connect(ctx context.Context) error
	Disconnect() error
	SendFrame(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string) error
	Control() <-chan transport.ControlMessage
	Audio() <-chan []byte
	Events() <-chan transport.StateEvent
}

// Status is a point-in-time snapshot for display.
type Status struct {
	Connected  bool
	Listening  bool
	Playback   audio.PlaybackState
	Transcript string
	Messages   int
	InputLevel float64
}

// Option is a functional option for [New].
type Option func(*Session)

// WithMetrics overrides the metrics instance (default
// [observe.DefaultMetrics]).
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithCaptureConfig overrides the microphone capture format.
func WithCaptureConfig(cfg audio.CaptureConfig) Option {
	return func(s *Session) { s.captureOpts = append(s.captureOpts, audio.WithCaptureConfig(cfg)) }
}

// WithConnectTimeout bounds the connect attempt made when listening starts
// while disconnected.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) { s.captureOpts = append(s.captureOpts, audio.WithConnectTimeout(d)) }
}

// Session owns one conversation with the remote service.
//
// The microphone path runs on the capture pump; everything inbound runs on
// the dispatch loop started by [Session.Run]. History is append-only: only
// completed utterances are recorded, while the in-progress assistant
// transcript lives in a separate field that each update overwrites.
type Session struct {
	tr       Transport
	capture  *audio.Capture
	playback *audio.PlaybackBuffer
	metrics  *observe.Metrics

	captureOpts []audio.CaptureOption

	mu         sync.Mutex
	history    []Message
	transcript string
	turnBytes  int
	level      float64
}

// New creates a Session over the given transport and audio devices.
func New(tr Transport, device audio.CaptureDevice, player audio.Player, opts ...Option) *Session {
	s := &Session{tr: tr}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.playback = audio.NewPlaybackBuffer(player, audio.WithActiveFunc(func(delta int) {
		s.metrics.ActivePlaybacks.Add(context.Background(), int64(delta))
	}))
	captureOpts := append([]audio.CaptureOption{audio.WithLevelFunc(s.onLevel)}, s.captureOpts...)
	s.capture = audio.NewCapture(device, s, captureOpts...)
	return s
}

// ── uplink (capture → transport, with accounting) ────────────────────────────

// Connected implements [audio.Uplink].
func (s *Session) Connected() bool { return s.tr.Connected() }

// Connect implements [audio.Uplink], recording the attempt outcome.
func (s *Session) Connect(ctx context.Context) error {
	err := s.tr.Connect(ctx)
	if err != nil {
		s.metrics.RecordConnect(ctx, "error")
		return err
	}
	s.metrics.RecordConnect(ctx, "ok")
	return nil
}

// SendFrame implements [audio.Uplink], counting delivered and dropped
// frames.
func (s *Session) SendFrame(ctx context.Context, pcm []byte) error {
	err := s.tr.SendFrame(ctx, pcm)
	switch {
	case err == nil:
		s.metrics.RecordFrameSent(ctx, len(pcm))
		return nil
	case errors.Is(err, transport.ErrNotConnected):
		s.metrics.RecordFrameDropped(ctx, "disconnected")
		return err
	default:
		s.metrics.RecordFrameDropped(ctx, "error")
		return err
	}
}

// ── user-facing operations ───────────────────────────────────────────────────

// StartListening opens the microphone and begins streaming. Connects first
// when disconnected; see [audio.Capture.StartListening] for the error
// contract.
func (s *Session) StartListening(ctx context.Context) error {
	return s.capture.StartListening(ctx)
}

// StopListening stops the microphone stream. Idempotent.
func (s *Session) StopListening() {
	s.capture.StopListening()
}

// Listening reports whether the microphone pipeline is running.
func (s *Session) Listening() bool { return s.capture.Listening() }

// SendText submits a typed utterance as a finalized transcript. On success
// it is recorded in the history as a user message.
func (s *Session) SendText(ctx context.Context, text string) error {
	if err := s.tr.SendText(ctx, text); err != nil {
		return fmt.Errorf("session: send text: %w", err)
	}
	s.metrics.TextsSent.Add(ctx, 1)
	s.mu.Lock()
	s.history = append(s.history, Message{Role: RoleUser, Text: text, At: time.Now()})
	s.mu.Unlock()
	return nil
}

// History returns a copy of the completed conversation messages in order.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Transcript returns the latest assistant transcript, which may still be in
// progress.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Status returns a snapshot of the session for display.
func (s *Session) Status() Status {
	s.mu.Lock()
	transcript := s.transcript
	messages := len(s.history)
	level := s.level
	s.mu.Unlock()
	return Status{
		Connected:  s.tr.Connected(),
		Listening:  s.capture.Listening(),
		Playback:   s.playback.State(),
		Transcript: transcript,
		Messages:   messages,
		InputLevel: level,
	}
}

// Close stops the microphone, cancels playback, and disconnects.
func (s *Session) Close() error {
	s.capture.StopListening()
	s.playback.Stop()
	return s.tr.Disconnect()
}

// ── dispatch ─────────────────────────────────────────────────────────────────

// Run consumes the transport's inbound channels until ctx is cancelled or
// the channels close. It is the only goroutine that touches the playback
// buffer and the assistant transcript.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.tr.Control():
			if !ok {
				return nil
			}
			s.handleControl(ctx, msg)
		case chunk, ok := <-s.tr.Audio():
			if !ok {
				return nil
			}
			s.handleChunk(ctx, chunk)
		case ev, ok := <-s.tr.Events():
			if !ok {
				return nil
			}
			s.handleEvent(ctx, ev)
		}
	}
}

// handleControl applies one inbound control message. Non-empty text
// overwrites the in-progress transcript; the final marker closes the audio
// turn and promotes the transcript into the history.
func (s *Session) handleControl(ctx context.Context, msg transport.ControlMessage) {
	if msg.Text != "" {
		s.mu.Lock()
		s.transcript = msg.Text
		s.mu.Unlock()
	}

	if !msg.IsFinal {
		s.metrics.RecordControlMessage(ctx, "partial")
		return
	}
	s.metrics.RecordControlMessage(ctx, "final")

	s.mu.Lock()
	turnBytes := s.turnBytes
	s.turnBytes = 0
	transcript := s.transcript
	if transcript != "" {
		s.history = append(s.history, Message{Role: RoleAssistant, Text: transcript, At: time.Now()})
	}
	s.mu.Unlock()

	s.playback.Finalize()
	if turnBytes > 0 {
		s.metrics.RecordTurnPlayed(ctx, turnBytes)
	}
	slog.Info("turn complete", "transcript_len", len(transcript), "audio_bytes", turnBytes)
}

// handleChunk buffers one synthesized audio chunk for the open turn.
func (s *Session) handleChunk(ctx context.Context, chunk []byte) {
	s.metrics.ChunksReceived.Add(ctx, 1)
	s.mu.Lock()
	s.turnBytes += len(chunk)
	s.mu.Unlock()
	s.playback.Append(chunk)
}

// handleEvent reacts to connection-state changes. Losing the connection
// stops the microphone and discards the half-accumulated turn; there is no
// automatic reconnect.
func (s *Session) handleEvent(ctx context.Context, ev transport.StateEvent) {
	switch ev.State {
	case transport.StateConnected:
		slog.Info("session connected")
	case transport.StateDisconnected:
		s.metrics.Disconnects.Add(ctx, 1)
		if ev.Reason != nil {
			slog.Warn("session disconnected", "err", ev.Reason)
		} else {
			slog.Info("session disconnected")
		}
		s.capture.StopListening()
		s.playback.Stop()
		s.mu.Lock()
		s.turnBytes = 0
		s.mu.Unlock()
	}
}

// onLevel records the most recent microphone peak level. Runs on the
// capture pump goroutine.
func (s *Session) onLevel(level float64) {
	s.metrics.InputLevel.Record(context.Background(), level)
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}
