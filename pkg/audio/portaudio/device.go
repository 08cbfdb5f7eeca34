package portaudio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxpipe/voxpipe/pkg/audio"
)

// Device implements [audio.CaptureDevice] on the default PortAudio input
// device. The zero value is ready to use.
type Device struct {
	mu   sync.Mutex
	open bool
}

// OpenCapture acquires the default microphone at the requested format and
// starts delivering frames. Only one stream may be open per Device; the
// microphone is an exclusively-owned resource.
func (d *Device) OpenCapture(cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return nil, fmt.Errorf("portaudio: capture stream already open")
	}

	in, err := openInput(cfg.SampleRate, cfg.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input: %w", err)
	}

	// Keep-alive tap: a silent output stream held open for the session.
	// Failure is not fatal — capture works without it.
	tap, err := openOutput(cfg.SampleRate, cfg.FrameSize)
	if err != nil {
		slog.Debug("keep-alive output unavailable", "err", err)
		tap = nil
	}

	s := &stream{
		dev:    d,
		in:     in,
		tap:    tap,
		cfg:    cfg,
		frames: make(chan audio.Frame, 4),
		done:   make(chan struct{}),
	}
	d.open = true
	go s.readLoop()
	return s, nil
}

// release marks the device free again. Called from stream.Close.
func (d *Device) release() {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
}

// stream is an open microphone stream. It owns one input PaStream and,
// optionally, the silent keep-alive output.
type stream struct {
	dev *Device
	in  *rawStream
	tap *rawStream
	cfg audio.CaptureConfig

	frames chan audio.Frame
	done   chan struct{}
	once   sync.Once

	// ioMu serializes PortAudio calls against Close: the PaStream must not
	// be closed while a blocking read is in flight.
	ioMu sync.Mutex
}

// Frames returns the channel of captured frames, in capture order.
func (s *stream) Frames() <-chan audio.Frame { return s.frames }

// readLoop blocks on the PortAudio input at the frame cadence and forwards
// each block. It feeds the keep-alive tap with zero samples so the tap never
// produces audible output. Exits when the stream is closed or the device
// errors.
func (s *stream) readLoop() {
	defer close(s.frames)
	silence := make([]float32, s.cfg.FrameSize)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		buf := make([]float32, s.cfg.FrameSize)
		s.ioMu.Lock()
		select {
		case <-s.done:
			s.ioMu.Unlock()
			return
		default:
		}
		err := s.in.read(buf)
		if err == nil && s.tap != nil {
			_ = s.tap.write(silence)
		}
		s.ioMu.Unlock()
		if err != nil {
			select {
			case <-s.done:
			default:
				slog.Warn("capture read error", "err", err)
			}
			return
		}

		select {
		case s.frames <- audio.Frame{Samples: buf}:
		case <-s.done:
			return
		}
	}
}

// Close releases the microphone and the keep-alive tap. Safe to call more
// than once.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.ioMu.Lock()
		defer s.ioMu.Unlock()
		err = s.in.close()
		if s.tap != nil {
			if terr := s.tap.close(); err == nil {
				err = terr
			}
		}
		s.dev.release()
	})
	return err
}
