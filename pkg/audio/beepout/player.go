// Package beepout provides the beep-backed [audio.Player]. Concatenated MP3
// units from the playback buffer are decoded with beep/mp3 and streamed to
// the default output device through beep/speaker — codec work and device
// I/O are both delegated to the media library.
package beepout

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"

	"github.com/voxpipe/voxpipe/pkg/audio"
)

// Player implements [audio.Player] for MP3 units. The speaker is initialized
// once, at the sample rate of the first unit; later units at a different rate
// are resampled to match.
type Player struct {
	mu          sync.Mutex
	format      beep.Format
	initialized bool
	closed      bool
}

// New creates an uninitialized Player. The output device is acquired lazily
// on the first Play so that constructing a Player never fails.
func New() *Player {
	return &Player{}
}

var _ audio.Player = (*Player)(nil)

// Play decodes unit as MP3 and begins asynchronous playback. done is invoked
// on its own goroutine when the unit ends; a unit cancelled by Stop never
// reaches its callback (the playback buffer treats it as stale).
func (p *Player) Play(unit []byte, done func(err error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("beepout: player is closed")
	}

	streamer, format, err := mp3.Decode(nopSeekCloser{bytes.NewReader(unit)})
	if err != nil {
		return fmt.Errorf("beepout: decode unit: %w", err)
	}

	if !p.initialized {
		// 1/10s buffer: small enough for conversational latency.
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			streamer.Close()
			return fmt.Errorf("beepout: speaker init: %w", err)
		}
		p.format = format
		p.initialized = true
	}

	var unitStream beep.Streamer = streamer
	if format.SampleRate != p.format.SampleRate {
		unitStream = beep.Resample(4, format.SampleRate, p.format.SampleRate, streamer)
	}

	speaker.Play(beep.Seq(unitStream, beep.Callback(func() {
		streamer.Close()
		// The speaker fires callbacks while holding its package mutex,
		// which Play and Stop also take. done runs on its own goroutine so
		// the completion path may call back into the player.
		go done(nil)
	})))
	return nil
}

// Stop drops everything queued on the speaker. The cancelled unit's callback
// never fires.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized && !p.closed {
		speaker.Clear()
	}
}

// Close stops playback and releases the output device.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.initialized {
		speaker.Clear()
		speaker.Close()
	}
	return nil
}

// nopSeekCloser adapts a bytes.Reader to the io.ReadCloser wanted by
// mp3.Decode while keeping it seekable for length probing.
type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

var _ io.ReadSeeker = nopSeekCloser{}
