package audio

import (
	"log/slog"
	"sync"
)

// PlaybackState is the state of a [PlaybackBuffer].
type PlaybackState int

const (
	// PlaybackIdle — no open turn and no unit in flight.
	PlaybackIdle PlaybackState = iota

	// PlaybackAccumulating — a turn is open and accepting chunks.
	PlaybackAccumulating

	// PlaybackPlaying — a concatenated unit has been handed to the player.
	PlaybackPlaying
)

// String returns the human-readable name of the state.
func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "IDLE"
	case PlaybackAccumulating:
		return "ACCUMULATING"
	case PlaybackPlaying:
		return "PLAYING"
	default:
		return "UNKNOWN"
	}
}

// PlaybackBuffer reassembles a multi-chunk synthesis response into one
// continuous playback. Chunks arrive incrementally over the transport;
// completion is detected by an explicit final marker, not by stream end.
//
// State machine: Idle → Accumulating → Playing → Idle. At most one playback
// unit is ever active: starting a new unit stops and discards the previous
// one first. All methods are safe for concurrent use, though in practice
// they are driven by the session's single dispatch loop.
//
// The player is only ever invoked outside the buffer's lock: the completion
// callback may re-enter the buffer from a goroutine that holds the player's
// own device locks.
type PlaybackBuffer struct {
	player Player

	// onActive observes the unit lifecycle. Immutable after construction and
	// invoked outside the lock.
	onActive func(delta int)

	mu     sync.Mutex
	state  PlaybackState
	chunks [][]byte

	// active is true while a unit is with the player. generation tags the
	// in-flight unit so a stale done callback cannot disturb a newer one.
	active     bool
	generation uint64
}

// PlaybackOption is a functional option for [NewPlaybackBuffer].
type PlaybackOption func(*PlaybackBuffer)

// WithActiveFunc registers fn to observe the unit lifecycle: fn(+1) when a
// unit is handed to the player, fn(-1) when it ends or is cancelled. fn runs
// outside the buffer's lock and must not call back into the buffer.
func WithActiveFunc(fn func(delta int)) PlaybackOption {
	return func(b *PlaybackBuffer) { b.onActive = fn }
}

// NewPlaybackBuffer creates an idle buffer that plays finalized units
// through player.
func NewPlaybackBuffer(player Player, opts ...PlaybackOption) *PlaybackBuffer {
	b := &PlaybackBuffer{player: player}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current state.
func (b *PlaybackBuffer) State() PlaybackState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Append adds one binary audio chunk to the open turn, opening a new turn if
// none is open. Ownership of chunk transfers to the buffer. If a previous
// unit is still in flight when a new turn opens, that playback is cancelled
// first — a new open buffer may not begin over an active playback.
func (b *PlaybackBuffer) Append(chunk []byte) {
	b.mu.Lock()
	stop := false
	switch b.state {
	case PlaybackPlaying:
		stop = b.active
		b.active = false
		b.state = PlaybackAccumulating
	case PlaybackIdle:
		b.state = PlaybackAccumulating
	}
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()

	if stop {
		b.player.Stop()
		b.released()
	}
}

// Finalize closes the open turn: all accumulated chunks are concatenated in
// arrival order into one unit and handed to the player. With no accumulated
// chunks Finalize is a no-op. A previous unit still in flight is stopped
// before the new one starts.
func (b *PlaybackBuffer) Finalize() {
	b.mu.Lock()
	if len(b.chunks) == 0 {
		b.mu.Unlock()
		return
	}
	stop := b.active
	b.active = false
	b.mu.Unlock()

	if stop {
		b.player.Stop()
		b.released()
	}

	b.mu.Lock()
	if b.active {
		// Two simultaneously active units indicate a logic defect, not an
		// environmental failure.
		panic("audio: playback unit already active")
	}
	if len(b.chunks) == 0 {
		b.state = PlaybackIdle
		b.mu.Unlock()
		return
	}
	var total int
	for _, c := range b.chunks {
		total += len(c)
	}
	unit := make([]byte, 0, total)
	for _, c := range b.chunks {
		unit = append(unit, c...)
	}
	b.chunks = nil
	b.generation++
	gen := b.generation
	b.active = true
	b.state = PlaybackPlaying
	b.mu.Unlock()

	b.handedOff()
	err := b.player.Play(unit, func(perr error) {
		b.playbackDone(gen, perr)
	})
	if err != nil {
		b.mu.Lock()
		rolledBack := false
		if gen == b.generation && b.active {
			b.active = false
			b.state = PlaybackIdle
			rolledBack = true
		}
		b.mu.Unlock()
		if rolledBack {
			b.released()
		}
		slog.Warn("playback rejected", "bytes", len(unit), "err", err)
	}
}

// Stop cancels any in-flight playback and discards any accumulated chunks,
// returning the buffer to Idle. Used on disconnect/shutdown. Idempotent.
func (b *PlaybackBuffer) Stop() {
	b.mu.Lock()
	stop := b.active
	b.active = false
	b.chunks = nil
	b.state = PlaybackIdle
	b.mu.Unlock()

	if stop {
		b.player.Stop()
		b.released()
	}
}

// playbackDone is invoked by the player when a unit finishes (naturally or
// with a device error). Stale callbacks — from a unit that was stopped and
// superseded — are ignored via the generation tag.
func (b *PlaybackBuffer) playbackDone(gen uint64, err error) {
	b.mu.Lock()
	if gen != b.generation || !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	if b.state == PlaybackPlaying {
		b.state = PlaybackIdle
	}
	b.mu.Unlock()

	b.released()
	if err != nil {
		// Not fatal to the session: the turn simply ends.
		slog.Warn("playback failed", "err", err)
	}
}

func (b *PlaybackBuffer) handedOff() {
	if b.onActive != nil {
		b.onActive(1)
	}
}

func (b *PlaybackBuffer) released() {
	if b.onActive != nil {
		b.onActive(-1)
	}
}
