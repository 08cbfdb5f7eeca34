package audio_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/pkg/audio"
	"github.com/voxpipe/voxpipe/pkg/audio/mock"
)

func TestPlaybackConcatenation(t *testing.T) {
	t.Parallel()

	player := mock.NewPlayer()
	buf := audio.NewPlaybackBuffer(player)

	buf.Append([]byte("C1-"))
	buf.Append([]byte("C2-"))
	buf.Append([]byte("C3"))
	if got := buf.State(); got != audio.PlaybackAccumulating {
		t.Fatalf("want ACCUMULATING, got %v", got)
	}

	buf.Finalize()

	units := player.Units()
	if len(units) != 1 {
		t.Fatalf("want exactly one unit, got %d", len(units))
	}
	if !bytes.Equal(units[0], []byte("C1-C2-C3")) {
		t.Fatalf("want exact concatenation, got %q", units[0])
	}
	if got := buf.State(); got != audio.PlaybackPlaying {
		t.Fatalf("want PLAYING, got %v", got)
	}

	player.FinishCurrent(nil)
	if got := buf.State(); got != audio.PlaybackIdle {
		t.Fatalf("want IDLE after completion, got %v", got)
	}
}

func TestFinalizeEmptyIsNoop(t *testing.T) {
	t.Parallel()

	player := mock.NewPlayer()
	buf := audio.NewPlaybackBuffer(player)

	buf.Finalize()
	if len(player.Units()) != 0 {
		t.Fatal("empty finalize must not start playback")
	}
	if got := buf.State(); got != audio.PlaybackIdle {
		t.Fatalf("want IDLE, got %v", got)
	}
}

func TestAtMostOnePlayback(t *testing.T) {
	t.Parallel()

	player := mock.NewPlayer()
	buf := audio.NewPlaybackBuffer(player)

	buf.Append([]byte("first"))
	buf.Finalize()
	if player.ActiveUnits() != 1 {
		t.Fatalf("want one active unit, got %d", player.ActiveUnits())
	}

	// Next turn arrives while the first unit is still in flight.
	buf.Append([]byte("second"))
	if player.StopCount() != 1 {
		t.Fatalf("previous unit must be stopped before a new turn opens, stops=%d", player.StopCount())
	}
	buf.Finalize()

	if player.ActiveUnits() != 1 {
		t.Fatalf("at most one active unit allowed, got %d", player.ActiveUnits())
	}
	units := player.Units()
	if len(units) != 2 || !bytes.Equal(units[1], []byte("second")) {
		t.Fatalf("second unit wrong: %q", units)
	}
}

func TestStaleDoneCallbackIgnored(t *testing.T) {
	t.Parallel()

	player := mock.NewPlayer()
	buf := audio.NewPlaybackBuffer(player)

	buf.Append([]byte("first"))
	buf.Finalize()

	// Capture the first unit's done before it is superseded.
	buf.Append([]byte("second"))
	buf.Finalize()
	if got := buf.State(); got != audio.PlaybackPlaying {
		t.Fatalf("want PLAYING for second unit, got %v", got)
	}

	// Completing the *second* unit transitions to Idle; a late completion of
	// a superseded unit must not have done so earlier.
	player.FinishCurrent(nil)
	if got := buf.State(); got != audio.PlaybackIdle {
		t.Fatalf("want IDLE, got %v", got)
	}
}

func TestPlaybackDeviceErrorReturnsToIdle(t *testing.T) {
	t.Parallel()

	player := mock.NewPlayer()
	buf := audio.NewPlaybackBuffer(player)

	buf.Append([]byte("unit"))
	buf.Finalize()
	player.FinishCurrent(errors.New("device gone"))

	if got := buf.State(); got != audio.PlaybackIdle {
		t.Fatalf("want IDLE after device error, got %v", got)
	}

	// The session continues: a following turn plays normally.
	buf.Append([]byte("next"))
	buf.Finalize()
	if len(player.Units()) != 2 {
		t.Fatalf("want a second unit after recovery, got %d", len(player.Units()))
	}
}

func TestPlayRejectedReturnsToIdle(t *testing.T) {
	t.Parallel()

	player := mock.NewPlayer()
	player.PlayErr = errors.New("unsupported format")
	buf := audio.NewPlaybackBuffer(player)

	buf.Append([]byte("bad"))
	buf.Finalize()

	if got := buf.State(); got != audio.PlaybackIdle {
		t.Fatalf("want IDLE after rejected play, got %v", got)
	}
}

// lockedPlayer serializes Play and Stop on one mutex and completes units
// while holding it, the way an output device thread streams under its own
// lock.
type lockedPlayer struct {
	mu   sync.Mutex
	done func(error)
}

func (p *lockedPlayer) Play(unit []byte, done func(err error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = done
	return nil
}

func (p *lockedPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = nil
}

func (p *lockedPlayer) Close() error { return nil }

// finish completes the in-flight unit with the device lock held.
func (p *lockedPlayer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		done := p.done
		p.done = nil
		done(nil)
	}
}

func TestCompletionUnderPlayerLockDoesNotBlockNextTurn(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		p := &lockedPlayer{}
		buf := audio.NewPlaybackBuffer(p)
		buf.Append([]byte("first"))
		buf.Finalize()

		// The unit ends naturally at the same moment the next turn arrives.
		finished := make(chan struct{})
		go func() {
			p.finish()
			close(finished)
		}()
		nextTurn := make(chan struct{})
		go func() {
			buf.Append([]byte("second"))
			buf.Finalize()
			close(nextTurn)
		}()

		for _, ch := range []chan struct{}{finished, nextTurn} {
			select {
			case <-ch:
			case <-time.After(2 * time.Second):
				t.Fatal("completion and the next turn blocked each other")
			}
		}
	}
}

func TestActiveCallbackTracksUnitLifecycle(t *testing.T) {
	t.Parallel()

	active := 0
	player := mock.NewPlayer()
	buf := audio.NewPlaybackBuffer(player,
		audio.WithActiveFunc(func(delta int) { active += delta }),
	)

	buf.Append([]byte("first"))
	buf.Finalize()
	if active != 1 {
		t.Fatalf("active = %d after hand-off, want 1", active)
	}

	player.FinishCurrent(nil)
	if active != 0 {
		t.Fatalf("active = %d after completion, want 0", active)
	}

	buf.Append([]byte("second"))
	buf.Finalize()
	buf.Append([]byte("third")) // supersedes the in-flight unit
	if active != 0 {
		t.Fatalf("active = %d after supersede, want 0", active)
	}
	buf.Finalize()
	if active != 1 {
		t.Fatalf("active = %d after next hand-off, want 1", active)
	}

	buf.Stop()
	if active != 0 {
		t.Fatalf("active = %d after stop, want 0", active)
	}
}

func TestStopDiscardsTurn(t *testing.T) {
	t.Parallel()

	player := mock.NewPlayer()
	buf := audio.NewPlaybackBuffer(player)

	buf.Append([]byte("partial"))
	buf.Stop()
	buf.Stop() // idempotent

	if got := buf.State(); got != audio.PlaybackIdle {
		t.Fatalf("want IDLE after stop, got %v", got)
	}
	buf.Finalize()
	if len(player.Units()) != 0 {
		t.Fatal("discarded chunks must not play")
	}
}
