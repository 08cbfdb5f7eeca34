package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxpipe/voxpipe/internal/observe"
	"github.com/voxpipe/voxpipe/internal/session"
	"github.com/voxpipe/voxpipe/pkg/audio"
	audiomock "github.com/voxpipe/voxpipe/pkg/audio/mock"
	"github.com/voxpipe/voxpipe/pkg/transport"
	trmock "github.com/voxpipe/voxpipe/pkg/transport/mock"
)

// fixture bundles a session with its mocks and a running dispatch loop.
type fixture struct {
	tr      *trmock.Client
	device  *audiomock.CaptureDevice
	player  *audiomock.Player
	session *session.Session
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		tr:     trmock.NewClient(),
		device: &audiomock.CaptureDevice{},
		player: audiomock.NewPlayer(),
	}
	opts = append([]session.Option{session.WithConnectTimeout(100 * time.Millisecond)}, opts...)
	f.session = session.New(f.tr, f.device, f.player, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.session.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestAssistantTurn_ChunksConcatenatedAndTranscriptPromoted(t *testing.T) {
	f := newFixture(t)

	f.tr.PushControl(transport.ControlMessage{Text: "Hel"})
	f.tr.PushControl(transport.ControlMessage{Text: "Hello there"})
	f.tr.PushAudio([]byte("AAA"))
	f.tr.PushAudio([]byte("BBB"))
	f.tr.PushControl(transport.ControlMessage{IsFinal: true})

	waitFor(t, "unit to reach the player", func() bool {
		return len(f.player.Units()) == 1
	})
	if got := string(f.player.Units()[0]); got != "AAABBB" {
		t.Errorf("unit = %q, want chunks concatenated in arrival order", got)
	}
	if got := f.session.Transcript(); got != "Hello there" {
		t.Errorf("transcript = %q, want the last overwrite", got)
	}

	history := f.session.History()
	if len(history) != 1 {
		t.Fatalf("history has %d messages, want 1", len(history))
	}
	if history[0].Role != session.RoleAssistant || history[0].Text != "Hello there" {
		t.Errorf("history[0] = %+v", history[0])
	}

	if got := f.session.Status().Playback; got != audio.PlaybackPlaying {
		t.Errorf("playback state = %v, want PLAYING", got)
	}
	f.player.FinishCurrent(nil)
	waitFor(t, "playback to return to idle", func() bool {
		return f.session.Status().Playback == audio.PlaybackIdle
	})
}

func TestFinalWithoutContent_NoPlaybackNoHistory(t *testing.T) {
	f := newFixture(t)

	f.tr.PushControl(transport.ControlMessage{IsFinal: true})

	waitFor(t, "final message to be processed", func() bool {
		return f.session.Status().Playback == audio.PlaybackIdle
	})
	time.Sleep(20 * time.Millisecond)
	if n := len(f.player.Units()); n != 0 {
		t.Errorf("player received %d units, want 0", n)
	}
	if n := len(f.session.History()); n != 0 {
		t.Errorf("history has %d messages, want 0", n)
	}
}

func TestSendText_RecordsUserMessage(t *testing.T) {
	f := newFixture(t)
	f.tr.SetConnected(true)

	if err := f.session.SendText(context.Background(), "what time is it"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if got := f.tr.Texts(); len(got) != 1 || got[0] != "what time is it" {
		t.Fatalf("transport texts = %v", got)
	}
	history := f.session.History()
	if len(history) != 1 || history[0].Role != session.RoleUser {
		t.Fatalf("history = %+v, want one user message", history)
	}
}

func TestSendText_DisconnectedFailsWithoutHistory(t *testing.T) {
	f := newFixture(t)

	err := f.session.SendText(context.Background(), "hello?")
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("SendText = %v, want ErrNotConnected", err)
	}
	if n := len(f.session.History()); n != 0 {
		t.Errorf("history has %d messages after failed send, want 0", n)
	}
}

func TestStartListening_ConnectsOnDemandOnce(t *testing.T) {
	f := newFixture(t)

	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer f.session.StopListening()

	if n := f.tr.ConnectCount(); n != 1 {
		t.Errorf("connect attempts = %d, want 1", n)
	}
	if !f.session.Listening() {
		t.Error("Listening() = false after successful start")
	}

	// Frames emitted by the microphone arrive encoded at the transport.
	f.device.LastStream().Emit(audio.Frame{Samples: []float32{0.5, -0.5}})
	waitFor(t, "frame to reach the transport", func() bool {
		return len(f.tr.Frames()) == 1
	})
	if got := len(f.tr.Frames()[0]); got != 4 {
		t.Errorf("encoded frame is %d bytes, want 4", got)
	}
}

func TestStartListening_ConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.tr.SetConnectErr(errors.New("server down"))

	err := f.session.StartListening(context.Background())
	if !errors.Is(err, audio.ErrConnectionUnavailable) {
		t.Fatalf("StartListening = %v, want ErrConnectionUnavailable", err)
	}
	if f.device.OpenCount() != 0 {
		t.Error("microphone was opened despite connect failure")
	}
}

func TestDisconnectEvent_StopsListeningAndDiscardsTurn(t *testing.T) {
	f := newFixture(t)

	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening: %v", err)
	}

	f.tr.PushAudio([]byte("partial-turn"))
	waitFor(t, "chunk to be buffered", func() bool {
		return f.session.Status().Playback == audio.PlaybackAccumulating
	})

	f.tr.PushEvent(transport.StateEvent{State: transport.StateDisconnected, Reason: errors.New("peer gone")})

	waitFor(t, "listening to stop", func() bool {
		return !f.session.Listening()
	})
	waitFor(t, "playback buffer to reset", func() bool {
		return f.session.Status().Playback == audio.PlaybackIdle
	})

	// A final marker arriving after the reset must not play the discarded
	// chunks.
	f.tr.PushControl(transport.ControlMessage{IsFinal: true})
	time.Sleep(20 * time.Millisecond)
	if n := len(f.player.Units()); n != 0 {
		t.Errorf("player received %d units after disconnect, want 0", n)
	}
}

func TestNewTurnInterruptsActivePlayback(t *testing.T) {
	f := newFixture(t)

	f.tr.PushAudio([]byte("first"))
	f.tr.PushControl(transport.ControlMessage{Text: "one", IsFinal: true})
	waitFor(t, "first unit to play", func() bool {
		return len(f.player.Units()) == 1
	})

	f.tr.PushAudio([]byte("second"))
	f.tr.PushControl(transport.ControlMessage{Text: "two", IsFinal: true})
	waitFor(t, "second unit to play", func() bool {
		return len(f.player.Units()) == 2
	})

	if got := f.player.StopCount(); got != 1 {
		t.Errorf("stop count = %d, want the first unit cancelled once", got)
	}
	if got := f.player.ActiveUnits(); got != 1 {
		t.Errorf("active units = %d, want 1", got)
	}
	if got := string(f.player.Units()[1]); got != "second" {
		t.Errorf("second unit = %q", got)
	}

	history := f.session.History()
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Text != "one" || history[1].Text != "two" {
		t.Errorf("history = %+v", history)
	}
}

// activePlaybacks collects the current value of the in-flight unit gauge.
func activePlaybacks(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "voxpipe.active_playbacks" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestActivePlaybackGaugeFollowsUnits(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	f := newFixture(t, session.WithMetrics(m))

	f.tr.PushAudio([]byte("unit"))
	f.tr.PushControl(transport.ControlMessage{IsFinal: true})
	waitFor(t, "unit to reach the player", func() bool {
		return len(f.player.Units()) == 1
	})
	if got := activePlaybacks(t, reader); got != 1 {
		t.Fatalf("active playbacks = %d while playing, want 1", got)
	}

	f.player.FinishCurrent(nil)
	waitFor(t, "playback to return to idle", func() bool {
		return f.session.Status().Playback == audio.PlaybackIdle
	})
	if got := activePlaybacks(t, reader); got != 0 {
		t.Fatalf("active playbacks = %d after completion, want 0", got)
	}
}

func TestStatusSnapshot(t *testing.T) {
	f := newFixture(t)
	f.tr.SetConnected(true)

	st := f.session.Status()
	if !st.Connected {
		t.Error("Connected = false")
	}
	if st.Listening {
		t.Error("Listening = true before start")
	}
	if st.Playback != audio.PlaybackIdle {
		t.Errorf("Playback = %v, want IDLE", st.Playback)
	}
	if st.Messages != 0 || st.Transcript != "" {
		t.Errorf("fresh session status = %+v", st)
	}
}

func TestClose_TearsDownEverything(t *testing.T) {
	f := newFixture(t)

	if err := f.session.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	f.tr.PushAudio([]byte("chunk"))
	waitFor(t, "chunk to be buffered", func() bool {
		return f.session.Status().Playback == audio.PlaybackAccumulating
	})

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.session.Listening() {
		t.Error("still listening after Close")
	}
	if f.tr.Connected() {
		t.Error("transport still connected after Close")
	}
	if got := f.session.Status().Playback; got != audio.PlaybackIdle {
		t.Errorf("playback state = %v after Close, want IDLE", got)
	}
}
