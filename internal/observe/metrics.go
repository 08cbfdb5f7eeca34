// Package observe provides observability primitives for the voxpipe client:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxpipe metrics.
const meterName = "github.com/voxpipe/voxpipe"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Uplink counters ---

	// FramesSent counts microphone frames delivered to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames discarded instead of sent. Use with
	// attribute: attribute.String("reason", ...) ("disconnected", "error").
	FramesDropped metric.Int64Counter

	// FrameBytes counts total PCM bytes sent upstream.
	FrameBytes metric.Int64Counter

	// TextsSent counts finalized transcripts submitted by the user.
	TextsSent metric.Int64Counter

	// --- Downlink counters ---

	// ChunksReceived counts inbound synthesized audio chunks.
	ChunksReceived metric.Int64Counter

	// ControlMessages counts inbound control messages. Use with attribute:
	//   attribute.String("kind", ...) ("partial", "final")
	ControlMessages metric.Int64Counter

	// TurnsPlayed counts completed assistant turns handed to the player.
	TurnsPlayed metric.Int64Counter

	// --- Connection counters ---

	// Connects counts connection attempts. Use with attribute:
	//   attribute.String("status", ...) ("ok", "error")
	Connects metric.Int64Counter

	// Disconnects counts connection losses, deliberate or not.
	Disconnects metric.Int64Counter

	// --- Histograms ---

	// TurnBytes tracks the size of each concatenated playback unit.
	TurnBytes metric.Float64Histogram

	// InputLevel tracks the per-frame microphone peak level (0..1).
	InputLevel metric.Float64Histogram

	// --- Gauges ---

	// ActivePlaybacks tracks in-flight playback units (0 or 1 by design of
	// the playback buffer; above 1 indicates a bug).
	ActivePlaybacks metric.Int64UpDownCounter
}

// turnByteBuckets defines histogram bucket boundaries (in bytes) sized for
// MP3 units spanning a fraction of a second up to tens of seconds.
var turnByteBuckets = []float64{
	1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20,
}

// levelBuckets covers the normalized input level range.
var levelBuckets = []float64{
	0.01, 0.05, 0.1, 0.2, 0.4, 0.6, 0.8, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Uplink counters.
	if met.FramesSent, err = m.Int64Counter("voxpipe.frames.sent",
		metric.WithDescription("Total microphone frames delivered to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxpipe.frames.dropped",
		metric.WithDescription("Total frames discarded instead of sent, by reason."),
	); err != nil {
		return nil, err
	}
	if met.FrameBytes, err = m.Int64Counter("voxpipe.frames.bytes",
		metric.WithDescription("Total PCM bytes sent upstream."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TextsSent, err = m.Int64Counter("voxpipe.texts.sent",
		metric.WithDescription("Total finalized transcripts submitted."),
	); err != nil {
		return nil, err
	}

	// Downlink counters.
	if met.ChunksReceived, err = m.Int64Counter("voxpipe.chunks.received",
		metric.WithDescription("Total inbound synthesized audio chunks."),
	); err != nil {
		return nil, err
	}
	if met.ControlMessages, err = m.Int64Counter("voxpipe.control.messages",
		metric.WithDescription("Total inbound control messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.TurnsPlayed, err = m.Int64Counter("voxpipe.turns.played",
		metric.WithDescription("Total completed assistant turns handed to the player."),
	); err != nil {
		return nil, err
	}

	// Connection counters.
	if met.Connects, err = m.Int64Counter("voxpipe.connects",
		metric.WithDescription("Total connection attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Disconnects, err = m.Int64Counter("voxpipe.disconnects",
		metric.WithDescription("Total connection losses."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TurnBytes, err = m.Float64Histogram("voxpipe.turn.bytes",
		metric.WithDescription("Size of each concatenated playback unit."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(turnByteBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InputLevel, err = m.Float64Histogram("voxpipe.input.level",
		metric.WithDescription("Per-frame microphone peak level."),
		metric.WithExplicitBucketBoundaries(levelBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePlaybacks, err = m.Int64UpDownCounter("voxpipe.active_playbacks",
		metric.WithDescription("Number of in-flight playback units."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameSent records one delivered frame of the given size.
func (m *Metrics) RecordFrameSent(ctx context.Context, bytes int) {
	m.FramesSent.Add(ctx, 1)
	m.FrameBytes.Add(ctx, int64(bytes))
}

// RecordFrameDropped records one discarded frame with the standard reason
// attribute.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordConnect records one connection attempt outcome.
func (m *Metrics) RecordConnect(ctx context.Context, status string) {
	m.Connects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordControlMessage records one inbound control message by kind.
func (m *Metrics) RecordControlMessage(ctx context.Context, kind string) {
	m.ControlMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTurnPlayed records a completed turn and its unit size.
func (m *Metrics) RecordTurnPlayed(ctx context.Context, bytes int) {
	m.TurnsPlayed.Add(ctx, 1)
	m.TurnBytes.Record(ctx, float64(bytes))
}
