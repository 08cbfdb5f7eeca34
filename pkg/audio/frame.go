// Package audio defines the capture and playback primitives of the voxpipe
// client: microphone frames, the PCM wire encoding, the capture pipeline that
// feeds the transport, and the playback buffer that reassembles synthesis
// turns into single uninterrupted playbacks.
//
// The two device-facing abstractions are:
//
//   - [CaptureDevice] — opens the microphone and returns a [CaptureStream].
//   - [Player] — plays one concatenated synthesis unit at a time.
//
// Implementations are provided by the platform adapter packages
// (audio/portaudio for capture, audio/beepout for playback). The interfaces
// are intentionally narrow so that the session logic can be tested against
// the mocks in audio/mock.
package audio

import "time"

const (
	// DefaultSampleRate is the capture sample rate in Hz expected by the
	// remote speech service.
	DefaultSampleRate = 16000

	// DefaultFrameSize is the number of samples per captured frame.
	// At 16 kHz one frame covers 256 ms.
	DefaultFrameSize = 4096
)

// CaptureConfig describes the capture format requested from a [CaptureDevice].
type CaptureConfig struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// FrameSize is the number of samples delivered per [Frame].
	FrameSize int
}

// FrameDuration returns the wall-clock duration covered by one frame.
func (c CaptureConfig) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}

// DefaultCaptureConfig returns the capture format used against the voxpipe
// backend: 16 kHz mono, 4096-sample frames.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: DefaultSampleRate, FrameSize: DefaultFrameSize}
}

// Frame is one block of captured microphone audio as delivered by a
// [CaptureStream]. Samples are normalized float32 in [-1, 1], mono.
// Frames are consumed immediately by the capture pump and never retained.
type Frame struct {
	Samples []float32
}

// Peak returns the largest absolute sample amplitude in the frame,
// in [0, 1]. Used for input level metering.
func (f Frame) Peak() float64 {
	var peak float32
	for _, s := range f.Samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak)
}
