package audio

import "errors"

// ErrDeviceUnavailable is returned by [Capture.StartListening] when the
// microphone cannot be opened (no capture device, or access denied).
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// ErrConnectionUnavailable is returned by [Capture.StartListening] when the
// transport could not be connected within the bounded wait.
var ErrConnectionUnavailable = errors.New("audio: connection unavailable")

// CaptureDevice opens the microphone. Exactly one capture stream may be open
// at a time; opening a second stream before closing the first is a caller
// error and implementations may reject it.
type CaptureDevice interface {
	// OpenCapture acquires the microphone and starts delivering frames in
	// the requested format. Returns an error if the device is absent or
	// access is denied.
	OpenCapture(cfg CaptureConfig) (CaptureStream, error)
}

// CaptureStream is an open microphone stream.
type CaptureStream interface {
	// Frames returns the channel delivering captured frames in capture
	// order. The channel is closed when the stream is closed or the device
	// fails.
	Frames() <-chan Frame

	// Close releases the microphone and any associated resources (including
	// the silent keep-alive tap, where the platform uses one). Safe to call
	// more than once.
	Close() error
}

// Player plays one concatenated synthesis unit. Implementations decode the
// unit (e.g., MP3) and stream it to the output device.
//
// done is invoked at most once per successful Play call — on natural end or
// on device error. A unit cancelled by [Player.Stop] may never receive its
// callback; the playback buffer treats such units as stale. done must be
// invoked from the player's own goroutine, never synchronously from within
// Play or Stop, and never while holding a lock that Play or Stop acquire:
// the callback re-enters the playback buffer, which may call Stop or Play
// for the next unit. Implementations whose device thread fires completions
// under such a lock must hand done to a fresh goroutine.
type Player interface {
	// Play begins asynchronous playback of unit. Returns an error if the
	// unit cannot be decoded or the output device rejects it; in that case
	// done is never invoked.
	Play(unit []byte, done func(err error)) error

	// Stop cancels the in-flight unit, if any. No-op when idle.
	Stop()

	// Close releases the output device. The player must not be used after
	// Close returns.
	Close() error
}
