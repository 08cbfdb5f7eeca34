// Package portaudio provides the PortAudio-backed [audio.CaptureDevice].
//
// It uses CGO against the PortAudio C library (install via pkg-config, e.g.
// `brew install portaudio` / `apt install portaudio19-dev`). Capture is
// float32 mono; a silent keep-alive output stream is opened alongside the
// microphone so the host audio engine stays active for the duration of a
// listening session, mirroring the zero-gain monitoring tap of the web
// client this replaces. The tap only ever writes zero samples.
package portaudio

/*
#cgo pkg-config: portaudio-2.0

#include <portaudio.h>
#include <stdlib.h>

// Wrappers using void* to avoid CGO type issues with PaStream.
static PaError pa_open_input(void **stream, double sampleRate, unsigned long framesPerBuffer) {
    PaDeviceIndex dev = Pa_GetDefaultInputDevice();
    if (dev == paNoDevice) {
        return paDeviceUnavailable;
    }
    const PaDeviceInfo *info = Pa_GetDeviceInfo(dev);
    PaStreamParameters params = {
        .device = dev,
        .channelCount = 1,
        .sampleFormat = paFloat32,
        .suggestedLatency = info->defaultLowInputLatency,
        .hostApiSpecificStreamInfo = NULL,
    };
    return Pa_OpenStream((PaStream**)stream, &params, NULL, sampleRate,
                         framesPerBuffer, paClipOff, NULL, NULL);
}

static PaError pa_open_output(void **stream, double sampleRate, unsigned long framesPerBuffer) {
    PaDeviceIndex dev = Pa_GetDefaultOutputDevice();
    if (dev == paNoDevice) {
        return paDeviceUnavailable;
    }
    const PaDeviceInfo *info = Pa_GetDeviceInfo(dev);
    PaStreamParameters params = {
        .device = dev,
        .channelCount = 1,
        .sampleFormat = paFloat32,
        .suggestedLatency = info->defaultLowOutputLatency,
        .hostApiSpecificStreamInfo = NULL,
    };
    return Pa_OpenStream((PaStream**)stream, NULL, &params, sampleRate,
                         framesPerBuffer, paClipOff, NULL, NULL);
}

static PaError pa_start(void *stream)  { return Pa_StartStream((PaStream*)stream); }
static PaError pa_close(void *stream)  { Pa_StopStream((PaStream*)stream); return Pa_CloseStream((PaStream*)stream); }
static PaError pa_read(void *stream, float *buf, unsigned long frames)  { return Pa_ReadStream((PaStream*)stream, buf, frames); }
static PaError pa_write(void *stream, const float *buf, unsigned long frames) { return Pa_WriteStream((PaStream*)stream, buf, frames); }
*/
import "C"

import (
	"errors"
	"sync"
	"unsafe"
)

var (
	initOnce sync.Once
	initErr  error
)

// initialize initializes the PortAudio library once per process.
func initialize() error {
	initOnce.Do(func() {
		initErr = paError(C.Pa_Initialize())
	})
	return initErr
}

// paError converts a PortAudio error code to a Go error.
func paError(code C.PaError) error {
	if code == C.paNoError {
		return nil
	}
	return errors.New(C.GoString(C.Pa_GetErrorText(code)))
}

// rawStream is a thin handle over one opened PaStream.
type rawStream struct {
	ptr unsafe.Pointer
}

func openInput(sampleRate, framesPerBuffer int) (*rawStream, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	var p unsafe.Pointer
	if err := paError(C.pa_open_input(&p, C.double(sampleRate), C.ulong(framesPerBuffer))); err != nil {
		return nil, err
	}
	if err := paError(C.pa_start(p)); err != nil {
		C.pa_close(p)
		return nil, err
	}
	return &rawStream{ptr: p}, nil
}

func openOutput(sampleRate, framesPerBuffer int) (*rawStream, error) {
	if err := initialize(); err != nil {
		return nil, err
	}
	var p unsafe.Pointer
	if err := paError(C.pa_open_output(&p, C.double(sampleRate), C.ulong(framesPerBuffer))); err != nil {
		return nil, err
	}
	if err := paError(C.pa_start(p)); err != nil {
		C.pa_close(p)
		return nil, err
	}
	return &rawStream{ptr: p}, nil
}

// read blocks until framesPerBuffer samples are captured into buf.
func (s *rawStream) read(buf []float32) error {
	return paError(C.pa_read(s.ptr, (*C.float)(unsafe.Pointer(&buf[0])), C.ulong(len(buf))))
}

// write blocks until all samples in buf are queued for playback.
func (s *rawStream) write(buf []float32) error {
	return paError(C.pa_write(s.ptr, (*C.float)(unsafe.Pointer(&buf[0])), C.ulong(len(buf))))
}

func (s *rawStream) close() error {
	return paError(C.pa_close(s.ptr))
}
