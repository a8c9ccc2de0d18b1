// Package audio provides microphone capture and PCM format plumbing for the
// visit recording pipeline.
//
// The central abstractions are:
//
//   - [Frame] is the unit of audio transport between capture, format
//     conversion, and the STT provider.
//   - [Source] produces a stream of Frames from a capture device. The
//     production implementation is [Capture], which shells out to a
//     command-line recorder (ffmpeg or arecord) and reads raw PCM from its
//     stdout.
//
// This package lives under pkg/ because alternative capture backends (e.g.,
// a networked microphone gateway) are expected to implement [Source].
package audio

import (
	"context"
	"time"
)

// Frame represents a single frame of audio data flowing through the pipeline.
// A frame is captured from the microphone, converted to the STT format, and
// delivered to the transcription session.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 44100 for capture devices, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's PCM data, or 0 when the
// format fields are unset.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Source produces a stream of audio frames from a capture device.
//
// Implementations must be safe for concurrent use of Close against a running
// Start stream.
type Source interface {
	// Start begins capture and returns a channel of frames. The channel is
	// closed when ctx is cancelled, Close is called, or the underlying device
	// fails. Start may be called at most once per Source.
	Start(ctx context.Context) (<-chan Frame, error)

	// Close stops capture and releases the device. The frame channel returned
	// by Start is closed before Close returns. Calling Close more than once
	// is safe.
	Close() error
}
