// Package audio defines the frame types and device interfaces used by the
// duplexa capture/playback pipeline.
//
// The two primary abstractions are:
//
//   - [CaptureDevice] — yields fixed-duration PCM frames at a fixed cadence.
//   - [PlaybackDevice] — consumes PCM frames and renders them to the output.
//
// Implementations are provided by device-specific adapter packages (e.g.,
// audio/portaudio). The interfaces are intentionally narrow so that the
// session orchestrator remains decoupled from device details.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement these interfaces.
package audio

import (
	"context"
	"time"
)

// Format describes the sample rate and channel count of a PCM stream.
// All PCM in duplexa is 16-bit little-endian.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for VAD input, 24000 for synthesis output).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo output devices.
	Channels int
}

// BytesPerFrame returns the byte length of one PCM frame of duration d in
// this format (int16 samples).
func (f Format) BytesPerFrame(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * 2
}

// FrameDuration returns the play time of n PCM bytes in this format.
func (f Format) FrameDuration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := n / (f.Channels * 2)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Frame is a single fixed-duration PCM frame flowing through the pipeline.
// Frames are the atomic unit of audio transport: captured from the input
// device, classified by VAD, and consumed exactly once by the detection
// pipeline. A Frame is immutable once captured.
type Frame struct {
	// Data is raw little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// Seq is the monotonically increasing capture sequence number.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame.
func (f Frame) Duration() time.Duration {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}.FrameDuration(len(f.Data))
}

// Waveform is a complete decoded audio clip, e.g. one synthesis response.
type Waveform struct {
	// PCM is raw little-endian int16 PCM.
	PCM []byte

	// Format describes the PCM layout.
	Format Format
}

// Duration returns the total play time of the waveform.
func (w Waveform) Duration() time.Duration {
	return w.Format.FrameDuration(len(w.PCM))
}

// CaptureDevice produces fixed-duration PCM frames from an audio input.
//
// Implementations must deliver frames at the device's real-time cadence:
// ReadFrame blocks for at most roughly one frame period. A device read
// failure is fatal to the session; implementations should not mask it.
type CaptureDevice interface {
	// ReadFrame blocks until the next frame is available or ctx is cancelled.
	// The returned frame carries a monotonically increasing Seq.
	ReadFrame(ctx context.Context) (Frame, error)

	// Format reports the fixed capture format agreed at open time.
	Format() Format

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}

// PlaybackDevice renders PCM frames to an audio output.
//
// WriteFrame blocks until the device has accepted the frame, bounding how
// much audio is queued beyond the caller's control — this is what makes
// playback interruption effectively immediate (at most one frame drains
// after the writer stops).
type PlaybackDevice interface {
	// WriteFrame renders one frame. Returns ctx.Err() if ctx is cancelled
	// before the device accepts the frame.
	WriteFrame(ctx context.Context, f Frame) error

	// Format reports the fixed output format agreed at open time.
	Format() Format

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}
