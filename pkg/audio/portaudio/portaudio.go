// Package portaudio provides PortAudio-backed implementations of the
// audio.CaptureDevice and audio.PlaybackDevice interfaces.
//
// Both devices are opened on the host's default input/output with a fixed
// sample rate, channel count, and frame duration; the frame duration fixes
// the PortAudio buffer size, so one ReadFrame/WriteFrame maps to exactly one
// device buffer exchange. This is deliberate: the playback side must never
// queue more than one frame beyond the writer, or interrupting playback
// would wait for the queue to drain.
//
// PortAudio's global runtime must be initialised exactly once per process;
// this package reference-counts Initialize/Terminate across open devices.
package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/duplexa/duplexa/pkg/audio"
)

// runtime reference count for portaudio.Initialize/Terminate.
var (
	rtMu   sync.Mutex
	rtRefs int
)

func acquireRuntime() error {
	rtMu.Lock()
	defer rtMu.Unlock()
	if rtRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	rtRefs++
	return nil
}

func releaseRuntime() {
	rtMu.Lock()
	defer rtMu.Unlock()
	rtRefs--
	if rtRefs == 0 {
		_ = portaudio.Terminate()
	}
}

// Capture is an audio.CaptureDevice reading from the default input device.
type Capture struct {
	format   audio.Format
	frameDur time.Duration

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	seq     uint64
	started time.Time
	closed  bool
}

// Compile-time interface assertion.
var _ audio.CaptureDevice = (*Capture)(nil)

// OpenCapture opens the default input device for mono or stereo 16-bit
// capture at the given format and frame duration.
func OpenCapture(format audio.Format, frameDur time.Duration) (*Capture, error) {
	if err := acquireRuntime(); err != nil {
		return nil, err
	}

	samples := format.BytesPerFrame(frameDur) / 2
	buf := make([]int16, samples)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), samples/format.Channels, buf)
	if err != nil {
		releaseRuntime()
		return nil, fmt.Errorf("portaudio: open capture: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		releaseRuntime()
		return nil, fmt.Errorf("portaudio: start capture: %w", err)
	}

	return &Capture{
		format:   format,
		frameDur: frameDur,
		stream:   stream,
		buf:      buf,
		started:  time.Now(),
	}, nil
}

// ReadFrame blocks until the device has filled one frame buffer.
//
// PortAudio's blocking read has no cancellation hook; ctx is checked before
// the read, so cancellation takes effect within one frame period.
func (c *Capture) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return audio.Frame{}, fmt.Errorf("portaudio: capture device closed")
	}

	if err := c.stream.Read(); err != nil {
		return audio.Frame{}, fmt.Errorf("portaudio: read frame: %w", err)
	}

	data := make([]byte, len(c.buf)*2)
	for i, s := range c.buf {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	f := audio.Frame{
		Data:       data,
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Seq:        c.seq,
		Timestamp:  time.Since(c.started),
	}
	c.seq++
	return f, nil
}

// Format reports the capture format fixed at open time.
func (c *Capture) Format() audio.Format { return c.format }

// Close stops and releases the input stream. Safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.stream.Close()
	releaseRuntime()
	if err != nil {
		return fmt.Errorf("portaudio: close capture: %w", err)
	}
	return nil
}

// Playback is an audio.PlaybackDevice writing to the default output device.
type Playback struct {
	format   audio.Format
	frameDur time.Duration

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// Compile-time interface assertion.
var _ audio.PlaybackDevice = (*Playback)(nil)

// OpenPlayback opens the default output device at the given format and frame
// duration.
func OpenPlayback(format audio.Format, frameDur time.Duration) (*Playback, error) {
	if err := acquireRuntime(); err != nil {
		return nil, err
	}

	samples := format.BytesPerFrame(frameDur) / 2
	buf := make([]int16, samples)
	stream, err := portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), samples/format.Channels, buf)
	if err != nil {
		releaseRuntime()
		return nil, fmt.Errorf("portaudio: open playback: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		releaseRuntime()
		return nil, fmt.Errorf("portaudio: start playback: %w", err)
	}

	return &Playback{format: format, frameDur: frameDur, stream: stream, buf: buf}, nil
}

// WriteFrame renders one frame. Short frames are zero-padded to the device
// buffer size so a waveform tail still plays out.
func (p *Playback) WriteFrame(ctx context.Context, f audio.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("portaudio: playback device closed")
	}

	n := len(f.Data) / 2
	if n > len(p.buf) {
		n = len(p.buf)
	}
	for i := 0; i < n; i++ {
		p.buf[i] = int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
	}
	for i := n; i < len(p.buf); i++ {
		p.buf[i] = 0
	}

	if err := p.stream.Write(); err != nil {
		return fmt.Errorf("portaudio: write frame: %w", err)
	}
	return nil
}

// Format reports the playback format fixed at open time.
func (p *Playback) Format() audio.Format { return p.format }

// Close stops and releases the output stream. Safe to call more than once.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.stream.Close()
	releaseRuntime()
	if err != nil {
		return fmt.Errorf("portaudio: close playback: %w", err)
	}
	return nil
}
