// Package mock provides test doubles for the audio package interfaces.
//
// Use Capture to feed a scripted sequence of frames into the pipeline and
// Playback to record every frame the playback controller renders.
//
// Example:
//
//	cap := &mock.Capture{Frames: frames}
//	out := &mock.Playback{}
//	// wire into the orchestrator, then inspect out.Written()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/duplexa/duplexa/pkg/audio"
)

// Capture is a mock implementation of audio.CaptureDevice. It replays the
// Frames slice in order; once exhausted it blocks until ctx is cancelled and
// returns ctx.Err(), mimicking a microphone that has gone quiet.
type Capture struct {
	mu sync.Mutex

	// Frames is the scripted sequence returned by successive ReadFrame calls.
	Frames []audio.Frame

	// ReadErr, if non-nil, is returned once the script is exhausted instead
	// of blocking.
	ReadErr error

	// Interval, if non-zero, is slept before each ReadFrame returns, pacing
	// the script like a real device.
	Interval time.Duration

	// FormatResult is returned by Format.
	FormatResult audio.Format

	next      int
	readCount int
	closed    bool
}

// Compile-time interface assertion.
var _ audio.CaptureDevice = (*Capture)(nil)

// ReadFrame returns the next scripted frame, then ReadErr or a ctx-bound block.
func (c *Capture) ReadFrame(ctx context.Context) (audio.Frame, error) {
	c.mu.Lock()
	c.readCount++
	interval := c.Interval
	var (
		frame audio.Frame
		ok    bool
	)
	if c.next < len(c.Frames) {
		frame = c.Frames[c.next]
		c.next++
		ok = true
	}
	err := c.ReadErr
	c.mu.Unlock()

	if ok {
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return audio.Frame{}, ctx.Err()
			}
		}
		return frame, nil
	}
	if err != nil {
		return audio.Frame{}, err
	}
	<-ctx.Done()
	return audio.Frame{}, ctx.Err()
}

// Format returns FormatResult.
func (c *Capture) Format() audio.Format { return c.FormatResult }

// Close marks the device closed. Always returns nil.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// ReadCount returns the number of ReadFrame calls made so far.
func (c *Capture) ReadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readCount
}

// Closed reports whether Close was called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Playback is a mock implementation of audio.PlaybackDevice recording every
// written frame.
type Playback struct {
	mu sync.Mutex

	// WriteErr, if non-nil, is returned by every WriteFrame call.
	WriteErr error

	// WriteDelay, if non-zero, is slept inside each WriteFrame, simulating a
	// device that paces writes at the frame period.
	WriteDelay time.Duration

	// FormatResult is returned by Format.
	FormatResult audio.Format

	written []audio.Frame
	closed  bool
}

// Compile-time interface assertion.
var _ audio.PlaybackDevice = (*Playback)(nil)

// WriteFrame records the frame and returns WriteErr.
func (p *Playback) WriteFrame(ctx context.Context, f audio.Frame) error {
	if p.WriteDelay > 0 {
		select {
		case <-time.After(p.WriteDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return p.WriteErr
	}
	cp := f
	cp.Data = append([]byte(nil), f.Data...)
	p.written = append(p.written, cp)
	return nil
}

// Format returns FormatResult.
func (p *Playback) Format() audio.Format { return p.FormatResult }

// Close marks the device closed. Always returns nil.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Written returns a copy of all frames written so far.
func (p *Playback) Written() []audio.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.Frame, len(p.written))
	copy(out, p.written)
	return out
}

// WrittenBytes returns the total PCM byte count written so far.
func (p *Playback) WrittenBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, f := range p.written {
		n += len(f.Data)
	}
	return n
}

// Reset clears the recorded frames.
func (p *Playback) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = nil
}
