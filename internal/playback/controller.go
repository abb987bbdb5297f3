// Package playback renders synthesised waveforms to the output device and
// supports immediate preemption when the user barges in.
//
// The controller owns at most one playing session at a time. Rendering is
// frame-by-frame so an interrupt takes effect within one device frame; big
// buffered writes would make barge-in feel sluggish.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/duplexa/duplexa/pkg/audio"
)

// ErrBusy is returned by Start while another session is still playing.
// Callers must Stop first; starting over a live session is a bug, not a
// queueing request.
var ErrBusy = errors.New("playback: a session is already playing")

const defaultFrameDuration = 30 * time.Millisecond

// State describes a session's lifecycle position.
type State int

const (
	// Playing means frames are being written to the device.
	Playing State = iota + 1
	// Interrupted means the session was stopped before the waveform ended.
	Interrupted
	// Done means the whole waveform was rendered.
	Done
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Interrupted:
		return "interrupted"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Option is a functional option for NewController.
type Option func(*Controller)

// WithFrameDuration sets the render chunk size. Smaller chunks tighten the
// interrupt bound at the cost of more device writes. Default 30 ms.
func WithFrameDuration(d time.Duration) Option {
	return func(c *Controller) { c.frameDur = d }
}

// WithLifecycleHooks registers callbacks fired when a session starts emitting
// audio and when it stops (completion or interruption alike). The stopped
// hook fires exactly once per session. The threshold tracker hangs off these.
func WithLifecycleHooks(started, stopped func()) Option {
	return func(c *Controller) {
		c.onStarted = started
		c.onStopped = stopped
	}
}

// Controller renders waveforms to a playback device, one session at a time.
type Controller struct {
	device    audio.PlaybackDevice
	frameDur  time.Duration
	onStarted func()
	onStopped func()

	mu      sync.Mutex
	current *Session
}

// NewController creates a controller writing to device.
func NewController(device audio.PlaybackDevice, opts ...Option) *Controller {
	c := &Controller{device: device, frameDur: defaultFrameDuration}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins rendering w asynchronously and returns the new session. The
// started hook has fired by the time Start returns, so the threshold boost is
// in place before the first frame reaches the speaker. Returns ErrBusy if a
// session is still playing.
func (c *Controller) Start(w audio.Waveform) (*Session, error) {
	c.mu.Lock()
	if c.current != nil && c.current.State() == Playing {
		c.mu.Unlock()
		return nil, ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cancel: cancel,
		done:   make(chan struct{}),
		state:  Playing,
	}
	c.current = s
	c.mu.Unlock()

	if c.onStarted != nil {
		c.onStarted()
	}
	go c.render(ctx, s, w)
	return s, nil
}

// Stop interrupts the playing session, if any, and waits for rendering to
// cease; the wait is bounded by one device frame. It reports whether a live
// session was actually interrupted. Stopping an already-finished session is a
// no-op.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return false
	}

	wasPlaying := s.State() == Playing
	s.cancel()
	<-s.done
	return wasPlaying && s.State() == Interrupted
}

// Playing reports whether a session is currently rendering.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	return s != nil && s.State() == Playing
}

// render writes w to the device frame by frame until the waveform ends or
// ctx is cancelled. It is the sole writer of the session's terminal state and
// the sole caller of the stopped hook, which makes exactly-once trivial.
func (c *Controller) render(ctx context.Context, s *Session, w audio.Waveform) {
	defer func() {
		final := Done
		if ctx.Err() != nil {
			final = Interrupted
		}
		s.finish(final)
		if c.onStopped != nil {
			c.onStopped()
		}
		close(s.done)
	}()

	chunk := w.Format.BytesPerFrame(c.frameDur)
	if chunk <= 0 || chunk%2 != 0 {
		s.setErr(errors.New("playback: waveform format yields invalid frame size"))
		return
	}

	var seq uint64
	for off := 0; off < len(w.PCM); off += chunk {
		if ctx.Err() != nil {
			return
		}
		end := off + chunk
		if end > len(w.PCM) {
			end = len(w.PCM)
		}
		frame := audio.Frame{
			Data:       w.PCM[off:end],
			SampleRate: w.Format.SampleRate,
			Channels:   w.Format.Channels,
			Seq:        seq,
			Timestamp:  time.Duration(seq) * c.frameDur,
		}
		seq++
		if err := c.device.WriteFrame(ctx, frame); err != nil {
			if ctx.Err() == nil {
				slog.Error("playback write failed", "err", err, "frame", frame.Seq)
				s.setErr(err)
			}
			return
		}
	}
}

// Session is one waveform being rendered. At most one session is Playing at
// a time; finished sessions are inert.
type Session struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the device error that ended the session early, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait returns a channel closed when the session has fully stopped.
func (s *Session) Wait() <-chan struct{} {
	return s.done
}

func (s *Session) finish(final State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Playing {
		s.state = final
	}
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
