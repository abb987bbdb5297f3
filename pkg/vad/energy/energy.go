// Package energy provides a pure-Go RMS energy classifier implementing the
// vad.Engine interface.
//
// The classifier computes the root-mean-square level of each int16 PCM frame,
// normalised to [0.0, 1.0], and labels the frame speech when the level
// reaches the configured threshold. It carries no model state and needs no
// cgo, which makes it the default backend; the Silero backend is the higher
// accuracy alternative where an ONNX runtime is available.
//
// Debounce, hangover, and playback-aware thresholding are deliberately not
// handled here — the classifier stays a pure frame→label function, and the
// detection pipeline layers its smoothing on top.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/duplexa/duplexa/pkg/audio"
	"github.com/duplexa/duplexa/pkg/vad"
)

// int16Max normalises RMS levels into [0.0, 1.0].
const int16Max = 32768.0

// Engine implements vad.Engine with RMS energy gating.
type Engine struct{}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// New returns an RMS energy engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a classification session.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate %d is invalid", cfg.SampleRate)
	}
	if cfg.FrameDurationMs <= 0 {
		return nil, fmt.Errorf("energy: frame duration %dms is invalid", cfg.FrameDurationMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	frameBytes := cfg.SampleRate * cfg.FrameDurationMs / 1000 * 2
	return &session{cfg: cfg, frameBytes: frameBytes}, nil
}

type session struct {
	cfg        vad.Config
	frameBytes int
	closed     bool
}

var errClosed = errors.New("energy: session closed")

// Classify labels one frame by its normalised RMS level.
func (s *session) Classify(frame audio.Frame) (vad.Label, error) {
	if s.closed {
		return vad.Label{}, errClosed
	}
	if frame.SampleRate != s.cfg.SampleRate {
		return vad.Label{}, fmt.Errorf("energy: frame sample rate %d, session configured for %d", frame.SampleRate, s.cfg.SampleRate)
	}
	if len(frame.Data) != s.frameBytes*frame.Channels {
		return vad.Label{}, fmt.Errorf("energy: frame size %d bytes, want %d", len(frame.Data), s.frameBytes*frame.Channels)
	}

	level := rms(frame.Data)
	return vad.Label{
		Speech: level >= s.cfg.SpeechThreshold,
		Energy: level,
	}, nil
}

// Reset is a no-op: the classifier keeps no cross-frame state.
func (s *session) Reset() {}

// Close marks the session closed. Safe to call more than once.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// rms computes the normalised root-mean-square level of little-endian int16
// PCM in [0.0, 1.0].
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / int16Max
}
