// Package silero provides a Silero VAD-backed classifier implementing the
// vad.Engine interface via the silero-vad-go ONNX bindings.
//
// Silero operates on fixed windows (512 samples at 16 kHz, 256 at 8 kHz), so
// the session buffers incoming PCM frames and runs inference whenever a full
// window has accumulated. Between inference windows the most recent decision
// is carried forward; the per-frame Energy reported alongside it is the
// frame's own RMS level, which is what the adaptive threshold tracker keys on.
package silero

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/duplexa/duplexa/pkg/audio"
	"github.com/duplexa/duplexa/pkg/vad"
)

// windowSamples returns Silero's inference window size for rate, or 0 when
// the rate is unsupported.
func windowSamples(rate int) int {
	switch rate {
	case 16000:
		return 512
	case 8000:
		return 256
	default:
		return 0
	}
}

// Engine implements vad.Engine backed by a Silero ONNX model.
type Engine struct {
	modelPath string
}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// New creates a Silero engine loading the ONNX model at modelPath. The model
// file itself is loaded lazily per session.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("silero: model path must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession creates a detector instance for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	win := windowSamples(cfg.SampleRate)
	if win == 0 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("silero: speech threshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	frameSamples := cfg.SampleRate * cfg.FrameDurationMs / 1000
	if frameSamples <= 0 {
		return nil, fmt.Errorf("silero: frame duration %dms is invalid", cfg.FrameDurationMs)
	}

	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  e.modelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(cfg.SpeechThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}

	return &session{
		cfg:          cfg,
		det:          det,
		window:       make([]float32, 0, win),
		winSamples:   win,
		frameSamples: frameSamples,
	}, nil
}

type session struct {
	cfg          vad.Config
	winSamples   int
	frameSamples int

	mu       sync.Mutex
	det      *speech.Detector
	window   []float32
	speaking bool
	closed   bool
}

// Classify buffers the frame and, once an inference window is full, updates
// the speaking state from the model's stream events.
func (s *session) Classify(frame audio.Frame) (vad.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Label{}, errors.New("silero: session closed")
	}
	if frame.SampleRate != s.cfg.SampleRate {
		return vad.Label{}, fmt.Errorf("silero: frame sample rate %d, session configured for %d", frame.SampleRate, s.cfg.SampleRate)
	}
	if len(frame.Data) != s.frameSamples*frame.Channels*2 {
		return vad.Label{}, fmt.Errorf("silero: frame size %d bytes, want %d", len(frame.Data), s.frameSamples*frame.Channels*2)
	}

	var sum float64
	for i := 0; i+1 < len(frame.Data); i += 2 {
		v := int16(uint16(frame.Data[i]) | uint16(frame.Data[i+1])<<8)
		f := float64(v) / 32768.0
		sum += f * f
		s.window = append(s.window, float32(f))
	}
	energy := math.Sqrt(sum / float64(len(frame.Data)/2))

	for len(s.window) >= s.winSamples {
		win := s.window[:s.winSamples]
		event, err := s.det.DetectStreamFrame(win)
		if err != nil {
			// The detector loses track when a stream restarts mid-segment;
			// resetting recovers without tearing the session down.
			s.det.Reset()
			s.window = s.window[:0]
			return vad.Label{}, fmt.Errorf("silero: inference: %w", err)
		}
		s.window = append(s.window[:0], s.window[s.winSamples:]...)
		if event != nil {
			if event.IsStart {
				s.speaking = true
			}
			if event.IsEnd {
				s.speaking = false
			}
		}
	}

	return vad.Label{Speech: s.speaking, Energy: energy}, nil
}

// Reset clears buffered audio and the model's stream state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.window = s.window[:0]
	s.speaking = false
	s.det.Reset()
}

// Close destroys the detector. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.det.Destroy()
	return nil
}
