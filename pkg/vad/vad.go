// Package vad defines the Engine interface for voice activity classification
// backends.
//
// A VAD engine wraps a frame-level speech classifier (an RMS energy gate, a
// Silero ONNX model, or a custom detector) and surfaces it as a stateful,
// per-stream session. Each session owns its internal state (ring buffers,
// smoothing history) so that independent audio streams can be classified
// concurrently.
//
// Classification is synchronous by design: Classify returns immediately with
// a per-frame [Label], which makes it suitable for the real-time capture loop
// where every frame must be handled within its own duration. The raw Label
// only says "speech-like energy"; turning that into "speech from the user,
// as opposed to from our own speaker" is the job of the adaptive threshold
// tracker downstream.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session must not be shared across goroutines unless the
// implementation explicitly documents thread safety.
package vad

import "github.com/duplexa/duplexa/pkg/audio"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to Classify. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameDurationMs is the duration of each audio frame in milliseconds.
	// Most classifiers operate on fixed frame sizes (10, 20, or 30 ms);
	// Classify returns an error if the supplied frame does not match.
	FrameDurationMs int

	// SpeechThreshold is the raw energy/probability above which a frame is
	// labelled speech, in the classifier's native scale. Range: [0.0, 1.0].
	// This is the classifier's own gate; the adaptive tracker applies a
	// second, playback-aware gate on top of it.
	SpeechThreshold float64
}

// Label is the classification result for a single audio frame.
type Label struct {
	// Speech is the classifier's raw speech/non-speech decision.
	Speech bool

	// Energy is the frame's energy or speech probability in [0.0, 1.0],
	// depending on the backend. Consumed by the adaptive threshold tracker.
	Energy float64
}

// Session is an active classification session for a single audio stream.
type Session interface {
	// Classify analyses one frame and returns its label. The frame must
	// match the SampleRate and FrameDurationMs configured at session
	// creation. A mismatch is a configuration error, not a per-frame
	// recoverable condition: callers should treat it as fatal.
	//
	// Classify is called synchronously from the capture loop and must not
	// block or suspend.
	Classify(frame audio.Frame) (Label, error)

	// Reset clears accumulated state (smoothing history, model buffers)
	// without closing the session. Use when the stream restarts so stale
	// state from the previous segment cannot affect new frames.
	Reset()

	// Close releases session resources. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid (unsupported sample rate, frame
	// duration, or threshold out of range) or resources cannot be allocated.
	NewSession(cfg Config) (Session, error)
}
