// Package config provides the configuration schema, loader, and component
// registry for the duplexa voice interaction client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration for YAML decoding of values like "500ms".
type Duration time.Duration

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for duplexa.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Detection DetectionConfig `yaml:"detection"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Text      TextConfig      `yaml:"text"`
}

// ServerConfig holds settings for the admin HTTP endpoint (health, metrics)
// and logging.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin endpoint listens on
	// (e.g., ":8080"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig fixes the capture/playback stream parameters. The whole
// pipeline agrees on one format at open time; mismatches are configuration
// errors, not per-frame conditions.
type AudioConfig struct {
	// SampleRate in Hz for capture. Silero VAD supports 8000 and 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameDurationMs is the capture frame length in milliseconds.
	FrameDurationMs int `yaml:"frame_duration_ms"`

	// CaptureDevice selects the registered capture device implementation
	// (e.g., "portaudio").
	CaptureDevice string `yaml:"capture_device"`

	// PlaybackDevice selects the registered playback device implementation.
	PlaybackDevice string `yaml:"playback_device"`
}

// VADConfig selects and tunes the voice-activity classifier.
type VADConfig struct {
	// Engine selects the registered classifier (e.g., "energy", "silero").
	Engine string `yaml:"engine"`

	// ModelPath is the ONNX model file for model-backed engines.
	ModelPath string `yaml:"model_path"`

	// SpeechThreshold is the raw classifier threshold in [0, 1].
	SpeechThreshold float64 `yaml:"speech_threshold"`
}

// DetectionConfig tunes utterance boundary detection and the playback-aware
// adaptive threshold. These are tuning parameters, not correctness knobs;
// zero values select built-in defaults.
type DetectionConfig struct {
	// DebounceFrames is the consecutive speech frames required to open an
	// utterance.
	DebounceFrames int `yaml:"debounce_frames"`

	// Hangover is the continued silence required to close an utterance.
	Hangover Duration `yaml:"hangover"`

	// BaseMargin is the additive margin above the learned energy baseline.
	BaseMargin float64 `yaml:"base_margin"`

	// PlaybackBoost multiplies the margin while the device plays its own
	// audio. Must be >= 1.
	PlaybackBoost float64 `yaml:"playback_boost"`

	// DecayWindow is how long the boost takes to decay after playback stops.
	DecayWindow Duration `yaml:"decay_window"`

	// BaselineAlpha is the exponential weight of baseline learning, in (0, 1].
	BaselineAlpha float64 `yaml:"baseline_alpha"`

	// StaleTimeout pauses baseline learning after a frame gap of this length.
	StaleTimeout Duration `yaml:"stale_timeout"`
}

// SynthesisConfig configures the speech synthesis service connection.
type SynthesisConfig struct {
	// URL is the WebSocket endpoint of the primary synthesis service
	// (e.g., "ws://localhost:8765").
	URL string `yaml:"url"`

	// FallbackURLs lists additional synthesis endpoints tried in order when
	// the primary fails or its circuit breaker is open.
	FallbackURLs []string `yaml:"fallback_urls"`

	// Voice is the service-specific voice identifier. Empty selects the
	// service default.
	Voice string `yaml:"voice"`

	// Language is a BCP-47 language code. Empty selects the service default.
	Language string `yaml:"language"`

	// DialTimeout bounds each connection attempt.
	DialTimeout Duration `yaml:"dial_timeout"`

	// RedialBackoff is the wait after a failed dial before the next attempt.
	RedialBackoff Duration `yaml:"redial_backoff"`

	// Breaker tunes the per-endpoint circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker. Zero values select defaults.
type BreakerConfig struct {
	// MaxFailures is the consecutive failures before the breaker opens.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before probing again.
	ResetTimeout Duration `yaml:"reset_timeout"`
}

// TextConfig configures the reply text source.
type TextConfig struct {
	// Statements is the list of texts synthesised in reply to utterances.
	// Empty selects the built-in demo statements.
	Statements []string `yaml:"statements"`

	// RandomOrder picks statements uniformly at random instead of rotating.
	RandomOrder bool `yaml:"random_order"`
}
