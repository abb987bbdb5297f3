package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidComponentNames lists known implementation names per component kind.
// Used by [Validate] to warn about unrecognised names.
var ValidComponentNames = map[string][]string{
	"vad":      {"energy", "silero"},
	"capture":  {"portaudio"},
	"playback": {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Component name validation — warn for unknown names.
	validateComponentName("vad", cfg.VAD.Engine)
	validateComponentName("capture", cfg.Audio.CaptureDevice)
	validateComponentName("playback", cfg.Audio.PlaybackDevice)

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameDurationMs < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d must not be negative", cfg.Audio.FrameDurationMs))
	}
	if cfg.Audio.FrameDurationMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is too long for responsive detection; keep it at or below 100", cfg.Audio.FrameDurationMs))
	}

	// VAD
	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f is out of range [0, 1]", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.Engine == "silero" {
		if cfg.VAD.ModelPath == "" {
			errs = append(errs, errors.New("vad.model_path is required when vad.engine is silero"))
		}
		if sr := cfg.Audio.SampleRate; sr != 0 && sr != 8000 && sr != 16000 {
			errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported by the silero engine; use 8000 or 16000", sr))
		}
	}

	// Detection
	if cfg.Detection.DebounceFrames < 0 {
		errs = append(errs, fmt.Errorf("detection.debounce_frames %d must not be negative", cfg.Detection.DebounceFrames))
	}
	if cfg.Detection.Hangover < 0 {
		errs = append(errs, fmt.Errorf("detection.hangover %v must not be negative", cfg.Detection.Hangover.Std()))
	}
	if b := cfg.Detection.PlaybackBoost; b != 0 && b < 1 {
		errs = append(errs, fmt.Errorf("detection.playback_boost %.2f must be at least 1", b))
	}
	if a := cfg.Detection.BaselineAlpha; a < 0 || a > 1 {
		errs = append(errs, fmt.Errorf("detection.baseline_alpha %.2f is out of range [0, 1]", a))
	}

	// Synthesis
	if cfg.Synthesis.URL == "" {
		errs = append(errs, errors.New("synthesis.url is required"))
	} else if !hasWebSocketScheme(cfg.Synthesis.URL) {
		errs = append(errs, fmt.Errorf("synthesis.url %q must use the ws:// or wss:// scheme", cfg.Synthesis.URL))
	}
	for i, u := range cfg.Synthesis.FallbackURLs {
		if !hasWebSocketScheme(u) {
			errs = append(errs, fmt.Errorf("synthesis.fallback_urls[%d] %q must use the ws:// or wss:// scheme", i, u))
		}
	}
	if cfg.Synthesis.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("synthesis.breaker.max_failures %d must not be negative", cfg.Synthesis.Breaker.MaxFailures))
	}

	// Text
	for i, s := range cfg.Text.Statements {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Errorf("text.statements[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// hasWebSocketScheme reports whether u looks like a WebSocket URL.
func hasWebSocketScheme(u string) bool {
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://")
}

// validateComponentName logs a warning if name is non-empty and not found in
// the [ValidComponentNames] list for the given kind.
func validateComponentName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidComponentNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown component name — may be a typo or third-party implementation",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
