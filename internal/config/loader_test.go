package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/duplexa/duplexa/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
audio:
  sample_rate: 16000
  frame_duration_ms: 30
  capture_device: portaudio
  playback_device: portaudio
vad:
  engine: silero
  model_path: models/silero_vad.onnx
  speech_threshold: 0.5
detection:
  debounce_frames: 3
  hangover: 500ms
  base_margin: 0.05
  playback_boost: 1.7
  decay_window: 400ms
  baseline_alpha: 0.05
  stale_timeout: 2s
synthesis:
  url: ws://localhost:8765
  fallback_urls:
    - ws://localhost:8766
  voice: af_heart
  language: en-US
  dial_timeout: 10s
  redial_backoff: 5s
  breaker:
    max_failures: 5
    reset_timeout: 30s
text:
  statements:
    - "Hello there."
  random_order: true
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.VAD.Engine != "silero" {
		t.Errorf("vad engine = %q, want silero", cfg.VAD.Engine)
	}
	if got := cfg.Detection.Hangover.Std(); got != 500*time.Millisecond {
		t.Errorf("hangover = %v, want 500ms", got)
	}
	if got := cfg.Synthesis.DialTimeout.Std(); got != 10*time.Second {
		t.Errorf("dial timeout = %v, want 10s", got)
	}
	if len(cfg.Synthesis.FallbackURLs) != 1 {
		t.Errorf("fallback urls = %v, want one entry", cfg.Synthesis.FallbackURLs)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := `
synthesis:
  url: ws://localhost:8765
  voices: af_heart
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()

	yaml := `
detection:
  hangover: half-a-second
synthesis:
  url: ws://localhost:8765
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for malformed duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration, got: %v", err)
	}
}

func TestValidate_RequiresSynthesisURL(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
audio:
  sample_rate: 16000
`))
	if err == nil {
		t.Fatal("expected error for missing synthesis.url, got nil")
	}
	if !strings.Contains(err.Error(), "synthesis.url") {
		t.Errorf("error should mention synthesis.url, got: %v", err)
	}
}

func TestValidate_RejectsNonWebSocketURL(t *testing.T) {
	t.Parallel()

	yaml := `
synthesis:
  url: http://localhost:8765
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for http URL, got nil")
	}
	if !strings.Contains(err.Error(), "ws://") {
		t.Errorf("error should mention the ws scheme, got: %v", err)
	}
}

func TestValidate_SileroRequiresModelPath(t *testing.T) {
	t.Parallel()

	yaml := `
vad:
  engine: silero
synthesis:
  url: ws://localhost:8765
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for silero without model path, got nil")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestValidate_SileroSampleRate(t *testing.T) {
	t.Parallel()

	yaml := `
audio:
  sample_rate: 44100
vad:
  engine: silero
  model_path: m.onnx
synthesis:
  url: ws://localhost:8765
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unsupported silero sample rate, got nil")
	}
	if !strings.Contains(err.Error(), "sample_rate") {
		t.Errorf("error should mention sample_rate, got: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: loud
vad:
  speech_threshold: 2.5
detection:
  playback_boost: 0.5
synthesis:
  url: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "speech_threshold", "playback_boost", "synthesis.url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_EmptyStatementRejected(t *testing.T) {
	t.Parallel()

	yaml := `
synthesis:
  url: ws://localhost:8765
text:
  statements:
    - "Hello."
    - "   "
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for blank statement, got nil")
	}
	if !strings.Contains(err.Error(), "statements[1]") {
		t.Errorf("error should name the blank statement, got: %v", err)
	}
}
