package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/duplexa/duplexa/internal/app"
	"github.com/duplexa/duplexa/internal/config"
	"github.com/duplexa/duplexa/pkg/audio"
	audiomock "github.com/duplexa/duplexa/pkg/audio/mock"
	"github.com/duplexa/duplexa/pkg/synth"
	synthmock "github.com/duplexa/duplexa/pkg/synth/mock"
	"github.com/duplexa/duplexa/pkg/vad"
	vadmock "github.com/duplexa/duplexa/pkg/vad/mock"
)

// testConfig returns a minimal config for an app driven by mocks.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			LogLevel: config.LogInfo,
		},
		Audio: config.AudioConfig{
			SampleRate:      16000,
			FrameDurationMs: 30,
		},
		VAD: config.VADConfig{
			Engine:          app.VADEnergy,
			SpeechThreshold: 0.3,
		},
		Synthesis: config.SynthesisConfig{
			URL: "ws://localhost:8765",
		},
		Text: config.TextConfig{
			Statements: []string{"Hello there."},
		},
	}
}

// testProviders returns providers backed by mocks. The capture script is
// empty, so the session idles until its context is cancelled.
func testProviders() *app.Providers {
	format := audio.Format{SampleRate: 16000, Channels: 1}
	return &app.Providers{
		Capture:  &audiomock.Capture{FormatResult: format},
		Playback: &audiomock.Playback{FormatResult: format},
		VAD:      &vadmock.Engine{Session: &vadmock.Session{}},
		Synth:    &synthmock.Client{},
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	application, err := app.New(testConfig(), testProviders())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	application, err := app.New(testConfig(), providers)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	// Give Run a moment to set up goroutines, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	if !providers.Synth.(*synthmock.Client).Closed() {
		t.Error("synthesis client not closed during shutdown")
	}
	if !providers.Capture.(*audiomock.Capture).Closed() {
		t.Error("capture device not closed during shutdown")
	}
}

func TestApp_AdminEndpoint(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"

	application, err := app.New(cfg, testProviders())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return after cancellation")
		}
	})

	var addr string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if addr = application.AdminAddr(); addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("admin endpoint never came up")
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, path))
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200 (body: %s)", path, resp.StatusCode, body)
		}
	}
}

func TestBuildProviders_FromRegistry(t *testing.T) {
	t.Parallel()

	wantEngine := &vadmock.Engine{Session: &vadmock.Session{}}
	wantCapture := &audiomock.Capture{}
	wantPlayback := &audiomock.Playback{}
	wantSynth := &synthmock.Client{}

	reg := config.NewRegistry()
	reg.RegisterVAD(app.VADEnergy, func(config.VADConfig) (vad.Engine, error) {
		return wantEngine, nil
	})
	reg.RegisterCapture(app.DevicePortAudio, func(config.AudioConfig) (audio.CaptureDevice, error) {
		return wantCapture, nil
	})
	reg.RegisterPlayback(app.DevicePortAudio, func(config.AudioConfig) (audio.PlaybackDevice, error) {
		return wantPlayback, nil
	})
	reg.RegisterSynth(app.SynthWebsocket, func(config.SynthesisConfig) (synth.Client, error) {
		return wantSynth, nil
	})

	providers, err := app.BuildProviders(testConfig(), reg)
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if providers.VAD != vad.Engine(wantEngine) {
		t.Error("VAD engine did not come from the registry factory")
	}
	if providers.Capture != audio.CaptureDevice(wantCapture) {
		t.Error("capture device did not come from the registry factory")
	}
	if providers.Playback != audio.PlaybackDevice(wantPlayback) {
		t.Error("playback device did not come from the registry factory")
	}
	if providers.Synth != synth.Client(wantSynth) {
		t.Error("synthesis client did not come from the registry factory")
	}
}

func TestBuildProviders_ClosesOnFailure(t *testing.T) {
	t.Parallel()

	wantCapture := &audiomock.Capture{}

	reg := config.NewRegistry()
	reg.RegisterVAD(app.VADEnergy, func(config.VADConfig) (vad.Engine, error) {
		return &vadmock.Engine{Session: &vadmock.Session{}}, nil
	})
	reg.RegisterCapture(app.DevicePortAudio, func(config.AudioConfig) (audio.CaptureDevice, error) {
		return wantCapture, nil
	})
	// No playback factory registered: BuildProviders must fail and close
	// what it already opened.
	if _, err := app.BuildProviders(testConfig(), reg); err == nil {
		t.Fatal("BuildProviders succeeded without a playback factory")
	}
	if !wantCapture.Closed() {
		t.Error("capture device not closed after construction failure")
	}
}

func TestNewRegistry_KnownNames(t *testing.T) {
	t.Parallel()

	reg := app.NewRegistry()

	eng, err := reg.CreateVAD(app.VADEnergy, config.VADConfig{})
	if err != nil {
		t.Fatalf("CreateVAD(energy): %v", err)
	}
	if eng == nil {
		t.Fatal("CreateVAD(energy) returned nil engine")
	}

	if _, err := reg.CreateVAD("nope", config.VADConfig{}); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("CreateVAD(nope) = %v, want ErrNotRegistered", err)
	}

	// The websocket client dials lazily, so creating it needs no server.
	sc, err := reg.CreateSynth(app.SynthWebsocket, config.SynthesisConfig{URL: "ws://localhost:8765"})
	if err != nil {
		t.Fatalf("CreateSynth(websocket): %v", err)
	}
	if err := sc.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
