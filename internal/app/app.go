// Package app wires all duplexa subsystems into a running client.
//
// The App struct owns the full lifecycle: New assembles the session from
// config and providers, Run executes the duplex voice loop (plus the admin
// HTTP endpoint when configured), and Shutdown tears everything down in
// order.
//
// For testing, pass a Providers struct holding mock implementations. In
// main, Providers is populated from the config registry (see NewRegistry and
// BuildProviders).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/duplexa/duplexa/internal/config"
	"github.com/duplexa/duplexa/internal/detect"
	"github.com/duplexa/duplexa/internal/health"
	"github.com/duplexa/duplexa/internal/observe"
	"github.com/duplexa/duplexa/internal/resilience"
	"github.com/duplexa/duplexa/internal/session"
	"github.com/duplexa/duplexa/internal/textsource"
	"github.com/duplexa/duplexa/pkg/audio"
	"github.com/duplexa/duplexa/pkg/audio/portaudio"
	"github.com/duplexa/duplexa/pkg/synth"
	"github.com/duplexa/duplexa/pkg/synth/wsclient"
	"github.com/duplexa/duplexa/pkg/vad"
	"github.com/duplexa/duplexa/pkg/vad/energy"
	"github.com/duplexa/duplexa/pkg/vad/silero"
)

// Registered component names.
const (
	VADEnergy       = "energy"
	VADSilero       = "silero"
	DevicePortAudio = "portaudio"
	SynthWebsocket  = "websocket"
)

// defaultFrameDuration is used when audio.frame_duration_ms is unset.
const defaultFrameDuration = 30 * time.Millisecond

// Providers holds one interface value per provider slot. Populated by main
// via [BuildProviders], or directly with mocks in tests.
type Providers struct {
	Capture  audio.CaptureDevice
	Playback audio.PlaybackDevice
	VAD      vad.Engine
	Synth    synth.Client
}

// NewRegistry returns a [config.Registry] with all built-in component
// factories registered: the "energy" and "silero" classifiers, the
// "portaudio" capture/playback devices, and the "websocket" synthesis client
// (with failover across fallback URLs when configured).
func NewRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterVAD(VADEnergy, func(config.VADConfig) (vad.Engine, error) {
		return energy.New(), nil
	})
	reg.RegisterVAD(VADSilero, func(cfg config.VADConfig) (vad.Engine, error) {
		eng, err := silero.New(cfg.ModelPath)
		if err != nil {
			return nil, err
		}
		return eng, nil
	})

	reg.RegisterCapture(DevicePortAudio, func(cfg config.AudioConfig) (audio.CaptureDevice, error) {
		return portaudio.OpenCapture(captureFormat(cfg), frameDuration(cfg))
	})
	reg.RegisterPlayback(DevicePortAudio, func(cfg config.AudioConfig) (audio.PlaybackDevice, error) {
		return portaudio.OpenPlayback(captureFormat(cfg), frameDuration(cfg))
	})

	reg.RegisterSynth(SynthWebsocket, buildSynthClient)

	return reg
}

// buildSynthClient creates the websocket synthesis client, wrapped in a
// failover group when fallback URLs are configured.
func buildSynthClient(cfg config.SynthesisConfig) (synth.Client, error) {
	opts := clientOpts(cfg)
	primary, err := wsclient.New(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("synthesis client %q: %w", cfg.URL, err)
	}
	if len(cfg.FallbackURLs) == 0 {
		return primary, nil
	}

	group := resilience.NewSynthFallback(primary, cfg.URL, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Breaker.MaxFailures,
			ResetTimeout: cfg.Breaker.ResetTimeout.Std(),
		},
	})
	for _, url := range cfg.FallbackURLs {
		fb, err := wsclient.New(url, opts...)
		if err != nil {
			_ = group.Close()
			return nil, fmt.Errorf("fallback synthesis client %q: %w", url, err)
		}
		group.AddFallback(url, fb)
	}
	return group, nil
}

func clientOpts(cfg config.SynthesisConfig) []wsclient.Option {
	var opts []wsclient.Option
	if d := cfg.DialTimeout.Std(); d > 0 {
		opts = append(opts, wsclient.WithDialTimeout(d))
	}
	if d := cfg.RedialBackoff.Std(); d > 0 {
		opts = append(opts, wsclient.WithRedialBackoff(d))
	}
	return opts
}

func captureFormat(cfg config.AudioConfig) audio.Format {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	return audio.Format{SampleRate: sr, Channels: 1}
}

func frameDuration(cfg config.AudioConfig) time.Duration {
	if cfg.FrameDurationMs <= 0 {
		return defaultFrameDuration
	}
	return time.Duration(cfg.FrameDurationMs) * time.Millisecond
}

// BuildProviders instantiates all providers named in cfg through the
// registry. On failure, providers created so far are closed.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	p := &Providers{}

	fail := func(err error) (*Providers, error) {
		p.close()
		return nil, err
	}

	engineName := cfg.VAD.Engine
	if engineName == "" {
		engineName = VADEnergy
	}
	eng, err := reg.CreateVAD(engineName, cfg.VAD)
	if err != nil {
		return fail(fmt.Errorf("app: create vad engine: %w", err))
	}
	p.VAD = eng

	captureName := cfg.Audio.CaptureDevice
	if captureName == "" {
		captureName = DevicePortAudio
	}
	capDev, err := reg.CreateCapture(captureName, cfg.Audio)
	if err != nil {
		return fail(fmt.Errorf("app: open capture device: %w", err))
	}
	p.Capture = capDev

	playbackName := cfg.Audio.PlaybackDevice
	if playbackName == "" {
		playbackName = DevicePortAudio
	}
	play, err := reg.CreatePlayback(playbackName, cfg.Audio)
	if err != nil {
		return fail(fmt.Errorf("app: open playback device: %w", err))
	}
	p.Playback = play

	sc, err := reg.CreateSynth(SynthWebsocket, cfg.Synthesis)
	if err != nil {
		return fail(fmt.Errorf("app: create synthesis client: %w", err))
	}
	p.Synth = sc

	return p, nil
}

// close releases whichever providers have been created. Used on partial
// construction failure; App.Shutdown handles the normal path.
func (p *Providers) close() {
	if p.Synth != nil {
		_ = p.Synth.Close()
	}
	if p.Capture != nil {
		_ = p.Capture.Close()
	}
	if p.Playback != nil {
		_ = p.Playback.Close()
	}
}

// App owns all subsystem lifetimes and runs the duplex voice client.
type App struct {
	cfg       *config.Config
	providers *Providers
	runID     string

	orch    *session.Orchestrator
	metrics *observe.Metrics

	mu        sync.Mutex
	adminAddr string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics set instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New assembles an App from cfg and providers. All wiring happens here
// synchronously: the reply text source, the detection tuning, and the session
// orchestrator. Configuration mismatches surface before any audio flows.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		runID:     uuid.NewString(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	texts, err := buildTexts(cfg.Text)
	if err != nil {
		return nil, fmt.Errorf("app: build text source: %w", err)
	}

	frameDur := frameDuration(cfg.Audio)
	orch, err := session.New(session.Config{
		Capture:  providers.Capture,
		Playback: providers.Playback,
		VAD:      providers.VAD,
		VADConfig: vad.Config{
			SampleRate:      captureFormat(cfg.Audio).SampleRate,
			FrameDurationMs: int(frameDur / time.Millisecond),
			SpeechThreshold: cfg.VAD.SpeechThreshold,
		},
		Synth:    providers.Synth,
		Texts:    texts,
		Voice:    cfg.Synthesis.Voice,
		Language: cfg.Synthesis.Language,
		Tracker: detect.TrackerConfig{
			BaseMargin:    cfg.Detection.BaseMargin,
			PlaybackBoost: cfg.Detection.PlaybackBoost,
			DecayWindow:   cfg.Detection.DecayWindow.Std(),
			Alpha:         cfg.Detection.BaselineAlpha,
			StaleTimeout:  cfg.Detection.StaleTimeout.Std(),
		},
		Detector: detect.DetectorConfig{
			DebounceFrames: cfg.Detection.DebounceFrames,
			HangoverFrames: durationFrames(cfg.Detection.Hangover.Std(), frameDur),
		},
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: assemble session: %w", err)
	}
	a.orch = orch

	// Providers close in Shutdown, after the session has stopped: synthesis
	// first so in-flight requests fail fast, then the devices.
	a.closers = append(a.closers,
		providers.Synth.Close,
		providers.Capture.Close,
		providers.Playback.Close,
	)

	return a, nil
}

// durationFrames converts a duration threshold to a whole frame count.
// Zero stays zero so built-in defaults apply downstream.
func durationFrames(d, frame time.Duration) int {
	if d <= 0 || frame <= 0 {
		return 0
	}
	n := int(d / frame)
	if n < 1 {
		n = 1
	}
	return n
}

func buildTexts(cfg config.TextConfig) (textsource.Source, error) {
	var opts []textsource.Option
	if cfg.RandomOrder {
		opts = append(opts, textsource.WithRandomOrder())
	}
	if len(cfg.Statements) == 0 {
		return textsource.New(textsource.Statements(), opts...)
	}
	return textsource.New(cfg.Statements, opts...)
}

// Run starts the duplex voice loop and the admin HTTP endpoint (when
// server.listen_addr is set), then blocks until ctx is cancelled or the
// session fails. Returns nil on clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("app: admin listen on %s: %w", addr, err)
		}
		a.mu.Lock()
		a.adminAddr = ln.Addr().String()
		a.mu.Unlock()

		srv := &http.Server{
			Handler:           a.adminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("admin endpoint listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		slog.Info("session running", "run_id", a.runID)
		return a.orch.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// AdminAddr returns the bound address of the admin endpoint, or "" when it
// is disabled or Run has not been called yet.
func (a *App) AdminAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adminAddr
}

// adminHandler builds the admin mux: health probes and the Prometheus scrape
// endpoint, wrapped in the observability middleware.
func (a *App) adminHandler() http.Handler {
	checker := health.New(
		health.Checker{Name: "devices", Check: a.checkDevices},
		health.Checker{Name: "synthesis", Check: a.checkSynthesis},
	)
	mux := http.NewServeMux()
	checker.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// checkDevices verifies both audio devices still report a usable format.
func (a *App) checkDevices(context.Context) error {
	if f := a.providers.Capture.Format(); f.SampleRate <= 0 {
		return errors.New("capture device reports no format")
	}
	if f := a.providers.Playback.Format(); f.SampleRate <= 0 {
		return errors.New("playback device reports no format")
	}
	return nil
}

// checkSynthesis verifies a synthesis backend is configured. Connection
// health is not probed here: the client dials lazily and recovers on its
// own, so a closed connection is not a readiness failure.
func (a *App) checkSynthesis(context.Context) error {
	if a.providers.Synth == nil {
		return errors.New("no synthesis client configured")
	}
	return nil
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "run_id", a.runID, "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
