// Package session wires capture, detection, synthesis, and playback into the
// end-to-end duplex voice loop.
//
// Two activities run concurrently and must make progress independently: the
// capture pipeline (read frame, classify, detect) runs at the device's
// real-time cadence and never touches the network, and the control loop
// handles the slow parts (synthesis round-trips, playback lifecycle). A new
// utterance starting while audio is playing is a barge-in: playback is
// stopped and any in-flight synthesis for the previous utterance is
// cancelled. A synthesis response that arrives after its utterance has been
// superseded is discarded by ID comparison, never played.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/duplexa/duplexa/internal/detect"
	"github.com/duplexa/duplexa/internal/observe"
	"github.com/duplexa/duplexa/internal/playback"
	"github.com/duplexa/duplexa/internal/textsource"
	"github.com/duplexa/duplexa/pkg/audio"
	"github.com/duplexa/duplexa/pkg/synth"
	"github.com/duplexa/duplexa/pkg/vad"
)

// Fatal error kinds. Frame-pipeline failures terminate the session; the
// real-time loop cannot tolerate partial frames. Synthesis failures are
// handled inside the loop and never surface here.
var (
	// ErrDeviceFailure wraps capture/playback device errors.
	ErrDeviceFailure = errors.New("session: audio device failure")

	// ErrClassifierFailure wraps per-frame classification errors, which
	// indicate a configuration mismatch rather than a transient condition.
	ErrClassifierFailure = errors.New("session: classifier failure")
)

// errSuperseded marks a turn whose reply was overtaken by a newer utterance.
// It only ever annotates spans; it never surfaces to callers.
var errSuperseded = errors.New("session: utterance superseded")

// Config assembles the collaborators and tuning for one duplex session.
type Config struct {
	// Capture yields the microphone frames driving detection.
	Capture audio.CaptureDevice

	// Playback renders synthesised waveforms.
	Playback audio.PlaybackDevice

	// VAD creates the frame classifier for this session.
	VAD vad.Engine

	// VADConfig is passed to VAD.NewSession and must agree with the capture
	// format.
	VADConfig vad.Config

	// Synth is the synthesis backend.
	Synth synth.Client

	// Texts chooses the reply text per utterance.
	Texts textsource.Source

	// Voice and Language are forwarded on every synthesis request.
	Voice    string
	Language string

	// Tracker tunes the playback-aware adaptive threshold.
	Tracker detect.TrackerConfig

	// Detector tunes utterance boundary detection.
	Detector detect.DetectorConfig

	// Metrics receives instrumentation. Nil selects observe.DefaultMetrics.
	Metrics *observe.Metrics
}

func (c Config) validate() error {
	var errs []error
	if c.Capture == nil {
		errs = append(errs, errors.New("session: capture device is required"))
	}
	if c.Playback == nil {
		errs = append(errs, errors.New("session: playback device is required"))
	}
	if c.VAD == nil {
		errs = append(errs, errors.New("session: vad engine is required"))
	}
	if c.Synth == nil {
		errs = append(errs, errors.New("session: synthesis client is required"))
	}
	if c.Texts == nil {
		errs = append(errs, errors.New("session: text source is required"))
	}
	return errors.Join(errs...)
}

// Orchestrator drives one duplex session: capture → detect → synthesize →
// play, with barge-in preemption. Create with New, drive with Run.
type Orchestrator struct {
	cfg        Config
	classifier vad.Session
	tracker    *detect.Tracker
	detector   *detect.Detector
	player     *playback.Controller
	metrics    *observe.Metrics
}

// New assembles a session from cfg. The classifier session is created here so
// configuration mismatches surface before any audio flows.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	classifier, err := cfg.VAD.NewSession(cfg.VADConfig)
	if err != nil {
		return nil, fmt.Errorf("session: create classifier: %w", err)
	}

	o := &Orchestrator{
		cfg:        cfg,
		classifier: classifier,
		tracker:    detect.NewTracker(cfg.Tracker),
		detector:   detect.NewDetector(cfg.Detector),
		metrics:    cfg.Metrics,
	}
	o.player = playback.NewController(cfg.Playback,
		playback.WithFrameDuration(frameDuration(cfg.VADConfig)),
		playback.WithLifecycleHooks(o.onPlaybackStarted, o.onPlaybackStopped),
	)
	return o, nil
}

func frameDuration(cfg vad.Config) time.Duration {
	if cfg.FrameDurationMs <= 0 {
		return 30 * time.Millisecond
	}
	return time.Duration(cfg.FrameDurationMs) * time.Millisecond
}

func (o *Orchestrator) onPlaybackStarted() {
	o.tracker.PlaybackStarted()
	o.metrics.ActivePlayback.Add(context.Background(), 1)
}

func (o *Orchestrator) onPlaybackStopped() {
	o.tracker.PlaybackStopped()
	o.metrics.ActivePlayback.Add(context.Background(), -1)
}

// Run drives the session until ctx is cancelled or a fatal pipeline error
// occurs. Returns nil on clean shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.metrics.ActiveSessions.Add(ctx, 1)
	defer o.metrics.ActiveSessions.Add(context.Background(), -1)

	// Events buffer a little so a momentarily busy control loop does not
	// stall the frame pipeline.
	events := make(chan detect.Event, 16)
	results := make(chan synth.Result, 4)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.captureLoop(ctx, events) })
	g.Go(func() error { return o.controlLoop(ctx, events, results) })

	err := g.Wait()

	// Shutdown order: silence the speaker, then release the classifier.
	o.player.Stop()
	if cerr := o.classifier.Close(); cerr != nil {
		slog.Warn("closing classifier", "err", cerr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// captureLoop is the real-time pipeline: read, classify, gate through the
// adaptive threshold, and feed the boundary detector. It never blocks on
// network I/O; its only suspension points are the device read and the event
// channel (which is serviced promptly by the control loop).
func (o *Orchestrator) captureLoop(ctx context.Context, events chan<- detect.Event) error {
	for {
		frame, err := o.cfg.Capture.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read frame: %v", ErrDeviceFailure, err)
		}

		label, err := o.classifier.Classify(frame)
		if err != nil {
			return fmt.Errorf("%w: frame %d: %v", ErrClassifierFailure, frame.Seq, err)
		}

		speech := o.tracker.IsSpeech(label)
		o.metrics.RecordFrame(ctx, speech)

		ev, ok := o.detector.Observe(speech, frame.Timestamp)
		if !ok {
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// controlLoop owns the slow side: utterance lifecycle, synthesis requests,
// and playback. It is the single writer of the "current utterance" state, so
// stale-response checks need no locking.
func (o *Orchestrator) controlLoop(ctx context.Context, events <-chan detect.Event, results chan synth.Result) error {
	var (
		// current is the single source of truth for which late-arriving
		// synthesis response is still valid.
		current     uint64
		cancelSynth context.CancelFunc
		requested   = make(map[uint64]time.Time)
		// turnSpans tracks one span per utterance turn, from End to the
		// playback decision for its reply.
		turnSpans = make(map[uint64]trace.Span)
	)
	endTurn := func(id uint64, err error) {
		span, ok := turnSpans[id]
		if !ok {
			return
		}
		delete(turnSpans, id)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
	defer func() {
		if cancelSynth != nil {
			cancelSynth()
		}
		for id := range turnSpans {
			endTurn(id, context.Canceled)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-events:
			switch ev.Kind {
			case detect.Start:
				if current != 0 && current != ev.UtteranceID {
					endTurn(current, errSuperseded)
				}
				current = ev.UtteranceID
				if cancelSynth != nil {
					cancelSynth()
					cancelSynth = nil
				}
				if o.player.Stop() {
					o.metrics.BargeIns.Add(ctx, 1)
					slog.Info("barge-in: playback interrupted",
						"utterance_id", ev.UtteranceID)
				}
				slog.Debug("utterance started",
					"utterance_id", ev.UtteranceID, "at", ev.Timestamp)

			case detect.End:
				if ev.UtteranceID != current {
					continue
				}
				o.metrics.RecordUtterance(ctx, ev.Duration.Seconds())
				slog.Info("utterance ended",
					"utterance_id", ev.UtteranceID, "duration", ev.Duration)
				turnCtx, span := observe.StartSpan(ctx, "session.turn",
					trace.WithAttributes(attribute.Int64("utterance.id", int64(ev.UtteranceID))))
				turnSpans[ev.UtteranceID] = span
				cancelSynth = o.requestSynthesis(turnCtx, ev.UtteranceID, results, requested)
				if cancelSynth == nil {
					// Submission failed; the metric is already recorded.
					endTurn(ev.UtteranceID, nil)
				}
			}

		case res := <-results:
			start, known := requested[res.UtteranceID]
			if known {
				delete(requested, res.UtteranceID)
			}

			if res.UtteranceID != current {
				o.metrics.StaleResponses.Add(ctx, 1)
				slog.Debug("discarding stale synthesis response",
					"utterance_id", res.UtteranceID, "current", current)
				endTurn(res.UtteranceID, errSuperseded)
				continue
			}
			cancelSynth = nil
			endTurn(res.UtteranceID, res.Err)

			elapsed := time.Duration(0)
			if known {
				elapsed = time.Since(start)
			}
			o.metrics.RecordSynthesis(ctx, elapsed.Seconds(), res.Err)

			if res.Err != nil {
				// Recoverable: drop this utterance's reply, keep listening.
				slog.Warn("synthesis failed",
					"utterance_id", res.UtteranceID, "err", res.Err)
				continue
			}
			o.startPlayback(ctx, res)
		}
	}
}

// requestSynthesis submits the reply for utterance id and forwards the single
// result to results. The returned cancel func aborts the request when the
// utterance is superseded.
func (o *Orchestrator) requestSynthesis(ctx context.Context, id uint64, results chan<- synth.Result, requested map[uint64]time.Time) context.CancelFunc {
	text := o.cfg.Texts.Next()
	sctx, cancel := context.WithCancel(ctx)

	requested[id] = time.Now()
	ch, err := o.cfg.Synth.Synthesize(sctx, synth.Request{
		UtteranceID: id,
		Text:        text,
		Voice:       o.cfg.Voice,
		Language:    o.cfg.Language,
	})
	if err != nil {
		delete(requested, id)
		cancel()
		o.metrics.RecordSynthesis(ctx, 0, err)
		slog.Warn("synthesis request failed",
			"utterance_id", id, "err", err)
		return nil
	}
	slog.Debug("synthesis requested", "utterance_id", id, "text", text)

	go func() {
		defer audio.Drain(ch)
		res, ok := <-ch
		if !ok {
			return
		}
		select {
		case results <- res:
		case <-ctx.Done():
		}
	}()
	return cancel
}

// startPlayback renders the response waveform and records its run time once
// the session finishes, completed or interrupted.
func (o *Orchestrator) startPlayback(ctx context.Context, res synth.Result) {
	// The controller refuses to stack sessions; a leftover one is stopped
	// first. In practice the barge-in path has already done this.
	if o.player.Playing() {
		o.player.Stop()
	}
	sess, err := o.player.Start(res.Waveform)
	if err != nil {
		slog.Error("starting playback",
			"utterance_id", res.UtteranceID, "err", err)
		return
	}
	slog.Info("playback started",
		"utterance_id", res.UtteranceID, "duration", res.Waveform.Duration())

	begin := time.Now()
	go func() {
		<-sess.Wait()
		o.metrics.PlaybackDuration.Record(context.Background(), time.Since(begin).Seconds())
	}()
}
