package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/duplexa/duplexa/internal/detect"
	"github.com/duplexa/duplexa/internal/observe"
	"github.com/duplexa/duplexa/internal/textsource"
	"github.com/duplexa/duplexa/pkg/audio"
	audiomock "github.com/duplexa/duplexa/pkg/audio/mock"
	"github.com/duplexa/duplexa/pkg/synth"
	synthmock "github.com/duplexa/duplexa/pkg/synth/mock"
	"github.com/duplexa/duplexa/pkg/vad"
	vadmock "github.com/duplexa/duplexa/pkg/vad/mock"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

const testFrameDur = 30 * time.Millisecond

// script builds paced capture frames and matching classifier labels from a
// pattern of 's' (speech) and '.' (silence) characters.
func script(pattern string) ([]audio.Frame, []vad.Label) {
	frames := make([]audio.Frame, 0, len(pattern))
	labels := make([]vad.Label, 0, len(pattern))
	for i, c := range pattern {
		frames = append(frames, audio.Frame{
			Data:       make([]byte, testFormat.BytesPerFrame(testFrameDur)),
			SampleRate: testFormat.SampleRate,
			Channels:   testFormat.Channels,
			Seq:        uint64(i),
			Timestamp:  time.Duration(i) * testFrameDur,
		})
		if c == 's' {
			labels = append(labels, vad.Label{Speech: true, Energy: 0.9})
		} else {
			labels = append(labels, vad.Label{Speech: false, Energy: 0.01})
		}
	}
	return frames, labels
}

// waveform builds a clip of n render frames filled with tag.
func waveform(n int, tag byte) audio.Waveform {
	pcm := make([]byte, n*testFormat.BytesPerFrame(testFrameDur))
	for i := range pcm {
		pcm[i] = tag
	}
	return audio.Waveform{PCM: pcm, Format: testFormat}
}

type fixture struct {
	capture  *audiomock.Capture
	playback *audiomock.Playback
	synth    *synthmock.Client
	metrics  *observe.Metrics
	reader   *sdkmetric.ManualReader
	orch     *Orchestrator

	mu      sync.Mutex
	runErr  error
	runDone chan struct{}
}

func newFixture(t *testing.T, pattern string, sc *synthmock.Client) *fixture {
	t.Helper()

	frames, labels := script(pattern)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		capture:  &audiomock.Capture{Frames: frames, Interval: 2 * time.Millisecond, FormatResult: testFormat},
		playback: &audiomock.Playback{FormatResult: testFormat},
		synth:    sc,
		metrics:  metrics,
		reader:   reader,
		runDone:  make(chan struct{}),
	}
	texts, _ := textsource.New([]string{"reply one", "reply two", "reply three"})
	f.orch, err = New(Config{
		Capture:   f.capture,
		Playback:  f.playback,
		VAD:       &vadmock.Engine{Session: &vadmock.Session{Labels: labels, Default: vad.Label{Speech: false, Energy: 0.01}}},
		VADConfig: vad.Config{SampleRate: 16000, FrameDurationMs: 30, SpeechThreshold: 0.3},
		Synth:     sc,
		Texts:     texts,
		Detector:  detect.DetectorConfig{DebounceFrames: 2, HangoverFrames: 2},
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

// run starts the session and returns a cancel func; Run's error is checked
// on cleanup.
func (f *fixture) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(f.runDone)
		err := f.orch.Run(ctx)
		f.mu.Lock()
		f.runErr = err
		f.mu.Unlock()
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.runDone:
		case <-time.After(5 * time.Second):
			t.Fatal("session did not shut down")
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.runErr != nil {
			t.Errorf("Run returned %v, want nil", f.runErr)
		}
	})
	return cancel
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// counterValue sums all data points of a counter metric.
func (f *fixture) counterValue(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestRun_UtteranceTriggersPlayback(t *testing.T) {
	t.Parallel()

	sc := &synthmock.Client{Waveform: waveform(3, 0xAA)}
	f := newFixture(t, "ss..", sc)
	f.run(t)

	waitFor(t, "reply playback", func() bool {
		return f.playback.WrittenBytes() == len(sc.Waveform.PCM)
	})

	reqs := sc.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d synthesis requests, want 1", len(reqs))
	}
	if reqs[0].UtteranceID != 1 {
		t.Errorf("request utterance id = %d, want 1", reqs[0].UtteranceID)
	}
	if reqs[0].Text == "" {
		t.Error("request carried no text")
	}
	if got := f.counterValue(t, "duplexa.utterances"); got != 1 {
		t.Errorf("utterance count = %d, want 1", got)
	}
}

func TestRun_BargeInInterruptsPlayback(t *testing.T) {
	t.Parallel()

	// A long first reply, played slowly, so the second utterance lands
	// mid-playback.
	sc := &synthmock.Client{}
	sc.Respond(1, synth.Result{UtteranceID: 1, Waveform: waveform(200, 0xAA)})
	sc.Respond(2, synth.Result{UtteranceID: 2, Waveform: waveform(2, 0xBB)})

	f := newFixture(t, "ss.."+"........"+"ss..", sc)
	f.playback.WriteDelay = 10 * time.Millisecond
	f.run(t)

	waitFor(t, "second reply playback", func() bool {
		frames := f.playback.Written()
		return len(frames) > 0 && frames[len(frames)-1].Data[0] == 0xBB
	})

	// The first reply was cut short.
	first := waveform(200, 0xAA)
	var aaBytes int
	for _, fr := range f.playback.Written() {
		if fr.Data[0] == 0xAA {
			aaBytes += len(fr.Data)
		}
	}
	if aaBytes >= len(first.PCM) {
		t.Error("first reply played to completion despite barge-in")
	}
	if got := f.counterValue(t, "duplexa.barge_ins"); got != 1 {
		t.Errorf("barge-in count = %d, want 1", got)
	}
}

func TestRun_StaleResponseDiscarded(t *testing.T) {
	t.Parallel()

	// The first request is held until after the second utterance has
	// started, so its response arrives superseded.
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	sc := &synthmock.Client{}
	sc.Respond(1, synth.Result{UtteranceID: 1, Waveform: waveform(2, 0xAA)})
	sc.Respond(2, synth.Result{UtteranceID: 2, Waveform: waveform(2, 0xBB)})
	sc.Delay = func() <-chan struct{} {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return release
		}
		closed := make(chan struct{})
		close(closed)
		return closed
	}

	f := newFixture(t, "ss.."+"ss..", sc)
	f.run(t)

	waitFor(t, "second reply playback", func() bool {
		frames := f.playback.Written()
		return len(frames) > 0 && frames[len(frames)-1].Data[0] == 0xBB
	})
	close(release)

	// Nothing from the first reply must ever be played.
	for _, fr := range f.playback.Written() {
		if fr.Data[0] == 0xAA {
			t.Fatal("superseded reply was played")
		}
	}
	waitFor(t, "stale response accounting", func() bool {
		return f.counterValue(t, "duplexa.synthesis.stale_responses") >= 1
	})
}

func TestRun_SynthesisFailureIsRecoverable(t *testing.T) {
	t.Parallel()

	sc := &synthmock.Client{}
	sc.Respond(1, synth.Result{UtteranceID: 1, Err: errors.New("service down")})
	sc.Respond(2, synth.Result{UtteranceID: 2, Waveform: waveform(2, 0xBB)})

	f := newFixture(t, "ss.."+"ss..", sc)
	f.run(t)

	// The second utterance still gets its reply after the first one failed.
	waitFor(t, "second reply playback", func() bool {
		frames := f.playback.Written()
		return len(frames) > 0 && frames[len(frames)-1].Data[0] == 0xBB
	})
	if got := f.counterValue(t, "duplexa.synthesis.errors"); got != 1 {
		t.Errorf("synthesis error count = %d, want 1", got)
	}
	for _, fr := range f.playback.Written() {
		if fr.Data[0] != 0xBB {
			t.Fatal("playback contains frames from the failed reply")
		}
	}
}

func TestRun_DeviceFailureIsFatal(t *testing.T) {
	t.Parallel()

	frames, labels := script("..")
	texts, _ := textsource.New([]string{"x"})
	orch, err := New(Config{
		Capture:   &audiomock.Capture{Frames: frames, ReadErr: errors.New("mic unplugged"), FormatResult: testFormat},
		Playback:  &audiomock.Playback{FormatResult: testFormat},
		VAD:       &vadmock.Engine{Session: &vadmock.Session{Labels: labels}},
		VADConfig: vad.Config{SampleRate: 16000, FrameDurationMs: 30, SpeechThreshold: 0.3},
		Synth:     &synthmock.Client{},
		Texts:     texts,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = orch.Run(context.Background())
	if !errors.Is(err, ErrDeviceFailure) {
		t.Fatalf("Run = %v, want ErrDeviceFailure", err)
	}
}

func TestRun_ClassifierFailureIsFatal(t *testing.T) {
	t.Parallel()

	frames, _ := script("ss")
	texts, _ := textsource.New([]string{"x"})
	orch, err := New(Config{
		Capture:   &audiomock.Capture{Frames: frames, FormatResult: testFormat},
		Playback:  &audiomock.Playback{FormatResult: testFormat},
		VAD:       &vadmock.Engine{Session: &vadmock.Session{ClassifyErr: errors.New("bad frame")}},
		VADConfig: vad.Config{SampleRate: 16000, FrameDurationMs: 30, SpeechThreshold: 0.3},
		Synth:     &synthmock.Client{},
		Texts:     texts,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = orch.Run(context.Background())
	if !errors.Is(err, ErrClassifierFailure) {
		t.Fatalf("Run = %v, want ErrClassifierFailure", err)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("New accepted an empty config")
	}
}
