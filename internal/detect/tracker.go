// Package detect turns per-frame voice-activity labels into utterance
// boundary events.
//
// Two pieces cooperate: the Tracker converts a raw classifier label into an
// effective "speech from the user" decision by holding an adaptive energy
// baseline that is boosted while the device is playing its own audio, and the
// Detector runs the debounce/hangover state machine that emits Start and End
// events from the effective decisions.
package detect

import (
	"sync"
	"time"

	"github.com/duplexa/duplexa/pkg/vad"
)

// Tracker defaults, applied for zero config values.
const (
	defaultBaseMargin    = 0.05
	defaultPlaybackBoost = 1.7
	defaultDecayWindow   = 400 * time.Millisecond
	defaultAlpha         = 0.05
	defaultStaleTimeout  = 2 * time.Second
)

// TrackerConfig tunes the adaptive threshold. Zero values select defaults.
type TrackerConfig struct {
	// BaseMargin is the additive margin above the learned baseline, in the
	// classifier's normalised energy scale.
	BaseMargin float64

	// PlaybackBoost multiplies the margin while playback is active, so the
	// device's own output does not trigger detection. Must be >= 1.
	PlaybackBoost float64

	// DecayWindow is how long after playback stops the boost takes to decay
	// linearly back to 1. Echo and speaker ringing persist briefly after the
	// last frame is written, so the drop must not be instantaneous.
	DecayWindow time.Duration

	// Alpha is the exponential-weight of the baseline update. Only non-speech
	// frames feed the baseline.
	Alpha float64

	// StaleTimeout pauses baseline learning when no frames have arrived for
	// this long; silence from a stalled device must not be learned as the new
	// noise floor.
	StaleTimeout time.Duration
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.BaseMargin <= 0 {
		c.BaseMargin = defaultBaseMargin
	}
	if c.PlaybackBoost < 1 {
		c.PlaybackBoost = defaultPlaybackBoost
	}
	if c.DecayWindow <= 0 {
		c.DecayWindow = defaultDecayWindow
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = defaultAlpha
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = defaultStaleTimeout
	}
	return c
}

// TrackerOption is a functional option for NewTracker.
type TrackerOption func(*Tracker)

// WithClock overrides the tracker's time source for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// Tracker owns the threshold state shared between the frame pipeline and the
// playback lifecycle callbacks. All methods are safe for concurrent use; the
// frame pipeline calls IsSpeech, the playback side calls PlaybackStarted and
// PlaybackStopped.
type Tracker struct {
	cfg TrackerConfig
	now func() time.Time

	mu          sync.Mutex
	baseline    float64
	baselineSet bool
	lastFrame   time.Time
	playing     bool
	stoppedAt   time.Time
}

// NewTracker creates a tracker with cfg, filling defaults for zero values.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	t := &Tracker{cfg: cfg.withDefaults(), now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// IsSpeech applies the current effective threshold to a raw classifier label
// and feeds the label's energy into the baseline estimate. The raw label says
// "speech-like energy"; the return value says "speech from the user, not from
// our own speaker".
func (t *Tracker) IsSpeech(label vad.Label) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	speech := label.Speech && label.Energy >= t.thresholdLocked(now)

	// After a long gap the first frame's energy is untrustworthy as a noise
	// sample, so skip one learning step.
	stale := !t.lastFrame.IsZero() && now.Sub(t.lastFrame) > t.cfg.StaleTimeout
	t.lastFrame = now
	if speech || stale {
		return speech
	}

	if !t.baselineSet {
		t.baseline = label.Energy
		t.baselineSet = true
	} else {
		t.baseline += t.cfg.Alpha * (label.Energy - t.baseline)
	}
	return speech
}

// Threshold reports the current effective speech threshold.
func (t *Tracker) Threshold() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.thresholdLocked(t.now())
}

func (t *Tracker) thresholdLocked(now time.Time) float64 {
	return t.baseline + t.cfg.BaseMargin*t.boostLocked(now)
}

// boostLocked returns the current margin multiplier: PlaybackBoost while
// playing, decaying linearly to 1 over DecayWindow once playback stops.
func (t *Tracker) boostLocked(now time.Time) float64 {
	if t.playing {
		return t.cfg.PlaybackBoost
	}
	if t.stoppedAt.IsZero() {
		return 1
	}
	elapsed := now.Sub(t.stoppedAt)
	if elapsed >= t.cfg.DecayWindow {
		return 1
	}
	frac := float64(elapsed) / float64(t.cfg.DecayWindow)
	return t.cfg.PlaybackBoost - (t.cfg.PlaybackBoost-1)*frac
}

// PlaybackStarted raises the threshold margin for the duration of playback.
func (t *Tracker) PlaybackStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = true
}

// PlaybackStopped begins the margin decay. Calling it while no playback is
// active is a no-op, so completion and interruption paths can both report
// stop without coordination.
func (t *Tracker) PlaybackStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing {
		return
	}
	t.playing = false
	t.stoppedAt = t.now()
}

// PlaybackActive reports whether playback is currently raising the margin.
func (t *Tracker) PlaybackActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}
