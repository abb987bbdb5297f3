package detect

import "time"

// Detector defaults, applied for zero config values. With 30 ms frames the
// defaults debounce 90 ms of noise and confirm end-of-speech after 510 ms of
// silence.
const (
	defaultDebounceFrames = 3
	defaultHangoverFrames = 17
)

// DetectorConfig tunes the utterance state machine. Zero values select
// defaults.
type DetectorConfig struct {
	// DebounceFrames is how many consecutive speech frames are required
	// before an utterance opens. Debounces single-frame noise spikes.
	DebounceFrames int

	// HangoverFrames is how many consecutive silence frames are required
	// before an open utterance closes. Must exceed natural within-sentence
	// pauses but stay short enough for responsive turn-taking.
	HangoverFrames int
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.DebounceFrames <= 0 {
		c.DebounceFrames = defaultDebounceFrames
	}
	if c.HangoverFrames <= 0 {
		c.HangoverFrames = defaultHangoverFrames
	}
	return c
}

// EventKind discriminates utterance boundary events.
type EventKind int

const (
	// Start marks the opening of a new utterance.
	Start EventKind = iota + 1
	// End marks the close of the open utterance.
	End
)

func (k EventKind) String() string {
	switch k {
	case Start:
		return "start"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// Event is one utterance boundary. Utterance IDs are strictly increasing and
// every End carries the ID of the Start that opened it.
type Event struct {
	Kind        EventKind
	UtteranceID uint64

	// Timestamp is the stream position of the transition: for Start, the
	// first frame of the debounce run; for End, the frame that confirmed the
	// close.
	Timestamp time.Duration

	// Duration is the span from the utterance's first speech frame to its
	// last. Set on End only.
	Duration time.Duration
}

type detectorState int

const (
	stateIdle detectorState = iota
	stateSpeechActive
	stateHangover
)

// Detector is the utterance boundary state machine. It consumes effective
// per-frame speech decisions in strict frame order and emits at most one
// event per frame. At most one utterance is open at any time.
//
// The detector knows nothing about playback; a Start arriving while audio is
// playing is an ordinary Start, and treating it as an interrupt is the
// session's job. Not safe for concurrent use: only the frame pipeline feeds
// it.
type Detector struct {
	cfg DetectorConfig

	state      detectorState
	nextID     uint64
	current    uint64
	speechRun  int
	silenceRun int
	runStart   time.Duration
	startAt    time.Duration
	lastSpeech time.Duration
}

// NewDetector creates a detector with cfg, filling defaults for zero values.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults(), nextID: 1}
}

// Observe feeds one frame's effective speech decision at stream position at.
// It returns the boundary event the frame triggered, if any.
func (d *Detector) Observe(speech bool, at time.Duration) (Event, bool) {
	switch d.state {
	case stateIdle:
		if !speech {
			d.speechRun = 0
			return Event{}, false
		}
		if d.speechRun == 0 {
			d.runStart = at
		}
		d.speechRun++
		if d.speechRun < d.cfg.DebounceFrames {
			return Event{}, false
		}
		d.state = stateSpeechActive
		d.current = d.nextID
		d.nextID++
		d.startAt = d.runStart
		d.lastSpeech = at
		d.speechRun = 0
		return Event{Kind: Start, UtteranceID: d.current, Timestamp: d.startAt}, true

	case stateSpeechActive:
		if speech {
			d.lastSpeech = at
			return Event{}, false
		}
		d.state = stateHangover
		d.silenceRun = 1
		return d.maybeCloseLocked(at)

	case stateHangover:
		if speech {
			d.state = stateSpeechActive
			d.silenceRun = 0
			d.lastSpeech = at
			return Event{}, false
		}
		d.silenceRun++
		return d.maybeCloseLocked(at)
	}
	return Event{}, false
}

// maybeCloseLocked emits End once the silence run reaches the hangover length.
func (d *Detector) maybeCloseLocked(at time.Duration) (Event, bool) {
	if d.silenceRun < d.cfg.HangoverFrames {
		return Event{}, false
	}
	ev := Event{
		Kind:        End,
		UtteranceID: d.current,
		Timestamp:   at,
		Duration:    d.lastSpeech - d.startAt,
	}
	d.state = stateIdle
	d.silenceRun = 0
	d.speechRun = 0
	return ev, true
}

// Open reports the ID of the currently open utterance, or 0 when idle.
func (d *Detector) Open() uint64 {
	if d.state == stateIdle {
		return 0
	}
	return d.current
}

// Reset returns the detector to idle without emitting an End for any open
// utterance. IDs keep increasing across resets.
func (d *Detector) Reset() {
	d.state = stateIdle
	d.speechRun = 0
	d.silenceRun = 0
}
