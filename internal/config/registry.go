package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/duplexa/duplexa/pkg/audio"
	"github.com/duplexa/duplexa/pkg/synth"
	"github.com/duplexa/duplexa/pkg/vad"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// Registry maps component names to their constructor functions for each
// component kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	vad      map[string]func(VADConfig) (vad.Engine, error)
	capture  map[string]func(AudioConfig) (audio.CaptureDevice, error)
	playback map[string]func(AudioConfig) (audio.PlaybackDevice, error)
	synth    map[string]func(SynthesisConfig) (synth.Client, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:      make(map[string]func(VADConfig) (vad.Engine, error)),
		capture:  make(map[string]func(AudioConfig) (audio.CaptureDevice, error)),
		playback: make(map[string]func(AudioConfig) (audio.PlaybackDevice, error)),
		synth:    make(map[string]func(SynthesisConfig) (synth.Client, error)),
	}
}

// RegisterVAD registers a classifier engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterCapture registers a capture device factory under name.
func (r *Registry) RegisterCapture(name string, factory func(AudioConfig) (audio.CaptureDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterPlayback registers a playback device factory under name.
func (r *Registry) RegisterPlayback(name string, factory func(AudioConfig) (audio.PlaybackDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback[name] = factory
}

// RegisterSynth registers a synthesis client factory under name.
func (r *Registry) RegisterSynth(name string, factory func(SynthesisConfig) (synth.Client, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synth[name] = factory
}

// CreateVAD instantiates a classifier engine using the factory registered
// under name. Returns [ErrNotRegistered] if no factory exists for that name.
func (r *Registry) CreateVAD(name string, cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrNotRegistered, name)
	}
	return factory(cfg)
}

// CreateCapture instantiates a capture device using the factory registered under name.
func (r *Registry) CreateCapture(name string, cfg AudioConfig) (audio.CaptureDevice, error) {
	r.mu.RLock()
	factory, ok := r.capture[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrNotRegistered, name)
	}
	return factory(cfg)
}

// CreatePlayback instantiates a playback device using the factory registered under name.
func (r *Registry) CreatePlayback(name string, cfg AudioConfig) (audio.PlaybackDevice, error) {
	r.mu.RLock()
	factory, ok := r.playback[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: playback/%q", ErrNotRegistered, name)
	}
	return factory(cfg)
}

// CreateSynth instantiates a synthesis client using the factory registered under name.
func (r *Registry) CreateSynth(name string, cfg SynthesisConfig) (synth.Client, error) {
	r.mu.RLock()
	factory, ok := r.synth[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synth/%q", ErrNotRegistered, name)
	}
	return factory(cfg)
}
