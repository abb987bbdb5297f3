package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/duplexa/duplexa/pkg/synth"
)

// SynthFallback implements [synth.Client] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
//
// Only request submission is covered by failover: once a backend has accepted
// the request, an error delivered on its result channel belongs to the caller
// (the session treats it as a recoverable synthesis error for that utterance).
type SynthFallback struct {
	group *FallbackGroup[synth.Client]

	mu      sync.Mutex
	clients []synth.Client
}

// Compile-time interface assertion.
var _ synth.Client = (*SynthFallback)(nil)

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary synth.Client, primaryName string, cfg FallbackConfig) *SynthFallback {
	return &SynthFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		clients: []synth.Client{primary},
	}
}

// AddFallback registers an additional synthesis backend as a fallback.
func (f *SynthFallback) AddFallback(name string, client synth.Client) {
	f.mu.Lock()
	f.clients = append(f.clients, client)
	f.mu.Unlock()
	f.group.AddFallback(name, client)
}

// Synthesize submits req to the first healthy backend.
func (f *SynthFallback) Synthesize(ctx context.Context, req synth.Request) (<-chan synth.Result, error) {
	return ExecuteWithResult(f.group, func(c synth.Client) (<-chan synth.Result, error) {
		return c.Synthesize(ctx, req)
	})
}

// Close closes every registered backend and joins their errors.
func (f *SynthFallback) Close() error {
	f.mu.Lock()
	clients := append([]synth.Client(nil), f.clients...)
	f.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
