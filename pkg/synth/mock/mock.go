// Package mock provides a test double for the synth.Client interface.
package mock

import (
	"context"
	"sync"

	"github.com/duplexa/duplexa/pkg/audio"
	"github.com/duplexa/duplexa/pkg/synth"
)

// Client is a mock synth.Client. Results can be scripted per request via
// Respond, delivered after an optional Delay, or produced from the default
// Waveform when no script matches.
type Client struct {
	mu sync.Mutex

	// Waveform is returned for requests with no scripted response.
	Waveform audio.Waveform

	// Delay postpones every result delivery. Zero delivers immediately.
	Delay func() <-chan struct{}

	// SynthesizeErr, if non-nil, is returned by Synthesize itself.
	SynthesizeErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	responses map[uint64]synth.Result
	requests  []synth.Request
	closed    bool
}

// Compile-time interface assertion.
var _ synth.Client = (*Client)(nil)

// Respond scripts the result delivered for utterance id.
func (c *Client) Respond(id uint64, res synth.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responses == nil {
		c.responses = make(map[uint64]synth.Result)
	}
	c.responses[id] = res
}

// Synthesize records the request and delivers the scripted or default result.
// The result honours ctx: cancellation before delivery yields ctx's error.
func (c *Client) Synthesize(ctx context.Context, req synth.Request) (<-chan synth.Result, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if c.SynthesizeErr != nil {
		err := c.SynthesizeErr
		c.mu.Unlock()
		return nil, err
	}
	res, scripted := c.responses[req.UtteranceID]
	if !scripted {
		res = synth.Result{UtteranceID: req.UtteranceID, Waveform: c.Waveform}
	}
	delay := c.Delay
	c.mu.Unlock()

	ch := make(chan synth.Result, 1)
	go func() {
		defer close(ch)
		if delay != nil {
			select {
			case <-delay():
			case <-ctx.Done():
				ch <- synth.Result{UtteranceID: req.UtteranceID, Err: ctx.Err()}
				return
			}
		}
		select {
		case <-ctx.Done():
			ch <- synth.Result{UtteranceID: req.UtteranceID, Err: ctx.Err()}
		default:
			ch <- res
		}
	}()
	return ch, nil
}

// Close records the call and returns CloseErr.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.CloseErr
}

// Requests returns a copy of all recorded requests in order.
func (c *Client) Requests() []synth.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]synth.Request(nil), c.requests...)
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
