// Package synth defines the Client interface for speech synthesis backends.
//
// A synthesis client wraps a remote text-to-speech service behind a
// request/response contract: text in, complete waveform out. Requests are
// tagged with the utterance ID they belong to; the session orchestrator uses
// that tag to discard responses that arrive after their utterance has been
// superseded by a newer one.
//
// Implementations must be safe for concurrent use and must never block the
// caller on network I/O: Synthesize returns a result channel immediately.
package synth

import (
	"context"

	"github.com/duplexa/duplexa/pkg/audio"
)

// Request asks for one utterance's reply to be synthesised.
type Request struct {
	// UtteranceID tags the request with the utterance it answers. The
	// orchestrator matches results back by this ID; a result whose ID no
	// longer matches the open utterance is dropped, never played.
	UtteranceID uint64

	// Text is the content to synthesise.
	Text string

	// Voice is the backend-specific voice identifier. Empty selects the
	// backend's default.
	Voice string

	// Language is a BCP-47 language code. Empty selects the backend default.
	Language string
}

// Result is the outcome of one synthesis request. Exactly one of Waveform
// and Err is meaningful.
type Result struct {
	// UtteranceID echoes the request tag.
	UtteranceID uint64

	// Waveform is the decoded synthesis output.
	Waveform audio.Waveform

	// Err is non-nil when synthesis failed (service error, dropped
	// connection, cancellation). Synthesis errors are recoverable at the
	// session level: the current utterance's playback is abandoned and the
	// session keeps listening.
	Err error
}

// Client is the abstraction over any synthesis backend.
type Client interface {
	// Synthesize submits req and returns a channel that delivers exactly one
	// Result and is then closed. The call itself must not block on network
	// I/O beyond enqueueing the request.
	//
	// Cancelling ctx cancels the request best-effort: the channel delivers a
	// Result carrying ctx's error, and any late network response for the
	// request is discarded internally. Correctness never depends on the
	// remote end honouring cancellation.
	Synthesize(ctx context.Context, req Request) (<-chan Result, error)

	// Close tears down the backend connection. In-flight requests fail with
	// an error Result. Calling Close more than once is safe.
	Close() error
}
