// Package wsclient provides a WebSocket-backed synthesis client implementing
// the synth.Client interface.
//
// The client keeps one persistent connection to the synthesis service and
// multiplexes requests over it as JSON text frames; responses carry the
// waveform as a base64-encoded WAV payload tagged with the request's
// utterance ID. A dropped connection fails all in-flight requests with
// [ErrConnectionLost] and is re-dialed on the next request after a short
// backoff — reconnection is a synthesis error from the session's point of
// view, never a crash.
package wsclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/duplexa/duplexa/pkg/audio"
	"github.com/duplexa/duplexa/pkg/synth"
)

// Errors returned by the client.
var (
	// ErrClosed is returned by Synthesize after Close.
	ErrClosed = errors.New("wsclient: client closed")

	// ErrConnectionLost resolves in-flight requests when the service
	// connection drops mid-request.
	ErrConnectionLost = errors.New("wsclient: connection to synthesis service lost")
)

// ServiceError is a failure reported by the synthesis service itself (as
// opposed to a transport failure).
type ServiceError struct {
	Reason string
}

func (e *ServiceError) Error() string {
	return "wsclient: synthesis service error: " + e.Reason
}

const (
	defaultDialTimeout   = 10 * time.Second
	defaultRedialBackoff = 5 * time.Second
)

// requestFrame is the JSON payload sent to the service for each request.
// Cancel frames reuse the type with Cancel set and no text.
type requestFrame struct {
	ID       uint64 `json:"id"`
	Text     string `json:"text,omitempty"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
	Cancel   bool   `json:"cancel,omitempty"`
}

// responseFrame is the JSON payload received from the service. Audio is a
// base64-encoded complete WAV clip; Error is set instead when synthesis
// failed.
type responseFrame struct {
	ID    uint64 `json:"id"`
	Audio string `json:"audio,omitempty"`
	Error string `json:"error,omitempty"`
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithDialTimeout bounds each connection attempt. Default 10 s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithRedialBackoff sets the wait after a failed dial before the next
// attempt; requests arriving within the window fail fast rather than piling
// onto a dead endpoint. Default 5 s.
func WithRedialBackoff(d time.Duration) Option {
	return func(c *Client) { c.redialBackoff = d }
}

// call tracks one in-flight request.
type call struct {
	ch   chan synth.Result
	done chan struct{}
}

// Client implements synth.Client over a persistent WebSocket.
type Client struct {
	url           string
	dialTimeout   time.Duration
	redialBackoff time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	pending    map[uint64]*call
	lastDialFail time.Time
	closed     bool
}

// Compile-time interface assertion.
var _ synth.Client = (*Client)(nil)

// New creates a client for the synthesis service at url (ws:// or wss://).
// The connection is dialed lazily on the first request.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("wsclient: url must not be empty")
	}
	c := &Client{
		url:           url,
		dialTimeout:   defaultDialTimeout,
		redialBackoff: defaultRedialBackoff,
		pending:       make(map[uint64]*call),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Synthesize submits req over the shared connection and returns its result
// channel. The channel delivers exactly one Result and is then closed.
func (c *Client) Synthesize(ctx context.Context, req synth.Request) (<-chan synth.Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if err := c.ensureConnLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	cl := &call{ch: make(chan synth.Result, 1), done: make(chan struct{})}
	c.pending[req.UtteranceID] = cl

	frame := requestFrame{
		ID:       req.UtteranceID,
		Text:     req.Text,
		Voice:    req.Voice,
		Language: req.Language,
	}
	conn := c.conn
	c.mu.Unlock()

	if err := writeJSON(conn, frame); err != nil {
		c.dropConn(conn, fmt.Errorf("%w: %v", ErrConnectionLost, err))
		return nil, fmt.Errorf("wsclient: send request %d: %w", req.UtteranceID, err)
	}

	// Watch for caller cancellation until the call resolves.
	go func() {
		select {
		case <-cl.done:
		case <-ctx.Done():
			// Best-effort remote cancel; the response, if it still arrives,
			// finds no pending call and is discarded by the read loop.
			_ = writeJSON(conn, requestFrame{ID: req.UtteranceID, Cancel: true})
			c.resolve(req.UtteranceID, synth.Result{UtteranceID: req.UtteranceID, Err: ctx.Err()})
		}
	}()

	return cl.ch, nil
}

// Close tears down the connection and fails all in-flight requests.
// Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	c.failAll(ErrClosed)
	return nil
}

// ensureConnLocked dials the service if no connection is live. Caller holds c.mu.
func (c *Client) ensureConnLocked() error {
	if c.conn != nil {
		return nil
	}
	if !c.lastDialFail.IsZero() && time.Since(c.lastDialFail) < c.redialBackoff {
		return fmt.Errorf("%w: retry backoff active", ErrConnectionLost)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		c.lastDialFail = time.Now()
		return fmt.Errorf("wsclient: dial %s: %w", c.url, err)
	}
	// Synthesis responses can be multi-second clips.
	conn.SetReadLimit(32 << 20)

	c.lastDialFail = time.Time{}
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

// readLoop receives response frames until the connection dies, resolving
// pending calls by utterance ID.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.dropConn(conn, fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return
		}

		var resp responseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("discarding malformed synthesis response", "err", err)
			continue
		}

		if resp.Error != "" {
			c.resolve(resp.ID, synth.Result{UtteranceID: resp.ID, Err: &ServiceError{Reason: resp.Error}})
			continue
		}

		wav, err := base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			c.resolve(resp.ID, synth.Result{UtteranceID: resp.ID, Err: fmt.Errorf("wsclient: decode audio for %d: %w", resp.ID, err)})
			continue
		}
		waveform, err := audio.DecodeWAV(wav)
		if err != nil {
			c.resolve(resp.ID, synth.Result{UtteranceID: resp.ID, Err: fmt.Errorf("wsclient: parse waveform for %d: %w", resp.ID, err)})
			continue
		}
		c.resolve(resp.ID, synth.Result{UtteranceID: resp.ID, Waveform: waveform})
	}
}

// resolve delivers res to the pending call for id, exactly once. A resolve
// for an unknown id is a normal race outcome (cancelled or superseded
// request) and is logged at debug only.
func (c *Client) resolve(id uint64, res synth.Result) {
	c.mu.Lock()
	cl, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("discarding synthesis response with no pending request", "utterance_id", id)
		return
	}
	cl.ch <- res
	close(cl.ch)
	close(cl.done)
}

// dropConn clears conn if it is still current and fails all pending calls.
func (c *Client) dropConn(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close(websocket.StatusInternalError, "connection lost")
	if !closed {
		slog.Warn("synthesis connection lost", "err", err)
	}
	c.failAll(err)
}

// failAll resolves every pending call with err.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	calls := make(map[uint64]*call, len(c.pending))
	for id, cl := range c.pending {
		calls[id] = cl
	}
	c.pending = make(map[uint64]*call)
	c.mu.Unlock()

	for id, cl := range calls {
		cl.ch <- synth.Result{UtteranceID: id, Err: err}
		close(cl.ch)
		close(cl.done)
	}
}

// writeJSON marshals v and writes it as one text frame.
func writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
