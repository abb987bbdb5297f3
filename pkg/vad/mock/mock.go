// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify sessions are created with the expected Config. Use
// Session to inject scripted labels and inspect the frames that were
// classified.
package mock

import (
	"sync"

	"github.com/duplexa/duplexa/pkg/audio"
	"github.com/duplexa/duplexa/pkg/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a fresh default Session is
	// returned.
	Session vad.Session

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call in order.
	NewSessionCalls []vad.Config
}

// Compile-time interface assertion.
var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.Session. Labels are consumed from
// the Labels queue; once exhausted, Default is returned.
type Session struct {
	mu sync.Mutex

	// Labels is the scripted label sequence, consumed one per Classify call.
	Labels []vad.Label

	// Default is returned once Labels is exhausted.
	Default vad.Label

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	next           int
	classifyCount  int
	resetCallCount int
	closeCallCount int
}

// Compile-time interface assertion.
var _ vad.Session = (*Session)(nil)

// Classify records the call and returns the next scripted label.
func (s *Session) Classify(_ audio.Frame) (vad.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifyCount++
	if s.ClassifyErr != nil {
		return vad.Label{}, s.ClassifyErr
	}
	if s.next < len(s.Labels) {
		l := s.Labels[s.next]
		s.next++
		return l, nil
	}
	return s.Default, nil
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCallCount++
	return s.CloseErr
}

// ClassifyCount returns the number of Classify calls made so far.
func (s *Session) ClassifyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classifyCount
}

// CloseCount returns the number of Close calls made so far.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCallCount
}
