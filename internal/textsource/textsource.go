// Package textsource picks the reply text synthesised for each finished
// utterance. Content selection proper (an LLM, a dialogue engine) is outside
// this program; the source abstraction keeps the session loop decoupled from
// wherever the text eventually comes from.
package textsource

import (
	"errors"
	"math/rand/v2"
	"sync"
)

// Source yields the text to synthesise for the next finished utterance.
// Implementations must be safe for concurrent use.
type Source interface {
	Next() string
}

// Statements returns the default demo statements.
func Statements() []string {
	return []string{
		"The quick brown fox jumps over the lazy dog.",
		"Hello world, this is a test of the speech system.",
		"Real-time interaction is the key to success.",
		"Voice activity detection triggers the response.",
		"You can interrupt me at any time by speaking.",
	}
}

// Option is a functional option for New.
type Option func(*List)

// WithRandomOrder makes Next pick uniformly at random instead of rotating.
func WithRandomOrder() Option {
	return func(l *List) { l.random = true }
}

// WithRand overrides the random source for tests. Only used with random order.
func WithRand(intn func(n int) int) Option {
	return func(l *List) { l.intn = intn }
}

// List is a Source backed by a fixed list of statements, served round-robin
// or at random.
type List struct {
	texts  []string
	random bool
	intn   func(n int) int

	mu   sync.Mutex
	next int
}

// Compile-time interface assertion.
var _ Source = (*List)(nil)

// New creates a list source over texts.
func New(texts []string, opts ...Option) (*List, error) {
	if len(texts) == 0 {
		return nil, errors.New("textsource: at least one statement required")
	}
	l := &List{texts: append([]string(nil), texts...), intn: rand.IntN}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Canned returns a rotating source over the default demo statements.
func Canned() *List {
	l, _ := New(Statements())
	return l
}

// Next returns the next statement.
func (l *List) Next() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.random {
		return l.texts[l.intn(len(l.texts))]
	}
	t := l.texts[l.next]
	l.next = (l.next + 1) % len(l.texts)
	return t
}
