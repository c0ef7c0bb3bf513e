// Package mock provides scriptable recognizer implementations for tests.
package mock

import (
	"context"
	"sync"

	"github.com/parlando-ai/parlando/pkg/recognizer"
)

// Stream is a scriptable recognizer.Stream. Tests push events with Emit and
// inspect Pause/Resume/Close calls.
type Stream struct {
	mu      sync.Mutex
	events  chan recognizer.Event
	closed  bool
	Paused  bool
	Resumes int
	Pauses  int
}

var _ recognizer.Stream = (*Stream)(nil)

// NewStream creates a mock stream with a buffered event channel.
func NewStream() *Stream {
	return &Stream{events: make(chan recognizer.Event, 64)}
}

// Emit delivers an event to the stream's consumer. Emitting on a closed
// stream is a no-op.
func (s *Stream) Emit(ev recognizer.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// EmitResult is a convenience wrapper emitting a single-entry result event.
func (s *Stream) EmitResult(text string, final bool) {
	s.Emit(recognizer.Event{
		Kind:    recognizer.KindResult,
		Entries: []recognizer.Entry{{Text: text, Final: final}},
	})
}

// End emits the end-of-stream event and closes the event channel, as a real
// recognizer does when its session terminates.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- recognizer.Event{Kind: recognizer.KindEnd}
	close(s.events)
	s.closed = true
}

// Events implements recognizer.Stream.
func (s *Stream) Events() <-chan recognizer.Event { return s.events }

// Pause implements recognizer.Stream.
func (s *Stream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Paused = true
	s.Pauses++
	return nil
}

// Resume implements recognizer.Stream.
func (s *Stream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Paused = false
	s.Resumes++
	return nil
}

// Close implements recognizer.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.events)
		s.closed = true
	}
	return nil
}

// Provider is a recognizer.Provider handing out pre-created streams in
// order. Each call to Start returns the next stream, so tests can script a
// restart sequence.
type Provider struct {
	mu      sync.Mutex
	streams []*Stream
	Starts  int
}

var _ recognizer.Provider = (*Provider)(nil)

// NewProvider creates a Provider that serves the given streams in order.
// When the script runs out, Start keeps returning fresh empty streams.
func NewProvider(streams ...*Stream) *Provider {
	return &Provider{streams: streams}
}

// Start implements recognizer.Provider.
func (p *Provider) Start(ctx context.Context) (recognizer.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Starts++
	if len(p.streams) > 0 {
		s := p.streams[0]
		p.streams = p.streams[1:]
		return s, nil
	}
	return NewStream(), nil
}
