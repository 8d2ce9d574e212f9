package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// flusher is satisfied by http.ResponseWriter implementations.
type flusher interface {
	Flush()
}

// Sink writes events as one JSON object per line and closes itself after the
// terminal event. Writing after close is a programming error and panics.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
	failed error
	onDone func()
}

// NewSink returns a Sink writing to w. If w implements http.Flusher (or any
// Flush method) every record is flushed as soon as it is written.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// OnClose registers a hook run once when the terminal event has been written.
func (s *Sink) OnClose(fn func()) {
	s.onDone = fn
}

// Emit writes evt. It returns the transport error if the consumer went away;
// once a write has failed every later call returns the same error.
func (s *Sink) Emit(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		panic(fmt.Sprintf("events: emit %q after terminal event", evt.Type))
	}
	if s.failed != nil {
		return s.failed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.w.Write(line); err != nil {
		s.failed = fmt.Errorf("write event: %w", err)
		return s.failed
	}
	if f, ok := s.w.(flusher); ok {
		f.Flush()
	}

	if evt.Terminal() {
		s.closed = true
		if s.onDone != nil {
			s.onDone()
		}
	}
	return nil
}

// Closed reports whether the terminal event has been written.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Collector keeps events in memory. Gateways that answer with a single
// message, and tests, use it in place of a Sink.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Emit(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.events); n > 0 && c.events[n-1].Terminal() {
		panic(fmt.Sprintf("events: emit %q after terminal event", evt.Type))
	}
	c.events = append(c.events, evt)
	return nil
}

// Events returns a copy of everything emitted so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Terminal returns the terminal event, if one has been emitted.
func (c *Collector) Terminal() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.events); n > 0 && c.events[n-1].Terminal() {
		return c.events[n-1], true
	}
	return Event{}, false
}
