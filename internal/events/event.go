// Package events defines the records a pipeline run streams to its caller and
// the sink that writes them as newline-delimited JSON.
package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// Type identifies the kind of a stream record.
type Type string

const (
	TypeStatus        Type = "status"
	TypeContent       Type = "content"
	TypePartialResult Type = "partialResult"
	TypeResult        Type = "result"
	TypeError         Type = "error"
)

// Event is a single record on the wire: {"type": ..., "text": ...}.
// For partialResult, result and error the text is itself JSON.
type Event struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Type == TypeResult || e.Type == TypeError
}

// Emitter receives the events of a run in order.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, evt Event) error

func (f EmitterFunc) Emit(ctx context.Context, evt Event) error { return f(ctx, evt) }

func Status(text string) Event { return Event{Type: TypeStatus, Text: text} }

func Content(text string) Event { return Event{Type: TypeContent, Text: text} }

// Partial wraps payload under key, e.g. {"sqlResult": {...}}, and encodes it
// into the event text.
func Partial(key string, payload any) (Event, error) {
	text, err := encode(map[string]any{key: payload})
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", key, err)
	}
	return Event{Type: TypePartialResult, Text: text}, nil
}

// Result encodes the terminal success payload.
func Result(payload any) (Event, error) {
	text, err := encode(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode result: %w", err)
	}
	return Event{Type: TypeResult, Text: text}, nil
}

// Failure encodes the terminal failure payload.
func Failure(payload any) (Event, error) {
	text, err := encode(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode failure: %w", err)
	}
	return Event{Type: TypeError, Text: text}, nil
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
