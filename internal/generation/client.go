// Package generation talks to the text-generation backend and turns its
// output into typed values, optionally streaming one field to the caller
// while tokens arrive.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/querypilot/internal/events"
	"github.com/rahul/querypilot/internal/fieldstream"
	"github.com/rahul/querypilot/internal/observability"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged prompt message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Shape names the structured output a call must produce. Schema is a JSON
// schema object in the same map form used for tool parameters.
type Shape struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Completion is what a backend returns once its stream has ended.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Backend streams a completion. onChunk, when non-nil, receives every token
// chunk in arrival order; an error from it aborts the stream.
type Backend interface {
	Stream(ctx context.Context, msgs []Message, shape *Shape, onChunk func(string) error) (Completion, error)
}

// Request is a single generation call.
type Request struct {
	RunID    string
	Stage    string
	Messages []Message
	Shape    *Shape
}

// Client runs generation calls against a Backend.
type Client struct {
	backend Backend
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewClient wraps backend. logger and metrics may be nil.
func NewClient(backend Backend, logger *observability.Logger, metrics *observability.Metrics) *Client {
	return &Client{backend: backend, logger: logger, metrics: metrics}
}

// Generate accumulates the whole completion and decodes it into out.
func (c *Client) Generate(ctx context.Context, req Request, out any) error {
	return c.run(ctx, req, nil, out)
}

// GenerateStreamed behaves like Generate and additionally forwards the
// decoded value of field to sink as content events while it streams.
func (c *Client) GenerateStreamed(ctx context.Context, req Request, field string, sink events.Emitter, out any) error {
	ex := fieldstream.New(field, func(text string) error {
		return sink.Emit(ctx, events.Content(text))
	})
	return c.run(ctx, req, ex.ProcessChunk, out)
}

func (c *Client) run(ctx context.Context, req Request, onChunk func(string) error, out any) error {
	comp, err := c.backend.Stream(ctx, req.Messages, req.Shape, onChunk)
	if err != nil {
		return c.fail(req, KindTransport, err)
	}

	c.logger.LogLLM(req.RunID, req.Stage, req.Messages, comp.Text)
	if comp.PromptTokens > 0 || comp.CompletionTokens > 0 {
		c.logger.LogCost(req.RunID, req.Stage, comp.PromptTokens, comp.CompletionTokens, comp.Model)
	}

	if err := decode(comp.Text, req.Shape, out); err != nil {
		return c.fail(req, KindMalformed, err)
	}
	return nil
}

func (c *Client) fail(req Request, kind Kind, err error) error {
	c.metrics.GenerationFailed(req.Stage, string(kind))
	c.logger.LogError(req.RunID, "", req.Stage, err)
	return &Failure{Kind: kind, Stage: req.Stage, Err: err}
}

// decode parses text as the declared shape. Every property the schema lists
// as required must be present, though it may be null.
func decode(text string, shape *Shape, out any) error {
	doc := trimJSON(text)
	if doc == "" {
		return errors.New("empty response")
	}

	if shape != nil {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(doc), &fields); err != nil {
			return fmt.Errorf("parse %s: %w", shape.Name, err)
		}
		for _, key := range requiredKeys(shape.Schema) {
			if _, ok := fields[key]; !ok {
				return fmt.Errorf("parse %s: missing field %q", shape.Name, key)
			}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// trimJSON strips markdown code fences and any chatter around the outermost
// object some models add even in JSON mode.
func trimJSON(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return ""
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func requiredKeys(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		keys := make([]string, 0, len(req))
		for _, k := range req {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}
