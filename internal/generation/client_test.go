package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/querypilot/internal/events"
	"github.com/rahul/querypilot/internal/observability"
)

type scriptedBackend struct {
	chunks []string
	err    error
	usage  [2]int
	got    []Message
	shape  *Shape
}

func (b *scriptedBackend) Stream(ctx context.Context, msgs []Message, shape *Shape, onChunk func(string) error) (Completion, error) {
	b.got, b.shape = msgs, shape
	if b.err != nil {
		return Completion{}, b.err
	}
	for _, c := range b.chunks {
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return Completion{}, err
			}
		}
	}
	return Completion{
		Text:             strings.Join(b.chunks, ""),
		Model:            "fake",
		PromptTokens:     b.usage[0],
		CompletionTokens: b.usage[1],
	}, nil
}

var answerShape = &Shape{
	Name: "answer",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning": map[string]any{"type": "string"},
			"value":     map[string]any{"type": []string{"integer", "null"}},
		},
		"required": []string{"reasoning", "value"},
	},
}

type answer struct {
	Reasoning string `json:"reasoning"`
	Value     *int   `json:"value"`
}

func TestGenerateDecodes(t *testing.T) {
	b := &scriptedBackend{chunks: []string{`{"reasoning":"ok",`, `"value":42}`}}
	c := NewClient(b, observability.Discard(), nil)

	var out answer
	err := c.Generate(context.Background(), Request{Stage: "test", Shape: answerShape, Messages: []Message{{Role: RoleUser, Content: "q"}}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Reasoning)
	require.NotNil(t, out.Value)
	assert.Equal(t, 42, *out.Value)
	assert.Same(t, answerShape, b.shape)
}

func TestGenerateStripsCodeFences(t *testing.T) {
	b := &scriptedBackend{chunks: []string{"```json\n", `{"reasoning":"r","value":null}`, "\n```"}}
	var out answer
	err := NewClient(b, nil, nil).Generate(context.Background(), Request{Shape: answerShape}, &out)
	require.NoError(t, err)
	assert.Nil(t, out.Value)
}

func TestGenerateStreamedForwardsField(t *testing.T) {
	b := &scriptedBackend{chunks: []string{`{"reasoning":"Hel`, `lo \"world\"","value":1}`}}
	sink := &events.Collector{}

	var out answer
	err := NewClient(b, nil, nil).GenerateStreamed(context.Background(), Request{Shape: answerShape}, "reasoning", sink, &out)
	require.NoError(t, err)
	assert.Equal(t, []events.Event{events.Content("Hel"), events.Content(`lo "world"`)}, sink.Events())
	assert.Equal(t, `Hello "world"`, out.Reasoning)
}

func TestGenerateFailureKinds(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		backend   *scriptedBackend
		malformed bool
	}{
		{"transport", &scriptedBackend{err: errors.New("connection reset")}, false},
		{"empty", &scriptedBackend{}, true},
		{"not json", &scriptedBackend{chunks: []string{"I cannot help with that"}}, true},
		{"missing required", &scriptedBackend{chunks: []string{`{"reasoning":"r"}`}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out answer
			err := NewClient(tc.backend, nil, nil).Generate(ctx, Request{Stage: "intent", Shape: answerShape}, &out)
			require.Error(t, err)
			assert.Equal(t, tc.malformed, IsMalformed(err))
			assert.Equal(t, !tc.malformed, IsTransport(err))

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, "intent", f.Stage)
		})
	}
}

func TestGenerateStreamedSinkFailureAborts(t *testing.T) {
	gone := errors.New("client disconnected")
	sink := events.EmitterFunc(func(context.Context, events.Event) error { return gone })
	b := &scriptedBackend{chunks: []string{`{"reasoning":"a`, `b","value":1}`}}

	var out answer
	err := NewClient(b, nil, nil).GenerateStreamed(context.Background(), Request{Shape: answerShape}, "reasoning", sink, &out)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, gone)
}

func TestGenerateLogsCost(t *testing.T) {
	var buf strings.Builder
	logger := observability.NewLoggerTo(&buf, "")
	b := &scriptedBackend{chunks: []string{`{"reasoning":"r","value":1}`}, usage: [2]int{12, 5}}

	require.NoError(t, NewClient(b, logger, nil).Generate(context.Background(), Request{RunID: "run-1", Stage: "query", Shape: answerShape}, nil))
	assert.Contains(t, buf.String(), `"type":"cost"`)
	assert.Contains(t, buf.String(), `"total_tokens":17`)
	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
}

func TestSchemaInstruction(t *testing.T) {
	msgs, err := toMessageContent([]Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "q"}}, answerShape)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	instr, ok := msgs[0].Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Contains(t, instr.Text, "JSON schema")
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[2].Role)
}
