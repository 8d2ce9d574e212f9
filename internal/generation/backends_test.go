package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// sseServer replays chat completion chunks the way the OpenAI API streams
// them, ending with a usage-only chunk and [DONE].
func sseServer(t *testing.T, chunks []string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if gotBody != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(gotBody))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			delta, _ := json.Marshal(c)
			fmt.Fprintf(w, `data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":%s}}]}`+"\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIBackendStream(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, []string{`{"reasoning":"he`, `llo","value":4`, `2}`}, &body)
	b := NewOpenAIBackend("test-key", "", srv.URL)

	var got []string
	comp, err := b.Stream(context.Background(),
		[]Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "q"}},
		answerShape,
		func(chunk string) error {
			got = append(got, chunk)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"reasoning":"he`, `llo","value":4`, `2}`}, got)
	assert.Equal(t, `{"reasoning":"hello","value":42}`, comp.Text)
	assert.Equal(t, 12, comp.PromptTokens)
	assert.Equal(t, 5, comp.CompletionTokens)
	assert.Equal(t, "gpt-4o-mini", comp.Model)

	assert.Equal(t, true, body["stream"])
	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	schema, ok := format["json_schema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "answer", schema["name"])
	assert.Equal(t, true, schema["strict"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIBackendChunkErrorAborts(t *testing.T) {
	srv := sseServer(t, []string{"a", "b", "c"}, nil)
	b := NewOpenAIBackend("test-key", "gpt-4o-mini", srv.URL)

	stop := errors.New("client went away")
	calls := 0
	_, err := b.Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpenAIBackendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIBackend("nope", "gpt-4o-mini", srv.URL).Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai stream")
}

// fakeModel is an llms.Model that streams a fixed reply through the
// streaming func and reports usage in GenerationInfo.
type fakeModel struct {
	chunks []string
	info   map[string]any
	opts   llms.CallOptions
	msgs   []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.msgs = msgs
	for _, o := range options {
		o(&m.opts)
	}
	var text string
	for _, c := range m.chunks {
		if m.opts.StreamingFunc != nil {
			if err := m.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
		text += c
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text, GenerationInfo: m.info}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangChainBackendStream(t *testing.T) {
	model := &fakeModel{
		chunks: []string{`{"reasoning":"ok",`, "", `"value":1}`},
		info:   map[string]any{"PromptTokens": 9, "CompletionTokens": float64(3)},
	}
	b := NewLangChainBackend(model, "llama3")
	b.Temperature = 0.2

	var got []string
	comp, err := b.Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, answerShape, func(c string) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"reasoning":"ok",`, `"value":1}`}, got, "empty chunks are not forwarded")
	assert.Equal(t, `{"reasoning":"ok","value":1}`, comp.Text)
	assert.Equal(t, "llama3", comp.Model)
	assert.Equal(t, 9, comp.PromptTokens)
	assert.Equal(t, 3, comp.CompletionTokens)

	assert.True(t, model.opts.JSONMode)
	assert.InDelta(t, 0.2, model.opts.Temperature, 1e-9)
	require.Len(t, model.msgs, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.msgs[0].Role)
}

func TestLangChainBackendChunkErrorAborts(t *testing.T) {
	model := &fakeModel{chunks: []string{"a", "b"}}
	stop := errors.New("sink closed")
	_, err := NewLangChainBackend(model, "m").Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil, func(string) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestLangChainBackendWithoutStreaming(t *testing.T) {
	model := &fakeModel{chunks: []string{"plain"}}
	comp, err := NewLangChainBackend(model, "m").Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", comp.Text)
	assert.Nil(t, model.opts.StreamingFunc)
	assert.False(t, model.opts.JSONMode)
	assert.Zero(t, comp.PromptTokens)
}
