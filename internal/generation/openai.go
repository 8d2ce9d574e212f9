package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend talks to an OpenAI-compatible chat endpoint directly and asks
// for strict json_schema output.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, model, baseURL string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

func (b *OpenAIBackend) Stream(ctx context.Context, msgs []Message, shape *Shape, onChunk func(string) error) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:         b.model,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		Messages:      make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	if shape != nil {
		schema, err := json.Marshal(shape.Schema)
		if err != nil {
			return Completion{}, fmt.Errorf("encode %s schema: %w", shape.Name, err)
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        shape.Name,
				Description: shape.Description,
				Schema:      json.RawMessage(schema),
				Strict:      true,
			},
		}
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	comp := Completion{Model: b.model}
	var text strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Completion{}, fmt.Errorf("openai stream: %w", err)
		}
		if resp.Usage != nil {
			comp.PromptTokens = resp.Usage.PromptTokens
			comp.CompletionTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunk := resp.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		text.WriteString(chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return Completion{}, err
			}
		}
	}
	comp.Text = text.String()
	return comp, nil
}
