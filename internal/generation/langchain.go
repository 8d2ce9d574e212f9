package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LangChainBackend drives any langchaingo model. The output shape is enforced
// with JSON mode plus the schema in the system prompt.
type LangChainBackend struct {
	Model       llms.Model
	ModelName   string
	Temperature float64
}

func NewLangChainBackend(model llms.Model, modelName string) *LangChainBackend {
	return &LangChainBackend{Model: model, ModelName: modelName}
}

func (b *LangChainBackend) Stream(ctx context.Context, msgs []Message, shape *Shape, onChunk func(string) error) (Completion, error) {
	content, err := toMessageContent(msgs, shape)
	if err != nil {
		return Completion{}, err
	}

	opts := []llms.CallOption{llms.WithTemperature(b.Temperature)}
	if shape != nil {
		opts = append(opts, llms.WithJSONMode())
	}
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onChunk(string(chunk))
		}))
	}

	resp, err := b.Model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("backend returned no choices")
	}

	choice := resp.Choices[0]
	return Completion{
		Text:             choice.Content,
		Model:            b.ModelName,
		PromptTokens:     intInfo(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

func toMessageContent(msgs []Message, shape *Shape) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(msgs)+1)
	if shape != nil {
		instr, err := schemaInstruction(shape)
		if err != nil {
			return nil, err
		}
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, instr))
	}
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out, nil
}

func schemaInstruction(shape *Shape) (string, error) {
	schema, err := json.MarshalIndent(shape.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s schema: %w", shape.Name, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with a single JSON object (%s)", shape.Name)
	if shape.Description != "" {
		fmt.Fprintf(&b, ": %s", shape.Description)
	}
	b.WriteString(".\nIt must match this JSON schema exactly. Output JSON only, no prose and no code fences.\n")
	b.Write(schema)
	return b.String(), nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
