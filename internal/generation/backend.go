package generation

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/querypilot/pkg/config"
)

// Open builds the Backend for a named provider entry.
func Open(name string, p config.ProviderConfig) (Backend, error) {
	if p.Backend == config.BackendOpenAI {
		return NewOpenAIBackend(p.APIKey, p.Model, p.BaseURL), nil
	}

	var (
		model llms.Model
		err   error
	)
	switch name {
	case "openai", "openrouter":
		opts := []lcopenai.Option{
			lcopenai.WithToken(p.APIKey),
			lcopenai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, lcopenai.WithBaseURL(p.BaseURL))
		}
		model, err = lcopenai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s not supported", name)
	}
	if err != nil {
		return nil, fmt.Errorf("init provider %s: %w", name, err)
	}

	b := NewLangChainBackend(model, p.Model)
	b.Temperature = p.Temperature
	return b, nil
}
