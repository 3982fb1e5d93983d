package genkit

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/openai/openai-go/option"
)

// OllamaConfig holds configuration for the local Ollama model server.
// Ollama exposes an OpenAI-compatible API under /v1, so the plugin rides on
// the compat_oai layer.
type OllamaConfig struct {
	APIKey  string        `toml:"api_key"` // Ollama ignores the key but the client requires one
	BaseURL string        `toml:"base_url"`
	Models  []ModelConfig `toml:"models"`
}

// Validate checks Ollama configuration
func (c *OllamaConfig) Validate() error {
	if c.APIKey == "" {
		c.APIKey = "ollama"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434/v1"
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	for i := range c.Models {
		if err := c.Models[i].Validate(i); err != nil {
			return err
		}
	}
	return nil
}

// OllamaPlugin implements a Genkit plugin for a local Ollama server
type OllamaPlugin struct {
	compat_oai.OpenAICompatible
	models []ModelConfig
}

// NewOllamaPlugin creates a new Ollama plugin for Genkit
func NewOllamaPlugin(cfg OllamaConfig) *OllamaPlugin {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}

	return &OllamaPlugin{
		OpenAICompatible: compat_oai.OpenAICompatible{
			APIKey:   apiKey,
			BaseURL:  baseURL,
			Provider: "ollama",
			Opts: []option.RequestOption{
				option.WithHeader("Content-Type", "application/json"),
			},
		},
		models: cfg.Models,
	}
}

// Name returns the plugin name
func (p *OllamaPlugin) Name() string {
	return "ollama"
}

// Init implements api.Plugin interface - registers all configured models
func (p *OllamaPlugin) Init(ctx context.Context) []api.Action {
	// Initialize the base OpenAI compatible client first
	p.OpenAICompatible.Init(ctx)

	actions := make([]api.Action, 0, len(p.models))

	for _, m := range p.models {
		switch m.Type {
		case ModelTypeLLM:
			model := p.DefineModel(p.Provider, m.Model, ai.ModelOptions{
				Label: fmt.Sprintf("Ollama %s", m.Name),
				Supports: &ai.ModelSupports{
					Multiturn:  true,
					Tools:      true,
					SystemRole: true,
					Media:      false,
				},
			})
			actions = append(actions, model.(api.Action))

		case ModelTypeEmbedding:
			embedder := p.DefineEmbedder(p.Provider, m.Model, &ai.EmbedderOptions{
				Label:      fmt.Sprintf("Ollama %s", m.Name),
				Dimensions: m.Dim,
			})
			actions = append(actions, embedder.(api.Action))
		}
	}

	return actions
}
