package genkit

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/pkg/errors"
)

type ModelType string

// Model type constants
const (
	ModelTypeLLM       ModelType = "llm"
	ModelTypeEmbedding ModelType = "embedding"
)

// ModelConfig holds configuration for a single model (shared by all vendors)
type ModelConfig struct {
	Name    string    `toml:"name"`     // Model name for registration (e.g., "finance-llm")
	Type    ModelType `toml:"type"`     // ModelTypeLLM or ModelTypeEmbedding
	Model   string    `toml:"model"`    // Actual model identifier (e.g., "llama3.1:8b")
	BaseURL string    `toml:"base_url"` // Override base URL for this model (optional)
	Dim     int       `toml:"dim"`      // Embedding dimension (required for embedding models)
}

// Validate validates a model config
func (m *ModelConfig) Validate(index int) error {
	if m.Name == "" {
		return fmt.Errorf("models[%d].name is required", index)
	}

	if m.Type != ModelTypeLLM && m.Type != ModelTypeEmbedding {
		return fmt.Errorf("models[%d].type must be '%s' or '%s'", index, ModelTypeLLM, ModelTypeEmbedding)
	}

	if m.Model == "" {
		return fmt.Errorf("models[%d].model is required", index)
	}

	if m.Type == ModelTypeEmbedding && m.Dim <= 0 {
		return fmt.Errorf("models[%d].dim is required for embedding model", index)
	}

	return nil
}

// Config holds unified model-serving configuration
type Config struct {
	Ollama    OllamaConfig      `toml:"ollama"`
	Tasks     map[string]string `toml:"tasks"` // task name (finance/hr/...) -> registered model identifier
	Embedder  string            `toml:"embedder"`
	PromptDir string            `toml:"prompt_dir"`
}

// Validate checks model-serving configuration
func (c *Config) Validate() error {
	// PromptDir is optional - prompts can be defined in Go code

	if len(c.Ollama.Models) > 0 {
		if err := c.Ollama.Validate(); err != nil {
			return fmt.Errorf("ollama: %w", err)
		}
	}

	return nil
}

// ModelForTask resolves the model identifier mapped to a task, falling back to
// the "general" mapping when the task has no entry.
func (c *Config) ModelForTask(task string) string {
	if model, ok := c.Tasks[task]; ok {
		return model
	}
	return c.Tasks["general"]
}

var g *genkit.Genkit

// Init initializes the genkit package with the configured model server
func Init(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.WithMessage(err, "invalid config")
	}

	var plugins []api.Plugin

	if len(cfg.Ollama.Models) > 0 {
		plugins = append(plugins, NewOllamaPlugin(cfg.Ollama))
	}

	g = genkit.Init(ctx,
		genkit.WithPlugins(plugins...),
		genkit.WithPromptDir(cfg.PromptDir),
	)

	return nil
}

// InitForTest initializes genkit with a mock plugin for testing.
// Returns the mock plugin for configuring responses.
func InitForTest(ctx context.Context, cfg MockConfig, promptDir string) *MockPlugin {
	mockPlugin := NewMockPlugin(cfg)

	g = genkit.Init(ctx,
		genkit.WithPlugins(mockPlugin),
		genkit.WithPromptDir(promptDir),
	)

	return mockPlugin
}

// InitWithPlugins initializes genkit with custom plugins (for testing or custom setups)
func InitWithPlugins(ctx context.Context, plugins []api.Plugin, promptDir string) {
	g = genkit.Init(ctx,
		genkit.WithPlugins(plugins...),
		genkit.WithPromptDir(promptDir),
	)
}

// Genkit returns the Genkit instance
func Genkit() *genkit.Genkit {
	return g
}

// Embedding generates an embedding vector for a text using the named embedder.
func Embedding(ctx context.Context, embedder, text string) ([]float32, error) {
	resp, err := genkit.Embed(ctx, g, ai.WithEmbedderName(embedder), ai.WithTextDocs(text))
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	return resp.Embeddings[0].Embedding, nil
}
