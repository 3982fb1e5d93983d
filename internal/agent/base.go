package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/internal/fabric"
	pkggenkit "github.com/neuroerp/neuroerp/pkg/genkit"
	"github.com/neuroerp/neuroerp/pkg/log"
	"github.com/neuroerp/neuroerp/pkg/redis"
)

// sessionTTL bounds how long an idle conversation is kept in Redis
const sessionTTL = 24 * time.Hour

// SkillFunc executes one named capability of an agent.
type SkillFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Agent is a domain specialist that answers questions and executes tasks
// against the fabric.
type Agent interface {
	// Type returns the agent type (finance, hr, supply_chain)
	Type() string

	// Skills lists the task names the agent can execute
	Skills() []string

	// Ask answers a natural-language question
	Ask(ctx context.Context, req *domain.AskRequest) (*domain.AskResponse, error)

	// Execute runs a named skill with parameters
	Execute(ctx context.Context, skill string, params map[string]any) (map[string]any, error)
}

// BaseAgent provides the shared machinery: LLM calls, embeddings, session
// memory and the skill registry. Concrete agents embed it.
type BaseAgent struct {
	agentType string
	logger    *slog.Logger
	g         *genkit.Genkit
	fabric    *fabric.Fabric

	model    string // full model name, e.g. "ollama/llama3"
	embedder string // full embedder name

	skills map[string]SkillFunc
}

// NewBaseAgent creates the shared agent core.
func NewBaseAgent(agentType string, f *fabric.Fabric, model, embedder string) *BaseAgent {
	return &BaseAgent{
		agentType: agentType,
		logger:    log.Logger("agent").With("agent", agentType),
		g:         pkggenkit.Genkit(),
		fabric:    f,
		model:     model,
		embedder:  embedder,
		skills:    make(map[string]SkillFunc),
	}
}

// Type returns the agent type.
func (b *BaseAgent) Type() string {
	return b.agentType
}

// Fabric exposes the fabric to concrete agents.
func (b *BaseAgent) Fabric() *fabric.Fabric {
	return b.fabric
}

// Model returns the LLM model name assigned to this agent.
func (b *BaseAgent) Model() string {
	return b.model
}

// RegisterSkill adds a named capability.
func (b *BaseAgent) RegisterSkill(name string, fn SkillFunc) {
	b.skills[name] = fn
}

// Skills lists registered skill names.
func (b *BaseAgent) Skills() []string {
	names := make([]string, 0, len(b.skills))
	for name := range b.skills {
		names = append(names, name)
	}
	return names
}

// Execute runs a registered skill.
func (b *BaseAgent) Execute(ctx context.Context, skill string, params map[string]any) (map[string]any, error) {
	fn, ok := b.skills[skill]
	if !ok {
		return nil, fmt.Errorf("agent %s has no skill %q", b.agentType, skill)
	}

	start := time.Now()
	result, err := fn(ctx, params)
	b.logger.Info("skill executed",
		"skill", skill,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

// GenEmbedding generates an embedding vector for a text.
func (b *BaseAgent) GenEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := genkit.Embed(ctx, b.g, ai.WithEmbedderName(b.embedder), ai.WithTextDocs(text))
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	return resp.Embeddings[0].Embedding, nil
}

// Generate runs a named prompt with the agent's model and parses the
// structured output.
func (b *BaseAgent) Generate(ctx context.Context, promptName string, input map[string]any, output any) error {
	prompt := genkit.LookupPrompt(b.g, promptName)
	if prompt == nil {
		return fmt.Errorf("prompt not found: %s", promptName)
	}

	resp, err := prompt.Execute(ctx, ai.WithInput(input), ai.WithModelName(b.model))
	if err != nil {
		return fmt.Errorf("prompt execute failed: %w", err)
	}

	if resp == nil {
		return fmt.Errorf("empty response")
	}

	if resp.Usage != nil {
		b.logger.Debug("llm response",
			"prompt", promptName,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)
	}

	if err := resp.Output(output); err != nil {
		return fmt.Errorf("parse output failed: %w", err)
	}

	return nil
}

// CosineSimilarity computes cosine similarity between two vectors.
func (b *BaseAgent) CosineSimilarity(vec1, vec2 []float32) float64 {
	if len(vec1) != len(vec2) || len(vec1) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range vec1 {
		dotProduct += float64(vec1[i]) * float64(vec2[i])
		normA += float64(vec1[i]) * float64(vec1[i])
		normB += float64(vec2[i]) * float64(vec2[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ============================================================================
// Session memory (Redis-backed)
// ============================================================================

func (b *BaseAgent) sessionKey(sessionID string) string {
	return fmt.Sprintf("neuroerp:agent:%s:session:%s", b.agentType, sessionID)
}

// Remember appends a conversation turn to the session history.
// A nil Redis client makes this a no-op.
func (b *BaseAgent) Remember(ctx context.Context, sessionID string, msg domain.Message) error {
	client := redis.Client()
	if client == nil || sessionID == "" {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := b.sessionKey(sessionID)
	pipe := client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, sessionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Recall returns the last n conversation turns of a session.
func (b *BaseAgent) Recall(ctx context.Context, sessionID string, n int) (domain.Messages, error) {
	client := redis.Client()
	if client == nil || sessionID == "" {
		return nil, nil
	}
	if n <= 0 {
		n = 10
	}

	values, err := client.LRange(ctx, b.sessionKey(sessionID), int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make(domain.Messages, 0, len(values))
	for _, v := range values {
		var msg domain.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ============================================================================
// Shared Ask implementation
// ============================================================================

// answerOutput is the structured LLM answer shape
type answerOutput struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// askWithContext runs the common ask flow: recall the session, gather fabric
// context by semantic search, call the LLM and remember both turns.
func (b *BaseAgent) askWithContext(ctx context.Context, req *domain.AskRequest, nodeType string) (*domain.AskResponse, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	history, err := b.Recall(ctx, req.SessionID, 10)
	if err != nil {
		b.logger.Warn("session recall failed", "error", err)
	}

	contextText := ""
	nodes, err := b.fabric.SemanticSearch(ctx, req.Query, nodeType, 5)
	if err != nil {
		b.logger.Warn("fabric search failed", "error", err)
	}
	for _, node := range nodes {
		doc, err := json.Marshal(node.Properties)
		if err != nil {
			continue
		}
		contextText += fmt.Sprintf("- %s %q: %s\n", node.Type, node.Name, doc)
	}

	var out answerOutput
	input := map[string]any{
		"agent_type": b.agentType,
		"query":      req.Query,
		"context":    contextText,
		"history":    history.Format(),
	}
	if err := b.Generate(ctx, "agent_answer", input, &out); err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		_ = b.Remember(ctx, req.SessionID, domain.Message{Role: domain.RoleUser, Content: req.Query})
		_ = b.Remember(ctx, req.SessionID, domain.Message{Role: domain.RoleAssistant, Content: out.Answer, Name: b.agentType})
	}

	return &domain.AskResponse{
		Agent:      b.agentType,
		Answer:     out.Answer,
		Confidence: out.Confidence,
		Model:      b.model,
	}, nil
}
