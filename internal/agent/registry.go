package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/internal/fabric"
	pkggenkit "github.com/neuroerp/neuroerp/pkg/genkit"
	"github.com/neuroerp/neuroerp/pkg/log"
)

// Registry holds the active agents and routes requests to them.
type Registry struct {
	logger *slog.Logger
	agents map[string]Agent
}

// NewRegistry builds the standard agent set, each bound to the model the
// genkit config assigns to its task.
func NewRegistry(f *fabric.Fabric, cfg pkggenkit.Config) *Registry {
	r := &Registry{
		logger: log.Logger("agent-registry"),
		agents: make(map[string]Agent),
	}

	embedder := cfg.Embedder
	r.Register(NewFinanceAgent(f, cfg.ModelForTask(domain.AgentFinance), embedder))
	r.Register(NewHRAgent(f, cfg.ModelForTask(domain.AgentHR), embedder))
	r.Register(NewSupplyChainAgent(f, cfg.ModelForTask(domain.AgentSupplyChain), embedder))

	return r
}

// Register adds an agent, replacing any previous agent of the same type.
func (r *Registry) Register(a Agent) {
	r.agents[a.Type()] = a
	r.logger.Info("agent registered", "type", a.Type(), "skills", a.Skills())
}

// Get returns the agent of the given type.
func (r *Registry) Get(agentType string) (Agent, error) {
	a, ok := r.agents[agentType]
	if !ok {
		return nil, fmt.Errorf("unknown agent type: %s", agentType)
	}
	return a, nil
}

// Types lists registered agent types, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.agents))
	for t := range r.agents {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ExecuteTask routes a skill execution to the owning agent.
func (r *Registry) ExecuteTask(ctx context.Context, agentType, skill string, params map[string]any) (map[string]any, error) {
	a, err := r.Get(agentType)
	if err != nil {
		return nil, err
	}
	return a.Execute(ctx, skill, params)
}

// FindAgentForSkill returns the first agent type that has the given skill.
func (r *Registry) FindAgentForSkill(skill string) (string, bool) {
	for _, t := range r.Types() {
		for _, s := range r.agents[t].Skills() {
			if s == skill {
				return t, true
			}
		}
	}
	return "", false
}
