package orchestrator

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/pkg/errors"

	pkggenkit "github.com/neuroerp/neuroerp/pkg/genkit"
)

// generatedWorkflow is the structured shape the LLM is asked to produce
type generatedWorkflow struct {
	Name  string `json:"name"`
	Steps []struct {
		ID        int            `json:"id"`
		Name      string         `json:"name"`
		AgentType string         `json:"agent_type"`
		Skill     string         `json:"skill"`
		Params    map[string]any `json:"params"`
		DependsOn []int          `json:"depends_on"`
	} `json:"steps"`
}

// Generate asks the LLM to plan a workflow from a natural-language
// description, constrained to the skills the registry actually has.
func (e *Engine) Generate(ctx context.Context, description, model string) (*Workflow, error) {
	if description == "" {
		return nil, errors.New("description is required")
	}

	g := pkggenkit.Genkit()
	prompt := genkit.LookupPrompt(g, "workflow_generate")
	if prompt == nil {
		return nil, errors.New("prompt not found: workflow_generate")
	}

	skills := make([]map[string]any, 0)
	for _, agentType := range e.registry.Types() {
		a, err := e.registry.Get(agentType)
		if err != nil {
			continue
		}
		for _, skill := range a.Skills() {
			skills = append(skills, map[string]any{"agent_type": agentType, "skill": skill})
		}
	}

	resp, err := prompt.Execute(ctx,
		ai.WithInput(map[string]any{
			"description": description,
			"skills":      skills,
		}),
		ai.WithModelName(model),
	)
	if err != nil {
		return nil, errors.WithMessage(err, "workflow generation failed")
	}

	var generated generatedWorkflow
	if err := resp.Output(&generated); err != nil {
		return nil, errors.WithMessage(err, "failed to parse generated workflow")
	}

	if len(generated.Steps) == 0 {
		return nil, errors.New("model produced no workflow steps")
	}

	wf := &Workflow{Name: generated.Name}
	for _, s := range generated.Steps {
		wf.Steps = append(wf.Steps, &Step{
			ID:        s.ID,
			Name:      s.Name,
			AgentType: s.AgentType,
			Skill:     s.Skill,
			Params:    s.Params,
			DependsOn: s.DependsOn,
		})
	}

	if err := validateSteps(wf.Steps); err != nil {
		return nil, errors.WithMessage(err, "model produced an invalid workflow")
	}

	return wf, nil
}
