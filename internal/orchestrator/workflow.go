package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/neuroerp/neuroerp/internal/agent"
	"github.com/neuroerp/neuroerp/pkg/bus"
	"github.com/neuroerp/neuroerp/pkg/log"
)

// Workflow status values. A step error fails the whole workflow; partial is
// reserved for runs that stall without an error.
const (
	WorkflowCreated   = "created"
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
	WorkflowPartial   = "partial"
)

// Step status values
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
)

// Step is one unit of work in a workflow, executed by an agent skill.
type Step struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	AgentType string         `json:"agent_type"`
	Skill     string         `json:"skill"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn []int          `json:"depends_on,omitempty"`

	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (s *Step) clone() *Step {
	c := *s
	c.Params = copyMap(s.Params)
	c.Result = copyMap(s.Result)
	c.DependsOn = append([]int(nil), s.DependsOn...)
	return &c
}

// Workflow is an ordered set of steps with dependencies.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Steps       []*Step        `json:"steps"`
	Params      map[string]any `json:"params,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// clone returns a deep copy so callers can't observe in-flight mutation
func (w *Workflow) clone() *Workflow {
	c := *w
	c.Params = copyMap(w.Params)
	c.Steps = make([]*Step, len(w.Steps))
	for i, s := range w.Steps {
		c.Steps[i] = s.clone()
	}
	if w.StartedAt != nil {
		t := *w.StartedAt
		c.StartedAt = &t
	}
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// TemplateFunc builds a workflow from request parameters.
type TemplateFunc func(params map[string]any) (*Workflow, error)

// Engine runs workflows: it resolves step dependencies, injects upstream
// results and tracks lifecycle state.
type Engine struct {
	logger   *slog.Logger
	registry *agent.Registry
	bus      bus.EventBus

	mu        sync.RWMutex
	workflows map[string]*Workflow
	templates map[string]TemplateFunc
}

// NewEngine creates a workflow engine. The bus may be nil.
func NewEngine(registry *agent.Registry, b bus.EventBus) *Engine {
	e := &Engine{
		logger:    log.Logger("workflow-engine"),
		registry:  registry,
		bus:       b,
		workflows: make(map[string]*Workflow),
		templates: make(map[string]TemplateFunc),
	}
	registerBuiltinTemplates(e)
	return e
}

// RegisterTemplate adds a named workflow template.
func (e *Engine) RegisterTemplate(name string, fn TemplateFunc) {
	e.templates[name] = fn
}

// Templates lists registered template names.
func (e *Engine) Templates() []string {
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	return names
}

// StartTemplate instantiates a template and runs it synchronously.
func (e *Engine) StartTemplate(ctx context.Context, name string, params map[string]any) (*Workflow, error) {
	fn, ok := e.templates[name]
	if !ok {
		return nil, errors.Errorf("unknown workflow template: %s", name)
	}

	wf, err := fn(params)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build workflow from template %s", name)
	}

	return e.Run(ctx, wf)
}

// Run executes a workflow. Steps run in dependency order and the first step
// error fails the workflow, leaving the remaining steps pending. Results of
// dependencies are injected into step params under "dep_<id>_result".
func (e *Engine) Run(ctx context.Context, wf *Workflow) (*Workflow, error) {
	if len(wf.Steps) == 0 {
		return nil, errors.New("workflow has no steps")
	}
	if err := validateSteps(wf.Steps); err != nil {
		return nil, err
	}

	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.StartedAt = &now
	wf.Status = WorkflowRunning
	for _, step := range wf.Steps {
		step.Status = StepPending
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	e.publish(bus.EventWorkflowStarted, map[string]any{
		"workflow_id": wf.ID, "name": wf.Name, "steps": len(wf.Steps),
	})
	e.logger.Info("workflow started", "id", wf.ID, "name", wf.Name)

	steps := make(map[int]*Step, len(wf.Steps))
	for _, step := range wf.Steps {
		steps[step.ID] = step
	}

	// run steps whose dependencies completed, stopping at the first failure
	remaining := len(wf.Steps)
	failed := false
	for remaining > 0 && !failed {
		progressed := false

		for _, step := range wf.Steps {
			if step.Status != StepPending {
				continue
			}

			ready := true
			for _, depID := range step.DependsOn {
				if steps[depID].Status != StepCompleted {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}

			e.runStep(ctx, wf, steps, step)
			remaining--
			progressed = true

			if step.Status == StepFailed {
				failed = true
				break
			}
		}

		if !progressed {
			break // defensive, validateSteps rejects cycles
		}
	}

	completedAt := time.Now().UTC()
	e.mu.Lock()
	wf.CompletedAt = &completedAt
	switch {
	case failed:
		wf.Status = WorkflowFailed
	case remaining == 0:
		wf.Status = WorkflowCompleted
	default:
		wf.Status = WorkflowPartial // stalled without a step error
	}
	e.mu.Unlock()

	eventType := bus.EventWorkflowCompleted
	if wf.Status == WorkflowFailed {
		eventType = bus.EventWorkflowFailed
	}
	e.publish(eventType, map[string]any{"workflow_id": wf.ID, "status": wf.Status})
	e.logger.Info("workflow finished", "id", wf.ID, "status", wf.Status)

	return wf, nil
}

// runStep executes one step via the agent registry. Workflow-level params act
// as defaults; step params and dependency results override them.
func (e *Engine) runStep(ctx context.Context, wf *Workflow, steps map[int]*Step, step *Step) {
	e.mu.Lock()
	step.Status = StepRunning
	e.mu.Unlock()

	params := make(map[string]any, len(wf.Params)+len(step.Params)+len(step.DependsOn))
	for k, v := range wf.Params {
		params[k] = v
	}
	for k, v := range step.Params {
		params[k] = v
	}
	for _, depID := range step.DependsOn {
		params[fmt.Sprintf("dep_%d_result", depID)] = steps[depID].Result
	}

	result, err := e.registry.ExecuteTask(ctx, step.AgentType, step.Skill, params)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
		e.logger.Warn("workflow step failed",
			"step", step.Name, "agent", step.AgentType, "skill", step.Skill, "error", err)
		return
	}

	step.Status = StepCompleted
	step.Result = result
}

// Get returns a snapshot of a workflow by ID.
func (e *Engine) Get(id string) (*Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	wf, ok := e.workflows[id]
	if !ok {
		return nil, errors.Errorf("workflow not found: %s", id)
	}
	return wf.clone(), nil
}

// List returns snapshots of all workflows, newest first capped at limit.
func (e *Engine) List(limit int) []*Workflow {
	if limit <= 0 {
		limit = 50
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	all := make([]*Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		all = append(all, wf.clone())
	}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].CreatedAt.After(all[i].CreatedAt) {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (e *Engine) publish(eventType string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	if err := bus.PublishEvent(e.bus, bus.TopicEvents, bus.NewEvent(eventType, "orchestrator", payload)); err != nil {
		e.logger.Warn("event publish failed", "type", eventType, "error", err)
	}
}

// validateSteps checks IDs are unique and dependencies resolvable and acyclic
func validateSteps(steps []*Step) error {
	ids := make(map[int]*Step, len(steps))
	for _, step := range steps {
		if _, dup := ids[step.ID]; dup {
			return errors.Errorf("duplicate step id: %d", step.ID)
		}
		if step.AgentType == "" || step.Skill == "" {
			return errors.Errorf("step %d: agent_type and skill are required", step.ID)
		}
		ids[step.ID] = step
	}

	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := ids[dep]; !ok {
				return errors.Errorf("step %d depends on unknown step %d", step.ID, dep)
			}
		}
	}

	// cycle detection with DFS coloring
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(steps))
	var visit func(id int) error
	visit = func(id int) error {
		color[id] = gray
		for _, dep := range ids[id].DependsOn {
			switch color[dep] {
			case gray:
				return errors.Errorf("dependency cycle involving step %d", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, step := range steps {
		if color[step.ID] == white {
			if err := visit(step.ID); err != nil {
				return err
			}
		}
	}

	return nil
}
