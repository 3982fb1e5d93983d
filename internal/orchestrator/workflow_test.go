package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroerp/neuroerp/internal/agent"
	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/internal/fabric"
	"github.com/neuroerp/neuroerp/pkg/bus"
	pkggenkit "github.com/neuroerp/neuroerp/pkg/genkit"
)

func testRegistry(t *testing.T) (*fabric.Fabric, *agent.Registry) {
	t.Helper()
	f := fabric.New(fabric.Config{})
	t.Cleanup(f.Close)
	return f, agent.NewRegistry(f, pkggenkit.Config{})
}

func TestEngine_OnboardingTemplate(t *testing.T) {
	ctx := context.Background()
	f, registry := testRegistry(t)
	b := bus.NewInMemoryBus()
	e := NewEngine(registry, b)

	wf, err := e.StartTemplate(ctx, TemplateOnboarding, map[string]any{
		"name":          "Dana Reyes",
		"department":    "finance",
		"signing_bonus": 5000.0,
	})
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, wf.Status)
	require.Len(t, wf.Steps, 3)
	for _, step := range wf.Steps {
		assert.Equal(t, StepCompleted, step.Status, step.Name)
	}

	// employee and bonus transaction exist in the fabric
	employees := f.QueryNodes(fabric.NodeFilter{Type: domain.KindEmployee})
	require.Len(t, employees, 1)
	transactions := f.QueryNodes(fabric.NodeFilter{Type: domain.KindTransaction})
	require.Len(t, transactions, 1)
	assert.Equal(t, 5000.0, transactions[0].Properties["amount"])

	// lifecycle events were published
	msgs := b.Messages(bus.TopicEvents)
	var started, completed bool
	for _, m := range msgs {
		ev, err := bus.UnmarshalEvent(m)
		require.NoError(t, err)
		switch ev.Type {
		case bus.EventWorkflowStarted:
			started = true
		case bus.EventWorkflowCompleted:
			completed = true
		}
	}
	assert.True(t, started)
	assert.True(t, completed)

	// retrievable by ID
	got, err := e.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
}

func TestEngine_ProcurementTemplate(t *testing.T) {
	ctx := context.Background()
	f, registry := testRegistry(t)
	e := NewEngine(registry, nil)

	product, err := f.CreateNode(ctx, domain.KindProduct, "Bolt", map[string]any{"stock": 100.0})
	require.NoError(t, err)

	wf, err := e.StartTemplate(ctx, TemplateProcurement, map[string]any{
		"product_id": product.ID,
		"quantity":   400.0,
		"unit_cost":  0.12,
	})
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, wf.Status)

	got, err := f.GetNode(product.ID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.Properties["stock"])
}

func TestEngine_DependencyResultInjection(t *testing.T) {
	ctx := context.Background()
	_, registry := testRegistry(t)
	e := NewEngine(registry, nil)

	wf := &Workflow{
		Name: "injection",
		Steps: []*Step{
			{ID: 1, Name: "analyze", AgentType: domain.AgentFinance, Skill: "analyze_transactions"},
			{ID: 2, Name: "headcount", AgentType: domain.AgentHR, Skill: "headcount", DependsOn: []int{1}},
		},
	}

	done, err := e.Run(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, done.Status)
	// the engine completed step 2 only after step 1's result was available
	assert.Equal(t, StepCompleted, done.Steps[1].Status)
	assert.NotNil(t, done.Steps[0].Result)
}

func TestEngine_StepFailureFailsWorkflow(t *testing.T) {
	ctx := context.Background()
	_, registry := testRegistry(t)
	e := NewEngine(registry, nil)

	// step 2 fails; step 3 depends on it, step 4 is independent. The run
	// stops at the failure and everything not yet executed stays pending.
	wf := &Workflow{
		Name: "partly-broken",
		Steps: []*Step{
			{ID: 1, AgentType: domain.AgentFinance, Skill: "analyze_transactions"},
			{ID: 2, AgentType: domain.AgentFinance, Skill: "no_such_skill"},
			{ID: 3, AgentType: domain.AgentHR, Skill: "headcount", DependsOn: []int{2}},
			{ID: 4, AgentType: domain.AgentHR, Skill: "headcount"},
		},
	}

	done, err := e.Run(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, done.Status)
	assert.Equal(t, StepCompleted, done.Steps[0].Status)
	assert.Equal(t, StepFailed, done.Steps[1].Status)
	assert.NotEmpty(t, done.Steps[1].Error)
	assert.Equal(t, StepPending, done.Steps[2].Status)
	assert.Equal(t, StepPending, done.Steps[3].Status)
}

func TestEngine_AllFailed(t *testing.T) {
	ctx := context.Background()
	_, registry := testRegistry(t)
	e := NewEngine(registry, nil)

	wf := &Workflow{
		Steps: []*Step{
			{ID: 1, AgentType: "nobody", Skill: "nothing"},
		},
	}

	done, err := e.Run(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, done.Status)
}

func TestValidateSteps(t *testing.T) {
	err := validateSteps([]*Step{
		{ID: 1, AgentType: "a", Skill: "s"},
		{ID: 1, AgentType: "a", Skill: "s"},
	})
	assert.ErrorContains(t, err, "duplicate step id")

	err = validateSteps([]*Step{
		{ID: 1, AgentType: "a", Skill: "s", DependsOn: []int{9}},
	})
	assert.ErrorContains(t, err, "unknown step")

	err = validateSteps([]*Step{
		{ID: 1, AgentType: "a", Skill: "s", DependsOn: []int{2}},
		{ID: 2, AgentType: "a", Skill: "s", DependsOn: []int{1}},
	})
	assert.ErrorContains(t, err, "cycle")

	err = validateSteps([]*Step{
		{ID: 1, AgentType: "", Skill: "s"},
	})
	assert.ErrorContains(t, err, "required")
}

func TestEngine_GetReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	_, registry := testRegistry(t)
	e := NewEngine(registry, nil)

	wf, err := e.Run(ctx, &Workflow{
		Name: "snapshot",
		Steps: []*Step{
			{ID: 1, AgentType: domain.AgentHR, Skill: "headcount"},
		},
	})
	require.NoError(t, err)

	got, err := e.Get(wf.ID)
	require.NoError(t, err)
	got.Status = "tampered"
	got.Steps[0].Result["total"] = -1

	again, err := e.Get(wf.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, again.Status)
	assert.Equal(t, 0, again.Steps[0].Result["total"])
}

func TestEngine_UnknownTemplate(t *testing.T) {
	_, registry := testRegistry(t)
	e := NewEngine(registry, nil)

	_, err := e.StartTemplate(context.Background(), "nope", nil)
	assert.Error(t, err)

	assert.ElementsMatch(t, []string{TemplateOnboarding, TemplateProcurement}, e.Templates())
}
