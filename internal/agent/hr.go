package agent

import (
	"context"
	"fmt"

	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/internal/fabric"
)

// HRAgent handles employee records, onboarding and expertise lookup.
type HRAgent struct {
	*BaseAgent
}

// NewHRAgent creates the HR agent.
func NewHRAgent(f *fabric.Fabric, model, embedder string) *HRAgent {
	a := &HRAgent{
		BaseAgent: NewBaseAgent(domain.AgentHR, f, model, embedder),
	}

	a.RegisterSkill("onboard_employee", a.onboardEmployee)
	a.RegisterSkill("find_expert", a.findExpert)
	a.RegisterSkill("headcount", a.headcount)

	return a
}

// Ask answers HR questions grounded on employee nodes.
func (a *HRAgent) Ask(ctx context.Context, req *domain.AskRequest) (*domain.AskResponse, error) {
	return a.askWithContext(ctx, req, domain.KindEmployee)
}

// onboardEmployee creates the employee node and wires it to its department
// node, creating the department on first use.
// Params: name (required), department, position, email, skills.
func (a *HRAgent) onboardEmployee(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in domain.Employee
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	props := map[string]any{}
	if in.Department != "" {
		props["department"] = in.Department
	}
	if in.Position != "" {
		props["position"] = in.Position
	}
	if in.Email != "" {
		props["email"] = in.Email
	}
	if len(in.Skills) > 0 {
		props["skills"] = in.Skills
	}

	employee, err := a.Fabric().CreateNode(ctx, domain.KindEmployee, in.Name, props)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"node_id": employee.ID}

	if in.Department != "" {
		deptNode, err := a.departmentNode(ctx, in.Department)
		if err != nil {
			a.logger.Warn("department node lookup failed", "department", in.Department, "error", err)
		} else {
			if err := a.Fabric().ConnectNodes(ctx, employee.ID, deptNode.ID, "member_of", nil); err != nil {
				a.logger.Warn("failed to connect employee to department", "error", err)
			}
			result["department_node_id"] = deptNode.ID
		}
	}

	return result, nil
}

// departmentNode finds or creates the department node
func (a *HRAgent) departmentNode(ctx context.Context, name string) (*fabric.Node, error) {
	existing := a.Fabric().QueryNodes(fabric.NodeFilter{Type: "department", Name: name, Limit: 1})
	if len(existing) > 0 {
		return existing[0], nil
	}
	return a.Fabric().CreateNode(ctx, "department", name, nil)
}

// findExpert semantically searches employees for a capability.
// Params: topic (required), limit.
func (a *HRAgent) findExpert(ctx context.Context, params map[string]any) (map[string]any, error) {
	topic, _ := params["topic"].(string)
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	limit := 5
	if l, ok := toFloat(params["limit"]); ok && l > 0 {
		limit = int(l)
	}

	nodes, err := a.Fabric().SemanticSearch(ctx, topic, domain.KindEmployee, limit)
	if err != nil {
		return nil, err
	}

	experts := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		experts = append(experts, map[string]any{
			"node_id":    node.ID,
			"name":       node.Name,
			"department": node.Properties["department"],
			"score":      node.Score,
		})
	}

	return map[string]any{"experts": experts}, nil
}

// headcount counts employees, optionally per department.
// Params: department (optional).
func (a *HRAgent) headcount(_ context.Context, params map[string]any) (map[string]any, error) {
	filter := fabric.NodeFilter{Type: domain.KindEmployee, Limit: 100000}
	if dept, ok := params["department"].(string); ok && dept != "" {
		filter.Properties = map[string]any{"department": dept}
	}

	nodes := a.Fabric().QueryNodes(filter)
	byDepartment := make(map[string]int)
	for _, node := range nodes {
		if d, ok := node.Properties["department"].(string); ok {
			byDepartment[d]++
		}
	}

	return map[string]any{
		"total":         len(nodes),
		"by_department": byDepartment,
	}, nil
}
