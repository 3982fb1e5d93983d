package orchestrator

import (
	"github.com/pkg/errors"

	"github.com/neuroerp/neuroerp/internal/domain"
)

// Built-in workflow template names
const (
	TemplateOnboarding  = "employee_onboarding"
	TemplateProcurement = "procurement"
)

func registerBuiltinTemplates(e *Engine) {
	e.RegisterTemplate(TemplateOnboarding, onboardingTemplate)
	e.RegisterTemplate(TemplateProcurement, procurementTemplate)
}

// onboardingTemplate hires an employee: HR creates the record, finance books
// the signing cost, HR reports the new headcount.
// Params: name (required), department, position, signing_bonus.
func onboardingTemplate(params map[string]any) (*Workflow, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, errors.New("name is required")
	}

	onboardParams := map[string]any{"name": name}
	for _, key := range []string{"department", "position", "email", "skills"} {
		if v, ok := params[key]; ok {
			onboardParams[key] = v
		}
	}

	steps := []*Step{
		{
			ID:        1,
			Name:      "create employee record",
			AgentType: domain.AgentHR,
			Skill:     "onboard_employee",
			Params:    onboardParams,
		},
		{
			ID:        3,
			Name:      "report headcount",
			AgentType: domain.AgentHR,
			Skill:     "headcount",
			DependsOn: []int{1},
		},
	}

	if bonus, ok := params["signing_bonus"]; ok {
		steps = append(steps, &Step{
			ID:        2,
			Name:      "book signing bonus",
			AgentType: domain.AgentFinance,
			Skill:     "record_transaction",
			Params: map[string]any{
				"name":   "signing bonus: " + name,
				"type":   "expense",
				"amount": bonus,
			},
			DependsOn: []int{1},
		})
	}

	return &Workflow{Name: TemplateOnboarding, Steps: steps, Params: params}, nil
}

// procurementTemplate restocks a product: supply chain checks stock, finance
// books the purchase, supply chain adjusts the stock.
// Params: product_id (required), quantity (required), unit_cost.
func procurementTemplate(params map[string]any) (*Workflow, error) {
	productID, _ := params["product_id"].(string)
	if productID == "" {
		return nil, errors.New("product_id is required")
	}
	quantity, ok := params["quantity"].(float64)
	if !ok {
		if q, isInt := params["quantity"].(int); isInt {
			quantity = float64(q)
		} else {
			return nil, errors.New("quantity is required")
		}
	}

	unitCost, _ := params["unit_cost"].(float64)

	steps := []*Step{
		{
			ID:        1,
			Name:      "check current stock",
			AgentType: domain.AgentSupplyChain,
			Skill:     "stock_level",
			Params:    map[string]any{"product_id": productID},
		},
		{
			ID:        2,
			Name:      "book purchase",
			AgentType: domain.AgentFinance,
			Skill:     "record_transaction",
			Params: map[string]any{
				"name":   "procurement: " + productID,
				"type":   "purchase",
				"amount": unitCost * quantity,
			},
			DependsOn: []int{1},
		},
		{
			ID:        3,
			Name:      "receive stock",
			AgentType: domain.AgentSupplyChain,
			Skill:     "adjust_stock",
			Params: map[string]any{
				"product_id": productID,
				"delta":      quantity,
			},
			DependsOn: []int{2},
		},
	}

	return &Workflow{Name: TemplateProcurement, Steps: steps, Params: params}, nil
}
