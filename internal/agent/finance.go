package agent

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/internal/fabric"
)

// defaultAnomalyThreshold is the z-score above which a transaction amount is
// flagged as an outlier.
const defaultAnomalyThreshold = 3.0

// FinanceAgent analyzes transactions: totals, trends and anomaly detection.
type FinanceAgent struct {
	*BaseAgent
}

// NewFinanceAgent creates the finance agent.
func NewFinanceAgent(f *fabric.Fabric, model, embedder string) *FinanceAgent {
	a := &FinanceAgent{
		BaseAgent: NewBaseAgent(domain.AgentFinance, f, model, embedder),
	}

	a.RegisterSkill("analyze_transactions", a.analyzeTransactions)
	a.RegisterSkill("detect_anomalies", a.detectAnomalies)
	a.RegisterSkill("record_transaction", a.recordTransaction)
	a.RegisterSkill("add_customer", a.addCustomer)

	return a
}

// Ask answers finance questions grounded on transaction nodes.
func (a *FinanceAgent) Ask(ctx context.Context, req *domain.AskRequest) (*domain.AskResponse, error) {
	return a.askWithContext(ctx, req, domain.KindTransaction)
}

// transactionAmounts pulls amounts of transaction nodes, optionally filtered
// by transaction type (sale, purchase, refund, expense).
func (a *FinanceAgent) transactionAmounts(txType string) ([]*fabric.Node, []float64) {
	filter := fabric.NodeFilter{Type: domain.KindTransaction, Limit: 10000}
	if txType != "" {
		filter.Properties = map[string]any{"type": txType}
	}

	nodes := a.Fabric().QueryNodes(filter)
	amounts := make([]float64, 0, len(nodes))
	result := make([]*fabric.Node, 0, len(nodes))
	for _, node := range nodes {
		amount, ok := toFloat(node.Properties["amount"])
		if !ok {
			continue
		}
		amounts = append(amounts, amount)
		result = append(result, node)
	}
	return result, amounts
}

// analyzeTransactions aggregates transaction nodes.
// Params: type (optional transaction type filter).
func (a *FinanceAgent) analyzeTransactions(_ context.Context, params map[string]any) (map[string]any, error) {
	txType, _ := params["type"].(string)
	nodes, amounts := a.transactionAmounts(txType)

	var total float64
	byType := make(map[string]float64)
	for i, node := range nodes {
		total += amounts[i]
		if t, ok := node.Properties["type"].(string); ok {
			byType[t] += amounts[i]
		}
	}

	avg := 0.0
	if len(amounts) > 0 {
		avg = total / float64(len(amounts))
	}

	return map[string]any{
		"count":   len(amounts),
		"total":   total,
		"average": avg,
		"by_type": byType,
	}, nil
}

// detectAnomalies flags transactions whose amount deviates from the mean by
// more than threshold standard deviations.
// Params: threshold (optional, default 3.0), type (optional).
func (a *FinanceAgent) detectAnomalies(_ context.Context, params map[string]any) (map[string]any, error) {
	threshold := defaultAnomalyThreshold
	if t, ok := toFloat(params["threshold"]); ok && t > 0 {
		threshold = t
	}
	txType, _ := params["type"].(string)

	nodes, amounts := a.transactionAmounts(txType)
	if len(amounts) < 3 {
		return map[string]any{"anomalies": []any{}, "checked": len(amounts)}, nil
	}

	var sum float64
	for _, v := range amounts {
		sum += v
	}
	mean := sum / float64(len(amounts))

	var variance float64
	for _, v := range amounts {
		variance += (v - mean) * (v - mean)
	}
	stddev := math.Sqrt(variance / float64(len(amounts)))

	anomalies := make([]map[string]any, 0)
	if stddev > 0 {
		for i, node := range nodes {
			zScore := math.Abs(amounts[i]-mean) / stddev
			if zScore > threshold {
				anomalies = append(anomalies, map[string]any{
					"node_id": node.ID,
					"name":    node.Name,
					"amount":  amounts[i],
					"z_score": zScore,
				})
			}
		}
	}

	return map[string]any{
		"anomalies": anomalies,
		"checked":   len(amounts),
		"mean":      mean,
		"stddev":    stddev,
		"threshold": threshold,
	}, nil
}

// recordTransaction creates a transaction node.
// Params: name, type, amount; optional currency, description, quantity,
// product_id, customer_id to connect.
func (a *FinanceAgent) recordTransaction(ctx context.Context, params map[string]any) (map[string]any, error) {
	name, _ := params["name"].(string)

	var in domain.Transaction
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if name == "" || in.Type == "" || in.Amount == 0 {
		return nil, fmt.Errorf("name, type and amount are required")
	}

	props := map[string]any{
		"type":        in.Type,
		"amount":      in.Amount,
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
	}
	if in.Currency != "" {
		props["currency"] = in.Currency
	}
	if in.Description != "" {
		props["description"] = in.Description
	}
	if in.Quantity > 0 {
		props["quantity"] = in.Quantity
	}

	node, err := a.Fabric().CreateNode(ctx, domain.KindTransaction, name, props)
	if err != nil {
		return nil, err
	}

	if in.CustomerID != "" {
		if err := a.Fabric().ConnectNodes(ctx, in.CustomerID, node.ID, "placed", nil); err != nil {
			a.logger.Warn("failed to connect transaction to customer", "error", err)
		}
	}
	if in.ProductID != "" {
		if err := a.Fabric().ConnectNodes(ctx, node.ID, in.ProductID, "involves", nil); err != nil {
			a.logger.Warn("failed to connect transaction to product", "error", err)
		}
	}

	return map[string]any{"node_id": node.ID}, nil
}

// addCustomer creates a customer node.
// Params: name (required), email, segment, address.
func (a *FinanceAgent) addCustomer(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in domain.Customer
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	props := map[string]any{}
	if in.Email != "" {
		props["email"] = in.Email
	}
	if in.Segment != "" {
		props["segment"] = in.Segment
	}
	if in.Address != "" {
		props["address"] = in.Address
	}

	node, err := a.Fabric().CreateNode(ctx, domain.KindCustomer, in.Name, props)
	if err != nil {
		return nil, err
	}

	return map[string]any{"node_id": node.ID}, nil
}

// toFloat coerces JSON numbers of various Go types
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
