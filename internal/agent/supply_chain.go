package agent

import (
	"context"
	"fmt"

	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/internal/fabric"
)

// SupplyChainAgent watches inventory: stock levels and reorder suggestions.
type SupplyChainAgent struct {
	*BaseAgent
}

// NewSupplyChainAgent creates the supply chain agent.
func NewSupplyChainAgent(f *fabric.Fabric, model, embedder string) *SupplyChainAgent {
	a := &SupplyChainAgent{
		BaseAgent: NewBaseAgent(domain.AgentSupplyChain, f, model, embedder),
	}

	a.RegisterSkill("check_reorder", a.checkReorder)
	a.RegisterSkill("stock_level", a.stockLevel)
	a.RegisterSkill("adjust_stock", a.adjustStock)
	a.RegisterSkill("add_product", a.addProduct)

	return a
}

// Ask answers inventory questions grounded on product nodes.
func (a *SupplyChainAgent) Ask(ctx context.Context, req *domain.AskRequest) (*domain.AskResponse, error) {
	return a.askWithContext(ctx, req, domain.KindProduct)
}

// checkReorder lists products at or below their reorder level.
func (a *SupplyChainAgent) checkReorder(_ context.Context, _ map[string]any) (map[string]any, error) {
	nodes := a.Fabric().QueryNodes(fabric.NodeFilter{Type: domain.KindProduct, Limit: 100000})

	low := make([]map[string]any, 0)
	for _, node := range nodes {
		stock, ok := toFloat(node.Properties["stock"])
		if !ok {
			continue
		}
		reorder, ok := toFloat(node.Properties["reorder_level"])
		if !ok || reorder <= 0 {
			continue
		}
		if stock <= reorder {
			low = append(low, map[string]any{
				"node_id":       node.ID,
				"name":          node.Name,
				"stock":         stock,
				"reorder_level": reorder,
			})
		}
	}

	return map[string]any{
		"reorder_needed": low,
		"checked":        len(nodes),
	}, nil
}

// stockLevel reports the stock of a single product.
// Params: product_id or name.
func (a *SupplyChainAgent) stockLevel(_ context.Context, params map[string]any) (map[string]any, error) {
	var node *fabric.Node

	if id, ok := params["product_id"].(string); ok && id != "" {
		n, err := a.Fabric().GetNode(id)
		if err != nil {
			return nil, err
		}
		node = n
	} else if name, ok := params["name"].(string); ok && name != "" {
		matches := a.Fabric().QueryNodes(fabric.NodeFilter{Type: domain.KindProduct, Name: name, Limit: 1})
		if len(matches) == 0 {
			return nil, fmt.Errorf("product not found: %s", name)
		}
		node = matches[0]
	} else {
		return nil, fmt.Errorf("product_id or name is required")
	}

	stock, _ := toFloat(node.Properties["stock"])
	return map[string]any{
		"node_id": node.ID,
		"name":    node.Name,
		"stock":   stock,
	}, nil
}

// adjustStock changes a product's stock by a delta (negative for consumption).
// The mutation runs atomically on the fabric so concurrent adjustments never
// lose an update.
// Params: product_id (required), delta (required).
func (a *SupplyChainAgent) adjustStock(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in struct {
		ProductID string  `json:"product_id"`
		Delta     float64 `json:"delta"`
	}
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.ProductID == "" || in.Delta == 0 {
		return nil, fmt.Errorf("product_id and a non-zero delta are required")
	}

	var oldStock, newStock float64
	node, err := a.Fabric().MutateNode(ctx, in.ProductID, func(props map[string]any) error {
		stock, _ := toFloat(props["stock"])
		updated := stock + in.Delta
		if updated < 0 {
			return fmt.Errorf("stock cannot go negative: have %v, delta %v", stock, in.Delta)
		}
		oldStock, newStock = stock, updated
		props["stock"] = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"node_id":   node.ID,
		"old_stock": oldStock,
		"new_stock": newStock,
	}, nil
}

// addProduct creates a product node in the catalog.
// Params: name (required), sku, category, description, price, stock,
// reorder_level.
func (a *SupplyChainAgent) addProduct(ctx context.Context, params map[string]any) (map[string]any, error) {
	var in domain.Product
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	props := map[string]any{
		"price": in.Price,
		"stock": in.Stock,
	}
	if in.SKU != "" {
		props["sku"] = in.SKU
	}
	if in.Category != "" {
		props["category"] = in.Category
	}
	if in.Description != "" {
		props["description"] = in.Description
	}
	if in.ReorderLevel > 0 {
		props["reorder_level"] = in.ReorderLevel
	}

	node, err := a.Fabric().CreateNode(ctx, domain.KindProduct, in.Name, props)
	if err != nil {
		return nil, err
	}

	return map[string]any{"node_id": node.ID}, nil
}
