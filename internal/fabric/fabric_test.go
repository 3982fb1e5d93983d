package fabric

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroerp/neuroerp/pkg/bus"
)

// hashEmbed produces a deterministic vector so similarity is stable in tests
func hashEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r) / 1000
	}
	return vec, nil
}

func newTestFabric(t *testing.T, opts ...Option) *Fabric {
	t.Helper()
	f := New(Config{}, opts...)
	t.Cleanup(f.Close)
	return f
}

func TestFabric_CreateAndGetNode(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	node, err := f.CreateNode(ctx, "product", "Steel Bolt M8", map[string]any{"stock": 4200})
	require.NoError(t, err)
	require.NotEmpty(t, node.ID)
	assert.Equal(t, "product", node.Type)
	assert.False(t, node.CreatedAt.IsZero())

	got, err := f.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, "Steel Bolt M8", got.Name)
	assert.Equal(t, 4200, got.Properties["stock"])

	_, err = f.GetNode("missing")
	assert.Error(t, err)
}

func TestFabric_CreateNode_Validation(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	_, err := f.CreateNode(ctx, "", "name", nil)
	assert.Error(t, err)

	_, err = f.CreateNode(ctx, "product", "", nil)
	assert.Error(t, err)
}

func TestFabric_UpdateNode(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	node, err := f.CreateNode(ctx, "employee", "Dana Reyes", map[string]any{"department": "finance"})
	require.NoError(t, err)

	updated, err := f.UpdateNode(ctx, node.ID, map[string]any{
		"department": "accounting",
		"position":   "controller",
	})
	require.NoError(t, err)
	assert.Equal(t, "accounting", updated.Properties["department"])
	assert.Equal(t, "controller", updated.Properties["position"])

	// nil value removes the property
	updated, err = f.UpdateNode(ctx, node.ID, map[string]any{"position": nil})
	require.NoError(t, err)
	_, ok := updated.Properties["position"]
	assert.False(t, ok)
}

func TestFabric_ConnectNodes_InverseEdge(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	customer, err := f.CreateNode(ctx, "customer", "Acme GmbH", nil)
	require.NoError(t, err)
	order, err := f.CreateNode(ctx, "transaction", "Order 1042", nil)
	require.NoError(t, err)

	require.NoError(t, f.ConnectNodes(ctx, customer.ID, order.ID, "placed", nil))

	// duplicate connect is a no-op
	require.NoError(t, f.ConnectNodes(ctx, customer.ID, order.ID, "placed", nil))

	got, err := f.GetNode(customer.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, got.Connections["placed"])

	gotOrder, err := f.GetNode(order.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{customer.ID}, gotOrder.Connections["placed_inverse"])

	// traversal works from both ends
	fromCustomer, err := f.ConnectedNodes(customer.ID, "placed")
	require.NoError(t, err)
	require.Len(t, fromCustomer, 1)
	assert.Equal(t, order.ID, fromCustomer[0].ID)

	fromOrder, err := f.ConnectedNodes(order.ID, "")
	require.NoError(t, err)
	require.Len(t, fromOrder, 1)
	assert.Equal(t, customer.ID, fromOrder[0].ID)
}

func TestFabric_ConnectNodes_Self(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	node, err := f.CreateNode(ctx, "product", "Widget", nil)
	require.NoError(t, err)

	assert.Error(t, f.ConnectNodes(ctx, node.ID, node.ID, "related", nil))
}

func TestFabric_DisconnectNodes(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	a, _ := f.CreateNode(ctx, "employee", "A", nil)
	b, _ := f.CreateNode(ctx, "employee", "B", nil)
	require.NoError(t, f.ConnectNodes(ctx, a.ID, b.ID, "reports_to", nil))

	require.NoError(t, f.DisconnectNodes(ctx, a.ID, b.ID, "reports_to"))

	got, err := f.GetNode(a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Connections)

	gotB, err := f.GetNode(b.ID)
	require.NoError(t, err)
	assert.Empty(t, gotB.Connections)

	assert.Error(t, f.DisconnectNodes(ctx, a.ID, b.ID, "reports_to"))
}

func TestFabric_MutateNode(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	node, err := f.CreateNode(ctx, "product", "Bolt", map[string]any{"stock": 100.0})
	require.NoError(t, err)

	updated, err := f.MutateNode(ctx, node.ID, func(props map[string]any) error {
		props["stock"] = props["stock"].(float64) - 30
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 70.0, updated.Properties["stock"])

	// an error from the mutator leaves the node untouched
	_, err = f.MutateNode(ctx, node.ID, func(props map[string]any) error {
		props["stock"] = -1.0
		return errors.New("insufficient stock")
	})
	require.ErrorContains(t, err, "insufficient stock")

	got, err := f.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, got.Properties["stock"])

	_, err = f.MutateNode(ctx, "missing", func(map[string]any) error { return nil })
	assert.Error(t, err)
}

func TestFabric_MutateNode_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	node, err := f.CreateNode(ctx, "product", "Bolt", map[string]any{"stock": 100.0})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.MutateNode(ctx, node.ID, func(props map[string]any) error {
				props["stock"] = props["stock"].(float64) - 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Properties["stock"])
}

func TestFabric_Traverse(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	customer, _ := f.CreateNode(ctx, "customer", "Acme", nil)
	order, _ := f.CreateNode(ctx, "transaction", "Order 1", nil)
	invoice, _ := f.CreateNode(ctx, "document", "Invoice 1", nil)
	supplier, _ := f.CreateNode(ctx, "supplier", "BoltCo", nil)
	require.NoError(t, f.ConnectNodes(ctx, customer.ID, order.ID, "placed", nil))
	require.NoError(t, f.ConnectNodes(ctx, order.ID, invoice.ID, "billed_as", nil))
	require.NoError(t, f.ConnectNodes(ctx, supplier.ID, customer.ID, "supplies", nil))

	// outgoing walk to depth 2: order then invoice, never the supplier
	nodes, err := f.Traverse(ctx, customer.ID, nil, "outgoing", 2, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	ids := []string{nodes[0].ID, nodes[1].ID}
	assert.Contains(t, ids, order.ID)
	assert.Contains(t, ids, invoice.ID)

	// depth 1 stops at the first hop
	nodes, err = f.Traverse(ctx, customer.ID, nil, "outgoing", 1, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, order.ID, nodes[0].ID)

	// incoming follows inverse edges only
	nodes, err = f.Traverse(ctx, customer.ID, nil, "incoming", 1, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, supplier.ID, nodes[0].ID)

	// relation filter
	nodes, err = f.Traverse(ctx, customer.ID, []string{"placed"}, "both", 2, 0)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, order.ID, nodes[0].ID)

	// both directions at depth 1
	nodes, err = f.Traverse(ctx, customer.ID, nil, "both", 1, 0)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	// limit caps the result set
	nodes, err = f.Traverse(ctx, customer.ID, nil, "both", 2, 1)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	_, err = f.Traverse(ctx, "missing", nil, "", 0, 0)
	assert.Error(t, err)
}

func TestFabric_Health(t *testing.T) {
	f := newTestFabric(t)
	health := f.Health(context.Background())
	assert.Equal(t, map[string]string{"fabric": "ok"}, health)
}

func TestFabric_DeleteNode_CleansBackReferences(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	a, _ := f.CreateNode(ctx, "customer", "A", nil)
	b, _ := f.CreateNode(ctx, "transaction", "B", nil)
	require.NoError(t, f.ConnectNodes(ctx, a.ID, b.ID, "placed", nil))

	require.NoError(t, f.DeleteNode(ctx, a.ID))

	_, err := f.GetNode(a.ID)
	assert.Error(t, err)

	gotB, err := f.GetNode(b.ID)
	require.NoError(t, err)
	assert.Empty(t, gotB.Connections, "inverse edge should be removed with the node")
}

func TestFabric_QueryNodes(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	_, _ = f.CreateNode(ctx, "product", "Bolt", map[string]any{"category": "fasteners"})
	_, _ = f.CreateNode(ctx, "product", "Nut", map[string]any{"category": "fasteners"})
	_, _ = f.CreateNode(ctx, "product", "Drill", map[string]any{"category": "tools"})
	_, _ = f.CreateNode(ctx, "customer", "Bolt", nil) // same name, different type

	byType := f.QueryNodes(NodeFilter{Type: "product"})
	assert.Len(t, byType, 3)

	byName := f.QueryNodes(NodeFilter{Name: "bolt"})
	assert.Len(t, byName, 2)

	byBoth := f.QueryNodes(NodeFilter{Type: "product", Name: "Bolt"})
	assert.Len(t, byBoth, 1)

	byProp := f.QueryNodes(NodeFilter{Type: "product", Properties: map[string]any{"category": "fasteners"}})
	assert.Len(t, byProp, 2)

	limited := f.QueryNodes(NodeFilter{Type: "product", Limit: 2})
	assert.Len(t, limited, 2)
}

func TestFabric_EmbedWorkerAndSemanticSearch(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t, WithEmbedder(hashEmbed))

	bolt, err := f.CreateNode(ctx, "product", "Steel Bolt M8", map[string]any{"description": "hex head bolt"})
	require.NoError(t, err)
	_, err = f.CreateNode(ctx, "product", "Office Chair", map[string]any{"description": "ergonomic chair"})
	require.NoError(t, err)

	f.FlushEmbeddings()

	stats := f.Stats()
	assert.Equal(t, 2, stats.EmbeddedCount)

	results, err := f.SemanticSearch(ctx, "product: Steel Bolt M8\ndescription: hex head bolt", "product", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, bolt.ID, results[0].ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestFabric_SemanticSearch_NoEmbedder(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t)

	_, _ = f.CreateNode(ctx, "product", "Bolt", nil)

	results, err := f.SemanticSearch(ctx, "bolt", "", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFabric_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	b := bus.NewInMemoryBus()
	f := newTestFabric(t, WithBus(b))

	node, err := f.CreateNode(ctx, "document", "Travel Policy", nil)
	require.NoError(t, err)
	require.NoError(t, f.DeleteNode(ctx, node.ID))

	msgs := b.Messages(bus.TopicEvents)
	require.Len(t, msgs, 2)

	created, err := bus.UnmarshalEvent(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, bus.EventNodeCreated, created.Type)
	assert.Equal(t, "fabric", created.Source)
	assert.Equal(t, node.ID, created.Payload["node_id"])

	deleted, err := bus.UnmarshalEvent(msgs[1])
	require.NoError(t, err)
	assert.Equal(t, bus.EventNodeDeleted, deleted.Type)
}

func TestFabric_ExportImport(t *testing.T) {
	ctx := context.Background()
	f := newTestFabric(t, WithEmbedder(hashEmbed))

	a, _ := f.CreateNode(ctx, "customer", "Acme", map[string]any{"segment": "enterprise"})
	b, _ := f.CreateNode(ctx, "product", "Bolt", nil)
	require.NoError(t, f.ConnectNodes(ctx, a.ID, b.ID, "purchases", nil))
	f.FlushEmbeddings()

	path := filepath.Join(t.TempDir(), "fabric.json")
	require.NoError(t, f.ExportFile(path))

	restored := newTestFabric(t)
	count, err := restored.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := restored.GetNode(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, "enterprise", got.Properties["segment"])
	assert.Equal(t, []string{b.ID}, got.Connections["purchases"])
	assert.NotEmpty(t, got.Embedding, "embeddings survive the round trip")

	stats := restored.Stats()
	assert.Equal(t, 2, stats.NodeCount)
	assert.Equal(t, 1, stats.ConnectionCount)
	assert.Equal(t, map[string]int{"customer": 1, "product": 1}, stats.NodesByType)
}
