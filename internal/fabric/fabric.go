package fabric

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/neuroerp/neuroerp/internal/domain"
	"github.com/neuroerp/neuroerp/pkg/bus"
	"github.com/neuroerp/neuroerp/pkg/graph"
	"github.com/neuroerp/neuroerp/pkg/log"
	"github.com/neuroerp/neuroerp/pkg/vector"
)

// inverseSuffix marks the mirrored edge written on the target node so both
// directions of a connection stay traversable.
const inverseSuffix = "_inverse"

// Node is a unit of business state in the fabric. Every entity (document,
// employee, product, customer, transaction) and every derived concept lives
// as a node with typed connections to other nodes.
type Node struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Name        string              `json:"name"`
	Properties  map[string]any      `json:"properties,omitempty"`
	Connections map[string][]string `json:"connections,omitempty"`
	Embedding   []float32           `json:"embedding,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`

	// Score is filled on semantic search results
	Score float64 `json:"score,omitempty"`
}

// clone returns a deep copy so callers can't mutate fabric state
func (n *Node) clone() *Node {
	c := *n
	if n.Properties != nil {
		c.Properties = make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			c.Properties[k] = v
		}
	}
	if n.Connections != nil {
		c.Connections = make(map[string][]string, len(n.Connections))
		for rel, ids := range n.Connections {
			c.Connections[rel] = append([]string(nil), ids...)
		}
	}
	if n.Embedding != nil {
		c.Embedding = append([]float32(nil), n.Embedding...)
	}
	return &c
}

// text renders the node for embedding generation
func (n *Node) text() string {
	var sb strings.Builder
	sb.WriteString(n.Type)
	sb.WriteString(": ")
	sb.WriteString(n.Name)
	if len(n.Properties) > 0 {
		keys := make([]string, 0, len(n.Properties))
		for k := range n.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := n.Properties[k].(type) {
			case string:
				if v != "" {
					sb.WriteString("\n")
					sb.WriteString(k)
					sb.WriteString(": ")
					sb.WriteString(v)
				}
			}
		}
	}
	return sb.String()
}

// EmbedFunc generates an embedding vector for a text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Config holds fabric tuning knobs.
type Config struct {
	// EmbedBatchSize is the number of queued nodes embedded per worker cycle
	EmbedBatchSize int `toml:"embed_batch_size"`
	// EmbedQueueSize caps the pending embedding queue; overflow is dropped
	EmbedQueueSize int `toml:"embed_queue_size"`
	// EmbedInterval is the worker flush interval as a Go duration string,
	// default 2s
	EmbedInterval string `toml:"embed_interval"`
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 16
	}
	if c.EmbedQueueSize <= 0 {
		c.EmbedQueueSize = 1024
	}
	if c.EmbedInterval != "" {
		if _, err := time.ParseDuration(c.EmbedInterval); err != nil {
			return errors.New("embed_interval is invalid: " + err.Error())
		}
	}
	return nil
}

// Option configures optional fabric backends.
type Option func(*Fabric)

// WithVectorStore mirrors nodes into the vector index for k-NN search.
func WithVectorStore(store vector.Store) Option {
	return func(f *Fabric) { f.store = store }
}

// WithGraph mirrors nodes and connections into Neo4j.
func WithGraph(g *graph.Neo4jStore) Option {
	return func(f *Fabric) { f.graph = g }
}

// WithBus publishes node lifecycle events.
func WithBus(b bus.EventBus) Option {
	return func(f *Fabric) { f.bus = b }
}

// WithEmbedder enables background embedding generation.
func WithEmbedder(fn EmbedFunc) Option {
	return func(f *Fabric) { f.embed = fn }
}

// Fabric is the in-memory node engine. All reads and writes go through the
// RWMutex; vector, graph and bus mirrors are best-effort side effects.
type Fabric struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	cfg        Config
	embedEvery time.Duration

	nodes     map[string]*Node
	typeIndex map[string]map[string]struct{}
	nameIndex map[string]map[string]struct{}

	store vector.Store
	graph *graph.Neo4jStore
	bus   bus.EventBus
	embed EmbedFunc

	embedQueue chan string
	workerStop chan struct{}
	workerDone chan struct{}
}

// New creates a fabric with the given config and optional backends.
func New(cfg Config, opts ...Option) *Fabric {
	_ = cfg.Validate()

	embedEvery := 2 * time.Second
	if cfg.EmbedInterval != "" {
		if d, err := time.ParseDuration(cfg.EmbedInterval); err == nil && d > 0 {
			embedEvery = d
		}
	}

	f := &Fabric{
		logger:     log.Logger("fabric"),
		cfg:        cfg,
		embedEvery: embedEvery,
		nodes:      make(map[string]*Node),
		typeIndex:  make(map[string]map[string]struct{}),
		nameIndex:  make(map[string]map[string]struct{}),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.embed != nil {
		f.embedQueue = make(chan string, cfg.EmbedQueueSize)
		f.workerStop = make(chan struct{})
		f.workerDone = make(chan struct{})
		go f.embedWorker()
	}

	return f
}

// Close stops the embedding worker.
func (f *Fabric) Close() {
	if f.workerStop != nil {
		close(f.workerStop)
		<-f.workerDone
	}
}

// ============================================================================
// Node CRUD
// ============================================================================

// CreateNode adds a node to the fabric and queues it for embedding.
func (f *Fabric) CreateNode(ctx context.Context, nodeType, name string, properties map[string]any) (*Node, error) {
	if nodeType == "" {
		return nil, errors.New("node type is required")
	}
	if name == "" {
		return nil, errors.New("node name is required")
	}

	now := time.Now().UTC()
	node := &Node{
		ID:          uuid.New().String(),
		Type:        nodeType,
		Name:        name,
		Properties:  properties,
		Connections: make(map[string][]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	f.mu.Lock()
	f.nodes[node.ID] = node
	f.indexNode(node)
	f.mu.Unlock()

	f.enqueueEmbedding(node.ID)
	f.syncNode(ctx, node)
	f.publish(bus.EventNodeCreated, map[string]any{
		"node_id": node.ID, "node_type": node.Type, "name": node.Name,
	})

	f.logger.Debug("node created", "id", node.ID, "type", node.Type)
	return node.clone(), nil
}

// GetNode returns a copy of a node by ID.
func (f *Fabric) GetNode(id string) (*Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	node, ok := f.nodes[id]
	if !ok {
		return nil, errors.Errorf("node not found: %s", id)
	}
	return node.clone(), nil
}

// UpdateNode merges properties into a node and re-queues it for embedding.
// A nil value removes the property.
func (f *Fabric) UpdateNode(ctx context.Context, id string, properties map[string]any) (*Node, error) {
	f.mu.Lock()
	node, ok := f.nodes[id]
	if !ok {
		f.mu.Unlock()
		return nil, errors.Errorf("node not found: %s", id)
	}

	if node.Properties == nil {
		node.Properties = make(map[string]any)
	}
	for k, v := range properties {
		if v == nil {
			delete(node.Properties, k)
			continue
		}
		node.Properties[k] = v
	}
	node.UpdatedAt = time.Now().UTC()
	node.Embedding = nil // stale after property change
	updated := node.clone()
	f.mu.Unlock()

	f.enqueueEmbedding(id)
	f.syncNode(ctx, updated)
	f.publish(bus.EventNodeUpdated, map[string]any{"node_id": id, "node_type": updated.Type})

	return updated, nil
}

// MutateNode applies fn to a node's properties while holding the fabric
// lock, so read-modify-write updates (counters, stock levels) are atomic.
// An error from fn aborts the mutation and leaves the node untouched.
func (f *Fabric) MutateNode(ctx context.Context, id string, fn func(properties map[string]any) error) (*Node, error) {
	f.mu.Lock()
	node, ok := f.nodes[id]
	if !ok {
		f.mu.Unlock()
		return nil, errors.Errorf("node not found: %s", id)
	}

	if node.Properties == nil {
		node.Properties = make(map[string]any)
	}
	if err := fn(node.Properties); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	node.UpdatedAt = time.Now().UTC()
	node.Embedding = nil // stale after property change
	updated := node.clone()
	f.mu.Unlock()

	f.enqueueEmbedding(id)
	f.syncNode(ctx, updated)
	f.publish(bus.EventNodeUpdated, map[string]any{"node_id": id, "node_type": updated.Type})

	return updated, nil
}

// DeleteNode removes a node and every connection referencing it.
func (f *Fabric) DeleteNode(ctx context.Context, id string) error {
	f.mu.Lock()
	node, ok := f.nodes[id]
	if !ok {
		f.mu.Unlock()
		return errors.Errorf("node not found: %s", id)
	}

	// drop back-references from connected nodes
	for rel, targets := range node.Connections {
		peerRel := inverseOf(rel)
		for _, targetID := range targets {
			if peer, ok := f.nodes[targetID]; ok {
				peer.Connections[peerRel] = removeID(peer.Connections[peerRel], id)
				if len(peer.Connections[peerRel]) == 0 {
					delete(peer.Connections, peerRel)
				}
			}
		}
	}

	f.unindexNode(node)
	delete(f.nodes, id)
	nodeType := node.Type
	f.mu.Unlock()

	if f.store != nil {
		if err := f.store.Delete(ctx, id); err != nil {
			f.logger.Warn("vector delete failed", "id", id, "error", err)
		}
	}
	if f.graph != nil {
		if err := f.graph.DeleteNode(ctx, nodeType, id); err != nil {
			f.logger.Warn("graph delete failed", "id", id, "error", err)
		}
	}
	f.publish(bus.EventNodeDeleted, map[string]any{"node_id": id, "node_type": nodeType})

	return nil
}

// ============================================================================
// Connections
// ============================================================================

// ConnectNodes links source to target with a typed relation. The target gets
// the mirrored "<relation>_inverse" edge so traversal works both ways.
func (f *Fabric) ConnectNodes(ctx context.Context, sourceID, targetID, relType string, properties map[string]any) error {
	if relType == "" {
		return errors.New("relation type is required")
	}
	if sourceID == targetID {
		return errors.New("cannot connect a node to itself")
	}

	f.mu.Lock()
	source, ok := f.nodes[sourceID]
	if !ok {
		f.mu.Unlock()
		return errors.Errorf("source node not found: %s", sourceID)
	}
	target, ok := f.nodes[targetID]
	if !ok {
		f.mu.Unlock()
		return errors.Errorf("target node not found: %s", targetID)
	}

	if containsID(source.Connections[relType], targetID) {
		f.mu.Unlock()
		return nil // already connected
	}

	source.Connections[relType] = append(source.Connections[relType], targetID)
	inverse := relType + inverseSuffix
	target.Connections[inverse] = append(target.Connections[inverse], sourceID)
	now := time.Now().UTC()
	source.UpdatedAt = now
	target.UpdatedAt = now
	f.mu.Unlock()

	if f.graph != nil {
		if err := f.graph.SyncConnection(ctx, sourceID, targetID, relType, properties); err != nil {
			f.logger.Warn("graph connection sync failed", "error", err)
		}
	}
	f.publish(bus.EventNodesConnected, map[string]any{
		"source_id": sourceID, "target_id": targetID, "relation_type": relType,
	})

	return nil
}

// DisconnectNodes removes a typed relation between two nodes.
func (f *Fabric) DisconnectNodes(ctx context.Context, sourceID, targetID, relType string) error {
	f.mu.Lock()
	source, ok := f.nodes[sourceID]
	if !ok {
		f.mu.Unlock()
		return errors.Errorf("source node not found: %s", sourceID)
	}

	if !containsID(source.Connections[relType], targetID) {
		f.mu.Unlock()
		return errors.Errorf("no %s connection from %s to %s", relType, sourceID, targetID)
	}

	source.Connections[relType] = removeID(source.Connections[relType], targetID)
	if len(source.Connections[relType]) == 0 {
		delete(source.Connections, relType)
	}

	if target, ok := f.nodes[targetID]; ok {
		inverse := relType + inverseSuffix
		target.Connections[inverse] = removeID(target.Connections[inverse], sourceID)
		if len(target.Connections[inverse]) == 0 {
			delete(target.Connections, inverse)
		}
	}
	f.mu.Unlock()

	if f.graph != nil {
		if err := f.graph.DeleteConnection(ctx, sourceID, targetID, relType); err != nil {
			f.logger.Warn("graph disconnect sync failed", "error", err)
		}
	}
	f.publish(bus.EventNodesDisconnected, map[string]any{
		"source_id": sourceID, "target_id": targetID, "relation_type": relType,
	})

	return nil
}

// ConnectedNodes returns nodes connected to the given node. An empty relType
// follows every relation, including inverse edges.
func (f *Fabric) ConnectedNodes(id, relType string) ([]*Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	node, ok := f.nodes[id]
	if !ok {
		return nil, errors.Errorf("node not found: %s", id)
	}

	var ids []string
	if relType != "" {
		ids = node.Connections[relType]
	} else {
		seen := make(map[string]struct{})
		for _, targets := range node.Connections {
			for _, t := range targets {
				if _, ok := seen[t]; !ok {
					seen[t] = struct{}{}
					ids = append(ids, t)
				}
			}
		}
	}

	result := make([]*Node, 0, len(ids))
	for _, targetID := range ids {
		if target, ok := f.nodes[targetID]; ok {
			result = append(result, target.clone())
		}
	}
	return result, nil
}

// Traverse returns nodes reachable from a starting node within maxDepth hops.
// Direction is "outgoing", "incoming" or "both"; relTypes filters by relation
// name, empty means every relation. With a graph store the walk runs in
// Neo4j, otherwise it walks the in-memory connections.
func (f *Fabric) Traverse(ctx context.Context, startID string, relTypes []string, direction string, maxDepth, limit int) ([]*Node, error) {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if limit <= 0 {
		limit = 100
	}
	if direction == "" {
		direction = "outgoing"
	}

	if f.graph != nil {
		rows, err := f.graph.Traverse(ctx, startID, relTypes, direction, maxDepth, limit)
		if err == nil {
			return f.resolveGraphRows(rows), nil
		}
		f.logger.Warn("graph traversal failed, walking in-memory connections", "error", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	start, ok := f.nodes[startID]
	if !ok {
		return nil, errors.Errorf("node not found: %s", startID)
	}

	wanted := make(map[string]struct{}, len(relTypes))
	for _, rt := range relTypes {
		wanted[rt] = struct{}{}
	}
	follow := func(rel string) bool {
		isInverse := strings.HasSuffix(rel, inverseSuffix)
		switch direction {
		case "incoming":
			if !isInverse {
				return false
			}
		case "both":
		default: // outgoing
			if isInverse {
				return false
			}
		}
		if len(wanted) == 0 {
			return true
		}
		_, ok := wanted[strings.TrimSuffix(rel, inverseSuffix)]
		return ok
	}

	visited := map[string]struct{}{startID: {}}
	frontier := []*Node{start}
	var results []*Node

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []*Node
		for _, node := range frontier {
			for rel, targets := range node.Connections {
				if !follow(rel) {
					continue
				}
				for _, targetID := range targets {
					if _, seen := visited[targetID]; seen {
						continue
					}
					visited[targetID] = struct{}{}
					target, ok := f.nodes[targetID]
					if !ok {
						continue
					}
					if len(results) < limit {
						results = append(results, target.clone())
					}
					next = append(next, target)
				}
			}
		}
		frontier = next
	}

	return results, nil
}

// resolveGraphRows maps Neo4j traversal rows back onto live fabric nodes
func (f *Fabric) resolveGraphRows(rows []map[string]any) []*Node {
	f.mu.RLock()
	defer f.mu.RUnlock()

	results := make([]*Node, 0, len(rows))
	for _, row := range rows {
		id, _ := row["node_id"].(string)
		if node, ok := f.nodes[id]; ok {
			results = append(results, node.clone())
		}
	}
	return results
}

// Health reports the status of the fabric and its optional backends.
func (f *Fabric) Health(ctx context.Context) map[string]string {
	health := map[string]string{"fabric": "ok"}
	if f.graph != nil {
		if err := f.graph.Health(ctx); err != nil {
			health["neo4j"] = err.Error()
		} else {
			health["neo4j"] = "ok"
		}
	}
	return health
}

// ============================================================================
// Internal helpers
// ============================================================================

func (f *Fabric) indexNode(node *Node) {
	if f.typeIndex[node.Type] == nil {
		f.typeIndex[node.Type] = make(map[string]struct{})
	}
	f.typeIndex[node.Type][node.ID] = struct{}{}

	key := strings.ToLower(node.Name)
	if f.nameIndex[key] == nil {
		f.nameIndex[key] = make(map[string]struct{})
	}
	f.nameIndex[key][node.ID] = struct{}{}
}

func (f *Fabric) unindexNode(node *Node) {
	delete(f.typeIndex[node.Type], node.ID)
	if len(f.typeIndex[node.Type]) == 0 {
		delete(f.typeIndex, node.Type)
	}
	key := strings.ToLower(node.Name)
	delete(f.nameIndex[key], node.ID)
	if len(f.nameIndex[key]) == 0 {
		delete(f.nameIndex, key)
	}
}

// syncNode mirrors a node into the vector index and graph
func (f *Fabric) syncNode(ctx context.Context, node *Node) {
	if f.store != nil {
		doc, err := domain.ToDoc(node)
		if err == nil {
			doc["kind"] = node.Type
			if err := f.store.Store(ctx, node.ID, doc); err != nil {
				f.logger.Warn("vector sync failed", "id", node.ID, "error", err)
			}
		}
	}
	if f.graph != nil {
		props := map[string]any{"name": node.Name}
		for k, v := range node.Properties {
			props[k] = v
		}
		if err := f.graph.SyncNode(ctx, node.Type, node.ID, props); err != nil {
			f.logger.Warn("graph sync failed", "id", node.ID, "error", err)
		}
	}
}

func (f *Fabric) publish(eventType string, payload map[string]any) {
	if f.bus == nil {
		return
	}
	if err := bus.PublishEvent(f.bus, bus.TopicEvents, bus.NewEvent(eventType, "fabric", payload)); err != nil {
		f.logger.Warn("event publish failed", "type", eventType, "error", err)
	}
}

func inverseOf(rel string) string {
	if strings.HasSuffix(rel, inverseSuffix) {
		return strings.TrimSuffix(rel, inverseSuffix)
	}
	return rel + inverseSuffix
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	result := ids[:0]
	for _, v := range ids {
		if v != id {
			result = append(result, v)
		}
	}
	return result
}
