package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Package-level instance
var neo4jInstance *Neo4jStore

// Init initializes the graph package with config.
func Init(cfg Neo4jConfig) error {
	if !cfg.Enabled {
		return nil
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	neo4jInstance = store
	return nil
}

// NewStore returns the Neo4jStore instance.
func NewStore() *Neo4jStore {
	return neo4jInstance
}

// Close closes the Neo4jStore connection.
func Close(ctx context.Context) error {
	if neo4jInstance != nil {
		return neo4jInstance.Close(ctx)
	}
	return nil
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	Enabled  bool   `toml:"enabled"`
	URI      string `toml:"uri"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Database string `toml:"database"`
}

// Validate checks Neo4j configuration.
func (c *Neo4jConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// Neo4jStore mirrors fabric nodes and their connections into Neo4j so that
// multi-hop relationship queries don't have to walk the in-memory fabric.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// newStore creates a new Neo4j graph store
func newStore(cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	return &Neo4jStore{
		driver:   driver,
		database: cfg.Database,
	}, nil
}

// ============================================================================
// Generic Query Methods
// ============================================================================

// Run executes a Cypher query and returns results as []map[string]any
func (s *Neo4jStore) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("cypher execution failed: %w", err)
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect results: %w", err)
	}

	results := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row := make(map[string]any)
		for _, key := range record.Keys {
			val, _ := record.Get(key)
			row[key] = s.convertValue(val)
		}
		results = append(results, row)
	}

	return results, nil
}

// RunWrite executes a write Cypher query in a transaction
func (s *Neo4jStore) RunWrite(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, params)
		return nil, err
	})

	return err
}

// ============================================================================
// Fabric Node Mirroring
// ============================================================================

// SyncNode creates or updates the graph mirror of a fabric node.
// The node type becomes the label and the fabric node ID is the match key.
func (s *Neo4jStore) SyncNode(ctx context.Context, nodeType, nodeID string, properties map[string]any) error {
	if nodeType == "" {
		return fmt.Errorf("node type is required")
	}

	props := make(map[string]any, len(properties)+1)
	for k, v := range properties {
		// Neo4j properties must be primitives or arrays of primitives
		switch v.(type) {
		case map[string]any, []map[string]any:
			continue
		}
		props[k] = v
	}
	props["node_id"] = nodeID

	cypher := fmt.Sprintf(`
		MERGE (n:%s {node_id: $node_id})
		SET n += $props
	`, nodeType)

	return s.RunWrite(ctx, cypher, map[string]any{
		"node_id": nodeID,
		"props":   props,
	})
}

// DeleteNode removes a mirrored node and all its relationships
func (s *Neo4jStore) DeleteNode(ctx context.Context, nodeType, nodeID string) error {
	cypher := fmt.Sprintf(`
		MATCH (n:%s {node_id: $node_id})
		DETACH DELETE n
	`, nodeType)

	return s.RunWrite(ctx, cypher, map[string]any{"node_id": nodeID})
}

// ============================================================================
// Connection Mirroring
// ============================================================================

// SyncConnection mirrors a fabric connection as a typed relationship
func (s *Neo4jStore) SyncConnection(ctx context.Context, fromID, toID, relType string, properties map[string]any) error {
	if relType == "" {
		return fmt.Errorf("relationship type is required")
	}

	cypher := fmt.Sprintf(`
		MATCH (from {node_id: $from_id})
		MATCH (to {node_id: $to_id})
		MERGE (from)-[r:%s]->(to)
		SET r += $props
	`, relType)

	props := properties
	if props == nil {
		props = map[string]any{}
	}

	return s.RunWrite(ctx, cypher, map[string]any{
		"from_id": fromID,
		"to_id":   toID,
		"props":   props,
	})
}

// DeleteConnection removes a mirrored relationship between two nodes
func (s *Neo4jStore) DeleteConnection(ctx context.Context, fromID, toID, relType string) error {
	cypher := fmt.Sprintf(`
		MATCH (from {node_id: $from_id})-[r:%s]->(to {node_id: $to_id})
		DELETE r
	`, relType)

	return s.RunWrite(ctx, cypher, map[string]any{
		"from_id": fromID,
		"to_id":   toID,
	})
}

// ============================================================================
// Graph Traversal
// ============================================================================

// Traverse walks relationships from a starting node up to maxDepth hops.
// Direction is "outgoing", "incoming" or "both".
func (s *Neo4jStore) Traverse(ctx context.Context,
	startID string, relTypes []string, direction string,
	maxDepth, limit int) ([]map[string]any, error) {

	if maxDepth <= 0 {
		maxDepth = 2
	}
	if limit <= 0 {
		limit = 100
	}

	results, err := s.Run(ctx, traversalCypher(relTypes, direction, maxDepth), map[string]any{
		"start_id": startID,
		"limit":    limit,
	})
	if err != nil {
		return nil, err
	}

	nodes := make([]map[string]any, 0, len(results))
	for _, row := range results {
		if node, ok := row["related"].(map[string]any); ok {
			nodes = append(nodes, node)
		}
	}

	return nodes, nil
}

// traversalCypher builds the variable-length match for a traversal. Relation
// types become a union pattern and the direction picks the arrow shape.
func traversalCypher(relTypes []string, direction string, maxDepth int) string {
	relPattern := ""
	if len(relTypes) > 0 {
		relPattern = ":" + relTypes[0]
		for _, rt := range relTypes[1:] {
			relPattern += "|" + rt
		}
	}

	leftArrow, rightArrow := "-", "->"
	if direction == "incoming" {
		leftArrow, rightArrow = "<-", "-"
	} else if direction == "both" {
		leftArrow, rightArrow = "-", "-"
	}

	return fmt.Sprintf(`
		MATCH (start {node_id: $start_id})%s[%s*1..%d]%s(related)
		RETURN DISTINCT related
		LIMIT $limit
	`, leftArrow, relPattern, maxDepth, rightArrow)
}

// ============================================================================
// Utility Methods
// ============================================================================

// Health checks Neo4j connection
func (s *Neo4jStore) Health(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the Neo4j connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// convertValue converts Neo4j types to Go types
func (s *Neo4jStore) convertValue(val any) any {
	switch v := val.(type) {
	case neo4j.Node:
		return v.Props
	case neo4j.Relationship:
		return v.Props
	case neo4j.Path:
		nodes := make([]map[string]any, len(v.Nodes))
		rels := make([]map[string]any, len(v.Relationships))
		for i, node := range v.Nodes {
			nodes[i] = node.Props
		}
		for i, rel := range v.Relationships {
			rels[i] = rel.Props
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	default:
		return val
	}
}
