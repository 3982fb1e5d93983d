package graph

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeo4jConfig_Validate(t *testing.T) {
	ok := Neo4jConfig{URI: "bolt://localhost:7687", Database: "neo4j"}
	require.NoError(t, ok.Validate())

	noURI := Neo4jConfig{Database: "neo4j"}
	assert.ErrorContains(t, noURI.Validate(), "uri")

	noDB := Neo4jConfig{URI: "bolt://localhost:7687"}
	assert.ErrorContains(t, noDB.Validate(), "database")
}

func TestTraversalCypher(t *testing.T) {
	outgoing := traversalCypher(nil, "outgoing", 2)
	assert.Contains(t, outgoing, "-[*1..2]->(related)")

	incoming := traversalCypher(nil, "incoming", 3)
	assert.Contains(t, incoming, "<-[*1..3]-(related)")

	both := traversalCypher(nil, "both", 1)
	assert.Contains(t, both, ")-[*1..1]-(related)")
	assert.NotContains(t, both, "->")
	assert.NotContains(t, both, "<-")

	typed := traversalCypher([]string{"placed", "billed_as"}, "outgoing", 2)
	assert.Contains(t, typed, "[:placed|billed_as*1..2]")
}

func TestConvertValue(t *testing.T) {
	s := &Neo4jStore{}

	node := neo4j.Node{Props: map[string]any{"node_id": "n1", "name": "Acme"}}
	assert.Equal(t, node.Props, s.convertValue(node))

	rel := neo4j.Relationship{Props: map[string]any{"since": "2024"}}
	assert.Equal(t, rel.Props, s.convertValue(rel))

	path := neo4j.Path{
		Nodes:         []neo4j.Node{{Props: map[string]any{"node_id": "n1"}}},
		Relationships: []neo4j.Relationship{{Props: map[string]any{}}},
	}
	converted := path.Nodes[0].Props
	got := s.convertValue(path).(map[string]any)
	assert.Equal(t, []map[string]any{converted}, got["nodes"])

	assert.Equal(t, 42, s.convertValue(42))
	assert.Equal(t, "plain", s.convertValue("plain"))
}
