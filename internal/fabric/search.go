package fabric

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/neuroerp/neuroerp/pkg/vector"
)

// NodeFilter narrows QueryNodes results. All set fields must match.
type NodeFilter struct {
	Type       string
	Name       string // case-insensitive exact match
	Properties map[string]any
	Limit      int
}

// QueryNodes returns nodes matching the filter, using the type and name
// indexes where possible.
func (f *Fabric) QueryNodes(filter NodeFilter) []*Node {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	// pick the narrowest candidate set
	var candidates map[string]struct{}
	switch {
	case filter.Name != "":
		candidates = f.nameIndex[strings.ToLower(filter.Name)]
	case filter.Type != "":
		candidates = f.typeIndex[filter.Type]
	}

	match := func(node *Node) bool {
		if filter.Type != "" && node.Type != filter.Type {
			return false
		}
		if filter.Name != "" && !strings.EqualFold(node.Name, filter.Name) {
			return false
		}
		for k, v := range filter.Properties {
			if node.Properties[k] != v {
				return false
			}
		}
		return true
	}

	var results []*Node
	if candidates != nil {
		for id := range candidates {
			if node := f.nodes[id]; node != nil && match(node) {
				results = append(results, node.clone())
			}
		}
	} else {
		for _, node := range f.nodes {
			if match(node) {
				results = append(results, node.clone())
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// SemanticSearch finds nodes similar to the query text. With a vector store
// it runs a k-NN search; otherwise it falls back to in-memory cosine
// similarity over embedded nodes. Without an embedder the result is empty.
func (f *Fabric) SemanticSearch(ctx context.Context, query, nodeType string, limit int) ([]*Node, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}
	if limit <= 0 {
		limit = 10
	}
	if f.embed == nil {
		return nil, nil
	}

	embedding, err := f.embed(ctx, query)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to embed query")
	}

	if f.store != nil {
		return f.searchStore(ctx, embedding, query, nodeType, limit)
	}
	return f.searchLocal(embedding, nodeType, limit), nil
}

// searchStore runs hybrid k-NN + text search against the vector index
func (f *Fabric) searchStore(ctx context.Context, embedding []float32, query, nodeType string, limit int) ([]*Node, error) {
	sq := vector.SearchQuery{
		Embedding:    embedding,
		TextQuery:    query,
		HybridSearch: true,
		Limit:        limit,
	}
	if nodeType != "" {
		sq.Filters = map[string]any{"kind": nodeType}
	}

	docs, err := f.store.Search(ctx, sq)
	if err != nil {
		return nil, errors.WithMessage(err, "vector search failed")
	}

	results := make([]*Node, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc["id"].(string)
		if id == "" {
			continue
		}
		// resolve against live fabric state, index may lag
		f.mu.RLock()
		node, ok := f.nodes[id]
		f.mu.RUnlock()
		if !ok {
			continue
		}
		c := node.clone()
		if score, ok := doc["_score"].(float64); ok {
			c.Score = score
		}
		results = append(results, c)
	}
	return results, nil
}

// searchLocal ranks embedded nodes by cosine similarity
func (f *Fabric) searchLocal(embedding []float32, nodeType string, limit int) []*Node {
	f.mu.RLock()
	var scored []*Node
	for _, node := range f.nodes {
		if nodeType != "" && node.Type != nodeType {
			continue
		}
		if len(node.Embedding) == 0 {
			continue
		}
		score := cosineSimilarity(embedding, node.Embedding)
		if score <= 0 {
			continue
		}
		c := node.clone()
		c.Score = score
		scored = append(scored, c)
	}
	f.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(vec1, vec2 []float32) float64 {
	if len(vec1) != len(vec2) || len(vec1) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range vec1 {
		dotProduct += float64(vec1[i]) * float64(vec2[i])
		normA += float64(vec1[i]) * float64(vec1[i])
		normB += float64(vec2[i]) * float64(vec2[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
