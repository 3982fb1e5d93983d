package fabric

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Stats summarizes fabric contents.
type Stats struct {
	NodeCount       int            `json:"node_count"`
	NodesByType     map[string]int `json:"nodes_by_type"`
	ConnectionCount int            `json:"connection_count"`
	EmbeddedCount   int            `json:"embedded_count"`
	PendingEmbeds   int            `json:"pending_embeds"`
}

// Stats returns counts over the current fabric state.
func (f *Fabric) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	stats := Stats{
		NodeCount:   len(f.nodes),
		NodesByType: make(map[string]int, len(f.typeIndex)),
	}
	for t, ids := range f.typeIndex {
		stats.NodesByType[t] = len(ids)
	}
	for _, node := range f.nodes {
		if len(node.Embedding) > 0 {
			stats.EmbeddedCount++
		}
		for _, targets := range node.Connections {
			stats.ConnectionCount += len(targets)
		}
	}
	// forward and inverse edges are stored on both ends
	stats.ConnectionCount /= 2
	if f.embedQueue != nil {
		stats.PendingEmbeds = len(f.embedQueue)
	}
	return stats
}

// snapshot is the export file format.
type snapshot struct {
	ExportedAt time.Time `json:"exported_at"`
	Nodes      []*Node   `json:"nodes"`
}

// ExportFile writes every node, including embeddings and connections, to a
// JSON file.
func (f *Fabric) ExportFile(path string) error {
	f.mu.RLock()
	snap := snapshot{
		ExportedAt: time.Now().UTC(),
		Nodes:      make([]*Node, 0, len(f.nodes)),
	}
	for _, node := range f.nodes {
		snap.Nodes = append(snap.Nodes, node.clone())
	}
	f.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.WithMessage(err, "failed to marshal snapshot")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WithMessage(err, "failed to write snapshot file")
	}
	return nil
}

// ImportFile loads nodes from a snapshot file, replacing nodes with the same
// ID. Nodes without an embedding are queued for the worker.
func (f *Fabric) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.WithMessage(err, "failed to read snapshot file")
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, errors.WithMessage(err, "failed to parse snapshot file")
	}

	f.mu.Lock()
	for _, node := range snap.Nodes {
		if node.ID == "" || node.Type == "" {
			continue
		}
		if node.Connections == nil {
			node.Connections = make(map[string][]string)
		}
		if existing, ok := f.nodes[node.ID]; ok {
			f.unindexNode(existing)
		}
		f.nodes[node.ID] = node
		f.indexNode(node)
	}
	count := len(snap.Nodes)
	f.mu.Unlock()

	for _, node := range snap.Nodes {
		if len(node.Embedding) == 0 {
			f.enqueueEmbedding(node.ID)
		}
		f.syncNode(ctx, node)
	}

	return count, nil
}
