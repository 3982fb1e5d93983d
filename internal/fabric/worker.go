package fabric

import (
	"context"
	"time"
)

// enqueueEmbedding queues a node for background embedding. When the queue is
// full the node is skipped; it will be re-queued on its next update.
func (f *Fabric) enqueueEmbedding(id string) {
	if f.embedQueue == nil {
		return
	}
	select {
	case f.embedQueue <- id:
	default:
		f.logger.Warn("embedding queue full, dropping node", "id", id)
	}
}

// embedWorker drains the queue in batches and generates embeddings. Failed
// nodes go back on the queue so transient model-server errors self-heal.
func (f *Fabric) embedWorker() {
	defer close(f.workerDone)

	ticker := time.NewTicker(f.embedEvery)
	defer ticker.Stop()

	for {
		select {
		case <-f.workerStop:
			f.processBatch(f.drainBatch())
			return
		case <-ticker.C:
			f.processBatch(f.drainBatch())
		}
	}
}

// drainBatch pulls up to EmbedBatchSize pending IDs without blocking
func (f *Fabric) drainBatch() []string {
	batch := make([]string, 0, f.cfg.EmbedBatchSize)
	for len(batch) < f.cfg.EmbedBatchSize {
		select {
		case id := <-f.embedQueue:
			batch = append(batch, id)
		default:
			return batch
		}
	}
	return batch
}

func (f *Fabric) processBatch(batch []string) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range batch {
		f.mu.RLock()
		node, ok := f.nodes[id]
		var text string
		if ok {
			text = node.text()
		}
		f.mu.RUnlock()

		if !ok {
			continue // deleted while queued
		}

		embedding, err := f.embed(ctx, text)
		if err != nil {
			f.logger.Warn("embedding failed, requeueing", "id", id, "error", err)
			f.enqueueEmbedding(id)
			continue
		}

		f.mu.Lock()
		node, ok = f.nodes[id]
		if ok {
			node.Embedding = embedding
		}
		var updated *Node
		if ok {
			updated = node.clone()
		}
		f.mu.Unlock()

		if updated != nil {
			f.syncNode(ctx, updated)
		}
	}

	f.logger.Debug("embedding batch processed", "count", len(batch))
}

// FlushEmbeddings synchronously embeds everything currently queued. Used by
// import and in tests where waiting on the ticker would be flaky.
func (f *Fabric) FlushEmbeddings() {
	if f.embedQueue == nil {
		return
	}
	// process only what is queued now, failures requeued by processBatch are
	// left for the background worker
	pending := len(f.embedQueue)
	for pending > 0 {
		batch := f.drainBatch()
		if len(batch) == 0 {
			return
		}
		f.processBatch(batch)
		pending -= len(batch)
	}
}
