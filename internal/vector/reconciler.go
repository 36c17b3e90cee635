package vector

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/storage"
)

// Run keeps the index in step with the tool catalog until ctx is cancelled.
// Catalog updates are applied incrementally; a gap in the update stream
// (dropped by a slow subscriber) triggers a full resync. Tools whose
// embedding failed are retried periodically.
func (ix *Index) Run(ctx context.Context) {
	updates := ix.cat.Subscribe(ctx)
	ix.reconcileFull(ctx)

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			ix.applyUpdate(ctx, update)
		case <-ticker.C:
			ix.retryPending(ctx)
		}
	}
}

// applyUpdate folds one catalog diff into the index.
func (ix *Index) applyUpdate(ctx context.Context, update catalog.Update) {
	ix.mu.RLock()
	last := ix.lastVersion
	ix.mu.RUnlock()

	if update.OldVersion != last {
		ix.logger.Info("catalog updates missed, resyncing vector index",
			zap.Uint64("applied", last),
			zap.Uint64("update_from", update.OldVersion))
		ix.reconcileFull(ctx)
		return
	}

	for _, d := range update.Diff.Removed {
		ix.DeleteTool(d.UpstreamName, d.ToolName)
	}

	var upserts []catalog.Descriptor
	for _, d := range update.Diff.Added {
		if d.Enabled {
			upserts = append(upserts, d)
		}
	}
	for _, d := range update.Diff.Changed {
		if d.Enabled {
			upserts = append(upserts, d)
		} else {
			// Keep the stale row for a cheap re-enable, but stop retrying it.
			ix.clearPendingFor(d.UpstreamName, d.ToolName)
		}
	}

	if ix.upsertDescriptors(ctx, upserts) {
		ix.rebuild(ctx)
		return
	}
	ix.setLastVersion(update.NewVersion)
}

// reconcileFull aligns the index with a fresh catalog snapshot: rows for
// vanished tools are dropped and every enabled tool is (re-)embedded if its
// text changed.
func (ix *Index) reconcileFull(ctx context.Context) {
	version, descs := ix.cat.Snapshot()

	ix.pruneMissing(descs)

	var enabled []catalog.Descriptor
	for _, d := range descs {
		if d.Enabled {
			enabled = append(enabled, d)
		}
	}
	if ix.upsertDescriptors(ctx, enabled) {
		ix.logger.Warn("embedding dimension changed, rebuilding vector index")
		ix.clearAll()
		if ix.upsertDescriptors(ctx, enabled) {
			ix.logger.Error("embedder returned inconsistent dimensions within one pass")
		}
	}
	ix.setLastVersion(version)
}

// rebuild wipes the index and re-embeds the current catalog.
func (ix *Index) rebuild(ctx context.Context) {
	ix.logger.Warn("embedding dimension changed, rebuilding vector index")
	ix.clearAll()
	ix.reconcileFull(ctx)
}

// pruneMissing drops rows whose (upstream, tool) no longer exists in the
// catalog at all. Rows for disabled tools stay: they are filtered from
// search results and need no re-embedding when the tool is re-enabled.
func (ix *Index) pruneMissing(descs []catalog.Descriptor) {
	present := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		present[rowKey(d.UpstreamName, d.ToolName)] = struct{}{}
	}

	type pair struct{ upstream, tool string }
	var gone []pair

	ix.mu.Lock()
	for key := range ix.rows {
		if _, ok := present[key]; !ok {
			upstream, tool := splitKey(key)
			gone = append(gone, pair{upstream, tool})
			delete(ix.rows, key)
		}
	}
	for key := range ix.pending {
		if _, ok := present[key]; !ok {
			delete(ix.pending, key)
		}
	}
	ix.mu.Unlock()

	if ix.store == nil {
		return
	}
	for _, p := range gone {
		if err := ix.store.DeleteEmbedding(p.upstream, p.tool); err != nil {
			ix.logger.Warn("failed to delete persisted embedding",
				zap.String("upstream", p.upstream),
				zap.String("tool", p.tool),
				zap.Error(err))
		}
	}
}

// embedItem is one tool queued for embedding.
type embedItem struct {
	key          string
	upstreamName string
	toolName     string
	text         string
}

// upsertDescriptors queues every descriptor whose text differs from the
// stored row and embeds them in batches. Unchanged tools cost nothing.
// Returns true when a resulting vector did not match the index dimension.
func (ix *Index) upsertDescriptors(ctx context.Context, descs []catalog.Descriptor) bool {
	var work []embedItem

	ix.mu.Lock()
	for _, d := range descs {
		key := rowKey(d.UpstreamName, d.ToolName)
		text := d.EmbeddingText()
		if r, ok := ix.rows[key]; ok && r.text == text {
			delete(ix.pending, key)
			continue
		}
		ix.pending[key] = text
		work = append(work, embedItem{
			key:          key,
			upstreamName: d.UpstreamName,
			toolName:     d.ToolName,
			text:         text,
		})
	}
	ix.mu.Unlock()

	return ix.embedItems(ctx, work)
}

// retryPending re-attempts tools whose last embedding call failed.
func (ix *Index) retryPending(ctx context.Context) {
	ix.mu.RLock()
	items := make([]embedItem, 0, len(ix.pending))
	for key, text := range ix.pending {
		upstream, tool := splitKey(key)
		items = append(items, embedItem{key: key, upstreamName: upstream, toolName: tool, text: text})
	}
	ix.mu.RUnlock()

	if len(items) == 0 {
		return
	}
	ix.logger.Info("retrying failed embeddings", zap.Int("tools", len(items)))
	if ix.embedItems(ctx, items) {
		ix.rebuild(ctx)
	}
}

// embedItems runs the embedding batches on the worker pool and waits for
// them. A failed batch leaves its items pending and their stale rows
// serving; the next retry tick picks them up.
func (ix *Index) embedItems(ctx context.Context, items []embedItem) bool {
	if len(items) == 0 {
		return false
	}

	var needsRebuild atomic.Bool
	var tasks []pond.Task

	for start := 0; start < len(items); start += embedBatchSize {
		chunk := items[start:min(start+embedBatchSize, len(items))]
		tasks = append(tasks, ix.pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			texts := make([]string, len(chunk))
			for i, item := range chunk {
				texts[i] = ix.trunc.Truncate(item.text)
			}
			vecs, err := ix.embedder.Embed(ctx, texts)
			if err != nil {
				ix.logger.Warn("embedding batch failed, keeping stale rows",
					zap.Int("tools", len(chunk)),
					zap.Error(err))
				return
			}
			if len(vecs) != len(chunk) {
				ix.logger.Warn("embedder returned wrong vector count",
					zap.Int("want", len(chunk)),
					zap.Int("got", len(vecs)))
				return
			}
			if ix.applyVectors(chunk, vecs) {
				needsRebuild.Store(true)
			}
		}))
	}
	for _, task := range tasks {
		_ = task.Wait()
	}
	return needsRebuild.Load()
}

// applyVectors installs freshly computed vectors. The first vector ever seen
// fixes the index dimension; later mismatches request a rebuild instead of
// mixing spaces.
func (ix *Index) applyVectors(items []embedItem, vecs [][]float64) bool {
	now := time.Now().UTC()
	var persist []*storage.EmbeddingRecord
	needsRebuild := false

	ix.mu.Lock()
	for i, item := range items {
		vec := vecs[i]
		if len(vec) == 0 {
			ix.logger.Warn("embedder returned empty vector",
				zap.String("upstream", item.upstreamName),
				zap.String("tool", item.toolName))
			continue
		}
		if ix.dim == 0 {
			ix.dim = len(vec)
		}
		if len(vec) != ix.dim {
			needsRebuild = true
			continue
		}
		if ix.pending[item.key] != item.text {
			// A newer text superseded this one while the batch was in flight.
			continue
		}
		ix.rows[item.key] = &row{
			upstreamName: item.upstreamName,
			toolName:     item.toolName,
			text:         item.text,
			vector:       vec,
			updatedAt:    now,
		}
		delete(ix.pending, item.key)
		persist = append(persist, &storage.EmbeddingRecord{
			UpstreamName: item.upstreamName,
			ToolName:     item.toolName,
			Text:         item.text,
			Vector:       vec,
			Dim:          len(vec),
			Model:        ix.embedder.Model(),
			UpdatedAt:    now,
		})
	}
	ix.mu.Unlock()

	if ix.store != nil {
		for _, rec := range persist {
			if err := ix.store.PutEmbedding(rec); err != nil {
				ix.logger.Warn("failed to persist embedding row",
					zap.String("upstream", rec.UpstreamName),
					zap.String("tool", rec.ToolName),
					zap.Error(err))
			}
		}
	}
	return needsRebuild
}

func (ix *Index) clearPendingFor(upstream, tool string) {
	ix.mu.Lock()
	delete(ix.pending, rowKey(upstream, tool))
	ix.mu.Unlock()
}
