package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
)

// DefaultSearchLimit bounds keyword searches that do not name a limit.
const DefaultSearchLimit = 20

// Catalog is the slice of the tool catalog the index follows.
type Catalog interface {
	Snapshot() (uint64, []catalog.Descriptor)
	Subscribe(ctx context.Context) <-chan catalog.Update
}

// Manager owns the bleve index and keeps it synchronized with the catalog.
// Search is safe concurrently with Run.
type Manager struct {
	cat    Catalog
	logger *zap.Logger

	mu          sync.RWMutex
	index       bleve.Index
	lastVersion uint64
}

// NewManager builds an empty in-memory index. Run fills it.
func NewManager(cat Catalog, logger *zap.Logger) (*Manager, error) {
	if cat == nil {
		return nil, errors.New("index: catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ix, err := newMemIndex()
	if err != nil {
		return nil, fmt.Errorf("create text index: %w", err)
	}
	return &Manager{cat: cat, logger: logger, index: ix}, nil
}

// Run follows the catalog until the context is canceled. Incremental
// updates are applied as batches; a version gap means notifications were
// dropped and triggers a full rebuild from the snapshot.
func (m *Manager) Run(ctx context.Context) {
	updates := m.cat.Subscribe(ctx)
	m.rebuild()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			m.applyUpdate(update)
		}
	}
}

func (m *Manager) applyUpdate(update catalog.Update) {
	m.mu.Lock()
	if update.OldVersion != m.lastVersion {
		last := m.lastVersion
		m.mu.Unlock()
		m.logger.Info("catalog updates missed, rebuilding text index",
			zap.Uint64("have", last),
			zap.Uint64("update_from", update.OldVersion))
		m.rebuild()
		return
	}

	batch := m.index.NewBatch()
	for _, desc := range update.Diff.Removed {
		batch.Delete(docID(desc.UpstreamName, desc.ToolName))
	}
	for _, desc := range update.Diff.Added {
		if err := batch.Index(docID(desc.UpstreamName, desc.ToolName), docFor(desc)); err != nil {
			m.logger.Warn("failed to index tool", zap.String("tool", desc.ToolName), zap.Error(err))
		}
	}
	for _, desc := range update.Diff.Changed {
		if err := batch.Index(docID(desc.UpstreamName, desc.ToolName), docFor(desc)); err != nil {
			m.logger.Warn("failed to index tool", zap.String("tool", desc.ToolName), zap.Error(err))
		}
	}
	if err := m.index.Batch(batch); err != nil {
		m.logger.Warn("text index batch failed", zap.Error(err))
	}
	m.lastVersion = update.NewVersion
	m.mu.Unlock()
}

// rebuild indexes the full catalog snapshot into a fresh index and swaps
// it in atomically.
func (m *Manager) rebuild() {
	version, descs := m.cat.Snapshot()

	fresh, err := newMemIndex()
	if err != nil {
		m.logger.Error("failed to create text index", zap.Error(err))
		return
	}
	batch := fresh.NewBatch()
	for _, desc := range descs {
		if err := batch.Index(docID(desc.UpstreamName, desc.ToolName), docFor(desc)); err != nil {
			m.logger.Warn("failed to index tool", zap.String("tool", desc.ToolName), zap.Error(err))
		}
	}
	if err := fresh.Batch(batch); err != nil {
		m.logger.Error("text index rebuild failed", zap.Error(err))
		_ = fresh.Close()
		return
	}

	m.mu.Lock()
	old := m.index
	m.index = fresh
	m.lastVersion = version
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.logger.Debug("text index rebuilt",
		zap.Uint64("version", version), zap.Int("tools", len(descs)))
}

// Search runs a BM25 match query over tool names, descriptions and
// parameter JSON. Results come back in score order.
func (m *Manager) Search(query string, limit int) ([]Result, error) {
	if query == "" {
		return nil, errors.New("search query cannot be empty")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	matchQuery := bleve.NewMatchQuery(query)
	searchReq := bleve.NewSearchRequest(matchQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"upstream_name", "tool_name", "description", "enabled"}

	m.mu.RLock()
	ix := m.index
	m.mu.RUnlock()
	if ix == nil {
		return nil, errors.New("text index is closed")
	}
	searchResult, err := ix.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]Result, 0, len(searchResult.Hits))
	for _, hit := range searchResult.Hits {
		results = append(results, Result{
			UpstreamName: getStringField(hit.Fields, "upstream_name"),
			ToolName:     getStringField(hit.Fields, "tool_name"),
			Description:  getStringField(hit.Fields, "description"),
			Enabled:      getBoolField(hit.Fields, "enabled"),
			Score:        hit.Score,
		})
	}
	return results, nil
}

// DocumentCount returns the number of indexed tools.
func (m *Manager) DocumentCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.index == nil {
		return 0, errors.New("text index is closed")
	}
	return m.index.DocCount()
}

// LastVersion returns the catalog version the index has applied.
func (m *Manager) LastVersion() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastVersion
}

// Stats returns indexing statistics for the status API.
func (m *Manager) Stats() map[string]interface{} {
	count, err := m.DocumentCount()
	if err != nil {
		count = 0
	}
	return map[string]interface{}{
		"document_count": count,
		"search_backend": "BM25",
	}
}

// Close releases the index.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == nil {
		return nil
	}
	err := m.index.Close()
	m.index = nil
	return err
}
