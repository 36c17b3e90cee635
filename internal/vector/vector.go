// Package vector maintains the embedding index behind smart tool discovery.
// One row is kept per catalog tool; rows persist in the hub database so a
// restart does not re-embed an unchanged catalog. Search is a brute-force
// cosine scan over the in-memory rows, which stays comfortably fast for the
// few thousand tools a hub aggregates.
package vector

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/catalog"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/mcperr"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/storage"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/vector/embed"
)

const (
	// DefaultSearchK is the result count when the caller does not ask for one.
	DefaultSearchK = 10
	// DefaultSearchThreshold is the minimum similarity surfaced by default.
	DefaultSearchThreshold = 0.7

	embedBatchSize      = 32
	defaultEmbedWorkers = 2
	retryInterval       = 30 * time.Second
)

// Match is one search hit, always a (upstream, tool) pair present in the
// catalog at search time.
type Match struct {
	UpstreamName string  `json:"upstream_name"`
	ToolName     string  `json:"tool_name"`
	Similarity   float64 `json:"similarity"`
	Text         string  `json:"-"`
}

// Catalog is the slice of the tool catalog the index consumes.
type Catalog interface {
	Snapshot() (uint64, []catalog.Descriptor)
	Get(upstream, tool string) (catalog.Descriptor, bool)
	Subscribe(ctx context.Context) <-chan catalog.Update
}

// Stats describes the index for the status API.
type Stats struct {
	Rows           int    `json:"rows"`
	PendingRetries int    `json:"pending_retries"`
	Dimensions     int    `json:"dimensions"`
	Model          string `json:"model"`
}

// row is one indexed tool. text is the exact string that produced vector.
type row struct {
	upstreamName string
	toolName     string
	text         string
	vector       []float64
	updatedAt    time.Time
}

// Options configures an Index.
type Options struct {
	Logger   *zap.Logger
	Store    *storage.Store // nil keeps the index memory-only
	Embedder embed.Embedder
	Catalog  Catalog

	TokenBudget  int
	EmbedWorkers int
}

// Index holds the embedding rows and answers similarity queries.
type Index struct {
	logger   *zap.Logger
	store    *storage.Store
	embedder embed.Embedder
	trunc    *embed.Truncator
	cat      Catalog
	pool     pond.Pool

	mu          sync.RWMutex
	rows        map[string]*row
	pending     map[string]string // key -> text awaiting (re-)embedding
	dim         int               // fixed by the first vector, 0 until known
	lastVersion uint64            // last catalog version fully applied
}

// NewIndex creates the index and loads any persisted rows that still match
// the embedder's model and dimensionality.
func NewIndex(opts Options) (*Index, error) {
	if opts.Embedder == nil {
		return nil, mcperr.New(mcperr.KindConfiguration, "vector index needs an embedder")
	}
	if opts.Catalog == nil {
		return nil, mcperr.New(mcperr.KindConfiguration, "vector index needs a catalog")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.EmbedWorkers
	if workers <= 0 {
		workers = defaultEmbedWorkers
	}

	ix := &Index{
		logger:   logger,
		store:    opts.Store,
		embedder: opts.Embedder,
		trunc:    embed.NewTruncator(opts.TokenBudget, logger),
		cat:      opts.Catalog,
		pool:     pond.NewPool(workers),
		rows:     make(map[string]*row),
		pending:  make(map[string]string),
		dim:      opts.Embedder.Dimensions(),
	}
	ix.loadFromStore()
	return ix, nil
}

// loadFromStore hydrates rows written by a previous run. Rows from another
// model or with an inconsistent dimension are discarded so they get
// re-embedded on the first reconcile.
func (ix *Index) loadFromStore() {
	if ix.store == nil {
		return
	}
	records, err := ix.store.ListEmbeddings()
	if err != nil {
		ix.logger.Warn("failed to load persisted embeddings", zap.Error(err))
		return
	}

	model := ix.embedder.Model()
	var stale []*storage.EmbeddingRecord
	loaded := 0

	for _, rec := range records {
		if rec.Model != model || len(rec.Vector) == 0 || rec.Dim != len(rec.Vector) {
			stale = append(stale, rec)
			continue
		}
		if ix.dim == 0 {
			ix.dim = len(rec.Vector)
		}
		if len(rec.Vector) != ix.dim {
			stale = append(stale, rec)
			continue
		}
		ix.rows[rowKey(rec.UpstreamName, rec.ToolName)] = &row{
			upstreamName: rec.UpstreamName,
			toolName:     rec.ToolName,
			text:         rec.Text,
			vector:       rec.Vector,
			updatedAt:    rec.UpdatedAt,
		}
		loaded++
	}

	for _, rec := range stale {
		if err := ix.store.DeleteEmbedding(rec.UpstreamName, rec.ToolName); err != nil {
			ix.logger.Warn("failed to drop stale embedding row",
				zap.String("upstream", rec.UpstreamName),
				zap.String("tool", rec.ToolName),
				zap.Error(err))
		}
	}
	if loaded > 0 || len(stale) > 0 {
		ix.logger.Info("loaded embedding index",
			zap.Int("rows", loaded),
			zap.Int("dropped", len(stale)),
			zap.String("model", model))
	}
}

// Search embeds the query and returns up to k catalog tools with cosine
// similarity at or above threshold, most similar first. Ties are broken by
// (upstream, tool) name so results are deterministic. Rows whose tool has
// left the catalog, or is disabled, are never returned even if the index
// has not caught up yet.
func (ix *Index) Search(ctx context.Context, query string, k int, threshold float64) ([]Match, error) {
	if k <= 0 {
		k = DefaultSearchK
	}

	vecs, err := ix.embedder.Embed(ctx, []string{ix.trunc.Truncate(query)})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, mcperr.New(mcperr.KindEmbedderUnavailable, "embedder returned no vector for query")
	}
	queryVec := vecs[0]

	type candidate struct {
		upstreamName string
		toolName     string
		text         string
		similarity   float64
	}

	ix.mu.RLock()
	candidates := make([]candidate, 0, len(ix.rows))
	for _, r := range ix.rows {
		if len(r.vector) != len(queryVec) {
			continue
		}
		sim := cosineSimilarity(queryVec, r.vector)
		if sim < threshold {
			continue
		}
		candidates = append(candidates, candidate{r.upstreamName, r.toolName, r.text, sim})
	}
	ix.mu.RUnlock()

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		desc, ok := ix.cat.Get(c.upstreamName, c.toolName)
		if !ok || !desc.Enabled {
			continue
		}
		matches = append(matches, Match{
			UpstreamName: c.upstreamName,
			ToolName:     c.toolName,
			Similarity:   c.similarity,
			Text:         c.text,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].UpstreamName != matches[j].UpstreamName {
			return matches[i].UpstreamName < matches[j].UpstreamName
		}
		return matches[i].ToolName < matches[j].ToolName
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// DeleteUpstream drops every row belonging to one upstream.
func (ix *Index) DeleteUpstream(name string) {
	prefix := name + keySeparator

	ix.mu.Lock()
	for key := range ix.rows {
		if strings.HasPrefix(key, prefix) {
			delete(ix.rows, key)
		}
	}
	for key := range ix.pending {
		if strings.HasPrefix(key, prefix) {
			delete(ix.pending, key)
		}
	}
	ix.mu.Unlock()

	if ix.store != nil {
		if _, err := ix.store.DeleteEmbeddingsByUpstream(name); err != nil {
			ix.logger.Warn("failed to delete persisted embeddings",
				zap.String("upstream", name),
				zap.Error(err))
		}
	}
}

// DeleteTool drops the row for one tool.
func (ix *Index) DeleteTool(upstream, tool string) {
	key := rowKey(upstream, tool)

	ix.mu.Lock()
	delete(ix.rows, key)
	delete(ix.pending, key)
	ix.mu.Unlock()

	if ix.store != nil {
		if err := ix.store.DeleteEmbedding(upstream, tool); err != nil {
			ix.logger.Warn("failed to delete persisted embedding",
				zap.String("upstream", upstream),
				zap.String("tool", tool),
				zap.Error(err))
		}
	}
}

// Len returns the number of indexed rows.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.rows)
}

// Stats returns a summary for the status API.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Rows:           len(ix.rows),
		PendingRetries: len(ix.pending),
		Dimensions:     ix.dim,
		Model:          ix.embedder.Model(),
	}
}

// LastVersion returns the catalog version the index has fully applied.
func (ix *Index) LastVersion() uint64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.lastVersion
}

// Close stops the embedding workers. Call after Run has returned.
func (ix *Index) Close() {
	ix.pool.StopAndWait()
}

// clearAll wipes rows and persistence before a rebuild.
func (ix *Index) clearAll() {
	ix.mu.Lock()
	ix.rows = make(map[string]*row)
	ix.pending = make(map[string]string)
	ix.dim = ix.embedder.Dimensions()
	ix.mu.Unlock()

	if ix.store != nil {
		if err := ix.store.ClearEmbeddings(); err != nil {
			ix.logger.Warn("failed to clear persisted embeddings", zap.Error(err))
		}
	}
}

func (ix *Index) setLastVersion(version uint64) {
	ix.mu.Lock()
	ix.lastVersion = version
	ix.mu.Unlock()
}

const keySeparator = "\x00"

func rowKey(upstream, tool string) string {
	return upstream + keySeparator + tool
}

func splitKey(key string) (upstream, tool string) {
	upstream, tool, _ = strings.Cut(key, keySeparator)
	return upstream, tool
}

// cosineSimilarity computes cosine similarity in double precision. Values
// within rounding error of ±1 snap to ±1 so that a threshold of exactly 1.0
// admits identical vectors.
func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	switch {
	case sim > 1 || math.Abs(sim-1) < 1e-9:
		sim = 1
	case sim < -1 || math.Abs(sim+1) < 1e-9:
		sim = -1
	}
	return sim
}
